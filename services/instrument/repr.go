package instrument

import (
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"

	"github.com/upb/tracex/internal/redact"
)

// Repr renders v in Go syntax, like the %#v verb, but stops at containers
// already on the current path and at redact.DefaultMaxDepth levels of nesting.
func Repr(v any) string {
	p := reprPrinter{maxDepth: redact.DefaultMaxDepth, visiting: make(map[reprKey]bool)}
	p.value(reflect.ValueOf(v), 0)
	return p.buf.String()
}

type reprKey struct {
	ptr uintptr
	typ reflect.Type
	len int
}

type reprPrinter struct {
	buf      strings.Builder
	maxDepth int
	visiting map[reprKey]bool
}

func (p *reprPrinter) value(rv reflect.Value, depth int) {
	if !rv.IsValid() {
		p.buf.WriteString("<nil>")
		return
	}

	if rv.CanInterface() && rv.Kind() != reflect.Interface {
		if gs, ok := rv.Interface().(fmt.GoStringer); ok {
			if rv.Kind() != reflect.Pointer || !rv.IsNil() {
				p.buf.WriteString(gs.GoString())
				return
			}
		}
	}

	switch rv.Kind() {
	case reflect.Bool:
		p.buf.WriteString(strconv.FormatBool(rv.Bool()))
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		p.buf.WriteString(strconv.FormatInt(rv.Int(), 10))
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		p.buf.WriteString("0x" + strconv.FormatUint(rv.Uint(), 16))
	case reflect.Float32:
		p.buf.WriteString(strconv.FormatFloat(rv.Float(), 'g', -1, 32))
	case reflect.Float64:
		p.buf.WriteString(strconv.FormatFloat(rv.Float(), 'g', -1, 64))
	case reflect.Complex64:
		p.buf.WriteString(strconv.FormatComplex(rv.Complex(), 'g', -1, 64))
	case reflect.Complex128:
		p.buf.WriteString(strconv.FormatComplex(rv.Complex(), 'g', -1, 128))
	case reflect.String:
		p.buf.WriteString(strconv.Quote(rv.String()))
	case reflect.Interface:
		if rv.IsNil() {
			p.buf.WriteString(rv.Type().String() + "(nil)")
			return
		}
		p.value(rv.Elem(), depth)
	case reflect.Chan, reflect.Func, reflect.UnsafePointer:
		if rv.IsNil() {
			fmt.Fprintf(&p.buf, "(%s)(nil)", rv.Type())
			return
		}
		fmt.Fprintf(&p.buf, "(%s)(%#x)", rv.Type(), rv.Pointer())
	case reflect.Pointer, reflect.Slice, reflect.Map:
		switch {
		case rv.IsNil() && rv.Kind() == reflect.Pointer:
			fmt.Fprintf(&p.buf, "(%s)(nil)", rv.Type())
		case rv.IsNil():
			p.buf.WriteString(rv.Type().String() + "(nil)")
		default:
			p.reference(rv, depth)
		}
	case reflect.Array:
		p.container(rv, depth, p.sequence)
	case reflect.Struct:
		p.container(rv, depth, p.fields)
	default:
		p.buf.WriteString(rv.Type().String())
	}
}

// reference prints a pointer, slice or map, guarding against cycles
func (p *reprPrinter) reference(rv reflect.Value, depth int) {
	key := reprKey{ptr: rv.Pointer(), typ: rv.Type()}
	if rv.Kind() == reflect.Slice {
		key.len = rv.Len()
	}
	if p.visiting[key] {
		p.buf.WriteString(redact.CircularMarker)
		return
	}
	p.visiting[key] = true
	defer delete(p.visiting, key)

	switch rv.Kind() {
	case reflect.Pointer:
		p.buf.WriteByte('&')
		p.value(rv.Elem(), depth)
	case reflect.Map:
		p.container(rv, depth, p.entries)
	default:
		p.container(rv, depth, p.sequence)
	}
}

func (p *reprPrinter) container(rv reflect.Value, depth int, body func(reflect.Value, int)) {
	if depth >= p.maxDepth {
		p.buf.WriteString(redact.MaxDepthMarker)
		return
	}
	p.buf.WriteString(rv.Type().String())
	p.buf.WriteByte('{')
	body(rv, depth+1)
	p.buf.WriteByte('}')
}

func (p *reprPrinter) sequence(rv reflect.Value, depth int) {
	for i := 0; i < rv.Len(); i++ {
		if i > 0 {
			p.buf.WriteString(", ")
		}
		p.value(rv.Index(i), depth)
	}
}

func (p *reprPrinter) fields(rv reflect.Value, depth int) {
	t := rv.Type()
	for i := 0; i < rv.NumField(); i++ {
		if i > 0 {
			p.buf.WriteString(", ")
		}
		p.buf.WriteString(t.Field(i).Name)
		p.buf.WriteByte(':')
		p.value(rv.Field(i), depth)
	}
}

func (p *reprPrinter) entries(rv reflect.Value, depth int) {
	keys := rv.MapKeys()
	sort.Slice(keys, func(i, j int) bool { return keyLess(keys[i], keys[j]) })
	for i, k := range keys {
		if i > 0 {
			p.buf.WriteString(", ")
		}
		p.value(k, depth)
		p.buf.WriteByte(':')
		p.value(rv.MapIndex(k), depth)
	}
}

func keyLess(a, b reflect.Value) bool {
	if a.Kind() == b.Kind() {
		switch a.Kind() {
		case reflect.String:
			return a.String() < b.String()
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			return a.Int() < b.Int()
		case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
			return a.Uint() < b.Uint()
		case reflect.Float32, reflect.Float64:
			return a.Float() < b.Float()
		}
	}
	return Repr(safeInterface(a)) < Repr(safeInterface(b))
}

func safeInterface(v reflect.Value) any {
	if v.CanInterface() {
		return v.Interface()
	}
	return v.Type().String()
}
