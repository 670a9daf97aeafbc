package redact

import (
	"fmt"
	"reflect"
	"regexp"
	"sync"

	"github.com/upb/tracex/models"
	"github.com/upb/tracex/services"
)

const (
	// DefaultMaxDepth bounds how many nested containers Redact descends into
	DefaultMaxDepth = 32

	// CircularMarker replaces a container that already appears on the current path
	CircularMarker = "[CIRCULAR]"
	// MaxDepthMarker replaces a container nested deeper than the depth limit
	MaxDepthMarker = "[MAX DEPTH]"
)

// Rule replaces every match of Pattern with Replacement
type Rule struct {
	Name        string
	Pattern     *regexp.Regexp
	Replacement string
}

// NewRule compiles pattern into a Rule
func NewRule(name, pattern, replacement string) (Rule, error) {
	if name == "" {
		return Rule{}, services.WrapConfiguration("invalid redaction rule", fmt.Errorf("name is required"))
	}
	if pattern == "" {
		return Rule{}, services.WrapConfiguration("invalid redaction rule", fmt.Errorf("rule %q: pattern is required", name))
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return Rule{}, services.WrapConfiguration("invalid redaction rule", fmt.Errorf("rule %q: %w", name, err))
	}
	return Rule{Name: name, Pattern: re, Replacement: replacement}, nil
}

var (
	emailRule = Rule{
		Name:        "email",
		Pattern:     regexp.MustCompile(`[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}`),
		Replacement: "[EMAIL REDACTED]",
	}
	ssnRule = Rule{
		Name:        "ssn",
		Pattern:     regexp.MustCompile(`\d{3}-\d{2}-\d{4}`),
		Replacement: "[SSN REDACTED]",
	}
)

// DefaultRules returns the built-in email and SSN rules, in application order
func DefaultRules() []Rule {
	return []Rule{emailRule, ssnRule}
}

// Redactor masks sensitive substrings in strings nested anywhere inside a value.
// Rules can be changed while other goroutines are redacting.
type Redactor struct {
	mu       sync.RWMutex
	rules    []Rule
	maxDepth int
}

// Option configures a Redactor
type Option func(*Redactor)

// WithRules replaces the default rules
func WithRules(rules ...Rule) Option {
	return func(r *Redactor) {
		r.rules = append([]Rule(nil), rules...)
	}
}

// WithMaxDepth sets the nesting limit. Values <= 0 keep the default.
func WithMaxDepth(n int) Option {
	return func(r *Redactor) {
		if n > 0 {
			r.maxDepth = n
		}
	}
}

// New creates a Redactor with the default rules
func New(opts ...Option) *Redactor {
	r := &Redactor{
		rules:    DefaultRules(),
		maxDepth: DefaultMaxDepth,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Rules returns a copy of the active rules
func (r *Redactor) Rules() []Rule {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Rule(nil), r.rules...)
}

// SetRules replaces all rules
func (r *Redactor) SetRules(rules []Rule) {
	r.mu.Lock()
	r.rules = append([]Rule(nil), rules...)
	r.mu.Unlock()
}

// AddRule appends a rule, replacing any existing rule with the same name in place
func (r *Redactor) AddRule(rule Rule) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, existing := range r.rules {
		if existing.Name == rule.Name {
			rules := append([]Rule(nil), r.rules...)
			rules[i] = rule
			r.rules = rules
			return
		}
	}
	r.rules = append(append([]Rule(nil), r.rules...), rule)
}

// RemoveRule drops the named rule and reports whether it existed
func (r *Redactor) RemoveRule(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, existing := range r.rules {
		if existing.Name == name {
			rules := make([]Rule, 0, len(r.rules)-1)
			rules = append(rules, r.rules[:i]...)
			r.rules = append(rules, r.rules[i+1:]...)
			return true
		}
	}
	return false
}

// RedactString applies every rule to s in order
func (r *Redactor) RedactString(s string) string {
	return applyRules(r.Rules(), s)
}

// Redact returns a copy of v with every rule applied to each string it
// contains. Slices, arrays and string-keyed maps are walked and pointers are
// followed. Anything else is returned unchanged.
func (r *Redactor) Redact(v any) any {
	r.mu.RLock()
	w := walker{rules: r.rules, maxDepth: r.maxDepth, visiting: make(map[visitKey]bool)}
	r.mu.RUnlock()
	return w.walk(v, 0)
}

func applyRules(rules []Rule, s string) string {
	for _, rule := range rules {
		s = rule.Pattern.ReplaceAllString(s, rule.Replacement)
	}
	return s
}

type visitKey struct {
	ptr uintptr
	typ reflect.Type
	len int
}

// walker holds the state of one Redact call. The rules slice is never mutated
// after it is published, so no lock is held while walking.
type walker struct {
	rules    []Rule
	maxDepth int
	visiting map[visitKey]bool
}

func (w *walker) walk(v any, depth int) any {
	switch val := v.(type) {
	case nil:
		return nil
	case string:
		return applyRules(w.rules, val)
	case []byte:
		return val
	case models.Meta:
		if depth >= w.maxDepth {
			return MaxDepthMarker
		}
		var out models.Meta
		val.Range(func(k string, elem any) bool {
			out.Set(k, w.walk(elem, depth+1))
			return true
		})
		return out
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.String:
		return reflect.ValueOf(applyRules(w.rules, rv.String())).Convert(rv.Type()).Interface()
	case reflect.Slice, reflect.Array, reflect.Map, reflect.Pointer:
	default:
		return v
	}
	if rv.Kind() == reflect.Map && rv.Type().Key().Kind() != reflect.String {
		return v
	}
	if (rv.Kind() == reflect.Slice || rv.Kind() == reflect.Map || rv.Kind() == reflect.Pointer) && rv.IsNil() {
		return v
	}

	if depth >= w.maxDepth {
		return MaxDepthMarker
	}

	if rv.Kind() != reflect.Array {
		key := visitKey{ptr: rv.Pointer(), typ: rv.Type()}
		if rv.Kind() == reflect.Slice {
			key.len = rv.Len()
		}
		if w.visiting[key] {
			return CircularMarker
		}
		w.visiting[key] = true
		defer delete(w.visiting, key)
	}

	switch rv.Kind() {
	case reflect.Pointer:
		return w.walkPointer(rv, depth)
	case reflect.Map:
		return w.walkMap(rv, depth)
	default:
		return w.walkSequence(rv, depth)
	}
}

func (w *walker) walkPointer(rv reflect.Value, depth int) any {
	redacted := w.walk(rv.Elem().Interface(), depth+1)
	elemType := rv.Type().Elem()
	out := reflect.New(elemType)
	if !assign(out.Elem(), redacted) {
		return redacted
	}
	return out.Interface()
}

func (w *walker) walkSequence(rv reflect.Value, depth int) any {
	n := rv.Len()
	items := make([]any, n)
	for i := 0; i < n; i++ {
		items[i] = w.walk(rv.Index(i).Interface(), depth+1)
	}

	var out reflect.Value
	if rv.Kind() == reflect.Array {
		out = reflect.New(rv.Type()).Elem()
	} else {
		out = reflect.MakeSlice(rv.Type(), n, n)
	}
	for i, item := range items {
		if !assign(out.Index(i), item) {
			return items
		}
	}
	return out.Interface()
}

func (w *walker) walkMap(rv reflect.Value, depth int) any {
	items := make(map[string]any, rv.Len())
	iter := rv.MapRange()
	for iter.Next() {
		items[iter.Key().String()] = w.walk(iter.Value().Interface(), depth+1)
	}

	out := reflect.MakeMapWithSize(rv.Type(), len(items))
	keyType := rv.Type().Key()
	elemType := rv.Type().Elem()
	for k, item := range items {
		elem := reflect.New(elemType).Elem()
		if !assign(elem, item) {
			return items
		}
		out.SetMapIndex(reflect.ValueOf(k).Convert(keyType), elem)
	}
	return out.Interface()
}

// assign stores v into dst when its type allows it. A nil v is stored as the
// zero value only for nilable destinations.
func assign(dst reflect.Value, v any) bool {
	if v == nil {
		switch dst.Kind() {
		case reflect.Interface, reflect.Pointer, reflect.Slice, reflect.Map, reflect.Func, reflect.Chan:
			return true
		}
		return false
	}
	rv := reflect.ValueOf(v)
	if !rv.Type().AssignableTo(dst.Type()) {
		return false
	}
	dst.Set(rv)
	return true
}
