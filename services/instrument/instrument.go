package instrument

import (
	"context"
	"reflect"
	"runtime"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/upb/tracex/internal/redact"
	"github.com/upb/tracex/models"
	"github.com/upb/tracex/services"
	"github.com/upb/tracex/services/audit"
	"github.com/upb/tracex/services/store"
)

// Kind selects how a wrapped call is recorded
type Kind string

const (
	KindTrace  Kind = "trace"
	KindAudit  Kind = "audit"
	KindMLStep Kind = "ml_step"
)

// EventType returns the event type recorded for k
func (k Kind) EventType() models.EventType {
	switch k {
	case KindAudit:
		return models.EventTypeAuditCall
	case KindMLStep:
		return models.EventTypeMLStep
	default:
		return models.EventTypeFunctionCall
	}
}

// Call carries the arguments of one invocation. Kwargs holds named
// arguments in the order the caller supplied them.
type Call struct {
	Args   []any
	Kwargs models.Meta
}

// Instrumenter records trace, audit and ML-step events for wrapped functions
type Instrumenter struct {
	recorder store.Recorder
	redactor *redact.Redactor
	signer   *audit.Signer
	logger   *zap.Logger
	now      func() time.Time
}

// Option configures an Instrumenter
type Option func(*Instrumenter)

// WithClock replaces time.Now, mainly for tests
func WithClock(now func() time.Time) Option {
	return func(in *Instrumenter) {
		in.now = now
	}
}

// New creates an Instrumenter. A nil recorder records into store.Default and
// a nil redactor uses the default rules. Audit wrappers fail without a signer.
func New(rec store.Recorder, redactor *redact.Redactor, signer *audit.Signer, logger *zap.Logger, opts ...Option) *Instrumenter {
	if rec == nil {
		rec = store.Default()
	}
	if redactor == nil {
		redactor = redact.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	in := &Instrumenter{
		recorder: rec,
		redactor: redactor,
		signer:   signer,
		logger:   logger,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(in)
	}
	return in
}

// Wrap instruments fn. An empty name is derived from fn. The returned
// function behaves exactly like fn and records one event per successful call.
// Calls that return an error, or panic, record nothing.
func Wrap[R any](in *Instrumenter, kind Kind, name string, fn func(context.Context, Call) (R, error)) func(context.Context, Call) (R, error) {
	name = displayName(name, fn)
	return func(ctx context.Context, call Call) (R, error) {
		return invoke(ctx, in, kind, name, call, func() (R, error) {
			return fn(ctx, call)
		})
	}
}

func invoke[R any](ctx context.Context, in *Instrumenter, kind Kind, name string, call Call, fn func() (R, error)) (R, error) {
	start := in.now()
	result, err := fn()
	duration := in.now().Sub(start)
	if err != nil {
		return result, err
	}

	if err := in.record(ctx, kind, name, call, result, start, duration); err != nil {
		return result, err
	}
	return result, nil
}

func (in *Instrumenter) record(ctx context.Context, kind Kind, name string, call Call, result any, start time.Time, duration time.Duration) error {
	args := call.Args
	if args == nil {
		args = []any{}
	}

	var meta models.Meta
	switch kind {
	case KindMLStep:
		meta.Set("args_repr", Repr(args))
		meta.Set("kwargs_repr", Repr(call.Kwargs.Map()))
		meta.Set("output_repr", Repr(result))

	case KindAudit:
		if in.signer == nil {
			return services.ErrMissingSigningKey
		}
		redactedArgs := in.redactor.Redact(args).([]any)
		redactedKwargs := in.redactor.Redact(call.Kwargs).(models.Meta)
		sig, err := in.signer.Sign(audit.Payload{
			EventType:    models.EventTypeAuditCall,
			FunctionName: name,
			Timestamp:    models.UnixSeconds(start),
			Duration:     duration.Seconds(),
			Args:         redactedArgs,
			Kwargs:       redactedKwargs,
		})
		if err != nil {
			in.logger.Warn("audit event not signed",
				zap.String("function_name", name),
				zap.Error(err),
			)
			return err
		}
		meta.Set("args", redactedArgs)
		meta.Set("kwargs", redactedKwargs)
		meta.Set(audit.MetaKeySignature, sig)

	default:
		meta.Set("args", in.redactor.Redact(args))
		meta.Set("kwargs", in.redactor.Redact(call.Kwargs))
	}

	ev := models.NewTraceEvent(ctx, kind.EventType(), name, start, duration, meta)
	in.recorder.Record(ev)
	return nil
}

// displayName returns name, or the unqualified name of fn when name is empty
func displayName(name string, fn any) string {
	if name != "" {
		return name
	}
	return FuncName(fn)
}

// FuncName returns the unqualified name of a function value, such as "add"
// for github.com/acme/calc.add.
func FuncName(fn any) string {
	v := reflect.ValueOf(fn)
	if v.Kind() != reflect.Func || v.IsNil() {
		return "unknown"
	}
	f := runtime.FuncForPC(v.Pointer())
	if f == nil {
		return "unknown"
	}
	full := f.Name()
	if i := strings.LastIndex(full, "/"); i >= 0 {
		full = full[i+1:]
	}
	if i := strings.Index(full, "."); i >= 0 {
		full = full[i+1:]
	}
	return strings.TrimSuffix(full, "-fm")
}
