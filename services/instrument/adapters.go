package instrument

import "context"

// Typed adapters for functions of fixed arity. Each returns a function with
// the wrapped function's signature; positional arguments are recorded as
// Call.Args in order.

// Trace0 wraps fn to record trace events.
func Trace0[R any](in *Instrumenter, name string, fn func(context.Context) (R, error)) func(context.Context) (R, error) {
	name = displayName(name, fn)
	return func(ctx context.Context) (R, error) {
		return invoke(ctx, in, KindTrace, name, Call{Args: []any{}}, func() (R, error) {
			return fn(ctx)
		})
	}
}

func Trace1[A, R any](in *Instrumenter, name string, fn func(context.Context, A) (R, error)) func(context.Context, A) (R, error) {
	name = displayName(name, fn)
	return func(ctx context.Context, a A) (R, error) {
		return invoke(ctx, in, KindTrace, name, Call{Args: []any{a}}, func() (R, error) {
			return fn(ctx, a)
		})
	}
}

func Trace2[A, B, R any](in *Instrumenter, name string, fn func(context.Context, A, B) (R, error)) func(context.Context, A, B) (R, error) {
	name = displayName(name, fn)
	return func(ctx context.Context, a A, b B) (R, error) {
		return invoke(ctx, in, KindTrace, name, Call{Args: []any{a, b}}, func() (R, error) {
			return fn(ctx, a, b)
		})
	}
}

func Trace3[A, B, C, R any](in *Instrumenter, name string, fn func(context.Context, A, B, C) (R, error)) func(context.Context, A, B, C) (R, error) {
	name = displayName(name, fn)
	return func(ctx context.Context, a A, b B, c C) (R, error) {
		return invoke(ctx, in, KindTrace, name, Call{Args: []any{a, b, c}}, func() (R, error) {
			return fn(ctx, a, b, c)
		})
	}
}

// Audit0 wraps fn to record signed audit events.
func Audit0[R any](in *Instrumenter, name string, fn func(context.Context) (R, error)) func(context.Context) (R, error) {
	name = displayName(name, fn)
	return func(ctx context.Context) (R, error) {
		return invoke(ctx, in, KindAudit, name, Call{Args: []any{}}, func() (R, error) {
			return fn(ctx)
		})
	}
}

func Audit1[A, R any](in *Instrumenter, name string, fn func(context.Context, A) (R, error)) func(context.Context, A) (R, error) {
	name = displayName(name, fn)
	return func(ctx context.Context, a A) (R, error) {
		return invoke(ctx, in, KindAudit, name, Call{Args: []any{a}}, func() (R, error) {
			return fn(ctx, a)
		})
	}
}

func Audit2[A, B, R any](in *Instrumenter, name string, fn func(context.Context, A, B) (R, error)) func(context.Context, A, B) (R, error) {
	name = displayName(name, fn)
	return func(ctx context.Context, a A, b B) (R, error) {
		return invoke(ctx, in, KindAudit, name, Call{Args: []any{a, b}}, func() (R, error) {
			return fn(ctx, a, b)
		})
	}
}

func Audit3[A, B, C, R any](in *Instrumenter, name string, fn func(context.Context, A, B, C) (R, error)) func(context.Context, A, B, C) (R, error) {
	name = displayName(name, fn)
	return func(ctx context.Context, a A, b B, c C) (R, error) {
		return invoke(ctx, in, KindAudit, name, Call{Args: []any{a, b, c}}, func() (R, error) {
			return fn(ctx, a, b, c)
		})
	}
}

// MLStep0 wraps fn as an ML pipeline step. The step name defaults to fn's name.
func MLStep0[R any](in *Instrumenter, name string, fn func(context.Context) (R, error)) func(context.Context) (R, error) {
	name = displayName(name, fn)
	return func(ctx context.Context) (R, error) {
		return invoke(ctx, in, KindMLStep, name, Call{Args: []any{}}, func() (R, error) {
			return fn(ctx)
		})
	}
}

func MLStep1[A, R any](in *Instrumenter, name string, fn func(context.Context, A) (R, error)) func(context.Context, A) (R, error) {
	name = displayName(name, fn)
	return func(ctx context.Context, a A) (R, error) {
		return invoke(ctx, in, KindMLStep, name, Call{Args: []any{a}}, func() (R, error) {
			return fn(ctx, a)
		})
	}
}

func MLStep2[A, B, R any](in *Instrumenter, name string, fn func(context.Context, A, B) (R, error)) func(context.Context, A, B) (R, error) {
	name = displayName(name, fn)
	return func(ctx context.Context, a A, b B) (R, error) {
		return invoke(ctx, in, KindMLStep, name, Call{Args: []any{a, b}}, func() (R, error) {
			return fn(ctx, a, b)
		})
	}
}

func MLStep3[A, B, C, R any](in *Instrumenter, name string, fn func(context.Context, A, B, C) (R, error)) func(context.Context, A, B, C) (R, error) {
	name = displayName(name, fn)
	return func(ctx context.Context, a A, b B, c C) (R, error) {
		return invoke(ctx, in, KindMLStep, name, Call{Args: []any{a, b, c}}, func() (R, error) {
			return fn(ctx, a, b, c)
		})
	}
}
