package shared

import "context"

// Context keys for request-scoped data. Keep types unexported to avoid collisions.
type ctxKey string

const (
	ctxKeyRequestID     ctxKey = "request-id"
	ctxKeyCorrelationID ctxKey = "correlation-id"
)

func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKeyRequestID, id)
}

func RequestID(ctx context.Context) string {
	v, _ := ctx.Value(ctxKeyRequestID).(string)
	return v
}

// WithCorrelationID returns a copy of ctx carrying id. The value is visible to
// everything handed the returned context, including goroutines started with it,
// and never to holders of the parent. An empty id clears the value.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKeyCorrelationID, id)
}

// CorrelationID returns the correlation id carried by ctx, if any.
func CorrelationID(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	v, _ := ctx.Value(ctxKeyCorrelationID).(string)
	return v, v != ""
}
