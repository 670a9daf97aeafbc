// Package observability builds the zap loggers used across tracex and
// decorates them with request-scoped fields carried in a context.
package observability
