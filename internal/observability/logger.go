package observability

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/upb/tracex/config"
	"github.com/upb/tracex/internal/shared"
)

// NewLogger builds a JSON production logger or a console development logger
// at the configured level.
func NewLogger(cfg config.ObservabilityConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.LogLevel, err)
	}

	var zc zap.Config
	switch cfg.LogFormat {
	case "console":
		zc = zap.NewDevelopmentConfig()
	default:
		zc = zap.NewProductionConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)

	logger, err := zc.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return logger, nil
}

// FromContext returns logger with the correlation and request ids carried by
// ctx attached as fields.
func FromContext(logger *zap.Logger, ctx context.Context) *zap.Logger {
	if logger == nil {
		logger = zap.NewNop()
	}
	var fields []zap.Field
	if id, ok := shared.CorrelationID(ctx); ok {
		fields = append(fields, zap.String("correlation_id", id))
	}
	if ctx != nil {
		if id := shared.RequestID(ctx); id != "" {
			fields = append(fields, zap.String("request_id", id))
		}
	}
	if len(fields) == 0 {
		return logger
	}
	return logger.With(fields...)
}
