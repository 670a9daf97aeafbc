package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/upb/tracex/config"
	"github.com/upb/tracex/services/store"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Environment: "test",
		Server: config.ServerConfig{
			Host:            "127.0.0.1",
			Port:            8000,
			ReadTimeout:     5 * time.Second,
			WriteTimeout:    5 * time.Second,
			ShutdownTimeout: 5 * time.Second,
		},
		Tracing: config.TracingConfig{
			SecretKey:      "test-secret",
			RedactMaxDepth: 32,
			TraceHTTP:      true,
		},
		Dashboard: config.DashboardConfig{
			PollInterval:   time.Second,
			AllowedOrigins: []string{"*"},
		},
		Observability: config.ObservabilityConfig{
			LogLevel:  "debug",
			LogFormat: "console",
		},
	}
}

func TestNewDependencies(t *testing.T) {
	t.Cleanup(store.ResetDefault)

	t.Run("successful initialization with all components", func(t *testing.T) {
		ctx := context.Background()
		cfg := testConfig(t)
		logger := zaptest.NewLogger(t)

		deps, err := NewDependencies(ctx, cfg, logger)
		require.NoError(t, err)
		require.NotNil(t, deps)

		assert.NotNil(t, deps.Config)
		assert.NotNil(t, deps.Logger)
		assert.NotNil(t, deps.Store)
		assert.NotNil(t, deps.Redactor)
		assert.NotNil(t, deps.Signer)
		assert.NotNil(t, deps.Instrumenter)
		assert.NotNil(t, deps.TracedFs)
		assert.NotNil(t, deps.TracingMiddleware)
		assert.Nil(t, deps.RulesWatcher)
		assert.Nil(t, deps.AuthMiddleware)
		assert.Same(t, deps.Store, store.Default())

		assert.NoError(t, deps.Close(ctx))
	})

	t.Run("auth enabled with secret", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.Dashboard.AuthSecret = "dashboard"

		deps, err := NewDependencies(context.Background(), cfg, zaptest.NewLogger(t))
		require.NoError(t, err)
		assert.NotNil(t, deps.AuthMiddleware)
	})

	t.Run("default secret logs a warning", func(t *testing.T) {
		core, logs := observer.New(zap.WarnLevel)
		cfg := testConfig(t)
		cfg.Tracing.SecretKey = config.DefaultSecretKey

		_, err := NewDependencies(context.Background(), cfg, zap.New(core))
		require.NoError(t, err)
		assert.Equal(t, 1, logs.FilterMessageSnippet("default signing key").Len())
	})

	t.Run("empty secret fails", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.Tracing.SecretKey = ""

		deps, err := NewDependencies(context.Background(), cfg, zaptest.NewLogger(t))
		assert.Error(t, err)
		assert.Nil(t, deps)
		assert.Contains(t, err.Error(), "failed to initialize signer")
	})
}

func TestNewDependencies_RulesFile(t *testing.T) {
	t.Cleanup(store.ResetDefault)

	path := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
rules:
  - name: phone
    pattern: '\d{3}-\d{3}-\d{4}'
    replacement: '[PHONE REDACTED]'
disable: [ssn]
`), 0o644))

	t.Run("loads rules and starts watcher", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.Tracing.PIIRulesFile = path
		cfg.Tracing.PIIRulesWatch = true

		deps, err := NewDependencies(context.Background(), cfg, zaptest.NewLogger(t))
		require.NoError(t, err)
		require.NotNil(t, deps.RulesWatcher)

		assert.Equal(t, "call [PHONE REDACTED] or [EMAIL REDACTED], ssn 123-45-6789",
			deps.Redactor.RedactString("call 555-123-4567 or a@b.com, ssn 123-45-6789"))

		require.NoError(t, deps.Close(context.Background()))
	})

	t.Run("missing rules file fails", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.Tracing.PIIRulesFile = filepath.Join(t.TempDir(), "missing.yaml")

		_, err := NewDependencies(context.Background(), cfg, zaptest.NewLogger(t))
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "failed to initialize redactor")
	})
}
