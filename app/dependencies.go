package app

import (
	"context"
	"fmt"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/upb/tracex/config"
	"github.com/upb/tracex/internal/redact"
	"github.com/upb/tracex/middleware"
	"github.com/upb/tracex/services/audit"
	"github.com/upb/tracex/services/instrument"
	"github.com/upb/tracex/services/store"
	"github.com/upb/tracex/services/tracedio"
)

// Dependencies holds all application dependencies.
// This is the central wiring point for dependency injection.
type Dependencies struct {
	// Infrastructure
	Config *config.Config
	Logger *zap.Logger

	// Tracing core
	Store        *store.Store
	Redactor     *redact.Redactor
	Signer       *audit.Signer
	Instrumenter *instrument.Instrumenter
	TracedFs     *tracedio.Fs

	// RulesWatcher is nil unless rule hot reload is enabled
	RulesWatcher *redact.Watcher

	// HTTP
	TracingMiddleware *middleware.TracingMiddleware
	// AuthMiddleware is nil when no dashboard secret is configured
	AuthMiddleware *middleware.AuthMiddleware
}

// NewDependencies creates and wires up all application dependencies.
// The store it creates also becomes the process-wide default store.
func NewDependencies(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Dependencies, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	deps := &Dependencies{
		Config: cfg,
		Logger: logger,
	}

	if err := deps.initRedactor(cfg); err != nil {
		return nil, fmt.Errorf("failed to initialize redactor: %w", err)
	}

	if err := deps.initSigner(cfg); err != nil {
		return nil, fmt.Errorf("failed to initialize signer: %w", err)
	}

	deps.initTracing()

	if err := deps.initAuth(cfg); err != nil {
		return nil, fmt.Errorf("failed to initialize auth: %w", err)
	}

	logger.Info("all dependencies initialized successfully")
	return deps, nil
}

// initRedactor builds the redactor from the default rules or the configured
// rules file, and the file watcher when hot reload is on
func (d *Dependencies) initRedactor(cfg *config.Config) error {
	opts := []redact.Option{redact.WithMaxDepth(cfg.Tracing.RedactMaxDepth)}

	if path := cfg.Tracing.PIIRulesFile; path != "" {
		rules, err := redact.LoadRules(path)
		if err != nil {
			return err
		}
		opts = append(opts, redact.WithRules(rules...))
		d.Logger.Info("redaction rules loaded",
			zap.String("path", path),
			zap.Int("rules", len(rules)))
	}
	d.Redactor = redact.New(opts...)

	if cfg.Tracing.PIIRulesWatch {
		w, err := redact.NewWatcher(d.Redactor, cfg.Tracing.PIIRulesFile, d.Logger)
		if err != nil {
			return err
		}
		d.RulesWatcher = w
	}
	return nil
}

func (d *Dependencies) initSigner(cfg *config.Config) error {
	signer, err := audit.NewSigner([]byte(cfg.Tracing.SecretKey))
	if err != nil {
		return err
	}
	if cfg.UsesDefaultSecret() {
		d.Logger.Warn("using the default signing key; set TRACEX_SECRET_KEY before relying on audit signatures")
	}
	d.Signer = signer
	return nil
}

func (d *Dependencies) initTracing() {
	d.Store = store.New(d.Logger)
	store.SetDefault(d.Store)

	d.Instrumenter = instrument.New(d.Store, d.Redactor, d.Signer, d.Logger)
	d.TracedFs = tracedio.New(afero.NewOsFs(), d.Store)
	d.TracingMiddleware = middleware.NewTracingMiddleware(d.Store, d.Logger)
}

func (d *Dependencies) initAuth(cfg *config.Config) error {
	if cfg.Dashboard.AuthSecret == "" {
		d.Logger.Warn("dashboard auth not configured, DELETE /traces is unprotected")
		return nil
	}
	validator, err := middleware.NewHMACValidator(cfg.Dashboard.AuthSecret)
	if err != nil {
		return err
	}
	d.AuthMiddleware = middleware.NewAuthMiddleware(validator, d.Logger)
	d.Logger.Info("dashboard auth initialized")
	return nil
}

// Close gracefully shuts down all dependencies
func (d *Dependencies) Close(ctx context.Context) error {
	d.Logger.Info("shutting down dependencies")

	var errs []error

	if d.RulesWatcher != nil {
		if err := d.RulesWatcher.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close rules watcher: %w", err))
		}
	}

	// Sync logger
	if d.Logger != nil {
		_ = d.Logger.Sync()
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors during shutdown: %v", errs)
	}

	return nil
}
