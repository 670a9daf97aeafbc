// Package cli implements the tracex command line.
package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/upb/tracex/config"
	"github.com/upb/tracex/internal/observability"
)

type rootOptions struct {
	logLevel string
}

// NewRootCommand builds the tracex command tree. Files named on the command
// line are read from and written to fsys.
func NewRootCommand(fsys afero.Fs) *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:           "tracex",
		Short:         "Structured tracing, PII redaction and signed audit events",
		Long:          "tracex records traced calls, audited calls, ML steps and file I/O as structured events,\nredacts sensitive text and signs audit events so tampering can be detected.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Override LOG_LEVEL")

	root.AddCommand(
		newServeCommand(opts),
		newVerifyCommand(opts, fsys),
		newRedactCommand(opts, fsys),
		newDemoCommand(opts, fsys),
	)
	return root
}

// Execute runs the root command against the OS filesystem.
func Execute() {
	if err := NewRootCommand(afero.NewOsFs()).ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// setup loads configuration and builds the logger shared by every command
func setup(ctx context.Context, opts *rootOptions) (*config.Config, *zap.Logger, error) {
	cfg, err := config.New(ctx)
	if err != nil {
		return nil, nil, err
	}
	if opts.logLevel != "" {
		cfg.Observability.LogLevel = opts.logLevel
	}

	logger, err := observability.NewLogger(cfg.Observability)
	if err != nil {
		return nil, nil, err
	}
	if cfg.UsesDefaultSecret() {
		logger.Warn("TRACEX_SECRET_KEY is not set, audit events are signed with the insecure default key")
	}
	return cfg, logger, nil
}
