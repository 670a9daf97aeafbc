package cli

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"syscall"

	"github.com/oklog/run"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/upb/tracex/app"
	"github.com/upb/tracex/routes"
)

type serveOptions struct {
	host string
	port int
}

func newServeCommand(root *rootOptions) *cobra.Command {
	opts := &serveOptions{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the trace dashboard API",
		Long:  "Serves the dashboard routes and WebSocket stream. When TRACEX_PII_RULES_WATCH is set the\nredaction rules file is reloaded as it changes.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), root, opts)
		},
	}
	cmd.Flags().StringVar(&opts.host, "host", "", "Override SERVER_HOST")
	cmd.Flags().IntVar(&opts.port, "port", 0, "Override SERVER_PORT")
	return cmd
}

func runServe(ctx context.Context, root *rootOptions, opts *serveOptions) error {
	cfg, logger, err := setup(ctx, root)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	if opts.host != "" {
		cfg.Server.Host = opts.host
	}
	if opts.port != 0 {
		cfg.Server.Port = opts.port
	}

	deps, err := app.NewDependencies(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() { _ = deps.Close(context.Background()) }()

	ln, err := net.Listen("tcp", cfg.Server.Address())
	if err != nil {
		return err
	}

	// Streams end when baseCtx is cancelled; Shutdown does not wait for
	// hijacked connections.
	baseCtx, cancelBase := context.WithCancel(ctx)
	defer cancelBase()

	srv := &http.Server{
		Handler:      routes.SetupRoutes(deps),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		BaseContext:  func(net.Listener) context.Context { return baseCtx },
	}

	var g run.Group
	{
		g.Add(func() error {
			logger.Info("dashboard listening",
				zap.String("addr", ln.Addr().String()),
				zap.String("environment", cfg.Environment))
			if err := srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		}, func(error) {
			cancelBase()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Warn("server shutdown incomplete", zap.Error(err))
			}
		})
	}
	if deps.RulesWatcher != nil {
		ctx, cancel := context.WithCancel(ctx)
		g.Add(func() error {
			logger.Info("watching redaction rules", zap.String("path", cfg.Tracing.PIIRulesFile))
			return deps.RulesWatcher.Run(ctx)
		}, func(error) {
			cancel()
		})
	}
	{
		g.Add(run.SignalHandler(ctx, os.Interrupt, syscall.SIGTERM))
	}

	err = g.Run()
	var sig run.SignalError
	if errors.As(err, &sig) {
		logger.Info("shutting down", zap.String("signal", sig.Signal.String()))
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
