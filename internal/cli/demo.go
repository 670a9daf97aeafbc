package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/upb/tracex/app"
	"github.com/upb/tracex/internal/shared"
	"github.com/upb/tracex/services/instrument"
	"github.com/upb/tracex/services/tracedio"
)

func newDemoCommand(root *rootOptions, fsys afero.Fs) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Record sample traced, audited, ML-step and file events",
		Long:  "Runs a few instrumented calls and a traced file round trip under one correlation id, then\nprints the recorded events. With --output the export is also written to a file that\n`tracex verify` accepts.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, logger, err := setup(ctx, root)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			deps, err := app.NewDependencies(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer func() { _ = deps.Close(context.Background()) }()

			if err := runDemo(ctx, deps); err != nil {
				return err
			}

			data, err := deps.Store.Serialize()
			if err != nil {
				return err
			}
			if output != "" {
				if err := afero.WriteFile(fsys, output, data, 0o644); err != nil {
					return fmt.Errorf("write export: %w", err)
				}
				logger.Info("demo events exported", zap.String("path", output), zap.Int("events", deps.Store.Len()))
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return err
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "Also write the exported events to this file")
	return cmd
}

func runDemo(ctx context.Context, deps *app.Dependencies) error {
	ctx = shared.WithCorrelationID(ctx, uuid.NewString())
	in := deps.Instrumenter

	add := instrument.Trace2(in, "add", func(_ context.Context, a, b int) (int, error) {
		return a + b, nil
	})
	if _, err := add(ctx, 2, 3); err != nil {
		return err
	}

	transfer := instrument.Audit2(in, "transfer", func(_ context.Context, account string, amount float64) (string, error) {
		return fmt.Sprintf("moved %.2f", amount), nil
	})
	if _, err := transfer(ctx, "alice@example.com", 100); err != nil {
		return err
	}

	trainStep := instrument.MLStep2(in, "train_step", func(_ context.Context, epoch int, lr float64) (map[string]float64, error) {
		return map[string]float64{"loss": 1 / float64(epoch+1), "lr": lr}, nil
	})
	for epoch := 0; epoch < 2; epoch++ {
		if _, err := trainStep(ctx, epoch, 0.01); err != nil {
			return err
		}
	}

	return fileRoundTrip(ctx, deps.TracedFs)
}

// fileRoundTrip writes and reads back a scratch file through the traced
// package-level provider
func fileRoundTrip(ctx context.Context, fs *tracedio.Fs) error {
	dir, err := os.MkdirTemp("", "tracex-demo")
	if err != nil {
		return err
	}
	defer os.RemoveAll(dir)

	if err := tracedio.Enable(fs.WithContext(ctx)); err != nil {
		return err
	}
	defer tracedio.Disable()

	path := filepath.Join(dir, "hello.txt")
	f, err := tracedio.Create(path)
	if err != nil {
		return err
	}
	if _, err := f.WriteString("Hello World"); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}

	f, err = tracedio.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = io.ReadAll(f)
	return err
}
