package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/upb/tracex/models"
	"github.com/upb/tracex/services/audit"
)

func newVerifyCommand(root *rootOptions, fsys afero.Fs) *cobra.Command {
	var key string

	cmd := &cobra.Command{
		Use:   "verify <file>",
		Short: "Verify audit event signatures in an exported trace file",
		Long:  "Reads a JSON array of trace events, as written by GET /traces/export or `tracex demo --output`,\nand checks the signature of every audit_call event. Exits non-zero if any event fails.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup(cmd.Context(), root)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			if key == "" {
				key = cfg.Tracing.SecretKey
			}
			return runVerify(cmd, fsys, args[0], key, logger)
		},
	}
	cmd.Flags().StringVar(&key, "key", "", "Signing key (defaults to TRACEX_SECRET_KEY)")
	return cmd
}

func runVerify(cmd *cobra.Command, fsys afero.Fs, path, key string, logger *zap.Logger) error {
	data, err := afero.ReadFile(fsys, path)
	if err != nil {
		return fmt.Errorf("read trace file: %w", err)
	}

	var events []models.TraceEvent
	if err := json.Unmarshal(data, &events); err != nil {
		return fmt.Errorf("parse trace file: %w", err)
	}

	signer, err := audit.NewSigner([]byte(key))
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	var checked, failed int
	for _, ev := range events {
		if ev.EventType != models.EventTypeAuditCall {
			continue
		}
		checked++

		valid, err := signer.VerifyEvent(ev)
		switch {
		case err != nil:
			failed++
			fmt.Fprintf(out, "ERROR %s %s: %v\n", ev.EventID, ev.FunctionName, err)
		case !valid:
			failed++
			fmt.Fprintf(out, "FAIL  %s %s\n", ev.EventID, ev.FunctionName)
		default:
			fmt.Fprintf(out, "OK    %s %s\n", ev.EventID, ev.FunctionName)
		}
	}

	logger.Debug("trace file verified",
		zap.String("path", path),
		zap.Int("events", len(events)),
		zap.Int("audit_events", checked),
		zap.Int("failed", failed))

	fmt.Fprintf(out, "%d audit events checked, %d failed\n", checked, failed)
	if failed > 0 {
		return fmt.Errorf("%d of %d audit events failed verification", failed, checked)
	}
	return nil
}
