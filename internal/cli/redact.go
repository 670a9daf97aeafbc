package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/upb/tracex/internal/redact"
)

type redactOptions struct {
	rulesFile string
	maxDepth  int
}

func newRedactCommand(root *rootOptions, fsys afero.Fs) *cobra.Command {
	opts := &redactOptions{}

	cmd := &cobra.Command{
		Use:   "redact",
		Short: "Redact PII from stdin",
		Long:  "Reads stdin and writes it with sensitive text masked. Input that parses as JSON is redacted\nvalue by value and written back as indented JSON; anything else is redacted as plain text.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup(cmd.Context(), root)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			if opts.rulesFile == "" {
				opts.rulesFile = cfg.Tracing.PIIRulesFile
			}
			if opts.maxDepth == 0 {
				opts.maxDepth = cfg.Tracing.RedactMaxDepth
			}
			redactor, err := buildRedactor(fsys, opts)
			if err != nil {
				return err
			}
			return runRedact(cmd.InOrStdin(), cmd.OutOrStdout(), redactor)
		},
	}
	cmd.Flags().StringVar(&opts.rulesFile, "rules", "", "YAML rules file (defaults to TRACEX_PII_RULES_FILE)")
	cmd.Flags().IntVar(&opts.maxDepth, "max-depth", 0, "Nesting limit (defaults to TRACEX_REDACT_MAX_DEPTH)")
	return cmd
}

func buildRedactor(fsys afero.Fs, opts *redactOptions) (*redact.Redactor, error) {
	redactOpts := []redact.Option{redact.WithMaxDepth(opts.maxDepth)}
	if opts.rulesFile != "" {
		data, err := afero.ReadFile(fsys, opts.rulesFile)
		if err != nil {
			return nil, fmt.Errorf("read redaction rules: %w", err)
		}
		rules, err := redact.ParseRules(data)
		if err != nil {
			return nil, err
		}
		redactOpts = append(redactOpts, redact.WithRules(rules...))
	}
	return redact.New(redactOpts...), nil
}

func runRedact(in io.Reader, out io.Writer, redactor *redact.Redactor) error {
	data, err := io.ReadAll(in)
	if err != nil {
		return fmt.Errorf("read input: %w", err)
	}

	if json.Valid(data) {
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.UseNumber()
		var v any
		if err := dec.Decode(&v); err != nil {
			return fmt.Errorf("decode input: %w", err)
		}

		enc := json.NewEncoder(out)
		enc.SetEscapeHTML(false)
		enc.SetIndent("", "  ")
		return enc.Encode(redactor.Redact(v))
	}

	_, err = io.WriteString(out, redactor.RedactString(string(data)))
	return err
}
