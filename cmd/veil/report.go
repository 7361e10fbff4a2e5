package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/veilwaf/veil/internal/config"
	"github.com/veilwaf/veil/internal/report"
)

var renderers = map[string]func(report.Summary) ([]byte, error){
	"text": func(s report.Summary) ([]byte, error) { return []byte(report.RenderText(s)), nil },
	"md":   func(s report.Summary) ([]byte, error) { return []byte(report.RenderMarkdown(s)), nil },
	"json": report.RenderJSON,
}

type reportOptions struct {
	configPath string
	inputPath  string
	since      string
	ruleID     int
	verdicts   []string
	format     string
	outPath    string
}

func newReportCmd() *cobra.Command {
	opts := &reportOptions{}

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Summarize the audit log",
		Long:  "Summarize the audit log. Without --in the log named by the config's logging.auditLog is read.",
		RunE: func(cmd *cobra.Command, args []string) error {
			render, ok := renderers[opts.format]
			if !ok {
				return fmt.Errorf("unknown format %q", opts.format)
			}
			path, err := opts.auditPath()
			if err != nil {
				return err
			}
			reader, err := opts.reader(time.Now())
			if err != nil {
				return err
			}

			records, err := reader.Read(path)
			if err != nil {
				return err
			}
			data, err := render(report.Summarize(records))
			if err != nil {
				return err
			}
			return report.WriteOutput(cmd.OutOrStdout(), opts.outPath, data)
		},
	}

	cmd.Flags().StringVarP(&opts.configPath, "config", "c", "", "Config whose audit log is summarized")
	cmd.Flags().StringVar(&opts.inputPath, "in", "", "Path to audit log JSONL")
	cmd.Flags().StringVar(&opts.since, "since", "", "Only include records newer than a duration (10m) or an RFC 3339 time")
	cmd.Flags().IntVar(&opts.ruleID, "rule", 0, "Only include records where this rule matched or decided")
	cmd.Flags().StringSliceVar(&opts.verdicts, "verdict", nil, "Only include records with these verdicts (repeatable)")
	cmd.Flags().StringVar(&opts.format, "format", "text", "Output format: text|md|json")
	cmd.Flags().StringVar(&opts.outPath, "out", "", "Output file path (default stdout)")

	return cmd
}

func (o *reportOptions) auditPath() (string, error) {
	if o.inputPath != "" {
		return o.inputPath, nil
	}
	if o.configPath == "" {
		return "", errors.New("--in or --config is required")
	}
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return "", err
	}
	if cfg.Logging.AuditLog == "" {
		return "", fmt.Errorf("%s has no logging.auditLog", o.configPath)
	}
	return cfg.ResolvePath(cfg.Logging.AuditLog), nil
}

func (o *reportOptions) reader(now time.Time) (*report.Reader, error) {
	reader := &report.Reader{RuleID: o.ruleID, Verdicts: o.verdicts}
	if o.since == "" {
		return reader, nil
	}
	if dur, err := time.ParseDuration(o.since); err == nil {
		reader.Since = now.Add(-dur)
		return reader, nil
	}
	at, err := time.Parse(time.RFC3339, o.since)
	if err != nil {
		return nil, fmt.Errorf("invalid since %q: want a duration or an RFC 3339 time", o.since)
	}
	reader.Since = at
	return reader, nil
}
