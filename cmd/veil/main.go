package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/veilwaf/veil/internal/config"
	"github.com/veilwaf/veil/internal/rules"
	"github.com/veilwaf/veil/internal/waf"
)

var (
	commit    = "none"
	buildDate = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		printError(err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "veil",
		Short:        "Veil web application firewall",
		SilenceUsage: true,
	}

	root.AddCommand(newRunCmd())
	root.AddCommand(newValidateCmd())
	root.AddCommand(newCheckCmd())
	root.AddCommand(newReportCmd())
	root.AddCommand(newVersionCmd())
	return root
}

func printError(err error) {
	var verr *config.ValidationError
	var lerr *rules.LoadError
	switch {
	case errors.As(err, &verr):
		for _, msg := range verr.Problems {
			fmt.Fprintln(os.Stderr, msg)
		}
	case errors.As(err, &lerr):
		for _, msg := range lerr.Problems {
			fmt.Fprintln(os.Stderr, msg)
		}
	default:
		fmt.Fprintln(os.Stderr, err)
	}
}

// loadConfig reads and validates the config at path.
func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return nil, errors.New("config path is required")
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// buildEngine compiles the rule set and creates the engine for cfg.
func buildEngine(cfg *config.Config, logger *logrus.Logger, opts ...waf.Option) (*waf.Engine, error) {
	rs, err := cfg.BuildRuleSet()
	if err != nil {
		return nil, err
	}
	engineCfg, err := cfg.WAFConfig()
	if err != nil {
		return nil, err
	}
	base := []waf.Option{
		waf.WithConfig(engineCfg),
		waf.WithLogger(logger.WithField("component", "waf")),
	}
	return waf.NewEngine(rs, append(base, opts...)...)
}

func newValidateCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate a Veil configuration and its rules",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			rs, err := cfg.BuildRuleSet()
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "config ok, %d rules\n", len(rs.IDs()))
			return err
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to config file")

	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s commit=%s buildDate=%s\n", waf.Info(), commit, buildDate)
		},
	}
}
