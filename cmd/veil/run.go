package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/veilwaf/veil/internal/audit"
	"github.com/veilwaf/veil/internal/config"
	"github.com/veilwaf/veil/internal/connector"
	"github.com/veilwaf/veil/internal/observability"
	"github.com/veilwaf/veil/internal/waf"
)

func newRunCmd() *cobra.Command {
	var configPath string
	var modeOverride string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the Veil reverse proxy",
		RunE: func(cmd *cobra.Command, args []string) error {
			if configPath == "" {
				return errors.New("config path is required")
			}
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if modeOverride != "" {
				cfg.Engine.Mode = modeOverride
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			return runProxy(cmd.Context(), cfg)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to config file")
	cmd.Flags().StringVar(&modeOverride, "mode", "", "Override the rule engine mode (On|DetectionOnly|Off)")

	return cmd
}

func runProxy(ctx context.Context, cfg *config.Config) error {
	logger, err := cfg.Logging.NewLogger(os.Stderr)
	if err != nil {
		return err
	}

	opts := []waf.Option{}
	if cfg.Logging.AuditLog != "" {
		writer, closer, err := audit.OpenJSONL(cfg.ResolvePath(cfg.Logging.AuditLog))
		if err != nil {
			return err
		}
		defer func() { _ = closer() }()
		opts = append(opts, waf.WithAuditWriter(writer))
	}

	metricsSrv := startMetricsServer(cfg, logger, &opts)
	defer func() {
		if metricsSrv != nil {
			_ = metricsSrv.Shutdown(context.Background())
		}
	}()

	engine, err := buildEngine(cfg, logger, opts...)
	if err != nil {
		return err
	}
	proxy, err := connector.New(cfg, engine, logrus.NewEntry(logger))
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              cfg.Server.Listen,
		Handler:           proxy,
		ReadHeaderTimeout: 5 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		if cfg.Server.TLS.Enabled {
			serverErr <- srv.ListenAndServeTLS(cfg.ResolvePath(cfg.Server.TLS.CertFile), cfg.ResolvePath(cfg.Server.TLS.KeyFile))
			return
		}
		serverErr <- srv.ListenAndServe()
	}()

	logger.WithFields(logrus.Fields{
		"listen": cfg.Server.Listen,
		"rules":  len(engine.Rules().IDs()),
		"mode":   engine.Config().Mode.String(),
	}).Info(waf.Info() + " started")

	signalCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	select {
	case <-signalCtx.Done():
	case err := <-serverErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	logger.WithField("transactions", engine.Transactions()).Info("stopped")
	return nil
}

func startMetricsServer(cfg *config.Config, logger *logrus.Logger, opts *[]waf.Option) *http.Server {
	if !cfg.Metrics.Enabled {
		return nil
	}

	reg := prometheus.NewRegistry()
	metrics := observability.NewMetrics(reg)
	*opts = append(*opts, waf.WithMetrics(metrics))

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(reg))

	srv := &http.Server{Addr: cfg.Metrics.Listen, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Error("metrics server stopped")
		}
	}()
	return srv
}
