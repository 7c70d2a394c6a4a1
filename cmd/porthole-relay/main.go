// Copyright 2026 The Porthole Authors
// SPDX-License-Identifier: Apache-2.0

// Porthole-relay is the terminal session relay daemon. It accepts
// WebSocket connections from agent daemons (servers) and viewer apps
// (clients), groups them into sessions by server ID, and forwards
// terminal I/O between them with replay-on-reconnect for V2 clients.
//
// Configuration comes from a YAML file named by --config or the
// PORTHOLE_CONFIG environment variable; with neither set the built-in
// defaults apply. The relay endpoint is /relay. When a metrics
// address is configured, Prometheus metrics are served on /metrics
// and a liveness probe on /healthz.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"

	"github.com/porthole-project/porthole/lib/config"
	"github.com/porthole-project/porthole/relay"
	"github.com/porthole-project/porthole/transport"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "porthole-relay: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath = pflag.String("config", "", "path to porthole.yaml (overrides PORTHOLE_CONFIG)")
		listenFlag = pflag.String("listen", "", "relay listen address (overrides config)")
		logLevel   = pflag.String("log-level", "info", "log level: debug, info, warn, error")
	)
	pflag.Parse()

	level, err := parseLogLevel(*logLevel)
	if err != nil {
		return err
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	if *listenFlag != "" {
		cfg.Listen.Relay = *listenFlag
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	gracePeriod, err := cfg.GracePeriod()
	if err != nil {
		return err
	}
	writeTimeout, err := cfg.WriteTimeout()
	if err != nil {
		return err
	}

	relay.RegisterMetrics()
	engine := relay.NewEngine(relay.EngineOptions{
		GracePeriod:         gracePeriod,
		HistoryBudget:       cfg.Relay.HistoryBudgetBytes,
		OutboundQueueLength: cfg.Relay.OutboundQueueLength,
		Logger:              logger,
	})

	mux := http.NewServeMux()
	mux.Handle("/relay", transport.NewServer(transport.ServerOptions{
		Engine:       engine,
		ReadLimit:    cfg.Relay.ReadLimitBytes,
		WriteTimeout: writeTimeout,
		Logger:       logger,
	}))

	server := &http.Server{
		Addr:    cfg.Listen.Relay,
		Handler: mux,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errs := make(chan error, 2)
	go func() {
		logger.Info("relay listening",
			"address", cfg.Listen.Relay,
			"environment", string(cfg.Environment),
			"tls", cfg.Listen.CertFile != "")
		var err error
		if cfg.Listen.CertFile != "" {
			err = server.ListenAndServeTLS(cfg.Listen.CertFile, cfg.Listen.KeyFile)
		} else {
			err = server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errs <- fmt.Errorf("relay server: %w", err)
		}
	}()

	var metricsServer *http.Server
	if cfg.Listen.Metrics != "" {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", promhttp.Handler())
		metricsMux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
			fmt.Fprintf(w, "ok sessions=%d\n", engine.SessionCount())
		})
		metricsServer = &http.Server{Addr: cfg.Listen.Metrics, Handler: metricsMux}
		go func() {
			logger.Info("metrics listening", "address", cfg.Listen.Metrics)
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errs <- fmt.Errorf("metrics server: %w", err)
			}
		}()
	}

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-errs:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if metricsServer != nil {
		_ = metricsServer.Shutdown(shutdownCtx)
	}
	return server.Shutdown(shutdownCtx)
}

// loadConfig resolves configuration: explicit flag, then the
// PORTHOLE_CONFIG environment variable, then built-in defaults.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFile(path)
	}
	if os.Getenv("PORTHOLE_CONFIG") != "" {
		return config.Load()
	}
	return config.Default(), nil
}

func parseLogLevel(s string) (slog.Level, error) {
	switch s {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unknown log level %q", s)
	}
}
