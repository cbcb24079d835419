package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/dnscache"

	"github.com/amppool/gateway/internal/app"
	"github.com/amppool/gateway/internal/config"
	"github.com/amppool/gateway/internal/dispatch"
	"github.com/amppool/gateway/internal/httpapi"
	"github.com/amppool/gateway/internal/keypool"
	"github.com/amppool/gateway/internal/storage/sqlite"
	"github.com/amppool/gateway/internal/telemetry"
	"github.com/amppool/gateway/internal/worker"
)

const (
	logWriterWorkers = 5
	rollupInterval   = 5 * time.Minute
	shutdownTimeout  = 15 * time.Second
)

func run(configPath string) error {
	snap, err := config.Load(configPath)
	if err != nil {
		return err
	}

	addr := snap.Host + ":" + snap.Port
	slog.Info("starting gateway", "version", version, "addr", addr)

	store, err := sqlite.New(snap.DatabaseDSN)
	if err != nil {
		return err
	}
	defer store.Close()

	dsnLog := snap.DatabaseDSN
	if i := strings.IndexByte(dsnLog, '?'); i >= 0 {
		dsnLog = dsnLog[:i]
	}
	slog.Info("database opened", "dsn", dsnLog)

	snap, err = config.ApplyStoreOverlay(context.Background(), snap, store)
	if err != nil {
		return err
	}
	slog.Info("models configured", "openai", snap.OpenAIModels, "anthropic", snap.AnthropicModels)

	// Shared DNS cache for every upstream HTTP client the dispatcher builds.
	dnsResolver := &dnscache.Resolver{}
	go func() {
		t := time.NewTicker(5 * time.Minute)
		defer t.Stop()
		for range t.C {
			dnsResolver.Refresh(true)
		}
	}()

	configRegistry := config.NewRegistry(snap)
	pool := keypool.New(store, snap.KeyPoolSize)
	dispatcher := dispatch.New(dnsResolver, snap.OpenAIBaseURL, snap.AnthropicBaseURL)

	// Prometheus metrics.
	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	promRegistry.MustRegister(collectors.NewGoCollector())
	metrics := telemetry.NewMetrics(promRegistry)
	metricsHandler := promhttp.HandlerFor(promRegistry, promhttp.HandlerOpts{})

	logWriter := telemetry.NewLogWriter(store, logWriterWorkers, metrics)
	rollupWorker := telemetry.NewRollupWorker(store, store, store, rollupInterval, metrics)
	runner := worker.NewRunner(logWriter, rollupWorker)

	gw := app.New(pool, dispatcher, store, logWriter, metrics)

	handler := httpapi.New(httpapi.Deps{
		Gateway:        gw,
		Config:         configRegistry,
		MetricsHandler: metricsHandler,
		ReadyCheck:     store.Ping,
	})

	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      5 * time.Minute,
		IdleTimeout:       120 * time.Second,
	}

	// Start background workers (log writer drain + periodic rollup).
	workerCtx, workerCancel := context.WithCancel(context.Background())
	workerDone := make(chan error, 1)
	go func() {
		workerDone <- runner.Run(workerCtx)
	}()

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	slog.Info("gateway ready", "addr", addr, "endpoints", []string{
		"POST /v1/chat/completions",
		"POST /v1/messages",
		"GET  /v1/models",
	})

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("shutting down", "signal", sig)
	case err := <-errCh:
		workerCancel()
		return err
	}

	// Shutdown HTTP first, then workers, so in-flight requests finish logging.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		workerCancel()
		return err
	}

	workerCancel()
	if err := <-workerDone; err != nil {
		slog.Error("worker shutdown error", "error", err)
	}

	slog.Info("gateway stopped")
	return nil
}
