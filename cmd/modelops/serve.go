package main

import (
	"context"
	"errors"
	"log/slog"
	"modelops/internal/api"
	"modelops/internal/health"
	"modelops/internal/pipeline"
	"modelops/internal/store"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

func newServeCmd(a *app) *cobra.Command {
	var watch bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API and run the pipeline on schedule",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.serve(watch)
		},
	}
	cmd.Flags().BoolVar(&watch, "watch", false, "run the pipeline when a raw dataset is written to the store")
	return cmd
}

func (a *app) serve(watch bool) error {
	cfg := a.cfg
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c, err := build(ctx, cfg, true)
	if err != nil {
		return err
	}
	defer c.close()

	slog.Info("Pipeline configured",
		"variants", cfg.Pipeline.Variants,
		"policy", cfg.Pipeline.Policy,
		"store", cfg.Store.Backend,
		"engine", cfg.Compute.Engine,
		"merge", cfg.Merge.Enabled,
		"await_attempts", cfg.Pipeline.Await.MaxAttempts,
		"await_delay", cfg.Pipeline.Await.Delay,
	)

	// Create health checker
	healthChecker := health.NewChecker(c.checks...)

	// Create API router
	router := api.NewRouter(api.RouterConfig{
		Pipeline:      c.pipeline,
		Store:         c.store,
		Engine:        c.engine,
		Metrics:       c.metrics,
		HealthChecker: healthChecker,
		APIKey:        cfg.Service.APIKey,
	})

	if cfg.Service.APIKey != "" {
		slog.Info("API authentication enabled")
	} else {
		slog.Warn("API authentication disabled - no API_KEY_FILE configured")
	}

	// Create scheduler
	scheduler := pipeline.NewScheduler(c.pipeline, cfg.Pipeline.Interval)
	if watch {
		watcher, ok := c.store.(store.Watcher)
		if !ok {
			return errors.New("store backend does not support watching")
		}
		if err := scheduler.Watch(ctx, watcher); err != nil {
			return err
		}
		slog.Info("Watching for raw dataset uploads")
	}
	schedulerDone := make(chan struct{})
	go func() {
		defer close(schedulerDone)
		_ = scheduler.Run(ctx)
	}()

	// Create API server
	apiServer := &http.Server{
		Addr:         ":" + cfg.Service.Port,
		Handler:      router,
		ReadTimeout:  5 * time.Minute,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Create metrics server
	metricsMux := http.NewServeMux()
	metricsMux.Handle("GET /metrics", c.metricsHandler)
	metricsServer := &http.Server{
		Addr:         ":" + cfg.Service.MetricsPort,
		Handler:      metricsMux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	// Channel to capture server errors
	serverErr := make(chan error, 2)

	go func() {
		slog.Info("Starting API server", "port", cfg.Service.Port)
		if err := apiServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	go func() {
		slog.Info("Starting metrics server", "port", cfg.Service.MetricsPort)
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// shutdown closes both servers gracefully
	shutdown := func(timeout time.Duration) {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		if err := apiServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("API server shutdown error", "error", err)
		}
		if err := metricsServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Metrics server shutdown error", "error", err)
		}
	}

	// Wait for interrupt signal or server error
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		slog.Info("Received shutdown signal", "signal", sig)
	case err := <-serverErr:
		slog.Error("Server failed to start", "error", err)
		cancel()
		shutdown(5 * time.Second)
		return err
	}

	// Phase 1: Mark service as unhealthy for load balancer draining
	healthChecker.SetShuttingDown()

	if cfg.Service.ShutdownDrainWait > 0 {
		slog.Info("Waiting for traffic to drain", "duration", cfg.Service.ShutdownDrainWait)
		time.Sleep(cfg.Service.ShutdownDrainWait)
	}

	// Phase 2: Stop accepting requests and scheduled runs
	slog.Info("Starting graceful shutdown")
	shutdown(25 * time.Second)
	cancel()
	<-schedulerDone

	// Phase 3: Let runs started through the API finish
	runsCtx, runsCancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer runsCancel()
	if err := c.pipeline.Wait(runsCtx); err != nil {
		slog.Warn("Abandoning in-flight runs", "active", c.pipeline.Active())
	}

	// Phase 4: Drain event notifier
	if c.notifier != nil {
		slog.Info("Draining event notifier")
		notifyCtx, notifyCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer notifyCancel()
		if err := c.notifier.Close(notifyCtx); err != nil {
			slog.Warn("Notifier shutdown error", "error", err)
		}
		stats := c.notifier.Stats()
		slog.Info("Notifier stats",
			"delivered", stats.Delivered,
			"failed", stats.Failed,
			"dropped", stats.Dropped,
		)
	}

	slog.Info("Shutdown complete")
	return nil
}
