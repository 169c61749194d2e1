package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"modelops/internal/artifact"
	"modelops/internal/compute"
	"modelops/internal/compute/docker"
	"modelops/internal/compute/native"
	"modelops/internal/config"
	"modelops/internal/health"
	"modelops/internal/notify"
	"modelops/internal/observability"
	"modelops/internal/pipeline"
	"modelops/internal/store"
	"modelops/internal/vcs"
	"modelops/pkg/circuitbreaker"
	"net/http"
	"strings"
)

// components are the wired collaborators of a command.
type components struct {
	store          store.Store
	engine         compute.Engine
	announcer      *vcs.Client
	notifier       *notify.Webhook
	breakers       *circuitbreaker.Registry
	metrics        *observability.Metrics
	metricsHandler http.Handler
	pipeline       *pipeline.Orchestrator
	checks         []health.Check
	closers        []func() error
}

// build wires every component from cfg. Metrics are only set up when withMetrics is set.
func build(ctx context.Context, cfg *config.Config, withMetrics bool) (*components, error) {
	c := &components{
		breakers: circuitbreaker.NewRegistry(circuitbreaker.DefaultConfig()),
	}

	if withMetrics {
		metrics, handler, err := observability.NewMetrics(ctx)
		if err != nil {
			return nil, err
		}
		c.metrics, c.metricsHandler = metrics, handler
	}

	s, err := newStore(cfg.Store)
	if err != nil {
		return nil, err
	}
	if err := s.EnsureContainers(ctx, artifact.Containers...); err != nil {
		return nil, fmt.Errorf("failed to create store containers: %w", err)
	}
	c.store = s
	c.checks = append(c.checks, health.Check{Name: "store", Probe: s.Ping})

	if err := c.wireEngine(cfg.Compute); err != nil {
		c.close()
		return nil, err
	}

	if cfg.Merge.Enabled {
		c.announcer = newAnnouncer(cfg.Merge, c.breakers)
	}
	if cfg.Events.URL != "" {
		var recorder notify.MetricsRecorder
		if c.metrics != nil {
			recorder = c.metrics
		}
		c.notifier = notify.NewWebhook(notify.Config{
			URL:        cfg.Events.URL,
			SigningKey: cfg.Events.SigningKey,
			Workers:    cfg.Events.Workers,
			BufferSize: cfg.Events.BufferSize,
		}, c.breakers, recorder)
	}
	c.checks = append(c.checks, health.Check{Name: "outbound", Probe: c.outboundProbe, Optional: true})

	deps := pipeline.Deps{
		Store:   c.store,
		Engine:  c.engine,
		Metrics: c.metrics,
	}
	if c.announcer != nil {
		deps.Announcer = c.announcer
	}
	if c.notifier != nil {
		deps.Events = c.notifier
	}
	c.pipeline = pipeline.New(pipeline.ConfigFrom(cfg.Pipeline), deps)
	return c, nil
}

func newStore(cfg config.StoreConfig) (store.Store, error) {
	switch cfg.Backend {
	case config.StoreMemory:
		slog.Warn("Using the in-memory store, artifacts are lost on exit")
		return store.NewMemory(), nil
	case config.StoreLocal:
		return store.NewLocal(cfg.Root)
	case config.StoreMinIO:
		return store.NewMinIO(store.MinIOConfig{
			Endpoint:     cfg.MinIO.Endpoint,
			AccessKey:    cfg.MinIO.AccessKey,
			SecretKey:    cfg.MinIO.SecretKey,
			Region:       cfg.MinIO.Region,
			UseSSL:       cfg.MinIO.UseSSL,
			BucketPrefix: cfg.MinIO.BucketPrefix,
		})
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}

func (c *components) wireEngine(cfg config.ComputeConfig) error {
	if cfg.Engine != config.EngineDocker {
		c.engine = native.New()
		return nil
	}

	engine, err := docker.New(docker.Config{
		PreprocessImage: cfg.PreprocessImage,
		TrainImage:      cfg.TrainImage,
		PredictImage:    cfg.PredictImage,
		Timeout:         cfg.Timeout,
	})
	if err != nil {
		return err
	}
	c.engine = engine
	c.closers = append(c.closers, engine.Close)
	c.checks = append(c.checks, health.Check{Name: "docker", Probe: engine.Ready})
	slog.Info("Using docker compute engine", "train_image", cfg.TrainImage)
	return nil
}

func newAnnouncer(cfg config.MergeConfig, breakers *circuitbreaker.Registry) *vcs.Client {
	return vcs.New(vcs.Config{
		APIURL:     cfg.APIURL,
		Repo:       cfg.Repo,
		Token:      cfg.Token,
		Base:       cfg.Base,
		Head:       cfg.Head,
		PRFallback: cfg.PRFallback,
	}, breakers)
}

// outboundProbe fails while any outbound host has an open circuit.
func (c *components) outboundProbe(context.Context) error {
	if open := c.breakers.Open(); len(open) > 0 {
		return fmt.Errorf("circuit open for %s", strings.Join(open, ", "))
	}
	return nil
}

// close releases clients held by the components.
func (c *components) close() {
	var errs []error
	for _, closeFn := range c.closers {
		errs = append(errs, closeFn())
	}
	if err := errors.Join(errs...); err != nil {
		slog.Warn("Failed to release clients", "error", err)
	}
}
