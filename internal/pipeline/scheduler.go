package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"modelops/internal/apperrors"
	"modelops/internal/artifact"
	"modelops/internal/store"
	"slices"
	"time"
)

// Runner runs the pipeline for a set of variants.
type Runner interface {
	Run(ctx context.Context, variants []string) (*RunReport, error)
}

// Scheduler runs the pipeline on an interval and on demand. Runs never
// overlap; triggers that arrive during a run are merged into the next one.
type Scheduler struct {
	runner   Runner
	interval time.Duration
	triggers chan []string
	logger   *slog.Logger
	// OnRun is called after every run. Optional.
	OnRun func(*RunReport, error)
}

// NewScheduler creates a scheduler. An interval of zero disables periodic runs.
func NewScheduler(runner Runner, interval time.Duration) *Scheduler {
	return &Scheduler{
		runner:   runner,
		interval: interval,
		triggers: make(chan []string, 64),
		logger:   slog.With("component", "scheduler"),
	}
}

// Trigger requests a run for variants (all configured variants when empty).
// It never blocks and reports false when the request was dropped.
func (s *Scheduler) Trigger(variants ...string) bool {
	select {
	case s.triggers <- variants:
		return true
	default:
		s.logger.Warn("Trigger dropped, queue full", "variants", variants)
		return false
	}
}

// Watch triggers a run for the variant of every raw dataset written to w
// until ctx is done.
func (s *Scheduler) Watch(ctx context.Context, w store.Watcher) error {
	keys, err := w.Watch(ctx, artifact.ContainerRaw)
	if err != nil {
		return err
	}
	go func() {
		for key := range keys {
			variant, ok := artifact.VariantFromRawKey(key)
			if !ok {
				s.logger.Debug("Ignoring upload", "key", key)
				continue
			}
			s.logger.Info("Raw dataset uploaded", "variant", variant)
			s.Trigger(variant)
		}
	}()
	return nil
}

// Run processes triggers and ticks until ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	var tick <-chan time.Time
	if s.interval > 0 {
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		tick = ticker.C
	}
	s.logger.Info("Scheduler started", "interval", s.interval)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Scheduler stopped")
			return nil
		case <-tick:
			s.run(ctx, nil)
		case variants := <-s.triggers:
			s.run(ctx, s.coalesce(variants))
		}
	}
}

// coalesce merges pending triggers into one variant set. Any trigger for all
// variants widens the set to all variants.
func (s *Scheduler) coalesce(first []string) []string {
	all := len(first) == 0
	merged := slices.Clone(first)
	for {
		select {
		case more := <-s.triggers:
			if len(more) == 0 {
				all = true
			}
			merged = append(merged, more...)
		default:
			if all {
				return nil
			}
			return merged
		}
	}
}

func (s *Scheduler) run(ctx context.Context, variants []string) {
	report, err := s.runner.Run(ctx, variants)
	switch {
	case err == nil:
	case errors.Is(err, apperrors.ErrConflict):
		s.logger.Info("Skipping run, variants busy", "error", err)
	case errors.Is(err, context.Canceled):
	default:
		s.logger.Error("Run failed", "variants", variants, "error", err)
	}
	if s.OnRun != nil {
		s.OnRun(report, err)
	}
}
