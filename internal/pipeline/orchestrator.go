// Package pipeline drives each variant through preprocess, train, validate
// and promote, and announces the promotion once the readiness policy holds.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"modelops/internal/apperrors"
	"modelops/internal/artifact"
	"modelops/internal/await"
	"modelops/internal/compute"
	"modelops/internal/config"
	"modelops/internal/notify"
	"modelops/internal/observability"
	"modelops/internal/promote"
	"modelops/internal/status"
	"modelops/internal/store"
	"modelops/internal/validation"
	"modelops/internal/vcs"
	"modelops/pkg/backoff"
	"modelops/pkg/cloudevent"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Announcer publishes a completed promotion to the branch merge API.
type Announcer interface {
	Announce(ctx context.Context) (vcs.Outcome, error)
}

// Config holds the orchestrator settings.
type Config struct {
	Variants    []string
	Policy      string
	Thresholds  map[string]float64
	MaxAttempts int
	Delay       time.Duration
	// Backoff overrides Delay between await attempts when set.
	Backoff backoff.Func
}

// ConfigFrom maps the service configuration onto orchestrator settings.
func ConfigFrom(c config.PipelineConfig) Config {
	cfg := Config{
		Variants:    slices.Clone(c.Variants),
		Policy:      c.Policy,
		Thresholds:  c.Thresholds,
		MaxAttempts: c.Await.MaxAttempts,
		Delay:       c.Await.Delay,
	}
	if c.Await.Backoff == "exponential" {
		cfg.Backoff = backoff.ExponentialFunc(backoff.Config{Initial: c.Await.Delay, Max: 8 * c.Await.Delay})
	}
	return cfg
}

// validate reports settings that make a run impossible.
func (c Config) validate() error {
	if len(c.Variants) == 0 {
		return apperrors.Configuration("VARIANTS", "at least one variant is required")
	}
	for _, v := range c.Variants {
		if err := artifact.ValidateVariant(v); err != nil {
			return apperrors.Configuration("VARIANTS", err.Error())
		}
	}
	if c.Policy != config.PolicyAll && c.Policy != config.PolicyAny {
		return apperrors.Configuration("PROMOTION_POLICY", fmt.Sprintf("must be %q or %q, got %q", config.PolicyAll, config.PolicyAny, c.Policy))
	}
	if c.MaxAttempts < 1 {
		return apperrors.Configuration("AWAIT_MAX_ATTEMPTS", "must be at least 1")
	}
	return nil
}

// Deps are the collaborators of an Orchestrator.
type Deps struct {
	Store  store.Store
	Engine compute.Engine
	// Announcer is optional; nil skips the announcement.
	Announcer Announcer
	// Metrics is optional.
	Metrics *observability.Metrics
	// Events is optional; nil discards events.
	Events notify.Publisher
}

// Orchestrator runs the lifecycle for a set of variants.
type Orchestrator struct {
	cfg       Config
	store     store.Store
	engine    compute.Engine
	tracker   *status.Tracker
	validator *validation.Validator
	promoter  *promote.Promoter
	announcer Announcer
	metrics   *observability.Metrics
	events    notify.Publisher
	runs      *registry

	// background tracks runs started with Start.
	background sync.WaitGroup
}

// New creates an orchestrator.
func New(cfg Config, deps Deps) *Orchestrator {
	events := deps.Events
	if events == nil {
		events = notify.Discard
	}
	return &Orchestrator{
		cfg:       cfg,
		store:     deps.Store,
		engine:    deps.Engine,
		tracker:   status.NewTracker(deps.Store),
		validator: validation.New(deps.Store, deps.Engine, cfg.Thresholds),
		promoter:  promote.New(deps.Store),
		announcer: deps.Announcer,
		metrics:   deps.Metrics,
		events:    events,
		runs:      newRegistry(),
	}
}

// Variants returns the configured variants.
func (o *Orchestrator) Variants() []string {
	return slices.Clone(o.cfg.Variants)
}

// Known reports whether variant is configured.
func (o *Orchestrator) Known(variant string) bool {
	return slices.Contains(o.cfg.Variants, variant)
}

// Active returns the variants currently being processed.
func (o *Orchestrator) Active() map[string]Active {
	return o.runs.list()
}

// ActiveVariant returns the variant's active run, if any.
func (o *Orchestrator) ActiveVariant(variant string) (Active, bool) {
	return o.runs.get(variant)
}

// Run processes variants (all configured variants when empty) and blocks
// until the announcement step is done.
//
// Only configuration problems and conflicts with another active run are
// returned as errors. Stage failures are recorded per variant in the report.
func (o *Orchestrator) Run(ctx context.Context, variants []string) (*RunReport, error) {
	runID, variants, err := o.prepare(variants)
	if err != nil {
		return nil, err
	}
	return o.execute(ctx, runID, variants), nil
}

// Start reserves variants and runs them in the background. It returns the
// run ID, or the same errors as Run without starting anything.
func (o *Orchestrator) Start(ctx context.Context, variants []string) (string, error) {
	runID, variants, err := o.prepare(variants)
	if err != nil {
		return "", err
	}
	o.background.Add(1)
	go func() {
		defer o.background.Done()
		o.execute(context.WithoutCancel(ctx), runID, variants)
	}()
	return runID, nil
}

// Wait blocks until every run started with Start has finished or ctx is done.
func (o *Orchestrator) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		o.background.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (o *Orchestrator) prepare(variants []string) (string, []string, error) {
	if err := o.cfg.validate(); err != nil {
		return "", nil, err
	}
	if len(variants) == 0 {
		variants = o.cfg.Variants
	}
	variants = slices.Compact(slices.Sorted(slices.Values(variants)))
	for _, v := range variants {
		if !o.Known(v) {
			return "", nil, apperrors.NotFound("variant", v)
		}
	}

	runID := uuid.NewString()
	if err := o.runs.reserve(runID, variants); err != nil {
		return "", nil, err
	}
	return runID, variants, nil
}

func (o *Orchestrator) execute(ctx context.Context, runID string, variants []string) *RunReport {
	logger := slog.With("component", "pipeline", "runId", runID)
	events := notify.NewBuilder("", runID)
	start := time.Now()

	if o.metrics != nil {
		o.metrics.RecordRunStarted(ctx)
	}
	logger.Info("Run started", "variants", variants, "policy", o.cfg.Policy)

	report := &RunReport{RunID: runID, Variants: make([]VariantReport, len(variants))}
	var wg sync.WaitGroup
	for i, v := range variants {
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer o.runs.release(v)
			report.Variants[i] = o.runVariant(ctx, runID, v, events)
		}()
	}
	wg.Wait()

	o.announce(ctx, logger, report, events)

	report.Duration = time.Since(start)
	logger.Info("Run finished",
		"promoted", report.Count(StatePromoted),
		"rejected", report.Count(StateRejected),
		"failed", report.Count(StateFailed),
		"announced", report.Announced,
		"outcome", report.Outcome,
		"duration", report.Duration)
	return report
}

// announce waits for the readiness policy over every configured variant and
// then calls the announcer once. Only a promotion in this run can change the
// status records, so without one the policy is checked a single time.
func (o *Orchestrator) announce(ctx context.Context, logger *slog.Logger, report *RunReport, events *notify.Builder) {
	if o.announcer == nil {
		logger.Debug("Announcement disabled")
		return
	}

	attempts := o.cfg.MaxAttempts
	if report.Count(StatePromoted) == 0 {
		attempts = 1
	}
	result, err := o.await(ctx, "policy", attempts, o.policyHolds)
	if err != nil {
		logger.Warn("Readiness wait interrupted", "error", err)
		report.AnnounceError = err.Error()
		return
	}
	if result != await.Ready {
		logger.Info("Readiness policy not met, skipping announcement", "policy", o.cfg.Policy)
		return
	}

	outcome, err := o.announcer.Announce(ctx)
	report.Announced = true
	report.Outcome = outcome
	if err != nil {
		report.AnnounceError = err.Error()
	}
	if o.metrics != nil {
		o.metrics.RecordAnnouncement(ctx, string(outcome))
	}
	o.publish(logger, events.Announced(string(outcome), err))
}

// policyHolds evaluates the promotion policy over the status records.
func (o *Orchestrator) policyHolds(ctx context.Context) (bool, error) {
	statuses, err := o.tracker.All(ctx, o.cfg.Variants)
	if err != nil {
		return false, err
	}
	ready := 0
	for _, st := range statuses {
		if st == status.Ready {
			ready++
		}
	}
	if o.cfg.Policy == config.PolicyAny {
		return ready > 0, nil
	}
	return ready == len(o.cfg.Variants), nil
}

func (o *Orchestrator) await(ctx context.Context, name string, attempts int, pred await.Predicate) (await.Result, error) {
	return await.Await(ctx, pred, await.Options{
		MaxAttempts: attempts,
		Delay:       o.cfg.Delay,
		Backoff:     o.cfg.Backoff,
		Name:        name,
		OnAttempt: func(name string, _ int, ok bool) {
			if o.metrics != nil {
				o.metrics.RecordAwaitAttempt(ctx, name, ok)
			}
		},
	})
}

func (o *Orchestrator) publish(logger *slog.Logger, event *cloudevent.CloudEvent) {
	if err := o.events.Publish(event); err != nil {
		logger.Warn("Event not published", "type", event.Type, "error", err)
	}
}

// Status returns the status of every configured variant.
func (o *Orchestrator) Status(ctx context.Context) (map[string]status.Status, error) {
	return o.tracker.All(ctx, o.cfg.Variants)
}

// VariantStatus returns one variant's status.
func (o *Orchestrator) VariantStatus(ctx context.Context, variant string) (status.Status, error) {
	if !o.Known(variant) {
		return "", apperrors.NotFound("variant", variant)
	}
	return o.tracker.Get(ctx, variant)
}
