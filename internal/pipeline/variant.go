package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"modelops/internal/artifact"
	"modelops/internal/await"
	"modelops/internal/notify"
	"modelops/internal/status"
	"modelops/internal/store"
	"time"
)

// ErrProductionNotVisible is returned when promoted artifacts cannot be read
// back from production within the await budget.
var ErrProductionNotVisible = errors.New("production artifacts not visible after promotion")

// variantRun carries one variant through a run.
type variantRun struct {
	o       *Orchestrator
	variant string
	events  *notify.Builder
	logger  *slog.Logger
	report  VariantReport
}

// runVariant executes the lifecycle for one variant. Errors stay inside the
// returned report.
func (o *Orchestrator) runVariant(ctx context.Context, runID, variant string, events *notify.Builder) VariantReport {
	r := &variantRun{
		o:       o,
		variant: variant,
		events:  events,
		logger:  slog.With("component", "pipeline", "runId", runID, "variant", variant),
		report:  VariantReport{Variant: variant, State: StateIdle},
	}

	if o.metrics != nil {
		o.metrics.RecordVariantStarted(ctx, variant)
		defer o.metrics.RecordVariantFinished(ctx, variant)
	}

	start := time.Now()
	r.run(ctx)
	r.report.Duration = time.Since(start)
	return r.report
}

func (r *variantRun) run(ctx context.Context) {
	if err := r.o.tracker.Set(ctx, r.variant, status.Training); err != nil {
		r.fail(ctx, "status", err, false)
		return
	}

	if err := r.stage(ctx, StatePreprocessing, r.preprocess); err != nil {
		r.fail(ctx, "preprocess", err, true)
		return
	}
	if err := r.stage(ctx, StateTraining, r.train); err != nil {
		r.fail(ctx, "train", err, true)
		return
	}

	var passed bool
	err := r.stage(ctx, StateValidating, func(ctx context.Context) error {
		result, err := r.o.validator.Validate(ctx, r.variant)
		if err != nil {
			return err
		}
		r.report.Validation = &result
		passed = result.Passed
		return nil
	})
	if err != nil {
		r.fail(ctx, "validate", err, true)
		return
	}
	if r.o.metrics != nil {
		r.o.metrics.RecordValidation(ctx, r.variant, passed)
	}
	if !passed {
		r.reject(ctx)
		return
	}

	r.promote(ctx)
}

// stage moves the variant into state and runs fn, recording its duration.
func (r *variantRun) stage(ctx context.Context, state State, fn func(context.Context) error) error {
	r.enter(state, nil)

	start := time.Now()
	err := fn(ctx)
	if r.o.metrics != nil {
		r.o.metrics.RecordStage(ctx, r.variant, string(state), err == nil, time.Since(start).Seconds())
	}
	return err
}

func (r *variantRun) preprocess(ctx context.Context) error {
	raw, err := store.Get(ctx, r.o.store, artifact.RawDataset(r.variant))
	if err != nil {
		return err
	}
	out, err := r.o.engine.Preprocess(ctx, raw, r.variant)
	if err != nil {
		return err
	}
	if err := store.Put(ctx, r.o.store, artifact.CleanedDataset(r.variant), out.Cleaned); err != nil {
		return err
	}
	return store.Put(ctx, r.o.store, artifact.CleanedScaler(r.variant), out.Scaler)
}

func (r *variantRun) train(ctx context.Context) error {
	cleaned, err := store.Get(ctx, r.o.store, artifact.CleanedDataset(r.variant))
	if err != nil {
		return err
	}
	model, err := r.o.engine.Train(ctx, cleaned, r.variant)
	if err != nil {
		return err
	}
	return store.Put(ctx, r.o.store, artifact.CandidateModel(r.variant), model)
}

// reject leaves the candidate in testing and production untouched.
func (r *variantRun) reject(ctx context.Context) {
	result := r.report.Validation
	r.logger.Warn("Candidate rejected", "failed", result.Failed)
	r.o.publish(r.logger, r.events.Rejected(r.variant, result.Metrics, result.Failed))
	r.restoreReady(ctx)
	r.enter(StateRejected, nil)
}

func (r *variantRun) promote(ctx context.Context) {
	start := time.Now()
	outcome, err := r.o.promoter.Promote(ctx, r.variant)
	if err != nil {
		r.recordPromoteStage(ctx, false, start)
		r.fail(ctx, "promote", err, false)
		return
	}
	r.report.Promotion = outcome
	if r.o.metrics != nil {
		r.o.metrics.RecordPromotion(ctx, r.variant, string(outcome))
	}

	result, err := r.o.await(ctx, "production:"+r.variant, r.o.cfg.MaxAttempts, func(ctx context.Context) (bool, error) {
		return store.AllExist(ctx, r.o.store, artifact.ProductionModel(r.variant), artifact.ProductionScaler(r.variant))
	})
	if err == nil && result != await.Ready {
		err = ErrProductionNotVisible
	}
	if err != nil {
		r.recordPromoteStage(ctx, false, start)
		r.fail(ctx, "promote", err, false)
		return
	}

	if err := r.o.tracker.Set(ctx, r.variant, status.Ready); err != nil {
		r.recordPromoteStage(ctx, false, start)
		r.fail(ctx, "status", err, false)
		return
	}
	r.recordPromoteStage(ctx, true, start)

	var metrics map[string]float64
	if r.report.Validation != nil {
		metrics = r.report.Validation.Metrics
	}
	r.logger.Info("Variant promoted", "outcome", outcome)
	r.o.publish(r.logger, r.events.Promoted(r.variant, metrics))
	r.enter(StatePromoted, nil)
}

func (r *variantRun) recordPromoteStage(ctx context.Context, success bool, start time.Time) {
	if r.o.metrics != nil {
		r.o.metrics.RecordStage(ctx, r.variant, "promoting", success, time.Since(start).Seconds())
	}
}

// fail ends the run for this variant. With restore set, a variant whose
// previous production pair is intact goes back to ready.
func (r *variantRun) fail(ctx context.Context, step string, err error, restore bool) {
	r.logger.Error("Stage failed", "step", step, "error", err)
	r.report.Err = err
	r.report.Error = err.Error()
	if restore {
		r.restoreReady(ctx)
	}
	r.enter(StateFailed, err)
}

// restoreReady marks the variant ready again when production still holds a
// complete model and scaler.
func (r *variantRun) restoreReady(ctx context.Context) {
	ok, err := store.AllExist(ctx, r.o.store, artifact.ProductionModel(r.variant), artifact.ProductionScaler(r.variant))
	if err != nil {
		r.logger.Warn("Could not check production artifacts", "error", err)
		return
	}
	if !ok {
		return
	}
	if err := r.o.tracker.Set(ctx, r.variant, status.Ready); err != nil {
		r.logger.Warn("Could not restore ready status", "error", err)
		return
	}
	r.logger.Info("Previous production model kept, status restored to ready")
}

func (r *variantRun) enter(state State, err error) {
	r.report.State = state
	r.o.runs.transition(r.variant, state)
	r.logger.Debug("State changed", "state", state)
	r.o.publish(r.logger, r.events.Stage(r.variant, string(state), err))
}
