// Package validation scores a candidate model on the holdout dataset and
// gates its promotion on metric thresholds.
package validation

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"modelops/internal/apperrors"
	"modelops/internal/artifact"
	"modelops/internal/compute"
	"modelops/internal/store"
)

// Validator evaluates candidates. It never writes to the store.
type Validator struct {
	store      store.Store
	engine     compute.Engine
	thresholds map[string]float64
}

// New creates a validator gating on thresholds.
func New(s store.Store, engine compute.Engine, thresholds map[string]float64) *Validator {
	return &Validator{store: s, engine: engine, thresholds: maps.Clone(thresholds)}
}

// Validate loads the variant's candidate model, its scaler and the holdout
// set, predicts and gates the result. A missing input is a NotFound error
// and leaves the candidate untouched.
func (v *Validator) Validate(ctx context.Context, variant string) (Result, error) {
	logger := slog.With("component", "validator", "variant", variant)

	model, err := v.load(ctx, artifact.CandidateModel(variant))
	if err != nil {
		return Result{}, err
	}
	scaler, err := v.load(ctx, artifact.CleanedScaler(variant))
	if err != nil {
		return Result{}, err
	}
	holdoutData, err := v.load(ctx, artifact.Holdout(variant))
	if err != nil {
		return Result{}, err
	}

	holdout, err := compute.ParseCSV(holdoutData, compute.LabelColumn)
	if err != nil {
		return Result{}, fmt.Errorf("holdout %s: %w", artifact.Holdout(variant), err)
	}
	predicted, err := v.engine.Predict(ctx, model, scaler, holdout.Features)
	if err != nil {
		return Result{}, fmt.Errorf("predict holdout: %w", err)
	}
	metrics, err := Score(holdout.Labels, predicted)
	if err != nil {
		return Result{}, err
	}

	passed, failed := Gate(metrics, v.thresholds)
	result := Result{
		Variant:    variant,
		Metrics:    metrics,
		Thresholds: maps.Clone(v.thresholds),
		Passed:     passed,
		Failed:     failed,
	}
	logger.Info("Candidate validated",
		"passed", passed,
		"accuracy", metrics[MetricAccuracy],
		"precision", metrics[MetricPrecision],
		"recall", metrics[MetricRecall],
		"f1", metrics[MetricF1],
		"failed", failed)
	return result, nil
}

func (v *Validator) load(ctx context.Context, loc artifact.Location) ([]byte, error) {
	data, err := store.Get(ctx, v.store, loc)
	if err != nil {
		if store.IsNotFound(err) {
			return nil, apperrors.NotFound("artifact", loc.String())
		}
		return nil, err
	}
	return data, nil
}
