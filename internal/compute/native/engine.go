// Package native is an in-process compute engine: standardisation followed by
// a nearest-centroid classifier, with JSON artifacts.
package native

import (
	"context"
	"encoding/json"
	"log/slog"
	"modelops/internal/apperrors"
	"modelops/internal/compute"
)

// Engine implements compute.Engine without external processes.
type Engine struct{}

// New creates a native engine.
func New() *Engine {
	return &Engine{}
}

// Preprocess drops incomplete rows, fits a scaler on the features and writes
// the cleaned dataset with standardised features and the original labels.
func (e *Engine) Preprocess(ctx context.Context, raw []byte, variant string) (compute.Preprocessed, error) {
	if err := ctx.Err(); err != nil {
		return compute.Preprocessed{}, err
	}
	ds, err := compute.ParseCSV(raw, compute.LabelColumn)
	if err != nil {
		return compute.Preprocessed{}, err
	}

	scaler := FitScaler(ds.Features)
	scaled, err := scaler.Transform(ds.Features)
	if err != nil {
		return compute.Preprocessed{}, apperrors.Internal("native.preprocess", err)
	}

	cleaned, err := (&compute.Dataset{Features: scaled, Labels: ds.Labels}).MarshalCSV(compute.LabelColumn)
	if err != nil {
		return compute.Preprocessed{}, apperrors.Internal("native.preprocess", err)
	}
	scalerBytes, err := json.Marshal(scaler)
	if err != nil {
		return compute.Preprocessed{}, apperrors.Internal("native.preprocess", err)
	}

	slog.Debug("Preprocessed dataset", "variant", variant, "rows", len(scaled.Rows), "features", len(scaled.Columns))
	return compute.Preprocessed{Cleaned: cleaned, Scaler: scalerBytes}, nil
}

// Train fits a nearest-centroid model on an already standardised dataset.
func (e *Engine) Train(ctx context.Context, cleaned []byte, variant string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ds, err := compute.ParseCSV(cleaned, compute.LabelColumn)
	if err != nil {
		return nil, err
	}
	model, err := FitModel(ds, variant)
	if err != nil {
		return nil, apperrors.Internal("native.train", err)
	}
	slog.Debug("Trained model", "variant", variant, "classes", len(model.Classes))
	return json.Marshal(model)
}

// Predict scales features with the scaler and classifies them.
func (e *Engine) Predict(ctx context.Context, model, scaler []byte, features compute.Table) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s, err := decodeScaler(scaler)
	if err != nil {
		return nil, apperrors.Internal("native.predict", err)
	}
	m, err := decodeModel(model)
	if err != nil {
		return nil, apperrors.Internal("native.predict", err)
	}

	scaled, err := s.Transform(features)
	if err != nil {
		return nil, err
	}
	return m.Predict(scaled)
}

var _ compute.Engine = (*Engine)(nil)
