package native

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"modelops/internal/apperrors"
	"modelops/internal/compute"
	"modelops/internal/testutil"
	"testing"
)

func TestFitScaler(t *testing.T) {
	t.Parallel()
	tbl := compute.Table{
		Columns: []string{"a", "b"},
		Rows:    [][]float64{{1, 5}, {3, 5}},
	}
	s := FitScaler(tbl)

	if s.Mean[0] != 2 || s.Std[0] != 1 {
		t.Errorf("column a: mean=%v std=%v, want 2 and 1", s.Mean[0], s.Std[0])
	}
	if s.Mean[1] != 5 || s.Std[1] != 0 {
		t.Errorf("column b: mean=%v std=%v, want 5 and 0", s.Mean[1], s.Std[1])
	}

	scaled, err := s.Transform(tbl)
	if err != nil {
		t.Fatalf("Transform: %v", err)
	}
	if scaled.Rows[0][0] != -1 || scaled.Rows[1][0] != 1 {
		t.Errorf("unexpected scaled column a: %v", scaled.Rows)
	}
	if scaled.Rows[0][1] != 0 {
		t.Errorf("expected constant column to centre to 0, got %v", scaled.Rows[0][1])
	}
	if tbl.Rows[0][0] != 1 {
		t.Error("Transform must not modify its input")
	}
}

func TestEngine_Lifecycle(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e := New()

	out, err := e.Preprocess(ctx, testutil.WineCSV(60, ";", true), "red")
	if err != nil {
		t.Fatalf("Preprocess: %v", err)
	}

	cleaned, err := compute.ParseCSV(out.Cleaned, compute.LabelColumn)
	if err != nil {
		t.Fatalf("cleaned dataset is unreadable: %v", err)
	}
	alcohol, _ := cleaned.Features.Column("alcohol")
	var sum float64
	for _, v := range alcohol {
		sum += v
	}
	if math.Abs(sum/float64(len(alcohol))) > 1e-9 {
		t.Errorf("expected standardised alcohol to have zero mean, got %v", sum/float64(len(alcohol)))
	}

	model, err := e.Train(ctx, out.Cleaned, "red")
	if err != nil {
		t.Fatalf("Train: %v", err)
	}
	var m Model
	if err := json.Unmarshal(model, &m); err != nil {
		t.Fatalf("model is not JSON: %v", err)
	}
	if m.Variant != "red" || len(m.Classes) != 3 {
		t.Errorf("unexpected model %+v", m)
	}

	holdout, err := compute.ParseCSV(testutil.WineCSV(30, ";", true), compute.LabelColumn)
	if err != nil {
		t.Fatalf("ParseCSV holdout: %v", err)
	}
	got, err := e.Predict(ctx, model, out.Scaler, holdout.Features)
	if err != nil {
		t.Fatalf("Predict: %v", err)
	}
	for i := range got {
		if got[i] != holdout.Labels[i] {
			t.Fatalf("row %d: predicted %s, want %s", i, got[i], holdout.Labels[i])
		}
	}
}

func TestEngine_PredictMatchesColumnsByName(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e := New()
	out, err := e.Preprocess(ctx, testutil.WineCSV(30, ",", true), "white")
	if err != nil {
		t.Fatalf("Preprocess: %v", err)
	}
	model, err := e.Train(ctx, out.Cleaned, "white")
	if err != nil {
		t.Fatalf("Train: %v", err)
	}

	// A class-7 sample with columns in a different order.
	features := compute.Table{
		Columns: []string{"alcohol", "volatile acidity", "fixed acidity"},
		Rows:    [][]float64{{12.0, 0.3, 9.4}},
	}
	got, err := e.Predict(ctx, model, out.Scaler, features)
	if err != nil {
		t.Fatalf("Predict: %v", err)
	}
	if len(got) != 1 || got[0] != "7" {
		t.Errorf("expected class 7, got %v", got)
	}

	_, err = e.Predict(ctx, model, out.Scaler, compute.Table{Columns: []string{"alcohol"}, Rows: [][]float64{{12}}})
	if !errors.Is(err, apperrors.ErrValidation) {
		t.Errorf("expected validation error for missing features, got %v", err)
	}
}

func TestEngine_PredictRejectsForeignArtifacts(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e := New()
	out, err := e.Preprocess(ctx, testutil.WineCSV(30, ",", true), "red")
	if err != nil {
		t.Fatalf("Preprocess: %v", err)
	}
	model, err := e.Train(ctx, out.Cleaned, "red")
	if err != nil {
		t.Fatalf("Train: %v", err)
	}
	features := compute.Table{Columns: testutil.WineColumns, Rows: [][]float64{{7, 0.7, 9}}}

	for name, args := range map[string][2][]byte{
		"pickle model":  {[]byte("\x80\x04pickle"), out.Scaler},
		"pickle scaler": {model, []byte("\x80\x04pickle")},
		"swapped":       {out.Scaler, model},
	} {
		if _, err := e.Predict(ctx, args[0], args[1], features); !errors.Is(err, apperrors.ErrInternal) {
			t.Errorf("%s: expected internal error, got %v", name, err)
		}
	}
}

func TestEngine_PreprocessRejectsBadInput(t *testing.T) {
	t.Parallel()
	_, err := New().Preprocess(context.Background(), []byte("a;b\n1;2\n"), "red")
	if !errors.Is(err, apperrors.ErrValidation) {
		t.Fatalf("expected validation error without quality column, got %v", err)
	}
}
