package validation

import (
	"context"
	"errors"
	"math"
	"modelops/internal/apperrors"
	"modelops/internal/artifact"
	"modelops/internal/compute/native"
	"modelops/internal/store"
	"modelops/internal/testutil"
	"slices"
	"testing"
)

var defaultThresholds = map[string]float64{
	MetricAccuracy:  0.70,
	MetricPrecision: 0.65,
	MetricRecall:    0.65,
	MetricF1:        0.65,
}

func TestGate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		metrics Metrics
		want    bool
		failed  []string
	}{
		{
			name:    "all above",
			metrics: Metrics{MetricAccuracy: 0.72, MetricPrecision: 0.66, MetricRecall: 0.80, MetricF1: 0.70},
			want:    true,
		},
		{
			name:    "precision below",
			metrics: Metrics{MetricAccuracy: 0.72, MetricPrecision: 0.60, MetricRecall: 0.80, MetricF1: 0.70},
			want:    false,
			failed:  []string{MetricPrecision},
		},
		{
			name:    "equal to threshold passes",
			metrics: Metrics{MetricAccuracy: 0.70, MetricPrecision: 0.65, MetricRecall: 0.65, MetricF1: 0.65},
			want:    true,
		},
		{
			name:    "missing metric fails",
			metrics: Metrics{MetricAccuracy: 0.9, MetricPrecision: 0.9, MetricRecall: 0.9},
			want:    false,
			failed:  []string{MetricF1},
		},
		{
			name:    "several below",
			metrics: Metrics{MetricAccuracy: 0.1, MetricPrecision: 0.1, MetricRecall: 0.9, MetricF1: 0.1},
			want:    false,
			failed:  []string{MetricAccuracy, MetricF1, MetricPrecision},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, failed := Gate(tt.metrics, defaultThresholds)
			if got != tt.want {
				t.Errorf("Gate() = %v, want %v", got, tt.want)
			}
			if !slices.Equal(failed, tt.failed) {
				t.Errorf("failed = %v, want %v", failed, tt.failed)
			}
		})
	}
}

func TestGate_NoThresholdsPasses(t *testing.T) {
	t.Parallel()
	if ok, _ := Gate(Metrics{}, nil); !ok {
		t.Error("expected an empty gate to pass")
	}
}

func TestScore(t *testing.T) {
	t.Parallel()
	truth := []string{"a", "a", "a", "b"}
	predicted := []string{"a", "a", "b", "b"}

	m, err := Score(truth, predicted)
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	// a: p=1 r=2/3 f1=0.8 support 3; b: p=0.5 r=1 f1=2/3 support 1
	want := Metrics{
		MetricAccuracy:  0.75,
		MetricPrecision: (1*3 + 0.5*1) / 4.0,
		MetricRecall:    (2.0/3*3 + 1*1) / 4.0,
		MetricF1:        (0.8*3 + 2.0/3*1) / 4.0,
	}
	for name, w := range want {
		if math.Abs(m[name]-w) > 1e-9 {
			t.Errorf("%s = %v, want %v", name, m[name], w)
		}
	}
}

func TestScore_UnseenPredictedClassHasNoWeight(t *testing.T) {
	t.Parallel()
	m, err := Score([]string{"a", "a"}, []string{"a", "z"})
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	if m[MetricPrecision] != 1 || m[MetricRecall] != 0.5 {
		t.Errorf("unexpected metrics %v", m)
	}
}

func TestScore_Errors(t *testing.T) {
	t.Parallel()
	if _, err := Score([]string{"a"}, nil); !errors.Is(err, apperrors.ErrValidation) {
		t.Errorf("expected validation error on length mismatch, got %v", err)
	}
	if _, err := Score(nil, nil); !errors.Is(err, apperrors.ErrValidation) {
		t.Errorf("expected validation error on empty holdout, got %v", err)
	}
}

// seedCandidate trains a candidate for variant and writes a holdout set.
func seedCandidate(t *testing.T, s store.Store, variant string, learnable bool) {
	t.Helper()
	ctx := context.Background()
	engine := native.New()

	out, err := engine.Preprocess(ctx, testutil.WineCSV(60, ";", learnable), variant)
	if err != nil {
		t.Fatalf("Preprocess: %v", err)
	}
	model, err := engine.Train(ctx, out.Cleaned, variant)
	if err != nil {
		t.Fatalf("Train: %v", err)
	}
	for loc, data := range map[artifact.Location][]byte{
		artifact.CleanedScaler(variant):  out.Scaler,
		artifact.CandidateModel(variant): model,
		artifact.Holdout(variant):        testutil.WineCSV(30, ";", learnable),
	} {
		if err := store.Put(ctx, s, loc, data); err != nil {
			t.Fatalf("Put %s: %v", loc, err)
		}
	}
}

func TestValidator_PassesLearnableCandidate(t *testing.T) {
	t.Parallel()
	s := store.NewMemory()
	seedCandidate(t, s, "red", true)

	result, err := New(s, native.New(), defaultThresholds).Validate(context.Background(), "red")
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if !result.Passed || result.Metrics[MetricAccuracy] != 1 {
		t.Errorf("expected a perfect passing result, got %+v", result)
	}
	if result.Variant != "red" || len(result.Thresholds) != 4 {
		t.Errorf("unexpected result %+v", result)
	}
}

func TestValidator_RejectsNoiseCandidate(t *testing.T) {
	t.Parallel()
	s := store.NewMemory()
	seedCandidate(t, s, "white", false)

	result, err := New(s, native.New(), defaultThresholds).Validate(context.Background(), "white")
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if result.Passed {
		t.Errorf("expected candidate trained on noise to fail, got %+v", result.Metrics)
	}
}

func TestValidator_MissingInputs(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	for _, missing := range []artifact.Location{
		artifact.CandidateModel("red"),
		artifact.CleanedScaler("red"),
		artifact.Holdout("red"),
	} {
		t.Run(missing.String(), func(t *testing.T) {
			t.Parallel()
			s := store.NewMemory()
			seedCandidate(t, s, "red", true)
			if err := store.Delete(ctx, s, missing); err != nil {
				t.Fatalf("Delete: %v", err)
			}

			_, err := New(s, native.New(), defaultThresholds).Validate(ctx, "red")
			if !errors.Is(err, apperrors.ErrNotFound) {
				t.Fatalf("expected not found, got %v", err)
			}
			if missing != artifact.CandidateModel("red") {
				ok, _ := store.Exists(ctx, s, artifact.CandidateModel("red"))
				if !ok {
					t.Error("candidate must be left in place")
				}
			}
		})
	}
}
