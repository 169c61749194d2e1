package validation

import (
	"fmt"
	"modelops/internal/apperrors"
)

// Metric names produced by Score and accepted as thresholds.
const (
	MetricAccuracy  = "accuracy"
	MetricPrecision = "precision"
	MetricRecall    = "recall"
	MetricF1        = "f1"
)

// Metrics maps a metric name to its value in [0, 1].
type Metrics map[string]float64

// Score compares predictions against the true labels and returns accuracy
// plus precision, recall and F1 averaged over classes weighted by their
// support in truth. A class with an undefined ratio contributes 0.
func Score(truth, predicted []string) (Metrics, error) {
	if len(truth) != len(predicted) {
		return nil, apperrors.Validation("predictions", fmt.Sprintf("%d predictions for %d labels", len(predicted), len(truth)))
	}
	if len(truth) == 0 {
		return nil, apperrors.Validation("holdout", "holdout dataset has no rows")
	}

	type counts struct{ tp, fp, fn int }
	classes := make(map[string]*counts)
	class := func(label string) *counts {
		c, ok := classes[label]
		if !ok {
			c = &counts{}
			classes[label] = c
		}
		return c
	}

	correct := 0
	for i, want := range truth {
		got := predicted[i]
		if got == want {
			correct++
			class(want).tp++
			continue
		}
		class(want).fn++
		class(got).fp++
	}

	n := float64(len(truth))
	var precision, recall, f1 float64
	for _, c := range classes {
		support := float64(c.tp + c.fn)
		if support == 0 {
			continue
		}
		p := ratio(c.tp, c.tp+c.fp)
		r := ratio(c.tp, c.tp+c.fn)
		var f float64
		if p+r > 0 {
			f = 2 * p * r / (p + r)
		}
		precision += p * support
		recall += r * support
		f1 += f * support
	}

	return Metrics{
		MetricAccuracy:  float64(correct) / n,
		MetricPrecision: precision / n,
		MetricRecall:    recall / n,
		MetricF1:        f1 / n,
	}, nil
}

func ratio(num, den int) float64 {
	if den == 0 {
		return 0
	}
	return float64(num) / float64(den)
}
