package native

import (
	"encoding/json"
	"fmt"
	"math"
	"modelops/internal/compute"
	"slices"

	"gonum.org/v1/gonum/floats"
)

// Model is a nearest-centroid classifier over standardised features.
type Model struct {
	Kind      string      `json:"kind"`
	Variant   string      `json:"variant"`
	Columns   []string    `json:"columns"`
	Classes   []string    `json:"classes"`
	Centroids [][]float64 `json:"centroids"`
}

const modelKind = "nearest-centroid/v1"

// FitModel computes one centroid per class. Classes are sorted so that
// training is deterministic.
func FitModel(ds *compute.Dataset, variant string) (*Model, error) {
	if len(ds.Labels) != len(ds.Features.Rows) {
		return nil, fmt.Errorf("dataset has %d rows but %d labels", len(ds.Features.Rows), len(ds.Labels))
	}
	width := len(ds.Features.Columns)
	sums := map[string][]float64{}
	counts := map[string]float64{}
	for i, row := range ds.Features.Rows {
		lbl := ds.Labels[i]
		if sums[lbl] == nil {
			sums[lbl] = make([]float64, width)
		}
		floats.Add(sums[lbl], row)
		counts[lbl]++
	}

	m := &Model{Kind: modelKind, Variant: variant, Columns: ds.Features.Columns}
	for lbl := range sums {
		m.Classes = append(m.Classes, lbl)
	}
	slices.Sort(m.Classes)
	for _, lbl := range m.Classes {
		c := sums[lbl]
		floats.Scale(1/counts[lbl], c)
		m.Centroids = append(m.Centroids, c)
	}
	return m, nil
}

// Predict assigns each row to the class of the nearest centroid.
// Ties resolve to the first class in sort order.
func (m *Model) Predict(t compute.Table) ([]string, error) {
	ordered, err := t.Reorder(m.Columns)
	if err != nil {
		return nil, err
	}
	out := make([]string, len(ordered.Rows))
	for r, row := range ordered.Rows {
		best, bestDist := 0, math.Inf(1)
		for i, c := range m.Centroids {
			if d := floats.Distance(row, c, 2); d < bestDist {
				best, bestDist = i, d
			}
		}
		out[r] = m.Classes[best]
	}
	return out, nil
}

func decodeModel(data []byte) (*Model, error) {
	var m Model
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode model: %w", err)
	}
	if m.Kind != modelKind {
		return nil, fmt.Errorf("unsupported model kind %q", m.Kind)
	}
	if len(m.Classes) == 0 || len(m.Classes) != len(m.Centroids) {
		return nil, fmt.Errorf("model has %d classes and %d centroids", len(m.Classes), len(m.Centroids))
	}
	for i, c := range m.Centroids {
		if len(c) != len(m.Columns) {
			return nil, fmt.Errorf("centroid %d has %d values for %d columns", i, len(c), len(m.Columns))
		}
	}
	return &m, nil
}
