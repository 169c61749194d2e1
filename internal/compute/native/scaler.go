package native

import (
	"encoding/json"
	"fmt"
	"modelops/internal/compute"

	"gonum.org/v1/gonum/stat"
)

// Scaler standardises features to zero mean and unit variance.
type Scaler struct {
	Kind    string    `json:"kind"`
	Columns []string  `json:"columns"`
	Mean    []float64 `json:"mean"`
	Std     []float64 `json:"std"`
}

const scalerKind = "standard-scaler/v1"

// FitScaler computes per-column population mean and standard deviation.
func FitScaler(t compute.Table) *Scaler {
	s := &Scaler{
		Kind:    scalerKind,
		Columns: t.Columns,
		Mean:    make([]float64, len(t.Columns)),
		Std:     make([]float64, len(t.Columns)),
	}
	for i, name := range t.Columns {
		col, _ := t.Column(name)
		s.Mean[i], s.Std[i] = stat.PopMeanStdDev(col, nil)
	}
	return s
}

// Transform scales t, matching columns by name.
// A constant column (zero deviation) is only centred.
func (s *Scaler) Transform(t compute.Table) (compute.Table, error) {
	ordered, err := t.Reorder(s.Columns)
	if err != nil {
		return compute.Table{}, err
	}
	for _, row := range ordered.Rows {
		for i := range row {
			row[i] -= s.Mean[i]
			if s.Std[i] > 0 {
				row[i] /= s.Std[i]
			}
		}
	}
	return ordered, nil
}

func decodeScaler(data []byte) (*Scaler, error) {
	var s Scaler
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decode scaler: %w", err)
	}
	if s.Kind != scalerKind {
		return nil, fmt.Errorf("unsupported scaler kind %q", s.Kind)
	}
	if len(s.Mean) != len(s.Columns) || len(s.Std) != len(s.Columns) {
		return nil, fmt.Errorf("scaler has %d columns but %d means and %d deviations", len(s.Columns), len(s.Mean), len(s.Std))
	}
	return &s, nil
}
