package validation

import "slices"

// Result is the outcome of validating one candidate.
type Result struct {
	Variant    string             `json:"variant"`
	Metrics    Metrics            `json:"metrics"`
	Thresholds map[string]float64 `json:"thresholds"`
	Passed     bool               `json:"passed"`
	// Failed lists the thresholds that were not met, sorted.
	Failed []string `json:"failed,omitempty"`
}

// Gate passes only when every threshold is met: metrics[name] >= threshold.
// A threshold without a matching metric fails. It returns the failing names.
func Gate(metrics Metrics, thresholds map[string]float64) (bool, []string) {
	var failed []string
	for name, threshold := range thresholds {
		v, ok := metrics[name]
		if !ok || v < threshold {
			failed = append(failed, name)
		}
	}
	slices.Sort(failed)
	return len(failed) == 0, failed
}
