package pipeline

import (
	"modelops/internal/promote"
	"modelops/internal/validation"
	"modelops/internal/vcs"
	"time"
)

// VariantReport is the result of one variant within a run.
type VariantReport struct {
	Variant    string             `json:"variant"`
	State      State              `json:"state"`
	Validation *validation.Result `json:"validation,omitempty"`
	Promotion  promote.Outcome    `json:"promotion,omitempty"`
	Duration   time.Duration      `json:"duration"`
	Error      string             `json:"error,omitempty"`
	// Err is the stage error behind a failed state.
	Err error `json:"-"`
}

// RunReport is the result of a run.
type RunReport struct {
	RunID         string          `json:"runId"`
	Variants      []VariantReport `json:"variants"`
	Announced     bool            `json:"announced"`
	Outcome       vcs.Outcome     `json:"outcome,omitempty"`
	AnnounceError string          `json:"announceError,omitempty"`
	Duration      time.Duration   `json:"duration"`
}

// Count returns the number of variants that ended in state.
func (r *RunReport) Count(state State) int {
	n := 0
	for _, v := range r.Variants {
		if v.State == state {
			n++
		}
	}
	return n
}

// Variant returns the report for variant.
func (r *RunReport) Variant(variant string) (VariantReport, bool) {
	for _, v := range r.Variants {
		if v.Variant == variant {
			return v, true
		}
	}
	return VariantReport{}, false
}
