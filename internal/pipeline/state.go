package pipeline

import (
	"modelops/internal/apperrors"
	"sync"
	"time"
)

// State is a variant's position in the lifecycle.
type State string

const (
	StateIdle          State = "idle"
	StatePreprocessing State = "preprocessing"
	StateTraining      State = "training"
	StateValidating    State = "validating"
	StatePromoted      State = "promoted"
	StateRejected      State = "rejected"
	StateFailed        State = "failed"
)

// IsTerminal reports whether no further transition follows s within a run.
func (s State) IsTerminal() bool {
	return s == StatePromoted || s == StateRejected || s == StateFailed
}

// Active describes a variant that is currently being processed.
type Active struct {
	RunID   string    `json:"runId"`
	State   State     `json:"state"`
	Started time.Time `json:"started"`
}

// registry tracks the variants with an active run. A variant is reserved for
// the whole run so two runs never process it at the same time.
type registry struct {
	mu       sync.RWMutex
	variants map[string]*Active
}

func newRegistry() *registry {
	return &registry{
		variants: make(map[string]*Active),
	}
}

// reserve claims every variant for runID, or none of them.
func (r *registry) reserve(runID string, variants []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, v := range variants {
		if active, exists := r.variants[v]; exists {
			return apperrors.Conflict("variant", v, "run "+active.RunID+" is already processing it")
		}
	}
	now := time.Now()
	for _, v := range variants {
		r.variants[v] = &Active{RunID: runID, State: StateIdle, Started: now}
	}
	return nil
}

// transition records the variant's current state.
func (r *registry) transition(variant string, state State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if active, exists := r.variants[variant]; exists {
		active.State = state
	}
}

// release frees the variant for the next run.
func (r *registry) release(variant string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.variants, variant)
}

// get returns a copy of the variant's active run.
func (r *registry) get(variant string) (Active, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	active, exists := r.variants[variant]
	if !exists {
		return Active{}, false
	}
	return *active, true
}

// list returns a copy of every active variant.
func (r *registry) list() map[string]Active {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make(map[string]Active, len(r.variants))
	for v, active := range r.variants {
		result[v] = *active
	}
	return result
}
