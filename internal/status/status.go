// Package status tracks whether a variant's production artifacts are ready.
package status

import (
	"context"
	"encoding/json"
	"fmt"
	"modelops/internal/apperrors"
	"modelops/internal/artifact"
	"modelops/internal/store"
)

// Status of a variant.
type Status string

const (
	Training Status = "training"
	Ready    Status = "ready"
)

// Record is the persisted status document.
type Record struct {
	Status  Status `json:"status"`
	Variant string `json:"wine_type"`
}

// Tracker reads and writes status records in the store.
type Tracker struct {
	store store.Store
}

// NewTracker creates a tracker over s.
func NewTracker(s store.Store) *Tracker {
	return &Tracker{store: s}
}

// Set overwrites the variant's status record.
func (t *Tracker) Set(ctx context.Context, variant string, st Status) error {
	if st != Training && st != Ready {
		return apperrors.Validation("status", fmt.Sprintf("unknown status %q", st))
	}
	data, err := json.Marshal(Record{Status: st, Variant: variant})
	if err != nil {
		return apperrors.Internal("status.set", err)
	}
	return store.Put(ctx, t.store, artifact.Status(variant), data)
}

// Get returns the variant's status. An absent record reads as Training.
func (t *Tracker) Get(ctx context.Context, variant string) (Status, error) {
	data, err := store.Get(ctx, t.store, artifact.Status(variant))
	if err != nil {
		if store.IsNotFound(err) {
			return Training, nil
		}
		return "", err
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return "", apperrors.Internal("status.get", fmt.Errorf("decode %s: %w", artifact.Status(variant), err))
	}
	switch rec.Status {
	case Training, Ready:
		return rec.Status, nil
	default:
		return "", apperrors.Internal("status.get", fmt.Errorf("unknown status %q for %s", rec.Status, variant))
	}
}

// All returns the status of every listed variant.
func (t *Tracker) All(ctx context.Context, variants []string) (map[string]Status, error) {
	out := make(map[string]Status, len(variants))
	for _, v := range variants {
		st, err := t.Get(ctx, v)
		if err != nil {
			return nil, err
		}
		out[v] = st
	}
	return out, nil
}
