// Package promote moves a validated candidate into production.
package promote

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"modelops/internal/apperrors"
	"modelops/internal/artifact"
	"modelops/internal/store"
)

// Outcome of a promotion.
type Outcome string

const (
	Promoted Outcome = "promoted"
	// AlreadyPromoted means the candidate was gone and production already
	// held a model, so nothing was done.
	AlreadyPromoted Outcome = "already_promoted"
)

// Promoter copies candidate artifacts to production.
type Promoter struct {
	store store.Store
}

// New creates a promoter over s.
func New(s store.Store) *Promoter {
	return &Promoter{store: s}
}

// Promote copies the cleaned scaler and the testing model to production,
// verifies the production model exists, and only then deletes the testing
// model. Any failure before the delete leaves the testing model in place and
// restores the production model and scaler to their previous content.
//
// Promote is idempotent: with no testing model and an existing production
// model it succeeds without changes.
func (p *Promoter) Promote(ctx context.Context, variant string) (Outcome, error) {
	logger := slog.With("component", "promoter", "variant", variant)
	candidate := artifact.CandidateModel(variant)
	production := artifact.ProductionModel(variant)

	ok, err := store.Exists(ctx, p.store, candidate)
	if err != nil {
		return "", err
	}
	if !ok {
		done, err := store.Exists(ctx, p.store, production)
		if err != nil {
			return "", err
		}
		if done {
			logger.Info("Candidate already promoted")
			return AlreadyPromoted, nil
		}
		return "", apperrors.NotFound("artifact", candidate.String())
	}

	prev, err := p.snapshot(ctx, production, artifact.ProductionScaler(variant))
	if err != nil {
		return "", err
	}
	if err := p.install(ctx, variant); err != nil {
		if restoreErr := p.restore(context.WithoutCancel(ctx), prev); restoreErr != nil {
			logger.Error("Failed to restore production artifacts", "error", restoreErr)
			return "", errors.Join(err, restoreErr)
		}
		return "", err
	}

	if err := store.Delete(ctx, p.store, candidate); err != nil {
		// Production is complete; a leftover candidate is promoted again next run.
		return "", fmt.Errorf("delete candidate: %w", err)
	}

	logger.Info("Candidate promoted", "model", production.String(), "scaler", artifact.ProductionScaler(variant).String())
	return Promoted, nil
}

// install copies the scaler and the model into production and verifies the model.
func (p *Promoter) install(ctx context.Context, variant string) error {
	production := artifact.ProductionModel(variant)
	if err := store.Copy(ctx, p.store, artifact.CleanedScaler(variant), artifact.ProductionScaler(variant)); err != nil {
		return fmt.Errorf("copy scaler: %w", err)
	}
	if err := store.Copy(ctx, p.store, artifact.CandidateModel(variant), production); err != nil {
		return fmt.Errorf("copy model: %w", err)
	}

	ok, err := store.Exists(ctx, p.store, production)
	if err != nil {
		return fmt.Errorf("verify %s: %w", production, err)
	}
	if !ok {
		return apperrors.Storage("promote.verify", fmt.Errorf("%s missing after copy", production))
	}
	return nil
}

// saved is the content of a production artifact before promotion.
type saved struct {
	loc    artifact.Location
	data   []byte
	exists bool
}

func (p *Promoter) snapshot(ctx context.Context, locs ...artifact.Location) ([]saved, error) {
	prev := make([]saved, 0, len(locs))
	for _, loc := range locs {
		data, err := store.Get(ctx, p.store, loc)
		switch {
		case err == nil:
			prev = append(prev, saved{loc: loc, data: data, exists: true})
		case store.IsNotFound(err):
			prev = append(prev, saved{loc: loc})
		default:
			return nil, fmt.Errorf("snapshot %s: %w", loc, err)
		}
	}
	return prev, nil
}

// restore puts saved artifacts back, removing the ones that did not exist.
func (p *Promoter) restore(ctx context.Context, prev []saved) error {
	var errs []error
	for _, s := range prev {
		var err error
		if s.exists {
			err = store.Put(ctx, p.store, s.loc, s.data)
		} else {
			err = store.Delete(ctx, p.store, s.loc)
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("restore %s: %w", s.loc, err))
		}
	}
	return errors.Join(errs...)
}
