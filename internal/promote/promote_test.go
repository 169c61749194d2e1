package promote

import (
	"context"
	"errors"
	"modelops/internal/apperrors"
	"modelops/internal/artifact"
	"modelops/internal/store"
	"testing"
)

// faultyStore fails selected operations and can hide writes from Exists.
type faultyStore struct {
	store.Store
	failCopyTo string
	failDelete bool
	hideKey    string
}

func (f *faultyStore) Copy(ctx context.Context, srcContainer, srcKey, dstContainer, dstKey string) error {
	if dstKey == f.failCopyTo {
		return apperrors.Storage("store.copy", errors.New("connection reset"))
	}
	return f.Store.Copy(ctx, srcContainer, srcKey, dstContainer, dstKey)
}

func (f *faultyStore) Exists(ctx context.Context, container, key string) (bool, error) {
	if key == f.hideKey {
		return false, nil
	}
	return f.Store.Exists(ctx, container, key)
}

func (f *faultyStore) Delete(ctx context.Context, container, key string) error {
	if f.failDelete {
		return apperrors.Storage("store.delete", errors.New("connection reset"))
	}
	return f.Store.Delete(ctx, container, key)
}

func seed(t *testing.T, s store.Store) {
	t.Helper()
	ctx := context.Background()
	if err := store.Put(ctx, s, artifact.CandidateModel("red"), []byte("model-v2")); err != nil {
		t.Fatal(err)
	}
	if err := store.Put(ctx, s, artifact.CleanedScaler("red"), []byte("scaler-v2")); err != nil {
		t.Fatal(err)
	}
}

func mustGet(t *testing.T, s store.Store, loc artifact.Location) string {
	t.Helper()
	data, err := store.Get(context.Background(), s, loc)
	if err != nil {
		t.Fatalf("Get %s: %v", loc, err)
	}
	return string(data)
}

func TestPromote(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := store.NewMemory()
	seed(t, s)

	outcome, err := New(s).Promote(ctx, "red")
	if err != nil {
		t.Fatalf("Promote: %v", err)
	}
	if outcome != Promoted {
		t.Errorf("expected promoted, got %s", outcome)
	}
	if got := mustGet(t, s, artifact.ProductionModel("red")); got != "model-v2" {
		t.Errorf("production model = %q", got)
	}
	if got := mustGet(t, s, artifact.ProductionScaler("red")); got != "scaler-v2" {
		t.Errorf("production scaler = %q", got)
	}
	if ok, _ := store.Exists(ctx, s, artifact.CandidateModel("red")); ok {
		t.Error("expected testing model to be deleted")
	}
	if ok, _ := store.Exists(ctx, s, artifact.CleanedScaler("red")); !ok {
		t.Error("cleaned scaler must be kept")
	}
}

func TestPromote_Idempotent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := store.NewMemory()
	seed(t, s)
	p := New(s)

	if _, err := p.Promote(ctx, "red"); err != nil {
		t.Fatalf("first Promote: %v", err)
	}
	outcome, err := p.Promote(ctx, "red")
	if err != nil {
		t.Fatalf("second Promote: %v", err)
	}
	if outcome != AlreadyPromoted {
		t.Errorf("expected already promoted, got %s", outcome)
	}
	if got := mustGet(t, s, artifact.ProductionModel("red")); got != "model-v2" {
		t.Errorf("production model changed to %q", got)
	}
}

func TestPromote_NothingToPromote(t *testing.T) {
	t.Parallel()
	_, err := New(store.NewMemory()).Promote(context.Background(), "red")
	if !errors.Is(err, apperrors.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func seedProduction(t *testing.T, s store.Store) {
	t.Helper()
	ctx := context.Background()
	if err := store.Put(ctx, s, artifact.ProductionModel("red"), []byte("model-v1")); err != nil {
		t.Fatal(err)
	}
	if err := store.Put(ctx, s, artifact.ProductionScaler("red"), []byte("scaler-v1")); err != nil {
		t.Fatal(err)
	}
}

func TestPromote_FailuresKeepCandidate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		store    func(store.Store) store.Store
		previous bool
		want     error
	}{
		{
			name:     "model copy fails",
			store:    func(s store.Store) store.Store { return &faultyStore{Store: s, failCopyTo: artifact.ProductionModel("red").Key} },
			previous: true,
			want:     apperrors.ErrStorage,
		},
		{
			name:  "model copy fails without previous production",
			store: func(s store.Store) store.Store { return &faultyStore{Store: s, failCopyTo: artifact.ProductionModel("red").Key} },
			want:  apperrors.ErrStorage,
		},
		{
			name:     "scaler copy fails",
			store:    func(s store.Store) store.Store { return &faultyStore{Store: s, failCopyTo: artifact.ProductionScaler("red").Key} },
			previous: true,
			want:     apperrors.ErrStorage,
		},
		{
			name:     "verification fails",
			store:    func(s store.Store) store.Store { return &faultyStore{Store: s, hideKey: artifact.ProductionModel("red").Key} },
			previous: true,
			want:     apperrors.ErrStorage,
		},
		{
			name:  "verification fails without previous production",
			store: func(s store.Store) store.Store { return &faultyStore{Store: s, hideKey: artifact.ProductionModel("red").Key} },
			want:  apperrors.ErrStorage,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			mem := store.NewMemory()
			seed(t, mem)
			if tt.previous {
				seedProduction(t, mem)
			}

			_, err := New(tt.store(mem)).Promote(ctx, "red")
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
			if got := mustGet(t, mem, artifact.CandidateModel("red")); got != "model-v2" {
				t.Errorf("testing model must be intact, got %q", got)
			}

			if tt.previous {
				model := mustGet(t, mem, artifact.ProductionModel("red"))
				scaler := mustGet(t, mem, artifact.ProductionScaler("red"))
				if model != "model-v1" || scaler != "scaler-v1" {
					t.Errorf("production pair must be unchanged, got %q and %q", model, scaler)
				}
				return
			}
			for _, loc := range []artifact.Location{artifact.ProductionModel("red"), artifact.ProductionScaler("red")} {
				if ok, _ := store.Exists(ctx, mem, loc); ok {
					t.Errorf("expected %s to be absent after a failed promotion", loc)
				}
			}
		})
	}
}

func TestPromote_MissingScalerKeepsCandidate(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := store.NewMemory()
	if err := store.Put(ctx, s, artifact.CandidateModel("red"), []byte("model")); err != nil {
		t.Fatal(err)
	}

	_, err := New(s).Promote(ctx, "red")
	if !errors.Is(err, apperrors.ErrNotFound) {
		t.Fatalf("expected not found for missing scaler, got %v", err)
	}
	if ok, _ := store.Exists(ctx, s, artifact.ProductionModel("red")); ok {
		t.Error("production model must not be written without a scaler")
	}
	if ok, _ := store.Exists(ctx, s, artifact.CandidateModel("red")); !ok {
		t.Error("testing model must be intact")
	}
}

func TestPromote_DeleteFailureReportsError(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	mem := store.NewMemory()
	seed(t, mem)

	_, err := New(&faultyStore{Store: mem, failDelete: true}).Promote(ctx, "red")
	if !errors.Is(err, apperrors.ErrStorage) {
		t.Fatalf("expected storage error, got %v", err)
	}
	if ok, _ := store.Exists(ctx, mem, artifact.ProductionModel("red")); !ok {
		t.Error("expected production model to be in place")
	}

	outcome, err := New(mem).Promote(ctx, "red")
	if err != nil || outcome != Promoted {
		t.Errorf("expected retry to promote, got %s %v", outcome, err)
	}
}
