package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"modelops/internal/apperrors"
	"modelops/internal/artifact"
	"modelops/internal/compute/native"
	"modelops/internal/config"
	"modelops/internal/status"
	"modelops/internal/store"
	"modelops/internal/testutil"
	"modelops/internal/vcs"
	"modelops/pkg/cloudevent"
	"net/http"
	"net/http/httptest"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/time/rate"
)

var testThresholds = map[string]float64{
	"accuracy":  0.70,
	"precision": 0.65,
	"recall":    0.65,
	"f1":        0.65,
}

type fakeAnnouncer struct {
	calls   atomic.Int32
	outcome vcs.Outcome
	err     error
}

func (f *fakeAnnouncer) Announce(context.Context) (vcs.Outcome, error) {
	f.calls.Add(1)
	return f.outcome, f.err
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []*cloudevent.CloudEvent
}

func (p *recordingPublisher) Publish(event *cloudevent.CloudEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

// stages returns the states reported for variant, in order.
func (p *recordingPublisher) stages(variant string) []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []string
	for _, e := range p.events {
		if e.Subject == variant && e.Type == "modelops.variant.stage" {
			out = append(out, e.Data["state"].(string))
		}
	}
	return out
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.events))
	for i, e := range p.events {
		out[i] = e.Type
	}
	return out
}

func testConfig(policy string, variants ...string) Config {
	return Config{
		Variants:    variants,
		Policy:      policy,
		Thresholds:  testThresholds,
		MaxAttempts: 3,
	}
}

// seedVariant uploads a raw dataset and a holdout set for variant.
func seedVariant(t *testing.T, s store.Store, variant string, learnable bool) {
	t.Helper()
	ctx := context.Background()
	if err := store.Put(ctx, s, artifact.RawDataset(variant), testutil.WineCSV(60, ";", learnable)); err != nil {
		t.Fatalf("Put raw: %v", err)
	}
	if err := store.Put(ctx, s, artifact.Holdout(variant), testutil.WineCSV(30, ";", learnable)); err != nil {
		t.Fatalf("Put holdout: %v", err)
	}
}

func seedProduction(t *testing.T, s store.Store, variant string) {
	t.Helper()
	ctx := context.Background()
	for _, loc := range []artifact.Location{artifact.ProductionModel(variant), artifact.ProductionScaler(variant)} {
		if err := store.Put(ctx, s, loc, []byte("previous")); err != nil {
			t.Fatalf("Put %s: %v", loc, err)
		}
	}
}

func mustExist(t *testing.T, s store.Store, loc artifact.Location, want bool) {
	t.Helper()
	ok, err := store.Exists(context.Background(), s, loc)
	if err != nil {
		t.Fatalf("Exists %s: %v", loc, err)
	}
	if ok != want {
		t.Errorf("Exists(%s) = %v, want %v", loc, ok, want)
	}
}

func mustStatus(t *testing.T, s store.Store, variant string, want status.Status) {
	t.Helper()
	got, err := status.NewTracker(s).Get(context.Background(), variant)
	if err != nil {
		t.Fatalf("status %s: %v", variant, err)
	}
	if got != want {
		t.Errorf("status(%s) = %s, want %s", variant, got, want)
	}
}

func TestRun_EndToEndRed(t *testing.T) {
	t.Parallel()
	var merges atomic.Int32
	gh := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/repos/acme/wine/merges" {
			http.NotFound(w, r)
			return
		}
		merges.Add(1)
		w.WriteHeader(http.StatusCreated)
	}))
	defer gh.Close()

	s := store.NewMemory()
	seedVariant(t, s, "red", true)
	events := &recordingPublisher{}
	o := New(testConfig(config.PolicyAll, "red"), Deps{
		Store:     s,
		Engine:    native.New(),
		Announcer: vcs.New(vcs.Config{APIURL: gh.URL, Repo: "acme/wine", Token: "t", RateLimit: rate.Inf}, nil),
		Events:    events,
	})

	report, err := o.Run(context.Background(), nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	red, ok := report.Variant("red")
	if !ok || red.State != StatePromoted {
		t.Fatalf("expected red promoted, got %+v", red)
	}
	if red.Validation == nil || !red.Validation.Passed {
		t.Errorf("expected a passing validation, got %+v", red.Validation)
	}

	data, err := store.Get(context.Background(), s, artifact.Status("red"))
	if err != nil {
		t.Fatalf("status record: %v", err)
	}
	var rec map[string]string
	if err := json.Unmarshal(data, &rec); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if rec["status"] != "ready" || rec["wine_type"] != "red" || len(rec) != 2 {
		t.Errorf("unexpected status record %s", data)
	}

	mustExist(t, s, artifact.CleanedDataset("red"), true)
	mustExist(t, s, artifact.CleanedScaler("red"), true)
	mustExist(t, s, artifact.CandidateModel("red"), false)
	mustExist(t, s, artifact.ProductionModel("red"), true)
	mustExist(t, s, artifact.ProductionScaler("red"), true)

	if !report.Announced || report.Outcome != vcs.Merged || merges.Load() != 1 {
		t.Errorf("expected one merged announcement, got %+v with %d merges", report, merges.Load())
	}

	wantStages := []string{"preprocessing", "training", "validating", "promoted"}
	if got := events.stages("red"); !slices.Equal(got, wantStages) {
		t.Errorf("stages = %v, want %v", got, wantStages)
	}
	types := events.types()
	if !slices.Contains(types, "modelops.variant.promoted") || types[len(types)-1] != "modelops.promotion.announced" {
		t.Errorf("unexpected event types %v", types)
	}
	if len(o.Active()) != 0 {
		t.Errorf("expected no active variants after the run, got %v", o.Active())
	}
}

func TestRun_RejectedCandidateStaysInTesting(t *testing.T) {
	t.Parallel()
	s := store.NewMemory()
	seedVariant(t, s, "white", false)
	announcer := &fakeAnnouncer{outcome: vcs.Merged}
	o := New(testConfig(config.PolicyAll, "white"), Deps{Store: s, Engine: native.New(), Announcer: announcer})

	report, err := o.Run(context.Background(), []string{"white"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	white, _ := report.Variant("white")
	if white.State != StateRejected || white.Validation == nil || len(white.Validation.Failed) == 0 {
		t.Errorf("expected white rejected, got %+v", white)
	}
	mustExist(t, s, artifact.CandidateModel("white"), true)
	mustExist(t, s, artifact.ProductionModel("white"), false)
	mustStatus(t, s, "white", status.Training)
	if report.Announced || announcer.calls.Load() != 0 {
		t.Error("expected no announcement when the policy never holds")
	}
}

func TestRun_RejectedCandidateKeepsPreviousProduction(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := store.NewMemory()
	seedVariant(t, s, "white", false)
	seedProduction(t, s, "white")
	announcer := &fakeAnnouncer{outcome: vcs.NoOp}
	o := New(testConfig(config.PolicyAll, "white"), Deps{Store: s, Engine: native.New(), Announcer: announcer})

	report, err := o.Run(ctx, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if white, _ := report.Variant("white"); white.State != StateRejected {
		t.Errorf("expected rejected, got %s", white.State)
	}
	model, _ := store.Get(ctx, s, artifact.ProductionModel("white"))
	if string(model) != "previous" {
		t.Error("production model must not change on rejection")
	}
	mustStatus(t, s, "white", status.Ready)
	if !report.Announced || announcer.calls.Load() != 1 {
		t.Error("expected the announcement once the previous pair is ready")
	}
}

func TestRun_StageFailureIsIsolated(t *testing.T) {
	t.Parallel()
	s := store.NewMemory()
	seedVariant(t, s, "red", true)
	// white has no raw dataset
	announcer := &fakeAnnouncer{outcome: vcs.Merged}
	o := New(testConfig(config.PolicyAll, "red", "white"), Deps{Store: s, Engine: native.New(), Announcer: announcer})

	report, err := o.Run(context.Background(), nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	red, _ := report.Variant("red")
	white, _ := report.Variant("white")
	if red.State != StatePromoted {
		t.Errorf("expected red promoted, got %+v", red)
	}
	if white.State != StateFailed || !errors.Is(white.Err, apperrors.ErrNotFound) || white.Error == "" {
		t.Errorf("expected white failed with not found, got %+v", white)
	}
	mustStatus(t, s, "white", status.Training)
	if report.Announced {
		t.Error("policy all must not hold with white training")
	}
	if report.Count(StatePromoted) != 1 || report.Count(StateFailed) != 1 {
		t.Errorf("unexpected counts in %+v", report)
	}
}

func TestRun_PolicyAny(t *testing.T) {
	t.Parallel()
	s := store.NewMemory()
	seedVariant(t, s, "red", true)
	seedVariant(t, s, "white", false)
	announcer := &fakeAnnouncer{outcome: vcs.PRCreated}
	o := New(testConfig(config.PolicyAny, "red", "white"), Deps{Store: s, Engine: native.New(), Announcer: announcer})

	report, err := o.Run(context.Background(), nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !report.Announced || report.Outcome != vcs.PRCreated || announcer.calls.Load() != 1 {
		t.Errorf("expected one announcement under policy any, got %+v", report)
	}
}

func TestRun_AnnouncementFailureIsReported(t *testing.T) {
	t.Parallel()
	s := store.NewMemory()
	seedVariant(t, s, "red", true)
	announcer := &fakeAnnouncer{outcome: vcs.Failed, err: errors.New("merge returned HTTP 404")}
	o := New(testConfig(config.PolicyAll, "red"), Deps{Store: s, Engine: native.New(), Announcer: announcer})

	report, err := o.Run(context.Background(), nil)
	if err != nil {
		t.Fatalf("Run must not fail on a merge error: %v", err)
	}
	if report.Outcome != vcs.Failed || report.AnnounceError == "" {
		t.Errorf("expected a failed outcome with its error, got %+v", report)
	}
	mustStatus(t, s, "red", status.Ready)
}

func TestRun_WithoutAnnouncer(t *testing.T) {
	t.Parallel()
	s := store.NewMemory()
	seedVariant(t, s, "red", true)
	o := New(testConfig(config.PolicyAll, "red"), Deps{Store: s, Engine: native.New()})

	report, err := o.Run(context.Background(), nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.Announced {
		t.Error("expected no announcement without an announcer")
	}
}

func TestRun_Errors(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		cfg      Config
		variants []string
		want     error
	}{
		{"unknown policy", testConfig("most", "red"), nil, apperrors.ErrConfiguration},
		{"no variants", testConfig(config.PolicyAll), nil, apperrors.ErrConfiguration},
		{"invalid variant", testConfig(config.PolicyAll, "Red Wine"), nil, apperrors.ErrConfiguration},
		{"zero attempts", Config{Variants: []string{"red"}, Policy: config.PolicyAll}, nil, apperrors.ErrConfiguration},
		{"unknown variant", testConfig(config.PolicyAll, "red"), []string{"rose"}, apperrors.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s := store.NewMemory()
			o := New(tt.cfg, Deps{Store: s, Engine: native.New()})
			_, err := o.Run(context.Background(), tt.variants)
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
			keys, _ := s.List(context.Background(), artifact.ContainerModels)
			if len(keys) != 0 {
				t.Errorf("expected nothing written, got %v", keys)
			}
		})
	}
}

func TestRun_ConflictWithActiveRun(t *testing.T) {
	t.Parallel()
	o := New(testConfig(config.PolicyAll, "red", "white"), Deps{Store: store.NewMemory(), Engine: native.New()})
	if err := o.runs.reserve("other-run", []string{"red"}); err != nil {
		t.Fatalf("reserve: %v", err)
	}

	_, err := o.Run(context.Background(), []string{"white", "red"})
	if !errors.Is(err, apperrors.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if _, busy := o.ActiveVariant("white"); busy {
		t.Error("white must not be reserved by a rejected run")
	}
}

func TestStart_RunsInBackground(t *testing.T) {
	t.Parallel()
	s := store.NewMemory()
	seedVariant(t, s, "red", true)
	o := New(testConfig(config.PolicyAll, "red"), Deps{Store: s, Engine: native.New()})

	runID, err := o.Start(context.Background(), []string{"red"})
	if err != nil || runID == "" {
		t.Fatalf("Start: %q %v", runID, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := o.Wait(ctx); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	mustStatus(t, s, "red", status.Ready)
}

func TestRun_CancelledAwait(t *testing.T) {
	t.Parallel()
	s := store.NewMemory()
	seedVariant(t, s, "red", true)
	seedVariant(t, s, "white", false)
	cfg := testConfig(config.PolicyAll, "red", "white")
	cfg.MaxAttempts = 100
	cfg.Delay = time.Hour
	events := &recordingPublisher{}
	o := New(cfg, Deps{Store: s, Engine: native.New(), Announcer: &fakeAnnouncer{}, Events: events})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan *RunReport, 1)
	go func() {
		report, _ := o.Run(ctx, nil)
		done <- report
	}()

	testutil.MustWaitFor(t, func() bool {
		return slices.Contains(events.stages("red"), "promoted") && slices.Contains(events.stages("white"), "rejected")
	}, testutil.WithTimeout(10*time.Second))
	cancel()

	report := testutil.MustReceive(t, done, testutil.WithTimeout(5*time.Second))
	if report.Announced || report.AnnounceError == "" {
		t.Errorf("expected an interrupted readiness wait, got %+v", report)
	}
}

func TestRun_NoPromotionChecksPolicyOnce(t *testing.T) {
	t.Parallel()
	s := store.NewMemory()
	seedVariant(t, s, "white", false)
	cfg := testConfig(config.PolicyAll, "red", "white")
	cfg.MaxAttempts = 100
	cfg.Delay = time.Hour
	announcer := &fakeAnnouncer{outcome: vcs.Merged}
	o := New(cfg, Deps{Store: s, Engine: native.New(), Announcer: announcer})

	done := make(chan *RunReport, 1)
	go func() {
		report, _ := o.Run(context.Background(), []string{"white"})
		done <- report
	}()

	report := testutil.MustReceive(t, done, testutil.WithTimeout(10*time.Second))
	if report.Count(StateRejected) != 1 {
		t.Errorf("expected white rejected, got %+v", report.Variants)
	}
	if report.Announced || report.AnnounceError != "" || announcer.calls.Load() != 0 {
		t.Errorf("expected the policy check to skip the announcement, got %+v", report)
	}
}

func TestVariantStatus(t *testing.T) {
	t.Parallel()
	s := store.NewMemory()
	o := New(testConfig(config.PolicyAll, "red"), Deps{Store: s, Engine: native.New()})

	if _, err := o.VariantStatus(context.Background(), "rose"); !errors.Is(err, apperrors.ErrNotFound) {
		t.Errorf("expected not found for an unknown variant, got %v", err)
	}
	got, err := o.VariantStatus(context.Background(), "red")
	if err != nil || got != status.Training {
		t.Errorf("VariantStatus = %s, %v", got, err)
	}
}
