package generator

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/dailyfactoid/factoid/pkg/factoid"
	"github.com/dailyfactoid/factoid/pkg/openrouter"
	"github.com/dailyfactoid/factoid/pkg/telemetry"
)

// fakeReservation records how it was resolved.
type fakeReservation struct {
	mu       sync.Mutex
	estimate float64
	settles  []float64
	releases int
}

func (r *fakeReservation) Settle(_ context.Context, actual float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.resolvedLocked() {
		return nil
	}
	r.settles = append(r.settles, actual)
	return nil
}

func (r *fakeReservation) Release(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.resolvedLocked() {
		return nil
	}
	r.releases++
	return nil
}

func (r *fakeReservation) Estimate() float64 { return r.estimate }

func (r *fakeReservation) resolvedLocked() bool {
	return len(r.settles) > 0 || r.releases > 0
}

func (r *fakeReservation) settledOnceAt(t *testing.T, want float64) {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.settles) != 1 || r.releases != 0 {
		t.Fatalf("expected exactly one settle and no release, got settles=%v releases=%d", r.settles, r.releases)
	}
	if r.settles[0] != want {
		t.Errorf("expected settle at %v, got %v", want, r.settles[0])
	}
}

func (r *fakeReservation) releasedOnce(t *testing.T) {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.settles) != 0 || r.releases != 1 {
		t.Fatalf("expected exactly one release and no settle, got settles=%v releases=%d", r.settles, r.releases)
	}
}

// fakeUpstream returns a fixed result or error.
type fakeUpstream struct {
	result *openrouter.Result
	err    error
}

func (u *fakeUpstream) Enabled() bool        { return true }
func (u *fakeUpstream) DefaultModel() string { return "openai/gpt-4o-mini" }
func (u *fakeUpstream) Generate(context.Context, string, string) (*openrouter.Result, error) {
	return u.result, u.err
}
func (u *fakeUpstream) EstimateCost(string) float64 { return 0.10 }

// failingSaveStore wraps a store and fails factoid persistence.
type failingSaveStore struct {
	factoid.Store
}

func (s *failingSaveStore) SaveFactoid(context.Context, *factoid.Factoid) error {
	return errors.New("disk full")
}

func collectEvents() (EmitFunc, func() []Event) {
	var mu sync.Mutex
	var events []Event
	emit := func(e Event) {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, e)
	}
	return emit, func() []Event {
		mu.Lock()
		defer mu.Unlock()
		return append([]Event(nil), events...)
	}
}

func newTestGenerator(store factoid.Store, upstream Upstream) *Generator {
	notifier := telemetry.NewNotifier(slog.Default())
	return New(store, upstream, notifier, slog.Default())
}

func admittedRequest(t *testing.T, store factoid.Store, topic string) *factoid.GenerationRequest {
	t.Helper()
	req := factoid.NewRequest("client-hash", "anonymous", factoid.SourceManual)
	req.Topic = topic
	if err := store.CreateRequest(context.Background(), req); err != nil {
		t.Fatalf("create request: %v", err)
	}
	return req
}

func TestRun_SuccessSettlesWithReportedCost(t *testing.T) {
	store := factoid.NewMemoryStore()
	upstream := &fakeUpstream{result: &openrouter.Result{
		Text: "Peanuts are legumes.", Subject: "Food", Emoji: "🥜",
		Model: "openai/gpt-4o-mini",
		Usage: openrouter.Usage{PromptTokens: 100, CompletionTokens: 20, Cost: 0.0042},
	}}
	gen := newTestGenerator(store, upstream)
	req := admittedRequest(t, store, "food")
	res := &fakeReservation{estimate: 0.10}
	emit, events := collectEvents()

	f, err := gen.Run(context.Background(), req, res, emit)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if f.Text != "Peanuts are legumes." || f.CostUSD != 0.0042 {
		t.Errorf("unexpected factoid: %+v", f)
	}

	res.settledOnceAt(t, 0.0042)

	stored, err := store.GetFactoid(context.Background(), f.ID.String())
	if err != nil {
		t.Fatalf("factoid not persisted: %v", err)
	}
	if stored.CreatedBy != req.ID {
		t.Errorf("expected factoid linked to request")
	}

	saved, ok := store.GetRequest(req.ID)
	if !ok || saved.Status != factoid.StatusSucceeded {
		t.Errorf("expected request marked succeeded, got %+v", saved)
	}
	if saved.ActualCostUSD != 0.0042 || saved.PromptTokens != 100 {
		t.Errorf("expected usage recorded on request, got %+v", saved)
	}

	wantStages := []Stage{StageAdmitted, StagePrompting, StageCalling, StagePersisting, StageSettling}
	got := events()
	for i, stage := range wantStages {
		if got[i].Kind != KindStatus || got[i].Stage != stage {
			t.Fatalf("event %d: expected status %s, got %+v", i, stage, got[i])
		}
	}
	if got[len(wantStages)].Kind != KindFactoid {
		t.Errorf("expected factoid event after settling, got %+v", got[len(wantStages)])
	}
	if last := got[len(got)-1]; last.Kind != KindStatus || last.Stage != StageSucceeded {
		t.Errorf("expected terminal succeeded status, got %+v", last)
	}
}

func TestRun_SuccessFallsBackToEstimateWhenCostMissing(t *testing.T) {
	store := factoid.NewMemoryStore()
	upstream := &fakeUpstream{result: &openrouter.Result{
		Text: "t", Subject: "s", Model: "m",
	}}
	gen := newTestGenerator(store, upstream)
	req := admittedRequest(t, store, "anything")
	res := &fakeReservation{estimate: 0.10}
	emit, _ := collectEvents()

	if _, err := gen.Run(context.Background(), req, res, emit); err != nil {
		t.Fatalf("run: %v", err)
	}
	res.settledOnceAt(t, 0.10)
}

func TestRun_InputErrorReleases(t *testing.T) {
	store := factoid.NewMemoryStore() // empty: no examples, and no topic below
	gen := newTestGenerator(store, &fakeUpstream{})
	req := admittedRequest(t, store, "")
	res := &fakeReservation{estimate: 0.10}
	emit, events := collectEvents()

	_, err := gen.Run(context.Background(), req, res, emit)
	var runErr *RunError
	if !errors.As(err, &runErr) || runErr.Code != CodeInput {
		t.Fatalf("expected input RunError, got %v", err)
	}

	res.releasedOnce(t)

	got := events()
	last := got[len(got)-1]
	if last.Kind != KindError || last.Code != CodeInput {
		t.Errorf("expected terminal input error event, got %+v", last)
	}

	saved, _ := store.GetRequest(req.ID)
	if saved.Status != factoid.StatusFailed {
		t.Errorf("expected request marked failed, got %s", saved.Status)
	}
}

func TestRun_UpstreamFailuresReleaseWithDistinctCodes(t *testing.T) {
	kinds := map[openrouter.ErrorKind]ErrorCode{
		openrouter.KindTimeout:   CodeUpstreamTimeout,
		openrouter.KindRejected:  CodeUpstreamRejected,
		openrouter.KindMalformed: CodeUpstreamMalformed,
	}

	for kind, wantCode := range kinds {
		t.Run(string(kind), func(t *testing.T) {
			store := factoid.NewMemoryStore()
			upstream := &fakeUpstream{err: &openrouter.CallError{
				Kind: kind, Model: "m", Err: errors.New("boom"),
			}}
			gen := newTestGenerator(store, upstream)
			req := admittedRequest(t, store, "space")
			res := &fakeReservation{estimate: 0.10}
			emit, events := collectEvents()

			_, err := gen.Run(context.Background(), req, res, emit)
			var runErr *RunError
			if !errors.As(err, &runErr) || runErr.Code != wantCode {
				t.Fatalf("expected %s RunError, got %v", wantCode, err)
			}

			res.releasedOnce(t)

			got := events()
			if last := got[len(got)-1]; last.Code != wantCode {
				t.Errorf("expected %s error event, got %+v", wantCode, last)
			}
		})
	}
}

func TestRun_PersistFailureSettles(t *testing.T) {
	store := &failingSaveStore{Store: factoid.NewMemoryStore()}
	upstream := &fakeUpstream{result: &openrouter.Result{
		Text: "t", Subject: "s", Model: "m",
		Usage: openrouter.Usage{Cost: 0.0080},
	}}
	gen := newTestGenerator(store, upstream)

	req := factoid.NewRequest("client-hash", "anonymous", factoid.SourceManual)
	req.Topic = "space"
	store.Store.CreateRequest(context.Background(), req)

	res := &fakeReservation{estimate: 0.10}
	emit, events := collectEvents()

	_, err := gen.Run(context.Background(), req, res, emit)
	var runErr *RunError
	if !errors.As(err, &runErr) || runErr.Code != CodePersistFailed {
		t.Fatalf("expected persist_failed RunError, got %v", err)
	}

	// The upstream charge stands even though nothing was stored.
	res.settledOnceAt(t, 0.0080)

	got := events()
	if last := got[len(got)-1]; last.Kind != KindError || last.Code != CodePersistFailed {
		t.Errorf("expected persist_failed error event, got %+v", last)
	}
}

func TestRun_StubWhenUpstreamDisabled(t *testing.T) {
	store := factoid.NewMemoryStore()
	upstream := &disabledUpstream{}
	gen := newTestGenerator(store, upstream)
	req := admittedRequest(t, store, "anything")
	res := &fakeReservation{estimate: 0.10}
	emit, _ := collectEvents()

	f, err := gen.Run(context.Background(), req, res, emit)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if f.Model != "stub" {
		t.Errorf("expected stub factoid, got model %q", f.Model)
	}
	if f.CostUSD != 0 {
		t.Errorf("expected stub factoid to cost nothing, got %v", f.CostUSD)
	}

	// Stubs settle at zero, so dev mode never drains a budget.
	res.settledOnceAt(t, 0)
}

type disabledUpstream struct{}

func (disabledUpstream) Enabled() bool        { return false }
func (disabledUpstream) DefaultModel() string { return "stub" }
func (disabledUpstream) Generate(context.Context, string, string) (*openrouter.Result, error) {
	return nil, errors.New("should not be called")
}
func (disabledUpstream) EstimateCost(string) float64 { return 0 }

func TestRun_KeepsScheduledSource(t *testing.T) {
	store := factoid.NewMemoryStore()
	upstream := &fakeUpstream{result: &openrouter.Result{
		Text: "t", Subject: "s", Model: "m",
		Usage: openrouter.Usage{Cost: 0.0010},
	}}
	gen := newTestGenerator(store, upstream)

	req := factoid.NewRequest("scheduler", "scheduled", factoid.SourceScheduled)
	req.Topic = "space"
	if err := store.CreateRequest(context.Background(), req); err != nil {
		t.Fatalf("create request: %v", err)
	}

	res := &fakeReservation{estimate: 0.10}
	emit, _ := collectEvents()
	if _, err := gen.Run(context.Background(), req, res, emit); err != nil {
		t.Fatalf("run: %v", err)
	}

	saved, ok := store.GetRequest(req.ID)
	if !ok || saved.Source != factoid.SourceScheduled {
		t.Errorf("expected the scheduled tag to survive the run, got %+v", saved)
	}
	if saved.Status != factoid.StatusSucceeded {
		t.Errorf("expected request marked succeeded, got %s", saved.Status)
	}
}

func TestRun_CancelledContextStillResolves(t *testing.T) {
	store := factoid.NewMemoryStore()
	upstream := &fakeUpstream{err: &openrouter.CallError{
		Kind: openrouter.KindTimeout, Model: "m", Err: context.Canceled,
	}}
	gen := newTestGenerator(store, upstream)
	req := admittedRequest(t, store, "space")
	res := &fakeReservation{estimate: 0.10}

	ctx, cancel := context.WithCancel(context.Background())
	cancel() // the client is already gone
	emit, _ := collectEvents()

	_, err := gen.Run(ctx, req, res, emit)
	if err == nil {
		t.Fatal("expected an error")
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		res.mu.Lock()
		resolved := res.resolvedLocked()
		res.mu.Unlock()
		if resolved {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	res.releasedOnce(t)
}
