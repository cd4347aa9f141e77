package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"training-sync-service/internal/domain"
	"training-sync-service/internal/infra/memory"
)

var errBackendDown = errors.New("backend down")

func TestCreateThenGetSurvivesFailingDurable(t *testing.T) {
	ctx := context.Background()
	core, logs := observer.New(zapcore.DebugLevel)
	s := newTestStore(t, &fakeDurable{err: errBackendDown}, zap.New(core))

	created, err := s.CreateSession(ctx, state(0, 0, 1000))
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	got, ok := s.GetSession(ctx, created.Code)
	if !ok {
		t.Fatalf("expected session served from the in-process map")
	}
	if got.State.LastModified != 1000 {
		t.Fatalf("unexpected state: %+v", got.State)
	}

	warnings := logs.FilterLevelExact(zapcore.WarnLevel).FilterMessage("durable write failed, keeping in-process copy").All()
	if len(warnings) != 1 {
		t.Fatalf("expected one swallowed durable failure, got %d", len(warnings))
	}
}

func TestStoreIsLastWriteWinsRegardlessOfOrdering(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, nil, nil)

	created, err := s.CreateSession(ctx, domain.PresentationState{
		CompletedModules: []int{},
		VisibleSections:  []string{"intro"},
		LastModified:     1000,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if created.Code != "AB12CD" {
		t.Fatalf("expected fixed code, got %s", created.Code)
	}

	s.UpsertState(ctx, "AB12CD", state(0, 1, 2000))
	got, _ := s.GetSession(ctx, "AB12CD")
	if got.State.CurrentStep != 1 {
		t.Fatalf("expected currentStep 1, got %d", got.State.CurrentStep)
	}

	s.UpsertState(ctx, "AB12CD", state(0, 3, 1500))
	got, _ = s.GetSession(ctx, "AB12CD")
	if got.State.LastModified != 1500 || got.State.CurrentStep != 3 {
		t.Fatalf("older state must be stored verbatim, got %+v", got.State)
	}
}

func TestAddScoreReplacesSameKey(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, nil, nil)

	first := domain.ScoreEntry{ParticipantID: "p1", Activity: "phishing", Type: domain.ScoreTypeAtelier, Score: 2, Total: 5}
	second := first
	second.Score = 4
	other := first
	other.Type = domain.ScoreTypeQuiz

	s.AddScore(ctx, "AB12CD", first)
	s.AddScore(ctx, "AB12CD", other)
	scores := s.AddScore(ctx, "AB12CD", second)

	if len(scores) != 2 {
		t.Fatalf("expected two ledger entries, got %+v", scores)
	}
	matches := 0
	for _, entry := range scores {
		if entry.Key() == first.Key() {
			matches++
			if entry.Score != 4 {
				t.Fatalf("expected latest score 4, got %d", entry.Score)
			}
		}
	}
	if matches != 1 {
		t.Fatalf("expected exactly one entry for key, got %d", matches)
	}
}

func TestRegisterParticipantDeduplicatesAndRefreshes(t *testing.T) {
	ctx := context.Background()
	clock := &stepClock{now: time.UnixMilli(10_000)}
	s, err := New(Config{Memory: memory.NewSessionStore(), Clock: clock.Now, NewCode: fixedCode})
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	s.RegisterParticipant(ctx, "AB12CD", domain.Participant{ID: "p1", Name: "Alice"})
	clock.advance(5 * time.Second)
	roster := s.RegisterParticipant(ctx, "AB12CD", domain.Participant{ID: "p1", Name: "Alice"})

	if len(roster) != 1 {
		t.Fatalf("expected one roster entry, got %+v", roster)
	}
	if roster[0].LastSeen != 15_000 {
		t.Fatalf("expected refreshed lastSeen, got %d", roster[0].LastSeen)
	}
}

func TestGetSessionCachesDurableHit(t *testing.T) {
	ctx := context.Background()
	durable := &fakeDurable{sessions: map[string]domain.Session{
		"QW12ER": {Code: "QW12ER", State: state(2, 1, 5000)},
	}}
	s := newTestStore(t, durable, nil)

	got, ok := s.GetSession(ctx, "QW12ER")
	if !ok || got.State.CurrentModule != 2 {
		t.Fatalf("expected durable session, got %+v ok=%v", got, ok)
	}

	durable.setErr(errBackendDown)
	if _, ok := s.GetSession(ctx, "QW12ER"); !ok {
		t.Fatalf("expected cached copy after durable outage")
	}
	if _, ok := s.GetSession(ctx, "NOPE00"); ok {
		t.Fatalf("expected miss for unknown code during outage")
	}
}

func TestGetSessionLookupIgnoresCallerCancellation(t *testing.T) {
	durable := &ctxAwareDurable{fakeDurable: &fakeDurable{sessions: map[string]domain.Session{
		"QW12ER": {Code: "QW12ER", State: state(1, 0, 3000)},
	}}}
	s := newTestStore(t, durable, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	got, ok := s.GetSession(ctx, "QW12ER")
	if !ok || got.State.LastModified != 3000 {
		t.Fatalf("expected durable hit despite a cancelled caller, got %+v ok=%v", got, ok)
	}
}

func TestListParticipantsPrefersDurableAndFallsBack(t *testing.T) {
	ctx := context.Background()
	durable := &fakeDurable{}
	s := newTestStore(t, durable, nil)

	if _, err := s.CreateSession(ctx, state(0, 0, 1000)); err != nil {
		t.Fatalf("create: %v", err)
	}
	s.RegisterParticipant(ctx, "AB12CD", domain.Participant{ID: "local"})
	durable.participants = []domain.Participant{{ID: "remote-1"}, {ID: "remote-2"}}

	roster := s.ListParticipants(ctx, "AB12CD")
	if len(roster) != 2 || roster[0].ID != "remote-1" {
		t.Fatalf("expected durable roster, got %+v", roster)
	}

	durable.setErr(errBackendDown)
	roster = s.ListParticipants(ctx, "AB12CD")
	if len(roster) != 2 || roster[1].ID != "remote-2" {
		t.Fatalf("expected re-cached durable roster on fallback, got %+v", roster)
	}
}

func TestListScoresFallsBackToLedger(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, &fakeDurable{err: errBackendDown}, nil)

	s.AddScore(ctx, "AB12CD", domain.ScoreEntry{ParticipantID: "p1", Activity: "quiz", Type: domain.ScoreTypeQuiz})
	scores := s.ListScores(ctx, "AB12CD")
	if len(scores) != 1 {
		t.Fatalf("expected in-process ledger, got %+v", scores)
	}
}

func TestClearAllPolicies(t *testing.T) {
	ctx := context.Background()

	local := newTestStore(t, nil, nil)
	if _, err := local.CreateSession(ctx, state(0, 0, 1)); err != nil {
		t.Fatalf("create: %v", err)
	}
	result, err := local.ClearAll(ctx)
	if err != nil {
		t.Fatalf("clear without durable: %v", err)
	}
	if result.Cleared || result.Reason == "" {
		t.Fatalf("expected not-cleared with reason, got %+v", result)
	}
	if _, ok := local.GetSession(ctx, "AB12CD"); ok {
		t.Fatalf("in-process map must be wiped unconditionally")
	}

	failing := newTestStore(t, &fakeDurable{err: errBackendDown}, nil)
	if _, err := failing.ClearAll(ctx); !errors.Is(err, errBackendDown) {
		t.Fatalf("expected propagated durable error, got %v", err)
	}

	healthy := &fakeDurable{}
	healthyStore := newTestStore(t, healthy, nil)
	result, err = healthyStore.ClearAll(ctx)
	if err != nil || !result.Cleared {
		t.Fatalf("expected cleared, got %+v err=%v", result, err)
	}
	if healthy.clears != 1 {
		t.Fatalf("expected one durable clear, got %d", healthy.clears)
	}
}

func newTestStore(t *testing.T, durable Durable, logger *zap.Logger) *Store {
	t.Helper()
	cfg := Config{
		Memory:         memory.NewSessionStore(),
		Logger:         logger,
		NewCode:        fixedCode,
		DefaultSection: "intro",
	}
	if durable != nil {
		cfg.Durable = durable
	}
	s, err := New(cfg)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return s
}

func fixedCode() (string, error) {
	return "AB12CD", nil
}

func state(module, step int, lastModified int64) domain.PresentationState {
	return domain.PresentationState{
		CurrentModule:    module,
		CurrentStep:      step,
		CompletedModules: []int{},
		VisibleSections:  []string{"intro"},
		LastModified:     lastModified,
	}
}

type stepClock struct {
	now time.Time
}

func (c *stepClock) Now() time.Time { return c.now }

func (c *stepClock) advance(d time.Duration) { c.now = c.now.Add(d) }

// fakeDurable is an in-memory Durable whose every call fails while err is set.
type fakeDurable struct {
	mu           sync.Mutex
	err          error
	sessions     map[string]domain.Session
	participants []domain.Participant
	scores       []domain.ScoreEntry
	clears       int
}

func (f *fakeDurable) setErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func (f *fakeDurable) SaveSession(_ context.Context, session domain.Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	if f.sessions == nil {
		f.sessions = make(map[string]domain.Session)
	}
	f.sessions[session.Code] = session.Clone()
	return nil
}

func (f *fakeDurable) FindSession(_ context.Context, code string) (domain.Session, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return domain.Session{}, false, f.err
	}
	session, ok := f.sessions[code]
	return session.Clone(), ok, nil
}

func (f *fakeDurable) UpsertParticipant(context.Context, string, domain.Participant) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

func (f *fakeDurable) DeleteParticipant(context.Context, string, string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

func (f *fakeDurable) ListParticipants(context.Context, string) ([]domain.Participant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return append([]domain.Participant(nil), f.participants...), nil
}

func (f *fakeDurable) UpsertScore(context.Context, string, domain.ScoreEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

func (f *fakeDurable) ListScores(context.Context, string) ([]domain.ScoreEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return append([]domain.ScoreEntry(nil), f.scores...), nil
}

func (f *fakeDurable) ClearAll(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.clears++
	return nil
}

// ctxAwareDurable fails lookups whose context is already done.
type ctxAwareDurable struct {
	*fakeDurable
}

func (d *ctxAwareDurable) FindSession(ctx context.Context, code string) (domain.Session, bool, error) {
	if err := ctx.Err(); err != nil {
		return domain.Session{}, false, err
	}
	return d.fakeDurable.FindSession(ctx, code)
}
