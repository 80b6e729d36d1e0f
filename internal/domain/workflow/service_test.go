package workflow

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/afyalink/careflow/internal/platform/apperr"
	"github.com/afyalink/careflow/internal/platform/auth"
	"github.com/afyalink/careflow/internal/platform/writeguard"
)

type memRepo struct {
	mu      sync.Mutex
	records map[uuid.UUID]*Record
}

func newMemRepo() *memRepo {
	return &memRepo{records: map[uuid.UUID]*Record{}}
}

func (m *memRepo) Create(_ context.Context, tok writeguard.Token, rec *Record) error {
	if err := writeguard.Check(tok, "WorkflowRecord"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[rec.SubjectID]; ok {
		return apperr.New(apperr.Conflict, "workflow already exists for %s", rec.SubjectID)
	}
	// The workflow_record columns are NOT NULL without defaults; reject
	// unstamped records the way Postgres would.
	if rec.CreatedAt.IsZero() || rec.UpdatedAt.IsZero() {
		return errors.New("workflow record timestamps must be set")
	}
	rec.ID = uuid.New()
	rec.Version = 1
	cp := *rec
	cp.History = append([]Transition(nil), rec.History...)
	m.records[rec.SubjectID] = &cp
	return nil
}

func (m *memRepo) GetBySubject(_ context.Context, subjectID uuid.UUID) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[subjectID]
	if !ok {
		return nil, apperr.New(apperr.NotFound, "workflow for %s not found", subjectID)
	}
	cp := *rec
	cp.History = append([]Transition(nil), rec.History...)
	return &cp, nil
}

func (m *memRepo) UpdateState(_ context.Context, tok writeguard.Token, rec *Record, expectedVersion int) error {
	if err := writeguard.Check(tok, "WorkflowRecord update"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.records[rec.SubjectID]
	if !ok {
		return apperr.New(apperr.NotFound, "workflow for %s not found", rec.SubjectID)
	}
	if stored.Version != expectedVersion {
		return apperr.New(apperr.Conflict, "workflow for %s was modified concurrently", rec.SubjectID)
	}
	cp := *rec
	cp.History = append([]Transition(nil), rec.History...)
	cp.Version = expectedVersion + 1
	cp.UpdatedAt = time.Now().UTC()
	m.records[rec.SubjectID] = &cp
	return nil
}

var testActor = auth.Actor{ID: "dr-1", Role: "doctor", Hospital: "h1"}

func newTestService() (*Service, *memRepo) {
	repo := newMemRepo()
	return NewService(repo, writeguard.New()), repo
}

func TestStartAndGet(t *testing.T) {
	svc, _ := newTestService()
	subject := uuid.New()

	rec, err := svc.Start(context.Background(), subject, TypeClinical, "default", testActor)
	if err != nil {
		t.Fatal(err)
	}
	if rec.State != StateEncounterStarted {
		t.Fatalf("state = %s, want ENCOUNTER_STARTED", rec.State)
	}
	if len(rec.History) != 1 || rec.History[0].To != StateEncounterStarted {
		t.Fatal("history must be seeded with the initial transition")
	}

	if _, err := svc.Start(context.Background(), subject, TypeClinical, "default", testActor); !apperr.Is(err, apperr.Conflict) {
		t.Fatalf("second start = %v, want Conflict", err)
	}
}

func TestStartStampsTimestamps(t *testing.T) {
	svc, _ := newTestService()

	rec, err := svc.Start(context.Background(), uuid.New(), TypePayment, "default", testActor)
	if err != nil {
		t.Fatal(err)
	}
	if rec.CreatedAt.IsZero() || rec.UpdatedAt.IsZero() {
		t.Fatalf("record timestamps must be stamped on create: created=%v updated=%v",
			rec.CreatedAt, rec.UpdatedAt)
	}
	if !rec.UpdatedAt.Equal(rec.CreatedAt) {
		t.Fatal("a fresh record's updated_at must equal created_at")
	}
}

func TestTransitionRejectsInvalidMoves(t *testing.T) {
	svc, _ := newTestService()
	subject := uuid.New()
	if _, err := svc.Start(context.Background(), subject, TypeClinical, "default", testActor); err != nil {
		t.Fatal(err)
	}

	if _, err := svc.Transition(context.Background(), subject, StateLabOrdered, testActor, ""); !apperr.Is(err, apperr.InvalidTransition) {
		t.Fatalf("skipping DIAGNOSED = %v, want InvalidTransition", err)
	}
	if _, err := svc.Transition(context.Background(), subject, State("BOGUS"), testActor, ""); !apperr.Is(err, apperr.InvalidTransition) {
		t.Fatalf("unknown state = %v, want InvalidTransition", err)
	}
	if _, err := svc.Transition(context.Background(), uuid.New(), StateDiagnosed, testActor, ""); !apperr.Is(err, apperr.NotFound) {
		t.Fatalf("missing subject = %v, want NotFound", err)
	}
}

func TestTerminalStateRejectsFurtherTransitions(t *testing.T) {
	svc, _ := newTestService()
	subject := uuid.New()
	if _, err := svc.Start(context.Background(), subject, TypeClinical, "default", testActor); err != nil {
		t.Fatal(err)
	}
	mustTransition(t, svc, subject, StateDiagnosed)
	mustTransition(t, svc, subject, StateClosed)

	if _, err := svc.Transition(context.Background(), subject, StateDiagnosed, testActor, ""); !apperr.Is(err, apperr.InvalidTransition) {
		t.Fatalf("transition out of CLOSED = %v, want InvalidTransition", err)
	}
}

// History must stay contiguous: each entry's From equals the previous
// entry's To, and the last To equals the record state.
func TestHistoryContiguity(t *testing.T) {
	svc, _ := newTestService()
	subject := uuid.New()
	if _, err := svc.Start(context.Background(), subject, TypeClinical, "default", testActor); err != nil {
		t.Fatal(err)
	}
	for _, target := range []State{
		StateDiagnosed, StateLabOrdered, StateLabCompleted,
		StatePrescriptionCreated, StateDispensed, StateClosed,
	} {
		mustTransition(t, svc, subject, target)
	}

	rec, err := svc.Get(context.Background(), subject)
	if err != nil {
		t.Fatal(err)
	}
	if len(rec.History) != 7 {
		t.Fatalf("history length = %d, want 7", len(rec.History))
	}
	for i := 1; i < len(rec.History); i++ {
		if rec.History[i].From != rec.History[i-1].To {
			t.Fatalf("history gap at %d: %s -> %s after %s",
				i, rec.History[i].From, rec.History[i].To, rec.History[i-1].To)
		}
	}
	if rec.History[len(rec.History)-1].To != rec.State {
		t.Fatal("last history entry must match record state")
	}
}

func TestConcurrentTransitionLosesWithConflict(t *testing.T) {
	svc, _ := newTestService()
	subject := uuid.New()
	if _, err := svc.Start(context.Background(), subject, TypeClinical, "default", testActor); err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.Transition(context.Background(), subject, StateDiagnosed, testActor, "")
		}(i)
	}
	wg.Wait()

	var ok, conflict int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case apperr.Is(err, apperr.Conflict), apperr.Is(err, apperr.InvalidTransition):
			conflict++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if ok != 1 || conflict != 1 {
		t.Fatalf("expected exactly one winner, got ok=%d conflict=%d", ok, conflict)
	}
}

func TestReplay(t *testing.T) {
	svc, _ := newTestService()
	subject := uuid.New()
	if _, err := svc.Start(context.Background(), subject, TypeClinical, "default", testActor); err != nil {
		t.Fatal(err)
	}
	mustTransition(t, svc, subject, StateDiagnosed)

	rep, err := svc.Replay(context.Background(), subject)
	if err != nil {
		t.Fatal(err)
	}
	if rep.InitialState != StateEncounterStarted {
		t.Errorf("initial state = %s", rep.InitialState)
	}
	if rep.FinalState != StateDiagnosed {
		t.Errorf("final state = %s", rep.FinalState)
	}
	if len(rep.Timeline) != 2 {
		t.Errorf("timeline length = %d, want 2", len(rep.Timeline))
	}
}

func TestRequire(t *testing.T) {
	svc, _ := newTestService()
	subject := uuid.New()
	if _, err := svc.Start(context.Background(), subject, TypeClinical, "default", testActor); err != nil {
		t.Fatal(err)
	}

	if _, err := svc.Require(context.Background(), subject, StateEncounterStarted); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := svc.Require(context.Background(), subject, StateLabOrdered, StateDispensed); !apperr.Is(err, apperr.InvalidTransition) {
		t.Fatalf("Require in wrong state = %v, want InvalidTransition", err)
	}
}

func mustTransition(t *testing.T, svc *Service, subject uuid.UUID, target State) {
	t.Helper()
	if _, err := svc.Transition(context.Background(), subject, target, testActor, ""); err != nil {
		t.Fatalf("transition to %s: %v", target, err)
	}
}
