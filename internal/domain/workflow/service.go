package workflow

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/afyalink/careflow/internal/platform/apperr"
	"github.com/afyalink/careflow/internal/platform/auth"
	"github.com/afyalink/careflow/internal/platform/writeguard"
)

// Service is the sole authority for advancing a subject through its
// lifecycle. Domain services validate their preconditions, create their
// guarded records, and then ask this machine to commit the transition.
type Service struct {
	repo  Repository
	guard *writeguard.Guard
}

// NewService wires the state machine with its repository and write guard.
func NewService(repo Repository, guard *writeguard.Guard) *Service {
	return &Service{repo: repo, guard: guard}
}

// Start creates the workflow record for a subject in the type's initial
// state. Fails with Conflict when a workflow already exists.
func (s *Service) Start(ctx context.Context, subjectID uuid.UUID, typ Type, tenantID string, actor auth.Actor) (*Record, error) {
	initial := InitialState(typ)
	now := time.Now().UTC()
	rec := &Record{
		SubjectID: subjectID,
		Type:      typ,
		State:     initial,
		TenantID:  tenantID,
		History: []Transition{{
			To:        initial,
			ActorID:   actor.ID,
			ActorRole: actor.Role,
			At:        now,
		}},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.Create(ctx, s.guard.Mint(subjectID.String()), rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// Get loads the workflow record for a subject.
func (s *Service) Get(ctx context.Context, subjectID uuid.UUID) (*Record, error) {
	return s.repo.GetBySubject(ctx, subjectID)
}

// Require loads the subject's workflow and fails with InvalidTransition
// unless its current state is one of the allowed states. Domain services
// call this before creating guarded records.
func (s *Service) Require(ctx context.Context, subjectID uuid.UUID, allowed ...State) (*Record, error) {
	rec, err := s.repo.GetBySubject(ctx, subjectID)
	if err != nil {
		return nil, err
	}
	for _, st := range allowed {
		if rec.State == st {
			return rec, nil
		}
	}
	return nil, apperr.New(apperr.InvalidTransition,
		"workflow for %s is in state %s, expected one of %v", subjectID, rec.State, allowed)
}

// Transition advances a subject to the target state after validating the
// move against the transition table. The loser of a concurrent advance
// fails fast with Conflict; clinical actions are never retried silently.
func (s *Service) Transition(ctx context.Context, subjectID uuid.UUID, target State, actor auth.Actor, reason string) (*Record, error) {
	if !IsValidState(target) {
		return nil, apperr.New(apperr.InvalidTransition, "unknown workflow state %q", target)
	}

	rec, err := s.repo.GetBySubject(ctx, subjectID)
	if err != nil {
		return nil, err
	}
	if IsTerminal(rec.State) {
		return nil, apperr.New(apperr.InvalidTransition,
			"workflow for %s is terminal in state %s", subjectID, rec.State)
	}
	if !CanTransition(rec.State, target) {
		return nil, apperr.New(apperr.InvalidTransition,
			"invalid workflow transition: %s -> %s", rec.State, target)
	}

	expected := rec.Version
	now := time.Now().UTC()
	rec.History = append(rec.History, Transition{
		From:      rec.State,
		To:        target,
		ActorID:   actor.ID,
		ActorRole: actor.Role,
		Reason:    reason,
		At:        now,
	})
	rec.State = target
	rec.UpdatedAt = now

	if err := s.repo.UpdateState(ctx, s.guard.Mint(subjectID.String()), rec, expected); err != nil {
		return nil, err
	}
	return rec, nil
}

// Replay reconstructs the subject's timeline from history, read-only.
func (s *Service) Replay(ctx context.Context, subjectID uuid.UUID) (*Replay, error) {
	rec, err := s.repo.GetBySubject(ctx, subjectID)
	if err != nil {
		return nil, err
	}
	rep := &Replay{
		SubjectID:  subjectID,
		Timeline:   rec.History,
		FinalState: rec.State,
	}
	if len(rec.History) > 0 {
		rep.InitialState = rec.History[0].To
	}
	return rep, nil
}
