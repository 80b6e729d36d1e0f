package workflow

import (
	"context"

	"github.com/google/uuid"

	"github.com/afyalink/careflow/internal/platform/writeguard"
)

// Repository persists workflow records. There is deliberately no Delete:
// records outlive their subjects for audit. Both write paths require a
// write-guard token, so only the state machine can create or advance a
// record.
type Repository interface {
	Create(ctx context.Context, tok writeguard.Token, rec *Record) error
	GetBySubject(ctx context.Context, subjectID uuid.UUID) (*Record, error)
	// UpdateState persists a new state and history under an optimistic
	// version check; it fails with Conflict when another request advanced
	// the record first.
	UpdateState(ctx context.Context, tok writeguard.Token, rec *Record, expectedVersion int) error
}
