package clinical

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/afyalink/careflow/internal/platform/writeguard"
)

// Repository persists clinical records. Every create takes a write-guard
// token: these rows exist only as side effects of workflow operations.
// Updates are limited to the narrow transitions the workflow performs;
// there is no delete.
type Repository interface {
	CreateEncounter(ctx context.Context, tok writeguard.Token, e *Encounter) error
	GetEncounter(ctx context.Context, id uuid.UUID) (*Encounter, error)
	ListEncounters(ctx context.Context, hospital string, limit, offset int) ([]*Encounter, int, error)

	// CreateDiagnosis fails with Conflict when the encounter already has one.
	CreateDiagnosis(ctx context.Context, tok writeguard.Token, d *Diagnosis) error
	GetDiagnosis(ctx context.Context, encounterID uuid.UUID) (*Diagnosis, error)

	CreateLabOrder(ctx context.Context, tok writeguard.Token, o *LabOrder) error
	GetLabOrder(ctx context.Context, encounterID uuid.UUID) (*LabOrder, error)
	// CompleteLabOrder records the result. Fails with Conflict when the
	// order is already completed.
	CompleteLabOrder(ctx context.Context, tok writeguard.Token, id uuid.UUID, result, completedBy string, completedAt time.Time) error

	// CreatePrescription fails with Conflict when the encounter already has one.
	CreatePrescription(ctx context.Context, tok writeguard.Token, p *Prescription) error
	GetPrescription(ctx context.Context, encounterID uuid.UUID) (*Prescription, error)
	// MarkDispensed fails with Conflict when the prescription was already
	// dispensed.
	MarkDispensed(ctx context.Context, tok writeguard.Token, id uuid.UUID, dispensedBy string, dispensedAt time.Time) error

	CreateAuthorization(ctx context.Context, tok writeguard.Token, a *InsuranceAuthorization) error
	// GetAuthorization returns NotFound when the encounter has none.
	GetAuthorization(ctx context.Context, encounterID uuid.UUID) (*InsuranceAuthorization, error)
	// DecideAuthorization moves a PENDING authorization to APPROVED or
	// REJECTED. Fails with Conflict when already decided.
	DecideAuthorization(ctx context.Context, tok writeguard.Token, id uuid.UUID, status AuthorizationStatus, decidedBy string, decidedAt time.Time) error
}
