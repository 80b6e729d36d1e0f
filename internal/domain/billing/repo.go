package billing

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/afyalink/careflow/internal/platform/writeguard"
)

// InvoiceRepository persists invoices. MarkPaid is the only mutation; the
// status column never moves any other way.
type InvoiceRepository interface {
	Create(ctx context.Context, tok writeguard.Token, inv *Invoice) error
	GetByID(ctx context.Context, id uuid.UUID) (*Invoice, error)
	GetByEncounter(ctx context.Context, encounterID uuid.UUID) (*Invoice, error)
	// MarkPaid flips an UNPAID invoice to PAID. Fails with AlreadyFinalized
	// when the invoice is already paid.
	MarkPaid(ctx context.Context, tok writeguard.Token, id uuid.UUID, paidAt time.Time) error
	ListByHospital(ctx context.Context, hospital string, limit, offset int) ([]*Invoice, int, error)
}

// TransactionRepository persists payment attempts.
type TransactionRepository interface {
	Create(ctx context.Context, tok writeguard.Token, tx *Transaction) error
	SetStatus(ctx context.Context, tok writeguard.Token, id uuid.UUID, status TransactionStatus) error
	ListByEncounter(ctx context.Context, encounterID uuid.UUID) ([]*Transaction, error)
	// CountUnsettled counts transactions for the encounter that are not in
	// success status. A nonzero count blocks encounter close.
	CountUnsettled(ctx context.Context, encounterID uuid.UUID) (int, error)
}
