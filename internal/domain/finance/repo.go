package finance

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/afyalink/careflow/internal/platform/writeguard"
)

// PaymentRepository persists payments. Payments have no status column on
// purpose: the workflow record is the single source of truth for their
// lifecycle.
type PaymentRepository interface {
	Create(ctx context.Context, tok writeguard.Token, p *Payment) error
	GetByID(ctx context.Context, id uuid.UUID) (*Payment, error)
}

// ReceiptRepository persists receipts. Create-only: receipts and ledger
// entries are the financial audit trail, immutable by interface and
// enforced again by database triggers.
type ReceiptRepository interface {
	// Create fails with Conflict when the payment already has a receipt.
	Create(ctx context.Context, tok writeguard.Token, r *Receipt) error
	// GetByPayment returns NotFound when the payment has no receipt yet.
	GetByPayment(ctx context.Context, paymentID uuid.UUID) (*Receipt, error)
	ListByHospital(ctx context.Context, hospital string, limit, offset int) ([]*Receipt, int, error)
}

// LedgerRepository persists financial ledger entries. Create-only.
type LedgerRepository interface {
	// Create fails with Conflict when the payment already has an entry.
	Create(ctx context.Context, tok writeguard.Token, e *LedgerEntry) error
	// GetByPayment returns NotFound when the payment has no entry yet.
	GetByPayment(ctx context.Context, paymentID uuid.UUID) (*LedgerEntry, error)
	// List pages a hospital's entries, optionally bounded by occurrence time.
	List(ctx context.Context, hospital string, from, to *time.Time, limit, offset int) ([]*LedgerEntry, int, error)
}
