package finance

import (
	"time"

	"github.com/google/uuid"
)

// Payment is one settlement of an invoice. Its PENDING/COMPLETED lifecycle
// lives in the workflow record keyed by the payment ID; a payment is
// finalized exactly once even when the finalizer is retried.
type Payment struct {
	ID          uuid.UUID `db:"id" json:"id"`
	InvoiceID   uuid.UUID `db:"invoice_id" json:"invoice_id"`
	EncounterID uuid.UUID `db:"encounter_id" json:"encounter_id"`
	PatientID   string    `db:"patient_id" json:"patient_id"`
	Hospital    string    `db:"hospital" json:"hospital"`
	AmountCents int64     `db:"amount_cents" json:"amount_cents"`
	Currency    string    `db:"currency" json:"currency"`
	Method      string    `db:"method" json:"method"`
	PayerID     string    `db:"payer_id" json:"payer_id"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

// Receipt proves a payment was taken. Append-only: no update, no delete,
// one receipt per payment.
type Receipt struct {
	ID          uuid.UUID `db:"id" json:"id"`
	ReceiptNo   string    `db:"receipt_no" json:"receipt_no"`
	PaymentID   uuid.UUID `db:"payment_id" json:"payment_id"`
	InvoiceID   uuid.UUID `db:"invoice_id" json:"invoice_id"`
	PatientID   string    `db:"patient_id" json:"patient_id"`
	Hospital    string    `db:"hospital" json:"hospital"`
	AmountCents int64     `db:"amount_cents" json:"amount_cents"`
	Currency    string    `db:"currency" json:"currency"`
	Method      string    `db:"method" json:"method"`
	IssuedAt    time.Time `db:"issued_at" json:"issued_at"`
}

// EntryType classifies a ledger entry as money taken or money returned.
type EntryType string

const (
	EntryPayment EntryType = "PAYMENT"
	EntryRefund  EntryType = "REFUND"
)

// LedgerEntry is one append-only financial ledger row. Reference carries
// the receipt number (or refund reference) that backs the entry; Source is
// the settlement channel the money moved through (mpesa, stripe, cash).
type LedgerEntry struct {
	ID          uuid.UUID      `db:"id" json:"id"`
	PaymentID   uuid.UUID      `db:"payment_id" json:"payment_id"`
	PatientID   string         `db:"patient_id" json:"patient_id"`
	Hospital    string         `db:"hospital" json:"hospital"`
	Type        EntryType      `db:"type" json:"type"`
	AmountCents int64          `db:"amount_cents" json:"amount_cents"`
	Reference   string         `db:"reference" json:"reference"`
	Source      string         `db:"source" json:"source"`
	Description string         `db:"description" json:"description"`
	Metadata    map[string]any `db:"metadata" json:"metadata,omitempty"`
	OccurredAt  time.Time      `db:"occurred_at" json:"occurred_at"`
}
