package billing

import (
	"time"

	"github.com/google/uuid"
)

// InvoiceStatus is the settlement state of an invoice.
type InvoiceStatus string

const (
	InvoiceUnpaid InvoiceStatus = "UNPAID"
	InvoicePaid   InvoiceStatus = "PAID"
)

// Invoice bills an encounter. Once paid it never goes back: the repository
// exposes MarkPaid as the only mutation, and only the payment finalizer
// holds a token for it.
type Invoice struct {
	ID          uuid.UUID     `db:"id" json:"id"`
	EncounterID uuid.UUID     `db:"encounter_id" json:"encounter_id"`
	PatientID   string        `db:"patient_id" json:"patient_id"`
	Hospital    string        `db:"hospital" json:"hospital"`
	AmountCents int64         `db:"amount_cents" json:"amount_cents"`
	Currency    string        `db:"currency" json:"currency"`
	Status      InvoiceStatus `db:"status" json:"status"`
	PaidAt      *time.Time    `db:"paid_at" json:"paid_at,omitempty"`
	CreatedAt   time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time     `db:"updated_at" json:"updated_at"`
}

// TransactionStatus is the state of one payment attempt.
type TransactionStatus string

const (
	TransactionPending TransactionStatus = "pending"
	TransactionSuccess TransactionStatus = "success"
	TransactionFailed  TransactionStatus = "failed"
)

// Transaction records one payment attempt against an encounter. An
// encounter with pending or failed transactions cannot be closed.
type Transaction struct {
	ID          uuid.UUID         `db:"id" json:"id"`
	EncounterID uuid.UUID         `db:"encounter_id" json:"encounter_id"`
	Hospital    string            `db:"hospital" json:"hospital"`
	AmountCents int64             `db:"amount_cents" json:"amount_cents"`
	Method      string            `db:"method" json:"method"`
	Reference   string            `db:"reference" json:"reference"`
	Status      TransactionStatus `db:"status" json:"status"`
	CreatedAt   time.Time         `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time         `db:"updated_at" json:"updated_at"`
}
