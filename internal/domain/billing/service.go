package billing

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/afyalink/careflow/internal/domain/compliance"
	"github.com/afyalink/careflow/internal/platform/apperr"
	"github.com/afyalink/careflow/internal/platform/auth"
	"github.com/afyalink/careflow/internal/platform/writeguard"
)

// Service owns invoices and payment attempts for an encounter.
type Service struct {
	invoices InvoiceRepository
	txs      TransactionRepository
	guard    *writeguard.Guard
	recorder *compliance.Recorder
}

func NewService(invoices InvoiceRepository, txs TransactionRepository, guard *writeguard.Guard, recorder *compliance.Recorder) *Service {
	return &Service{invoices: invoices, txs: txs, guard: guard, recorder: recorder}
}

// CreateInvoiceRequest carries the fields callers may set.
type CreateInvoiceRequest struct {
	EncounterID uuid.UUID `json:"encounter_id"`
	PatientID   string    `json:"patient_id"`
	AmountCents int64     `json:"amount_cents"`
	Currency    string    `json:"currency"`
}

// CreateInvoice bills an encounter. One invoice per encounter; a second
// create fails with Conflict.
func (s *Service) CreateInvoice(ctx context.Context, req CreateInvoiceRequest, actor auth.Actor) (*Invoice, error) {
	if req.AmountCents <= 0 {
		return nil, apperr.New(apperr.PreconditionFailed, "invoice amount must be positive")
	}
	inv := &Invoice{
		EncounterID: req.EncounterID,
		PatientID:   req.PatientID,
		Hospital:    actor.Hospital,
		AmountCents: req.AmountCents,
		Currency:    req.Currency,
	}
	if inv.Currency == "" {
		inv.Currency = "KES"
	}
	if err := s.invoices.Create(ctx, s.guard.Mint(req.EncounterID.String()), inv); err != nil {
		return nil, err
	}
	s.recorder.Record(ctx, compliance.AppendRequest{
		Action:     "INVOICE_CREATED",
		ActorID:    actor.ID,
		ActorRole:  actor.Role,
		Resource:   "Invoice",
		ResourceID: inv.ID.String(),
		Hospital:   actor.Hospital,
		Metadata:   map[string]any{"encounterId": req.EncounterID.String(), "amountCents": req.AmountCents},
	})
	return inv, nil
}

// GetInvoice loads one invoice.
func (s *Service) GetInvoice(ctx context.Context, id uuid.UUID) (*Invoice, error) {
	return s.invoices.GetByID(ctx, id)
}

// InvoiceForEncounter loads the encounter's invoice.
func (s *Service) InvoiceForEncounter(ctx context.Context, encounterID uuid.UUID) (*Invoice, error) {
	return s.invoices.GetByEncounter(ctx, encounterID)
}

// ListInvoices pages a hospital's invoices.
func (s *Service) ListInvoices(ctx context.Context, hospital string, limit, offset int) ([]*Invoice, int, error) {
	return s.invoices.ListByHospital(ctx, hospital, limit, offset)
}

// MarkInvoicePaid is the one legal path to a PAID invoice. The payment
// finalizer is its only caller.
func (s *Service) MarkInvoicePaid(ctx context.Context, invoiceID uuid.UUID, paidAt time.Time) error {
	return s.invoices.MarkPaid(ctx, s.guard.Mint(invoiceID.String()), invoiceID, paidAt)
}

// RecordTransactionRequest captures one payment attempt.
type RecordTransactionRequest struct {
	EncounterID uuid.UUID         `json:"encounter_id"`
	AmountCents int64             `json:"amount_cents"`
	Method      string            `json:"method"`
	Reference   string            `json:"reference"`
	Status      TransactionStatus `json:"status"`
}

// RecordTransaction stores a payment attempt against an encounter.
func (s *Service) RecordTransaction(ctx context.Context, req RecordTransactionRequest, actor auth.Actor) (*Transaction, error) {
	switch req.Status {
	case "", TransactionPending, TransactionSuccess, TransactionFailed:
	default:
		return nil, apperr.New(apperr.PreconditionFailed, "unknown transaction status %q", req.Status)
	}
	tx := &Transaction{
		EncounterID: req.EncounterID,
		Hospital:    actor.Hospital,
		AmountCents: req.AmountCents,
		Method:      req.Method,
		Reference:   req.Reference,
		Status:      req.Status,
	}
	if err := s.txs.Create(ctx, s.guard.Mint(req.EncounterID.String()), tx); err != nil {
		return nil, err
	}
	s.recorder.Record(ctx, compliance.AppendRequest{
		Action:     "BILLING_TRANSACTION_RECORDED",
		ActorID:    actor.ID,
		ActorRole:  actor.Role,
		Resource:   "BillingTransaction",
		ResourceID: tx.ID.String(),
		Hospital:   actor.Hospital,
		Metadata:   map[string]any{"encounterId": req.EncounterID.String(), "status": string(tx.Status)},
	})
	return tx, nil
}

// SettleTransaction moves a payment attempt to its terminal status.
func (s *Service) SettleTransaction(ctx context.Context, id uuid.UUID, status TransactionStatus, actor auth.Actor) error {
	if status != TransactionSuccess && status != TransactionFailed {
		return apperr.New(apperr.PreconditionFailed, "transactions settle to success or failed, not %q", status)
	}
	if err := s.txs.SetStatus(ctx, s.guard.Mint(id.String()), id, status); err != nil {
		return err
	}
	s.recorder.Record(ctx, compliance.AppendRequest{
		Action:     "BILLING_TRANSACTION_SETTLED",
		ActorID:    actor.ID,
		ActorRole:  actor.Role,
		Resource:   "BillingTransaction",
		ResourceID: id.String(),
		Hospital:   actor.Hospital,
		Metadata:   map[string]any{"status": string(status)},
	})
	return nil
}

// ListTransactions returns the encounter's payment attempts in order.
func (s *Service) ListTransactions(ctx context.Context, encounterID uuid.UUID) ([]*Transaction, error) {
	return s.txs.ListByEncounter(ctx, encounterID)
}

// RequireSettled fails with PreconditionFailed when the encounter still has
// payment attempts that are not success. Failed attempts count: an
// encounter never closes over a bounced charge, so staff must re-collect
// and move the attempt to success via SettleTransaction first. Encounter
// close calls this.
func (s *Service) RequireSettled(ctx context.Context, encounterID uuid.UUID) error {
	n, err := s.txs.CountUnsettled(ctx, encounterID)
	if err != nil {
		return err
	}
	if n > 0 {
		return apperr.New(apperr.PreconditionFailed,
			"encounter %s has %d unsettled billing transactions", encounterID, n)
	}
	return nil
}
