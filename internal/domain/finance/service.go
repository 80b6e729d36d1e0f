package finance

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/afyalink/careflow/internal/domain/billing"
	"github.com/afyalink/careflow/internal/domain/compliance"
	"github.com/afyalink/careflow/internal/domain/workflow"
	"github.com/afyalink/careflow/internal/platform/apperr"
	"github.com/afyalink/careflow/internal/platform/auth"
	"github.com/afyalink/careflow/internal/platform/db"
	"github.com/afyalink/careflow/internal/platform/writeguard"
)

// Service finalizes payments. Finalization is a multi-step sequence —
// receipt, ledger entry, invoice paid, workflow completed — and every step
// is keyed by the payment ID, so a crashed run resumes where it stopped
// instead of duplicating financial records.
type Service struct {
	payments  PaymentRepository
	receipts  ReceiptRepository
	ledger    LedgerRepository
	billing   *billing.Service
	workflows *workflow.Service
	guard     *writeguard.Guard
	recorder  *compliance.Recorder
	log       zerolog.Logger
}

func NewService(
	payments PaymentRepository,
	receipts ReceiptRepository,
	ledger LedgerRepository,
	billingSvc *billing.Service,
	workflows *workflow.Service,
	guard *writeguard.Guard,
	recorder *compliance.Recorder,
	log zerolog.Logger,
) *Service {
	return &Service{
		payments:  payments,
		receipts:  receipts,
		ledger:    ledger,
		billing:   billingSvc,
		workflows: workflows,
		guard:     guard,
		recorder:  recorder,
		log:       log,
	}
}

// CreatePaymentRequest registers a payment against an invoice.
type CreatePaymentRequest struct {
	InvoiceID uuid.UUID `json:"invoice_id"`
	Method    string    `json:"method"`
	PayerID   string    `json:"payer_id"`
}

// CreatePayment registers the payment and starts its PENDING workflow.
// The amount is taken from the invoice, never from the caller.
func (s *Service) CreatePayment(ctx context.Context, req CreatePaymentRequest, actor auth.Actor) (*Payment, error) {
	inv, err := s.billing.GetInvoice(ctx, req.InvoiceID)
	if err != nil {
		return nil, err
	}
	if inv.Status == billing.InvoicePaid {
		return nil, apperr.New(apperr.AlreadyFinalized, "invoice %s is already paid", inv.ID)
	}
	p := &Payment{
		ID:          uuid.New(),
		InvoiceID:   inv.ID,
		EncounterID: inv.EncounterID,
		PatientID:   inv.PatientID,
		Hospital:    inv.Hospital,
		AmountCents: inv.AmountCents,
		Currency:    inv.Currency,
		Method:      req.Method,
		PayerID:     req.PayerID,
	}
	err = db.InTx(ctx, func(txCtx context.Context) error {
		if err := s.payments.Create(txCtx, s.guard.Mint(p.ID.String()), p); err != nil {
			return err
		}
		tenant := db.TenantFromContext(ctx)
		_, err := s.workflows.Start(txCtx, p.ID, workflow.TypePayment, tenant, actor)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.recorder.Record(ctx, compliance.AppendRequest{
		Action:     "PAYMENT_CREATED",
		ActorID:    actor.ID,
		ActorRole:  actor.Role,
		Resource:   "Payment",
		ResourceID: p.ID.String(),
		Hospital:   p.Hospital,
		Metadata:   map[string]any{"invoiceId": inv.ID.String(), "amountCents": p.AmountCents},
	})
	return p, nil
}

// FinalizeResult is what a successful (or resumed) finalization returns.
type FinalizeResult struct {
	Payment     *Payment     `json:"payment"`
	Receipt     *Receipt     `json:"receipt"`
	LedgerEntry *LedgerEntry `json:"ledger_entry"`
	State       string       `json:"state"`
}

// FinalizePayment runs the finalization sequence for a PENDING payment:
// issue the receipt, post the ledger entry, mark the invoice paid, and
// complete the payment workflow. A payment whose workflow is already
// COMPLETED fails with AlreadyFinalized. Steps that already ran on a
// previous attempt are detected by the payment ID and skipped.
func (s *Service) FinalizePayment(ctx context.Context, paymentID uuid.UUID, actor auth.Actor) (*FinalizeResult, error) {
	p, err := s.payments.GetByID(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	rec, err := s.workflows.Get(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if rec.State == workflow.StateCompleted {
		return nil, apperr.New(apperr.AlreadyFinalized, "payment %s is already finalized", paymentID)
	}
	if rec.State != workflow.StatePending {
		return nil, apperr.New(apperr.InvalidTransition,
			"payment %s workflow is in state %s, expected PENDING", paymentID, rec.State)
	}

	now := time.Now().UTC()

	receipt, err := s.receipts.GetByPayment(ctx, paymentID)
	if apperr.Is(err, apperr.NotFound) {
		receipt = &Receipt{
			ReceiptNo:   newReceiptNo(now),
			PaymentID:   p.ID,
			InvoiceID:   p.InvoiceID,
			PatientID:   p.PatientID,
			Hospital:    p.Hospital,
			AmountCents: p.AmountCents,
			Currency:    p.Currency,
			Method:      p.Method,
			IssuedAt:    now,
		}
		err = s.receipts.Create(ctx, s.guard.Mint(p.ID.String()), receipt)
	} else if err == nil {
		s.log.Info().Str("payment_id", p.ID.String()).Str("receipt_no", receipt.ReceiptNo).
			Msg("resuming finalization with existing receipt")
	}
	if err != nil {
		return nil, fmt.Errorf("issue receipt for payment %s: %w", p.ID, err)
	}

	entry, err := s.ledger.GetByPayment(ctx, paymentID)
	if apperr.Is(err, apperr.NotFound) {
		entry = &LedgerEntry{
			PaymentID:   p.ID,
			PatientID:   p.PatientID,
			Hospital:    p.Hospital,
			Type:        EntryPayment,
			AmountCents: p.AmountCents,
			Reference:   receipt.ReceiptNo,
			Source:      p.Method,
			Description: fmt.Sprintf("payment for invoice %s", p.InvoiceID),
			Metadata: map[string]any{
				"invoiceId":   p.InvoiceID.String(),
				"encounterId": p.EncounterID.String(),
			},
			OccurredAt: now,
		}
		err = s.ledger.Create(ctx, s.guard.Mint(p.ID.String()), entry)
	}
	if err != nil {
		return nil, fmt.Errorf("post ledger entry for payment %s: %w", p.ID, err)
	}

	// A resumed run may find the invoice paid from the previous attempt.
	if err := s.billing.MarkInvoicePaid(ctx, p.InvoiceID, now); err != nil && !apperr.Is(err, apperr.AlreadyFinalized) {
		return nil, fmt.Errorf("mark invoice %s paid: %w", p.InvoiceID, err)
	}

	rec, err = s.workflows.Transition(ctx, paymentID, workflow.StateCompleted, actor, "payment finalized")
	if err != nil {
		return nil, err
	}

	s.recorder.Record(ctx, compliance.AppendRequest{
		Action:     "PAYMENT_FINALIZED",
		ActorID:    actor.ID,
		ActorRole:  actor.Role,
		Resource:   "Payment",
		ResourceID: p.ID.String(),
		Hospital:   p.Hospital,
		Metadata: map[string]any{
			"invoiceId":   p.InvoiceID.String(),
			"receiptNo":   receipt.ReceiptNo,
			"amountCents": p.AmountCents,
		},
	})

	return &FinalizeResult{
		Payment:     p,
		Receipt:     receipt,
		LedgerEntry: entry,
		State:       string(rec.State),
	}, nil
}

// GetPayment loads one payment.
func (s *Service) GetPayment(ctx context.Context, id uuid.UUID) (*Payment, error) {
	return s.payments.GetByID(ctx, id)
}

// ListReceipts pages a hospital's receipts.
func (s *Service) ListReceipts(ctx context.Context, hospital string, limit, offset int) ([]*Receipt, int, error) {
	return s.receipts.ListByHospital(ctx, hospital, limit, offset)
}

// ListLedgerEntries pages a hospital's ledger entries within an optional
// occurrence window.
func (s *Service) ListLedgerEntries(ctx context.Context, hospital string, from, to *time.Time, limit, offset int) ([]*LedgerEntry, int, error) {
	return s.ledger.List(ctx, hospital, from, to, limit, offset)
}

// newReceiptNo builds a receipt number like RCT-20260828-3f9a1c04. The
// random suffix keeps numbers unguessable; uniqueness is enforced by the
// receipt table.
func newReceiptNo(now time.Time) string {
	buf := make([]byte, 4)
	if _, err := rand.Read(buf); err != nil {
		// A process without crypto/rand must not issue financial documents.
		panic("finance: cannot read random receipt suffix: " + err.Error())
	}
	return fmt.Sprintf("RCT-%s-%s", now.Format("20060102"), hex.EncodeToString(buf))
}
