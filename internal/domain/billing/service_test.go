package billing

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/afyalink/careflow/internal/domain/compliance"
	"github.com/afyalink/careflow/internal/platform/apperr"
	"github.com/afyalink/careflow/internal/platform/auth"
	"github.com/afyalink/careflow/internal/platform/telemetry"
	"github.com/afyalink/careflow/internal/platform/writeguard"
)

type memInvoiceRepo struct {
	mu       sync.Mutex
	invoices map[uuid.UUID]*Invoice
}

func (m *memInvoiceRepo) Create(_ context.Context, tok writeguard.Token, inv *Invoice) error {
	if err := writeguard.Check(tok, "Invoice"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.invoices {
		if existing.EncounterID == inv.EncounterID {
			return apperr.New(apperr.Conflict, "invoice already exists for encounter %s", inv.EncounterID)
		}
	}
	inv.ID = uuid.New()
	inv.Status = InvoiceUnpaid
	m.invoices[inv.ID] = inv
	return nil
}

func (m *memInvoiceRepo) GetByID(_ context.Context, id uuid.UUID) (*Invoice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inv, ok := m.invoices[id]
	if !ok {
		return nil, apperr.New(apperr.NotFound, "invoice not found for %s", id)
	}
	return inv, nil
}

func (m *memInvoiceRepo) GetByEncounter(_ context.Context, encounterID uuid.UUID) (*Invoice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, inv := range m.invoices {
		if inv.EncounterID == encounterID {
			return inv, nil
		}
	}
	return nil, apperr.New(apperr.NotFound, "invoice not found for %s", encounterID)
}

func (m *memInvoiceRepo) MarkPaid(_ context.Context, tok writeguard.Token, id uuid.UUID, paidAt time.Time) error {
	if err := writeguard.Check(tok, "Invoice payment"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	inv, ok := m.invoices[id]
	if !ok {
		return apperr.New(apperr.NotFound, "invoice not found for %s", id)
	}
	if inv.Status == InvoicePaid {
		return apperr.New(apperr.AlreadyFinalized, "invoice %s is already PAID", id)
	}
	inv.Status = InvoicePaid
	inv.PaidAt = &paidAt
	return nil
}

func (m *memInvoiceRepo) ListByHospital(_ context.Context, hospital string, limit, offset int) ([]*Invoice, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Invoice
	for _, inv := range m.invoices {
		if inv.Hospital == hospital {
			out = append(out, inv)
		}
	}
	return out, len(out), nil
}

type memTxRepo struct {
	mu  sync.Mutex
	txs map[uuid.UUID]*Transaction
}

func (m *memTxRepo) Create(_ context.Context, tok writeguard.Token, tx *Transaction) error {
	if err := writeguard.Check(tok, "BillingTransaction"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	tx.ID = uuid.New()
	if tx.Status == "" {
		tx.Status = TransactionPending
	}
	m.txs[tx.ID] = tx
	return nil
}

func (m *memTxRepo) SetStatus(_ context.Context, tok writeguard.Token, id uuid.UUID, status TransactionStatus) error {
	if err := writeguard.Check(tok, "BillingTransaction update"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	tx, ok := m.txs[id]
	if !ok {
		return apperr.New(apperr.NotFound, "billing transaction %s not found", id)
	}
	tx.Status = status
	return nil
}

func (m *memTxRepo) ListByEncounter(_ context.Context, encounterID uuid.UUID) ([]*Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Transaction
	for _, tx := range m.txs {
		if tx.EncounterID == encounterID {
			out = append(out, tx)
		}
	}
	return out, nil
}

func (m *memTxRepo) CountUnsettled(_ context.Context, encounterID uuid.UUID) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, tx := range m.txs {
		if tx.EncounterID == encounterID && tx.Status != TransactionSuccess {
			n++
		}
	}
	return n, nil
}

type nopComplianceRepo struct{}

func (nopComplianceRepo) Insert(_ context.Context, tok writeguard.Token, e *compliance.Entry) error {
	return writeguard.Check(tok, "ComplianceLedgerEntry")
}
func (nopComplianceRepo) Latest(_ context.Context, tenantKey string) (*compliance.Entry, error) {
	return nil, nil
}
func (nopComplianceRepo) ListChain(_ context.Context, tenantKey string) ([]*compliance.Entry, error) {
	return nil, nil
}
func (nopComplianceRepo) List(_ context.Context, tenantKey string, limit, offset int) ([]*compliance.Entry, int, error) {
	return nil, 0, nil
}

var cashier = auth.Actor{ID: "ca-1", Role: "cashier", Hospital: "h1"}

func newTestService() *Service {
	guard := writeguard.New()
	recorder := compliance.NewRecorder(
		compliance.NewService(nopComplianceRepo{}, guard, 5), zerolog.Nop(), telemetry.NewRegistry())
	return NewService(
		&memInvoiceRepo{invoices: map[uuid.UUID]*Invoice{}},
		&memTxRepo{txs: map[uuid.UUID]*Transaction{}},
		guard, recorder)
}

func TestCreateInvoice(t *testing.T) {
	svc := newTestService()
	encounterID := uuid.New()

	inv, err := svc.CreateInvoice(context.Background(), CreateInvoiceRequest{
		EncounterID: encounterID, AmountCents: 5000,
	}, cashier)
	if err != nil {
		t.Fatal(err)
	}
	if inv.Status != InvoiceUnpaid {
		t.Fatalf("status = %s, want UNPAID", inv.Status)
	}
	if inv.Currency != "KES" {
		t.Fatalf("currency = %s, want default KES", inv.Currency)
	}

	_, err = svc.CreateInvoice(context.Background(), CreateInvoiceRequest{
		EncounterID: encounterID, AmountCents: 5000,
	}, cashier)
	if !apperr.Is(err, apperr.Conflict) {
		t.Fatalf("second invoice = %v, want Conflict", err)
	}
}

func TestCreateInvoiceRejectsNonPositiveAmount(t *testing.T) {
	svc := newTestService()
	_, err := svc.CreateInvoice(context.Background(), CreateInvoiceRequest{
		EncounterID: uuid.New(), AmountCents: 0,
	}, cashier)
	if !apperr.Is(err, apperr.PreconditionFailed) {
		t.Fatalf("zero amount = %v, want PreconditionFailed", err)
	}
}

func TestMarkInvoicePaidOnlyOnce(t *testing.T) {
	svc := newTestService()
	inv, err := svc.CreateInvoice(context.Background(), CreateInvoiceRequest{
		EncounterID: uuid.New(), AmountCents: 5000,
	}, cashier)
	if err != nil {
		t.Fatal(err)
	}

	now := time.Now().UTC()
	if err := svc.MarkInvoicePaid(context.Background(), inv.ID, now); err != nil {
		t.Fatal(err)
	}
	err = svc.MarkInvoicePaid(context.Background(), inv.ID, now)
	if !apperr.Is(err, apperr.AlreadyFinalized) {
		t.Fatalf("second MarkPaid = %v, want AlreadyFinalized", err)
	}
}

func TestRequireSettled(t *testing.T) {
	svc := newTestService()
	encounterID := uuid.New()
	ctx := context.Background()

	if err := svc.RequireSettled(ctx, encounterID); err != nil {
		t.Fatalf("no transactions should pass: %v", err)
	}

	tx, err := svc.RecordTransaction(ctx, RecordTransactionRequest{
		EncounterID: encounterID, AmountCents: 5000, Method: "cash",
	}, cashier)
	if err != nil {
		t.Fatal(err)
	}
	if err := svc.RequireSettled(ctx, encounterID); !apperr.Is(err, apperr.PreconditionFailed) {
		t.Fatalf("pending transaction = %v, want PreconditionFailed", err)
	}

	if err := svc.SettleTransaction(ctx, tx.ID, TransactionFailed, cashier); err != nil {
		t.Fatal(err)
	}
	if err := svc.RequireSettled(ctx, encounterID); !apperr.Is(err, apperr.PreconditionFailed) {
		t.Fatalf("failed transaction = %v, want PreconditionFailed", err)
	}

	if err := svc.SettleTransaction(ctx, tx.ID, TransactionSuccess, cashier); err != nil {
		t.Fatal(err)
	}
	if err := svc.RequireSettled(ctx, encounterID); err != nil {
		t.Fatalf("settled transaction should pass: %v", err)
	}
}

func TestSettleTransactionValidatesStatus(t *testing.T) {
	svc := newTestService()
	err := svc.SettleTransaction(context.Background(), uuid.New(), TransactionPending, cashier)
	if !apperr.Is(err, apperr.PreconditionFailed) {
		t.Fatalf("settling to pending = %v, want PreconditionFailed", err)
	}
}
