package billing

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/afyalink/careflow/internal/platform/apperr"
	"github.com/afyalink/careflow/internal/platform/db"
	"github.com/afyalink/careflow/internal/platform/writeguard"
)

type querier interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

func resolve(ctx context.Context, pool *pgxpool.Pool) querier {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return pool
}

type invoiceRepoPG struct {
	pool *pgxpool.Pool
}

// NewInvoiceRepo returns the Postgres-backed invoice repository.
func NewInvoiceRepo(pool *pgxpool.Pool) InvoiceRepository {
	return &invoiceRepoPG{pool: pool}
}

const invoiceCols = `id, encounter_id, patient_id, hospital, amount_cents, currency,
	status, paid_at, created_at, updated_at`

func (r *invoiceRepoPG) Create(ctx context.Context, tok writeguard.Token, inv *Invoice) error {
	if err := writeguard.Check(tok, "Invoice"); err != nil {
		return err
	}
	inv.ID = uuid.New()
	now := time.Now().UTC()
	inv.Status = InvoiceUnpaid
	inv.CreatedAt = now
	inv.UpdatedAt = now
	_, err := resolve(ctx, r.pool).Exec(ctx, `
		INSERT INTO invoice (id, encounter_id, patient_id, hospital, amount_cents,
			currency, status, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		inv.ID, inv.EncounterID, inv.PatientID, inv.Hospital, inv.AmountCents,
		inv.Currency, inv.Status, inv.CreatedAt, inv.UpdatedAt,
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return apperr.Wrap(apperr.Conflict, err, "invoice already exists for encounter %s", inv.EncounterID)
	}
	return err
}

func (r *invoiceRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Invoice, error) {
	row := resolve(ctx, r.pool).QueryRow(ctx,
		`SELECT `+invoiceCols+` FROM invoice WHERE id = $1`, id)
	return scanInvoice(row, id.String())
}

func (r *invoiceRepoPG) GetByEncounter(ctx context.Context, encounterID uuid.UUID) (*Invoice, error) {
	row := resolve(ctx, r.pool).QueryRow(ctx,
		`SELECT `+invoiceCols+` FROM invoice WHERE encounter_id = $1`, encounterID)
	return scanInvoice(row, encounterID.String())
}

func (r *invoiceRepoPG) MarkPaid(ctx context.Context, tok writeguard.Token, id uuid.UUID, paidAt time.Time) error {
	if err := writeguard.Check(tok, "Invoice payment"); err != nil {
		return err
	}
	tag, err := resolve(ctx, r.pool).Exec(ctx, `
		UPDATE invoice SET status = $1, paid_at = $2, updated_at = $3
		WHERE id = $4 AND status = $5`,
		InvoicePaid, paidAt, time.Now().UTC(), id, InvoiceUnpaid,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		inv, err := r.GetByID(ctx, id)
		if err != nil {
			return err
		}
		return apperr.New(apperr.AlreadyFinalized, "invoice %s is already %s", id, inv.Status)
	}
	return nil
}

func (r *invoiceRepoPG) ListByHospital(ctx context.Context, hospital string, limit, offset int) ([]*Invoice, int, error) {
	q := resolve(ctx, r.pool)
	var total int
	if err := q.QueryRow(ctx,
		`SELECT COUNT(*) FROM invoice WHERE hospital = $1`, hospital).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := q.Query(ctx, `
		SELECT `+invoiceCols+` FROM invoice
		WHERE hospital = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
		hospital, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []*Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows, hospital)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, inv)
	}
	return out, total, rows.Err()
}

func scanInvoice(row pgx.Row, ref string) (*Invoice, error) {
	inv := &Invoice{}
	err := row.Scan(&inv.ID, &inv.EncounterID, &inv.PatientID, &inv.Hospital,
		&inv.AmountCents, &inv.Currency, &inv.Status, &inv.PaidAt,
		&inv.CreatedAt, &inv.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.New(apperr.NotFound, "invoice not found for %s", ref)
	}
	if err != nil {
		return nil, err
	}
	return inv, nil
}

type txRepoPG struct {
	pool *pgxpool.Pool
}

// NewTransactionRepo returns the Postgres-backed transaction repository.
func NewTransactionRepo(pool *pgxpool.Pool) TransactionRepository {
	return &txRepoPG{pool: pool}
}

const txCols = `id, encounter_id, hospital, amount_cents, method, reference,
	status, created_at, updated_at`

func (r *txRepoPG) Create(ctx context.Context, tok writeguard.Token, tx *Transaction) error {
	if err := writeguard.Check(tok, "BillingTransaction"); err != nil {
		return err
	}
	tx.ID = uuid.New()
	now := time.Now().UTC()
	tx.CreatedAt = now
	tx.UpdatedAt = now
	if tx.Status == "" {
		tx.Status = TransactionPending
	}
	_, err := resolve(ctx, r.pool).Exec(ctx, `
		INSERT INTO billing_transaction (id, encounter_id, hospital, amount_cents,
			method, reference, status, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		tx.ID, tx.EncounterID, tx.Hospital, tx.AmountCents,
		tx.Method, tx.Reference, tx.Status, tx.CreatedAt, tx.UpdatedAt,
	)
	return err
}

func (r *txRepoPG) SetStatus(ctx context.Context, tok writeguard.Token, id uuid.UUID, status TransactionStatus) error {
	if err := writeguard.Check(tok, "BillingTransaction update"); err != nil {
		return err
	}
	tag, err := resolve(ctx, r.pool).Exec(ctx, `
		UPDATE billing_transaction SET status = $1, updated_at = $2 WHERE id = $3`,
		status, time.Now().UTC(), id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.New(apperr.NotFound, "billing transaction %s not found", id)
	}
	return nil
}

func (r *txRepoPG) ListByEncounter(ctx context.Context, encounterID uuid.UUID) ([]*Transaction, error) {
	rows, err := resolve(ctx, r.pool).Query(ctx, `
		SELECT `+txCols+` FROM billing_transaction
		WHERE encounter_id = $1 ORDER BY created_at ASC`, encounterID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Transaction
	for rows.Next() {
		tx := &Transaction{}
		if err := rows.Scan(&tx.ID, &tx.EncounterID, &tx.Hospital, &tx.AmountCents,
			&tx.Method, &tx.Reference, &tx.Status, &tx.CreatedAt, &tx.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, tx)
	}
	return out, rows.Err()
}

func (r *txRepoPG) CountUnsettled(ctx context.Context, encounterID uuid.UUID) (int, error) {
	var n int
	err := resolve(ctx, r.pool).QueryRow(ctx, `
		SELECT COUNT(*) FROM billing_transaction
		WHERE encounter_id = $1 AND status <> $2`,
		encounterID, TransactionSuccess).Scan(&n)
	return n, err
}
