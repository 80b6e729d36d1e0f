package finance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
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

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

type paymentRepoPG struct {
	pool *pgxpool.Pool
}

// NewPaymentRepo returns the Postgres-backed payment repository.
func NewPaymentRepo(pool *pgxpool.Pool) PaymentRepository {
	return &paymentRepoPG{pool: pool}
}

func (r *paymentRepoPG) Create(ctx context.Context, tok writeguard.Token, p *Payment) error {
	if err := writeguard.Check(tok, "Payment"); err != nil {
		return err
	}
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	p.CreatedAt = time.Now().UTC()
	_, err := resolve(ctx, r.pool).Exec(ctx, `
		INSERT INTO payment (id, invoice_id, encounter_id, patient_id, hospital,
			amount_cents, currency, method, payer_id, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		p.ID, p.InvoiceID, p.EncounterID, p.PatientID, p.Hospital,
		p.AmountCents, p.Currency, p.Method, p.PayerID, p.CreatedAt)
	return err
}

func (r *paymentRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Payment, error) {
	p := &Payment{}
	err := resolve(ctx, r.pool).QueryRow(ctx, `
		SELECT id, invoice_id, encounter_id, patient_id, hospital, amount_cents,
			currency, method, payer_id, created_at
		FROM payment WHERE id = $1`, id).
		Scan(&p.ID, &p.InvoiceID, &p.EncounterID, &p.PatientID, &p.Hospital, &p.AmountCents,
			&p.Currency, &p.Method, &p.PayerID, &p.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.New(apperr.NotFound, "payment %s not found", id)
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

type receiptRepoPG struct {
	pool *pgxpool.Pool
}

// NewReceiptRepo returns the Postgres-backed receipt repository.
func NewReceiptRepo(pool *pgxpool.Pool) ReceiptRepository {
	return &receiptRepoPG{pool: pool}
}

const receiptCols = `id, receipt_no, payment_id, invoice_id, patient_id, hospital,
	amount_cents, currency, method, issued_at`

func (r *receiptRepoPG) Create(ctx context.Context, tok writeguard.Token, rc *Receipt) error {
	if err := writeguard.Check(tok, "Receipt"); err != nil {
		return err
	}
	rc.ID = uuid.New()
	_, err := resolve(ctx, r.pool).Exec(ctx, `
		INSERT INTO receipt (id, receipt_no, payment_id, invoice_id, patient_id, hospital,
			amount_cents, currency, method, issued_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		rc.ID, rc.ReceiptNo, rc.PaymentID, rc.InvoiceID, rc.PatientID, rc.Hospital,
		rc.AmountCents, rc.Currency, rc.Method, rc.IssuedAt)
	if isUniqueViolation(err) {
		return apperr.Wrap(apperr.Conflict, err, "payment %s already has a receipt", rc.PaymentID)
	}
	return err
}

func (r *receiptRepoPG) GetByPayment(ctx context.Context, paymentID uuid.UUID) (*Receipt, error) {
	row := resolve(ctx, r.pool).QueryRow(ctx,
		`SELECT `+receiptCols+` FROM receipt WHERE payment_id = $1`, paymentID)
	rc := &Receipt{}
	err := row.Scan(&rc.ID, &rc.ReceiptNo, &rc.PaymentID, &rc.InvoiceID, &rc.PatientID,
		&rc.Hospital, &rc.AmountCents, &rc.Currency, &rc.Method, &rc.IssuedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.New(apperr.NotFound, "no receipt for payment %s", paymentID)
	}
	if err != nil {
		return nil, err
	}
	return rc, nil
}

func (r *receiptRepoPG) ListByHospital(ctx context.Context, hospital string, limit, offset int) ([]*Receipt, int, error) {
	q := resolve(ctx, r.pool)
	var total int
	if err := q.QueryRow(ctx,
		`SELECT COUNT(*) FROM receipt WHERE hospital = $1`, hospital).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := q.Query(ctx, `
		SELECT `+receiptCols+` FROM receipt
		WHERE hospital = $1 ORDER BY issued_at DESC LIMIT $2 OFFSET $3`,
		hospital, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []*Receipt
	for rows.Next() {
		rc := &Receipt{}
		if err := rows.Scan(&rc.ID, &rc.ReceiptNo, &rc.PaymentID, &rc.InvoiceID, &rc.PatientID,
			&rc.Hospital, &rc.AmountCents, &rc.Currency, &rc.Method, &rc.IssuedAt); err != nil {
			return nil, 0, err
		}
		out = append(out, rc)
	}
	return out, total, rows.Err()
}

type ledgerRepoPG struct {
	pool *pgxpool.Pool
}

// NewLedgerRepo returns the Postgres-backed financial ledger repository.
func NewLedgerRepo(pool *pgxpool.Pool) LedgerRepository {
	return &ledgerRepoPG{pool: pool}
}

const ledgerCols = `id, payment_id, patient_id, hospital, type, amount_cents,
	reference, source, description, metadata, occurred_at`

func (r *ledgerRepoPG) Create(ctx context.Context, tok writeguard.Token, e *LedgerEntry) error {
	if err := writeguard.Check(tok, "LedgerEntry"); err != nil {
		return err
	}
	e.ID = uuid.New()
	meta, err := json.Marshal(e.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	_, err = resolve(ctx, r.pool).Exec(ctx, `
		INSERT INTO ledger_entry (id, payment_id, patient_id, hospital, type, amount_cents,
			reference, source, description, metadata, occurred_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		e.ID, e.PaymentID, e.PatientID, e.Hospital, e.Type, e.AmountCents,
		e.Reference, e.Source, e.Description, meta, e.OccurredAt)
	if isUniqueViolation(err) {
		return apperr.Wrap(apperr.Conflict, err, "payment %s already has a ledger entry", e.PaymentID)
	}
	return err
}

func (r *ledgerRepoPG) GetByPayment(ctx context.Context, paymentID uuid.UUID) (*LedgerEntry, error) {
	row := resolve(ctx, r.pool).QueryRow(ctx,
		`SELECT `+ledgerCols+` FROM ledger_entry WHERE payment_id = $1`, paymentID)
	e := &LedgerEntry{}
	var meta []byte
	err := row.Scan(&e.ID, &e.PaymentID, &e.PatientID, &e.Hospital, &e.Type, &e.AmountCents,
		&e.Reference, &e.Source, &e.Description, &meta, &e.OccurredAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.New(apperr.NotFound, "no ledger entry for payment %s", paymentID)
	}
	if err != nil {
		return nil, err
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &e.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal metadata: %w", err)
		}
	}
	return e, nil
}

func (r *ledgerRepoPG) List(ctx context.Context, hospital string, from, to *time.Time, limit, offset int) ([]*LedgerEntry, int, error) {
	q := resolve(ctx, r.pool)
	where := `hospital = $1`
	args := []any{hospital}
	if from != nil {
		args = append(args, *from)
		where += ` AND occurred_at >= $2`
	}
	if to != nil {
		args = append(args, *to)
		if from != nil {
			where += ` AND occurred_at < $3`
		} else {
			where += ` AND occurred_at < $2`
		}
	}

	var total int
	if err := q.QueryRow(ctx,
		`SELECT COUNT(*) FROM ledger_entry WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	listArgs := append(append([]any{}, args...), limit, offset)
	rows, err := q.Query(ctx, `
		SELECT `+ledgerCols+` FROM ledger_entry WHERE `+where+`
		ORDER BY occurred_at DESC
		LIMIT $`+strconv.Itoa(len(args)+1)+` OFFSET $`+strconv.Itoa(len(args)+2), listArgs...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []*LedgerEntry
	for rows.Next() {
		e := &LedgerEntry{}
		var meta []byte
		if err := rows.Scan(&e.ID, &e.PaymentID, &e.PatientID, &e.Hospital, &e.Type, &e.AmountCents,
			&e.Reference, &e.Source, &e.Description, &meta, &e.OccurredAt); err != nil {
			return nil, 0, err
		}
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &e.Metadata); err != nil {
				return nil, 0, fmt.Errorf("unmarshal metadata: %w", err)
			}
		}
		out = append(out, e)
	}
	return out, total, rows.Err()
}
