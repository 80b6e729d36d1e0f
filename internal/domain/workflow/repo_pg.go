package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/afyalink/careflow/internal/platform/apperr"
	"github.com/afyalink/careflow/internal/platform/db"
	"github.com/afyalink/careflow/internal/platform/writeguard"
)

type repoPG struct {
	pool *pgxpool.Pool
}

// NewRepo returns the Postgres-backed workflow repository.
func NewRepo(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

func (r *repoPG) conn(ctx context.Context) querier {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

func (r *repoPG) Create(ctx context.Context, tok writeguard.Token, rec *Record) error {
	if err := writeguard.Check(tok, "WorkflowRecord"); err != nil {
		return err
	}
	rec.ID = uuid.New()
	history, err := json.Marshal(rec.History)
	if err != nil {
		return fmt.Errorf("marshal history: %w", err)
	}
	_, err = r.conn(ctx).Exec(ctx, `
		INSERT INTO workflow_record (id, subject_id, type, state, history, tenant_id, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, 1, $7, $8)`,
		rec.ID, rec.SubjectID, rec.Type, rec.State, history, rec.TenantID, rec.CreatedAt, rec.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return apperr.Wrap(apperr.Conflict, err, "workflow already exists for subject %s", rec.SubjectID)
	}
	if err != nil {
		return err
	}
	rec.Version = 1
	return nil
}

func (r *repoPG) GetBySubject(ctx context.Context, subjectID uuid.UUID) (*Record, error) {
	row := r.conn(ctx).QueryRow(ctx, `
		SELECT id, subject_id, type, state, history, tenant_id, version, created_at, updated_at
		FROM workflow_record WHERE subject_id = $1`, subjectID)

	rec := &Record{}
	var history []byte
	err := row.Scan(&rec.ID, &rec.SubjectID, &rec.Type, &rec.State, &history,
		&rec.TenantID, &rec.Version, &rec.CreatedAt, &rec.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.New(apperr.NotFound, "no workflow for subject %s", subjectID)
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(history, &rec.History); err != nil {
		return nil, fmt.Errorf("unmarshal history: %w", err)
	}
	return rec, nil
}

func (r *repoPG) UpdateState(ctx context.Context, tok writeguard.Token, rec *Record, expectedVersion int) error {
	if err := writeguard.Check(tok, "WorkflowRecord"); err != nil {
		return err
	}
	history, err := json.Marshal(rec.History)
	if err != nil {
		return fmt.Errorf("marshal history: %w", err)
	}
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE workflow_record
		SET state = $2, history = $3, version = version + 1, updated_at = NOW()
		WHERE id = $1 AND version = $4`,
		rec.ID, rec.State, history, expectedVersion,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.New(apperr.Conflict, "workflow %s was advanced concurrently", rec.SubjectID)
	}
	rec.Version = expectedVersion + 1
	return nil
}

// isUniqueViolation reports whether err is a Postgres 23505 unique violation.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
