package compliance

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

// NewRepo returns the Postgres-backed compliance ledger repository.
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

const entryCols = `id, tenant_key, chain_index, prev_hash, entry_hash, action,
	actor_id, actor_role, resource, resource_id, hospital, metadata, recorded_at`

func (r *repoPG) Insert(ctx context.Context, tok writeguard.Token, e *Entry) error {
	if err := writeguard.Check(tok, "ComplianceLedgerEntry"); err != nil {
		return err
	}
	e.ID = uuid.New()
	meta, err := json.Marshal(e.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	_, err = r.conn(ctx).Exec(ctx, `
		INSERT INTO compliance_ledger (
			id, tenant_key, chain_index, prev_hash, entry_hash, action,
			actor_id, actor_role, resource, resource_id, hospital, metadata, recorded_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`,
		e.ID, e.TenantKey, e.ChainIndex, e.PrevHash, e.EntryHash, e.Action,
		e.ActorID, e.ActorRole, e.Resource, e.ResourceID, e.Hospital, meta, e.RecordedAt,
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return apperr.Wrap(apperr.Conflict, err,
			"chain index %d already taken for %s", e.ChainIndex, e.TenantKey)
	}
	return err
}

func (r *repoPG) Latest(ctx context.Context, tenantKey string) (*Entry, error) {
	row := r.conn(ctx).QueryRow(ctx, `
		SELECT `+entryCols+` FROM compliance_ledger
		WHERE tenant_key = $1 ORDER BY chain_index DESC LIMIT 1`, tenantKey)
	e, err := scanEntry(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return e, err
}

func (r *repoPG) ListChain(ctx context.Context, tenantKey string) ([]*Entry, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+entryCols+` FROM compliance_ledger
		WHERE tenant_key = $1 ORDER BY chain_index ASC`, tenantKey)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (r *repoPG) List(ctx context.Context, tenantKey string, limit, offset int) ([]*Entry, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM compliance_ledger WHERE tenant_key = $1`, tenantKey).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+entryCols+` FROM compliance_ledger
		WHERE tenant_key = $1 ORDER BY chain_index DESC LIMIT $2 OFFSET $3`,
		tenantKey, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, 0, err
		}
		entries = append(entries, e)
	}
	return entries, total, rows.Err()
}

func scanEntry(row pgx.Row) (*Entry, error) {
	e := &Entry{}
	var meta []byte
	err := row.Scan(&e.ID, &e.TenantKey, &e.ChainIndex, &e.PrevHash, &e.EntryHash,
		&e.Action, &e.ActorID, &e.ActorRole, &e.Resource, &e.ResourceID,
		&e.Hospital, &meta, &e.RecordedAt)
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
