package clinical

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

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

// NewRepo returns the Postgres-backed clinical repository.
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

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func (r *repoPG) CreateEncounter(ctx context.Context, tok writeguard.Token, e *Encounter) error {
	if err := writeguard.Check(tok, "Encounter"); err != nil {
		return err
	}
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	e.CreatedAt = time.Now().UTC()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO encounter (id, patient_id, doctor_id, hospital, reason, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		e.ID, e.PatientID, e.DoctorID, e.Hospital, e.Reason, e.CreatedAt)
	return err
}

func (r *repoPG) GetEncounter(ctx context.Context, id uuid.UUID) (*Encounter, error) {
	e := &Encounter{}
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT id, patient_id, doctor_id, hospital, reason, created_at
		FROM encounter WHERE id = $1`, id).
		Scan(&e.ID, &e.PatientID, &e.DoctorID, &e.Hospital, &e.Reason, &e.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.New(apperr.NotFound, "encounter %s not found", id)
	}
	if err != nil {
		return nil, err
	}
	return e, nil
}

func (r *repoPG) ListEncounters(ctx context.Context, hospital string, limit, offset int) ([]*Encounter, int, error) {
	q := r.conn(ctx)
	var total int
	if err := q.QueryRow(ctx,
		`SELECT COUNT(*) FROM encounter WHERE hospital = $1`, hospital).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := q.Query(ctx, `
		SELECT id, patient_id, doctor_id, hospital, reason, created_at
		FROM encounter WHERE hospital = $1
		ORDER BY created_at DESC LIMIT $2 OFFSET $3`, hospital, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []*Encounter
	for rows.Next() {
		e := &Encounter{}
		if err := rows.Scan(&e.ID, &e.PatientID, &e.DoctorID, &e.Hospital, &e.Reason, &e.CreatedAt); err != nil {
			return nil, 0, err
		}
		out = append(out, e)
	}
	return out, total, rows.Err()
}

func (r *repoPG) CreateDiagnosis(ctx context.Context, tok writeguard.Token, d *Diagnosis) error {
	if err := writeguard.Check(tok, "Diagnosis"); err != nil {
		return err
	}
	d.ID = uuid.New()
	d.CreatedAt = time.Now().UTC()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO diagnosis (id, encounter_id, code, description, diagnosed_by, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		d.ID, d.EncounterID, d.Code, d.Description, d.DiagnosedBy, d.CreatedAt)
	if isUniqueViolation(err) {
		return apperr.Wrap(apperr.Conflict, err, "encounter %s already has a diagnosis", d.EncounterID)
	}
	return err
}

func (r *repoPG) GetDiagnosis(ctx context.Context, encounterID uuid.UUID) (*Diagnosis, error) {
	d := &Diagnosis{}
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT id, encounter_id, code, description, diagnosed_by, created_at
		FROM diagnosis WHERE encounter_id = $1`, encounterID).
		Scan(&d.ID, &d.EncounterID, &d.Code, &d.Description, &d.DiagnosedBy, &d.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.New(apperr.NotFound, "no diagnosis for encounter %s", encounterID)
	}
	if err != nil {
		return nil, err
	}
	return d, nil
}

func (r *repoPG) CreateLabOrder(ctx context.Context, tok writeguard.Token, o *LabOrder) error {
	if err := writeguard.Check(tok, "LabOrder"); err != nil {
		return err
	}
	o.ID = uuid.New()
	o.Status = LabOrdered
	o.CreatedAt = time.Now().UTC()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO lab_order (id, encounter_id, test_type, status, ordered_by, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		o.ID, o.EncounterID, o.TestType, o.Status, o.OrderedBy, o.CreatedAt)
	if isUniqueViolation(err) {
		return apperr.Wrap(apperr.Conflict, err, "encounter %s already has a lab order", o.EncounterID)
	}
	return err
}

func (r *repoPG) GetLabOrder(ctx context.Context, encounterID uuid.UUID) (*LabOrder, error) {
	o := &LabOrder{}
	var result, completedBy *string
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT id, encounter_id, test_type, status, result, ordered_by, completed_by, completed_at, created_at
		FROM lab_order WHERE encounter_id = $1`, encounterID).
		Scan(&o.ID, &o.EncounterID, &o.TestType, &o.Status, &result, &o.OrderedBy,
			&completedBy, &o.CompletedAt, &o.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.New(apperr.NotFound, "no lab order for encounter %s", encounterID)
	}
	if err != nil {
		return nil, err
	}
	if result != nil {
		o.Result = *result
	}
	if completedBy != nil {
		o.CompletedBy = *completedBy
	}
	return o, nil
}

func (r *repoPG) CompleteLabOrder(ctx context.Context, tok writeguard.Token, id uuid.UUID, result, completedBy string, completedAt time.Time) error {
	if err := writeguard.Check(tok, "LabOrder completion"); err != nil {
		return err
	}
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE lab_order SET status = $1, result = $2, completed_by = $3, completed_at = $4
		WHERE id = $5 AND status = $6`,
		LabCompleted, result, completedBy, completedAt, id, LabOrdered)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.New(apperr.Conflict, "lab order %s is already completed", id)
	}
	return nil
}

func (r *repoPG) CreatePrescription(ctx context.Context, tok writeguard.Token, p *Prescription) error {
	if err := writeguard.Check(tok, "Prescription"); err != nil {
		return err
	}
	p.ID = uuid.New()
	p.CreatedAt = time.Now().UTC()
	items, err := json.Marshal(p.Items)
	if err != nil {
		return fmt.Errorf("marshal prescription items: %w", err)
	}
	_, err = r.conn(ctx).Exec(ctx, `
		INSERT INTO prescription (id, encounter_id, items, prescribed_by, dispensed, created_at)
		VALUES ($1,$2,$3,$4,false,$5)`,
		p.ID, p.EncounterID, items, p.PrescribedBy, p.CreatedAt)
	if isUniqueViolation(err) {
		return apperr.Wrap(apperr.Conflict, err, "encounter %s already has a prescription", p.EncounterID)
	}
	return err
}

func (r *repoPG) GetPrescription(ctx context.Context, encounterID uuid.UUID) (*Prescription, error) {
	p := &Prescription{}
	var items []byte
	var dispensedBy *string
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT id, encounter_id, items, prescribed_by, dispensed, dispensed_by, dispensed_at, created_at
		FROM prescription WHERE encounter_id = $1`, encounterID).
		Scan(&p.ID, &p.EncounterID, &items, &p.PrescribedBy, &p.Dispensed,
			&dispensedBy, &p.DispensedAt, &p.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.New(apperr.NotFound, "no prescription for encounter %s", encounterID)
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(items, &p.Items); err != nil {
		return nil, fmt.Errorf("unmarshal prescription items: %w", err)
	}
	if dispensedBy != nil {
		p.DispensedBy = *dispensedBy
	}
	return p, nil
}

func (r *repoPG) MarkDispensed(ctx context.Context, tok writeguard.Token, id uuid.UUID, dispensedBy string, dispensedAt time.Time) error {
	if err := writeguard.Check(tok, "Prescription dispense"); err != nil {
		return err
	}
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE prescription SET dispensed = true, dispensed_by = $1, dispensed_at = $2
		WHERE id = $3 AND dispensed = false`,
		dispensedBy, dispensedAt, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.New(apperr.Conflict, "prescription %s is already dispensed", id)
	}
	return nil
}

func (r *repoPG) CreateAuthorization(ctx context.Context, tok writeguard.Token, a *InsuranceAuthorization) error {
	if err := writeguard.Check(tok, "InsuranceAuthorization"); err != nil {
		return err
	}
	a.ID = uuid.New()
	a.Status = AuthorizationPending
	a.CreatedAt = time.Now().UTC()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO insurance_authorization (id, encounter_id, provider, policy_number, status, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		a.ID, a.EncounterID, a.Provider, a.PolicyNumber, a.Status, a.CreatedAt)
	if isUniqueViolation(err) {
		return apperr.Wrap(apperr.Conflict, err,
			"encounter %s already has an insurance authorization", a.EncounterID)
	}
	return err
}

func (r *repoPG) GetAuthorization(ctx context.Context, encounterID uuid.UUID) (*InsuranceAuthorization, error) {
	a := &InsuranceAuthorization{}
	var decidedBy *string
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT id, encounter_id, provider, policy_number, status, decided_by, decided_at, created_at
		FROM insurance_authorization WHERE encounter_id = $1`, encounterID).
		Scan(&a.ID, &a.EncounterID, &a.Provider, &a.PolicyNumber, &a.Status,
			&decidedBy, &a.DecidedAt, &a.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.New(apperr.NotFound, "no insurance authorization for encounter %s", encounterID)
	}
	if err != nil {
		return nil, err
	}
	if decidedBy != nil {
		a.DecidedBy = *decidedBy
	}
	return a, nil
}

func (r *repoPG) DecideAuthorization(ctx context.Context, tok writeguard.Token, id uuid.UUID, status AuthorizationStatus, decidedBy string, decidedAt time.Time) error {
	if err := writeguard.Check(tok, "InsuranceAuthorization decision"); err != nil {
		return err
	}
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE insurance_authorization SET status = $1, decided_by = $2, decided_at = $3
		WHERE id = $4 AND status = $5`,
		status, decidedBy, decidedAt, id, AuthorizationPending)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.New(apperr.Conflict, "insurance authorization %s is already decided", id)
	}
	return nil
}
