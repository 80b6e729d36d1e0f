package clinical

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/afyalink/careflow/internal/domain/billing"
	"github.com/afyalink/careflow/internal/domain/compliance"
	"github.com/afyalink/careflow/internal/domain/workflow"
	"github.com/afyalink/careflow/internal/platform/apperr"
	"github.com/afyalink/careflow/internal/platform/auth"
	"github.com/afyalink/careflow/internal/platform/db"
	"github.com/afyalink/careflow/internal/platform/writeguard"
)

// Service is the clinical orchestrator. Every operation follows the same
// shape: require the workflow to be in the right state, create or update
// the guarded record, commit the workflow transition, then append to the
// compliance ledger best-effort. Record and transition run inside one
// transaction so a lost workflow race rolls the record back.
type Service struct {
	repo      Repository
	workflows *workflow.Service
	billing   *billing.Service
	guard     *writeguard.Guard
	recorder  *compliance.Recorder
}

func NewService(repo Repository, workflows *workflow.Service, billingSvc *billing.Service, guard *writeguard.Guard, recorder *compliance.Recorder) *Service {
	return &Service{
		repo:      repo,
		workflows: workflows,
		billing:   billingSvc,
		guard:     guard,
		recorder:  recorder,
	}
}

func (s *Service) record(ctx context.Context, action, resource, resourceID string, actor auth.Actor, meta map[string]any) {
	s.recorder.Record(ctx, compliance.AppendRequest{
		Action:     action,
		ActorID:    actor.ID,
		ActorRole:  actor.Role,
		Resource:   resource,
		ResourceID: resourceID,
		Hospital:   actor.Hospital,
		Metadata:   meta,
	})
}

// StartEncounterRequest opens a visit.
type StartEncounterRequest struct {
	PatientID string `json:"patient_id"`
	Reason    string `json:"reason"`
}

// StartEncounter creates the encounter and its workflow record in
// ENCOUNTER_STARTED.
func (s *Service) StartEncounter(ctx context.Context, req StartEncounterRequest, actor auth.Actor) (*Encounter, error) {
	if req.PatientID == "" {
		return nil, apperr.New(apperr.PreconditionFailed, "patient id is required")
	}
	enc := &Encounter{
		ID:        uuid.New(),
		PatientID: req.PatientID,
		DoctorID:  actor.ID,
		Hospital:  actor.Hospital,
		Reason:    req.Reason,
	}
	err := db.InTx(ctx, func(txCtx context.Context) error {
		if err := s.repo.CreateEncounter(txCtx, s.guard.Mint(enc.ID.String()), enc); err != nil {
			return err
		}
		tenant := db.TenantFromContext(ctx)
		_, err := s.workflows.Start(txCtx, enc.ID, workflow.TypeClinical, tenant, actor)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.record(ctx, "ENCOUNTER_STARTED", "Encounter", enc.ID.String(), actor,
		map[string]any{"patientId": req.PatientID})
	return enc, nil
}

// GetEncounter loads one encounter.
func (s *Service) GetEncounter(ctx context.Context, id uuid.UUID) (*Encounter, error) {
	return s.repo.GetEncounter(ctx, id)
}

// ListEncounters pages a hospital's encounters.
func (s *Service) ListEncounters(ctx context.Context, hospital string, limit, offset int) ([]*Encounter, int, error) {
	return s.repo.ListEncounters(ctx, hospital, limit, offset)
}

// CreateDiagnosisRequest records the doctor's finding.
type CreateDiagnosisRequest struct {
	Code        string `json:"code"`
	Description string `json:"description"`
}

// CreateDiagnosis moves ENCOUNTER_STARTED -> DIAGNOSED.
func (s *Service) CreateDiagnosis(ctx context.Context, encounterID uuid.UUID, req CreateDiagnosisRequest, actor auth.Actor) (*Diagnosis, error) {
	if _, err := s.workflows.Require(ctx, encounterID, workflow.StateEncounterStarted); err != nil {
		return nil, err
	}
	d := &Diagnosis{
		EncounterID: encounterID,
		Code:        req.Code,
		Description: req.Description,
		DiagnosedBy: actor.ID,
	}
	err := db.InTx(ctx, func(txCtx context.Context) error {
		if err := s.repo.CreateDiagnosis(txCtx, s.guard.Mint(encounterID.String()), d); err != nil {
			return err
		}
		_, err := s.workflows.Transition(txCtx, encounterID, workflow.StateDiagnosed, actor, "diagnosis recorded")
		return err
	})
	if err != nil {
		return nil, err
	}
	s.record(ctx, "DIAGNOSIS_CREATED", "Diagnosis", d.ID.String(), actor,
		map[string]any{"encounterId": encounterID.String(), "code": req.Code})
	return d, nil
}

// OrderLabRequest orders a test.
type OrderLabRequest struct {
	TestType string `json:"test_type"`
}

// OrderLab moves DIAGNOSED -> LAB_ORDERED.
func (s *Service) OrderLab(ctx context.Context, encounterID uuid.UUID, req OrderLabRequest, actor auth.Actor) (*LabOrder, error) {
	if _, err := s.workflows.Require(ctx, encounterID, workflow.StateDiagnosed); err != nil {
		return nil, err
	}
	o := &LabOrder{
		EncounterID: encounterID,
		TestType:    req.TestType,
		OrderedBy:   actor.ID,
	}
	err := db.InTx(ctx, func(txCtx context.Context) error {
		if err := s.repo.CreateLabOrder(txCtx, s.guard.Mint(encounterID.String()), o); err != nil {
			return err
		}
		_, err := s.workflows.Transition(txCtx, encounterID, workflow.StateLabOrdered, actor, "lab ordered")
		return err
	})
	if err != nil {
		return nil, err
	}
	s.record(ctx, "LAB_ORDERED", "LabOrder", o.ID.String(), actor,
		map[string]any{"encounterId": encounterID.String(), "testType": req.TestType})
	return o, nil
}

// CompleteLabRequest records the result.
type CompleteLabRequest struct {
	Result string `json:"result"`
}

// CompleteLab moves LAB_ORDERED -> LAB_COMPLETED. Completing twice is a
// Conflict even if the workflow check raced.
func (s *Service) CompleteLab(ctx context.Context, encounterID uuid.UUID, req CompleteLabRequest, actor auth.Actor) (*LabOrder, error) {
	if _, err := s.workflows.Require(ctx, encounterID, workflow.StateLabOrdered); err != nil {
		return nil, err
	}
	o, err := s.repo.GetLabOrder(ctx, encounterID)
	if err != nil {
		return nil, err
	}
	completedAt := time.Now().UTC()
	err = db.InTx(ctx, func(txCtx context.Context) error {
		if err := s.repo.CompleteLabOrder(txCtx, s.guard.Mint(encounterID.String()), o.ID, req.Result, actor.ID, completedAt); err != nil {
			return err
		}
		_, err := s.workflows.Transition(txCtx, encounterID, workflow.StateLabCompleted, actor, "lab completed")
		return err
	})
	if err != nil {
		return nil, err
	}
	o.Status = LabCompleted
	o.Result = req.Result
	o.CompletedBy = actor.ID
	o.CompletedAt = &completedAt
	s.record(ctx, "LAB_COMPLETED", "LabOrder", o.ID.String(), actor,
		map[string]any{"encounterId": encounterID.String()})
	return o, nil
}

// CreatePrescriptionRequest carries the medication list.
type CreatePrescriptionRequest struct {
	Items []PrescriptionItem `json:"items"`
}

// CreatePrescription moves LAB_COMPLETED -> PRESCRIPTION_CREATED.
func (s *Service) CreatePrescription(ctx context.Context, encounterID uuid.UUID, req CreatePrescriptionRequest, actor auth.Actor) (*Prescription, error) {
	if _, err := s.workflows.Require(ctx, encounterID, workflow.StateLabCompleted); err != nil {
		return nil, err
	}
	if len(req.Items) == 0 {
		return nil, apperr.New(apperr.PreconditionFailed, "prescription needs at least one item")
	}
	p := &Prescription{
		EncounterID:  encounterID,
		Items:        req.Items,
		PrescribedBy: actor.ID,
	}
	err := db.InTx(ctx, func(txCtx context.Context) error {
		if err := s.repo.CreatePrescription(txCtx, s.guard.Mint(encounterID.String()), p); err != nil {
			return err
		}
		_, err := s.workflows.Transition(txCtx, encounterID, workflow.StatePrescriptionCreated, actor, "prescription created")
		return err
	})
	if err != nil {
		return nil, err
	}
	s.record(ctx, "PRESCRIPTION_CREATED", "Prescription", p.ID.String(), actor,
		map[string]any{"encounterId": encounterID.String(), "items": len(req.Items)})
	return p, nil
}

// Dispense moves PRESCRIPTION_CREATED -> DISPENSED. Medication only leaves
// the pharmacy against an APPROVED insurance authorization on file.
func (s *Service) Dispense(ctx context.Context, encounterID uuid.UUID, actor auth.Actor) (*Prescription, error) {
	if _, err := s.workflows.Require(ctx, encounterID, workflow.StatePrescriptionCreated); err != nil {
		return nil, err
	}
	if err := s.requireInsuranceApproved(ctx, encounterID, false); err != nil {
		return nil, err
	}
	p, err := s.repo.GetPrescription(ctx, encounterID)
	if err != nil {
		return nil, err
	}
	dispensedAt := time.Now().UTC()
	err = db.InTx(ctx, func(txCtx context.Context) error {
		if err := s.repo.MarkDispensed(txCtx, s.guard.Mint(encounterID.String()), p.ID, actor.ID, dispensedAt); err != nil {
			return err
		}
		_, err := s.workflows.Transition(txCtx, encounterID, workflow.StateDispensed, actor, "medication dispensed")
		return err
	})
	if err != nil {
		return nil, err
	}
	p.Dispensed = true
	p.DispensedBy = actor.ID
	p.DispensedAt = &dispensedAt
	s.record(ctx, "MEDICATION_DISPENSED", "Prescription", p.ID.String(), actor,
		map[string]any{"encounterId": encounterID.String()})
	return p, nil
}

// CloseEncounter moves DISPENSED or DIAGNOSED -> CLOSED. Close is refused
// while billing transactions are unsettled or an existing insurance
// authorization is undecided or rejected.
func (s *Service) CloseEncounter(ctx context.Context, encounterID uuid.UUID, actor auth.Actor) (*workflow.Record, error) {
	if _, err := s.workflows.Require(ctx, encounterID, workflow.StateDispensed, workflow.StateDiagnosed); err != nil {
		return nil, err
	}
	if err := s.billing.RequireSettled(ctx, encounterID); err != nil {
		return nil, err
	}
	// Uninsured encounters close without an authorization; an existing one
	// must be APPROVED.
	if err := s.requireInsuranceApproved(ctx, encounterID, true); err != nil {
		return nil, err
	}
	rec, err := s.workflows.Transition(ctx, encounterID, workflow.StateClosed, actor, "encounter closed")
	if err != nil {
		return nil, err
	}
	s.record(ctx, "ENCOUNTER_CLOSED", "Encounter", encounterID.String(), actor, nil)
	return rec, nil
}

// requireInsuranceApproved fails with PreconditionFailed unless the
// encounter has an APPROVED authorization. With allowMissing, an encounter
// carrying no authorization at all passes.
func (s *Service) requireInsuranceApproved(ctx context.Context, encounterID uuid.UUID, allowMissing bool) error {
	a, err := s.repo.GetAuthorization(ctx, encounterID)
	if apperr.Is(err, apperr.NotFound) {
		if allowMissing {
			return nil
		}
		return apperr.New(apperr.PreconditionFailed,
			"no approved insurance authorization on file for encounter %s", encounterID)
	}
	if err != nil {
		return err
	}
	if a.Status != AuthorizationApproved {
		return apperr.New(apperr.PreconditionFailed,
			"insurance authorization for encounter %s is %s, not APPROVED", encounterID, a.Status)
	}
	return nil
}

// RequestAuthorizationRequest asks the insurer to cover the encounter.
type RequestAuthorizationRequest struct {
	Provider     string `json:"provider"`
	PolicyNumber string `json:"policy_number"`
}

// RequestAuthorization files a PENDING authorization for the encounter.
func (s *Service) RequestAuthorization(ctx context.Context, encounterID uuid.UUID, req RequestAuthorizationRequest, actor auth.Actor) (*InsuranceAuthorization, error) {
	if _, err := s.workflows.Get(ctx, encounterID); err != nil {
		return nil, err
	}
	a := &InsuranceAuthorization{
		EncounterID:  encounterID,
		Provider:     req.Provider,
		PolicyNumber: req.PolicyNumber,
	}
	if err := s.repo.CreateAuthorization(ctx, s.guard.Mint(encounterID.String()), a); err != nil {
		return nil, err
	}
	s.record(ctx, "INSURANCE_AUTHORIZATION_REQUESTED", "InsuranceAuthorization", a.ID.String(), actor,
		map[string]any{"encounterId": encounterID.String(), "provider": req.Provider})
	return a, nil
}

// DecideAuthorization records the insurer's APPROVED or REJECTED decision.
func (s *Service) DecideAuthorization(ctx context.Context, encounterID uuid.UUID, status AuthorizationStatus, actor auth.Actor) (*InsuranceAuthorization, error) {
	if status != AuthorizationApproved && status != AuthorizationRejected {
		return nil, apperr.New(apperr.PreconditionFailed,
			"authorizations are decided to APPROVED or REJECTED, not %q", status)
	}
	a, err := s.repo.GetAuthorization(ctx, encounterID)
	if err != nil {
		return nil, err
	}
	decidedAt := time.Now().UTC()
	if err := s.repo.DecideAuthorization(ctx, s.guard.Mint(encounterID.String()), a.ID, status, actor.ID, decidedAt); err != nil {
		return nil, err
	}
	a.Status = status
	a.DecidedBy = actor.ID
	a.DecidedAt = &decidedAt
	s.record(ctx, "INSURANCE_AUTHORIZATION_DECIDED", "InsuranceAuthorization", a.ID.String(), actor,
		map[string]any{"encounterId": encounterID.String(), "status": string(status)})
	return a, nil
}
