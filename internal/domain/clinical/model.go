package clinical

import (
	"time"

	"github.com/google/uuid"
)

// Encounter is one patient visit. Its lifecycle lives in the workflow
// record keyed by the encounter ID; the encounter row itself only carries
// the clinical facts.
type Encounter struct {
	ID        uuid.UUID `db:"id" json:"id"`
	PatientID string    `db:"patient_id" json:"patient_id"`
	DoctorID  string    `db:"doctor_id" json:"doctor_id"`
	Hospital  string    `db:"hospital" json:"hospital"`
	Reason    string    `db:"reason" json:"reason,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Diagnosis records the doctor's finding. One per encounter.
type Diagnosis struct {
	ID          uuid.UUID `db:"id" json:"id"`
	EncounterID uuid.UUID `db:"encounter_id" json:"encounter_id"`
	Code        string    `db:"code" json:"code"`
	Description string    `db:"description" json:"description"`
	DiagnosedBy string    `db:"diagnosed_by" json:"diagnosed_by"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

// LabOrderStatus is the state of a lab order.
type LabOrderStatus string

const (
	LabOrdered   LabOrderStatus = "ORDERED"
	LabCompleted LabOrderStatus = "COMPLETED"
)

// LabOrder is one test ordered for an encounter. One per encounter;
// completing it a second time is a Conflict.
type LabOrder struct {
	ID          uuid.UUID      `db:"id" json:"id"`
	EncounterID uuid.UUID      `db:"encounter_id" json:"encounter_id"`
	TestType    string         `db:"test_type" json:"test_type"`
	Status      LabOrderStatus `db:"status" json:"status"`
	Result      string         `db:"result" json:"result,omitempty"`
	OrderedBy   string         `db:"ordered_by" json:"ordered_by"`
	CompletedBy string         `db:"completed_by" json:"completed_by,omitempty"`
	CompletedAt *time.Time     `db:"completed_at" json:"completed_at,omitempty"`
	CreatedAt   time.Time      `db:"created_at" json:"created_at"`
}

// PrescriptionItem is one medication line.
type PrescriptionItem struct {
	Medication string `json:"medication"`
	Dosage     string `json:"dosage"`
	Frequency  string `json:"frequency"`
	Days       int    `json:"days"`
}

// Prescription is the medication list for an encounter. One per encounter;
// dispensing it a second time is a Conflict.
type Prescription struct {
	ID           uuid.UUID          `db:"id" json:"id"`
	EncounterID  uuid.UUID          `db:"encounter_id" json:"encounter_id"`
	Items        []PrescriptionItem `db:"items" json:"items"`
	PrescribedBy string             `db:"prescribed_by" json:"prescribed_by"`
	Dispensed    bool               `db:"dispensed" json:"dispensed"`
	DispensedBy  string             `db:"dispensed_by" json:"dispensed_by,omitempty"`
	DispensedAt  *time.Time         `db:"dispensed_at" json:"dispensed_at,omitempty"`
	CreatedAt    time.Time          `db:"created_at" json:"created_at"`
}

// AuthorizationStatus is the insurer's decision state.
type AuthorizationStatus string

const (
	AuthorizationPending  AuthorizationStatus = "PENDING"
	AuthorizationApproved AuthorizationStatus = "APPROVED"
	AuthorizationRejected AuthorizationStatus = "REJECTED"
)

// InsuranceAuthorization is the insurer's approval for an encounter's
// treatment. Dispensing and closing require APPROVED when one exists.
type InsuranceAuthorization struct {
	ID           uuid.UUID           `db:"id" json:"id"`
	EncounterID  uuid.UUID           `db:"encounter_id" json:"encounter_id"`
	Provider     string              `db:"provider" json:"provider"`
	PolicyNumber string              `db:"policy_number" json:"policy_number"`
	Status       AuthorizationStatus `db:"status" json:"status"`
	DecidedBy    string              `db:"decided_by" json:"decided_by,omitempty"`
	DecidedAt    *time.Time          `db:"decided_at" json:"decided_at,omitempty"`
	CreatedAt    time.Time           `db:"created_at" json:"created_at"`
}
