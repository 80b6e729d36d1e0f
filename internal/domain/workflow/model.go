package workflow

import (
	"time"

	"github.com/google/uuid"
)

// Type distinguishes the clinical encounter lifecycle from the payment
// finalization cycle.
type Type string

const (
	TypeClinical Type = "CLINICAL"
	TypePayment  Type = "PAYMENT"
)

// State is a workflow lifecycle state.
type State string

// Clinical encounter states.
const (
	StateEncounterStarted    State = "ENCOUNTER_STARTED"
	StateDiagnosed           State = "DIAGNOSED"
	StateLabOrdered          State = "LAB_ORDERED"
	StateLabCompleted        State = "LAB_COMPLETED"
	StatePrescriptionCreated State = "PRESCRIPTION_CREATED"
	StateDispensed           State = "DISPENSED"
	StateClosed              State = "CLOSED"
)

// Payment finalization states.
const (
	StatePending   State = "PENDING"
	StateCompleted State = "COMPLETED"
)

// allowedPredecessors is the full transition graph: a transition into a
// state is legal only from one of its listed predecessors. Keeping the
// graph in one table makes it auditable and testable in one place.
var allowedPredecessors = map[State][]State{
	StateDiagnosed:           {StateEncounterStarted},
	StateLabOrdered:          {StateDiagnosed},
	StateLabCompleted:        {StateLabOrdered},
	StatePrescriptionCreated: {StateLabCompleted},
	StateDispensed:           {StatePrescriptionCreated},
	// Encounters without labs or medication close straight from DIAGNOSED.
	StateClosed:    {StateDispensed, StateDiagnosed},
	StateCompleted: {StatePending},
}

// terminalStates reject all further transitions.
var terminalStates = map[State]bool{
	StateClosed:    true,
	StateCompleted: true,
}

// IsValidState reports whether s is a member of the state enum.
func IsValidState(s State) bool {
	if _, ok := allowedPredecessors[s]; ok {
		return true
	}
	return s == StateEncounterStarted || s == StatePending
}

// IsTerminal reports whether s rejects further transitions.
func IsTerminal(s State) bool { return terminalStates[s] }

// CanTransition reports whether from -> to is an edge of the graph.
func CanTransition(from, to State) bool {
	for _, pred := range allowedPredecessors[to] {
		if pred == from {
			return true
		}
	}
	return false
}

// InitialState returns the entry state for a workflow type.
func InitialState(t Type) State {
	if t == TypePayment {
		return StatePending
	}
	return StateEncounterStarted
}

// Transition is one history entry. The last entry's To always equals the
// record's current State.
type Transition struct {
	From      State     `json:"from"`
	To        State     `json:"to"`
	ActorID   string    `json:"actor_id"`
	ActorRole string    `json:"actor_role"`
	Reason    string    `json:"reason,omitempty"`
	At        time.Time `json:"at"`
}

// Record is the single source of truth for a subject's lifecycle state.
// Records are created on the first clinical action and never deleted;
// closed encounters keep their record for audit.
type Record struct {
	ID        uuid.UUID    `db:"id" json:"id"`
	SubjectID uuid.UUID    `db:"subject_id" json:"subject_id"`
	Type      Type         `db:"type" json:"type"`
	State     State        `db:"state" json:"state"`
	History   []Transition `db:"history" json:"history"`
	TenantID  string       `db:"tenant_id" json:"tenant_id"`
	Version   int          `db:"version" json:"version"`
	CreatedAt time.Time    `db:"created_at" json:"created_at"`
	UpdatedAt time.Time    `db:"updated_at" json:"updated_at"`
}

// Replay is the read-only reconstruction of a record's timeline.
type Replay struct {
	SubjectID    uuid.UUID    `json:"subject_id"`
	InitialState State        `json:"initial_state"`
	Timeline     []Transition `json:"timeline"`
	FinalState   State        `json:"final_state"`
}
