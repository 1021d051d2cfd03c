package domain

import "time"

// WorkItem is the unit of work carried through the lifecycle
type WorkItem struct {
	ID          string
	Name        string
	Description string
	State       State
	DecisionLog []TransitionRecord

	// Transition preconditions, last-write-wins
	SectionsCompleted   bool
	AllGatesPassed      bool
	ExternallyFinalized bool

	CreatedBy string
	CreatedAt time.Time
	UpdatedAt time.Time

	// Version increments on every committed transition; conditional
	// writes are guarded on the version read
	Version int64
}

// TransitionRecord is one committed state transition. Records are
// append-only; the decision log never shrinks.
type TransitionRecord struct {
	Timestamp time.Time `json:"timestamp"`
	Actor     string    `json:"actor"`
	FromState State     `json:"from_state"`
	ToState   State     `json:"to_state"`
	Reason    string    `json:"reason,omitempty"`
}

// FlagUpdate carries a partial update of the precondition flags.
// Nil fields are left unchanged.
type FlagUpdate struct {
	SectionsCompleted   *bool
	AllGatesPassed      *bool
	ExternallyFinalized *bool
}

// Gate is one convergence gate as reported by an external collaborator
type Gate struct {
	ID        GateID       `json:"id"`
	Status    GateStatus   `json:"status"`
	Details   []GateDetail `json:"details,omitempty"`
	UpdatedAt time.Time    `json:"updated_at"`
}

// GateDetail is a single finding attached to a gate
type GateDetail struct {
	Type      string     `json:"type"`
	Message   string     `json:"message"`
	Location  string     `json:"location,omitempty"`
	Severity  string     `json:"severity,omitempty"`
	Timestamp *time.Time `json:"timestamp,omitempty"`
}
