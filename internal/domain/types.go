package domain

import "fmt"

// State represents the lifecycle state of a work item
type State string

const (
	StateDraft      State = "DRAFT"
	StateReviewed   State = "REVIEWED"
	StateApproved   State = "APPROVED"
	StateInProgress State = "IN_PROGRESS"
	StateConverged  State = "CONVERGED"
	StateMerged     State = "MERGED"
)

// ParseState validates a stored state value against the known set
func ParseState(s string) (State, error) {
	switch State(s) {
	case StateDraft, StateReviewed, StateApproved, StateInProgress, StateConverged, StateMerged:
		return State(s), nil
	}
	return "", fmt.Errorf("unknown work item state: %q", s)
}

// TaskStatus represents the coarse dispatch outcome of an agent task
type TaskStatus string

const (
	TaskPending      TaskStatus = "pending"
	TaskDispatched   TaskStatus = "dispatched"
	TaskAcknowledged TaskStatus = "acknowledged"
	TaskFailed       TaskStatus = "failed"
	TaskTimeout      TaskStatus = "timeout"
)

// ParseTaskStatus validates a stored task status against the known set
func ParseTaskStatus(s string) (TaskStatus, error) {
	switch TaskStatus(s) {
	case TaskPending, TaskDispatched, TaskAcknowledged, TaskFailed, TaskTimeout:
		return TaskStatus(s), nil
	}
	return "", fmt.Errorf("unknown task status: %q", s)
}

// Phase represents the realtime execution sub-state of a task,
// independent of its dispatch status
type Phase string

const (
	PhaseStarting   Phase = "starting"
	PhaseRunning    Phase = "running"
	PhaseCompleting Phase = "completing"
	PhaseCompleted  Phase = "completed"
	PhaseFailed     Phase = "failed"
)

// ParsePhase validates a phase value against the known set
func ParsePhase(s string) (Phase, error) {
	switch Phase(s) {
	case PhaseStarting, PhaseRunning, PhaseCompleting, PhaseCompleted, PhaseFailed:
		return Phase(s), nil
	}
	return "", fmt.Errorf("unknown task phase: %q", s)
}

// Terminal reports whether the phase is one of the two end phases
func (p Phase) Terminal() bool {
	return p == PhaseCompleted || p == PhaseFailed
}

// GateStatus represents the reported status of a convergence gate
type GateStatus string

const (
	GatePassed  GateStatus = "passed"
	GateFailed  GateStatus = "failed"
	GatePending GateStatus = "pending"
	GateNA      GateStatus = "na"
)

// ParseGateStatus validates a gate status against the known set
func ParseGateStatus(s string) (GateStatus, error) {
	switch GateStatus(s) {
	case GatePassed, GateFailed, GatePending, GateNA:
		return GateStatus(s), nil
	}
	return "", fmt.Errorf("unknown gate status: %q", s)
}

// GateID identifies one of the fixed convergence gates
type GateID string

const (
	GateSpecComplete       GateID = "spec_complete"
	GateAcceptanceCriteria GateID = "acceptance_criteria"
	GateTestsPassing       GateID = "tests_passing"
	GateUnifier            GateID = "unifier"
	GateCodeReview         GateID = "code_review"
	GateSecurityReview     GateID = "security_review"
	GateBrowserTests       GateID = "browser_tests"
	GateDocs               GateID = "docs"
)

// ParseGateID validates a gate identifier against the fixed set
func ParseGateID(s string) (GateID, error) {
	switch GateID(s) {
	case GateSpecComplete, GateAcceptanceCriteria, GateTestsPassing, GateUnifier,
		GateCodeReview, GateSecurityReview, GateBrowserTests, GateDocs:
		return GateID(s), nil
	}
	return "", fmt.Errorf("unknown gate: %q", s)
}

// LogLevel represents the severity of a task log entry
type LogLevel string

const (
	LevelInfo  LogLevel = "info"
	LevelWarn  LogLevel = "warn"
	LevelError LogLevel = "error"
	LevelDebug LogLevel = "debug"
)

// ParseLogLevel validates a log level against the known set
func ParseLogLevel(s string) (LogLevel, error) {
	switch LogLevel(s) {
	case LevelInfo, LevelWarn, LevelError, LevelDebug:
		return LogLevel(s), nil
	}
	return "", fmt.Errorf("unknown log level: %q", s)
}
