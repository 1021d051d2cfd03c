// Package lifecycle implements the work item state machine as pure
// validation logic with no I/O. The chain is linear:
// DRAFT -> REVIEWED -> APPROVED -> IN_PROGRESS -> CONVERGED -> MERGED.
package lifecycle

import (
	"fmt"
	"strings"

	"github.com/flowforge/flowforge/internal/domain"
)

// precondition gates one edge; it returns "" when satisfied or a
// human-readable reason when not
type precondition func(item *domain.WorkItem) string

type edge struct {
	to    domain.State
	check precondition
}

var edges = map[domain.State][]edge{
	domain.StateDraft: {{
		to: domain.StateReviewed,
		check: func(item *domain.WorkItem) string {
			if !item.SectionsCompleted {
				return "not all sections are completed"
			}
			return ""
		},
	}},
	domain.StateReviewed: {{to: domain.StateApproved}},
	domain.StateApproved: {{to: domain.StateInProgress}},
	domain.StateInProgress: {{
		to: domain.StateConverged,
		check: func(item *domain.WorkItem) string {
			if !item.AllGatesPassed {
				return "not all convergence gates have passed"
			}
			return ""
		},
	}},
	domain.StateConverged: {{
		to: domain.StateMerged,
		check: func(item *domain.WorkItem) string {
			if !item.ExternallyFinalized {
				return "work item has not been externally finalized"
			}
			return ""
		},
	}},
	domain.StateMerged: nil,
}

// ValidateTransition checks whether item may move to target. It
// returns nil when the transition is allowed, or an
// *domain.InvalidTransitionError explaining why not.
func ValidateTransition(item *domain.WorkItem, target domain.State) error {
	outgoing := edges[item.State]

	for _, e := range outgoing {
		if e.to != target {
			continue
		}
		if e.check != nil {
			if reason := e.check(item); reason != "" {
				return &domain.InvalidTransitionError{From: item.State, To: target, Reason: reason}
			}
		}
		return nil
	}

	if len(outgoing) == 0 {
		return &domain.InvalidTransitionError{
			From:   item.State,
			To:     target,
			Reason: fmt.Sprintf("%s is a terminal state", item.State),
		}
	}

	valid := make([]string, len(outgoing))
	for i, e := range outgoing {
		valid[i] = string(e.to)
	}
	return &domain.InvalidTransitionError{
		From:   item.State,
		To:     target,
		Reason: fmt.Sprintf("valid next states: %s", strings.Join(valid, ", ")),
	}
}

// Transition describes one edge leaving the current state and whether
// it is currently enabled
type Transition struct {
	To             domain.State `json:"to"`
	Enabled        bool         `json:"enabled"`
	DisabledReason string       `json:"disabled_reason,omitempty"`
}

// AvailableTransitions returns every edge leaving the item's current
// state with its enablement
func AvailableTransitions(item *domain.WorkItem) []Transition {
	outgoing := edges[item.State]
	result := make([]Transition, 0, len(outgoing))

	for _, e := range outgoing {
		t := Transition{To: e.to, Enabled: true}
		if e.check != nil {
			if reason := e.check(item); reason != "" {
				t.Enabled = false
				t.DisabledReason = reason
			}
		}
		result = append(result, t)
	}
	return result
}
