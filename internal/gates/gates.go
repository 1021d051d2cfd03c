// Package gates aggregates convergence gate statuses into the single
// pass/fail signal that gates the IN_PROGRESS -> CONVERGED transition.
package gates

import (
	"time"

	"github.com/flowforge/flowforge/internal/domain"
)

// Kinds is the fixed ordered set of convergence gates
var Kinds = []domain.GateID{
	domain.GateSpecComplete,
	domain.GateAcceptanceCriteria,
	domain.GateTestsPassing,
	domain.GateUnifier,
	domain.GateCodeReview,
	domain.GateSecurityReview,
	domain.GateBrowserTests,
	domain.GateDocs,
}

// AllPassed reports whether every gate is passed or not applicable.
// A gate that has never been reported counts as pending.
func AllPassed(reported map[domain.GateID]domain.Gate) bool {
	for _, id := range Kinds {
		g, ok := reported[id]
		if !ok {
			return false
		}
		if g.Status != domain.GatePassed && g.Status != domain.GateNA {
			return false
		}
	}
	return true
}

// Normalize returns one Gate per kind in canonical order, filling in a
// pending placeholder for gates that were never reported
func Normalize(reported map[domain.GateID]domain.Gate) []domain.Gate {
	result := make([]domain.Gate, 0, len(Kinds))
	for _, id := range Kinds {
		if g, ok := reported[id]; ok {
			result = append(result, g)
			continue
		}
		result = append(result, domain.Gate{ID: id, Status: domain.GatePending})
	}
	return result
}

// Summary counts gates per status across the fixed set
type Summary struct {
	Passed  int `json:"passed"`
	Failed  int `json:"failed"`
	Pending int `json:"pending"`
	NA      int `json:"na"`
}

// Summarize tallies the fixed gate set, treating unreported gates as
// pending
func Summarize(reported map[domain.GateID]domain.Gate) Summary {
	var s Summary
	for _, g := range Normalize(reported) {
		switch g.Status {
		case domain.GatePassed:
			s.Passed++
		case domain.GateFailed:
			s.Failed++
		case domain.GateNA:
			s.NA++
		default:
			s.Pending++
		}
	}
	return s
}

// Stamp returns a gate record carrying the given status and details
// with UpdatedAt set
func Stamp(id domain.GateID, status domain.GateStatus, details []domain.GateDetail, now time.Time) domain.Gate {
	return domain.Gate{ID: id, Status: status, Details: details, UpdatedAt: now}
}
