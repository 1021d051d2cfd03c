package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for the orchestration core. Callers discriminate
// with errors.Is / errors.As.
var (
	// ErrNotFound means the requested entity does not exist
	ErrNotFound = errors.New("not found")

	// ErrConflict means a concurrent writer committed first; the
	// caller should reload and retry
	ErrConflict = errors.New("conflict: concurrent update, reload and retry")

	// ErrWebhookNotConfigured means dispatch was attempted without a
	// configured webhook target
	ErrWebhookNotConfigured = errors.New("webhook target not configured")

	// ErrUnauthorized is the single outward error for every signed-
	// callback authentication failure
	ErrUnauthorized = errors.New("unauthorized")

	// ErrInvalidInput means the caller's request was malformed or
	// missing required fields
	ErrInvalidInput = errors.New("invalid input")
)

// InvalidTransitionError reports a rejected lifecycle transition with
// the reason: either the edge does not exist (Reason lists the valid
// next states) or its precondition is unmet.
type InvalidTransitionError struct {
	From   State
	To     State
	Reason string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition %s -> %s: %s", e.From, e.To, e.Reason)
}
