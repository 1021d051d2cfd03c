// Package orchestrator applies validated lifecycle transitions to work
// items. All state mutation goes through the store's conditional-write
// primitive, so atomicity holds across concurrent callers and across
// multiple orchestrator instances sharing one store.
package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/flowforge/flowforge/internal/domain"
	"github.com/flowforge/flowforge/internal/gates"
	"github.com/flowforge/flowforge/internal/lifecycle"
)

// Store is the persistence surface the orchestrator needs
type Store interface {
	CreateWorkItem(ctx context.Context, item *domain.WorkItem) error
	GetWorkItem(ctx context.Context, id string) (*domain.WorkItem, error)
	TransitionWorkItem(ctx context.Context, item *domain.WorkItem, rec domain.TransitionRecord) (*domain.WorkItem, error)
	UpdateWorkItemFlags(ctx context.Context, id string, update domain.FlagUpdate, now time.Time) (*domain.WorkItem, error)
	PutGate(ctx context.Context, workItemID string, gate domain.Gate, allPassed func(map[domain.GateID]domain.Gate) bool) (*domain.WorkItem, error)
	GetGates(ctx context.Context, workItemID string) (map[domain.GateID]domain.Gate, error)
}

// Orchestrator owns work items
type Orchestrator struct {
	store Store
	now   func() time.Time
}

// New creates an Orchestrator backed by the given store
func New(store Store) *Orchestrator {
	return &Orchestrator{store: store, now: time.Now}
}

// SetClock overrides the time source, for tests
func (o *Orchestrator) SetClock(now func() time.Time) {
	o.now = now
}

// CreateInput holds the intake fields for a new work item
type CreateInput struct {
	Name        string
	Description string
	CreatedBy   string
}

// Create makes a new work item in DRAFT with an empty decision log
func (o *Orchestrator) Create(ctx context.Context, input CreateInput) (*domain.WorkItem, error) {
	if strings.TrimSpace(input.Name) == "" {
		return nil, fmt.Errorf("%w: work item name is required", domain.ErrInvalidInput)
	}

	now := o.now().UTC()
	item := &domain.WorkItem{
		ID:          uuid.NewString(),
		Name:        input.Name,
		Description: input.Description,
		State:       domain.StateDraft,
		CreatedBy:   input.CreatedBy,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := o.store.CreateWorkItem(ctx, item); err != nil {
		return nil, err
	}
	return item, nil
}

// Get loads a work item
func (o *Orchestrator) Get(ctx context.Context, id string) (*domain.WorkItem, error) {
	return o.store.GetWorkItem(ctx, id)
}

// Transition moves a work item to target. Validation is pure; the
// commit is a single conditional write guarded on the state that was
// read, so a concurrent writer surfaces as domain.ErrConflict and the
// caller must reload and retry.
func (o *Orchestrator) Transition(ctx context.Context, id string, target domain.State, actor, reason string) (*domain.WorkItem, error) {
	item, err := o.store.GetWorkItem(ctx, id)
	if err != nil {
		return nil, err
	}

	if err := lifecycle.ValidateTransition(item, target); err != nil {
		return nil, err
	}

	rec := domain.TransitionRecord{
		Timestamp: o.now().UTC(),
		Actor:     actor,
		FromState: item.State,
		ToState:   target,
		Reason:    reason,
	}
	return o.store.TransitionWorkItem(ctx, item, rec)
}

// AvailableTransitions returns every edge leaving the item's current
// state and whether it is enabled
func (o *Orchestrator) AvailableTransitions(ctx context.Context, id string) ([]lifecycle.Transition, error) {
	item, err := o.store.GetWorkItem(ctx, id)
	if err != nil {
		return nil, err
	}
	return lifecycle.AvailableTransitions(item), nil
}

// UpdateFlags merges the precondition flags. Deliberately a plain
// overwrite: flags come from uncoordinated collaborators and last
// write wins.
func (o *Orchestrator) UpdateFlags(ctx context.Context, id string, update domain.FlagUpdate) (*domain.WorkItem, error) {
	return o.store.UpdateWorkItemFlags(ctx, id, update, o.now().UTC())
}

// ReportGate records a gate status from an external collaborator and
// refreshes the all-gates-passed flag from the full gate set
func (o *Orchestrator) ReportGate(ctx context.Context, workItemID string, gateID domain.GateID, status domain.GateStatus, details []domain.GateDetail) (*domain.WorkItem, error) {
	gate := gates.Stamp(gateID, status, details, o.now().UTC())
	return o.store.PutGate(ctx, workItemID, gate, gates.AllPassed)
}

// Gates returns the full gate set for a work item in canonical order,
// with unreported gates shown as pending, plus the aggregate verdict
func (o *Orchestrator) Gates(ctx context.Context, workItemID string) ([]domain.Gate, bool, error) {
	if _, err := o.store.GetWorkItem(ctx, workItemID); err != nil {
		return nil, false, err
	}
	reported, err := o.store.GetGates(ctx, workItemID)
	if err != nil {
		return nil, false, err
	}
	return gates.Normalize(reported), gates.AllPassed(reported), nil
}
