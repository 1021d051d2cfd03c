package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/flowforge/flowforge/internal/domain"
)

// CreateWorkItem inserts a new work item
func (s *Store) CreateWorkItem(ctx context.Context, item *domain.WorkItem) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO work_items (id, name, description, state, sections_completed, all_gates_passed, externally_finalized, created_by, created_at, updated_at, version)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		item.ID,
		item.Name,
		item.Description,
		string(item.State),
		item.SectionsCompleted,
		item.AllGatesPassed,
		item.ExternallyFinalized,
		item.CreatedBy,
		item.CreatedAt,
		item.UpdatedAt,
		item.Version,
	)
	if err != nil {
		return fmt.Errorf("inserting work item: %w", err)
	}
	return nil
}

// GetWorkItem loads a work item and its decision log
func (s *Store) GetWorkItem(ctx context.Context, id string) (*domain.WorkItem, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, description, state, sections_completed, all_gates_passed, externally_finalized, created_by, created_at, updated_at, version
		FROM work_items WHERE id = ?
	`, id)

	item, err := scanWorkItem(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("loading work item: %w", err)
	}

	log, err := s.getDecisionLog(ctx, id)
	if err != nil {
		return nil, err
	}
	item.DecisionLog = log

	return item, nil
}

// TransitionWorkItem commits a state transition as one atomic
// conditional write: the state update and the decision log append only
// land if the stored state and version still match what the caller
// read. A lost race surfaces as domain.ErrConflict.
func (s *Store) TransitionWorkItem(ctx context.Context, item *domain.WorkItem, rec domain.TransitionRecord) (*domain.WorkItem, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transition: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE work_items SET state = ?, updated_at = ?, version = version + 1
		WHERE id = ? AND state = ? AND version = ?
	`, string(rec.ToState), rec.Timestamp, item.ID, string(rec.FromState), item.Version)
	if err != nil {
		return nil, fmt.Errorf("updating state: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("updating state: %w", err)
	}
	if n == 0 {
		// Either the item vanished or a concurrent writer won
		var exists int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM work_items WHERE id = ?`, item.ID).Scan(&exists); err != nil {
			return nil, fmt.Errorf("checking work item: %w", err)
		}
		if exists == 0 {
			return nil, domain.ErrNotFound
		}
		return nil, domain.ErrConflict
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO decision_log (work_item_id, timestamp, actor, from_state, to_state, reason)
		VALUES (?, ?, ?, ?, ?, ?)
	`, item.ID, rec.Timestamp, rec.Actor, string(rec.FromState), string(rec.ToState), rec.Reason)
	if err != nil {
		return nil, fmt.Errorf("appending decision log: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing transition: %w", err)
	}

	return s.GetWorkItem(ctx, item.ID)
}

// UpdateWorkItemFlags overwrites the precondition flags named in the
// update. This is deliberately unconditional: flags are independent
// facts from uncoordinated collaborators, last write wins.
func (s *Store) UpdateWorkItemFlags(ctx context.Context, id string, update domain.FlagUpdate, now time.Time) (*domain.WorkItem, error) {
	query := `UPDATE work_items SET updated_at = ?`
	args := []interface{}{now}

	if update.SectionsCompleted != nil {
		query += ", sections_completed = ?"
		args = append(args, *update.SectionsCompleted)
	}
	if update.AllGatesPassed != nil {
		query += ", all_gates_passed = ?"
		args = append(args, *update.AllGatesPassed)
	}
	if update.ExternallyFinalized != nil {
		query += ", externally_finalized = ?"
		args = append(args, *update.ExternallyFinalized)
	}

	query += " WHERE id = ?"
	args = append(args, id)

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("updating flags: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, domain.ErrNotFound
	}

	return s.GetWorkItem(ctx, id)
}

// PutGate stores a gate report for a work item and recomputes the
// aggregate all_gates_passed flag in the same transaction, so the
// transition precondition always sees the latest aggregate.
func (s *Store) PutGate(ctx context.Context, workItemID string, gate domain.Gate, allPassed func(map[domain.GateID]domain.Gate) bool) (*domain.WorkItem, error) {
	detailsJSON, err := json.Marshal(gate.Details)
	if err != nil {
		return nil, fmt.Errorf("encoding gate details: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning gate update: %w", err)
	}
	defer tx.Rollback()

	var exists int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM work_items WHERE id = ?`, workItemID).Scan(&exists); err != nil {
		return nil, fmt.Errorf("checking work item: %w", err)
	}
	if exists == 0 {
		return nil, domain.ErrNotFound
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO gates (work_item_id, gate_id, status, details, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(work_item_id, gate_id) DO UPDATE SET
			status = excluded.status,
			details = excluded.details,
			updated_at = excluded.updated_at
	`, workItemID, string(gate.ID), string(gate.Status), string(detailsJSON), gate.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("storing gate: %w", err)
	}

	reported, err := scanGatesTx(ctx, tx, workItemID)
	if err != nil {
		return nil, err
	}

	_, err = tx.ExecContext(ctx, `UPDATE work_items SET all_gates_passed = ?, updated_at = ? WHERE id = ?`,
		allPassed(reported), gate.UpdatedAt, workItemID)
	if err != nil {
		return nil, fmt.Errorf("updating gate aggregate: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing gate update: %w", err)
	}

	return s.GetWorkItem(ctx, workItemID)
}

// GetGates returns the reported gates for a work item keyed by gate id
func (s *Store) GetGates(ctx context.Context, workItemID string) (map[domain.GateID]domain.Gate, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT gate_id, status, details, updated_at FROM gates WHERE work_item_id = ?
	`, workItemID)
	if err != nil {
		return nil, fmt.Errorf("loading gates: %w", err)
	}
	defer rows.Close()

	return scanGateRows(rows)
}

func scanGatesTx(ctx context.Context, tx *sql.Tx, workItemID string) (map[domain.GateID]domain.Gate, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT gate_id, status, details, updated_at FROM gates WHERE work_item_id = ?
	`, workItemID)
	if err != nil {
		return nil, fmt.Errorf("loading gates: %w", err)
	}
	defer rows.Close()

	return scanGateRows(rows)
}

func scanGateRows(rows *sql.Rows) (map[domain.GateID]domain.Gate, error) {
	reported := make(map[domain.GateID]domain.Gate)
	for rows.Next() {
		var gateID, status string
		var detailsJSON sql.NullString
		var gate domain.Gate

		if err := rows.Scan(&gateID, &status, &detailsJSON, &gate.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning gate: %w", err)
		}

		id, err := domain.ParseGateID(gateID)
		if err != nil {
			return nil, fmt.Errorf("scanning gate: %w", err)
		}
		st, err := domain.ParseGateStatus(status)
		if err != nil {
			return nil, fmt.Errorf("scanning gate: %w", err)
		}
		gate.ID = id
		gate.Status = st

		if detailsJSON.Valid && detailsJSON.String != "" && detailsJSON.String != "null" {
			if err := json.Unmarshal([]byte(detailsJSON.String), &gate.Details); err != nil {
				return nil, fmt.Errorf("decoding gate details: %w", err)
			}
		}
		reported[id] = gate
	}
	return reported, rows.Err()
}

func (s *Store) getDecisionLog(ctx context.Context, workItemID string) ([]domain.TransitionRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT timestamp, actor, from_state, to_state, reason
		FROM decision_log WHERE work_item_id = ? ORDER BY id
	`, workItemID)
	if err != nil {
		return nil, fmt.Errorf("loading decision log: %w", err)
	}
	defer rows.Close()

	var log []domain.TransitionRecord
	for rows.Next() {
		var rec domain.TransitionRecord
		var from, to string
		var reason sql.NullString

		if err := rows.Scan(&rec.Timestamp, &rec.Actor, &from, &to, &reason); err != nil {
			return nil, fmt.Errorf("scanning decision log: %w", err)
		}

		fromState, err := domain.ParseState(from)
		if err != nil {
			return nil, fmt.Errorf("scanning decision log: %w", err)
		}
		toState, err := domain.ParseState(to)
		if err != nil {
			return nil, fmt.Errorf("scanning decision log: %w", err)
		}
		rec.FromState = fromState
		rec.ToState = toState
		if reason.Valid {
			rec.Reason = reason.String
		}
		log = append(log, rec)
	}
	return log, rows.Err()
}

func scanWorkItem(row *sql.Row) (*domain.WorkItem, error) {
	var item domain.WorkItem
	var state string
	var description sql.NullString

	err := row.Scan(
		&item.ID,
		&item.Name,
		&description,
		&state,
		&item.SectionsCompleted,
		&item.AllGatesPassed,
		&item.ExternallyFinalized,
		&item.CreatedBy,
		&item.CreatedAt,
		&item.UpdatedAt,
		&item.Version,
	)
	if err != nil {
		return nil, err
	}

	parsed, err := domain.ParseState(state)
	if err != nil {
		return nil, err
	}
	item.State = parsed
	if description.Valid {
		item.Description = description.String
	}

	return &item, nil
}
