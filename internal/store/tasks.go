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

// CreateTask inserts a new agent task
func (s *Store) CreateTask(ctx context.Context, task *domain.AgentTask) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO agent_tasks (id, work_item_id, action, status, phase, progress, message, triggered_by, triggered_at, work_item_name, webhook_url, created_at, dispatched_at, completed_at, updated_at, response_code, error, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		task.ID,
		task.WorkItemID,
		task.Action,
		string(task.Status),
		string(task.Phase),
		task.Progress,
		task.Message,
		task.Context.TriggeredBy,
		task.Context.TriggeredAt,
		task.Context.WorkItemName,
		task.WebhookURL,
		task.CreatedAt,
		task.DispatchedAt,
		task.CompletedAt,
		task.UpdatedAt,
		task.ResponseCode,
		task.Error,
		task.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("inserting task: %w", err)
	}
	return nil
}

// GetTask retrieves a task by ID
func (s *Store) GetTask(ctx context.Context, id string) (*domain.AgentTask, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, work_item_id, action, status, phase, progress, message, triggered_by, triggered_at, work_item_name, webhook_url, created_at, dispatched_at, completed_at, updated_at, response_code, error, expires_at
		FROM agent_tasks WHERE id = ?
	`, id)

	task, err := scanTask(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("loading task: %w", err)
	}
	return task, nil
}

// ListTasks returns the tasks for a work item, newest first
func (s *Store) ListTasks(ctx context.Context, workItemID string) ([]*domain.AgentTask, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, work_item_id, action, status, phase, progress, message, triggered_by, triggered_at, work_item_name, webhook_url, created_at, dispatched_at, completed_at, updated_at, response_code, error, expires_at
		FROM agent_tasks WHERE work_item_id = ? ORDER BY created_at DESC
	`, workItemID)
	if err != nil {
		return nil, fmt.Errorf("listing tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*domain.AgentTask
	for rows.Next() {
		task, err := scanTaskRows(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

// RecordDispatchOutcome stamps exactly one terminal outcome of a
// dispatch attempt onto the task
func (s *Store) RecordDispatchOutcome(ctx context.Context, id string, status domain.TaskStatus, responseCode int, errMsg string, now time.Time) error {
	var dispatchedAt interface{}
	if status == domain.TaskDispatched {
		dispatchedAt = now
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE agent_tasks SET status = ?, response_code = ?, error = ?, dispatched_at = COALESCE(?, dispatched_at), updated_at = ?
		WHERE id = ?
	`, string(status), responseCode, errMsg, dispatchedAt, now, id)
	if err != nil {
		return fmt.Errorf("recording dispatch outcome: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// UpdateTaskRealtime atomically updates the realtime phase, progress
// and message, stamping a completion time when the phase is terminal.
// The first update against a dispatched task also promotes its status
// to acknowledged: the worker has evidently received the webhook. If
// entry is non-nil the log record is appended in the same transaction.
// Progress is a percentage and must stay in 0-100.
func (s *Store) UpdateTaskRealtime(ctx context.Context, id string, phase domain.Phase, progress *int, message string, entry *domain.TaskLogEntry, now time.Time) (*domain.RealtimeStatus, error) {
	if progress != nil && (*progress < 0 || *progress > 100) {
		return nil, fmt.Errorf("%w: progress %d out of range 0-100", domain.ErrInvalidInput, *progress)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning realtime update: %w", err)
	}
	defer tx.Rollback()

	var completedAt interface{}
	if phase.Terminal() {
		completedAt = now
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE agent_tasks SET phase = ?, progress = COALESCE(?, progress), message = COALESCE(NULLIF(?, ''), message), completed_at = COALESCE(?, completed_at), updated_at = ?,
			status = CASE WHEN status = ? THEN ? ELSE status END
		WHERE id = ?
	`, string(phase), progress, message, completedAt, now, string(domain.TaskDispatched), string(domain.TaskAcknowledged), id)
	if err != nil {
		return nil, fmt.Errorf("updating realtime status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, domain.ErrNotFound
	}

	if entry != nil {
		if err := appendTaskLogTx(ctx, tx, entry); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing realtime update: %w", err)
	}

	return s.GetRealtimeStatus(ctx, id)
}

// AppendTaskLog appends one log record for a task
func (s *Store) AppendTaskLog(ctx context.Context, entry *domain.TaskLogEntry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning log append: %w", err)
	}
	defer tx.Rollback()

	if err := appendTaskLogTx(ctx, tx, entry); err != nil {
		return err
	}
	return tx.Commit()
}

func appendTaskLogTx(ctx context.Context, tx *sql.Tx, entry *domain.TaskLogEntry) error {
	var metadataJSON interface{}
	if entry.Metadata != nil {
		data, err := json.Marshal(entry.Metadata)
		if err != nil {
			return fmt.Errorf("encoding log metadata: %w", err)
		}
		metadataJSON = string(data)
	}

	expiresAt := entry.Timestamp.Add(domain.TaskTTL).Unix()

	_, err := tx.ExecContext(ctx, `
		INSERT INTO task_logs (task_id, timestamp, level, message, metadata, expires_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, entry.TaskID, entry.Timestamp, string(entry.Level), entry.Message, metadataJSON, expiresAt)
	if err != nil {
		return fmt.Errorf("appending task log: %w", err)
	}
	return nil
}

// GetTaskLogs returns the chronological log sequence for a task
func (s *Store) GetTaskLogs(ctx context.Context, taskID string) ([]domain.TaskLogEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT task_id, timestamp, level, message, metadata
		FROM task_logs WHERE task_id = ? ORDER BY timestamp, id
	`, taskID)
	if err != nil {
		return nil, fmt.Errorf("loading task logs: %w", err)
	}
	defer rows.Close()

	var entries []domain.TaskLogEntry
	for rows.Next() {
		var entry domain.TaskLogEntry
		var level string
		var metadataJSON sql.NullString

		if err := rows.Scan(&entry.TaskID, &entry.Timestamp, &level, &entry.Message, &metadataJSON); err != nil {
			return nil, fmt.Errorf("scanning task log: %w", err)
		}

		lvl, err := domain.ParseLogLevel(level)
		if err != nil {
			return nil, fmt.Errorf("scanning task log: %w", err)
		}
		entry.Level = lvl

		if metadataJSON.Valid && metadataJSON.String != "" {
			if err := json.Unmarshal([]byte(metadataJSON.String), &entry.Metadata); err != nil {
				return nil, fmt.Errorf("decoding log metadata: %w", err)
			}
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// GetRealtimeStatus returns the lightweight status projection used by
// both the push and poll read paths
func (s *Store) GetRealtimeStatus(ctx context.Context, taskID string) (*domain.RealtimeStatus, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, phase, progress, message, updated_at FROM agent_tasks WHERE id = ?
	`, taskID)

	var status domain.RealtimeStatus
	var phase string
	var progress sql.NullInt64
	var message sql.NullString

	err := row.Scan(&status.TaskID, &phase, &progress, &message, &status.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("loading realtime status: %w", err)
	}

	parsed, err := domain.ParsePhase(phase)
	if err != nil {
		return nil, fmt.Errorf("loading realtime status: %w", err)
	}
	status.Phase = parsed
	if progress.Valid {
		p := int(progress.Int64)
		status.Progress = &p
	}
	if message.Valid {
		status.Message = message.String
	}

	return &status, nil
}

func scanTask(row *sql.Row) (*domain.AgentTask, error) {
	var task domain.AgentTask
	var status, phase string
	var progress sql.NullInt64
	var message, workItemName, errMsg sql.NullString
	var dispatchedAt, completedAt sql.NullTime

	err := row.Scan(
		&task.ID,
		&task.WorkItemID,
		&task.Action,
		&status,
		&phase,
		&progress,
		&message,
		&task.Context.TriggeredBy,
		&task.Context.TriggeredAt,
		&workItemName,
		&task.WebhookURL,
		&task.CreatedAt,
		&dispatchedAt,
		&completedAt,
		&task.UpdatedAt,
		&task.ResponseCode,
		&errMsg,
		&task.ExpiresAt,
	)
	if err != nil {
		return nil, err
	}
	return fillTask(&task, status, phase, progress, message, workItemName, errMsg, dispatchedAt, completedAt)
}

func scanTaskRows(rows *sql.Rows) (*domain.AgentTask, error) {
	var task domain.AgentTask
	var status, phase string
	var progress sql.NullInt64
	var message, workItemName, errMsg sql.NullString
	var dispatchedAt, completedAt sql.NullTime

	err := rows.Scan(
		&task.ID,
		&task.WorkItemID,
		&task.Action,
		&status,
		&phase,
		&progress,
		&message,
		&task.Context.TriggeredBy,
		&task.Context.TriggeredAt,
		&workItemName,
		&task.WebhookURL,
		&task.CreatedAt,
		&dispatchedAt,
		&completedAt,
		&task.UpdatedAt,
		&task.ResponseCode,
		&errMsg,
		&task.ExpiresAt,
	)
	if err != nil {
		return nil, fmt.Errorf("scanning task: %w", err)
	}
	return fillTask(&task, status, phase, progress, message, workItemName, errMsg, dispatchedAt, completedAt)
}

func fillTask(task *domain.AgentTask, status, phase string, progress sql.NullInt64, message, workItemName, errMsg sql.NullString, dispatchedAt, completedAt sql.NullTime) (*domain.AgentTask, error) {
	st, err := domain.ParseTaskStatus(status)
	if err != nil {
		return nil, err
	}
	ph, err := domain.ParsePhase(phase)
	if err != nil {
		return nil, err
	}
	task.Status = st
	task.Phase = ph

	if progress.Valid {
		p := int(progress.Int64)
		task.Progress = &p
	}
	if message.Valid {
		task.Message = message.String
	}
	if workItemName.Valid {
		task.Context.WorkItemName = workItemName.String
	}
	if errMsg.Valid {
		task.Error = errMsg.String
	}
	if dispatchedAt.Valid {
		t := dispatchedAt.Time
		task.DispatchedAt = &t
	}
	if completedAt.Valid {
		t := completedAt.Time
		task.CompletedAt = &t
	}
	return task, nil
}
