// Package dispatch sends signed webhook requests to the external
// worker and records their realtime progress. Each dispatch attempt
// gets exactly one terminal outcome and is never retried
// automatically.
package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/flowforge/flowforge/internal/domain"
	"github.com/flowforge/flowforge/internal/protocol"
	"github.com/flowforge/flowforge/internal/store"
)

// dispatchDeadline bounds the webhook send. Enforced via context
// cancellation so the in-flight request is abortable.
const dispatchDeadline = 10 * time.Second

// WebhookConfig is the operator-supplied webhook target. Passed in
// explicitly so one process can run differently-configured
// dispatchers.
type WebhookConfig struct {
	URL    string
	Secret string
}

// Broadcaster pushes updates to live subscribers. The hub satisfies
// this; tests substitute their own.
type Broadcaster interface {
	BroadcastStatus(msg protocol.TaskStatusMessage)
	BroadcastLogs(msg protocol.TaskLogsMessage)
}

// Dispatcher creates tasks, sends the signed webhook, and applies
// status callbacks from the worker
type Dispatcher struct {
	store    *store.Store
	hub      Broadcaster
	client   *http.Client
	now      func() time.Time
	deadline time.Duration

	mu  sync.RWMutex
	cfg WebhookConfig
}

// New creates a Dispatcher with the given webhook configuration
func New(st *store.Store, hub Broadcaster, cfg WebhookConfig) *Dispatcher {
	return &Dispatcher{
		store:    st,
		hub:      hub,
		client:   &http.Client{},
		now:      time.Now,
		deadline: dispatchDeadline,
		cfg:      cfg,
	}
}

// SetClock overrides the time source, for tests
func (d *Dispatcher) SetClock(now func() time.Time) {
	d.now = now
}

// SetDeadline overrides the webhook send deadline, for tests
func (d *Dispatcher) SetDeadline(deadline time.Duration) {
	d.deadline = deadline
}

// Reconfigure swaps the webhook target, e.g. after a config reload
func (d *Dispatcher) Reconfigure(cfg WebhookConfig) {
	d.mu.Lock()
	d.cfg = cfg
	d.mu.Unlock()
}

// Secret returns the currently configured webhook secret, used to
// verify inbound status callbacks under the same scheme
func (d *Dispatcher) Secret() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.cfg.Secret
}

// webhookRequest is the outbound POST body
type webhookRequest struct {
	WorkItemID string             `json:"work_item_id"`
	Action     string             `json:"action"`
	Context    domain.TaskContext `json:"context"`
}

// Dispatch creates a task and sends the signed webhook. The terminal
// per-attempt outcome (dispatched, failed or timeout) is recorded on
// the returned task; only pre-flight problems (missing configuration,
// unknown work item, store trouble) surface as errors.
func (d *Dispatcher) Dispatch(ctx context.Context, workItemID, action, triggeredBy string) (*domain.AgentTask, error) {
	d.mu.RLock()
	cfg := d.cfg
	d.mu.RUnlock()

	// Fail fast before any network or store writes
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, domain.ErrWebhookNotConfigured
	}

	item, err := d.store.GetWorkItem(ctx, workItemID)
	if err != nil {
		return nil, err
	}

	now := d.now().UTC()
	task := &domain.AgentTask{
		ID:         uuid.NewString(),
		WorkItemID: workItemID,
		Action:     action,
		Status:     domain.TaskPending,
		Phase:      domain.PhaseStarting,
		Context: domain.TaskContext{
			TriggeredBy:  triggeredBy,
			TriggeredAt:  now,
			WorkItemName: item.Name,
		},
		WebhookURL: cfg.URL,
		CreatedAt:  now,
		UpdatedAt:  now,
		ExpiresAt:  now.Add(domain.TaskTTL).Unix(),
	}

	if err := d.store.CreateTask(ctx, task); err != nil {
		return nil, err
	}

	status, responseCode, errMsg := d.send(ctx, cfg, task)
	if err := d.store.RecordDispatchOutcome(ctx, task.ID, status, responseCode, errMsg, d.now().UTC()); err != nil {
		return nil, err
	}

	task, err = d.store.GetTask(ctx, task.ID)
	if err != nil {
		return nil, err
	}

	d.broadcastStatus(ctx, task.ID)
	return task, nil
}

// send performs one webhook POST and maps its result to exactly one
// outcome status
func (d *Dispatcher) send(ctx context.Context, cfg WebhookConfig, task *domain.AgentTask) (domain.TaskStatus, int, string) {
	body, err := json.Marshal(webhookRequest{
		WorkItemID: task.WorkItemID,
		Action:     task.Action,
		Context:    task.Context,
	})
	if err != nil {
		return domain.TaskFailed, 0, fmt.Sprintf("encoding webhook body: %v", err)
	}

	sendCtx, cancel := context.WithTimeout(ctx, d.deadline)
	defer cancel()

	req, err := http.NewRequestWithContext(sendCtx, http.MethodPost, cfg.URL, bytes.NewReader(body))
	if err != nil {
		return domain.TaskFailed, 0, fmt.Sprintf("building webhook request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(SignatureHeader, Sign(body, cfg.Secret, d.now()))

	started := d.now()
	resp, err := d.client.Do(req)
	if err != nil {
		if errors.Is(sendCtx.Err(), context.DeadlineExceeded) {
			elapsed := d.now().Sub(started).Round(time.Millisecond)
			return domain.TaskTimeout, 0, fmt.Sprintf("webhook dispatch timed out after %s", elapsed)
		}
		return domain.TaskFailed, 0, fmt.Sprintf("webhook dispatch failed: %v", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return domain.TaskFailed, resp.StatusCode, fmt.Sprintf("webhook returned status %d", resp.StatusCode)
	}
	return domain.TaskDispatched, resp.StatusCode, ""
}

// StatusUpdate is an inbound phase/progress report from the worker
type StatusUpdate struct {
	Phase    domain.Phase
	Progress *int
	Message  string
	Log      *LogInput
}

// LogInput is an optional log entry attached to a status update
type LogInput struct {
	Level    domain.LogLevel
	Message  string
	Metadata map[string]string
}

// UpdateRealtimeStatus applies a phase/progress update, appends the
// attached log entry in the same store call if present, and fans both
// out to live subscribers
func (d *Dispatcher) UpdateRealtimeStatus(ctx context.Context, taskID string, update StatusUpdate) (*domain.RealtimeStatus, error) {
	now := d.now().UTC()

	var entry *domain.TaskLogEntry
	if update.Log != nil {
		entry = &domain.TaskLogEntry{
			TaskID:    taskID,
			Timestamp: now,
			Level:     update.Log.Level,
			Message:   update.Log.Message,
			Metadata:  update.Log.Metadata,
		}
	}

	status, err := d.store.UpdateTaskRealtime(ctx, taskID, update.Phase, update.Progress, update.Message, entry, now)
	if err != nil {
		return nil, err
	}

	d.hub.BroadcastStatus(protocol.TaskStatusMessage{
		TaskID:    status.TaskID,
		Phase:     status.Phase,
		Progress:  status.Progress,
		Message:   status.Message,
		UpdatedAt: status.UpdatedAt,
	})
	if entry != nil {
		d.hub.BroadcastLogs(protocol.TaskLogsMessage{
			TaskID:  taskID,
			Entries: []domain.TaskLogEntry{*entry},
		})
	}

	return status, nil
}

// GetRealtimeStatus is the poll-fallback status read path
func (d *Dispatcher) GetRealtimeStatus(ctx context.Context, taskID string) (*domain.RealtimeStatus, error) {
	return d.store.GetRealtimeStatus(ctx, taskID)
}

// GetLogs is the poll-fallback log read path
func (d *Dispatcher) GetLogs(ctx context.Context, taskID string) ([]domain.TaskLogEntry, error) {
	return d.store.GetTaskLogs(ctx, taskID)
}

// GetTask loads a task record
func (d *Dispatcher) GetTask(ctx context.Context, taskID string) (*domain.AgentTask, error) {
	return d.store.GetTask(ctx, taskID)
}

func (d *Dispatcher) broadcastStatus(ctx context.Context, taskID string) {
	status, err := d.store.GetRealtimeStatus(ctx, taskID)
	if err != nil {
		log.Printf("loading status for broadcast: %v", err)
		return
	}
	d.hub.BroadcastStatus(protocol.TaskStatusMessage{
		TaskID:    status.TaskID,
		Phase:     status.Phase,
		Progress:  status.Progress,
		Message:   status.Message,
		UpdatedAt: status.UpdatedAt,
	})
}
