package domain

import "time"

// TaskTTL is how long task and log records are retained before the
// store may expire them. Retention only, not a correctness mechanism.
const TaskTTL = 30 * 24 * time.Hour

// TaskContext records what triggered a task
type TaskContext struct {
	TriggeredBy  string    `json:"triggered_by"`
	TriggeredAt  time.Time `json:"triggered_at"`
	WorkItemName string    `json:"work_item_name,omitempty"`
}

// AgentTask is a single asynchronous execution request sent to the
// external worker via webhook
type AgentTask struct {
	ID         string
	WorkItemID string
	Action     string
	Status     TaskStatus
	Phase      Phase
	Progress   *int
	Message    string
	Context    TaskContext
	WebhookURL string

	CreatedAt    time.Time
	DispatchedAt *time.Time
	CompletedAt  *time.Time
	UpdatedAt    time.Time

	// HTTP status of the dispatch response, 0 if none was received
	ResponseCode int
	Error        string

	// ExpiresAt is epoch seconds after which the record may be purged
	ExpiresAt int64
}

// TaskLogEntry is one append-only log record for a task
type TaskLogEntry struct {
	TaskID    string            `json:"task_id"`
	Timestamp time.Time         `json:"timestamp"`
	Level     LogLevel          `json:"level"`
	Message   string            `json:"message"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// RealtimeStatus is the lightweight projection served to both push
// subscribers and poll clients
type RealtimeStatus struct {
	TaskID    string    `json:"task_id"`
	Phase     Phase     `json:"phase"`
	Progress  *int      `json:"progress,omitempty"`
	Message   string    `json:"message,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}
