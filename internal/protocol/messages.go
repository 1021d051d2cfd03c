// Package protocol defines message types for the realtime status
// channel between the engine and its observers. Messages flow over
// WebSocket connections.
package protocol

import (
	"encoding/json"
	"time"

	"github.com/flowforge/flowforge/internal/domain"
)

// Envelope wraps all messages with a type discriminator.
// When marshaling, Payload can be any message struct.
// When unmarshaling, use EnvelopeRaw for type-based dispatch.
type Envelope struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload,omitempty"`
}

// EnvelopeRaw is used for receiving messages where the payload
// needs to be unmarshaled based on the message type.
type EnvelopeRaw struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// MarshalEnvelope creates an envelope with the given type and payload
func MarshalEnvelope(msgType string, payload interface{}) ([]byte, error) {
	return json.Marshal(Envelope{Type: msgType, Payload: payload})
}

// Client -> Hub messages

// SubscribeMessage adds or removes interest in a task's updates.
// Used for both subscribe and unsubscribe; both are idempotent.
type SubscribeMessage struct {
	TaskID string `json:"task_id"`
}

// Hub -> Client messages

// TaskStatusMessage carries the realtime status projection
type TaskStatusMessage struct {
	TaskID    string       `json:"task_id"`
	Phase     domain.Phase `json:"phase"`
	Progress  *int         `json:"progress,omitempty"`
	Message   string       `json:"message,omitempty"`
	UpdatedAt time.Time    `json:"updated_at"`
}

// TaskLogsMessage carries newly appended log entries for a task
type TaskLogsMessage struct {
	TaskID  string                `json:"task_id"`
	Entries []domain.TaskLogEntry `json:"entries"`
}

// ConnectionStatusMessage reports connection lifecycle to the client
type ConnectionStatusMessage struct {
	Connected    bool `json:"connected"`
	Reconnecting bool `json:"reconnecting,omitempty"`
	Attempt      int  `json:"attempt,omitempty"`
}

// Message type constants
const (
	TypeSubscribe        = "subscribe"
	TypeUnsubscribe      = "unsubscribe"
	TypeTaskStatusUpdate = "task_status_update"
	TypeTaskLogsUpdate   = "task_logs_update"
	TypeConnectionStatus = "connection_status"
	TypePing             = "ping"
	TypePong             = "pong"
)
