package protocol

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/flowforge/flowforge/internal/domain"
)

func TestEnvelopeDispatch(t *testing.T) {
	progress := 30
	data, err := MarshalEnvelope(TypeTaskStatusUpdate, TaskStatusMessage{
		TaskID:    "t1",
		Phase:     domain.PhaseRunning,
		Progress:  &progress,
		UpdatedAt: time.Now().UTC(),
	})
	if err != nil {
		t.Fatal(err)
	}

	var env EnvelopeRaw
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatal(err)
	}
	if env.Type != TypeTaskStatusUpdate {
		t.Fatalf("Type = %q", env.Type)
	}

	var msg TaskStatusMessage
	if err := json.Unmarshal(env.Payload, &msg); err != nil {
		t.Fatal(err)
	}
	if msg.TaskID != "t1" || msg.Phase != domain.PhaseRunning || *msg.Progress != 30 {
		t.Errorf("msg = %+v", msg)
	}
}

func TestEnvelope_NilPayloadOmitted(t *testing.T) {
	data, err := MarshalEnvelope(TypePong, nil)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != `{"type":"pong"}` {
		t.Errorf("data = %s", data)
	}

	var env EnvelopeRaw
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatal(err)
	}
	if len(env.Payload) != 0 {
		t.Errorf("Payload = %s, want empty", env.Payload)
	}
}
