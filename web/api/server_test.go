package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/flowforge/flowforge/internal/config"
	"github.com/flowforge/flowforge/internal/dispatch"
	"github.com/flowforge/flowforge/internal/hub"
	"github.com/flowforge/flowforge/internal/orchestrator"
	"github.com/flowforge/flowforge/internal/store"
)

const testSecret = "callback-secret"

type testServer struct {
	srv     *httptest.Server
	webhook *httptest.Server
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	st, err := store.New(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })

	webhook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(webhook.Close)

	h := hub.New()
	d := dispatch.New(st, h, dispatch.WebhookConfig{URL: webhook.URL, Secret: testSecret})
	s := NewServer(orchestrator.New(st), d, h, config.Default().Realtime)

	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)

	return &testServer{srv: srv, webhook: webhook}
}

func (ts *testServer) do(t *testing.T, method, path string, body interface{}) (*http.Response, map[string]interface{}) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, ts.srv.URL+path, reader)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var decoded map[string]interface{}
	raw, _ := io.ReadAll(resp.Body)
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &decoded); err != nil {
			t.Fatalf("decoding %s %s response %q: %v", method, path, raw, err)
		}
	}
	return resp, decoded
}

func (ts *testServer) createWorkItem(t *testing.T) string {
	t.Helper()
	resp, body := ts.do(t, http.MethodPost, "/api/workitems", map[string]string{
		"name":       "payments refactor",
		"created_by": "alice",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d, body = %v", resp.StatusCode, body)
	}
	return body["id"].(string)
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)

	resp, body := ts.do(t, http.MethodGet, "/api/health", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if body["status"] != "ok" {
		t.Errorf("body = %v", body)
	}
	realtime, ok := body["realtime"].(map[string]interface{})
	if !ok || realtime["reconnect_initial_secs"] != float64(1) {
		t.Errorf("realtime = %v", body["realtime"])
	}
}

func TestCreateAndGetWorkItem(t *testing.T) {
	ts := newTestServer(t)
	id := ts.createWorkItem(t)

	resp, body := ts.do(t, http.MethodGet, "/api/workitems/"+id, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if body["state"] != "DRAFT" || body["name"] != "payments refactor" {
		t.Errorf("body = %v", body)
	}
	if _, ok := body["decision_log"].([]interface{}); !ok {
		t.Errorf("decision_log = %v, want an array", body["decision_log"])
	}
}

func TestGetWorkItem_NotFound(t *testing.T) {
	ts := newTestServer(t)

	resp, _ := ts.do(t, http.MethodGet, "/api/workitems/nope", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestCreateWorkItem_RequiresName(t *testing.T) {
	ts := newTestServer(t)

	resp, _ := ts.do(t, http.MethodPost, "/api/workitems", map[string]string{"created_by": "alice"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestTransition_GuardedByPrecondition(t *testing.T) {
	ts := newTestServer(t)
	id := ts.createWorkItem(t)

	resp, body := ts.do(t, http.MethodPost, "/api/workitems/"+id+"/transition", map[string]string{
		"to": "REVIEWED", "actor": "alice", "reason": "ready for review",
	})
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", resp.StatusCode)
	}
	if msg, _ := body["error"].(string); !strings.Contains(msg, "sections") {
		t.Errorf("error = %q, want the unmet precondition named", msg)
	}

	sections := true
	resp, _ = ts.do(t, http.MethodPatch, "/api/workitems/"+id+"/flags", map[string]*bool{
		"sections_completed": &sections,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("flags status = %d", resp.StatusCode)
	}

	resp, body = ts.do(t, http.MethodPost, "/api/workitems/"+id+"/transition", map[string]string{
		"to": "REVIEWED", "actor": "alice", "reason": "ready for review",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, body = %v", resp.StatusCode, body)
	}
	if body["state"] != "REVIEWED" {
		t.Errorf("state = %v", body["state"])
	}
	log := body["decision_log"].([]interface{})
	if len(log) != 1 {
		t.Errorf("decision_log length = %d, want 1", len(log))
	}
}

func TestTransition_UnknownState(t *testing.T) {
	ts := newTestServer(t)
	id := ts.createWorkItem(t)

	resp, _ := ts.do(t, http.MethodPost, "/api/workitems/"+id+"/transition", map[string]string{
		"to": "LIMBO", "actor": "alice",
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestAvailableTransitions(t *testing.T) {
	ts := newTestServer(t)
	id := ts.createWorkItem(t)

	resp, body := ts.do(t, http.MethodGet, "/api/workitems/"+id+"/transitions", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	transitions := body["transitions"].([]interface{})
	if len(transitions) != 1 {
		t.Fatalf("transitions = %v", transitions)
	}
	first := transitions[0].(map[string]interface{})
	if first["to"] != "REVIEWED" || first["enabled"] != false {
		t.Errorf("transition = %v", first)
	}
}

func TestGates(t *testing.T) {
	ts := newTestServer(t)
	id := ts.createWorkItem(t)

	resp, body := ts.do(t, http.MethodPut, "/api/workitems/"+id+"/gates/tests_passing", map[string]interface{}{
		"status": "passed",
		"details": []map[string]string{
			{"name": "unit", "status": "passed"},
		},
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("put gate status = %d, body = %v", resp.StatusCode, body)
	}
	if body["all_gates_passed"] != false {
		t.Error("one passed gate must not set the aggregate")
	}

	resp, body = ts.do(t, http.MethodGet, "/api/workitems/"+id+"/gates", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get gates status = %d", resp.StatusCode)
	}
	gateList := body["gates"].([]interface{})
	if len(gateList) != 8 {
		t.Errorf("gates length = %d, want the full normalized set", len(gateList))
	}
}

func TestPutGate_UnknownGate(t *testing.T) {
	ts := newTestServer(t)
	id := ts.createWorkItem(t)

	resp, _ := ts.do(t, http.MethodPut, "/api/workitems/"+id+"/gates/vibes", map[string]string{"status": "passed"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestDispatchAndCallback(t *testing.T) {
	ts := newTestServer(t)
	id := ts.createWorkItem(t)

	resp, body := ts.do(t, http.MethodPost, "/api/workitems/"+id+"/dispatch", map[string]string{
		"action": "implement", "triggered_by": "alice",
	})
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("dispatch status = %d, body = %v", resp.StatusCode, body)
	}
	if body["status"] != "dispatched" {
		t.Errorf("task status = %v", body["status"])
	}
	taskID := body["id"].(string)

	// Signed callback moves the realtime status forward
	progress := 45
	payload, err := json.Marshal(map[string]interface{}{
		"phase":    "running",
		"progress": progress,
		"message":  "halfway",
		"log":      map[string]string{"level": "info", "message": "tests started"},
	})
	if err != nil {
		t.Fatal(err)
	}
	resp = ts.signedCallback(t, taskID, payload, dispatch.Sign(payload, testSecret, time.Now()))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("callback status = %d", resp.StatusCode)
	}

	resp, body = ts.do(t, http.MethodGet, "/api/tasks/"+taskID+"/status", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status read = %d", resp.StatusCode)
	}
	if body["phase"] != "running" || body["progress"] != float64(progress) {
		t.Errorf("status = %v", body)
	}

	resp, body = ts.do(t, http.MethodGet, "/api/tasks/"+taskID+"/logs", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("logs read = %d", resp.StatusCode)
	}
	entries := body["entries"].([]interface{})
	if len(entries) != 1 {
		t.Errorf("entries = %v", entries)
	}
}

func TestCallback_BadSignature(t *testing.T) {
	ts := newTestServer(t)
	id := ts.createWorkItem(t)

	resp, body := ts.do(t, http.MethodPost, "/api/workitems/"+id+"/dispatch", map[string]string{
		"action": "implement",
	})
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("dispatch status = %d", resp.StatusCode)
	}
	taskID := body["id"].(string)

	payload := []byte(`{"phase":"running"}`)
	for name, sig := range map[string]string{
		"missing":      "",
		"garbage":      "not-a-signature",
		"wrong secret": dispatch.Sign(payload, "other-secret", time.Now()),
		"stale":        dispatch.Sign(payload, testSecret, time.Now().Add(-10*time.Minute)),
	} {
		resp := ts.signedCallback(t, taskID, payload, sig)
		if resp.StatusCode != http.StatusUnauthorized {
			t.Errorf("%s signature: status = %d, want 401", name, resp.StatusCode)
		}
	}
}

func TestCallback_OutOfRangeProgress(t *testing.T) {
	ts := newTestServer(t)
	id := ts.createWorkItem(t)

	resp, body := ts.do(t, http.MethodPost, "/api/workitems/"+id+"/dispatch", map[string]string{
		"action": "implement",
	})
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("dispatch status = %d", resp.StatusCode)
	}
	taskID := body["id"].(string)

	for _, progress := range []int{-5, 250} {
		payload, err := json.Marshal(map[string]interface{}{
			"phase":    "running",
			"progress": progress,
		})
		if err != nil {
			t.Fatal(err)
		}
		resp := ts.signedCallback(t, taskID, payload, dispatch.Sign(payload, testSecret, time.Now()))
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("progress %d: status = %d, want 400", progress, resp.StatusCode)
		}
	}
}

func TestDispatch_WebhookNotConfigured(t *testing.T) {
	st, err := store.New(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })

	h := hub.New()
	d := dispatch.New(st, h, dispatch.WebhookConfig{})
	s := NewServer(orchestrator.New(st), d, h, config.Default().Realtime)
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)

	ts := &testServer{srv: srv}
	id := ts.createWorkItem(t)

	resp, _ := ts.do(t, http.MethodPost, "/api/workitems/"+id+"/dispatch", map[string]string{
		"action": "implement",
	})
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", resp.StatusCode)
	}
}

func TestTaskStatus_NotFound(t *testing.T) {
	ts := newTestServer(t)

	resp, _ := ts.do(t, http.MethodGet, "/api/tasks/nope/status", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func (ts *testServer) signedCallback(t *testing.T, taskID string, payload []byte, signature string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, fmt.Sprintf("%s/api/tasks/%s/callback", ts.srv.URL, taskID), bytes.NewReader(payload))
	if err != nil {
		t.Fatal(err)
	}
	if signature != "" {
		req.Header.Set(dispatch.SignatureHeader, signature)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	return resp
}
