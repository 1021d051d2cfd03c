package api

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/flowforge/flowforge/internal/dispatch"
	"github.com/flowforge/flowforge/internal/domain"
	"github.com/flowforge/flowforge/internal/gates"
	"github.com/flowforge/flowforge/internal/orchestrator"
)

// WorkItemResponse is the API shape of a work item
type WorkItemResponse struct {
	ID                  string                    `json:"id"`
	Name                string                    `json:"name"`
	Description         string                    `json:"description,omitempty"`
	State               string                    `json:"state"`
	DecisionLog         []domain.TransitionRecord `json:"decision_log"`
	SectionsCompleted   bool                      `json:"sections_completed"`
	AllGatesPassed      bool                      `json:"all_gates_passed"`
	ExternallyFinalized bool                      `json:"externally_finalized"`
	CreatedBy           string                    `json:"created_by"`
	CreatedAt           time.Time                 `json:"created_at"`
	UpdatedAt           time.Time                 `json:"updated_at"`
}

func workItemToResponse(item *domain.WorkItem) WorkItemResponse {
	log := item.DecisionLog
	if log == nil {
		log = []domain.TransitionRecord{}
	}
	return WorkItemResponse{
		ID:                  item.ID,
		Name:                item.Name,
		Description:         item.Description,
		State:               string(item.State),
		DecisionLog:         log,
		SectionsCompleted:   item.SectionsCompleted,
		AllGatesPassed:      item.AllGatesPassed,
		ExternallyFinalized: item.ExternallyFinalized,
		CreatedBy:           item.CreatedBy,
		CreatedAt:           item.CreatedAt,
		UpdatedAt:           item.UpdatedAt,
	}
}

func (s *Server) handleCreateWorkItem(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name        string `json:"name"`
		Description string `json:"description"`
		CreatedBy   string `json:"created_by"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	item, err := s.orch.Create(r.Context(), orchestrator.CreateInput{
		Name:        req.Name,
		Description: req.Description,
		CreatedBy:   req.CreatedBy,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(workItemToResponse(item))
}

func (s *Server) handleGetWorkItem(w http.ResponseWriter, r *http.Request) {
	item, err := s.orch.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, workItemToResponse(item))
}

func (s *Server) handleTransition(w http.ResponseWriter, r *http.Request) {
	var req struct {
		To     string `json:"to"`
		Actor  string `json:"actor"`
		Reason string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	target, err := domain.ParseState(req.To)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	item, err := s.orch.Transition(r.Context(), chi.URLParam(r, "id"), target, req.Actor, req.Reason)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, workItemToResponse(item))
}

func (s *Server) handleUpdateFlags(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SectionsCompleted   *bool `json:"sections_completed"`
		AllGatesPassed      *bool `json:"all_gates_passed"`
		ExternallyFinalized *bool `json:"externally_finalized"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	item, err := s.orch.UpdateFlags(r.Context(), chi.URLParam(r, "id"), domain.FlagUpdate{
		SectionsCompleted:   req.SectionsCompleted,
		AllGatesPassed:      req.AllGatesPassed,
		ExternallyFinalized: req.ExternallyFinalized,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, workItemToResponse(item))
}

func (s *Server) handleAvailableTransitions(w http.ResponseWriter, r *http.Request) {
	transitions, err := s.orch.AvailableTransitions(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, map[string]interface{}{"transitions": transitions})
}

func (s *Server) handleGetGates(w http.ResponseWriter, r *http.Request) {
	all, passed, err := s.orch.Gates(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}

	reported := make(map[domain.GateID]domain.Gate, len(all))
	for _, g := range all {
		reported[g.ID] = g
	}
	writeJSON(w, map[string]interface{}{
		"gates":            all,
		"all_gates_passed": passed,
		"summary":          gates.Summarize(reported),
	})
}

func (s *Server) handlePutGate(w http.ResponseWriter, r *http.Request) {
	gateID, err := domain.ParseGateID(chi.URLParam(r, "gate"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req struct {
		Status  string              `json:"status"`
		Details []domain.GateDetail `json:"details"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	status, err := domain.ParseGateStatus(req.Status)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	item, err := s.orch.ReportGate(r.Context(), chi.URLParam(r, "id"), gateID, status, req.Details)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, workItemToResponse(item))
}

// TaskResponse is the API shape of an agent task
type TaskResponse struct {
	ID         string `json:"id"`
	WorkItemID string `json:"work_item_id"`
	Action     string `json:"action"`
	Status     string `json:"status"`
	Phase      string `json:"phase"`
	Progress   *int   `json:"progress,omitempty"`
	Message    string `json:"message,omitempty"`
	Error      string `json:"error,omitempty"`
}

func (s *Server) handleDispatch(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Action      string `json:"action"`
		TriggeredBy string `json:"triggered_by"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Action == "" {
		writeError(w, http.StatusBadRequest, "action is required")
		return
	}

	task, err := s.dispatcher.Dispatch(r.Context(), chi.URLParam(r, "id"), req.Action, req.TriggeredBy)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(TaskResponse{
		ID:         task.ID,
		WorkItemID: task.WorkItemID,
		Action:     task.Action,
		Status:     string(task.Status),
		Phase:      string(task.Phase),
		Progress:   task.Progress,
		Message:    task.Message,
		Error:      task.Error,
	})
}

// handleCallback receives status updates from the external worker,
// authenticated by the HMAC signature scheme rather than any end-user
// session mechanism
func (s *Server) handleCallback(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := dispatch.Verify(body, r.Header.Get(dispatch.SignatureHeader), s.dispatcher.Secret(), time.Now()); err != nil {
		writeDomainError(w, err)
		return
	}

	var req struct {
		Phase    string `json:"phase"`
		Progress *int   `json:"progress"`
		Message  string `json:"message"`
		Log      *struct {
			Level    string            `json:"level"`
			Message  string            `json:"message"`
			Metadata map[string]string `json:"metadata"`
		} `json:"log"`
	}
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	phase, err := domain.ParsePhase(req.Phase)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	update := dispatch.StatusUpdate{
		Phase:    phase,
		Progress: req.Progress,
		Message:  req.Message,
	}
	if req.Log != nil {
		level, err := domain.ParseLogLevel(req.Log.Level)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		update.Log = &dispatch.LogInput{
			Level:    level,
			Message:  req.Log.Message,
			Metadata: req.Log.Metadata,
		}
	}

	status, err := s.dispatcher.UpdateRealtimeStatus(r.Context(), chi.URLParam(r, "id"), update)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, status)
}

func (s *Server) handleTaskStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.dispatcher.GetRealtimeStatus(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, status)
}

func (s *Server) handleTaskLogs(w http.ResponseWriter, r *http.Request) {
	entries, err := s.dispatcher.GetLogs(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if entries == nil {
		entries = []domain.TaskLogEntry{}
	}
	writeJSON(w, map[string]interface{}{"entries": entries})
}
