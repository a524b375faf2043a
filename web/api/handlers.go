package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/hochfrequenz/cc-boss/internal/domain"
	"github.com/hochfrequenz/cc-boss/internal/observer"
	"github.com/hochfrequenz/cc-boss/internal/taskstore"
)

// TaskResponse is the API response for a task
type TaskResponse struct {
	ID            string  `json:"id"`
	Title         string  `json:"title"`
	Prompt        string  `json:"prompt,omitempty"`
	Status        string  `json:"status"`
	Priority      int     `json:"priority"`
	WorkerID      *int    `json:"worker_id,omitempty"`
	ParentID      string  `json:"parent_id,omitempty"`
	Plan          string  `json:"plan,omitempty"`
	ResultSummary string  `json:"result_summary,omitempty"`
	Error         string  `json:"error,omitempty"`
	Attempts      int     `json:"attempts"`
	CostUSD       float64 `json:"cost_usd"`
	TokensIn      int     `json:"tokens_in"`
	TokensOut     int     `json:"tokens_out"`
	DurationS     float64 `json:"duration_s"`
	CreatedAt     string  `json:"created_at"`
	StartedAt     *string `json:"started_at,omitempty"`
	FinishedAt    *string `json:"finished_at,omitempty"`
}

// StatusResponse is the API response for overall queue state
type StatusResponse struct {
	Tasks   map[string]int   `json:"tasks"`
	Workers int              `json:"workers"`
	Metrics observer.Metrics `json:"metrics"`
}

// LogResponse is one persisted run-log line
type LogResponse struct {
	EventType string `json:"event_type"`
	Content   string `json:"content,omitempty"`
	TS        string `json:"ts"`
}

// createTaskRequest is the POST /api/tasks body
type createTaskRequest struct {
	Prompt   string `json:"prompt"`
	Priority int    `json:"priority"`
}

func taskToResponse(t *domain.Task, includePrompt bool) TaskResponse {
	resp := TaskResponse{
		ID:            t.ID,
		Title:         t.Title(),
		Status:        string(t.Status),
		Priority:      t.Priority,
		WorkerID:      t.WorkerID,
		ParentID:      t.ParentID,
		Plan:          t.Plan,
		ResultSummary: t.ResultSummary,
		Error:         t.Error,
		Attempts:      t.Attempts,
		CostUSD:       t.CostUSD,
		TokensIn:      t.TokensIn,
		TokensOut:     t.TokensOut,
		DurationS:     t.DurationS,
		CreatedAt:     t.CreatedAt.Format(time.RFC3339),
	}
	if includePrompt {
		resp.Prompt = t.Prompt
	}
	if t.StartedAt != nil {
		ts := t.StartedAt.Format(time.RFC3339)
		resp.StartedAt = &ts
	}
	if t.FinishedAt != nil {
		ts := t.FinishedAt.Format(time.RFC3339)
		resp.FinishedAt = &ts
	}
	return resp
}

func (s *Server) statusHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}

		counts, err := s.store.CountByStatus()
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}

		status := StatusResponse{Tasks: make(map[string]int, len(counts))}
		for st, n := range counts {
			status.Tasks[string(st)] = n
		}
		if s.workers != nil {
			status.Workers = len(s.workers())
		}
		if s.tracker != nil {
			status.Metrics = s.tracker.Snapshot()
		}

		writeJSON(w, status)
	}
}

func (s *Server) tasksHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			s.listTasks(w, r)
		case http.MethodPost:
			s.createTask(w, r)
		default:
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		}
	}
}

func (s *Server) listTasks(w http.ResponseWriter, r *http.Request) {
	opts := taskstore.ListOptions{Limit: 50}
	if v := r.URL.Query().Get("status"); v != "" {
		opts.Status = domain.TaskStatus(v)
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		opts.Limit = n
	}

	tasks, err := s.store.List(opts)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	responses := make([]TaskResponse, len(tasks))
	for i, t := range tasks {
		responses[i] = taskToResponse(t, false)
	}
	writeJSON(w, responses)
}

func (s *Server) createTask(w http.ResponseWriter, r *http.Request) {
	var req createTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	task, err := s.store.Enqueue(req.Prompt, req.Priority)
	if err != nil {
		if errors.Is(err, taskstore.ErrEmptyPrompt) {
			writeError(w, http.StatusBadRequest, "prompt required")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	w.WriteHeader(http.StatusCreated)
	writeJSON(w, taskToResponse(task, true))
}

// taskHandler routes /api/tasks/{id} and its plan/approve/reject/logs
// sub-resources
func (s *Server) taskHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		path := strings.TrimPrefix(r.URL.Path, "/api/tasks/")
		if path == "" {
			writeError(w, http.StatusBadRequest, "task ID required")
			return
		}

		id, action, _ := strings.Cut(path, "/")
		switch action {
		case "":
			s.getTask(w, r, id)
		case "logs":
			s.getLogs(w, r, id)
		case "plan":
			s.createPlan(w, r, id)
		case "approve":
			s.approvePlan(w, r, id)
		case "reject":
			s.rejectPlan(w, r, id)
		default:
			writeError(w, http.StatusNotFound, "unknown action")
		}
	}
}

func (s *Server) getTask(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	task, err := s.store.Get(id)
	if err != nil {
		if errors.Is(err, taskstore.ErrNotFound) {
			writeError(w, http.StatusNotFound, "task not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, taskToResponse(task, true))
}

func (s *Server) getLogs(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	logs, err := s.store.GetLogs(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	responses := make([]LogResponse, len(logs))
	for i, l := range logs {
		responses[i] = LogResponse{
			EventType: l.EventType,
			Content:   l.Content,
			TS:        l.TS.Format(time.RFC3339),
		}
	}
	writeJSON(w, responses)
}

func (s *Server) createPlan(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	plan, err := s.planner.RequestPlan(r.Context(), id)
	if err != nil {
		if errors.Is(err, taskstore.ErrNotFound) {
			writeError(w, http.StatusNotFound, "task not found")
			return
		}
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, map[string]string{"task_id": id, "plan": plan})
}

func (s *Server) approvePlan(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	if err := s.planner.Approve(id); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, map[string]string{"task_id": id, "status": "approved"})
}

func (s *Server) rejectPlan(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	if err := s.planner.Reject(id); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, map[string]string{"task_id": id, "status": "rejected"})
}

func (s *Server) workersHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}

		if s.workers == nil {
			writeJSON(w, []domain.WorkerStatus{})
			return
		}
		writeJSON(w, s.workers())
	}
}
