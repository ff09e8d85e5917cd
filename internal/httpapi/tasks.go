package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/ent0n29/agentos/internal/tasks"
)

// createTaskRequest accepts the intent either as an object or as
// "domain.action" in intent_name.
type createTaskRequest struct {
	Intent     *tasks.Intent     `json:"intent"`
	IntentName string            `json:"intent_name"`
	Slots      tasks.Slots       `json:"slots"`
	Context    tasks.TaskContext `json:"context"`
}

type parseTaskRequest struct {
	Raw     string            `json:"raw"`
	Context tasks.TaskContext `json:"context"`
}

type updateSlotRequest struct {
	Value tasks.Value `json:"value"`
}

type completeTaskRequest struct {
	Success *bool                  `json:"success"`
	Data    map[string]tasks.Value `json:"data"`
	Error   *tasks.TaskError       `json:"error"`
}

type setCurrentRequest struct {
	TaskID string `json:"task_id"`
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var req createTaskRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	var in tasks.Intent
	switch {
	case req.Intent != nil:
		in = *req.Intent
	case strings.TrimSpace(req.IntentName) != "":
		parsed, err := tasks.ParseIntent(req.IntentName)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
			return
		}
		in = parsed
	default:
		respondError(w, http.StatusBadRequest, "invalid_request", "intent or intent_name is required")
		return
	}

	task, err := s.tasks.CreateTask(r.Context(), tasks.CreateRequest{
		Intent:  in,
		Slots:   req.Slots,
		Context: req.Context,
	})
	if err != nil {
		respondCommandError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, task)
}

// handleParseTask turns a raw model response into a created task.
func (s *Server) handleParseTask(w http.ResponseWriter, r *http.Request) {
	var req parseTaskRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	parsed, err := s.parser.Parse(req.Raw, req.Context)
	if err != nil {
		respondCommandError(w, err)
		return
	}
	task, err := s.tasks.CreateTask(r.Context(), parsed.ToCreateRequest())
	if err != nil {
		respondCommandError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, task)
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	taskID, ok := taskIDParam(w, r)
	if !ok {
		return
	}
	task, err := s.tasks.GetTask(r.Context(), taskID)
	if err != nil {
		respondCommandError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, task)
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	status := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("status")))
	if status == "" {
		status = "active"
	}
	limit, ok := limitParam(w, r, 20, 200)
	if !ok {
		return
	}

	var (
		list []tasks.Task
		err  error
	)
	switch status {
	case "active":
		list, err = s.tasks.ActiveTasks(r.Context())
		if len(list) > limit {
			list = list[:limit]
		}
	case "history":
		list, err = s.tasks.History(r.Context(), limit)
	default:
		respondError(w, http.StatusBadRequest, "invalid_request", "status must be active or history")
		return
	}
	if err != nil {
		respondCommandError(w, err)
		return
	}
	if list == nil {
		list = []tasks.Task{}
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"status": status,
		"tasks":  list,
	})
}

func (s *Server) handleCurrentTask(w http.ResponseWriter, _ *http.Request) {
	task, ok := s.tasks.CurrentTask()
	if !ok {
		respondError(w, http.StatusNotFound, "no_current_task", "no task is in focus")
		return
	}
	respondJSON(w, http.StatusOK, task)
}

func (s *Server) handleSetCurrentTask(w http.ResponseWriter, r *http.Request) {
	var req setCurrentRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	task, err := s.tasks.SetCurrentTask(r.Context(), req.TaskID)
	if err != nil {
		respondCommandError(w, err)
		return
	}
	if task.ID == "" {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	respondJSON(w, http.StatusOK, task)
}

func (s *Server) handleUpdateSlot(w http.ResponseWriter, r *http.Request) {
	taskID, ok := taskIDParam(w, r)
	if !ok {
		return
	}
	name := strings.TrimSpace(chi.URLParam(r, "name"))
	if name == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "missing slot name")
		return
	}
	var req updateSlotRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	task, err := s.tasks.UpdateSlot(r.Context(), taskID, name, req.Value)
	if err != nil {
		respondCommandError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, task)
}

func (s *Server) handleMarkReady(w http.ResponseWriter, r *http.Request) {
	s.runTaskCommand(w, r, s.tasks.MarkReady)
}

func (s *Server) handleBeginExecution(w http.ResponseWriter, r *http.Request) {
	s.runTaskCommand(w, r, s.tasks.BeginExecution)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	s.runTaskCommand(w, r, s.tasks.Cancel)
}

func (s *Server) handleComplete(w http.ResponseWriter, r *http.Request) {
	taskID, ok := taskIDParam(w, r)
	if !ok {
		return
	}
	var req completeTaskRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	result := tasks.TaskResult{Success: true, Data: req.Data, Error: req.Error}
	if req.Success != nil {
		result.Success = *req.Success
	}
	task, err := s.tasks.Complete(r.Context(), taskID, result)
	if err != nil {
		respondCommandError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, task)
}

func (s *Server) handleFail(w http.ResponseWriter, r *http.Request) {
	taskID, ok := taskIDParam(w, r)
	if !ok {
		return
	}
	var req tasks.TaskError
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	req.Code = strings.TrimSpace(req.Code)
	if req.Code == "" {
		req.Code = "execution_failed"
	}
	if strings.TrimSpace(req.Message) == "" {
		req.Message = "task execution failed"
	}
	task, err := s.tasks.Fail(r.Context(), taskID, req)
	if err != nil {
		respondCommandError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, task)
}

func (s *Server) handleListTaskEvents(w http.ResponseWriter, r *http.Request) {
	taskID, ok := taskIDParam(w, r)
	if !ok {
		return
	}
	limit, ok := limitParam(w, r, 100, 500)
	if !ok {
		return
	}
	events, err := s.tasks.ListEvents(r.Context(), taskID, limit)
	if err != nil {
		respondCommandError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"task_id": taskID,
		"events":  events,
	})
}

type taskCommand func(ctx context.Context, taskID string) (tasks.Task, error)

func (s *Server) runTaskCommand(w http.ResponseWriter, r *http.Request, cmd taskCommand) {
	taskID, ok := taskIDParam(w, r)
	if !ok {
		return
	}
	task, err := cmd(r.Context(), taskID)
	if err != nil {
		respondCommandError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, task)
}

func taskIDParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	taskID := strings.TrimSpace(chi.URLParam(r, "id"))
	if taskID == "" {
		respondError(w, http.StatusBadRequest, "invalid_task_id", "missing task id")
		return "", false
	}
	return taskID, true
}

func limitParam(w http.ResponseWriter, r *http.Request, fallback, max int) (int, bool) {
	raw := strings.TrimSpace(r.URL.Query().Get("limit"))
	if raw == "" {
		return fallback, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		respondError(w, http.StatusBadRequest, "invalid_request", "limit must be a positive integer")
		return 0, false
	}
	if n > max {
		n = max
	}
	return n, true
}
