package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"autoai/internal/db"
	"autoai/internal/secrets"
)

// HealthCheck handles GET /health.
func (s *Server) HealthCheck(w http.ResponseWriter, r *http.Request) {
	s.jsonResponse(w, http.StatusOK, HealthResponse{Status: "healthy"})
}

// ListTasks handles GET /api/tasks.
func (s *Server) ListTasks(w http.ResponseWriter, r *http.Request) {
	tasks, err := s.db.ListTasks()
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, "Failed to fetch tasks")
		return
	}

	response := TaskListResponse{
		Tasks: make([]TaskResponse, len(tasks)),
		Total: len(tasks),
	}
	for i, task := range tasks {
		response.Tasks[i] = s.taskToResponse(task)
	}
	s.jsonResponse(w, http.StatusOK, response)
}

// CreateTask handles POST /api/tasks. The task row is the source of
// truth: creation succeeds once the store write does, even when
// scheduler registration fails (registration heals on next startup).
func (s *Server) CreateTask(w http.ResponseWriter, r *http.Request) {
	var req TaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := req.validate(); err != nil {
		s.errorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	ciphertext, err := s.codec.Encrypt(req.APIKey)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, "Failed to encrypt API key")
		return
	}

	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}

	task := &db.Task{
		Name:           req.Name,
		APIEndpoint:    req.APIEndpoint,
		APIKey:         ciphertext,
		ScheduleType:   req.ScheduleType,
		MessageContent: req.MessageContent,
		Model:          req.Model,
		Enabled:        enabled,
	}
	// Only the discriminator's field group is stored.
	switch req.ScheduleType {
	case db.ScheduleInterval:
		task.IntervalMinutes = req.IntervalMinutes
		task.IntervalSeconds = req.IntervalSeconds
	case db.ScheduleFixedTime:
		task.FixedTime = req.FixedTime
	}

	if err := s.db.CreateTask(task); err != nil {
		s.errorResponse(w, http.StatusInternalServerError, "Failed to create task")
		return
	}

	if err := s.scheduler.RegisterOrReplace(task); err != nil {
		s.log.Error().Int64("task_id", task.ID).Err(err).Msg("failed to register created task")
	}
	s.scheduler.TriggerImmediate(task)

	s.jsonResponse(w, http.StatusCreated, s.taskToResponse(task))
}

// GetTask handles GET /api/tasks/{id}.
func (s *Server) GetTask(w http.ResponseWriter, r *http.Request) {
	task, ok := s.taskFromURL(w, r)
	if !ok {
		return
	}
	s.jsonResponse(w, http.StatusOK, s.taskToResponse(task))
}

// UpdateTask handles PUT /api/tasks/{id}. The body is a sparse update
// intent; omitted fields keep their stored values.
func (s *Server) UpdateTask(w http.ResponseWriter, r *http.Request) {
	task, ok := s.taskFromURL(w, r)
	if !ok {
		return
	}

	var update db.TaskUpdate
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if update.APIKey != nil {
		if *update.APIKey == "" || len(*update.APIKey) > maxAPIKeyLength {
			s.errorResponse(w, http.StatusBadRequest, "api_key must not be empty")
			return
		}
		ciphertext, err := s.codec.Encrypt(*update.APIKey)
		if err != nil {
			s.errorResponse(w, http.StatusInternalServerError, "Failed to encrypt API key")
			return
		}
		update.APIKey = &ciphertext
	}

	update.ApplyTo(task)
	if err := validateMergedTask(task); err != nil {
		s.errorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := s.db.UpdateTask(task); err != nil {
		s.errorResponse(w, http.StatusInternalServerError, "Failed to update task")
		return
	}

	if err := s.scheduler.RegisterOrReplace(task); err != nil {
		s.log.Error().Int64("task_id", task.ID).Err(err).Msg("failed to re-register updated task")
	}
	s.scheduler.TriggerImmediate(task)

	s.jsonResponse(w, http.StatusOK, s.taskToResponse(task))
}

// DeleteTask handles DELETE /api/tasks/{id}. The job goes first, then
// the row; execution logs cascade with it.
func (s *Server) DeleteTask(w http.ResponseWriter, r *http.Request) {
	task, ok := s.taskFromURL(w, r)
	if !ok {
		return
	}

	s.scheduler.Unregister(task.ID)
	if err := s.db.DeleteTask(task.ID); err != nil {
		s.errorResponse(w, http.StatusInternalServerError, "Failed to delete task")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RunTask handles POST /api/tasks/{id}/run: a manual out-of-band
// execution. The runner itself still enforces the enablement gate.
func (s *Server) RunTask(w http.ResponseWriter, r *http.Request) {
	task, ok := s.taskFromURL(w, r)
	if !ok {
		return
	}

	if !s.scheduler.RunNow(task.ID) {
		s.errorResponse(w, http.StatusServiceUnavailable, "Scheduler is not running")
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// ListTaskLogs handles GET /api/tasks/{id}/logs.
func (s *Server) ListTaskLogs(w http.ResponseWriter, r *http.Request) {
	task, ok := s.taskFromURL(w, r)
	if !ok {
		return
	}

	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 500 {
			s.errorResponse(w, http.StatusBadRequest, "limit must be between 1 and 500")
			return
		}
		limit = n
	}

	logs, err := s.db.ListExecutionLogs(task.ID, limit)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, "Failed to fetch execution logs")
		return
	}
	if logs == nil {
		logs = []*db.ExecutionLog{}
	}
	s.jsonResponse(w, http.StatusOK, logs)
}

func (s *Server) taskFromURL(w http.ResponseWriter, r *http.Request) (*db.Task, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, "Invalid task ID")
		return nil, false
	}

	task, err := s.db.GetTask(id)
	if errors.Is(err, db.ErrNotFound) {
		s.errorResponse(w, http.StatusNotFound, "Task not found")
		return nil, false
	}
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, "Failed to fetch task")
		return nil, false
	}
	return task, true
}

func (s *Server) taskToResponse(task *db.Task) TaskResponse {
	resp := TaskResponse{
		ID:              task.ID,
		Name:            task.Name,
		APIEndpoint:     task.APIEndpoint,
		APIKey:          secrets.Mask(task.APIKey),
		ScheduleType:    task.ScheduleType,
		IntervalMinutes: task.IntervalMinutes,
		IntervalSeconds: task.IntervalSeconds,
		FixedTime:       task.FixedTime,
		MessageContent:  task.MessageContent,
		Model:           task.Model,
		Enabled:         task.Enabled,
		CreatedAt:       task.CreatedAt,
		UpdatedAt:       task.UpdatedAt,
	}
	if next, ok := s.scheduler.NextRun(task.ID); ok {
		resp.NextRunAt = &next
	}
	return resp
}

func (s *Server) jsonResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Error().Err(err).Msg("failed to encode response")
	}
}

func (s *Server) errorResponse(w http.ResponseWriter, status int, message string) {
	s.jsonResponse(w, status, ErrorResponse{Error: message})
}
