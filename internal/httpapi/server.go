package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/ent0n29/agentos/internal/assistant"
	"github.com/ent0n29/agentos/internal/config"
	"github.com/ent0n29/agentos/internal/intent"
	"github.com/ent0n29/agentos/internal/observability"
	"github.com/ent0n29/agentos/internal/session"
	"github.com/ent0n29/agentos/internal/tasks"
)

// Deps are the services the HTTP layer drives.
type Deps struct {
	Sessions  *session.Manager
	Tasks     *tasks.Manager
	Assistant *assistant.Assistant
	Parser    *intent.Parser
	Metrics   *observability.Metrics
	Logger    zerolog.Logger

	TaskStoreMode   string
	MemoryStoreMode string
}

type Server struct {
	cfg       config.Config
	sessions  *session.Manager
	tasks     *tasks.Manager
	assistant *assistant.Assistant
	parser    *intent.Parser
	metrics   *observability.Metrics
	logger    zerolog.Logger
	upgrader  websocket.Upgrader

	taskStoreMode   string
	memoryStoreMode string
}

func New(cfg config.Config, deps Deps) *Server {
	parser := deps.Parser
	if parser == nil {
		parser = intent.NewParser()
	}
	return &Server{
		cfg:             cfg,
		sessions:        deps.Sessions,
		tasks:           deps.Tasks,
		assistant:       deps.Assistant,
		parser:          parser,
		metrics:         deps.Metrics,
		logger:          deps.Logger.With().Str("component", "httpapi").Logger(),
		taskStoreMode:   deps.TaskStoreMode,
		memoryStoreMode: deps.MemoryStoreMode,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Only same-origin browsers unless configured otherwise.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// Non-browser clients often omit Origin.
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})
	r.Get("/v1/perf/latency", s.handlePerfLatency)
	r.Get("/v1/setup/status", s.handleSetupStatus)

	r.Post("/v1/sessions", s.handleCreateSession)
	r.Get("/v1/sessions/{id}", s.handleGetSession)
	r.Post("/v1/sessions/{id}/end", s.handleEndSession)
	r.Post("/v1/utterances", s.handleUtterance)

	r.Route("/v1/tasks", func(r chi.Router) {
		r.Post("/", s.handleCreateTask)
		r.Get("/", s.handleListTasks)
		r.Post("/parse", s.handleParseTask)
		r.Get("/current", s.handleCurrentTask)
		r.Put("/current", s.handleSetCurrentTask)
		r.Get("/ws", s.handleTasksWS)
		r.Get("/{id}", s.handleGetTask)
		r.Get("/{id}/events", s.handleListTaskEvents)
		r.Put("/{id}/slots/{name}", s.handleUpdateSlot)
		r.Post("/{id}/ready", s.handleMarkReady)
		r.Post("/{id}/execute", s.handleBeginExecution)
		r.Post("/{id}/complete", s.handleComplete)
		r.Post("/{id}/fail", s.handleFail)
		r.Post("/{id}/cancel", s.handleCancel)
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":            "ok",
		"task_store_mode":   storeMode(s.taskStoreMode),
		"memory_store_mode": storeMode(s.memoryStoreMode),
	})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.tasks == nil {
		respondError(w, http.StatusServiceUnavailable, "not_ready", "task manager not configured")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if _, err := s.tasks.ActiveTasks(ctx); err != nil {
		respondError(w, http.StatusServiceUnavailable, "store_unavailable", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"status":          "ready",
		"task_store_mode": storeMode(s.taskStoreMode),
		"active_sessions": s.sessions.ActiveCount(),
	})
}

func (s *Server) handlePerfLatency(w http.ResponseWriter, _ *http.Request) {
	if s.metrics == nil {
		respondJSON(w, http.StatusOK, map[string]any{
			"generated_at": "",
			"window_size":  0,
			"stages":       []any{},
		})
		return
	}
	respondJSON(w, http.StatusOK, s.metrics.SnapshotLatency())
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req session.CreateRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	req.UserID = strings.TrimSpace(req.UserID)
	if req.UserID == "" {
		req.UserID = "anonymous"
	}

	sess := s.sessions.Create(req.UserID, req.Source)
	s.observeSession("created")

	respondJSON(w, http.StatusCreated, session.CreateResponse{
		SessionID:       sess.ID,
		UserID:          sess.UserID,
		Status:          sess.Status,
		Source:          sess.Source,
		StartedAt:       sess.StartedAt,
		LastActivityAt:  sess.LastActivityAt,
		InactivityTTLMS: s.sessions.InactivityTimeout().Milliseconds(),
	})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessions.Get(strings.TrimSpace(chi.URLParam(r, "id")))
	if err != nil {
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, sess)
}

func (s *Server) handleEndSession(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	if id == "" {
		respondError(w, http.StatusBadRequest, "invalid_session_id", "missing session id")
		return
	}

	sess, err := s.sessions.End(id)
	if err != nil {
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
		return
	}
	if s.assistant != nil {
		s.assistant.AbandonSession(r.Context(), sess)
	}
	s.observeSession("ended")
	respondJSON(w, http.StatusOK, sess)
}

type utteranceRequest struct {
	SessionID string            `json:"session_id"`
	Text      string            `json:"text"`
	Source    tasks.InputSource `json:"source"`
}

func (s *Server) handleUtterance(w http.ResponseWriter, r *http.Request) {
	if s.assistant == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "assistant not configured")
		return
	}
	var req utteranceRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	req.SessionID = strings.TrimSpace(req.SessionID)
	if req.SessionID == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "session_id is required")
		return
	}
	out, err := s.assistant.HandleUtterance(r.Context(), req.SessionID, req.Text, req.Source)
	if err != nil {
		respondCommandError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, out)
}

func (s *Server) observeSession(event string) {
	if s.metrics == nil {
		return
	}
	s.metrics.ActiveSessions.Set(float64(s.sessions.ActiveCount()))
	s.metrics.SessionEvents.WithLabelValues(event).Inc()
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}

// commandErrorStatus maps domain errors to an HTTP status and error code.
func commandErrorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, tasks.ErrNotFound):
		return http.StatusNotFound, "task_not_found"
	case errors.Is(err, session.ErrNotFound):
		return http.StatusNotFound, "session_not_found"
	case errors.Is(err, tasks.ErrInvalidTransition):
		return http.StatusConflict, "invalid_transition"
	case errors.Is(err, tasks.ErrNotReady):
		return http.StatusConflict, "task_not_ready"
	case errors.Is(err, intent.ErrMalformedResponse):
		return http.StatusUnprocessableEntity, "malformed_response"
	case errors.Is(err, tasks.ErrInvalidTask), errors.Is(err, assistant.ErrEmptyUtterance), errors.Is(err, errSessionMismatch):
		return http.StatusBadRequest, "invalid_request"
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return http.StatusGatewayTimeout, "timeout"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

func respondCommandError(w http.ResponseWriter, err error) {
	status, code := commandErrorStatus(err)
	respondError(w, status, code, err.Error())
}

func storeMode(mode string) string {
	mode = strings.TrimSpace(mode)
	if mode == "" {
		return "memory"
	}
	return mode
}
