package session

import (
	"time"

	"github.com/ent0n29/agentos/internal/tasks"
)

// CreateRequest defines payload for opening a conversation session.
type CreateRequest struct {
	UserID string            `json:"user_id"`
	Source tasks.InputSource `json:"source"`
}

// CreateResponse returns created session metadata.
type CreateResponse struct {
	SessionID       string            `json:"session_id"`
	UserID          string            `json:"user_id"`
	Status          Status            `json:"status"`
	Source          tasks.InputSource `json:"source"`
	StartedAt       time.Time         `json:"started_at"`
	LastActivityAt  time.Time         `json:"last_activity_at"`
	InactivityTTLMS int64             `json:"inactivity_ttl_ms"`
}
