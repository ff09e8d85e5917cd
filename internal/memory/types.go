package memory

import (
	"context"
	"time"

	"github.com/ent0n29/agentos/internal/tasks"
)

const defaultRecentLimit = 10

// TurnRecord stores a single user or assistant conversational turn.
type TurnRecord struct {
	ID          string                 `json:"id"`
	SessionID   string                 `json:"session_id"`
	TaskID      string                 `json:"task_id,omitempty"`
	Role        tasks.ConversationRole `json:"role"`
	Content     string                 `json:"content"`
	PIIRedacted bool                   `json:"pii_redacted"`
	CreatedAt   time.Time              `json:"created_at"`
}

// Turn converts the record into the shape carried on a task context.
func (r TurnRecord) Turn() tasks.ConversationTurn {
	return tasks.ConversationTurn{Role: r.Role, Content: r.Content, Timestamp: r.CreatedAt}
}

// Turns converts records in order.
func Turns(records []TurnRecord) []tasks.ConversationTurn {
	if len(records) == 0 {
		return nil
	}
	out := make([]tasks.ConversationTurn, len(records))
	for i, r := range records {
		out[i] = r.Turn()
	}
	return out
}

// Store persists and retrieves conversation turns per session. RecentTurns
// returns the newest limit turns in chronological order.
type Store interface {
	SaveTurn(ctx context.Context, record TurnRecord) error
	RecentTurns(ctx context.Context, sessionID string, limit int) ([]TurnRecord, error)
	Close() error
}

// Pruner is implemented by stores that need an explicit sweep to drop old
// turns. Redis expires keys on its own and does not implement it.
type Pruner interface {
	PruneBefore(ctx context.Context, before time.Time) (int, error)
}
