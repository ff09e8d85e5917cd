package memory

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/ent0n29/agentos/internal/tasks"
)

func TestPostgresStoreTurns(t *testing.T) {
	dbURL := os.Getenv("TEST_DATABASE_URL")
	if dbURL == "" {
		t.Skip("TEST_DATABASE_URL not set; skipping Postgres integration test")
	}
	ctx := context.Background()
	s, err := NewPostgresStore(ctx, dbURL)
	if err != nil {
		t.Fatalf("NewPostgresStore() error = %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	sessionID := "test-" + uuid.NewString()
	t.Cleanup(func() {
		_, _ = s.pool.Exec(context.Background(), `DELETE FROM conversation_turns WHERE session_id=$1`, sessionID)
	})

	stale := time.Date(1998, 6, 1, 0, 0, 0, 0, time.UTC)
	now := time.Now().UTC()
	for _, r := range []TurnRecord{
		{SessionID: sessionID, Role: tasks.RoleUser, Content: "stale", CreatedAt: stale},
		{SessionID: sessionID, Role: tasks.RoleUser, Content: "text mom", CreatedAt: now},
		{SessionID: sessionID, Role: tasks.RoleAssistant, Content: "What is the message?", CreatedAt: now.Add(time.Second)},
	} {
		if err := s.SaveTurn(ctx, r); err != nil {
			t.Fatalf("SaveTurn() error = %v", err)
		}
	}

	removed, err := s.PruneBefore(ctx, stale.Add(time.Hour))
	if err != nil {
		t.Fatalf("PruneBefore() error = %v", err)
	}
	if removed < 1 {
		t.Fatalf("PruneBefore() = %d, want at least 1", removed)
	}

	got, err := s.RecentTurns(ctx, sessionID, 10)
	if err != nil {
		t.Fatalf("RecentTurns() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len(RecentTurns()) = %d, want 2", len(got))
	}
	if got[0].Role != tasks.RoleUser || got[1].Role != tasks.RoleAssistant {
		t.Fatalf("RecentTurns() roles = %q, %q; want user then assistant", got[0].Role, got[1].Role)
	}
}
