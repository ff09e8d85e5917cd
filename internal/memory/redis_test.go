package memory

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/ent0n29/agentos/internal/tasks"
)

func newTestRedisStore(t *testing.T, ttl time.Duration) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	s, err := NewRedisStore(context.Background(), "redis://"+mr.Addr(), "test", ttl)
	if err != nil {
		t.Fatalf("NewRedisStore() error = %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s, mr
}

func TestRedisRecentTurnsCappedAndChronological(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestRedisStore(t, time.Hour)
	s.max = 3
	for i := 0; i < 5; i++ {
		if err := s.SaveTurn(ctx, TurnRecord{SessionID: "s-1", Role: tasks.RoleUser, Content: fmt.Sprint(i)}); err != nil {
			t.Fatalf("SaveTurn() error = %v", err)
		}
	}

	got, err := s.RecentTurns(ctx, "s-1", 2)
	if err != nil {
		t.Fatalf("RecentTurns() error = %v", err)
	}
	if len(got) != 2 || got[0].Content != "3" || got[1].Content != "4" {
		t.Fatalf("RecentTurns() = %+v, want 3 then 4", got)
	}
	if got[0].ID == "" || got[0].CreatedAt.IsZero() {
		t.Fatalf("SaveTurn() should assign id and timestamp: %+v", got[0])
	}

	all, err := s.RecentTurns(ctx, "s-1", 100)
	if err != nil {
		t.Fatalf("RecentTurns() error = %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("len(RecentTurns()) = %d, want 3", len(all))
	}
}

func TestRedisTurnsExpireAfterTTL(t *testing.T) {
	ctx := context.Background()
	s, mr := newTestRedisStore(t, time.Minute)
	if err := s.SaveTurn(ctx, TurnRecord{SessionID: "s-1", Content: "hello"}); err != nil {
		t.Fatalf("SaveTurn() error = %v", err)
	}
	if ttl := mr.TTL("test:turns:s-1"); ttl != time.Minute {
		t.Fatalf("TTL = %v, want %v", ttl, time.Minute)
	}

	mr.FastForward(2 * time.Minute)
	got, err := s.RecentTurns(ctx, "s-1", 10)
	if err != nil {
		t.Fatalf("RecentTurns() error = %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("RecentTurns() after ttl = %d turns, want 0", len(got))
	}
}
