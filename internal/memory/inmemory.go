package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

const defaultInMemoryTurnsPerSession = 200

// InMemoryStore keeps a bounded tail of turns per session for local/dev use.
type InMemoryStore struct {
	mu      sync.RWMutex
	records map[string][]TurnRecord
	max     int
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{records: make(map[string][]TurnRecord), max: defaultInMemoryTurnsPerSession}
}

func (s *InMemoryStore) SaveTurn(_ context.Context, record TurnRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}
	arr := append(s.records[record.SessionID], record)
	if len(arr) > s.max {
		arr = append([]TurnRecord(nil), arr[len(arr)-s.max:]...)
	}
	s.records[record.SessionID] = arr
	return nil
}

func (s *InMemoryStore) RecentTurns(_ context.Context, sessionID string, limit int) ([]TurnRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	arr := s.records[sessionID]
	if len(arr) == 0 {
		return nil, nil
	}
	if limit <= 0 {
		limit = defaultRecentLimit
	}
	if limit > len(arr) {
		limit = len(arr)
	}
	out := make([]TurnRecord, limit)
	copy(out, arr[len(arr)-limit:])
	return out, nil
}

// PruneBefore drops turns created before the cutoff and forgets sessions
// left empty.
func (s *InMemoryStore) PruneBefore(_ context.Context, before time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for sessionID, arr := range s.records {
		keep := arr[:0]
		for _, r := range arr {
			if r.CreatedAt.Before(before) {
				removed++
				continue
			}
			keep = append(keep, r)
		}
		if len(keep) == 0 {
			delete(s.records, sessionID)
			continue
		}
		s.records[sessionID] = keep
	}
	return removed, nil
}

func (s *InMemoryStore) Close() error { return nil }
