package tasks

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps tasks in process. Used when no TASK_STORE_URL is set and in tests.
type MemoryStore struct {
	mu    sync.RWMutex
	tasks map[string]Task
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tasks: make(map[string]Task)}
}

func (s *MemoryStore) SaveTask(_ context.Context, task Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[task.ID] = task.Clone()
	return nil
}

func (s *MemoryStore) GetTask(_ context.Context, taskID string) (Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	task, ok := s.tasks[taskID]
	if !ok {
		return Task{}, ErrStoreNotFound
	}
	return task.Clone(), nil
}

func (s *MemoryStore) ActiveTasks(_ context.Context) ([]Task, error) {
	s.mu.RLock()
	out := make([]Task, 0, len(s.tasks))
	for _, task := range s.tasks {
		if !task.IsTerminal() {
			out = append(out, task.Clone())
		}
	}
	s.mu.RUnlock()
	sortNewestFirst(out)
	return out, nil
}

func (s *MemoryStore) History(_ context.Context, limit int) ([]Task, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	s.mu.RLock()
	out := make([]Task, 0, len(s.tasks))
	for _, task := range s.tasks {
		if task.IsTerminal() {
			out = append(out, task.Clone())
		}
	}
	s.mu.RUnlock()
	sortNewestFirst(out)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) DeleteTask(_ context.Context, taskID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tasks, taskID)
	return nil
}

func (s *MemoryStore) ClearOldTasks(_ context.Context, before time.Time) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var removed []string
	for id, task := range s.tasks {
		if task.IsTerminal() && task.UpdatedAt.Before(before) {
			delete(s.tasks, id)
			removed = append(removed, id)
		}
	}
	return removed, nil
}

func (s *MemoryStore) Close() error { return nil }
