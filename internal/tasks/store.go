package tasks

import (
	"context"
	"errors"
	"time"
)

var ErrStoreNotFound = errors.New("task not found in store")

// Store is the persistence backend. GetTask returns ErrStoreNotFound for
// unknown ids. Active and history listings are newest-first by UpdatedAt.
type Store interface {
	SaveTask(ctx context.Context, task Task) error
	GetTask(ctx context.Context, taskID string) (Task, error)
	ActiveTasks(ctx context.Context) ([]Task, error)
	History(ctx context.Context, limit int) ([]Task, error)
	DeleteTask(ctx context.Context, taskID string) error
	// ClearOldTasks removes terminal tasks last updated before the cutoff and
	// returns the removed ids.
	ClearOldTasks(ctx context.Context, before time.Time) ([]string, error)
	Close() error
}

// Repository is what the Manager depends on: a Store plus change streams.
type Repository interface {
	Store
	ObserveTask(ctx context.Context, taskID string) (<-chan *Task, error)
	ObserveActiveTasks(ctx context.Context) (<-chan []Task, error)
}

const defaultHistoryLimit = 50
