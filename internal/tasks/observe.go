package tasks

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

type taskWatcher struct {
	ch     chan *Task
	primed bool
}

// ObservedStore adds change streams to any Store. Streams carry the latest
// value only: a reader that falls behind sees the newest state, never a
// backlog.
type ObservedStore struct {
	Store
	logger zerolog.Logger

	mu       sync.Mutex
	watchers map[string]map[int]*taskWatcher
	nextID   int

	activeMu       sync.Mutex
	activeWatchers map[int]chan []Task
	nextActiveID   int
}

var _ Repository = (*ObservedStore)(nil)

func NewRepository(store Store, logger zerolog.Logger) *ObservedStore {
	return &ObservedStore{
		Store:          store,
		logger:         logger.With().Str("component", "task_repository").Logger(),
		watchers:       make(map[string]map[int]*taskWatcher),
		activeWatchers: make(map[int]chan []Task),
	}
}

func (r *ObservedStore) SaveTask(ctx context.Context, task Task) error {
	if err := r.Store.SaveTask(ctx, task); err != nil {
		return err
	}
	snapshot := task.Clone()
	r.notifyTask(task.ID, &snapshot)
	r.notifyActive(ctx)
	return nil
}

func (r *ObservedStore) DeleteTask(ctx context.Context, taskID string) error {
	if err := r.Store.DeleteTask(ctx, taskID); err != nil {
		return err
	}
	r.notifyTask(taskID, nil)
	r.notifyActive(ctx)
	return nil
}

func (r *ObservedStore) ClearOldTasks(ctx context.Context, before time.Time) ([]string, error) {
	ids, err := r.Store.ClearOldTasks(ctx, before)
	if err != nil {
		return nil, err
	}
	for _, id := range ids {
		r.notifyTask(id, nil)
	}
	return ids, nil
}

// ObserveTask streams the task's current value followed by every change.
// A nil value means the task does not exist. The channel closes when ctx ends.
func (r *ObservedStore) ObserveTask(ctx context.Context, taskID string) (<-chan *Task, error) {
	w := &taskWatcher{ch: make(chan *Task, 1)}

	r.mu.Lock()
	r.nextID++
	id := r.nextID
	if r.watchers[taskID] == nil {
		r.watchers[taskID] = make(map[int]*taskWatcher)
	}
	r.watchers[taskID][id] = w
	r.mu.Unlock()

	var initial *Task
	task, err := r.Store.GetTask(ctx, taskID)
	switch {
	case err == nil:
		initial = &task
	case errors.Is(err, ErrStoreNotFound):
	default:
		r.removeWatcher(taskID, id)
		return nil, err
	}

	r.mu.Lock()
	if !w.primed {
		w.primed = true
		offerLatest(w.ch, initial)
	}
	r.mu.Unlock()

	go func() {
		<-ctx.Done()
		r.removeWatcher(taskID, id)
	}()
	return w.ch, nil
}

// ObserveActiveTasks streams the non-terminal task list after every change.
func (r *ObservedStore) ObserveActiveTasks(ctx context.Context) (<-chan []Task, error) {
	ch := make(chan []Task, 1)

	r.activeMu.Lock()
	list, err := r.Store.ActiveTasks(ctx)
	if err != nil {
		r.activeMu.Unlock()
		return nil, err
	}
	r.nextActiveID++
	id := r.nextActiveID
	r.activeWatchers[id] = ch
	offerLatest(ch, list)
	r.activeMu.Unlock()

	go func() {
		<-ctx.Done()
		r.activeMu.Lock()
		if c, ok := r.activeWatchers[id]; ok {
			delete(r.activeWatchers, id)
			close(c)
		}
		r.activeMu.Unlock()
	}()
	return ch, nil
}

func (r *ObservedStore) removeWatcher(taskID string, id int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	subs := r.watchers[taskID]
	if subs == nil {
		return
	}
	if w, ok := subs[id]; ok {
		delete(subs, id)
		close(w.ch)
	}
	if len(subs) == 0 {
		delete(r.watchers, taskID)
	}
}

func (r *ObservedStore) notifyTask(taskID string, task *Task) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, w := range r.watchers[taskID] {
		w.primed = true
		if task == nil {
			offerLatest[*Task](w.ch, nil)
			continue
		}
		cp := task.Clone()
		offerLatest(w.ch, &cp)
	}
}

func (r *ObservedStore) notifyActive(ctx context.Context) {
	r.activeMu.Lock()
	defer r.activeMu.Unlock()
	if len(r.activeWatchers) == 0 {
		return
	}
	list, err := r.Store.ActiveTasks(ctx)
	if err != nil {
		r.logger.Warn().Err(err).Msg("active task snapshot failed")
		return
	}
	for _, ch := range r.activeWatchers {
		cp := make([]Task, len(list))
		for i := range list {
			cp[i] = list[i].Clone()
		}
		offerLatest(ch, cp)
	}
}

// offerLatest replaces any unread value with v. Callers hold the lock that
// owns ch, so there is a single sender.
func offerLatest[T any](ch chan T, v T) {
	select {
	case ch <- v:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- v:
	default:
	}
}
