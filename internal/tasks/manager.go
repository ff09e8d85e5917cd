package tasks

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"
)

const (
	defaultEventLogTasks = 256
	defaultEventLogLimit = 128
)

// Metrics receives manager instrumentation. observability.Metrics implements it.
type Metrics interface {
	ObserveTaskEvent(eventType string)
	ObserveTaskTransition(from, to string)
	ObserveTaskCommand(command, outcome string, d time.Duration)
	ObserveDroppedEvent(eventType string)
}

type CreateRequest struct {
	Intent  Intent      `json:"intent"`
	Slots   Slots       `json:"slots"`
	Context TaskContext `json:"context"`
}

func (t Task) ToCreateRequest() CreateRequest {
	c := t.Clone()
	return CreateRequest{Intent: c.Intent, Slots: c.Slots, Context: c.Context}
}

type Option func(*Manager)

func WithLogger(logger zerolog.Logger) Option {
	return func(m *Manager) { m.logger = logger }
}

func WithMetrics(metrics Metrics) Option {
	return func(m *Manager) { m.metrics = metrics }
}

func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithSubscriberBuffer sets the per-subscriber event queue length.
func WithSubscriberBuffer(n int) Option {
	return func(m *Manager) { m.subscriberBuffer = n }
}

// WithEventLogTasks bounds how many tasks keep an in-memory event log.
func WithEventLogTasks(n int) Option {
	return func(m *Manager) { m.eventLogTasks = n }
}

type focusMode int

const (
	focusKeep focusMode = iota
	focusSet
	focusClear
)

// Manager is the single entry point for task mutations. Commands on the same
// task id run one at a time; commands on different ids run in parallel.
// Events are published after the repository commit, in commit order per task.
type Manager struct {
	repo    Repository
	locks   *keyLock
	events  *broker
	current atomic.Pointer[Task]
	seq     atomic.Uint64

	logMu    sync.Mutex
	eventLog *lru.Cache[string, []Event]

	logger           zerolog.Logger
	metrics          Metrics
	now              func() time.Time
	subscriberBuffer int
	eventLogTasks    int
}

func NewManager(repo Repository, opts ...Option) *Manager {
	m := &Manager{
		repo:          repo,
		locks:         newKeyLock(),
		logger:        zerolog.Nop(),
		now:           func() time.Time { return time.Now().UTC() },
		eventLogTasks: defaultEventLogTasks,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With().Str("component", "task_manager").Logger()
	if m.eventLogTasks <= 0 {
		m.eventLogTasks = defaultEventLogTasks
	}
	// lru.New only fails on a non-positive size.
	m.eventLog, _ = lru.New[string, []Event](m.eventLogTasks)
	m.events = newBroker(m.subscriberBuffer, func(t EventType) {
		if m.metrics != nil {
			m.metrics.ObserveDroppedEvent(string(t))
		}
	})
	return m
}

// Subscribe returns a stream of every lifecycle event and a func that
// detaches it. A subscriber that falls behind loses its oldest queued events.
func (m *Manager) Subscribe() (<-chan Event, func()) {
	return m.events.subscribe("")
}

// SubscribeTask is Subscribe filtered to a single task id.
func (m *Manager) SubscribeTask(taskID string) (<-chan Event, func()) {
	taskID = strings.TrimSpace(taskID)
	if taskID == "" {
		ch := make(chan Event)
		close(ch)
		return ch, func() {}
	}
	return m.events.subscribe(taskID)
}

func (m *Manager) CreateTask(ctx context.Context, req CreateRequest) (Task, error) {
	start := time.Now()
	req.Intent.Domain = strings.TrimSpace(req.Intent.Domain)
	req.Intent.Action = strings.TrimSpace(req.Intent.Action)
	if req.Intent.Domain == "" || req.Intent.Action == "" {
		err := fmt.Errorf("%w: intent domain and action are required", ErrInvalidTask)
		m.observeCommand("create", err, start)
		return Task{}, err
	}
	slots, err := NewSlots(req.Slots...)
	if err != nil {
		err = fmt.Errorf("%w: %v", ErrInvalidTask, err)
		m.observeCommand("create", err, start)
		return Task{}, err
	}
	if req.Context.Source == "" {
		req.Context.Source = InputSourceText
	}

	now := m.now()
	task := Task{
		ID:        uuid.NewString(),
		Intent:    req.Intent,
		Status:    TaskStatusPending,
		Slots:     slots,
		Context:   req.Context,
		CreatedAt: now,
		UpdatedAt: now,
	}
	task = task.Clone()

	unlock, err := m.locks.Lock(ctx, task.ID)
	if err != nil {
		m.observeCommand("create", err, start)
		return Task{}, err
	}
	defer unlock()

	if err := m.repo.SaveTask(ctx, task); err != nil {
		m.observeCommand("create", err, start)
		return Task{}, fmt.Errorf("save task: %w", err)
	}
	advanced := Advance(task, m.now())
	if advanced.Status != task.Status {
		if err := m.repo.SaveTask(ctx, advanced); err != nil {
			m.observeCommand("create", err, start)
			return Task{}, fmt.Errorf("save task: %w", err)
		}
		m.logTransition(task, advanced)
	}

	m.logger.Info().
		Str("task_id", advanced.ID).
		Str("intent", advanced.Intent.FullName()).
		Str("status", string(advanced.Status)).
		Msg("task created")

	m.refocus(advanced, focusSet)
	evts := []Event{{Type: EventCreated}}
	if advanced.Status == TaskStatusNeedsInput {
		evts = append(evts, Event{Type: EventNeedsInput, MissingSlots: advanced.MissingSlots()})
	}
	m.emit(advanced, evts...)
	m.observeCommand("create", nil, start)
	return advanced.Clone(), nil
}

// UpdateSlot sets a slot value and re-infers the status. Unknown slot names
// leave the slots untouched. Executing and terminal tasks keep their status
// and report task_updated.
func (m *Manager) UpdateSlot(ctx context.Context, taskID, slotName string, value Value) (Task, error) {
	slotName = strings.TrimSpace(slotName)
	return m.mutate(ctx, "update_slot", taskID, focusKeep, func(task Task, now time.Time) (Task, []Event, error) {
		if _, ok := task.Slot(slotName); !ok {
			m.logger.Debug().Str("task_id", task.ID).Str("slot", slotName).Msg("update for unknown slot ignored")
		}
		updated := Advance(task.WithSlotValue(slotName, value, now), now)
		switch updated.Status {
		case TaskStatusReady:
			return updated, []Event{{Type: EventReady}}, nil
		case TaskStatusNeedsInput:
			return updated, []Event{{Type: EventNeedsInput, MissingSlots: updated.MissingSlots()}}, nil
		default:
			return updated, []Event{{Type: EventUpdated}}, nil
		}
	})
}

func (m *Manager) MarkReady(ctx context.Context, taskID string) (Task, error) {
	return m.mutate(ctx, "mark_ready", taskID, focusKeep, func(task Task, now time.Time) (Task, []Event, error) {
		if missing := task.MissingSlots(); len(missing) > 0 {
			return Task{}, nil, fmt.Errorf("%w: task %s missing slots %s", ErrNotReady, task.ID, strings.Join(missing, ", "))
		}
		ready, err := Transition(task, TaskStatusReady, now)
		if err != nil {
			return Task{}, nil, err
		}
		return ready, []Event{{Type: EventReady}}, nil
	})
}

// BeginExecution is never triggered automatically; callers decide when a
// ready task runs, typically after the user confirms.
func (m *Manager) BeginExecution(ctx context.Context, taskID string) (Task, error) {
	return m.mutate(ctx, "begin_execution", taskID, focusKeep, func(task Task, now time.Time) (Task, []Event, error) {
		executing, err := Transition(task, TaskStatusExecuting, now)
		if err != nil {
			return Task{}, nil, err
		}
		return executing, []Event{{Type: EventExecuting}}, nil
	})
}

// Complete attaches the execution result. An unsuccessful result fails the
// task and emits a failed event.
func (m *Manager) Complete(ctx context.Context, taskID string, result TaskResult) (Task, error) {
	return m.mutate(ctx, "complete", taskID, focusClear, func(task Task, now time.Time) (Task, []Event, error) {
		target := TaskStatusCompleted
		if !result.Success {
			target = TaskStatusFailed
		}
		if !IsValidTransition(task.Status, target) {
			return Task{}, nil, &TransitionError{TaskID: task.ID, From: task.Status, To: target}
		}
		done := task.WithResult(result, now)
		if result.Success {
			return done, []Event{{Type: EventCompleted}}, nil
		}
		taskErr := TaskError{Code: "execution_failed", Message: "task execution failed"}
		if done.Result.Error != nil {
			taskErr = *done.Result.Error
		} else {
			done.Result.Error = &taskErr
		}
		return done, []Event{{Type: EventFailed, Error: &taskErr}}, nil
	})
}

func (m *Manager) Fail(ctx context.Context, taskID string, taskErr TaskError) (Task, error) {
	return m.mutate(ctx, "fail", taskID, focusClear, func(task Task, now time.Time) (Task, []Event, error) {
		if !IsValidTransition(task.Status, TaskStatusFailed) {
			return Task{}, nil, &TransitionError{TaskID: task.ID, From: task.Status, To: TaskStatusFailed}
		}
		failed := task.WithResult(TaskResult{Success: false, Error: &taskErr}, now)
		evtErr := *failed.Result.Error
		return failed, []Event{{Type: EventFailed, Error: &evtErr}}, nil
	})
}

func (m *Manager) Cancel(ctx context.Context, taskID string) (Task, error) {
	return m.mutate(ctx, "cancel", taskID, focusClear, func(task Task, now time.Time) (Task, []Event, error) {
		if !CanCancel(task) {
			return Task{}, nil, &TransitionError{TaskID: task.ID, From: task.Status, To: TaskStatusCancelled}
		}
		cancelled, err := Transition(task, TaskStatusCancelled, now)
		if err != nil {
			return Task{}, nil, err
		}
		return cancelled, []Event{{Type: EventCancelled}}, nil
	})
}

func (m *Manager) GetTask(ctx context.Context, taskID string) (Task, error) {
	taskID = strings.TrimSpace(taskID)
	task, err := m.repo.GetTask(ctx, taskID)
	if err != nil {
		if errors.Is(err, ErrStoreNotFound) {
			return Task{}, notFound(taskID)
		}
		return Task{}, err
	}
	return task, nil
}

// History returns terminal tasks, newest first.
func (m *Manager) History(ctx context.Context, limit int) ([]Task, error) {
	return m.repo.History(ctx, limit)
}

// ActiveTasks returns non-terminal tasks, newest first.
func (m *Manager) ActiveTasks(ctx context.Context) ([]Task, error) {
	return m.repo.ActiveTasks(ctx)
}

func (m *Manager) ObserveTask(ctx context.Context, taskID string) (<-chan *Task, error) {
	return m.repo.ObserveTask(ctx, strings.TrimSpace(taskID))
}

func (m *Manager) ObserveActiveTasks(ctx context.Context) (<-chan []Task, error) {
	return m.repo.ObserveActiveTasks(ctx)
}

// CurrentTask returns the focused task, if any.
func (m *Manager) CurrentTask() (Task, bool) {
	cur := m.current.Load()
	if cur == nil {
		return Task{}, false
	}
	return cur.Clone(), true
}

// SetCurrentTask focuses an existing, non-terminal task. An empty id clears focus.
func (m *Manager) SetCurrentTask(ctx context.Context, taskID string) (Task, error) {
	taskID = strings.TrimSpace(taskID)
	if taskID == "" {
		m.current.Store(nil)
		return Task{}, nil
	}
	unlock, err := m.locks.Lock(ctx, taskID)
	if err != nil {
		return Task{}, err
	}
	defer unlock()

	task, err := m.GetTask(ctx, taskID)
	if err != nil {
		return Task{}, err
	}
	if task.IsTerminal() {
		return Task{}, fmt.Errorf("%w: task %s is %s and cannot take focus", ErrInvalidTransition, task.ID, task.Status)
	}
	m.refocus(task, focusSet)
	return task, nil
}

// ListEvents returns the most recent events recorded for a task, oldest first.
// Only recently active tasks keep a log.
func (m *Manager) ListEvents(ctx context.Context, taskID string, limit int) ([]Event, error) {
	taskID = strings.TrimSpace(taskID)
	m.logMu.Lock()
	evts, ok := m.eventLog.Peek(taskID)
	m.logMu.Unlock()
	if !ok {
		if _, err := m.GetTask(ctx, taskID); err != nil {
			return nil, err
		}
		return []Event{}, nil
	}
	if limit <= 0 || limit > len(evts) {
		limit = len(evts)
	}
	return append([]Event(nil), evts[len(evts)-limit:]...), nil
}

// Forget drops in-memory bookkeeping for tasks removed from the repository.
func (m *Manager) Forget(taskIDs ...string) {
	m.logMu.Lock()
	for _, id := range taskIDs {
		m.eventLog.Remove(id)
	}
	m.logMu.Unlock()
	for _, id := range taskIDs {
		if cur := m.current.Load(); cur != nil && cur.ID == id {
			m.current.CompareAndSwap(cur, nil)
		}
	}
}

// Close detaches all subscribers.
func (m *Manager) Close() {
	m.events.closeAll()
}

type mutation func(task Task, now time.Time) (Task, []Event, error)

func (m *Manager) mutate(ctx context.Context, command, taskID string, focus focusMode, fn mutation) (Task, error) {
	start := time.Now()
	taskID = strings.TrimSpace(taskID)

	unlock, err := m.locks.Lock(ctx, taskID)
	if err != nil {
		m.observeCommand(command, err, start)
		return Task{}, err
	}
	defer unlock()

	task, err := m.GetTask(ctx, taskID)
	if err != nil {
		m.observeCommand(command, err, start)
		return Task{}, err
	}

	updated, evts, err := fn(task, m.now())
	if err != nil {
		m.logger.Warn().Err(err).Str("task_id", taskID).Str("command", command).Msg("task command rejected")
		m.observeCommand(command, err, start)
		return Task{}, err
	}
	if err := m.repo.SaveTask(ctx, updated); err != nil {
		m.observeCommand(command, err, start)
		return Task{}, fmt.Errorf("save task: %w", err)
	}
	if updated.Status != task.Status {
		m.logTransition(task, updated)
	}

	m.refocus(updated, focus)
	m.emit(updated, evts...)
	m.observeCommand(command, nil, start)
	return updated.Clone(), nil
}

// refocus reconciles the focused task with a just-persisted value.
func (m *Manager) refocus(task Task, mode focusMode) {
	if mode == focusSet {
		cp := task.Clone()
		m.current.Store(&cp)
		return
	}
	for {
		cur := m.current.Load()
		if cur == nil || cur.ID != task.ID {
			return
		}
		var next *Task
		if mode == focusKeep && !task.IsTerminal() {
			cp := task.Clone()
			next = &cp
		}
		if m.current.CompareAndSwap(cur, next) {
			return
		}
	}
}

func (m *Manager) emit(task Task, evts ...Event) {
	now := m.now()
	for _, evt := range evts {
		evt.Seq = m.seq.Add(1)
		evt.TaskID = task.ID
		evt.Task = task.Clone()
		evt.At = now

		m.recordEvent(evt)
		m.events.publish(evt)
		if m.metrics != nil {
			m.metrics.ObserveTaskEvent(string(evt.Type))
		}
		m.logger.Debug().
			Str("task_id", task.ID).
			Str("event", string(evt.Type)).
			Uint64("seq", evt.Seq).
			Msg("task event")
	}
}

func (m *Manager) recordEvent(evt Event) {
	m.logMu.Lock()
	defer m.logMu.Unlock()
	evts, _ := m.eventLog.Get(evt.TaskID)
	evts = append(evts, evt)
	if len(evts) > defaultEventLogLimit {
		evts = append([]Event(nil), evts[len(evts)-defaultEventLogLimit:]...)
	}
	m.eventLog.Add(evt.TaskID, evts)
}

func (m *Manager) logTransition(from, to Task) {
	m.logger.Info().
		Str("task_id", to.ID).
		Str("from", string(from.Status)).
		Str("to", string(to.Status)).
		Msg("task transition")
	if m.metrics != nil {
		m.metrics.ObserveTaskTransition(string(from.Status), string(to.Status))
	}
}

func (m *Manager) observeCommand(command string, err error, start time.Time) {
	if m.metrics == nil {
		return
	}
	m.metrics.ObserveTaskCommand(command, commandOutcome(err), time.Since(start))
}

func commandOutcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrInvalidTransition):
		return "invalid_transition"
	case errors.Is(err, ErrNotReady):
		return "not_ready"
	case errors.Is(err, ErrInvalidTask):
		return "invalid_task"
	default:
		return "error"
	}
}
