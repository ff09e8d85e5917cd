package tasks

import (
	"strings"
	"sync"
	"time"
)

type EventType string

const (
	EventCreated    EventType = "task_created"
	EventUpdated    EventType = "task_updated"
	EventNeedsInput EventType = "task_needs_input"
	EventReady      EventType = "task_ready"
	EventExecuting  EventType = "task_executing"
	EventCompleted  EventType = "task_completed"
	EventFailed     EventType = "task_failed"
	EventCancelled  EventType = "task_cancelled"
)

// Event is a committed lifecycle change. Seq increases monotonically across
// the manager, so per-task order can be checked by consumers.
type Event struct {
	Seq          uint64     `json:"seq"`
	Type         EventType  `json:"type"`
	TaskID       string     `json:"task_id"`
	Task         Task       `json:"task"`
	MissingSlots []string   `json:"missing_slots,omitempty"`
	Error        *TaskError `json:"error,omitempty"`
	At           time.Time  `json:"at"`
}

const defaultSubscriberBuffer = 64

type subscriber struct {
	ch     chan Event
	taskID string
}

// broker fans events out to subscribers. Every subscriber has a bounded
// queue; when it is full the oldest queued event is discarded so publish
// never blocks.
type broker struct {
	mu        sync.Mutex
	subs      map[int]*subscriber
	nextID    int
	buffer    int
	onDropped func(EventType)
}

func newBroker(buffer int, onDropped func(EventType)) *broker {
	if buffer <= 0 {
		buffer = defaultSubscriberBuffer
	}
	if onDropped == nil {
		onDropped = func(EventType) {}
	}
	return &broker{
		subs:      make(map[int]*subscriber),
		buffer:    buffer,
		onDropped: onDropped,
	}
}

func (b *broker) subscribe(taskID string) (<-chan Event, func()) {
	sub := &subscriber{
		ch:     make(chan Event, b.buffer),
		taskID: strings.TrimSpace(taskID),
	}
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subs[id] = sub
	b.mu.Unlock()

	var once sync.Once
	return sub.ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if s, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(s.ch)
			}
		})
	}
}

func (b *broker) publish(evt Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, sub := range b.subs {
		if sub.taskID != "" && sub.taskID != evt.TaskID {
			continue
		}
		select {
		case sub.ch <- evt:
			continue
		default:
		}
		select {
		case old := <-sub.ch:
			b.onDropped(old.Type)
		default:
		}
		select {
		case sub.ch <- evt:
		default:
			b.onDropped(evt.Type)
		}
	}
}

func (b *broker) closeAll() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, sub := range b.subs {
		delete(b.subs, id)
		close(sub.ch)
	}
}

func (b *broker) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
