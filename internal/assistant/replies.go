package assistant

import (
	"sync"
)

const (
	ReplySlotQuestion  = "slot_question"
	ReplyConfirmation  = "confirmation"
	ReplyCompletion    = "completion"
	ReplyCancelled     = "cancelled"
	ReplyNotUnderstood = "not_understood"
	ReplyRefusal       = "refusal"
	ReplyUnavailable   = "unavailable"
)

// Reply is one assistant message addressed to a session.
type Reply struct {
	SessionID string `json:"session_id"`
	TaskID    string `json:"task_id,omitempty"`
	Kind      string `json:"kind"`
	Text      string `json:"text"`
}

const replyBuffer = 32

// ReplyHub fans replies out to the listeners of each session. A listener
// that stops reading loses replies rather than blocking the assistant.
type ReplyHub struct {
	mu        sync.Mutex
	listeners map[string]map[int]chan Reply
	nextID    int
}

func NewReplyHub() *ReplyHub {
	return &ReplyHub{listeners: make(map[string]map[int]chan Reply)}
}

func (h *ReplyHub) Subscribe(sessionID string) (<-chan Reply, func()) {
	ch := make(chan Reply, replyBuffer)
	h.mu.Lock()
	h.nextID++
	id := h.nextID
	if h.listeners[sessionID] == nil {
		h.listeners[sessionID] = make(map[int]chan Reply)
	}
	h.listeners[sessionID][id] = ch
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			subs := h.listeners[sessionID]
			if c, ok := subs[id]; ok {
				delete(subs, id)
				close(c)
			}
			if len(subs) == 0 {
				delete(h.listeners, sessionID)
			}
		})
	}
}

// Publish delivers r and reports how many listeners accepted it.
func (h *ReplyHub) Publish(r Reply) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	delivered := 0
	for _, ch := range h.listeners[r.SessionID] {
		select {
		case ch <- r:
			delivered++
		default:
		}
	}
	return delivered
}
