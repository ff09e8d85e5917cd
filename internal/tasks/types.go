package tasks

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

type TaskStatus string

const (
	TaskStatusPending    TaskStatus = "pending"
	TaskStatusNeedsInput TaskStatus = "needs_input"
	TaskStatusReady      TaskStatus = "ready"
	TaskStatusExecuting  TaskStatus = "executing"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusFailed     TaskStatus = "failed"
	TaskStatusCancelled  TaskStatus = "cancelled"
)

// AllStatuses lists every status in lifecycle order.
var AllStatuses = []TaskStatus{
	TaskStatusPending,
	TaskStatusNeedsInput,
	TaskStatusReady,
	TaskStatusExecuting,
	TaskStatusCompleted,
	TaskStatusFailed,
	TaskStatusCancelled,
}

type SlotType string

const (
	SlotTypeString   SlotType = "string"
	SlotTypeNumber   SlotType = "number"
	SlotTypeBoolean  SlotType = "boolean"
	SlotTypeDate     SlotType = "date"
	SlotTypeDateTime SlotType = "datetime"
	SlotTypeContact  SlotType = "contact"
	SlotTypeContacts SlotType = "contacts"
	SlotTypeMedia    SlotType = "media"
	SlotTypeLocation SlotType = "location"
	SlotTypeAddress  SlotType = "address"
	SlotTypeCurrency SlotType = "currency"
	SlotTypeEnum     SlotType = "enum"
	SlotTypeObject   SlotType = "object"
	SlotTypeArray    SlotType = "array"
)

var knownSlotTypes = map[string]SlotType{
	"string":   SlotTypeString,
	"number":   SlotTypeNumber,
	"boolean":  SlotTypeBoolean,
	"date":     SlotTypeDate,
	"datetime": SlotTypeDateTime,
	"contact":  SlotTypeContact,
	"contacts": SlotTypeContacts,
	"media":    SlotTypeMedia,
	"location": SlotTypeLocation,
	"address":  SlotTypeAddress,
	"currency": SlotTypeCurrency,
	"enum":     SlotTypeEnum,
	"object":   SlotTypeObject,
	"array":    SlotTypeArray,
}

// ParseSlotType maps a textual type name to a SlotType. Matching is
// case-insensitive and unknown names degrade to SlotTypeString.
func ParseSlotType(name string) SlotType {
	if t, ok := knownSlotTypes[strings.ToLower(strings.TrimSpace(name))]; ok {
		return t
	}
	return SlotTypeString
}

type InputSource string

const (
	InputSourceVoice      InputSource = "voice"
	InputSourceText       InputSource = "text"
	InputSourceGesture    InputSource = "gesture"
	InputSourceAutomation InputSource = "automation"
)

type ConversationRole string

const (
	RoleUser      ConversationRole = "user"
	RoleAssistant ConversationRole = "assistant"
	RoleSystem    ConversationRole = "system"
)

// Intent is the classified domain/action pair behind a task.
type Intent struct {
	Domain     string  `json:"domain"`
	Action     string  `json:"action"`
	Confidence float64 `json:"confidence"`
}

func (i Intent) FullName() string {
	return i.Domain + "." + i.Action
}

// ParseIntent builds an Intent from "domain.action" with full confidence.
func ParseIntent(fullName string) (Intent, error) {
	fullName = strings.TrimSpace(fullName)
	domain, action, ok := strings.Cut(fullName, ".")
	domain = strings.TrimSpace(domain)
	action = strings.TrimSpace(action)
	if !ok || domain == "" || action == "" {
		return Intent{}, fmt.Errorf("invalid intent %q: expected domain.action", fullName)
	}
	return Intent{Domain: domain, Action: action, Confidence: 1.0}, nil
}

type SlotConstraints struct {
	MinLength  *int     `json:"min_length,omitempty"`
	MaxLength  *int     `json:"max_length,omitempty"`
	Min        *float64 `json:"min,omitempty"`
	Max        *float64 `json:"max,omitempty"`
	Pattern    string   `json:"pattern,omitempty"`
	EnumValues []string `json:"enum_values,omitempty"`
}

type Slot struct {
	Name        string           `json:"name"`
	Type        SlotType         `json:"type"`
	Required    bool             `json:"required"`
	Value       Value            `json:"value"`
	Resolved    bool             `json:"resolved"`
	Description string           `json:"description,omitempty"`
	Constraints *SlotConstraints `json:"constraints,omitempty"`
}

type ConversationTurn struct {
	Role      ConversationRole `json:"role"`
	Content   string           `json:"content"`
	Timestamp time.Time        `json:"timestamp"`
}

type TaskContext struct {
	Source       InputSource        `json:"source"`
	RawInput     string             `json:"raw_input,omitempty"`
	SessionID    string             `json:"session_id,omitempty"`
	ParentTaskID string             `json:"parent_task_id,omitempty"`
	History      []ConversationTurn `json:"history,omitempty"`
}

type TaskError struct {
	Code        string            `json:"code"`
	Message     string            `json:"message"`
	Recoverable bool              `json:"recoverable"`
	Details     map[string]string `json:"details,omitempty"`
}

func (e TaskError) Error() string {
	if e.Code == "" {
		return e.Message
	}
	return e.Code + ": " + e.Message
}

type TaskResult struct {
	Success    bool             `json:"success"`
	Data       map[string]Value `json:"data,omitempty"`
	Error      *TaskError       `json:"error,omitempty"`
	ExecutedAt time.Time        `json:"executed_at"`
}

// Task is the aggregate root. Slots keep their insertion order, which is the
// order missing slots are reported in.
type Task struct {
	ID        string      `json:"id"`
	Intent    Intent      `json:"intent"`
	Status    TaskStatus  `json:"status"`
	Slots     Slots       `json:"slots"`
	Context   TaskContext `json:"context"`
	Result    *TaskResult `json:"result,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// MissingSlots returns the names of required, unresolved slots in slot order.
func (t Task) MissingSlots() []string {
	out := make([]string, 0, len(t.Slots))
	for _, s := range t.Slots {
		if s.Required && !s.Resolved {
			out = append(out, s.Name)
		}
	}
	return out
}

func (t Task) IsReady() bool {
	return len(t.MissingSlots()) == 0
}

func (t Task) IsTerminal() bool {
	return IsTerminal(t.Status)
}

// NextMissingSlot returns the first required, unresolved slot.
func (t Task) NextMissingSlot() (Slot, bool) {
	for _, s := range t.Slots {
		if s.Required && !s.Resolved {
			return s, true
		}
	}
	return Slot{}, false
}

func (t Task) Slot(name string) (Slot, bool) {
	i := t.Slots.index(name)
	if i < 0 {
		return Slot{}, false
	}
	return t.Slots[i], true
}

// Summary renders the intent and its resolved slot values for prompts.
func (t Task) Summary() string {
	var b strings.Builder
	b.WriteString(t.Intent.FullName())
	first := true
	for _, s := range t.Slots {
		if !s.Resolved || s.Value.IsNull() {
			continue
		}
		if first {
			b.WriteString(" (")
			first = false
		} else {
			b.WriteString(", ")
		}
		b.WriteString(s.Name)
		b.WriteString("=")
		b.WriteString(s.Value.String())
	}
	if !first {
		b.WriteString(")")
	}
	return b.String()
}

// WithSlotValue returns a copy with the named slot set. Unknown names leave
// the task untouched. A non-null value resolves the slot.
func (t Task) WithSlotValue(name string, v Value, now time.Time) Task {
	i := t.Slots.index(name)
	if i < 0 {
		return t
	}
	out := t.Clone()
	out.Slots[i].Value = v.Clone()
	out.Slots[i].Resolved = !v.IsNull()
	out.UpdatedAt = now
	return out
}

// WithResult attaches a result; success decides between completed and failed.
func (t Task) WithResult(r TaskResult, now time.Time) Task {
	out := t.Clone()
	if r.ExecutedAt.IsZero() {
		r.ExecutedAt = now
	}
	rc := r.clone()
	out.Result = &rc
	if r.Success {
		out.Status = TaskStatusCompleted
	} else {
		out.Status = TaskStatusFailed
	}
	out.UpdatedAt = now
	return out
}

func (t Task) Clone() Task {
	out := t
	if t.Slots != nil {
		out.Slots = make(Slots, len(t.Slots))
		for i, s := range t.Slots {
			s.Value = s.Value.Clone()
			if s.Constraints != nil {
				c := *s.Constraints
				c.EnumValues = append([]string(nil), s.Constraints.EnumValues...)
				s.Constraints = &c
			}
			out.Slots[i] = s
		}
	}
	if t.Context.History != nil {
		out.Context.History = append([]ConversationTurn(nil), t.Context.History...)
	}
	if t.Result != nil {
		r := t.Result.clone()
		out.Result = &r
	}
	return out
}

func (r TaskResult) clone() TaskResult {
	out := r
	if r.Data != nil {
		out.Data = make(map[string]Value, len(r.Data))
		for k, v := range r.Data {
			out.Data[k] = v.Clone()
		}
	}
	if r.Error != nil {
		e := *r.Error
		if r.Error.Details != nil {
			e.Details = make(map[string]string, len(r.Error.Details))
			for k, v := range r.Error.Details {
				e.Details[k] = v
			}
		}
		out.Error = &e
	}
	return out
}

// sortNewestFirst orders tasks by UpdatedAt descending, ties broken by id.
func sortNewestFirst(list []Task) {
	sort.SliceStable(list, func(i, j int) bool {
		if list[i].UpdatedAt.Equal(list[j].UpdatedAt) {
			return list[i].ID < list[j].ID
		}
		return list[i].UpdatedAt.After(list[j].UpdatedAt)
	})
}
