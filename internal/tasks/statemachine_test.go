package tasks

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func sendTextTask(t *testing.T) Task {
	t.Helper()
	slots, err := NewSlots(
		Slot{Name: "recipient", Type: SlotTypeContact, Required: true},
		Slot{Name: "message", Type: SlotTypeString, Required: true},
		Slot{Name: "app", Type: SlotTypeString},
	)
	require.NoError(t, err)
	return Task{
		ID:        "t-1",
		Intent:    Intent{Domain: "messaging", Action: "send_text", Confidence: 0.95},
		Status:    TaskStatusPending,
		Slots:     slots,
		CreatedAt: testNow,
		UpdatedAt: testNow,
	}
}

func TestTransitionTable(t *testing.T) {
	allowed := map[TaskStatus][]TaskStatus{
		TaskStatusPending:    {TaskStatusNeedsInput, TaskStatusReady, TaskStatusCancelled},
		TaskStatusNeedsInput: {TaskStatusNeedsInput, TaskStatusReady, TaskStatusCancelled},
		TaskStatusReady:      {TaskStatusNeedsInput, TaskStatusExecuting, TaskStatusCancelled},
		TaskStatusExecuting:  {TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled},
	}

	for _, from := range AllStatuses {
		for _, to := range AllStatuses {
			want := false
			for _, s := range allowed[from] {
				if s == to {
					want = true
				}
			}
			assert.Equalf(t, want, IsValidTransition(from, to), "IsValidTransition(%s, %s)", from, to)

			task := sendTextTask(t)
			task.Status = from
			got, err := Transition(task, to, testNow.Add(time.Second))
			if want {
				require.NoError(t, err)
				assert.Equal(t, to, got.Status)
				assert.Equal(t, testNow.Add(time.Second), got.UpdatedAt)
				assert.Equal(t, from, task.Status, "input task must not change")
				continue
			}
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidTransition))
			var terr *TransitionError
			require.ErrorAs(t, err, &terr)
			assert.Equal(t, from, terr.From)
			assert.Equal(t, to, terr.To)
			assert.Equal(t, task.ID, terr.TaskID)
			assert.Equal(t, task, got, "rejected transition must leave the task unchanged")

			_, ok := TryTransition(task, to, testNow)
			assert.False(t, ok)
		}
	}
}

func TestUnknownSourceStatusHasNoTransitions(t *testing.T) {
	assert.False(t, IsValidTransition(TaskStatus("archived"), TaskStatusCancelled))
	assert.Empty(t, ValidNextStates(TaskStatus("archived")))
}

func TestTerminalStatusesHaveNoOutgoingTransitions(t *testing.T) {
	for _, s := range []TaskStatus{TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled} {
		assert.True(t, IsTerminal(s))
		assert.Empty(t, ValidNextStates(s), "status %s", s)

		task := sendTextTask(t)
		task.Status = s
		assert.False(t, CanCancel(task))
	}
}

func TestValidNextStatesFollowsLifecycleOrder(t *testing.T) {
	assert.Equal(t,
		[]TaskStatus{TaskStatusNeedsInput, TaskStatusReady, TaskStatusCancelled},
		ValidNextStates(TaskStatusPending))
	assert.Equal(t,
		[]TaskStatus{TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled},
		ValidNextStates(TaskStatusExecuting))
}

func TestComputeNextState(t *testing.T) {
	task := sendTextTask(t)
	assert.Equal(t, TaskStatusNeedsInput, ComputeNextState(task))

	task = task.WithSlotValue("recipient", String("mom"), testNow)
	task = task.WithSlotValue("message", String("hi"), testNow)
	assert.Equal(t, TaskStatusReady, ComputeNextState(task))

	task.Status = TaskStatusNeedsInput
	assert.Equal(t, TaskStatusReady, ComputeNextState(task))

	for _, s := range []TaskStatus{TaskStatusReady, TaskStatusExecuting, TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled} {
		task.Status = s
		assert.Equal(t, s, ComputeNextState(task), "status %s must not be inferred away", s)
	}

	unresolved := sendTextTask(t)
	unresolved.Status = TaskStatusReady
	assert.Equal(t, TaskStatusReady, ComputeNextState(unresolved))
}

func TestAdvanceIsIdempotent(t *testing.T) {
	base := sendTextTask(t)
	filled := base.WithSlotValue("recipient", String("mom"), testNow).
		WithSlotValue("message", String("hi"), testNow)
	executing := filled
	executing.Status = TaskStatusExecuting
	noSlots := Task{ID: "t-2", Intent: Intent{Domain: "web", Action: "search"}, Status: TaskStatusPending}

	for name, task := range map[string]Task{
		"needs input": base,
		"ready":       filled,
		"executing":   executing,
		"no slots":    noSlots,
	} {
		t.Run(name, func(t *testing.T) {
			once := Advance(task, testNow.Add(time.Minute))
			twice := Advance(once, testNow.Add(2*time.Minute))
			assert.Equal(t, once, twice)
		})
	}

	assert.Equal(t, TaskStatusNeedsInput, Advance(base, testNow).Status)
	assert.Equal(t, TaskStatusReady, Advance(filled, testNow).Status)
	assert.Equal(t, TaskStatusReady, Advance(noSlots, testNow).Status)
	assert.Equal(t, TaskStatusExecuting, Advance(executing, testNow).Status)
}

func TestCanCancel(t *testing.T) {
	task := sendTextTask(t)
	for _, s := range []TaskStatus{TaskStatusPending, TaskStatusNeedsInput, TaskStatusReady, TaskStatusExecuting} {
		task.Status = s
		assert.True(t, CanCancel(task), "status %s", s)
	}
}
