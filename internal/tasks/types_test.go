package tasks

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMissingSlotsFollowSlotOrder(t *testing.T) {
	task := sendTextTask(t)
	assert.Equal(t, []string{"recipient", "message"}, task.MissingSlots())
	assert.False(t, task.IsReady())

	task = task.WithSlotValue("message", String("hi"), testNow)
	assert.Equal(t, []string{"recipient"}, task.MissingSlots())

	next, ok := task.NextMissingSlot()
	require.True(t, ok)
	assert.Equal(t, "recipient", next.Name)

	task = task.WithSlotValue("recipient", String("mom"), testNow)
	assert.Empty(t, task.MissingSlots())
	assert.True(t, task.IsReady())
	_, ok = task.NextMissingSlot()
	assert.False(t, ok)
}

func TestWithSlotValue(t *testing.T) {
	task := sendTextTask(t)
	later := testNow.Add(time.Minute)

	same := task.WithSlotValue("nope", String("x"), later)
	assert.Equal(t, task, same, "unknown slot must be a no-op")

	set := task.WithSlotValue("recipient", String("mom"), later)
	slot, ok := set.Slot("recipient")
	require.True(t, ok)
	assert.True(t, slot.Resolved)
	assert.Equal(t, "mom", slot.Value.String())
	assert.Equal(t, later, set.UpdatedAt)

	orig, _ := task.Slot("recipient")
	assert.False(t, orig.Resolved, "original task must not change")

	cleared := set.WithSlotValue("recipient", Null(), later)
	slot, _ = cleared.Slot("recipient")
	assert.False(t, slot.Resolved)
	assert.True(t, slot.Value.IsNull())
	assert.Equal(t, []string{"recipient", "message"}, cleared.MissingSlots())
}

func TestIsReadyMatchesMissingSlots(t *testing.T) {
	task := sendTextTask(t)
	steps := []struct {
		slot  string
		value Value
	}{
		{"app", String("whatsapp")},
		{"recipient", String("mom")},
		{"recipient", Null()},
		{"recipient", String("dad")},
		{"message", List(String("hi"), String("there"))},
	}
	for _, step := range steps {
		task = task.WithSlotValue(step.slot, step.value, testNow)
		assert.Equal(t, len(task.MissingSlots()) == 0, task.IsReady())
	}
	assert.True(t, task.IsReady())
}

func TestWithResult(t *testing.T) {
	task := sendTextTask(t)
	task.Status = TaskStatusExecuting

	done := task.WithResult(TaskResult{Success: true, Data: map[string]Value{"id": String("m-1")}}, testNow)
	assert.Equal(t, TaskStatusCompleted, done.Status)
	require.NotNil(t, done.Result)
	assert.Equal(t, testNow, done.Result.ExecutedAt)

	failed := task.WithResult(TaskResult{Success: false, Error: &TaskError{Code: "E1", Message: "boom"}}, testNow)
	assert.Equal(t, TaskStatusFailed, failed.Status)
	assert.Equal(t, "E1", failed.Result.Error.Code)
	assert.False(t, failed.Result.Error.Recoverable)
}

func TestParseIntent(t *testing.T) {
	in, err := ParseIntent("messaging.send_text")
	require.NoError(t, err)
	assert.Equal(t, Intent{Domain: "messaging", Action: "send_text", Confidence: 1.0}, in)
	assert.Equal(t, "messaging.send_text", in.FullName())

	for _, bad := range []string{"", "messaging", ".send", "messaging."} {
		_, err := ParseIntent(bad)
		assert.Error(t, err, "input %q", bad)
	}
}

func TestParseSlotTypeFallsBackToString(t *testing.T) {
	assert.Equal(t, SlotTypeDateTime, ParseSlotType("DateTime"))
	assert.Equal(t, SlotTypeContacts, ParseSlotType(" contacts "))
	assert.Equal(t, SlotTypeString, ParseSlotType("phone_number"))
	assert.Equal(t, SlotTypeString, ParseSlotType(""))
}

func TestNewSlotsRejectsDuplicates(t *testing.T) {
	_, err := NewSlots(Slot{Name: "a"}, Slot{Name: "a"})
	assert.Error(t, err)
	_, err = NewSlots(Slot{})
	assert.Error(t, err)

	slots, err := NewSlots(Slot{Name: "a"})
	require.NoError(t, err)
	assert.Equal(t, SlotTypeString, slots[0].Type)
}

func TestTaskJSONKeepsSlotOrder(t *testing.T) {
	task := sendTextTask(t)
	task = task.WithSlotValue("recipient", Map(map[string]Value{
		"name":   String("Mom"),
		"phones": List(String("+1 555 0100")),
		"vip":    Bool(true),
		"rank":   Number(1),
	}), testNow)

	data, err := json.Marshal(task)
	require.NoError(t, err)

	var back Task
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, []string{"recipient", "message", "app"}, back.Slots.Names())
	assert.Equal(t, task.MissingSlots(), back.MissingSlots())

	got, _ := back.Slot("recipient")
	want, _ := task.Slot("recipient")
	assert.True(t, want.Value.Equal(got.Value))
	assert.True(t, got.Resolved)
}

func TestSummaryListsResolvedSlots(t *testing.T) {
	task := sendTextTask(t).WithSlotValue("recipient", String("mom"), testNow)
	assert.Equal(t, "messaging.send_text (recipient=mom)", task.Summary())
	assert.Equal(t, "messaging.send_text", sendTextTask(t).Summary())
}

func TestValueFromAny(t *testing.T) {
	var raw any
	require.NoError(t, json.Unmarshal([]byte(`{"a":[1,"x",true,null],"b":{"c":2.5}}`), &raw))
	v, err := FromAny(raw)
	require.NoError(t, err)
	assert.Equal(t, KindMap, v.Kind())
	assert.Equal(t, "{a: [1, x, true, null], b: {c: 2.5}}", v.String())
	assert.Equal(t, raw, v.Any())

	_, err = FromAny(struct{}{})
	assert.Error(t, err)
}
