package tasks

import "time"

var transitions = map[TaskStatus]map[TaskStatus]struct{}{
	TaskStatusPending: {
		TaskStatusNeedsInput: {},
		TaskStatusReady:      {},
		TaskStatusCancelled:  {},
	},
	TaskStatusNeedsInput: {
		TaskStatusReady:      {},
		TaskStatusNeedsInput: {},
		TaskStatusCancelled:  {},
	},
	TaskStatusReady: {
		TaskStatusExecuting:  {},
		TaskStatusNeedsInput: {},
		TaskStatusCancelled:  {},
	},
	TaskStatusExecuting: {
		TaskStatusCompleted: {},
		TaskStatusFailed:    {},
		TaskStatusCancelled: {},
	},
}

// IsValidTransition reports whether the table allows from -> to.
func IsValidTransition(from, to TaskStatus) bool {
	_, ok := transitions[from][to]
	return ok
}

// ValidNextStates lists the allowed targets of from in lifecycle order.
func ValidNextStates(from TaskStatus) []TaskStatus {
	out := make([]TaskStatus, 0, 3)
	for _, s := range AllStatuses {
		if IsValidTransition(from, s) {
			out = append(out, s)
		}
	}
	return out
}

func IsTerminal(s TaskStatus) bool {
	switch s {
	case TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled:
		return true
	default:
		return false
	}
}

// Transition moves the task to status to. The input task is never modified.
func Transition(task Task, to TaskStatus, now time.Time) (Task, error) {
	if !IsValidTransition(task.Status, to) {
		return task, &TransitionError{TaskID: task.ID, From: task.Status, To: to}
	}
	out := task.Clone()
	out.Status = to
	out.UpdatedAt = now
	return out, nil
}

// TryTransition is Transition without the error; ok is false when rejected.
func TryTransition(task Task, to TaskStatus, now time.Time) (Task, bool) {
	out, err := Transition(task, to, now)
	if err != nil {
		return Task{}, false
	}
	return out, true
}

// ComputeNextState infers the data-driven status. Only pending and
// needs_input tasks move; everything past ready is decided by commands.
func ComputeNextState(task Task) TaskStatus {
	switch task.Status {
	case TaskStatusPending, TaskStatusNeedsInput:
		if task.IsReady() {
			return TaskStatusReady
		}
		return TaskStatusNeedsInput
	default:
		return task.Status
	}
}

// Advance applies ComputeNextState when it differs and the table allows it.
func Advance(task Task, now time.Time) Task {
	next := ComputeNextState(task)
	if next == task.Status {
		return task
	}
	out, ok := TryTransition(task, next, now)
	if !ok {
		return task
	}
	return out
}

func CanCancel(task Task) bool {
	return IsValidTransition(task.Status, TaskStatusCancelled)
}
