package tasks

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound          = errors.New("task not found")
	ErrInvalidTransition = errors.New("invalid task transition")
	ErrNotReady          = errors.New("task not ready")
	ErrInvalidTask       = errors.New("invalid task")
)

// TransitionError reports a move the transition table rejects.
type TransitionError struct {
	TaskID string
	From   TaskStatus
	To     TaskStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s: task %s %s -> %s", ErrInvalidTransition, e.TaskID, e.From, e.To)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }

func notFound(taskID string) error {
	return fmt.Errorf("%w: %s", ErrNotFound, taskID)
}
