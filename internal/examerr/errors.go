// Package examerr holds the error kinds raised by the exam engine.
//
// Every kind carries the entity and transition it was raised for and matches
// one sentinel through errors.Is, so callers can switch on the sentinel and
// still log the full context.
package examerr

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrValidation       = errors.New("validation failed")
	ErrInvalidState     = errors.New("invalid state")
	ErrNotOpen          = errors.New("exam not available")
	ErrDeadlineExceeded = errors.New("deadline exceeded")
)

// ValidationError reports malformed input for a question, exam or grade.
type ValidationError struct {
	Entity string
	ID     int64
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.ID > 0 {
		return fmt.Sprintf("invalid %s %d: %s: %s", e.Entity, e.ID, e.Field, e.Reason)
	}
	return fmt.Sprintf("invalid %s: %s: %s", e.Entity, e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// InvalidStateError reports a transition attempted from a state that does not allow it.
type InvalidStateError struct {
	Entity     string
	ID         int64
	From       string
	Transition string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("%s %d: cannot %s from status %s", e.Entity, e.ID, e.Transition, e.From)
}

func (e *InvalidStateError) Is(target error) bool { return target == ErrInvalidState }

// NotOpenError reports an exam that cannot be attempted right now.
type NotOpenError struct {
	ExamID    int64
	StudentID int64
	Reason    string
}

func (e *NotOpenError) Error() string {
	return fmt.Sprintf("exam %d not available for student %d: %s", e.ExamID, e.StudentID, e.Reason)
}

func (e *NotOpenError) Is(target error) bool { return target == ErrNotOpen }

// DeadlineExceededError reports a submission after the exam window closed.
type DeadlineExceededError struct {
	AttemptID int64
	ExamID    int64
	Deadline  time.Time
	At        time.Time
}

func (e *DeadlineExceededError) Error() string {
	return fmt.Sprintf("attempt %d: submission at %s is after exam %d closed at %s",
		e.AttemptID, e.At.UTC().Format(time.RFC3339), e.ExamID, e.Deadline.UTC().Format(time.RFC3339))
}

func (e *DeadlineExceededError) Is(target error) bool { return target == ErrDeadlineExceeded }

func Validation(entity string, id int64, field, reason string) error {
	return &ValidationError{Entity: entity, ID: id, Field: field, Reason: reason}
}

func InvalidState(entity string, id int64, from, transition string) error {
	return &InvalidStateError{Entity: entity, ID: id, From: from, Transition: transition}
}
