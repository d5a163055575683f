package store

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a referenced todo or subtask does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrConflict is returned when a write violates a uniqueness constraint.
	ErrConflict = errors.New("record already exists")

	// ErrForeignKey is returned when a write references a parent that does not exist.
	ErrForeignKey = errors.New("referenced record does not exist")
)

// NotFoundError names the record that was missing.
type NotFoundError struct {
	Entity string
	ID     int64
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %d not found", e.Entity, e.ID)
}

// Is makes errors.Is(err, ErrNotFound) hold for every NotFoundError.
func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// TodoNotFound returns the error for a missing todo.
func TodoNotFound(id int64) error {
	return &NotFoundError{Entity: "todo", ID: id}
}

// SubtaskNotFound returns the error for a missing subtask.
func SubtaskNotFound(id int64) error {
	return &NotFoundError{Entity: "subtask", ID: id}
}
