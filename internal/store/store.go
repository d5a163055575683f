// Package store defines the persistence contract shared by the todo backends.
//
// Listing returns todos ordered by (date, display_order, id) and each
// todo's subtasks ordered by (display_order, id). Deleting a todo deletes
// its subtasks. ReorderTodos is all-or-nothing: an unknown id aborts the
// batch with a NotFoundError and no row changes.
//
// The toggle operations read the current value and write its negation in
// two steps. Two concurrent toggles of the same record may therefore both
// observe the same value.
package store

import (
	"context"

	"todocrud/internal/model"
)

// ListOptions filters ListTodos.
type ListOptions struct {
	// Date restricts the result to one calendar day when non-nil.
	Date *model.Date
}

// Store is implemented by every persistence backend.
type Store interface {
	ListTodos(ctx context.Context, opts ListOptions) ([]model.Todo, error)
	GetTodo(ctx context.Context, id int64) (*model.Todo, error)
	CreateTodo(ctx context.Context, req model.CreateTodoRequest) (*model.Todo, error)
	UpdateTodo(ctx context.Context, id int64, req model.UpdateTodoRequest) (*model.Todo, error)
	DeleteTodo(ctx context.Context, id int64) error
	ToggleTodo(ctx context.Context, id int64) (*model.Todo, error)
	ReorderTodos(ctx context.Context, positions []model.Position) error
	MoveTodo(ctx context.Context, id int64, req model.MoveTodoRequest) (*model.Todo, error)

	ListSubtasks(ctx context.Context, todoID int64) ([]model.Subtask, error)
	CreateSubtask(ctx context.Context, todoID int64, req model.CreateSubtaskRequest) (*model.Subtask, error)
	UpdateSubtask(ctx context.Context, id int64, req model.UpdateSubtaskRequest) (*model.Subtask, error)
	DeleteSubtask(ctx context.Context, id int64) error
	ToggleSubtask(ctx context.Context, id int64) (*model.Subtask, error)

	// Ping reports whether the backend is reachable.
	Ping(ctx context.Context) error
	// Close releases the backend's connections.
	Close() error
}
