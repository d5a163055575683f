// Package model defines the to-do records exchanged between the API and the stores.
package model

import "time"

// Todo is a dated to-do entry. It owns its Subtasks.
type Todo struct {
	ID           int64     `json:"id" gorm:"primaryKey"`
	Text         string    `json:"text" gorm:"size:500;not null"`
	Date         Date      `json:"date" gorm:"not null;index:idx_todos_date_order,priority:1"`
	Completed    bool      `json:"completed" gorm:"not null"`
	DisplayOrder int       `json:"display_order" gorm:"not null;index:idx_todos_date_order,priority:2"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	Subtasks     []Subtask `json:"subtasks" gorm:"foreignKey:TodoID;constraint:OnDelete:CASCADE"`
}

// Subtask is a checklist entry that belongs to exactly one Todo.
type Subtask struct {
	ID           int64     `json:"id" gorm:"primaryKey"`
	TodoID       int64     `json:"todo_id" gorm:"not null;index:idx_subtasks_todo_order,priority:1"`
	Text         string    `json:"text" gorm:"size:500;not null"`
	Completed    bool      `json:"completed" gorm:"not null"`
	DisplayOrder int       `json:"display_order" gorm:"not null;index:idx_subtasks_todo_order,priority:2"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// CreateTodoRequest is the payload for creating a todo.
type CreateTodoRequest struct {
	Text         string `json:"text"`
	Date         Date   `json:"date"`
	Completed    bool   `json:"completed"`
	DisplayOrder int    `json:"display_order"`
}

// UpdateTodoRequest is a partial update; nil fields are left untouched.
type UpdateTodoRequest struct {
	Text         *string `json:"text,omitempty"`
	Date         *Date   `json:"date,omitempty"`
	Completed    *bool   `json:"completed,omitempty"`
	DisplayOrder *int    `json:"display_order,omitempty"`
}

// MoveTodoRequest is the payload for PATCH /todos/{id}/date.
type MoveTodoRequest struct {
	Date         Date `json:"date"`
	DisplayOrder int  `json:"display_order"`
}

// Position assigns a display order to one todo.
type Position struct {
	ID           int64 `json:"id"`
	DisplayOrder int   `json:"display_order"`
}

// ReorderRequest is the payload for PATCH /todos/reorder.
type ReorderRequest struct {
	Todos []Position `json:"todos"`
}

// CreateSubtaskRequest is the payload for creating a subtask.
type CreateSubtaskRequest struct {
	Text         string `json:"text"`
	Completed    bool   `json:"completed"`
	DisplayOrder int    `json:"display_order"`
}

// UpdateSubtaskRequest is a partial update; nil fields are left untouched.
type UpdateSubtaskRequest struct {
	Text         *string `json:"text,omitempty"`
	Completed    *bool   `json:"completed,omitempty"`
	DisplayOrder *int    `json:"display_order,omitempty"`
}

// Apply copies the supplied fields onto t.
func (r UpdateTodoRequest) Apply(t *Todo) {
	if r.Text != nil {
		t.Text = *r.Text
	}
	if r.Date != nil {
		t.Date = *r.Date
	}
	if r.Completed != nil {
		t.Completed = *r.Completed
	}
	if r.DisplayOrder != nil {
		t.DisplayOrder = *r.DisplayOrder
	}
}

// Columns returns the supplied fields keyed by column name.
func (r UpdateTodoRequest) Columns() map[string]any {
	cols := make(map[string]any, 4)
	if r.Text != nil {
		cols["text"] = *r.Text
	}
	if r.Date != nil {
		cols["date"] = *r.Date
	}
	if r.Completed != nil {
		cols["completed"] = *r.Completed
	}
	if r.DisplayOrder != nil {
		cols["display_order"] = *r.DisplayOrder
	}
	return cols
}

// Apply copies the supplied fields onto s.
func (r UpdateSubtaskRequest) Apply(s *Subtask) {
	if r.Text != nil {
		s.Text = *r.Text
	}
	if r.Completed != nil {
		s.Completed = *r.Completed
	}
	if r.DisplayOrder != nil {
		s.DisplayOrder = *r.DisplayOrder
	}
}

// Columns returns the supplied fields keyed by column name.
func (r UpdateSubtaskRequest) Columns() map[string]any {
	cols := make(map[string]any, 3)
	if r.Text != nil {
		cols["text"] = *r.Text
	}
	if r.Completed != nil {
		cols["completed"] = *r.Completed
	}
	if r.DisplayOrder != nil {
		cols["display_order"] = *r.DisplayOrder
	}
	return cols
}
