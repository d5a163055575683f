package store

import (
	"sort"

	"todocrud/internal/model"
)

// SortTodos orders todos by date, then display_order, then id.
func SortTodos(todos []model.Todo) {
	sort.SliceStable(todos, func(i, j int) bool {
		a, b := todos[i], todos[j]
		if c := a.Date.Compare(b.Date); c != 0 {
			return c < 0
		}
		if a.DisplayOrder != b.DisplayOrder {
			return a.DisplayOrder < b.DisplayOrder
		}
		return a.ID < b.ID
	})
}

// SortSubtasks orders subtasks by display_order, then id.
func SortSubtasks(subtasks []model.Subtask) {
	sort.SliceStable(subtasks, func(i, j int) bool {
		a, b := subtasks[i], subtasks[j]
		if a.DisplayOrder != b.DisplayOrder {
			return a.DisplayOrder < b.DisplayOrder
		}
		return a.ID < b.ID
	})
}
