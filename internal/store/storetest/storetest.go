// Package storetest holds the behavior every store.Store backend must share.
package storetest

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"todocrud/internal/model"
	"todocrud/internal/store"
)

// Opener returns an empty store. Cleanup is registered on t.
type Opener func(t *testing.T) store.Store

var ignoreTimestamps = cmp.Options{
	cmpopts.IgnoreFields(model.Todo{}, "CreatedAt", "UpdatedAt"),
	cmpopts.IgnoreFields(model.Subtask{}, "CreatedAt", "UpdatedAt"),
}

// Run runs the contract suite against the backend returned by open.
func Run(t *testing.T, open Opener) {
	tests := []struct {
		name string
		fn   func(t *testing.T, s store.Store)
	}{
		{"CreateTodo", testCreateTodo},
		{"ListOrder", testListOrder},
		{"ListByDate", testListByDate},
		{"GetTodoNotFound", testGetTodoNotFound},
		{"UpdateTodo", testUpdateTodo},
		{"DeleteTodoCascades", testDeleteTodoCascades},
		{"ToggleTodo", testToggleTodo},
		{"ReorderTodos", testReorderTodos},
		{"ReorderTodosAtomic", testReorderTodosAtomic},
		{"MoveTodo", testMoveTodo},
		{"Subtasks", testSubtasks},
		{"CreateSubtaskMissingParent", testCreateSubtaskMissingParent},
		{"SubtaskNotFound", testSubtaskNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.fn(t, open(t))
		})
	}
}

func mustCreateTodo(t *testing.T, s store.Store, text, date string, order int) *model.Todo {
	t.Helper()
	todo, err := s.CreateTodo(context.Background(), model.CreateTodoRequest{
		Text:         text,
		Date:         model.MustParseDate(date),
		DisplayOrder: order,
	})
	require.NoError(t, err)
	return todo
}

func mustCreateSubtask(t *testing.T, s store.Store, todoID int64, text string, order int) *model.Subtask {
	t.Helper()
	subtask, err := s.CreateSubtask(context.Background(), todoID, model.CreateSubtaskRequest{
		Text:         text,
		DisplayOrder: order,
	})
	require.NoError(t, err)
	return subtask
}

func requireNotFound(t *testing.T, err error, entity string, id int64) {
	t.Helper()
	require.Error(t, err)
	require.ErrorIs(t, err, store.ErrNotFound)

	var nf *store.NotFoundError
	require.True(t, errors.As(err, &nf), "want *store.NotFoundError, got %T", err)
	assert.Equal(t, entity, nf.Entity)
	assert.Equal(t, id, nf.ID)
}

func ids(todos []model.Todo) []int64 {
	out := make([]int64, len(todos))
	for i, todo := range todos {
		out[i] = todo.ID
	}
	return out
}

func subtaskIDs(subtasks []model.Subtask) []int64 {
	out := make([]int64, len(subtasks))
	for i, st := range subtasks {
		out[i] = st.ID
	}
	return out
}

func testCreateTodo(t *testing.T, s store.Store) {
	ctx := context.Background()

	created, err := s.CreateTodo(ctx, model.CreateTodoRequest{
		Text:         "write report",
		Date:         model.MustParseDate("2024-03-10"),
		Completed:    true,
		DisplayOrder: 4,
	})
	require.NoError(t, err)
	assert.Positive(t, created.ID)
	assert.NotNil(t, created.Subtasks)
	assert.Empty(t, created.Subtasks)
	assert.False(t, created.CreatedAt.IsZero())

	got, err := s.GetTodo(ctx, created.ID)
	require.NoError(t, err)
	if diff := cmp.Diff(created, got, ignoreTimestamps); diff != "" {
		t.Errorf("GetTodo mismatch (-created +got):\n%s", diff)
	}

	second := mustCreateTodo(t, s, "second", "2024-03-10", 0)
	assert.NotEqual(t, created.ID, second.ID)
}

func testListOrder(t *testing.T, s store.Store) {
	ctx := context.Background()

	empty, err := s.ListTodos(ctx, store.ListOptions{})
	require.NoError(t, err)
	assert.NotNil(t, empty)
	assert.Empty(t, empty)

	late := mustCreateTodo(t, s, "late", "2024-01-02", 0)
	third := mustCreateTodo(t, s, "third", "2024-01-01", 2)
	first := mustCreateTodo(t, s, "first", "2024-01-01", 1)
	tie := mustCreateTodo(t, s, "tie", "2024-01-01", 1)

	mustCreateSubtask(t, s, first.ID, "b", 2)
	mustCreateSubtask(t, s, first.ID, "a", 1)

	todos, err := s.ListTodos(ctx, store.ListOptions{})
	require.NoError(t, err)
	assert.Equal(t, []int64{first.ID, tie.ID, third.ID, late.ID}, ids(todos))

	require.Len(t, todos[0].Subtasks, 2)
	assert.Equal(t, "a", todos[0].Subtasks[0].Text)
	assert.Equal(t, "b", todos[0].Subtasks[1].Text)
	assert.NotNil(t, todos[1].Subtasks)
}

func testListByDate(t *testing.T, s store.Store) {
	ctx := context.Background()

	a := mustCreateTodo(t, s, "a", "2024-05-01", 1)
	mustCreateTodo(t, s, "b", "2024-05-02", 0)
	c := mustCreateTodo(t, s, "c", "2024-05-01", 0)

	day := model.MustParseDate("2024-05-01")
	todos, err := s.ListTodos(ctx, store.ListOptions{Date: &day})
	require.NoError(t, err)
	assert.Equal(t, []int64{c.ID, a.ID}, ids(todos))

	none := model.MustParseDate("1999-01-01")
	todos, err = s.ListTodos(ctx, store.ListOptions{Date: &none})
	require.NoError(t, err)
	assert.Empty(t, todos)
}

func testGetTodoNotFound(t *testing.T, s store.Store) {
	_, err := s.GetTodo(context.Background(), 4242)
	requireNotFound(t, err, "todo", 4242)
}

func testUpdateTodo(t *testing.T, s store.Store) {
	ctx := context.Background()
	todo := mustCreateTodo(t, s, "draft", "2024-02-01", 3)
	mustCreateSubtask(t, s, todo.ID, "z", 9)
	mustCreateSubtask(t, s, todo.ID, "y", 1)

	text := "final"
	newDate := model.MustParseDate("2024-02-05")
	updated, err := s.UpdateTodo(ctx, todo.ID, model.UpdateTodoRequest{Text: &text, Date: &newDate})
	require.NoError(t, err)

	assert.Equal(t, "final", updated.Text)
	assert.Equal(t, newDate, updated.Date)
	assert.Equal(t, 3, updated.DisplayOrder)
	assert.False(t, updated.Completed)
	require.Len(t, updated.Subtasks, 2)
	assert.Equal(t, "y", updated.Subtasks[0].Text)

	oldDay := model.MustParseDate("2024-02-01")
	onOld, err := s.ListTodos(ctx, store.ListOptions{Date: &oldDay})
	require.NoError(t, err)
	assert.Empty(t, onOld)

	onNew, err := s.ListTodos(ctx, store.ListOptions{Date: &newDate})
	require.NoError(t, err)
	assert.Equal(t, []int64{todo.ID}, ids(onNew))

	_, err = s.UpdateTodo(ctx, 9999, model.UpdateTodoRequest{Text: &text})
	requireNotFound(t, err, "todo", 9999)
}

func testDeleteTodoCascades(t *testing.T, s store.Store) {
	ctx := context.Background()
	todo := mustCreateTodo(t, s, "parent", "2024-01-01", 0)
	keep := mustCreateTodo(t, s, "other", "2024-01-01", 1)
	kept := mustCreateSubtask(t, s, keep.ID, "stays", 0)

	var children []int64
	for i := 0; i < 3; i++ {
		children = append(children, mustCreateSubtask(t, s, todo.ID, "child", i).ID)
	}

	require.NoError(t, s.DeleteTodo(ctx, todo.ID))

	_, err := s.GetTodo(ctx, todo.ID)
	requireNotFound(t, err, "todo", todo.ID)

	for _, id := range children {
		_, err := s.ToggleSubtask(ctx, id)
		requireNotFound(t, err, "subtask", id)
	}

	remaining, err := s.ListSubtasks(ctx, todo.ID)
	require.NoError(t, err)
	assert.Empty(t, remaining)

	others, err := s.ListSubtasks(ctx, keep.ID)
	require.NoError(t, err)
	assert.Equal(t, []int64{kept.ID}, subtaskIDs(others))

	err = s.DeleteTodo(ctx, todo.ID)
	requireNotFound(t, err, "todo", todo.ID)
}

func testToggleTodo(t *testing.T, s store.Store) {
	ctx := context.Background()
	todo := mustCreateTodo(t, s, "flip", "2024-01-01", 0)
	mustCreateSubtask(t, s, todo.ID, "sub", 0)

	once, err := s.ToggleTodo(ctx, todo.ID)
	require.NoError(t, err)
	assert.True(t, once.Completed)
	assert.Len(t, once.Subtasks, 1)

	twice, err := s.ToggleTodo(ctx, todo.ID)
	require.NoError(t, err)
	assert.Equal(t, todo.Completed, twice.Completed)

	_, err = s.ToggleTodo(ctx, 777)
	requireNotFound(t, err, "todo", 777)
}

func testReorderTodos(t *testing.T, s store.Store) {
	ctx := context.Background()
	a := mustCreateTodo(t, s, "a", "2024-01-01", 0)
	b := mustCreateTodo(t, s, "b", "2024-01-01", 1)

	err := s.ReorderTodos(ctx, []model.Position{
		{ID: a.ID, DisplayOrder: 1},
		{ID: b.ID, DisplayOrder: 0},
	})
	require.NoError(t, err)

	todos, err := s.ListTodos(ctx, store.ListOptions{})
	require.NoError(t, err)
	assert.Equal(t, []int64{b.ID, a.ID}, ids(todos))
	assert.Equal(t, 0, todos[0].DisplayOrder)
	assert.Equal(t, 1, todos[1].DisplayOrder)
}

func testReorderTodosAtomic(t *testing.T, s store.Store) {
	ctx := context.Background()
	todo := mustCreateTodo(t, s, "anchored", "2024-01-01", 0)

	err := s.ReorderTodos(ctx, []model.Position{
		{ID: todo.ID, DisplayOrder: 5},
		{ID: 999, DisplayOrder: 0},
	})
	requireNotFound(t, err, "todo", 999)

	got, err := s.GetTodo(ctx, todo.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.DisplayOrder)
}

func testMoveTodo(t *testing.T, s store.Store) {
	ctx := context.Background()
	todo := mustCreateTodo(t, s, "move me", "2024-01-01", 7)

	target := model.MustParseDate("2024-01-09")
	moved, err := s.MoveTodo(ctx, todo.ID, model.MoveTodoRequest{Date: target})
	require.NoError(t, err)
	assert.Equal(t, target, moved.Date)
	assert.Equal(t, 0, moved.DisplayOrder)
	assert.NotNil(t, moved.Subtasks)

	onTarget, err := s.ListTodos(ctx, store.ListOptions{Date: &target})
	require.NoError(t, err)
	assert.Equal(t, []int64{todo.ID}, ids(onTarget))

	_, err = s.MoveTodo(ctx, 31337, model.MoveTodoRequest{Date: target})
	requireNotFound(t, err, "todo", 31337)
}

func testSubtasks(t *testing.T, s store.Store) {
	ctx := context.Background()
	todo := mustCreateTodo(t, s, "parent", "2024-01-01", 0)

	second := mustCreateSubtask(t, s, todo.ID, "second", 2)
	first := mustCreateSubtask(t, s, todo.ID, "first", 0)
	tie := mustCreateSubtask(t, s, todo.ID, "tie", 2)

	assert.Equal(t, todo.ID, first.TodoID)
	assert.False(t, first.Completed)

	list, err := s.ListSubtasks(ctx, todo.ID)
	require.NoError(t, err)
	assert.Equal(t, []int64{first.ID, second.ID, tie.ID}, subtaskIDs(list))

	got, err := s.GetTodo(ctx, todo.ID)
	require.NoError(t, err)
	if diff := cmp.Diff(list, got.Subtasks, ignoreTimestamps); diff != "" {
		t.Errorf("embedded subtasks mismatch (-list +embedded):\n%s", diff)
	}

	text := "renamed"
	order := 10
	updated, err := s.UpdateSubtask(ctx, first.ID, model.UpdateSubtaskRequest{Text: &text, DisplayOrder: &order})
	require.NoError(t, err)
	assert.Equal(t, "renamed", updated.Text)
	assert.Equal(t, 10, updated.DisplayOrder)
	assert.Equal(t, todo.ID, updated.TodoID)

	toggled, err := s.ToggleSubtask(ctx, second.ID)
	require.NoError(t, err)
	assert.True(t, toggled.Completed)
	toggled, err = s.ToggleSubtask(ctx, second.ID)
	require.NoError(t, err)
	assert.False(t, toggled.Completed)

	require.NoError(t, s.DeleteSubtask(ctx, tie.ID))
	list, err = s.ListSubtasks(ctx, todo.ID)
	require.NoError(t, err)
	assert.Equal(t, []int64{second.ID, first.ID}, subtaskIDs(list))
}

func testCreateSubtaskMissingParent(t *testing.T, s store.Store) {
	ctx := context.Background()

	_, err := s.CreateSubtask(ctx, 555, model.CreateSubtaskRequest{Text: "orphan"})
	requireNotFound(t, err, "todo", 555)

	list, err := s.ListSubtasks(ctx, 555)
	require.NoError(t, err)
	assert.NotNil(t, list)
	assert.Empty(t, list)
}

func testSubtaskNotFound(t *testing.T, s store.Store) {
	ctx := context.Background()
	text := "nothing"

	_, err := s.UpdateSubtask(ctx, 88, model.UpdateSubtaskRequest{Text: &text})
	requireNotFound(t, err, "subtask", 88)

	err = s.DeleteSubtask(ctx, 88)
	requireNotFound(t, err, "subtask", 88)

	_, err = s.ToggleSubtask(ctx, 88)
	requireNotFound(t, err, "subtask", 88)
}
