// integration_test.go contains an end-to-end test suite for the todo API.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/charmbracelet/log"
	"github.com/go-redis/redis/v8"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"todocrud/internal/config"
	"todocrud/internal/model"
	"todocrud/internal/store"
	"todocrud/internal/store/redisstore"
	"todocrud/internal/store/sqlstore"
)

// backends lists the stores every end-to-end test runs against.
var backends = map[string]func(t *testing.T) store.Store{
	"sqlite": func(t *testing.T) store.Store {
		s, err := sqlstore.Open(context.Background(), sqlstore.Options{
			Driver: sqlstore.DriverSQLite,
			DSN:    filepath.Join(t.TempDir(), "todos.db"),
		})
		require.NoError(t, err)
		return s
	},
	"redis": func(t *testing.T) store.Store {
		mr := miniredis.RunT(t)
		return redisstore.New(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	},
}

// testClient talks to an httptest server backed by a fresh store.
type testClient struct {
	t   *testing.T
	url string
}

func newTestServer(t *testing.T, open func(t *testing.T) store.Store) *testClient {
	t.Helper()
	s := open(t)
	t.Cleanup(func() { _ = s.Close() })

	h := NewHandler(s, newTestLogger())
	srv := httptest.NewServer(h.Server(Options{
		CORS:           config.CORS{Mode: config.CORSDevAllowAll, AllowCredentials: true},
		RequestTimeout: 5 * time.Second,
	}))
	t.Cleanup(srv.Close)
	return &testClient{t: t, url: srv.URL}
}

// forEachBackend runs fn once per store backend.
func forEachBackend(t *testing.T, fn func(t *testing.T, c *testClient)) {
	for name, open := range backends {
		t.Run(name, func(t *testing.T) {
			fn(t, newTestServer(t, open))
		})
	}
}

// do sends body (a JSON string, or "" for none) and returns the status and response body.
func (c *testClient) do(method, path, body string) (int, []byte) {
	c.t.Helper()
	var r io.Reader
	if body != "" {
		r = bytes.NewReader([]byte(body))
	}
	req, err := http.NewRequest(method, c.url+path, r)
	require.NoError(c.t, err)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(c.t, err, "%s %s", method, path)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(c.t, err)
	return resp.StatusCode, data
}

// expect sends the request, requires status and decodes the body into out when non-nil.
func (c *testClient) expect(method, path, body string, status int, out any) {
	c.t.Helper()
	got, data := c.do(method, path, body)
	require.Equal(c.t, status, got, "%s %s: %s", method, path, data)
	if out != nil {
		require.NoError(c.t, json.Unmarshal(data, out), "%s %s: %s", method, path, data)
	}
}

func (c *testClient) createTodo(text, date string, order int) model.Todo {
	c.t.Helper()
	var todo model.Todo
	body := fmt.Sprintf(`{"text":%q,"date":%q,"display_order":%d}`, text, date, order)
	c.expect(http.MethodPost, "/todos", body, http.StatusCreated, &todo)
	return todo
}

func fixture(t *testing.T, name string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join("testdata", name))
	require.NoError(t, err)
	return string(data)
}

// TestCRUDIntegration exercises create, read, update, list and delete of todos and subtasks.
func TestCRUDIntegration(t *testing.T) {
	forEachBackend(t, func(t *testing.T, c *testClient) {
		// CREATE
		var full, minimal model.Todo
		c.expect(http.MethodPost, "/todos", fixture(t, "create_todo_request.json"), http.StatusCreated, &full)
		c.expect(http.MethodPost, "/todos", fixture(t, "create_todo_minimal.json"), http.StatusCreated, &minimal)

		assert.NotZero(t, full.ID)
		assert.True(t, full.Completed)
		assert.Equal(t, 3, full.DisplayOrder)
		assert.False(t, minimal.Completed)
		assert.Equal(t, 0, minimal.DisplayOrder)
		assert.Equal(t, []model.Subtask{}, minimal.Subtasks)

		// READ
		var got model.Todo
		c.expect(http.MethodGet, fmt.Sprintf("/todos/%d", full.ID), "", http.StatusOK, &got)
		if diff := cmp.Diff(full, got); diff != "" {
			t.Errorf("GET /todos/%d mismatch (-created +got):\n%s", full.ID, diff)
		}

		// UPDATE
		var updated model.Todo
		c.expect(http.MethodPut, fmt.Sprintf("/todos/%d", full.ID), fixture(t, "update_todo_request.json"), http.StatusOK, &updated)
		assert.Equal(t, "Write and send the quarterly report", updated.Text)
		assert.False(t, updated.Completed)
		assert.Equal(t, full.Date, updated.Date)
		assert.Equal(t, full.DisplayOrder, updated.DisplayOrder)

		// SUBTASKS
		var sub model.Subtask
		c.expect(http.MethodPost, fmt.Sprintf("/todos/%d/subtasks", full.ID), fixture(t, "create_subtask_request.json"), http.StatusCreated, &sub)
		assert.Equal(t, full.ID, sub.TodoID)
		assert.Equal(t, 1, sub.DisplayOrder)
		assert.False(t, sub.Completed)

		var subs []model.Subtask
		c.expect(http.MethodGet, fmt.Sprintf("/todos/%d/subtasks", full.ID), "", http.StatusOK, &subs)
		require.Len(t, subs, 1)
		assert.Equal(t, sub.ID, subs[0].ID)

		var renamed model.Subtask
		c.expect(http.MethodPut, fmt.Sprintf("/subtasks/%d", sub.ID), `{"text":"Collect Q4 sales figures"}`, http.StatusOK, &renamed)
		assert.Equal(t, "Collect Q4 sales figures", renamed.Text)
		assert.Equal(t, 1, renamed.DisplayOrder)

		// LIST
		var list []model.Todo
		c.expect(http.MethodGet, "/todos", "", http.StatusOK, &list)
		require.Len(t, list, 2)
		assert.Equal(t, minimal.ID, list[0].ID)
		assert.Equal(t, full.ID, list[1].ID)
		require.Len(t, list[1].Subtasks, 1)

		c.expect(http.MethodGet, "/todos?date=2024-01-02", "", http.StatusOK, &list)
		require.Len(t, list, 1)
		assert.Equal(t, full.ID, list[0].ID)

		// DELETE
		c.expect(http.MethodDelete, fmt.Sprintf("/subtasks/%d", sub.ID), "", http.StatusNoContent, nil)
		c.expect(http.MethodDelete, fmt.Sprintf("/subtasks/%d", sub.ID), "", http.StatusNotFound, nil)
		for _, id := range []int64{full.ID, minimal.ID} {
			c.expect(http.MethodDelete, fmt.Sprintf("/todos/%d", id), "", http.StatusNoContent, nil)
		}

		c.expect(http.MethodGet, "/todos", "", http.StatusOK, &list)
		assert.Empty(t, list)
	})
}

func TestCreateTodoLocation(t *testing.T) {
	c := newTestServer(t, backends["sqlite"])
	resp, err := http.Post(c.url+"/todos", "application/json", bytes.NewReader([]byte(fixture(t, "create_todo_minimal.json"))))
	require.NoError(t, err)
	defer resp.Body.Close()

	var todo model.Todo
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&todo))
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, fmt.Sprintf("/todos/%d", todo.ID), resp.Header.Get("Location"))
	assert.NotEmpty(t, resp.Header.Get(RequestIDHeader))
}

func TestListOrdering(t *testing.T) {
	forEachBackend(t, func(t *testing.T, c *testClient) {
		late := c.createTodo("late", "2024-01-02", 0)
		second := c.createTodo("second", "2024-01-01", 2)
		first := c.createTodo("first", "2024-01-01", 1)
		tie := c.createTodo("tie", "2024-01-01", 2)

		var list []model.Todo
		c.expect(http.MethodGet, "/todos", "", http.StatusOK, &list)
		ids := make([]int64, len(list))
		for i, todo := range list {
			ids[i] = todo.ID
		}
		assert.Equal(t, []int64{first.ID, second.ID, tie.ID, late.ID}, ids)
	})
}

func TestUpdateValidation(t *testing.T) {
	forEachBackend(t, func(t *testing.T, c *testClient) {
		todo := c.createTodo("a", "2024-01-01", 0)

		for _, body := range []string{`{}`, ""} {
			var resp errorResponse
			c.expect(http.MethodPut, fmt.Sprintf("/todos/%d", todo.ID), body, http.StatusBadRequest, &resp)
			assert.Equal(t, "Validation failed", resp.Error)
			require.Len(t, resp.Details, 1)
			assert.Equal(t, "at least one field must be provided", resp.Details[0].Message)
		}

		var resp errorResponse
		c.expect(http.MethodPost, "/todos", `{"date":"bad","display_order":-2}`, http.StatusBadRequest, &resp)
		assert.Len(t, resp.Details, 3)

		c.expect(http.MethodPut, "/todos/999", `{"text":"x"}`, http.StatusNotFound, nil)
	})
}

func TestDeleteCascades(t *testing.T) {
	forEachBackend(t, func(t *testing.T, c *testClient) {
		todo := c.createTodo("parent", "2024-01-01", 0)
		var ids []int64
		for i := 0; i < 3; i++ {
			var sub model.Subtask
			c.expect(http.MethodPost, fmt.Sprintf("/todos/%d/subtasks", todo.ID), fmt.Sprintf(`{"text":"step %d"}`, i), http.StatusCreated, &sub)
			ids = append(ids, sub.ID)
		}

		c.expect(http.MethodDelete, fmt.Sprintf("/todos/%d", todo.ID), "", http.StatusNoContent, nil)
		c.expect(http.MethodGet, fmt.Sprintf("/todos/%d", todo.ID), "", http.StatusNotFound, nil)
		for _, id := range ids {
			c.expect(http.MethodPut, fmt.Sprintf("/subtasks/%d", id), `{"completed":true}`, http.StatusNotFound, nil)
			c.expect(http.MethodPatch, fmt.Sprintf("/subtasks/%d/complete", id), "", http.StatusNotFound, nil)
		}

		var subs []model.Subtask
		c.expect(http.MethodGet, fmt.Sprintf("/todos/%d/subtasks", todo.ID), "", http.StatusOK, &subs)
		assert.Empty(t, subs)
	})
}

func TestReorder(t *testing.T) {
	forEachBackend(t, func(t *testing.T, c *testClient) {
		a := c.createTodo("a", "2024-01-01", 0)
		b := c.createTodo("b", "2024-01-01", 1)

		var msg map[string]string
		body := fmt.Sprintf(`{"todos":[{"id":%d,"display_order":1},{"id":%d,"display_order":0}]}`, a.ID, b.ID)
		c.expect(http.MethodPatch, "/todos/reorder", body, http.StatusOK, &msg)
		assert.Equal(t, "Todos reordered successfully", msg["message"])

		var list []model.Todo
		c.expect(http.MethodGet, "/todos", "", http.StatusOK, &list)
		require.Len(t, list, 2)
		assert.Equal(t, b.ID, list[0].ID)

		// A missing id rolls back the whole batch.
		body = fmt.Sprintf(`{"todos":[{"id":%d,"display_order":5},{"id":999,"display_order":0}]}`, a.ID)
		c.expect(http.MethodPatch, "/todos/reorder", body, http.StatusNotFound, nil)

		var got model.Todo
		c.expect(http.MethodGet, fmt.Sprintf("/todos/%d", a.ID), "", http.StatusOK, &got)
		assert.Equal(t, 1, got.DisplayOrder)

		c.expect(http.MethodPatch, "/todos/reorder", `{"todos":[]}`, http.StatusBadRequest, nil)
	})
}

func TestToggleTwice(t *testing.T) {
	forEachBackend(t, func(t *testing.T, c *testClient) {
		todo := c.createTodo("flip", "2024-01-01", 0)
		path := fmt.Sprintf("/todos/%d/complete", todo.ID)

		var once, twice model.Todo
		c.expect(http.MethodPatch, path, "", http.StatusOK, &once)
		c.expect(http.MethodPatch, path, "", http.StatusOK, &twice)
		assert.True(t, once.Completed)
		assert.Equal(t, todo.Completed, twice.Completed)

		var sub, flipped model.Subtask
		c.expect(http.MethodPost, fmt.Sprintf("/todos/%d/subtasks", todo.ID), `{"text":"s","completed":true}`, http.StatusCreated, &sub)
		c.expect(http.MethodPatch, fmt.Sprintf("/subtasks/%d/complete", sub.ID), "", http.StatusOK, &flipped)
		assert.False(t, flipped.Completed)

		c.expect(http.MethodPatch, "/todos/999/complete", "", http.StatusNotFound, nil)
	})
}

func TestMoveTodo(t *testing.T) {
	forEachBackend(t, func(t *testing.T, c *testClient) {
		todo := c.createTodo("move me", "2024-01-01", 4)

		var moved model.Todo
		c.expect(http.MethodPatch, fmt.Sprintf("/todos/%d/date", todo.ID), `{"date":"2024-02-10"}`, http.StatusOK, &moved)
		assert.Equal(t, "2024-02-10", moved.Date.String())
		assert.Equal(t, 0, moved.DisplayOrder)

		var list []model.Todo
		c.expect(http.MethodGet, "/todos?date=2024-01-01", "", http.StatusOK, &list)
		assert.Empty(t, list)
		c.expect(http.MethodGet, "/todos?date=2024-02-10", "", http.StatusOK, &list)
		assert.Len(t, list, 1)

		c.expect(http.MethodPatch, fmt.Sprintf("/todos/%d/date", todo.ID), `{}`, http.StatusBadRequest, nil)
		c.expect(http.MethodPatch, "/todos/999/date", `{"date":"2024-02-10"}`, http.StatusNotFound, nil)
	})
}

func TestSubtaskUnderMissingParent(t *testing.T) {
	forEachBackend(t, func(t *testing.T, c *testClient) {
		var resp errorResponse
		c.expect(http.MethodPost, "/todos/999/subtasks", `{"text":"orphan"}`, http.StatusNotFound, &resp)
		assert.Equal(t, "Not Found", resp.Error)
		assert.Equal(t, "todo 999 not found", resp.Message)

		var subs []model.Subtask
		c.expect(http.MethodGet, "/todos/999/subtasks", "", http.StatusOK, &subs)
		assert.Empty(t, subs)
	})
}

func TestRequestErrors(t *testing.T) {
	c := newTestServer(t, backends["sqlite"])

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		status int
		error  string
	}{
		{"invalid id", http.MethodGet, "/todos/abc", "", http.StatusBadRequest, "Invalid ID"},
		{"zero id", http.MethodDelete, "/subtasks/0", "", http.StatusBadRequest, "Invalid ID"},
		{"negative id", http.MethodPatch, "/todos/-1/complete", "", http.StatusBadRequest, "Invalid ID"},
		{"malformed json", http.MethodPost, "/todos", `{"text":`, http.StatusBadRequest, "Bad Request"},
		{"two values", http.MethodPost, "/todos", `{} {}`, http.StatusBadRequest, "Bad Request"},
		{"display order overflow", http.MethodPost, "/todos", `{"text":"a","date":"2024-01-01","display_order":1e20}`, http.StatusBadRequest, "Validation failed"},
		{"bad date filter", http.MethodGet, "/todos?date=yesterday", "", http.StatusBadRequest, "Validation failed"},
		{"unrouted path", http.MethodGet, "/nope", "", http.StatusNotFound, "Not Found"},
		{"unsupported method", http.MethodPost, "/health", "", http.StatusNotFound, "Not Found"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var resp errorResponse
			c.expect(tt.method, tt.path, tt.body, tt.status, &resp)
			assert.Equal(t, tt.error, resp.Error)
		})
	}

	var resp errorResponse
	c.expect(http.MethodGet, "/nope", "", http.StatusNotFound, &resp)
	assert.Equal(t, "route not found: GET /nope", resp.Message)
}

func TestBodyTooLarge(t *testing.T) {
	c := newTestServer(t, backends["sqlite"])
	body := fmt.Sprintf(`{"text":"%s","date":"2024-01-01"}`, bytes.Repeat([]byte("a"), maxBodyBytes))
	status, _ := c.do(http.MethodPost, "/todos", body)
	assert.Equal(t, http.StatusRequestEntityTooLarge, status)
}

func TestHealth(t *testing.T) {
	c := newTestServer(t, backends["sqlite"])
	var resp healthResponse
	c.expect(http.MethodGet, "/health", "", http.StatusOK, &resp)
	assert.Equal(t, "OK", resp.Status)
	_, err := time.Parse(time.RFC3339, resp.Timestamp)
	assert.NoError(t, err)
	assert.GreaterOrEqual(t, resp.Uptime, 0.0)
}

// newTestLogger returns a logger that outputs to stdout for test visibility.
func newTestLogger() *log.Logger {
	return log.NewWithOptions(os.Stdout, log.Options{Prefix: "[TEST]", Level: log.WarnLevel})
}
