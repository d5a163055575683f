// Package api exposes the todo store over HTTP.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/charmbracelet/log"

	"todocrud/internal/model"
	"todocrud/internal/store"
	"todocrud/internal/validate"
)

// maxBodyBytes caps request bodies.
const maxBodyBytes = 1 << 20

// Handler serves the todo and subtask endpoints.
type Handler struct {
	store   store.Store
	logger  *log.Logger
	started time.Time
}

// NewHandler creates a Handler with dependencies.
func NewHandler(s store.Store, logger *log.Logger) *Handler {
	return &Handler{store: s, logger: logger, started: time.Now()}
}

// handlerFunc is an endpoint that reports failures by returning them.
type handlerFunc func(w http.ResponseWriter, r *http.Request) error

// wrap turns fn into an http.HandlerFunc that writes fn's error, if any.
func (h *Handler) wrap(fn handlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := fn(w, r); err != nil {
			h.writeError(w, r, err)
		}
	}
}

// handleListTodos processes GET /todos.
func (h *Handler) handleListTodos(w http.ResponseWriter, r *http.Request) error {
	query := map[string]any{}
	if q := r.URL.Query(); q.Has("date") {
		query["date"] = q.Get("date")
	}
	var opts store.ListOptions
	if err := validate.DateQuery.Decode(query, &opts); err != nil {
		return err
	}

	todos, err := h.store.ListTodos(r.Context(), opts)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, todos)
	return nil
}

// handleGetTodo processes GET /todos/{id}.
func (h *Handler) handleGetTodo(w http.ResponseWriter, r *http.Request) error {
	id, err := pathID(r)
	if err != nil {
		return err
	}
	todo, err := h.store.GetTodo(r.Context(), id)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, todo)
	return nil
}

// handleCreateTodo processes POST /todos.
func (h *Handler) handleCreateTodo(w http.ResponseWriter, r *http.Request) error {
	var req model.CreateTodoRequest
	if err := decodeBody(w, r, validate.CreateTodo, &req); err != nil {
		return err
	}
	todo, err := h.store.CreateTodo(r.Context(), req)
	if err != nil {
		return err
	}
	w.Header().Set("Location", fmt.Sprintf("/todos/%d", todo.ID))
	writeJSON(w, http.StatusCreated, todo)
	return nil
}

// handleUpdateTodo processes PUT /todos/{id}.
func (h *Handler) handleUpdateTodo(w http.ResponseWriter, r *http.Request) error {
	id, err := pathID(r)
	if err != nil {
		return err
	}
	var req model.UpdateTodoRequest
	if err := decodeBody(w, r, validate.UpdateTodo, &req); err != nil {
		return err
	}
	todo, err := h.store.UpdateTodo(r.Context(), id, req)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, todo)
	return nil
}

// handleDeleteTodo processes DELETE /todos/{id}.
func (h *Handler) handleDeleteTodo(w http.ResponseWriter, r *http.Request) error {
	id, err := pathID(r)
	if err != nil {
		return err
	}
	if err := h.store.DeleteTodo(r.Context(), id); err != nil {
		return err
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}

// handleToggleTodo processes PATCH /todos/{id}/complete.
func (h *Handler) handleToggleTodo(w http.ResponseWriter, r *http.Request) error {
	id, err := pathID(r)
	if err != nil {
		return err
	}
	todo, err := h.store.ToggleTodo(r.Context(), id)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, todo)
	return nil
}

// handleReorderTodos processes PATCH /todos/reorder.
func (h *Handler) handleReorderTodos(w http.ResponseWriter, r *http.Request) error {
	var req model.ReorderRequest
	if err := decodeBody(w, r, validate.ReorderTodos, &req); err != nil {
		return err
	}
	if err := h.store.ReorderTodos(r.Context(), req.Todos); err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Todos reordered successfully"})
	return nil
}

// handleMoveTodo processes PATCH /todos/{id}/date.
func (h *Handler) handleMoveTodo(w http.ResponseWriter, r *http.Request) error {
	id, err := pathID(r)
	if err != nil {
		return err
	}
	var req model.MoveTodoRequest
	if err := decodeBody(w, r, validate.MoveTodo, &req); err != nil {
		return err
	}
	todo, err := h.store.MoveTodo(r.Context(), id, req)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, todo)
	return nil
}

// handleListSubtasks processes GET /todos/{id}/subtasks.
func (h *Handler) handleListSubtasks(w http.ResponseWriter, r *http.Request) error {
	id, err := pathID(r)
	if err != nil {
		return err
	}
	subtasks, err := h.store.ListSubtasks(r.Context(), id)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, subtasks)
	return nil
}

// handleCreateSubtask processes POST /todos/{id}/subtasks.
func (h *Handler) handleCreateSubtask(w http.ResponseWriter, r *http.Request) error {
	id, err := pathID(r)
	if err != nil {
		return err
	}
	var req model.CreateSubtaskRequest
	if err := decodeBody(w, r, validate.CreateSubtask, &req); err != nil {
		return err
	}
	subtask, err := h.store.CreateSubtask(r.Context(), id, req)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusCreated, subtask)
	return nil
}

// handleUpdateSubtask processes PUT /subtasks/{id}.
func (h *Handler) handleUpdateSubtask(w http.ResponseWriter, r *http.Request) error {
	id, err := pathID(r)
	if err != nil {
		return err
	}
	var req model.UpdateSubtaskRequest
	if err := decodeBody(w, r, validate.UpdateSubtask, &req); err != nil {
		return err
	}
	subtask, err := h.store.UpdateSubtask(r.Context(), id, req)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, subtask)
	return nil
}

// handleDeleteSubtask processes DELETE /subtasks/{id}.
func (h *Handler) handleDeleteSubtask(w http.ResponseWriter, r *http.Request) error {
	id, err := pathID(r)
	if err != nil {
		return err
	}
	if err := h.store.DeleteSubtask(r.Context(), id); err != nil {
		return err
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}

// handleToggleSubtask processes PATCH /subtasks/{id}/complete.
func (h *Handler) handleToggleSubtask(w http.ResponseWriter, r *http.Request) error {
	id, err := pathID(r)
	if err != nil {
		return err
	}
	subtask, err := h.store.ToggleSubtask(r.Context(), id)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, subtask)
	return nil
}

// handleNotFound answers every request no other route matched.
func (h *Handler) handleNotFound(w http.ResponseWriter, r *http.Request) error {
	return &routeNotFoundError{method: r.Method, path: r.URL.Path}
}

func pathID(r *http.Request) (int64, error) {
	return validate.ParseID(r.PathValue("id"))
}

// decodeBody reads a single JSON value from the body and validates it
// against schema. An empty body is treated as an empty object.
func decodeBody(w http.ResponseWriter, r *http.Request, schema *validate.Schema, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()

	var payload any
	if err := dec.Decode(&payload); err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.Is(err, io.EOF):
			payload = map[string]any{}
		case errors.As(err, &tooLarge):
			return &badRequestError{
				status: http.StatusRequestEntityTooLarge,
				msg:    fmt.Sprintf("request body must not exceed %d bytes", tooLarge.Limit),
			}
		default:
			return &badRequestError{status: http.StatusBadRequest, msg: fmt.Sprintf("invalid request payload: %v", err)}
		}
	} else if err := ensureSingleJSON(dec); err != nil {
		return err
	}
	return schema.Decode(payload, dst)
}

// ensureSingleJSON ensures only a single JSON value is in the request body.
func ensureSingleJSON(dec *json.Decoder) error {
	if t, err := dec.Token(); err != io.EOF || t != nil {
		return &badRequestError{status: http.StatusBadRequest, msg: "request body must only contain a single JSON value"}
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
