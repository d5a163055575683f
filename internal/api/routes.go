package api

import (
	"net/http"
	"time"

	"todocrud/internal/config"
)

// Options configures the middleware around the routes.
type Options struct {
	CORS           config.CORS
	RequestTimeout time.Duration
}

// Routes registers every endpoint. Paths without a route, and methods a
// path does not support, get a JSON 404.
func (h *Handler) Routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", h.wrap(h.handleHealth))

	mux.HandleFunc("GET /todos", h.wrap(h.handleListTodos))
	mux.HandleFunc("POST /todos", h.wrap(h.handleCreateTodo))
	mux.HandleFunc("PATCH /todos/reorder", h.wrap(h.handleReorderTodos))
	mux.HandleFunc("GET /todos/{id}", h.wrap(h.handleGetTodo))
	mux.HandleFunc("PUT /todos/{id}", h.wrap(h.handleUpdateTodo))
	mux.HandleFunc("DELETE /todos/{id}", h.wrap(h.handleDeleteTodo))
	mux.HandleFunc("PATCH /todos/{id}/complete", h.wrap(h.handleToggleTodo))
	mux.HandleFunc("PATCH /todos/{id}/date", h.wrap(h.handleMoveTodo))
	mux.HandleFunc("GET /todos/{id}/subtasks", h.wrap(h.handleListSubtasks))
	mux.HandleFunc("POST /todos/{id}/subtasks", h.wrap(h.handleCreateSubtask))

	mux.HandleFunc("PUT /subtasks/{id}", h.wrap(h.handleUpdateSubtask))
	mux.HandleFunc("DELETE /subtasks/{id}", h.wrap(h.handleDeleteSubtask))
	mux.HandleFunc("PATCH /subtasks/{id}/complete", h.wrap(h.handleToggleSubtask))

	mux.HandleFunc("/", h.wrap(h.handleNotFound))
	return mux
}

// Server returns the routes wrapped in the middleware chain.
func (h *Handler) Server(opts Options) http.Handler {
	var handler http.Handler = h.Routes()
	handler = timeoutMiddleware(opts.RequestTimeout)(handler)
	handler = corsMiddleware(opts.CORS)(handler)
	handler = recoverMiddleware(h.logger)(handler)
	handler = loggingMiddleware(h.logger)(handler)
	return requestIDMiddleware(handler)
}
