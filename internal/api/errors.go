package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"todocrud/internal/store"
	"todocrud/internal/validate"
)

// errorResponse is the JSON body of every failed request.
type errorResponse struct {
	Error   string                `json:"error"`
	Message string                `json:"message,omitempty"`
	Details []validate.FieldError `json:"details,omitempty"`
}

// badRequestError is returned for bodies that are not a single JSON value.
type badRequestError struct {
	status int
	msg    string
}

func (e *badRequestError) Error() string { return e.msg }

// routeNotFoundError is returned for requests no route matches.
type routeNotFoundError struct {
	method string
	path   string
}

func (e *routeNotFoundError) Error() string {
	return fmt.Sprintf("route not found: %s %s", e.method, e.path)
}

// classify maps err onto a status code and client-facing body. The second
// result is false for failures that must be logged as internal errors.
func classify(err error) (int, errorResponse, bool) {
	var (
		verr     *validate.Error
		badBody  *badRequestError
		notFound *store.NotFoundError
		noRoute  *routeNotFoundError
	)
	switch {
	case errors.As(err, &verr):
		return http.StatusBadRequest, errorResponse{Error: "Validation failed", Details: verr.Fields}, true
	case errors.Is(err, validate.ErrInvalidID):
		return http.StatusBadRequest, errorResponse{Error: "Invalid ID", Message: err.Error()}, true
	case errors.As(err, &badBody):
		return badBody.status, errorResponse{Error: http.StatusText(badBody.status), Message: badBody.msg}, true
	case errors.As(err, &notFound):
		return http.StatusNotFound, errorResponse{Error: "Not Found", Message: notFound.Error()}, true
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, errorResponse{Error: "Not Found", Message: "the requested record was not found"}, true
	case errors.Is(err, store.ErrConflict):
		return http.StatusConflict, errorResponse{Error: "Conflict", Message: "the record already exists"}, true
	case errors.Is(err, store.ErrForeignKey):
		return http.StatusBadRequest, errorResponse{Error: "Foreign Key Constraint", Message: "the referenced record does not exist"}, true
	case errors.As(err, &noRoute):
		return http.StatusNotFound, errorResponse{Error: "Not Found", Message: noRoute.Error()}, true
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, errorResponse{Error: "Service Unavailable", Message: "request timed out"}, false
	}
	return http.StatusInternalServerError, errorResponse{Error: "Internal Server Error", Message: "something went wrong"}, false
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, body, expected := classify(err)
	if !expected {
		h.logger.Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"request_id", RequestID(r.Context()),
			"status", status,
			"err", err,
		)
	}
	writeJSON(w, status, body)
}
