package api

import (
	"context"
	"errors"
	"net/http"

	"queueflow/internal/queue"
)

// ErrUnauthorized is returned by transports when a request lacks valid credentials.
var ErrUnauthorized = errors.New("unauthorized")

// ErrRateLimited is returned by transports when an agent polls too fast.
var ErrRateLimited = errors.New("rate limited")

// StatusCode maps a service error to the HTTP status returned to callers.
func StatusCode(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, queue.ErrQueueNotFound), errors.Is(err, queue.ErrInvalidReference):
		return http.StatusNotFound
	case errors.Is(err, queue.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, queue.ErrNotInProgress),
		errors.Is(err, queue.ErrItemInProgress),
		errors.Is(err, queue.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, queue.ErrPersistence), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// ErrorCode returns a stable machine-readable code for err.
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, queue.ErrQueueNotFound):
		return "queue_not_found"
	case errors.Is(err, queue.ErrInvalidReference):
		return "invalid_reference"
	case errors.Is(err, queue.ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, queue.ErrNotInProgress):
		return "not_in_progress"
	case errors.Is(err, queue.ErrItemInProgress):
		return "item_in_progress"
	case errors.Is(err, queue.ErrInvalidTransition):
		return "invalid_transition"
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, queue.ErrPersistence), errors.Is(err, context.DeadlineExceeded):
		return "persistence_error"
	default:
		return "internal_error"
	}
}

// NewErrorResponse builds the error payload for err.
func NewErrorResponse(err error) ErrorResponse {
	if err == nil {
		return ErrorResponse{}
	}
	return ErrorResponse{Error: err.Error(), Code: ErrorCode(err)}
}
