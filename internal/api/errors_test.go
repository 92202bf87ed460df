package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"queueflow/internal/queue"
)

func TestStatusCodeClassifiesSentinels(t *testing.T) {
	cases := []struct {
		err  error
		code int
		name string
	}{
		{nil, http.StatusOK, ""},
		{fmt.Errorf("wrap: %w", queue.ErrQueueNotFound), http.StatusNotFound, "queue_not_found"},
		{queue.ErrInvalidReference, http.StatusNotFound, "invalid_reference"},
		{queue.ErrInvalidInput, http.StatusBadRequest, "invalid_input"},
		{queue.ErrNotInProgress, http.StatusConflict, "not_in_progress"},
		{queue.ErrItemInProgress, http.StatusConflict, "item_in_progress"},
		{queue.ErrInvalidTransition, http.StatusConflict, "invalid_transition"},
		{fmt.Errorf("%w: commit: %w", queue.ErrPersistence, errors.New("disk I/O")), http.StatusServiceUnavailable, "persistence_error"},
		{context.DeadlineExceeded, http.StatusServiceUnavailable, "persistence_error"},
		{ErrUnauthorized, http.StatusUnauthorized, "unauthorized"},
		{ErrRateLimited, http.StatusTooManyRequests, "rate_limited"},
		{errors.New("surprise"), http.StatusInternalServerError, "internal_error"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.code, StatusCode(tc.err), "%v", tc.err)
		assert.Equal(t, tc.name, ErrorCode(tc.err), "%v", tc.err)
	}
}

func TestNewErrorResponse(t *testing.T) {
	resp := NewErrorResponse(fmt.Errorf("%w: queue 4", queue.ErrQueueNotFound))
	assert.Equal(t, "queue not found: queue 4", resp.Error)
	assert.Equal(t, "queue_not_found", resp.Code)
	assert.Equal(t, ErrorResponse{}, NewErrorResponse(nil))
}
