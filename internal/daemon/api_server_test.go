package daemon

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"queueflow/internal/api"
	"queueflow/internal/logging"
	"queueflow/internal/testsupport"
)

func newTestDaemon(t *testing.T, opts ...testsupport.ConfigOption) *Daemon {
	t.Helper()
	cfg := testsupport.NewConfig(t, opts...)
	store := testsupport.MustOpenStore(t, cfg)
	d, err := New(cfg, store, logging.NewNop())
	require.NoError(t, err)
	return d
}

func doRequest(t *testing.T, h http.Handler, method, path string, body any, header ...string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	switch v := body.(type) {
	case nil:
	case string:
		reader = strings.NewReader(v)
	default:
		raw, err := json.Marshal(v)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decodeBody[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), "body: %s", w.Body.String())
	return out
}

func TestAPIDispatchLifecycle(t *testing.T) {
	d := newTestDaemon(t)
	h := d.api.router

	w := doRequest(t, h, http.MethodPost, "/api/queues", api.CreateQueueRequest{ProjectID: 1, Name: "build"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	q := decodeBody[api.Queue](t, w)
	assert.Equal(t, 1, q.MaxParallelItems)

	w = doRequest(t, h, http.MethodPost, "/api/tickets", api.CreateTicketRequest{
		ProjectID: 1,
		Title:     "release",
		Tasks:     []string{"compile", "package"},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	ticket := decodeBody[api.Ticket](t, w)
	require.Len(t, ticket.Tasks, 2)

	w = doRequest(t, h, http.MethodPost, fmt.Sprintf("/api/queues/%d/tickets/%d/cascade", q.ID, ticket.ID), nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	cascade := decodeBody[api.CascadeResponse](t, w)
	assert.Equal(t, "queued", cascade.Ticket.Status)
	assert.Len(t, cascade.Tasks, 2)

	next := fmt.Sprintf("/api/queues/%d/next", q.ID)
	w = doRequest(t, h, http.MethodPost, next, api.NextRequest{AgentID: "agent-1"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	dispatch := decodeBody[api.DispatchResponse](t, w)
	require.Equal(t, "ticket", dispatch.Type)
	require.NotNil(t, dispatch.Item)
	assert.Equal(t, ticket.ID, dispatch.Item.ItemID)
	assert.Equal(t, "agent-1", dispatch.Item.AgentID)

	// One slot: the second agent is turned away until the ticket finishes.
	w = doRequest(t, h, http.MethodPost, next, api.NextRequest{AgentID: "agent-2"})
	require.Equal(t, http.StatusOK, w.Code)
	dispatch = decodeBody[api.DispatchResponse](t, w)
	assert.Equal(t, api.DispatchNone, dispatch.Type)
	assert.Equal(t, "parallel-limit-reached", dispatch.Reason)

	w = doRequest(t, h, http.MethodPost, fmt.Sprintf("/api/items/ticket/%d/complete", ticket.ID), nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "completed", decodeBody[api.WorkItem](t, w).Status)

	w = doRequest(t, h, http.MethodPost, next, api.NextRequest{AgentID: "agent-2"})
	dispatch = decodeBody[api.DispatchResponse](t, w)
	require.Equal(t, "task", dispatch.Type)
	assert.Equal(t, ticket.Tasks[0].ID, dispatch.Item.ItemID)

	w = doRequest(t, h, http.MethodPost, fmt.Sprintf("/api/items/task/%d/fail", ticket.Tasks[0].ID), api.FailRequest{ErrorMessage: "compiler crashed"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	failed := decodeBody[api.WorkItem](t, w)
	assert.Equal(t, "failed", failed.Status)
	assert.Equal(t, "compiler crashed", failed.ErrorMessage)

	w = doRequest(t, h, http.MethodGet, fmt.Sprintf("/api/items?queueId=%d&status=failed", q.ID), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decodeBody[[]api.WorkItem](t, w), 1)

	w = doRequest(t, h, http.MethodPost, fmt.Sprintf("/api/queues/%d/retry-failed", q.ID), nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, int64(1), decodeBody[api.CountResponse](t, w).Count)

	w = doRequest(t, h, http.MethodGet, fmt.Sprintf("/api/queues/%d", q.ID), nil)
	require.Equal(t, http.StatusOK, w.Code)
	detail := decodeBody[api.QueueDetail](t, w)
	assert.Equal(t, 2, detail.Stats.Queued)
	assert.Equal(t, 1, detail.Stats.Completed)
}

func TestAPIPausedQueueReportsReason(t *testing.T) {
	d := newTestDaemon(t)
	h := d.api.router

	w := doRequest(t, h, http.MethodPost, "/api/queues", api.CreateQueueRequest{ProjectID: 1, Name: "ops", MaxParallelItems: 2})
	require.Equal(t, http.StatusCreated, w.Code)
	q := decodeBody[api.Queue](t, w)

	w = doRequest(t, h, http.MethodPost, fmt.Sprintf("/api/queues/%d/pause", q.ID), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.False(t, decodeBody[api.Queue](t, w).IsActive)

	w = doRequest(t, h, http.MethodPost, fmt.Sprintf("/api/queues/%d/next", q.ID), api.NextRequest{AgentID: "a"})
	require.Equal(t, http.StatusOK, w.Code)
	dispatch := decodeBody[api.DispatchResponse](t, w)
	assert.Equal(t, api.DispatchNone, dispatch.Type)
	assert.Equal(t, "paused", dispatch.Reason)
	assert.NotEmpty(t, dispatch.Message)

	w = doRequest(t, h, http.MethodPost, fmt.Sprintf("/api/queues/%d/resume", q.ID), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, decodeBody[api.Queue](t, w).IsActive)

	w = doRequest(t, h, http.MethodPost, fmt.Sprintf("/api/queues/%d/next", q.ID), api.NextRequest{AgentID: "a"})
	assert.Equal(t, "empty", decodeBody[api.DispatchResponse](t, w).Reason)
}

func TestAPIErrorMapping(t *testing.T) {
	d := newTestDaemon(t)
	h := d.api.router

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		status int
		code   string
	}{
		{"missing queue", http.MethodGet, "/api/queues/999", nil, http.StatusNotFound, "queue_not_found"},
		{"complete unclaimed", http.MethodPost, "/api/items/ticket/1/complete", nil, http.StatusConflict, "not_in_progress"},
		{"unknown item type", http.MethodPost, "/api/items/widget/1/cancel", nil, http.StatusBadRequest, "invalid_input"},
		{"malformed body", http.MethodPost, "/api/queues", "{not json", http.StatusBadRequest, "invalid_input"},
		{"unknown field", http.MethodPost, "/api/queues", `{"projectId":1,"name":"x","color":"red"}`, http.StatusBadRequest, "invalid_input"},
		{"bad query", http.MethodGet, "/api/queues?projectId=abc", nil, http.StatusBadRequest, "invalid_input"},
		{"missing agent", http.MethodPost, "/api/queues/1/next", api.NextRequest{}, http.StatusBadRequest, "invalid_input"},
		{"enqueue missing ticket", http.MethodPost, "/api/items/batch", api.BatchEnqueueRequest{
			Items: []api.EnqueueItemRequest{{ItemType: "ticket", ItemID: 42, QueueID: 1}},
		}, http.StatusNotFound, ""},
		{"non-positive retention", http.MethodPost, "/api/maintenance/cleanup", `{"maxAgeMs":0}`, http.StatusBadRequest, "invalid_input"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doRequest(t, h, tt.method, tt.path, tt.body)
			require.Equal(t, tt.status, w.Code, w.Body.String())
			resp := decodeBody[api.ErrorResponse](t, w)
			assert.NotEmpty(t, resp.Error)
			if tt.code != "" {
				assert.Equal(t, tt.code, resp.Code)
			}
		})
	}
}

func TestAPIRequiresBearerToken(t *testing.T) {
	d := newTestDaemon(t, testsupport.WithAPIToken("s3cret"))
	h := d.api.router

	w := doRequest(t, h, http.MethodGet, "/api/queues", nil)
	require.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "unauthorized", decodeBody[api.ErrorResponse](t, w).Code)

	w = doRequest(t, h, http.MethodGet, "/api/queues", nil, "Authorization", "Bearer wrong")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = doRequest(t, h, http.MethodGet, "/api/queues", nil, "Authorization", "Bearer s3cret")
	assert.Equal(t, http.StatusOK, w.Code)

	w = doRequest(t, h, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAPIRateLimitsDispatchPerAgent(t *testing.T) {
	d := newTestDaemon(t, testsupport.WithRateLimit(0.001, 1))
	h := d.api.router

	w := doRequest(t, h, http.MethodPost, "/api/queues", api.CreateQueueRequest{ProjectID: 1, Name: "ci"})
	q := decodeBody[api.Queue](t, w)
	next := fmt.Sprintf("/api/queues/%d/next", q.ID)

	w = doRequest(t, h, http.MethodPost, next, api.NextRequest{AgentID: "fast"})
	require.Equal(t, http.StatusOK, w.Code)

	w = doRequest(t, h, http.MethodPost, next, api.NextRequest{AgentID: "fast"})
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "rate_limited", decodeBody[api.ErrorResponse](t, w).Code)

	w = doRequest(t, h, http.MethodPost, next, api.NextRequest{AgentID: "other"})
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAPIRequestIDHeader(t *testing.T) {
	d := newTestDaemon(t)
	h := d.api.router

	w := doRequest(t, h, http.MethodGet, "/api/stats", nil, requestIDHeader, "req-123")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "req-123", w.Header().Get(requestIDHeader))

	w = doRequest(t, h, http.MethodGet, "/api/stats", nil)
	assert.Len(t, w.Header().Get(requestIDHeader), 36)
	counts := decodeBody[api.QueueStatsResponse](t, w).Counts
	assert.Contains(t, counts, "queued")
	assert.Contains(t, counts, "cancelled")
}

func TestAPIMaintenanceAndHealth(t *testing.T) {
	d := newTestDaemon(t)
	h := d.api.router

	w := doRequest(t, h, http.MethodPost, "/api/maintenance/cleanup", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	cleanup := decodeBody[api.CleanupResponse](t, w)
	assert.Zero(t, cleanup.TotalRemoved)
	assert.NotNil(t, cleanup.Errors)

	w = doRequest(t, h, http.MethodPost, "/api/maintenance/dead-letter", api.DeadLetterRequest{})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Zero(t, decodeBody[api.CountResponse](t, w).Count)

	w = doRequest(t, h, http.MethodGet, "/api/dead-letters", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, decodeBody[[]api.DeadLetter](t, w))

	w = doRequest(t, h, http.MethodGet, "/api/health?projectId=1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, decodeBody[api.HealthResponse](t, w).Healthy)

	w = doRequest(t, h, http.MethodGet, "/api/health/database", nil)
	require.Equal(t, http.StatusOK, w.Code)
	db := decodeBody[api.DatabaseHealth](t, w)
	assert.True(t, db.DatabaseExists)
	assert.True(t, db.IntegrityCheck)

	w = doRequest(t, h, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "queueflow_cleanup_runs_total 1")
}

func TestAPIMethodMismatch(t *testing.T) {
	d := newTestDaemon(t)
	w := doRequest(t, d.api.router, http.MethodPut, "/api/queues", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestAPIOwnerRoutes(t *testing.T) {
	d := newTestDaemon(t)
	h := d.api.router

	w := doRequest(t, h, http.MethodPost, "/api/tickets", api.CreateTicketRequest{ProjectID: 3, Title: "docs"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	ticket := decodeBody[api.Ticket](t, w)

	w = doRequest(t, h, http.MethodPost, fmt.Sprintf("/api/tickets/%d/tasks", ticket.ID), api.AddTaskRequest{Title: "outline"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	task := decodeBody[api.Task](t, w)
	assert.Equal(t, ticket.ID, task.TicketID)

	w = doRequest(t, h, http.MethodDelete, fmt.Sprintf("/api/tasks/%d", task.ID), nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, int64(1), decodeBody[api.CountResponse](t, w).Count)

	w = doRequest(t, h, http.MethodDelete, fmt.Sprintf("/api/tasks/%d", task.ID), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Zero(t, decodeBody[api.CountResponse](t, w).Count)

	w = doRequest(t, h, http.MethodDelete, fmt.Sprintf("/api/tickets/%d", ticket.ID), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, int64(1), decodeBody[api.CountResponse](t, w).Count)

	w = doRequest(t, h, http.MethodGet, fmt.Sprintf("/api/tickets/%d", ticket.ID), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
