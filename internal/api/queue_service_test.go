package api_test

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"queueflow/internal/api"
	"queueflow/internal/queue"
	"queueflow/internal/testsupport"
)

type recordingObserver struct {
	dispatches []string
	queueIDs   []int64
	cleanups   []api.CleanupResponse
	stats      [][]api.QueueStats
}

func (o *recordingObserver) ObserveDispatch(queueID int64, outcome string) {
	o.dispatches = append(o.dispatches, outcome)
	o.queueIDs = append(o.queueIDs, queueID)
}

func (o *recordingObserver) ObserveCleanup(result api.CleanupResponse) {
	o.cleanups = append(o.cleanups, result)
}

func (o *recordingObserver) ObserveStats(stats []api.QueueStats) {
	o.stats = append(o.stats, stats)
}

func newService(t *testing.T) (*api.QueueService, *recordingObserver) {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	observer := &recordingObserver{}
	svc := api.NewQueueService(store,
		api.WithDefaults(api.DefaultsFromConfig(cfg)),
		api.WithObserver(observer),
	)
	return svc, observer
}

func TestQueueServiceAppliesDefaults(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	q, err := svc.CreateQueue(ctx, api.CreateQueueRequest{ProjectID: 3, Name: "default"})
	require.NoError(t, err)
	assert.Equal(t, 1, q.MaxParallelItems)
	assert.True(t, q.IsActive)
	assert.NotEmpty(t, q.CreatedAt)

	item, err := svc.Enqueue(ctx, api.EnqueueItemRequest{ItemType: "chat", ItemID: 9, QueueID: q.ID})
	require.NoError(t, err)
	assert.Equal(t, 5, item.Priority, "configured default priority")
	assert.Equal(t, "queued", item.Status)
	require.NotNil(t, item.QueueID)
	assert.Equal(t, q.ID, *item.QueueID)
}

func TestQueueServiceDispatchLifecycle(t *testing.T) {
	svc, observer := newService(t)
	ctx := context.Background()

	q, err := svc.CreateQueue(ctx, api.CreateQueueRequest{ProjectID: 1, Name: "work", MaxParallelItems: 1})
	require.NoError(t, err)
	ticket, err := svc.CreateTicket(ctx, api.CreateTicketRequest{ProjectID: 1, Title: "Ship", Tasks: []string{"build", "test"}})
	require.NoError(t, err)
	require.Len(t, ticket.Tasks, 2)

	priority := 2
	cascade, err := svc.EnqueueTicketWithAllTasks(ctx, q.ID, ticket.ID, &priority)
	require.NoError(t, err)
	assert.Equal(t, 2, cascade.Ticket.Priority)
	require.Len(t, cascade.Tasks, 2)

	next, err := svc.Next(ctx, q.ID, "agent-1")
	require.NoError(t, err)
	assert.Equal(t, "ticket", next.Type)
	require.NotNil(t, next.Item)
	assert.Equal(t, "agent-1", next.Item.AgentID)

	blocked, err := svc.Next(ctx, q.ID, "agent-2")
	require.NoError(t, err)
	assert.Equal(t, api.DispatchNone, blocked.Type)
	assert.Equal(t, string(queue.ReasonParallelLimitReached), blocked.Reason)
	assert.Nil(t, blocked.Item)
	assert.NotEmpty(t, blocked.Message)

	done, err := svc.Complete(ctx, "ticket", ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, "completed", done.Status)

	described, err := svc.DescribeTicket(ctx, ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, "completed", described.QueueStatus)
	assert.Equal(t, "queued", described.Tasks[0].QueueStatus)

	assert.Equal(t, []string{"claimed", "parallel-limit-reached"}, observer.dispatches)

	_, err = svc.Complete(ctx, "ticket", ticket.ID)
	assert.Equal(t, http.StatusConflict, api.StatusCode(err))
	_, err = svc.Complete(ctx, "epic", 1)
	assert.Equal(t, http.StatusBadRequest, api.StatusCode(err))
}

func TestQueueServiceCleanupUsesDefaultsAndOverrides(t *testing.T) {
	svc, observer := newService(t)
	ctx := context.Background()

	q, err := svc.CreateQueue(ctx, api.CreateQueueRequest{Name: "cleanup", MaxParallelItems: 1})
	require.NoError(t, err)
	_, err = svc.Enqueue(ctx, api.EnqueueItemRequest{ItemType: "prompt", ItemID: 1, QueueID: q.ID})
	require.NoError(t, err)
	_, err = svc.Next(ctx, q.ID, "agent")
	require.NoError(t, err)
	_, err = svc.Complete(ctx, "prompt", 1)
	require.NoError(t, err)

	result, err := svc.Cleanup(ctx, api.CleanupRequest{})
	require.NoError(t, err)
	assert.Zero(t, result.OldCompletedItemsRemoved, "default max age keeps fresh items")
	assert.NotNil(t, result.Errors)

	time.Sleep(5 * time.Millisecond)
	maxAge := int64(1)
	result, err = svc.Cleanup(ctx, api.CleanupRequest{MaxAgeMs: &maxAge})
	require.NoError(t, err)
	assert.Equal(t, int64(1), result.OldCompletedItemsRemoved)
	assert.Equal(t, int64(1), result.TotalRemoved)
	require.Len(t, observer.cleanups, 2)

	invalid := int64(0)
	_, err = svc.Cleanup(ctx, api.CleanupRequest{MaxAgeMs: &invalid})
	assert.Equal(t, http.StatusBadRequest, api.StatusCode(err))
}

func TestQueueServiceRefreshStatsNotifiesObserver(t *testing.T) {
	svc, observer := newService(t)
	ctx := context.Background()

	q, err := svc.CreateQueue(ctx, api.CreateQueueRequest{Name: "stats", MaxParallelItems: 2})
	require.NoError(t, err)
	_, err = svc.BatchEnqueue(ctx, []api.EnqueueItemRequest{
		{ItemType: "chat", ItemID: 1, QueueID: q.ID},
		{ItemType: "chat", ItemID: 2, QueueID: q.ID},
	})
	require.NoError(t, err)

	stats, err := svc.RefreshStats(ctx)
	require.NoError(t, err)
	require.Len(t, stats, 1)
	assert.Equal(t, 2, stats[0].Queued)
	require.Len(t, observer.stats, 1)

	counts, err := svc.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, counts["queued"])
	assert.Contains(t, counts, "cancelled")

	_, err = svc.BatchEnqueue(ctx, nil)
	assert.Equal(t, http.StatusBadRequest, api.StatusCode(err))
}

func TestQueueServiceListItemsValidatesFilters(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	_, err := svc.ListItems(ctx, api.ItemQuery{Status: "sleeping"})
	assert.Equal(t, http.StatusBadRequest, api.StatusCode(err))

	items, err := svc.ListItems(ctx, api.ItemQuery{Status: "queued", ItemType: "task"})
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestQueueServiceHealthAndDatabase(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	health, err := svc.Health(ctx, 0)
	require.NoError(t, err)
	assert.True(t, health.Healthy)
	assert.NotNil(t, health.Issues)

	db, err := svc.CheckDatabase(ctx)
	require.NoError(t, err)
	assert.True(t, db.IntegrityCheck)
	assert.Empty(t, db.MissingTables)
}

func TestQueueServiceNextReportsUnknownQueueAsZero(t *testing.T) {
	svc, observer := newService(t)
	ctx := context.Background()

	q, err := svc.CreateQueue(ctx, api.CreateQueueRequest{ProjectID: 1, Name: "known"})
	require.NoError(t, err)
	_, err = svc.Next(ctx, q.ID, "agent")
	require.NoError(t, err)

	for _, missing := range []int64{4040, 4041, 4042} {
		_, err = svc.Next(ctx, missing, "agent")
		assert.Equal(t, http.StatusNotFound, api.StatusCode(err))
	}

	assert.Equal(t, []string{"empty", "error", "error", "error"}, observer.dispatches)
	assert.Equal(t, []int64{q.ID, 0, 0, 0}, observer.queueIDs)
}
