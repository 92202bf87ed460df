package api

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"queueflow/internal/queue"
)

func TestFromWorkItemFormatsTimestamps(t *testing.T) {
	queued := time.Date(2024, 5, 1, 9, 0, 0, 123456789, time.UTC)
	queueID := int64(4)
	dto := FromWorkItem(&queue.WorkItem{
		ID:       1,
		ItemType: queue.ItemTask,
		ItemID:   8,
		QueueID:  &queueID,
		Status:   queue.StatusQueued,
		QueuedAt: &queued,
	})
	assert.Equal(t, "task", dto.ItemType)
	assert.Equal(t, "2024-05-01T09:00:00.123Z", dto.QueuedAt)
	assert.Empty(t, dto.StartedAt)
	assert.Empty(t, dto.UpdatedAt)
	require.NotNil(t, dto.QueueID)
	assert.Equal(t, int64(4), *dto.QueueID)
}

func TestFromDispatchResult(t *testing.T) {
	claimed := FromDispatchResult(queue.DispatchResult{Item: &queue.WorkItem{ItemType: queue.ItemTicket, ItemID: 2}})
	assert.Equal(t, "ticket", claimed.Type)
	require.NotNil(t, claimed.Item)
	assert.Empty(t, claimed.Reason)

	none := FromDispatchResult(queue.DispatchResult{Reason: queue.ReasonPaused})
	assert.Equal(t, DispatchNone, none.Type)
	assert.Equal(t, "paused", none.Reason)
	assert.Equal(t, "queue is paused", none.Message)
	assert.Nil(t, none.Item)
}

func TestMergeQueueStatsIncludesEveryStatus(t *testing.T) {
	merged := MergeQueueStats(map[queue.Status]int{queue.StatusFailed: 2})
	assert.Len(t, merged, len(queue.AllStatuses()))
	assert.Equal(t, 2, merged["failed"])
	assert.Equal(t, 0, merged["queued"])
}

func TestFromCleanupResultNeverNilErrors(t *testing.T) {
	resp := FromCleanupResult(queue.CleanupResult{OrphanedItemsRemoved: 3, TotalRemoved: 3})
	assert.NotNil(t, resp.Errors)
	assert.Equal(t, int64(3), resp.TotalRemoved)
}

func TestSortWorkItemsNewestFirst(t *testing.T) {
	items := []WorkItem{
		{ID: 1, UpdatedAt: "2024-05-01T09:00:00.000Z"},
		{ID: 2, UpdatedAt: "2024-05-01T10:00:00.000Z"},
		{ID: 3, UpdatedAt: "2024-05-01T10:00:00.000Z"},
	}
	sorted := SortWorkItemsNewestFirst(items)
	assert.Equal(t, []int64{3, 2, 1}, []int64{sorted[0].ID, sorted[1].ID, sorted[2].ID})
	assert.Nil(t, SortWorkItemsNewestFirst(nil))
}
