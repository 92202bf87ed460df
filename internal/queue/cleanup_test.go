package queue_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"queueflow/internal/queue"
	"queueflow/internal/testsupport"
)

func TestCleanupRemovesOrphansOnly(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	gone := testsupport.NewQueue(t, store, 1, "gone", 1)
	kept := testsupport.NewQueue(t, store, 1, "kept", 1)
	for i := int64(1); i <= 5; i++ {
		enqueueChat(t, store, gone.ID, i, 1)
	}
	enqueueChat(t, store, kept.ID, 100, 1)
	enqueueChat(t, store, kept.ID, 101, 1)

	if err := queue.DropQueueRowForTests(ctx, store, gone.ID); err != nil {
		t.Fatalf("DropQueueRowForTests failed: %v", err)
	}

	result, err := store.Cleanup(ctx, queue.CleanupOptions{})
	if err != nil {
		t.Fatalf("Cleanup failed: %v", err)
	}
	if result.OrphanedItemsRemoved != 5 {
		t.Fatalf("expected 5 orphans removed, got %d", result.OrphanedItemsRemoved)
	}
	if result.TotalRemoved != 5 || len(result.Errors) != 0 {
		t.Fatalf("unexpected cleanup result %#v", result)
	}
	items, err := store.ListItems(ctx, queue.ItemFilter{QueueID: kept.ID})
	if err != nil {
		t.Fatalf("ListItems failed: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected untouched queue to keep 2 items, got %d", len(items))
	}

	again, err := store.Cleanup(ctx, queue.CleanupOptions{})
	if err != nil {
		t.Fatalf("second Cleanup failed: %v", err)
	}
	if again.TotalRemoved != 0 {
		t.Fatalf("expected idempotent cleanup, removed %d", again.TotalRemoved)
	}
}

func TestCleanupExpiresTerminalItems(t *testing.T) {
	store, clock := newTestStore(t)
	ctx := context.Background()
	q := testsupport.NewQueue(t, store, 1, "expiry", 2)
	enqueueChat(t, store, q.ID, 1, 1)
	enqueueChat(t, store, q.ID, 2, 2)
	done := mustClaim(t, store, q.ID, "agent")
	if _, err := store.CompleteItem(ctx, done.ItemType, done.ItemID); err != nil {
		t.Fatalf("CompleteItem failed: %v", err)
	}

	fresh, err := store.Cleanup(ctx, queue.CleanupOptions{})
	if err != nil {
		t.Fatalf("Cleanup failed: %v", err)
	}
	if fresh.OldCompletedItemsRemoved != 0 {
		t.Fatalf("recently completed item must survive, removed %d", fresh.OldCompletedItemsRemoved)
	}

	clock.Advance(8 * 24 * time.Hour)
	result, err := store.Cleanup(ctx, queue.CleanupOptions{})
	if err != nil {
		t.Fatalf("Cleanup failed: %v", err)
	}
	if result.OldCompletedItemsRemoved != 1 {
		t.Fatalf("expected 1 expired item, got %d", result.OldCompletedItemsRemoved)
	}
	left, _ := store.ListItems(ctx, queue.ItemFilter{QueueID: q.ID})
	if len(left) != 1 || left[0].Status != queue.StatusQueued {
		t.Fatalf("expected the queued item to remain, got %#v", left)
	}
}

func TestCleanupExpiryScopedToProject(t *testing.T) {
	store, clock := newTestStore(t)
	ctx := context.Background()
	mine := testsupport.NewQueue(t, store, 1, "mine", 1)
	theirs := testsupport.NewQueue(t, store, 2, "theirs", 1)
	for _, q := range []*queue.Queue{mine, theirs} {
		enqueueChat(t, store, q.ID, q.ID*10, 1)
		item := mustClaim(t, store, q.ID, "agent")
		if _, err := store.CancelItem(ctx, item.ItemType, item.ItemID); !errors.Is(err, queue.ErrInvalidTransition) {
			t.Fatalf("expected ErrInvalidTransition, got %v", err)
		}
		if _, err := store.FailItem(ctx, item.ItemType, item.ItemID, "x"); err != nil {
			t.Fatalf("FailItem failed: %v", err)
		}
	}

	clock.Advance(2 * time.Hour)
	result, err := store.Cleanup(ctx, queue.CleanupOptions{ProjectID: 1, MaxAge: time.Hour})
	if err != nil {
		t.Fatalf("Cleanup failed: %v", err)
	}
	if result.OldCompletedItemsRemoved != 1 {
		t.Fatalf("expected only project 1 item expired, got %d", result.OldCompletedItemsRemoved)
	}
	remaining, _ := store.ListItems(ctx, queue.ItemFilter{QueueID: theirs.ID})
	if len(remaining) != 1 {
		t.Fatalf("other project's item must survive, got %d", len(remaining))
	}
}

func TestCleanupRemovesDanglingOwners(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	q := testsupport.NewQueue(t, store, 1, "owners", 5)
	ticket, tasks := testsupport.NewTicket(t, store, 1, "Parent", 2)
	other, _ := testsupport.NewTicket(t, store, 1, "Other", 0)
	if _, err := store.EnqueueTicketWithAllTasks(ctx, q.ID, ticket.ID, 1); err != nil {
		t.Fatalf("EnqueueTicketWithAllTasks failed: %v", err)
	}
	if _, err := store.EnqueueTicket(ctx, other.ID, q.ID, 1); err != nil {
		t.Fatalf("EnqueueTicket failed: %v", err)
	}

	if deleted, err := store.DeleteTask(ctx, tasks[0].ID); err != nil || !deleted {
		t.Fatalf("DeleteTask = %v, %v", deleted, err)
	}
	if deleted, err := store.DeleteTicket(ctx, other.ID); err != nil || !deleted {
		t.Fatalf("DeleteTicket = %v, %v", deleted, err)
	}

	result, err := store.Cleanup(ctx, queue.CleanupOptions{})
	if err != nil {
		t.Fatalf("Cleanup failed: %v", err)
	}
	if result.InvalidTasksRemoved != 1 || result.InvalidTicketsRemoved != 1 {
		t.Fatalf("unexpected dangling counts %#v", result)
	}
	if result.TotalRemoved != 2 {
		t.Fatalf("expected total 2, got %d", result.TotalRemoved)
	}
	items, _ := store.ListItems(ctx, queue.ItemFilter{QueueID: q.ID})
	if len(items) != 2 {
		t.Fatalf("expected ticket and remaining task items, got %d", len(items))
	}
}

func failTimes(t *testing.T, store *queue.Store, queueID, itemID int64, times int) {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < times; i++ {
		if i > 0 {
			if _, err := store.RequeueItem(ctx, queue.ItemChat, itemID); err != nil {
				t.Fatalf("RequeueItem failed: %v", err)
			}
		}
		item := mustClaim(t, store, queueID, "agent")
		if item.ItemID != itemID {
			t.Fatalf("claimed item %d, want %d", item.ItemID, itemID)
		}
		if _, err := store.FailItem(ctx, queue.ItemChat, itemID, "attempt failed"); err != nil {
			t.Fatalf("FailItem failed: %v", err)
		}
	}
}

func TestDeadLetterAfterAttempts(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	q := testsupport.NewQueue(t, store, 1, "dlq", 1)
	enqueueChat(t, store, q.ID, 1, 1)
	failTimes(t, store, q.ID, 1, 3)
	enqueueChat(t, store, q.ID, 2, 1)
	failTimes(t, store, q.ID, 2, 1)

	result, err := store.Cleanup(ctx, queue.CleanupOptions{DeadLetterAfterAttempts: 3})
	if err != nil {
		t.Fatalf("Cleanup failed: %v", err)
	}
	if result.DeadLettered != 1 {
		t.Fatalf("expected 1 dead-lettered item, got %d", result.DeadLettered)
	}
	letters, err := store.ListDeadLetters(ctx, q.ID)
	if err != nil {
		t.Fatalf("ListDeadLetters failed: %v", err)
	}
	if len(letters) != 1 {
		t.Fatalf("expected 1 dead letter, got %d", len(letters))
	}
	if letters[0].ItemID != 1 || letters[0].Attempts != 3 || letters[0].ErrorMessage != "attempt failed" {
		t.Fatalf("unexpected dead letter %#v", letters[0])
	}
	if letters[0].Reason != "exhausted 3 attempts" || letters[0].FailedAt == nil {
		t.Fatalf("unexpected dead letter reason %#v", letters[0])
	}
	if item, _ := store.GetItem(ctx, queue.ItemChat, 1); item != nil {
		t.Fatalf("dead-lettered item must leave the active set, found %#v", item)
	}

	moved, err := store.MoveFailedToDeadLetter(ctx, q.ID)
	if err != nil {
		t.Fatalf("MoveFailedToDeadLetter failed: %v", err)
	}
	if moved != 1 {
		t.Fatalf("expected 1 moved, got %d", moved)
	}
	letters, _ = store.ListDeadLetters(ctx, 0)
	if len(letters) != 2 || letters[0].ItemID != 2 || letters[0].Reason != "moved by operator" {
		t.Fatalf("expected newest dead letter first, got %#v", letters)
	}
	if _, err := store.MoveFailedToDeadLetter(ctx, 9999); !errors.Is(err, queue.ErrQueueNotFound) {
		t.Fatalf("expected ErrQueueNotFound, got %v", err)
	}
}

func TestQueueStatsSnapshots(t *testing.T) {
	store, clock := newTestStore(t)
	ctx := context.Background()
	q := testsupport.NewQueue(t, store, 1, "stats", 2)
	empty := testsupport.NewQueue(t, store, 1, "empty", 1)
	enqueueChat(t, store, q.ID, 1, 1)
	enqueueChat(t, store, q.ID, 2, 2)
	enqueueChat(t, store, q.ID, 3, 3)

	item := mustClaim(t, store, q.ID, "agent")
	clock.Advance(time.Second)
	if _, err := store.CompleteItem(ctx, item.ItemType, item.ItemID); err != nil {
		t.Fatalf("CompleteItem failed: %v", err)
	}
	mustClaim(t, store, q.ID, "agent")

	stats, err := store.QueueStats(ctx, q.ID)
	if err != nil {
		t.Fatalf("QueueStats failed: %v", err)
	}
	if stats.Queued != 1 || stats.InProgress != 1 || stats.Completed != 1 || stats.Total != 3 {
		t.Fatalf("unexpected stats %#v", stats)
	}
	if stats.AvgProcessingMs < 1000 {
		t.Fatalf("expected average processing time of at least 1s, got %f", stats.AvgProcessingMs)
	}
	if stats.RefreshedAt.IsZero() {
		t.Fatal("expected refreshed timestamp")
	}

	all, err := store.RefreshStats(ctx)
	if err != nil {
		t.Fatalf("RefreshStats failed: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected a snapshot per queue, got %d", len(all))
	}
	for _, snapshot := range all {
		if snapshot.QueueID == empty.ID && snapshot.Total != 0 {
			t.Fatalf("expected empty queue snapshot, got %#v", snapshot)
		}
	}

	if _, err := store.QueueStats(ctx, 9999); !errors.Is(err, queue.ErrQueueNotFound) {
		t.Fatalf("expected ErrQueueNotFound, got %v", err)
	}
}
