package queue_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"queueflow/internal/queue"
	"queueflow/internal/testsupport"
)

func TestCompleteIsGuarded(t *testing.T) {
	store, clock := newTestStore(t)
	ctx := context.Background()
	q := testsupport.NewQueue(t, store, 1, "complete", 1)
	enqueueChat(t, store, q.ID, 1, 1)

	if _, err := store.CompleteItem(ctx, queue.ItemChat, 1); !errors.Is(err, queue.ErrNotInProgress) {
		t.Fatalf("expected ErrNotInProgress before claim, got %v", err)
	}

	mustClaim(t, store, q.ID, "agent")
	clock.Advance(2 * time.Second)

	done, err := store.CompleteItem(ctx, queue.ItemChat, 1)
	if err != nil {
		t.Fatalf("CompleteItem failed: %v", err)
	}
	if done.Status != queue.StatusCompleted || done.CompletedAt == nil || done.AgentID != "" {
		t.Fatalf("unexpected completed item %#v", done)
	}
	if done.ActualProcessingTimeMs == nil || *done.ActualProcessingTimeMs < 2000 {
		t.Fatalf("expected processing time of at least 2s, got %v", done.ActualProcessingTimeMs)
	}

	if _, err := store.CompleteItem(ctx, queue.ItemChat, 1); !errors.Is(err, queue.ErrNotInProgress) {
		t.Fatalf("expected ErrNotInProgress on second completion, got %v", err)
	}
	if _, err := store.CompleteItem(ctx, queue.ItemChat, 404); !errors.Is(err, queue.ErrNotInProgress) {
		t.Fatalf("expected ErrNotInProgress for unknown item, got %v", err)
	}
}

func TestFailThenRequeue(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	q := testsupport.NewQueue(t, store, 1, "fail", 1)
	enqueueChat(t, store, q.ID, 1, 1)
	mustClaim(t, store, q.ID, "agent")

	failed, err := store.FailItem(ctx, queue.ItemChat, 1, "disk full")
	if err != nil {
		t.Fatalf("FailItem failed: %v", err)
	}
	if failed.Status != queue.StatusFailed || failed.ErrorMessage != "disk full" || failed.AgentID != "" || failed.CompletedAt == nil {
		t.Fatalf("unexpected failed item %#v", failed)
	}
	if _, err := store.FailItem(ctx, queue.ItemChat, 1, "again"); !errors.Is(err, queue.ErrNotInProgress) {
		t.Fatalf("expected ErrNotInProgress on second failure, got %v", err)
	}

	requeued, err := store.RequeueItem(ctx, queue.ItemChat, 1)
	if err != nil {
		t.Fatalf("RequeueItem failed: %v", err)
	}
	if requeued.Status != queue.StatusQueued || requeued.ErrorMessage != "" || requeued.StartedAt != nil || requeued.CompletedAt != nil {
		t.Fatalf("requeue must clear claim state: %#v", requeued)
	}

	again := mustClaim(t, store, q.ID, "agent")
	if again.Attempts != 2 {
		t.Fatalf("expected attempts=2 after retry, got %d", again.Attempts)
	}
}

func TestRequeueAndCancelTransitions(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	q := testsupport.NewQueue(t, store, 1, "transitions", 2)
	enqueueChat(t, store, q.ID, 1, 1)
	enqueueChat(t, store, q.ID, 2, 2)

	if _, err := store.RequeueItem(ctx, queue.ItemChat, 1); !errors.Is(err, queue.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition requeueing a queued item, got %v", err)
	}

	cancelled, err := store.CancelItem(ctx, queue.ItemChat, 2)
	if err != nil {
		t.Fatalf("CancelItem failed: %v", err)
	}
	if cancelled.Status != queue.StatusCancelled || cancelled.CompletedAt == nil {
		t.Fatalf("unexpected cancelled item %#v", cancelled)
	}

	mustClaim(t, store, q.ID, "agent")
	if _, err := store.CancelItem(ctx, queue.ItemChat, 1); !errors.Is(err, queue.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition cancelling a claimed item, got %v", err)
	}

	if _, err := store.RequeueItem(ctx, queue.ItemChat, 2); err != nil {
		t.Fatalf("RequeueItem of cancelled item failed: %v", err)
	}
	if _, err := store.RequeueItem(ctx, queue.ItemChat, 404); !errors.Is(err, queue.ErrInvalidReference) {
		t.Fatalf("expected ErrInvalidReference for unknown item, got %v", err)
	}
}

func TestRetryFailedAndResetQueue(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	q := testsupport.NewQueue(t, store, 1, "bulk", 3)
	for i := int64(1); i <= 4; i++ {
		enqueueChat(t, store, q.ID, i, int(i))
	}
	for i := 0; i < 3; i++ {
		item := mustClaim(t, store, q.ID, "agent")
		if i < 2 {
			if _, err := store.FailItem(ctx, item.ItemType, item.ItemID, "nope"); err != nil {
				t.Fatalf("FailItem failed: %v", err)
			}
		}
	}

	retried, err := store.RetryFailed(ctx, q.ID)
	if err != nil {
		t.Fatalf("RetryFailed failed: %v", err)
	}
	if retried != 2 {
		t.Fatalf("expected 2 retried, got %d", retried)
	}

	removed, err := store.ResetQueue(ctx, q.ID)
	if err != nil {
		t.Fatalf("ResetQueue failed: %v", err)
	}
	if removed != 3 {
		t.Fatalf("expected 3 removed (claimed item kept), got %d", removed)
	}
	left, _ := store.ListItems(ctx, queue.ItemFilter{QueueID: q.ID})
	if len(left) != 1 || left[0].Status != queue.StatusInProgress {
		t.Fatalf("expected only the claimed item to remain, got %#v", left)
	}
	if _, err := store.ResetQueue(ctx, 9999); !errors.Is(err, queue.ErrQueueNotFound) {
		t.Fatalf("expected ErrQueueNotFound, got %v", err)
	}
}
