package queue_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"queueflow/internal/queue"
	"queueflow/internal/testsupport"
)

func enqueueChat(t *testing.T, store *queue.Store, queueID, itemID int64, priority int) *queue.WorkItem {
	t.Helper()
	item, err := store.EnqueueItem(context.Background(), queue.EnqueueRequest{
		ItemType: queue.ItemChat,
		ItemID:   itemID,
		QueueID:  queueID,
		Priority: priority,
	})
	if err != nil {
		t.Fatalf("EnqueueItem(%d) failed: %v", itemID, err)
	}
	return item
}

func mustClaim(t *testing.T, store *queue.Store, queueID int64, agent string) *queue.WorkItem {
	t.Helper()
	result, err := store.GetNext(context.Background(), queueID, agent)
	if err != nil {
		t.Fatalf("GetNext failed: %v", err)
	}
	if !result.Claimed() {
		t.Fatalf("expected a claim, got reason %q", result.Reason)
	}
	return result.Item
}

func TestDispatchPriorityOrdering(t *testing.T) {
	orders := [][]int{{10, 1, 5}, {5, 10, 1}, {1, 5, 10}}
	for _, order := range orders {
		t.Run(fmt.Sprint(order), func(t *testing.T) {
			store, _ := newTestStore(t)
			ctx := context.Background()
			q := testsupport.NewQueue(t, store, 1, "prio", 1)
			for i, priority := range order {
				enqueueChat(t, store, q.ID, int64(i+1), priority)
			}

			var got []int
			for range order {
				item := mustClaim(t, store, q.ID, "agent")
				got = append(got, item.Priority)
				if _, err := store.CompleteItem(ctx, item.ItemType, item.ItemID); err != nil {
					t.Fatalf("CompleteItem failed: %v", err)
				}
			}
			if fmt.Sprint(got) != "[1 5 10]" {
				t.Fatalf("dispatch order = %v, want [1 5 10]", got)
			}
		})
	}
}

func TestDispatchFIFOTieBreak(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	q := testsupport.NewQueue(t, store, 1, "fifo", 3)

	for _, id := range []int64{30, 10, 20} {
		enqueueChat(t, store, q.ID, id, 5)
	}

	var got []int64
	for i := 0; i < 3; i++ {
		got = append(got, mustClaim(t, store, q.ID, "agent").ItemID)
	}
	if fmt.Sprint(got) != "[30 10 20]" {
		t.Fatalf("dispatch order = %v, want enqueue order [30 10 20]", got)
	}

	result, err := store.GetNext(ctx, q.ID, "agent")
	if err != nil {
		t.Fatalf("GetNext failed: %v", err)
	}
	if result.Claimed() || result.Reason != queue.ReasonParallelLimitReached {
		t.Fatalf("expected parallel-limit-reached, got %#v", result)
	}
}

func TestDispatchConcurrencyCeiling(t *testing.T) {
	const limit = 3
	store, _ := newTestStore(t)
	ctx := context.Background()
	q := testsupport.NewQueue(t, store, 1, "ceiling", limit)
	for i := int64(1); i <= 2*limit; i++ {
		enqueueChat(t, store, q.ID, i, 1)
	}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		claimed []int64
		reasons []queue.NoneReason
		errs    []error
	)
	for i := 0; i < 2*limit; i++ {
		wg.Add(1)
		go func(agent string) {
			defer wg.Done()
			result, err := store.GetNext(ctx, q.ID, agent)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				errs = append(errs, err)
			case result.Claimed():
				claimed = append(claimed, result.Item.ID)
			default:
				reasons = append(reasons, result.Reason)
			}
		}(fmt.Sprintf("agent-%d", i))
	}
	wg.Wait()

	if len(errs) != 0 {
		t.Fatalf("unexpected dispatch errors: %v", errs)
	}
	if len(claimed) != limit {
		t.Fatalf("expected exactly %d claims, got %d", limit, len(claimed))
	}
	for _, reason := range reasons {
		if reason != queue.ReasonParallelLimitReached {
			t.Fatalf("unexpected none reason %q", reason)
		}
	}

	inProgress, err := store.ListItems(ctx, queue.ItemFilter{QueueID: q.ID, Status: queue.StatusInProgress})
	if err != nil {
		t.Fatalf("ListItems failed: %v", err)
	}
	if len(inProgress) != limit {
		t.Fatalf("expected %d in progress, got %d", limit, len(inProgress))
	}
	queued, err := store.ListItems(ctx, queue.ItemFilter{QueueID: q.ID, Status: queue.StatusQueued})
	if err != nil {
		t.Fatalf("ListItems failed: %v", err)
	}
	if len(queued) != limit {
		t.Fatalf("expected %d still queued, got %d", limit, len(queued))
	}
	for _, item := range inProgress {
		if item.AgentID == "" || item.StartedAt == nil || item.Attempts != 1 {
			t.Fatalf("claimed item missing claim fields: %#v", item)
		}
	}
}

func TestDispatchPausedQueue(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	q := testsupport.NewQueue(t, store, 1, "paused", 2)
	enqueueChat(t, store, q.ID, 1, 1)
	enqueueChat(t, store, q.ID, 2, 1)

	if err := store.PauseQueue(ctx, q.ID); err != nil {
		t.Fatalf("PauseQueue failed: %v", err)
	}
	for i := 0; i < 3; i++ {
		result, err := store.GetNext(ctx, q.ID, "agent")
		if err != nil {
			t.Fatalf("GetNext failed: %v", err)
		}
		if result.Claimed() || result.Reason != queue.ReasonPaused {
			t.Fatalf("expected none/paused, got %#v", result)
		}
	}
	queued, _ := store.ListItems(ctx, queue.ItemFilter{QueueID: q.ID, Status: queue.StatusQueued})
	if len(queued) != 2 {
		t.Fatalf("paused dispatch must not claim, %d still queued", len(queued))
	}

	if err := store.ResumeQueue(ctx, q.ID); err != nil {
		t.Fatalf("ResumeQueue failed: %v", err)
	}
	mustClaim(t, store, q.ID, "agent")
}

func TestDispatchEmptyQueueAndErrors(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	q := testsupport.NewQueue(t, store, 1, "empty", 1)

	result, err := store.GetNext(ctx, q.ID, "agent")
	if err != nil {
		t.Fatalf("GetNext failed: %v", err)
	}
	if result.Claimed() || result.Reason != queue.ReasonEmpty {
		t.Fatalf("expected none/empty, got %#v", result)
	}
	if result.Message() == "" {
		t.Fatal("expected a message for the none result")
	}

	if _, err := store.GetNext(ctx, 9999, "agent"); !errors.Is(err, queue.ErrQueueNotFound) {
		t.Fatalf("expected ErrQueueNotFound, got %v", err)
	}
	if _, err := store.GetNext(ctx, q.ID, "  "); !errors.Is(err, queue.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for blank agent, got %v", err)
	}
}

func TestDispatchSingleSlotScenario(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	q := testsupport.NewQueue(t, store, 1, "single", 1)
	a := enqueueChat(t, store, q.ID, 1, 1)
	b := enqueueChat(t, store, q.ID, 2, 5)

	first := mustClaim(t, store, q.ID, "agent-a")
	if first.ID != a.ID {
		t.Fatalf("expected A first, got item %d", first.ItemID)
	}

	result, err := store.GetNext(ctx, q.ID, "agent-b")
	if err != nil {
		t.Fatalf("GetNext failed: %v", err)
	}
	if result.Claimed() || result.Reason != queue.ReasonParallelLimitReached {
		t.Fatalf("expected none/parallel-limit-reached, got %#v", result)
	}

	if _, err := store.CompleteItem(ctx, first.ItemType, first.ItemID); err != nil {
		t.Fatalf("CompleteItem failed: %v", err)
	}
	second := mustClaim(t, store, q.ID, "agent-b")
	if second.ID != b.ID {
		t.Fatalf("expected B after A completed, got item %d", second.ItemID)
	}
}

func TestDispatchDoesNotCrossQueues(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	left := testsupport.NewQueue(t, store, 1, "left", 1)
	right := testsupport.NewQueue(t, store, 1, "right", 1)
	enqueueChat(t, store, right.ID, 1, 1)

	result, err := store.GetNext(ctx, left.ID, "agent")
	if err != nil {
		t.Fatalf("GetNext failed: %v", err)
	}
	if result.Reason != queue.ReasonEmpty {
		t.Fatalf("expected empty for left queue, got %#v", result)
	}
	claimed := mustClaim(t, store, right.ID, "agent")
	if !claimed.InQueue(right.ID) {
		t.Fatalf("claimed item belongs to wrong queue: %#v", claimed)
	}
}
