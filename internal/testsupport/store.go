package testsupport

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"queueflow/internal/config"
	"queueflow/internal/queue"
)

// MustOpenStore opens a queue.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config, opts ...queue.Option) *queue.Store {
	t.Helper()

	store, err := queue.Open(cfg, opts...)
	if err != nil {
		t.Fatalf("queue.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// Clock is a deterministic time source that advances one millisecond per
// reading. It is safe for concurrent use.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock starts a Clock at the given instant.
func NewClock(start time.Time) *Clock {
	return &Clock{now: start.UTC()}
}

// Now returns the current reading and advances the clock.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	current := c.now
	c.now = c.now.Add(time.Millisecond)
	return current
}

// Advance moves the clock forward by d.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// NewQueue creates an active queue for tests.
func NewQueue(t testing.TB, store *queue.Store, projectID int64, name string, maxParallel int) *queue.Queue {
	t.Helper()

	q, err := store.CreateQueue(context.Background(), queue.QueueConfig{
		ProjectID:        projectID,
		Name:             name,
		MaxParallelItems: maxParallel,
	})
	if err != nil {
		t.Fatalf("store.CreateQueue: %v", err)
	}
	return q
}

// NewTicket creates a ticket with taskCount tasks under it.
func NewTicket(t testing.TB, store *queue.Store, projectID int64, title string, taskCount int) (*queue.Ticket, []*queue.Task) {
	t.Helper()

	ctx := context.Background()
	ticket, err := store.CreateTicket(ctx, projectID, title)
	if err != nil {
		t.Fatalf("store.CreateTicket: %v", err)
	}
	tasks := make([]*queue.Task, 0, taskCount)
	for i := 0; i < taskCount; i++ {
		task, err := store.CreateTask(ctx, ticket.ID, fmt.Sprintf("%s task %d", title, i+1))
		if err != nil {
			t.Fatalf("store.CreateTask: %v", err)
		}
		tasks = append(tasks, task)
	}
	return ticket, tasks
}
