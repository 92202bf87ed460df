package queue

import (
	"context"
)

// enqueueHook runs after each admitted row inside the enqueue transaction.
// It is a package-level variable so tests can inject mid-operation failures.
var enqueueHook func(EnqueueRequest) error

// SetEnqueueHookForTests installs a hook that runs after every row written by an
// enqueue transaction. Returning an error aborts the whole transaction.
func SetEnqueueHookForTests(fn func(EnqueueRequest) error) func() {
	previous := enqueueHook
	enqueueHook = fn
	return func() {
		enqueueHook = previous
	}
}

// DropQueueRowForTests removes only the queue row, leaving its work items in
// place, to simulate a queue deleted outside the registry.
func DropQueueRowForTests(ctx context.Context, s *Store, queueID int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM queues WHERE id = ?`, queueID)
	return err
}
