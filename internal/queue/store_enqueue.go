package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"time"
)

// taskPriorityOffset places the first cascaded task behind its parent ticket.
const taskPriorityOffset = 1

// EnqueueItem admits one work item into a queue with status queued. An existing
// item for the same owner is moved into the queue unless an agent holds it.
func (s *Store) EnqueueItem(ctx context.Context, req EnqueueRequest) (*WorkItem, error) {
	items, err := s.enqueue(ctx, "enqueue item", []EnqueueRequest{req})
	if err != nil {
		return nil, err
	}
	return items[0], nil
}

// EnqueueTicket admits a ticket into a queue.
func (s *Store) EnqueueTicket(ctx context.Context, ticketID, queueID int64, priority int) (*WorkItem, error) {
	return s.EnqueueItem(ctx, EnqueueRequest{ItemType: ItemTicket, ItemID: ticketID, QueueID: queueID, Priority: priority})
}

// EnqueueTask admits a task into a queue.
func (s *Store) EnqueueTask(ctx context.Context, taskID, queueID int64, priority int) (*WorkItem, error) {
	return s.EnqueueItem(ctx, EnqueueRequest{ItemType: ItemTask, ItemID: taskID, QueueID: queueID, Priority: priority})
}

// EnqueueTicketWithAllTasks admits a ticket and every task under it in one
// transaction. The ticket keeps priority; task i in task order gets
// priority+1+i, so tasks dispatch after the ticket and in order regardless of
// any earlier rows they had. Either all items are admitted or none are.
func (s *Store) EnqueueTicketWithAllTasks(ctx context.Context, queueID, ticketID int64, priority int) (*CascadeResult, error) {
	var ids []int64
	err := s.withTx(ctx, "enqueue ticket with tasks", func(c conn) error {
		now := s.now()
		taskIDs, err := taskIDsForTicket(ctx, c, ticketID)
		if err != nil {
			return err
		}
		if n := len(taskIDs); n > 0 && priority > math.MaxInt-taskPriorityOffset-(n-1) {
			return fmt.Errorf("%w: priority %d leaves no room for %d tasks", ErrInvalidInput, priority, n)
		}

		ticketItemID, err := s.enqueueLocked(ctx, c, EnqueueRequest{
			ItemType: ItemTicket,
			ItemID:   ticketID,
			QueueID:  queueID,
			Priority: priority,
		}, now)
		if err != nil {
			return err
		}

		collected := make([]int64, 0, len(taskIDs)+1)
		collected = append(collected, ticketItemID)
		for i, taskID := range taskIDs {
			itemID, err := s.enqueueLocked(ctx, c, EnqueueRequest{
				ItemType: ItemTask,
				ItemID:   taskID,
				QueueID:  queueID,
				Priority: priority + taskPriorityOffset + i,
			}, now)
			if err != nil {
				return err
			}
			collected = append(collected, itemID)
		}
		ids = collected
		return nil
	})
	if err != nil {
		return nil, err
	}

	items, err := s.itemsByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	s.log().Info("ticket enqueued with tasks",
		"queue_id", queueID,
		"ticket_id", ticketID,
		"task_count", len(items)-1,
	)
	return &CascadeResult{Ticket: items[0], Tasks: items[1:]}, nil
}

// BatchEnqueueItems admits a heterogeneous list atomically, preserving each
// item's requested priority. Requests naming the same owner twice are rejected.
func (s *Store) BatchEnqueueItems(ctx context.Context, reqs []EnqueueRequest) ([]*WorkItem, error) {
	if len(reqs) == 0 {
		return nil, nil
	}
	type ownerKey struct {
		itemType ItemType
		itemID   int64
	}
	seen := make(map[ownerKey]struct{}, len(reqs))
	for _, req := range reqs {
		key := ownerKey{req.ItemType, req.ItemID}
		if _, dup := seen[key]; dup {
			return nil, fmt.Errorf("%w: duplicate %s %d in batch", ErrInvalidInput, req.ItemType, req.ItemID)
		}
		seen[key] = struct{}{}
	}
	return s.enqueue(ctx, "batch enqueue", reqs)
}

func (s *Store) enqueue(ctx context.Context, op string, reqs []EnqueueRequest) ([]*WorkItem, error) {
	var ids []int64
	err := s.withTx(ctx, op, func(c conn) error {
		now := s.now()
		collected := make([]int64, 0, len(reqs))
		for _, req := range reqs {
			id, err := s.enqueueLocked(ctx, c, req, now)
			if err != nil {
				return err
			}
			collected = append(collected, id)
		}
		ids = collected
		return nil
	})
	if err != nil {
		return nil, err
	}
	for _, req := range reqs {
		s.log().Debug("item enqueued",
			"queue_id", req.QueueID,
			"item_type", string(req.ItemType),
			"item_id", req.ItemID,
			"priority", req.Priority,
		)
	}
	return s.itemsByIDs(ctx, ids)
}

// enqueueLocked writes one queued row inside an open transaction and returns the
// work item id.
func (s *Store) enqueueLocked(ctx context.Context, c conn, req EnqueueRequest, now time.Time) (int64, error) {
	if _, ok := ParseItemType(string(req.ItemType)); !ok {
		return 0, fmt.Errorf("%w: unknown item type %q", ErrInvalidInput, req.ItemType)
	}
	if req.ItemID <= 0 {
		return 0, fmt.Errorf("%w: item id must be positive", ErrInvalidInput)
	}
	if _, err := getQueue(ctx, c, req.QueueID); err != nil {
		return 0, err
	}
	exists, err := ownerExists(ctx, c, req.ItemType, req.ItemID)
	if err != nil {
		return 0, fmt.Errorf("check owner: %w", err)
	}
	if !exists {
		return 0, fmt.Errorf("%w: %s %d", ErrInvalidReference, req.ItemType, req.ItemID)
	}

	timestamp := formatTime(now)
	var (
		existingID int64
		status     string
	)
	err = c.QueryRowContext(ctx,
		`SELECT id, status FROM work_items WHERE item_type = ? AND item_id = ?`,
		req.ItemType, req.ItemID,
	).Scan(&existingID, &status)

	var id int64
	switch {
	case errors.Is(err, sql.ErrNoRows):
		res, err := c.ExecContext(ctx,
			`INSERT INTO work_items (
                item_type, item_id, queue_id, priority, status, queued_at, updated_at, estimated_processing_ms
            ) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			req.ItemType,
			req.ItemID,
			req.QueueID,
			req.Priority,
			StatusQueued,
			timestamp,
			timestamp,
			nullableInt64(req.EstimatedProcessingTimeMs),
		)
		if err != nil {
			return 0, fmt.Errorf("insert work item: %w", err)
		}
		if id, err = res.LastInsertId(); err != nil {
			return 0, err
		}
	case err != nil:
		return 0, fmt.Errorf("lookup work item: %w", err)
	case Status(status) == StatusInProgress:
		return 0, fmt.Errorf("%w: %s %d", ErrItemInProgress, req.ItemType, req.ItemID)
	default:
		if _, err := c.ExecContext(ctx,
			`UPDATE work_items
             SET queue_id = ?, priority = ?, status = ?, agent_id = NULL, error_message = NULL,
                 queued_at = ?, started_at = NULL, completed_at = NULL, actual_processing_ms = NULL,
                 estimated_processing_ms = COALESCE(?, estimated_processing_ms), updated_at = ?
             WHERE id = ?`,
			req.QueueID,
			req.Priority,
			StatusQueued,
			timestamp,
			nullableInt64(req.EstimatedProcessingTimeMs),
			timestamp,
			existingID,
		); err != nil {
			return 0, fmt.Errorf("requeue work item: %w", err)
		}
		id = existingID
	}

	if enqueueHook != nil {
		if err := enqueueHook(req); err != nil {
			return 0, err
		}
	}
	return id, nil
}

func taskIDsForTicket(ctx context.Context, c conn, ticketID int64) ([]int64, error) {
	rows, err := c.QueryContext(ctx, `SELECT id FROM tasks WHERE ticket_id = ? ORDER BY order_index, id`, ticketID)
	if err != nil {
		return nil, fmt.Errorf("list ticket tasks: %w", err)
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
