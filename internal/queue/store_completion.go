package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// CompleteItem moves the owner's in-progress item to completed and records the
// processing time. A second call fails with ErrNotInProgress.
func (s *Store) CompleteItem(ctx context.Context, itemType ItemType, itemID int64) (*WorkItem, error) {
	var id int64
	err := s.withTx(ctx, "complete item", func(c conn) error {
		item, err := claimedItem(ctx, c, itemType, itemID)
		if err != nil {
			return err
		}
		id = item.ID

		now := s.now()
		var actual any
		if item.StartedAt != nil {
			actual = now.Sub(*item.StartedAt).Milliseconds()
		}
		_, err = c.ExecContext(ctx,
			`UPDATE work_items
             SET status = ?, completed_at = ?, actual_processing_ms = ?, agent_id = NULL, updated_at = ?
             WHERE id = ?`,
			StatusCompleted, formatTime(now), actual, formatTime(now), item.ID,
		)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.log().Info("item completed", "item_type", string(itemType), "item_id", itemID)
	return s.GetItemByID(ctx, id)
}

// FailItem moves the owner's in-progress item to failed, records the message
// and releases the agent. Retrying is a separate Requeue call.
func (s *Store) FailItem(ctx context.Context, itemType ItemType, itemID int64, message string) (*WorkItem, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		message = "failed without message"
	}
	var id int64
	err := s.withTx(ctx, "fail item", func(c conn) error {
		item, err := claimedItem(ctx, c, itemType, itemID)
		if err != nil {
			return err
		}
		id = item.ID

		now := s.now()
		var actual any
		if item.StartedAt != nil {
			actual = now.Sub(*item.StartedAt).Milliseconds()
		}
		_, err = c.ExecContext(ctx,
			`UPDATE work_items
             SET status = ?, error_message = ?, completed_at = ?, actual_processing_ms = ?,
                 agent_id = NULL, updated_at = ?
             WHERE id = ?`,
			StatusFailed, message, formatTime(now), actual, formatTime(now), item.ID,
		)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.log().Warn("item failed", "item_type", string(itemType), "item_id", itemID, "error_message", message)
	return s.GetItemByID(ctx, id)
}

// RequeueItem resets a failed or cancelled item to queued in its queue, clearing
// the agent, error and timestamps. The attempt counter is kept for external
// retry policy.
func (s *Store) RequeueItem(ctx context.Context, itemType ItemType, itemID int64) (*WorkItem, error) {
	var id int64
	err := s.withTx(ctx, "requeue item", func(c conn) error {
		item, err := ownedItem(ctx, c, itemType, itemID)
		if err != nil {
			return err
		}
		if item.Status != StatusFailed && item.Status != StatusCancelled {
			return fmt.Errorf("%w: cannot requeue %s item", ErrInvalidTransition, item.Status)
		}
		if item.QueueID == nil {
			return fmt.Errorf("%w: item has no queue", ErrQueueNotFound)
		}
		if _, err := getQueue(ctx, c, *item.QueueID); err != nil {
			return err
		}
		id = item.ID
		timestamp := formatTime(s.now())
		_, err = c.ExecContext(ctx,
			`UPDATE work_items
             SET status = ?, agent_id = NULL, error_message = NULL, started_at = NULL, completed_at = NULL,
                 actual_processing_ms = NULL, queued_at = ?, updated_at = ?
             WHERE id = ?`,
			StatusQueued, timestamp, timestamp, item.ID,
		)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.log().Info("item requeued", "item_type", string(itemType), "item_id", itemID)
	return s.GetItemByID(ctx, id)
}

// CancelItem cancels a queued item. Claimed items end only through completion
// or failure by the owning agent.
func (s *Store) CancelItem(ctx context.Context, itemType ItemType, itemID int64) (*WorkItem, error) {
	var id int64
	err := s.withTx(ctx, "cancel item", func(c conn) error {
		item, err := ownedItem(ctx, c, itemType, itemID)
		if err != nil {
			return err
		}
		if item.Status != StatusQueued {
			return fmt.Errorf("%w: only queued items can be cancelled, item is %s", ErrInvalidTransition, item.Status)
		}
		id = item.ID
		timestamp := formatTime(s.now())
		_, err = c.ExecContext(ctx,
			`UPDATE work_items SET status = ?, completed_at = ?, updated_at = ? WHERE id = ? AND status = ?`,
			StatusCancelled, timestamp, timestamp, item.ID, StatusQueued,
		)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.log().Info("item cancelled", "item_type", string(itemType), "item_id", itemID)
	return s.GetItemByID(ctx, id)
}

func ownedItem(ctx context.Context, c conn, itemType ItemType, itemID int64) (*WorkItem, error) {
	row := c.QueryRowContext(ctx,
		`SELECT `+workItemColumns+` FROM work_items WHERE item_type = ? AND item_id = ?`,
		itemType, itemID,
	)
	item, err := scanWorkItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: no work item for %s %d", ErrInvalidReference, itemType, itemID)
	}
	if err != nil {
		return nil, fmt.Errorf("load work item: %w", err)
	}
	return item, nil
}

func claimedItem(ctx context.Context, c conn, itemType ItemType, itemID int64) (*WorkItem, error) {
	item, err := ownedItem(ctx, c, itemType, itemID)
	if errors.Is(err, ErrInvalidReference) {
		return nil, fmt.Errorf("%w: %s %d", ErrNotInProgress, itemType, itemID)
	}
	if err != nil {
		return nil, err
	}
	if item.Status != StatusInProgress {
		return nil, fmt.Errorf("%w: %s %d is %s", ErrNotInProgress, itemType, itemID, item.Status)
	}
	return item, nil
}
