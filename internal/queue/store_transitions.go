package queue

import (
	"context"
)

// ResetQueue empties a queue of every item an agent does not hold. Claimed
// items stay in place so their agents can still complete or fail them.
func (s *Store) ResetQueue(ctx context.Context, queueID int64) (int64, error) {
	var removed int64
	err := s.withTx(ctx, "reset queue", func(c conn) error {
		if _, err := getQueue(ctx, c, queueID); err != nil {
			return err
		}
		var err error
		removed, err = execCount(ctx, c,
			`DELETE FROM work_items WHERE queue_id = ? AND status != ?`,
			queueID, StatusInProgress,
		)
		return err
	})
	if err != nil {
		return 0, err
	}
	s.log().Info("queue reset", "queue_id", queueID, "removed", removed)
	return removed, nil
}

// RetryFailed requeues failed items of a queue in bulk. When ids are given only
// those work items are considered.
func (s *Store) RetryFailed(ctx context.Context, queueID int64, ids ...int64) (int64, error) {
	query := `UPDATE work_items
              SET status = ?, agent_id = NULL, error_message = NULL, started_at = NULL,
                  completed_at = NULL, actual_processing_ms = NULL, queued_at = ?, updated_at = ?
              WHERE queue_id = ? AND status = ?`

	var retried int64
	err := s.withTx(ctx, "retry failed", func(c conn) error {
		if _, err := getQueue(ctx, c, queueID); err != nil {
			return err
		}
		timestamp := formatTime(s.now())
		args := []any{StatusQueued, timestamp, timestamp, queueID, StatusFailed}
		stmt := query
		if len(ids) > 0 {
			stmt += ` AND id IN (` + makePlaceholders(len(ids)) + `)`
			for _, id := range ids {
				args = append(args, id)
			}
		}
		var err error
		retried, err = execCount(ctx, c, stmt, args...)
		return err
	})
	if err != nil {
		return 0, err
	}
	s.log().Info("failed items requeued", "queue_id", queueID, "count", retried)
	return retried, nil
}
