package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// maxClaimAttempts bounds how often dispatch re-selects after losing a claim.
const maxClaimAttempts = 3

// GetNext selects and claims the next queued item of a queue for agentID.
//
// The queue lookup, the in-progress count and the claim run in one BEGIN
// IMMEDIATE transaction, so two dispatchers can never both observe a free slot
// and over-claim past max_parallel_items. Items are chosen by ascending
// priority, then queued_at, then id. When nothing is claimed the result carries
// the reason: paused, parallel-limit-reached or empty. Those outcomes are not
// errors.
func (s *Store) GetNext(ctx context.Context, queueID int64, agentID string) (DispatchResult, error) {
	agentID = strings.TrimSpace(agentID)
	if agentID == "" {
		return DispatchResult{}, fmt.Errorf("%w: agent id is required", ErrInvalidInput)
	}

	var result DispatchResult
	err := s.withTx(ctx, "dispatch", func(c conn) error {
		result = DispatchResult{}
		q, err := getQueue(ctx, c, queueID)
		if err != nil {
			return err
		}
		if !q.IsActive {
			result.Reason = ReasonPaused
			return nil
		}

		for attempt := 0; attempt < maxClaimAttempts; attempt++ {
			var inProgress int
			if err := c.QueryRowContext(ctx,
				`SELECT COUNT(1) FROM work_items WHERE queue_id = ? AND status = ?`,
				queueID, StatusInProgress,
			).Scan(&inProgress); err != nil {
				return fmt.Errorf("count in-progress items: %w", err)
			}
			if inProgress >= q.MaxParallelItems {
				result.Reason = ReasonParallelLimitReached
				return nil
			}

			var candidate int64
			err := c.QueryRowContext(ctx,
				`SELECT id FROM work_items
                 WHERE queue_id = ? AND status = ?
                 ORDER BY priority, queued_at, id
                 LIMIT 1`,
				queueID, StatusQueued,
			).Scan(&candidate)
			if errors.Is(err, sql.ErrNoRows) {
				result.Reason = ReasonEmpty
				return nil
			}
			if err != nil {
				return fmt.Errorf("select next item: %w", err)
			}

			timestamp := formatTime(s.now())
			res, err := c.ExecContext(ctx,
				`UPDATE work_items
                 SET status = ?, agent_id = ?, started_at = ?, completed_at = NULL,
                     error_message = NULL, attempts = attempts + 1, updated_at = ?
                 WHERE id = ? AND status = ?`,
				StatusInProgress, agentID, timestamp, timestamp, candidate, StatusQueued,
			)
			if err != nil {
				return fmt.Errorf("claim item: %w", err)
			}
			affected, err := res.RowsAffected()
			if err != nil {
				return err
			}
			if affected == 0 {
				continue
			}

			item, err := scanWorkItem(c.QueryRowContext(ctx,
				`SELECT `+workItemColumns+` FROM work_items WHERE id = ?`, candidate))
			if err != nil {
				return fmt.Errorf("load claimed item: %w", err)
			}
			result.Item = item
			return nil
		}
		result.Reason = ReasonEmpty
		return nil
	})
	if err != nil {
		return DispatchResult{}, err
	}

	if result.Item != nil {
		s.log().Info("item claimed",
			"queue_id", queueID,
			"agent_id", agentID,
			"item_type", string(result.Item.ItemType),
			"item_id", result.Item.ItemID,
			"priority", result.Item.Priority,
		)
	} else {
		s.log().Debug("nothing dispatched", "queue_id", queueID, "agent_id", agentID, "reason", string(result.Reason))
	}
	return result, nil
}
