package queue

import (
	"context"
	"fmt"
	"time"
)

// Cleanup reconciles persisted queue state in one transaction. Each step is
// counted separately and a failing step is recorded in Errors without stopping
// the rest. Only failing to open or commit the transaction returns an error.
//
// Steps run in this order: orphan removal, dangling owner removal, dead-letter
// relocation of exhausted failures, terminal expiry, statistics refresh.
// Exhausted failures are relocated before expiry so they survive for inspection.
func (s *Store) Cleanup(ctx context.Context, opts CleanupOptions) (CleanupResult, error) {
	maxAge := opts.MaxAge
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}

	var result CleanupResult
	err := s.withTx(ctx, "cleanup", func(c conn) error {
		result = CleanupResult{}
		now := s.now()
		record := func(step string, err error) {
			if err == nil {
				return
			}
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", step, err))
			s.log().Warn("cleanup step failed", "step", step, "error", err)
		}

		var err error
		result.OrphanedItemsRemoved, err = execCount(ctx, c,
			`DELETE FROM work_items
             WHERE queue_id IS NOT NULL AND queue_id NOT IN (SELECT id FROM queues)`)
		record("orphaned items", err)

		result.InvalidTasksRemoved, err = execCount(ctx, c,
			`DELETE FROM work_items WHERE item_type = ? AND item_id NOT IN (SELECT id FROM tasks)`,
			ItemTask)
		record("invalid tasks", err)

		result.InvalidTicketsRemoved, err = execCount(ctx, c,
			`DELETE FROM work_items WHERE item_type = ? AND item_id NOT IN (SELECT id FROM tickets)`,
			ItemTicket)
		record("invalid tickets", err)

		if opts.DeadLetterAfterAttempts > 0 {
			result.DeadLettered, err = deadLetterLocked(ctx, c,
				`status = ? AND attempts >= ?`,
				[]any{StatusFailed, opts.DeadLetterAfterAttempts},
				fmt.Sprintf("exhausted %d attempts", opts.DeadLetterAfterAttempts),
				now,
			)
			record("dead letter", err)
		}

		expiry := `DELETE FROM work_items
                   WHERE status IN (?, ?, ?) AND COALESCE(completed_at, updated_at) < ?`
		args := []any{StatusCompleted, StatusFailed, StatusCancelled, formatTime(now.Add(-maxAge))}
		if opts.ProjectID != 0 {
			expiry += ` AND queue_id IN (SELECT id FROM queues WHERE project_id = ?)`
			args = append(args, opts.ProjectID)
		}
		result.OldCompletedItemsRemoved, err = execCount(ctx, c, expiry, args...)
		record("terminal expiry", err)

		refreshed, err := refreshStatsLocked(ctx, c, 0, now)
		record("stats refresh", err)
		result.StatsRefreshed = len(refreshed)

		result.TotalRemoved = result.OrphanedItemsRemoved +
			result.OldCompletedItemsRemoved +
			result.InvalidTasksRemoved +
			result.InvalidTicketsRemoved
		return nil
	})
	if err != nil {
		return CleanupResult{}, err
	}

	s.log().Info("queue cleanup finished",
		"orphaned_removed", result.OrphanedItemsRemoved,
		"expired_removed", result.OldCompletedItemsRemoved,
		"invalid_tasks_removed", result.InvalidTasksRemoved,
		"invalid_tickets_removed", result.InvalidTicketsRemoved,
		"dead_lettered", result.DeadLettered,
		"total_removed", result.TotalRemoved,
		"stats_refreshed", result.StatsRefreshed,
		"error_count", len(result.Errors),
	)
	return result, nil
}

// MoveFailedToDeadLetter relocates every failed item, optionally limited to one
// queue (queueID 0 covers all), into the dead-letter store.
func (s *Store) MoveFailedToDeadLetter(ctx context.Context, queueID int64) (int64, error) {
	where := `status = ?`
	args := []any{StatusFailed}
	if queueID != 0 {
		where += ` AND queue_id = ?`
		args = append(args, queueID)
	}

	var moved int64
	err := s.withTx(ctx, "move failed to dead letter", func(c conn) error {
		if queueID != 0 {
			if _, err := getQueue(ctx, c, queueID); err != nil {
				return err
			}
		}
		var err error
		moved, err = deadLetterLocked(ctx, c, where, args, "moved by operator", s.now())
		return err
	})
	if err != nil {
		return 0, err
	}
	s.log().Info("failed items dead-lettered", "queue_id", queueID, "moved", moved)
	return moved, nil
}

// ListDeadLetters returns dead-lettered items newest first. queueID 0 lists all.
func (s *Store) ListDeadLetters(ctx context.Context, queueID int64) ([]*DeadLetter, error) {
	query := `SELECT ` + deadLetterColumns + ` FROM dead_letters`
	var args []any
	if queueID != 0 {
		query += ` WHERE queue_id = ?`
		args = append(args, queueID)
	}
	query += ` ORDER BY moved_at DESC, id DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, persistenceError("list dead letters", err)
	}
	defer rows.Close()

	var letters []*DeadLetter
	for rows.Next() {
		dl, err := scanDeadLetter(rows)
		if err != nil {
			return nil, persistenceError("scan dead letter", err)
		}
		letters = append(letters, dl)
	}
	if err := rows.Err(); err != nil {
		return nil, persistenceError("list dead letters", err)
	}
	return letters, nil
}

// RefreshStats recomputes the statistics snapshot of every queue from its work
// items and returns the fresh snapshots.
func (s *Store) RefreshStats(ctx context.Context) ([]QueueStats, error) {
	var stats []QueueStats
	err := s.withTx(ctx, "refresh stats", func(c conn) error {
		var err error
		stats, err = refreshStatsLocked(ctx, c, 0, s.now())
		return err
	})
	if err != nil {
		return nil, err
	}
	return stats, nil
}

// QueueStats recomputes and returns the statistics snapshot of one queue.
func (s *Store) QueueStats(ctx context.Context, queueID int64) (QueueStats, error) {
	var stats []QueueStats
	err := s.withTx(ctx, "queue stats", func(c conn) error {
		if _, err := getQueue(ctx, c, queueID); err != nil {
			return err
		}
		var err error
		stats, err = refreshStatsLocked(ctx, c, queueID, s.now())
		return err
	})
	if err != nil {
		return QueueStats{}, err
	}
	if len(stats) == 0 {
		return QueueStats{QueueID: queueID}, nil
	}
	return stats[0], nil
}

// deadLetterLocked copies matching work items into dead_letters and removes
// them from the active set.
func deadLetterLocked(ctx context.Context, c conn, where string, args []any, reason string, now time.Time) (int64, error) {
	insertArgs := append([]any{reason, formatTime(now)}, args...)
	if _, err := c.ExecContext(ctx,
		`INSERT INTO dead_letters (
            work_item_id, item_type, item_id, queue_id, priority, attempts, error_message, reason, failed_at, moved_at
        )
        SELECT id, item_type, item_id, queue_id, priority, attempts, error_message, ?, completed_at, ?
        FROM work_items WHERE `+where,
		insertArgs...,
	); err != nil {
		return 0, fmt.Errorf("copy to dead letters: %w", err)
	}
	return execCount(ctx, c, `DELETE FROM work_items WHERE `+where, args...)
}

// refreshStatsLocked rebuilds queue_stats rows from work_items. queueID 0
// refreshes every queue and drops snapshots of deleted queues.
func refreshStatsLocked(ctx context.Context, c conn, queueID int64, now time.Time) ([]QueueStats, error) {
	if queueID == 0 {
		if _, err := c.ExecContext(ctx,
			`DELETE FROM queue_stats WHERE queue_id NOT IN (SELECT id FROM queues)`,
		); err != nil {
			return nil, fmt.Errorf("drop stale stats: %w", err)
		}
	}

	filter := `WHERE 1 = 1`
	args := []any{
		StatusQueued, StatusInProgress, StatusCompleted, StatusFailed, StatusCancelled,
		StatusCompleted, formatTime(now),
	}
	if queueID != 0 {
		filter = `WHERE q.id = ?`
		args = append(args, queueID)
	}
	if _, err := c.ExecContext(ctx,
		`INSERT OR REPLACE INTO queue_stats (
            queue_id, queued, in_progress, completed, failed, cancelled, total, avg_processing_ms, refreshed_at
        )
        SELECT q.id,
            COALESCE(SUM(CASE WHEN w.status = ? THEN 1 ELSE 0 END), 0),
            COALESCE(SUM(CASE WHEN w.status = ? THEN 1 ELSE 0 END), 0),
            COALESCE(SUM(CASE WHEN w.status = ? THEN 1 ELSE 0 END), 0),
            COALESCE(SUM(CASE WHEN w.status = ? THEN 1 ELSE 0 END), 0),
            COALESCE(SUM(CASE WHEN w.status = ? THEN 1 ELSE 0 END), 0),
            COUNT(w.id),
            COALESCE(AVG(CASE WHEN w.status = ? THEN w.actual_processing_ms END), 0),
            ?
        FROM queues q
        LEFT JOIN work_items w ON w.queue_id = q.id
        `+filter+`
        GROUP BY q.id`,
		args...,
	); err != nil {
		return nil, fmt.Errorf("recompute stats: %w", err)
	}

	query := `SELECT queue_id, queued, in_progress, completed, failed, cancelled, total, avg_processing_ms, refreshed_at
              FROM queue_stats`
	var readArgs []any
	if queueID != 0 {
		query += ` WHERE queue_id = ?`
		readArgs = append(readArgs, queueID)
	}
	query += ` ORDER BY queue_id`
	rows, err := c.QueryContext(ctx, query, readArgs...)
	if err != nil {
		return nil, fmt.Errorf("read stats: %w", err)
	}
	defer rows.Close()

	var stats []QueueStats
	for rows.Next() {
		var (
			st           QueueStats
			refreshedRaw string
		)
		if err := rows.Scan(
			&st.QueueID,
			&st.Queued,
			&st.InProgress,
			&st.Completed,
			&st.Failed,
			&st.Cancelled,
			&st.Total,
			&st.AvgProcessingMs,
			&refreshedRaw,
		); err != nil {
			return nil, err
		}
		if refreshed, err := parseTimeString(refreshedRaw); err == nil {
			st.RefreshedAt = refreshed
		}
		stats = append(stats, st)
	}
	return stats, rows.Err()
}

func execCount(ctx context.Context, c conn, query string, args ...any) (int64, error) {
	res, err := c.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
