package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// CreateQueue registers a new queue. MaxParallelItems must be at least 1.
func (s *Store) CreateQueue(ctx context.Context, cfg QueueConfig) (*Queue, error) {
	name := strings.TrimSpace(cfg.Name)
	if name == "" {
		return nil, fmt.Errorf("%w: queue name is required", ErrInvalidInput)
	}
	if cfg.MaxParallelItems < 1 {
		return nil, fmt.Errorf("%w: max parallel items must be at least 1, got %d", ErrInvalidInput, cfg.MaxParallelItems)
	}

	var id int64
	err := s.withTx(ctx, "create queue", func(c conn) error {
		timestamp := formatTime(s.now())
		res, err := c.ExecContext(ctx,
			`INSERT INTO queues (project_id, name, description, max_parallel_items, is_active, created_at, updated_at)
             VALUES (?, ?, ?, ?, 1, ?, ?)`,
			cfg.ProjectID,
			name,
			nullableString(strings.TrimSpace(cfg.Description)),
			cfg.MaxParallelItems,
			timestamp,
			timestamp,
		)
		if err != nil {
			return fmt.Errorf("insert queue: %w", err)
		}
		id, err = res.LastInsertId()
		return err
	})
	if err != nil {
		return nil, err
	}
	s.log().Info("queue created",
		"queue_id", id,
		"project_id", cfg.ProjectID,
		"max_parallel_items", cfg.MaxParallelItems,
	)
	return s.GetQueue(ctx, id)
}

// GetQueue fetches a queue by identifier. It returns ErrQueueNotFound when absent.
func (s *Store) GetQueue(ctx context.Context, id int64) (*Queue, error) {
	return getQueue(ctx, s.db, id)
}

func getQueue(ctx context.Context, c conn, id int64) (*Queue, error) {
	row := c.QueryRowContext(ctx, `SELECT `+queueColumns+` FROM queues WHERE id = ?`, id)
	q, err := scanQueue(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %d", ErrQueueNotFound, id)
	}
	if err != nil {
		return nil, persistenceError("get queue", err)
	}
	return q, nil
}

// ListQueues returns queues ordered by creation, optionally scoped to a project.
func (s *Store) ListQueues(ctx context.Context, projectID int64) ([]*Queue, error) {
	query := `SELECT ` + queueColumns + ` FROM queues`
	var args []any
	if projectID != 0 {
		query += ` WHERE project_id = ?`
		args = append(args, projectID)
	}
	query += ` ORDER BY id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, persistenceError("list queues", err)
	}
	defer rows.Close()

	var queues []*Queue
	for rows.Next() {
		q, err := scanQueue(rows)
		if err != nil {
			return nil, persistenceError("scan queue", err)
		}
		queues = append(queues, q)
	}
	if err := rows.Err(); err != nil {
		return nil, persistenceError("list queues", err)
	}
	return queues, nil
}

// UpdateQueue applies the non-nil fields of update.
func (s *Store) UpdateQueue(ctx context.Context, id int64, update QueueUpdate) (*Queue, error) {
	if update.MaxParallelItems != nil && *update.MaxParallelItems < 1 {
		return nil, fmt.Errorf("%w: max parallel items must be at least 1, got %d", ErrInvalidInput, *update.MaxParallelItems)
	}
	if update.Name != nil && strings.TrimSpace(*update.Name) == "" {
		return nil, fmt.Errorf("%w: queue name cannot be empty", ErrInvalidInput)
	}

	err := s.withTx(ctx, "update queue", func(c conn) error {
		q, err := getQueue(ctx, c, id)
		if err != nil {
			return err
		}
		if update.Name != nil {
			q.Name = strings.TrimSpace(*update.Name)
		}
		if update.Description != nil {
			q.Description = strings.TrimSpace(*update.Description)
		}
		if update.MaxParallelItems != nil {
			q.MaxParallelItems = *update.MaxParallelItems
		}
		_, err = c.ExecContext(ctx,
			`UPDATE queues SET name = ?, description = ?, max_parallel_items = ?, updated_at = ? WHERE id = ?`,
			q.Name,
			nullableString(q.Description),
			q.MaxParallelItems,
			formatTime(s.now()),
			id,
		)
		return err
	})
	if err != nil {
		return nil, err
	}
	return s.GetQueue(ctx, id)
}

// PauseQueue stops dispatch from the queue. Claimed items are unaffected.
func (s *Store) PauseQueue(ctx context.Context, id int64) error {
	return s.setActive(ctx, id, false)
}

// ResumeQueue re-enables dispatch from the queue.
func (s *Store) ResumeQueue(ctx context.Context, id int64) error {
	return s.setActive(ctx, id, true)
}

func (s *Store) setActive(ctx context.Context, id int64, active bool) error {
	err := s.withTx(ctx, "set queue active", func(c conn) error {
		res, err := c.ExecContext(ctx,
			`UPDATE queues SET is_active = ?, updated_at = ? WHERE id = ?`,
			boolToInt(active), formatTime(s.now()), id,
		)
		if err != nil {
			return err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			return fmt.Errorf("%w: %d", ErrQueueNotFound, id)
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.log().Info("queue active flag changed", "queue_id", id, "active", active)
	return nil
}

// DeleteQueue removes the queue and every work item referencing it. It returns
// the number of work items removed.
func (s *Store) DeleteQueue(ctx context.Context, id int64) (int64, error) {
	var removed int64
	err := s.withTx(ctx, "delete queue", func(c conn) error {
		res, err := c.ExecContext(ctx, `DELETE FROM queues WHERE id = ?`, id)
		if err != nil {
			return err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			return fmt.Errorf("%w: %d", ErrQueueNotFound, id)
		}
		res, err = c.ExecContext(ctx, `DELETE FROM work_items WHERE queue_id = ?`, id)
		if err != nil {
			return err
		}
		if removed, err = res.RowsAffected(); err != nil {
			return err
		}
		_, err = c.ExecContext(ctx, `DELETE FROM queue_stats WHERE queue_id = ?`, id)
		return err
	})
	if err != nil {
		return 0, err
	}
	s.log().Info("queue deleted", "queue_id", id, "items_removed", removed)
	return removed, nil
}
