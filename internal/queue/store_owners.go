package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// CreateTicket inserts a ticket owner row.
func (s *Store) CreateTicket(ctx context.Context, projectID int64, title string) (*Ticket, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, fmt.Errorf("%w: ticket title is required", ErrInvalidInput)
	}
	var id int64
	err := s.withTx(ctx, "create ticket", func(c conn) error {
		res, err := c.ExecContext(ctx,
			`INSERT INTO tickets (project_id, title, created_at) VALUES (?, ?, ?)`,
			projectID, title, formatTime(s.now()),
		)
		if err != nil {
			return err
		}
		id, err = res.LastInsertId()
		return err
	})
	if err != nil {
		return nil, err
	}
	return s.GetTicket(ctx, id)
}

// CreateTask inserts a task under an existing ticket. Tasks are appended after
// the ticket's current last task.
func (s *Store) CreateTask(ctx context.Context, ticketID int64, title string) (*Task, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, fmt.Errorf("%w: task title is required", ErrInvalidInput)
	}
	var id int64
	err := s.withTx(ctx, "create task", func(c conn) error {
		exists, err := ownerExists(ctx, c, ItemTicket, ticketID)
		if err != nil {
			return err
		}
		if !exists {
			return fmt.Errorf("%w: ticket %d", ErrInvalidReference, ticketID)
		}
		res, err := c.ExecContext(ctx,
			`INSERT INTO tasks (ticket_id, title, order_index, created_at)
             VALUES (?, ?, (SELECT COALESCE(MAX(order_index), -1) + 1 FROM tasks WHERE ticket_id = ?), ?)`,
			ticketID, title, ticketID, formatTime(s.now()),
		)
		if err != nil {
			return err
		}
		id, err = res.LastInsertId()
		return err
	})
	if err != nil {
		return nil, err
	}
	return s.GetTask(ctx, id)
}

// GetTicket fetches a ticket with its derived queue status.
func (s *Store) GetTicket(ctx context.Context, id int64) (*Ticket, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT t.id, t.project_id, t.title, t.created_at, COALESCE(w.status, '')
         FROM tickets t
         LEFT JOIN work_items w ON w.item_type = ? AND w.item_id = t.id
         WHERE t.id = ?`,
		ItemTicket, id,
	)
	var (
		ticket     Ticket
		createdRaw string
		status     string
	)
	err := row.Scan(&ticket.ID, &ticket.ProjectID, &ticket.Title, &createdRaw, &status)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: ticket %d", ErrInvalidReference, id)
	}
	if err != nil {
		return nil, persistenceError("get ticket", err)
	}
	ticket.QueueStatus = Status(status)
	if created, err := parseTimeString(createdRaw); err == nil {
		ticket.CreatedAt = created
	}
	return &ticket, nil
}

// GetTask fetches a task with its derived queue status.
func (s *Store) GetTask(ctx context.Context, id int64) (*Task, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT t.id, t.ticket_id, t.title, t.order_index, t.created_at, COALESCE(w.status, '')
         FROM tasks t
         LEFT JOIN work_items w ON w.item_type = ? AND w.item_id = t.id
         WHERE t.id = ?`,
		ItemTask, id,
	)
	task, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: task %d", ErrInvalidReference, id)
	}
	if err != nil {
		return nil, persistenceError("get task", err)
	}
	return task, nil
}

// ListTasks returns a ticket's tasks in order.
func (s *Store) ListTasks(ctx context.Context, ticketID int64) ([]*Task, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT t.id, t.ticket_id, t.title, t.order_index, t.created_at, COALESCE(w.status, '')
         FROM tasks t
         LEFT JOIN work_items w ON w.item_type = ? AND w.item_id = t.id
         WHERE t.ticket_id = ?
         ORDER BY t.order_index, t.id`,
		ItemTask, ticketID,
	)
	if err != nil {
		return nil, persistenceError("list tasks", err)
	}
	defer rows.Close()

	var tasks []*Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, persistenceError("scan task", err)
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, persistenceError("list tasks", err)
	}
	return tasks, nil
}

// DeleteTicket removes a ticket and its tasks. Work items referencing them are
// left for the cleanup pass.
func (s *Store) DeleteTicket(ctx context.Context, id int64) (bool, error) {
	return s.deleteOwner(ctx, `DELETE FROM tickets WHERE id = ?`, id)
}

// DeleteTask removes a task. Its work item is left for the cleanup pass.
func (s *Store) DeleteTask(ctx context.Context, id int64) (bool, error) {
	return s.deleteOwner(ctx, `DELETE FROM tasks WHERE id = ?`, id)
}

func (s *Store) deleteOwner(ctx context.Context, query string, id int64) (bool, error) {
	var affected int64
	err := s.withTx(ctx, "delete owner", func(c conn) error {
		res, err := c.ExecContext(ctx, query, id)
		if err != nil {
			return err
		}
		affected, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

func scanTask(scanner rowScanner) (*Task, error) {
	var (
		task       Task
		createdRaw string
		status     string
	)
	if err := scanner.Scan(&task.ID, &task.TicketID, &task.Title, &task.OrderIndex, &createdRaw, &status); err != nil {
		return nil, err
	}
	task.QueueStatus = Status(status)
	if created, err := parseTimeString(createdRaw); err == nil {
		task.CreatedAt = created
	}
	return &task, nil
}

func ownerExists(ctx context.Context, c conn, itemType ItemType, id int64) (bool, error) {
	if !itemType.hasOwnerTable() {
		return id > 0, nil
	}
	query := `SELECT COUNT(1) FROM tickets WHERE id = ?`
	if itemType == ItemTask {
		query = `SELECT COUNT(1) FROM tasks WHERE id = ?`
	}
	var count int
	if err := c.QueryRowContext(ctx, query, id).Scan(&count); err != nil {
		return false, err
	}
	return count > 0, nil
}
