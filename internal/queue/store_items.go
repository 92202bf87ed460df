package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// GetItem fetches the work item owned by the given ticket, task, chat or prompt.
// It returns nil when the owner has never been enqueued.
func (s *Store) GetItem(ctx context.Context, itemType ItemType, itemID int64) (*WorkItem, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+workItemColumns+` FROM work_items WHERE item_type = ? AND item_id = ?`,
		itemType, itemID,
	)
	item, err := scanWorkItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, persistenceError("get item", err)
	}
	return item, nil
}

// GetItemByID fetches a work item by its own identifier.
func (s *Store) GetItemByID(ctx context.Context, id int64) (*WorkItem, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+workItemColumns+` FROM work_items WHERE id = ?`, id)
	item, err := scanWorkItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, persistenceError("get item by id", err)
	}
	return item, nil
}

// ListItems returns work items matching the filter in dispatch order.
func (s *Store) ListItems(ctx context.Context, filter ItemFilter) ([]*WorkItem, error) {
	var (
		clauses []string
		args    []any
	)
	if filter.QueueID != 0 {
		clauses = append(clauses, "queue_id = ?")
		args = append(args, filter.QueueID)
	}
	if filter.Status != "" {
		clauses = append(clauses, "status = ?")
		args = append(args, filter.Status)
	}
	if filter.ItemType != "" {
		clauses = append(clauses, "item_type = ?")
		args = append(args, filter.ItemType)
	}

	query := `SELECT ` + workItemColumns + ` FROM work_items`
	if len(clauses) > 0 {
		query += ` WHERE ` + strings.Join(clauses, " AND ")
	}
	query += ` ORDER BY priority, queued_at, id`
	if filter.Limit > 0 {
		query += fmt.Sprintf(` LIMIT %d`, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, persistenceError("list items", err)
	}
	items, err := collectWorkItems(rows)
	if err != nil {
		return nil, persistenceError("list items", err)
	}
	return items, nil
}

func (s *Store) itemsByIDs(ctx context.Context, ids []int64) ([]*WorkItem, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+workItemColumns+` FROM work_items WHERE id IN (`+makePlaceholders(len(ids))+`)`,
		args...,
	)
	if err != nil {
		return nil, persistenceError("load items", err)
	}
	items, err := collectWorkItems(rows)
	if err != nil {
		return nil, persistenceError("load items", err)
	}

	byID := make(map[int64]*WorkItem, len(items))
	for _, item := range items {
		byID[item.ID] = item
	}
	ordered := make([]*WorkItem, 0, len(ids))
	for _, id := range ids {
		item, ok := byID[id]
		if !ok {
			return nil, persistenceError("load items", fmt.Errorf("work item %d vanished after write", id))
		}
		ordered = append(ordered, item)
	}
	return ordered, nil
}
