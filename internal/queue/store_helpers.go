package queue

import (
	"database/sql"
	"errors"
	"time"
)

// timeLayout is fixed width so stored timestamps sort lexically in time order.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

const queueColumns = "id, project_id, name, description, max_parallel_items, is_active, created_at, updated_at"

const workItemColumns = "id, item_type, item_id, queue_id, priority, status, agent_id, error_message, attempts, queued_at, started_at, completed_at, updated_at, estimated_processing_ms, actual_processing_ms"

const deadLetterColumns = "id, work_item_id, item_type, item_id, queue_id, priority, attempts, error_message, reason, failed_at, moved_at"

type rowScanner interface {
	Scan(dest ...any) error
}

func scanQueue(scanner rowScanner) (*Queue, error) {
	var (
		q           Queue
		description sql.NullString
		isActive    int64
		createdRaw  string
		updatedRaw  string
	)
	if err := scanner.Scan(
		&q.ID,
		&q.ProjectID,
		&q.Name,
		&description,
		&q.MaxParallelItems,
		&isActive,
		&createdRaw,
		&updatedRaw,
	); err != nil {
		return nil, err
	}
	q.Description = description.String
	q.IsActive = isActive != 0
	if created, err := parseTimeString(createdRaw); err == nil {
		q.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw); err == nil {
		q.UpdatedAt = updated
	}
	return &q, nil
}

func scanWorkItem(scanner rowScanner) (*WorkItem, error) {
	var (
		item         WorkItem
		itemType     string
		status       string
		queueID      sql.NullInt64
		agentID      sql.NullString
		errorMessage sql.NullString
		queuedRaw    sql.NullString
		startedRaw   sql.NullString
		completedRaw sql.NullString
		updatedRaw   string
		estimated    sql.NullInt64
		actual       sql.NullInt64
	)
	if err := scanner.Scan(
		&item.ID,
		&itemType,
		&item.ItemID,
		&queueID,
		&item.Priority,
		&status,
		&agentID,
		&errorMessage,
		&item.Attempts,
		&queuedRaw,
		&startedRaw,
		&completedRaw,
		&updatedRaw,
		&estimated,
		&actual,
	); err != nil {
		return nil, err
	}
	item.ItemType = ItemType(itemType)
	item.Status = Status(status)
	item.QueueID = nullInt64Ptr(queueID)
	item.AgentID = agentID.String
	item.ErrorMessage = errorMessage.String
	item.QueuedAt = nullTimePtr(queuedRaw)
	item.StartedAt = nullTimePtr(startedRaw)
	item.CompletedAt = nullTimePtr(completedRaw)
	item.EstimatedProcessingTimeMs = nullInt64Ptr(estimated)
	item.ActualProcessingTimeMs = nullInt64Ptr(actual)
	if updated, err := parseTimeString(updatedRaw); err == nil {
		item.UpdatedAt = updated
	}
	return &item, nil
}

func scanDeadLetter(scanner rowScanner) (*DeadLetter, error) {
	var (
		dl           DeadLetter
		itemType     string
		queueID      sql.NullInt64
		errorMessage sql.NullString
		failedRaw    sql.NullString
		movedRaw     string
	)
	if err := scanner.Scan(
		&dl.ID,
		&dl.WorkItemID,
		&itemType,
		&dl.ItemID,
		&queueID,
		&dl.Priority,
		&dl.Attempts,
		&errorMessage,
		&dl.Reason,
		&failedRaw,
		&movedRaw,
	); err != nil {
		return nil, err
	}
	dl.ItemType = ItemType(itemType)
	dl.QueueID = nullInt64Ptr(queueID)
	dl.ErrorMessage = errorMessage.String
	dl.FailedAt = nullTimePtr(failedRaw)
	if moved, err := parseTimeString(movedRaw); err == nil {
		dl.MovedAt = moved
	}
	return &dl, nil
}

func collectWorkItems(rows *sql.Rows) ([]*WorkItem, error) {
	defer rows.Close()
	var items []*WorkItem
	for rows.Next() {
		item, err := scanWorkItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func nullInt64Ptr(value sql.NullInt64) *int64 {
	if !value.Valid {
		return nil
	}
	v := value.Int64
	return &v
}

func nullTimePtr(value sql.NullString) *time.Time {
	if !value.Valid {
		return nil
	}
	t, err := parseTimeString(value.String)
	if err != nil {
		return nil
	}
	return &t
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func nullableInt64(value *int64) any {
	if value == nil {
		return nil
	}
	return *value
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func boolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02 15:04:05", value)
}

func makePlaceholders(count int) string {
	if count <= 0 {
		return ""
	}
	placeholders := make([]byte, 0, count*2)
	for i := 0; i < count; i++ {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
	}
	return string(placeholders)
}
