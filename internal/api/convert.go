package api

import (
	"time"

	"queueflow/internal/queue"
)

// FromQueue converts a queue record to its API representation.
func FromQueue(q *queue.Queue) Queue {
	if q == nil {
		return Queue{}
	}
	return Queue{
		ID:               q.ID,
		ProjectID:        q.ProjectID,
		Name:             q.Name,
		Description:      q.Description,
		MaxParallelItems: q.MaxParallelItems,
		IsActive:         q.IsActive,
		CreatedAt:        FormatTime(q.CreatedAt),
		UpdatedAt:        FormatTime(q.UpdatedAt),
	}
}

// FromQueues converts a slice of queue records into API DTOs.
func FromQueues(queues []*queue.Queue) []Queue {
	out := make([]Queue, 0, len(queues))
	for _, q := range queues {
		out = append(out, FromQueue(q))
	}
	return out
}

// FromWorkItem converts a work item record to its API representation.
func FromWorkItem(item *queue.WorkItem) WorkItem {
	if item == nil {
		return WorkItem{}
	}
	return WorkItem{
		ID:                        item.ID,
		ItemType:                  string(item.ItemType),
		ItemID:                    item.ItemID,
		QueueID:                   item.QueueID,
		Priority:                  item.Priority,
		Status:                    string(item.Status),
		AgentID:                   item.AgentID,
		ErrorMessage:              item.ErrorMessage,
		Attempts:                  item.Attempts,
		QueuedAt:                  formatTimePtr(item.QueuedAt),
		StartedAt:                 formatTimePtr(item.StartedAt),
		CompletedAt:               formatTimePtr(item.CompletedAt),
		UpdatedAt:                 FormatTime(item.UpdatedAt),
		EstimatedProcessingTimeMs: item.EstimatedProcessingTimeMs,
		ActualProcessingTimeMs:    item.ActualProcessingTimeMs,
	}
}

// FromWorkItems converts a slice of work items into API DTOs.
func FromWorkItems(items []*queue.WorkItem) []WorkItem {
	out := make([]WorkItem, 0, len(items))
	for _, item := range items {
		out = append(out, FromWorkItem(item))
	}
	return out
}

// FromCascadeResult converts a cascade enqueue outcome.
func FromCascadeResult(result *queue.CascadeResult) CascadeResponse {
	if result == nil {
		return CascadeResponse{Tasks: []WorkItem{}}
	}
	return CascadeResponse{
		Ticket: FromWorkItem(result.Ticket),
		Tasks:  FromWorkItems(result.Tasks),
	}
}

// FromDispatchResult converts a dispatch outcome. The response type is the
// claimed item's type, or "none" with a reason.
func FromDispatchResult(result queue.DispatchResult) DispatchResponse {
	if result.Claimed() {
		item := FromWorkItem(result.Item)
		return DispatchResponse{Type: item.ItemType, Item: &item}
	}
	return DispatchResponse{
		Type:    DispatchNone,
		Reason:  string(result.Reason),
		Message: result.Message(),
	}
}

// FromTicket converts a ticket and its tasks.
func FromTicket(ticket *queue.Ticket, tasks []*queue.Task) Ticket {
	if ticket == nil {
		return Ticket{}
	}
	dto := Ticket{
		ID:          ticket.ID,
		ProjectID:   ticket.ProjectID,
		Title:       ticket.Title,
		QueueStatus: string(ticket.QueueStatus),
		CreatedAt:   FormatTime(ticket.CreatedAt),
	}
	for _, task := range tasks {
		dto.Tasks = append(dto.Tasks, FromTask(task))
	}
	return dto
}

// FromTask converts a task record.
func FromTask(task *queue.Task) Task {
	if task == nil {
		return Task{}
	}
	return Task{
		ID:          task.ID,
		TicketID:    task.TicketID,
		Title:       task.Title,
		OrderIndex:  task.OrderIndex,
		QueueStatus: string(task.QueueStatus),
		CreatedAt:   FormatTime(task.CreatedAt),
	}
}

// FromDeadLetters converts dead-letter records into API DTOs.
func FromDeadLetters(letters []*queue.DeadLetter) []DeadLetter {
	out := make([]DeadLetter, 0, len(letters))
	for _, dl := range letters {
		if dl == nil {
			continue
		}
		out = append(out, DeadLetter{
			ID:           dl.ID,
			WorkItemID:   dl.WorkItemID,
			ItemType:     string(dl.ItemType),
			ItemID:       dl.ItemID,
			QueueID:      dl.QueueID,
			Priority:     dl.Priority,
			Attempts:     dl.Attempts,
			ErrorMessage: dl.ErrorMessage,
			Reason:       dl.Reason,
			FailedAt:     formatTimePtr(dl.FailedAt),
			MovedAt:      FormatTime(dl.MovedAt),
		})
	}
	return out
}

// FromQueueStats converts a statistics snapshot.
func FromQueueStats(stats queue.QueueStats) QueueStats {
	return QueueStats{
		QueueID:         stats.QueueID,
		Queued:          stats.Queued,
		InProgress:      stats.InProgress,
		Completed:       stats.Completed,
		Failed:          stats.Failed,
		Cancelled:       stats.Cancelled,
		Total:           stats.Total,
		AvgProcessingMs: stats.AvgProcessingMs,
		RefreshedAt:     FormatTime(stats.RefreshedAt),
	}
}

// FromCleanupResult converts reconciliation counts. Errors is never nil so
// clients always see an array.
func FromCleanupResult(result queue.CleanupResult) CleanupResponse {
	errs := result.Errors
	if errs == nil {
		errs = []string{}
	}
	return CleanupResponse{
		OrphanedItemsRemoved:     result.OrphanedItemsRemoved,
		OldCompletedItemsRemoved: result.OldCompletedItemsRemoved,
		InvalidTasksRemoved:      result.InvalidTasksRemoved,
		InvalidTicketsRemoved:    result.InvalidTicketsRemoved,
		DeadLettered:             result.DeadLettered,
		TotalRemoved:             result.TotalRemoved,
		Errors:                   errs,
	}
}

// FromHealthReport converts a health assessment.
func FromHealthReport(report queue.HealthReport) HealthResponse {
	issues := report.Issues
	if issues == nil {
		issues = []string{}
	}
	s := report.Stats
	return HealthResponse{
		Healthy: report.Healthy,
		Issues:  issues,
		Stats: HealthStats{
			TotalQueues:  s.TotalQueues,
			ActiveQueues: s.ActiveQueues,
			TotalItems:   s.TotalItems,
			QueuedItems:  s.QueuedItems,
			InProgress:   s.InProgress,
			FailedItems:  s.FailedItems,
			OrphanItems:  s.OrphanItems,
			StuckItems:   s.StuckItems,
			DeadLetters:  s.DeadLetters,
		},
	}
}

// FromDatabaseHealth converts database diagnostics.
func FromDatabaseHealth(health queue.DatabaseHealth) DatabaseHealth {
	return DatabaseHealth{
		DBPath:           health.DBPath,
		DatabaseExists:   health.DatabaseExists,
		DatabaseReadable: health.DatabaseReadable,
		SchemaVersion:    health.SchemaVersion,
		TablesPresent:    health.TablesPresent,
		MissingTables:    health.MissingTables,
		IntegrityCheck:   health.IntegrityCheck,
		Error:            health.Error,
	}
}

// MergeQueueStats produces a string-keyed representation of status counts with
// every known status present.
func MergeQueueStats(stats map[queue.Status]int) map[string]int {
	out := make(map[string]int, len(stats))
	for _, status := range queue.AllStatuses() {
		out[string(status)] = 0
	}
	for status, count := range stats {
		out[string(status)] = count
	}
	return out
}

// FormatTime converts a time to RFC3339 or returns empty string.
func FormatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(dateTimeFormat)
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return FormatTime(*t)
}
