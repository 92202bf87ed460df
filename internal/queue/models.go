package queue

import (
	"strings"
	"time"
)

// Status represents the lifecycle of a work item.
type Status string

const (
	StatusQueued     Status = "queued"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

var allStatuses = []Status{
	StatusQueued,
	StatusInProgress,
	StatusCompleted,
	StatusFailed,
	StatusCancelled,
}

var statusSet = func() map[Status]struct{} {
	set := make(map[Status]struct{}, len(allStatuses))
	for _, status := range allStatuses {
		set[status] = struct{}{}
	}
	return set
}()

var terminalStatuses = map[Status]struct{}{
	StatusCompleted: {},
	StatusFailed:    {},
	StatusCancelled: {},
}

// AllStatuses returns the ordered list of known statuses.
func AllStatuses() []Status {
	cp := make([]Status, len(allStatuses))
	copy(cp, allStatuses)
	return cp
}

// ParseStatus converts a string into a known Status.
func ParseStatus(value string) (Status, bool) {
	normalized := Status(strings.ToLower(strings.TrimSpace(value)))
	if normalized == "" {
		return "", false
	}
	_, ok := statusSet[normalized]
	return normalized, ok
}

// IsTerminal reports whether the status ends the item's lifecycle.
func (s Status) IsTerminal() bool {
	_, ok := terminalStatuses[s]
	return ok
}

// ItemType identifies the kind of entity that owns a work item.
type ItemType string

const (
	ItemTicket ItemType = "ticket"
	ItemTask   ItemType = "task"
	ItemChat   ItemType = "chat"
	ItemPrompt ItemType = "prompt"
)

// ParseItemType converts a string into a known ItemType.
func ParseItemType(value string) (ItemType, bool) {
	switch t := ItemType(strings.ToLower(strings.TrimSpace(value))); t {
	case ItemTicket, ItemTask, ItemChat, ItemPrompt:
		return t, true
	default:
		return "", false
	}
}

// hasOwnerTable reports whether owner existence can be validated for the type.
func (t ItemType) hasOwnerTable() bool {
	return t == ItemTicket || t == ItemTask
}

// Queue is a named dispatch lane with a concurrency ceiling.
type Queue struct {
	ID               int64
	ProjectID        int64
	Name             string
	Description      string
	MaxParallelItems int
	IsActive         bool
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// QueueConfig describes a queue to create.
type QueueConfig struct {
	ProjectID        int64
	Name             string
	Description      string
	MaxParallelItems int
}

// QueueUpdate carries optional changes to an existing queue. Nil fields are left
// untouched.
type QueueUpdate struct {
	Name             *string
	Description      *string
	MaxParallelItems *int
}

// WorkItem is a unit of admitted work tracked through the queue lifecycle.
type WorkItem struct {
	ID                        int64
	ItemType                  ItemType
	ItemID                    int64
	QueueID                   *int64
	Priority                  int
	Status                    Status
	AgentID                   string
	ErrorMessage              string
	Attempts                  int
	QueuedAt                  *time.Time
	StartedAt                 *time.Time
	CompletedAt               *time.Time
	UpdatedAt                 time.Time
	EstimatedProcessingTimeMs *int64
	ActualProcessingTimeMs    *int64
}

// InQueue reports whether the item belongs to the given queue.
func (w WorkItem) InQueue(queueID int64) bool {
	return w.QueueID != nil && *w.QueueID == queueID
}

// EnqueueRequest describes one item to admit into a queue.
type EnqueueRequest struct {
	ItemType                  ItemType
	ItemID                    int64
	QueueID                   int64
	Priority                  int
	EstimatedProcessingTimeMs *int64
}

// CascadeResult is the outcome of enqueueing a ticket with all of its tasks.
type CascadeResult struct {
	Ticket *WorkItem
	Tasks  []*WorkItem
}

// NoneReason explains why dispatch returned no item.
type NoneReason string

const (
	ReasonPaused               NoneReason = "paused"
	ReasonEmpty                NoneReason = "empty"
	ReasonParallelLimitReached NoneReason = "parallel-limit-reached"
)

// DispatchResult is the outcome of a dispatch call. Item is nil when Reason is set.
type DispatchResult struct {
	Item   *WorkItem
	Reason NoneReason
}

// Claimed reports whether the dispatch call claimed an item.
func (r DispatchResult) Claimed() bool {
	return r.Item != nil
}

// Message renders a human-readable explanation of the outcome.
func (r DispatchResult) Message() string {
	if r.Item != nil {
		return "claimed " + string(r.Item.ItemType)
	}
	switch r.Reason {
	case ReasonPaused:
		return "queue is paused"
	case ReasonParallelLimitReached:
		return "queue is at its parallel processing limit"
	default:
		return "no queued items"
	}
}

// Ticket is an owning entity for ticket work items.
type Ticket struct {
	ID          int64
	ProjectID   int64
	Title       string
	CreatedAt   time.Time
	QueueStatus Status
}

// Task is an owning entity for task work items. Tasks belong to a ticket.
type Task struct {
	ID          int64
	TicketID    int64
	Title       string
	OrderIndex  int
	CreatedAt   time.Time
	QueueStatus Status
}

// DeadLetter is a failed work item relocated out of the active set.
type DeadLetter struct {
	ID           int64
	WorkItemID   int64
	ItemType     ItemType
	ItemID       int64
	QueueID      *int64
	Priority     int
	Attempts     int
	ErrorMessage string
	Reason       string
	FailedAt     *time.Time
	MovedAt      time.Time
}

// QueueStats is an aggregate snapshot of one queue's work items.
type QueueStats struct {
	QueueID         int64
	Queued          int
	InProgress      int
	Completed       int
	Failed          int
	Cancelled       int
	Total           int
	AvgProcessingMs float64
	RefreshedAt     time.Time
}

// ItemFilter narrows ListItems results. Zero values are ignored.
type ItemFilter struct {
	QueueID  int64
	Status   Status
	ItemType ItemType
	Limit    int
}

// CleanupOptions scopes a reconciliation pass.
type CleanupOptions struct {
	// ProjectID limits terminal expiry to queues of one project; 0 covers all.
	ProjectID int64
	// MaxAge is the terminal-item retention threshold; zero uses DefaultMaxAge.
	MaxAge time.Duration
	// DeadLetterAfterAttempts relocates failed items whose attempts reached the
	// value; zero disables the step.
	DeadLetterAfterAttempts int
}

// DefaultMaxAge is the default retention for terminal work items.
const DefaultMaxAge = 7 * 24 * time.Hour

// CleanupResult counts rows removed per reconciliation category.
type CleanupResult struct {
	OrphanedItemsRemoved     int64
	OldCompletedItemsRemoved int64
	InvalidTasksRemoved      int64
	InvalidTicketsRemoved    int64
	DeadLettered             int64
	TotalRemoved             int64
	StatsRefreshed           int
	Errors                   []string
}

// HealthOptions configures health evaluation thresholds.
type HealthOptions struct {
	StuckAfter time.Duration
}

// DefaultStuckAfter is the default age at which an in-progress item is stuck.
const DefaultStuckAfter = time.Hour

// HealthStats aggregates counts for the health report.
type HealthStats struct {
	TotalQueues  int
	ActiveQueues int
	TotalItems   int
	QueuedItems  int
	InProgress   int
	FailedItems  int
	OrphanItems  int
	StuckItems   int
	DeadLetters  int
}

// HealthReport is the read-only health assessment for a project.
type HealthReport struct {
	Healthy bool
	Issues  []string
	Stats   HealthStats
}

// DatabaseHealth captures diagnostic information about the queue database.
type DatabaseHealth struct {
	DBPath           string
	DatabaseExists   bool
	DatabaseReadable bool
	SchemaVersion    int
	TablesPresent    []string
	MissingTables    []string
	IntegrityCheck   bool
	Error            string
}
