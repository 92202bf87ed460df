package api

// dateTimeFormat is used for RFC3339 timestamps in API payloads.
const dateTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// DispatchNone is the dispatch response type when nothing was claimed.
const DispatchNone = "none"

// Queue describes a queue in a transport-friendly format.
type Queue struct {
	ID               int64  `json:"id" yaml:"id"`
	ProjectID        int64  `json:"projectId" yaml:"projectId"`
	Name             string `json:"name" yaml:"name"`
	Description      string `json:"description,omitempty" yaml:"description,omitempty"`
	MaxParallelItems int    `json:"maxParallelItems" yaml:"maxParallelItems"`
	IsActive         bool   `json:"isActive" yaml:"isActive"`
	CreatedAt        string `json:"createdAt,omitempty" yaml:"createdAt,omitempty"`
	UpdatedAt        string `json:"updatedAt,omitempty" yaml:"updatedAt,omitempty"`
}

// QueueDetail pairs a queue with its current statistics snapshot.
type QueueDetail struct {
	Queue Queue      `json:"queue" yaml:"queue"`
	Stats QueueStats `json:"stats" yaml:"stats"`
}

// QueueStats is a per-queue aggregate snapshot.
type QueueStats struct {
	QueueID         int64   `json:"queueId" yaml:"queueId"`
	Queued          int     `json:"queued" yaml:"queued"`
	InProgress      int     `json:"inProgress" yaml:"inProgress"`
	Completed       int     `json:"completed" yaml:"completed"`
	Failed          int     `json:"failed" yaml:"failed"`
	Cancelled       int     `json:"cancelled" yaml:"cancelled"`
	Total           int     `json:"total" yaml:"total"`
	AvgProcessingMs float64 `json:"avgProcessingMs" yaml:"avgProcessingMs"`
	RefreshedAt     string  `json:"refreshedAt,omitempty" yaml:"refreshedAt,omitempty"`
}

// WorkItem describes an admitted unit of work.
type WorkItem struct {
	ID                        int64  `json:"id" yaml:"id"`
	ItemType                  string `json:"itemType" yaml:"itemType"`
	ItemID                    int64  `json:"itemId" yaml:"itemId"`
	QueueID                   *int64 `json:"queueId,omitempty" yaml:"queueId,omitempty"`
	Priority                  int    `json:"priority" yaml:"priority"`
	Status                    string `json:"status" yaml:"status"`
	AgentID                   string `json:"agentId,omitempty" yaml:"agentId,omitempty"`
	ErrorMessage              string `json:"errorMessage,omitempty" yaml:"errorMessage,omitempty"`
	Attempts                  int    `json:"attempts" yaml:"attempts"`
	QueuedAt                  string `json:"queuedAt,omitempty" yaml:"queuedAt,omitempty"`
	StartedAt                 string `json:"startedAt,omitempty" yaml:"startedAt,omitempty"`
	CompletedAt               string `json:"completedAt,omitempty" yaml:"completedAt,omitempty"`
	UpdatedAt                 string `json:"updatedAt,omitempty" yaml:"updatedAt,omitempty"`
	EstimatedProcessingTimeMs *int64 `json:"estimatedProcessingTimeMs,omitempty" yaml:"estimatedProcessingTimeMs,omitempty"`
	ActualProcessingTimeMs    *int64 `json:"actualProcessingTimeMs,omitempty" yaml:"actualProcessingTimeMs,omitempty"`
}

// CascadeResponse is the result of enqueueing a ticket with all its tasks.
type CascadeResponse struct {
	Ticket WorkItem   `json:"ticket" yaml:"ticket"`
	Tasks  []WorkItem `json:"tasks" yaml:"tasks"`
}

// DispatchResponse is the result of a dispatch call.
type DispatchResponse struct {
	Type    string    `json:"type" yaml:"type"`
	Item    *WorkItem `json:"item,omitempty" yaml:"item,omitempty"`
	Reason  string    `json:"reason,omitempty" yaml:"reason,omitempty"`
	Message string    `json:"message,omitempty" yaml:"message,omitempty"`
}

// Ticket describes an owning ticket and, when loaded, its tasks.
type Ticket struct {
	ID          int64  `json:"id" yaml:"id"`
	ProjectID   int64  `json:"projectId" yaml:"projectId"`
	Title       string `json:"title" yaml:"title"`
	QueueStatus string `json:"queueStatus,omitempty" yaml:"queueStatus,omitempty"`
	CreatedAt   string `json:"createdAt,omitempty" yaml:"createdAt,omitempty"`
	Tasks       []Task `json:"tasks,omitempty" yaml:"tasks,omitempty"`
}

// Task describes an owning task.
type Task struct {
	ID          int64  `json:"id" yaml:"id"`
	TicketID    int64  `json:"ticketId" yaml:"ticketId"`
	Title       string `json:"title" yaml:"title"`
	OrderIndex  int    `json:"orderIndex" yaml:"orderIndex"`
	QueueStatus string `json:"queueStatus,omitempty" yaml:"queueStatus,omitempty"`
	CreatedAt   string `json:"createdAt,omitempty" yaml:"createdAt,omitempty"`
}

// DeadLetter describes a failed item relocated out of the active set.
type DeadLetter struct {
	ID           int64  `json:"id" yaml:"id"`
	WorkItemID   int64  `json:"workItemId" yaml:"workItemId"`
	ItemType     string `json:"itemType" yaml:"itemType"`
	ItemID       int64  `json:"itemId" yaml:"itemId"`
	QueueID      *int64 `json:"queueId,omitempty" yaml:"queueId,omitempty"`
	Priority     int    `json:"priority" yaml:"priority"`
	Attempts     int    `json:"attempts" yaml:"attempts"`
	ErrorMessage string `json:"errorMessage,omitempty" yaml:"errorMessage,omitempty"`
	Reason       string `json:"reason" yaml:"reason"`
	FailedAt     string `json:"failedAt,omitempty" yaml:"failedAt,omitempty"`
	MovedAt      string `json:"movedAt" yaml:"movedAt"`
}

// CleanupResponse reports rows removed per reconciliation category.
type CleanupResponse struct {
	OrphanedItemsRemoved     int64    `json:"orphanedItemsRemoved" yaml:"orphanedItemsRemoved"`
	OldCompletedItemsRemoved int64    `json:"oldCompletedItemsRemoved" yaml:"oldCompletedItemsRemoved"`
	InvalidTasksRemoved      int64    `json:"invalidTasksRemoved" yaml:"invalidTasksRemoved"`
	InvalidTicketsRemoved    int64    `json:"invalidTicketsRemoved" yaml:"invalidTicketsRemoved"`
	DeadLettered             int64    `json:"deadLettered" yaml:"deadLettered"`
	TotalRemoved             int64    `json:"totalRemoved" yaml:"totalRemoved"`
	Errors                   []string `json:"errors" yaml:"errors"`
}

// HealthStats mirrors the counts behind a health report.
type HealthStats struct {
	TotalQueues  int `json:"totalQueues" yaml:"totalQueues"`
	ActiveQueues int `json:"activeQueues" yaml:"activeQueues"`
	TotalItems   int `json:"totalItems" yaml:"totalItems"`
	QueuedItems  int `json:"queuedItems" yaml:"queuedItems"`
	InProgress   int `json:"inProgress" yaml:"inProgress"`
	FailedItems  int `json:"failedItems" yaml:"failedItems"`
	OrphanItems  int `json:"orphanItems" yaml:"orphanItems"`
	StuckItems   int `json:"stuckItems" yaml:"stuckItems"`
	DeadLetters  int `json:"deadLetters" yaml:"deadLetters"`
}

// HealthResponse is the read-only health assessment for a project.
type HealthResponse struct {
	Healthy bool        `json:"healthy" yaml:"healthy"`
	Issues  []string    `json:"issues" yaml:"issues"`
	Stats   HealthStats `json:"stats" yaml:"stats"`
}

// DatabaseHealth captures diagnostic information about the queue database.
type DatabaseHealth struct {
	DBPath           string   `json:"dbPath" yaml:"dbPath"`
	DatabaseExists   bool     `json:"databaseExists" yaml:"databaseExists"`
	DatabaseReadable bool     `json:"databaseReadable" yaml:"databaseReadable"`
	SchemaVersion    int      `json:"schemaVersion" yaml:"schemaVersion"`
	TablesPresent    []string `json:"tablesPresent" yaml:"tablesPresent"`
	MissingTables    []string `json:"missingTables,omitempty" yaml:"missingTables,omitempty"`
	IntegrityCheck   bool     `json:"integrityCheck" yaml:"integrityCheck"`
	Error            string   `json:"error,omitempty" yaml:"error,omitempty"`
}

// CountResponse wraps a single affected-row count.
type CountResponse struct {
	Count int64 `json:"count" yaml:"count"`
}

// QueueStatsResponse provides a normalized status count payload.
type QueueStatsResponse struct {
	Counts map[string]int `json:"counts" yaml:"counts"`
}

// ErrorResponse is the body of every non-2xx API response.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// CreateQueueRequest is the body of a queue creation call. A zero
// MaxParallelItems uses the configured default.
type CreateQueueRequest struct {
	ProjectID        int64  `json:"projectId"`
	Name             string `json:"name"`
	Description      string `json:"description"`
	MaxParallelItems int    `json:"maxParallelItems"`
}

// UpdateQueueRequest carries optional queue changes.
type UpdateQueueRequest struct {
	Name             *string `json:"name"`
	Description      *string `json:"description"`
	MaxParallelItems *int    `json:"maxParallelItems"`
}

// EnqueueItemRequest admits one item. A nil Priority uses the configured default.
type EnqueueItemRequest struct {
	ItemType                  string `json:"itemType" yaml:"itemType"`
	ItemID                    int64  `json:"itemId" yaml:"itemId"`
	QueueID                   int64  `json:"queueId" yaml:"queueId"`
	Priority                  *int   `json:"priority" yaml:"priority"`
	EstimatedProcessingTimeMs *int64 `json:"estimatedProcessingTimeMs" yaml:"estimatedProcessingTimeMs"`
}

// BatchEnqueueRequest is the body of a batch admission call. The same shape is
// accepted from YAML manifests by the CLI.
type BatchEnqueueRequest struct {
	Items []EnqueueItemRequest `json:"items" yaml:"items"`
}

// EnqueueOwnerRequest is the body of ticket, task and cascade admission calls.
type EnqueueOwnerRequest struct {
	TicketID int64 `json:"ticketId"`
	TaskID   int64 `json:"taskId"`
	Priority *int  `json:"priority"`
}

// NextRequest is the body of a dispatch call.
type NextRequest struct {
	AgentID string `json:"agentId"`
}

// FailRequest is the body of a failure report.
type FailRequest struct {
	ErrorMessage string `json:"errorMessage"`
}

// CleanupRequest scopes a reconciliation pass. Nil fields use configured defaults.
type CleanupRequest struct {
	ProjectID               *int64 `json:"projectId"`
	MaxAgeMs                *int64 `json:"maxAgeMs"`
	DeadLetterAfterAttempts *int   `json:"deadLetterAfterAttempts"`
}

// DeadLetterRequest scopes a dead-letter relocation; zero covers every queue.
type DeadLetterRequest struct {
	QueueID int64 `json:"queueId"`
}

// CreateTicketRequest creates a ticket and, optionally, its tasks in order.
type CreateTicketRequest struct {
	ProjectID int64    `json:"projectId"`
	Title     string   `json:"title"`
	Tasks     []string `json:"tasks"`
}

// AddTaskRequest appends a task to a ticket.
type AddTaskRequest struct {
	Title string `json:"title"`
}

// ItemQuery narrows item listings. Empty strings are ignored.
type ItemQuery struct {
	QueueID  int64
	Status   string
	ItemType string
	Limit    int
}

// DaemonStatus reports daemon runtime information.
type DaemonStatus struct {
	Running         bool           `json:"running" yaml:"running"`
	PID             int            `json:"pid" yaml:"pid"`
	StartedAt       string         `json:"startedAt,omitempty" yaml:"startedAt,omitempty"`
	QueueDBPath     string         `json:"queueDbPath" yaml:"queueDbPath"`
	LockFilePath    string         `json:"lockFilePath" yaml:"lockFilePath"`
	APIAddress      string         `json:"apiAddress,omitempty" yaml:"apiAddress,omitempty"`
	CleanupSchedule string         `json:"cleanupSchedule,omitempty" yaml:"cleanupSchedule,omitempty"`
	NextCleanup     string         `json:"nextCleanup,omitempty" yaml:"nextCleanup,omitempty"`
	LastCleanup     string         `json:"lastCleanup,omitempty" yaml:"lastCleanup,omitempty"`
	LastCleanupErr  string         `json:"lastCleanupError,omitempty" yaml:"lastCleanupError,omitempty"`
	Counts          map[string]int `json:"counts,omitempty" yaml:"counts,omitempty"`
}

// RetryFailedRequest limits a retry to specific work item ids; empty retries all.
type RetryFailedRequest struct {
	IDs []int64 `json:"ids"`
}
