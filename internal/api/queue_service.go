package api

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"queueflow/internal/config"
	"queueflow/internal/queue"
)

// QueueStore abstracts the queue persistence operations the service exposes.
// *queue.Store satisfies it.
type QueueStore interface {
	CreateQueue(ctx context.Context, cfg queue.QueueConfig) (*queue.Queue, error)
	GetQueue(ctx context.Context, id int64) (*queue.Queue, error)
	ListQueues(ctx context.Context, projectID int64) ([]*queue.Queue, error)
	UpdateQueue(ctx context.Context, id int64, update queue.QueueUpdate) (*queue.Queue, error)
	PauseQueue(ctx context.Context, id int64) error
	ResumeQueue(ctx context.Context, id int64) error
	DeleteQueue(ctx context.Context, id int64) (int64, error)
	ResetQueue(ctx context.Context, queueID int64) (int64, error)

	CreateTicket(ctx context.Context, projectID int64, title string) (*queue.Ticket, error)
	CreateTask(ctx context.Context, ticketID int64, title string) (*queue.Task, error)
	GetTicket(ctx context.Context, id int64) (*queue.Ticket, error)
	ListTasks(ctx context.Context, ticketID int64) ([]*queue.Task, error)
	DeleteTicket(ctx context.Context, id int64) (bool, error)
	DeleteTask(ctx context.Context, id int64) (bool, error)

	EnqueueItem(ctx context.Context, req queue.EnqueueRequest) (*queue.WorkItem, error)
	EnqueueTicketWithAllTasks(ctx context.Context, queueID, ticketID int64, priority int) (*queue.CascadeResult, error)
	BatchEnqueueItems(ctx context.Context, reqs []queue.EnqueueRequest) ([]*queue.WorkItem, error)

	GetNext(ctx context.Context, queueID int64, agentID string) (queue.DispatchResult, error)
	CompleteItem(ctx context.Context, itemType queue.ItemType, itemID int64) (*queue.WorkItem, error)
	FailItem(ctx context.Context, itemType queue.ItemType, itemID int64, message string) (*queue.WorkItem, error)
	RequeueItem(ctx context.Context, itemType queue.ItemType, itemID int64) (*queue.WorkItem, error)
	CancelItem(ctx context.Context, itemType queue.ItemType, itemID int64) (*queue.WorkItem, error)
	GetItem(ctx context.Context, itemType queue.ItemType, itemID int64) (*queue.WorkItem, error)
	ListItems(ctx context.Context, filter queue.ItemFilter) ([]*queue.WorkItem, error)
	RetryFailed(ctx context.Context, queueID int64, ids ...int64) (int64, error)

	Cleanup(ctx context.Context, opts queue.CleanupOptions) (queue.CleanupResult, error)
	MoveFailedToDeadLetter(ctx context.Context, queueID int64) (int64, error)
	ListDeadLetters(ctx context.Context, queueID int64) ([]*queue.DeadLetter, error)
	RefreshStats(ctx context.Context) ([]queue.QueueStats, error)
	QueueStats(ctx context.Context, queueID int64) (queue.QueueStats, error)
	Stats(ctx context.Context) (map[queue.Status]int, error)
	Health(ctx context.Context, projectID int64, opts queue.HealthOptions) (queue.HealthReport, error)
	CheckDatabase(ctx context.Context) (queue.DatabaseHealth, error)
}

// Observer receives dispatch and cleanup outcomes. The daemon's metrics
// collector implements it.
type Observer interface {
	ObserveDispatch(queueID int64, outcome string)
	ObserveCleanup(result CleanupResponse)
	ObserveStats(stats []QueueStats)
}

// Defaults carries configured fallbacks for omitted request fields.
type Defaults struct {
	MaxParallelItems        int
	Priority                int
	CleanupProjectID        int64
	CleanupMaxAge           time.Duration
	DeadLetterAfterAttempts int
	StuckAfter              time.Duration
}

// DefaultsFromConfig derives request defaults from configuration.
func DefaultsFromConfig(cfg *config.Config) Defaults {
	if cfg == nil {
		return Defaults{MaxParallelItems: 1}
	}
	return Defaults{
		MaxParallelItems:        cfg.Queue.DefaultMaxParallelItems,
		Priority:                cfg.Queue.DefaultPriority,
		CleanupProjectID:        cfg.Cleanup.ProjectID,
		CleanupMaxAge:           cfg.CleanupMaxAge(),
		DeadLetterAfterAttempts: cfg.Cleanup.DeadLetterAfterAttempts,
		StuckAfter:              cfg.StuckAfter(),
	}
}

// ServiceOption configures a QueueService.
type ServiceOption func(*QueueService)

// WithDefaults sets request defaults.
func WithDefaults(defaults Defaults) ServiceOption {
	return func(s *QueueService) {
		s.defaults = defaults
	}
}

// WithObserver registers an outcome observer.
func WithObserver(observer Observer) ServiceOption {
	return func(s *QueueService) {
		s.observer = observer
	}
}

// QueueService exposes queue operations returning API DTOs.
type QueueService struct {
	store    QueueStore
	defaults Defaults
	observer Observer
}

// NewQueueService constructs a QueueService around the provided store.
func NewQueueService(store QueueStore, opts ...ServiceOption) *QueueService {
	if store == nil {
		return nil
	}
	svc := &QueueService{store: store, defaults: Defaults{MaxParallelItems: 1}}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

// CreateQueue registers a queue.
func (s *QueueService) CreateQueue(ctx context.Context, req CreateQueueRequest) (Queue, error) {
	maxParallel := req.MaxParallelItems
	if maxParallel == 0 {
		maxParallel = s.defaults.MaxParallelItems
	}
	q, err := s.store.CreateQueue(ctx, queue.QueueConfig{
		ProjectID:        req.ProjectID,
		Name:             req.Name,
		Description:      req.Description,
		MaxParallelItems: maxParallel,
	})
	if err != nil {
		return Queue{}, err
	}
	return FromQueue(q), nil
}

// ListQueues returns queues, optionally limited to one project (0 covers all).
func (s *QueueService) ListQueues(ctx context.Context, projectID int64) ([]Queue, error) {
	queues, err := s.store.ListQueues(ctx, projectID)
	if err != nil {
		return nil, err
	}
	return FromQueues(queues), nil
}

// DescribeQueue returns a queue with a freshly computed statistics snapshot.
func (s *QueueService) DescribeQueue(ctx context.Context, id int64) (QueueDetail, error) {
	q, err := s.store.GetQueue(ctx, id)
	if err != nil {
		return QueueDetail{}, err
	}
	stats, err := s.store.QueueStats(ctx, id)
	if err != nil {
		return QueueDetail{}, err
	}
	return QueueDetail{Queue: FromQueue(q), Stats: FromQueueStats(stats)}, nil
}

// UpdateQueue applies optional changes to a queue.
func (s *QueueService) UpdateQueue(ctx context.Context, id int64, req UpdateQueueRequest) (Queue, error) {
	q, err := s.store.UpdateQueue(ctx, id, queue.QueueUpdate{
		Name:             req.Name,
		Description:      req.Description,
		MaxParallelItems: req.MaxParallelItems,
	})
	if err != nil {
		return Queue{}, err
	}
	return FromQueue(q), nil
}

// PauseQueue stops dispatch from a queue and returns its new state.
func (s *QueueService) PauseQueue(ctx context.Context, id int64) (Queue, error) {
	if err := s.store.PauseQueue(ctx, id); err != nil {
		return Queue{}, err
	}
	return s.queue(ctx, id)
}

// ResumeQueue re-enables dispatch from a queue and returns its new state.
func (s *QueueService) ResumeQueue(ctx context.Context, id int64) (Queue, error) {
	if err := s.store.ResumeQueue(ctx, id); err != nil {
		return Queue{}, err
	}
	return s.queue(ctx, id)
}

func (s *QueueService) queue(ctx context.Context, id int64) (Queue, error) {
	q, err := s.store.GetQueue(ctx, id)
	if err != nil {
		return Queue{}, err
	}
	return FromQueue(q), nil
}

// DeleteQueue removes a queue and its work items.
func (s *QueueService) DeleteQueue(ctx context.Context, id int64) (CountResponse, error) {
	removed, err := s.store.DeleteQueue(ctx, id)
	if err != nil {
		return CountResponse{}, err
	}
	return CountResponse{Count: removed}, nil
}

// ResetQueue removes every unclaimed item from a queue.
func (s *QueueService) ResetQueue(ctx context.Context, id int64) (CountResponse, error) {
	removed, err := s.store.ResetQueue(ctx, id)
	if err != nil {
		return CountResponse{}, err
	}
	return CountResponse{Count: removed}, nil
}

// CreateTicket creates a ticket followed by its tasks in the given order.
func (s *QueueService) CreateTicket(ctx context.Context, req CreateTicketRequest) (Ticket, error) {
	ticket, err := s.store.CreateTicket(ctx, req.ProjectID, req.Title)
	if err != nil {
		return Ticket{}, err
	}
	tasks := make([]*queue.Task, 0, len(req.Tasks))
	for _, title := range req.Tasks {
		task, err := s.store.CreateTask(ctx, ticket.ID, title)
		if err != nil {
			return Ticket{}, fmt.Errorf("create task %q: %w", title, err)
		}
		tasks = append(tasks, task)
	}
	return FromTicket(ticket, tasks), nil
}

// DescribeTicket returns a ticket and its tasks with derived queue statuses.
func (s *QueueService) DescribeTicket(ctx context.Context, id int64) (Ticket, error) {
	ticket, err := s.store.GetTicket(ctx, id)
	if err != nil {
		return Ticket{}, err
	}
	tasks, err := s.store.ListTasks(ctx, id)
	if err != nil {
		return Ticket{}, err
	}
	return FromTicket(ticket, tasks), nil
}

// AddTask appends a task to an existing ticket.
func (s *QueueService) AddTask(ctx context.Context, ticketID int64, title string) (Task, error) {
	task, err := s.store.CreateTask(ctx, ticketID, title)
	if err != nil {
		return Task{}, err
	}
	return FromTask(task), nil
}

// DeleteTicket removes a ticket and its tasks. Their work items become
// orphans for the next cleanup pass.
func (s *QueueService) DeleteTicket(ctx context.Context, id int64) (CountResponse, error) {
	return countDeleted(s.store.DeleteTicket(ctx, id))
}

// DeleteTask removes a task, leaving its work item for cleanup.
func (s *QueueService) DeleteTask(ctx context.Context, id int64) (CountResponse, error) {
	return countDeleted(s.store.DeleteTask(ctx, id))
}

func countDeleted(deleted bool, err error) (CountResponse, error) {
	if err != nil {
		return CountResponse{}, err
	}
	if !deleted {
		return CountResponse{}, nil
	}
	return CountResponse{Count: 1}, nil
}

// Enqueue admits one item of any type.
func (s *QueueService) Enqueue(ctx context.Context, req EnqueueItemRequest) (WorkItem, error) {
	converted, err := s.enqueueRequest(req)
	if err != nil {
		return WorkItem{}, err
	}
	item, err := s.store.EnqueueItem(ctx, converted)
	if err != nil {
		return WorkItem{}, err
	}
	return FromWorkItem(item), nil
}

// EnqueueTicket admits a ticket into a queue.
func (s *QueueService) EnqueueTicket(ctx context.Context, queueID, ticketID int64, priority *int) (WorkItem, error) {
	return s.Enqueue(ctx, EnqueueItemRequest{ItemType: string(queue.ItemTicket), ItemID: ticketID, QueueID: queueID, Priority: priority})
}

// EnqueueTask admits a task into a queue.
func (s *QueueService) EnqueueTask(ctx context.Context, queueID, taskID int64, priority *int) (WorkItem, error) {
	return s.Enqueue(ctx, EnqueueItemRequest{ItemType: string(queue.ItemTask), ItemID: taskID, QueueID: queueID, Priority: priority})
}

// EnqueueTicketWithAllTasks admits a ticket and all of its tasks atomically.
func (s *QueueService) EnqueueTicketWithAllTasks(ctx context.Context, queueID, ticketID int64, priority *int) (CascadeResponse, error) {
	result, err := s.store.EnqueueTicketWithAllTasks(ctx, queueID, ticketID, s.priority(priority))
	if err != nil {
		return CascadeResponse{}, err
	}
	return FromCascadeResult(result), nil
}

// BatchEnqueue admits a heterogeneous list atomically.
func (s *QueueService) BatchEnqueue(ctx context.Context, reqs []EnqueueItemRequest) ([]WorkItem, error) {
	if len(reqs) == 0 {
		return nil, fmt.Errorf("%w: batch is empty", queue.ErrInvalidInput)
	}
	converted := make([]queue.EnqueueRequest, 0, len(reqs))
	for _, req := range reqs {
		c, err := s.enqueueRequest(req)
		if err != nil {
			return nil, err
		}
		converted = append(converted, c)
	}
	items, err := s.store.BatchEnqueueItems(ctx, converted)
	if err != nil {
		return nil, err
	}
	return FromWorkItems(items), nil
}

func (s *QueueService) enqueueRequest(req EnqueueItemRequest) (queue.EnqueueRequest, error) {
	itemType, err := parseItemType(req.ItemType)
	if err != nil {
		return queue.EnqueueRequest{}, err
	}
	return queue.EnqueueRequest{
		ItemType:                  itemType,
		ItemID:                    req.ItemID,
		QueueID:                   req.QueueID,
		Priority:                  s.priority(req.Priority),
		EstimatedProcessingTimeMs: req.EstimatedProcessingTimeMs,
	}, nil
}

func (s *QueueService) priority(p *int) int {
	if p == nil {
		return s.defaults.Priority
	}
	return *p
}

// Next claims the next eligible item for agentID.
func (s *QueueService) Next(ctx context.Context, queueID int64, agentID string) (DispatchResponse, error) {
	result, err := s.store.GetNext(ctx, queueID, agentID)
	if err != nil {
		if errors.Is(err, queue.ErrQueueNotFound) {
			queueID = 0
		}
		s.observeDispatch(queueID, "error")
		return DispatchResponse{}, err
	}
	resp := FromDispatchResult(result)
	outcome := "claimed"
	if !result.Claimed() {
		outcome = resp.Reason
	}
	s.observeDispatch(queueID, outcome)
	return resp, nil
}

func (s *QueueService) observeDispatch(queueID int64, outcome string) {
	if s.observer != nil {
		s.observer.ObserveDispatch(queueID, outcome)
	}
}

// Complete marks a claimed item completed.
func (s *QueueService) Complete(ctx context.Context, itemType string, itemID int64) (WorkItem, error) {
	return s.transition(ctx, itemType, itemID, s.store.CompleteItem)
}

// Fail marks a claimed item failed with message.
func (s *QueueService) Fail(ctx context.Context, itemType string, itemID int64, message string) (WorkItem, error) {
	return s.transition(ctx, itemType, itemID, func(ctx context.Context, t queue.ItemType, id int64) (*queue.WorkItem, error) {
		return s.store.FailItem(ctx, t, id, message)
	})
}

// Requeue returns a failed or cancelled item to queued.
func (s *QueueService) Requeue(ctx context.Context, itemType string, itemID int64) (WorkItem, error) {
	return s.transition(ctx, itemType, itemID, s.store.RequeueItem)
}

// Cancel withdraws a queued item.
func (s *QueueService) Cancel(ctx context.Context, itemType string, itemID int64) (WorkItem, error) {
	return s.transition(ctx, itemType, itemID, s.store.CancelItem)
}

func (s *QueueService) transition(
	ctx context.Context,
	itemType string,
	itemID int64,
	fn func(context.Context, queue.ItemType, int64) (*queue.WorkItem, error),
) (WorkItem, error) {
	parsed, err := parseItemType(itemType)
	if err != nil {
		return WorkItem{}, err
	}
	item, err := fn(ctx, parsed, itemID)
	if err != nil {
		return WorkItem{}, err
	}
	return FromWorkItem(item), nil
}

// DescribeItem fetches the work item of an owner, or nil when it was never enqueued.
func (s *QueueService) DescribeItem(ctx context.Context, itemType string, itemID int64) (*WorkItem, error) {
	parsed, err := parseItemType(itemType)
	if err != nil {
		return nil, err
	}
	item, err := s.store.GetItem(ctx, parsed, itemID)
	if err != nil || item == nil {
		return nil, err
	}
	dto := FromWorkItem(item)
	return &dto, nil
}

// ListItems returns work items matching the query in dispatch order.
func (s *QueueService) ListItems(ctx context.Context, query ItemQuery) ([]WorkItem, error) {
	filter := queue.ItemFilter{QueueID: query.QueueID, Limit: query.Limit}
	if strings.TrimSpace(query.Status) != "" {
		status, ok := queue.ParseStatus(query.Status)
		if !ok {
			return nil, fmt.Errorf("%w: unknown status %q", queue.ErrInvalidInput, query.Status)
		}
		filter.Status = status
	}
	if strings.TrimSpace(query.ItemType) != "" {
		itemType, err := parseItemType(query.ItemType)
		if err != nil {
			return nil, err
		}
		filter.ItemType = itemType
	}
	items, err := s.store.ListItems(ctx, filter)
	if err != nil {
		return nil, err
	}
	return FromWorkItems(items), nil
}

// RetryFailed requeues failed items of a queue, optionally limited to ids.
func (s *QueueService) RetryFailed(ctx context.Context, queueID int64, ids ...int64) (CountResponse, error) {
	retried, err := s.store.RetryFailed(ctx, queueID, ids...)
	if err != nil {
		return CountResponse{}, err
	}
	return CountResponse{Count: retried}, nil
}

// Cleanup runs a reconciliation pass, filling omitted options from defaults.
func (s *QueueService) Cleanup(ctx context.Context, req CleanupRequest) (CleanupResponse, error) {
	opts := queue.CleanupOptions{
		ProjectID:               s.defaults.CleanupProjectID,
		MaxAge:                  s.defaults.CleanupMaxAge,
		DeadLetterAfterAttempts: s.defaults.DeadLetterAfterAttempts,
	}
	if req.ProjectID != nil {
		opts.ProjectID = *req.ProjectID
	}
	if req.MaxAgeMs != nil {
		if *req.MaxAgeMs <= 0 {
			return CleanupResponse{}, fmt.Errorf("%w: maxAgeMs must be positive", queue.ErrInvalidInput)
		}
		opts.MaxAge = time.Duration(*req.MaxAgeMs) * time.Millisecond
	}
	if req.DeadLetterAfterAttempts != nil {
		if *req.DeadLetterAfterAttempts < 0 {
			return CleanupResponse{}, fmt.Errorf("%w: deadLetterAfterAttempts must not be negative", queue.ErrInvalidInput)
		}
		opts.DeadLetterAfterAttempts = *req.DeadLetterAfterAttempts
	}

	result, err := s.store.Cleanup(ctx, opts)
	if err != nil {
		return CleanupResponse{}, err
	}
	resp := FromCleanupResult(result)
	if s.observer != nil {
		s.observer.ObserveCleanup(resp)
	}
	return resp, nil
}

// MoveFailedToDeadLetter relocates failed items; queueID 0 covers all queues.
func (s *QueueService) MoveFailedToDeadLetter(ctx context.Context, queueID int64) (CountResponse, error) {
	moved, err := s.store.MoveFailedToDeadLetter(ctx, queueID)
	if err != nil {
		return CountResponse{}, err
	}
	return CountResponse{Count: moved}, nil
}

// ListDeadLetters returns relocated failures newest first.
func (s *QueueService) ListDeadLetters(ctx context.Context, queueID int64) ([]DeadLetter, error) {
	letters, err := s.store.ListDeadLetters(ctx, queueID)
	if err != nil {
		return nil, err
	}
	return FromDeadLetters(letters), nil
}

// RefreshStats recomputes every queue's snapshot and forwards it to the observer.
func (s *QueueService) RefreshStats(ctx context.Context) ([]QueueStats, error) {
	stats, err := s.store.RefreshStats(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]QueueStats, 0, len(stats))
	for _, st := range stats {
		out = append(out, FromQueueStats(st))
	}
	if s.observer != nil {
		s.observer.ObserveStats(out)
	}
	return out, nil
}

// Stats returns work item counts keyed by status string.
func (s *QueueService) Stats(ctx context.Context) (map[string]int, error) {
	stats, err := s.store.Stats(ctx)
	if err != nil {
		return nil, err
	}
	return MergeQueueStats(stats), nil
}

// Health evaluates queue health for a project (0 covers all).
func (s *QueueService) Health(ctx context.Context, projectID int64) (HealthResponse, error) {
	report, err := s.store.Health(ctx, projectID, queue.HealthOptions{StuckAfter: s.defaults.StuckAfter})
	if err != nil {
		return HealthResponse{}, err
	}
	return FromHealthReport(report), nil
}

// CheckDatabase reports database file, schema and integrity diagnostics.
func (s *QueueService) CheckDatabase(ctx context.Context) (DatabaseHealth, error) {
	health, err := s.store.CheckDatabase(ctx)
	if err != nil {
		return DatabaseHealth{}, err
	}
	return FromDatabaseHealth(health), nil
}

func parseItemType(value string) (queue.ItemType, error) {
	itemType, ok := queue.ParseItemType(value)
	if !ok {
		return "", fmt.Errorf("%w: unknown item type %q", queue.ErrInvalidInput, value)
	}
	return itemType, nil
}
