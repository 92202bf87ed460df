package api

import (
	"context"
	"errors"

	"queueflow/internal/queue"
)

// QueueActionService captures the per-item operations bulk requeue and cancel
// workflows need. *QueueService satisfies it.
type QueueActionService interface {
	DescribeItem(ctx context.Context, itemType string, itemID int64) (*WorkItem, error)
	Requeue(ctx context.Context, itemType string, itemID int64) (WorkItem, error)
	Cancel(ctx context.Context, itemType string, itemID int64) (WorkItem, error)
}

type RequeueItemOutcome string

const (
	RequeueItemUpdated      RequeueItemOutcome = "requeued"
	RequeueItemNotFound     RequeueItemOutcome = "not_found"
	RequeueItemNotRetryable RequeueItemOutcome = "not_retryable"
)

type RequeueItemResult struct {
	Ref         ItemRef            `json:"ref" yaml:"ref"`
	Outcome     RequeueItemOutcome `json:"outcome" yaml:"outcome"`
	PriorStatus string             `json:"priorStatus,omitempty" yaml:"priorStatus,omitempty"`
}

type RequeueItemsResult struct {
	UpdatedCount int64               `json:"updatedCount" yaml:"updatedCount"`
	Items        []RequeueItemResult `json:"items" yaml:"items"`
}

type CancelItemOutcome string

const (
	CancelItemUpdated    CancelItemOutcome = "cancelled"
	CancelItemNotFound   CancelItemOutcome = "not_found"
	CancelItemInProgress CancelItemOutcome = "in_progress"
	CancelItemFinished   CancelItemOutcome = "already_finished"
)

type CancelItemResult struct {
	Ref         ItemRef           `json:"ref" yaml:"ref"`
	Outcome     CancelItemOutcome `json:"outcome" yaml:"outcome"`
	PriorStatus string            `json:"priorStatus,omitempty" yaml:"priorStatus,omitempty"`
}

type CancelItemsResult struct {
	UpdatedCount int64              `json:"updatedCount" yaml:"updatedCount"`
	Items        []CancelItemResult `json:"items" yaml:"items"`
}

// RequeueItems requeues each referenced item that is failed or cancelled and
// reports a per-item outcome. Storage failures abort the whole run.
func RequeueItems(ctx context.Context, service QueueActionService, refs []ItemRef) (RequeueItemsResult, error) {
	result := RequeueItemsResult{Items: make([]RequeueItemResult, 0, len(refs))}
	for _, ref := range refs {
		item, err := service.DescribeItem(ctx, ref.Type, ref.ID)
		if err != nil {
			return RequeueItemsResult{}, err
		}
		if item == nil {
			result.Items = append(result.Items, RequeueItemResult{Ref: ref, Outcome: RequeueItemNotFound})
			continue
		}
		status, _ := queue.ParseStatus(item.Status)
		if status != queue.StatusFailed && status != queue.StatusCancelled {
			result.Items = append(result.Items, RequeueItemResult{Ref: ref, Outcome: RequeueItemNotRetryable, PriorStatus: item.Status})
			continue
		}
		if _, err := service.Requeue(ctx, ref.Type, ref.ID); err != nil {
			if errors.Is(err, queue.ErrInvalidTransition) {
				result.Items = append(result.Items, RequeueItemResult{Ref: ref, Outcome: RequeueItemNotRetryable, PriorStatus: item.Status})
				continue
			}
			return RequeueItemsResult{}, err
		}
		result.UpdatedCount++
		result.Items = append(result.Items, RequeueItemResult{Ref: ref, Outcome: RequeueItemUpdated, PriorStatus: item.Status})
	}
	return result, nil
}

// CancelItems cancels each referenced item that is still queued and reports a
// per-item outcome. Storage failures abort the whole run.
func CancelItems(ctx context.Context, service QueueActionService, refs []ItemRef) (CancelItemsResult, error) {
	result := CancelItemsResult{Items: make([]CancelItemResult, 0, len(refs))}
	for _, ref := range refs {
		item, err := service.DescribeItem(ctx, ref.Type, ref.ID)
		if err != nil {
			return CancelItemsResult{}, err
		}
		if item == nil {
			result.Items = append(result.Items, CancelItemResult{Ref: ref, Outcome: CancelItemNotFound})
			continue
		}
		status, _ := queue.ParseStatus(item.Status)
		switch {
		case status == queue.StatusInProgress:
			result.Items = append(result.Items, CancelItemResult{Ref: ref, Outcome: CancelItemInProgress, PriorStatus: item.Status})
			continue
		case status.IsTerminal():
			result.Items = append(result.Items, CancelItemResult{Ref: ref, Outcome: CancelItemFinished, PriorStatus: item.Status})
			continue
		}
		if _, err := service.Cancel(ctx, ref.Type, ref.ID); err != nil {
			if errors.Is(err, queue.ErrInvalidTransition) {
				result.Items = append(result.Items, CancelItemResult{Ref: ref, Outcome: CancelItemInProgress, PriorStatus: item.Status})
				continue
			}
			return CancelItemsResult{}, err
		}
		result.UpdatedCount++
		result.Items = append(result.Items, CancelItemResult{Ref: ref, Outcome: CancelItemUpdated, PriorStatus: item.Status})
	}
	return result, nil
}
