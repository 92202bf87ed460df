package api

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"queueflow/internal/queue"
)

// ItemRef identifies a work item by its owner, written as "type:id".
type ItemRef struct {
	Type string `json:"type" yaml:"type"`
	ID   int64  `json:"id" yaml:"id"`
}

func (r ItemRef) String() string {
	return r.Type + ":" + strconv.FormatInt(r.ID, 10)
}

// ParseItemRef parses a "type:id" reference such as "ticket:12".
func ParseItemRef(value string) (ItemRef, error) {
	kind, rawID, ok := strings.Cut(strings.TrimSpace(value), ":")
	if !ok {
		return ItemRef{}, fmt.Errorf("%w: item reference %q must look like type:id", queue.ErrInvalidInput, value)
	}
	itemType, err := parseItemType(kind)
	if err != nil {
		return ItemRef{}, err
	}
	id, err := strconv.ParseInt(strings.TrimSpace(rawID), 10, 64)
	if err != nil || id <= 0 {
		return ItemRef{}, fmt.Errorf("%w: invalid item id %q", queue.ErrInvalidInput, rawID)
	}
	return ItemRef{Type: string(itemType), ID: id}, nil
}

// ParseItemRefs parses every reference, failing on the first invalid one.
func ParseItemRefs(values []string) ([]ItemRef, error) {
	refs := make([]ItemRef, 0, len(values))
	for _, value := range values {
		ref, err := ParseItemRef(value)
		if err != nil {
			return nil, err
		}
		refs = append(refs, ref)
	}
	return refs, nil
}

// SortWorkItemsNewestFirst orders items by UpdatedAt descending, breaking ties by ID descending.
func SortWorkItemsNewestFirst(items []WorkItem) []WorkItem {
	if len(items) == 0 {
		return nil
	}
	sorted := make([]WorkItem, len(items))
	copy(sorted, items)
	sort.Slice(sorted, func(i, j int) bool {
		ti := parseQueueTime(sorted[i].UpdatedAt)
		tj := parseQueueTime(sorted[j].UpdatedAt)
		if ti.Equal(tj) {
			return sorted[i].ID > sorted[j].ID
		}
		return ti.After(tj)
	})
	return sorted
}

func parseQueueTime(value string) time.Time {
	if value == "" {
		return time.Time{}
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t
	}
	return time.Time{}
}

// ParseQueueTime exposes timestamp parsing for consumers that need display formatting.
func ParseQueueTime(value string) time.Time {
	return parseQueueTime(value)
}
