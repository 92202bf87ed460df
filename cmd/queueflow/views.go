package main

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"queueflow/internal/api"
)

var statusTitle = cases.Title(language.English)

// now is swapped in tests so relative times are stable.
var now = time.Now

func formatStatusLabel(status string) string {
	status = strings.TrimSpace(status)
	if status == "" {
		return ""
	}
	return statusTitle.String(strings.ReplaceAll(strings.ToLower(status), "_", " "))
}

func formatRelativeTime(value string) string {
	t := api.ParseQueueTime(strings.TrimSpace(value))
	if t.IsZero() {
		return "-"
	}
	return humanize.RelTime(t, now(), "ago", "from now")
}

func formatCount(n int) string {
	return humanize.Comma(int64(n))
}

func formatMillis(ms float64) string {
	if ms <= 0 {
		return "-"
	}
	return (time.Duration(ms) * time.Millisecond).Round(time.Millisecond).String()
}

func formatQueueID(id *int64) string {
	if id == nil {
		return "-"
	}
	return strconv.FormatInt(*id, 10)
}

func dashIfEmpty(value string) string {
	if strings.TrimSpace(value) == "" {
		return "-"
	}
	return value
}

func buildStatusCountRows(counts map[string]int) [][]string {
	if len(counts) == 0 {
		return nil
	}
	keys := make([]string, 0, len(counts))
	for key := range counts {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	rows := make([][]string, 0, len(keys))
	for _, key := range keys {
		rows = append(rows, []string{formatStatusLabel(key), formatCount(counts[key])})
	}
	return rows
}

func buildQueueRows(queues []api.Queue) [][]string {
	rows := make([][]string, 0, len(queues))
	for _, q := range queues {
		state := "active"
		if !q.IsActive {
			state = "paused"
		}
		rows = append(rows, []string{
			strconv.FormatInt(q.ID, 10),
			strconv.FormatInt(q.ProjectID, 10),
			q.Name,
			formatStatusLabel(state),
			strconv.Itoa(q.MaxParallelItems),
			formatRelativeTime(q.CreatedAt),
		})
	}
	return rows
}

func buildItemRows(items []api.WorkItem, colorize bool) [][]string {
	sorted := api.SortWorkItemsNewestFirst(items)
	rows := make([][]string, 0, len(sorted))
	for _, item := range sorted {
		rows = append(rows, []string{
			strconv.FormatInt(item.ID, 10),
			api.ItemRef{Type: item.ItemType, ID: item.ItemID}.String(),
			formatQueueID(item.QueueID),
			strconv.Itoa(item.Priority),
			colorizeStatus(item.Status, colorize),
			dashIfEmpty(item.AgentID),
			strconv.Itoa(item.Attempts),
			formatRelativeTime(item.UpdatedAt),
		})
	}
	return rows
}

var itemHeaders = []string{"ID", "Item", "Queue", "Priority", "Status", "Agent", "Attempts", "Updated"}

var itemAligns = []columnAlignment{alignRight, alignLeft, alignRight, alignRight, alignLeft, alignLeft, alignRight, alignLeft}

func buildQueueStatsRows(stats api.QueueStats) [][]string {
	return [][]string{
		{"Queued", formatCount(stats.Queued)},
		{"In Progress", formatCount(stats.InProgress)},
		{"Completed", formatCount(stats.Completed)},
		{"Failed", formatCount(stats.Failed)},
		{"Cancelled", formatCount(stats.Cancelled)},
		{"Total", formatCount(stats.Total)},
		{"Avg Processing", formatMillis(stats.AvgProcessingMs)},
		{"Refreshed", formatRelativeTime(stats.RefreshedAt)},
	}
}

func buildDeadLetterRows(letters []api.DeadLetter) [][]string {
	rows := make([][]string, 0, len(letters))
	for _, dl := range letters {
		rows = append(rows, []string{
			strconv.FormatInt(dl.ID, 10),
			api.ItemRef{Type: dl.ItemType, ID: dl.ItemID}.String(),
			formatQueueID(dl.QueueID),
			strconv.Itoa(dl.Attempts),
			dl.Reason,
			dashIfEmpty(dl.ErrorMessage),
			formatRelativeTime(dl.MovedAt),
		})
	}
	return rows
}

func describeDispatch(resp api.DispatchResponse) string {
	if resp.Item == nil {
		reason := strings.ReplaceAll(resp.Reason, "-", " ")
		if resp.Message != "" {
			return fmt.Sprintf("Nothing to dispatch (%s): %s", reason, resp.Message)
		}
		return fmt.Sprintf("Nothing to dispatch (%s)", reason)
	}
	item := resp.Item
	return fmt.Sprintf("Claimed %s for %s (attempt %d)",
		api.ItemRef{Type: item.ItemType, ID: item.ItemID}, item.AgentID, item.Attempts)
}
