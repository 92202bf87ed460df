package queue

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
)

// Stats returns a count of work items grouped by status.
func (s *Store) Stats(ctx context.Context) (map[Status]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(1) FROM work_items GROUP BY status`)
	if err != nil {
		return nil, persistenceError("queue stats", err)
	}
	defer rows.Close()

	stats := make(map[Status]int)
	for rows.Next() {
		var status Status
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats[status] = count
	}
	return stats, rows.Err()
}

// Health aggregates queue state for one project (0 covers all) without
// mutating anything. Orphans are counted across the whole database since a
// deleted queue no longer carries a project.
func (s *Store) Health(ctx context.Context, projectID int64, opts HealthOptions) (HealthReport, error) {
	stuckAfter := opts.StuckAfter
	if stuckAfter <= 0 {
		stuckAfter = DefaultStuckAfter
	}

	queueScope := `1 = 1`
	var scopeArgs []any
	if projectID != 0 {
		queueScope = `project_id = ?`
		scopeArgs = append(scopeArgs, projectID)
	}
	itemScope := `queue_id IN (SELECT id FROM queues WHERE ` + queueScope + `)`

	var stats HealthStats
	counts := []struct {
		dest  *int
		query string
		args  []any
	}{
		{&stats.TotalQueues, `SELECT COUNT(1) FROM queues WHERE ` + queueScope, scopeArgs},
		{&stats.ActiveQueues, `SELECT COUNT(1) FROM queues WHERE is_active = 1 AND ` + queueScope, scopeArgs},
		{&stats.TotalItems, `SELECT COUNT(1) FROM work_items WHERE ` + itemScope, scopeArgs},
		{&stats.QueuedItems, `SELECT COUNT(1) FROM work_items WHERE status = ? AND ` + itemScope, prepend(StatusQueued, scopeArgs)},
		{&stats.InProgress, `SELECT COUNT(1) FROM work_items WHERE status = ? AND ` + itemScope, prepend(StatusInProgress, scopeArgs)},
		{&stats.FailedItems, `SELECT COUNT(1) FROM work_items WHERE status = ? AND ` + itemScope, prepend(StatusFailed, scopeArgs)},
		{&stats.StuckItems,
			`SELECT COUNT(1) FROM work_items WHERE status = ? AND started_at < ? AND ` + itemScope,
			append([]any{StatusInProgress, formatTime(s.now().Add(-stuckAfter))}, scopeArgs...)},
		{&stats.OrphanItems,
			`SELECT COUNT(1) FROM work_items
             WHERE (queue_id IS NOT NULL AND queue_id NOT IN (SELECT id FROM queues))
                OR (item_type = ? AND item_id NOT IN (SELECT id FROM tasks))
                OR (item_type = ? AND item_id NOT IN (SELECT id FROM tickets))`,
			[]any{ItemTask, ItemTicket}},
		{&stats.DeadLetters, `SELECT COUNT(1) FROM dead_letters`, nil},
	}
	for _, count := range counts {
		if err := s.db.QueryRowContext(ctx, count.query, count.args...).Scan(count.dest); err != nil {
			return HealthReport{}, persistenceError("queue health", err)
		}
	}

	report := HealthReport{Stats: stats}
	if stats.OrphanItems > 0 {
		report.Issues = append(report.Issues, fmt.Sprintf("%d orphaned work items found", stats.OrphanItems))
	}
	if stats.StuckItems > 0 {
		report.Issues = append(report.Issues,
			fmt.Sprintf("%d items in progress for more than %s", stats.StuckItems, stuckAfter))
	}
	if stats.FailedItems > 0 {
		report.Issues = append(report.Issues, fmt.Sprintf("%d failed items awaiting requeue or dead-lettering", stats.FailedItems))
	}
	report.Healthy = len(report.Issues) == 0
	return report, nil
}

func prepend(value any, rest []any) []any {
	return append([]any{value}, rest...)
}

// CheckDatabase returns diagnostic information about the queue database.
func (s *Store) CheckDatabase(ctx context.Context) (DatabaseHealth, error) {
	health := DatabaseHealth{DBPath: s.path}

	if s.path == "" {
		return health, errors.New("queue database path is unknown")
	}

	info, err := os.Stat(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return health, nil
		}
		return health, fmt.Errorf("stat queue database: %w", err)
	}
	if info.IsDir() {
		return health, fmt.Errorf("queue database path %q is a directory", s.path)
	}
	health.DatabaseExists = true

	if s.db == nil {
		return health, errors.New("queue database connection unavailable")
	}

	connCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := s.db.PingContext(connCtx); err != nil {
		health.Error = err.Error()
		return health, fmt.Errorf("ping queue database: %w", err)
	}
	health.DatabaseReadable = true

	rows, err := s.db.QueryContext(connCtx, "SELECT name FROM sqlite_master WHERE type = 'table'")
	if err != nil {
		health.Error = err.Error()
		return health, fmt.Errorf("list tables: %w", err)
	}
	present := make(map[string]struct{})
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			rows.Close()
			health.Error = err.Error()
			return health, fmt.Errorf("scan table name: %w", err)
		}
		present[name] = struct{}{}
	}
	rows.Close()
	for _, table := range schemaTables {
		if _, ok := present[table]; ok {
			health.TablesPresent = append(health.TablesPresent, table)
		} else {
			health.MissingTables = append(health.MissingTables, table)
		}
	}

	if err := s.db.QueryRowContext(connCtx, "SELECT version FROM schema_version LIMIT 1").Scan(&health.SchemaVersion); err != nil {
		health.Error = err.Error()
		return health, fmt.Errorf("read schema version: %w", err)
	}

	var integrityResult string
	if err := s.db.QueryRowContext(connCtx, "PRAGMA integrity_check").Scan(&integrityResult); err != nil {
		health.Error = err.Error()
		return health, fmt.Errorf("integrity check: %w", err)
	}
	health.IntegrityCheck = strings.EqualFold(integrityResult, "ok")

	return health, nil
}
