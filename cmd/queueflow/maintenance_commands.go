package main

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"queueflow/internal/api"
)

func newMaintenanceCommand(ctx *commandContext) *cobra.Command {
	maintCmd := &cobra.Command{
		Use:   "maintenance",
		Short: "Reconcile, dead-letter, and refresh queue state",
	}

	maintCmd.AddCommand(newCleanupCommand(ctx))
	maintCmd.AddCommand(newDeadLetterCommand(ctx))
	maintCmd.AddCommand(newDeadLettersCommand(ctx))
	maintCmd.AddCommand(newRefreshStatsCommand(ctx))

	return maintCmd
}

func newCleanupCommand(ctx *commandContext) *cobra.Command {
	var projectID int64
	var maxAge time.Duration
	var deadLetterAfter int

	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Remove orphaned, stale, and invalid queue data",
		Long: "Run one reconciliation pass: dead-letter failed items past the attempt\n" +
			"threshold, remove orphaned items, expire old completed items, and drop\n" +
			"tasks or tickets whose references are broken. Flags override configuration.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var req api.CleanupRequest
			if cmd.Flags().Changed("project") {
				req.ProjectID = &projectID
			}
			if cmd.Flags().Changed("max-age") {
				ms := maxAge.Milliseconds()
				req.MaxAgeMs = &ms
			}
			if cmd.Flags().Changed("dead-letter-after") {
				req.DeadLetterAfterAttempts = &deadLetterAfter
			}
			return ctx.withService(cmd, func(c context.Context, svc *api.QueueService) error {
				resp, err := svc.Cleanup(c, req)
				if err != nil {
					return err
				}
				return ctx.render(cmd, resp, func(out io.Writer) error {
					colorize := shouldColorize(out)
					rows := [][]string{
						{"Dead-lettered", strconv.FormatInt(resp.DeadLettered, 10)},
						{"Orphaned items", strconv.FormatInt(resp.OrphanedItemsRemoved, 10)},
						{"Old completed items", strconv.FormatInt(resp.OldCompletedItemsRemoved, 10)},
						{"Invalid tasks", strconv.FormatInt(resp.InvalidTasksRemoved, 10)},
						{"Invalid tickets", strconv.FormatInt(resp.InvalidTicketsRemoved, 10)},
						{"Total removed", strconv.FormatInt(resp.TotalRemoved, 10)},
					}
					fmt.Fprint(out, renderTable([]string{"Category", "Count"}, rows,
						[]columnAlignment{alignLeft, alignRight}, colorize))
					for _, msg := range resp.Errors {
						fmt.Fprintln(out, renderStatusLine("Cleanup error", statusWarn, msg, colorize))
					}
					return nil
				})
			})
		},
	}

	cmd.Flags().Int64VarP(&projectID, "project", "p", 0, "Limit to one project (0 for all)")
	cmd.Flags().DurationVar(&maxAge, "max-age", 0, "Remove completed items older than this (for example 72h)")
	cmd.Flags().IntVar(&deadLetterAfter, "dead-letter-after", 0, "Dead-letter failed items with at least this many attempts (0 disables)")
	return cmd
}

func newDeadLetterCommand(ctx *commandContext) *cobra.Command {
	var queueID int64

	cmd := &cobra.Command{
		Use:   "dead-letter",
		Short: "Move failed items into the dead-letter store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withService(cmd, func(c context.Context, svc *api.QueueService) error {
				resp, err := svc.MoveFailedToDeadLetter(c, queueID)
				if err != nil {
					return err
				}
				return ctx.render(cmd, resp, func(out io.Writer) error {
					fmt.Fprintf(out, "Moved %d failed items to the dead-letter store\n", resp.Count)
					return nil
				})
			})
		},
	}

	cmd.Flags().Int64VarP(&queueID, "queue", "q", 0, "Only this queue (0 for all)")
	return cmd
}

func newDeadLettersCommand(ctx *commandContext) *cobra.Command {
	var queueID int64

	cmd := &cobra.Command{
		Use:   "dead-letters",
		Short: "List dead-lettered items",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withService(cmd, func(c context.Context, svc *api.QueueService) error {
				letters, err := svc.ListDeadLetters(c, queueID)
				if err != nil {
					return err
				}
				return ctx.render(cmd, letters, func(out io.Writer) error {
					if len(letters) == 0 {
						fmt.Fprintln(out, "No dead letters")
						return nil
					}
					fmt.Fprint(out, renderTable(
						[]string{"ID", "Item", "Queue", "Attempts", "Reason", "Error", "Moved"},
						buildDeadLetterRows(letters),
						[]columnAlignment{alignRight, alignLeft, alignRight, alignRight, alignLeft, alignLeft, alignLeft},
						shouldColorize(out),
					))
					return nil
				})
			})
		},
	}

	cmd.Flags().Int64VarP(&queueID, "queue", "q", 0, "Only this queue (0 for all)")
	return cmd
}

func newRefreshStatsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "refresh-stats",
		Short: "Recompute every queue's statistics snapshot",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withService(cmd, func(c context.Context, svc *api.QueueService) error {
				stats, err := svc.RefreshStats(c)
				if err != nil {
					return err
				}
				return ctx.render(cmd, stats, func(out io.Writer) error {
					rows := make([][]string, 0, len(stats))
					for _, st := range stats {
						rows = append(rows, []string{
							strconv.FormatInt(st.QueueID, 10),
							formatCount(st.Queued),
							formatCount(st.InProgress),
							formatCount(st.Completed),
							formatCount(st.Failed),
							formatCount(st.Cancelled),
							formatMillis(st.AvgProcessingMs),
						})
					}
					fmt.Fprint(out, renderTable(
						[]string{"Queue", "Queued", "In Progress", "Completed", "Failed", "Cancelled", "Avg Processing"},
						rows,
						[]columnAlignment{alignRight, alignRight, alignRight, alignRight, alignRight, alignRight, alignRight},
						shouldColorize(out),
					))
					fmt.Fprintf(out, "Refreshed %d queues\n", len(stats))
					return nil
				})
			})
		},
	}
}

// healthReport bundles queue and database health for structured output.
type healthReport struct {
	Queue    api.HealthResponse `json:"queue" yaml:"queue"`
	Database api.DatabaseHealth `json:"database" yaml:"database"`
}

func newHealthCommand(ctx *commandContext) *cobra.Command {
	var projectID int64
	var strict bool

	cmd := &cobra.Command{
		Use:   "health",
		Short: "Check queue health and database integrity",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withService(cmd, func(c context.Context, svc *api.QueueService) error {
				queueHealth, err := svc.Health(c, projectID)
				if err != nil {
					return err
				}
				dbHealth, err := svc.CheckDatabase(c)
				if err != nil {
					return err
				}
				report := healthReport{Queue: queueHealth, Database: dbHealth}
				if err := ctx.render(cmd, report, func(out io.Writer) error {
					writeHealthReport(out, report, shouldColorize(out))
					return nil
				}); err != nil {
					return err
				}
				if strict && (!queueHealth.Healthy || !dbHealth.IntegrityCheck) {
					return fmt.Errorf("queue is unhealthy")
				}
				return nil
			})
		},
	}

	cmd.Flags().Int64VarP(&projectID, "project", "p", 0, "Limit to one project (0 for all)")
	cmd.Flags().BoolVar(&strict, "strict", false, "Exit non-zero when any issue is found")
	return cmd
}

func writeHealthReport(out io.Writer, report healthReport, colorize bool) {
	qh := report.Queue
	writeLines(out, renderSectionHeader("Queue Health", colorize))
	if qh.Healthy {
		fmt.Fprintln(out, renderStatusLine("Overall", statusOK, "Healthy", colorize))
	} else {
		fmt.Fprintln(out, renderStatusLine("Overall", statusError, fmt.Sprintf("%d issues", len(qh.Issues)), colorize))
	}
	for _, issue := range qh.Issues {
		fmt.Fprintln(out, renderStatusLine("Issue", statusWarn, issue, colorize))
	}
	st := qh.Stats
	fmt.Fprintln(out, renderStatusLine("Queues", statusInfo, fmt.Sprintf("%d (%d active)", st.TotalQueues, st.ActiveQueues), colorize))
	fmt.Fprintln(out, renderStatusLine("Items", statusInfo, fmt.Sprintf("%s total, %s queued, %s in progress",
		formatCount(st.TotalItems), formatCount(st.QueuedItems), formatCount(st.InProgress)), colorize))
	fmt.Fprintln(out, renderStatusLine("Failed", countKind(st.FailedItems, statusWarn), formatCount(st.FailedItems), colorize))
	fmt.Fprintln(out, renderStatusLine("Orphaned", countKind(st.OrphanItems, statusWarn), formatCount(st.OrphanItems), colorize))
	fmt.Fprintln(out, renderStatusLine("Stuck", countKind(st.StuckItems, statusError), formatCount(st.StuckItems), colorize))
	fmt.Fprintln(out, renderStatusLine("Dead letters", countKind(st.DeadLetters, statusWarn), formatCount(st.DeadLetters), colorize))
	fmt.Fprintln(out)

	db := report.Database
	writeLines(out, renderSectionHeader("Database", colorize))
	fmt.Fprintln(out, renderStatusLine("Path", statusInfo, db.DBPath, colorize))
	fmt.Fprintln(out, renderStatusLine("Exists", boolKind(db.DatabaseExists), yesNo(db.DatabaseExists), colorize))
	fmt.Fprintln(out, renderStatusLine("Readable", boolKind(db.DatabaseReadable), yesNo(db.DatabaseReadable), colorize))
	fmt.Fprintln(out, renderStatusLine("Schema version", statusInfo, strconv.Itoa(db.SchemaVersion), colorize))
	tables := append([]string(nil), db.TablesPresent...)
	sort.Strings(tables)
	fmt.Fprintln(out, renderStatusLine("Tables", statusInfo, strings.Join(tables, ", "), colorize))
	if len(db.MissingTables) > 0 {
		fmt.Fprintln(out, renderStatusLine("Missing tables", statusError, strings.Join(db.MissingTables, ", "), colorize))
	}
	fmt.Fprintln(out, renderStatusLine("Integrity check", boolKind(db.IntegrityCheck), yesNo(db.IntegrityCheck), colorize))
	if db.Error != "" {
		fmt.Fprintln(out, renderStatusLine("Error", statusError, db.Error, colorize))
	}
}

func countKind(n int, bad statusKind) statusKind {
	if n > 0 {
		return bad
	}
	return statusOK
}

func boolKind(ok bool) statusKind {
	if ok {
		return statusOK
	}
	return statusError
}
