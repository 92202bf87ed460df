package main

import (
	"context"
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"queueflow/internal/api"
)

func newQueueCommand(ctx *commandContext) *cobra.Command {
	queueCmd := &cobra.Command{
		Use:   "queue",
		Short: "Create and administer queues",
	}

	queueCmd.AddCommand(newQueueCreateCommand(ctx))
	queueCmd.AddCommand(newQueueListCommand(ctx))
	queueCmd.AddCommand(newQueueShowCommand(ctx))
	queueCmd.AddCommand(newQueueUpdateCommand(ctx))
	queueCmd.AddCommand(newQueueToggleCommand(ctx, "pause", "Stop dispatching from a queue"))
	queueCmd.AddCommand(newQueueToggleCommand(ctx, "resume", "Resume dispatching from a queue"))
	queueCmd.AddCommand(newQueueDeleteCommand(ctx))
	queueCmd.AddCommand(newQueueResetCommand(ctx))
	queueCmd.AddCommand(newQueueRetryCommand(ctx))
	queueCmd.AddCommand(newQueueStatsCommand(ctx))

	return queueCmd
}

func parseID(value, label string) (int64, error) {
	id, err := strconv.ParseInt(value, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid %s %q", label, value)
	}
	return id, nil
}

func parseIDs(values []string, label string) ([]int64, error) {
	ids := make([]int64, 0, len(values))
	for _, value := range values {
		id, err := parseID(value, label)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func renderQueues(ctx *commandContext, cmd *cobra.Command, queues []api.Queue) error {
	return ctx.render(cmd, queues, func(out io.Writer) error {
		if len(queues) == 0 {
			fmt.Fprintln(out, "No queues")
			return nil
		}
		fmt.Fprint(out, renderTable(
			[]string{"ID", "Project", "Name", "State", "Max Parallel", "Created"},
			buildQueueRows(queues),
			[]columnAlignment{alignRight, alignRight, alignLeft, alignLeft, alignRight, alignLeft},
			shouldColorize(out),
		))
		return nil
	})
}

func newQueueCreateCommand(ctx *commandContext) *cobra.Command {
	var req api.CreateQueueRequest

	cmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Create a queue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req.Name = args[0]
			return ctx.withService(cmd, func(c context.Context, svc *api.QueueService) error {
				q, err := svc.CreateQueue(c, req)
				if err != nil {
					return err
				}
				return ctx.render(cmd, q, func(out io.Writer) error {
					fmt.Fprintf(out, "Created queue %d (%s, max parallel %d)\n", q.ID, q.Name, q.MaxParallelItems)
					return nil
				})
			})
		},
	}

	cmd.Flags().Int64VarP(&req.ProjectID, "project", "p", 0, "Owning project id")
	cmd.Flags().StringVarP(&req.Description, "description", "d", "", "Queue description")
	cmd.Flags().IntVar(&req.MaxParallelItems, "max-parallel", 0, "Concurrent in-progress ceiling (defaults to configuration)")
	_ = cmd.MarkFlagRequired("project")
	return cmd
}

func newQueueListCommand(ctx *commandContext) *cobra.Command {
	var projectID int64

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List queues",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withService(cmd, func(c context.Context, svc *api.QueueService) error {
				queues, err := svc.ListQueues(c, projectID)
				if err != nil {
					return err
				}
				return renderQueues(ctx, cmd, queues)
			})
		},
	}

	cmd.Flags().Int64VarP(&projectID, "project", "p", 0, "Only list queues of this project")
	return cmd
}

func newQueueShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <queue-id>",
		Short: "Show a queue and its statistics",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "queue id")
			if err != nil {
				return err
			}
			return ctx.withService(cmd, func(c context.Context, svc *api.QueueService) error {
				detail, err := svc.DescribeQueue(c, id)
				if err != nil {
					return err
				}
				return ctx.render(cmd, detail, func(out io.Writer) error {
					colorize := shouldColorize(out)
					q := detail.Queue
					state := statusOK
					stateLabel := "Active"
					if !q.IsActive {
						state, stateLabel = statusWarn, "Paused"
					}
					writeLines(out, renderSectionHeader(fmt.Sprintf("Queue %d: %s", q.ID, q.Name), colorize))
					fmt.Fprintln(out, renderStatusLine("State", state, stateLabel, colorize))
					fmt.Fprintln(out, renderStatusLine("Project", statusInfo, strconv.FormatInt(q.ProjectID, 10), colorize))
					fmt.Fprintln(out, renderStatusLine("Max parallel", statusInfo, strconv.Itoa(q.MaxParallelItems), colorize))
					if q.Description != "" {
						fmt.Fprintln(out, renderStatusLine("Description", statusInfo, q.Description, colorize))
					}
					fmt.Fprint(out, renderTable([]string{"Metric", "Value"}, buildQueueStatsRows(detail.Stats),
						[]columnAlignment{alignLeft, alignRight}, colorize))
					return nil
				})
			})
		},
	}
}

func newQueueUpdateCommand(ctx *commandContext) *cobra.Command {
	var name, description string
	var maxParallel int

	cmd := &cobra.Command{
		Use:   "update <queue-id>",
		Short: "Change a queue's name, description, or parallel limit",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "queue id")
			if err != nil {
				return err
			}
			var req api.UpdateQueueRequest
			if cmd.Flags().Changed("name") {
				req.Name = &name
			}
			if cmd.Flags().Changed("description") {
				req.Description = &description
			}
			if cmd.Flags().Changed("max-parallel") {
				req.MaxParallelItems = &maxParallel
			}
			if req.Name == nil && req.Description == nil && req.MaxParallelItems == nil {
				return fmt.Errorf("nothing to update; pass --name, --description, or --max-parallel")
			}
			return ctx.withService(cmd, func(c context.Context, svc *api.QueueService) error {
				q, err := svc.UpdateQueue(c, id, req)
				if err != nil {
					return err
				}
				return ctx.render(cmd, q, func(out io.Writer) error {
					fmt.Fprintf(out, "Updated queue %d (%s, max parallel %d)\n", q.ID, q.Name, q.MaxParallelItems)
					return nil
				})
			})
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "New queue name")
	cmd.Flags().StringVar(&description, "description", "", "New description")
	cmd.Flags().IntVar(&maxParallel, "max-parallel", 0, "New concurrent in-progress ceiling")
	return cmd
}

func newQueueToggleCommand(ctx *commandContext, action, short string) *cobra.Command {
	return &cobra.Command{
		Use:   action + " <queue-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "queue id")
			if err != nil {
				return err
			}
			return ctx.withService(cmd, func(c context.Context, svc *api.QueueService) error {
				toggle := svc.ResumeQueue
				if action == "pause" {
					toggle = svc.PauseQueue
				}
				q, err := toggle(c, id)
				if err != nil {
					return err
				}
				return ctx.render(cmd, q, func(out io.Writer) error {
					state := "active"
					if !q.IsActive {
						state = "paused"
					}
					fmt.Fprintf(out, "Queue %d is now %s\n", q.ID, state)
					return nil
				})
			})
		},
	}
}

func newQueueDeleteCommand(ctx *commandContext) *cobra.Command {
	return newQueueCountCommand(ctx, "delete <queue-id>", "Delete a queue and its work items",
		func(svc *api.QueueService) func(context.Context, int64) (api.CountResponse, error) { return svc.DeleteQueue },
		"Deleted queue %d (%d work items removed)\n")
}

func newQueueResetCommand(ctx *commandContext) *cobra.Command {
	return newQueueCountCommand(ctx, "reset <queue-id>", "Remove every unclaimed item from a queue",
		func(svc *api.QueueService) func(context.Context, int64) (api.CountResponse, error) { return svc.ResetQueue },
		"Reset queue %d (%d items removed)\n")
}

func newQueueCountCommand(
	ctx *commandContext,
	use, short string,
	pick func(*api.QueueService) func(context.Context, int64) (api.CountResponse, error),
	message string,
) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "queue id")
			if err != nil {
				return err
			}
			return ctx.withService(cmd, func(c context.Context, svc *api.QueueService) error {
				resp, err := pick(svc)(c, id)
				if err != nil {
					return err
				}
				return ctx.render(cmd, resp, func(out io.Writer) error {
					fmt.Fprintf(out, message, id, resp.Count)
					return nil
				})
			})
		},
	}
}

func newQueueRetryCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "retry <queue-id> [work-item-id...]",
		Short: "Requeue failed items of a queue",
		Long: "Requeue failed work items of a queue. Without work item ids every failed\n" +
			"item of the queue is retried.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			queueID, err := parseID(args[0], "queue id")
			if err != nil {
				return err
			}
			ids, err := parseIDs(args[1:], "work item id")
			if err != nil {
				return err
			}
			return ctx.withService(cmd, func(c context.Context, svc *api.QueueService) error {
				resp, err := svc.RetryFailed(c, queueID, ids...)
				if err != nil {
					return err
				}
				return ctx.render(cmd, resp, func(out io.Writer) error {
					fmt.Fprintf(out, "Retried %d failed items\n", resp.Count)
					return nil
				})
			})
		},
	}
}

func newQueueStatsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show work item counts by status across all queues",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withService(cmd, func(c context.Context, svc *api.QueueService) error {
				counts, err := svc.Stats(c)
				if err != nil {
					return err
				}
				return ctx.render(cmd, api.QueueStatsResponse{Counts: counts}, func(out io.Writer) error {
					fmt.Fprint(out, renderTable([]string{"Status", "Count"}, buildStatusCountRows(counts),
						[]columnAlignment{alignLeft, alignRight}, shouldColorize(out)))
					return nil
				})
			})
		},
	}
}
