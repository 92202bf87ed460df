package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"queueflow/internal/api"
)

func newItemCommand(ctx *commandContext) *cobra.Command {
	itemCmd := &cobra.Command{
		Use:     "item",
		Aliases: []string{"items"},
		Short:   "Enqueue, dispatch, and transition work items",
		Long: "Work items are addressed as type:id, for example ticket:12 or task:40.\n" +
			"Supported types are ticket, task, chat, and prompt.",
	}

	itemCmd.AddCommand(newItemEnqueueCommand(ctx))
	itemCmd.AddCommand(newItemBatchCommand(ctx))
	itemCmd.AddCommand(newItemNextCommand(ctx))
	itemCmd.AddCommand(newItemCompleteCommand(ctx))
	itemCmd.AddCommand(newItemFailCommand(ctx))
	itemCmd.AddCommand(newItemRequeueCommand(ctx))
	itemCmd.AddCommand(newItemCancelCommand(ctx))
	itemCmd.AddCommand(newItemListCommand(ctx))
	itemCmd.AddCommand(newItemShowCommand(ctx))

	return itemCmd
}

func renderItem(ctx *commandContext, cmd *cobra.Command, item api.WorkItem, verb string) error {
	return ctx.render(cmd, item, func(out io.Writer) error {
		ref := api.ItemRef{Type: item.ItemType, ID: item.ItemID}
		fmt.Fprintf(out, "%s %s (status %s, queue %s, priority %d)\n",
			verb, ref, formatStatusLabel(item.Status), formatQueueID(item.QueueID), item.Priority)
		return nil
	})
}

func renderItems(ctx *commandContext, cmd *cobra.Command, items []api.WorkItem) error {
	return ctx.render(cmd, items, func(out io.Writer) error {
		if len(items) == 0 {
			fmt.Fprintln(out, "No work items")
			return nil
		}
		colorize := shouldColorize(out)
		fmt.Fprint(out, renderTable(itemHeaders, buildItemRows(items, colorize), itemAligns, colorize))
		return nil
	})
}

func newItemEnqueueCommand(ctx *commandContext) *cobra.Command {
	var queueID int64
	var priority int
	var estimate int64

	cmd := &cobra.Command{
		Use:   "enqueue <type:id>",
		Short: "Admit a work item into a queue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ref, err := api.ParseItemRef(args[0])
			if err != nil {
				return err
			}
			req := api.EnqueueItemRequest{ItemType: ref.Type, ItemID: ref.ID, QueueID: queueID}
			if cmd.Flags().Changed("priority") {
				req.Priority = &priority
			}
			if cmd.Flags().Changed("estimate-ms") {
				req.EstimatedProcessingTimeMs = &estimate
			}
			return ctx.withService(cmd, func(c context.Context, svc *api.QueueService) error {
				item, err := svc.Enqueue(c, req)
				if err != nil {
					return err
				}
				return renderItem(ctx, cmd, item, "Enqueued")
			})
		},
	}

	cmd.Flags().Int64VarP(&queueID, "queue", "q", 0, "Target queue id")
	cmd.Flags().IntVarP(&priority, "priority", "p", 0, "Priority (lower dispatches first; defaults to configuration)")
	cmd.Flags().Int64Var(&estimate, "estimate-ms", 0, "Estimated processing time in milliseconds")
	_ = cmd.MarkFlagRequired("queue")
	return cmd
}

// readManifest decodes a YAML batch manifest from path, or stdin when path is "-".
func readManifest(cmd *cobra.Command, path string) (api.BatchEnqueueRequest, error) {
	var reader io.Reader
	if path == "-" {
		reader = cmd.InOrStdin()
	} else {
		f, err := os.Open(path)
		if err != nil {
			return api.BatchEnqueueRequest{}, fmt.Errorf("open manifest: %w", err)
		}
		defer f.Close()
		reader = f
	}

	var manifest api.BatchEnqueueRequest
	dec := yaml.NewDecoder(reader)
	dec.KnownFields(true)
	if err := dec.Decode(&manifest); err != nil {
		if errors.Is(err, io.EOF) {
			return manifest, fmt.Errorf("manifest %s is empty", path)
		}
		return manifest, fmt.Errorf("parse manifest: %w", err)
	}
	return manifest, nil
}

func newItemBatchCommand(ctx *commandContext) *cobra.Command {
	var manifestPath string

	cmd := &cobra.Command{
		Use:   "batch",
		Short: "Admit every item of a YAML manifest in one transaction",
		Long: "Admit a list of work items atomically. Either every item is enqueued or\n" +
			"none is. The manifest is YAML:\n\n" +
			"  items:\n" +
			"    - itemType: ticket\n" +
			"      itemId: 12\n" +
			"      queueId: 1\n" +
			"      priority: 2\n",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			manifest, err := readManifest(cmd, manifestPath)
			if err != nil {
				return err
			}
			return ctx.withService(cmd, func(c context.Context, svc *api.QueueService) error {
				items, err := svc.BatchEnqueue(c, manifest.Items)
				if err != nil {
					return err
				}
				return ctx.render(cmd, items, func(out io.Writer) error {
					fmt.Fprintf(out, "Enqueued %d items\n", len(items))
					return nil
				})
			})
		},
	}

	cmd.Flags().StringVarP(&manifestPath, "file", "f", "", "Manifest path, or - for stdin")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func newItemNextCommand(ctx *commandContext) *cobra.Command {
	var agentID string

	cmd := &cobra.Command{
		Use:   "next <queue-id>",
		Short: "Claim the next eligible work item for an agent",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			queueID, err := parseID(args[0], "queue id")
			if err != nil {
				return err
			}
			return ctx.withService(cmd, func(c context.Context, svc *api.QueueService) error {
				resp, err := svc.Next(c, queueID, agentID)
				if err != nil {
					return err
				}
				return ctx.render(cmd, resp, func(out io.Writer) error {
					fmt.Fprintln(out, describeDispatch(resp))
					return nil
				})
			})
		},
	}

	cmd.Flags().StringVarP(&agentID, "agent", "a", "", "Requesting agent id")
	_ = cmd.MarkFlagRequired("agent")
	return cmd
}

func newItemCompleteCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "complete <type:id>",
		Short: "Mark an in-progress item completed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ref, err := api.ParseItemRef(args[0])
			if err != nil {
				return err
			}
			return ctx.withService(cmd, func(c context.Context, svc *api.QueueService) error {
				item, err := svc.Complete(c, ref.Type, ref.ID)
				if err != nil {
					return err
				}
				return renderItem(ctx, cmd, item, "Completed")
			})
		},
	}
}

func newItemFailCommand(ctx *commandContext) *cobra.Command {
	var message string

	cmd := &cobra.Command{
		Use:   "fail <type:id>",
		Short: "Mark an in-progress item failed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ref, err := api.ParseItemRef(args[0])
			if err != nil {
				return err
			}
			return ctx.withService(cmd, func(c context.Context, svc *api.QueueService) error {
				item, err := svc.Fail(c, ref.Type, ref.ID, message)
				if err != nil {
					return err
				}
				return renderItem(ctx, cmd, item, "Failed")
			})
		},
	}

	cmd.Flags().StringVarP(&message, "message", "m", "", "Failure description")
	_ = cmd.MarkFlagRequired("message")
	return cmd
}

func newItemRequeueCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "requeue <type:id>...",
		Short: "Return failed or cancelled items to the queue",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			refs, err := api.ParseItemRefs(args)
			if err != nil {
				return err
			}
			return ctx.withService(cmd, func(c context.Context, svc *api.QueueService) error {
				result, err := api.RequeueItems(c, svc, refs)
				if err != nil {
					return err
				}
				return ctx.render(cmd, result, func(out io.Writer) error {
					rows := make([][]string, 0, len(result.Items))
					for _, r := range result.Items {
						rows = append(rows, []string{r.Ref.String(), string(r.Outcome), formatStatusLabel(r.PriorStatus)})
					}
					fmt.Fprint(out, renderTable([]string{"Item", "Outcome", "Prior Status"}, rows, nil, shouldColorize(out)))
					fmt.Fprintf(out, "Requeued %d of %d items\n", result.UpdatedCount, len(refs))
					return nil
				})
			})
		},
	}
}

func newItemCancelCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <type:id>...",
		Short: "Withdraw queued items before they are dispatched",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			refs, err := api.ParseItemRefs(args)
			if err != nil {
				return err
			}
			return ctx.withService(cmd, func(c context.Context, svc *api.QueueService) error {
				result, err := api.CancelItems(c, svc, refs)
				if err != nil {
					return err
				}
				return ctx.render(cmd, result, func(out io.Writer) error {
					rows := make([][]string, 0, len(result.Items))
					for _, r := range result.Items {
						rows = append(rows, []string{r.Ref.String(), string(r.Outcome), formatStatusLabel(r.PriorStatus)})
					}
					fmt.Fprint(out, renderTable([]string{"Item", "Outcome", "Prior Status"}, rows, nil, shouldColorize(out)))
					fmt.Fprintf(out, "Cancelled %d of %d items\n", result.UpdatedCount, len(refs))
					return nil
				})
			})
		},
	}
}

func newItemListCommand(ctx *commandContext) *cobra.Command {
	var query api.ItemQuery

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List work items",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withService(cmd, func(c context.Context, svc *api.QueueService) error {
				items, err := svc.ListItems(c, query)
				if err != nil {
					return err
				}
				return renderItems(ctx, cmd, items)
			})
		},
	}

	cmd.Flags().Int64VarP(&query.QueueID, "queue", "q", 0, "Only items of this queue")
	cmd.Flags().StringVarP(&query.Status, "status", "s", "", "Only items with this status")
	cmd.Flags().StringVarP(&query.ItemType, "type", "t", "", "Only items of this type")
	cmd.Flags().IntVarP(&query.Limit, "limit", "n", 0, "Maximum number of items (0 for all)")
	return cmd
}

func newItemShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <type:id>",
		Short: "Show a work item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ref, err := api.ParseItemRef(args[0])
			if err != nil {
				return err
			}
			return ctx.withService(cmd, func(c context.Context, svc *api.QueueService) error {
				item, err := svc.DescribeItem(c, ref.Type, ref.ID)
				if err != nil {
					return err
				}
				if item == nil {
					return fmt.Errorf("work item %s not found", ref)
				}
				return ctx.render(cmd, item, func(out io.Writer) error {
					colorize := shouldColorize(out)
					writeLines(out, renderSectionHeader("Work item "+ref.String(), colorize))
					fmt.Fprintln(out, renderStatusLine("Status", itemStatusKind(item.Status), formatStatusLabel(item.Status), colorize))
					fmt.Fprintln(out, renderStatusLine("Queue", statusInfo, formatQueueID(item.QueueID), colorize))
					fmt.Fprintln(out, renderStatusLine("Priority", statusInfo, strconv.Itoa(item.Priority), colorize))
					fmt.Fprintln(out, renderStatusLine("Attempts", statusInfo, strconv.Itoa(item.Attempts), colorize))
					if item.AgentID != "" {
						fmt.Fprintln(out, renderStatusLine("Agent", statusInfo, item.AgentID, colorize))
					}
					if msg := strings.TrimSpace(item.ErrorMessage); msg != "" {
						fmt.Fprintln(out, renderStatusLine("Error", statusError, msg, colorize))
					}
					fmt.Fprintln(out, renderStatusLine("Queued", statusInfo, formatRelativeTime(item.QueuedAt), colorize))
					if item.StartedAt != "" {
						fmt.Fprintln(out, renderStatusLine("Started", statusInfo, formatRelativeTime(item.StartedAt), colorize))
					}
					if item.ActualProcessingTimeMs != nil {
						fmt.Fprintln(out, renderStatusLine("Processing time", statusInfo, formatMillis(float64(*item.ActualProcessingTimeMs)), colorize))
					}
					return nil
				})
			})
		},
	}
}
