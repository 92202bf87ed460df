package main

import (
	"context"
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"queueflow/internal/api"
)

func newTicketCommand(ctx *commandContext) *cobra.Command {
	ticketCmd := &cobra.Command{
		Use:   "ticket",
		Short: "Manage tickets and enqueue them",
	}

	ticketCmd.AddCommand(newTicketCreateCommand(ctx))
	ticketCmd.AddCommand(newTicketShowCommand(ctx))
	ticketCmd.AddCommand(newTicketDeleteCommand(ctx))
	ticketCmd.AddCommand(newTicketEnqueueCommand(ctx))

	return ticketCmd
}

func newTaskCommand(ctx *commandContext) *cobra.Command {
	taskCmd := &cobra.Command{
		Use:   "task",
		Short: "Manage tasks and enqueue them",
	}

	taskCmd.AddCommand(newTaskAddCommand(ctx))
	taskCmd.AddCommand(newTaskDeleteCommand(ctx))
	taskCmd.AddCommand(newTaskEnqueueCommand(ctx))

	return taskCmd
}

func renderTicket(ctx *commandContext, cmd *cobra.Command, ticket api.Ticket) error {
	return ctx.render(cmd, ticket, func(out io.Writer) error {
		colorize := shouldColorize(out)
		writeLines(out, renderSectionHeader(fmt.Sprintf("Ticket %d: %s", ticket.ID, ticket.Title), colorize))
		fmt.Fprintln(out, renderStatusLine("Project", statusInfo, strconv.FormatInt(ticket.ProjectID, 10), colorize))
		fmt.Fprintln(out, renderStatusLine("Queue status", itemStatusKind(ticket.QueueStatus), dashIfEmpty(formatStatusLabel(ticket.QueueStatus)), colorize))
		if len(ticket.Tasks) == 0 {
			return nil
		}
		rows := make([][]string, 0, len(ticket.Tasks))
		for _, task := range ticket.Tasks {
			rows = append(rows, []string{
				strconv.FormatInt(task.ID, 10),
				strconv.Itoa(task.OrderIndex),
				task.Title,
				dashIfEmpty(colorizeStatus(task.QueueStatus, colorize)),
			})
		}
		fmt.Fprint(out, renderTable([]string{"Task", "Order", "Title", "Queue Status"}, rows,
			[]columnAlignment{alignRight, alignRight, alignLeft, alignLeft}, colorize))
		return nil
	})
}

func newTicketCreateCommand(ctx *commandContext) *cobra.Command {
	var req api.CreateTicketRequest

	cmd := &cobra.Command{
		Use:   "create <title>",
		Short: "Create a ticket, optionally with ordered tasks",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req.Title = args[0]
			return ctx.withService(cmd, func(c context.Context, svc *api.QueueService) error {
				ticket, err := svc.CreateTicket(c, req)
				if err != nil {
					return err
				}
				return renderTicket(ctx, cmd, ticket)
			})
		},
	}

	cmd.Flags().Int64VarP(&req.ProjectID, "project", "p", 0, "Owning project id")
	cmd.Flags().StringArrayVarP(&req.Tasks, "task", "t", nil, "Task title (repeatable, kept in order)")
	_ = cmd.MarkFlagRequired("project")
	return cmd
}

func newTicketShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <ticket-id>",
		Short: "Show a ticket, its tasks, and their queue status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "ticket id")
			if err != nil {
				return err
			}
			return ctx.withService(cmd, func(c context.Context, svc *api.QueueService) error {
				ticket, err := svc.DescribeTicket(c, id)
				if err != nil {
					return err
				}
				return renderTicket(ctx, cmd, ticket)
			})
		},
	}
}

func newOwnerDeleteCommand(ctx *commandContext, kind string, del func(*api.QueueService) func(context.Context, int64) (api.CountResponse, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <" + kind + "-id>",
		Short: "Delete a " + kind + "; its work items are removed by the next cleanup",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], kind+" id")
			if err != nil {
				return err
			}
			return ctx.withService(cmd, func(c context.Context, svc *api.QueueService) error {
				resp, err := del(svc)(c, id)
				if err != nil {
					return err
				}
				return ctx.render(cmd, resp, func(out io.Writer) error {
					if resp.Count == 0 {
						fmt.Fprintf(out, "No %s %d\n", kind, id)
						return nil
					}
					fmt.Fprintf(out, "Deleted %s %d\n", kind, id)
					return nil
				})
			})
		},
	}
}

func newTicketDeleteCommand(ctx *commandContext) *cobra.Command {
	return newOwnerDeleteCommand(ctx, "ticket", func(svc *api.QueueService) func(context.Context, int64) (api.CountResponse, error) {
		return svc.DeleteTicket
	})
}

func newTaskDeleteCommand(ctx *commandContext) *cobra.Command {
	return newOwnerDeleteCommand(ctx, "task", func(svc *api.QueueService) func(context.Context, int64) (api.CountResponse, error) {
		return svc.DeleteTask
	})
}

func newTicketEnqueueCommand(ctx *commandContext) *cobra.Command {
	var queueID int64
	var priority int
	var cascade bool

	cmd := &cobra.Command{
		Use:   "enqueue <ticket-id>",
		Short: "Admit a ticket, and with --cascade all of its tasks, into a queue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ticketID, err := parseID(args[0], "ticket id")
			if err != nil {
				return err
			}
			var p *int
			if cmd.Flags().Changed("priority") {
				p = &priority
			}
			return ctx.withService(cmd, func(c context.Context, svc *api.QueueService) error {
				if !cascade {
					item, err := svc.EnqueueTicket(c, queueID, ticketID, p)
					if err != nil {
						return err
					}
					return renderItem(ctx, cmd, item, "Enqueued")
				}
				resp, err := svc.EnqueueTicketWithAllTasks(c, queueID, ticketID, p)
				if err != nil {
					return err
				}
				return ctx.render(cmd, resp, func(out io.Writer) error {
					fmt.Fprintf(out, "Enqueued ticket %d with %d tasks into queue %d\n", ticketID, len(resp.Tasks), queueID)
					return nil
				})
			})
		},
	}

	cmd.Flags().Int64VarP(&queueID, "queue", "q", 0, "Target queue id")
	cmd.Flags().IntVarP(&priority, "priority", "p", 0, "Priority (defaults to configuration)")
	cmd.Flags().BoolVar(&cascade, "cascade", false, "Enqueue every task of the ticket in the same transaction")
	_ = cmd.MarkFlagRequired("queue")
	return cmd
}

func newTaskAddCommand(ctx *commandContext) *cobra.Command {
	var ticketID int64

	cmd := &cobra.Command{
		Use:   "add <title>",
		Short: "Append a task to a ticket",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withService(cmd, func(c context.Context, svc *api.QueueService) error {
				task, err := svc.AddTask(c, ticketID, args[0])
				if err != nil {
					return err
				}
				return ctx.render(cmd, task, func(out io.Writer) error {
					fmt.Fprintf(out, "Added task %d to ticket %d at position %d\n", task.ID, task.TicketID, task.OrderIndex)
					return nil
				})
			})
		},
	}

	cmd.Flags().Int64Var(&ticketID, "ticket", 0, "Parent ticket id")
	_ = cmd.MarkFlagRequired("ticket")
	return cmd
}

func newTaskEnqueueCommand(ctx *commandContext) *cobra.Command {
	var queueID int64
	var priority int

	cmd := &cobra.Command{
		Use:   "enqueue <task-id>",
		Short: "Admit a task into a queue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			taskID, err := parseID(args[0], "task id")
			if err != nil {
				return err
			}
			var p *int
			if cmd.Flags().Changed("priority") {
				p = &priority
			}
			return ctx.withService(cmd, func(c context.Context, svc *api.QueueService) error {
				item, err := svc.EnqueueTask(c, queueID, taskID, p)
				if err != nil {
					return err
				}
				return renderItem(ctx, cmd, item, "Enqueued")
			})
		},
	}

	cmd.Flags().Int64VarP(&queueID, "queue", "q", 0, "Target queue id")
	cmd.Flags().IntVarP(&priority, "priority", "p", 0, "Priority (defaults to configuration)")
	_ = cmd.MarkFlagRequired("queue")
	return cmd
}
