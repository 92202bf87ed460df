package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"queueflow/internal/api"
	"queueflow/internal/daemonctl"
	"queueflow/internal/daemonrun"
	"queueflow/internal/logging"
	"queueflow/internal/logs"
)

const daemonBinary = "queueflowd"

func newDaemonCommand(ctx *commandContext) *cobra.Command {
	daemonCmd := &cobra.Command{
		Use:   "daemon",
		Short: "Control the queueflowd background process",
	}

	daemonCmd.AddCommand(newDaemonStartCommand(ctx))
	daemonCmd.AddCommand(newDaemonStopCommand(ctx))
	daemonCmd.AddCommand(newDaemonStatusCommand(ctx))
	daemonCmd.AddCommand(newDaemonRunCommand(ctx))
	daemonCmd.AddCommand(newDaemonLogsCommand(ctx))

	return daemonCmd
}

func newDaemonStartCommand(ctx *commandContext) *cobra.Command {
	var logLevel string
	var wait time.Duration

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the daemon in the background",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			exe, err := daemonExecutable()
			if err != nil {
				return err
			}
			result, err := daemonctl.EnsureStarted(cmd.Context(), cfg, exe, daemonctl.LaunchOptions{
				ConfigPath: ctx.configFlagValue(),
				LogLevel:   logLevel,
			}, wait)
			if err != nil {
				return err
			}

			stdout := cmd.OutOrStdout()
			switch result.State {
			case daemonctl.StartStateStarted:
				fmt.Fprintf(stdout, "Daemon started (pid %d)\n", result.PID)
			case daemonctl.StartStateAlreadyRunning:
				fmt.Fprintln(stdout, "Daemon already running")
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&logLevel, "log-level", "", "Override the configured log level")
	cmd.Flags().DurationVar(&wait, "wait", 10*time.Second, "How long to wait for the API to answer")
	return cmd
}

func newDaemonStopCommand(ctx *commandContext) *cobra.Command {
	var grace time.Duration

	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop the daemon, escalating to SIGKILL after the grace period",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			stdout := cmd.OutOrStdout()
			result, err := daemonctl.Stop(cfg, grace)
			if errors.Is(err, daemonctl.ErrDaemonNotRunning) {
				fmt.Fprintln(stdout, "Daemon is not running")
				return nil
			}
			if err != nil {
				return err
			}
			if result.ForcedKill {
				fmt.Fprintf(stdout, "Daemon did not exit in %s; killed pid %d\n", grace, result.PID)
				return nil
			}
			fmt.Fprintf(stdout, "Daemon stopped (pid %d)\n", result.PID)
			return nil
		},
	}

	cmd.Flags().DurationVar(&grace, "grace", 5*time.Second, "Time to wait after SIGTERM before SIGKILL")
	return cmd
}

func newDaemonStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show daemon and queue status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			running, err := daemonctl.Running(cfg)
			if err != nil {
				return err
			}
			status := &api.DaemonStatus{
				QueueDBPath:  cfg.DatabasePath(),
				LockFilePath: cfg.LockPath(),
			}
			var fetchErr error
			if running {
				if remote, err := daemonctl.FetchStatus(cmd.Context(), cfg); err == nil {
					status = remote
				} else {
					status.Running = true
					fetchErr = err
				}
			}
			return ctx.render(cmd, status, func(out io.Writer) error {
				writeDaemonStatus(out, status, fetchErr, shouldColorize(out))
				return nil
			})
		},
	}
}

func writeDaemonStatus(out io.Writer, status *api.DaemonStatus, fetchErr error, colorize bool) {
	writeLines(out, renderSectionHeader("Daemon", colorize))
	switch {
	case !status.Running:
		fmt.Fprintln(out, renderStatusLine("Queueflowd", statusWarn, "Not running", colorize))
	case fetchErr != nil:
		fmt.Fprintln(out, renderStatusLine("Queueflowd", statusError, "Lock held but API unreachable: "+fetchErr.Error(), colorize))
	default:
		fmt.Fprintln(out, renderStatusLine("Queueflowd", statusOK, "Running (pid "+strconv.Itoa(status.PID)+")", colorize))
		fmt.Fprintln(out, renderStatusLine("Started", statusInfo, formatRelativeTime(status.StartedAt), colorize))
		fmt.Fprintln(out, renderStatusLine("API", statusInfo, dashIfEmpty(status.APIAddress), colorize))
	}
	fmt.Fprintln(out, renderStatusLine("Database", statusInfo, status.QueueDBPath, colorize))
	fmt.Fprintln(out, renderStatusLine("Lock file", statusInfo, status.LockFilePath, colorize))
	if status.CleanupSchedule != "" {
		fmt.Fprintln(out, renderStatusLine("Cleanup schedule", statusInfo, status.CleanupSchedule, colorize))
		fmt.Fprintln(out, renderStatusLine("Next cleanup", statusInfo, formatRelativeTime(status.NextCleanup), colorize))
		if status.LastCleanup != "" {
			kind, detail := statusOK, formatRelativeTime(status.LastCleanup)
			if status.LastCleanupErr != "" {
				kind, detail = statusError, detail+": "+status.LastCleanupErr
			}
			fmt.Fprintln(out, renderStatusLine("Last cleanup", kind, detail, colorize))
		}
	}
	if len(status.Counts) == 0 {
		return
	}
	fmt.Fprintln(out)
	writeLines(out, renderSectionHeader("Queue Status", colorize))
	fmt.Fprint(out, renderTable([]string{"Status", "Count"}, buildStatusCountRows(status.Counts),
		[]columnAlignment{alignLeft, alignRight}, colorize))
}

func newDaemonRunCommand(ctx *commandContext) *cobra.Command {
	var logLevel string
	var development bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the daemon in the foreground",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			return daemonrun.Run(cmd.Context(), cfg, daemonrun.Options{
				LogLevel:    logLevel,
				Development: development,
				Output:      cmd.OutOrStdout(),
			})
		},
	}

	cmd.Flags().StringVar(&logLevel, "log-level", "", "Override the configured log level")
	cmd.Flags().BoolVar(&development, "dev", false, "Include source locations in log records")
	return cmd
}

func newDaemonLogsCommand(ctx *commandContext) *cobra.Command {
	var lines int
	var follow bool
	var level string

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Print the daemon log, optionally following new lines",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			path := filepath.Join(cfg.Paths.LogDir, logging.LogFileName)
			out := cmd.OutOrStdout()
			emit := func(line string) {
				if logs.MatchLevel(line, level) {
					fmt.Fprintln(out, line)
				}
			}

			chunk, err := logs.Tail(path, lines)
			if err != nil {
				return err
			}
			for _, line := range chunk.Lines {
				emit(line)
			}
			if !follow {
				return nil
			}
			return logs.Follow(cmd.Context(), path, logs.FollowOptions{Offset: chunk.Offset}, emit)
		},
	}

	cmd.Flags().IntVarP(&lines, "lines", "n", 50, "Number of trailing lines to print")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Keep printing lines as they are written")
	cmd.Flags().StringVar(&level, "level", "", "Only print records at or above this level")
	return cmd
}

// daemonExecutable prefers a queueflowd installed next to this binary and
// falls back to PATH.
func daemonExecutable() (string, error) {
	if self, err := os.Executable(); err == nil {
		sibling := filepath.Join(filepath.Dir(self), daemonBinary)
		if info, err := os.Stat(sibling); err == nil && !info.IsDir() {
			return sibling, nil
		}
	}
	path, err := exec.LookPath(daemonBinary)
	if err != nil {
		return "", fmt.Errorf("locate %s: %w", daemonBinary, err)
	}
	return path, nil
}
