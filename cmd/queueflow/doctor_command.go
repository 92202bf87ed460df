package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"queueflow/internal/daemonctl"
	"queueflow/internal/preflight"
)

func newDoctorCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Run preflight checks against the configuration and daemon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			results := preflight.RunAll(cmd.Context(), cfg)

			running, err := daemonctl.Running(cfg)
			if err != nil {
				return err
			}
			if running {
				results = append(results, preflight.CheckDaemonAPI(cmd.Context(), daemonctl.BaseURL(cfg), cfg.API.Token))
			} else {
				results = append(results, preflight.Result{Name: "Daemon API", Optional: true, Detail: "daemon not running"})
			}

			if err := ctx.render(cmd, results, func(out io.Writer) error {
				colorize := shouldColorize(out)
				writeLines(out, renderSectionHeader("Preflight", colorize))
				for _, r := range results {
					fmt.Fprintln(out, renderStatusLine(r.Name, resultKind(r), r.Detail, colorize))
				}
				return nil
			}); err != nil {
				return err
			}

			if failed := preflight.Failed(results); len(failed) > 0 {
				return fmt.Errorf("%d preflight checks failed", len(failed))
			}
			return nil
		},
	}
}

func resultKind(r preflight.Result) statusKind {
	switch {
	case r.Passed:
		return statusOK
	case r.Optional:
		return statusWarn
	default:
		return statusError
	}
}
