package daemonrun

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"queueflow/internal/config"
	"queueflow/internal/daemon"
	"queueflow/internal/daemonctl"
	"queueflow/internal/logging"
	"queueflow/internal/preflight"
	"queueflow/internal/queue"
)

// Options configures daemon process runtime behavior.
type Options struct {
	LogLevel    string
	Development bool
	// Output receives the console log stream. Nil means stdout.
	Output io.Writer
}

// Run starts the queueflow daemon and blocks until a signal arrives, cmdCtx
// is cancelled, or a background loop fails.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}

	level := cfg.Logging.Level
	if strings.TrimSpace(opts.LogLevel) != "" {
		level = opts.LogLevel
	}
	var output io.Writer = os.Stdout
	if opts.Output != nil {
		output = opts.Output
	}
	logger, err := logging.New(logging.Options{
		Level:       level,
		Format:      cfg.Logging.Format,
		Output:      output,
		FilePath:    filepath.Join(cfg.Paths.LogDir, logging.LogFileName),
		Development: opts.Development,
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	if failed := preflight.Failed(preflight.RunAll(signalCtx, cfg)); len(failed) > 0 {
		for _, r := range failed {
			logger.Error("preflight check failed", logging.String("check", r.Name), logging.String("detail", r.Detail))
		}
		return fmt.Errorf("preflight: %d check(s) failed", len(failed))
	}
	logConfigSnapshot(logger, cfg)

	store, err := queue.Open(cfg)
	if err != nil {
		logger.Error("open queue store", logging.Error(err))
		return err
	}
	defer store.Close()

	d, err := daemon.New(cfg, store, logger)
	if err != nil {
		return fmt.Errorf("create daemon: %w", err)
	}
	defer d.Stop()

	if err := d.Start(signalCtx); err != nil {
		return fmt.Errorf("start daemon: %w", err)
	}

	pidPath := daemonctl.PIDPath(cfg)
	if err := daemonctl.WritePIDFile(pidPath); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	if err := d.Wait(); err != nil {
		logger.Error("queueflow daemon failed", logging.Error(err))
		return err
	}
	logger.Info("queueflow daemon shutting down")
	return nil
}

func logConfigSnapshot(logger *slog.Logger, cfg *config.Config) {
	logger.Info("configuration snapshot",
		logging.String("data_dir", cfg.Paths.DataDir),
		logging.String("api_bind", cfg.API.Bind),
		slog.Bool("api_token_present", strings.TrimSpace(cfg.API.Token) != ""),
		slog.Float64("rate_limit_rps", cfg.API.RateLimitRPS),
		slog.Bool("cleanup_enabled", cfg.Cleanup.Enabled),
		logging.String("cleanup_schedule", cfg.Cleanup.Schedule),
		slog.Int("dead_letter_after_attempts", cfg.Cleanup.DeadLetterAfterAttempts),
	)
}
