package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"
	"golang.org/x/sync/errgroup"

	"queueflow/internal/api"
	"queueflow/internal/config"
	"queueflow/internal/logging"
	"queueflow/internal/metrics"
	"queueflow/internal/queue"
)

const defaultStatsInterval = 30 * time.Second

// Daemon serves the queue API, runs scheduled cleanup and keeps statistics
// fresh. A file lock enforces a single instance per data directory.
type Daemon struct {
	cfg     *config.Config
	logger  *slog.Logger
	store   *queue.Store
	service *api.QueueService
	metrics *metrics.Collector
	api     *apiServer
	cleanup *cleanupScheduler
	limiter *limiterPool

	statsInterval time.Duration

	lockPath string
	lock     *flock.Flock

	mu        sync.Mutex
	running   atomic.Bool
	cancel    context.CancelFunc
	group     *errgroup.Group
	startedAt atomic.Int64
}

// Option customizes a Daemon.
type Option func(*Daemon)

// WithStatsInterval overrides how often statistics snapshots are refreshed.
func WithStatsInterval(interval time.Duration) Option {
	return func(d *Daemon) {
		if interval > 0 {
			d.statsInterval = interval
		}
	}
}

// New constructs a daemon with initialized dependencies.
func New(cfg *config.Config, store *queue.Store, logger *slog.Logger, opts ...Option) (*Daemon, error) {
	if cfg == nil || store == nil {
		return nil, errors.New("daemon requires config and store")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	collector := metrics.New()
	d := &Daemon{
		cfg:     cfg,
		logger:  logger,
		store:   store,
		metrics: collector,
		service: api.NewQueueService(store,
			api.WithDefaults(api.DefaultsFromConfig(cfg)),
			api.WithObserver(collector),
		),
		limiter:       newLimiterPool(cfg.API.RateLimitRPS, cfg.API.RateLimitBurst),
		statsInterval: defaultStatsInterval,
		lockPath:      cfg.LockPath(),
		lock:          flock.New(cfg.LockPath()),
	}
	for _, opt := range opts {
		opt(d)
	}

	if cfg.Cleanup.Enabled {
		scheduler, err := newCleanupScheduler(cfg.Cleanup.Schedule, d.RunCleanup, logger)
		if err != nil {
			return nil, err
		}
		d.cleanup = scheduler
	}
	d.api = newAPIServer(cfg.API.Bind, cfg.API.Token, d, logger)
	return d, nil
}

// Start acquires the daemon lock and launches the API server and background loops.
func (d *Daemon) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another queueflow daemon instance is already running")
	}

	if err := d.api.listen(); err != nil {
		_ = d.lock.Unlock()
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	group, groupCtx := errgroup.WithContext(runCtx)
	group.Go(func() error { return d.api.serve(groupCtx) })
	if d.cleanup != nil {
		group.Go(func() error { return d.cleanup.loop(groupCtx) })
	}
	group.Go(func() error { return d.statsLoop(groupCtx) })

	d.cancel = cancel
	d.group = group
	d.startedAt.Store(time.Now().UnixNano())
	d.running.Store(true)
	d.logger.Info("queueflow daemon started",
		logging.String("lock", d.lockPath),
		logging.String("address", d.api.address()),
	)
	return nil
}

// Wait blocks until the background loops exit and returns the first error.
func (d *Daemon) Wait() error {
	d.mu.Lock()
	group := d.group
	d.mu.Unlock()
	if group == nil {
		return nil
	}
	return group.Wait()
}

// Stop stops background processing and releases the daemon lock.
func (d *Daemon) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.running.Load() {
		return
	}
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	if d.group != nil {
		if err := d.group.Wait(); err != nil {
			d.logger.Warn("background loop exited with error", logging.Error(err))
		}
		d.group = nil
	}
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.running.Store(false)
	d.logger.Info("queueflow daemon stopped")
}

// Close releases resources held by the daemon.
func (d *Daemon) Close() error {
	d.Stop()
	if d.store != nil {
		return d.store.Close()
	}
	return nil
}

// Service returns the queue service backing the API.
func (d *Daemon) Service() *api.QueueService {
	return d.service
}

// Address returns the bound API address once started.
func (d *Daemon) Address() string {
	return d.api.address()
}

// RunCleanup runs a reconciliation pass with configured defaults.
func (d *Daemon) RunCleanup(ctx context.Context) (api.CleanupResponse, error) {
	return d.service.Cleanup(ctx, api.CleanupRequest{})
}

func (d *Daemon) statsLoop(ctx context.Context) error {
	ticker := time.NewTicker(d.statsInterval)
	defer ticker.Stop()
	prune := time.NewTicker(limiterPrunePeriod)
	defer prune.Stop()

	d.refreshStats(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			d.refreshStats(ctx)
		case <-prune.C:
			d.limiter.prune()
		}
	}
}

func (d *Daemon) refreshStats(ctx context.Context) {
	if _, err := d.service.RefreshStats(ctx); err != nil && ctx.Err() == nil {
		d.logger.Warn("refresh queue statistics failed", logging.Error(err))
	}
}

// Status returns the current daemon status.
func (d *Daemon) Status(ctx context.Context) api.DaemonStatus {
	status := api.DaemonStatus{
		Running:      d.running.Load(),
		PID:          os.Getpid(),
		QueueDBPath:  d.store.Path(),
		LockFilePath: d.lockPath,
		APIAddress:   d.api.address(),
	}
	if status.Running {
		status.StartedAt = api.FormatTime(time.Unix(0, d.startedAt.Load()))
	}
	if d.cleanup != nil {
		next, last, lastErr, _ := d.cleanup.snapshot()
		status.CleanupSchedule = d.cleanup.schedule
		status.NextCleanup = api.FormatTime(next)
		status.LastCleanup = api.FormatTime(last)
		if lastErr != nil {
			status.LastCleanupErr = lastErr.Error()
		}
	}
	if counts, err := d.service.Stats(ctx); err == nil {
		status.Counts = counts
	} else {
		d.logger.Warn("status counts unavailable", logging.Error(err))
	}
	return status
}
