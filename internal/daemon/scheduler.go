package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/adhocore/gronx"

	"queueflow/internal/api"
	"queueflow/internal/logging"
)

type cleanupJob func(ctx context.Context) (api.CleanupResponse, error)

// cleanupScheduler runs the reconciliation pass on a cron schedule. Overlapping
// ticks are skipped while a pass is still running.
type cleanupScheduler struct {
	schedule string
	job      cleanupJob
	logger   *slog.Logger
	now      func() time.Time
	after    func(time.Duration) <-chan time.Time

	running atomic.Bool

	mu      sync.Mutex
	next    time.Time
	last    time.Time
	lastErr error
	runs    int
}

func newCleanupScheduler(schedule string, job cleanupJob, logger *slog.Logger) (*cleanupScheduler, error) {
	if !gronx.IsValid(schedule) {
		return nil, fmt.Errorf("cleanup schedule: invalid cron expression %q", schedule)
	}
	return &cleanupScheduler{
		schedule: schedule,
		job:      job,
		logger:   logging.NewComponentLogger(logger, "cleanup-scheduler"),
		now:      time.Now,
		after:    time.After,
	}, nil
}

// loop blocks until ctx is cancelled, running the job at every cron tick.
func (s *cleanupScheduler) loop(ctx context.Context) error {
	s.logger.Info("cleanup scheduler started", logging.String("schedule", s.schedule))
	for {
		now := s.now()
		next, err := gronx.NextTickAfter(s.schedule, now, false)
		if err != nil {
			return fmt.Errorf("cleanup schedule: %w", err)
		}
		s.mu.Lock()
		s.next = next
		s.mu.Unlock()

		wait := next.Sub(now)
		if wait < 0 {
			wait = 0
		}
		select {
		case <-ctx.Done():
			s.logger.Info("cleanup scheduler stopped")
			return nil
		case <-s.after(wait):
		}
		s.runOnce(ctx)
	}
}

// runOnce executes a single pass unless one is already in flight.
func (s *cleanupScheduler) runOnce(ctx context.Context) {
	if !s.running.CompareAndSwap(false, true) {
		s.logger.Warn("cleanup pass still running; skipping tick")
		return
	}
	defer s.running.Store(false)

	started := s.now()
	result, err := s.job(ctx)

	s.mu.Lock()
	s.last = started
	s.lastErr = err
	s.runs++
	s.mu.Unlock()

	if err != nil {
		s.logger.Error("scheduled cleanup failed", logging.Error(err))
		return
	}
	attrs := []slog.Attr{
		slog.Int64("orphaned", result.OrphanedItemsRemoved),
		slog.Int64("expired", result.OldCompletedItemsRemoved),
		slog.Int64("invalid_tasks", result.InvalidTasksRemoved),
		slog.Int64("invalid_tickets", result.InvalidTicketsRemoved),
		slog.Int64("dead_lettered", result.DeadLettered),
		slog.Int64("total_removed", result.TotalRemoved),
	}
	if len(result.Errors) > 0 {
		attrs = append(attrs, slog.Any("step_errors", result.Errors))
		s.logger.Warn("scheduled cleanup finished with step errors", logging.Args(attrs...)...)
		return
	}
	s.logger.Info("scheduled cleanup finished", logging.Args(attrs...)...)
}

// snapshot returns the next planned tick, the last run start and its error.
func (s *cleanupScheduler) snapshot() (next, last time.Time, lastErr error, runs int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.next, s.last, s.lastErr, s.runs
}
