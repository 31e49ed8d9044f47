package tasks

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/FranksOps/gleaner/internal/metrics"
	"github.com/FranksOps/gleaner/internal/storage"
)

// Sweeper fails tasks that no process is working on any more: running tasks
// whose heartbeat went stale and pending tasks that were never picked up.
type Sweeper struct {
	store     storage.TaskStore
	threshold time.Duration
	interval  time.Duration
	logger    *slog.Logger
	now       func() time.Time
}

// NewSweeper returns a Sweeper failing tasks silent for longer than threshold.
// threshold should exceed the time a task can wait in a full queue.
func NewSweeper(store storage.TaskStore, threshold, interval time.Duration, logger *slog.Logger) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = threshold / 2
	}
	return &Sweeper{store: store, threshold: threshold, interval: interval, logger: logger, now: time.Now}
}

// Start sweeps every interval until ctx is done.
func (s *Sweeper) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		if _, err := s.Sweep(ctx); err != nil && ctx.Err() == nil {
			s.logger.Warn("task sweep failed", "err", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Sweep fails every stale running or pending task once and returns how many
// it failed. A running task is stale when its heartbeat is older than the
// threshold; a pending task when it was created longer ago than that, which
// means the pool holding it is gone.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	now := s.now()
	failed := 0
	for _, st := range []storage.TaskStatus{storage.TaskRunning, storage.TaskPending} {
		list, err := s.store.ListTasks(ctx, storage.TaskFilter{Status: st})
		if err != nil {
			return failed, fmt.Errorf("tasks: sweep %s: %w", st, err)
		}
		for _, t := range list {
			last := lastSign(t)
			if now.Sub(last) < s.threshold {
				continue
			}

			var msg string
			if st == storage.TaskPending {
				msg = fmt.Sprintf("never started, queued since %s", last.UTC().Format(time.RFC3339))
			} else {
				msg = fmt.Sprintf("heartbeat stale since %s", last.UTC().Format(time.RFC3339))
			}
			ok, err := s.store.TransitionTask(ctx, t.ID, []storage.TaskStatus{st}, storage.TaskFailed,
				storage.TaskUpdate{FinishedAt: &now, Error: &msg})
			if err != nil {
				return failed, fmt.Errorf("tasks: sweep %s: %w", t.ID, err)
			}
			if ok {
				failed++
				metrics.StaleTasksFailed.Inc()
				metrics.TasksTotal.WithLabelValues(string(storage.TaskFailed)).Inc()
				s.logger.Warn("failed stale task", "task_id", t.ID, "status", st, "last_seen", last)
			}
		}
	}
	return failed, nil
}

// lastSign is the latest moment t was known to be alive.
func lastSign(t *storage.Task) time.Time {
	switch {
	case t.HeartbeatAt != nil:
		return *t.HeartbeatAt
	case t.StartedAt != nil:
		return *t.StartedAt
	default:
		return t.CreatedAt
	}
}
