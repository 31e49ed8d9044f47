// Package pipeline executes one collection task: it walks the requested
// source types in order, collects through the orchestrator, drops URLs the
// task already holds and commits each source's new records as one batch.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/FranksOps/gleaner/internal/collector"
	"github.com/FranksOps/gleaner/internal/metrics"
	"github.com/FranksOps/gleaner/internal/params"
	"github.com/FranksOps/gleaner/internal/storage"
	"github.com/FranksOps/gleaner/pkg/ratelimit"
	"github.com/google/uuid"
)

// DefaultSourceDelay is the pause between two source types.
const DefaultSourceDelay = time.Second

// errStopped unwinds a run that observed a stop.
var errStopped = errors.New("pipeline: task stopped")

// Collector runs one source type.
type Collector interface {
	RunBySource(ctx context.Context, tag string, p params.Params) collector.Envelope
}

// Store is the persistence the pipeline needs.
type Store interface {
	storage.TaskStore
	storage.RecordStore
}

// Config tunes a Pipeline.
type Config struct {
	SourceDelay time.Duration
	// Sleep waits between sources; tests replace it.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Pipeline runs tasks. It is safe for concurrent use by many tasks.
type Pipeline struct {
	store     Store
	collector Collector
	logger    *slog.Logger
	cfg       Config
	now       func() time.Time
}

// New returns a Pipeline.
func New(store Store, c Collector, logger *slog.Logger, cfg Config) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.SourceDelay < 0 {
		cfg.SourceDelay = 0
	}
	if cfg.Sleep == nil {
		cfg.Sleep = ratelimit.Sleep
	}
	return &Pipeline{store: store, collector: c, logger: logger, cfg: cfg, now: time.Now}
}

// Run executes task id to completion. It never returns an error: failures
// end up as the task's status and message.
func (p *Pipeline) Run(ctx context.Context, id string) {
	logger := p.logger.With("task_id", id)

	metrics.TasksRunning.Inc()
	defer metrics.TasksRunning.Dec()

	defer func() {
		if r := recover(); r != nil {
			logger.Error("task panicked", "panic", r, "stack", string(debug.Stack()))
			p.fail(ctx, id, fmt.Sprintf("panic: %v", r), logger)
		}
	}()

	err := p.run(ctx, id, logger)
	switch {
	case err == nil:
	case errors.Is(err, errStopped):
		logger.Info("task stopped")
	case ctx.Err() != nil:
		logger.Warn("task interrupted", "err", err)
		p.fail(ctx, id, "interrupted by shutdown: "+err.Error(), logger)
	default:
		logger.Error("task failed", "err", err)
		p.fail(ctx, id, err.Error(), logger)
	}
}

// Abandon fails a task that was queued but will never run. A task stopped
// while it waited stays stopped.
func (p *Pipeline) Abandon(ctx context.Context, id, reason string) {
	logger := p.logger.With("task_id", id)
	logger.Warn("task abandoned", "reason", reason)
	p.fail(ctx, id, reason, logger)
}

func (p *Pipeline) run(ctx context.Context, id string, logger *slog.Logger) error {
	task, err := p.store.GetTask(ctx, id)
	if err != nil {
		return fmt.Errorf("load task: %w", err)
	}

	started := p.now()
	ok, err := p.store.TransitionTask(ctx, id, []storage.TaskStatus{storage.TaskPending}, storage.TaskRunning, storage.TaskUpdate{StartedAt: &started})
	if err != nil {
		return fmt.Errorf("mark running: %w", err)
	}
	if !ok {
		logger.Info("task no longer pending, not running it")
		return errStopped
	}
	p.heartbeat(ctx, id, logger)
	logger.Info("task started", "keyword", task.Request.Keyword, "sources", task.Request.SourceTypes)

	total := 0
	for i, tag := range task.Request.SourceTypes {
		if i > 0 && p.cfg.SourceDelay > 0 {
			if err := p.cfg.Sleep(ctx, p.cfg.SourceDelay); err != nil {
				return err
			}
		}
		if err := p.checkpoint(ctx, id, logger); err != nil {
			return err
		}

		n, err := p.ingestSource(ctx, task, tag, total, logger)
		if err != nil {
			return err
		}
		total += n
	}

	if err := p.checkpoint(ctx, id, logger); err != nil {
		return err
	}
	count, err := p.store.CountRecords(ctx, storage.RecordFilter{TaskID: id})
	if err != nil {
		return fmt.Errorf("count records: %w", err)
	}
	finished := p.now()
	ok, err = p.store.TransitionTask(ctx, id, []storage.TaskStatus{storage.TaskRunning}, storage.TaskCompleted, storage.TaskUpdate{FinishedAt: &finished, Total: &count})
	if err != nil {
		return fmt.Errorf("mark completed: %w", err)
	}
	if ok {
		metrics.TasksTotal.WithLabelValues(string(storage.TaskCompleted)).Inc()
		logger.Info("task completed", "total", count, "duration", finished.Sub(started))
	}
	return nil
}

// ingestSource collects one source type and commits its new records,
// returning how many were written. Collection failures are logged and yield
// zero; only store errors and stops are returned.
func (p *Pipeline) ingestSource(ctx context.Context, task *storage.Task, tag string, total int, logger *slog.Logger) (int, error) {
	logger = logger.With("source", tag)

	env := p.collector.RunBySource(ctx, tag, params.Params{
		"keyword": task.Request.Keyword,
		"page":    float64(task.Request.Page),
		"limit":   float64(task.Request.Limit),
	})
	if !env.Success {
		logger.Warn("source collection failed", "code", env.Code, "error", env.Error, "transport_exhausted", env.TransportExhausted)
		return 0, nil
	}

	seen := make(map[string]struct{}, len(env.Results))
	batch := make([]*storage.Record, 0, len(env.Results))
	dups := 0
	for _, item := range env.Results {
		if err := p.checkpoint(ctx, task.ID, logger); err != nil {
			return 0, err
		}
		if item.URL == "" {
			continue
		}
		if _, dup := seen[item.URL]; dup {
			dups++
			continue
		}
		seen[item.URL] = struct{}{}

		exists, err := p.store.RecordExists(ctx, task.ID, item.URL)
		if err != nil {
			return 0, fmt.Errorf("dedup %s: %w", item.URL, err)
		}
		if exists {
			dups++
			continue
		}
		batch = append(batch, &storage.Record{
			ID:          uuid.NewString(),
			TaskID:      task.ID,
			URL:         item.URL,
			Title:       item.Title,
			Content:     item.Content,
			Source:      tag,
			Status:      storage.RecordCollected,
			CollectedAt: p.now(),
		})
	}

	written := 0
	if len(batch) > 0 {
		var err error
		written, err = p.store.InsertRecords(ctx, batch)
		if err != nil {
			return 0, fmt.Errorf("commit %s batch: %w", tag, err)
		}
		// Rows lost to a concurrent writer are duplicates too.
		dups += len(batch) - written
		if err := p.store.SetTaskTotal(ctx, task.ID, total+written); err != nil {
			return 0, fmt.Errorf("update total: %w", err)
		}
	}

	metrics.RecordsIngestedTotal.WithLabelValues(tag).Add(float64(written))
	metrics.DuplicatesSkippedTotal.WithLabelValues(tag).Add(float64(dups))
	logger.Info("source ingested", "results", len(env.Results), "new", written, "duplicates", dups)
	return written, nil
}

// checkpoint returns errStopped once the task has left the running state,
// and heartbeats otherwise.
func (p *Pipeline) checkpoint(ctx context.Context, id string, logger *slog.Logger) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t, err := p.store.GetTask(ctx, id)
	if err != nil {
		return fmt.Errorf("poll status: %w", err)
	}
	if t.Status != storage.TaskRunning {
		return errStopped
	}
	p.heartbeat(ctx, id, logger)
	return nil
}

func (p *Pipeline) heartbeat(ctx context.Context, id string, logger *slog.Logger) {
	if err := p.store.HeartbeatTask(ctx, id, p.now()); err != nil {
		logger.Warn("heartbeat failed", "err", err)
	}
}

// fail moves a pending or running task to failed. A stopped task stays
// stopped.
func (p *Pipeline) fail(ctx context.Context, id, msg string, logger *slog.Logger) {
	// The run's context may be the reason we are failing.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	finished := p.now()
	ok, err := p.store.TransitionTask(ctx, id,
		[]storage.TaskStatus{storage.TaskPending, storage.TaskRunning}, storage.TaskFailed,
		storage.TaskUpdate{FinishedAt: &finished, Error: &msg})
	if err != nil {
		logger.Error("could not mark task failed", "err", err)
		return
	}
	if ok {
		metrics.TasksTotal.WithLabelValues(string(storage.TaskFailed)).Inc()
	}
}
