package tasks

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"
)

// ErrPoolFull is returned by Submit when the queue has no room.
var ErrPoolFull = errors.New("tasks: worker queue full")

// ErrPoolClosed is returned by Submit after Close.
var ErrPoolClosed = errors.New("tasks: worker pool closed")

// Runner executes one task to completion.
type Runner interface {
	Run(ctx context.Context, taskID string)
	// Abandon settles a queued task the pool will not run.
	Abandon(ctx context.Context, taskID, reason string)
}

// abandonReason is recorded on queued tasks dropped by a pool shutdown.
const abandonReason = "worker pool shut down before the task ran"

// Pool runs tasks on a fixed number of workers fed by a bounded queue.
type Pool struct {
	runner Runner
	logger *slog.Logger
	queue  chan string
	cancel context.CancelFunc
	g      *errgroup.Group

	mu     sync.RWMutex
	closed bool
}

// NewPool starts workers goroutines. Tasks run until they finish or a Close
// deadline passes; nothing else cancels them.
func NewPool(runner Runner, workers, queueSize int, logger *slog.Logger) *Pool {
	if workers <= 0 {
		workers = 1
	}
	if queueSize <= 0 {
		queueSize = 100
	}
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	g, gCtx := errgroup.WithContext(ctx)
	p := &Pool{
		runner: runner,
		logger: logger,
		queue:  make(chan string, queueSize),
		cancel: cancel,
		g:      g,
	}
	for i := 0; i < workers; i++ {
		g.Go(func() error {
			for id := range p.queue {
				if gCtx.Err() != nil {
					p.logger.Warn("pool shutting down, task not run", "task_id", id)
					p.runner.Abandon(context.Background(), id, abandonReason)
					continue
				}
				p.runner.Run(gCtx, id)
			}
			return nil
		})
	}
	return p
}

// Submit queues a task without blocking.
func (p *Pool) Submit(taskID string) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPoolClosed
	}
	select {
	case p.queue <- taskID:
		return nil
	default:
		return ErrPoolFull
	}
}

// Close stops accepting tasks and waits for queued and running ones. If ctx
// expires first, running tasks are cancelled, tasks still queued are
// abandoned, and Close returns ctx's error once the workers have exited.
func (p *Pool) Close(ctx context.Context) error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.queue)
	}
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		_ = p.g.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.cancel()
		return nil
	case <-ctx.Done():
		p.cancel()
		<-done
		return ctx.Err()
	}
}
