// Package executor runs request dispatch off the caller's goroutine.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"

	"go.uber.org/atomic"
	"golang.org/x/sync/errgroup"

	"github.com/timeplus-io/proton-go/pkg/errs"
)

var (
	ErrQueueFull = errors.New("executor: queue full")
	ErrShutdown  = errors.New("executor: pool shut down")
)

const DefaultQueue = 1024

// Task is one unit of work. ctx is cancelled by Future.Cancel and by
// ShutdownNow.
type Task func(ctx context.Context) (any, error)

type job struct {
	ctx  context.Context
	task Task
	fut  *Future
	stop func() bool
}

// Pool is a fixed set of workers draining a bounded queue.
type Pool struct {
	name    string
	workers int
	logger  *slog.Logger

	mu     sync.RWMutex
	closed bool
	queue  chan *job

	ctx    context.Context
	cancel context.CancelFunc
	group  *errgroup.Group

	pending   *atomic.Int64
	running   *atomic.Int64
	completed *atomic.Int64
}

// NewPool starts workers goroutines (NumCPU when workers is 0) behind a queue
// of the given capacity (DefaultQueue when 0). Negative sizes panic.
func NewPool(name string, workers, queue int, logger *slog.Logger) *Pool {
	if workers < 0 || queue < 0 {
		panic(fmt.Sprintf("executor: negative pool size %d/%d", workers, queue))
	}
	if workers == 0 {
		workers = runtime.NumCPU()
	}
	if queue == 0 {
		queue = DefaultQueue
	}
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		name:      name,
		workers:   workers,
		logger:    logger,
		queue:     make(chan *job, queue),
		ctx:       ctx,
		cancel:    cancel,
		group:     new(errgroup.Group),
		pending:   atomic.NewInt64(0),
		running:   atomic.NewInt64(0),
		completed: atomic.NewInt64(0),
	}
	for i := 0; i < workers; i++ {
		p.group.Go(p.work)
	}
	return p
}

func (p *Pool) work() error {
	for j := range p.queue {
		p.pending.Dec()
		p.run(j)
	}
	return nil
}

func (p *Pool) run(j *job) {
	defer j.stop()
	if j.ctx.Err() != nil {
		j.fut.complete(nil, errs.ErrCancelled)
		return
	}

	p.running.Inc()
	defer p.running.Dec()
	defer p.completed.Inc()

	var (
		v   any
		err error
	)
	func() {
		defer func() {
			if r := recover(); r != nil {
				p.logger.Error("task panicked", "pool", p.name, "panic", r)
				err = fmt.Errorf("executor: task panicked: %v", r)
			}
		}()
		v, err = j.task(j.ctx)
	}()
	j.fut.complete(v, cancelled(j.ctx, err))
}

// Submit queues task. ctx bounds the task: cancelling it cancels the task.
func (p *Pool) Submit(ctx context.Context, task Task) (*Future, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return nil, ErrShutdown
	}

	tctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(p.ctx, cancel)
	j := &job{ctx: tctx, task: task, fut: newFuture(cancel), stop: stop}

	p.pending.Inc()
	select {
	case p.queue <- j:
		return j.fut, nil
	default:
		p.pending.Dec()
		stop()
		cancel()
		return nil, fmt.Errorf("%w: %s holds %d tasks", ErrQueueFull, p.name, cap(p.queue))
	}
}

func (p *Pool) close() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return false
	}
	p.closed = true
	close(p.queue)
	return true
}

// Shutdown stops accepting tasks and waits for queued and running ones to
// finish, or for ctx to end.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.close()
	done := make(chan struct{})
	go func() {
		_ = p.group.Wait()
		close(done)
	}()
	select {
	case <-done:
		p.cancel()
		return nil
	case <-ctx.Done():
		return fmt.Errorf("executor: shutdown %s: %w", p.name, ctx.Err())
	}
}

// ShutdownNow cancels every queued and running task and waits for the
// workers to exit.
func (p *Pool) ShutdownNow() {
	p.close()
	p.cancel()
	_ = p.group.Wait()
}

func (p *Pool) Name() string { return p.name }

func (p *Pool) Workers() int { return p.workers }

// Pending is the number of queued tasks not yet picked up.
func (p *Pool) Pending() int { return int(p.pending.Load()) }

func (p *Pool) Running() int { return int(p.running.Load()) }

func (p *Pool) Completed() int { return int(p.completed.Load()) }

func (p *Pool) IsShutdown() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.closed
}
