// Package worker runs bounded pools of goroutines that execute queued tasks.
// The validation service keeps two pools: one per trader and one shared by
// every trader's verification calls.
package worker

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/okian/traderscore/internal/adapters/mq/queue"
	"github.com/okian/traderscore/pkg/logger"
	"github.com/okian/traderscore/pkg/metrics"
)

// Default worker configuration constants.
const (
	defaultWorkerMultiplier = 2
	workerShutdownTimeout   = 5 * time.Second
	poolShutdownTimeout     = 30 * time.Second
)

// Task is the unit of work executed by a worker.
type Task = queue.Task

// Queue defines how workers receive tasks.
type Queue interface {
	Dequeue(ctx context.Context) <-chan Task
}

// Worker executes tasks from a queue.
type Worker interface {
	// Run starts the worker loop until ctx is canceled.
	Run(ctx context.Context)

	// Shutdown gracefully stops the worker.
	Shutdown(ctx context.Context) error
}

// InMemoryWorker implements Worker.
type InMemoryWorker struct {
	queue Queue
	name  string
	pool  string

	shutdown     chan struct{}
	shutdownOnce sync.Once
	done         chan struct{}

	logger logger.Logger
}

// NewInMemoryWorker creates a new worker with configuration options.
func NewInMemoryWorker(q Queue, opts ...Option) *InMemoryWorker {
	w := &InMemoryWorker{
		queue:    q,
		name:     "worker",
		pool:     "default",
		shutdown: make(chan struct{}),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.logger == nil {
		w.logger = logger.Named(w.pool).Named(w.name)
	}
	return w
}

// Run starts the worker loop.
func (w *InMemoryWorker) Run(ctx context.Context) {
	defer close(w.done)

	tasks := w.queue.Dequeue(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.shutdown:
			return
		case t, ok := <-tasks:
			if !ok {
				return
			}
			w.execute(ctx, t)
		}
	}
}

// execute runs one task; a panicking task must not take the worker down.
func (w *InMemoryWorker) execute(ctx context.Context, t Task) {
	start := time.Now()
	taskCtx := t.Ctx
	if taskCtx == nil {
		taskCtx = ctx
	}
	defer func() {
		if r := recover(); r != nil {
			metrics.RecordErrorByComponent("worker", "panic")
			w.logger.Error(ctx, "task panicked",
				logger.String("task_id", t.ID),
				logger.Any("panic", r),
			)
		}
		metrics.RecordWorkerTask(w.pool, float64(time.Since(start).Milliseconds()))
	}()
	if t.Run != nil {
		t.Run(taskCtx)
	}
}

// Shutdown gracefully stops the worker.
func (w *InMemoryWorker) Shutdown(ctx context.Context) error {
	w.shutdownOnce.Do(func() { close(w.shutdown) })
	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		w.logger.Warn(ctx, "shutdown timed out")
		return fmt.Errorf("shutdown timed out: %w", ctx.Err())
	}
}

// Pool manages a fixed set of workers over one queue.
type Pool struct {
	name    string
	workers []*InMemoryWorker
	queue   *queue.InMemoryQueue

	started  atomic.Bool
	stopped  atomic.Bool
	stopOnce sync.Once
	done     chan struct{}

	logger logger.Logger
}

// NewPool creates a pool of workerCount workers behind a queue of queueSize.
func NewPool(name string, workerCount, queueSize int, opts ...PoolOption) *Pool {
	if workerCount < 1 {
		workerCount = runtime.NumCPU() * defaultWorkerMultiplier
	}
	p := &Pool{
		name:    name,
		workers: make([]*InMemoryWorker, workerCount),
		queue:   queue.NewInMemoryQueue(queue.WithName(name), queue.WithCapacity(queueSize)),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = logger.Named(name + "-pool")
	}
	for i := range p.workers {
		p.workers[i] = NewInMemoryWorker(p.queue,
			WithName("worker-"+strconv.Itoa(i)),
			WithPool(name),
			WithLogger(p.logger.Named("worker-"+strconv.Itoa(i))),
		)
	}
	return p
}

// Start launches every worker. Calling Start twice is a no-op.
func (p *Pool) Start(ctx context.Context) {
	if !p.started.CompareAndSwap(false, true) {
		return
	}
	for _, w := range p.workers {
		go w.Run(ctx)
	}
	metrics.UpdateWorkerActiveCount(p.name, len(p.workers))
	p.logger.Info(ctx, "worker pool started",
		logger.Int("workers", len(p.workers)),
		logger.Int("queue_capacity", p.queue.Capacity()),
	)
}

// Submit queues a task, blocking while the queue is full.
func (p *Pool) Submit(ctx context.Context, t Task) error {
	if p.stopped.Load() {
		return ErrPoolStopped
	}
	if err := p.queue.EnqueueWait(ctx, t); err != nil {
		if errors.Is(err, queue.ErrQueueClosed) {
			return ErrPoolStopped
		}
		return err
	}
	return nil
}

// TrySubmit queues a task only if there is room.
func (p *Pool) TrySubmit(ctx context.Context, t Task) bool {
	if p.stopped.Load() {
		return false
	}
	return p.queue.Enqueue(ctx, t)
}

// Done is closed once the pool stops accepting work.
func (p *Pool) Done() <-chan struct{} {
	return p.done
}

// Size returns the number of workers.
func (p *Pool) Size() int {
	return len(p.workers)
}

// QueueLen returns the number of waiting tasks.
func (p *Pool) QueueLen() int {
	return p.queue.Len(context.Background())
}

// Stop stops the pool, giving each worker a short grace period.
func (p *Pool) Stop() {
	ctx, cancel := context.WithTimeout(context.Background(), workerShutdownTimeout)
	defer cancel()
	_ = p.Shutdown(ctx)
}

// Shutdown closes the queue and waits for workers to finish their current task.
func (p *Pool) Shutdown(ctx context.Context) error {
	var err error
	p.stopOnce.Do(func() {
		p.stopped.Store(true)
		close(p.done)
		if cerr := p.queue.Close(); cerr != nil {
			p.logger.Error(ctx, "error closing queue", logger.Error(cerr))
		}

		shutdownCtx, cancel := context.WithTimeout(ctx, poolShutdownTimeout)
		defer cancel()
		for i, w := range p.workers {
			if !p.started.Load() {
				break
			}
			if werr := w.Shutdown(shutdownCtx); werr != nil {
				p.logger.Warn(ctx, "worker shutdown timed out", logger.Int("worker_id", i))
				err = werr
			}
		}
		metrics.UpdateWorkerActiveCount(p.name, 0)
	})
	return err
}
