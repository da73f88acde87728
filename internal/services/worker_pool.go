package services

import (
	"context"
	"sync"

	"dealroom-chat/internal/metrics"
	dealroom_errors "dealroom-chat/pkg/errors"

	"go.uber.org/zap"
)

// Job runs on a pool worker. The context is the pool's, not the caller's.
type Job func(ctx context.Context)

// WorkerPool runs jobs on a fixed set of goroutines fed by a bounded queue.
type WorkerPool struct {
	workers int
	jobs    chan Job
	logger  *zap.Logger

	mu      sync.RWMutex
	stopped bool
	wg      sync.WaitGroup
}

func NewWorkerPool(workers, queue int, logger *zap.Logger) *WorkerPool {
	if workers <= 0 {
		workers = 1
	}
	if queue < 0 {
		queue = 0
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WorkerPool{
		workers: workers,
		jobs:    make(chan Job, queue),
		logger:  logger.With(zap.String("component", "worker_pool")),
	}
}

// Start launches the workers. Jobs still queued when ctx ends are run before
// the workers exit.
func (p *WorkerPool) Start(ctx context.Context) {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.run(ctx)
	}
}

func (p *WorkerPool) run(ctx context.Context) {
	defer p.wg.Done()
	for job := range p.jobs {
		metrics.WorkerQueueDepth.Set(float64(len(p.jobs)))
		p.execute(ctx, job)
	}
}

func (p *WorkerPool) execute(ctx context.Context, job Job) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("job panicked", zap.Any("panic", r), zap.Stack("stack"))
		}
	}()
	job(context.WithoutCancel(ctx))
}

// Submit queues a job without blocking. ErrQueueFull when the queue is full
// or the pool is stopped.
func (p *WorkerPool) Submit(job Job) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.stopped {
		return dealroom_errors.ErrQueueFull
	}
	select {
	case p.jobs <- job:
		metrics.WorkerQueueDepth.Set(float64(len(p.jobs)))
		return nil
	default:
		return dealroom_errors.ErrQueueFull
	}
}

// Stop refuses new jobs, drains the queue and waits for the workers.
func (p *WorkerPool) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	close(p.jobs)
	p.mu.Unlock()
	p.wg.Wait()
}
