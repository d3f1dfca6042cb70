// Package workerpool runs callbacks off the caller's goroutine on a bounded
// set of workers. With a single worker tasks run in submission order.
package workerpool

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Task is a named unit of work
type Task struct {
	Name string
	Fn   func(context.Context) error
}

// Config holds worker pool configuration
type Config struct {
	Name       string
	MaxWorkers int
	QueueSize  int
}

// WorkerPool executes submitted tasks on MaxWorkers goroutines
type WorkerPool struct {
	name      string
	tasks     chan Task
	logger    *zap.Logger
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	mu        sync.RWMutex
	stopped   bool
	completed atomic.Uint64
	failed    atomic.Uint64
	rejected  atomic.Uint64
}

// NewWorkerPool starts the workers
func NewWorkerPool(cfg *Config, logger *zap.Logger) *WorkerPool {
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = 1
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &WorkerPool{
		name:   cfg.Name,
		tasks:  make(chan Task, cfg.QueueSize),
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}

	for i := 0; i < cfg.MaxWorkers; i++ {
		p.wg.Add(1)
		go p.worker()
	}

	logger.Info("Worker pool started",
		zap.String("name", p.name),
		zap.Int("max_workers", cfg.MaxWorkers),
		zap.Int("queue_size", cfg.QueueSize))

	return p
}

// worker drains the queue until it is closed
func (p *WorkerPool) worker() {
	defer p.wg.Done()
	for task := range p.tasks {
		p.execute(task)
	}
}

func (p *WorkerPool) execute(task Task) {
	start := time.Now()
	if err := p.safeExecute(task); err != nil {
		p.failed.Add(1)
		p.logger.Error("Task failed",
			zap.String("pool", p.name),
			zap.String("task", task.Name),
			zap.Duration("duration", time.Since(start)),
			zap.Error(err))
		return
	}
	p.completed.Add(1)
}

// safeExecute turns a panicking task into an error
func (p *WorkerPool) safeExecute(task Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panicked: %v", r)
		}
	}()
	return task.Fn(p.ctx)
}

// Submit queues task without blocking. It fails when the queue is full or
// the pool is stopped.
func (p *WorkerPool) Submit(task Task) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.stopped {
		p.rejected.Add(1)
		return fmt.Errorf("worker pool '%s' is stopped", p.name)
	}

	select {
	case p.tasks <- task:
		return nil
	default:
		p.rejected.Add(1)
		return fmt.Errorf("worker pool '%s' queue is full", p.name)
	}
}

// Stop rejects new tasks and waits for queued ones. After timeout the
// context passed to running tasks is canceled.
func (p *WorkerPool) Stop(timeout time.Duration) error {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return nil
	}
	p.stopped = true
	close(p.tasks)
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.cancel()
		p.logger.Info("Worker pool stopped", zap.String("name", p.name))
		return nil
	case <-time.After(timeout):
		p.cancel()
		return fmt.Errorf("worker pool '%s' stop timeout after %v", p.name, timeout)
	}
}

// Stats is a point-in-time view of the pool counters
type Stats struct {
	Name      string
	Queued    int
	Completed uint64
	Failed    uint64
	Rejected  uint64
}

// Stats returns current worker pool statistics
func (p *WorkerPool) Stats() Stats {
	return Stats{
		Name:      p.name,
		Queued:    len(p.tasks),
		Completed: p.completed.Load(),
		Failed:    p.failed.Load(),
		Rejected:  p.rejected.Load(),
	}
}
