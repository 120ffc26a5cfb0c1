package services

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// Task is one unit of work handed to the pool. It runs on a worker goroutine.
type Task func()

// WorkerPool runs tasks on a fixed number of workers fed by a bounded queue.
// Submit never blocks.
type WorkerPool struct {
	logger  zerolog.Logger
	workers int

	ch   chan Task
	wg   sync.WaitGroup
	once sync.Once

	active atomic.Int64

	mu     sync.Mutex
	closed bool
}

type PoolOption func(*WorkerPool)

func WithWorkers(n int) PoolOption {
	return func(p *WorkerPool) {
		if n > 0 {
			p.workers = n
		}
	}
}

func WithQueueSize(n int) PoolOption {
	return func(p *WorkerPool) {
		if n >= 0 {
			p.ch = make(chan Task, n)
		}
	}
}

func WithPoolLogger(l zerolog.Logger) PoolOption {
	return func(p *WorkerPool) { p.logger = l }
}

func NewWorkerPool(opts ...PoolOption) *WorkerPool {
	p := &WorkerPool{
		logger:  zerolog.Nop(),
		workers: 2,
		ch:      make(chan Task, 16),
	}
	for _, o := range opts {
		o(p)
	}
	p.start()
	return p
}

func (p *WorkerPool) start() {
	p.once.Do(func() {
		for i := 0; i < p.workers; i++ {
			p.wg.Add(1)
			go func(workerID int) {
				defer p.wg.Done()
				p.logger.Debug().Int("worker_id", workerID).Msg("worker started")
				for task := range p.ch {
					p.active.Add(1)
					task()
					p.active.Add(-1)
				}
				p.logger.Debug().Int("worker_id", workerID).Msg("worker stopped")
			}(i + 1)
		}
	})
}

// Submit queues task. It fails with ErrSaturated when every worker is busy
// and the queue is full, or when the pool is shutting down.
func (p *WorkerPool) Submit(task Task) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return Wrap(ErrSaturated, "submit", "Server is shutting down", nil)
	}
	select {
	case p.ch <- task:
		return nil
	default:
		p.logger.Warn().Int("depth", len(p.ch)).Msg("queue full, rejecting run")
		return Wrap(ErrSaturated, "submit", "Server is busy, try again later", nil)
	}
}

type PoolStats struct {
	Workers  int `json:"workers"`
	Active   int `json:"active"`
	Depth    int `json:"queued"`
	Capacity int `json:"queue_capacity"`
}

func (p *WorkerPool) Stats() PoolStats {
	return PoolStats{
		Workers:  p.workers,
		Active:   int(p.active.Load()),
		Depth:    len(p.ch),
		Capacity: cap(p.ch),
	}
}

// Shutdown stops accepting tasks and waits for queued ones to finish or for
// ctx to end.
func (p *WorkerPool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.ch)
	p.mu.Unlock()

	done := make(chan struct{})
	go func() { defer close(done); p.wg.Wait() }()

	select {
	case <-ctx.Done():
		p.logger.Warn().Msg("shutdown interrupted by context")
		return ctx.Err()
	case <-done:
		p.logger.Info().Msg("worker pool drained")
		return nil
	}
}
