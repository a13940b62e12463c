// Package worker runs detached background tasks with bounded concurrency.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/semaphore"
)

// ErrPoolClosed is delivered for tasks submitted after Close.
var ErrPoolClosed = errors.New("worker pool closed")

// Task is a unit of background work.
type Task func(ctx context.Context) error

// Pool bounds concurrently running tasks. Tasks run on the pool's own context,
// so they outlive the request that submitted them.
type Pool struct {
	sem    *semaphore.Weighted
	ctx    context.Context
	cancel context.CancelFunc
	logger *slog.Logger

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// NewPool creates a pool with the given number of slots.
func NewPool(size int, logger *slog.Logger) *Pool {
	if size <= 0 {
		size = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		sem:    semaphore.NewWeighted(int64(size)),
		ctx:    ctx,
		cancel: cancel,
		logger: logger.With("component", "worker_pool"),
	}
}

// Submit schedules task and returns immediately. The channel receives exactly one value
// when the task finishes (nil on success) and is then closed.
func (p *Pool) Submit(name string, task Task) <-chan error {
	done := make(chan error, 1)

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		done <- ErrPoolClosed
		close(done)
		return done
	}
	p.wg.Add(1)
	p.mu.Unlock()

	go func() {
		defer p.wg.Done()
		defer close(done)

		if err := p.sem.Acquire(p.ctx, 1); err != nil {
			done <- fmt.Errorf("acquire slot for %s: %w", name, err)
			return
		}
		defer p.sem.Release(1)

		done <- p.run(name, task)
	}()

	return done
}

func (p *Pool) run(name string, task Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task %s panic: %v", name, r)
			p.logger.Error("task panicked", "task", name, "panic", r)
		}
	}()
	return task(p.ctx)
}

// Close cancels running tasks and waits for them, bounded by ctx.
func (p *Pool) Close(ctx context.Context) error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()

	p.cancel()

	waited := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(waited)
	}()
	select {
	case <-waited:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
