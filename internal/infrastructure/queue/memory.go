package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"FeedSentry/internal/domain"
	"FeedSentry/internal/ports"
)

// DeadJob is a job dropped after exhausting its attempts.
type DeadJob struct {
	Job   domain.ProcessJob
	Error string
}

// Memory is an in-process queue backed by a buffered channel. Jobs do not survive restarts.
type Memory struct {
	jobs   chan domain.ProcessJob
	opts   Options
	logger *slog.Logger

	mu   sync.Mutex
	dead []DeadJob
	wg   sync.WaitGroup
}

var _ ports.JobQueue = (*Memory)(nil)

// NewMemory creates a queue with the given buffer size.
func NewMemory(buffer int, opts Options, logger *slog.Logger) *Memory {
	if buffer <= 0 {
		buffer = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Memory{
		jobs:   make(chan domain.ProcessJob, buffer),
		opts:   opts.normalized(),
		logger: logger.With("component", "queue", "driver", "memory"),
	}
}

// Enqueue adds a job, waiting for buffer space until ctx is done.
func (m *Memory) Enqueue(ctx context.Context, job domain.ProcessJob) error {
	select {
	case m.jobs <- job:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for buffer space: %w", ctx.Err())
	}
}

// Len reports the number of buffered jobs.
func (m *Memory) Len() int {
	return len(m.jobs)
}

// Dead returns a copy of the dead-letter list.
func (m *Memory) Dead() []DeadJob {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]DeadJob, len(m.dead))
	copy(out, m.dead)
	return out
}

// Run starts the worker pool and blocks until ctx is done.
func (m *Memory) Run(ctx context.Context, handler ports.JobHandler) error {
	m.logger.Info("queue workers started", "workers", m.opts.Workers)

	for i := 0; i < m.opts.Workers; i++ {
		m.wg.Add(1)
		go m.work(ctx, handler)
	}
	<-ctx.Done()
	m.wg.Wait()

	m.logger.Info("queue workers stopped")
	return nil
}

func (m *Memory) work(ctx context.Context, handler ports.JobHandler) {
	defer m.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-m.jobs:
			m.handle(ctx, handler, job)
		}
	}
}

func (m *Memory) handle(ctx context.Context, handler ports.JobHandler, job domain.ProcessJob) {
	next, result, err := attempt(ctx, "memory", m.opts, m.logger, handler, job)
	switch result {
	case outcomeDead:
		m.mu.Lock()
		m.dead = append(m.dead, DeadJob{Job: next, Error: err.Error()})
		m.mu.Unlock()
	case outcomeRetry:
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			if !sleepCtx(ctx, m.opts.RetryDelay) {
				return
			}
			select {
			case m.jobs <- next:
			case <-ctx.Done():
			}
		}()
	}
}

// Drain handles buffered jobs on the calling goroutine until the buffer is empty
// and reports how many deliveries it made.
func (m *Memory) Drain(ctx context.Context, handler ports.JobHandler) int {
	stopped := make(chan struct{})
	close(stopped)
	return m.Consume(ctx, handler, stopped)
}

// Consume handles jobs on the calling goroutine as they arrive, so a producer on another
// goroutine never blocks on a full buffer. Once stop is closed it finishes the buffered
// jobs and returns the number of deliveries. Retries run inline after RetryDelay.
// One-shot runs use it instead of Run.
func (m *Memory) Consume(ctx context.Context, handler ports.JobHandler, stop <-chan struct{}) int {
	delivered := 0
	for {
		select {
		case <-ctx.Done():
			return delivered
		case job := <-m.jobs:
			n, ok := m.deliverInline(ctx, handler, job)
			delivered += n
			if !ok {
				return delivered
			}
			continue
		default:
		}

		select {
		case <-ctx.Done():
			return delivered
		case job := <-m.jobs:
			n, ok := m.deliverInline(ctx, handler, job)
			delivered += n
			if !ok {
				return delivered
			}
		case <-stop:
			if len(m.jobs) == 0 {
				return delivered
			}
		}
	}
}

// deliverInline runs job until it succeeds or dies. ok is false when ctx ended first.
func (m *Memory) deliverInline(ctx context.Context, handler ports.JobHandler, job domain.ProcessJob) (attempts int, ok bool) {
	for {
		attempts++
		next, result, err := attempt(ctx, "memory", m.opts, m.logger, handler, job)
		switch result {
		case outcomeDead:
			m.mu.Lock()
			m.dead = append(m.dead, DeadJob{Job: next, Error: err.Error()})
			m.mu.Unlock()
		case outcomeRetry:
			if !sleepCtx(ctx, m.opts.RetryDelay) {
				return attempts, false
			}
			job = next
			continue
		}
		return attempts, true
	}
}
