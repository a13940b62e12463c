package scheduler

import (
	"context"
	"sync"
	"time"

	"FeedSentry/internal/ports"
)

// Ticker runs a job on a fixed interval. A slow job delays the next tick instead of overlapping it.
type Ticker struct {
	interval  time.Duration
	immediate bool

	mu   sync.Mutex
	stop chan struct{}
	done chan struct{}
}

var _ ports.Scheduler = (*Ticker)(nil)

// NewTicker builds a driver firing every interval; immediate also fires once on start.
func NewTicker(interval time.Duration, immediate bool) *Ticker {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Ticker{interval: interval, immediate: immediate}
}

// Interval reports the tick period.
func (t *Ticker) Interval() time.Duration {
	return t.interval
}

// Start begins ticking until ctx is done or Stop is called. Starting twice is a no-op.
func (t *Ticker) Start(ctx context.Context, job func(time.Time)) error {
	if job == nil {
		return nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stop != nil {
		return nil
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	t.stop, t.done = stop, done

	go func() {
		defer close(done)
		ticker := time.NewTicker(t.interval)
		defer ticker.Stop()
		if t.immediate {
			job(time.Now())
		}
		for {
			select {
			case now := <-ticker.C:
				job(now)
			case <-ctx.Done():
				return
			case <-stop:
				return
			}
		}
	}()

	return nil
}

// Stop halts the ticker goroutine and waits for a running job, bounded by ctx.
func (t *Ticker) Stop(ctx context.Context) error {
	t.mu.Lock()
	stop, done := t.stop, t.done
	t.stop, t.done = nil, nil
	t.mu.Unlock()

	if stop == nil {
		return nil
	}
	close(stop)
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
