// Package queue holds the at-least-once job queues feeding the stream processor.
package queue

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"FeedSentry/internal/config"
	"FeedSentry/internal/domain"
	"FeedSentry/internal/infrastructure/metrics"
	"FeedSentry/internal/ports"
)

// Options tune retry and concurrency for every queue implementation.
type Options struct {
	Workers     int
	MaxAttempts int
	RetryDelay  time.Duration
}

// OptionsFromConfig maps the queue config section.
func OptionsFromConfig(cfg config.QueueConfig) Options {
	return Options{
		Workers:     cfg.Workers,
		MaxAttempts: cfg.MaxAttempts,
		RetryDelay:  cfg.RetryDelay,
	}.normalized()
}

func (o Options) normalized() Options {
	if o.Workers <= 0 {
		o.Workers = 1
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 1
	}
	if o.RetryDelay < 0 {
		o.RetryDelay = 0
	}
	return o
}

// invoke runs handler once, turning a panic into an error.
func invoke(ctx context.Context, handler ports.JobHandler, job domain.ProcessJob) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job handler panic: %v\n%s", r, debug.Stack())
		}
	}()
	return handler(ctx, job)
}

// outcome of a single delivery.
type outcome int

const (
	outcomeDone outcome = iota
	outcomeRetry
	outcomeDead
)

// attempt delivers job and decides what happens next. The returned job carries the bumped attempt.
func attempt(ctx context.Context, name string, opts Options, logger *slog.Logger, handler ports.JobHandler, job domain.ProcessJob) (domain.ProcessJob, outcome, error) {
	err := invoke(ctx, handler, job)
	if err == nil {
		metrics.RecordJob(name, "success")
		return job, outcomeDone, nil
	}

	job.Attempt++
	if job.Attempt >= opts.MaxAttempts {
		metrics.RecordJob(name, "dead")
		logger.Error("job exhausted attempts",
			"stream_id", job.StreamID,
			"content_id", job.ContentID,
			"attempts", job.Attempt,
			"error", err,
		)
		return job, outcomeDead, err
	}

	metrics.RecordJob(name, "retry")
	logger.Warn("job failed, will retry",
		"stream_id", job.StreamID,
		"content_id", job.ContentID,
		"attempt", job.Attempt,
		"error", err,
	)
	return job, outcomeRetry, err
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
