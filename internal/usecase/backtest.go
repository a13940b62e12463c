package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"FeedSentry/internal/domain"
	"FeedSentry/internal/infrastructure/metrics"
	"FeedSentry/internal/ports"
	"FeedSentry/internal/worker"
)

const defaultProgressEvery = 10

// BacktestProcessor is the pure processing core replayed by backtests.
type BacktestProcessor interface {
	ProcessForBacktest(ctx context.Context, stream domain.Stream, content domain.Content, backtestID string) (ProcessResult, error)
}

// TaskSpawner runs detached tasks and reports their completion.
type TaskSpawner interface {
	Submit(name string, task worker.Task) <-chan error
}

// BacktestDeps wires the backtest runner.
type BacktestDeps struct {
	Backtests     ports.BacktestRepository
	Streams       ports.StreamRepository
	Contents      ports.ContentRepository
	Processor     BacktestProcessor
	Spawner       TaskSpawner
	ProgressEvery int
	Logger        *slog.Logger
}

// CreateBacktestInput describes a replay request.
type CreateBacktestInput struct {
	StreamID   string            `json:"stream_id"`
	RangeStart time.Time         `json:"range_start"`
	RangeEnd   time.Time         `json:"range_end"`
	Config     map[string]string `json:"config,omitempty"`
}

// BacktestRunner replays a stream over historical content without live side effects.
type BacktestRunner struct {
	backtests     ports.BacktestRepository
	streams       ports.StreamRepository
	contents      ports.ContentRepository
	processor     BacktestProcessor
	spawner       TaskSpawner
	progressEvery int
	logger        *slog.Logger
}

// NewBacktestRunner constructs the runner.
func NewBacktestRunner(deps BacktestDeps) *BacktestRunner {
	r := &BacktestRunner{
		backtests:     deps.Backtests,
		streams:       deps.Streams,
		contents:      deps.Contents,
		processor:     deps.Processor,
		spawner:       deps.Spawner,
		progressEvery: deps.ProgressEvery,
		logger:        deps.Logger,
	}
	if r.progressEvery <= 0 {
		r.progressEvery = defaultProgressEvery
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	r.logger = r.logger.With("component", "backtest")
	return r
}

// Create validates the range and stores a PENDING backtest.
func (r *BacktestRunner) Create(ctx context.Context, in CreateBacktestInput) (domain.Backtest, error) {
	if in.RangeStart.IsZero() || in.RangeEnd.IsZero() || !in.RangeStart.Before(in.RangeEnd) {
		return domain.Backtest{}, fmt.Errorf("%w: start must be before end", domain.ErrInvalidRange)
	}

	stream, err := r.streams.GetStream(ctx, in.StreamID)
	if err != nil {
		return domain.Backtest{}, fmt.Errorf("load stream: %w", err)
	}

	total, err := r.contents.CountContentInRange(ctx, stream.SourceID, in.RangeStart, in.RangeEnd)
	if err != nil {
		return domain.Backtest{}, fmt.Errorf("count content: %w", err)
	}
	if total == 0 {
		return domain.Backtest{}, domain.ErrEmptyRange
	}

	bt := domain.Backtest{
		StreamID:   stream.ID,
		RangeStart: in.RangeStart.UTC(),
		RangeEnd:   in.RangeEnd.UTC(),
		Config:     in.Config,
		Status:     domain.BacktestPending,
		TotalItems: total,
	}
	if err := r.backtests.CreateBacktest(ctx, &bt); err != nil {
		return domain.Backtest{}, fmt.Errorf("create backtest: %w", err)
	}
	r.logger.Info("backtest created", "backtest_id", bt.ID, "stream_id", bt.StreamID, "total", total)
	return bt, nil
}

// Run moves a PENDING backtest to RUNNING and replays it on the worker pool.
// It returns immediately; the channel reports the replay's outcome.
func (r *BacktestRunner) Run(ctx context.Context, id string) (<-chan error, error) {
	bt, err := r.backtests.GetBacktest(ctx, id)
	if err != nil {
		return nil, err
	}
	if bt.Status != domain.BacktestPending {
		return nil, fmt.Errorf("%w: backtest is %s", domain.ErrConflict, bt.Status)
	}
	if err := r.backtests.TransitionBacktest(ctx, id, domain.BacktestPending, domain.BacktestRunning); err != nil {
		return nil, err
	}
	bt.Status = domain.BacktestRunning

	spawned := r.spawner.Submit("backtest:"+id, func(taskCtx context.Context) error {
		return r.replay(taskCtx, bt)
	})

	done := make(chan error, 1)
	go func() {
		defer close(done)
		err := <-spawned
		if err != nil {
			r.abandon(id, err)
		}
		done <- err
	}()
	return done, nil
}

// abandon fails a backtest whose task never started or died without finishing it.
// A backtest the replay already finished is left as is.
func (r *BacktestRunner) abandon(id string, cause error) {
	ctx := context.Background()
	bt, err := r.backtests.GetBacktest(ctx, id)
	if err != nil {
		r.logger.Error("load abandoned backtest", "backtest_id", id, "error", err)
		return
	}
	if bt.Status != domain.BacktestRunning {
		return
	}
	err = r.backtests.FinishBacktest(ctx, id, domain.BacktestFailed, bt.ProcessedItems, cause.Error())
	if err != nil && !errors.Is(err, domain.ErrConflict) {
		r.logger.Error("mark backtest failed", "backtest_id", id, "error", err)
		return
	}
	r.logger.Warn("backtest abandoned", "backtest_id", id, "error", cause)
}

// replay processes every in-range item sequentially. Per-item failures become FAILURE rows;
// only errors of the loop itself fail the backtest.
func (r *BacktestRunner) replay(ctx context.Context, bt domain.Backtest) error {
	logger := r.logger.With("backtest_id", bt.ID)
	processed := 0

	fail := func(cause error) error {
		logger.Error("backtest failed", "processed", processed, "error", cause)
		if err := r.backtests.FinishBacktest(context.WithoutCancel(ctx), bt.ID, domain.BacktestFailed, processed, cause.Error()); err != nil {
			logger.Error("mark backtest failed", "error", err)
		}
		return cause
	}

	stream, err := r.streams.GetStream(ctx, bt.StreamID)
	if err != nil {
		return fail(fmt.Errorf("load stream: %w", err))
	}
	items, err := r.contents.ListContentInRange(ctx, stream.SourceID, bt.RangeStart, bt.RangeEnd)
	if err != nil {
		return fail(fmt.Errorf("list content: %w", err))
	}

	for _, item := range items {
		if err := ctx.Err(); err != nil {
			return fail(err)
		}

		res := domain.BacktestResult{BacktestID: bt.ID, ContentID: item.ID}
		start := time.Now()
		out, procErr := r.processor.ProcessForBacktest(ctx, stream, item, bt.ID)
		res.ExecutionTimeMS = time.Since(start).Milliseconds()

		if procErr != nil {
			res.Status = domain.ResultFailure
			res.ErrorMessage = procErr.Error()
			metrics.BacktestItemsTotal.WithLabelValues("failure").Inc()
		} else {
			raw, err := json.Marshal(out)
			if err != nil {
				return fail(fmt.Errorf("encode result: %w", err))
			}
			res.Status = domain.ResultSuccess
			res.Output = string(raw)
			metrics.BacktestItemsTotal.WithLabelValues("success").Inc()
		}

		if err := r.backtests.AppendBacktestResult(ctx, res); err != nil {
			return fail(fmt.Errorf("store result: %w", err))
		}
		processed++

		if processed%r.progressEvery == 0 {
			if err := r.backtests.UpdateBacktestProgress(ctx, bt.ID, processed); err != nil {
				return fail(fmt.Errorf("update progress: %w", err))
			}
		}
	}

	if err := r.backtests.FinishBacktest(ctx, bt.ID, domain.BacktestCompleted, processed, ""); err != nil {
		return fail(fmt.Errorf("complete backtest: %w", err))
	}
	logger.Info("backtest completed", "processed", processed)
	return nil
}

// Get returns the current backtest state for polling.
func (r *BacktestRunner) Get(ctx context.Context, id string) (domain.Backtest, error) {
	return r.backtests.GetBacktest(ctx, id)
}

// Results lists per-item outcomes in processing order.
func (r *BacktestRunner) Results(ctx context.Context, id string) ([]domain.BacktestResult, error) {
	if _, err := r.backtests.GetBacktest(ctx, id); err != nil {
		return nil, err
	}
	return r.backtests.ListBacktestResults(ctx, id)
}
