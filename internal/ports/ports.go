package ports

import (
	"context"
	"time"

	"FeedSentry/internal/domain"
)

// SourceRepository persists configured feeds and their poll watermark.
type SourceRepository interface {
	CreateSource(ctx context.Context, src *domain.Source) error
	GetSource(ctx context.Context, id string) (domain.Source, error)
	ListSources(ctx context.Context) ([]domain.Source, error)
	// ListStaleSources returns sources never polled or polled at or before olderThan.
	ListStaleSources(ctx context.Context, olderThan time.Time) ([]domain.Source, error)
	// TouchPolled moves last_polled_at forward to at; it never moves it backwards.
	TouchPolled(ctx context.Context, id string, at time.Time) error
	DeleteSource(ctx context.Context, id string) error
}

// ContentRepository stores immutable content rows keyed by (source, external id).
type ContentRepository interface {
	ContentExists(ctx context.Context, sourceID, externalID string) (bool, error)
	// CreateContent inserts c and reports false when (source, external id) already exists.
	CreateContent(ctx context.Context, c *domain.Content) (bool, error)
	GetContent(ctx context.Context, id string) (domain.Content, error)
	// ListContentCreatedAfter returns content created strictly after the given time, oldest first.
	ListContentCreatedAfter(ctx context.Context, sourceID string, after time.Time) ([]domain.Content, error)
	// ListContentInRange returns content posted in [start, end), in creation order.
	ListContentInRange(ctx context.Context, sourceID string, start, end time.Time) ([]domain.Content, error)
	CountContentInRange(ctx context.Context, sourceID string, start, end time.Time) (int, error)
}

// StreamRepository stores stream rules and digest watermarks.
type StreamRepository interface {
	CreateStream(ctx context.Context, s *domain.Stream) error
	GetStream(ctx context.Context, id string) (domain.Stream, error)
	ListStreams(ctx context.Context) ([]domain.Stream, error)
	ListActiveStreamsBySource(ctx context.Context, sourceID string) ([]domain.Stream, error)
	ListActiveStreams(ctx context.Context) ([]domain.Stream, error)
	UpdateStreamStatus(ctx context.Context, id string, status domain.StreamStatus) error
	UpdateAggregation(ctx context.Context, id string, cfg domain.AggregationConfig) error
}

// LogRepository appends execution records.
type LogRepository interface {
	AppendLog(ctx context.Context, entry domain.Log) error
	ListLogs(ctx context.Context, streamID string, limit int) ([]domain.Log, error)
}

// LLMOutputRepository stores LLM artifacts, live or backtest.
type LLMOutputRepository interface {
	SaveLLMOutput(ctx context.Context, out domain.LLMOutput) error
	ListLLMOutputs(ctx context.Context, filter domain.LLMOutputFilter) ([]domain.LLMOutput, error)
}

// BacktestRepository stores backtests and their per-item results.
type BacktestRepository interface {
	CreateBacktest(ctx context.Context, bt *domain.Backtest) error
	GetBacktest(ctx context.Context, id string) (domain.Backtest, error)
	// TransitionBacktest moves id to status `to` only when its current status is `from`,
	// returning domain.ErrConflict otherwise.
	TransitionBacktest(ctx context.Context, id string, from, to domain.BacktestStatus) error
	UpdateBacktestProgress(ctx context.Context, id string, processed int) error
	FinishBacktest(ctx context.Context, id string, status domain.BacktestStatus, processed int, errMsg string) error
	AppendBacktestResult(ctx context.Context, res domain.BacktestResult) error
	ListBacktestResults(ctx context.Context, backtestID string) ([]domain.BacktestResult, error)
}

// Store aggregates every repository the core needs.
type Store interface {
	SourceRepository
	ContentRepository
	StreamRepository
	LogRepository
	LLMOutputRepository
	BacktestRepository
}

// SourceFetcher dispatches a fetch to the adapter registered for sourceType.
// Adapter failures yield an empty slice; only an unknown type is an error.
type SourceFetcher interface {
	Fetch(ctx context.Context, sourceType, identifier string, config map[string]string, since *time.Time) ([]domain.FetchedItem, error)
}

// JobHandler processes one dequeued job.
type JobHandler func(ctx context.Context, job domain.ProcessJob) error

// JobQueue is the at-least-once channel between poller and processor.
type JobQueue interface {
	Enqueue(ctx context.Context, job domain.ProcessJob) error
	// Run consumes jobs until ctx is done.
	Run(ctx context.Context, handler JobHandler) error
}

// LLM resolves a named provider and runs a completion.
type LLM interface {
	Complete(ctx context.Context, provider, prompt string, opts domain.CompletionOptions) (string, error)
}

// Dispatcher sends a message through a named channel.
type Dispatcher interface {
	Send(ctx context.Context, channel, recipient string, msg domain.Message, channelConfig map[string]string) (bool, error)
}

// EventSink receives fire-and-forget real-time events.
type EventSink interface {
	Emit(name string, payload any)
}

// Scheduler controls when recurring jobs execute.
type Scheduler interface {
	Start(ctx context.Context, job func(time.Time)) error
	Stop(ctx context.Context) error
}
