package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"FeedSentry/internal/domain"
	"FeedSentry/internal/infrastructure/metrics"
	"FeedSentry/internal/ports"
)

// ErrSweepInProgress is returned when a sweep is requested while another runs.
var ErrSweepInProgress = fmt.Errorf("%w: sweep already in progress", domain.ErrConflict)

// PollerDeps wires the driven adapters used by the polling sweep.
type PollerDeps struct {
	Sources    ports.SourceRepository
	Contents   ports.ContentRepository
	Streams    ports.StreamRepository
	Fetcher    ports.SourceFetcher
	Queue      ports.JobQueue
	Events     ports.EventSink
	StaleAfter time.Duration
	Logger     *slog.Logger
	Now        func() time.Time
}

// SweepReport summarises one sweep.
type SweepReport struct {
	Sources  int `json:"sources"`
	Failed   int `json:"failed"`
	Fetched  int `json:"fetched"`
	Created  int `json:"created"`
	Enqueued int `json:"enqueued"`
}

// Poller implements the watermark-based ingestion sweep.
type Poller struct {
	sources    ports.SourceRepository
	contents   ports.ContentRepository
	streams    ports.StreamRepository
	fetcher    ports.SourceFetcher
	queue      ports.JobQueue
	events     ports.EventSink
	staleAfter time.Duration
	logger     *slog.Logger
	now        func() time.Time

	mu      sync.Mutex
	running bool
}

// NewPoller constructs the sweep component.
func NewPoller(deps PollerDeps) *Poller {
	p := &Poller{
		sources:    deps.Sources,
		contents:   deps.Contents,
		streams:    deps.Streams,
		fetcher:    deps.Fetcher,
		queue:      deps.Queue,
		events:     deps.Events,
		staleAfter: deps.StaleAfter,
		logger:     deps.Logger,
		now:        deps.Now,
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	p.logger = p.logger.With("component", "poller")
	if p.now == nil {
		p.now = time.Now
	}
	if p.staleAfter <= 0 {
		p.staleAfter = 5 * time.Minute
	}
	return p
}

func (p *Poller) begin() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return false
	}
	p.running = true
	return true
}

func (p *Poller) end() {
	p.mu.Lock()
	p.running = false
	p.mu.Unlock()
}

// Sweep polls every stale source once. Per-source failures are logged and never abort the sweep.
func (p *Poller) Sweep(ctx context.Context) (SweepReport, error) {
	if !p.begin() {
		return SweepReport{}, ErrSweepInProgress
	}
	defer p.end()

	start := time.Now()
	defer func() { metrics.SweepDuration.Observe(time.Since(start).Seconds()) }()

	now := p.now()
	stale, err := p.sources.ListStaleSources(ctx, now.Add(-p.staleAfter))
	if err != nil {
		return SweepReport{}, fmt.Errorf("list stale sources: %w", err)
	}

	report := SweepReport{Sources: len(stale)}
	for _, src := range stale {
		if ctx.Err() != nil {
			break
		}
		res, err := p.PollSource(ctx, src)
		report.Fetched += res.Fetched
		report.Created += res.Created
		report.Enqueued += res.Enqueued
		if err != nil {
			report.Failed++
			p.logger.Error("poll source failed",
				"source_id", src.ID,
				"type", src.Type,
				"error", err,
			)
		}
	}

	p.logger.Info("sweep finished",
		"sources", report.Sources,
		"failed", report.Failed,
		"created", report.Created,
		"enqueued", report.Enqueued,
		"duration", time.Since(start),
	)
	if p.events != nil {
		p.events.Emit("sweep.completed", report)
	}
	return report, ctx.Err()
}

// PollSource fetches one source, stores new items and fans out jobs to its active streams.
// The watermark advances even on soft adapter failures; an unknown source type leaves it untouched.
func (p *Poller) PollSource(ctx context.Context, src domain.Source) (SweepReport, error) {
	var report SweepReport

	items, err := p.fetcher.Fetch(ctx, src.Type, src.Identifier, src.Config, src.LastPolledAt)
	if err != nil {
		return report, fmt.Errorf("fetch: %w", err)
	}
	report.Fetched = len(items)

	var streams []domain.Stream
	if len(items) > 0 {
		active, err := p.streams.ListActiveStreamsBySource(ctx, src.ID)
		if err != nil {
			return report, fmt.Errorf("list streams: %w", err)
		}
		// digest streams read content on their own schedule
		for _, stream := range active {
			if !stream.IsDigest() {
				streams = append(streams, stream)
			}
		}
	}

	var enqueueErr error
	for _, item := range items {
		exists, err := p.contents.ContentExists(ctx, src.ID, item.ExternalID)
		if err != nil {
			return report, fmt.Errorf("check content %s: %w", item.ExternalID, err)
		}
		if exists {
			continue
		}

		content := domain.Content{
			SourceID:   src.ID,
			ExternalID: item.ExternalID,
			RawText:    item.RawText,
			PostedAt:   item.PostedAt,
			Metadata:   item.Metadata,
		}
		created, err := p.contents.CreateContent(ctx, &content)
		if err != nil {
			return report, fmt.Errorf("store content %s: %w", item.ExternalID, err)
		}
		if !created {
			continue
		}
		report.Created++
		metrics.ContentIngestedTotal.Inc()

		for _, stream := range streams {
			job := domain.ProcessJob{StreamID: stream.ID, ContentID: content.ID}
			if err := p.queue.Enqueue(ctx, job); err != nil {
				enqueueErr = errors.Join(enqueueErr, fmt.Errorf("enqueue %s/%s: %w", stream.ID, content.ID, err))
				continue
			}
			report.Enqueued++
		}
	}

	if err := p.sources.TouchPolled(ctx, src.ID, p.now()); err != nil {
		return report, errors.Join(enqueueErr, fmt.Errorf("update watermark: %w", err))
	}
	return report, enqueueErr
}
