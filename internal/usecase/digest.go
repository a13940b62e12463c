package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"FeedSentry/internal/domain"
	"FeedSentry/internal/infrastructure/metrics"
	"FeedSentry/internal/ports"
)

// ErrDigestInProgress is returned when a tick is requested while another runs.
var ErrDigestInProgress = fmt.Errorf("%w: digest tick already in progress", domain.ErrConflict)

const defaultDigestPrompt = "Summarize the following {{count}} items into a short digest. " +
	"Group related items and keep every link.\n\n{{content}}"

// DigestDeps wires the driven adapters used by the digest aggregator.
type DigestDeps struct {
	Streams    ports.StreamRepository
	Contents   ports.ContentRepository
	Logs       ports.LogRepository
	Outputs    ports.LLMOutputRepository
	LLM        ports.LLM
	Dispatcher ports.Dispatcher
	Events     ports.EventSink
	Delivery   DeliveryDefaults
	Location   *time.Location
	Logger     *slog.Logger
	Now        func() time.Time
}

// DigestReport summarises one tick.
type DigestReport struct {
	Streams     int `json:"streams"`
	Initialized int `json:"initialized"`
	Sent        int `json:"sent"`
	Empty       int `json:"empty"`
	Failed      int `json:"failed"`
}

// Digest batches content of digest-type streams into scheduled summaries.
type Digest struct {
	streams    ports.StreamRepository
	contents   ports.ContentRepository
	logs       ports.LogRepository
	outputs    ports.LLMOutputRepository
	llm        ports.LLM
	dispatcher ports.Dispatcher
	events     ports.EventSink
	delivery   DeliveryDefaults
	loc        *time.Location
	logger     *slog.Logger
	now        func() time.Time

	mu      sync.Mutex
	running bool
}

// NewDigest constructs the aggregator.
func NewDigest(deps DigestDeps) *Digest {
	d := &Digest{
		streams:    deps.Streams,
		contents:   deps.Contents,
		logs:       deps.Logs,
		outputs:    deps.Outputs,
		llm:        deps.LLM,
		dispatcher: deps.Dispatcher,
		events:     deps.Events,
		delivery:   deps.Delivery,
		loc:        deps.Location,
		logger:     deps.Logger,
		now:        deps.Now,
	}
	if d.logger == nil {
		d.logger = slog.Default()
	}
	d.logger = d.logger.With("component", "digest")
	if d.now == nil {
		d.now = time.Now
	}
	if d.loc == nil {
		d.loc = time.UTC
	}
	return d
}

type digestOutcome int

const (
	digestSkipped digestOutcome = iota
	digestInitialized
	digestEmpty
	digestSent
)

// Tick evaluates every active digest stream once.
func (d *Digest) Tick(ctx context.Context) (DigestReport, error) {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return DigestReport{}, ErrDigestInProgress
	}
	d.running = true
	d.mu.Unlock()
	defer func() {
		d.mu.Lock()
		d.running = false
		d.mu.Unlock()
	}()

	streams, err := d.streams.ListActiveStreams(ctx)
	if err != nil {
		return DigestReport{}, fmt.Errorf("list streams: %w", err)
	}

	var report DigestReport
	now := d.now()
	for _, stream := range streams {
		if !stream.IsDigest() {
			continue
		}
		report.Streams++

		outcome, err := d.runStream(ctx, stream, now)
		if err != nil {
			report.Failed++
			metrics.DigestsTotal.WithLabelValues("error").Inc()
			d.logger.Error("digest failed", "stream_id", stream.ID, "error", err)
			continue
		}
		switch outcome {
		case digestInitialized:
			report.Initialized++
		case digestEmpty:
			report.Empty++
			metrics.DigestsTotal.WithLabelValues("empty").Inc()
		case digestSent:
			report.Sent++
			metrics.DigestsTotal.WithLabelValues("sent").Inc()
		}
	}

	if report.Streams > 0 {
		d.logger.Info("digest tick finished",
			"streams", report.Streams,
			"sent", report.Sent,
			"empty", report.Empty,
			"failed", report.Failed,
		)
	}
	return report, nil
}

// runStream advances one digest stream. Watermarks move only after the digest was produced,
// so an LLM failure retries the same window on the next tick.
func (d *Digest) runStream(ctx context.Context, stream domain.Stream, now time.Time) (digestOutcome, error) {
	agg := stream.AggregationConfig

	if agg.NextRun == nil {
		next := NextRun(agg.Schedule, now, d.loc).UTC()
		agg.NextRun = &next
		if err := d.streams.UpdateAggregation(ctx, stream.ID, agg); err != nil {
			return digestSkipped, fmt.Errorf("initialise schedule: %w", err)
		}
		return digestInitialized, nil
	}
	if now.Before(*agg.NextRun) {
		return digestSkipped, nil
	}

	since := stream.CreatedAt
	if agg.LastRun != nil {
		since = *agg.LastRun
	}
	items, err := d.contents.ListContentCreatedAfter(ctx, stream.SourceID, since)
	if err != nil {
		return digestSkipped, fmt.Errorf("list content: %w", err)
	}
	// rows landing after now belong to the next window
	window := items[:0]
	for _, item := range items {
		if !item.CreatedAt.After(now) {
			window = append(window, item)
		}
	}
	items = window

	outcome := digestEmpty
	if len(items) > 0 {
		if err := d.summarize(ctx, stream, items); err != nil {
			return digestSkipped, err
		}
		outcome = digestSent
	}

	next := NextRun(agg.Schedule, now, d.loc).UTC()
	last := now.UTC()
	agg.NextRun, agg.LastRun = &next, &last
	if err := d.streams.UpdateAggregation(ctx, stream.ID, agg); err != nil {
		return digestSkipped, fmt.Errorf("advance schedule: %w", err)
	}
	return outcome, nil
}

func (d *Digest) summarize(ctx context.Context, stream domain.Stream, items []domain.Content) error {
	tpl := firstNonBlank(stream.AggregationConfig.Prompt, stream.PromptTemplate.NotificationPrompt, defaultDigestPrompt)
	prompt := renderTemplate(tpl, map[string]string{
		varContent: digestListing(items),
		varCount:   strconv.Itoa(len(items)),
		varSource:  items[0].Metadata[domain.MetaSource],
	})

	meta := map[string]string{"items": strconv.Itoa(len(items)), "kind": "digest"}
	summary, err := d.llm.Complete(ctx, stream.LLMConfig.Provider, prompt, completionOptions(stream.LLMConfig))
	if err != nil {
		meta["error"] = err.Error()
		if logErr := d.logs.AppendLog(ctx, domain.Log{StreamID: stream.ID, Type: domain.LogError, Message: "digest llm call failed", Metadata: meta}); logErr != nil {
			return errors.Join(err, logErr)
		}
		return fmt.Errorf("digest completion: %w", err)
	}

	last := items[len(items)-1]
	if err := d.outputs.SaveLLMOutput(ctx, domain.LLMOutput{
		ContentID:  last.ID,
		StreamID:   stream.ID,
		Model:      stream.LLMConfig.Model,
		PromptText: prompt,
		RawOutput:  summary,
	}); err != nil {
		return fmt.Errorf("save digest output: %w", err)
	}

	if stream.NotificationConfig.Disabled {
		return d.logs.AppendLog(ctx, domain.Log{StreamID: stream.ID, Type: domain.LogInfo, Message: "digest generated", Metadata: meta})
	}

	channel, recipient, channelConfig := d.delivery.resolve(stream.NotificationConfig)
	meta["channel"] = channel
	msg := domain.Message{
		Title:    fmt.Sprintf("%s digest", stream.Name),
		Content:  summary,
		Metadata: map[string]string{"stream_id": stream.ID, "stream": stream.Name, "kind": "digest"},
	}
	event := map[string]string{"stream_id": stream.ID, "channel": channel, "kind": "digest"}

	accepted, err := d.dispatcher.Send(ctx, channel, recipient, msg, channelConfig)
	entry := domain.Log{StreamID: stream.ID, Type: domain.LogSuccess, Message: "digest sent", Metadata: meta}
	if err != nil || !accepted {
		if err != nil {
			meta["error"] = err.Error()
		}
		entry.Type, entry.Message = domain.LogError, "digest notification failed"
		d.emit(EventNotificationFailed, event)
	} else {
		d.emit(EventNotificationSent, event)
	}
	return d.logs.AppendLog(ctx, entry)
}

func (d *Digest) emit(name string, payload any) {
	if d.events == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			d.logger.Warn("event sink panicked", "event", name, "panic", r)
		}
	}()
	d.events.Emit(name, payload)
}

// digestListing renders items as a numbered list.
func digestListing(items []domain.Content) string {
	var b strings.Builder
	for i, item := range items {
		fmt.Fprintf(&b, "%d. ", i+1)
		if title := item.Metadata[domain.MetaTitle]; title != "" {
			b.WriteString(title)
			b.WriteString("\n")
		}
		b.WriteString(strings.TrimSpace(item.RawText))
		if link := item.Metadata[domain.MetaURL]; link != "" {
			b.WriteString("\n")
			b.WriteString(link)
		}
		b.WriteString("\n\n")
	}
	return strings.TrimSpace(b.String())
}

func firstNonBlank(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
