package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"FeedSentry/internal/domain"
	"FeedSentry/internal/ports"
)

// Real-time event names emitted after dispatch.
const (
	EventNotificationSent   = "notification.sent"
	EventNotificationFailed = "notification.failed"
)

// ProcessorDeps wires the driven adapters used by the stream processor.
type ProcessorDeps struct {
	Streams    ports.StreamRepository
	Contents   ports.ContentRepository
	Logs       ports.LogRepository
	Outputs    ports.LLMOutputRepository
	LLM        ports.LLM
	Dispatcher ports.Dispatcher
	Events     ports.EventSink
	Delivery   DeliveryDefaults
	Logger     *slog.Logger
}

// DeliveryDefaults is the user-level fallback for channel and recipient.
type DeliveryDefaults struct {
	Channel  string
	Settings map[string]map[string]string
}

// ProcessResult is the value returned by the pure backtest path.
type ProcessResult struct {
	Triggered    bool   `json:"triggered"`
	Analysis     string `json:"analysis"`
	Notification string `json:"notification"`
}

// Processor runs the trigger, render and dispatch steps for one (stream, content) pair.
type Processor struct {
	streams    ports.StreamRepository
	contents   ports.ContentRepository
	logs       ports.LogRepository
	outputs    ports.LLMOutputRepository
	llm        ports.LLM
	dispatcher ports.Dispatcher
	events     ports.EventSink
	delivery   DeliveryDefaults
	logger     *slog.Logger
}

// NewProcessor constructs the stream processor.
func NewProcessor(deps ProcessorDeps) *Processor {
	p := &Processor{
		streams:    deps.Streams,
		contents:   deps.Contents,
		logs:       deps.Logs,
		outputs:    deps.Outputs,
		llm:        deps.LLM,
		dispatcher: deps.Dispatcher,
		events:     deps.Events,
		delivery:   deps.Delivery,
		logger:     deps.Logger,
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	p.logger = p.logger.With("component", "processor")
	return p
}

// evaluation is the outcome of the trigger and render steps.
type evaluation struct {
	ProcessResult
	prompt   string
	rendered bool
}

func completionOptions(cfg domain.LLMConfig) domain.CompletionOptions {
	return domain.CompletionOptions{
		Model:       cfg.Model,
		Temperature: cfg.Temperature,
		MaxTokens:   cfg.MaxTokens,
	}
}

// evaluate runs the trigger check and, when triggered, renders the notification body.
func (p *Processor) evaluate(ctx context.Context, stream domain.Stream, content domain.Content) (evaluation, error) {
	vars := contentVars(content)
	opts := completionOptions(stream.LLMConfig)

	var ev evaluation
	if tpl := stream.PromptTemplate.TriggerPrompt; strings.TrimSpace(tpl) != "" {
		analysis, err := p.llm.Complete(ctx, stream.LLMConfig.Provider, renderTemplate(tpl, vars), opts)
		if err != nil {
			return ev, fmt.Errorf("trigger check: %w", err)
		}
		ev.Analysis = analysis
		ev.Triggered = isTriggered(analysis)
	} else {
		ev.Triggered = true
	}
	if !ev.Triggered {
		return ev, nil
	}

	if tpl := stream.PromptTemplate.NotificationPrompt; strings.TrimSpace(tpl) != "" {
		ev.prompt = renderTemplate(tpl, vars)
		body, err := p.llm.Complete(ctx, stream.LLMConfig.Provider, ev.prompt, opts)
		if err != nil {
			return ev, fmt.Errorf("render notification: %w", err)
		}
		ev.Notification = body
		ev.rendered = true
	} else {
		ev.Notification = content.RawText
	}
	return ev, nil
}

func (p *Processor) appendLog(ctx context.Context, streamID string, kind domain.LogType, message string, meta map[string]string) error {
	if err := p.logs.AppendLog(ctx, domain.Log{
		StreamID: streamID,
		Type:     kind,
		Message:  message,
		Metadata: meta,
	}); err != nil {
		return fmt.Errorf("append log: %w", err)
	}
	return nil
}

// Process handles one queued job. Missing rows and LLM failures are recorded and
// acknowledged; only persistence failures are returned so the queue retries.
func (p *Processor) Process(ctx context.Context, job domain.ProcessJob) error {
	stream, err := p.streams.GetStream(ctx, job.StreamID)
	if errors.Is(err, domain.ErrNotFound) {
		p.logger.Warn("stream gone, dropping job", "stream_id", job.StreamID, "content_id", job.ContentID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("load stream: %w", err)
	}
	meta := map[string]string{"content_id": job.ContentID}

	content, err := p.contents.GetContent(ctx, job.ContentID)
	if errors.Is(err, domain.ErrNotFound) {
		return p.appendLog(ctx, stream.ID, domain.LogWarning, "content not found", meta)
	}
	if err != nil {
		return fmt.Errorf("load content: %w", err)
	}
	if title := content.Metadata[domain.MetaTitle]; title != "" {
		meta["title"] = title
	}

	ev, err := p.evaluate(ctx, stream, content)
	if err != nil {
		meta["error"] = err.Error()
		return p.appendLog(ctx, stream.ID, domain.LogError, "llm call failed", meta)
	}

	if !ev.Triggered {
		meta["analysis"] = ev.Analysis
		return p.appendLog(ctx, stream.ID, domain.LogInfo, "content did not trigger", meta)
	}
	if err := p.appendLog(ctx, stream.ID, domain.LogInfo, "content triggered", meta); err != nil {
		return err
	}

	if ev.rendered {
		if err := p.outputs.SaveLLMOutput(ctx, domain.LLMOutput{
			ContentID:  content.ID,
			StreamID:   stream.ID,
			Model:      stream.LLMConfig.Model,
			PromptText: ev.prompt,
			RawOutput:  ev.Notification,
		}); err != nil {
			return fmt.Errorf("save llm output: %w", err)
		}
	}

	if stream.NotificationConfig.Disabled {
		return nil
	}
	return p.dispatch(ctx, stream, content, ev.Notification, meta)
}

// resolve picks channel, recipient and channel config, falling back to user-level settings.
func (d DeliveryDefaults) resolve(cfg domain.NotificationConfig) (string, string, map[string]string) {
	channel := cfg.Channel
	if channel == "" {
		channel = d.Channel
	}

	settings := map[string]string{}
	for k, v := range d.Settings[channel] {
		settings[k] = v
	}
	for k, v := range cfg.Overrides {
		settings[k] = v
	}

	recipient := cfg.Recipient
	if recipient == "" {
		recipient = settings["recipient"]
	}
	return channel, recipient, settings
}

func (p *Processor) dispatch(ctx context.Context, stream domain.Stream, content domain.Content, body string, meta map[string]string) error {
	channel, recipient, channelConfig := p.delivery.resolve(stream.NotificationConfig)
	meta["channel"] = channel
	if channel == "" {
		return p.appendLog(ctx, stream.ID, domain.LogWarning, "no notification channel configured", meta)
	}

	msg := domain.Message{
		Title:   content.Metadata[domain.MetaTitle],
		Content: body,
		URL:     content.Metadata[domain.MetaURL],
		Metadata: map[string]string{
			"stream_id":  stream.ID,
			"stream":     stream.Name,
			"content_id": content.ID,
		},
	}

	event := map[string]string{"stream_id": stream.ID, "content_id": content.ID, "channel": channel}
	accepted, err := p.dispatcher.Send(ctx, channel, recipient, msg, channelConfig)
	if err != nil || !accepted {
		if err != nil {
			meta["error"] = err.Error()
			event["error"] = err.Error()
		}
		p.emit(EventNotificationFailed, event)
		return p.appendLog(ctx, stream.ID, domain.LogError, "notification failed", meta)
	}

	p.emit(EventNotificationSent, event)
	return p.appendLog(ctx, stream.ID, domain.LogSuccess, "notification sent", meta)
}

func (p *Processor) emit(name string, payload any) {
	if p.events == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			p.logger.Warn("event sink panicked", "event", name, "panic", r)
		}
	}()
	p.events.Emit(name, payload)
}

// ProcessForBacktest runs trigger and render without dispatching or emitting events.
// It stores at most one LLM output tagged with backtestID and returns errors to the caller.
func (p *Processor) ProcessForBacktest(ctx context.Context, stream domain.Stream, content domain.Content, backtestID string) (ProcessResult, error) {
	ev, err := p.evaluate(ctx, stream, content)
	if err != nil {
		return ProcessResult{}, err
	}

	var prompt, output string
	switch {
	case ev.rendered:
		prompt, output = ev.prompt, ev.Notification
	case ev.Analysis != "":
		prompt = renderTemplate(stream.PromptTemplate.TriggerPrompt, contentVars(content))
		output = ev.Analysis
	}
	if output != "" {
		id := backtestID
		if err := p.outputs.SaveLLMOutput(ctx, domain.LLMOutput{
			ContentID:  content.ID,
			StreamID:   stream.ID,
			Model:      stream.LLMConfig.Model,
			PromptText: prompt,
			RawOutput:  output,
			BacktestID: &id,
		}); err != nil {
			return ev.ProcessResult, fmt.Errorf("save llm output: %w", err)
		}
	}
	return ev.ProcessResult, nil
}
