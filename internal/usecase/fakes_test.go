package usecase

import (
	"context"
	"sync"
	"time"

	"FeedSentry/internal/domain"
	"FeedSentry/internal/ports"
)

type llmCall struct {
	Provider string
	Prompt   string
	Opts     domain.CompletionOptions
}

// stubLLM answers with reply(prompt) and records every call.
type stubLLM struct {
	mu    sync.Mutex
	calls []llmCall
	reply func(prompt string) (string, error)
}

func (s *stubLLM) Complete(_ context.Context, provider, prompt string, opts domain.CompletionOptions) (string, error) {
	s.mu.Lock()
	s.calls = append(s.calls, llmCall{Provider: provider, Prompt: prompt, Opts: opts})
	s.mu.Unlock()
	if s.reply == nil {
		return "ok", nil
	}
	return s.reply(prompt)
}

func (s *stubLLM) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

type sentMessage struct {
	Channel   string
	Recipient string
	Msg       domain.Message
	Config    map[string]string
}

type stubDispatcher struct {
	mu   sync.Mutex
	sent []sentMessage
	err  error
}

func (s *stubDispatcher) Send(_ context.Context, channel, recipient string, msg domain.Message, cfg map[string]string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, sentMessage{Channel: channel, Recipient: recipient, Msg: msg, Config: cfg})
	if s.err != nil {
		return false, s.err
	}
	return true, nil
}

type recordingQueue struct {
	mu   sync.Mutex
	jobs []domain.ProcessJob
}

func (q *recordingQueue) Enqueue(_ context.Context, job domain.ProcessJob) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.jobs = append(q.jobs, job)
	return nil
}

func (q *recordingQueue) Run(ctx context.Context, _ ports.JobHandler) error {
	<-ctx.Done()
	return nil
}

type recordingEvents struct {
	mu    sync.Mutex
	names []string
}

func (e *recordingEvents) Emit(name string, _ any) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.names = append(e.names, name)
}

// stubFetcher returns a fixed batch per source type.
type stubFetcher struct {
	mu     sync.Mutex
	items  []domain.FetchedItem
	err    error
	since  []*time.Time
	block  chan struct{}
	called chan struct{}
}

func (f *stubFetcher) Fetch(_ context.Context, _, _ string, _ map[string]string, since *time.Time) ([]domain.FetchedItem, error) {
	f.mu.Lock()
	f.since = append(f.since, since)
	block, called := f.block, f.called
	f.mu.Unlock()
	if called != nil {
		called <- struct{}{}
	}
	if block != nil {
		<-block
	}
	return f.items, f.err
}

// clock is a manually advanced time source.
type clock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock(t time.Time) *clock {
	return &clock{now: t}
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}
