package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"FeedSentry/internal/config"
	"FeedSentry/internal/domain"
	"FeedSentry/internal/logging"
)

type fakeProvider struct {
	name  string
	ready bool
	reply string
	err   error
	wait  time.Duration
}

func (f *fakeProvider) Name() string { return f.name }
func (f *fakeProvider) Ready() bool  { return f.ready }

func (f *fakeProvider) GenerateCompletion(ctx context.Context, prompt string, _ domain.CompletionOptions) (string, error) {
	if f.wait > 0 {
		select {
		case <-time.After(f.wait):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if f.err != nil {
		return "", f.err
	}
	return f.reply + ":" + prompt, nil
}

func TestRegistry_ResolveAndDefault(t *testing.T) {
	r := NewRegistry("", 0, logging.Discard())
	r.Register(&fakeProvider{name: "primary", ready: true, reply: "p"})
	r.Register(&fakeProvider{name: "secondary", ready: true, reply: "s"})
	r.Register(&fakeProvider{name: "broken"})

	assert.Equal(t, []string{"broken", "primary", "secondary"}, r.Names())

	out, err := r.Complete(context.Background(), "", "hi", domain.CompletionOptions{})
	require.NoError(t, err)
	assert.Equal(t, "p:hi", out)

	out, err = r.Complete(context.Background(), "secondary", "hi", domain.CompletionOptions{})
	require.NoError(t, err)
	assert.Equal(t, "s:hi", out)

	_, err = r.Complete(context.Background(), "missing", "hi", domain.CompletionOptions{})
	assert.ErrorIs(t, err, domain.ErrProviderUnavailable)

	_, err = r.Complete(context.Background(), "broken", "hi", domain.CompletionOptions{})
	assert.ErrorIs(t, err, domain.ErrProviderUnavailable)
}

func TestRegistry_TimeoutAndErrors(t *testing.T) {
	r := NewRegistry("slow", 20*time.Millisecond, logging.Discard())
	r.Register(&fakeProvider{name: "slow", ready: true, wait: time.Second})
	r.Register(&fakeProvider{name: "failing", ready: true, err: errors.New("boom")})

	_, err := r.Complete(context.Background(), "", "hi", domain.CompletionOptions{})
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	_, err = r.Complete(context.Background(), "failing", "hi", domain.CompletionOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failing completion: boom")
}

func TestOpenAIClient_GenerateCompletion(t *testing.T) {
	var got chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"  TRUE  "}}]}`))
	}))
	defer srv.Close()

	client := NewOpenAIClient(config.LLMProviderConfig{
		Name:     "openai",
		Endpoint: srv.URL,
		Model:    "gpt-4o-mini",
		APIKey:   "sk-test",
	}, srv.Client())
	require.True(t, client.Ready())

	out, err := client.GenerateCompletion(context.Background(), "Is it relevant?", domain.CompletionOptions{Temperature: 0.2, MaxTokens: 64})
	require.NoError(t, err)
	assert.Equal(t, "TRUE", out)

	assert.Equal(t, "gpt-4o-mini", got.Model)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, "system", got.Messages[0].Role)
	assert.NotEmpty(t, got.Messages[0].Content)
	assert.Equal(t, "Is it relevant?", got.Messages[1].Content)
	require.NotNil(t, got.Temperature)
	assert.InDelta(t, 0.2, *got.Temperature, 1e-9)
	assert.Equal(t, 64, got.MaxTokens)
}

func TestOpenAIClient_Errors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/empty" {
			_, _ = w.Write([]byte(`{"choices":[]}`))
			return
		}
		http.Error(w, `{"error":"rate limit"}`, http.StatusTooManyRequests)
	}))
	defer srv.Close()

	cfg := config.LLMProviderConfig{Name: "openai", Endpoint: srv.URL, Model: "m", APIKey: "k"}
	_, err := NewOpenAIClient(cfg, srv.Client()).GenerateCompletion(context.Background(), "x", domain.CompletionOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")

	cfg.Endpoint = srv.URL + "/empty"
	_, err = NewOpenAIClient(cfg, srv.Client()).GenerateCompletion(context.Background(), "x", domain.CompletionOptions{})
	assert.ErrorContains(t, err, "no choices")

	cfg.APIKey = ""
	client := NewOpenAIClient(cfg, nil)
	assert.False(t, client.Ready())
	_, err = client.GenerateCompletion(context.Background(), "x", domain.CompletionOptions{})
	assert.Error(t, err)
}

func TestNewGeminiClient_RequiresKey(t *testing.T) {
	_, err := NewGeminiClient(context.Background(), config.LLMProviderConfig{Name: "gemini", Model: "gemini-2.5-flash"})
	assert.ErrorContains(t, err, "api key is required")
}
