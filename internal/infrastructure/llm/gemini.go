package llm

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"FeedSentry/internal/config"
	"FeedSentry/internal/domain"
)

// GeminiClient implements Provider on top of the Gemini API.
type GeminiClient struct {
	name         string
	model        string
	systemPrompt string
	client       *genai.Client
}

var _ Provider = (*GeminiClient)(nil)

// NewGeminiClient connects to the Gemini API with the configured key.
func NewGeminiClient(ctx context.Context, cfg config.LLMProviderConfig) (*GeminiClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini provider %q: api key is required", cfg.Name)
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini client: %w", err)
	}
	return &GeminiClient{
		name:         cfg.Name,
		model:        cfg.Model,
		systemPrompt: cfg.SystemPrompt,
		client:       client,
	}, nil
}

// Name returns the registry tag.
func (g *GeminiClient) Name() string {
	return g.name
}

// Ready reports whether the client was initialised with a model.
func (g *GeminiClient) Ready() bool {
	return g != nil && g.client != nil && g.model != ""
}

// GenerateCompletion runs a single-turn generation and returns the response text.
func (g *GeminiClient) GenerateCompletion(ctx context.Context, prompt string, opts domain.CompletionOptions) (string, error) {
	model := opts.Model
	if model == "" {
		model = g.model
	}

	cfg := &genai.GenerateContentConfig{
		StopSequences: opts.Stop,
	}
	if opts.Temperature > 0 {
		cfg.Temperature = genai.Ptr(float32(opts.Temperature))
	}
	if opts.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(opts.MaxTokens)
	}
	if sp := strings.TrimSpace(g.systemPrompt); sp != "" {
		cfg.SystemInstruction = genai.NewContentFromText(sp, genai.RoleUser)
	}

	result, err := g.client.Models.GenerateContent(ctx, model, genai.Text(prompt), cfg)
	if err != nil {
		return "", err
	}
	if result == nil || len(result.Candidates) == 0 {
		return "", fmt.Errorf("gemini returned no candidates")
	}
	return strings.TrimSpace(result.Text()), nil
}
