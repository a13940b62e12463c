package llm

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"FeedSentry/internal/domain"
	"FeedSentry/internal/infrastructure/metrics"
	"FeedSentry/internal/ports"
)

// Provider is a single completion backend.
type Provider interface {
	Name() string
	GenerateCompletion(ctx context.Context, prompt string, opts domain.CompletionOptions) (string, error)
	Ready() bool
}

// Registry resolves providers by name and bounds every call with a timeout.
type Registry struct {
	providers   map[string]Provider
	defaultName string
	timeout     time.Duration
	logger      *slog.Logger
}

var _ ports.LLM = (*Registry)(nil)

// NewRegistry builds an empty registry; timeout <= 0 disables the bound.
func NewRegistry(defaultName string, timeout time.Duration, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		providers:   map[string]Provider{},
		defaultName: defaultName,
		timeout:     timeout,
		logger:      logger,
	}
}

// Register adds or replaces a provider. The first registered provider becomes the
// default when none was configured.
func (r *Registry) Register(p Provider) {
	r.providers[p.Name()] = p
	if r.defaultName == "" {
		r.defaultName = p.Name()
	}
}

// Names lists registered providers.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Resolve returns a ready provider by name; an empty name selects the default.
func (r *Registry) Resolve(name string) (Provider, error) {
	if name == "" {
		name = r.defaultName
	}
	p, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q is not registered", domain.ErrProviderUnavailable, name)
	}
	if !p.Ready() {
		return nil, fmt.Errorf("%w: %q is not ready", domain.ErrProviderUnavailable, name)
	}
	return p, nil
}

// Complete runs one completion on the named provider.
func (r *Registry) Complete(ctx context.Context, name, prompt string, opts domain.CompletionOptions) (string, error) {
	p, err := r.Resolve(name)
	if err != nil {
		return "", err
	}

	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	start := time.Now()
	text, err := p.GenerateCompletion(ctx, prompt, opts)
	elapsed := time.Since(start)
	if err != nil {
		metrics.RecordLLM(p.Name(), "error", elapsed.Seconds())
		r.logger.Warn("llm completion failed", "provider", p.Name(), "model", opts.Model, "error", err)
		return "", fmt.Errorf("%s completion: %w", p.Name(), err)
	}
	metrics.RecordLLM(p.Name(), "ok", elapsed.Seconds())
	r.logger.Debug("llm completion", "provider", p.Name(), "model", opts.Model, "duration", elapsed)
	return text, nil
}
