package scanner

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"FeedSentry/internal/domain"
	"FeedSentry/internal/infrastructure/metrics"
)

// Request carries all parameters required to execute a fetch.
type Request struct {
	Identifier string
	Config     map[string]string
	// Since is the source watermark; nil when the source was never polled.
	Since *time.Time
}

// Adapter captures a single feed type (RSS, arXiv, Reddit, etc.).
type Adapter interface {
	Type() string
	Fetch(ctx context.Context, req Request) ([]domain.FetchedItem, error)
	ValidateConfig(identifier string, config map[string]string) error
}

// Registry keeps a mapping from source-type tags to their adapters.
// It is populated once at startup and read-only afterwards.
type Registry struct {
	adapters map[string]Adapter
	logger   *slog.Logger
}

// NewRegistry builds an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{adapters: map[string]Adapter{}, logger: logger}
}

// Register adds or replaces an adapter implementation.
func (r *Registry) Register(adapter Adapter) {
	if r.adapters == nil {
		r.adapters = map[string]Adapter{}
	}
	r.adapters[adapter.Type()] = adapter
}

// Resolve returns an adapter by type or domain.ErrUnknownSourceType.
func (r *Registry) Resolve(sourceType string) (Adapter, error) {
	if adapter, ok := r.adapters[sourceType]; ok {
		return adapter, nil
	}
	return nil, fmt.Errorf("%w: %s", domain.ErrUnknownSourceType, sourceType)
}

// Types lists registered tags in stable order.
func (r *Registry) Types() []string {
	types := make([]string, 0, len(r.adapters))
	for t := range r.adapters {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// Validate checks a source definition against its adapter.
func (r *Registry) Validate(sourceType, identifier string, config map[string]string) error {
	adapter, err := r.Resolve(sourceType)
	if err != nil {
		return err
	}
	if err := adapter.ValidateConfig(identifier, config); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidConfig, err)
	}
	return nil
}

// Fetch dispatches to the adapter for sourceType. Adapter failures are logged
// and reported as an empty result; only an unknown type is returned as an error.
func (r *Registry) Fetch(ctx context.Context, sourceType, identifier string, config map[string]string, since *time.Time) ([]domain.FetchedItem, error) {
	adapter, err := r.Resolve(sourceType)
	if err != nil {
		return nil, err
	}

	items, err := adapter.Fetch(ctx, Request{Identifier: identifier, Config: config, Since: since})
	if err != nil {
		metrics.RecordFetch(sourceType, "error", 0)
		r.logger.Warn("adapter fetch failed", "type", sourceType, "identifier", identifier, "error", err)
		return []domain.FetchedItem{}, nil
	}

	metrics.RecordFetch(sourceType, "ok", len(items))
	if items == nil {
		items = []domain.FetchedItem{}
	}
	return items, nil
}
