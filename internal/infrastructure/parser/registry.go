package parser

import (
	"log/slog"
	"net/http"

	"FeedSentry/internal/config"
	"FeedSentry/internal/scanner"
)

// NewRegistry registers every built-in adapter behind one shared, rate-limited fetcher.
func NewRegistry(cfg config.AdapterConfig, logger *slog.Logger) *scanner.Registry {
	fetcher := NewFetcher(
		&http.Client{Timeout: cfg.HTTPTimeout},
		NewHostRateLimiter(cfg.HostInterval),
		cfg.UserAgent,
	)

	registry := scanner.NewRegistry(logger)
	registry.Register(NewRSSAdapter(fetcher))
	registry.Register(NewArxivScanner(fetcher))
	registry.Register(NewWebpageAdapter(fetcher))
	registry.Register(NewHackerNewsAdapter(fetcher))
	registry.Register(NewRedditAdapter(fetcher))
	registry.Register(NewGitHubAdapter(fetcher, cfg.GitHubToken))
	return registry
}
