package parser

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/time/rate"
)

const defaultUserAgent = "FeedSentry/1.0"

// ErrRateLimited is returned when a platform answers 429.
var ErrRateLimited = errors.New("rate limited by upstream")

// HostRateLimiter spaces requests per host.
type HostRateLimiter struct {
	limiters map[string]*rate.Limiter
	mu       sync.RWMutex
	interval time.Duration
}

// NewHostRateLimiter allows one request per interval per host; zero disables limiting.
func NewHostRateLimiter(interval time.Duration) *HostRateLimiter {
	return &HostRateLimiter{
		limiters: make(map[string]*rate.Limiter),
		interval: interval,
	}
}

// WaitForHost blocks until the host of rawURL may be contacted.
func (h *HostRateLimiter) WaitForHost(ctx context.Context, rawURL string) error {
	if h == nil || h.interval <= 0 {
		return nil
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return err
	}
	if parsed.Host == "" {
		return &url.Error{Op: "parse", URL: rawURL, Err: errors.New("missing host in URL")}
	}
	return h.limiterFor(parsed.Host).Wait(ctx)
}

func (h *HostRateLimiter) limiterFor(host string) *rate.Limiter {
	h.mu.RLock()
	limiter, ok := h.limiters[host]
	h.mu.RUnlock()
	if ok {
		return limiter
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if limiter, ok := h.limiters[host]; ok {
		return limiter
	}
	limiter = rate.NewLimiter(rate.Every(h.interval), 1)
	h.limiters[host] = limiter
	return limiter
}

// Fetcher is the HTTP plumbing shared by adapters.
type Fetcher struct {
	client    *http.Client
	limiter   *HostRateLimiter
	userAgent string
}

// NewFetcher builds a fetcher; a nil client gets a 30s timeout.
func NewFetcher(client *http.Client, limiter *HostRateLimiter, userAgent string) *Fetcher {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if userAgent == "" {
		userAgent = defaultUserAgent
	}
	return &Fetcher{client: client, limiter: limiter, userAgent: userAgent}
}

// Client exposes the underlying HTTP client.
func (f *Fetcher) Client() *http.Client {
	return f.client
}

// Get issues a GET and returns the open response; callers close the body.
func (f *Fetcher) Get(ctx context.Context, rawURL string, headers map[string]string) (*http.Response, error) {
	if err := f.limiter.WaitForHost(ctx, rawURL); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", f.userAgent)
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request %s: %w", rawURL, err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		_ = resp.Body.Close()
		return nil, fmt.Errorf("%w: %s", ErrRateLimited, rawURL)
	}
	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		_ = resp.Body.Close()
		return nil, fmt.Errorf("unexpected status %s: %s", resp.Status, strings.TrimSpace(string(payload)))
	}
	return resp, nil
}

// GetJSON decodes a JSON response body into v.
func (f *Fetcher) GetJSON(ctx context.Context, rawURL string, headers map[string]string, v any) error {
	resp, err := f.Get(ctx, rawURL, headers)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// GetDocument parses an HTML response into a goquery document.
func (f *Fetcher) GetDocument(ctx context.Context, rawURL string) (*goquery.Document, error) {
	resp, err := f.Get(ctx, rawURL, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse document: %w", err)
	}
	return doc, nil
}

var textPolicy = bluemonday.StrictPolicy()

// plainText strips markup, decodes entities and collapses whitespace.
func plainText(markup string) string {
	return strings.Join(strings.Fields(html.UnescapeString(textPolicy.Sanitize(markup))), " ")
}

// hashID derives a deterministic external id from item parts.
func hashID(parts ...string) string {
	sum := sha256.Sum256([]byte(strings.Join(parts, "\x1f")))
	return hex.EncodeToString(sum[:])
}

// joinText builds raw text from a title and a body, skipping blanks.
func joinText(title, body string) string {
	title = strings.TrimSpace(title)
	body = strings.TrimSpace(body)
	switch {
	case title == "":
		return body
	case body == "":
		return title
	default:
		return title + "\n\n" + body
	}
}

func after(t time.Time, since *time.Time) bool {
	return since == nil || t.After(*since)
}

func validHTTPURL(raw string) error {
	parsed, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid url %q: %w", raw, err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("invalid URL scheme: %q (must be http or https)", parsed.Scheme)
	}
	if parsed.Host == "" {
		return fmt.Errorf("missing host in URL %q", raw)
	}
	return nil
}
