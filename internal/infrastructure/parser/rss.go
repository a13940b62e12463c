package parser

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	"FeedSentry/internal/domain"
	"FeedSentry/internal/scanner"
)

// RSSAdapter fetches RSS, Atom and JSON feeds.
type RSSAdapter struct {
	fetcher *Fetcher
	now     func() time.Time
}

var _ scanner.Adapter = (*RSSAdapter)(nil)

// NewRSSAdapter wires the shared fetcher.
func NewRSSAdapter(fetcher *Fetcher) *RSSAdapter {
	return &RSSAdapter{fetcher: fetcher, now: time.Now}
}

// Type identifies the adapter inside the registry.
func (a *RSSAdapter) Type() string {
	return "rss"
}

// ValidateConfig requires an http(s) feed URL.
func (a *RSSAdapter) ValidateConfig(identifier string, _ map[string]string) error {
	return validHTTPURL(identifier)
}

// Fetch parses the feed and keeps items newer than the watermark.
// Items without a date are always returned and rely on id dedup.
func (a *RSSAdapter) Fetch(ctx context.Context, req scanner.Request) ([]domain.FetchedItem, error) {
	resp, err := a.fetcher.Get(ctx, req.Identifier, map[string]string{
		"Accept": "application/rss+xml, application/atom+xml, application/xml, text/xml, application/json",
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	feed, err := gofeed.NewParser().Parse(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse feed %s: %w", req.Identifier, err)
	}

	items := make([]domain.FetchedItem, 0, len(feed.Items))
	for _, entry := range feed.Items {
		if entry == nil {
			continue
		}
		postedAt, dated := itemTime(entry)
		if dated && !after(postedAt, req.Since) {
			continue
		}
		if !dated {
			postedAt = a.now().UTC()
		}
		items = append(items, toFetchedItem(feed, entry, postedAt))
	}
	return items, nil
}

func itemTime(entry *gofeed.Item) (time.Time, bool) {
	if entry.PublishedParsed != nil {
		return entry.PublishedParsed.UTC(), true
	}
	if entry.UpdatedParsed != nil {
		return entry.UpdatedParsed.UTC(), true
	}
	return time.Time{}, false
}

func toFetchedItem(feed *gofeed.Feed, entry *gofeed.Item, postedAt time.Time) domain.FetchedItem {
	body := entry.Content
	if strings.TrimSpace(body) == "" {
		body = entry.Description
	}
	title := strings.TrimSpace(entry.Title)

	externalID := strings.TrimSpace(entry.GUID)
	if externalID == "" {
		externalID = strings.TrimSpace(entry.Link)
	}
	if externalID == "" {
		externalID = hashID(title, body)
	}

	meta := map[string]string{
		domain.MetaTitle:  title,
		domain.MetaURL:    strings.TrimSpace(entry.Link),
		domain.MetaSource: strings.TrimSpace(feed.Title),
	}
	if len(entry.Authors) > 0 && entry.Authors[0] != nil {
		meta[domain.MetaAuthor] = entry.Authors[0].Name
	}
	if len(entry.Categories) > 0 {
		meta["categories"] = strings.Join(entry.Categories, ",")
	}

	return domain.FetchedItem{
		ExternalID: externalID,
		RawText:    joinText(title, plainText(body)),
		PostedAt:   postedAt,
		Metadata:   meta,
	}
}
