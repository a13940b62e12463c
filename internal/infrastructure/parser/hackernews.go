package parser

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"FeedSentry/internal/domain"
	"FeedSentry/internal/scanner"
)

const hackerNewsBaseURL = "https://hn.algolia.com/api/v1"

// HackerNewsAdapter searches Hacker News through the Algolia API.
// The identifier is a search query; "*" matches every story.
//
// Config keys: tags (default "story"), min_points, hits (default 50).
type HackerNewsAdapter struct {
	fetcher *Fetcher
	baseURL string
}

var _ scanner.Adapter = (*HackerNewsAdapter)(nil)

// NewHackerNewsAdapter wires the shared fetcher.
func NewHackerNewsAdapter(fetcher *Fetcher) *HackerNewsAdapter {
	return &HackerNewsAdapter{fetcher: fetcher, baseURL: hackerNewsBaseURL}
}

// Type identifies the adapter inside the registry.
func (a *HackerNewsAdapter) Type() string {
	return "hackernews"
}

// ValidateConfig checks numeric options.
func (a *HackerNewsAdapter) ValidateConfig(identifier string, config map[string]string) error {
	if strings.TrimSpace(identifier) == "" {
		return fmt.Errorf("hackernews identifier must be a query or *")
	}
	for _, key := range []string{"min_points", "hits"} {
		if v := config[key]; v != "" {
			if _, err := strconv.Atoi(v); err != nil {
				return fmt.Errorf("%s must be an integer: %w", key, err)
			}
		}
	}
	return nil
}

type hnResponse struct {
	Hits []hnHit `json:"hits"`
}

type hnHit struct {
	ObjectID   string `json:"objectID"`
	Title      string `json:"title"`
	URL        string `json:"url"`
	Author     string `json:"author"`
	Points     int    `json:"points"`
	StoryText  string `json:"story_text"`
	CreatedAtI int64  `json:"created_at_i"`
	NumComment int    `json:"num_comments"`
}

// Fetch queries stories created after the watermark, oldest first.
func (a *HackerNewsAdapter) Fetch(ctx context.Context, req scanner.Request) ([]domain.FetchedItem, error) {
	query := url.Values{}
	if q := strings.TrimSpace(req.Identifier); q != "*" {
		query.Set("query", q)
	}
	tags := req.Config["tags"]
	if tags == "" {
		tags = "story"
	}
	query.Set("tags", tags)
	hits := req.Config["hits"]
	if hits == "" {
		hits = "50"
	}
	query.Set("hitsPerPage", hits)

	filters := []string{}
	if req.Since != nil {
		filters = append(filters, fmt.Sprintf("created_at_i>%d", req.Since.Unix()))
	}
	if minPoints := req.Config["min_points"]; minPoints != "" {
		filters = append(filters, "points>="+minPoints)
	}
	if len(filters) > 0 {
		query.Set("numericFilters", strings.Join(filters, ","))
	}

	var resp hnResponse
	if err := a.fetcher.GetJSON(ctx, a.baseURL+"/search_by_date?"+query.Encode(), nil, &resp); err != nil {
		return nil, fmt.Errorf("hackernews search: %w", err)
	}

	items := make([]domain.FetchedItem, 0, len(resp.Hits))
	for i := len(resp.Hits) - 1; i >= 0; i-- {
		hit := resp.Hits[i]
		if hit.ObjectID == "" {
			continue
		}
		postedAt := time.Unix(hit.CreatedAtI, 0).UTC()
		if !after(postedAt, req.Since) {
			continue
		}
		link := hit.URL
		discussion := "https://news.ycombinator.com/item?id=" + hit.ObjectID
		if link == "" {
			link = discussion
		}
		items = append(items, domain.FetchedItem{
			ExternalID: hit.ObjectID,
			RawText:    joinText(hit.Title, plainText(hit.StoryText)),
			PostedAt:   postedAt,
			Metadata: map[string]string{
				domain.MetaTitle:  hit.Title,
				domain.MetaURL:    link,
				domain.MetaSource: "Hacker News",
				domain.MetaAuthor: hit.Author,
				"points":          strconv.Itoa(hit.Points),
				"comments":        strconv.Itoa(hit.NumComment),
				"discussion_url":  discussion,
			},
		})
	}
	return items, nil
}
