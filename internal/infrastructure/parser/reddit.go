package parser

import (
	"context"
	"fmt"
	"math"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"FeedSentry/internal/domain"
	"FeedSentry/internal/scanner"
)

const redditBaseURL = "https://www.reddit.com"

var subredditExpr = regexp.MustCompile(`^[A-Za-z0-9_]{2,21}$`)

// RedditAdapter reads the newest posts of a subreddit from the public JSON listing.
//
// Config keys: limit (default 25).
type RedditAdapter struct {
	fetcher *Fetcher
	baseURL string
}

var _ scanner.Adapter = (*RedditAdapter)(nil)

// NewRedditAdapter wires the shared fetcher.
func NewRedditAdapter(fetcher *Fetcher) *RedditAdapter {
	return &RedditAdapter{fetcher: fetcher, baseURL: redditBaseURL}
}

// Type identifies the adapter inside the registry.
func (a *RedditAdapter) Type() string {
	return "reddit"
}

// ValidateConfig accepts "golang" or "r/golang".
func (a *RedditAdapter) ValidateConfig(identifier string, config map[string]string) error {
	if !subredditExpr.MatchString(subredditName(identifier)) {
		return fmt.Errorf("invalid subreddit %q", identifier)
	}
	if v := config["limit"]; v != "" {
		if n, err := strconv.Atoi(v); err != nil || n <= 0 || n > 100 {
			return fmt.Errorf("limit must be between 1 and 100")
		}
	}
	return nil
}

type redditListing struct {
	Data struct {
		Children []struct {
			Data redditPost `json:"data"`
		} `json:"children"`
	} `json:"data"`
}

type redditPost struct {
	ID         string  `json:"id"`
	Name       string  `json:"name"`
	Title      string  `json:"title"`
	Selftext   string  `json:"selftext"`
	Permalink  string  `json:"permalink"`
	URL        string  `json:"url"`
	Author     string  `json:"author"`
	Subreddit  string  `json:"subreddit"`
	Score      int     `json:"score"`
	CreatedUTC float64 `json:"created_utc"`
}

// Fetch returns posts newer than the watermark, oldest first.
func (a *RedditAdapter) Fetch(ctx context.Context, req scanner.Request) ([]domain.FetchedItem, error) {
	limit := req.Config["limit"]
	if limit == "" {
		limit = "25"
	}
	endpoint := fmt.Sprintf("%s/r/%s/new.json?%s", a.baseURL, url.PathEscape(subredditName(req.Identifier)),
		url.Values{"limit": {limit}, "raw_json": {"1"}}.Encode())

	var listing redditListing
	if err := a.fetcher.GetJSON(ctx, endpoint, nil, &listing); err != nil {
		return nil, fmt.Errorf("reddit listing: %w", err)
	}

	children := listing.Data.Children
	items := make([]domain.FetchedItem, 0, len(children))
	for i := len(children) - 1; i >= 0; i-- {
		post := children[i].Data
		if post.ID == "" {
			continue
		}
		sec, frac := math.Modf(post.CreatedUTC)
		postedAt := time.Unix(int64(sec), int64(frac*1e9)).UTC()
		if !after(postedAt, req.Since) {
			continue
		}
		permalink := post.Permalink
		if strings.HasPrefix(permalink, "/") {
			permalink = redditBaseURL + permalink
		}
		items = append(items, domain.FetchedItem{
			ExternalID: post.ID,
			RawText:    joinText(post.Title, post.Selftext),
			PostedAt:   postedAt,
			Metadata: map[string]string{
				domain.MetaTitle:  post.Title,
				domain.MetaURL:    permalink,
				domain.MetaSource: "r/" + post.Subreddit,
				domain.MetaAuthor: post.Author,
				"link":            post.URL,
				"score":           strconv.Itoa(post.Score),
			},
		})
	}
	return items, nil
}

func subredditName(identifier string) string {
	name := strings.TrimSpace(identifier)
	name = strings.TrimPrefix(name, "/")
	name = strings.TrimPrefix(name, "r/")
	return strings.TrimSuffix(name, "/")
}
