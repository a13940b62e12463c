package parser

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"FeedSentry/internal/domain"
	"FeedSentry/internal/scanner"
)

const (
	arxivBaseURL = "https://arxiv.org"
)

var dateExpr = regexp.MustCompile(`\d{1,2} [A-Za-z]{3} \d{4}`)

// ArxivScanner crawls an arXiv listing page and extracts articles since the watermark day.
type ArxivScanner struct {
	fetcher  *Fetcher
	pageSize int
	now      func() time.Time
}

var _ scanner.Adapter = (*ArxivScanner)(nil)

// NewArxivScanner wires the shared fetcher; pageSize defaults to 200.
func NewArxivScanner(fetcher *Fetcher) *ArxivScanner {
	return &ArxivScanner{fetcher: fetcher, pageSize: 200, now: time.Now}
}

// Type identifies the strategy inside the registry.
func (a *ArxivScanner) Type() string {
	return "arxiv"
}

// ValidateConfig requires a listing URL such as https://export.arxiv.org/list/cs.AI/pastweek.
func (a *ArxivScanner) ValidateConfig(identifier string, _ map[string]string) error {
	if err := validHTTPURL(identifier); err != nil {
		return err
	}
	if !strings.Contains(identifier, "/list/") {
		return fmt.Errorf("arxiv identifier must be a /list/ URL, got %q", identifier)
	}
	return nil
}

// Fetch walks the listing pages newest-first and stops at the first entry older than the cutoff day.
// arXiv only publishes dates, so the watermark is applied with day granularity.
func (a *ArxivScanner) Fetch(ctx context.Context, req scanner.Request) ([]domain.FetchedItem, error) {
	cutoff := a.now().UTC().Add(-24 * time.Hour)
	if req.Since != nil {
		cutoff = req.Since.UTC()
	}
	cutoffDay := cutoff.Truncate(24 * time.Hour)
	category := req.Config["category"]

	results := make([]domain.FetchedItem, 0)
	seen := map[string]struct{}{}
	skip := 0
	for {
		pageURL, err := buildPageURL(req.Identifier, skip, a.pageSize)
		if err != nil {
			return nil, err
		}

		doc, err := a.fetcher.GetDocument(ctx, pageURL)
		if err != nil {
			return nil, fmt.Errorf("arxiv listing: %w", err)
		}

		pageItems, shouldContinue := a.extractItems(doc, cutoffDay, category)
		for _, item := range pageItems {
			if _, ok := seen[item.ExternalID]; ok {
				continue
			}
			seen[item.ExternalID] = struct{}{}
			results = append(results, item)
		}

		if !shouldContinue {
			break
		}
		skip += a.pageSize
	}

	return results, nil
}

func (a *ArxivScanner) extractItems(doc *goquery.Document, cutoffDay time.Time, category string) ([]domain.FetchedItem, bool) {
	var (
		collected    []domain.FetchedItem
		continueScan = true
		processed    int
	)

	doc.Find("dl > dt").EachWithBreak(func(i int, dt *goquery.Selection) bool {
		dd := dt.Next()
		processed++

		item, err := parseEntry(dt, dd, category)
		if err != nil {
			return true
		}

		itemDay := item.PostedAt.UTC().Truncate(24 * time.Hour)
		if itemDay.Before(cutoffDay) {
			continueScan = false
			return false
		}
		collected = append(collected, item)
		return true
	})

	if processed < a.pageSize {
		continueScan = false
	}

	return collected, continueScan
}

func parseEntry(dt, dd *goquery.Selection, category string) (domain.FetchedItem, error) {
	link := dt.Find("a[href*=\"/abs/\"]").First()
	href, _ := link.Attr("href")

	id := strings.TrimSpace(link.Text())
	if id == "" {
		id = strings.TrimPrefix(href, "/abs/")
	}
	if href != "" && !strings.HasPrefix(href, "http") {
		href = strings.TrimSuffix(arxivBaseURL, "/") + href
	}
	if id == "" {
		id = href
	}
	if id == "" {
		return domain.FetchedItem{}, fmt.Errorf("entry without identifier")
	}

	title := strings.TrimSpace(dd.Find(".list-title").First().Text())
	title = strings.TrimSpace(strings.TrimPrefix(title, "Title:"))

	summary := dd.Find("p.mathjax").First().Text()
	summary = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(summary), "Abstract:"))

	authors := strings.TrimSpace(dd.Find(".list-authors").First().Text())
	authors = strings.Join(strings.Fields(strings.TrimPrefix(authors, "Authors:")), " ")

	dateText := strings.TrimSpace(dd.Find(".list-date").First().Text())
	if dateText == "" {
		dateText = strings.TrimSpace(dd.Find(".list-dateline").First().Text())
	}
	if dateText == "" {
		return domain.FetchedItem{}, fmt.Errorf("entry %s without date", id)
	}
	match := dateExpr.FindString(dateText)
	if match == "" {
		return domain.FetchedItem{}, fmt.Errorf("entry %s: unparseable date %q", id, dateText)
	}
	publishedAt, err := time.Parse("2 Jan 2006", match)
	if err != nil {
		return domain.FetchedItem{}, fmt.Errorf("entry %s: %w", id, err)
	}

	source := "arxiv"
	if category != "" {
		source = fmt.Sprintf("arxiv/%s", category)
	}

	meta := map[string]string{
		domain.MetaTitle:  title,
		domain.MetaURL:    href,
		domain.MetaSource: source,
	}
	if authors != "" {
		meta[domain.MetaAuthor] = authors
	}

	return domain.FetchedItem{
		ExternalID: id,
		RawText:    joinText(title, summary),
		PostedAt:   publishedAt.UTC(),
		Metadata:   meta,
	}, nil
}

func buildPageURL(base string, skip, pageSize int) (string, error) {
	parsed, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid listing url %s: %w", base, err)
	}

	query := parsed.Query()
	query.Set("skip", strconv.Itoa(skip))
	query.Set("show", strconv.Itoa(pageSize))
	parsed.RawQuery = query.Encode()
	return parsed.String(), nil
}
