package parser

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"FeedSentry/internal/domain"
	"FeedSentry/internal/scanner"
)

// WebpageAdapter scrapes repeated blocks of an arbitrary page with CSS selectors.
// Pages carry no reliable timestamps, so ids are content hashes and Since is ignored.
//
// Config keys: item_selector (required), title_selector, link_selector, text_selector.
type WebpageAdapter struct {
	fetcher *Fetcher
	now     func() time.Time
}

var _ scanner.Adapter = (*WebpageAdapter)(nil)

// NewWebpageAdapter wires the shared fetcher.
func NewWebpageAdapter(fetcher *Fetcher) *WebpageAdapter {
	return &WebpageAdapter{fetcher: fetcher, now: time.Now}
}

// Type identifies the adapter inside the registry.
func (a *WebpageAdapter) Type() string {
	return "webpage"
}

// ValidateConfig requires a page URL and an item selector.
func (a *WebpageAdapter) ValidateConfig(identifier string, config map[string]string) error {
	if err := validHTTPURL(identifier); err != nil {
		return err
	}
	if strings.TrimSpace(config["item_selector"]) == "" {
		return errors.New("webpage source requires item_selector")
	}
	return nil
}

// Fetch returns one item per element matching item_selector, in page order.
func (a *WebpageAdapter) Fetch(ctx context.Context, req scanner.Request) ([]domain.FetchedItem, error) {
	doc, err := a.fetcher.GetDocument(ctx, req.Identifier)
	if err != nil {
		return nil, err
	}

	base, _ := url.Parse(req.Identifier)
	pageTitle := strings.TrimSpace(doc.Find("title").First().Text())
	fetchedAt := a.now().UTC()

	var items []domain.FetchedItem
	doc.Find(req.Config["item_selector"]).Each(func(_ int, sel *goquery.Selection) {
		title := selectText(sel, req.Config["title_selector"])
		text := selectText(sel, req.Config["text_selector"])
		if req.Config["text_selector"] == "" {
			text = strings.Join(strings.Fields(sel.Text()), " ")
		}
		link := resolveLink(base, selectHref(sel, req.Config["link_selector"]))
		if title == "" && text == "" {
			return
		}

		items = append(items, domain.FetchedItem{
			ExternalID: hashID(link, title, text),
			RawText:    joinText(title, text),
			PostedAt:   fetchedAt,
			Metadata: map[string]string{
				domain.MetaTitle:  title,
				domain.MetaURL:    link,
				domain.MetaSource: pageTitle,
			},
		})
	})
	return items, nil
}

func selectText(sel *goquery.Selection, selector string) string {
	if selector == "" {
		return ""
	}
	return strings.Join(strings.Fields(sel.Find(selector).First().Text()), " ")
}

func selectHref(sel *goquery.Selection, selector string) string {
	target := sel.Find("a[href]").First()
	if selector != "" {
		target = sel.Find(selector).First()
	}
	if href, ok := sel.Attr("href"); ok && target.Length() == 0 {
		return href
	}
	href, _ := target.Attr("href")
	return href
}

func resolveLink(base *url.URL, href string) string {
	href = strings.TrimSpace(href)
	if href == "" || base == nil {
		return href
	}
	ref, err := url.Parse(href)
	if err != nil {
		return href
	}
	return base.ResolveReference(ref).String()
}
