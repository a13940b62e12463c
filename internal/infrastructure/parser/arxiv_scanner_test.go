package parser

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"

	"FeedSentry/internal/domain"
	"FeedSentry/internal/scanner"
)

func TestBuildPageURL(t *testing.T) {
	t.Parallel()

	base := "https://export.arxiv.org/list/cs.AI/pastweek"
	u, err := buildPageURL(base, 200, 100)
	if err != nil {
		t.Fatalf("buildPageURL returned error: %v", err)
	}

	parsed, err := url.Parse(u)
	if err != nil {
		t.Fatalf("parse result: %v", err)
	}

	if parsed.Scheme != "https" || parsed.Host != "export.arxiv.org" {
		t.Fatalf("unexpected host: %s", parsed.Host)
	}

	q := parsed.Query()
	if q.Get("skip") != "200" {
		t.Fatalf("expected skip=200, got %s", q.Get("skip"))
	}
	if q.Get("show") != "100" {
		t.Fatalf("expected show=100, got %s", q.Get("show"))
	}
}

func TestParseEntry(t *testing.T) {
	t.Parallel()

	html := `
	<dl>
	  <dt>
	    <span class="list-identifier"><a href="/abs/1234.56789">arXiv:1234.56789</a></span>
	  </dt>
	  <dd>
	    <div class="list-date">Date: 8 Nov 2025</div>
	    <div class="list-title mathjax">Title: Sample Title</div>
	    <div class="list-authors">Authors: Ada   Lovelace, Alan Turing</div>
	    <p class="mathjax">Abstract: Sample abstract text.</p>
	  </dd>
	</dl>`

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		t.Fatalf("new document: %v", err)
	}

	item, err := parseEntry(doc.Find("dt").First(), doc.Find("dd").First(), "cs.AI")
	if err != nil {
		t.Fatalf("parseEntry error: %v", err)
	}

	if item.ExternalID != "arXiv:1234.56789" {
		t.Fatalf("unexpected id: %s", item.ExternalID)
	}
	if item.Metadata[domain.MetaTitle] != "Sample Title" {
		t.Fatalf("unexpected title: %s", item.Metadata[domain.MetaTitle])
	}
	if item.RawText != "Sample Title\n\nSample abstract text." {
		t.Fatalf("unexpected raw text: %q", item.RawText)
	}
	if item.Metadata[domain.MetaSource] != "arxiv/cs.AI" {
		t.Fatalf("unexpected source: %s", item.Metadata[domain.MetaSource])
	}
	if item.Metadata[domain.MetaURL] != "https://arxiv.org/abs/1234.56789" {
		t.Fatalf("unexpected url: %s", item.Metadata[domain.MetaURL])
	}
	if item.Metadata[domain.MetaAuthor] != "Ada Lovelace, Alan Turing" {
		t.Fatalf("unexpected authors: %s", item.Metadata[domain.MetaAuthor])
	}

	wantDate := time.Date(2025, time.November, 8, 0, 0, 0, 0, time.UTC)
	if !item.PostedAt.Equal(wantDate) {
		t.Fatalf("unexpected published date: %v", item.PostedAt)
	}
}

func TestParseEntryWithoutDate(t *testing.T) {
	t.Parallel()

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(`
	<dl><dt><a href="/abs/1">arXiv:1</a></dt><dd><div class="list-title">Title: x</div></dd></dl>`))
	if err != nil {
		t.Fatalf("new document: %v", err)
	}
	if _, err := parseEntry(doc.Find("dt").First(), doc.Find("dd").First(), ""); err == nil {
		t.Fatal("expected error for entry without date")
	}
}

func TestArxivScannerFetch(t *testing.T) {
	t.Parallel()

	since := time.Date(2025, time.November, 8, 6, 0, 0, 0, time.UTC)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("show") != "10" {
			t.Errorf("unexpected page size: %s", r.URL.RawQuery)
		}
		_, _ = w.Write([]byte(`
		<dl>
		  <dt>
		    <span class="list-identifier"><a href="/abs/2501.00001">arXiv:2501.00001</a></span>
		  </dt>
		  <dd>
		    <div class="list-date">Date: 8 Nov 2025</div>
		    <div class="list-title mathjax">Title: Fresh Article</div>
		    <p class="mathjax">Abstract: brand new.</p>
		  </dd>
		  <dt>
		    <span class="list-identifier"><a href="/abs/2501.00002">arXiv:2501.00002</a></span>
		  </dt>
		  <dd>
		    <div class="list-date">Date: 7 Nov 2025</div>
		    <div class="list-title mathjax">Title: Old Article</div>
		    <p class="mathjax">Abstract: older.</p>
		  </dd>
		</dl>`))
	}))
	defer server.Close()

	sc := NewArxivScanner(NewFetcher(server.Client(), nil, ""))
	sc.pageSize = 10

	items, err := sc.Fetch(context.Background(), scanner.Request{
		Identifier: server.URL + "/list/cs.AI/pastweek",
		Config:     map[string]string{"category": "cs.AI"},
		Since:      &since,
	})
	if err != nil {
		t.Fatalf("Fetch error: %v", err)
	}

	if len(items) != 1 {
		t.Fatalf("expected 1 item, got %d", len(items))
	}
	if items[0].ExternalID != "arXiv:2501.00001" {
		t.Fatalf("unexpected item id: %s", items[0].ExternalID)
	}
	if !strings.HasSuffix(items[0].RawText, "brand new.") {
		t.Fatalf("unexpected text: %s", items[0].RawText)
	}
}

func TestArxivValidateConfig(t *testing.T) {
	t.Parallel()

	sc := NewArxivScanner(NewFetcher(nil, nil, ""))
	if err := sc.ValidateConfig("https://export.arxiv.org/list/cs.AI/pastweek", nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := sc.ValidateConfig("https://export.arxiv.org/abs/1234", nil); err == nil {
		t.Fatal("expected error for non-listing url")
	}
	if err := sc.ValidateConfig("ftp://export.arxiv.org/list/cs.AI", nil); err == nil {
		t.Fatal("expected error for non-http url")
	}
}
