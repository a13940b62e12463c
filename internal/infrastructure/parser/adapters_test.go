package parser

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"FeedSentry/internal/config"
	"FeedSentry/internal/domain"
	"FeedSentry/internal/logging"
	"FeedSentry/internal/scanner"
)

func serve(t *testing.T, contentType, body string, inspect func(*http.Request)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if inspect != nil {
			inspect(r)
		}
		w.Header().Set("Content-Type", contentType)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testFetcher(srv *httptest.Server) *Fetcher {
	return NewFetcher(srv.Client(), nil, "")
}

func TestRSSAdapter_FiltersByWatermark(t *testing.T) {
	srv := serve(t, "application/atom+xml", `<?xml version="1.0" encoding="utf-8"?>
<feed xmlns="http://www.w3.org/2005/Atom">
  <title>Atom Example</title>
  <entry>
    <title>New post</title>
    <id>urn:uuid:new</id>
    <link href="https://example.com/new"/>
    <updated>2025-03-03T10:00:00Z</updated>
    <author><name>Jane</name></author>
    <content type="html">&lt;p&gt;Hello &lt;em&gt;world&lt;/em&gt;&lt;/p&gt;</content>
  </entry>
  <entry>
    <title>Old post</title>
    <id>urn:uuid:old</id>
    <updated>2025-03-01T10:00:00Z</updated>
    <summary>old</summary>
  </entry>
</feed>`, func(r *http.Request) {
		assert.Equal(t, defaultUserAgent, r.Header.Get("User-Agent"))
	})

	since := time.Date(2025, 3, 2, 0, 0, 0, 0, time.UTC)
	items, err := NewRSSAdapter(testFetcher(srv)).Fetch(context.Background(), scanner.Request{Identifier: srv.URL, Since: &since})
	require.NoError(t, err)
	require.Len(t, items, 1)

	item := items[0]
	assert.Equal(t, "urn:uuid:new", item.ExternalID)
	assert.Equal(t, "New post\n\nHello world", item.RawText)
	assert.Equal(t, "https://example.com/new", item.Metadata[domain.MetaURL])
	assert.Equal(t, "Atom Example", item.Metadata[domain.MetaSource])
	assert.Equal(t, "Jane", item.Metadata[domain.MetaAuthor])
	assert.True(t, item.PostedAt.Equal(time.Date(2025, 3, 3, 10, 0, 0, 0, time.UTC)))
}

func TestRSSAdapter_UndatedItemsUseFetchTime(t *testing.T) {
	srv := serve(t, "application/rss+xml", `<rss version="2.0"><channel><title>T</title>
<item><title>No date</title><link>https://example.com/a</link></item>
</channel></rss>`, nil)

	fixed := time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)
	adapter := NewRSSAdapter(testFetcher(srv))
	adapter.now = func() time.Time { return fixed }

	since := fixed.Add(time.Hour)
	items, err := adapter.Fetch(context.Background(), scanner.Request{Identifier: srv.URL, Since: &since})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "https://example.com/a", items[0].ExternalID)
	assert.Equal(t, fixed, items[0].PostedAt)
}

func TestRSSAdapter_DecodesEntities(t *testing.T) {
	srv := serve(t, "application/rss+xml", `<rss version="2.0"><channel><title>T</title>
<item><guid>a</guid><title>A</title><description><![CDATA[<p>Tom's "R&amp;D" <b>team</b> &lt;3</p>]]></description></item>
</channel></rss>`, nil)

	items, err := NewRSSAdapter(testFetcher(srv)).Fetch(context.Background(), scanner.Request{Identifier: srv.URL})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "A\n\nTom's \"R&D\" team <3", items[0].RawText)
}

func TestPlainText(t *testing.T) {
	cases := map[string]string{
		"<p>a &amp; b</p>":            "a & b",
		"  x\n\n<br/>  y ":             "x y",
		`<script>alert(1)</script>ok`: "ok",
		"5 &gt; 3 &quot;yes&quot;":    `5 > 3 "yes"`,
	}
	for in, want := range cases {
		assert.Equal(t, want, plainText(in), in)
	}
}

func TestRSSAdapter_BadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "slow down", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := NewRSSAdapter(testFetcher(srv)).Fetch(context.Background(), scanner.Request{Identifier: srv.URL})
	assert.ErrorIs(t, err, ErrRateLimited)
}

func TestWebpageAdapter_SelectsBlocks(t *testing.T) {
	srv := serve(t, "text/html", `<html><head><title>Changelog</title></head><body>
<div class="entry"><h2>v1.2</h2><a href="/releases/1.2">notes</a><p>Faster builds</p></div>
<div class="entry"><h2>v1.1</h2><a href="https://cdn.example.com/1.1">notes</a><p>Bug fixes</p></div>
<div class="entry"></div>
</body></html>`, nil)

	adapter := NewWebpageAdapter(testFetcher(srv))
	cfg := map[string]string{"item_selector": "div.entry", "title_selector": "h2", "text_selector": "p"}
	require.NoError(t, adapter.ValidateConfig(srv.URL, cfg))

	items, err := adapter.Fetch(context.Background(), scanner.Request{Identifier: srv.URL + "/changes", Config: cfg})
	require.NoError(t, err)
	require.Len(t, items, 2)

	assert.Equal(t, "v1.2\n\nFaster builds", items[0].RawText)
	assert.Equal(t, srv.URL+"/releases/1.2", items[0].Metadata[domain.MetaURL])
	assert.Equal(t, "https://cdn.example.com/1.1", items[1].Metadata[domain.MetaURL])
	assert.Equal(t, "Changelog", items[0].Metadata[domain.MetaSource])
	assert.NotEqual(t, items[0].ExternalID, items[1].ExternalID)

	again, err := adapter.Fetch(context.Background(), scanner.Request{Identifier: srv.URL + "/changes", Config: cfg})
	require.NoError(t, err)
	assert.Equal(t, items[0].ExternalID, again[0].ExternalID)

	assert.Error(t, adapter.ValidateConfig(srv.URL, nil))
}

func TestHackerNewsAdapter_QueryAndOrder(t *testing.T) {
	since := time.Unix(1_700_000_000, 0).UTC()
	srv := serve(t, "application/json", `{"hits":[
  {"objectID":"3","title":"Newest","url":"https://a.example","author":"pg","points":120,"created_at_i":1700000300},
  {"objectID":"2","title":"Ask HN: Older","story_text":"<p>question</p>","author":"dang","points":80,"created_at_i":1700000100},
  {"objectID":"1","title":"Stale","created_at_i":1690000000}
]}`, func(r *http.Request) {
		assert.Equal(t, "/search_by_date", r.URL.Path)
		q := r.URL.Query()
		assert.Equal(t, "golang", q.Get("query"))
		assert.Equal(t, "story", q.Get("tags"))
		assert.Equal(t, "created_at_i>1700000000,points>=50", q.Get("numericFilters"))
	})

	adapter := NewHackerNewsAdapter(testFetcher(srv))
	adapter.baseURL = srv.URL

	items, err := adapter.Fetch(context.Background(), scanner.Request{
		Identifier: "golang",
		Config:     map[string]string{"min_points": "50"},
		Since:      &since,
	})
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "2", items[0].ExternalID)
	assert.Equal(t, "Ask HN: Older\n\nquestion", items[0].RawText)
	assert.Equal(t, "https://news.ycombinator.com/item?id=2", items[0].Metadata[domain.MetaURL])
	assert.Equal(t, "3", items[1].ExternalID)
	assert.Equal(t, "https://a.example", items[1].Metadata[domain.MetaURL])

	assert.Error(t, adapter.ValidateConfig("golang", map[string]string{"hits": "many"}))
}

func TestRedditAdapter_ListsNewPosts(t *testing.T) {
	srv := serve(t, "application/json", `{"data":{"children":[
  {"data":{"id":"b2","title":"Second","selftext":"body","permalink":"/r/golang/comments/b2/","author":"u2","subreddit":"golang","score":5,"created_utc":1700000200.5}},
  {"data":{"id":"a1","title":"First","permalink":"/r/golang/comments/a1/","author":"u1","subreddit":"golang","created_utc":1700000100}}
]}}`, func(r *http.Request) {
		assert.Equal(t, "/r/golang/new.json", r.URL.Path)
		assert.Equal(t, "10", r.URL.Query().Get("limit"))
	})

	adapter := NewRedditAdapter(testFetcher(srv))
	adapter.baseURL = srv.URL

	items, err := adapter.Fetch(context.Background(), scanner.Request{Identifier: "r/golang", Config: map[string]string{"limit": "10"}})
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "a1", items[0].ExternalID)
	assert.Equal(t, "b2", items[1].ExternalID)
	assert.Equal(t, "Second\n\nbody", items[1].RawText)
	assert.Equal(t, "https://www.reddit.com/r/golang/comments/b2/", items[1].Metadata[domain.MetaURL])
	assert.Equal(t, "r/golang", items[1].Metadata[domain.MetaSource])

	assert.NoError(t, adapter.ValidateConfig("golang", nil))
	assert.Error(t, adapter.ValidateConfig("no spaces allowed", nil))
	assert.Error(t, adapter.ValidateConfig("golang", map[string]string{"limit": "500"}))
}

func TestGitHubAdapter_ReleasesAndEvents(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/golang/go/releases", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`[
  {"id":2,"tag_name":"go1.30","name":"","body":"notes","html_url":"https://github.com/golang/go/releases/go1.30","published_at":"2025-03-03T10:00:00Z","author":{"login":"gopher"}},
  {"id":3,"tag_name":"draft","draft":true,"published_at":"2025-03-04T10:00:00Z"},
  {"id":1,"tag_name":"go1.29","published_at":"2025-02-01T10:00:00Z"}
]`))
	})
	mux.HandleFunc("/repos/golang/go/events", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`[
  {"id":"e2","type":"IssuesEvent","actor":{"login":"bob"},"created_at":"2025-03-03T11:00:00Z","payload":{"action":"opened","issue":{"title":"crash","body":"stack","html_url":"https://github.com/golang/go/issues/1"}}},
  {"id":"e1","type":"PushEvent","actor":{"login":"alice"},"created_at":"2025-03-03T10:00:00Z","payload":{"ref":"refs/heads/master","commits":[{"message":"fix\n\ndetails"}]}}
]`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	adapter := NewGitHubAdapter(NewFetcher(srv.Client(), nil, ""), "secret")
	adapter.baseURL = srv.URL
	since := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

	releases, err := adapter.Fetch(context.Background(), scanner.Request{
		Identifier: "golang/go",
		Config:     map[string]string{"kind": "releases"},
		Since:      &since,
	})
	require.NoError(t, err)
	require.Len(t, releases, 1)
	assert.Equal(t, "release:2", releases[0].ExternalID)
	assert.Equal(t, "golang/go go1.30", releases[0].Metadata[domain.MetaTitle])

	events, err := adapter.Fetch(context.Background(), scanner.Request{Identifier: "golang/go", Since: &since})
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "event:e1", events[0].ExternalID)
	assert.Equal(t, "alice pushed 1 commit(s) to master\n\n- fix", events[0].RawText)
	assert.Equal(t, "Issue opened: crash", events[1].Metadata[domain.MetaTitle])
	assert.Equal(t, "https://github.com/golang/go/issues/1", events[1].Metadata[domain.MetaURL])

	assert.Error(t, adapter.ValidateConfig("golang", nil))
	assert.Error(t, adapter.ValidateConfig("golang/go", map[string]string{"kind": "stars"}))
}

func TestHostRateLimiter_SpacesRequests(t *testing.T) {
	limiter := NewHostRateLimiter(50 * time.Millisecond)
	ctx := context.Background()

	start := time.Now()
	require.NoError(t, limiter.WaitForHost(ctx, "https://example.com/a"))
	require.NoError(t, limiter.WaitForHost(ctx, "https://example.com/b"))
	assert.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)

	require.NoError(t, limiter.WaitForHost(ctx, "https://other.example.com/"))
	assert.Error(t, limiter.WaitForHost(ctx, "no-host"))

	var disabled *HostRateLimiter
	assert.NoError(t, disabled.WaitForHost(ctx, "::bad"))
}

func TestRegistry_BuiltinsAndFailures(t *testing.T) {
	registry := NewRegistry(config.AdapterConfig{}, logging.Discard())
	assert.Equal(t, []string{"arxiv", "github", "hackernews", "reddit", "rss", "webpage"}, registry.Types())

	err := registry.Validate("rss", "not a url", nil)
	assert.ErrorIs(t, err, domain.ErrInvalidConfig)

	_, err = registry.Fetch(context.Background(), "telepathy", "x", nil, nil)
	assert.ErrorIs(t, err, domain.ErrUnknownSourceType)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()
	items, err := registry.Fetch(context.Background(), "rss", srv.URL, nil, nil)
	require.NoError(t, err)
	assert.NotNil(t, items)
	assert.Empty(t, items)
}

func TestJoinTextAndHash(t *testing.T) {
	assert.Equal(t, "a", joinText(" a ", ""))
	assert.Equal(t, "b", joinText("", "b"))
	assert.Equal(t, "a\n\nb", joinText("a", "b"))
	assert.Equal(t, hashID("x", "y"), hashID("x", "y"))
	assert.NotEqual(t, hashID("x", "y"), hashID("xy"))
}
