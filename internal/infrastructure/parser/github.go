package parser

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"FeedSentry/internal/domain"
	"FeedSentry/internal/scanner"
)

const githubBaseURL = "https://api.github.com"

var repoExpr = regexp.MustCompile(`^[A-Za-z0-9_.-]+/[A-Za-z0-9_.-]+$`)

// GitHubAdapter reads repository activity: public events or releases.
//
// Config keys: kind ("events" default, or "releases"), token.
type GitHubAdapter struct {
	fetcher *Fetcher
	baseURL string
	token   string
}

var _ scanner.Adapter = (*GitHubAdapter)(nil)

// NewGitHubAdapter wires the shared fetcher; token is used when a source has none.
func NewGitHubAdapter(fetcher *Fetcher, token string) *GitHubAdapter {
	return &GitHubAdapter{fetcher: fetcher, baseURL: githubBaseURL, token: token}
}

// Type identifies the adapter inside the registry.
func (a *GitHubAdapter) Type() string {
	return "github"
}

// ValidateConfig requires owner/repo and a known kind.
func (a *GitHubAdapter) ValidateConfig(identifier string, config map[string]string) error {
	if !repoExpr.MatchString(strings.TrimSpace(identifier)) {
		return fmt.Errorf("github identifier must be owner/repo, got %q", identifier)
	}
	switch config["kind"] {
	case "", "events", "releases":
		return nil
	default:
		return fmt.Errorf("unknown github kind %q", config["kind"])
	}
}

// Fetch returns activity newer than the watermark, oldest first.
func (a *GitHubAdapter) Fetch(ctx context.Context, req scanner.Request) ([]domain.FetchedItem, error) {
	headers := map[string]string{
		"Accept":               "application/vnd.github+json",
		"X-GitHub-Api-Version": "2022-11-28",
	}
	token := req.Config["token"]
	if token == "" {
		token = a.token
	}
	if token != "" {
		headers["Authorization"] = "Bearer " + token
	}

	repo := strings.TrimSpace(req.Identifier)
	if req.Config["kind"] == "releases" {
		return a.fetchReleases(ctx, repo, headers, req.Since)
	}
	return a.fetchEvents(ctx, repo, headers, req.Since)
}

type githubRelease struct {
	ID          int64     `json:"id"`
	TagName     string    `json:"tag_name"`
	Name        string    `json:"name"`
	Body        string    `json:"body"`
	HTMLURL     string    `json:"html_url"`
	Draft       bool      `json:"draft"`
	Prerelease  bool      `json:"prerelease"`
	PublishedAt time.Time `json:"published_at"`
	Author      struct {
		Login string `json:"login"`
	} `json:"author"`
}

func (a *GitHubAdapter) fetchReleases(ctx context.Context, repo string, headers map[string]string, since *time.Time) ([]domain.FetchedItem, error) {
	var releases []githubRelease
	if err := a.fetcher.GetJSON(ctx, fmt.Sprintf("%s/repos/%s/releases?per_page=30", a.baseURL, repo), headers, &releases); err != nil {
		return nil, fmt.Errorf("github releases: %w", err)
	}

	items := make([]domain.FetchedItem, 0, len(releases))
	for i := len(releases) - 1; i >= 0; i-- {
		rel := releases[i]
		if rel.Draft || !after(rel.PublishedAt, since) {
			continue
		}
		title := rel.Name
		if title == "" {
			title = rel.TagName
		}
		title = fmt.Sprintf("%s %s", repo, title)
		items = append(items, domain.FetchedItem{
			ExternalID: "release:" + strconv.FormatInt(rel.ID, 10),
			RawText:    joinText(title, rel.Body),
			PostedAt:   rel.PublishedAt.UTC(),
			Metadata: map[string]string{
				domain.MetaTitle:  title,
				domain.MetaURL:    rel.HTMLURL,
				domain.MetaSource: repo,
				domain.MetaAuthor: rel.Author.Login,
				"tag":             rel.TagName,
				"prerelease":      strconv.FormatBool(rel.Prerelease),
			},
		})
	}
	return items, nil
}

type githubEvent struct {
	ID    string `json:"id"`
	Type  string `json:"type"`
	Actor struct {
		Login string `json:"login"`
	} `json:"actor"`
	CreatedAt time.Time       `json:"created_at"`
	Payload   json.RawMessage `json:"payload"`
}

type githubEventPayload struct {
	Action  string `json:"action"`
	Ref     string `json:"ref"`
	Commits []struct {
		Message string `json:"message"`
	} `json:"commits"`
	Issue *struct {
		Title   string `json:"title"`
		Body    string `json:"body"`
		HTMLURL string `json:"html_url"`
	} `json:"issue"`
	PullRequest *struct {
		Title   string `json:"title"`
		Body    string `json:"body"`
		HTMLURL string `json:"html_url"`
	} `json:"pull_request"`
	Release *struct {
		Name    string `json:"name"`
		TagName string `json:"tag_name"`
		Body    string `json:"body"`
		HTMLURL string `json:"html_url"`
	} `json:"release"`
}

func (a *GitHubAdapter) fetchEvents(ctx context.Context, repo string, headers map[string]string, since *time.Time) ([]domain.FetchedItem, error) {
	var events []githubEvent
	if err := a.fetcher.GetJSON(ctx, fmt.Sprintf("%s/repos/%s/events?per_page=50", a.baseURL, repo), headers, &events); err != nil {
		return nil, fmt.Errorf("github events: %w", err)
	}

	items := make([]domain.FetchedItem, 0, len(events))
	for i := len(events) - 1; i >= 0; i-- {
		ev := events[i]
		if ev.ID == "" || !after(ev.CreatedAt, since) {
			continue
		}
		title, body, link := describeEvent(repo, ev)
		items = append(items, domain.FetchedItem{
			ExternalID: "event:" + ev.ID,
			RawText:    joinText(title, body),
			PostedAt:   ev.CreatedAt.UTC(),
			Metadata: map[string]string{
				domain.MetaTitle:  title,
				domain.MetaURL:    link,
				domain.MetaSource: repo,
				domain.MetaAuthor: ev.Actor.Login,
				"event_type":      ev.Type,
			},
		})
	}
	return items, nil
}

func describeEvent(repo string, ev githubEvent) (title, body, link string) {
	link = "https://github.com/" + repo
	var p githubEventPayload
	_ = json.Unmarshal(ev.Payload, &p)

	switch {
	case ev.Type == "PushEvent":
		messages := make([]string, 0, len(p.Commits))
		for _, c := range p.Commits {
			messages = append(messages, "- "+firstLine(c.Message))
		}
		title = fmt.Sprintf("%s pushed %d commit(s) to %s", ev.Actor.Login, len(p.Commits), strings.TrimPrefix(p.Ref, "refs/heads/"))
		body = strings.Join(messages, "\n")
	case ev.Type == "IssuesEvent" && p.Issue != nil:
		title = fmt.Sprintf("Issue %s: %s", p.Action, p.Issue.Title)
		body, link = p.Issue.Body, p.Issue.HTMLURL
	case ev.Type == "PullRequestEvent" && p.PullRequest != nil:
		title = fmt.Sprintf("Pull request %s: %s", p.Action, p.PullRequest.Title)
		body, link = p.PullRequest.Body, p.PullRequest.HTMLURL
	case ev.Type == "ReleaseEvent" && p.Release != nil:
		name := p.Release.Name
		if name == "" {
			name = p.Release.TagName
		}
		title = fmt.Sprintf("Release %s: %s", p.Action, name)
		body, link = p.Release.Body, p.Release.HTMLURL
	default:
		title = fmt.Sprintf("%s by %s", strings.TrimSuffix(ev.Type, "Event"), ev.Actor.Login)
	}
	return title, body, link
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
