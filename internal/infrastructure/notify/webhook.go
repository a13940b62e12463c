package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"FeedSentry/internal/domain"
)

// Webhook posts JSON payloads to an HTTP endpoint. The same transport backs the
// generic webhook, Slack and Discord channels; they differ only in payload shape.
type Webhook struct {
	name    string
	client  *http.Client
	headers map[string]string
	payload func(domain.Message) any
}

var _ Channel = (*Webhook)(nil)

// NewWebhook sends the message as-is: {"title","content","url","metadata"}.
func NewWebhook(client *http.Client, headers map[string]string) *Webhook {
	return newWebhook("webhook", client, headers, func(msg domain.Message) any { return msg })
}

// NewSlack targets Slack incoming webhooks.
func NewSlack(client *http.Client) *Webhook {
	return newWebhook("slack", client, nil, func(msg domain.Message) any {
		return map[string]string{"text": formatText(msg)}
	})
}

// NewDiscord targets Discord webhooks, which cap content at 2000 characters.
func NewDiscord(client *http.Client) *Webhook {
	return newWebhook("discord", client, nil, func(msg domain.Message) any {
		return map[string]string{"content": truncate(formatText(msg), 2000)}
	})
}

func newWebhook(name string, client *http.Client, headers map[string]string, payload func(domain.Message) any) *Webhook {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &Webhook{name: name, client: client, headers: headers, payload: payload}
}

// Name returns the registry tag.
func (w *Webhook) Name() string {
	return w.name
}

// Send posts to recipient, which is the webhook URL. channelConfig entries prefixed
// with "header." are sent as extra headers.
func (w *Webhook) Send(ctx context.Context, recipient string, msg domain.Message, channelConfig map[string]string) (bool, error) {
	if !strings.HasPrefix(recipient, "http://") && !strings.HasPrefix(recipient, "https://") {
		return false, fmt.Errorf("%s recipient must be a URL, got %q", w.name, recipient)
	}

	body, err := json.Marshal(w.payload(msg))
	if err != nil {
		return false, fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, recipient, bytes.NewReader(body))
	if err != nil {
		return false, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range w.headers {
		req.Header.Set(k, v)
	}
	for k, v := range channelConfig {
		if name, ok := strings.CutPrefix(k, "header."); ok {
			req.Header.Set(name, v)
		}
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return false, fmt.Errorf("%s error %s: %s", w.name, resp.Status, strings.TrimSpace(string(payload)))
	}
	return true, nil
}
