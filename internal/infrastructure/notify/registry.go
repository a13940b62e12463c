package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"FeedSentry/internal/domain"
	"FeedSentry/internal/infrastructure/metrics"
	"FeedSentry/internal/ports"
)

// Channel delivers a rendered message to a recipient.
type Channel interface {
	Name() string
	// Send returns true when the message was accepted for delivery.
	Send(ctx context.Context, recipient string, msg domain.Message, channelConfig map[string]string) (bool, error)
}

// Registry maps channel names to implementations populated from configured credentials.
type Registry struct {
	channels map[string]Channel
	logger   *slog.Logger
}

var _ ports.Dispatcher = (*Registry)(nil)

// NewRegistry builds an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{channels: map[string]Channel{}, logger: logger}
}

// Register adds or replaces a channel.
func (r *Registry) Register(ch Channel) {
	r.channels[ch.Name()] = ch
}

// Names lists registered channels.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.channels))
	for name := range r.channels {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Ready reports whether a channel is registered.
func (r *Registry) Ready(name string) bool {
	_, ok := r.channels[name]
	return ok
}

// Send delivers msg through the named channel. An unknown channel is a no-op
// returning false and domain.ErrChannelUnavailable.
func (r *Registry) Send(ctx context.Context, channel, recipient string, msg domain.Message, channelConfig map[string]string) (bool, error) {
	ch, ok := r.channels[channel]
	if !ok {
		metrics.RecordNotification(channel, "unavailable")
		return false, fmt.Errorf("%w: %q", domain.ErrChannelUnavailable, channel)
	}

	accepted, err := ch.Send(ctx, recipient, msg, channelConfig)
	switch {
	case err != nil:
		metrics.RecordNotification(channel, "error")
		r.logger.Warn("notification failed", "channel", channel, "error", err)
		return false, fmt.Errorf("%s send: %w", channel, err)
	case !accepted:
		metrics.RecordNotification(channel, "rejected")
	default:
		metrics.RecordNotification(channel, "sent")
	}
	return accepted, nil
}

// formatText renders a message as plain text with optional title and link.
func formatText(msg domain.Message) string {
	text := msg.Content
	if msg.Title != "" {
		text = msg.Title + "\n\n" + text
	}
	if msg.URL != "" {
		text = text + "\n\n" + msg.URL
	}
	return text
}

func truncate(s string, limit int) string {
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit-1]) + "…"
}
