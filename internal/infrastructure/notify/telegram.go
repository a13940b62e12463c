package notify

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"FeedSentry/internal/domain"
)

const telegramMessageLimit = 4096

// Telegram sends messages through the Bot API. The recipient is a numeric chat id
// or a public @channel name.
type Telegram struct {
	bot *tgbotapi.BotAPI
}

var _ Channel = (*Telegram)(nil)

// NewTelegram authenticates the bot. apiEndpoint may be empty for the public API.
func NewTelegram(botToken, apiEndpoint string) (*Telegram, error) {
	if botToken == "" {
		return nil, fmt.Errorf("telegram bot token is required")
	}
	if apiEndpoint == "" {
		apiEndpoint = tgbotapi.APIEndpoint
	}
	bot, err := tgbotapi.NewBotAPIWithAPIEndpoint(botToken, apiEndpoint)
	if err != nil {
		return nil, fmt.Errorf("telegram auth: %w", err)
	}
	return &Telegram{bot: bot}, nil
}

// Name returns the registry tag.
func (t *Telegram) Name() string {
	return "telegram"
}

// Send posts the message; channelConfig may set parse_mode and disable_preview.
func (t *Telegram) Send(_ context.Context, recipient string, msg domain.Message, channelConfig map[string]string) (bool, error) {
	recipient = strings.TrimSpace(recipient)
	if recipient == "" {
		return false, fmt.Errorf("telegram recipient is empty")
	}

	text := truncate(formatText(msg), telegramMessageLimit)
	var out tgbotapi.MessageConfig
	if strings.HasPrefix(recipient, "@") {
		out = tgbotapi.NewMessageToChannel(recipient, text)
	} else {
		chatID, err := strconv.ParseInt(recipient, 10, 64)
		if err != nil {
			return false, fmt.Errorf("invalid chat id %q: %w", recipient, err)
		}
		out = tgbotapi.NewMessage(chatID, text)
	}
	if mode := channelConfig["parse_mode"]; mode != "" {
		out.ParseMode = mode
	}
	out.DisableWebPagePreview = channelConfig["disable_preview"] == "true"

	if _, err := t.bot.Send(out); err != nil {
		return false, err
	}
	return true, nil
}
