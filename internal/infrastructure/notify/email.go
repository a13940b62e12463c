package notify

import (
	"context"
	"fmt"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"FeedSentry/internal/config"
	"FeedSentry/internal/domain"
)

// sendMailFunc matches smtp.SendMail.
type sendMailFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// Email delivers plain-text messages over SMTP.
type Email struct {
	addr     string
	from     string
	auth     smtp.Auth
	sendMail sendMailFunc
	now      func() time.Time
}

var _ Channel = (*Email)(nil)

// NewEmail builds an SMTP channel; credentials are optional.
func NewEmail(cfg config.EmailConfig) *Email {
	var auth smtp.Auth
	if cfg.Username != "" {
		auth = smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.Host)
	}
	return &Email{
		addr:     net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		from:     cfg.From,
		auth:     auth,
		sendMail: smtp.SendMail,
		now:      time.Now,
	}
}

// Name returns the registry tag.
func (e *Email) Name() string {
	return "email"
}

// Send mails msg to a comma-separated recipient list. channelConfig may override subject.
func (e *Email) Send(_ context.Context, recipient string, msg domain.Message, channelConfig map[string]string) (bool, error) {
	var to []string
	for _, addr := range strings.Split(recipient, ",") {
		if addr = strings.TrimSpace(addr); addr != "" {
			to = append(to, addr)
		}
	}
	if len(to) == 0 {
		return false, fmt.Errorf("email recipient is empty")
	}

	subject := channelConfig["subject"]
	if subject == "" {
		subject = msg.Title
	}
	if subject == "" {
		subject = "FeedSentry notification"
	}

	body := msg.Content
	if msg.URL != "" {
		body += "\r\n\r\n" + msg.URL
	}

	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", e.from)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(to, ", "))
	fmt.Fprintf(&b, "Subject: %s\r\n", strings.ReplaceAll(subject, "\n", " "))
	fmt.Fprintf(&b, "Date: %s\r\n", e.now().Format(time.RFC1123Z))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n\r\n")
	b.WriteString(body)

	if err := e.sendMail(e.addr, e.auth, e.from, to, []byte(b.String())); err != nil {
		return false, err
	}
	return true, nil
}
