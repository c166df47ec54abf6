package email

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"
	"time"

	"github.com/pkg/errors"
)

const subjectPrefix = "[intentgate] "

type sendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// Channel mails alerts to the recipient address.
type Channel struct {
	cfg  Config
	send sendFunc
}

// NewChannel validates cfg and returns an SMTP channel.
func NewChannel(cfg Config) (*Channel, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Channel{cfg: cfg, send: smtp.SendMail}, nil
}

func (c *Channel) Name() string { return "email" }

// Notify sends text as a plain-text mail. The first line becomes the subject.
func (c *Channel) Notify(ctx context.Context, recipient, text string) error {
	if !strings.Contains(recipient, "@") {
		return errors.Errorf("invalid email recipient %q", recipient)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	var auth smtp.Auth
	if c.cfg.SMTPUsername != "" {
		auth = smtp.PlainAuth("", c.cfg.SMTPUsername, c.cfg.SMTPPassword, c.cfg.SMTPHost)
	}

	msg := buildMessage(c.cfg.from(), recipient, text, time.Now())
	if err := c.send(c.cfg.GetServerAddress(), auth, c.cfg.FromEmail, []string{recipient}, msg); err != nil {
		return errors.Wrapf(err, "failed to send alert mail to %s", recipient)
	}
	return nil
}

func buildMessage(from, to, text string, date time.Time) []byte {
	subject, _, _ := strings.Cut(text, "\n")
	subject = strings.TrimSpace(subject)
	if len(subject) > 120 {
		subject = subject[:120]
	}

	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", to)
	fmt.Fprintf(&b, "Subject: %s%s\r\n", subjectPrefix, subject)
	fmt.Fprintf(&b, "Date: %s\r\n", date.Format(time.RFC1123Z))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(strings.ReplaceAll(text, "\n", "\r\n"))
	b.WriteString("\r\n")
	return []byte(b.String())
}
