package email

import (
	"context"
	"errors"
	"net/smtp"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"valid", Config{SMTPHost: "smtp.example.com", SMTPPort: 587, FromEmail: "gw@example.com"}, false},
		{"missing host", Config{SMTPPort: 587, FromEmail: "gw@example.com"}, true},
		{"bad port", Config{SMTPHost: "smtp.example.com", SMTPPort: 70000, FromEmail: "gw@example.com"}, true},
		{"missing from", Config{SMTPHost: "smtp.example.com", SMTPPort: 25}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestChannel_Notify(t *testing.T) {
	ch, err := NewChannel(Config{
		SMTPHost:     "smtp.example.com",
		SMTPPort:     587,
		SMTPUsername: "gw",
		SMTPPassword: "pw",
		FromEmail:    "gw@example.com",
		FromName:     "Gateway",
	})
	require.NoError(t, err)

	var (
		gotAddr string
		gotTo   []string
		gotMsg  string
		gotAuth smtp.Auth
	)
	ch.send = func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr, gotAuth, gotTo, gotMsg = addr, a, to, string(msg)
		assert.Equal(t, "gw@example.com", from)
		return nil
	}

	require.NoError(t, ch.Notify(context.Background(), "ops@example.com", "Daily limit reached\nwindow 2026-03-01"))
	assert.Equal(t, "smtp.example.com:587", gotAddr)
	assert.NotNil(t, gotAuth)
	assert.Equal(t, []string{"ops@example.com"}, gotTo)
	assert.Contains(t, gotMsg, "From: Gateway <gw@example.com>\r\n")
	assert.Contains(t, gotMsg, "Subject: [intentgate] Daily limit reached\r\n")
	assert.True(t, strings.HasSuffix(gotMsg, "Daily limit reached\r\nwindow 2026-03-01\r\n"))
}

func TestChannel_NotifyErrors(t *testing.T) {
	ch, err := NewChannel(Config{SMTPHost: "localhost", SMTPPort: 25, FromEmail: "gw@example.com"})
	require.NoError(t, err)
	ch.send = func(string, smtp.Auth, string, []string, []byte) error { return errors.New("connection refused") }

	assert.Error(t, ch.Notify(context.Background(), "not-an-address", "x"))
	assert.Error(t, ch.Notify(context.Background(), "ops@example.com", "x"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, ch.Notify(ctx, "ops@example.com", "x"), context.Canceled)
}

func TestBuildMessage_Headers(t *testing.T) {
	msg := string(buildMessage("gw@example.com", "ops@example.com", "one line", time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)))
	assert.Contains(t, msg, "Date: Sun, 01 Mar 2026 00:00:00 +0000\r\n")
	assert.Contains(t, msg, "Content-Type: text/plain; charset=UTF-8\r\n")
}
