package main

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/intentgate/ai"
	"github.com/hrygo/intentgate/ai/limiter"
	"github.com/hrygo/intentgate/internal/profile"
)

func TestTelegramWebhookURL(t *testing.T) {
	p := &profile.Profile{TelegramWebhookURL: "https://gw.example.com/webhook/telegram"}
	assert.Equal(t, "https://gw.example.com/webhook/telegram", telegramWebhookURL(p))

	p.TelegramWebhookSecret = "abc"
	assert.Equal(t, "https://gw.example.com/webhook/telegram?secret=abc", telegramWebhookURL(p))

	p.TelegramWebhookURL += "?tz=Asia/Shanghai"
	assert.Equal(t, "https://gw.example.com/webhook/telegram?tz=Asia/Shanghai&secret=abc", telegramWebhookURL(p))
}

func TestNewGateway_RulesOnly(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "backends.yaml")
	require.NoError(t, os.WriteFile(path, []byte("backends:\n  - name: rules\n    type: rules\n"), 0o600))

	p := &profile.Profile{Mode: "dev", Driver: "memory", BackendsFile: path}
	p.FromEnv()
	require.NoError(t, p.Validate())

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	g, err := newGateway(context.Background(), p, logger)
	require.NoError(t, err)
	defer g.store.Close()

	assert.Equal(t, []string{"rules"}, g.ensemble.Backends())
	assert.Nil(t, g.telegram)

	msg := &ai.IncomingMessage{ID: "m-1", CallerID: "u-1", Text: "find my notes about go", Timestamp: time.Now()}
	res, err := g.ensemble.Classify(context.Background(), msg, "")
	require.NoError(t, err)
	assert.Equal(t, ai.IntentMemoSearch, res.Intent)

	var out bytes.Buffer
	printResult(&out, msg, res, nil)
	assert.Contains(t, out.String(), "memo_search")
	assert.Contains(t, out.String(), "rules")

	out.Reset()
	printUsage(&out, &limiter.Usage{Daily: 1, DailyLimit: 2000})
	assert.True(t, strings.HasPrefix(out.String(), "usage: day 1/2000"))
}

func TestNewGateway_InvalidBackends(t *testing.T) {
	p := &profile.Profile{Mode: "dev", Driver: "memory", BackendsFile: filepath.Join(t.TempDir(), "missing.yaml")}
	p.FromEnv()
	require.NoError(t, p.Validate())

	_, err := newGateway(context.Background(), p, slog.New(slog.NewTextHandler(io.Discard, nil)))
	assert.Error(t, err)
}
