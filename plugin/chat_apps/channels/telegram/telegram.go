// Package telegram delivers admin alerts through a Telegram bot and turns
// webhook updates into gateway messages.
package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Config holds configuration for the Telegram channel.
type Config struct {
	BotToken string
	// APIEndpoint overrides tgbotapi.APIEndpoint, e.g. for a local Bot API server.
	APIEndpoint string
}

// Channel sends plain-text messages to chat IDs.
type Channel struct {
	bot *tgbotapi.BotAPI
}

// NewChannel creates a Telegram channel. It calls getMe to validate the token.
func NewChannel(cfg *Config) (*Channel, error) {
	endpoint := cfg.APIEndpoint
	if endpoint == "" {
		endpoint = tgbotapi.APIEndpoint
	}
	client := &http.Client{Timeout: 30 * time.Second}

	bot, err := tgbotapi.NewBotAPIWithClient(cfg.BotToken, endpoint, client)
	if err != nil {
		return nil, fmt.Errorf("failed to create Telegram bot: %w", err)
	}
	return &Channel{bot: bot}, nil
}

func (c *Channel) Name() string { return "telegram" }

// Notify sends text to the chat whose numeric ID is recipient.
func (c *Channel) Notify(ctx context.Context, recipient, text string) error {
	chatID, err := strconv.ParseInt(recipient, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid chat ID %q: %w", recipient, err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	slog.Debug("telegram: sending message", "chat_id", chatID)
	if _, err := c.bot.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
		return fmt.Errorf("telegram send to %d: %w", chatID, err)
	}
	return nil
}

// SetWebhook registers webhookURL with Telegram. Pending updates are kept
// unless dropPendingUpdates is set; the gateway drops stale ones itself.
func (c *Channel) SetWebhook(webhookURL string, dropPendingUpdates bool) error {
	parsedURL, err := url.Parse(webhookURL)
	if err != nil {
		return err
	}
	_, err = c.bot.Request(tgbotapi.WebhookConfig{
		URL:                parsedURL,
		DropPendingUpdates: dropPendingUpdates,
	})
	return err
}
