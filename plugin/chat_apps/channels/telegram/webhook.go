package telegram

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/hrygo/intentgate/ai"
)

var (
	// ErrInvalidPayload is returned for bodies that are not Telegram updates.
	ErrInvalidPayload = errors.New("invalid telegram update")
	// ErrUnsupportedUpdate is returned for updates that carry no classifiable text.
	ErrUnsupportedUpdate = errors.New("unsupported telegram update")
)

// ParseUpdate converts a webhook body into a gateway message.
//
// The message ID is "telegram:<chat id>:<message id>", which Telegram keeps
// stable across webhook redeliveries. Edits, callbacks and media without a
// caption are unsupported.
func ParseUpdate(payload []byte) (*ai.IncomingMessage, error) {
	var update tgbotapi.Update
	if err := json.Unmarshal(payload, &update); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	msg := update.Message
	if msg == nil || msg.Chat == nil {
		return nil, ErrUnsupportedUpdate
	}

	text := msg.Text
	if text == "" {
		text = msg.Caption
	}
	if strings.TrimSpace(text) == "" {
		return nil, ErrUnsupportedUpdate
	}

	return &ai.IncomingMessage{
		ID:        fmt.Sprintf("telegram:%d:%d", msg.Chat.ID, msg.MessageID),
		CallerID:  callerID(msg),
		Text:      text,
		Timestamp: time.Unix(int64(msg.Date), 0).UTC(),
	}, nil
}

// callerID prefers the sender; channel posts have no sender and use the chat.
func callerID(msg *tgbotapi.Message) string {
	if msg.From != nil {
		return "telegram:" + strconv.FormatInt(msg.From.ID, 10)
	}
	return "telegram:" + strconv.FormatInt(msg.Chat.ID, 10)
}
