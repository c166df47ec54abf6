package telegram

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseUpdate(t *testing.T) {
	payload := `{
		"update_id": 9001,
		"message": {
			"message_id": 42,
			"date": 1772359200,
			"chat": {"id": -1001, "type": "group"},
			"from": {"id": 7, "is_bot": false, "first_name": "Ana"},
			"text": "明天有什么安排"
		}
	}`

	msg, err := ParseUpdate([]byte(payload))
	require.NoError(t, err)
	assert.Equal(t, "telegram:-1001:42", msg.ID)
	assert.Equal(t, "telegram:7", msg.CallerID)
	assert.Equal(t, "明天有什么安排", msg.Text)
	assert.Equal(t, time.Unix(1772359200, 0).UTC(), msg.Timestamp)
}

func TestParseUpdate_RedeliveryKeepsID(t *testing.T) {
	first := `{"update_id": 1, "message": {"message_id": 5, "date": 1, "chat": {"id": 3, "type": "private"}, "text": "hi"}}`
	again := `{"update_id": 2, "message": {"message_id": 5, "date": 1, "chat": {"id": 3, "type": "private"}, "text": "hi"}}`

	a, err := ParseUpdate([]byte(first))
	require.NoError(t, err)
	b, err := ParseUpdate([]byte(again))
	require.NoError(t, err)
	assert.Equal(t, a.ID, b.ID)
	assert.Equal(t, "telegram:3", a.CallerID)
}

func TestParseUpdate_Caption(t *testing.T) {
	payload := `{"update_id": 1, "message": {"message_id": 6, "date": 1, "chat": {"id": 3, "type": "private"},
		"photo": [{"file_id": "f", "file_unique_id": "u", "width": 1, "height": 1}], "caption": "记一下 收据"}}`

	msg, err := ParseUpdate([]byte(payload))
	require.NoError(t, err)
	assert.Equal(t, "记一下 收据", msg.Text)
}

func TestParseUpdate_Rejects(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    error
	}{
		{"not json", `{`, ErrInvalidPayload},
		{"edited", `{"update_id": 1, "edited_message": {"message_id": 1, "date": 1, "chat": {"id": 3, "type": "private"}, "text": "x"}}`, ErrUnsupportedUpdate},
		{"no text", `{"update_id": 1, "message": {"message_id": 1, "date": 1, "chat": {"id": 3, "type": "private"}}}`, ErrUnsupportedUpdate},
		{"blank text", `{"update_id": 1, "message": {"message_id": 1, "date": 1, "chat": {"id": 3, "type": "private"}, "text": "   "}}`, ErrUnsupportedUpdate},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseUpdate([]byte(tt.payload))
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

type botServer struct {
	mu   sync.Mutex
	sent []map[string]string
}

func (s *botServer) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case strings.HasSuffix(r.URL.Path, "/getMe"):
			_, _ = w.Write([]byte(`{"ok": true, "result": {"id": 1, "is_bot": true, "first_name": "gate", "username": "gate_bot"}}`))
		case strings.HasSuffix(r.URL.Path, "/sendMessage"):
			assert.NoError(t, r.ParseForm())
			s.mu.Lock()
			s.sent = append(s.sent, map[string]string{"chat_id": r.PostForm.Get("chat_id"), "text": r.PostForm.Get("text")})
			s.mu.Unlock()
			_ = json.NewEncoder(w).Encode(map[string]any{
				"ok":     true,
				"result": map[string]any{"message_id": 1, "date": 1, "chat": map[string]any{"id": 123, "type": "private"}},
			})
		default:
			http.NotFound(w, r)
		}
	}
}

func TestChannel_Notify(t *testing.T) {
	bs := &botServer{}
	srv := httptest.NewServer(bs.handler(t))
	t.Cleanup(srv.Close)

	ch, err := NewChannel(&Config{BotToken: "token", APIEndpoint: srv.URL + "/bot%s/%s"})
	require.NoError(t, err)
	assert.Equal(t, "telegram", ch.Name())

	require.NoError(t, ch.Notify(context.Background(), "123", "🚨 hourly spike"))

	bs.mu.Lock()
	defer bs.mu.Unlock()
	require.Len(t, bs.sent, 1)
	assert.Equal(t, "123", bs.sent[0]["chat_id"])
	assert.Equal(t, "🚨 hourly spike", bs.sent[0]["text"])
}

func TestChannel_NotifyInvalidRecipient(t *testing.T) {
	bs := &botServer{}
	srv := httptest.NewServer(bs.handler(t))
	t.Cleanup(srv.Close)

	ch, err := NewChannel(&Config{BotToken: "token", APIEndpoint: srv.URL + "/bot%s/%s"})
	require.NoError(t, err)
	assert.Error(t, ch.Notify(context.Background(), "@admin", "x"))
}
