package backend

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/intentgate/ai"
	"github.com/hrygo/intentgate/ai/metrics"
)

type tokenRecorder struct {
	metrics.Nop
	mu     sync.Mutex
	tokens map[string]int
}

func (r *tokenRecorder) RecordLLMTokens(_, tokenType string, count int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.tokens == nil {
		r.tokens = make(map[string]int)
	}
	r.tokens[tokenType] += count
}

func completion(content string) map[string]any {
	return map[string]any{
		"id":      "chatcmpl-1",
		"object":  "chat.completion",
		"created": 1,
		"model":   "test-model",
		"choices": []map[string]any{{
			"index":         0,
			"message":       map[string]any{"role": "assistant", "content": content},
			"finish_reason": "stop",
		}},
		"usage": map[string]any{"prompt_tokens": 42, "completion_tokens": 7, "total_tokens": 49},
	}
}

func newTestLLM(t *testing.T, handler http.HandlerFunc, opts ...LLMOption) *LLM {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	l, err := NewLLM("test", ai.LLMConfig{
		Provider: "openai",
		Model:    "test-model",
		APIKey:   "test-key",
		BaseURL:  srv.URL + "/v1",
	}, opts...)
	require.NoError(t, err)
	return l
}

func testRequest() *ai.ClassifyRequest {
	shanghai, _ := time.LoadLocation("Asia/Shanghai")
	return &ai.ClassifyRequest{Text: "明天下午3点开会", Local: time.Date(2026, 3, 1, 20, 0, 0, 0, shanghai)}
}

func TestLLM_Classify(t *testing.T) {
	recorder := &tokenRecorder{}
	var got openai.ChatCompletionRequest

	l := newTestLLM(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(completion(`{"intent": "schedule_create", "confidence": 0.92}`))
	}, WithLLMMetrics(recorder))

	pred, err := l.Classify(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Equal(t, ai.IntentScheduleCreate, pred.Intent)
	assert.InDelta(t, 0.92, pred.Confidence, 1e-6)

	assert.Equal(t, "test-model", got.Model)
	assert.Equal(t, 64, got.MaxTokens)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, openai.ChatMessageRoleSystem, got.Messages[0].Role)
	assert.Contains(t, got.Messages[0].Content, "batch_schedule")
	assert.Contains(t, got.Messages[0].Content, "2026-03-01 20:00")
	assert.Equal(t, "明天下午3点开会", got.Messages[1].Content)

	assert.Equal(t, 42, recorder.tokens["prompt"])
	assert.Equal(t, 7, recorder.tokens["completion"])
}

func TestLLM_ClassifyProviderError(t *testing.T) {
	l := newTestLLM(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"error": {"message": "overloaded", "type": "server_error"}}`))
	})

	_, err := l.Classify(context.Background(), testRequest())
	require.Error(t, err)

	var apiErr *openai.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusServiceUnavailable, apiErr.HTTPStatusCode)
}

func TestLLM_ClassifyEmptyReply(t *testing.T) {
	l := newTestLLM(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(completion("   "))
	})

	_, err := l.Classify(context.Background(), testRequest())
	assert.ErrorIs(t, err, ErrEmptyReply)
}

func TestLLM_RateLimit(t *testing.T) {
	var calls atomic.Int32
	l := newTestLLM(t, func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(completion(`{"intent": "memo_search", "confidence": 0.8}`))
	}, WithRateLimit(0.5, 1))

	_, err := l.Classify(context.Background(), testRequest())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err = l.Classify(ctx, testRequest())
	require.Error(t, err)
	assert.ErrorIs(t, err, ai.ErrThrottled)
	assert.NotContains(t, err.Error(), "rate limit")
	assert.Equal(t, int32(1), calls.Load())
}

func TestNewLLM_RequiresModel(t *testing.T) {
	_, err := NewLLM("x", ai.LLMConfig{Provider: "deepseek"})
	assert.Error(t, err)
}

func TestProviderBaseURL(t *testing.T) {
	assert.Equal(t, "https://api.deepseek.com", providerBaseURL("deepseek", ""))
	assert.Equal(t, "https://openrouter.ai/api/v1", providerBaseURL("openrouter", ""))
	assert.Equal(t, "http://proxy:8080/v1", providerBaseURL("deepseek", "http://proxy:8080/v1"))
	assert.Equal(t, "", providerBaseURL("openai", ""))
	assert.Equal(t, "", providerBaseURL("something-else", ""))
}

func TestParseReply(t *testing.T) {
	tests := []struct {
		name       string
		content    string
		intent     ai.Intent
		confidence float32
		wantErr    bool
	}{
		{"plain", `{"intent":"memo_create","confidence":0.7}`, ai.IntentMemoCreate, 0.7, false},
		{"code fence", "```json\n{\"intent\": \"schedule_query\", \"confidence\": 0.9}\n```", ai.IntentScheduleQuery, 0.9, false},
		{"prose around", `Sure! {"intent": "MEMO_SEARCH", "confidence": 0.6} hope that helps`, ai.IntentMemoSearch, 0.6, false},
		{"unknown label", `{"intent": "weather", "confidence": 0.9}`, ai.IntentUnknown, 0.9, false},
		{"missing confidence", `{"intent": "batch_schedule"}`, ai.IntentBatchSchedule, 0.5, false},
		{"no json", `schedule_create`, "", 0, true},
		{"broken json", `{"intent": }`, "", 0, true},
		{"missing intent", `{"confidence": 0.4}`, "", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pred, err := ParseReply(tt.content)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrMalformedReply)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.intent, pred.Intent)
			assert.InDelta(t, tt.confidence, pred.Confidence, 1e-6)
		})
	}
}
