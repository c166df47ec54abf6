// Package backend provides the classification backends the ensemble votes across.
package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"

	"github.com/hrygo/intentgate/ai"
	"github.com/hrygo/intentgate/ai/metrics"
)

var (
	// ErrEmptyReply is returned when the provider answers without choices or content.
	ErrEmptyReply = errors.New("empty reply from LLM")
	// ErrMalformedReply is returned when the reply carries no intent JSON object.
	ErrMalformedReply = errors.New("malformed intent reply")
)

const systemPrompt = `You classify one chat message for a personal memo and calendar assistant.
Allowed intents: %s.
Reply with a single JSON object and nothing else: {"intent": "<one allowed intent>", "confidence": <0..1>}.
Use "unknown" when no other intent fits. The user's local time is %s.`

// LLM classifies through an OpenAI-compatible chat completion endpoint.
type LLM struct {
	name        string
	client      *openai.Client
	model       string
	maxTokens   int
	temperature float32
	limiter     *rate.Limiter
	httpClient  *http.Client
	metrics     metrics.Recorder
	logger      *slog.Logger
}

// LLMOption configures an LLM backend.
type LLMOption func(*LLM)

// WithRateLimit bounds calls to rps requests per second with the given burst.
// Waiting for a token counts against the call's deadline.
func WithRateLimit(rps float64, burst int) LLMOption {
	return func(l *LLM) {
		if rps > 0 {
			if burst < 1 {
				burst = 1
			}
			l.limiter = rate.NewLimiter(rate.Limit(rps), burst)
		}
	}
}

func WithLLMMetrics(recorder metrics.Recorder) LLMOption {
	return func(l *LLM) { l.metrics = recorder }
}

func WithLLMLogger(logger *slog.Logger) LLMOption {
	return func(l *LLM) { l.logger = logger }
}

// WithHTTPClient replaces the transport client.
func WithHTTPClient(client *http.Client) LLMOption {
	return func(l *LLM) { l.httpClient = client }
}

// NewLLM creates an LLM backend named name.
func NewLLM(name string, cfg ai.LLMConfig, opts ...LLMOption) (*LLM, error) {
	if cfg.Model == "" {
		return nil, fmt.Errorf("backend %s: model is required", name)
	}

	l := &LLM{
		name:        name,
		model:       cfg.Model,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
		metrics:     metrics.Nop{},
		logger:      slog.Default(),
	}
	if l.maxTokens <= 0 {
		l.maxTokens = 64
	}
	for _, opt := range opts {
		opt(l)
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if baseURL := providerBaseURL(cfg.Provider, cfg.BaseURL); baseURL != "" {
		clientConfig.BaseURL = baseURL
	}
	clientConfig.HTTPClient = l.httpClient
	if clientConfig.HTTPClient == nil {
		clientConfig.HTTPClient = newHTTPClient()
	}
	l.client = openai.NewClientWithConfig(clientConfig)
	return l, nil
}

// providerBaseURL returns the endpoint for a known provider unless baseURL overrides it.
func providerBaseURL(provider, baseURL string) string {
	if baseURL != "" {
		return baseURL
	}
	switch provider {
	case "deepseek":
		return "https://api.deepseek.com"
	case "siliconflow":
		return "https://api.siliconflow.cn/v1"
	case "zai":
		return "https://open.bigmodel.cn/api/paas/v4"
	case "dashscope":
		return "https://dashscope.aliyuncs.com/compatible-mode/v1"
	case "openrouter":
		return "https://openrouter.ai/api/v1"
	case "ollama":
		return "http://localhost:11434/v1"
	case "openai", "":
		return ""
	default:
		slog.Info("Using generic OpenAI-compatible provider", "provider", provider)
		return ""
	}
}

func (l *LLM) Name() string { return l.name }

// Classify asks the model for one intent and parses its JSON reply.
func (l *LLM) Classify(ctx context.Context, req *ai.ClassifyRequest) (*ai.Prediction, error) {
	if l.limiter != nil {
		if err := l.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("%w: %w", ai.ErrThrottled, err)
		}
	}

	resp, err := l.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       l.model,
		MaxTokens:   l.maxTokens,
		Temperature: l.temperature,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: l.prompt(req.Local)},
			{Role: openai.ChatMessageRoleUser, Content: req.Text},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("LLM chat failed: %w", err)
	}

	l.metrics.RecordLLMTokens(l.model, "prompt", resp.Usage.PromptTokens)
	l.metrics.RecordLLMTokens(l.model, "completion", resp.Usage.CompletionTokens)

	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return nil, ErrEmptyReply
	}
	content := resp.Choices[0].Message.Content

	pred, err := ParseReply(content)
	if err != nil {
		l.logger.Debug("LLM: unparseable reply", "backend", l.name, "content", content)
		return nil, err
	}
	return pred, nil
}

func (l *LLM) prompt(local time.Time) string {
	names := make([]string, len(ai.AllowedIntents))
	for i, intent := range ai.AllowedIntents {
		names[i] = string(intent)
	}
	return fmt.Sprintf(systemPrompt, strings.Join(names, ", "), local.Format("2006-01-02 15:04 Mon MST"))
}

type intentReply struct {
	Intent     string   `json:"intent"`
	Confidence *float32 `json:"confidence"`
}

// ParseReply extracts the JSON object spanning content's outermost braces. Models often wrap the
// object in prose or a code fence. A missing confidence reads as 0.5.
func ParseReply(content string) (*ai.Prediction, error) {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end <= start {
		return nil, ErrMalformedReply
	}

	var reply intentReply
	if err := json.Unmarshal([]byte(content[start:end+1]), &reply); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedReply, err)
	}
	if reply.Intent == "" {
		return nil, ErrMalformedReply
	}

	confidence := float32(0.5)
	if reply.Confidence != nil {
		confidence = *reply.Confidence
	}
	return &ai.Prediction{Intent: ai.ParseIntent(reply.Intent), Confidence: confidence}, nil
}

func newHTTPClient() *http.Client {
	return &http.Client{
		Timeout: 60 * time.Second,
		Transport: &http.Transport{
			DialContext: (&net.Dialer{
				Timeout:   10 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			MaxIdleConns:          100,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
		},
	}
}
