package ai

import (
	"errors"
	"time"

	"github.com/hrygo/intentgate/internal/profile"
)

// Config represents gateway configuration.
type Config struct {
	Gate     GateConfig
	Cache    CacheConfig
	Limiter  LimiterConfig
	Ensemble EnsembleConfig
	LLM      LLMConfig

	// BackendsFile is the YAML backend declaration; empty means a single LLM backend.
	BackendsFile string
	// ParamPrefix enables SSM secret resolution for backends.
	ParamPrefix string
}

// GateConfig represents MessageGate configuration.
type GateConfig struct {
	DedupTTL       time.Duration // default: 36h
	StartupGrace   time.Duration // default: 3m
	StaleThreshold time.Duration // default: 5m
}

// CacheConfig represents ResponseCache configuration.
type CacheConfig struct {
	TTL time.Duration // default: 6h
}

// LimiterConfig represents UsageLimiter configuration.
type LimiterConfig struct {
	DailyLimit       int64
	DailyWarn        int64
	HourlyLimit      int64
	CallerDailyLimit int64
	Timezone         string // window boundaries; default: UTC
}

// EnsembleConfig represents EnsembleClassifier configuration.
type EnsembleConfig struct {
	BackendTimeout   time.Duration
	OverallTimeout   time.Duration
	MaxInFlight      int64
	FullConfidence   float32
	SplitConfidence  float32
	SingleConfidence float32
	DefaultTimezone  string
}

// LLMConfig represents the default LLM backend configuration.
type LLMConfig struct {
	Provider    string // deepseek, openai, ollama, siliconflow, dashscope, openrouter, zai
	Model       string
	APIKey      string
	BaseURL     string
	MaxTokens   int     // default: 64
	Temperature float32 // default: 0
}

// NewConfigFromProfile creates gateway config from profile.
func NewConfigFromProfile(p *profile.Profile) *Config {
	return &Config{
		Gate: GateConfig{
			DedupTTL:       p.DedupTTL,
			StartupGrace:   p.StartupGrace,
			StaleThreshold: p.StaleThreshold,
		},
		Cache: CacheConfig{
			TTL: p.CacheTTL,
		},
		Limiter: LimiterConfig{
			DailyLimit:       p.DailyLimit,
			DailyWarn:        p.DailyWarn,
			HourlyLimit:      p.HourlyLimit,
			CallerDailyLimit: p.CallerDailyLimit,
			Timezone:         p.LimiterTimezone,
		},
		Ensemble: EnsembleConfig{
			BackendTimeout:   p.BackendTimeout,
			OverallTimeout:   p.OverallTimeout,
			MaxInFlight:      p.MaxInFlight,
			FullConfidence:   p.FullConfidence,
			SplitConfidence:  p.SplitConfidence,
			SingleConfidence: p.SingleConfidence,
			DefaultTimezone:  p.DefaultTimezone,
		},
		LLM: LLMConfig{
			Provider:    p.LLMProvider,
			Model:       p.LLMModel,
			APIKey:      p.LLMAPIKey,
			BaseURL:     p.LLMBaseURL,
			MaxTokens:   64,
			Temperature: 0,
		},
		BackendsFile: p.BackendsFile,
		ParamPrefix:  p.ParamPrefix,
	}
}

// DefaultConfig returns a Config with the documented defaults and no LLM credentials.
func DefaultConfig() *Config {
	return &Config{
		Gate: GateConfig{
			DedupTTL:       36 * time.Hour,
			StartupGrace:   3 * time.Minute,
			StaleThreshold: 5 * time.Minute,
		},
		Cache: CacheConfig{TTL: 6 * time.Hour},
		Limiter: LimiterConfig{
			DailyLimit:       2000,
			DailyWarn:        1500,
			HourlyLimit:      300,
			CallerDailyLimit: 100,
			Timezone:         "UTC",
		},
		Ensemble: EnsembleConfig{
			BackendTimeout:   8 * time.Second,
			OverallTimeout:   12 * time.Second,
			MaxInFlight:      64,
			FullConfidence:   0.95,
			SplitConfidence:  0.5,
			SingleConfidence: 0.7,
			DefaultTimezone:  "UTC",
		},
		LLM: LLMConfig{MaxTokens: 64},
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Gate.DedupTTL <= 0 {
		return errors.New("dedup TTL must be positive")
	}
	if c.Cache.TTL <= 0 {
		return errors.New("cache TTL must be positive")
	}
	if c.Limiter.DailyLimit <= 0 || c.Limiter.HourlyLimit <= 0 || c.Limiter.CallerDailyLimit <= 0 {
		return errors.New("usage limits must be positive")
	}
	if c.Ensemble.BackendTimeout <= 0 || c.Ensemble.OverallTimeout <= 0 {
		return errors.New("ensemble timeouts must be positive")
	}
	if c.Ensemble.SplitConfidence > c.Ensemble.FullConfidence || c.Ensemble.SingleConfidence > c.Ensemble.FullConfidence {
		return errors.New("full agreement confidence must be the highest")
	}
	return nil
}
