package profile

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// Profile is configuration to start the gateway.
type Profile struct {
	// Default LLM backend (OpenAI-compatible protocol).
	// Used when no backends file is configured.
	LLMProvider string // zai, deepseek, openai, siliconflow, dashscope, openrouter, ollama
	LLMAPIKey   string
	LLMBaseURL  string
	LLMModel    string

	// Backends is the path to the YAML file declaring the ensemble backends.
	// Declaration order is the tie-break priority order.
	BackendsFile string

	// ParamPrefix enables secret resolution from AWS SSM Parameter Store
	// for backend api_key_param entries.
	ParamPrefix string

	// Store
	Mode        string
	Driver      string // memory, sqlite, postgres, dynamodb
	DSN         string
	Data        string
	DynamoTable string
	AWSRegion   string
	KeyPrefix   string // namespace prefix for every store key

	// MessageGate
	DedupTTL       time.Duration
	StartupGrace   time.Duration
	StaleThreshold time.Duration

	// ResponseCache
	CacheTTL time.Duration

	// UsageLimiter
	DailyLimit       int64
	DailyWarn        int64
	HourlyLimit      int64
	CallerDailyLimit int64
	LimiterTimezone  string

	// EnsembleClassifier
	BackendTimeout   time.Duration
	OverallTimeout   time.Duration
	MaxInFlight      int64
	FullConfidence   float32
	SplitConfidence  float32
	SingleConfidence float32
	DefaultTimezone  string

	// AdminNotifier
	TelegramBotToken string
	AdminChatIDs     []string
	AlertWebhookURL  string

	// Alert mail; disabled unless SMTPHost and AlertEmails are set.
	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
	SMTPFrom     string
	AlertEmails  []string

	// Telegram webhook intake. The URL is registered with Telegram at startup
	// when set; the secret must then appear as the "secret" query parameter.
	TelegramWebhookURL    string
	TelegramWebhookSecret string

	// APIJWTSecret enables HS256 bearer-token checks on /api/v1 when set.
	APIJWTSecret string

	// Server
	Addr          string
	Port          int
	Version       string
	LogLevel      string
	SweepInterval time.Duration
}

// Provider default configurations for the default LLM backend.
// Used when INTENTGATE_LLM_BASE_URL or INTENTGATE_LLM_MODEL is not set.
var llmProviderDefaults = map[string]struct {
	BaseURL string
	Model   string
}{
	"zai": {
		BaseURL: "https://open.bigmodel.cn/api/paas/v4",
		Model:   "glm-4-flash",
	},
	"deepseek": {
		BaseURL: "https://api.deepseek.com",
		Model:   "deepseek-chat",
	},
	"openai": {
		BaseURL: "https://api.openai.com/v1",
		Model:   "gpt-4o-mini",
	},
	"siliconflow": {
		BaseURL: "https://api.siliconflow.cn/v1",
		Model:   "Qwen/Qwen2.5-7B-Instruct",
	},
	"dashscope": {
		BaseURL: "https://dashscope.aliyuncs.com/compatible-mode/v1",
		Model:   "qwen-turbo",
	},
	"openrouter": {
		BaseURL: "https://openrouter.ai/api/v1",
		Model:   "deepseek/deepseek-chat",
	},
	"ollama": {
		BaseURL: "http://localhost:11434/v1",
		Model:   "llama3.1",
	},
}

func (p *Profile) IsDev() bool {
	return p.Mode != "prod"
}

// HasDefaultLLM returns true if the default LLM backend has a usable key.
func (p *Profile) HasDefaultLLM() bool {
	return p.LLMAPIKey != "" || p.LLMProvider == "ollama"
}

// getEnvOrDefault returns environment variable value or default value.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvOrDefaultInt returns environment variable value as int64 or default value.
func getEnvOrDefaultInt(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
		slog.Warn("invalid integer in environment, using default", "key", key, "value", value)
	}
	return defaultValue
}

func getEnvOrDefaultDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
		slog.Warn("invalid duration in environment, using default", "key", key, "value", value)
	}
	return defaultValue
}

func getEnvOrDefaultFloat(key string, defaultValue float32) float32 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 32); err == nil {
			return float32(f)
		}
		slog.Warn("invalid float in environment, using default", "key", key, "value", value)
	}
	return defaultValue
}

// splitList splits a comma separated list, dropping blanks.
func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// FromEnv loads configuration from environment variables.
// Values already set by flags are kept when the variable is absent.
func (p *Profile) FromEnv() {
	// Default LLM backend
	p.LLMProvider = getEnvOrDefault("INTENTGATE_LLM_PROVIDER", "deepseek")
	p.LLMAPIKey = getEnvOrDefault("INTENTGATE_LLM_API_KEY", "")
	p.LLMBaseURL = getEnvOrDefault("INTENTGATE_LLM_BASE_URL", "")
	p.LLMModel = getEnvOrDefault("INTENTGATE_LLM_MODEL", "")

	if _, ok := llmProviderDefaults[p.LLMProvider]; !ok {
		slog.Warn("Unknown LLM provider, using default: deepseek", "provider", p.LLMProvider)
		p.LLMProvider = "deepseek"
	}
	if defaults, ok := llmProviderDefaults[p.LLMProvider]; ok {
		if p.LLMBaseURL == "" {
			p.LLMBaseURL = defaults.BaseURL
		}
		if p.LLMModel == "" {
			p.LLMModel = defaults.Model
		}
	}

	p.BackendsFile = getEnvOrDefault("INTENTGATE_BACKENDS_FILE", p.BackendsFile)
	p.ParamPrefix = getEnvOrDefault("INTENTGATE_PARAM_PREFIX", p.ParamPrefix)
	p.DynamoTable = getEnvOrDefault("INTENTGATE_DYNAMODB_TABLE", p.DynamoTable)
	p.AWSRegion = getEnvOrDefault("INTENTGATE_AWS_REGION", p.AWSRegion)
	p.KeyPrefix = getEnvOrDefault("INTENTGATE_KEY_PREFIX", p.KeyPrefix)
	if p.KeyPrefix == "" {
		p.KeyPrefix = "ig"
	}

	// Gate
	p.DedupTTL = getEnvOrDefaultDuration("INTENTGATE_DEDUP_TTL", 36*time.Hour)
	p.StartupGrace = getEnvOrDefaultDuration("INTENTGATE_STARTUP_GRACE", 3*time.Minute)
	p.StaleThreshold = getEnvOrDefaultDuration("INTENTGATE_STALE_THRESHOLD", 5*time.Minute)

	// Cache
	p.CacheTTL = getEnvOrDefaultDuration("INTENTGATE_CACHE_TTL", 6*time.Hour)

	// Limiter
	p.DailyLimit = getEnvOrDefaultInt("INTENTGATE_DAILY_LIMIT", 2000)
	p.DailyWarn = getEnvOrDefaultInt("INTENTGATE_DAILY_WARN", 1500)
	p.HourlyLimit = getEnvOrDefaultInt("INTENTGATE_HOURLY_LIMIT", 300)
	p.CallerDailyLimit = getEnvOrDefaultInt("INTENTGATE_CALLER_DAILY_LIMIT", 100)
	p.LimiterTimezone = getEnvOrDefault("INTENTGATE_LIMITER_TIMEZONE", "UTC")

	// Ensemble
	p.BackendTimeout = getEnvOrDefaultDuration("INTENTGATE_BACKEND_TIMEOUT", 8*time.Second)
	p.OverallTimeout = getEnvOrDefaultDuration("INTENTGATE_OVERALL_TIMEOUT", 12*time.Second)
	p.MaxInFlight = getEnvOrDefaultInt("INTENTGATE_MAX_IN_FLIGHT", 64)
	p.FullConfidence = getEnvOrDefaultFloat("INTENTGATE_FULL_CONFIDENCE", 0.95)
	p.SplitConfidence = getEnvOrDefaultFloat("INTENTGATE_SPLIT_CONFIDENCE", 0.5)
	p.SingleConfidence = getEnvOrDefaultFloat("INTENTGATE_SINGLE_CONFIDENCE", 0.7)
	p.DefaultTimezone = getEnvOrDefault("INTENTGATE_DEFAULT_TIMEZONE", "UTC")

	// Notifier
	p.TelegramBotToken = getEnvOrDefault("INTENTGATE_TELEGRAM_BOT_TOKEN", "")
	p.AdminChatIDs = splitList(getEnvOrDefault("INTENTGATE_ADMIN_CHAT_IDS", ""))
	p.AlertWebhookURL = getEnvOrDefault("INTENTGATE_ALERT_WEBHOOK_URL", "")
	p.SMTPHost = getEnvOrDefault("INTENTGATE_SMTP_HOST", "")
	p.SMTPPort = int(getEnvOrDefaultInt("INTENTGATE_SMTP_PORT", 587))
	p.SMTPUsername = getEnvOrDefault("INTENTGATE_SMTP_USERNAME", "")
	p.SMTPPassword = getEnvOrDefault("INTENTGATE_SMTP_PASSWORD", "")
	p.SMTPFrom = getEnvOrDefault("INTENTGATE_SMTP_FROM", "")
	p.AlertEmails = splitList(getEnvOrDefault("INTENTGATE_ALERT_EMAILS", ""))
	p.TelegramWebhookURL = getEnvOrDefault("INTENTGATE_TELEGRAM_WEBHOOK_URL", "")
	p.TelegramWebhookSecret = getEnvOrDefault("INTENTGATE_TELEGRAM_WEBHOOK_SECRET", "")

	p.APIJWTSecret = getEnvOrDefault("INTENTGATE_API_JWT_SECRET", "")

	// Server
	p.LogLevel = getEnvOrDefault("INTENTGATE_LOG_LEVEL", p.LogLevel)
	p.SweepInterval = getEnvOrDefaultDuration("INTENTGATE_SWEEP_INTERVAL", 10*time.Minute)
}

func checkDataDir(dataDir string) (string, error) {
	// Convert to absolute path if relative path is supplied.
	if !filepath.IsAbs(dataDir) {
		absDir, err := filepath.Abs(dataDir)
		if err != nil {
			return "", err
		}
		dataDir = absDir
	}

	// Trim trailing \ or / in case user supplies
	dataDir = strings.TrimRight(dataDir, "\\/")
	if _, err := os.Stat(dataDir); err != nil {
		return "", errors.Wrapf(err, "unable to access data folder %s", dataDir)
	}
	return dataDir, nil
}

func (p *Profile) Validate() error {
	if p.Mode != "demo" && p.Mode != "dev" && p.Mode != "prod" {
		p.Mode = "demo"
	}

	switch p.Driver {
	case "memory", "postgres", "dynamodb":
	case "sqlite":
		if p.DSN == "" {
			if p.Data == "" {
				p.Data = "."
			}
			dataDir, err := checkDataDir(p.Data)
			if err != nil {
				slog.Error("failed to check data dir", slog.String("data", p.Data), slog.String("error", err.Error()))
				return err
			}
			p.Data = dataDir
			p.DSN = filepath.Join(dataDir, fmt.Sprintf("intentgate_%s.db", p.Mode))
		}
	default:
		return errors.Errorf("unsupported driver %q", p.Driver)
	}

	if p.Driver == "postgres" && p.DSN == "" {
		return errors.New("dsn is required for the postgres driver")
	}
	if p.Driver == "dynamodb" && p.DynamoTable == "" {
		return errors.New("dynamodb table is required for the dynamodb driver")
	}

	if p.DailyWarn <= 0 || p.DailyWarn > p.DailyLimit {
		p.DailyWarn = p.DailyLimit
	}
	if p.OverallTimeout < p.BackendTimeout {
		slog.Warn("overall timeout shorter than backend timeout; slow backends will be cut off",
			"overall_timeout", p.OverallTimeout, "backend_timeout", p.BackendTimeout)
	}
	for _, tz := range []string{p.LimiterTimezone, p.DefaultTimezone} {
		if _, err := time.LoadLocation(tz); err != nil {
			return errors.Wrapf(err, "invalid timezone %q", tz)
		}
	}

	return nil
}
