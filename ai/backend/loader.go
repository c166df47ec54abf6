package backend

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/hrygo/intentgate/ai"
	"github.com/hrygo/intentgate/ai/metrics"
)

// Backend types accepted in a declaration file.
const (
	TypeLLM   = "llm"
	TypeRules = "rules"
)

// SecretResolver fetches a secret by name, e.g. from a parameter store.
type SecretResolver interface {
	Resolve(ctx context.Context, name string) (string, error)
}

// File is a backend declaration file. Backends are listed in priority order.
type File struct {
	Backends []Spec `yaml:"backends"`
}

// Spec declares one backend.
type Spec struct {
	Name string `yaml:"name"`
	Type string `yaml:"type"`

	// llm
	Provider    string   `yaml:"provider"`
	Model       string   `yaml:"model"`
	BaseURL     string   `yaml:"base_url"`
	APIKey      string   `yaml:"api_key"`
	APIKeyEnv   string   `yaml:"api_key_env"`
	APIKeyParam string   `yaml:"api_key_param"`
	MaxTokens   int      `yaml:"max_tokens"`
	Temperature *float32 `yaml:"temperature"`
	RPS         float64  `yaml:"rps"`
	Burst       int      `yaml:"burst"`

	// rules; empty means DefaultRules
	Rules []Rule `yaml:"rules"`
}

// Loader reads backend declarations relative to a base directory.
type Loader struct {
	baseDir string
}

// NewLoader creates a new declaration loader.
func NewLoader(baseDir string) *Loader {
	return &Loader{baseDir: baseDir}
}

// Load reads and strictly decodes one YAML declaration file.
func (l *Loader) Load(path string) (*File, error) {
	data, err := l.ReadFileWithFallback(path)
	if err != nil {
		return nil, fmt.Errorf("read file %s: %w", path, err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	var f File
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("unmarshal YAML %s: %w", path, err)
	}
	if len(f.Backends) == 0 {
		return nil, fmt.Errorf("%s declares no backends", path)
	}
	return &f, nil
}

// ReadFileWithFallback tries path as given (or relative to baseDir), then
// relative to the executable directory for packaged deployments.
func (l *Loader) ReadFileWithFallback(path string) ([]byte, error) {
	if filepath.IsAbs(path) {
		return os.ReadFile(path)
	}

	data, err := os.ReadFile(filepath.Join(l.baseDir, path))
	if err == nil {
		return data, nil
	}

	execPath, execErr := os.Executable()
	if execErr != nil {
		return nil, err
	}
	return os.ReadFile(filepath.Join(filepath.Dir(execPath), l.baseDir, path))
}

// Builder turns declarations into backends. Declared LLM fields override Defaults.
type Builder struct {
	Defaults ai.LLMConfig
	Secrets  SecretResolver
	Metrics  metrics.Recorder
	Logger   *slog.Logger
}

// FromConfig builds the configured backends. Without a declaration file it
// returns a single LLM backend built from cfg.LLM. Zero Defaults take cfg.LLM.
func (b *Builder) FromConfig(ctx context.Context, cfg *ai.Config) ([]ai.Backend, error) {
	if b.Defaults == (ai.LLMConfig{}) {
		b.Defaults = cfg.LLM
	}
	if cfg.BackendsFile == "" {
		name := cfg.LLM.Provider
		if name == "" {
			name = TypeLLM
		}
		return b.Build(ctx, &File{Backends: []Spec{{Name: name, Type: TypeLLM}}})
	}

	f, err := NewLoader(".").Load(cfg.BackendsFile)
	if err != nil {
		return nil, err
	}
	return b.Build(ctx, f)
}

// Build creates every declared backend in declaration order.
func (b *Builder) Build(ctx context.Context, f *File) ([]ai.Backend, error) {
	backends := make([]ai.Backend, 0, len(f.Backends))
	seen := make(map[string]bool, len(f.Backends))

	for i, spec := range f.Backends {
		if spec.Name == "" {
			return nil, fmt.Errorf("backend %d: name is required", i)
		}
		if seen[spec.Name] {
			return nil, fmt.Errorf("backend %s: declared twice", spec.Name)
		}
		seen[spec.Name] = true

		var (
			backend ai.Backend
			err     error
		)
		switch spec.Type {
		case TypeLLM:
			backend, err = b.buildLLM(ctx, spec)
		case TypeRules:
			rules := spec.Rules
			if len(rules) == 0 {
				rules = DefaultRules
			}
			backend, err = NewRules(spec.Name, rules)
		default:
			err = fmt.Errorf("backend %s: unknown type %q", spec.Name, spec.Type)
		}
		if err != nil {
			return nil, err
		}
		backends = append(backends, backend)
	}
	return backends, nil
}

func (b *Builder) buildLLM(ctx context.Context, spec Spec) (*LLM, error) {
	cfg := b.Defaults
	if spec.Provider != "" {
		cfg.Provider = spec.Provider
	}
	if spec.Model != "" {
		cfg.Model = spec.Model
	}
	if spec.BaseURL != "" {
		cfg.BaseURL = spec.BaseURL
	}
	if spec.MaxTokens > 0 {
		cfg.MaxTokens = spec.MaxTokens
	}
	if spec.Temperature != nil {
		cfg.Temperature = *spec.Temperature
	}

	key, err := b.apiKey(ctx, spec)
	if err != nil {
		return nil, err
	}
	if key != "" {
		cfg.APIKey = key
	}

	opts := []LLMOption{WithRateLimit(spec.RPS, spec.Burst)}
	if b.Metrics != nil {
		opts = append(opts, WithLLMMetrics(b.Metrics))
	}
	if b.Logger != nil {
		opts = append(opts, WithLLMLogger(b.Logger))
	}
	return NewLLM(spec.Name, cfg, opts...)
}

// apiKey resolves the key from, in order, a parameter, an environment variable
// or the literal value.
func (b *Builder) apiKey(ctx context.Context, spec Spec) (string, error) {
	switch {
	case spec.APIKeyParam != "":
		if b.Secrets == nil {
			return "", fmt.Errorf("backend %s: api_key_param set but no parameter store configured", spec.Name)
		}
		key, err := b.Secrets.Resolve(ctx, spec.APIKeyParam)
		if err != nil {
			return "", fmt.Errorf("backend %s: resolve api key: %w", spec.Name, err)
		}
		return key, nil
	case spec.APIKeyEnv != "":
		key := os.Getenv(spec.APIKeyEnv)
		if key == "" {
			return "", fmt.Errorf("backend %s: environment variable %s is empty", spec.Name, spec.APIKeyEnv)
		}
		return key, nil
	default:
		return spec.APIKey, nil
	}
}
