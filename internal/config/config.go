package config

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"zord/internal/prompt"
)

// Backend names accepted in Config.Backend.
const (
	BackendLlama       = "llama"
	BackendLlamaServer = "llama-server"
)

// Quota store names accepted in Config.Quota.Backend.
const (
	QuotaMemory   = "memory"
	QuotaRedis    = "redis"
	QuotaPostgres = "postgres"
)

// Config holds runtime parameters for the daemon. Load starts from Default(),
// so fields missing from a file keep their defaults.
type Config struct {
	Addr    string `json:"addr" yaml:"addr" toml:"addr"`
	Backend string `json:"backend" yaml:"backend" toml:"backend"`

	Model       ModelConfig       `json:"model" yaml:"model" toml:"model"`
	LlamaServer LlamaServerConfig `json:"llama_server" yaml:"llama_server" toml:"llama_server"`
	Generation  GenerationConfig  `json:"generation" yaml:"generation" toml:"generation"`
	Quota       QuotaConfig       `json:"quota" yaml:"quota" toml:"quota"`
	HTTP        HTTPConfig        `json:"http" yaml:"http" toml:"http"`
	Log         LogConfig         `json:"log" yaml:"log" toml:"log"`
}

// ModelConfig locates the GGUF file and sets load-time knobs.
type ModelConfig struct {
	Path      string   `json:"path" yaml:"path" toml:"path"`
	Name      string   `json:"name" yaml:"name" toml:"name"`
	Search    []string `json:"search_dirs" yaml:"search_dirs" toml:"search_dirs"`
	Threads   int      `json:"n_threads" yaml:"n_threads" toml:"n_threads"`
	CtxSize   int      `json:"n_ctx" yaml:"n_ctx" toml:"n_ctx"`
	GPULayers int      `json:"n_gpu_layers" yaml:"n_gpu_layers" toml:"n_gpu_layers"`
	Batch     int      `json:"n_batch" yaml:"n_batch" toml:"n_batch"`
	Template  string   `json:"template" yaml:"template" toml:"template"`
	System    string   `json:"system_prompt" yaml:"system_prompt" toml:"system_prompt"`
}

// LlamaServerConfig points at an external llama.cpp server.
type LlamaServerConfig struct {
	URL    string `json:"url" yaml:"url" toml:"url"`
	APIKey string `json:"api_key" yaml:"api_key" toml:"api_key"`
}

// GenerationConfig holds request defaults and bounds.
type GenerationConfig struct {
	Temperature           float64 `json:"temperature" yaml:"temperature" toml:"temperature"`
	MaxTokens             int     `json:"max_tokens" yaml:"max_tokens" toml:"max_tokens"`
	MaxTokensLimit        int     `json:"max_tokens_limit" yaml:"max_tokens_limit" toml:"max_tokens_limit"`
	RequestTimeoutSeconds int     `json:"request_timeout_seconds" yaml:"request_timeout_seconds" toml:"request_timeout_seconds"`
	MaxQueueDepth         int     `json:"max_queue_depth" yaml:"max_queue_depth" toml:"max_queue_depth"`
	MaxWaitSeconds        int     `json:"max_wait_seconds" yaml:"max_wait_seconds" toml:"max_wait_seconds"`
	DemoFallback          bool    `json:"demo_fallback" yaml:"demo_fallback" toml:"demo_fallback"`
}

// QuotaConfig selects the usage store and the daily limits.
type QuotaConfig struct {
	Backend       string `json:"backend" yaml:"backend" toml:"backend"`
	DailyMessages int64  `json:"daily_message_limit" yaml:"daily_message_limit" toml:"daily_message_limit"`
	DailyTokens   int64  `json:"daily_token_limit" yaml:"daily_token_limit" toml:"daily_token_limit"`
	WindowHours   int    `json:"window_hours" yaml:"window_hours" toml:"window_hours"`
	// StateFile persists the memory store across restarts when set.
	StateFile     string `json:"state_file" yaml:"state_file" toml:"state_file"`
	RedisAddr     string `json:"redis_addr" yaml:"redis_addr" toml:"redis_addr"`
	RedisPassword string `json:"redis_password" yaml:"redis_password" toml:"redis_password"`
	RedisDB       int    `json:"redis_db" yaml:"redis_db" toml:"redis_db"`
	KeyPrefix     string `json:"key_prefix" yaml:"key_prefix" toml:"key_prefix"`
	PostgresDSN   string `json:"postgres_dsn" yaml:"postgres_dsn" toml:"postgres_dsn"`
}

// HTTPConfig tunes the HTTP layer.
type HTTPConfig struct {
	MaxBodyBytes int64    `json:"max_body_bytes" yaml:"max_body_bytes" toml:"max_body_bytes"`
	CORSDisabled bool     `json:"cors_disabled" yaml:"cors_disabled" toml:"cors_disabled"`
	CORSOrigins  []string `json:"cors_origins" yaml:"cors_origins" toml:"cors_origins"`
	RequestLog   string   `json:"request_log" yaml:"request_log" toml:"request_log"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	Level  string `json:"level" yaml:"level" toml:"level"`
	Format string `json:"format" yaml:"format" toml:"format"`
}

// Default returns the configuration used when nothing else is given.
func Default() Config {
	return Config{
		Addr:    ":8080",
		Backend: BackendLlama,
		Model: ModelConfig{
			Path:      "models/zordcoder-v1-q4_k_m.gguf",
			Name:      "ZordCoder-v1",
			Threads:   4,
			CtxSize:   2048,
			GPULayers: 0,
			Batch:     512,
			Template:  "llama3",
		},
		Generation: GenerationConfig{
			Temperature:           0.7,
			MaxTokens:             2048,
			MaxTokensLimit:        4096,
			RequestTimeoutSeconds: 120,
			MaxQueueDepth:         32,
			MaxWaitSeconds:        30,
		},
		Quota: QuotaConfig{
			Backend:       QuotaMemory,
			DailyMessages: 50,
			DailyTokens:   50000,
			WindowHours:   24,
			KeyPrefix:     "zord:",
		},
		HTTP: HTTPConfig{
			MaxBodyBytes: 1 << 20,
			CORSOrigins:  []string{"*"},
			RequestLog:   "info",
		},
		Log: LogConfig{Level: "info", Format: "console"},
	}
}

// RequestTimeout returns the per-request generation timeout.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.Generation.RequestTimeoutSeconds) * time.Second
}

// MaxWait returns how long a request may wait for the generation slot.
func (c Config) MaxWait() time.Duration {
	return time.Duration(c.Generation.MaxWaitSeconds) * time.Second
}

// Window returns the quota window length.
func (c Config) Window() time.Duration {
	return time.Duration(c.Quota.WindowHours) * time.Hour
}

// Validate reports every invalid field at once.
func (c Config) Validate() error {
	var errs []error
	if _, _, err := net.SplitHostPort(c.Addr); err != nil {
		errs = append(errs, fmt.Errorf("addr %q: %w", c.Addr, err))
	}
	switch c.Backend {
	case BackendLlama:
		if c.Model.Path == "" {
			errs = append(errs, errors.New("model.path is required for the llama backend"))
		}
	case BackendLlamaServer:
		if c.LlamaServer.URL == "" {
			errs = append(errs, errors.New("llama_server.url is required for the llama-server backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown backend %q (want %s or %s)", c.Backend, BackendLlama, BackendLlamaServer))
	}
	if _, ok := prompt.Lookup(c.Model.Template); !ok {
		errs = append(errs, fmt.Errorf("model.template %q (want one of %s)", c.Model.Template, strings.Join(prompt.Names(), ", ")))
	}
	g := c.Generation
	if g.Temperature < 0 || g.Temperature > 2 {
		errs = append(errs, fmt.Errorf("generation.temperature %v outside [0, 2]", g.Temperature))
	}
	if g.MaxTokensLimit < 1 {
		errs = append(errs, fmt.Errorf("generation.max_tokens_limit must be positive, got %d", g.MaxTokensLimit))
	}
	if g.MaxTokens < 1 || (g.MaxTokensLimit >= 1 && g.MaxTokens > g.MaxTokensLimit) {
		errs = append(errs, fmt.Errorf("generation.max_tokens %d outside [1, %d]", g.MaxTokens, g.MaxTokensLimit))
	}
	if g.RequestTimeoutSeconds < 1 {
		errs = append(errs, fmt.Errorf("generation.request_timeout_seconds must be positive, got %d", g.RequestTimeoutSeconds))
	}
	q := c.Quota
	if q.DailyMessages < 1 || q.DailyTokens < 1 {
		errs = append(errs, fmt.Errorf("quota limits must be positive (messages=%d tokens=%d)", q.DailyMessages, q.DailyTokens))
	}
	if q.WindowHours < 1 {
		errs = append(errs, fmt.Errorf("quota.window_hours must be positive, got %d", q.WindowHours))
	}
	switch q.Backend {
	case QuotaMemory:
	case QuotaRedis:
		if q.RedisAddr == "" {
			errs = append(errs, errors.New("quota.redis_addr is required for the redis quota backend"))
		}
	case QuotaPostgres:
		if q.PostgresDSN == "" {
			errs = append(errs, errors.New("quota.postgres_dsn is required for the postgres quota backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown quota backend %q", q.Backend))
	}
	switch strings.ToLower(c.Log.Format) {
	case "console", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format %q (want console or json)", c.Log.Format))
	}
	return errors.Join(errs...)
}
