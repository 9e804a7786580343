package config

import (
	"strings"
	"testing"
	"time"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.RequestTimeout() != 120*time.Second || cfg.Window() != 24*time.Hour || cfg.MaxWait() != 30*time.Second {
		t.Fatalf("durations: %v %v %v", cfg.RequestTimeout(), cfg.Window(), cfg.MaxWait())
	}
	if cfg.Quota.DailyMessages != 50 || cfg.Quota.DailyTokens != 50000 {
		t.Fatalf("limits: %+v", cfg.Quota)
	}
}

func TestValidate(t *testing.T) {
	cases := map[string]struct {
		mut  func(*Config)
		want string
	}{
		"addr":          {func(c *Config) { c.Addr = "8080" }, "addr"},
		"backend":       {func(c *Config) { c.Backend = "onnx" }, "unknown backend"},
		"model path":    {func(c *Config) { c.Model.Path = "" }, "model.path"},
		"server url":    {func(c *Config) { c.Backend = BackendLlamaServer }, "llama_server.url"},
		"temperature":   {func(c *Config) { c.Generation.Temperature = 2.5 }, "temperature"},
		"max tokens":    {func(c *Config) { c.Generation.MaxTokens = 5000 }, "max_tokens"},
		"timeout":       {func(c *Config) { c.Generation.RequestTimeoutSeconds = 0 }, "request_timeout_seconds"},
		"limits":        {func(c *Config) { c.Quota.DailyTokens = 0 }, "quota limits"},
		"window":        {func(c *Config) { c.Quota.WindowHours = 0 }, "window_hours"},
		"redis addr":    {func(c *Config) { c.Quota.Backend = QuotaRedis }, "redis_addr"},
		"postgres dsn":  {func(c *Config) { c.Quota.Backend = QuotaPostgres }, "postgres_dsn"},
		"quota backend": {func(c *Config) { c.Quota.Backend = "etcd" }, "unknown quota backend"},
		"log format":    {func(c *Config) { c.Log.Format = "xml" }, "log.format"},
		"template":      {func(c *Config) { c.Model.Template = "chatml" }, "model.template"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			tc.mut(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error containing %q, got %v", tc.want, err)
			}
		})
	}
}

func TestValidate_JoinsErrors(t *testing.T) {
	cfg := Default()
	cfg.Addr = "nope"
	cfg.Quota.Backend = "etcd"
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "addr") || !strings.Contains(err.Error(), "quota backend") {
		t.Fatalf("expected both problems, got %v", err)
	}
}
