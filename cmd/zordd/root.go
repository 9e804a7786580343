package main

import (
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"zord/internal/config"
)

// lookupEnv is swapped in tests.
var lookupEnv = os.LookupEnv

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "zordd",
		Short:         "Zord Coder inference daemon",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	pf := cmd.PersistentFlags()
	pf.String("config", "", "Config file path (.yaml, .yml, .json or .toml).")
	pf.String("log-level", "", "Logging level: debug|info|warn|error.")
	pf.String("log-format", "", "Logging format: console|json.")

	pf.String("addr", "", "HTTP listen address, e.g. :8080.")
	pf.String("backend", "", "Inference backend: llama|llama-server.")
	pf.String("model", "", "GGUF model file or directory (llama) or model id (llama-server).")
	pf.String("model-name", "", "Model name reported to clients.")
	pf.StringSlice("model-search-dir", nil, "Extra directories to search for a relative model path (repeatable).")
	pf.String("template", "", "Prompt template: llama3|instruction|raw.")
	pf.Int("threads", 0, "CPU threads used for inference.")
	pf.Int("ctx-size", 0, "Context window in tokens.")
	pf.Int("gpu-layers", 0, "Layers offloaded to the GPU.")
	pf.String("llama-server-url", "", "Base URL of a llama.cpp server (llama-server backend).")

	pf.Float64("temperature", 0, "Default sampling temperature.")
	pf.Int("max-tokens", 0, "Default max tokens per request.")
	pf.Int("timeout", 0, "Per-request generation timeout in seconds.")
	pf.Bool("demo-fallback", false, "Answer with a labeled placeholder while no model is loaded.")

	pf.String("quota-backend", "", "Usage store: memory|redis|postgres.")
	pf.Int64("daily-messages", 0, "Messages allowed per client per window.")
	pf.Int64("daily-tokens", 0, "Tokens allowed per client per window.")
	pf.String("quota-state-file", "", "Persist the memory usage store to this file.")
	pf.String("redis-addr", "", "Redis address for the redis usage store.")
	pf.String("postgres-dsn", "", "Postgres DSN for the postgres usage store.")

	pf.Bool("no-cors", false, "Disable CORS headers.")
	pf.StringSlice("cors-origin", nil, "Allowed CORS origin (repeatable).")
	pf.Int64("max-body-bytes", 0, "Maximum request body size.")
	pf.String("request-log", "", "Per-request log level: off|error|info|debug.")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newCheckCmd())
	cmd.AddCommand(newVersionCmd())
	return cmd
}

// loadConfig resolves defaults, the config file, ZORD_* variables and then
// explicitly set flags, in that order, and validates the result.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	fs := cmd.Flags()
	path, _ := fs.GetString("config")
	cfg, err := config.Resolve(path, lookupEnv)
	if err != nil {
		return cfg, err
	}
	applyFlags(fs, &cfg)
	return cfg, cfg.Validate()
}

func applyFlags(fs *pflag.FlagSet, c *config.Config) {
	str := func(name string, dst *string) {
		if fs.Changed(name) {
			*dst, _ = fs.GetString(name)
		}
	}
	num := func(name string, dst *int) {
		if fs.Changed(name) {
			*dst, _ = fs.GetInt(name)
		}
	}
	num64 := func(name string, dst *int64) {
		if fs.Changed(name) {
			*dst, _ = fs.GetInt64(name)
		}
	}
	list := func(name string, dst *[]string) {
		if fs.Changed(name) {
			*dst, _ = fs.GetStringSlice(name)
		}
	}

	str("log-level", &c.Log.Level)
	str("log-format", &c.Log.Format)
	str("addr", &c.Addr)
	str("backend", &c.Backend)
	str("model", &c.Model.Path)
	str("model-name", &c.Model.Name)
	list("model-search-dir", &c.Model.Search)
	str("template", &c.Model.Template)
	num("threads", &c.Model.Threads)
	num("ctx-size", &c.Model.CtxSize)
	num("gpu-layers", &c.Model.GPULayers)
	str("llama-server-url", &c.LlamaServer.URL)
	if fs.Changed("temperature") {
		c.Generation.Temperature, _ = fs.GetFloat64("temperature")
	}
	num("max-tokens", &c.Generation.MaxTokens)
	num("timeout", &c.Generation.RequestTimeoutSeconds)
	if fs.Changed("demo-fallback") {
		c.Generation.DemoFallback, _ = fs.GetBool("demo-fallback")
	}
	str("quota-backend", &c.Quota.Backend)
	num64("daily-messages", &c.Quota.DailyMessages)
	num64("daily-tokens", &c.Quota.DailyTokens)
	str("quota-state-file", &c.Quota.StateFile)
	str("redis-addr", &c.Quota.RedisAddr)
	str("postgres-dsn", &c.Quota.PostgresDSN)
	if fs.Changed("no-cors") {
		disabled, _ := fs.GetBool("no-cors")
		c.HTTP.CORSDisabled = disabled
	}
	list("cors-origin", &c.HTTP.CORSOrigins)
	num64("max-body-bytes", &c.HTTP.MaxBodyBytes)
	str("request-log", &c.HTTP.RequestLog)
}
