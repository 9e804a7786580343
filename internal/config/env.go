package config

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
)

// EnvPrefix is prepended to every environment variable the daemon reads,
// except the conventional PORT and HOST.
const EnvPrefix = "ZORD_"

// ApplyEnv overlays ZORD_* variables on c. Unset or empty variables leave the
// field alone. Malformed numbers and booleans are reported together.
func ApplyEnv(c *Config, lookup func(string) (string, bool)) error {
	var errs []error
	get := func(name string) (string, bool) {
		v, ok := lookup(name)
		v = strings.TrimSpace(v)
		return v, ok && v != ""
	}
	str := func(name string, dst *string) {
		if v, ok := get(EnvPrefix + name); ok {
			*dst = v
		}
	}
	num := func(name string, dst *int) {
		if v, ok := get(EnvPrefix + name); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
				return
			}
			*dst = n
		}
	}
	num64 := func(name string, dst *int64) {
		if v, ok := get(EnvPrefix + name); ok {
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
				return
			}
			*dst = n
		}
	}
	flag := func(name string, dst *bool) {
		if v, ok := get(EnvPrefix + name); ok {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
				return
			}
			*dst = b
		}
	}

	str("MODEL_PATH", &c.Model.Path)
	str("MODEL_NAME", &c.Model.Name)
	num("N_THREADS", &c.Model.Threads)
	num("N_CTX", &c.Model.CtxSize)
	num("N_GPU_LAYERS", &c.Model.GPULayers)
	num("N_BATCH", &c.Model.Batch)
	str("TEMPLATE", &c.Model.Template)
	str("SYSTEM_PROMPT", &c.Model.System)

	str("BACKEND", &c.Backend)
	str("LLAMA_SERVER_URL", &c.LlamaServer.URL)
	str("LLAMA_SERVER_API_KEY", &c.LlamaServer.APIKey)

	if v, ok := get(EnvPrefix + "TEMPERATURE"); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("%sTEMPERATURE: %w", EnvPrefix, err))
		} else {
			c.Generation.Temperature = f
		}
	}
	num("MAX_TOKENS", &c.Generation.MaxTokens)
	num("REQUEST_TIMEOUT_SECONDS", &c.Generation.RequestTimeoutSeconds)
	flag("DEMO_FALLBACK", &c.Generation.DemoFallback)

	str("QUOTA_BACKEND", &c.Quota.Backend)
	num64("DAILY_MESSAGE_LIMIT", &c.Quota.DailyMessages)
	num64("DAILY_TOKEN_LIMIT", &c.Quota.DailyTokens)
	str("QUOTA_STATE_FILE", &c.Quota.StateFile)
	str("REDIS_ADDR", &c.Quota.RedisAddr)
	str("REDIS_PASSWORD", &c.Quota.RedisPassword)
	str("POSTGRES_DSN", &c.Quota.PostgresDSN)

	str("LOG_LEVEL", &c.Log.Level)
	str("LOG_FORMAT", &c.Log.Format)

	if v, ok := get(EnvPrefix + "ADDR"); ok {
		c.Addr = v
	} else {
		c.Addr = overlayHostPort(c.Addr, lookup)
	}
	return errors.Join(errs...)
}

// overlayHostPort applies HOST and PORT to addr, keeping whichever half is
// not set.
func overlayHostPort(addr string, lookup func(string) (string, bool)) string {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	if v, ok := lookup("HOST"); ok && strings.TrimSpace(v) != "" {
		host = strings.TrimSpace(v)
	}
	if v, ok := lookup("PORT"); ok && strings.TrimSpace(v) != "" {
		port = strings.TrimSpace(v)
	}
	return net.JoinHostPort(host, port)
}
