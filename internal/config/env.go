package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/roach88/btdebug/internal/apperr"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "BTDEBUG_"

// EnvName returns the variable that overrides key, e.g. "debounce" →
// "BTDEBUG_DEBOUNCE".
func EnvName(key string) string {
	return EnvPrefix + strings.ToUpper(key)
}

func (c *Config) applyEnv(lookup func(string) string) error {
	str := func(key string, dst *string) {
		if v := lookup(EnvName(key)); v != "" {
			*dst = v
		}
	}
	var errs []string
	num := func(key string, dst *int) {
		v := lookup(EnvName(key))
		if v == "" {
			return
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Sprintf("%s: %q is not an integer", EnvName(key), v))
			return
		}
		*dst = n
	}
	dur := func(key string, dst *time.Duration) {
		v := lookup(EnvName(key))
		if v == "" {
			return
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			errs = append(errs, fmt.Sprintf("%s: %q is not a duration", EnvName(key), v))
			return
		}
		*dst = d
	}
	flag := func(key string, dst *bool) {
		v := lookup(EnvName(key))
		if v == "" {
			return
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			errs = append(errs, fmt.Sprintf("%s: %q is not a boolean", EnvName(key), v))
			return
		}
		*dst = b
	}

	str("database", &c.Database)
	str("driver", &c.Driver)
	str("runtime_dir", &c.RuntimeDir)
	str("instance_name", &c.InstanceName)
	dur("debounce", &c.Debounce)
	dur("shutdown_timeout", &c.ShutdownTimeout)
	num("open_retries", &c.OpenRetries)
	dur("open_retry_delay", &c.OpenRetryDelay)
	num("cleanup_attempts", &c.CleanupAttempts)
	dur("cleanup_delay", &c.CleanupDelay)
	dur("flush_interval", &c.FlushInterval)
	num("batch_size", &c.BatchSize)
	str("log_level", &c.LogLevel)
	flag("exit_on_stdin_close", &c.ExitOnStdinClose)

	if len(errs) > 0 {
		return apperr.InvalidArgument("environment: %s", strings.Join(errs, "; "))
	}
	return nil
}
