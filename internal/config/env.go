package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const envPrefix = "LIFECYCLED_"

func (c *Config) applyEnv() error {
	stringOverrides := map[string]*string{
		"DATABASE_PATH":    &c.DatabasePath,
		"HTTP_PORT":        &c.HTTP.Port,
		"LOG_LEVEL":        &c.Logging.Level,
		"LOG_FORMAT":       &c.Logging.Format,
		"OTEL_EXPORTER":    &c.Telemetry.Exporter,
		"OTEL_ENVIRONMENT": &c.Telemetry.Environment,
	}
	for key, dst := range stringOverrides {
		*dst = envOrDefault(envPrefix+key, *dst)
	}
	c.Telemetry.ServiceName = envOrDefault("OTEL_SERVICE_NAME", c.Telemetry.ServiceName)

	intOverrides := map[string]*int{
		"ENGINE_PAGE_SIZE":      &c.Engine.PageSize,
		"EXECUTOR_MAX_ATTEMPTS": &c.Executor.MaxAttempts,
		"EXECUTOR_WORKERS":      &c.Executor.Workers,
	}
	for key, dst := range intOverrides {
		raw, ok := lookupEnv(envPrefix + key)
		if !ok {
			continue
		}
		v, err := strconv.Atoi(raw)
		if err != nil {
			return fmt.Errorf("%s%s: %w", envPrefix, key, err)
		}
		*dst = v
	}

	durationOverrides := map[string]*Duration{
		"ENGINE_WINDOW_LEAD":   &c.Engine.WindowLead,
		"WATCHDOG_STALE_AFTER": &c.Watchdog.StaleAfter,
	}
	for key, dst := range durationOverrides {
		raw, ok := lookupEnv(envPrefix + key)
		if !ok {
			continue
		}
		v, err := time.ParseDuration(raw)
		if err != nil {
			return fmt.Errorf("%s%s: %w", envPrefix, key, err)
		}
		*dst = Duration(v)
	}

	return nil
}

func lookupEnv(key string) (string, bool) {
	v, ok := os.LookupEnv(key)
	v = strings.TrimSpace(v)
	return v, ok && v != ""
}

func envOrDefault(key, fallback string) string {
	if v, ok := lookupEnv(key); ok {
		return v
	}
	return fallback
}
