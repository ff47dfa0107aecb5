package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.DatabasePath) == "" {
		return errors.New("database_path must be set")
	}
	if err := c.validateEngine(); err != nil {
		return err
	}
	if err := c.validateExecutor(); err != nil {
		return err
	}
	if c.Watchdog.StaleAfter <= 0 {
		return errors.New("watchdog.stale_after must be positive")
	}
	if err := c.validateSubjects(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validateEngine() error {
	if c.Engine.PageSize <= 0 {
		return errors.New("engine.page_size must be positive")
	}
	if c.Engine.WindowLead < 0 {
		return errors.New("engine.window_lead must not be negative")
	}
	return nil
}

func (c *Config) validateExecutor() error {
	if c.Executor.MaxAttempts <= 0 {
		return errors.New("executor.max_attempts must be positive")
	}
	if c.Executor.Workers <= 0 {
		return errors.New("executor.workers must be positive")
	}
	return nil
}

func (c *Config) validateSubjects() error {
	for _, t := range c.Subjects.Types {
		if strings.TrimSpace(t) == "" {
			return errors.New("subjects.types must not contain empty entries")
		}
	}
	if !c.Subjects.CustomMapping {
		return nil
	}
	for tag, canonical := range c.Subjects.Mapping {
		if strings.TrimSpace(tag) == "" || strings.TrimSpace(canonical) == "" {
			return fmt.Errorf("subjects.mapping: empty entry %q = %q", tag, canonical)
		}
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log.format must be \"text\" or \"json\", got %q", c.Logging.Format)
	}
	if _, err := c.LogLevel(); err != nil {
		return err
	}
	switch c.Telemetry.Exporter {
	case "none", "stdout", "otlp":
	default:
		return fmt.Errorf("otel.exporter must be \"none\", \"stdout\" or \"otlp\", got %q", c.Telemetry.Exporter)
	}
	return nil
}

// LogLevel parses log.level into a slog.Level.
func (c *Config) LogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Logging.Level)); err != nil {
		return 0, fmt.Errorf("log.level: %w", err)
	}
	return level, nil
}
