// Package config loads lifecycled settings from a TOML file and the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// DefaultFileName is looked up in the working directory when no path is given.
const DefaultFileName = "lifecycled.toml"

// Duration is a time.Duration written as a Go duration string ("10m", "1h30m").
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Engine configures the claim-and-dispatch pass.
type Engine struct {
	PageSize   int      `toml:"page_size"`
	WindowLead Duration `toml:"window_lead"`
}

// Executor configures stage execution.
type Executor struct {
	MaxAttempts int `toml:"max_attempts"`
	Workers     int `toml:"workers"`
}

// Watchdog configures re-enqueueing of stuck claims.
type Watchdog struct {
	StaleAfter Duration `toml:"stale_after"`
}

// Subjects configures subject type resolution.
type Subjects struct {
	// Types lists the canonical subject types this process can resolve.
	Types []string `toml:"types"`
	// CustomMapping turns on Mapping. Off means stored tags are used as-is.
	CustomMapping bool              `toml:"custom_mapping"`
	Mapping       map[string]string `toml:"mapping"`
}

// HTTP configures the admin API.
type HTTP struct {
	Port string `toml:"port"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"` // "text" or "json"
	Level  string `toml:"level"`
}

// Telemetry configures OpenTelemetry export.
type Telemetry struct {
	Exporter    string `toml:"exporter"` // "none", "stdout" or "otlp"
	Environment string `toml:"environment"`
	ServiceName string `toml:"service_name"`
}

// Config encapsulates all configuration values for lifecycled.
type Config struct {
	DatabasePath string    `toml:"database_path"`
	Engine       Engine    `toml:"engine"`
	Executor     Executor  `toml:"executor"`
	Watchdog     Watchdog  `toml:"watchdog"`
	Subjects     Subjects  `toml:"subjects"`
	HTTP         HTTP      `toml:"http"`
	Logging      Logging   `toml:"log"`
	Telemetry    Telemetry `toml:"otel"`
}

// Load reads defaults, then the TOML file at path, then environment
// overrides, and validates the result. An empty path falls back to
// DefaultFileName when it exists; an explicit path must exist.
func Load(path string) (*Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		path = DefaultFileName
	}

	file, err := os.Open(path)
	switch {
	case err == nil:
		defer file.Close()
		if err := toml.NewDecoder(file).DisallowUnknownFields().Decode(&cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	case errors.Is(err, fs.ErrNotExist) && !explicit:
	default:
		return nil, fmt.Errorf("open config: %w", err)
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}
