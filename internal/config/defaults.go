package config

import "time"

const (
	defaultDatabasePath      = "lifecycled.db"
	defaultPageSize          = 100
	defaultWindowLead        = 10 * time.Minute
	defaultMaxAttempts       = 3
	defaultWorkers           = 2
	defaultWatchdogStale     = 30 * time.Minute
	defaultSubjectType       = "user"
	defaultHTTPPort          = "8080"
	defaultLogFormat         = "text"
	defaultLogLevel          = "info"
	defaultTelemetryExporter = "none"
	defaultEnvironment       = "development"
	defaultServiceName       = "lifecycled"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		DatabasePath: defaultDatabasePath,
		Engine: Engine{
			PageSize:   defaultPageSize,
			WindowLead: Duration(defaultWindowLead),
		},
		Executor: Executor{
			MaxAttempts: defaultMaxAttempts,
			Workers:     defaultWorkers,
		},
		Watchdog: Watchdog{
			StaleAfter: Duration(defaultWatchdogStale),
		},
		Subjects: Subjects{
			Types: []string{defaultSubjectType},
		},
		HTTP: HTTP{
			Port: defaultHTTPPort,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
		Telemetry: Telemetry{
			Exporter:    defaultTelemetryExporter,
			Environment: defaultEnvironment,
			ServiceName: defaultServiceName,
		},
	}
}
