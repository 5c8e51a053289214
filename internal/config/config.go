// Package config loads the serve-mode configuration from environment
// variables. One-shot subcommands (import, analyze, simulate) take their
// inputs as arguments and do not use this package.
package config

import (
	"fmt"
	"os"
	"strconv"
)

// Backend names for the trace event store.
const (
	BackendSQLite     = "sqlite"
	BackendClickHouse = "clickhouse"
)

// Config holds all configuration for the serve command.
type Config struct {
	// Message bus
	AMQPHost     string
	AMQPPort     int
	AMQPUser     string
	AMQPPassword string
	AppID        string // application this twin instance belongs to

	// Trace intake
	TraceDir  string // directory watched for incoming *.jsonl trace files
	QueueSize int    // bound on the queue of discovered files

	// Event store
	StoreBackend   string // sqlite or clickhouse
	TraceDBPath    string // sqlite database file
	ClickHouseHost string
	ClickHousePort int
	ClickHouseDB   string
	ClickHouseUser string
	ClickHousePass string

	// Bookkeeping
	JournalPath   string
	MessageLogDir string // directory for message dumps, empty disables them

	// Observability
	LogLevel       string
	LogFile        string
	TracingEnabled bool
	OTLPEndpoint   string
	OTLPProtocol   string
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		AMQPHost:     getEnv("ACTIVEMQ_HOST", "localhost"),
		AMQPPort:     getEnvInt("ACTIVEMQ_PORT", 5672),
		AMQPUser:     getEnv("ACTIVEMQ_USER", ""),
		AMQPPassword: getEnv("ACTIVEMQ_PASSWORD", ""),
		AppID:        getEnv("APP_ID", ""),

		TraceDir:  getEnv("TRACEDIR", ""),
		QueueSize: getEnvInt("TRACE_QUEUE_SIZE", 64),

		StoreBackend:   getEnv("TRACE_STORE", BackendSQLite),
		TraceDBPath:    getEnv("TRACE_DB_PATH", "traces.db"),
		ClickHouseHost: getEnv("CLICKHOUSE_HOST", "localhost"),
		ClickHousePort: getEnvInt("CLICKHOUSE_PORT", 9000),
		ClickHouseDB:   getEnv("CLICKHOUSE_DB", "traces"),
		ClickHouseUser: getEnv("CLICKHOUSE_USER", "default"),
		ClickHousePass: getEnv("CLICKHOUSE_PASSWORD", ""),

		JournalPath:   getEnv("JOURNAL_PATH", "import-journal.db"),
		MessageLogDir: getEnv("LOGDIR", ""),

		LogLevel:       getEnv("LOG_LEVEL", "info"),
		LogFile:        getEnv("LOG_FILE", ""),
		TracingEnabled: getEnvBool("TRACING_ENABLED", false),
		OTLPEndpoint:   getEnv("OTLP_ENDPOINT", ""),
		OTLPProtocol:   getEnv("OTLP_PROTOCOL", "grpc"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.AMQPPort <= 0 || c.AMQPPort > 65535 {
		return fmt.Errorf("ACTIVEMQ_PORT must be between 1 and 65535")
	}
	if c.QueueSize < 1 {
		return fmt.Errorf("TRACE_QUEUE_SIZE must be at least 1")
	}
	switch c.StoreBackend {
	case BackendSQLite:
		if c.TraceDBPath == "" {
			return fmt.Errorf("TRACE_DB_PATH is required for the sqlite backend")
		}
	case BackendClickHouse:
		if c.ClickHouseHost == "" {
			return fmt.Errorf("CLICKHOUSE_HOST is required for the clickhouse backend")
		}
		if c.ClickHousePort <= 0 || c.ClickHousePort > 65535 {
			return fmt.Errorf("CLICKHOUSE_PORT must be between 1 and 65535")
		}
		if c.ClickHouseDB == "" {
			return fmt.Errorf("CLICKHOUSE_DB is required for the clickhouse backend")
		}
	default:
		return fmt.Errorf("TRACE_STORE must be %q or %q", BackendSQLite, BackendClickHouse)
	}

	return nil
}

// BusConfigured reports whether message bus credentials were supplied.
// Without them serve runs standalone and only watches the trace directory.
func (c *Config) BusConfigured() bool {
	return c.AMQPUser != "" && c.AMQPPassword != ""
}

// getEnv gets an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt gets an integer environment variable or returns a default value
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvBool gets a boolean environment variable or returns a default value
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}
