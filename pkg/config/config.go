package config

import "time"

// Log formats accepted by observability.log_format.
const (
	LogFormatJSON = "json"
	LogFormatText = "text"
)

// DefaultSchema is the namespace holding the Autor table.
const DefaultSchema = "Projeto Logico"

// Config is the root configuration of the biblioteca tools
type Config struct {
	Service       ServiceConfig       `mapstructure:"service" yaml:"service"`
	Postgres      PostgresConfig      `mapstructure:"postgres" yaml:"postgres"`
	Mongo         MongoConfig         `mapstructure:"mongo" yaml:"mongo"`
	Demo          DemoConfig          `mapstructure:"demo" yaml:"demo"`
	Observability ObservabilityConfig `mapstructure:"observability" yaml:"observability"`
}

// ServiceConfig configures service identity metadata.
type ServiceConfig struct {
	Name        string `mapstructure:"name" yaml:"name"`
	Environment string `mapstructure:"environment" yaml:"environment"`
}

// PostgresConfig configures the relational session. User, password and
// database have no defaults and must come from a file, a secrets file or the
// environment.
type PostgresConfig struct {
	Host           string        `mapstructure:"host" yaml:"host"`
	Port           int           `mapstructure:"port" yaml:"port"`
	User           string        `mapstructure:"user" yaml:"user"`
	Password       string        `mapstructure:"password" yaml:"password"`
	Database       string        `mapstructure:"database" yaml:"database"`
	Schema         string        `mapstructure:"schema" yaml:"schema"`
	SSLMode        string        `mapstructure:"sslmode" yaml:"sslmode"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout" yaml:"connect_timeout"`
}

// MongoConfig configures the document store the catalog is applied to.
type MongoConfig struct {
	URL              string        `mapstructure:"url" yaml:"url"`
	Database         string        `mapstructure:"database" yaml:"database"`
	ConnectTimeout   time.Duration `mapstructure:"connect_timeout" yaml:"connect_timeout"`
	OperationTimeout time.Duration `mapstructure:"operation_timeout" yaml:"operation_timeout"`
}

// DemoConfig configures the transaction demo.
type DemoConfig struct {
	Table string `mapstructure:"table" yaml:"table"`
}

// ObservabilityConfig configures logging, tracing and metrics.
type ObservabilityConfig struct {
	LogLevel          string  `mapstructure:"log_level" yaml:"log_level"`
	LogFormat         string  `mapstructure:"log_format" yaml:"log_format"` // json, text
	TracingEnabled    bool    `mapstructure:"tracing_enabled" yaml:"tracing_enabled"`
	TracingSampleRate float64 `mapstructure:"tracing_sample_rate" yaml:"tracing_sample_rate"`
	TracingEndpoint   string  `mapstructure:"tracing_endpoint" yaml:"tracing_endpoint"`
	// MetricsTextfile, when set, receives the metrics registry in the
	// node-exporter textfile format after each command.
	MetricsTextfile string `mapstructure:"metrics_textfile" yaml:"metrics_textfile"`
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:        "biblioteca",
			Environment: "development",
		},
		Postgres: PostgresConfig{
			Host:    "localhost",
			Port:    5432,
			Schema:  DefaultSchema,
			SSLMode: "disable",
		},
		Mongo: MongoConfig{
			Database:         "biblioteca",
			ConnectTimeout:   10 * time.Second,
			OperationTimeout: 5 * time.Second,
		},
		Demo: DemoConfig{
			Table: "Autor",
		},
		Observability: ObservabilityConfig{
			LogLevel:          "info",
			LogFormat:         LogFormatText,
			TracingSampleRate: 1.0,
			TracingEndpoint:   "localhost:4317",
		},
	}
}
