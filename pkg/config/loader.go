package config

import (
	"errors"
	"fmt"
	"regexp"
	"slices"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// DefaultEnvPrefix prefixes every environment variable read by the loader.
const DefaultEnvPrefix = "BIBLIOTECA"

var tableNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Loader defines the interface for loading configuration
type Loader interface {
	Load() (*Config, error)
	Validate(*Config) error
}

// ViperLoader implements Loader using Viper for configuration management
type ViperLoader struct {
	configFile  string
	secretsFile string
	envPrefix   string
	flags       *pflag.FlagSet
}

// NewViperLoader creates a new ViperLoader
// configFile: path to configuration file (optional, can be empty)
// envPrefix: prefix for environment variables (defaults to BIBLIOTECA)
func NewViperLoader(configFile, envPrefix string) *ViperLoader {
	return &ViperLoader{
		configFile: configFile,
		envPrefix:  envPrefix,
	}
}

// WithSecretsFile sets an explicit secrets file, skipping discovery.
func (l *ViperLoader) WithSecretsFile(path string) *ViperLoader {
	l.secretsFile = strings.TrimSpace(path)
	return l
}

// WithFlags lets command-line flags override every other source.
func (l *ViperLoader) WithFlags(flags *pflag.FlagSet) *ViperLoader {
	l.flags = flags
	return l
}

// ConfigFile returns the configuration file path, or empty when none was given.
func (l *ViperLoader) ConfigFile() string {
	return l.configFile
}

// Load loads configuration with precedence: flags > ENV > secrets file > file > defaults
func (l *ViperLoader) Load() (*Config, error) {
	cfg, _, err := l.LoadWithSecrets()
	return cfg, err
}

// bindEnvVars explicitly binds environment variables for nested structs. The
// standard libpq variables are accepted after the prefixed ones.
func (l *ViperLoader) bindEnvVars(v *viper.Viper) {
	v.BindEnv("service.name", l.prefixedEnv("SERVICE_NAME"))
	v.BindEnv("service.environment", l.prefixedEnv("SERVICE_ENVIRONMENT"), l.prefixedEnv("ENVIRONMENT"))

	// PostgreSQL
	v.BindEnv("postgres.host", l.prefixedEnv("PG_HOST"), "PGHOST")
	v.BindEnv("postgres.port", l.prefixedEnv("PG_PORT"), "PGPORT")
	v.BindEnv("postgres.user", l.prefixedEnv("PG_USER"), "PGUSER")
	v.BindEnv("postgres.password", l.prefixedEnv("PG_PASSWORD"), "PGPASSWORD")
	v.BindEnv("postgres.database", l.prefixedEnv("PG_DATABASE"), "PGDATABASE")
	v.BindEnv("postgres.schema", l.prefixedEnv("PG_SCHEMA"))
	v.BindEnv("postgres.sslmode", l.prefixedEnv("PG_SSLMODE"), "PGSSLMODE")
	v.BindEnv("postgres.connect_timeout", l.prefixedEnv("PG_CONNECT_TIMEOUT"))

	// MongoDB
	v.BindEnv("mongo.url", l.prefixedEnv("MONGO_URL"))
	v.BindEnv("mongo.database", l.prefixedEnv("MONGO_DATABASE"))
	v.BindEnv("mongo.connect_timeout", l.prefixedEnv("MONGO_CONNECT_TIMEOUT"))
	v.BindEnv("mongo.operation_timeout", l.prefixedEnv("MONGO_OPERATION_TIMEOUT"))

	v.BindEnv("demo.table", l.prefixedEnv("DEMO_TABLE"))

	// Observability
	v.BindEnv("observability.log_level", l.prefixedEnv("LOG_LEVEL"))
	v.BindEnv("observability.log_format", l.prefixedEnv("LOG_FORMAT"))
	v.BindEnv("observability.tracing_enabled", l.prefixedEnv("TRACING_ENABLED"))
	v.BindEnv("observability.tracing_sample_rate", l.prefixedEnv("TRACING_SAMPLE_RATE"))
	v.BindEnv("observability.tracing_endpoint", l.prefixedEnv("TRACING_ENDPOINT"))
	v.BindEnv("observability.metrics_textfile", l.prefixedEnv("METRICS_TEXTFILE"))
}

func (l *ViperLoader) prefixedEnv(suffix string) string {
	prefix := strings.TrimSpace(l.envPrefix)
	if prefix == "" {
		prefix = DefaultEnvPrefix
	}
	return fmt.Sprintf("%s_%s", strings.ToUpper(prefix), suffix)
}

// setDefaults sets default values in Viper from the default config
func (l *ViperLoader) setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("service.name", cfg.Service.Name)
	v.SetDefault("service.environment", cfg.Service.Environment)

	v.SetDefault("postgres.host", cfg.Postgres.Host)
	v.SetDefault("postgres.port", cfg.Postgres.Port)
	v.SetDefault("postgres.user", cfg.Postgres.User)
	v.SetDefault("postgres.password", cfg.Postgres.Password)
	v.SetDefault("postgres.database", cfg.Postgres.Database)
	v.SetDefault("postgres.schema", cfg.Postgres.Schema)
	v.SetDefault("postgres.sslmode", cfg.Postgres.SSLMode)
	v.SetDefault("postgres.connect_timeout", cfg.Postgres.ConnectTimeout)

	v.SetDefault("mongo.url", cfg.Mongo.URL)
	v.SetDefault("mongo.database", cfg.Mongo.Database)
	v.SetDefault("mongo.connect_timeout", cfg.Mongo.ConnectTimeout)
	v.SetDefault("mongo.operation_timeout", cfg.Mongo.OperationTimeout)

	v.SetDefault("demo.table", cfg.Demo.Table)

	v.SetDefault("observability.log_level", cfg.Observability.LogLevel)
	v.SetDefault("observability.log_format", cfg.Observability.LogFormat)
	v.SetDefault("observability.tracing_enabled", cfg.Observability.TracingEnabled)
	v.SetDefault("observability.tracing_sample_rate", cfg.Observability.TracingSampleRate)
	v.SetDefault("observability.tracing_endpoint", cfg.Observability.TracingEndpoint)
	v.SetDefault("observability.metrics_textfile", cfg.Observability.MetricsTextfile)
}

// Validate validates the configuration and returns every problem found.
// Credentials are not checked here: commands that never open a session
// (catalog export, config show) run without them.
func (l *ViperLoader) Validate(cfg *Config) error {
	var errs []error

	cfg.Observability.LogLevel = strings.ToLower(strings.TrimSpace(cfg.Observability.LogLevel))
	cfg.Observability.LogFormat = strings.ToLower(strings.TrimSpace(cfg.Observability.LogFormat))

	if strings.TrimSpace(cfg.Service.Name) == "" {
		errs = append(errs, errors.New("service.name is required"))
	}

	if cfg.Postgres.Port <= 0 || cfg.Postgres.Port > 65535 {
		errs = append(errs, fmt.Errorf("postgres.port must be between 1 and 65535, got %d", cfg.Postgres.Port))
	}
	if strings.TrimSpace(cfg.Postgres.Schema) == "" {
		errs = append(errs, errors.New("postgres.schema is required"))
	}
	validSSLModes := []string{"disable", "allow", "prefer", "require", "verify-ca", "verify-full"}
	if !slices.Contains(validSSLModes, cfg.Postgres.SSLMode) {
		errs = append(errs, fmt.Errorf("invalid postgres.sslmode: %s (must be one of: %v)", cfg.Postgres.SSLMode, validSSLModes))
	}
	if cfg.Postgres.ConnectTimeout < 0 {
		errs = append(errs, errors.New("postgres.connect_timeout must not be negative"))
	}

	if cfg.Mongo.ConnectTimeout < 0 {
		errs = append(errs, errors.New("mongo.connect_timeout must not be negative"))
	}
	if cfg.Mongo.OperationTimeout < 0 {
		errs = append(errs, errors.New("mongo.operation_timeout must not be negative"))
	}

	if !tableNamePattern.MatchString(cfg.Demo.Table) {
		errs = append(errs, fmt.Errorf("invalid demo.table %q: must match %s", cfg.Demo.Table, tableNamePattern))
	}

	validLogLevels := []string{"debug", "info", "warn", "error"}
	if !slices.Contains(validLogLevels, cfg.Observability.LogLevel) {
		errs = append(errs, fmt.Errorf("invalid observability.log_level: %s (must be one of: %v)", cfg.Observability.LogLevel, validLogLevels))
	}
	validLogFormats := []string{LogFormatJSON, LogFormatText}
	if !slices.Contains(validLogFormats, cfg.Observability.LogFormat) {
		errs = append(errs, fmt.Errorf("invalid observability.log_format: %s (must be one of: %v)", cfg.Observability.LogFormat, validLogFormats))
	}
	if cfg.Observability.TracingSampleRate < 0 || cfg.Observability.TracingSampleRate > 1 {
		errs = append(errs, fmt.Errorf("observability.tracing_sample_rate must be between 0 and 1, got %v", cfg.Observability.TracingSampleRate))
	}
	if cfg.Observability.TracingEnabled && strings.TrimSpace(cfg.Observability.TracingEndpoint) == "" {
		errs = append(errs, errors.New("observability.tracing_endpoint is required when tracing is enabled"))
	}

	return errors.Join(errs...)
}
