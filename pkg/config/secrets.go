package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// LoadWithSecrets loads configuration with separate secrets file support.
// Precedence: flags > ENV > secrets file > config file > defaults
//
// Example:
//
//	config.yaml:
//	  postgres:
//	    host: db.internal
//	    schema: Projeto Logico
//
//	secrets.yaml:
//	  postgres:
//	    user: biblioteca
//	    password: <from your vault>
//
// The secrets file is optional and discovered in this order:
// - the path given with WithSecretsFile
// - <ENV_PREFIX>_SECRETS_FILE (defaults to BIBLIOTECA_SECRETS_FILE)
// - secrets.{ext} next to the config file
//
// The second return value holds only what the secrets file set and is meant
// for Redacted.
func (l *ViperLoader) LoadWithSecrets() (*Config, *Config, error) {
	v := viper.New()

	l.setDefaults(v, DefaultConfig())

	if l.configFile != "" {
		v.SetConfigFile(l.configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, nil, fmt.Errorf("failed to read config file %s: %w", l.configFile, err)
		}
	}

	secretsFile, err := l.discoverSecretsFile()
	if err != nil {
		return nil, nil, err
	}
	var secrets *Config
	if secretsFile != "" {
		secretsViper := viper.New()
		secretsViper.SetConfigFile(secretsFile)
		if err := secretsViper.ReadInConfig(); err != nil {
			return nil, nil, fmt.Errorf("failed to read secrets file %s: %w", secretsFile, err)
		}
		var secretsCfg Config
		if err := secretsViper.Unmarshal(&secretsCfg); err != nil {
			return nil, nil, fmt.Errorf("failed to unmarshal secrets file %s: %w", secretsFile, err)
		}
		secrets = &secretsCfg
		if err := v.MergeConfigMap(secretsViper.AllSettings()); err != nil {
			return nil, nil, fmt.Errorf("failed to merge secrets: %w", err)
		}
	}

	l.bindEnvVars(v)
	if err := l.bindFlags(v); err != nil {
		return nil, nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := l.Validate(&cfg); err != nil {
		return nil, nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, secrets, nil
}

// discoverSecretsFile returns the secrets file path, or empty when there is
// none. Explicitly configured paths must point to a readable file.
func (l *ViperLoader) discoverSecretsFile() (string, error) {
	if l.secretsFile != "" {
		return l.secretsFile, checkSecretsFile(l.secretsFile, "--secret-file")
	}

	secretsEnv := l.prefixedEnv("SECRETS_FILE")
	if rawSecretsFile, ok := os.LookupEnv(secretsEnv); ok {
		secretsFile := strings.TrimSpace(rawSecretsFile)
		if secretsFile == "" {
			return "", fmt.Errorf("%s is set but empty", secretsEnv)
		}
		return secretsFile, checkSecretsFile(secretsFile, secretsEnv)
	}

	if l.configFile != "" {
		dir := filepath.Dir(l.configFile)
		ext := filepath.Ext(l.configFile)
		secretsFile := filepath.Join(dir, "secrets"+ext)
		if info, err := os.Stat(secretsFile); err == nil && !info.IsDir() {
			return secretsFile, nil
		}
	}

	return "", nil
}

func checkSecretsFile(path, source string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("%s points to an inaccessible file %s: %w", source, path, err)
	}
	if info.IsDir() {
		return fmt.Errorf("%s must point to a file, got directory %s", source, path)
	}
	return nil
}
