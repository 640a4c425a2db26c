package config

import (
	"fmt"
	"net/url"
	"reflect"

	"gopkg.in/yaml.v3"
)

const redactedValue = "***"

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	return (&ViperLoader{}).Validate(c)
}

// Redacted returns a copy of the configuration with secrets masked: every
// string set by the secrets file, the PostgreSQL password and the password
// embedded in the MongoDB URL. Pass the secrets Config returned by
// LoadWithSecrets, or nil when no secrets file was loaded.
func (c *Config) Redacted(secrets *Config) *Config {
	out := *c
	if secrets != nil {
		maskStrings(reflect.ValueOf(&out).Elem(), reflect.ValueOf(secrets).Elem())
	}
	if out.Postgres.Password != "" {
		out.Postgres.Password = redactedValue
	}
	if out.Mongo.URL != "" && out.Mongo.URL != redactedValue {
		if u, err := url.Parse(out.Mongo.URL); err == nil {
			out.Mongo.URL = u.Redacted()
		}
	}
	return &out
}

// YAML renders the configuration as a YAML document.
func (c *Config) YAML() ([]byte, error) {
	data, err := yaml.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("failed to render config: %w", err)
	}
	return data, nil
}

func maskStrings(v, mask reflect.Value) {
	for i := 0; i < v.NumField(); i++ {
		value := v.Field(i)
		maskValue := mask.Field(i)
		if !value.CanSet() {
			continue
		}

		switch value.Kind() {
		case reflect.Struct:
			maskStrings(value, maskValue)
		case reflect.String:
			if maskValue.String() != "" {
				value.SetString(redactedValue)
			}
		}
	}
}
