package config

import (
	"fmt"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// FlagBindings maps command-line flag names to the configuration keys they
// override. Flags absent from the set are ignored.
var FlagBindings = map[string]string{
	"log-level":  "observability.log_level",
	"log-format": "observability.log_format",
	"schema":     "postgres.schema",
	"table":      "demo.table",
}

func (l *ViperLoader) bindFlags(v *viper.Viper) error {
	if l.flags == nil {
		return nil
	}
	for name, key := range FlagBindings {
		flag := l.flags.Lookup(name)
		if flag == nil {
			continue
		}
		if err := v.BindPFlag(key, flag); err != nil {
			return fmt.Errorf("failed to bind flag --%s: %w", name, err)
		}
	}
	return nil
}

// RegisterFlags adds the overriding flags to flags.
func RegisterFlags(flags *pflag.FlagSet) {
	flags.String("log-level", "", "log level (debug, info, warn, error)")
	flags.String("log-format", "", "log format (json, text)")
	flags.String("schema", "", "PostgreSQL schema bound to the session")
	flags.String("table", "", "author table name")
}
