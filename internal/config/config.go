// Package config loads application configuration. Every component takes
// its settings from this struct at construction time; nothing reads the
// environment or fixed paths on its own.
package config

import (
	"fmt"

	"github.com/spf13/viper"
)

// Config holds all application settings.
type Config struct {
	Port         string  `mapstructure:"PORT"`
	DBPath       string  `mapstructure:"DB_PATH"`
	ExportDir    string  `mapstructure:"EXPORT_DIR"`
	LogLevel     string  `mapstructure:"LOG_LEVEL"`
	OTLPEndpoint string  `mapstructure:"OTLP_ENDPOINT"`
	TraceSample  float64 `mapstructure:"TRACE_SAMPLE"`
}

// Load reads configuration from the environment and an optional .env
// file. Missing values fall back to local single-clinic defaults.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()

	v.SetDefault("PORT", "8080")
	v.SetDefault("DB_PATH", "instance/nurse_records.db")
	v.SetDefault("EXPORT_DIR", "exports")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("OTLP_ENDPOINT", "")
	v.SetDefault("TRACE_SAMPLE", 1.0)

	for _, key := range []string{"PORT", "DB_PATH", "EXPORT_DIR", "LOG_LEVEL", "OTLP_ENDPOINT", "TRACE_SAMPLE"} {
		v.BindEnv(key)
	}

	// The .env file is optional.
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return cfg, nil
}
