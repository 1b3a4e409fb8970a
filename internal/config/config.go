// Package config holds process and domain configuration, split the way
// spec.md §6 splits it: process settings (listen address, store URLs,
// API keys) loaded with viper/pflag per the dummybox pattern, and the
// declarative rules/response configuration loaded with gopkg.in/yaml.v3
// per the teacher's own config.Config.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"sentrywire/internal/enrich"
)

// RedisConfig mirrors the teacher's session.RedisConfig shape.
type RedisConfig struct {
	Addr      string `yaml:"addr" mapstructure:"addr"`
	Password  string `yaml:"password" mapstructure:"password"`
	DB        int    `yaml:"db" mapstructure:"db"`
	KeyPrefix string `yaml:"key_prefix" mapstructure:"key_prefix"`
}

// LoggingConfig matches the teacher's LoggingConfig field name (level).
type LoggingConfig struct {
	Level string `mapstructure:"level"`
}

// IngestConfig configures the IngestAPI HTTP frontend.
type IngestConfig struct {
	Listen             string `mapstructure:"listen"`
	RateLimitPerMinute int64  `mapstructure:"rate_limit_per_minute"`
}

// StorageConfig configures the EventIndex SQLite path.
type StorageConfig struct {
	Path string `mapstructure:"path"`
}

// Config is the top-level process configuration, loaded via viper from
// a YAML file overlaid with environment variables.
type Config struct {
	ProjectName  string        `mapstructure:"project_name"`
	APIV1Str     string        `mapstructure:"api_v1_str"`
	Logging      LoggingConfig `mapstructure:"logging"`
	Redis        RedisConfig   `mapstructure:"redis"`
	Ingest       IngestConfig  `mapstructure:"ingest"`
	Storage      StorageConfig `mapstructure:"storage"`
	Enrich       enrich.Config `mapstructure:"enrich"`
	RulesFile    string        `mapstructure:"rules_file"`
	ResponseFile string        `mapstructure:"response_file"`
}

// defaults matches spec.md §6's stated defaults and the teacher's
// "sensible zero-config" convention.
func defaults() Config {
	return Config{
		ProjectName: "sentrywire",
		APIV1Str:    "/api/v1",
		Logging:     LoggingConfig{Level: "info"},
		Redis:       RedisConfig{Addr: "localhost:6379", KeyPrefix: "sentrywire:"},
		Ingest:      IngestConfig{Listen: ":8080", RateLimitPerMinute: 1000},
		Storage:     StorageConfig{Path: "./sentrywire.db"},
	}
}

// Load builds process configuration from an optional YAML file path
// (from --config), overlaid with environment variables, the same
// viper.SetConfigFile + AutomaticEnv pattern dummybox uses for its own
// process settings.
func Load(flags *pflag.FlagSet) (Config, error) {
	cfg := defaults()

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.BindPFlags(flags)

	if path, _ := flags.GetString("config"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return cfg, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	// Environment variables named by spec.md §6.
	bindEnv(v, "redis.addr", "REDIS_URL")
	bindEnv(v, "storage.path", "ELASTICSEARCH_URL")
	bindEnv(v, "enrich.ipinfo_token", "IPINFO_TOKEN")
	bindEnv(v, "enrich.abuseipdb_token", "ABUSEIPDB_API_KEY")
	bindEnv(v, "project_name", "PROJECT_NAME")
	bindEnv(v, "api_v1_str", "API_V1_STR")

	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("config: unmarshal: %w", err)
	}
	return cfg, nil
}

func bindEnv(v *viper.Viper, key, env string) {
	if err := v.BindEnv(key, env); err != nil {
		panic(fmt.Sprintf("config: bind env %s: %v", env, err))
	}
}
