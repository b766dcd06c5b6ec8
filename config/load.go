package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"github.com/paperdash/paperdash/errors"
)

// Load reads the paperdash configuration using Viper. Sources, in
// precedence order: environment (PAPERDASH_*), ./paperdash.toml,
// ~/.config/paperdash/paperdash.toml, built-in defaults.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("paperdash")
	v.SetConfigType("toml")
	v.AddConfigPath(".")
	if home, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(filepath.Join(home, ".config", "paperdash"))
	}

	v.SetEnvPrefix("PAPERDASH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	SetDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		// Missing config file is fine - defaults and env apply
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, errors.Wrap(err, "failed to read config file")
		}
	}

	return unmarshal(v)
}

// LoadFromFile loads configuration from a specific file path
func LoadFromFile(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("toml")
	SetDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, errors.Wrapf(err, "failed to read config file %s", configPath)
	}

	return unmarshal(v)
}

func unmarshal(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// SetDefaults registers built-in defaults on the Viper instance
func SetDefaults(v *viper.Viper) {
	v.SetDefault("database.path", "paperdash.db")

	v.SetDefault("engine.worker_slots", 3)
	v.SetDefault("engine.queue_size", 32)
	v.SetDefault("engine.tick_interval_seconds", 1)
	v.SetDefault("engine.grace_period_seconds", 30)
	v.SetDefault("engine.agent_timeout_seconds", 600)
	v.SetDefault("engine.agent_calls_per_minute", 0)
	v.SetDefault("engine.retention_days", 30)

	v.SetDefault("log.json", false)
}

// Validate checks configuration invariants
func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return errors.New("database.path is required")
	}
	if c.Engine.WorkerSlots <= 0 {
		return errors.Newf("engine.worker_slots must be > 0 (got %d)", c.Engine.WorkerSlots)
	}
	if c.Engine.QueueSize <= 0 {
		return errors.Newf("engine.queue_size must be > 0 (got %d)", c.Engine.QueueSize)
	}
	if c.Engine.TickIntervalSeconds <= 0 {
		return errors.Newf("engine.tick_interval_seconds must be > 0 (got %d)", c.Engine.TickIntervalSeconds)
	}
	if c.Engine.GracePeriodSeconds <= 0 {
		return errors.Newf("engine.grace_period_seconds must be > 0 (got %d)", c.Engine.GracePeriodSeconds)
	}
	if c.Engine.AgentTimeoutSeconds <= 0 {
		return errors.Newf("engine.agent_timeout_seconds must be > 0 (got %d)", c.Engine.AgentTimeoutSeconds)
	}
	if c.Engine.AgentCallsPerMinute < 0 {
		return errors.Newf("engine.agent_calls_per_minute must be >= 0 (got %d)", c.Engine.AgentCallsPerMinute)
	}
	if c.Engine.RetentionDays < 0 {
		return errors.Newf("engine.retention_days must be >= 0 (got %d)", c.Engine.RetentionDays)
	}
	return nil
}
