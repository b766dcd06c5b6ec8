package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "paperdash.toml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestDefaults(t *testing.T) {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	require.NoError(t, v.Unmarshal(&cfg))
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "paperdash.db", cfg.Database.Path)
	assert.Equal(t, 3, cfg.Engine.WorkerSlots)
	assert.Equal(t, 32, cfg.Engine.QueueSize)
	assert.Equal(t, 1, cfg.Engine.TickIntervalSeconds)
	assert.Equal(t, 30, cfg.Engine.GracePeriodSeconds)
	assert.Equal(t, 600, cfg.Engine.AgentTimeoutSeconds)
	assert.Equal(t, 0, cfg.Engine.AgentCallsPerMinute)
	assert.Equal(t, 30, cfg.Engine.RetentionDays)
	assert.False(t, cfg.Log.JSON)
}

func TestLoadFromFile(t *testing.T) {
	path := writeConfigFile(t, `
[database]
path = "/var/lib/paperdash/tasks.db"

[engine]
worker_slots = 5
agent_calls_per_minute = 12

[log]
json = true
`)

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/paperdash/tasks.db", cfg.Database.Path)
	assert.Equal(t, 5, cfg.Engine.WorkerSlots)
	assert.Equal(t, 12, cfg.Engine.AgentCallsPerMinute)
	assert.True(t, cfg.Log.JSON)

	// Unset keys fall back to defaults
	assert.Equal(t, 32, cfg.Engine.QueueSize)
	assert.Equal(t, 600, cfg.Engine.AgentTimeoutSeconds)
}

func TestLoadFromFileMissing(t *testing.T) {
	_, err := LoadFromFile(filepath.Join(t.TempDir(), "nope.toml"))
	require.Error(t, err)
}

func TestLoadFromFileInvalidValues(t *testing.T) {
	path := writeConfigFile(t, `
[engine]
worker_slots = 0
`)
	_, err := LoadFromFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "worker_slots")
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		return Config{
			Database: DatabaseConfig{Path: "x.db"},
			Engine: EngineConfig{
				WorkerSlots:         3,
				QueueSize:           32,
				TickIntervalSeconds: 1,
				GracePeriodSeconds:  30,
				AgentTimeoutSeconds: 600,
			},
		}
	}
	validCfg := valid()
	require.NoError(t, validCfg.Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty db path", func(c *Config) { c.Database.Path = "" }},
		{"zero slots", func(c *Config) { c.Engine.WorkerSlots = 0 }},
		{"zero queue", func(c *Config) { c.Engine.QueueSize = 0 }},
		{"zero tick", func(c *Config) { c.Engine.TickIntervalSeconds = 0 }},
		{"zero grace", func(c *Config) { c.Engine.GracePeriodSeconds = 0 }},
		{"zero agent timeout", func(c *Config) { c.Engine.AgentTimeoutSeconds = 0 }},
		{"negative rate limit", func(c *Config) { c.Engine.AgentCallsPerMinute = -1 }},
		{"negative retention", func(c *Config) { c.Engine.RetentionDays = -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			require.Error(t, cfg.Validate())
		})
	}
}
