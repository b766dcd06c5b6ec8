// Package config loads paperdash configuration from TOML files and the
// environment, and watches the file for live reloads.
package config

// Config represents the core paperdash configuration
type Config struct {
	Database DatabaseConfig `mapstructure:"database"`
	Engine   EngineConfig   `mapstructure:"engine"`
	Log      LogConfig      `mapstructure:"log"`
}

// DatabaseConfig configures the SQLite database
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// EngineConfig configures the task execution engine
type EngineConfig struct {
	// Worker pool for immediate submissions
	WorkerSlots int `mapstructure:"worker_slots"` // Concurrent execution slots (default: 3)
	QueueSize   int `mapstructure:"queue_size"`   // FIFO backlog bound (default: 32)

	// Periodic scheduler
	TickIntervalSeconds int `mapstructure:"tick_interval_seconds"` // Control loop cadence (default: 1)
	GracePeriodSeconds  int `mapstructure:"grace_period_seconds"`  // Shutdown drain bound (default: 30)

	// Analysis agent guard
	AgentTimeoutSeconds int `mapstructure:"agent_timeout_seconds"`  // Hard bound per invocation (default: 600)
	AgentCallsPerMinute int `mapstructure:"agent_calls_per_minute"` // Invocation rate limit, 0 disables

	// Task history retention
	RetentionDays int `mapstructure:"retention_days"` // Terminal-result retention (default: 30)
}

// LogConfig configures logging output
type LogConfig struct {
	JSON bool `mapstructure:"json"` // Structured JSON output instead of console
}
