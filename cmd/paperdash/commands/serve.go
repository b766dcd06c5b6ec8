// Package commands contains the paperdash CLI subcommands.
package commands

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/paperdash/paperdash/agent"
	"github.com/paperdash/paperdash/config"
	"github.com/paperdash/paperdash/db"
	"github.com/paperdash/paperdash/engine"
	"github.com/paperdash/paperdash/errors"
	"github.com/paperdash/paperdash/logger"
	"github.com/paperdash/paperdash/schedule"
	"github.com/paperdash/paperdash/task"
	"github.com/paperdash/paperdash/worker"
)

// ServeCmd starts the task engine
func ServeCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the task execution engine",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}

			if err := logger.Initialize(cfg.Log.JSON); err != nil {
				return errors.Wrap(err, "failed to initialize logger")
			}
			log := logger.Logger

			conn, err := db.Open(cfg.Database.Path, log)
			if err != nil {
				return err
			}
			defer conn.Close()

			if err := db.Migrate(conn, log); err != nil {
				return err
			}

			history := task.NewStore(conn)
			registry := task.NewRegistry(history, log)

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			orch := engine.New(ctx, engineConfig(cfg), registry, history,
				func() agent.Agent { return &agent.Sim{} }, log)
			orch.Start()

			// Hot reload for pacing knobs; structural settings need a restart
			if configPath != "" {
				if watcher, err := config.NewWatcher(configPath, log); err == nil {
					watcher.OnReload(func(next *config.Config) error {
						log.Infow("Config changed - structural engine settings apply on restart",
							"agent_calls_per_minute", next.Engine.AgentCallsPerMinute)
						return nil
					})
					watcher.Start()
					defer watcher.Stop()
				} else {
					log.Warnw("Config watcher unavailable", "error", err)
				}
			}

			// Single process shutdown hook draining both children
			sig := make(chan os.Signal, 1)
			signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
			<-sig

			log.Infow("Shutdown signal received")
			orch.Shutdown()
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to paperdash.toml")
	return cmd
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFromFile(path)
	}
	return config.Load()
}

func engineConfig(cfg *config.Config) engine.Config {
	return engine.Config{
		Pool: worker.PoolConfig{
			Slots:       cfg.Engine.WorkerSlots,
			QueueSize:   cfg.Engine.QueueSize,
			StopTimeout: time.Duration(cfg.Engine.GracePeriodSeconds) * time.Second,
		},
		Scheduler: schedule.SchedulerConfig{
			TickInterval: time.Duration(cfg.Engine.TickIntervalSeconds) * time.Second,
			GracePeriod:  time.Duration(cfg.Engine.GracePeriodSeconds) * time.Second,
		},
		Guard: agent.GuardConfig{
			InvokeTimeout: time.Duration(cfg.Engine.AgentTimeoutSeconds) * time.Second,
			CallsPerMin:   cfg.Engine.AgentCallsPerMinute,
		},
		RetentionDays: cfg.Engine.RetentionDays,
	}
}
