package commands

import (
	"fmt"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/paperdash/paperdash/db"
	"github.com/paperdash/paperdash/errors"
	"github.com/paperdash/paperdash/task"
)

// StatusCmd lists recent task results from the history store
func StatusCmd() *cobra.Command {
	var configPath string
	var limit int
	var status string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show recent task results",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}

			conn, err := db.Open(cfg.Database.Path, nil)
			if err != nil {
				return err
			}
			defer conn.Close()

			if err := db.Migrate(conn, nil); err != nil {
				return err
			}

			store := task.NewStore(conn)

			var results []*task.Result
			if status != "" {
				if !task.IsValidStatus(status) {
					return errors.Newf("invalid status %q", status)
				}
				results, err = store.ListByStatus(task.Status(status))
			} else {
				results, err = store.ListRecent(limit)
			}
			if err != nil {
				return err
			}

			if len(results) == 0 {
				pterm.Info.Println("No task results found")
				return nil
			}

			rows := pterm.TableData{
				{"ID", "Name", "Kind", "Mode", "Status", "Progress", "Started", "Error"},
			}
			for _, r := range results {
				started := ""
				if r.StartTime != nil {
					started = r.StartTime.Format(time.RFC3339)
				}
				rows = append(rows, []string{
					shortID(r.ID),
					r.Config.Name,
					r.Config.Kind,
					string(r.Mode),
					statusLabel(r.Status),
					fmt.Sprintf("%3.0f%%", r.Progress*100),
					started,
					truncate(r.Error, 48),
				})
			}

			return pterm.DefaultTable.WithHasHeader().WithData(rows).Render()
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to paperdash.toml")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "max results to show")
	cmd.Flags().StringVarP(&status, "status", "s", "", "filter by status (pending|running|completed|failed|stopped)")
	return cmd
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-1] + "…"
}

func statusLabel(s task.Status) string {
	switch s {
	case task.StatusCompleted:
		return pterm.Green(string(s))
	case task.StatusFailed:
		return pterm.Red(string(s))
	case task.StatusRunning:
		return pterm.Cyan(string(s))
	case task.StatusStopped:
		return pterm.Yellow(string(s))
	default:
		return string(s)
	}
}
