package cmd

import (
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/ocampo/fieldsync/internal/db"
	"github.com/ocampo/fieldsync/internal/queue"
	"github.com/ocampo/fieldsync/internal/status"
	"github.com/ocampo/fieldsync/internal/tui/monitor"
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Live dashboard for the queue and sync activity",
	RunE: func(cmd *cobra.Command, args []string) error {
		database, err := db.Open(getBaseDir())
		if err != nil {
			return err
		}
		defer database.Close()

		interval, _ := cmd.Flags().GetDuration("refresh")
		q := queue.New(database.Conn())
		model := monitor.NewModel(database, q, status.NewPublisher(), interval)

		p := tea.NewProgram(model, tea.WithAltScreen())
		if _, err := p.Run(); err != nil {
			return fmt.Errorf("monitor failed: %w", err)
		}
		return nil
	},
}

func init() {
	monitorCmd.Flags().Duration("refresh", 2*time.Second, "data refresh interval")
	rootCmd.AddCommand(monitorCmd)
}
