package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ocampo/fieldsync/internal/engine"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run one synchronization cycle",
	Long: `Runs a single sync cycle: pull authoritative data, push captured records
and attendance, upload evidence files, then drain any remaining queue items.
Each item is delivered at-least-once; the server deduplicates by ID.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		e, closeFn, err := openEnv(false)
		if err != nil {
			return err
		}
		defer closeFn()

		if err := e.Client.HealthCheck(cmd.Context()); err != nil {
			return fmt.Errorf("server unreachable; captured work stays queued")
		}

		if err := e.Engine.Sync(cmd.Context()); err != nil {
			switch {
			case errors.Is(err, engine.ErrOffline):
				return fmt.Errorf("server unreachable; captured work stays queued")
			case errors.Is(err, engine.ErrSyncInProgress):
				return fmt.Errorf("a sync cycle is already running")
			default:
				return fmt.Errorf("sync failed: %w", err)
			}
		}

		pending, dead, err := e.Queue.Counts()
		if err != nil {
			return err
		}
		fmt.Printf("Sync completed. Pending: %d, dead: %d\n", pending, dead)
		if dead > 0 {
			fmt.Println("Run 'fieldsync queue --dead' to inspect items that need attention.")
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(syncCmd)
}
