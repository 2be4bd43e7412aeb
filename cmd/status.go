package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ocampo/fieldsync/internal/db"
	"github.com/ocampo/fieldsync/internal/models"
	"github.com/ocampo/fieldsync/internal/queue"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show local queue and sync status",
	RunE: func(cmd *cobra.Command, args []string) error {
		database, err := db.Open(getBaseDir())
		if err != nil {
			return err
		}
		defer database.Close()

		q := queue.New(database.Conn())
		pending, dead, err := q.Counts()
		if err != nil {
			return err
		}

		counts, err := database.CountPending()
		if err != nil {
			return err
		}

		state, err := database.GetSyncState()
		if err != nil {
			return err
		}

		fmt.Printf("Queue: %d pending, %d dead\n", pending, dead)
		fmt.Printf("  records:    %d\n", counts[models.KindRecord])
		fmt.Printf("  attendance: %d\n", counts[models.KindAttendance])
		fmt.Printf("  evidence:   %d\n", counts[models.KindAttachment])

		if state.LastSyncAt != nil {
			fmt.Printf("Last successful sync: %s\n", state.LastSyncAt.Local().Format("2006-01-02 15:04:05"))
		} else {
			fmt.Println("Last successful sync: never")
		}
		if state.LastPulledAt != nil {
			fmt.Printf("Server data as of:    %s\n", state.LastPulledAt.Local().Format("2006-01-02 15:04:05"))
		}

		if dead > 0 {
			fmt.Printf("\n%d item(s) need attention. Run 'fieldsync queue --dead' to inspect.\n", dead)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
