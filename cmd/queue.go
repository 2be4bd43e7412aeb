package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ocampo/fieldsync/internal/db"
	"github.com/ocampo/fieldsync/internal/models"
	"github.com/ocampo/fieldsync/internal/queue"
)

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Inspect the outbound work queue",
	RunE: func(cmd *cobra.Command, args []string) error {
		database, err := db.Open(getBaseDir())
		if err != nil {
			return err
		}
		defer database.Close()

		q := queue.New(database.Conn())
		showDead, _ := cmd.Flags().GetBool("dead")

		var items []models.WorkItem
		if showDead {
			items, err = q.DeadItems()
		} else {
			items, err = q.ReadyItems(int(^uint(0) >> 1))
		}
		if err != nil {
			return err
		}

		if len(items) == 0 {
			if showDead {
				fmt.Println("No dead items")
			} else {
				fmt.Println("Queue is empty")
			}
			return nil
		}

		for _, item := range items {
			line := fmt.Sprintf("%s  %-10s  entity=%s  attempts=%d", item.ID, item.Kind, item.EntityID, item.Attempts)
			if item.LastError != "" {
				line += "  error=" + item.LastError
			}
			fmt.Println(line)
		}
		return nil
	},
}

var queueRetryCmd = &cobra.Command{
	Use:   "retry [item-id]",
	Short: "Return dead items to the pending queue",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		all, _ := cmd.Flags().GetBool("all")
		if !all && len(args) == 0 {
			return fmt.Errorf("provide an item ID or --all")
		}

		database, err := db.Open(getBaseDir())
		if err != nil {
			return err
		}
		defer database.Close()

		q := queue.New(database.Conn())
		if all {
			n, err := q.RetryAll()
			if err != nil {
				return err
			}
			fmt.Printf("Requeued %d item(s)\n", n)
			return nil
		}

		if err := q.Retry(args[0]); err != nil {
			return err
		}
		fmt.Printf("Requeued %s\n", args[0])
		return nil
	},
}

func init() {
	queueCmd.Flags().Bool("dead", false, "show dead items instead of pending")
	queueRetryCmd.Flags().Bool("all", false, "requeue every dead item")
	queueCmd.AddCommand(queueRetryCmd)
	rootCmd.AddCommand(queueCmd)
}
