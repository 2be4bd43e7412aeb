package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ocampo/fieldsync/internal/db"
)

var logCmd = &cobra.Command{
	Use:   "log",
	Short: "Show recent sync history",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		database, err := db.Open(getBaseDir())
		if err != nil {
			return err
		}
		defer database.Close()

		entries, err := database.HistoryTail(limit)
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			fmt.Println("No sync history")
			return nil
		}

		for _, e := range entries {
			line := fmt.Sprintf("%s  %-8s  %-10s  %-7s  %s",
				e.Timestamp.Local().Format("2006-01-02 15:04:05"),
				e.Direction, e.Kind, e.Outcome, e.EntityID)
			if e.Detail != "" {
				line += "  " + e.Detail
			}
			fmt.Println(line)
		}
		return nil
	},
}

func init() {
	logCmd.Flags().Int("limit", 50, "number of entries to show")
	rootCmd.AddCommand(logCmd)
}
