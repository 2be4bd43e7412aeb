package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ocampo/fieldsync/internal/db"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize the local capture database",
	Long:  `Creates the .fieldsync directory and local database in the current directory.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		database, err := db.Initialize(getBaseDir())
		if err != nil {
			return fmt.Errorf("failed to initialize database: %w", err)
		}
		defer database.Close()

		fmt.Printf("Initialized fieldsync database in %s/.fieldsync\n", getBaseDir())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
}
