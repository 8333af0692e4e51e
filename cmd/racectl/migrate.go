package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/your-org/racephoto/internal/storage"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the photo index schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := storage.NewPostgresStore(cfg.Database)
		if err != nil {
			return fmt.Errorf("connect to postgres: %w", err)
		}
		defer db.Close()

		if err := db.EnsureSchema(cmd.Context()); err != nil {
			return err
		}
		fmt.Println("Schema is up to date.")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
