package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jonathan/firmware-harvester/internal/db"
)

var migrateCommand = &cobra.Command{
	Use:   "migrate",
	Short: "Create the results-store tables",
	Long:  "Applies the embedded schema to the PostgreSQL database. Safe to run repeatedly.",
	RunE:  runMigrateCmd,
}

var migrateFlags cliFlags

func init() {
	addCommonFlags(migrateCommand, &migrateFlags)
	rootCmd.AddCommand(migrateCommand)
}

func runMigrateCmd(cmd *cobra.Command, _ []string) error {
	cfg, err := migrateFlags.resolve(cmd)
	if err != nil {
		return err
	}
	if cfg.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL environment variable or --db-url flag is required")
	}

	ctx := commandContext(cmd)
	database, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	if err := database.EnsureSchema(ctx); err != nil {
		return err
	}
	_, _ = fmt.Fprintln(cmd.OutOrStdout(), "Schema applied")
	return nil
}
