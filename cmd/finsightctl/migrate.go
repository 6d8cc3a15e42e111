package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"finsight/internal/config"
	"finsight/internal/storage"
	"finsight/internal/storage/postgres"
)

func init() {
	rootCmd.AddCommand(migrateCmd)
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending schema migrations to the configured database",
	Args:  cobra.NoArgs,
	RunE:  runMigrate,
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}

	var version uint
	switch cfg.DataBackend {
	case config.BackendSQLite:
		version, err = storage.RunMigrations(cfg.SQLiteDBPath)
	case config.BackendPostgres:
		var repo *postgres.Repository
		repo, err = postgres.Open(cmd.Context(), cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer repo.Close()
		version, err = repo.Migrate()
	default:
		return fmt.Errorf("backend %q has no schema to migrate", cfg.DataBackend)
	}
	if err != nil {
		return err
	}

	logger.Info("Migrations applied", "backend", cfg.DataBackend, "version", version)
	fmt.Fprintf(cmd.OutOrStdout(), "%s schema at version %d\n", cfg.DataBackend, version)
	return nil
}
