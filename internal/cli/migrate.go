package cli

import (
	"fmt"

	"github.com/Gobusters/ectologger/zapadapter"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Ramsey-B/fern/config"
	"github.com/Ramsey-B/fern/pkg/database"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations",
	Long: `Migrate applies the SQL migrations in DB_MIGRATION_FOLDER_PATH, including the
stored procedures behind merge phases 2 to 5. Database settings are read from
the same DB_* environment variables (and .env file) as the server.`,
	RunE: runMigrate,
}

var migrateEnvFile string

func init() {
	rootCmd.AddCommand(migrateCmd)

	migrateCmd.Flags().StringVar(&migrateEnvFile, "env-file", ".env", "Optional .env file to load first")
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(migrateEnvFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	zapLogger, err := zap.NewProduction()
	if err != nil {
		return err
	}
	defer func() { _ = zapLogger.Sync() }()
	logger := zapadapter.NewZapEctoLogger(zapLogger, nil)

	db, err := database.Connect(cmd.Context(), cfg.DatabaseConfig(), logger)
	if err != nil {
		return err
	}
	defer db.Close()

	service := database.NewMigrationService(logger, cfg.MigrationConfig())
	if err := service.MigratePostgres(db.DB, cfg.DatabaseName); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	fmt.Fprintln(cmd.OutOrStdout(), "Database is up to date.")
	return nil
}
