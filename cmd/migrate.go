package main

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/okian/traderscore/internal/adapters/repository"
	"github.com/okian/traderscore/pkg/logger"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations",
	Long: `Apply pending schema migrations to the database named by
TRADERSCORE_DATABASE_URL. serve applies them too when storage is postgres.`,
	RunE: runMigrate,
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	if cfg.DatabaseURL == "" {
		return errors.New("database_url is not configured")
	}
	db, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer func() { _ = db.Close() }()

	applied, err := repository.Migrate(cmd.Context(), db)
	if err != nil {
		return err
	}
	logger.Get().Info(cmd.Context(), "migrations complete", logger.Int("applied", len(applied)))
	fmt.Fprintf(cmd.OutOrStdout(), "applied %d migration(s)\n", len(applied))
	return nil
}
