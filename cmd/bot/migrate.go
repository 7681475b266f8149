package main

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"

	"session_broadcaster_bot/internal/infra/config"
	"session_broadcaster_bot/internal/infra/database"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

func newMigrateCmd() *cobra.Command {
	var (
		driver      string
		databaseURL string
		sqlitePath  string
	)

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply the SQL schema for the postgres or sqlite driver",
		Long: `Creates the sessions, dispatches and joins tables.

Safe to run multiple times (idempotent). Flags default to STORAGE_DRIVER,
DATABASE_URL and SQLITE_PATH from the environment or .env.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrate(cmd.Context(), cmd.OutOrStdout(), driver, databaseURL, sqlitePath)
		},
	}

	_ = godotenv.Load()
	cmd.Flags().StringVar(&driver, "driver", envOr("STORAGE_DRIVER", config.DriverSQLite), "storage driver: postgres or sqlite")
	cmd.Flags().StringVar(&databaseURL, "database-url", os.Getenv("DATABASE_URL"), "PostgreSQL connection string")
	cmd.Flags().StringVar(&sqlitePath, "sqlite-path", envOr("SQLITE_PATH", "broadcaster.db"), "SQLite database file")
	return cmd
}

func runMigrate(ctx context.Context, out io.Writer, driver, databaseURL, sqlitePath string) error {
	var (
		db      *sql.DB
		dialect database.Dialect
		err     error
	)
	switch driver {
	case config.DriverPostgres:
		if databaseURL == "" {
			return fmt.Errorf("migrate: --database-url is required for postgres")
		}
		dialect = database.Postgres
		db, err = database.NewPostgresConnection(databaseURL)
	case config.DriverSQLite:
		dialect = database.SQLite
		db, err = database.NewSQLiteConnection(sqlitePath)
	default:
		return fmt.Errorf("migrate: driver %q has no SQL schema", driver)
	}
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	defer db.Close()

	if err := database.Migrate(ctx, db, dialect); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	fmt.Fprintf(out, "Schema applied (%s).\n", dialect)
	return nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
