package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"

	_ "github.com/lib/pq"
	"github.com/spf13/cobra"

	"github.com/onnwee/ecoscore/migrations"
)

var errMissingDatabaseURL = errors.New("--database-url or DATABASE_URL is required")

func newMigrateCmd() *cobra.Command {
	var databaseURL string

	cmd := &cobra.Command{
		Use:   "migrate [up|down]",
		Short: "Apply or roll back the database schema",
		Long: `Apply pending schema migrations (up, the default) or revert the most
recently applied one (down).`,
		Args:      cobra.MatchAll(cobra.MaximumNArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"up", "down"},
		RunE: func(cmd *cobra.Command, args []string) error {
			direction := "up"
			if len(args) == 1 {
				direction = args[0]
			}
			if databaseURL == "" {
				databaseURL = os.Getenv("DATABASE_URL")
			}
			if databaseURL == "" {
				return errMissingDatabaseURL
			}

			db, err := sql.Open("postgres", databaseURL)
			if err != nil {
				return fmt.Errorf("open database: %w", err)
			}
			defer db.Close()

			return runMigrate(cmd.Context(), cmd.OutOrStdout(), db, direction)
		},
	}

	cmd.Flags().StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (default: $DATABASE_URL)")
	return cmd
}

func runMigrate(ctx context.Context, w io.Writer, db *sql.DB, direction string) error {
	if direction == "down" {
		version, err := migrations.Down(ctx, db)
		if err != nil {
			return err
		}
		if version == "" {
			fmt.Fprintln(w, "No migration applied.")
			return nil
		}
		fmt.Fprintf(w, "Reverted %s\n", version)
		return nil
	}

	applied, err := migrations.Up(ctx, db)
	for _, version := range applied {
		fmt.Fprintf(w, "Applied %s\n", version)
	}
	if err != nil {
		return err
	}
	if len(applied) == 0 {
		fmt.Fprintln(w, "Schema is up to date.")
	}
	return nil
}
