package main

import (
	"io"
	"log/slog"

	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ecoscore",
		Short: "Normalize, aggregate and rank product scores",
		Long: `ecoscore runs the batch scoring engine over product catalogs.

Commands:
  score    Score a product batch read from a JSON file
  import   Load a product batch into the database
  serve    Run the recompute job and the operations server
  migrate  Apply or roll back the database schema`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	cmd.AddCommand(newScoreCmd())
	cmd.AddCommand(newImportCmd())
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newMigrateCmd())
	return cmd
}

// cliLogger logs to w, which keeps stdout free for command output.
func cliLogger(w io.Writer, verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}
