package main

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/onnwee/ecoscore/internal/product"
	"github.com/onnwee/ecoscore/internal/store"
)

type importOptions struct {
	databaseURL string
	vertical    string
	input       string
	prune       bool
	verbose     bool
}

func newImportCmd() *cobra.Command {
	opts := &importOptions{}

	cmd := &cobra.Command{
		Use:   "import",
		Short: "Load a product batch into the database",
		Long: `Insert or update the products of a JSON file in the products table.

With --prune, products of the vertical that are missing from the file are
soft-deleted. The next recompute cycle picks the vertical up as changed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.databaseURL == "" {
				opts.databaseURL = os.Getenv("DATABASE_URL")
			}
			if opts.databaseURL == "" {
				return errMissingDatabaseURL
			}

			db, err := sql.Open("postgres", opts.databaseURL)
			if err != nil {
				return fmt.Errorf("open database: %w", err)
			}
			defer db.Close()

			pg := store.NewPostgresStore(db, cliLogger(cmd.ErrOrStderr(), opts.verbose))
			return runImport(cmd.Context(), cmd.InOrStdin(), cmd.OutOrStdout(), pg, opts)
		},
	}

	cmd.Flags().StringVar(&opts.databaseURL, "database-url", "", "PostgreSQL connection URL (default: $DATABASE_URL)")
	cmd.Flags().StringVar(&opts.vertical, "vertical", "", "vertical of the products (required)")
	cmd.Flags().StringVarP(&opts.input, "input", "i", "", `products JSON file, "-" for stdin (required)`)
	cmd.Flags().BoolVar(&opts.prune, "prune", false, "soft-delete products missing from the file")
	cmd.Flags().BoolVarP(&opts.verbose, "verbose", "v", false, "debug logging")
	_ = cmd.MarkFlagRequired("vertical")
	_ = cmd.MarkFlagRequired("input")
	return cmd
}

type productWriter interface {
	LoadProducts(ctx context.Context, vertical string) ([]*product.Product, error)
	UpsertProducts(ctx context.Context, products []*product.Product) error
	DeleteProducts(ctx context.Context, vertical string, ids []string) (int64, error)
}

func runImport(ctx context.Context, stdin io.Reader, stdout io.Writer, pg productWriter, opts *importOptions) error {
	in := stdin
	if opts.input != "-" {
		f, err := os.Open(opts.input)
		if err != nil {
			return fmt.Errorf("open input: %w", err)
		}
		defer f.Close()
		in = f
	}
	products, err := decodeBatch(in, opts.vertical)
	if err != nil {
		return err
	}

	var stale []string
	if opts.prune {
		existing, err := pg.LoadProducts(ctx, opts.vertical)
		if err != nil {
			return err
		}
		keep := make(map[string]struct{}, len(products))
		for _, p := range products {
			keep[p.ID] = struct{}{}
		}
		for _, p := range existing {
			if _, ok := keep[p.ID]; !ok {
				stale = append(stale, p.ID)
			}
		}
	}

	if err := pg.UpsertProducts(ctx, products); err != nil {
		return err
	}
	fmt.Fprintf(stdout, "Imported %d products into %s\n", len(products), opts.vertical)

	if len(stale) > 0 {
		n, err := pg.DeleteProducts(ctx, opts.vertical, stale)
		if err != nil {
			return err
		}
		fmt.Fprintf(stdout, "Deleted %d products missing from the input\n", n)
	}
	return nil
}
