package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	json "github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/onnwee/ecoscore/internal/aggregation"
	"github.com/onnwee/ecoscore/internal/brand"
	"github.com/onnwee/ecoscore/internal/policy"
	"github.com/onnwee/ecoscore/internal/ranking"
)

type scoreOptions struct {
	policies string
	vertical string
	input    string
	output   string
	brands   string
	score    string
	top      int
	workers  int
	verbose  bool
}

func newScoreCmd() *cobra.Command {
	opts := &scoreOptions{}

	cmd := &cobra.Command{
		Use:   "score",
		Short: "Score a product batch read from a JSON file",
		Long: `Run one batch over the products of a JSON file and print the ranking.

The input is a JSON array of products:

  [{"id": "tv-1", "brand": "Acme", "attributes": {"power": "95", "energy_class": "A"}}]

Products without a vertical are assigned to --vertical. Without --output the
ranking of --score (the vertical's composite by default) is printed as a
table; with --output the scored products are written as JSON ("-" for stdout).

Examples:
  ecoscore score --policies policies.yaml --vertical tv --input tvs.json
  ecoscore score --policies policies.yaml --vertical tv --input tvs.json --output scored.json
  ecoscore score --policies policies.yaml --vertical tv --input - --score ENERGY --top 20 < tvs.json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScore(cmd.Context(), cmd.InOrStdin(), cmd.OutOrStdout(), cmd.ErrOrStderr(), opts)
		},
	}

	cmd.Flags().StringVar(&opts.policies, "policies", "", "scoring policies YAML file (required)")
	cmd.Flags().StringVar(&opts.vertical, "vertical", "", "vertical to score (required)")
	cmd.Flags().StringVarP(&opts.input, "input", "i", "", `products JSON file, "-" for stdin (required)`)
	cmd.Flags().StringVarP(&opts.output, "output", "o", "", `write scored products as JSON to this file, "-" for stdout`)
	cmd.Flags().StringVar(&opts.brands, "brands", "", "brand ratings JSON file: {source: {brand: rating}}")
	cmd.Flags().StringVar(&opts.score, "score", "", "score to print (default: the vertical's composite)")
	cmd.Flags().IntVar(&opts.top, "top", 10, "number of ranked products to print, 0 for all")
	cmd.Flags().IntVarP(&opts.workers, "workers", "w", 1, "goroutines of the per-product pass")
	cmd.Flags().BoolVarP(&opts.verbose, "verbose", "v", false, "log per-product diagnostics")
	_ = cmd.MarkFlagRequired("policies")
	_ = cmd.MarkFlagRequired("vertical")
	_ = cmd.MarkFlagRequired("input")

	return cmd
}

func runScore(ctx context.Context, stdin io.Reader, stdout, stderr io.Writer, opts *scoreOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}
	logger := cliLogger(stderr, opts.verbose)

	registry, err := policy.Load(opts.policies, logger)
	if err != nil {
		return err
	}
	vertical, err := registry.Get(opts.vertical)
	if err != nil {
		return err
	}

	in := stdin
	if opts.input != "-" {
		f, err := os.Open(opts.input)
		if err != nil {
			return fmt.Errorf("open input: %w", err)
		}
		defer f.Close()
		in = f
	}
	products, err := decodeBatch(in, vertical.ID)
	if err != nil {
		return err
	}

	var ratings brand.RatingSource
	if opts.brands != "" {
		source, err := loadBrandRatings(opts.brands)
		if err != nil {
			return err
		}
		ratings = source
	}

	engine := aggregation.NewEngine(aggregation.Config{
		Logger:  logger,
		Workers: opts.workers,
	}, aggregation.DefaultProducers(ratings)...)

	result, err := engine.Run(ctx, vertical, products)
	if err != nil {
		return err
	}

	summary := summarize(result)
	logger.Info("batch scored",
		"run_id", summary.RunID,
		"vertical", summary.Vertical,
		"products", summary.Products,
		"virtual", summary.Virtual,
		"warnings", summary.Warnings,
		"failures", summary.Failures,
		"unknown_brands", summary.UnknownBrands,
		"duration_ms", summary.DurationMS)

	if opts.output != "" {
		return writeBatch(stdout, opts.output, batchOutput{Summary: summary, Products: products})
	}

	score := opts.score
	if score == "" {
		score = vertical.CompositeName()
	}
	snap := ranking.Build(vertical.ID, score, result.RunID, products, time.Now())
	return printRanking(stdout, snap, opts.top)
}

func writeBatch(stdout io.Writer, path string, out batchOutput) error {
	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	data = append(data, '\n')

	if path == "-" {
		_, err = stdout.Write(data)
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	return nil
}

func printRanking(w io.Writer, snap ranking.Snapshot, top int) error {
	if len(snap.Entries) == 0 {
		_, err := fmt.Fprintf(w, "No product ranked on %s.\n", snap.Score)
		return err
	}

	fmt.Fprintf(w, "%s ranking of %s (%d ranked)\n\n", snap.Score, snap.Vertical, len(snap.Entries))
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "RANK\tPRODUCT\tBRAND\tVALUE\tABSOLUTE")
	for _, e := range snap.Top(top) {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%.3f\t%.3f\n", e.Rank, e.ProductID, e.Brand, e.Value, e.Absolute)
	}
	return tw.Flush()
}
