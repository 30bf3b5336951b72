package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/fabtrace/wafersync/internal/loadtest"
	"github.com/fabtrace/wafersync/internal/store"
)

var loadtestCmd = &cobra.Command{
	Use:     "loadtest",
	GroupID: "maint",
	Short:   "Measure ingest and lookup latency on a synthetic data root",
	Long: `Generate a synthetic data root (cpProber, wlbi and aoi stage folders) in a
temporary directory and measure:

  cold         the first ingest of the whole tree
  warm         re-ingests of the unchanged tree (answered from the ledger)
  incremental  re-ingests after touching a few files
  lookups      concurrent latest-wafer-map queries

The temporary directory is removed afterwards unless --keep is set.

Examples:
  wafersync loadtest
  wafersync loadtest --products 10 --batches 20 --wafers 25 --readers 50`,
	Run: func(cmd *cobra.Command, args []string) {
		shape := loadtest.TreeSpec{}
		shape.Products, _ = cmd.Flags().GetInt("products")
		shape.Batches, _ = cmd.Flags().GetInt("batches")
		shape.Wafers, _ = cmd.Flags().GetInt("wafers")
		opts := loadtest.DefaultOptions()
		opts.WarmRuns, _ = cmd.Flags().GetInt("warm")
		opts.IncrementalRuns, _ = cmd.Flags().GetInt("incremental")
		opts.Touched, _ = cmd.Flags().GetInt("touched")
		opts.UseHash, _ = cmd.Flags().GetBool("use-hash")
		readers, _ := cmd.Flags().GetInt("readers")
		queries, _ := cmd.Flags().GetInt("queries")
		keep, _ := cmd.Flags().GetBool("keep")
		jsonOutput, _ := cmd.Flags().GetBool("json")

		if readers <= 0 || queries <= 0 {
			fmt.Fprintf(os.Stderr, "Error: --readers and --queries must be positive\n")
			os.Exit(1)
		}

		dir, err := os.MkdirTemp("", "wafersync-loadtest-")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error creating temp dir: %v\n", err)
			os.Exit(1)
		}
		if !keep {
			defer os.RemoveAll(dir)
		}

		tree, err := loadtest.GenerateTree(filepath.Join(dir, "data"), shape)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		database, err := store.Open(filepath.Join(dir, "loadtest.db"))
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error opening database: %v\n", err)
			os.Exit(1)
		}
		defer database.Close()
		if err := database.InitSchema(); err != nil {
			fmt.Fprintf(os.Stderr, "Error initializing schema: %v\n", err)
			os.Exit(1)
		}

		if !jsonOutput {
			fmt.Println("Running ingest load test...")
			fmt.Printf("Configuration: %d products, %d batches, %d wafers (%d files), %d readers x %d queries\n\n",
				shape.Products, shape.Batches, shape.Wafers, len(tree.Files), readers, queries)
		}

		ctx := context.Background()
		result, err := loadtest.RunIngest(ctx, database, tree, opts)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		lookups, err := loadtest.RunConcurrentQueries(ctx, database, tree, readers, queries)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		if jsonOutput {
			writeJSON(map[string]any{
				"files":       len(tree.Files),
				"records":     result.Records,
				"cold_ms":     result.Cold.Milliseconds(),
				"warm":        statsJSON(result.Warm),
				"incremental": statsJSON(result.Incremental),
				"lookups":     statsJSON(lookups),
			})
		} else {
			fmt.Printf("Cold ingest: %v (%d records)\n\n", result.Cold.Round(time.Millisecond), result.Records)
			if result.Warm != nil {
				result.Warm.PrintStats(os.Stdout, "Warm ingest")
				fmt.Println()
			}
			if result.Incremental != nil {
				result.Incremental.PrintStats(os.Stdout, fmt.Sprintf("Incremental ingest (%d touched)", opts.Touched))
				fmt.Println()
			}
			lookups.PrintStats(os.Stdout, "Latest wafer map lookups")
			if keep {
				fmt.Printf("\nKept %s\n", dir)
			}
		}

		if lookups.Errors > 0 {
			os.Exit(1)
		}
	},
}

func statsJSON(s *loadtest.LatencyStats) map[string]any {
	if s == nil {
		return nil
	}
	return map[string]any{
		"samples": s.TotalQueries,
		"errors":  s.Errors,
		"min_us":  s.Min.Microseconds(),
		"p50_us":  s.P50.Microseconds(),
		"mean_us": s.Mean.Microseconds(),
		"p95_us":  s.P95.Microseconds(),
		"p99_us":  s.P99.Microseconds(),
		"max_us":  s.Max.Microseconds(),
	}
}

func init() {
	d := loadtest.DefaultTreeSpec
	o := loadtest.DefaultOptions()
	loadtestCmd.Flags().Int("products", d.Products, "Number of products")
	loadtestCmd.Flags().Int("batches", d.Batches, "Batches per product")
	loadtestCmd.Flags().Int("wafers", d.Wafers, "Wafers per batch")
	loadtestCmd.Flags().Int("warm", o.WarmRuns, "Unchanged re-runs")
	loadtestCmd.Flags().Int("incremental", o.IncrementalRuns, "Re-runs after touching files")
	loadtestCmd.Flags().Int("touched", o.Touched, "Files touched before each incremental run")
	loadtestCmd.Flags().Int("readers", 20, "Concurrent lookup readers")
	loadtestCmd.Flags().Int("queries", 50, "Lookups per reader")
	loadtestCmd.Flags().Bool("use-hash", false, "Enable the content-hash fallback")
	loadtestCmd.Flags().Bool("keep", false, "Keep the generated tree and database")
	loadtestCmd.Flags().Bool("json", false, "Output results as JSON")
	rootCmd.AddCommand(loadtestCmd)
}
