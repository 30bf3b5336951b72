package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/fabtrace/wafersync/internal/ingest"
	"github.com/fabtrace/wafersync/internal/ui"
)

var statusCmd = &cobra.Command{
	Use:     "status",
	GroupID: "query",
	Short:   "Show index status",
	Long: `Display the current status of the wafersync index.

Shows:
  - Database location and size
  - Number of ledger entries, wafer maps and spreadsheets
  - Outcome of the last ingest run`,
	Run: func(cmd *cobra.Command, args []string) {
		path := cfg.DB.Path

		info, err := os.Stat(path)
		if os.IsNotExist(err) {
			fmt.Printf("\n%s Index not initialized\n", ui.RenderWarn("⚠"))
			fmt.Printf("   Run 'wafersync ingest' to create it\n\n")
			return
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error checking database: %v\n", err)
			os.Exit(1)
		}

		database := openStore()
		defer database.Close()

		ctx := context.Background()
		counts, err := database.GetCounts(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error getting counts: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("\n%s Index Status\n\n", ui.RenderAccent("📊"))
		fmt.Printf("Location: %s\n", path)
		fmt.Printf("Size: %s\n", formatSize(info.Size()))
		fmt.Printf("Wafer maps: %d\n", counts.WaferMaps)
		fmt.Printf("Spreadsheets: %d\n", counts.Spreadsheets)
		fmt.Printf("Ledger: %d files, %d folders\n", counts.Files, counts.Folders)
		fmt.Printf("Runs: %d\n", counts.Runs)

		runs, err := database.ListRuns(ctx, 1)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error listing runs: %v\n", err)
			os.Exit(1)
		}
		if len(runs) > 0 {
			last := runs[0]
			state := ui.RenderPass("ok")
			if last.Failed {
				state = ui.RenderWarn("with failures")
			}
			fmt.Printf("Last run: %s (%s)\n", last.FinishedAt.Local().Format("2006-01-02 15:04:05"), state)
		}
		fmt.Println()
	},
}

var runsCmd = &cobra.Command{
	Use:     "runs",
	GroupID: "query",
	Short:   "List recent ingest runs",
	Run: func(cmd *cobra.Command, args []string) {
		limit, _ := cmd.Flags().GetInt("limit")

		database := openStore()
		defer database.Close()

		runs, err := database.ListRuns(context.Background(), limit)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error listing runs: %v\n", err)
			os.Exit(1)
		}
		if len(runs) == 0 {
			fmt.Println("No runs recorded")
			return
		}

		for _, run := range runs {
			report, err := ingest.UnmarshalReport(run.Report)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Warning: run %s: %v\n", run.ID, err)
				continue
			}
			mark := ui.RenderPass("✓")
			if run.Failed {
				mark = ui.RenderWarn("⚠")
			}
			c := report.Counts
			fmt.Printf("%s %s  %s  %v  inserted=%d updated=%d cached=%d failures=%d\n",
				mark,
				ui.RenderMuted(shortID(run.ID)),
				run.StartedAt.Local().Format("2006-01-02 15:04:05"),
				report.Duration.Round(time.Millisecond),
				c.Inserted, c.Updated, c.SkippedCached, len(report.Failures))
		}
	},
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func formatSize(size int64) string {
	switch {
	case size > 1024*1024:
		return fmt.Sprintf("%.1f MB", float64(size)/(1024*1024))
	case size > 1024:
		return fmt.Sprintf("%.1f KB", float64(size)/1024)
	default:
		return fmt.Sprintf("%d bytes", size)
	}
}

func init() {
	runsCmd.Flags().IntP("limit", "n", 10, "Number of runs to show (0 = all)")
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(runsCmd)
}
