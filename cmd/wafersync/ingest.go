package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/fabtrace/wafersync/internal/ingest"
	"github.com/fabtrace/wafersync/internal/store"
	"github.com/fabtrace/wafersync/internal/ui"
)

var ingestCmd = &cobra.Command{
	Use:     "ingest [data-root]",
	GroupID: "ingest",
	Short:   "Ingest changed artifacts into the index",
	Long: `Walk every configured source and sync the wafer maps and substrate
spreadsheets found in new or changed files.

With a data-root argument, every stage folder recognized directly under it
is ingested (Substrate, CP-prober-*, WLBI-*, AOI-*) and configured sources
are ignored.

Folders that hold data files are skipped without being listed while their
mtime is unchanged, so a second run over an unchanged tree does almost no
filesystem work.

A wafer map replaces the stored one only when its timestamp is newer.
CP-prober map names carry no timestamp, so the first map stored for a
product, batch, wafer and sub stage is kept: a later retest folder of the
same sub stage is read but skipped.

Examples:
  wafersync ingest /data
  wafersync ingest --dry-run
  wafersync ingest --reset-ledger --use-hash`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		dryRun, _ := cmd.Flags().GetBool("dry-run")
		ignoreCache, _ := cmd.Flags().GetBool("ignore-session-cache")
		resetLedger, _ := cmd.Flags().GetBool("reset-ledger")
		useHash, _ := cmd.Flags().GetBool("use-hash")
		jsonOutput, _ := cmd.Flags().GetBool("json")

		sources := resolveSources(args)

		database := openStore()
		defer database.Close()

		in := newIngestor(database, useHash || cfg.Ingest.UseHash, nil)

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		report, err := in.Run(ctx, sources, ingest.RunOptions{
			DryRun:             dryRun,
			IgnoreSessionCache: ignoreCache || cfg.Ingest.IgnoreSessionCache,
			ResetLedger:        resetLedger,
		})
		if report == nil {
			fmt.Fprintf(os.Stderr, "Error during ingest: %v\n", err)
			os.Exit(1)
		}

		if jsonOutput {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			if err := enc.Encode(report); err != nil {
				fmt.Fprintf(os.Stderr, "Error encoding report: %v\n", err)
				os.Exit(1)
			}
		} else {
			printReport(os.Stdout, report)
		}

		if err != nil {
			fmt.Fprintf(os.Stderr, "Error during ingest: %v\n", err)
			os.Exit(1)
		}
		if report.Failed() {
			os.Exit(2)
		}
	},
}

// resolveSources returns the sources named by args, or the configured ones.
func resolveSources(args []string) []ingest.Source {
	if len(args) == 1 {
		cfg.DataRoot = args[0]
		cfg.Sources = nil
	}

	sources, err := cfg.IngestSources()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error in config: %v\n", err)
		os.Exit(1)
	}
	if len(sources) == 0 {
		fmt.Fprintf(os.Stderr, "Error: no sources configured\n")
		fmt.Fprintf(os.Stderr, "Pass a data root, set data_root in %s, or run 'wafersync config init'\n", configFileHint())
		os.Exit(1)
	}
	return sources
}

func configFileHint() string {
	if configPath != "" {
		return configPath
	}
	return "wafersync.yaml"
}

// newIngestor builds an ingestor from the loaded config.
func newIngestor(database *store.DB, useHash bool, observer ingest.Observer) *ingest.Ingestor {
	loc, err := cfg.Location()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error in config: %v\n", err)
		os.Exit(1)
	}

	icfg := ingest.DefaultConfig()
	icfg.UseHash = useHash
	icfg.Location = loc
	icfg.Observer = observer
	icfg.Logger = sink.Logger("ingest")

	in, err := ingest.New(database, nil, icfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating ingestor: %v\n", err)
		os.Exit(1)
	}
	return in
}

func printReport(w io.Writer, r *ingest.Report) {
	title := "Ingest complete"
	if r.DryRun {
		title = "Dry run complete"
	}
	mark := ui.RenderPass("✓")
	if r.Failed() {
		mark = ui.RenderWarn("⚠")
	}

	c := r.Counts
	fmt.Fprintf(w, "%s %s in %v\n", mark, title, r.Duration.Round(time.Millisecond))
	fmt.Fprintf(w, "   Scanned:        %d\n", c.Scanned)
	fmt.Fprintf(w, "   Skipped cached: %d\n", c.SkippedCached)
	fmt.Fprintf(w, "   Read:           %d\n", c.Read)
	fmt.Fprintf(w, "   Inserted:       %d\n", c.Inserted)
	fmt.Fprintf(w, "   Updated:        %d\n", c.Updated)
	fmt.Fprintf(w, "   Skipped:        %d\n", c.Skipped)

	if len(r.Failures) > 0 {
		fmt.Fprintf(w, "\n%s %d failure(s):\n", ui.RenderFail("✗"), len(r.Failures))
		for _, f := range r.Failures {
			fmt.Fprintf(w, "   %s\n", f)
		}
	}
}

func init() {
	ingestCmd.Flags().Bool("dry-run", false, "Walk and parse without writing")
	ingestCmd.Flags().Bool("ignore-session-cache", false, "Stat every path again instead of reusing this session's observations")
	ingestCmd.Flags().Bool("reset-ledger", false, "Forget every ledger entry first, so all files are re-read")
	ingestCmd.Flags().Bool("use-hash", false, "Compare content hashes when a file's mtime advanced")
	ingestCmd.Flags().Bool("json", false, "Output the run report as JSON")
	rootCmd.AddCommand(ingestCmd)
}
