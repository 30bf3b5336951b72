package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/fabtrace/wafersync/internal/ingest"
	"github.com/fabtrace/wafersync/internal/schema"
	"github.com/fabtrace/wafersync/internal/ui"
)

var sourcesCmd = &cobra.Command{
	Use:     "sources",
	GroupID: "ingest",
	Short:   "Show and detect ingest sources",
	Run: func(cmd *cobra.Command, args []string) {
		sources, err := cfg.IngestSources()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error in config: %v\n", err)
			os.Exit(1)
		}
		if len(sources) == 0 {
			fmt.Println("No sources configured")
			return
		}
		for _, s := range sources {
			fmt.Printf("   %s\n", s)
		}
	},
}

var sourcesDetectCmd = &cobra.Command{
	Use:   "detect <data-root>",
	Short: "Classify the stage folders under a data root",
	Long: `List the immediate child folders of a data root that match a stage
folder pattern:

  substrate  Substrate
  fabCp      FAB CP
  cpProber   CP-prober-*
  wlbi       WLBI-*
  aoi        AOI-*`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		found, err := ingest.Recognize(ingest.OSLister{}, args[0], ingest.DefaultPatterns)
		if err != nil && !errors.Is(err, ingest.ErrInvalidPattern) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s %v\n", ui.RenderWarn("⚠"), err)
		}

		total := 0
		for _, stage := range schema.Stages {
			dirs := found[stage]
			if len(dirs) == 0 {
				continue
			}
			fmt.Printf("%s\n", ui.RenderBold(string(stage)))
			for _, d := range dirs {
				fmt.Printf("   %s\n", d)
			}
			total += len(dirs)
		}
		if total == 0 {
			fmt.Printf("%s No stage folders found under %s\n", ui.RenderWarn("⚠"), args[0])
		}
	},
}

func init() {
	sourcesCmd.AddCommand(sourcesDetectCmd)
	rootCmd.AddCommand(sourcesCmd)
}
