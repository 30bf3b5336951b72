package main

import (
	"context"
	"fmt"
	"os"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/fabtrace/wafersync/internal/ledger"
	"github.com/fabtrace/wafersync/internal/ui"
)

var ledgerCmd = &cobra.Command{
	Use:     "ledger",
	GroupID: "maint",
	Short:   "Inspect and maintain the change ledger",
	Long: `The ledger records the last seen modification time (and optionally the
content hash) of every processed file and folder. Ingest skips whatever
the ledger says is unchanged.`,
}

var ledgerPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Forget ledger entries whose paths no longer exist",
	Run: func(cmd *cobra.Command, args []string) {
		dryRun, _ := cmd.Flags().GetBool("dry-run")

		database := openStore()
		defer database.Close()
		ctx := context.Background()

		files, err := database.ListFileIndexes(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error listing file entries: %v\n", err)
			os.Exit(1)
		}
		folders, err := database.ListFolderIndexes(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error listing folder entries: %v\n", err)
			os.Exit(1)
		}

		filePaths := make([]string, len(files))
		for i, e := range files {
			filePaths[i] = e.Path
		}
		folderPaths := make([]string, len(folders))
		for i, e := range folders {
			folderPaths[i] = e.Path
		}

		tracker := ledger.NewTracker(database)
		missingFiles, err := tracker.Missing(ctx, filePaths)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error checking files: %v\n", err)
			os.Exit(1)
		}
		missingFolders, err := tracker.Missing(ctx, folderPaths)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error checking folders: %v\n", err)
			os.Exit(1)
		}

		if dryRun {
			for _, p := range append(missingFolders, missingFiles...) {
				fmt.Printf("   %s\n", p)
			}
			fmt.Printf("%s Would prune %d file and %d folder entries\n",
				ui.RenderPass("✓"), len(missingFiles), len(missingFolders))
			return
		}

		nf, err := database.DeleteFileIndexes(ctx, missingFiles)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error pruning file entries: %v\n", err)
			os.Exit(1)
		}
		nd, err := database.DeleteFolderIndexes(ctx, missingFolders)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error pruning folder entries: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("%s Pruned %d file and %d folder entries\n", ui.RenderPass("✓"), nf, nd)
	},
}

var ledgerResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Forget every ledger entry, so the next ingest re-reads everything",
	Long: `Delete every file and folder ledger entry. Indexed records are kept; the
next ingest re-reads all files and keeps whichever copy of each record is
newer.`,
	Run: func(cmd *cobra.Command, args []string) {
		yes, _ := cmd.Flags().GetBool("yes")

		if !yes {
			if !ui.IsInteractive() {
				fmt.Fprintf(os.Stderr, "Error: refusing to reset the ledger without --yes in a non-interactive session\n")
				os.Exit(1)
			}
			confirmed := false
			form := huh.NewForm(huh.NewGroup(
				huh.NewConfirm().
					Title("Reset the change ledger?").
					Description("The next ingest will re-read every file.").
					Value(&confirmed).
					Affirmative("Yes, reset").
					Negative("Cancel"),
			))
			if err := form.Run(); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			if !confirmed {
				fmt.Println("Cancelled")
				return
			}
		}

		database := openStore()
		defer database.Close()
		ctx := context.Background()

		nf, err := database.DeleteAllFileIndexes(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error resetting file entries: %v\n", err)
			os.Exit(1)
		}
		nd, err := database.DeleteAllFolderIndexes(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error resetting folder entries: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("%s Removed %d file and %d folder entries\n", ui.RenderPass("✓"), nf, nd)
	},
}

func init() {
	ledgerPruneCmd.Flags().Bool("dry-run", false, "List entries without deleting them")
	ledgerResetCmd.Flags().BoolP("yes", "y", false, "Skip confirmation")
	ledgerCmd.AddCommand(ledgerPruneCmd)
	ledgerCmd.AddCommand(ledgerResetCmd)
	rootCmd.AddCommand(ledgerCmd)
}
