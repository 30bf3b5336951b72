// Command wafersync ingests wafer test and inspection artifacts into a local
// SQLite index and maps substrate defects onto die grids.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/fabtrace/wafersync/internal/config"
	"github.com/fabtrace/wafersync/internal/logging"
	"github.com/fabtrace/wafersync/internal/store"
	"github.com/fabtrace/wafersync/internal/ui"
)

// Version is set at build time.
var Version = "dev"

var (
	configPath string
	cfg        *config.Config
	v          *viper.Viper
	sink       *logging.Sink
)

var rootCmd = &cobra.Command{
	Use:   "wafersync",
	Short: "Incremental wafer artifact ingestion",
	Long: `wafersync walks the stage folders of a wafer data root (substrate, cpProber,
wlbi, aoi), records every wafer map and substrate spreadsheet in a local
SQLite index, and only re-reads what changed since the last run.

Configuration is read from wafersync.yaml (working directory, then the user
config directory), WAFERSYNC_* environment variables, and flags, in
increasing precedence.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		var err error
		v = config.New()
		if err := v.BindPFlag("db.path", cmd.Flags().Lookup("db")); err != nil {
			fmt.Fprintf(os.Stderr, "Error binding flags: %v\n", err)
			os.Exit(1)
		}
		if err := v.BindPFlag("log.file", cmd.Flags().Lookup("log-file")); err != nil {
			fmt.Fprintf(os.Stderr, "Error binding flags: %v\n", err)
			os.Exit(1)
		}
		if err := config.Read(v, configPath); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		cfg, err = config.Decode(v)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		if noColor, _ := cmd.Flags().GetBool("no-color"); noColor {
			ui.SetColor(false)
		}
		quiet, _ := cmd.Flags().GetBool("quiet")
		sink = logging.Open(logging.Options{
			File:       cfg.Log.File,
			MaxSizeMB:  cfg.Log.MaxSizeMB,
			MaxBackups: cfg.Log.MaxBackups,
			MaxAgeDays: cfg.Log.MaxAgeDays,
			Quiet:      quiet,
		})
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if sink != nil {
			_ = sink.Close()
		}
	},
}

func init() {
	rootCmd.AddGroup(
		&cobra.Group{ID: "ingest", Title: "Ingestion:"},
		&cobra.Group{ID: "query", Title: "Records:"},
		&cobra.Group{ID: "maint", Title: "Maintenance:"},
	)

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default: ./wafersync.yaml)")
	rootCmd.PersistentFlags().String("db", "", "Database path (default: .wafersync/wafersync.db)")
	rootCmd.PersistentFlags().String("log-file", "", "Also write logs to this file, rotated by size")
	rootCmd.PersistentFlags().BoolP("quiet", "q", false, "Suppress log output on stderr")
	rootCmd.PersistentFlags().Bool("no-color", false, "Disable colored output")
}

// openStore opens the configured database, creating it and its schema if
// needed. Errors exit the process.
func openStore() *store.DB {
	path := cfg.DB.Path
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		fmt.Fprintf(os.Stderr, "Error creating database directory: %v\n", err)
		os.Exit(1)
	}

	database, err := store.Open(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening database: %v\n", err)
		os.Exit(1)
	}
	if err := database.InitSchema(); err != nil {
		_ = database.Close()
		fmt.Fprintf(os.Stderr, "Error initializing schema: %v\n", err)
		os.Exit(1)
	}
	return database
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
