package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/fabtrace/wafersync/internal/daemon"
	"github.com/fabtrace/wafersync/internal/dashboard"
	"github.com/fabtrace/wafersync/internal/ingest"
	"github.com/fabtrace/wafersync/internal/ui"
)

var watchCmd = &cobra.Command{
	Use:     "watch [data-root]",
	GroupID: "ingest",
	Short:   "Ingest now, then again whenever source files change (foreground)",
	Long: `Run an ingest, then watch every source root and re-run after changes
settle for the debounce interval (watch.debounce, default 2s).

Changed paths are invalidated in the folder ledger before each run, so
files added deep inside an unchanged folder tree are still found.

With --dashboard, a WebSocket dashboard in the same process broadcasts
run_started, run_complete, failure and stats messages:
  ws://localhost:8080/ws      live messages
  http://localhost:8080/runs  recent run reports

Press Ctrl+C to stop.`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		withDashboard, _ := cmd.Flags().GetBool("dashboard")
		port, _ := cmd.Flags().GetInt("port")
		if !cmd.Flags().Changed("port") {
			port = cfg.Dashboard.Port
		}

		sources := resolveSources(args)

		database := openStore()
		defer database.Close()

		var server *dashboard.Server
		var observer ingest.Observer
		if withDashboard {
			server = dashboard.NewServer(&dashboard.Config{
				Port:   port,
				Runs:   database,
				Logger: sink.Logger("dashboard"),
			})
			observer = dashboard.NewHandler(server, sink.Logger("dashboard"))
		}

		in := newIngestor(database, cfg.Ingest.UseHash, observer)

		d, err := daemon.NewWithConfig(in, sources, &daemon.Config{
			DebounceInterval: cfg.Watch.Debounce,
			Options:          ingest.RunOptions{IgnoreSessionCache: cfg.Ingest.IgnoreSessionCache},
			Logger:           sink.Logger("daemon"),
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error creating daemon: %v\n", err)
			os.Exit(1)
		}

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		fmt.Printf("%s Watching %d source(s)\n", ui.RenderAccent("👀"), len(sources))
		for _, s := range sources {
			fmt.Printf("   %s\n", s)
		}
		fmt.Printf("   Index: %s\n", cfg.DB.Path)

		g, ctx := errgroup.WithContext(ctx)
		if server != nil {
			if err := server.Start(); err != nil {
				fmt.Fprintf(os.Stderr, "Error: failed to start dashboard: %v\n", err)
				os.Exit(1)
			}
			fmt.Printf("   Dashboard: http://%s\n", server.GetAddr())
			g.Go(func() error {
				<-ctx.Done()
				return server.Stop()
			})
		}
		fmt.Printf("\nPress Ctrl+C to stop\n\n")

		g.Go(func() error {
			return d.Start(ctx)
		})

		if err := g.Wait(); err != nil {
			fmt.Fprintf(os.Stderr, "Watch stopped with error: %v\n", err)
			os.Exit(1)
		}

		stats := d.Stats()
		fmt.Printf("\n%s Stopped after %d run(s), %d failed\n", ui.RenderPass("✓"), stats.Runs, stats.FailedRuns)
	},
}

func init() {
	watchCmd.Flags().Bool("dashboard", false, "Serve the WebSocket dashboard while watching")
	watchCmd.Flags().IntP("port", "p", 8080, "Dashboard port (default: dashboard.port)")
	rootCmd.AddCommand(watchCmd)
}
