package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/goccy/go-json"
	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
	"github.com/spf13/cobra"

	"github.com/fabtrace/wafersync/internal/schema"
	"github.com/fabtrace/wafersync/internal/store"
)

var recordsCmd = &cobra.Command{
	Use:     "records",
	GroupID: "query",
	Short:   "List indexed wafer maps",
	Long: `List wafer maps in the index, newest first.

--since accepts RFC3339, a plain date, or natural language:
  wafersync records --since 2025-07-01
  wafersync records --since "3 days ago"
  wafersync records --product P1 --stage aoi --since "last monday"`,
	Run: func(cmd *cobra.Command, args []string) {
		product, _ := cmd.Flags().GetString("product")
		batch, _ := cmd.Flags().GetString("batch")
		stageStr, _ := cmd.Flags().GetString("stage")
		sinceStr, _ := cmd.Flags().GetString("since")
		limit, _ := cmd.Flags().GetInt("limit")
		jsonOutput, _ := cmd.Flags().GetBool("json")

		filter := store.WaferMapFilter{ProductID: product, BatchID: batch, Limit: limit}
		if stageStr != "" {
			stage, err := schema.ParseStage(stageStr)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			filter.Stage = stage
		}
		if sinceStr != "" {
			since, err := parseSince(sinceStr, time.Now())
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			filter.Since = &since
		}

		database := openStore()
		defer database.Close()

		rows, err := database.ListWaferMaps(context.Background(), filter)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error listing records: %v\n", err)
			os.Exit(1)
		}

		if jsonOutput {
			writeJSON(rows)
			return
		}
		if len(rows) == 0 {
			fmt.Println("No records found")
			return
		}
		printWaferMaps(rows)
	},
}

var recordsLatestCmd = &cobra.Command{
	Use:   "latest <product> <batch> <wafer>",
	Short: "Show the most recent wafer map of one wafer across stages",
	Args:  cobra.ExactArgs(3),
	Run: func(cmd *cobra.Command, args []string) {
		wafer, err := strconv.Atoi(args[2])
		if err != nil || wafer < 0 {
			fmt.Fprintf(os.Stderr, "Error: invalid wafer number %q\n", args[2])
			os.Exit(1)
		}
		jsonOutput, _ := cmd.Flags().GetBool("json")

		database := openStore()
		defer database.Close()

		row, err := database.LatestWaferMap(context.Background(), args[0], args[1], wafer)
		if errors.Is(err, sql.ErrNoRows) {
			fmt.Fprintf(os.Stderr, "Error: no wafer map for %s/%s/%d\n", args[0], args[1], wafer)
			os.Exit(1)
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		if jsonOutput {
			writeJSON(row)
			return
		}
		printWaferMaps([]*store.WaferMapRow{row})
	},
}

var recordsSheetsCmd = &cobra.Command{
	Use:   "sheets",
	Short: "List indexed substrate spreadsheets",
	Run: func(cmd *cobra.Command, args []string) {
		kind, _ := cmd.Flags().GetString("kind")
		jsonOutput, _ := cmd.Flags().GetBool("json")

		database := openStore()
		defer database.Close()

		sheets, err := database.ListSpreadsheets(context.Background(), schema.SpreadsheetKind(kind))
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error listing spreadsheets: %v\n", err)
			os.Exit(1)
		}
		if jsonOutput {
			writeJSON(sheets)
			return
		}
		if len(sheets) == 0 {
			fmt.Println("No spreadsheets found")
			return
		}

		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "KIND\tID\tTIME\tPATH")
		for _, s := range sheets {
			id := s.ID
			if s.OEM != "" {
				id = s.OEM
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", s.Kind, id, formatMs(s.TimeMs), s.FilePath)
		}
		_ = tw.Flush()
	},
}

// parseSince accepts RFC3339, YYYY-MM-DD (local midnight) or a natural
// language expression relative to now.
func parseSince(s string, now time.Time) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	if t, err := time.ParseInLocation("2006-01-02", s, time.Local); err == nil {
		return t, nil
	}

	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)
	r, err := w.Parse(s, now)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --since %q: %w", s, err)
	}
	if r == nil {
		return time.Time{}, fmt.Errorf("invalid --since %q: not a date or time expression", s)
	}
	return r.Time, nil
}

func formatMs(ms *int64) string {
	if ms == nil {
		return "-"
	}
	return time.UnixMilli(*ms).Local().Format("2006-01-02 15:04:05")
}

func printWaferMaps(rows []*store.WaferMapRow) {
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PRODUCT\tBATCH\tWAFER\tSTAGE\tSUB\tRETEST\tTIME\tPATH")
	for _, r := range rows {
		sub := "-"
		if r.SubStage != nil {
			sub = strconv.Itoa(*r.SubStage)
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\t%d\t%s\t%s\n",
			r.ProductID, r.BatchID, r.WaferID, r.Stage, sub, r.RetestCount, formatMs(r.TimeMs), r.FilePath)
	}
	_ = tw.Flush()
}

func writeJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "Error encoding JSON: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	recordsCmd.Flags().String("product", "", "Filter by product")
	recordsCmd.Flags().String("batch", "", "Filter by batch")
	recordsCmd.Flags().String("stage", "", "Filter by stage (substrate, cpProber, wlbi, aoi)")
	recordsCmd.Flags().String("since", "", "Only records at or after this time")
	recordsCmd.Flags().IntP("limit", "n", 50, "Maximum number of records (0 = all)")
	recordsCmd.PersistentFlags().Bool("json", false, "Output as JSON")
	recordsSheetsCmd.Flags().String("kind", "", "Filter by kind (defect_list, mapping, product)")

	recordsCmd.AddCommand(recordsLatestCmd)
	recordsCmd.AddCommand(recordsSheetsCmd)
	rootCmd.AddCommand(recordsCmd)
}
