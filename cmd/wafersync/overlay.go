package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/fabtrace/wafersync/internal/overlay"
	"github.com/fabtrace/wafersync/internal/ui"
)

// overlayInput is the JSON document read by the overlay command.
type overlayInput struct {
	Dies    []overlay.Die        `json:"dies"`
	Layout  []overlay.Die        `json:"layout,omitempty"`
	Defects []overlay.DefectRect `json:"defects"`

	// Inline geometry, used when no product is given.
	Grid   *overlay.GridSize  `json:"grid,omitempty"`
	Offset overlay.GridOffset `json:"offset"`
	Size   overlay.SizeOffset `json:"size"`
}

type overlayOutput struct {
	Dies    []overlay.Die      `json:"dies"`
	Summary []overlay.BinCount `json:"summary"`
	Marked  int                `json:"marked"`
}

var overlayCmd = &cobra.Command{
	Use:     "overlay <input.json>",
	GroupID: "query",
	Short:   "Map substrate defects onto a die grid",
	Long: `Reassign every die that overlaps a substrate defect to bin "D".

The input is a JSON document:

  {
    "dies":    [{"x": 0, "y": 0, "bin": "1"}, ...],
    "layout":  [...],                       (optional product layout)
    "defects": [{"x": 1.2, "y": -0.4, "width": 30, "height": 25}, ...],
    "grid":    {"width": 5.2, "height": 4.8}, (when --product is not set)
    "offset":  {"x": 0, "y": 0},
    "size":    {"x": 0, "y": 0}
  }

Defect x/y are millimeters; width/height and the size offset are
micrometers. Dies in bins S, * and 257 are never reassigned.

With --product, the grid, offset and size come from the products file
(overlay.products_file in the config, or --products).`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		product, _ := cmd.Flags().GetString("product")
		productsFile, _ := cmd.Flags().GetString("products")
		jsonOutput, _ := cmd.Flags().GetBool("json")
		if productsFile == "" {
			productsFile = cfg.Overlay.ProductsFile
		}

		// #nosec G304 - controlled path from CLI
		data, err := os.ReadFile(args[0])
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error reading input: %v\n", err)
			os.Exit(1)
		}
		var in overlayInput
		if err := json.Unmarshal(data, &in); err != nil {
			fmt.Fprintf(os.Stderr, "Error parsing %s: %v\n", args[0], err)
			os.Exit(1)
		}

		geom, err := resolveGeometry(in, product, productsFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		seed := overlay.Seed(in.Dies, in.Layout)
		dies := overlay.Map(seed, in.Defects, geom.Grid, geom.Offset, geom.Size)
		out := overlayOutput{Dies: dies, Summary: overlay.Summary(dies)}
		for i := range dies {
			if dies[i].Bin == overlay.DefectBin && seed[i].Bin != overlay.DefectBin {
				out.Marked++
			}
		}

		if jsonOutput {
			writeJSON(out)
			return
		}

		fmt.Printf("%s %d of %d dies overlap %d defect(s)\n",
			ui.RenderPass("✓"), out.Marked, len(dies), len(in.Defects))
		for _, bc := range out.Summary {
			fmt.Printf("   bin %-4s %d\n", bc.Bin, bc.Count)
		}
	},
}

func resolveGeometry(in overlayInput, product, productsFile string) (overlay.Geometry, error) {
	if product == "" {
		if in.Grid == nil {
			return overlay.Geometry{}, errors.New("input has no grid; pass --product with a products file")
		}
		g := overlay.Geometry{Grid: *in.Grid, Offset: in.Offset, Size: in.Size}
		return g, g.Validate()
	}
	if productsFile == "" {
		return overlay.Geometry{}, errors.New("--product needs a products file (--products or overlay.products_file)")
	}
	return overlay.LoadGeometry(productsFile, product)
}

func init() {
	overlayCmd.Flags().String("product", "", "Product whose geometry to use")
	overlayCmd.Flags().String("products", "", "Products TOML file (default: overlay.products_file)")
	overlayCmd.Flags().Bool("json", false, "Output mapped dies as JSON")
	rootCmd.AddCommand(overlayCmd)
}
