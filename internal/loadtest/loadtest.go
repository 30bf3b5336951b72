// Package loadtest provides load testing utilities for the ingestion pipeline.
//
// It generates a synthetic data root with cpProber, wlbi and aoi stage
// folders, then measures a cold ingest, repeated warm ingests that should be
// answered from the ledger, and incremental ingests after a handful of files
// change. Concurrent record lookups can be timed against the populated store.
package loadtest

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"log"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fabtrace/wafersync/internal/ingest"
	"github.com/fabtrace/wafersync/internal/schema"
	"github.com/fabtrace/wafersync/internal/store"
)

// TreeSpec sizes a synthetic data root.
type TreeSpec struct {
	Products int
	Batches  int
	Wafers   int
}

// DefaultTreeSpec is a small fab: 4 products x 5 batches x 25 wafers.
var DefaultTreeSpec = TreeSpec{Products: 4, Batches: 5, Wafers: 25}

// TestTree is a generated data root.
type TestTree struct {
	Root    string
	Spec    TreeSpec
	Sources []ingest.Source
	// Files holds every leaf file path, in generation order.
	Files []string
	// BaseTime is the mtime every generated entry starts with.
	BaseTime time.Time
}

// LatencyStats captures performance metrics from load tests.
type LatencyStats struct {
	Min          time.Duration
	Max          time.Duration
	Mean         time.Duration
	P50          time.Duration // Median
	P95          time.Duration
	P99          time.Duration
	TotalQueries int
	Errors       int
	Durations    []time.Duration
}

var loadStages = []schema.Stage{schema.StageCPProber, schema.StageWLBI, schema.StageAOI}

// GenerateTree writes a synthetic data root under root.
//
// Each product/batch pair gets one cpProber process folder with a wafer
// folder per wafer, one wlbi process folder, and one aoi batch folder.
// Every file and folder mtime is pinned to the returned BaseTime.
func GenerateTree(root string, shape TreeSpec) (*TestTree, error) {
	if shape.Products <= 0 || shape.Batches <= 0 || shape.Wafers <= 0 {
		return nil, fmt.Errorf("tree shape must be positive (got %+v)", shape)
	}

	tree := &TestTree{
		Root:     root,
		Spec:     shape,
		BaseTime: time.Now().Add(-24 * time.Hour).Truncate(time.Second),
	}
	for _, stage := range loadStages {
		tree.Sources = append(tree.Sources, ingest.Source{
			Stage:   stage,
			Root:    root,
			Pattern: ingest.DefaultPatterns[stage],
		})
	}

	stamp := tree.BaseTime.UTC()
	for p := 0; p < shape.Products; p++ {
		product := fmt.Sprintf("P%02d", p)
		for b := 0; b < shape.Batches; b++ {
			batch := fmt.Sprintf("B%03d", b)
			cpDir := filepath.Join(root, "CP-prober-01", fmt.Sprintf("%s_%s_1_0", product, batch))
			wlbiDir := filepath.Join(root, "WLBI-01", fmt.Sprintf("%s_%s_1_0", product, batch), "WaferMap")
			aoiDir := filepath.Join(root, "AOI-01", fmt.Sprintf("%s_%s", product, batch))

			for w := 1; w <= shape.Wafers; w++ {
				files := []string{
					filepath.Join(cpDir, fmt.Sprintf("%s_%s_%d", product, batch, w), fmt.Sprintf("%s_%s_%d_mapEx.txt", product, batch, w)),
					filepath.Join(wlbiDir, fmt.Sprintf("%s_%d_%s.WaferMap", batch, w, stamp.Format("20060102_150405"))),
					filepath.Join(aoiDir, fmt.Sprintf("%s_%s_%d_%s.txt", product, batch, w, stamp.Format("20060102150405"))),
				}
				for _, f := range files {
					if err := writeFile(f); err != nil {
						return nil, err
					}
					tree.Files = append(tree.Files, f)
				}
			}
		}
	}

	err := filepath.WalkDir(root, func(path string, _ fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		return os.Chtimes(path, tree.BaseTime, tree.BaseTime)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to pin mtimes: %w", err)
	}

	return tree, nil
}

func writeFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create %s: %w", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, []byte(filepath.Base(path)+"\n"), 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

// Touch advances the mtime of n randomly chosen files by offset from
// BaseTime and returns their paths. Folder mtimes are left alone, as they
// are when a file is rewritten in place.
func (tt *TestTree) Touch(rng *rand.Rand, n int, offset time.Duration) ([]string, error) {
	n = min(n, len(tt.Files))
	ts := tt.BaseTime.Add(offset)
	touched := make([]string, 0, n)
	for _, i := range rng.Perm(len(tt.Files))[:n] {
		path := tt.Files[i]
		if err := os.Chtimes(path, ts, ts); err != nil {
			return nil, fmt.Errorf("failed to touch %s: %w", path, err)
		}
		touched = append(touched, path)
	}
	return touched, nil
}

// Records is the number of wafer maps a full ingest of the tree produces.
func (tt *TestTree) Records() int {
	return len(tt.Files)
}

// Options configures RunIngest.
type Options struct {
	// WarmRuns is the number of unchanged re-runs after the cold run.
	WarmRuns int
	// IncrementalRuns is the number of runs after touching Touched files.
	IncrementalRuns int
	Touched         int
	// UseHash enables the content-hash fallback.
	UseHash bool
	// Logger for ingest events (nil = discard).
	Logger *log.Logger
}

// DefaultOptions returns sensible defaults for a quick load test.
func DefaultOptions() Options {
	return Options{WarmRuns: 5, IncrementalRuns: 5, Touched: 10}
}

// Result is the outcome of RunIngest.
type Result struct {
	Cold        time.Duration
	ColdCounts  ingest.Counts
	Warm        *LatencyStats
	Incremental *LatencyStats
	Records     int
}

// RunIngest ingests the tree into database once cold, then WarmRuns times
// unchanged, then IncrementalRuns times after touching files. Incremental
// runs invalidate the touched paths the way the watch daemon does.
func RunIngest(ctx context.Context, database *store.DB, tree *TestTree, opts Options) (*Result, error) {
	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	cfg := ingest.DefaultConfig()
	cfg.UseHash = opts.UseHash
	cfg.Location = time.UTC
	cfg.SaveReports = false
	cfg.Logger = logger

	in, err := ingest.New(database, nil, cfg)
	if err != nil {
		return nil, err
	}

	run := func() (*ingest.Report, time.Duration, error) {
		start := time.Now()
		report, err := in.Run(ctx, tree.Sources, ingest.RunOptions{IgnoreSessionCache: true})
		elapsed := time.Since(start)
		if err != nil {
			return nil, elapsed, err
		}
		if report.Failed() {
			return report, elapsed, fmt.Errorf("run reported %d failures (first: %s)", len(report.Failures), report.Failures[0])
		}
		return report, elapsed, nil
	}

	report, cold, err := run()
	if err != nil {
		return nil, fmt.Errorf("cold run failed: %w", err)
	}
	result := &Result{Cold: cold, ColdCounts: report.Counts}
	if result.Records, err = database.CountWaferMaps(ctx); err != nil {
		return nil, err
	}

	var warm []time.Duration
	errs := 0
	for i := 0; i < opts.WarmRuns; i++ {
		_, d, err := run()
		warm = append(warm, d)
		if err != nil {
			errs++
		}
	}
	if len(warm) > 0 {
		result.Warm = computeLatencyStats(warm)
		result.Warm.Errors = errs
	}

	rng := rand.New(rand.NewSource(42))
	var incr []time.Duration
	errs = 0
	for i := 0; i < opts.IncrementalRuns; i++ {
		touched, err := tree.Touch(rng, opts.Touched, time.Duration(i+1)*time.Minute)
		if err != nil {
			return nil, err
		}
		if _, err := in.Invalidate(ctx, tree.Root, touched); err != nil {
			return nil, fmt.Errorf("failed to invalidate touched paths: %w", err)
		}
		_, d, err := run()
		incr = append(incr, d)
		if err != nil {
			errs++
		}
	}
	if len(incr) > 0 {
		result.Incremental = computeLatencyStats(incr)
		result.Incremental.Errors = errs
	}

	return result, nil
}

// RunConcurrentQueries simulates N concurrent readers looking up the latest
// wafer map of random wafers in the tree.
//
// Each reader performs queriesPerReader lookups, recording latency for each.
func RunConcurrentQueries(ctx context.Context, database *store.DB, tree *TestTree, numReaders, queriesPerReader int) (*LatencyStats, error) {
	var wg sync.WaitGroup
	resultsChan := make(chan []time.Duration, numReaders)
	errorsChan := make(chan error, numReaders)

	for i := 0; i < numReaders; i++ {
		wg.Add(1)
		go func(readerID int) {
			defer wg.Done()

			rng := rand.New(rand.NewSource(int64(readerID)))
			durations := make([]time.Duration, 0, queriesPerReader)
			for j := 0; j < queriesPerReader; j++ {
				product := fmt.Sprintf("P%02d", rng.Intn(tree.Spec.Products))
				batch := fmt.Sprintf("B%03d", rng.Intn(tree.Spec.Batches))
				wafer := 1 + rng.Intn(tree.Spec.Wafers)

				start := time.Now()
				row, err := database.LatestWaferMap(ctx, product, batch, wafer)
				durations = append(durations, time.Since(start))

				if err != nil {
					errorsChan <- fmt.Errorf("reader %d query %d failed: %w", readerID, j, err)
					break
				}
				if row == nil {
					errorsChan <- fmt.Errorf("reader %d found no wafer map for %s/%s/%d", readerID, product, batch, wafer)
					break
				}
			}
			resultsChan <- durations
		}(i)
	}

	wg.Wait()
	close(resultsChan)
	close(errorsChan)

	var firstErr error
	errorCount := 0
	for err := range errorsChan {
		errorCount++
		if firstErr == nil {
			firstErr = err
		}
	}

	var all []time.Duration
	for durations := range resultsChan {
		all = append(all, durations...)
	}
	if len(all) == 0 {
		return nil, fmt.Errorf("no queries completed: %v", firstErr)
	}

	stats := computeLatencyStats(all)
	stats.Errors = errorCount
	return stats, nil
}

// computeLatencyStats calculates statistics from a slice of durations.
func computeLatencyStats(durations []time.Duration) *LatencyStats {
	if len(durations) == 0 {
		return &LatencyStats{}
	}

	sorted := make([]time.Duration, len(durations))
	copy(sorted, durations)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i] < sorted[j]
	})

	var sum time.Duration
	for _, d := range durations {
		sum += d
	}

	return &LatencyStats{
		Min:          sorted[0],
		Max:          sorted[len(sorted)-1],
		Mean:         sum / time.Duration(len(durations)),
		P50:          sorted[len(sorted)*50/100],
		P95:          sorted[len(sorted)*95/100],
		P99:          sorted[len(sorted)*99/100],
		TotalQueries: len(durations),
		Durations:    sorted,
	}
}

// PrintStats formats latency statistics to w.
func (s *LatencyStats) PrintStats(w io.Writer, title string) {
	fmt.Fprintf(w, "%s:\n", title)
	fmt.Fprintf(w, "  Samples:       %d\n", s.TotalQueries)
	fmt.Fprintf(w, "  Errors:        %d\n", s.Errors)
	fmt.Fprintf(w, "  Min:           %v\n", s.Min)
	fmt.Fprintf(w, "  P50 (Median):  %v\n", s.P50)
	fmt.Fprintf(w, "  Mean:          %v\n", s.Mean)
	fmt.Fprintf(w, "  P95:           %v\n", s.P95)
	fmt.Fprintf(w, "  P99:           %v\n", s.P99)
	fmt.Fprintf(w, "  Max:           %v\n", s.Max)
}
