package loadtest

import (
	"bytes"
	"context"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fabtrace/wafersync/internal/store"
)

var smallSpec = TreeSpec{Products: 2, Batches: 2, Wafers: 3}

func setupTestDB(t *testing.T) *store.DB {
	t.Helper()

	database, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	if err := database.InitSchema(); err != nil {
		t.Fatalf("failed to initialize schema: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	return database
}

// TestGenerateTree verifies the generated tree has the expected shape.
func TestGenerateTree(t *testing.T) {
	tree, err := GenerateTree(t.TempDir(), smallSpec)
	if err != nil {
		t.Fatalf("GenerateTree failed: %v", err)
	}

	if want := 3 * 2 * 2 * 3; len(tree.Files) != want {
		t.Errorf("Expected %d files, got %d", want, len(tree.Files))
	}
	if len(tree.Sources) != 3 {
		t.Errorf("Expected 3 sources, got %d", len(tree.Sources))
	}

	info, err := os.Stat(tree.Files[0])
	if err != nil {
		t.Fatal(err)
	}
	if !info.ModTime().Equal(tree.BaseTime) {
		t.Errorf("mtime = %v, want %v", info.ModTime(), tree.BaseTime)
	}
}

func TestGenerateTree_InvalidSpec(t *testing.T) {
	if _, err := GenerateTree(t.TempDir(), TreeSpec{Products: 1}); err == nil {
		t.Error("expected error for empty spec")
	}
}

// TestRunIngest verifies cold, warm and incremental runs over a small tree.
func TestRunIngest(t *testing.T) {
	ctx := context.Background()
	tree, err := GenerateTree(t.TempDir(), smallSpec)
	if err != nil {
		t.Fatal(err)
	}
	database := setupTestDB(t)

	result, err := RunIngest(ctx, database, tree, Options{WarmRuns: 2, IncrementalRuns: 2, Touched: 3})
	if err != nil {
		t.Fatalf("RunIngest failed: %v", err)
	}

	if result.Records != tree.Records() {
		t.Errorf("Expected %d records, got %d", tree.Records(), result.Records)
	}
	if result.ColdCounts.Inserted != tree.Records() {
		t.Errorf("cold run inserted %d, want %d", result.ColdCounts.Inserted, tree.Records())
	}
	if result.Warm == nil || result.Warm.TotalQueries != 2 || result.Warm.Errors != 0 {
		t.Errorf("warm stats = %+v", result.Warm)
	}
	if result.Incremental == nil || result.Incremental.TotalQueries != 2 || result.Incremental.Errors != 0 {
		t.Errorf("incremental stats = %+v", result.Incremental)
	}

	t.Logf("cold=%v warm p50=%v incremental p50=%v", result.Cold, result.Warm.P50, result.Incremental.P50)
}

func TestTouch(t *testing.T) {
	tree, err := GenerateTree(t.TempDir(), smallSpec)
	if err != nil {
		t.Fatal(err)
	}

	touched, err := tree.Touch(rand.New(rand.NewSource(1)), 1000, time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if len(touched) != len(tree.Files) {
		t.Errorf("touched %d files, want all %d", len(touched), len(tree.Files))
	}
	info, err := os.Stat(touched[0])
	if err != nil {
		t.Fatal(err)
	}
	if !info.ModTime().Equal(tree.BaseTime.Add(time.Minute)) {
		t.Errorf("mtime = %v, want base+1m", info.ModTime())
	}
}

// TestConcurrentQueries_Small verifies basic concurrent query functionality.
func TestConcurrentQueries_Small(t *testing.T) {
	ctx := context.Background()
	tree, err := GenerateTree(t.TempDir(), smallSpec)
	if err != nil {
		t.Fatal(err)
	}
	database := setupTestDB(t)
	if _, err := RunIngest(ctx, database, tree, Options{}); err != nil {
		t.Fatal(err)
	}

	stats, err := RunConcurrentQueries(ctx, database, tree, 4, 10)
	if err != nil {
		t.Fatalf("RunConcurrentQueries failed: %v", err)
	}
	if stats.TotalQueries != 40 {
		t.Errorf("Expected 40 queries, got %d", stats.TotalQueries)
	}
	if stats.Errors != 0 {
		t.Errorf("Expected 0 errors, got %d", stats.Errors)
	}
}

func TestComputeLatencyStats(t *testing.T) {
	var durations []time.Duration
	for i := 100; i >= 1; i-- {
		durations = append(durations, time.Duration(i)*time.Millisecond)
	}

	stats := computeLatencyStats(durations)
	if stats.Min != time.Millisecond || stats.Max != 100*time.Millisecond {
		t.Errorf("min/max = %v/%v", stats.Min, stats.Max)
	}
	if stats.P50 != 51*time.Millisecond {
		t.Errorf("P50 = %v, want 51ms", stats.P50)
	}
	if stats.P99 != 100*time.Millisecond {
		t.Errorf("P99 = %v, want 100ms", stats.P99)
	}
	if stats.Mean != 50500*time.Microsecond {
		t.Errorf("Mean = %v, want 50.5ms", stats.Mean)
	}
	if durations[0] != 100*time.Millisecond {
		t.Error("input slice must not be reordered")
	}

	if empty := computeLatencyStats(nil); empty.TotalQueries != 0 {
		t.Errorf("empty stats = %+v", empty)
	}

	var buf bytes.Buffer
	stats.PrintStats(&buf, "Warm runs")
	if !strings.Contains(buf.String(), "Warm runs:") || !strings.Contains(buf.String(), "P95:") {
		t.Errorf("PrintStats output = %q", buf.String())
	}
}
