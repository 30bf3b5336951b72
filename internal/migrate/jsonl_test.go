package migrate

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fabtrace/wafersync/internal/schema"
	"github.com/fabtrace/wafersync/internal/store"
	"github.com/fabtrace/wafersync/internal/sync"
)

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

func engineFor(database *store.DB) sync.Engine {
	return sync.New(database, log.New(io.Discard, "", 0))
}

func ms(v int64) *int64 { return &v }

func waferMap(wafer int, tm *int64) schema.Record {
	return schema.NewWaferMap(schema.WaferMapRecord{
		ProductID: "P1",
		BatchID:   "B1",
		WaferID:   wafer,
		Stage:     schema.StageAOI,
		TimeMs:    tm,
		FilePath:  fmt.Sprintf("/data/AOI-1/P1_B1/P1_B1_%d.txt", wafer),
	})
}

func seed(t *testing.T, database *store.DB, records ...schema.Record) {
	t.Helper()
	if _, err := engineFor(database).SyncRecords(context.Background(), records); err != nil {
		t.Fatalf("SyncRecords failed: %v", err)
	}
}

func TestExportImportRoundTrip(t *testing.T) {
	ctx := context.Background()
	src := setupTestDB(t)
	seed(t, src,
		waferMap(1, ms(100)),
		waferMap(2, nil),
		schema.NewSpreadsheet(schema.SpreadsheetRecord{
			Kind:           schema.SpreadsheetDefectList,
			Stage:          schema.StageSubstrate,
			ID:             "D7",
			FilePath:       "/data/substrate/Defect list/D7.xls",
			LastModifiedMs: 5,
		}),
	)

	path := filepath.Join(t.TempDir(), "out", "records.jsonl")
	exported, err := ExportFile(ctx, src, path, ExportOptions{Spreadsheets: true})
	if err != nil {
		t.Fatalf("ExportFile failed: %v", err)
	}
	if exported.WaferMaps != 2 || exported.Spreadsheets != 1 {
		t.Errorf("exported = %+v, want 2 wafer maps and 1 spreadsheet", exported)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Error("temp file should be renamed away")
	}

	dst := setupTestDB(t)
	result, err := Import(ctx, engineFor(dst), path, ImportOptions{BatchSize: 1})
	if err != nil {
		t.Fatalf("Import failed: %v", err)
	}
	if result.Records != 3 || result.Counts.Inserted != 3 || len(result.Errors) != 0 {
		t.Errorf("result = %+v", result)
	}

	counts, err := dst.GetCounts(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if counts.WaferMaps != 2 || counts.Spreadsheets != 1 {
		t.Errorf("counts = %+v", counts)
	}

	// A second import is a no-op.
	again, err := Import(ctx, engineFor(dst), path, ImportOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if again.Counts.Changed() != 0 || again.Counts.Skipped != 3 {
		t.Errorf("re-import counts = %+v, want all skipped", again.Counts)
	}
}

func TestImportKeepsNewerRows(t *testing.T) {
	ctx := context.Background()
	old := setupTestDB(t)
	seed(t, old, waferMap(1, ms(100)))

	path := filepath.Join(t.TempDir(), "old.jsonl")
	if _, err := ExportFile(ctx, old, path, ExportOptions{}); err != nil {
		t.Fatal(err)
	}

	current := setupTestDB(t)
	seed(t, current, waferMap(1, ms(200)))

	result, err := Import(ctx, engineFor(current), path, ImportOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if result.Counts.Skipped != 1 {
		t.Errorf("counts = %+v, want skipped", result.Counts)
	}

	rec := waferMap(1, nil)
	row, err := current.GetWaferMap(ctx, rec.WaferMap.Key())
	if err != nil {
		t.Fatal(err)
	}
	if row.TimeMs == nil || *row.TimeMs != 200 {
		t.Errorf("stored time = %v, want 200", row.TimeMs)
	}
}

func TestFromJSONL_InvalidLines(t *testing.T) {
	input := strings.Join([]string{
		`{"kind":1,"wafer_map":{"product_id":"P","batch_id":"B","wafer_id":1,"stage":"aoi","retest_count":0,"file_path":"/a.txt"}}`,
		``,
		`{not json`,
		`{"kind":1,"wafer_map":{"product_id":"","batch_id":"B","wafer_id":1,"stage":"aoi","retest_count":0,"file_path":"/b.txt"}}`,
		`{"kind":7}`,
	}, "\n")

	records, bad, err := FromJSONL(strings.NewReader(input))
	if err != nil {
		t.Fatalf("FromJSONL failed: %v", err)
	}
	if len(records) != 1 {
		t.Errorf("got %d records, want 1", len(records))
	}
	if len(bad) != 3 {
		t.Fatalf("got %d bad lines, want 3", len(bad))
	}
	if bad[0].Line != 3 || bad[1].Line != 4 || bad[2].Line != 5 {
		t.Errorf("bad lines = %d, %d, %d, want 3, 4, 5", bad[0].Line, bad[1].Line, bad[2].Line)
	}
}

func TestImport_DryRun(t *testing.T) {
	ctx := context.Background()
	var buf bytes.Buffer
	src := setupTestDB(t)
	seed(t, src, waferMap(1, ms(1)), waferMap(2, ms(2)))
	if _, err := Export(ctx, src, &buf, ExportOptions{}); err != nil {
		t.Fatal(err)
	}

	path := filepath.Join(t.TempDir(), "dry.jsonl")
	if err := os.WriteFile(path, append(buf.Bytes(), "garbage\n"...), 0600); err != nil {
		t.Fatal(err)
	}

	dst := setupTestDB(t)
	result, err := Import(ctx, engineFor(dst), path, ImportOptions{DryRun: true})
	if err != nil {
		t.Fatal(err)
	}
	if result.Records != 2 || len(result.Errors) != 1 || result.Counts.Changed() != 0 {
		t.Errorf("result = %+v", result)
	}
	if n, _ := dst.CountWaferMaps(ctx); n != 0 {
		t.Errorf("dry run wrote %d rows", n)
	}
}

func TestExportFile_Backup(t *testing.T) {
	ctx := context.Background()
	database := setupTestDB(t)
	path := filepath.Join(t.TempDir(), "records.jsonl")
	if err := os.WriteFile(path, []byte("previous\n"), 0600); err != nil {
		t.Fatal(err)
	}

	result, err := ExportFile(ctx, database, path, ExportOptions{Backup: true})
	if err != nil {
		t.Fatal(err)
	}
	if result.BackupCreated == "" {
		t.Fatal("expected a backup file")
	}
	data, err := os.ReadFile(result.BackupCreated)
	if err != nil || string(data) != "previous\n" {
		t.Errorf("backup = %q, %v", data, err)
	}
}

func TestImport_MissingFile(t *testing.T) {
	_, err := Import(context.Background(), engineFor(setupTestDB(t)), filepath.Join(t.TempDir(), "nope.jsonl"), ImportOptions{})
	if err == nil {
		t.Error("expected error for missing file")
	}
}
