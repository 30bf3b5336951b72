package sync

import (
	"context"
	"fmt"
	"io"
	"log"
	"path/filepath"
	"testing"

	"pgregory.net/rapid"

	"github.com/fabtrace/wafersync/internal/ledger"
	"github.com/fabtrace/wafersync/internal/schema"
	"github.com/fabtrace/wafersync/internal/store"
)

// setupTestDB creates a temporary database for testing.
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

func quietEngine(database *store.DB) Engine {
	return New(database, log.New(io.Discard, "[test] ", 0))
}

func aoiMap(product string, wafer int, tm *int64) schema.Record {
	return schema.NewWaferMap(schema.WaferMapRecord{
		ProductID: product,
		BatchID:   "B1",
		WaferID:   wafer,
		Stage:     schema.StageAOI,
		TimeMs:    tm,
		FilePath:  fmt.Sprintf("/data/AOI-1/%s_B1/%s_B1_%d.txt", product, product, wafer),
	})
}

func storedTime(t *testing.T, database *store.DB, rec schema.Record) *int64 {
	t.Helper()
	row, err := database.GetWaferMap(context.Background(), rec.WaferMap.Key())
	if err != nil {
		t.Fatalf("GetWaferMap(%s) failed: %v", rec.WaferMap.Key(), err)
	}
	return row.TimeMs
}

func TestSync_NewerWins(t *testing.T) {
	ctx := context.Background()
	database := setupTestDB(t)
	engine := quietEngine(database)

	counts, err := engine.SyncRecords(ctx, []schema.Record{aoiMap("K", 1, schema.Int64(100))})
	if err != nil {
		t.Fatalf("Sync failed: %v", err)
	}
	if counts != (Counts{Inserted: 1}) {
		t.Errorf("first sync counts = %+v", counts)
	}

	counts, err = engine.SyncRecords(ctx, []schema.Record{aoiMap("K", 1, schema.Int64(50))})
	if err != nil {
		t.Fatal(err)
	}
	if counts != (Counts{Skipped: 1}) {
		t.Errorf("older sync counts = %+v", counts)
	}
	if got := storedTime(t, database, aoiMap("K", 1, nil)); got == nil || *got != 100 {
		t.Errorf("stored time after older sync = %v, want 100", got)
	}

	counts, err = engine.SyncRecords(ctx, []schema.Record{aoiMap("K", 1, schema.Int64(150))})
	if err != nil {
		t.Fatal(err)
	}
	if counts != (Counts{Updated: 1}) {
		t.Errorf("newer sync counts = %+v", counts)
	}
	if got := storedTime(t, database, aoiMap("K", 1, nil)); got == nil || *got != 150 {
		t.Errorf("stored time after newer sync = %v, want 150", got)
	}
}

func TestSync_TimestampRules(t *testing.T) {
	tests := []struct {
		name     string
		stored   *int64
		incoming *int64
		want     Counts
		wantTime *int64
	}{
		{"equal is skipped", schema.Int64(100), schema.Int64(100), Counts{Skipped: 1}, schema.Int64(100)},
		{"missing incoming is skipped", schema.Int64(100), nil, Counts{Skipped: 1}, schema.Int64(100)},
		{"stored null is lowest", nil, schema.Int64(1), Counts{Updated: 1}, schema.Int64(1)},
		{"both null is skipped", nil, nil, Counts{Skipped: 1}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			database := setupTestDB(t)
			engine := quietEngine(database)

			if _, err := engine.SyncRecords(ctx, []schema.Record{aoiMap("K", 1, tt.stored)}); err != nil {
				t.Fatal(err)
			}
			counts, err := engine.SyncRecords(ctx, []schema.Record{aoiMap("K", 1, tt.incoming)})
			if err != nil {
				t.Fatal(err)
			}
			if counts != tt.want {
				t.Errorf("counts = %+v, want %+v", counts, tt.want)
			}
			got := storedTime(t, database, aoiMap("K", 1, nil))
			if (got == nil) != (tt.wantTime == nil) || (got != nil && *got != *tt.wantTime) {
				t.Errorf("stored time = %v, want %v", got, tt.wantTime)
			}
		})
	}
}

func TestSync_DuplicateKeysInBatch(t *testing.T) {
	ctx := context.Background()
	database := setupTestDB(t)
	engine := quietEngine(database)

	counts, err := engine.SyncRecords(ctx, []schema.Record{
		aoiMap("K", 1, nil),
		aoiMap("K", 1, schema.Int64(20)),
		aoiMap("K", 1, schema.Int64(10)),
	})
	if err != nil {
		t.Fatal(err)
	}
	if counts != (Counts{Inserted: 1, Updated: 1, Skipped: 1}) {
		t.Errorf("counts = %+v", counts)
	}
	if got := storedTime(t, database, aoiMap("K", 1, nil)); got == nil || *got != 20 {
		t.Errorf("stored time = %v, want 20", got)
	}
}

func TestSync_Idempotent(t *testing.T) {
	ctx := context.Background()
	database := setupTestDB(t)
	engine := quietEngine(database)

	batch := Batch{
		Records: []schema.Record{
			aoiMap("P", 1, schema.Int64(1)),
			aoiMap("P", 2, nil),
			schema.NewSpreadsheet(schema.SpreadsheetRecord{
				Kind:           schema.SpreadsheetMapping,
				Stage:          schema.StageSubstrate,
				FilePath:       "/data/Substrate/Product list.xlsx",
				LastModifiedMs: 5,
			}),
		},
		Files:   []ledger.FileIndexEntry{{Path: "/data/AOI-1/P_B1/P_B1_1.txt", LastModifiedMs: 9}},
		Folders: []ledger.FolderIndexEntry{{Path: "/data/AOI-1/P_B1", LastModifiedMs: 9}},
	}

	first, err := engine.Sync(ctx, batch)
	if err != nil {
		t.Fatal(err)
	}
	if first.Inserted != 3 {
		t.Errorf("first sync = %+v, want 3 inserts", first)
	}

	second, err := engine.Sync(ctx, batch)
	if err != nil {
		t.Fatal(err)
	}
	if second.Changed() != 0 || second.Skipped != 3 {
		t.Errorf("second sync = %+v, want 3 skips", second)
	}
}

func TestSync_SpreadsheetNewerWins(t *testing.T) {
	ctx := context.Background()
	database := setupTestDB(t)
	engine := quietEngine(database)

	sheet := func(mtime int64, oem string) schema.Record {
		return schema.NewSpreadsheet(schema.SpreadsheetRecord{
			Kind:           schema.SpreadsheetProduct,
			Stage:          schema.StageSubstrate,
			OEM:            oem,
			FilePath:       "/data/Substrate/X_20250101000000.xlsx",
			LastModifiedMs: mtime,
		})
	}

	if _, err := engine.SyncRecords(ctx, []schema.Record{sheet(10, "X")}); err != nil {
		t.Fatal(err)
	}
	counts, _ := engine.SyncRecords(ctx, []schema.Record{sheet(10, "Y")})
	if counts != (Counts{Skipped: 1}) {
		t.Errorf("same mtime counts = %+v", counts)
	}
	counts, _ = engine.SyncRecords(ctx, []schema.Record{sheet(11, "Z")})
	if counts != (Counts{Updated: 1}) {
		t.Errorf("newer mtime counts = %+v", counts)
	}

	sheets, err := database.ListSpreadsheets(ctx, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(sheets) != 1 || sheets[0].OEM != "Z" {
		t.Errorf("stored sheets = %+v", sheets)
	}
}

func TestSync_RollsBackRecordsAndLedger(t *testing.T) {
	ctx := context.Background()
	database := setupTestDB(t)
	engine := quietEngine(database)

	_, err := database.RawDB().ExecContext(ctx, `
	CREATE TRIGGER reject_boom BEFORE INSERT ON wafer_maps
	WHEN NEW.product_id = 'BOOM'
	BEGIN SELECT RAISE(ABORT, 'rejected'); END`)
	if err != nil {
		t.Fatalf("failed to create trigger: %v", err)
	}

	_, err = engine.Sync(ctx, Batch{
		Records: []schema.Record{aoiMap("OK", 1, schema.Int64(1)), aoiMap("BOOM", 1, schema.Int64(1))},
		Files:   []ledger.FileIndexEntry{{Path: "/data/a", LastModifiedMs: 1}},
		Folders: []ledger.FolderIndexEntry{{Path: "/data", LastModifiedMs: 1}},
	})
	if err == nil {
		t.Fatal("expected sync failure")
	}

	counts, err := database.GetCounts(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if counts.WaferMaps != 0 || counts.Files != 0 || counts.Folders != 0 {
		t.Errorf("failed batch left rows behind: %+v", counts)
	}
}

func TestSync_RejectsInvalidRecord(t *testing.T) {
	ctx := context.Background()
	database := setupTestDB(t)
	engine := quietEngine(database)

	bad := aoiMap("P", 1, nil)
	bad.WaferMap.FilePath = "relative.txt"
	if _, err := engine.SyncRecords(ctx, []schema.Record{aoiMap("P", 2, nil), bad}); err == nil {
		t.Fatal("expected invalid record to fail the batch")
	}
	if n, _ := database.CountWaferMaps(ctx); n != 0 {
		t.Errorf("invalid batch wrote %d rows", n)
	}
}

func TestSync_EmptyBatch(t *testing.T) {
	database := setupTestDB(t)
	counts, err := quietEngine(database).Sync(context.Background(), Batch{})
	if err != nil || counts != (Counts{}) {
		t.Errorf("empty batch: %+v, %v", counts, err)
	}
}

// genRecords draws wafer map records over a small key space so that
// collisions between keys are frequent.
func genRecords(product string) *rapid.Generator[[]schema.Record] {
	rec := rapid.Custom(func(t *rapid.T) schema.Record {
		var tm *int64
		if rapid.Bool().Draw(t, "hasTime") {
			v := rapid.Int64Range(0, 20).Draw(t, "time")
			tm = &v
		}
		r := aoiMap(product, rapid.IntRange(0, 3).Draw(t, "wafer"), tm)
		if rapid.Bool().Draw(t, "wlbi") {
			r.WaferMap.Stage = schema.StageWLBI
			r.WaferMap.SubStage = schema.Int(rapid.IntRange(0, 1).Draw(t, "sub"))
		}
		return r
	})
	return rapid.SliceOfN(rec, 0, 25)
}

func TestSync_IdempotenceProperty(t *testing.T) {
	database := setupTestDB(t)
	engine := quietEngine(database)
	n := 0

	rapid.Check(t, func(rt *rapid.T) {
		n++
		records := genRecords(fmt.Sprintf("P%d", n)).Draw(rt, "records")
		ctx := context.Background()

		if _, err := engine.SyncRecords(ctx, records); err != nil {
			rt.Fatalf("first sync failed: %v", err)
		}
		again, err := engine.SyncRecords(ctx, records)
		if err != nil {
			rt.Fatalf("second sync failed: %v", err)
		}
		if again.Changed() != 0 {
			rt.Fatalf("second sync changed rows: %+v", again)
		}
	})
}

func TestSync_MonotonicityProperty(t *testing.T) {
	database := setupTestDB(t)
	engine := quietEngine(database)
	n := 0

	rapid.Check(t, func(rt *rapid.T) {
		n++
		records := genRecords(fmt.Sprintf("M%d", n)).Draw(rt, "records")
		ctx := context.Background()

		// Sync one record per batch, tracking the expected maximum per key.
		want := map[schema.WaferMapKey]*int64{}
		for _, r := range records {
			if _, err := engine.SyncRecords(ctx, []schema.Record{r}); err != nil {
				rt.Fatalf("sync failed: %v", err)
			}
			k := r.WaferMap.Key()
			cur, seen := want[k]
			if !seen || (r.WaferMap.TimeMs != nil && (cur == nil || *r.WaferMap.TimeMs > *cur)) {
				want[k] = r.WaferMap.TimeMs
			}
		}

		for k, tm := range want {
			row, err := database.GetWaferMap(ctx, k)
			if err != nil {
				rt.Fatalf("GetWaferMap(%s): %v", k, err)
			}
			if (row.TimeMs == nil) != (tm == nil) || (tm != nil && *row.TimeMs != *tm) {
				rt.Fatalf("%s stored time %v, want %v", k, row.TimeMs, tm)
			}
		}
	})
}
