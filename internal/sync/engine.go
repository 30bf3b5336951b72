package sync

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/fabtrace/wafersync/internal/schema"
	"github.com/fabtrace/wafersync/internal/store"
)

// engine implements the Engine interface.
type engine struct {
	db     *store.DB
	logger *log.Logger
}

// New creates a new Engine instance.
//
// The database connection must be initialized and have schema created
// before passing to this function.
//
// If logger is nil, a default logger writing to stderr is used.
//
// Example:
//
//	database, err := store.Open("wafersync.db")
//	if err != nil {
//	    return err
//	}
//	if err := database.InitSchema(); err != nil {
//	    return err
//	}
//	engine := sync.New(database, nil)
func New(database *store.DB, logger *log.Logger) Engine {
	if logger == nil {
		logger = log.New(os.Stderr, "[sync] ", log.LstdFlags)
	}
	return &engine{
		db:     database,
		logger: logger,
	}
}

// SyncRecords implements Engine.SyncRecords.
func (e *engine) SyncRecords(ctx context.Context, records []schema.Record) (Counts, error) {
	return e.Sync(ctx, Batch{Records: records})
}

// Sync implements Engine.Sync.
func (e *engine) Sync(ctx context.Context, batch Batch) (Counts, error) {
	if batch.Empty() {
		return Counts{}, nil
	}

	for _, rec := range batch.Records {
		if err := rec.Validate(); err != nil {
			return Counts{}, fmt.Errorf("refusing batch with invalid record %s: %w", rec.FilePath(), err)
		}
	}

	var counts Counts
	err := e.db.WithTx(ctx, func(tx *store.Tx) error {
		c, err := e.applyRecords(ctx, tx, batch.Records)
		if err != nil {
			return err
		}

		for _, f := range batch.Files {
			if err := tx.UpsertFileIndex(ctx, f); err != nil {
				return err
			}
		}
		for _, f := range batch.Folders {
			if err := tx.UpsertFolderIndex(ctx, f); err != nil {
				return err
			}
		}

		counts = c
		return nil
	})
	if err != nil {
		return Counts{}, fmt.Errorf("failed to sync batch of %d records: %w", len(batch.Records), err)
	}

	e.logger.Printf("Synced batch: inserted=%d updated=%d skipped=%d (ledger files=%d, folders=%d)",
		counts.Inserted, counts.Updated, counts.Skipped, len(batch.Files), len(batch.Folders))
	return counts, nil
}

// applyRecords loads the stored timestamps for every key in the batch once,
// then decides insert/update/skip per record against that table, updating
// it as rows are written so duplicate keys in one batch resolve in order.
func (e *engine) applyRecords(ctx context.Context, tx *store.Tx, records []schema.Record) (Counts, error) {
	var (
		keys   []schema.WaferMapKey
		sheets []string
		counts Counts
	)
	for _, rec := range records {
		switch rec.Kind {
		case schema.KindWaferMap:
			keys = append(keys, rec.WaferMap.Key())
		case schema.KindSpreadsheet:
			sheets = append(sheets, rec.Spreadsheet.FilePath)
		}
	}

	waferTimes := map[schema.WaferMapKey]*int64{}
	if len(keys) > 0 {
		var err error
		if waferTimes, err = tx.LoadWaferMapTimes(ctx, keys); err != nil {
			return Counts{}, err
		}
	}
	sheetTimes := map[string]int64{}
	if len(sheets) > 0 {
		var err error
		if sheetTimes, err = tx.LoadSpreadsheetTimes(ctx, sheets); err != nil {
			return Counts{}, err
		}
	}

	for _, rec := range records {
		if err := ctx.Err(); err != nil {
			return Counts{}, err
		}

		switch rec.Kind {
		case schema.KindWaferMap:
			w := rec.WaferMap
			key := w.Key()
			stored, exists := waferTimes[key]
			switch {
			case !exists:
				if err := tx.InsertWaferMap(ctx, w); err != nil {
					return Counts{}, err
				}
				waferTimes[key] = w.TimeMs
				counts.Inserted++
			case newer(w.TimeMs, stored):
				if err := tx.UpdateWaferMap(ctx, w); err != nil {
					return Counts{}, err
				}
				waferTimes[key] = w.TimeMs
				counts.Updated++
			default:
				counts.Skipped++
			}

		case schema.KindSpreadsheet:
			s := rec.Spreadsheet
			stored, exists := sheetTimes[s.FilePath]
			switch {
			case !exists:
				if err := tx.UpsertSpreadsheet(ctx, s); err != nil {
					return Counts{}, err
				}
				counts.Inserted++
			case s.LastModifiedMs > stored:
				if err := tx.UpsertSpreadsheet(ctx, s); err != nil {
					return Counts{}, err
				}
				counts.Updated++
			default:
				counts.Skipped++
			}
			sheetTimes[s.FilePath] = max(stored, s.LastModifiedMs)
		}
	}

	return counts, nil
}

// newer reports whether incoming may overwrite stored: incoming must be
// present and strictly greater, with a missing stored time as the lowest value.
func newer(incoming, stored *int64) bool {
	if incoming == nil {
		return false
	}
	if stored == nil {
		return true
	}
	return *incoming > *stored
}
