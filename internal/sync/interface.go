// Package sync merges normalized records into the store.
package sync

import (
	"context"

	"github.com/fabtrace/wafersync/internal/ledger"
	"github.com/fabtrace/wafersync/internal/schema"
)

// Counts reports what one Sync call did.
type Counts struct {
	Inserted int `json:"inserted"`
	Updated  int `json:"updated"`
	Skipped  int `json:"skipped"`
}

// Add returns the element-wise sum of c and o.
func (c Counts) Add(o Counts) Counts {
	return Counts{
		Inserted: c.Inserted + o.Inserted,
		Updated:  c.Updated + o.Updated,
		Skipped:  c.Skipped + o.Skipped,
	}
}

// Changed is the number of rows written.
func (c Counts) Changed() int {
	return c.Inserted + c.Updated
}

// Batch is the unit of synchronization: records plus the ledger entries that
// mark their source paths as processed. Both land in the same transaction.
type Batch struct {
	Records []schema.Record
	Files   []ledger.FileIndexEntry
	Folders []ledger.FolderIndexEntry
}

// Empty reports whether the batch carries nothing to write.
func (b Batch) Empty() bool {
	return len(b.Records) == 0 && len(b.Files) == 0 && len(b.Folders) == 0
}

// Engine keeps the store in sync with parsed records.
//
// The engine applies a newer-wins policy keyed by record identity. Wafer maps
// are identified by (product, batch, wafer, stage, sub_stage) and ordered by
// their embedded timestamp; spreadsheets are identified by file path and
// ordered by file modification time.
//
// Every call is a single transaction. Any failed write rolls back the whole
// batch, including its ledger entries, so the next run retries the same
// paths.
type Engine interface {
	// Sync writes a batch.
	//
	// For each record: insert when no stored row has its key; update when the
	// incoming timestamp is present and strictly greater than the stored one
	// (a NULL stored timestamp is lower than any value); otherwise skip.
	// Ledger entries in the batch are upserted after the records.
	//
	// Re-running Sync with the same batch yields zero inserts and updates.
	//
	// Example:
	//   counts, err := engine.Sync(ctx, sync.Batch{Records: records, Files: files})
	Sync(ctx context.Context, batch Batch) (Counts, error)

	// SyncRecords is Sync without ledger entries.
	//
	// Example:
	//   counts, err := engine.SyncRecords(ctx, records)
	SyncRecords(ctx context.Context, records []schema.Record) (Counts, error)
}
