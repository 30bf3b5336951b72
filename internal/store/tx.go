package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/fabtrace/wafersync/internal/ledger"
	"github.com/fabtrace/wafersync/internal/schema"
)

// Tx is a write transaction on the store. It holds SQLite's write lock from
// BeginTx until Commit or Rollback.
type Tx struct {
	tx *sql.Tx
}

// BeginTx starts an immediate write transaction.
func (db *DB) BeginTx(ctx context.Context) (*Tx, error) {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return &Tx{tx: tx}, nil
}

// WithTx runs fn inside a transaction. The transaction is committed when fn
// returns nil and rolled back on error, panic, or context cancellation.
func (db *DB) WithTx(ctx context.Context, fn func(tx *Tx) error) error {
	tx, err := db.BeginTx(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// Commit commits the transaction.
func (t *Tx) Commit() error {
	if err := t.tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Rollback aborts the transaction. Rolling back a finished transaction is a no-op.
func (t *Tx) Rollback() error {
	if err := t.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return fmt.Errorf("failed to rollback transaction: %w", err)
	}
	return nil
}

// LoadWaferMapTimes returns the stored timestamp for each key that already
// has a row. A present key with a nil value means the stored time is NULL.
func (t *Tx) LoadWaferMapTimes(ctx context.Context, keys []schema.WaferMapKey) (map[schema.WaferMapKey]*int64, error) {
	type pair struct{ product, batch string }

	wanted := make(map[schema.WaferMapKey]bool, len(keys))
	var pairs []pair
	seen := make(map[pair]bool)
	for _, k := range keys {
		wanted[k] = true
		p := pair{k.ProductID, k.BatchID}
		if !seen[p] {
			seen[p] = true
			pairs = append(pairs, p)
		}
	}

	out := make(map[schema.WaferMapKey]*int64, len(keys))
	for _, p := range pairs {
		rows, err := t.tx.QueryContext(ctx, `
		SELECT product_id, batch_id, wafer_id, stage, sub_stage, time
		FROM wafer_maps
		WHERE product_id = ? AND batch_id = ?
		`, p.product, p.batch)
		if err != nil {
			return nil, fmt.Errorf("failed to load wafer map times: %w", err)
		}

		for rows.Next() {
			var k schema.WaferMapKey
			var stage string
			var sub, tm sql.NullInt64
			if err := rows.Scan(&k.ProductID, &k.BatchID, &k.WaferID, &stage, &sub, &tm); err != nil {
				rows.Close()
				return nil, fmt.Errorf("failed to scan wafer map time: %w", err)
			}
			k.Stage = schema.Stage(stage)
			if sub.Valid {
				k.SubStage = int(sub.Int64)
				k.HasSubStage = true
			}
			if wanted[k] {
				out[k] = nullInt64Ptr(tm)
			}
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, fmt.Errorf("error iterating wafer map times: %w", err)
		}
		rows.Close()
	}
	return out, nil
}

// InsertWaferMap inserts a new wafer map row.
func (t *Tx) InsertWaferMap(ctx context.Context, w *schema.WaferMapRecord) error {
	_, err := t.tx.ExecContext(ctx, `
	INSERT INTO wafer_maps (
		product_id, batch_id, wafer_id, stage, sub_stage,
		retest_count, time, file_path
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		w.ProductID,
		w.BatchID,
		w.WaferID,
		string(w.Stage),
		intPtrToNull(w.SubStage),
		w.RetestCount,
		ptrToNullInt64(w.TimeMs),
		w.FilePath,
	)
	if err != nil {
		return fmt.Errorf("failed to insert wafer map %s: %w", w.Key(), err)
	}
	return nil
}

// UpdateWaferMap overwrites the mutable columns of the row with w's identity.
func (t *Tx) UpdateWaferMap(ctx context.Context, w *schema.WaferMapRecord) error {
	res, err := t.tx.ExecContext(ctx, `
	UPDATE wafer_maps SET
		retest_count = ?,
		time = ?,
		file_path = ?
	WHERE product_id = ? AND batch_id = ? AND wafer_id = ? AND stage = ?
	  AND IFNULL(sub_stage, -1) = IFNULL(?, -1)
	`,
		w.RetestCount,
		ptrToNullInt64(w.TimeMs),
		w.FilePath,
		w.ProductID,
		w.BatchID,
		w.WaferID,
		string(w.Stage),
		intPtrToNull(w.SubStage),
	)
	if err != nil {
		return fmt.Errorf("failed to update wafer map %s: %w", w.Key(), err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update wafer map %s: %w", w.Key(), err)
	}
	if n != 1 {
		return fmt.Errorf("failed to update wafer map %s: %d rows affected", w.Key(), n)
	}
	return nil
}

// LoadSpreadsheetTimes returns last_mtime for each path already stored.
func (t *Tx) LoadSpreadsheetTimes(ctx context.Context, paths []string) (map[string]int64, error) {
	out := make(map[string]int64, len(paths))
	for _, chunk := range chunkStrings(paths, fileDeleteChunk) {
		rows, err := t.tx.QueryContext(ctx,
			`SELECT file_path, last_mtime FROM spreadsheet_files WHERE file_path IN (`+placeholders(len(chunk))+`)`,
			stringArgs(chunk)...)
		if err != nil {
			return nil, fmt.Errorf("failed to load spreadsheet times: %w", err)
		}
		for rows.Next() {
			var p string
			var m int64
			if err := rows.Scan(&p, &m); err != nil {
				rows.Close()
				return nil, fmt.Errorf("failed to scan spreadsheet time: %w", err)
			}
			out[p] = m
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, fmt.Errorf("error iterating spreadsheet times: %w", err)
		}
		rows.Close()
	}
	return out, nil
}

// UpsertSpreadsheet inserts or replaces the spreadsheet row for s.FilePath.
func (t *Tx) UpsertSpreadsheet(ctx context.Context, s *schema.SpreadsheetRecord) error {
	_, err := t.tx.ExecContext(ctx, `
	INSERT INTO spreadsheet_files (file_path, kind, stage, sheet_id, oem, time, last_mtime)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(file_path) DO UPDATE SET
		kind = excluded.kind,
		stage = excluded.stage,
		sheet_id = excluded.sheet_id,
		oem = excluded.oem,
		time = excluded.time,
		last_mtime = excluded.last_mtime
	`,
		s.FilePath,
		string(s.Kind),
		string(s.Stage),
		emptyToNull(s.ID),
		emptyToNull(s.OEM),
		ptrToNullInt64(s.TimeMs),
		s.LastModifiedMs,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert spreadsheet %s: %w", s.FilePath, err)
	}
	return nil
}

// UpsertFileIndex writes a file ledger entry inside the transaction.
func (t *Tx) UpsertFileIndex(ctx context.Context, e ledger.FileIndexEntry) error {
	return upsertFileIndex(ctx, t.tx, e)
}

// UpsertFolderIndex writes a folder ledger entry inside the transaction.
func (t *Tx) UpsertFolderIndex(ctx context.Context, e ledger.FolderIndexEntry) error {
	return upsertFolderIndex(ctx, t.tx, e)
}

func intPtrToNull(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

func emptyToNull(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
