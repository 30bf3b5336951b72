package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/fabtrace/wafersync/internal/schema"
)

// WaferMapRow is a stored wafer map with its surrogate row id.
type WaferMapRow struct {
	Idx int64 `json:"idx"`
	schema.WaferMapRecord
}

const waferMapColumns = `idx, product_id, batch_id, wafer_id, stage, sub_stage, retest_count, time, file_path`

// GetWaferMap retrieves the row for an identity key.
// Returns sql.ErrNoRows if no row has that key.
func (db *DB) GetWaferMap(ctx context.Context, key schema.WaferMapKey) (*WaferMapRow, error) {
	var sub sql.NullInt64
	if key.HasSubStage {
		sub = sql.NullInt64{Int64: int64(key.SubStage), Valid: true}
	}
	row := db.conn.QueryRowContext(ctx, `
	SELECT `+waferMapColumns+`
	FROM wafer_maps
	WHERE product_id = ? AND batch_id = ? AND wafer_id = ? AND stage = ?
	  AND IFNULL(sub_stage, -1) = IFNULL(?, -1)
	`, key.ProductID, key.BatchID, key.WaferID, string(key.Stage), sub)
	return scanWaferMap(row)
}

// LatestWaferMap returns the most recent row for (product, batch, wafer)
// across stages, ordering by time (NULL as 0) then insertion order.
// Returns sql.ErrNoRows if the wafer is unknown.
func (db *DB) LatestWaferMap(ctx context.Context, productID, batchID string, waferID int) (*WaferMapRow, error) {
	row := db.conn.QueryRowContext(ctx, `
	SELECT `+waferMapColumns+`
	FROM wafer_maps
	WHERE product_id = ? AND batch_id = ? AND wafer_id = ?
	ORDER BY COALESCE(time, 0) DESC, idx DESC
	LIMIT 1
	`, productID, batchID, waferID)
	return scanWaferMap(row)
}

// WaferMapFilter configures the ListWaferMaps query.
type WaferMapFilter struct {
	// ProductID filters by product (empty = all)
	ProductID string
	// BatchID filters by batch (empty = all)
	BatchID string
	// Stage filters by stage (empty = all)
	Stage schema.Stage
	// Since keeps rows whose time is at or after this instant (nil = no bound)
	Since *time.Time
	// Limit restricts the number of results (0 = no limit)
	Limit int
	// Offset skips the first N results (for pagination)
	Offset int
}

// ListWaferMaps retrieves wafer maps matching the filter, newest first.
func (db *DB) ListWaferMaps(ctx context.Context, filter WaferMapFilter) ([]*WaferMapRow, error) {
	var conditions []string
	var args []any

	if filter.ProductID != "" {
		conditions = append(conditions, "product_id = ?")
		args = append(args, filter.ProductID)
	}
	if filter.BatchID != "" {
		conditions = append(conditions, "batch_id = ?")
		args = append(args, filter.BatchID)
	}
	if filter.Stage != "" {
		conditions = append(conditions, "stage = ?")
		args = append(args, string(filter.Stage))
	}
	if filter.Since != nil {
		conditions = append(conditions, "time >= ?")
		args = append(args, filter.Since.UnixMilli())
	}

	query := `SELECT ` + waferMapColumns + ` FROM wafer_maps`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY COALESCE(time, 0) DESC, idx DESC"

	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	} else if filter.Offset > 0 {
		query += " LIMIT -1"
	}
	if filter.Offset > 0 {
		query += " OFFSET ?"
		args = append(args, filter.Offset)
	}

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list wafer maps: %w", err)
	}
	defer rows.Close()

	var out []*WaferMapRow
	for rows.Next() {
		w, err := scanWaferMap(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan wafer map: %w", err)
		}
		out = append(out, w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating wafer maps: %w", err)
	}
	return out, nil
}

// EachWaferMap streams every wafer map in insertion order.
func (db *DB) EachWaferMap(ctx context.Context, fn func(*WaferMapRow) error) error {
	rows, err := db.conn.QueryContext(ctx, `SELECT `+waferMapColumns+` FROM wafer_maps ORDER BY idx ASC`)
	if err != nil {
		return fmt.Errorf("failed to query wafer maps: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		w, err := scanWaferMap(rows)
		if err != nil {
			return fmt.Errorf("failed to scan wafer map: %w", err)
		}
		if err := fn(w); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("error iterating wafer maps: %w", err)
	}
	return nil
}

// ListSpreadsheets returns stored spreadsheets, optionally filtered by kind.
func (db *DB) ListSpreadsheets(ctx context.Context, kind schema.SpreadsheetKind) ([]*schema.SpreadsheetRecord, error) {
	query := `SELECT file_path, kind, stage, sheet_id, oem, time, last_mtime FROM spreadsheet_files`
	var args []any
	if kind != "" {
		query += ` WHERE kind = ?`
		args = append(args, string(kind))
	}
	query += ` ORDER BY file_path`

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list spreadsheets: %w", err)
	}
	defer rows.Close()

	var out []*schema.SpreadsheetRecord
	for rows.Next() {
		var s schema.SpreadsheetRecord
		var kindStr, stage string
		var id, oem sql.NullString
		var tm sql.NullInt64
		if err := rows.Scan(&s.FilePath, &kindStr, &stage, &id, &oem, &tm, &s.LastModifiedMs); err != nil {
			return nil, fmt.Errorf("failed to scan spreadsheet: %w", err)
		}
		s.Kind = schema.SpreadsheetKind(kindStr)
		s.Stage = schema.Stage(stage)
		s.ID = id.String
		s.OEM = oem.String
		s.TimeMs = nullInt64Ptr(tm)
		out = append(out, &s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating spreadsheets: %w", err)
	}
	return out, nil
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanWaferMap(r rowScanner) (*WaferMapRow, error) {
	var w WaferMapRow
	var stage string
	var sub, tm sql.NullInt64
	err := r.Scan(
		&w.Idx,
		&w.ProductID,
		&w.BatchID,
		&w.WaferID,
		&stage,
		&sub,
		&w.RetestCount,
		&tm,
		&w.FilePath,
	)
	if err != nil {
		return nil, err
	}
	w.Stage = schema.Stage(stage)
	if sub.Valid {
		v := int(sub.Int64)
		w.SubStage = &v
	}
	w.TimeMs = nullInt64Ptr(tm)
	return &w, nil
}

// CountWaferMaps returns the number of stored wafer maps.
func (db *DB) CountWaferMaps(ctx context.Context) (int, error) {
	var n int
	if err := db.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM wafer_maps`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count wafer maps: %w", err)
	}
	return n, nil
}
