// Package store provides the embedded SQLite store for wafersync.
//
// The store holds two kinds of state:
//
//   - The change ledger (file_index, folder_index): last observed mtime, and
//     optionally content hash, per absolute path.
//   - The synchronized records (wafer_maps, spreadsheet_files) plus a history
//     of ingest run reports (ingest_runs).
//
// Architecture:
//   - Database file: wafersync.db (configurable)
//   - WAL mode: readers are not blocked by the sync transaction
//   - Write transactions begin IMMEDIATE, so two runs never interleave their
//     insert/update decisions
//   - Uniqueness on the stage-aware wafer map identity
//
// Workflow:
//  1. The ingestor observes paths through the ledger
//  2. Changed files are parsed into records
//  3. The sync engine writes records and ledger entries in one transaction
package store

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// DB wraps the SQLite connection pool.
type DB struct {
	conn *sql.DB
	path string
}

// Open creates a new database connection at the specified path.
//
// The database is opened in WAL mode with a busy timeout applied to every
// pooled connection. Transactions started through BeginTx take the write
// lock immediately.
//
// The caller MUST call Close() when done to ensure proper cleanup.
//
// Example:
//
//	database, err := store.Open("wafersync.db")
//	if err != nil {
//	    return err
//	}
//	defer database.Close()
func Open(path string) (*DB, error) {
	// Ensure parent directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	params := url.Values{}
	params.Add("_pragma", "busy_timeout(5000)")
	params.Add("_pragma", "foreign_keys(1)")
	params.Set("_txlock", "immediate")
	connStr := "file:" + filepath.ToSlash(path) + "?" + params.Encode()

	conn, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Test connection
	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// Set connection pool settings
	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(5 * time.Minute)

	db := &DB{
		conn: conn,
		path: path,
	}

	// Enable WAL mode for concurrent reads
	if _, err := db.conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	return db, nil
}

// RawDB returns the underlying sql.DB connection.
func (db *DB) RawDB() *sql.DB {
	return db.conn
}

// Path returns the database file path.
func (db *DB) Path() string {
	return db.path
}

// Close closes the database connection.
// Performs a WAL checkpoint to ensure all changes are persisted.
func (db *DB) Close() error {
	if db.conn == nil {
		return nil
	}

	// Checkpoint WAL before closing
	if _, err := db.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
	}

	if err := db.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	db.conn = nil
	return nil
}

// InitSchema creates the database schema if it doesn't exist.
//
// This is idempotent - safe to call multiple times.
func (db *DB) InitSchema() error {
	return db.InitSchemaContext(context.Background())
}

// InitSchemaContext creates the database schema with context support.
func (db *DB) InitSchemaContext(ctx context.Context) error {
	schema := `
	-- Change ledger
	CREATE TABLE IF NOT EXISTS file_index (
		file_path TEXT PRIMARY KEY,
		last_mtime INTEGER NOT NULL,
		file_hash TEXT
	);

	CREATE TABLE IF NOT EXISTS folder_index (
		folder_path TEXT PRIMARY KEY,
		last_mtime INTEGER NOT NULL
	);

	-- Synchronized records
	CREATE TABLE IF NOT EXISTS wafer_maps (
		idx INTEGER PRIMARY KEY AUTOINCREMENT,
		product_id TEXT NOT NULL,
		batch_id TEXT NOT NULL,
		wafer_id INTEGER NOT NULL,
		stage TEXT NOT NULL,
		sub_stage INTEGER,
		retest_count INTEGER NOT NULL DEFAULT 0,
		time INTEGER,  -- epoch ms
		file_path TEXT NOT NULL
	);

	-- Stage-aware identity; a NULL sub_stage is its own key value
	CREATE UNIQUE INDEX IF NOT EXISTS idx_wafer_maps_identity
	    ON wafer_maps(product_id, batch_id, wafer_id, stage, IFNULL(sub_stage, -1));

	CREATE INDEX IF NOT EXISTS idx_wafer_maps_triple
	    ON wafer_maps(product_id, batch_id, wafer_id);
	CREATE INDEX IF NOT EXISTS idx_wafer_maps_stage ON wafer_maps(stage);
	CREATE INDEX IF NOT EXISTS idx_wafer_maps_time ON wafer_maps(time);

	CREATE TABLE IF NOT EXISTS spreadsheet_files (
		file_path TEXT PRIMARY KEY,
		kind TEXT NOT NULL,  -- defect_list, mapping, product
		stage TEXT NOT NULL,
		sheet_id TEXT,
		oem TEXT,
		time INTEGER,
		last_mtime INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_spreadsheet_kind ON spreadsheet_files(kind);

	-- Run history
	CREATE TABLE IF NOT EXISTS ingest_runs (
		run_id TEXT PRIMARY KEY,
		started_at TEXT NOT NULL,
		finished_at TEXT NOT NULL,
		failed INTEGER NOT NULL DEFAULT 0,
		report TEXT NOT NULL  -- JSON
	);

	CREATE INDEX IF NOT EXISTS idx_ingest_runs_started ON ingest_runs(started_at);
	`

	if _, err := db.conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	return nil
}

// Counts summarizes table sizes for status output.
type Counts struct {
	Files        int
	Folders      int
	WaferMaps    int
	Spreadsheets int
	Runs         int
}

// GetCounts returns the number of rows in each table.
func (db *DB) GetCounts(ctx context.Context) (Counts, error) {
	var c Counts
	targets := []struct {
		table string
		dst   *int
	}{
		{"file_index", &c.Files},
		{"folder_index", &c.Folders},
		{"wafer_maps", &c.WaferMaps},
		{"spreadsheet_files", &c.Spreadsheets},
		{"ingest_runs", &c.Runs},
	}
	for _, tgt := range targets {
		if err := db.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+tgt.table).Scan(tgt.dst); err != nil {
			return Counts{}, fmt.Errorf("failed to count %s: %w", tgt.table, err)
		}
	}
	return c, nil
}
