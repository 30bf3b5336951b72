package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/fabtrace/wafersync/internal/ledger"
)

const (
	// fileDeleteChunk bounds the number of bound parameters per DELETE.
	fileDeleteChunk = 500
	// folderDeleteChunk is clamped below SQLite's historical 999 variable limit.
	folderDeleteChunk = 900
)

// queryer is satisfied by *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// GetFileIndex returns the ledger entry for path, or nil if none exists.
func (db *DB) GetFileIndex(ctx context.Context, path string) (*ledger.FileIndexEntry, error) {
	var e ledger.FileIndexEntry
	var hash sql.NullString
	err := db.conn.QueryRowContext(ctx,
		`SELECT file_path, last_mtime, file_hash FROM file_index WHERE file_path = ?`, path,
	).Scan(&e.Path, &e.LastModifiedMs, &hash)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get file index %s: %w", path, err)
	}
	e.ContentHash = nullStringPtr(hash)
	return &e, nil
}

// GetFileIndexes returns the ledger entries for the given paths keyed by path.
// Paths without an entry are absent from the map.
func (db *DB) GetFileIndexes(ctx context.Context, paths []string) (map[string]ledger.FileIndexEntry, error) {
	out := make(map[string]ledger.FileIndexEntry, len(paths))
	for _, chunk := range chunkStrings(paths, fileDeleteChunk) {
		query := `SELECT file_path, last_mtime, file_hash FROM file_index WHERE file_path IN (` + placeholders(len(chunk)) + `)`
		rows, err := db.conn.QueryContext(ctx, query, stringArgs(chunk)...)
		if err != nil {
			return nil, fmt.Errorf("failed to query file indexes: %w", err)
		}
		entries, err := scanFileIndexes(rows)
		rows.Close()
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			out[e.Path] = e
		}
	}
	return out, nil
}

// ListFileIndexes returns every file ledger entry ordered by path.
func (db *DB) ListFileIndexes(ctx context.Context) ([]ledger.FileIndexEntry, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT file_path, last_mtime, file_hash FROM file_index ORDER BY file_path`)
	if err != nil {
		return nil, fmt.Errorf("failed to list file indexes: %w", err)
	}
	defer rows.Close()
	return scanFileIndexes(rows)
}

// UpsertFileIndex inserts or updates a single file ledger entry.
func (db *DB) UpsertFileIndex(ctx context.Context, entry ledger.FileIndexEntry) error {
	return upsertFileIndex(ctx, db.conn, entry)
}

// UpsertFileIndexes writes many entries in one transaction.
func (db *DB) UpsertFileIndexes(ctx context.Context, entries []ledger.FileIndexEntry) error {
	return db.WithTx(ctx, func(tx *Tx) error {
		for _, e := range entries {
			if err := tx.UpsertFileIndex(ctx, e); err != nil {
				return err
			}
		}
		return nil
	})
}

// DeleteFileIndexes removes entries by path in chunks. Returns the number of
// rows deleted.
func (db *DB) DeleteFileIndexes(ctx context.Context, paths []string) (int64, error) {
	return deleteByPaths(ctx, db, "file_index", "file_path", paths, fileDeleteChunk)
}

// DeleteAllFileIndexes clears the file ledger.
func (db *DB) DeleteAllFileIndexes(ctx context.Context) (int64, error) {
	res, err := db.conn.ExecContext(ctx, `DELETE FROM file_index`)
	if err != nil {
		return 0, fmt.Errorf("failed to clear file index: %w", err)
	}
	return res.RowsAffected()
}

// GetFolderIndex returns the ledger entry for a directory, or nil if none exists.
func (db *DB) GetFolderIndex(ctx context.Context, path string) (*ledger.FolderIndexEntry, error) {
	var e ledger.FolderIndexEntry
	err := db.conn.QueryRowContext(ctx,
		`SELECT folder_path, last_mtime FROM folder_index WHERE folder_path = ?`, path,
	).Scan(&e.Path, &e.LastModifiedMs)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get folder index %s: %w", path, err)
	}
	return &e, nil
}

// ListFolderIndexes returns every folder ledger entry ordered by path.
func (db *DB) ListFolderIndexes(ctx context.Context) ([]ledger.FolderIndexEntry, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT folder_path, last_mtime FROM folder_index ORDER BY folder_path`)
	if err != nil {
		return nil, fmt.Errorf("failed to list folder indexes: %w", err)
	}
	defer rows.Close()

	var out []ledger.FolderIndexEntry
	for rows.Next() {
		var e ledger.FolderIndexEntry
		if err := rows.Scan(&e.Path, &e.LastModifiedMs); err != nil {
			return nil, fmt.Errorf("failed to scan folder index: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating folder indexes: %w", err)
	}
	return out, nil
}

// UpsertFolderIndex inserts or updates a single folder ledger entry.
func (db *DB) UpsertFolderIndex(ctx context.Context, entry ledger.FolderIndexEntry) error {
	return upsertFolderIndex(ctx, db.conn, entry)
}

// DeleteFolderIndexes removes folder entries by path in chunks.
func (db *DB) DeleteFolderIndexes(ctx context.Context, paths []string) (int64, error) {
	return deleteByPaths(ctx, db, "folder_index", "folder_path", paths, folderDeleteChunk)
}

// DeleteAllFolderIndexes clears the folder ledger.
func (db *DB) DeleteAllFolderIndexes(ctx context.Context) (int64, error) {
	res, err := db.conn.ExecContext(ctx, `DELETE FROM folder_index`)
	if err != nil {
		return 0, fmt.Errorf("failed to clear folder index: %w", err)
	}
	return res.RowsAffected()
}

func upsertFileIndex(ctx context.Context, q queryer, e ledger.FileIndexEntry) error {
	_, err := q.ExecContext(ctx, `
	INSERT INTO file_index (file_path, last_mtime, file_hash)
	VALUES (?, ?, ?)
	ON CONFLICT(file_path) DO UPDATE SET
		last_mtime = excluded.last_mtime,
		file_hash = excluded.file_hash
	`, e.Path, e.LastModifiedMs, ptrToNullString(e.ContentHash))
	if err != nil {
		return fmt.Errorf("failed to upsert file index %s: %w", e.Path, err)
	}
	return nil
}

func upsertFolderIndex(ctx context.Context, q queryer, e ledger.FolderIndexEntry) error {
	_, err := q.ExecContext(ctx, `
	INSERT INTO folder_index (folder_path, last_mtime)
	VALUES (?, ?)
	ON CONFLICT(folder_path) DO UPDATE SET
		last_mtime = excluded.last_mtime
	`, e.Path, e.LastModifiedMs)
	if err != nil {
		return fmt.Errorf("failed to upsert folder index %s: %w", e.Path, err)
	}
	return nil
}

func deleteByPaths(ctx context.Context, db *DB, table, column string, paths []string, chunkSize int) (int64, error) {
	if len(paths) == 0 {
		return 0, nil
	}
	var total int64
	err := db.WithTx(ctx, func(tx *Tx) error {
		for _, chunk := range chunkStrings(paths, chunkSize) {
			query := `DELETE FROM ` + table + ` WHERE ` + column + ` IN (` + placeholders(len(chunk)) + `)`
			res, err := tx.tx.ExecContext(ctx, query, stringArgs(chunk)...)
			if err != nil {
				return fmt.Errorf("failed to delete from %s: %w", table, err)
			}
			n, _ := res.RowsAffected()
			total += n
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return total, nil
}

func scanFileIndexes(rows *sql.Rows) ([]ledger.FileIndexEntry, error) {
	var out []ledger.FileIndexEntry
	for rows.Next() {
		var e ledger.FileIndexEntry
		var hash sql.NullString
		if err := rows.Scan(&e.Path, &e.LastModifiedMs, &hash); err != nil {
			return nil, fmt.Errorf("failed to scan file index: %w", err)
		}
		e.ContentHash = nullStringPtr(hash)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating file indexes: %w", err)
	}
	return out, nil
}

// chunkStrings splits s into slices of at most size elements.
func chunkStrings(s []string, size int) [][]string {
	var chunks [][]string
	for len(s) > 0 {
		n := size
		if len(s) < n {
			n = len(s)
		}
		chunks = append(chunks, s[:n])
		s = s[n:]
	}
	return chunks
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func stringArgs(s []string) []any {
	args := make([]any, len(s))
	for i, v := range s {
		args[i] = v
	}
	return args
}

func ptrToNullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullStringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func ptrToNullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

func nullInt64Ptr(n sql.NullInt64) *int64 {
	if !n.Valid {
		return nil
	}
	v := n.Int64
	return &v
}
