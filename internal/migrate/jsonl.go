// Package migrate moves records between stores as JSONL.
//
// Each line is one tagged record (see schema.Record). Import goes through
// the sync engine, so newer-wins holds across stores: importing an older
// snapshot into a newer store changes nothing.
package migrate

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/goccy/go-json"

	"github.com/fabtrace/wafersync/internal/schema"
	"github.com/fabtrace/wafersync/internal/store"
	"github.com/fabtrace/wafersync/internal/sync"
)

// DefaultBatchSize is the number of records synced per transaction on import.
const DefaultBatchSize = 500

// ExportOptions contains configuration for an export
type ExportOptions struct {
	// Spreadsheets includes substrate spreadsheet records.
	Spreadsheets bool
	// Backup keeps a timestamped copy of an existing output file.
	Backup bool
}

// ExportResult contains statistics about an export
type ExportResult struct {
	WaferMaps     int
	Spreadsheets  int
	BackupCreated string
}

// Export writes every stored record to w, one JSON object per line.
func Export(ctx context.Context, db *store.DB, w io.Writer, opts ExportOptions) (*ExportResult, error) {
	result := &ExportResult{}
	enc := json.NewEncoder(w)

	err := db.EachWaferMap(ctx, func(row *store.WaferMapRow) error {
		if err := enc.Encode(schema.NewWaferMap(row.WaferMapRecord)); err != nil {
			return fmt.Errorf("failed to encode wafer map %s: %w", row.Key(), err)
		}
		result.WaferMaps++
		return nil
	})
	if err != nil {
		return nil, err
	}

	if opts.Spreadsheets {
		sheets, err := db.ListSpreadsheets(ctx, "")
		if err != nil {
			return nil, err
		}
		for _, s := range sheets {
			if err := enc.Encode(schema.NewSpreadsheet(*s)); err != nil {
				return nil, fmt.Errorf("failed to encode spreadsheet %s: %w", s.FilePath, err)
			}
			result.Spreadsheets++
		}
	}

	return result, nil
}

// ExportFile writes the export to path atomically via a temp file.
func ExportFile(ctx context.Context, db *store.DB, path string, opts ExportOptions) (*ExportResult, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	var backup string
	if opts.Backup {
		if input, err := os.ReadFile(path); err == nil {
			backup = path + ".backup." + time.Now().Format("20060102-150405")
			if err := os.WriteFile(backup, input, 0600); err != nil {
				return nil, fmt.Errorf("failed to create backup: %w", err)
			}
		}
	}

	tmpPath := path + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create temp file: %w", err)
	}

	w := bufio.NewWriter(f)
	result, err := Export(ctx, db, w, opts)
	if err == nil {
		err = w.Flush()
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(tmpPath)
		return nil, err
	}

	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return nil, fmt.Errorf("failed to rename temp file: %w", err)
	}
	result.BackupCreated = backup
	return result, nil
}

// LineError is an invalid line in a JSONL input.
type LineError struct {
	Line int
	Err  error
}

func (e *LineError) Error() string {
	return fmt.Sprintf("line %d: %v", e.Line, e.Err)
}

func (e *LineError) Unwrap() error { return e.Err }

// FromJSONL decodes records from r. Lines that fail to decode or validate
// are returned as LineErrors alongside the valid records; an I/O error
// stops decoding.
func FromJSONL(r io.Reader) ([]schema.Record, []*LineError, error) {
	var records []schema.Record
	var bad []*LineError

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var rec schema.Record
		if err := json.Unmarshal(line, &rec); err != nil {
			bad = append(bad, &LineError{Line: lineNum, Err: fmt.Errorf("invalid JSON: %w", err)})
			continue
		}
		if err := rec.Validate(); err != nil {
			bad = append(bad, &LineError{Line: lineNum, Err: err})
			continue
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return records, bad, fmt.Errorf("failed to read JSONL at line %d: %w", lineNum+1, err)
	}

	return records, bad, nil
}

// ImportOptions contains configuration for an import
type ImportOptions struct {
	// DryRun decodes and validates without syncing.
	DryRun bool
	// BatchSize is the number of records per transaction (0 = DefaultBatchSize).
	BatchSize int
}

// ImportResult contains statistics about an import
type ImportResult struct {
	Records int
	Counts  sync.Counts
	Errors  []string
}

// Import syncs the records of a JSONL file through engine in batches.
// Invalid lines are reported in the result and skipped. A failed batch
// stops the import; batches already committed stay committed.
func Import(ctx context.Context, engine sync.Engine, path string, opts ImportOptions) (*ImportResult, error) {
	// #nosec G304 - controlled path from CLI
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open JSONL file: %w", err)
	}
	defer f.Close()

	records, bad, err := FromJSONL(f)
	if err != nil {
		return nil, err
	}

	result := &ImportResult{Records: len(records)}
	for _, e := range bad {
		result.Errors = append(result.Errors, e.Error())
	}
	if opts.DryRun {
		return result, nil
	}

	size := opts.BatchSize
	if size <= 0 {
		size = DefaultBatchSize
	}
	for start := 0; start < len(records); start += size {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		end := min(start+size, len(records))
		counts, err := engine.SyncRecords(ctx, records[start:end])
		if err != nil {
			return result, fmt.Errorf("failed to import records %d-%d: %w", start+1, end, err)
		}
		result.Counts = result.Counts.Add(counts)
	}

	return result, nil
}
