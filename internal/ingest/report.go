package ingest

import (
	"fmt"
	"time"

	"github.com/goccy/go-json"

	"github.com/fabtrace/wafersync/internal/ledger"
	"github.com/fabtrace/wafersync/internal/schema"
	"github.com/fabtrace/wafersync/internal/sync"
)

// Counts summarizes one source or one run.
type Counts struct {
	// Scanned is the number of folders and files that matched a layout rule.
	Scanned int `json:"scanned"`
	// SkippedCached is the number of matched entries the ledger reported unchanged.
	SkippedCached int `json:"skipped_cached"`
	// Read is the number of files handed to a parser.
	Read int `json:"read"`
	// Matched is the number of records the parsers produced.
	Matched  int `json:"matched"`
	Inserted int `json:"inserted"`
	Updated  int `json:"updated"`
	Skipped  int `json:"skipped"`
}

func (c *Counts) add(o Counts) {
	c.Scanned += o.Scanned
	c.SkippedCached += o.SkippedCached
	c.Read += o.Read
	c.Matched += o.Matched
	c.Inserted += o.Inserted
	c.Updated += o.Updated
	c.Skipped += o.Skipped
}

func (c *Counts) addSync(s sync.Counts) {
	c.Inserted += s.Inserted
	c.Updated += s.Updated
	c.Skipped += s.Skipped
}

// Failure is one path that could not be processed, with its cause.
type Failure struct {
	Path  string       `json:"path"`
	Stage schema.Stage `json:"stage,omitempty"`
	Cause string       `json:"cause"`

	// Err is the underlying error, for errors.Is checks by callers.
	Err error `json:"-"`
}

func (f Failure) String() string {
	return fmt.Sprintf("%s: %s", f.Path, f.Cause)
}

// SourceReport is the outcome of one resolved stage folder.
type SourceReport struct {
	Source Source `json:"source"`
	Counts Counts `json:"counts"`
	// Synced is true when the source's batch was committed.
	Synced bool `json:"synced"`
}

// Report is the per-run summary.
type Report struct {
	RunID      string              `json:"run_id"`
	StartedAt  time.Time           `json:"started_at"`
	FinishedAt time.Time           `json:"finished_at"`
	Duration   time.Duration       `json:"duration"`
	DryRun     bool                `json:"dry_run,omitempty"`
	Counts     Counts              `json:"counts"`
	Sources    []SourceReport      `json:"sources"`
	Failures   []Failure           `json:"failures,omitempty"`
	Cache      ledger.SessionStats `json:"cache"`
}

// Failed reports whether any path failed during the run.
func (r *Report) Failed() bool {
	return len(r.Failures) > 0
}

// Marshal encodes the report as JSON.
func (r *Report) Marshal() ([]byte, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal report %s: %w", r.RunID, err)
	}
	return data, nil
}

// UnmarshalReport decodes a report produced by Marshal.
func UnmarshalReport(data []byte) (*Report, error) {
	var r Report
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("failed to unmarshal report: %w", err)
	}
	return &r, nil
}

// Observer receives run lifecycle notifications. Implementations must not
// block; the run calls them synchronously.
type Observer interface {
	RunStarted(r *Report)
	RunFailure(r *Report, f Failure)
	RunFinished(r *Report)
}
