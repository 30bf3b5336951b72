package ingest

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fabtrace/wafersync/internal/ledger"
	"github.com/fabtrace/wafersync/internal/schema"
)

// walker collects the records and ledger observations of one stage folder.
type walker struct {
	in      *Ingestor
	tracker *ledger.Tracker
	report  *Report
	stage   schema.Stage
	parser  Parser
	useHash bool

	counts  Counts
	records []schema.Record
	files   []ledger.Observation
	folders []ledger.Observation
}

// walk descends dir according to rules and reports whether every entry in
// the subtree was processed. A gate folder's ledger entry is only queued when
// its whole subtree succeeded, so a partial failure is rescanned on the next
// run.
func (w *walker) walk(ctx context.Context, dir string, rules []Rule, scope Scope) bool {
	if ctx.Err() != nil {
		return false
	}

	entries, err := w.in.lister.List(dir)
	if err != nil {
		w.fail(dir, err)
		return false
	}

	ok := true
	for _, e := range entries {
		rule, m := match(rules, e)
		if rule == nil {
			continue
		}
		path := filepath.Join(dir, e.Name)
		w.counts.Scanned++

		if rule.Dir {
			if !w.folder(ctx, path, rule, m, scope) {
				ok = false
			}
			if ctx.Err() != nil {
				return false
			}
			continue
		}
		if !w.leaf(ctx, path, rule, m, scope) {
			ok = false
		}
	}
	return ok
}

// folder descends into a matched directory. Gate directories are skipped
// while the folder ledger reports them unchanged.
func (w *walker) folder(ctx context.Context, path string, rule *Rule, m []string, scope Scope) bool {
	var obs ledger.Observation
	if rule.Gate {
		var err error
		if obs, err = w.tracker.ObserveFolder(ctx, path); err != nil {
			w.fail(path, err)
			return false
		}
		if !obs.Changed {
			w.counts.SkippedCached++
			return true
		}
	}

	if rule.Bind != nil {
		var err error
		if scope, err = rule.Bind(scope, m); err != nil {
			w.fail(path, err)
			return false
		}
	}

	if !w.walk(ctx, path, rule.Next, scope) {
		return false
	}
	if rule.Gate {
		w.folders = append(w.folders, obs)
	}
	return true
}

// leaf gates a matched file through the file ledger and parses it.
func (w *walker) leaf(ctx context.Context, path string, rule *Rule, m []string, scope Scope) bool {
	obs, err := w.tracker.ObserveFile(ctx, path, w.useHash)
	if err != nil {
		w.fail(path, err)
		return false
	}
	if !obs.Changed {
		w.counts.SkippedCached++
		// Same content under a newer mtime: record the new mtime so the
		// file is not hashed again next run.
		if obs.Hash != nil && obs.LastMs != nil && obs.CurrentMs > *obs.LastMs {
			w.files = append(w.files, obs)
		}
		return true
	}

	w.counts.Read++
	records, err := w.parser.Parse(ctx, Leaf{
		Path:      path,
		Stage:     w.stage,
		Rule:      rule.Name,
		Scope:     scope,
		Match:     m,
		ModTimeMs: obs.CurrentMs,
	})
	if err != nil {
		w.fail(path, err)
		return false
	}
	for _, rec := range records {
		if rec.FilePath() != path {
			w.fail(path, fmt.Errorf("parser returned a record for %s", rec.FilePath()))
			return false
		}
		if err := rec.Validate(); err != nil {
			w.fail(path, err)
			return false
		}
	}

	w.counts.Matched += len(records)
	w.records = append(w.records, records...)
	w.files = append(w.files, obs)
	return true
}

func (w *walker) fail(path string, err error) {
	w.in.fail(w.report, path, w.stage, err)
}
