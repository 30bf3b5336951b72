package ingest

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/fabtrace/wafersync/internal/ledger"
	"github.com/fabtrace/wafersync/internal/schema"
	"github.com/fabtrace/wafersync/internal/store"
	"github.com/fabtrace/wafersync/internal/sync"
)

// Config holds the configuration for an Ingestor.
type Config struct {
	// UseHash enables the content-hash fallback when a file's mtime advanced.
	UseHash bool

	// Location interprets timestamps embedded in file names (nil = local).
	// Ignored when Parsers is set.
	Location *time.Location

	// Parsers maps stages to leaf parsers (nil = DefaultParsers(Location)).
	Parsers map[schema.Stage]Parser

	// Lister lists directories (nil = OSLister).
	Lister Lister

	// Stater and Hasher replace os.Stat and the xxhash content hasher.
	Stater ledger.Stater
	Hasher ledger.Hasher

	// Observer receives run notifications (may be nil).
	Observer Observer

	// SaveReports persists each non-dry-run report in the store.
	SaveReports bool

	// Logger for ingest events (nil = stderr with "[ingest] " prefix).
	Logger *log.Logger
}

// DefaultConfig returns sensible default configuration.
func DefaultConfig() Config {
	return Config{
		SaveReports: true,
	}
}

// RunOptions are the per-run knobs.
type RunOptions struct {
	// IgnoreSessionCache drops in-memory observations before the run, forcing
	// every path to be stat'ed again while still trusting the ledger.
	IgnoreSessionCache bool

	// ResetLedger deletes every persisted file and folder entry before the
	// run, so every path is treated as new. Implies IgnoreSessionCache.
	ResetLedger bool

	// DryRun walks and parses without syncing or touching the ledger.
	DryRun bool

	// Session lets the caller share one session between a dry run and the
	// run that follows it (nil = a fresh session for this run).
	Session *ledger.Session
}

// Ingestor walks configured source trees, parses changed leaves, and syncs
// the resulting records together with their ledger entries.
type Ingestor struct {
	db       *store.DB
	engine   sync.Engine
	cfg      Config
	layouts  map[schema.Stage]Layout
	parsers  map[schema.Stage]Parser
	lister   Lister
	logger   *log.Logger
	observer Observer
}

// New creates a new Ingestor.
//
// If engine is nil, a sync engine over database is created.
func New(database *store.DB, engine sync.Engine, cfg Config) (*Ingestor, error) {
	if database == nil {
		return nil, fmt.Errorf("database cannot be nil")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = log.New(os.Stderr, "[ingest] ", log.LstdFlags)
	}
	if engine == nil {
		engine = sync.New(database, log.New(logger.Writer(), "[sync] ", logger.Flags()))
	}
	parsers := cfg.Parsers
	if parsers == nil {
		parsers = DefaultParsers(cfg.Location)
	}
	lister := cfg.Lister
	if lister == nil {
		lister = OSLister{}
	}

	return &Ingestor{
		db:       database,
		engine:   engine,
		cfg:      cfg,
		layouts:  Layouts(),
		parsers:  parsers,
		lister:   lister,
		logger:   logger,
		observer: cfg.Observer,
	}, nil
}

// Run ingests every source and returns the run report.
//
// Each resolved stage folder is synced as one batch. A failed batch is rolled
// back (records and ledger entries alike), reported, and does not stop the
// remaining sources; the returned error joins every batch failure. Context
// cancellation stops the run at the next folder boundary without syncing the
// partially walked source.
func (in *Ingestor) Run(ctx context.Context, sources []Source, opts RunOptions) (*Report, error) {
	if !opts.DryRun {
		lock, err := store.AcquireLock(ctx, in.db.Path())
		if err != nil {
			return nil, err
		}
		defer lock.Release()
	}

	session := opts.Session
	if session == nil {
		session = ledger.NewSession()
	}
	if opts.IgnoreSessionCache {
		session.ResetFiles()
		session.ResetFolders()
	}
	if opts.ResetLedger && !opts.DryRun {
		if err := in.resetLedger(ctx); err != nil {
			return nil, err
		}
		session.Reset()
	}

	trackerOpts := []ledger.Option{ledger.WithSession(session)}
	if in.cfg.Stater != nil {
		trackerOpts = append(trackerOpts, ledger.WithStater(in.cfg.Stater))
	}
	if in.cfg.Hasher != nil {
		trackerOpts = append(trackerOpts, ledger.WithHasher(in.cfg.Hasher))
	}
	tracker := ledger.NewTracker(in.db, trackerOpts...)

	report := &Report{
		RunID:     uuid.NewString(),
		StartedAt: time.Now(),
		DryRun:    opts.DryRun,
	}
	if in.observer != nil {
		in.observer.RunStarted(report)
	}

	var errs []error
sources:
	for _, src := range sources {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}

		root, err := filepath.Abs(src.Root)
		if err != nil {
			in.fail(report, src.Root, src.Stage, err)
			continue
		}
		src.Root = root

		resolved, err := expand(in.lister, src)
		if err != nil {
			in.fail(report, src.Root, src.Stage, err)
			continue
		}

		for _, r := range resolved {
			sr, err := in.runSource(ctx, tracker, r, report, opts.DryRun)
			report.Sources = append(report.Sources, sr)
			report.Counts.add(sr.Counts)
			if err != nil {
				errs = append(errs, err)
				if ctx.Err() != nil {
					break sources
				}
			}
		}
	}

	report.FinishedAt = time.Now()
	report.Duration = report.FinishedAt.Sub(report.StartedAt)
	report.Cache = session.Stats()

	if !opts.DryRun && in.cfg.SaveReports {
		if err := in.saveReport(ctx, report); err != nil {
			in.logger.Printf("WARNING: Failed to save run report %s: %v", report.RunID, err)
		}
	}
	if in.observer != nil {
		in.observer.RunFinished(report)
	}

	c := report.Counts
	in.logger.Printf("Run %s: scanned=%d cached=%d read=%d matched=%d inserted=%d updated=%d skipped=%d failures=%d (%v)",
		report.RunID, c.Scanned, c.SkippedCached, c.Read, c.Matched, c.Inserted, c.Updated, c.Skipped,
		len(report.Failures), report.Duration.Round(time.Millisecond))

	return report, errors.Join(errs...)
}

// runSource walks one stage folder and syncs what it found as one batch.
func (in *Ingestor) runSource(ctx context.Context, tracker *ledger.Tracker, src Source, report *Report, dryRun bool) (SourceReport, error) {
	sr := SourceReport{Source: src}

	layout, ok := in.layouts[src.Stage]
	if !ok {
		in.fail(report, src.Root, src.Stage, fmt.Errorf("%w %s", ErrNoLayout, src.Stage))
		return sr, nil
	}
	parser, ok := in.parsers[src.Stage]
	if !ok {
		in.fail(report, src.Root, src.Stage, fmt.Errorf("%w %s", ErrNoParser, src.Stage))
		return sr, nil
	}

	w := &walker{
		in:      in,
		tracker: tracker,
		report:  report,
		stage:   src.Stage,
		parser:  parser,
		useHash: in.cfg.UseHash,
	}
	w.walk(ctx, filepath.Clean(src.Root), layout.Rules, Scope{})
	sr.Counts = w.counts

	if err := ctx.Err(); err != nil {
		return sr, err
	}
	if dryRun {
		return sr, nil
	}

	batch := sync.Batch{Records: w.records}
	for _, obs := range w.files {
		batch.Files = append(batch.Files, obs.FileEntry())
	}
	for _, obs := range w.folders {
		batch.Folders = append(batch.Folders, obs.FolderEntry())
	}
	if batch.Empty() {
		return sr, nil
	}

	counts, err := in.engine.Sync(ctx, batch)
	if err != nil {
		in.fail(report, src.Root, src.Stage, err)
		return sr, err
	}

	for _, obs := range w.files {
		tracker.MarkFileRecorded(obs)
	}
	for _, obs := range w.folders {
		tracker.MarkFolderRecorded(obs)
	}
	sr.Counts.addSync(counts)
	sr.Synced = true
	return sr, nil
}

// Invalidate forgets the folder ledger entries of every directory between
// root and each of paths, so the next run descends into them again. A
// folder's mtime only moves when its own entries change, so a file
// rewritten in place stays hidden behind its folder. Returns
// the number of entries removed.
func (in *Ingestor) Invalidate(ctx context.Context, root string, paths []string) (int64, error) {
	root, err := filepath.Abs(root)
	if err != nil {
		return 0, err
	}
	seen := make(map[string]bool)
	var dirs []string
	for _, p := range paths {
		p, err := filepath.Abs(p)
		if err != nil {
			return 0, err
		}
		for d := p; d != root; d = filepath.Dir(d) {
			rel, err := filepath.Rel(root, d)
			if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
				break
			}
			if !seen[d] {
				seen[d] = true
				dirs = append(dirs, d)
			}
		}
	}
	if len(dirs) == 0 {
		return 0, nil
	}
	return in.db.DeleteFolderIndexes(ctx, dirs)
}

func (in *Ingestor) resetLedger(ctx context.Context) error {
	files, err := in.db.DeleteAllFileIndexes(ctx)
	if err != nil {
		return err
	}
	folders, err := in.db.DeleteAllFolderIndexes(ctx)
	if err != nil {
		return err
	}
	in.logger.Printf("Reset ledger: removed %d file and %d folder entries", files, folders)
	return nil
}

func (in *Ingestor) saveReport(ctx context.Context, report *Report) error {
	data, err := report.Marshal()
	if err != nil {
		return err
	}
	return in.db.SaveRun(ctx, store.RunRecord{
		ID:         report.RunID,
		StartedAt:  report.StartedAt,
		FinishedAt: report.FinishedAt,
		Failed:     report.Failed(),
		Report:     data,
	})
}

// fail records a failure in the report, logs it and notifies the observer.
func (in *Ingestor) fail(report *Report, path string, stage schema.Stage, err error) {
	f := Failure{Path: path, Stage: stage, Cause: err.Error(), Err: err}
	report.Failures = append(report.Failures, f)
	in.logger.Printf("WARNING: %s", f)
	if in.observer != nil {
		in.observer.RunFailure(report, f)
	}
}
