package daemon

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/fabtrace/wafersync/internal/ingest"
)

// Runner is the part of ingest.Ingestor the daemon drives.
type Runner interface {
	Run(ctx context.Context, sources []ingest.Source, opts ingest.RunOptions) (*ingest.Report, error)
	Invalidate(ctx context.Context, root string, paths []string) (int64, error)
}

// Config holds configuration for the daemon.
type Config struct {
	// DebounceInterval is how long a path must stay quiet before a run is
	// triggered. This batches copies of whole wafer folders together.
	DebounceInterval time.Duration

	// Options are passed to every triggered run.
	Options ingest.RunOptions

	// Logger for daemon activity
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		DebounceInterval: 2 * time.Second,
		Logger:           log.New(os.Stderr, "[daemon] ", log.LstdFlags),
	}
}

// Daemon re-runs ingestion when files change under the source roots.
type Daemon struct {
	runner  Runner
	sources []ingest.Source
	roots   []string
	config  *Config

	watcher       *FileWatcher
	changeQueue   map[string]change
	changeQueueMu sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	statsMu sync.Mutex
	stats   Stats
}

type change struct {
	root     string
	queuedAt time.Time
}

// Stats summarizes daemon activity.
type Stats struct {
	Runs        int       `json:"runs"`
	FailedRuns  int       `json:"failed_runs"`
	Events      int       `json:"events"`
	Invalidated int64     `json:"invalidated"`
	LastRun     time.Time `json:"last_run"`
}

// New creates a daemon over the given sources with default configuration.
func New(runner Runner, sources []ingest.Source) (*Daemon, error) {
	return NewWithConfig(runner, sources, DefaultConfig())
}

// NewWithConfig creates a daemon with custom configuration.
func NewWithConfig(runner Runner, sources []ingest.Source, config *Config) (*Daemon, error) {
	if runner == nil {
		return nil, fmt.Errorf("runner cannot be nil")
	}
	if len(sources) == 0 {
		return nil, fmt.Errorf("no sources configured")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if config.Logger == nil {
		config.Logger = DefaultConfig().Logger
	}
	if config.DebounceInterval <= 0 {
		config.DebounceInterval = DefaultConfig().DebounceInterval
	}

	watcher, err := NewFileWatcher()
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	var roots []string
	for _, s := range sources {
		if !seen[s.Root] {
			seen[s.Root] = true
			roots = append(roots, s.Root)
		}
	}
	sort.Strings(roots)

	ctx, cancel := context.WithCancel(context.Background())

	return &Daemon{
		runner:      runner,
		sources:     sources,
		roots:       roots,
		config:      config,
		watcher:     watcher,
		changeQueue: make(map[string]change),
		ctx:         ctx,
		cancel:      cancel,
	}, nil
}

// Start runs one ingestion, then watches the source roots and re-runs
// ingestion after changes settle. Runs never overlap.
//
// This blocks until ctx is cancelled or Stop is called.
func (d *Daemon) Start(ctx context.Context) error {
	d.config.Logger.Println("Starting daemon")

	if err := d.watcher.Start(d.roots...); err != nil {
		return fmt.Errorf("failed to watch sources: %w", err)
	}
	d.config.Logger.Printf("Watching %d directories under %v", d.watcher.WatchedDirs(), d.roots)

	d.runOnce()

	d.wg.Add(2)
	go d.watchFileEvents()
	go d.processChangeQueue()

	select {
	case <-ctx.Done():
		d.config.Logger.Println("Shutdown signal received")
		return d.Stop()
	case <-d.ctx.Done():
		return nil
	}
}

// Stop gracefully shuts down the daemon. A run in progress is cancelled
// at its next folder boundary.
func (d *Daemon) Stop() error {
	d.config.Logger.Println("Stopping daemon")

	d.cancel()

	if err := d.watcher.Stop(); err != nil {
		d.config.Logger.Printf("Error closing watcher: %v", err)
	}

	d.wg.Wait()

	d.config.Logger.Println("Daemon stopped")
	return nil
}

// Stats returns a snapshot of the daemon counters.
func (d *Daemon) Stats() Stats {
	d.statsMu.Lock()
	defer d.statsMu.Unlock()
	return d.stats
}

func (d *Daemon) watchFileEvents() {
	defer d.wg.Done()

	for {
		select {
		case <-d.ctx.Done():
			return

		case event, ok := <-d.watcher.Events():
			if !ok {
				return
			}
			d.queueChange(event)

		case err, ok := <-d.watcher.Errors():
			if !ok {
				return
			}
			d.config.Logger.Printf("Watcher error: %v", err)
		}
	}
}

func (d *Daemon) queueChange(event FileEvent) {
	d.changeQueueMu.Lock()
	defer d.changeQueueMu.Unlock()

	d.changeQueue[event.Path] = change{root: event.Root, queuedAt: time.Now()}

	d.statsMu.Lock()
	d.stats.Events++
	d.statsMu.Unlock()
}

func (d *Daemon) processChangeQueue() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.DebounceInterval / 4)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return

		case <-ticker.C:
			if d.processPendingChanges() {
				d.runOnce()
			}
		}
	}
}

// processPendingChanges invalidates the folders above settled changes and
// reports whether a run is due. Changes keep waiting while any path in the
// queue is still being written.
func (d *Daemon) processPendingChanges() bool {
	d.changeQueueMu.Lock()
	defer d.changeQueueMu.Unlock()

	if len(d.changeQueue) == 0 {
		return false
	}
	now := time.Now()
	for _, c := range d.changeQueue {
		if now.Sub(c.queuedAt) < d.config.DebounceInterval {
			return false
		}
	}

	byRoot := make(map[string][]string)
	for path, c := range d.changeQueue {
		byRoot[c.root] = append(byRoot[c.root], path)
		delete(d.changeQueue, path)
	}

	var total int64
	for root, paths := range byRoot {
		sort.Strings(paths)
		n, err := d.runner.Invalidate(d.ctx, root, paths)
		if err != nil {
			d.config.Logger.Printf("Error invalidating %s: %v", root, err)
			continue
		}
		total += n
	}
	d.config.Logger.Printf("Processing %d changed paths (%d folder entries invalidated)", countPaths(byRoot), total)

	d.statsMu.Lock()
	d.stats.Invalidated += total
	d.statsMu.Unlock()
	return true
}

func countPaths(byRoot map[string][]string) int {
	n := 0
	for _, paths := range byRoot {
		n += len(paths)
	}
	return n
}

// runOnce runs one ingestion over every source.
func (d *Daemon) runOnce() {
	report, err := d.runner.Run(d.ctx, d.sources, d.config.Options)

	d.statsMu.Lock()
	d.stats.Runs++
	d.stats.LastRun = time.Now()
	if err != nil || (report != nil && report.Failed()) {
		d.stats.FailedRuns++
	}
	d.statsMu.Unlock()

	switch {
	case errors.Is(err, context.Canceled):
		d.config.Logger.Println("Run cancelled")
	case err != nil:
		d.config.Logger.Printf("Run failed: %v", err)
	case report != nil:
		c := report.Counts
		d.config.Logger.Printf("Run %s complete: read=%d inserted=%d updated=%d failures=%d",
			report.RunID, c.Read, c.Inserted, c.Updated, len(report.Failures))
	}
}
