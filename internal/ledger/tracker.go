package ledger

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
)

// Observation is the change decision for one path together with the state
// that was observed to make it. Callers that defer the ledger write (for
// example into a sync transaction) persist FileEntry or FolderEntry.
type Observation struct {
	Path      string
	Dir       bool
	Changed   bool
	CurrentMs int64
	// Hash is set when the content was hashed during observation.
	Hash *string
	// LastMs is the ledger mtime at observation time, nil on first sight.
	LastMs *int64
}

// FileEntry returns the ledger entry that records this observation.
func (o Observation) FileEntry() FileIndexEntry {
	return FileIndexEntry{Path: o.Path, LastModifiedMs: o.CurrentMs, ContentHash: o.Hash}
}

// FolderEntry returns the ledger entry that records this observation.
func (o Observation) FolderEntry() FolderIndexEntry {
	return FolderIndexEntry{Path: o.Path, LastModifiedMs: o.CurrentMs}
}

// Tracker decides whether files and folders changed since they were last
// recorded in the ledger.
type Tracker struct {
	ledger  Ledger
	stater  Stater
	hasher  Hasher
	session *Session
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithStater replaces os.Stat.
func WithStater(s Stater) Option {
	return func(t *Tracker) { t.stater = s }
}

// WithHasher replaces the default xxhash content hasher.
func WithHasher(h Hasher) Option {
	return func(t *Tracker) { t.hasher = h }
}

// WithSession memoizes observations for the duration of one run.
func WithSession(s *Session) Option {
	return func(t *Tracker) { t.session = s }
}

// NewTracker creates a Tracker over the given ledger.
func NewTracker(l Ledger, opts ...Option) *Tracker {
	t := &Tracker{
		ledger: l,
		stater: StatFunc(os.Stat),
		hasher: XXHasher{},
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Session returns the session cache, or nil when the tracker has none.
func (t *Tracker) Session() *Session {
	return t.session
}

// HasFileChanged reports whether path changed since its ledger entry.
//
// A path with no entry is changed. Without useHash, it is changed iff the
// current mtime is strictly greater than the recorded one. With useHash, an
// advanced mtime is only reported when the content digest differs too.
// A vanished path yields an error wrapping ErrNotFound.
func (t *Tracker) HasFileChanged(ctx context.Context, path string, useHash bool) (bool, error) {
	obs, err := t.ObserveFile(ctx, path, useHash)
	if err != nil {
		return false, err
	}
	return obs.Changed, nil
}

// HasFolderChanged reports whether the directory mtime advanced past its
// ledger entry. A directory with no entry is changed.
func (t *Tracker) HasFolderChanged(ctx context.Context, path string) (bool, error) {
	obs, err := t.ObserveFolder(ctx, path)
	if err != nil {
		return false, err
	}
	return obs.Changed, nil
}

// UpdateFileIndex records the current state of path in the ledger. Call it
// only after the change has been processed successfully.
func (t *Tracker) UpdateFileIndex(ctx context.Context, path string, useHash bool) error {
	obs, err := t.ObserveFile(ctx, path, useHash)
	if err != nil {
		return err
	}
	if useHash && obs.Hash == nil {
		sum, err := t.hasher.Hash(path)
		if err != nil {
			return fmt.Errorf("failed to hash %s: %w", path, err)
		}
		obs.Hash = &sum
	}
	if err := t.ledger.UpsertFileIndex(ctx, obs.FileEntry()); err != nil {
		return fmt.Errorf("failed to update file index for %s: %w", path, err)
	}
	t.MarkFileRecorded(obs)
	return nil
}

// UpdateFolderIndex records the current mtime of the directory in the ledger.
func (t *Tracker) UpdateFolderIndex(ctx context.Context, path string) error {
	obs, err := t.ObserveFolder(ctx, path)
	if err != nil {
		return err
	}
	if err := t.ledger.UpsertFolderIndex(ctx, obs.FolderEntry()); err != nil {
		return fmt.Errorf("failed to update folder index for %s: %w", path, err)
	}
	t.MarkFolderRecorded(obs)
	return nil
}

// ObserveFile stats (and, in hash mode, hashes) path at most once per
// session and returns the change decision.
func (t *Tracker) ObserveFile(ctx context.Context, path string, useHash bool) (Observation, error) {
	if t.session != nil {
		if obs, ok := t.session.GetFile(path); ok && (!useHash || obs.Hash != nil || !obs.Changed) {
			return obs, nil
		}
	}

	current, err := t.mtime(path)
	if err != nil {
		return Observation{}, err
	}

	entry, err := t.ledger.GetFileIndex(ctx, path)
	if err != nil {
		return Observation{}, fmt.Errorf("failed to read file index for %s: %w", path, err)
	}

	obs := Observation{Path: path, CurrentMs: current}
	switch {
	case entry == nil:
		obs.Changed = true
	case current > entry.LastModifiedMs:
		last := entry.LastModifiedMs
		obs.LastMs = &last
		obs.Changed = true
	default:
		last := entry.LastModifiedMs
		obs.LastMs = &last
	}

	if useHash && obs.Changed {
		sum, err := t.hasher.Hash(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return Observation{}, fmt.Errorf("%w: %s", ErrNotFound, path)
			}
			return Observation{}, err
		}
		obs.Hash = &sum
		if entry != nil && entry.ContentHash != nil && *entry.ContentHash == sum {
			obs.Changed = false
		}
	}

	if t.session != nil {
		t.session.PutFile(obs)
	}
	return obs, nil
}

// ObserveFolder stats a directory at most once per session and returns the
// change decision.
func (t *Tracker) ObserveFolder(ctx context.Context, path string) (Observation, error) {
	if t.session != nil {
		if obs, ok := t.session.GetFolder(path); ok {
			return obs, nil
		}
	}

	current, err := t.mtime(path)
	if err != nil {
		return Observation{}, err
	}

	entry, err := t.ledger.GetFolderIndex(ctx, path)
	if err != nil {
		return Observation{}, fmt.Errorf("failed to read folder index for %s: %w", path, err)
	}

	obs := Observation{Path: path, Dir: true, CurrentMs: current, Changed: true}
	if entry != nil {
		last := entry.LastModifiedMs
		obs.LastMs = &last
		obs.Changed = current > last
	}

	if t.session != nil {
		t.session.PutFolder(obs)
	}
	return obs, nil
}

// MarkFileRecorded tells the session that obs has been written to the ledger,
// so later lookups in the same run see the path as unchanged.
func (t *Tracker) MarkFileRecorded(obs Observation) {
	if t.session == nil {
		return
	}
	last := obs.CurrentMs
	obs.LastMs = &last
	obs.Changed = false
	t.session.PutFile(obs)
}

// MarkFolderRecorded is MarkFileRecorded for directories.
func (t *Tracker) MarkFolderRecorded(obs Observation) {
	if t.session == nil {
		return
	}
	last := obs.CurrentMs
	obs.LastMs = &last
	obs.Changed = false
	t.session.PutFolder(obs)
}

// Missing returns the subset of paths that no longer exist on disk.
// Other stat errors abort the scan.
func (t *Tracker) Missing(ctx context.Context, paths []string) ([]string, error) {
	var missing []string
	for _, p := range paths {
		if err := ctx.Err(); err != nil {
			return missing, err
		}
		if _, err := t.mtime(p); err != nil {
			if errors.Is(err, ErrNotFound) {
				missing = append(missing, p)
				continue
			}
			return missing, err
		}
	}
	return missing, nil
}

// mtime returns the modification time of path in epoch milliseconds.
func (t *Tracker) mtime(path string) (int64, error) {
	info, err := t.stater.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return 0, fmt.Errorf("failed to stat %s: %w", path, err)
	}
	return info.ModTime().UnixMilli(), nil
}
