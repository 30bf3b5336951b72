// Package ledger implements mtime/hash change detection over a persistent
// per-path index, with a per-run session cache in front of it.
package ledger

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"github.com/cespare/xxhash/v2"
)

// FileIndexEntry is the last recorded state of one file.
type FileIndexEntry struct {
	Path           string  `json:"file_path"`
	LastModifiedMs int64   `json:"last_mtime"`
	ContentHash    *string `json:"file_hash,omitempty"`
}

// FolderIndexEntry is the last recorded state of one directory.
// Directories are never hashed.
type FolderIndexEntry struct {
	Path           string `json:"folder_path"`
	LastModifiedMs int64  `json:"last_mtime"`
}

// Ledger is the persistent index the tracker reads and writes.
// Lookups return (nil, nil) when no entry exists for the path.
type Ledger interface {
	GetFileIndex(ctx context.Context, path string) (*FileIndexEntry, error)
	GetFolderIndex(ctx context.Context, path string) (*FolderIndexEntry, error)
	UpsertFileIndex(ctx context.Context, entry FileIndexEntry) error
	UpsertFolderIndex(ctx context.Context, entry FolderIndexEntry) error
}

// Stater reports filesystem metadata. os.Stat satisfies it via StatFunc.
type Stater interface {
	Stat(path string) (os.FileInfo, error)
}

// StatFunc adapts a function to the Stater interface.
type StatFunc func(path string) (os.FileInfo, error)

// Stat implements Stater.
func (f StatFunc) Stat(path string) (os.FileInfo, error) { return f(path) }

// Hasher computes a deterministic content digest. Collision resistance is
// not required.
type Hasher interface {
	Hash(path string) (string, error)
}

// XXHasher hashes file contents with xxhash64 and returns lowercase hex.
type XXHasher struct{}

// Hash implements Hasher.
func (XXHasher) Hash(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open %s for hashing: %w", path, err)
	}
	defer f.Close()

	h := xxhash.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("failed to hash %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
