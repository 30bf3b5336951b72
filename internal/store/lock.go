package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"
)

// lockPollInterval is how often AcquireLock retries a held lock.
const lockPollInterval = 50 * time.Millisecond

// Lock is an advisory, inter-process lock that serializes ingest runs
// against one database file. It lives next to the database as <db>.lock.
type Lock struct {
	f    *os.File
	path string
}

// LockPath returns the lock file path for a database path.
func LockPath(dbPath string) string {
	return dbPath + ".lock"
}

// TryLock takes the run lock without waiting. It returns ErrLocked if
// another process holds it.
func TryLock(dbPath string) (*Lock, error) {
	path := LockPath(dbPath)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open lock file: %w", err)
	}
	if err := lockFile(f); err != nil {
		_ = f.Close()
		return nil, err
	}
	return &Lock{f: f, path: path}, nil
}

// AcquireLock waits for the run lock until ctx is done.
func AcquireLock(ctx context.Context, dbPath string) (*Lock, error) {
	for {
		l, err := TryLock(dbPath)
		if err == nil {
			return l, nil
		}
		if !errors.Is(err, ErrLocked) {
			return nil, err
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %v", ErrLocked, ctx.Err())
		case <-time.After(lockPollInterval):
		}
	}
}

// Release drops the lock. The lock file is left in place.
func (l *Lock) Release() error {
	if l == nil || l.f == nil {
		return nil
	}
	err := unlockFile(l.f)
	if cerr := l.f.Close(); err == nil {
		err = cerr
	}
	l.f = nil
	if err != nil {
		return fmt.Errorf("failed to release lock %s: %w", l.path, err)
	}
	return nil
}
