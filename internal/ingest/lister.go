package ingest

import (
	"fmt"
	"os"
)

// Entry is one immediate child of a directory.
type Entry struct {
	Name  string
	IsDir bool
}

// Lister lists the immediate children of a directory.
type Lister interface {
	List(dir string) ([]Entry, error)
}

// ListFunc adapts a function to the Lister interface.
type ListFunc func(dir string) ([]Entry, error)

// List calls f(dir).
func (f ListFunc) List(dir string) ([]Entry, error) { return f(dir) }

// OSLister lists directories with os.ReadDir. Entries come back sorted by name.
type OSLister struct{}

// List implements Lister.
func (OSLister) List(dir string) ([]Entry, error) {
	dirents, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", dir, err)
	}
	out := make([]Entry, 0, len(dirents))
	for _, d := range dirents {
		out = append(out, Entry{Name: d.Name(), IsDir: d.IsDir()})
	}
	return out, nil
}
