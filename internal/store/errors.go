package store

import "errors"

// ErrLocked is returned when another process holds the run lock.
var ErrLocked = errors.New("store is locked by another run")
