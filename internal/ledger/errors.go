package ledger

import "errors"

// ErrNotFound is returned when a path no longer exists on disk.
// It is distinct from "unchanged": the caller decides whether to prune the
// ledger entry or retry later.
var ErrNotFound = errors.New("path not found")
