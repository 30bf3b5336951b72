package schema

import "errors"

// ErrInvalidRecord is returned when a parsed record fails validation.
var ErrInvalidRecord = errors.New("invalid record")
