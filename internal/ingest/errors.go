package ingest

import "errors"

// ErrInvalidPattern is returned when a configured matching rule does not
// compile. Only the affected source is disabled for the run.
var ErrInvalidPattern = errors.New("invalid configuration")

// ErrMisaligned is returned when names at different levels of a stage
// layout disagree, for example a file whose batch differs from its folder.
var ErrMisaligned = errors.New("misaligned layout")

// ErrNoLayout is returned for stages that are accepted in configuration but
// have no known directory layout yet.
var ErrNoLayout = errors.New("no layout for stage")

// ErrNoParser is returned when no parser is registered for a stage.
var ErrNoParser = errors.New("no parser for stage")
