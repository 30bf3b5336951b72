package ingest

import (
	"fmt"
	"path/filepath"
	"regexp"
	"sort"

	"github.com/fabtrace/wafersync/internal/schema"
)

// Source is one configured subtree.
//
// With an empty Pattern, Root is itself a stage folder (for example
// /data/CP-prober-01). With a Pattern, Root is a data root and every
// immediate child directory whose name matches Pattern is ingested as a
// stage folder.
type Source struct {
	Stage   schema.Stage `json:"stage"`
	Root    string       `json:"root"`
	Pattern string       `json:"pattern,omitempty"`
}

func (s Source) String() string {
	if s.Pattern == "" {
		return fmt.Sprintf("%s:%s", s.Stage, s.Root)
	}
	return fmt.Sprintf("%s:%s/%s", s.Stage, s.Root, s.Pattern)
}

// Recognize classifies the immediate child directories of root into stages
// by testing each stage's pattern against the directory name. Patterns are
// unanchored, so "CP-prober-[A-Za-z0-9]+" matches "CP-prober-01".
//
// A pattern that does not compile disables only its stage; the returned
// error lists every such stage and wraps ErrInvalidPattern.
func Recognize(lister Lister, root string, patterns map[schema.Stage]string) (map[schema.Stage][]string, error) {
	entries, err := lister.List(root)
	if err != nil {
		return nil, err
	}

	stages := make([]schema.Stage, 0, len(patterns))
	for stage := range patterns {
		stages = append(stages, stage)
	}
	sort.Slice(stages, func(i, j int) bool { return stages[i] < stages[j] })

	out := make(map[schema.Stage][]string)
	var bad []string
	for _, stage := range stages {
		re, err := regexp.Compile(patterns[stage])
		if err != nil {
			bad = append(bad, fmt.Sprintf("%s (%q)", stage, patterns[stage]))
			continue
		}
		for _, e := range entries {
			if e.IsDir && re.MatchString(e.Name) {
				out[stage] = append(out[stage], filepath.Join(root, e.Name))
			}
		}
	}

	if len(bad) > 0 {
		return out, fmt.Errorf("%w: bad pattern for %v", ErrInvalidPattern, bad)
	}
	return out, nil
}

// expand resolves pattern sources to one source per matching stage folder.
func expand(lister Lister, src Source) ([]Source, error) {
	if src.Pattern == "" {
		return []Source{src}, nil
	}
	re, err := regexp.Compile(src.Pattern)
	if err != nil {
		return nil, fmt.Errorf("%w: pattern %q: %v", ErrInvalidPattern, src.Pattern, err)
	}
	entries, err := lister.List(src.Root)
	if err != nil {
		return nil, err
	}
	var out []Source
	for _, e := range entries {
		if e.IsDir && re.MatchString(e.Name) {
			out = append(out, Source{Stage: src.Stage, Root: filepath.Join(src.Root, e.Name)})
		}
	}
	return out, nil
}
