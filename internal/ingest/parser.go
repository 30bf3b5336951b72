package ingest

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/fabtrace/wafersync/internal/schema"
)

// Leaf is one file accepted by a stage layout.
type Leaf struct {
	Path  string
	Stage schema.Stage
	// Rule is the name of the layout rule that accepted the file.
	Rule  string
	Scope Scope
	// Match holds the submatches of the file rule; Match[0] is the file name.
	Match []string
	// ModTimeMs is the mtime observed when the change gate was consulted.
	ModTimeMs int64
}

// Parser turns a leaf into records. All records returned for one leaf must
// carry the leaf's path. Errors are recoverable: the leaf is reported and
// skipped.
type Parser interface {
	Parse(ctx context.Context, leaf Leaf) ([]schema.Record, error)
}

// ParserFunc adapts a function to the Parser interface.
type ParserFunc func(ctx context.Context, leaf Leaf) ([]schema.Record, error)

// Parse calls f(ctx, leaf).
func (f ParserFunc) Parse(ctx context.Context, leaf Leaf) ([]schema.Record, error) {
	return f(ctx, leaf)
}

// DefaultParsers returns the metadata parsers for every stage with a layout.
// They derive records from the naming convention alone; timestamps embedded
// in file names are interpreted in loc (nil means local time).
func DefaultParsers(loc *time.Location) map[schema.Stage]Parser {
	return map[schema.Stage]Parser{
		schema.StageCPProber:  ParserFunc(parseCPProber),
		schema.StageWLBI:      wlbiParser{loc: loc},
		schema.StageAOI:       aoiParser{loc: loc},
		schema.StageSubstrate: substrateParser{loc: loc},
	}
}

func parseCPProber(_ context.Context, leaf Leaf) ([]schema.Record, error) {
	m := leaf.Match
	if len(m) != 4 {
		return nil, fmt.Errorf("unexpected cpProber file name %s", leaf.Path)
	}
	wafer, err := strconv.Atoi(m[3])
	if err != nil {
		return nil, fmt.Errorf("bad wafer id %q: %w", m[3], err)
	}
	s := leaf.Scope
	if m[1] != s.Model || m[2] != s.Batch || s.Wafer == nil || *s.Wafer != wafer {
		return nil, fmt.Errorf("%w: %s does not belong to its wafer folder", ErrMisaligned, m[0])
	}
	return []schema.Record{schema.NewWaferMap(schema.WaferMapRecord{
		ProductID:   s.Model,
		BatchID:     s.Batch,
		WaferID:     wafer,
		Stage:       schema.StageCPProber,
		SubStage:    s.SubStage,
		RetestCount: s.Retest,
		FilePath:    leaf.Path,
	})}, nil
}

type wlbiParser struct{ loc *time.Location }

func (p wlbiParser) Parse(_ context.Context, leaf Leaf) ([]schema.Record, error) {
	m := leaf.Match
	if len(m) != 5 {
		return nil, fmt.Errorf("unexpected wlbi file name %s", leaf.Path)
	}
	s := leaf.Scope
	if m[1] != s.Batch {
		return nil, fmt.Errorf("%w: batch %s != %s", ErrMisaligned, m[1], s.Batch)
	}
	wafer, err := strconv.Atoi(m[2])
	if err != nil {
		return nil, fmt.Errorf("bad wafer id %q: %w", m[2], err)
	}
	ms, err := schema.StampMs(m[3], m[4], p.loc)
	if err != nil {
		return nil, err
	}
	return []schema.Record{schema.NewWaferMap(schema.WaferMapRecord{
		ProductID:   s.Model,
		BatchID:     s.Batch,
		WaferID:     wafer,
		Stage:       schema.StageWLBI,
		SubStage:    s.SubStage,
		RetestCount: s.Retest,
		TimeMs:      &ms,
		FilePath:    leaf.Path,
	})}, nil
}

type aoiParser struct{ loc *time.Location }

func (p aoiParser) Parse(_ context.Context, leaf Leaf) ([]schema.Record, error) {
	m := leaf.Match
	if len(m) != 6 {
		return nil, fmt.Errorf("unexpected aoi file name %s", leaf.Path)
	}
	s := leaf.Scope
	if m[1] != s.Model || m[2] != s.Batch {
		return nil, fmt.Errorf("%w: %s is not under %s_%s", ErrMisaligned, m[0], s.Model, s.Batch)
	}
	wafer, err := strconv.Atoi(m[3])
	if err != nil {
		return nil, fmt.Errorf("bad wafer id %q: %w", m[3], err)
	}
	ms, err := schema.StampMs(m[4], m[5], p.loc)
	if err != nil {
		return nil, err
	}
	return []schema.Record{schema.NewWaferMap(schema.WaferMapRecord{
		ProductID: s.Model,
		BatchID:   s.Batch,
		WaferID:   wafer,
		Stage:     schema.StageAOI,
		TimeMs:    &ms,
		FilePath:  leaf.Path,
	})}, nil
}

type substrateParser struct{ loc *time.Location }

func (p substrateParser) Parse(_ context.Context, leaf Leaf) ([]schema.Record, error) {
	m := leaf.Match
	rec := schema.SpreadsheetRecord{
		Stage:          schema.StageSubstrate,
		FilePath:       leaf.Path,
		LastModifiedMs: leaf.ModTimeMs,
	}
	switch {
	case leaf.Rule == ruleDefectList && len(m) == 2:
		rec.Kind = schema.SpreadsheetDefectList
		rec.ID = m[1]
	case leaf.Rule == ruleProductList:
		rec.Kind = schema.SpreadsheetMapping
	case leaf.Rule == ruleProductSheet && len(m) == 4:
		ms, err := schema.StampMs(m[2], m[3], p.loc)
		if err != nil {
			return nil, err
		}
		rec.Kind = schema.SpreadsheetProduct
		rec.OEM = m[1]
		rec.TimeMs = &ms
	default:
		return nil, fmt.Errorf("unexpected substrate file name %s", leaf.Path)
	}
	return []schema.Record{schema.NewSpreadsheet(rec)}, nil
}
