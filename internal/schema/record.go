package schema

import (
	"fmt"
	"path/filepath"
)

// Stage identifies the measurement or inspection step an artifact belongs to.
type Stage string

const (
	StageSubstrate Stage = "substrate"
	StageFabCP     Stage = "fabCp"
	StageCPProber  Stage = "cpProber"
	StageWLBI      Stage = "wlbi"
	StageAOI       Stage = "aoi"
)

// Stages lists every known stage in pipeline order.
var Stages = []Stage{StageSubstrate, StageFabCP, StageCPProber, StageWLBI, StageAOI}

// Valid reports whether s is a known stage.
func (s Stage) Valid() bool {
	for _, known := range Stages {
		if s == known {
			return true
		}
	}
	return false
}

// ParseStage converts a configuration string to a Stage.
func ParseStage(s string) (Stage, error) {
	stage := Stage(s)
	if !stage.Valid() {
		return "", fmt.Errorf("unknown stage %q", s)
	}
	return stage, nil
}

// Kind is the discriminant of a Record. It is decided by the stage parser
// and never re-inferred downstream.
type Kind int

const (
	// KindWaferMap marks a per-wafer measurement or inspection file.
	KindWaferMap Kind = iota + 1
	// KindSpreadsheet marks a substrate spreadsheet (defect list, mapping, product sheet).
	KindSpreadsheet
)

// String returns a human-readable representation of the kind.
func (k Kind) String() string {
	switch k {
	case KindWaferMap:
		return "wafer_map"
	case KindSpreadsheet:
		return "spreadsheet"
	default:
		return "unknown"
	}
}

// Record is a tagged variant: exactly one of WaferMap or Spreadsheet is set,
// matching Kind.
type Record struct {
	Kind        Kind               `json:"kind"`
	WaferMap    *WaferMapRecord    `json:"wafer_map,omitempty"`
	Spreadsheet *SpreadsheetRecord `json:"spreadsheet,omitempty"`
}

// NewWaferMap wraps a wafer map record.
func NewWaferMap(w WaferMapRecord) Record {
	return Record{Kind: KindWaferMap, WaferMap: &w}
}

// NewSpreadsheet wraps a spreadsheet record.
func NewSpreadsheet(s SpreadsheetRecord) Record {
	return Record{Kind: KindSpreadsheet, Spreadsheet: &s}
}

// FilePath returns the source file the record was parsed from.
func (r Record) FilePath() string {
	switch r.Kind {
	case KindWaferMap:
		if r.WaferMap != nil {
			return r.WaferMap.FilePath
		}
	case KindSpreadsheet:
		if r.Spreadsheet != nil {
			return r.Spreadsheet.FilePath
		}
	}
	return ""
}

// Validate checks that the variant payload matches Kind and is itself valid.
func (r Record) Validate() error {
	switch r.Kind {
	case KindWaferMap:
		if r.WaferMap == nil || r.Spreadsheet != nil {
			return fmt.Errorf("%w: wafer map record must carry only a wafer map payload", ErrInvalidRecord)
		}
		return r.WaferMap.Validate()
	case KindSpreadsheet:
		if r.Spreadsheet == nil || r.WaferMap != nil {
			return fmt.Errorf("%w: spreadsheet record must carry only a spreadsheet payload", ErrInvalidRecord)
		}
		return r.Spreadsheet.Validate()
	default:
		return fmt.Errorf("%w: unknown kind %d", ErrInvalidRecord, r.Kind)
	}
}

// WaferMapRecord is one wafer-level artifact for a given stage.
type WaferMapRecord struct {
	ProductID   string `json:"product_id"`
	BatchID     string `json:"batch_id"`
	WaferID     int    `json:"wafer_id"`
	Stage       Stage  `json:"stage"`
	SubStage    *int   `json:"sub_stage,omitempty"`
	RetestCount int    `json:"retest_count"`
	TimeMs      *int64 `json:"time,omitempty"` // epoch ms, nil when the artifact carries no timestamp
	FilePath    string `json:"file_path"`
}

// WaferMapKey is the identity of a wafer map for merge purposes:
// (product, batch, wafer, stage, sub-stage).
type WaferMapKey struct {
	ProductID   string
	BatchID     string
	WaferID     int
	Stage       Stage
	SubStage    int
	HasSubStage bool
}

// Key returns the record's identity key.
func (w *WaferMapRecord) Key() WaferMapKey {
	k := WaferMapKey{
		ProductID: w.ProductID,
		BatchID:   w.BatchID,
		WaferID:   w.WaferID,
		Stage:     w.Stage,
	}
	if w.SubStage != nil {
		k.SubStage = *w.SubStage
		k.HasSubStage = true
	}
	return k
}

// String formats the key as product/batch/wafer/stage[/sub].
func (k WaferMapKey) String() string {
	if k.HasSubStage {
		return fmt.Sprintf("%s/%s/%d/%s/%d", k.ProductID, k.BatchID, k.WaferID, k.Stage, k.SubStage)
	}
	return fmt.Sprintf("%s/%s/%d/%s", k.ProductID, k.BatchID, k.WaferID, k.Stage)
}

// Validate checks if the WaferMapRecord has valid field values.
func (w *WaferMapRecord) Validate() error {
	if w.ProductID == "" {
		return fmt.Errorf("%w: product_id is required", ErrInvalidRecord)
	}
	if w.BatchID == "" {
		return fmt.Errorf("%w: batch_id is required", ErrInvalidRecord)
	}
	if w.WaferID < 0 {
		return fmt.Errorf("%w: wafer_id must be non-negative (got %d)", ErrInvalidRecord, w.WaferID)
	}
	if !w.Stage.Valid() {
		return fmt.Errorf("%w: unknown stage %q", ErrInvalidRecord, w.Stage)
	}
	if w.RetestCount < 0 {
		return fmt.Errorf("%w: retest_count must be non-negative (got %d)", ErrInvalidRecord, w.RetestCount)
	}
	if !filepath.IsAbs(w.FilePath) {
		return fmt.Errorf("%w: file_path must be absolute (got %q)", ErrInvalidRecord, w.FilePath)
	}
	return nil
}

// SpreadsheetKind distinguishes the substrate spreadsheets.
type SpreadsheetKind string

const (
	SpreadsheetDefectList SpreadsheetKind = "defect_list"
	SpreadsheetMapping    SpreadsheetKind = "mapping"
	SpreadsheetProduct    SpreadsheetKind = "product"
)

// SpreadsheetRecord is one substrate spreadsheet. Its identity is FilePath.
type SpreadsheetRecord struct {
	Kind           SpreadsheetKind `json:"kind"`
	Stage          Stage           `json:"stage"`
	ID             string          `json:"id,omitempty"`  // defect list number
	OEM            string          `json:"oem,omitempty"` // product sheet foundry model
	TimeMs         *int64          `json:"time,omitempty"`
	FilePath       string          `json:"file_path"`
	LastModifiedMs int64           `json:"last_modified"`
}

// Validate checks if the SpreadsheetRecord has valid field values.
func (s *SpreadsheetRecord) Validate() error {
	switch s.Kind {
	case SpreadsheetDefectList:
		if s.ID == "" {
			return fmt.Errorf("%w: defect list requires an id", ErrInvalidRecord)
		}
	case SpreadsheetProduct:
		if s.OEM == "" {
			return fmt.Errorf("%w: product sheet requires an oem", ErrInvalidRecord)
		}
	case SpreadsheetMapping:
	default:
		return fmt.Errorf("%w: unknown spreadsheet kind %q", ErrInvalidRecord, s.Kind)
	}
	if !s.Stage.Valid() {
		return fmt.Errorf("%w: unknown stage %q", ErrInvalidRecord, s.Stage)
	}
	if !filepath.IsAbs(s.FilePath) {
		return fmt.Errorf("%w: file_path must be absolute (got %q)", ErrInvalidRecord, s.FilePath)
	}
	return nil
}
