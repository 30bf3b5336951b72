package schema

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestWaferMapRecord_Validate(t *testing.T) {
	tests := []struct {
		name    string
		rec     WaferMapRecord
		wantErr bool
		errMsg  string
	}{
		{
			name: "valid record",
			rec: WaferMapRecord{
				ProductID: "P1",
				BatchID:   "B7",
				WaferID:   3,
				Stage:     StageCPProber,
				SubStage:  Int(2),
				FilePath:  "/data/CP-prober-01/P1_B7_2_0/P1_B7_3/P1_B7_3_mapEx.txt",
			},
			wantErr: false,
		},
		{
			name: "missing product",
			rec: WaferMapRecord{
				BatchID:  "B7",
				Stage:    StageAOI,
				FilePath: "/data/a.txt",
			},
			wantErr: true,
			errMsg:  "product_id is required",
		},
		{
			name: "missing batch",
			rec: WaferMapRecord{
				ProductID: "P1",
				Stage:     StageAOI,
				FilePath:  "/data/a.txt",
			},
			wantErr: true,
			errMsg:  "batch_id is required",
		},
		{
			name: "negative wafer",
			rec: WaferMapRecord{
				ProductID: "P1",
				BatchID:   "B7",
				WaferID:   -1,
				Stage:     StageAOI,
				FilePath:  "/data/a.txt",
			},
			wantErr: true,
			errMsg:  "wafer_id must be non-negative",
		},
		{
			name: "unknown stage",
			rec: WaferMapRecord{
				ProductID: "P1",
				BatchID:   "B7",
				Stage:     "probe",
				FilePath:  "/data/a.txt",
			},
			wantErr: true,
			errMsg:  "unknown stage",
		},
		{
			name: "negative retest",
			rec: WaferMapRecord{
				ProductID:   "P1",
				BatchID:     "B7",
				Stage:       StageWLBI,
				RetestCount: -2,
				FilePath:    "/data/a.txt",
			},
			wantErr: true,
			errMsg:  "retest_count must be non-negative",
		},
		{
			name: "relative path",
			rec: WaferMapRecord{
				ProductID: "P1",
				BatchID:   "B7",
				Stage:     StageWLBI,
				FilePath:  "a.txt",
			},
			wantErr: true,
			errMsg:  "file_path must be absolute",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.rec.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidRecord) {
					t.Errorf("Validate() error = %v, want ErrInvalidRecord", err)
				}
				if !strings.Contains(err.Error(), tt.errMsg) {
					t.Errorf("Validate() error = %v, want error containing %q", err, tt.errMsg)
				}
			}
		})
	}
}

func TestSpreadsheetRecord_Validate(t *testing.T) {
	tests := []struct {
		name    string
		rec     SpreadsheetRecord
		wantErr bool
	}{
		{
			name:    "defect list",
			rec:     SpreadsheetRecord{Kind: SpreadsheetDefectList, Stage: StageSubstrate, ID: "D12", FilePath: "/s/Defect list/D12.xls"},
			wantErr: false,
		},
		{
			name:    "defect list without id",
			rec:     SpreadsheetRecord{Kind: SpreadsheetDefectList, Stage: StageSubstrate, FilePath: "/s/Defect list/x.xls"},
			wantErr: true,
		},
		{
			name:    "mapping",
			rec:     SpreadsheetRecord{Kind: SpreadsheetMapping, Stage: StageSubstrate, FilePath: "/s/Product list.xlsx"},
			wantErr: false,
		},
		{
			name:    "product without oem",
			rec:     SpreadsheetRecord{Kind: SpreadsheetProduct, Stage: StageSubstrate, FilePath: "/s/x.xlsx"},
			wantErr: true,
		},
		{
			name:    "unknown kind",
			rec:     SpreadsheetRecord{Kind: "pivot", Stage: StageSubstrate, FilePath: "/s/x.xlsx"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.rec.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestRecord_Validate(t *testing.T) {
	w := NewWaferMap(WaferMapRecord{ProductID: "P", BatchID: "B", Stage: StageAOI, FilePath: "/x"})
	if err := w.Validate(); err != nil {
		t.Fatalf("valid wafer map rejected: %v", err)
	}
	if w.FilePath() != "/x" {
		t.Errorf("FilePath() = %q, want /x", w.FilePath())
	}

	mixed := w
	mixed.Spreadsheet = &SpreadsheetRecord{Kind: SpreadsheetMapping, Stage: StageSubstrate, FilePath: "/y"}
	if err := mixed.Validate(); !errors.Is(err, ErrInvalidRecord) {
		t.Errorf("record with both payloads: got %v, want ErrInvalidRecord", err)
	}

	if err := (Record{}).Validate(); !errors.Is(err, ErrInvalidRecord) {
		t.Errorf("zero record: got %v, want ErrInvalidRecord", err)
	}
}

func TestWaferMapKey(t *testing.T) {
	a := WaferMapRecord{ProductID: "P", BatchID: "B", WaferID: 1, Stage: StageWLBI, SubStage: Int(0)}
	b := WaferMapRecord{ProductID: "P", BatchID: "B", WaferID: 1, Stage: StageWLBI}

	if a.Key() == b.Key() {
		t.Error("sub stage 0 and no sub stage must be distinct keys")
	}
	if got := a.Key().String(); got != "P/B/1/wlbi/0" {
		t.Errorf("Key().String() = %q", got)
	}
	if got := b.Key().String(); got != "P/B/1/wlbi" {
		t.Errorf("Key().String() = %q", got)
	}

	c := a
	c.RetestCount = 4
	c.TimeMs = Int64(10)
	if a.Key() != c.Key() {
		t.Error("retest count and time must not be part of the identity")
	}
}

func TestParseStage(t *testing.T) {
	for _, s := range Stages {
		got, err := ParseStage(string(s))
		if err != nil || got != s {
			t.Errorf("ParseStage(%q) = %q, %v", s, got, err)
		}
	}
	if _, err := ParseStage("CPPROBER"); err == nil {
		t.Error("ParseStage should reject unknown stages")
	}
}

func TestParseStamp(t *testing.T) {
	loc := time.FixedZone("CST", 8*3600)

	got, err := ParseStamp("20250709", "120302", loc)
	if err != nil {
		t.Fatalf("ParseStamp failed: %v", err)
	}
	want := time.Date(2025, 7, 9, 12, 3, 2, 0, loc)
	if !got.Equal(want) {
		t.Errorf("ParseStamp = %v, want %v", got, want)
	}

	ms, err := StampMs("20250709", "120302", loc)
	if err != nil {
		t.Fatalf("StampMs failed: %v", err)
	}
	if ms != want.UnixMilli() {
		t.Errorf("StampMs = %d, want %d", ms, want.UnixMilli())
	}

	for _, bad := range [][2]string{
		{"2025079", "120302"},
		{"20251309", "120302"},
		{"20250709", "250000"},
	} {
		if _, err := ParseStamp(bad[0], bad[1], loc); err == nil {
			t.Errorf("ParseStamp(%q, %q) should fail", bad[0], bad[1])
		}
	}
}
