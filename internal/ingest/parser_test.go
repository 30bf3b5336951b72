package ingest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/fabtrace/wafersync/internal/schema"
)

func TestMatch(t *testing.T) {
	layouts := Layouts()

	tests := []struct {
		name  string
		stage schema.Stage
		entry Entry
		want  string
	}{
		{"cp process folder", schema.StageCPProber, Entry{Name: "P1_B1_2_0", IsDir: true}, "process folder"},
		{"cp process file is not a folder", schema.StageCPProber, Entry{Name: "P1_B1_2_0"}, ""},
		{"cp wrong arity", schema.StageCPProber, Entry{Name: "P1_B1_2", IsDir: true}, ""},
		{"aoi batch folder", schema.StageAOI, Entry{Name: "M7_B9", IsDir: true}, "batch folder"},
		{"substrate defect folder", schema.StageSubstrate, Entry{Name: "Defect list", IsDir: true}, "defect list folder"},
		{"substrate product list", schema.StageSubstrate, Entry{Name: "Product list.xlsx"}, ruleProductList},
		{"substrate product sheet", schema.StageSubstrate, Entry{Name: "ACME_20250101120000.xlsx"}, ruleProductSheet},
		{"substrate stray file", schema.StageSubstrate, Entry{Name: "notes.xlsx"}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rule, m := match(layouts[tt.stage].Rules, tt.entry)
			if tt.want == "" {
				if rule != nil {
					t.Errorf("match() = %q, want no rule", rule.Name)
				}
				return
			}
			if rule == nil {
				t.Fatalf("match() = nil, want %q", tt.want)
			}
			if rule.Name != tt.want || m[0] != tt.entry.Name {
				t.Errorf("match() = %q %v, want %q", rule.Name, m, tt.want)
			}
		})
	}

	if _, ok := layouts[schema.StageFabCP]; ok {
		t.Error("fabCp must not have a layout")
	}
}

func TestBindWaferFolder(t *testing.T) {
	scope, err := bindProcessFolder(Scope{}, []string{"P1_B1_2_3", "P1", "B1", "2", "3"})
	if err != nil {
		t.Fatal(err)
	}
	if scope.Model != "P1" || scope.Batch != "B1" || *scope.SubStage != 2 || scope.Retest != 3 {
		t.Fatalf("scope = %+v", scope)
	}

	got, err := bindWaferFolder(scope, []string{"P1_B1_9", "P1", "B1", "9"})
	if err != nil || got.Wafer == nil || *got.Wafer != 9 {
		t.Errorf("bindWaferFolder = %+v, %v", got, err)
	}
	if _, err := bindWaferFolder(scope, []string{"P2_B1_9", "P2", "B1", "9"}); !errors.Is(err, ErrMisaligned) {
		t.Errorf("foreign wafer folder: got %v, want ErrMisaligned", err)
	}
}

func leafFor(t *testing.T, stage schema.Stage, rules []Rule, scope Scope, name string) Leaf {
	t.Helper()
	rule, m := match(rules, Entry{Name: name})
	if rule == nil {
		t.Fatalf("no rule matches %q", name)
	}
	return Leaf{Path: "/data/" + name, Stage: stage, Rule: rule.Name, Scope: scope, Match: m, ModTimeMs: 42}
}

func TestDefaultParsers(t *testing.T) {
	ctx := context.Background()
	loc := time.FixedZone("CST", 8*3600)
	parsers := DefaultParsers(loc)
	layouts := Layouts()
	sub := 1

	t.Run("aoi", func(t *testing.T) {
		rules := layouts[schema.StageAOI].Rules[0].Next
		leaf := leafFor(t, schema.StageAOI, rules, Scope{Model: "M", Batch: "B"}, "M_B_12_20250709120302.txt")
		recs, err := parsers[schema.StageAOI].Parse(ctx, leaf)
		if err != nil {
			t.Fatal(err)
		}
		w := recs[0].WaferMap
		want := time.Date(2025, 7, 9, 12, 3, 2, 0, loc).UnixMilli()
		if w.WaferID != 12 || w.SubStage != nil || w.TimeMs == nil || *w.TimeMs != want {
			t.Errorf("record = %+v", w)
		}
	})

	t.Run("wlbi batch mismatch", func(t *testing.T) {
		rules := layouts[schema.StageWLBI].Rules[0].Next[0].Next
		leaf := leafFor(t, schema.StageWLBI, rules, Scope{Model: "M", Batch: "B", SubStage: &sub}, "X_3_20250709_120302.WaferMap")
		if _, err := parsers[schema.StageWLBI].Parse(ctx, leaf); !errors.Is(err, ErrMisaligned) {
			t.Errorf("got %v, want ErrMisaligned", err)
		}
	})

	t.Run("wlbi bad timestamp", func(t *testing.T) {
		rules := layouts[schema.StageWLBI].Rules[0].Next[0].Next
		leaf := leafFor(t, schema.StageWLBI, rules, Scope{Model: "M", Batch: "B", SubStage: &sub}, "B_3_20251340_120302.WaferMap")
		if _, err := parsers[schema.StageWLBI].Parse(ctx, leaf); err == nil {
			t.Error("expected invalid date to fail")
		}
	})

	t.Run("substrate", func(t *testing.T) {
		rules := layouts[schema.StageSubstrate].Rules
		recs, err := parsers[schema.StageSubstrate].Parse(ctx, leafFor(t, schema.StageSubstrate, rules, Scope{}, "ACME_20250101120000.xlsx"))
		if err != nil {
			t.Fatal(err)
		}
		s := recs[0].Spreadsheet
		if s.Kind != schema.SpreadsheetProduct || s.OEM != "ACME" || s.LastModifiedMs != 42 || s.TimeMs == nil {
			t.Errorf("record = %+v", s)
		}

		defects := layouts[schema.StageSubstrate].Rules[0].Next
		recs, err = parsers[schema.StageSubstrate].Parse(ctx, leafFor(t, schema.StageSubstrate, defects, Scope{}, "D7.xls"))
		if err != nil || recs[0].Spreadsheet.ID != "D7" || recs[0].Spreadsheet.Kind != schema.SpreadsheetDefectList {
			t.Errorf("defect list = %+v, %v", recs, err)
		}
	})
}
