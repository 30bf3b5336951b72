package ingest

import (
	"fmt"
	"regexp"
	"strconv"

	"github.com/fabtrace/wafersync/internal/schema"
)

// Scope carries the names captured by the folders above a leaf.
type Scope struct {
	Model    string
	Batch    string
	SubStage *int
	Retest   int
	Wafer    *int
}

// Rule matches one level of a stage's directory layout.
//
// Directory rules may capture names into the Scope passed to the rules
// below them. A Gate directory holds the data files directly and is skipped
// while the folder ledger says it is unchanged; other directories are always
// listed, since their mtime does not move when a file lands deeper down.
// File rules produce leaves for the stage parser.
type Rule struct {
	Name    string
	Pattern *regexp.Regexp
	Dir     bool
	Gate    bool
	Bind    func(scope Scope, m []string) (Scope, error)
	Next    []Rule
}

// Layout is the fixed directory structure of one stage, rooted at a stage
// folder such as "CP-prober-01".
type Layout struct {
	Stage schema.Stage
	Rules []Rule
}

// Stage folder and file names. Groups are documented per rule.
var (
	// model, batch, subStage, retest
	processFolderRe = regexp.MustCompile(`^([A-Za-z0-9]+)_([A-Za-z0-9]+)_(\d+)_(\d+)$`)
	// model, batch, wafer
	cpWaferFolderRe = regexp.MustCompile(`^([A-Za-z0-9]+)_([A-Za-z0-9]+)_(\d+)$`)
	// model, batch, wafer
	cpFileRe        = regexp.MustCompile(`^([A-Za-z0-9]+)_([A-Za-z0-9]+)_(\d+)_mapEx\.txt$`)

	wlbiFolderRe = regexp.MustCompile(`^WaferMap$`)
	// batch, wafer, date, time
	wlbiFileRe   = regexp.MustCompile(`^([A-Za-z0-9]+)_([0-9]+)_([0-9]{8})_([0-9]{6})\.WaferMap$`)

	// model, batch
	aoiFolderRe = regexp.MustCompile(`^([A-Za-z0-9]+)_([A-Za-z0-9]+)$`)
	// model, batch, wafer, date, time
	aoiFileRe   = regexp.MustCompile(`^([A-Za-z0-9]+)_([A-Za-z0-9]+)_([0-9]+)_([0-9]{8})([0-9]{6})\.txt$`)

	defectListFolderRe = regexp.MustCompile(`^Defect list$`)
	// id
	defectListFileRe   = regexp.MustCompile(`^([A-Za-z0-9]+)\.xls$`)
	productListFileRe  = regexp.MustCompile(`^Product list\.xlsx$`)
	// oem, date, time
	productFileRe      = regexp.MustCompile(`^([A-Za-z0-9]+)_([0-9]{8})([0-9]{6})\.xlsx$`)
)

const (
	ruleDefectList   = "defect list"
	ruleProductList  = "product list"
	ruleProductSheet = "product sheet"
)

// DefaultPatterns are the stage folder names recognized under a data root.
var DefaultPatterns = map[schema.Stage]string{
	schema.StageSubstrate: `Substrate`,
	schema.StageCPProber:  `CP-prober-[A-Za-z0-9]+`,
	schema.StageFabCP:     `FAB CP`,
	schema.StageWLBI:      `WLBI-[A-Za-z0-9]+`,
	schema.StageAOI:       `AOI-[A-Za-z0-9]+`,
}

// Layouts returns the directory layout of every stage that has one.
// fabCp has none.
func Layouts() map[schema.Stage]Layout {
	processFolder := Rule{
		Name:    "process folder",
		Pattern: processFolderRe,
		Dir:     true,
		Bind:    bindProcessFolder,
	}

	cp := processFolder
	cp.Next = []Rule{{
		Name:    "wafer folder",
		Pattern: cpWaferFolderRe,
		Dir:     true,
		Gate:    true,
		Bind:    bindWaferFolder,
		Next: []Rule{{
			Name:    "map file",
			Pattern: cpFileRe,
		}},
	}}

	wlbi := processFolder
	wlbi.Next = []Rule{{
		Name:    "WaferMap folder",
		Pattern: wlbiFolderRe,
		Dir:     true,
		Gate:    true,
		Next: []Rule{{
			Name:    "wafer map file",
			Pattern: wlbiFileRe,
		}},
	}}

	return map[schema.Stage]Layout{
		schema.StageCPProber: {Stage: schema.StageCPProber, Rules: []Rule{cp}},
		schema.StageWLBI:     {Stage: schema.StageWLBI, Rules: []Rule{wlbi}},
		schema.StageAOI: {Stage: schema.StageAOI, Rules: []Rule{{
			Name:    "batch folder",
			Pattern: aoiFolderRe,
			Dir:     true,
			Gate:    true,
			Bind:    bindModelBatch,
			Next: []Rule{{
				Name:    "inspection file",
				Pattern: aoiFileRe,
			}},
		}}},
		schema.StageSubstrate: {Stage: schema.StageSubstrate, Rules: []Rule{
			{
				Name:    "defect list folder",
				Pattern: defectListFolderRe,
				Dir:     true,
				Gate:    true,
				Next: []Rule{{
					Name:    ruleDefectList,
					Pattern: defectListFileRe,
				}},
			},
			{Name: ruleProductList, Pattern: productListFileRe},
			{Name: ruleProductSheet, Pattern: productFileRe},
		}},
	}
}

// match returns the first rule accepting the entry and its submatches.
func match(rules []Rule, e Entry) (*Rule, []string) {
	for i := range rules {
		r := &rules[i]
		if r.Dir != e.IsDir {
			continue
		}
		if m := r.Pattern.FindStringSubmatch(e.Name); m != nil {
			return r, m
		}
	}
	return nil, nil
}

func bindProcessFolder(scope Scope, m []string) (Scope, error) {
	sub, err := strconv.Atoi(m[3])
	if err != nil {
		return scope, fmt.Errorf("bad sub stage %q: %w", m[3], err)
	}
	retest, err := strconv.Atoi(m[4])
	if err != nil {
		return scope, fmt.Errorf("bad retest count %q: %w", m[4], err)
	}
	scope.Model = m[1]
	scope.Batch = m[2]
	scope.SubStage = &sub
	scope.Retest = retest
	return scope, nil
}

func bindWaferFolder(scope Scope, m []string) (Scope, error) {
	if m[1] != scope.Model || m[2] != scope.Batch {
		return scope, fmt.Errorf("%w: wafer folder %s is not under %s_%s", ErrMisaligned, m[0], scope.Model, scope.Batch)
	}
	wafer, err := strconv.Atoi(m[3])
	if err != nil {
		return scope, fmt.Errorf("bad wafer id %q: %w", m[3], err)
	}
	scope.Wafer = &wafer
	return scope, nil
}

func bindModelBatch(scope Scope, m []string) (Scope, error) {
	scope.Model = m[1]
	scope.Batch = m[2]
	return scope, nil
}
