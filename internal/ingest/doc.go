// Package ingest walks wafer artifact trees and feeds changed files to the
// sync engine.
//
// # Architecture
//
// A run processes a list of Sources. Each source resolves to one or more
// stage folders (CP-prober-01, WLBI-A, AOI-2, Substrate). A stage folder is
// walked according to the stage's fixed Layout:
//
//	cpProber:  <model>_<batch>_<subStage>_<retest>/<model>_<batch>_<wafer>/<model>_<batch>_<wafer>_mapEx.txt
//	wlbi:      <model>_<batch>_<subStage>_<retest>/WaferMap/<batch>_<wafer>_<yyyymmdd>_<hhmmss>.WaferMap
//	aoi:       <model>_<batch>/<model>_<batch>_<wafer>_<yyyymmddhhmmss>.txt
//	substrate: Defect list/<id>.xls, Product list.xlsx, <oem>_<yyyymmddhhmmss>.xlsx
//
// fabCp is accepted in configuration but has no layout; such sources are
// reported and skipped.
//
// # Change Gating
//
// Before descending into a matched folder the walker asks the ledger whether
// the folder's mtime advanced. Unchanged folders are counted as cached and
// not descended. Matched files go through the same gate (with the optional
// content-hash fallback) and only changed files reach the stage Parser.
//
// All stat and hash calls go through a per-run ledger.Session, so a path is
// observed at most once per run even when a dry run and a real run share the
// session.
//
// # Workflow
//
//  1. Resolve sources (pattern sources expand to matching child folders)
//  2. Walk each stage folder, collecting records and ledger observations
//  3. Sync records and ledger entries in one transaction per stage folder
//  4. Mark the session entries as recorded
//  5. Persist the run report and notify the observer
//
// Parse failures are recorded in the report and skipped; they never abort
// the walk. A folder's ledger entry is only written when every file below it
// was processed, so failures are retried on the next run.
package ingest
