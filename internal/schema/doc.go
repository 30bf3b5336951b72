// Package schema defines the normalized records produced by stage parsers.
//
// # Overview
//
// Every artifact that survives change detection is turned into exactly one
// or more Record values. A Record is a tagged variant: Kind says which payload
// is set, and that decision is made once, by the parser that recognised the
// file. The sync engine switches on Kind and never inspects fields to guess.
//
// # Wafer Maps
//
// Wafer maps come from the cpProber, wlbi and aoi stages. Their identity is
// the stage-aware key
//
//	(product_id, batch_id, wafer_id, stage, sub_stage)
//
// and a stored row is only replaced by a record carrying a strictly newer
// timestamp.
//
//	rec := schema.NewWaferMap(schema.WaferMapRecord{
//	    ProductID:   "P100",
//	    BatchID:     "B7",
//	    WaferID:     3,
//	    Stage:       schema.StageCPProber,
//	    SubStage:    schema.Int(2),
//	    RetestCount: 0,
//	    FilePath:    "/data/cp/P100_B7_2_0/P100_B7_3/P100_B7_3_mapEx.txt",
//	})
//
// # Spreadsheets
//
// Substrate spreadsheets (defect lists, product mapping, product sheets) are
// keyed by their file path and ordered by their file modification time.
//
// # Timestamps
//
// Filenames embed yyyymmdd and hhmmss groups. ParseStamp turns them into a
// time.Time in the configured location; records store epoch milliseconds.
package schema
