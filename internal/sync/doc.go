// Package sync provides the transactional merge of parsed records into the
// wafersync store.
//
// # Overview
//
// The ingestor hands the engine a Batch: the records parsed from changed
// files, plus the ledger entries that mark those files (and the folders that
// contained them) as processed. The engine writes both in one SQLite
// transaction, so a path is only marked processed once its records are
// durable. A failure anywhere rolls back everything and the next run sees
// the same paths as changed again.
//
// # Conflict Policy
//
// Newer wins. For a given identity key a stored row is replaced only by an
// incoming record whose timestamp is present and strictly greater:
//
//	stored  incoming  result
//	------  --------  ------
//	(none)  any       insert
//	NULL    100       update
//	100     150       update
//	100     100       skip
//	100     50        skip
//	100     NULL      skip
//
// # Idempotence
//
// Running the same batch twice yields zero inserts and updates on the second
// call: every key exists and no incoming timestamp is strictly newer.
//
// # Usage
//
//	engine := sync.New(database, logger)
//	counts, err := engine.Sync(ctx, sync.Batch{
//	    Records: records,
//	    Files:   fileEntries,
//	    Folders: folderEntries,
//	})
//	if err != nil {
//	    // nothing was written; retry on the next run
//	}
package sync
