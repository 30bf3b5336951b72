// Package daemon keeps the store current while stage folders are being
// written to.
//
// # Overview
//
// The daemon runs one ingestion on start, then watches every directory
// under the configured source roots with fsnotify. File events are queued
// per path; once the whole queue has been quiet for DebounceInterval the
// daemon invalidates the folder ledger entries above each changed path and
// triggers one more ingestion run over all sources.
//
// Invalidation matters because a folder's mtime only moves when its direct
// children change. A map file rewritten three levels below a process folder
// leaves that folder's mtime untouched, so without invalidation the change
// gate would never descend to it.
//
// # Concurrency
//
// Runs are triggered from a single goroutine and never overlap. Stop
// cancels the run in progress at its next folder boundary; the next start
// rescans whatever the cancelled run did not record.
//
// # Usage
//
//	in, _ := ingest.New(database, nil, ingest.DefaultConfig())
//	d, err := daemon.New(in, sources)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := d.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
package daemon
