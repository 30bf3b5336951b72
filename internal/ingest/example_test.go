package ingest_test

import (
	"context"
	"fmt"
	"log"

	"github.com/fabtrace/wafersync/internal/ingest"
	"github.com/fabtrace/wafersync/internal/schema"
	"github.com/fabtrace/wafersync/internal/store"
)

// This example demonstrates ingesting every recognized stage folder under a
// data root.
// Note: This is for documentation only and won't run as a test.
func ExampleIngestor_Run() {
	database, err := store.Open(".wafersync/wafersync.db")
	if err != nil {
		log.Fatal(err)
	}
	defer database.Close()

	if err := database.InitSchema(); err != nil {
		log.Fatal(err)
	}

	in, err := ingest.New(database, nil, ingest.DefaultConfig())
	if err != nil {
		log.Fatal(err)
	}

	var sources []ingest.Source
	for _, stage := range schema.Stages {
		sources = append(sources, ingest.Source{
			Stage:   stage,
			Root:    "/data",
			Pattern: ingest.DefaultPatterns[stage],
		})
	}

	report, err := in.Run(context.Background(), sources, ingest.RunOptions{})
	if err != nil {
		log.Fatal(err)
	}
	for _, f := range report.Failures {
		fmt.Println("failed:", f)
	}
	fmt.Printf("inserted=%d updated=%d cached=%d\n",
		report.Counts.Inserted, report.Counts.Updated, report.Counts.SkippedCached)
}
