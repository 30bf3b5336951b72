package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestSink_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wafersync.log")
	sink := Open(Options{File: path, MaxSizeMB: 1, Quiet: true})

	sink.Logger("ingest").Printf("Run %s: inserted=%d", "r1", 3)
	sink.Logger("sync").Printf("WARNING: %s", "slow")
	if err := sink.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read log: %v", err)
	}
	out := string(data)
	if !strings.Contains(out, "[ingest] ") || !strings.Contains(out, "Run r1: inserted=3") {
		t.Errorf("log missing ingest line:\n%s", out)
	}
	if !strings.Contains(out, "[sync] ") || !strings.Contains(out, "WARNING: slow") {
		t.Errorf("log missing sync line:\n%s", out)
	}
}

func TestSink_QuietWithoutFile(t *testing.T) {
	sink := Open(Options{Quiet: true})
	sink.Logger("daemon").Println("dropped")
	if err := sink.Rotate(); err != nil {
		t.Errorf("Rotate without file = %v", err)
	}
	if err := sink.Close(); err != nil {
		t.Errorf("Close without file = %v", err)
	}
}
