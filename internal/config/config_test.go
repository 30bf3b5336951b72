package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fabtrace/wafersync/internal/schema"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), FileName)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg := Default()
	if cfg.DB.Path != filepath.Join(".wafersync", "wafersync.db") {
		t.Errorf("db.path = %q", cfg.DB.Path)
	}
	if cfg.Watch.Debounce != 2*time.Second || cfg.Dashboard.Port != 8080 || cfg.Log.MaxSizeMB != 50 {
		t.Errorf("defaults = %+v", cfg)
	}
	loc, err := cfg.Location()
	if err != nil || loc != time.Local {
		t.Errorf("Location() = %v, %v", loc, err)
	}
}

func TestLoad_FileAndEnv(t *testing.T) {
	path := writeFile(t, `
db:
  path: /var/lib/wafersync.db
ingest:
  use_hash: true
  timezone: Asia/Taipei
watch:
  debounce: 500ms
sources:
  - stage: cpProber
    root: /data/CP-prober-01
  - stage: aoi
    root: /data
    pattern: AOI-[0-9]+
`)
	t.Setenv("WAFERSYNC_DASHBOARD_PORT", "9090")
	t.Setenv("WAFERSYNC_DB_PATH", "/tmp/override.db")

	cfg, _, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.DB.Path != "/tmp/override.db" {
		t.Errorf("env override not applied: db.path = %q", cfg.DB.Path)
	}
	if cfg.Dashboard.Port != 9090 {
		t.Errorf("dashboard.port = %d", cfg.Dashboard.Port)
	}
	if !cfg.Ingest.UseHash || cfg.Watch.Debounce != 500*time.Millisecond {
		t.Errorf("ingest/watch = %+v %+v", cfg.Ingest, cfg.Watch)
	}

	sources, err := cfg.IngestSources()
	if err != nil {
		t.Fatalf("IngestSources failed: %v", err)
	}
	if len(sources) != 2 || sources[0].Stage != schema.StageCPProber || sources[1].Pattern != "AOI-[0-9]+" {
		t.Errorf("sources = %+v", sources)
	}
	if roots := cfg.Roots(); len(roots) != 2 || roots[0] != "/data" {
		t.Errorf("Roots() = %v", roots)
	}
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	if _, _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for missing explicit config file")
	}
}

func TestIngestSources(t *testing.T) {
	cfg := Default()
	cfg.DataRoot = "/data"
	sources, err := cfg.IngestSources()
	if err != nil {
		t.Fatal(err)
	}
	if len(sources) != len(schema.Stages) {
		t.Fatalf("got %d sources, want one per stage", len(sources))
	}
	for _, s := range sources {
		if s.Root != "/data" || s.Pattern == "" {
			t.Errorf("source = %+v", s)
		}
	}

	cfg.Sources = []Source{{Stage: "probe", Root: "/x"}}
	if _, err := cfg.IngestSources(); err == nil {
		t.Error("expected unknown stage to be rejected")
	}
	cfg.Sources = []Source{{Stage: "wlbi"}}
	if _, err := cfg.IngestSources(); err == nil {
		t.Error("expected missing root to be rejected")
	}
}

func TestLocation_Invalid(t *testing.T) {
	cfg := Default()
	cfg.Ingest.Timezone = "Mars/Olympus"
	if _, err := cfg.Location(); err == nil {
		t.Error("expected invalid timezone error")
	}
}

func TestWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", FileName)
	cfg := Default()
	cfg.DataRoot = "/data"

	if err := Write(path, cfg, false); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if err := Write(path, cfg, false); err == nil {
		t.Error("Write should refuse to overwrite without force")
	}
	if err := Write(path, cfg, true); err != nil {
		t.Errorf("forced Write failed: %v", err)
	}

	loaded, _, err := Load(path)
	if err != nil {
		t.Fatalf("Load of written config failed: %v", err)
	}
	if loaded.DataRoot != "/data" || loaded.Watch.Debounce != cfg.Watch.Debounce {
		t.Errorf("round trip = %+v", loaded)
	}
}
