package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"rsc.io/script"
	"rsc.io/script/scripttest"
)

// TestMain lets the test binary stand in for the wafersync command when
// scripts run it.
func TestMain(m *testing.M) {
	if os.Getenv("WAFERSYNC_SCRIPT_MAIN") == "1" {
		main()
		os.Exit(0)
	}
	os.Exit(m.Run())
}

func TestScripts(t *testing.T) {
	exe, err := os.Executable()
	if err != nil {
		t.Fatalf("failed to locate test binary: %v", err)
	}

	engine := &script.Engine{
		Cmds:  scripttest.DefaultCmds(),
		Conds: scripttest.DefaultConds(),
	}
	engine.Cmds["wafersync"] = script.Program(exe, nil, time.Second)

	home := t.TempDir()
	env := []string{
		"WAFERSYNC_SCRIPT_MAIN=1",
		"HOME=" + home,
		"XDG_CONFIG_HOME=" + filepath.Join(home, ".config"),
		"NO_COLOR=1",
		"PATH=" + os.Getenv("PATH"),
		"TMPDIR=" + os.TempDir(),
	}

	scripttest.Test(t, context.Background(), engine, env, "testdata/script/*.txt")
}
