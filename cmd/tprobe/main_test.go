package main

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	if err != nil {
		t.Fatalf("version failed: %v", err)
	}
	if !strings.Contains(out, "tprobe") {
		t.Errorf("unexpected version output: %q", out)
	}
}

func TestConfigInitAndShow(t *testing.T) {
	path := filepath.Join(t.TempDir(), "probe_design.config.toml")

	if _, err := execute(t, "config", "init", path); err != nil {
		t.Fatalf("config init failed: %v", err)
	}

	// Re-running init must refuse to overwrite.
	if _, err := execute(t, "config", "init", path); err == nil {
		t.Error("expected error when config file exists")
	}

	out, err := execute(t, "config", "show", "--config", path)
	if err != nil {
		t.Fatalf("config show failed: %v", err)
	}
	for _, want := range []string{"[paths]", "[apps]", "[gc_percent]", "probe_length = 40"} {
		if !strings.Contains(out, want) {
			t.Errorf("config show output missing %q", want)
		}
	}
}

func TestRunsCommand_NoRunLog(t *testing.T) {
	t.Setenv("TPROBE_WORKING_DIR", t.TempDir())

	if _, err := execute(t, "runs", "--config", filepath.Join(t.TempDir(), "absent.toml")); err == nil {
		t.Error("expected error when no run log exists")
	}
}
