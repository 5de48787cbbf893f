package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestGlobalConfigPath(t *testing.T) {
	t.Parallel()

	path, err := GlobalConfigPath()
	if err != nil {
		t.Fatalf("GlobalConfigPath() error = %v", err)
	}

	home, err := os.UserHomeDir()
	if err != nil {
		t.Fatalf("UserHomeDir() error = %v", err)
	}
	want := filepath.Join(home, ".config", "personatwin", "config.yaml")
	if path != want {
		t.Fatalf("GlobalConfigPath() = %q, want %q", path, want)
	}
}

func TestEnsureGlobalConfigFile_CreatesDefaults(t *testing.T) {
	// t.Setenv forbids t.Parallel.
	t.Setenv("HOME", t.TempDir())

	path, err := EnsureGlobalConfigFile()
	if err != nil {
		t.Fatalf("EnsureGlobalConfigFile() error = %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat(%q) error = %v", path, err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("file permissions = %o, want 0600", perm)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != DefaultConfigYAML {
		t.Error("seeded global config should carry the defaults file content")
	}
	// Sanity check the defaults mention the pipeline section so a seeded
	// server starts with a usable domain.
	if !strings.Contains(string(data), "pipeline:") {
		t.Error("defaults missing pipeline section")
	}
}

func TestEnsureGlobalConfigFile_KeepsExistingFile(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	dir := filepath.Join(home, ".config", "personatwin")
	if err := os.MkdirAll(dir, 0o750); err != nil {
		t.Fatal(err)
	}
	custom := "pipeline:\n  domain: healthcare\nprotection:\n  target_risk: 0.05\n"
	existing := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(existing, []byte(custom), 0o600); err != nil {
		t.Fatal(err)
	}

	path, err := EnsureGlobalConfigFile()
	if err != nil {
		t.Fatalf("EnsureGlobalConfigFile() error = %v", err)
	}
	if path != existing {
		t.Fatalf("path = %q, want %q", path, existing)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != custom {
		t.Error("an operator-tuned global config must never be overwritten")
	}
}

func TestEnsureGlobalConfigFile_Idempotent(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	first, err := EnsureGlobalConfigFile()
	if err != nil {
		t.Fatalf("first call error = %v", err)
	}
	second, err := EnsureGlobalConfigFile()
	if err != nil {
		t.Fatalf("second call error = %v", err)
	}
	if first != second {
		t.Errorf("paths differ: %q vs %q", first, second)
	}
}
