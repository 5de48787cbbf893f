package diagnostics

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestWriteCrashDump(t *testing.T) {
	dir := t.TempDir()
	monitor := NewResourceMonitor(time.Second, 0, 0, 0, 10, nil)
	w := NewCrashDumpWriter(dir, 5, true, false, nil, monitor)
	w.SetCurrentRun("run-abc", "perturbation")
	w.SetInputPath("cohort.ndjson")

	path, err := w.WriteCrashDump("boom")
	if err != nil {
		t.Fatalf("WriteCrashDump: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading dump: %v", err)
	}
	var dump CrashDump
	if err := json.Unmarshal(data, &dump); err != nil {
		t.Fatalf("parsing dump: %v", err)
	}

	if dump.PanicValue != "boom" {
		t.Errorf("panic value = %q, want %q", dump.PanicValue, "boom")
	}
	if dump.CurrentRun != "run-abc" {
		t.Errorf("current run = %q, want run-abc", dump.CurrentRun)
	}
	if dump.CurrentStage != "perturbation" {
		t.Errorf("current stage = %q, want perturbation", dump.CurrentStage)
	}
	if dump.InputPath != "cohort.ndjson" {
		t.Errorf("input path = %q", dump.InputPath)
	}
	if dump.StackTrace == "" {
		t.Error("stack trace missing despite includeStack")
	}
}

func TestClearCurrentRun(t *testing.T) {
	w := NewCrashDumpWriter(t.TempDir(), 5, false, false, nil, nil)
	w.SetCurrentRun("run-abc", "scoring")
	w.ClearCurrentRun()

	path, err := w.WriteCrashDump("boom")
	if err != nil {
		t.Fatalf("WriteCrashDump: %v", err)
	}
	dump, err := LoadLatestCrashDump(filepath.Dir(path))
	if err != nil {
		t.Fatalf("LoadLatestCrashDump: %v", err)
	}
	if dump.CurrentRun != "" || dump.CurrentStage != "" {
		t.Errorf("context not cleared: run=%q stage=%q", dump.CurrentRun, dump.CurrentStage)
	}
}

func TestRecoverAndReturn(t *testing.T) {
	dir := t.TempDir()
	w := NewCrashDumpWriter(dir, 5, false, false, nil, nil)

	run := func() (err error) {
		defer w.RecoverAndReturn(&err)
		panic("midway failure")
	}

	err := run()
	if err == nil {
		t.Fatal("expected an error after recovered panic")
	}
	if !strings.Contains(err.Error(), "midway failure") {
		t.Errorf("error %q should mention the panic value", err)
	}

	if _, loadErr := LoadLatestCrashDump(dir); loadErr != nil {
		t.Errorf("dump not written: %v", loadErr)
	}
}

func TestRedactEnvironment(t *testing.T) {
	t.Setenv("PERSONATWIN_TEST_API_KEY", "hunter2")
	t.Setenv("PERSONATWIN_TEST_PLAIN", "visible")

	w := NewCrashDumpWriter(t.TempDir(), 5, false, true, nil, nil)
	env := w.redactEnvironment()

	if env["PERSONATWIN_TEST_API_KEY"] != "[REDACTED]" {
		t.Errorf("API key not redacted: %q", env["PERSONATWIN_TEST_API_KEY"])
	}
	if env["PERSONATWIN_TEST_PLAIN"] != "visible" {
		t.Errorf("plain var mangled: %q", env["PERSONATWIN_TEST_PLAIN"])
	}
}

func TestCleanupOldDumps(t *testing.T) {
	dir := t.TempDir()
	w := NewCrashDumpWriter(dir, 2, false, false, nil, nil)

	// Pre-seed dumps with distinct mtimes so cleanup ordering is stable.
	for i, name := range []string{"crash-a.json", "crash-b.json", "crash-c.json"} {
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, []byte("{}"), 0o600); err != nil {
			t.Fatal(err)
		}
		mtime := time.Now().Add(time.Duration(i-10) * time.Minute)
		if err := os.Chtimes(path, mtime, mtime); err != nil {
			t.Fatal(err)
		}
	}

	if err := w.cleanupOldDumps(); err != nil {
		t.Fatalf("cleanupOldDumps: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Errorf("got %d dumps after cleanup, want 2", len(entries))
	}
	if _, err := os.Stat(filepath.Join(dir, "crash-a.json")); !os.IsNotExist(err) {
		t.Error("oldest dump should have been removed")
	}
}

func TestLoadLatestCrashDump_Empty(t *testing.T) {
	if _, err := LoadLatestCrashDump(t.TempDir()); err == nil {
		t.Error("expected an error for a directory with no dumps")
	}
}
