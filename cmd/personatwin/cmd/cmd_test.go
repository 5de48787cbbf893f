package cmd

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// captureStdout runs fn and returns what it printed.
func captureStdout(t *testing.T, fn func()) string {
	t.Helper()
	old := os.Stdout
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	os.Stdout = w

	fn()

	w.Close()
	os.Stdout = old

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(r); err != nil {
		t.Fatal(err)
	}
	return buf.String()
}

func TestRootCmd_Structure(t *testing.T) {
	if rootCmd.Use != "personatwin" {
		t.Errorf("expected 'personatwin', got %q", rootCmd.Use)
	}
	if rootCmd.Short == "" {
		t.Error("expected non-empty short description")
	}

	for _, name := range []string{"version", "init", "doctor", "anonymize", "serve", "rules", "runs"} {
		found := false
		for _, cmd := range rootCmd.Commands() {
			if cmd.Name() == name {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("%s command not registered", name)
		}
	}
}

func TestVersionCommand(t *testing.T) {
	SetVersion("v1.2.3", "abc123", "2024-01-15")

	output := captureStdout(t, func() {
		versionCmd.Run(versionCmd, []string{})
	})

	for _, want := range []string{"v1.2.3", "abc123", "2024-01-15", "personatwin"} {
		if !strings.Contains(output, want) {
			t.Errorf("version output missing %q:\n%s", want, output)
		}
	}
}

func TestRulesListCommand(t *testing.T) {
	output := captureStdout(t, func() {
		if err := rulesListCmd.RunE(rulesListCmd, nil); err != nil {
			t.Errorf("rules list: %v", err)
		}
	})

	for _, domain := range []string{"criminal_justice", "healthcare", "education"} {
		if !strings.Contains(output, domain) {
			t.Errorf("rules list missing %q:\n%s", domain, output)
		}
	}
}

func TestRulesShowCommand(t *testing.T) {
	output := captureStdout(t, func() {
		if err := rulesShowCmd.RunE(rulesShowCmd, []string{"criminal_justice"}); err != nil {
			t.Errorf("rules show: %v", err)
		}
	})

	if !strings.Contains(output, "domain: criminal_justice") {
		t.Errorf("rules show output malformed:\n%s", output)
	}
	if !strings.Contains(output, "arrest") {
		t.Errorf("rules show missing event types:\n%s", output)
	}
}

func TestResolveRegistry(t *testing.T) {
	if _, err := resolveRegistry("healthcare"); err != nil {
		t.Errorf("builtin domain failed: %v", err)
	}
	if _, err := resolveRegistry("no-such-domain"); err == nil {
		t.Error("expected error for unknown domain")
	}
}

func TestInitCommand(t *testing.T) {
	t.Chdir(t.TempDir())

	output := captureStdout(t, func() {
		if err := runInit(initCmd, nil); err != nil {
			t.Errorf("init: %v", err)
		}
	})
	if !strings.Contains(output, "Initialized") {
		t.Errorf("init output missing confirmation:\n%s", output)
	}

	if _, err := os.Stat(".personatwin.yaml"); err != nil {
		t.Errorf("config file not created: %v", err)
	}
	if _, err := os.Stat(filepath.Join(".personatwin", "out")); err != nil {
		t.Errorf("output dir not created: %v", err)
	}

	// Second init without --force must refuse to overwrite.
	initForce = false
	if err := runInit(initCmd, nil); err == nil {
		t.Error("expected error when config already exists")
	}
}

func TestAnonymizeCommand(t *testing.T) {
	t.Chdir(t.TempDir())

	records := make([]map[string]interface{}, 5)
	for i := range records {
		records[i] = map[string]interface{}{
			"person_id": string(rune('a' + i)),
			"demographics": map[string]interface{}{
				"age":       40 + i%3,
				"gender":    "F",
				"ethnicity": "asian",
				"geography": "clark county,IL,USA",
			},
			"events": []map[string]interface{}{
				{"event_id": "e" + string(rune('a'+i)), "event_type": "arrest", "date": "2020-01-15"},
			},
		}
	}
	data, err := json.Marshal(records)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile("cohort.json", data, 0o600); err != nil {
		t.Fatal(err)
	}

	rootCmd.SetArgs([]string{"anonymize", "cohort.json",
		"--seed", "7", "--target-risk", "0.9", "--log-level", "error"})
	defer rootCmd.SetArgs(nil)

	output := captureStdout(t, func() {
		if err := rootCmd.Execute(); err != nil {
			t.Errorf("anonymize: %v", err)
		}
	})

	if !strings.Contains(output, "converged") {
		t.Errorf("expected a converged run:\n%s", output)
	}

	entries, err := os.ReadDir(filepath.Join(".personatwin", "out"))
	if err != nil {
		t.Fatalf("output dir unreadable: %v", err)
	}
	if len(entries) != 2 {
		t.Errorf("got %d output files, want personas and metrics", len(entries))
	}

	if _, err := os.Stat(filepath.Join(".personatwin", "runs.db")); err != nil {
		t.Errorf("run store not created: %v", err)
	}
}

func TestDoctorCommand(t *testing.T) {
	t.Chdir(t.TempDir())

	output := captureStdout(t, func() {
		if err := runDoctor(doctorCmd, nil); err != nil {
			t.Errorf("doctor: %v", err)
		}
	})

	if !strings.Contains(output, "All required checks passed") {
		t.Errorf("doctor output:\n%s", output)
	}
	if !strings.Contains(output, "builtin rule domains") {
		t.Errorf("doctor missing rule check:\n%s", output)
	}
}

func TestAnonymizeCommand_MissingInput(t *testing.T) {
	t.Chdir(t.TempDir())

	rootCmd.SetArgs([]string{"anonymize", "does-not-exist.json", "--log-level", "error"})
	defer rootCmd.SetArgs(nil)

	if err := rootCmd.Execute(); err == nil {
		t.Error("expected error for missing input file")
	}
}
