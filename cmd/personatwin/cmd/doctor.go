package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/AmirrezaAsadi/PersonaTwinFactory/internal/diagnostics"
	"github.com/AmirrezaAsadi/PersonaTwinFactory/internal/rules"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check the local setup",
	Long:  "Verify configuration, the run store, rule sets, and output paths.",
	RunE:  runDoctor,
}

func init() {
	rootCmd.AddCommand(doctorCmd)
}

type doctorCheck struct {
	name     string
	required bool
	run      func() (string, error)
}

func runDoctor(_ *cobra.Command, _ []string) error {
	fmt.Println("Checking setup...")
	fmt.Println()

	cfg, cfgErr := loadConfig()

	checks := []doctorCheck{
		{
			name:     "configuration",
			required: true,
			run: func() (string, error) {
				if cfgErr != nil {
					return "", cfgErr
				}
				return "", nil
			},
		},
		{
			name:     "builtin rule domains",
			required: true,
			run: func() (string, error) {
				for _, domain := range rules.Domains() {
					if _, err := rules.Get(domain); err != nil {
						return "", fmt.Errorf("%s: %w", domain, err)
					}
				}
				return fmt.Sprintf("%d domains", len(rules.Domains())), nil
			},
		},
		{
			name:     "rules file",
			required: false,
			run: func() (string, error) {
				if cfg == nil || cfg.Rules.File == "" {
					return "not configured", nil
				}
				registry, err := rules.LoadFile(cfg.Rules.File)
				if err != nil {
					return "", err
				}
				return fmt.Sprintf("%s (%d event types)", cfg.Rules.File, registry.Len()), nil
			},
		},
		{
			name:     "census file",
			required: false,
			run: func() (string, error) {
				if cfg == nil || cfg.Census.File == "" {
					return "not configured, national fallback", nil
				}
				if _, err := openProvider(cfg); err != nil {
					return "", err
				}
				return cfg.Census.File, nil
			},
		},
		{
			name:     "run store",
			required: true,
			run: func() (string, error) {
				if cfg == nil {
					return "", fmt.Errorf("skipped, configuration unreadable")
				}
				st, err := openStore(cfg)
				if err != nil {
					return "", err
				}
				defer func() { _ = st.Close() }()
				return cfg.Store.Path, nil
			},
		},
		{
			name:     "output directory",
			required: true,
			run: func() (string, error) {
				if cfg == nil {
					return "", fmt.Errorf("skipped, configuration unreadable")
				}
				if err := os.MkdirAll(cfg.Output.Dir, 0o750); err != nil {
					return "", err
				}
				probe := filepath.Join(cfg.Output.Dir, ".doctor-probe")
				if err := os.WriteFile(probe, []byte("ok"), 0o600); err != nil {
					return "", err
				}
				_ = os.Remove(probe)
				return cfg.Output.Dir, nil
			},
		},
	}

	allOk := true
	for _, check := range checks {
		detail, err := check.run()
		switch {
		case err != nil && check.required:
			allOk = false
			fmt.Printf("  ✗ %-20s %v\n", check.name, err)
		case err != nil:
			fmt.Printf("  ○ %-20s %v (optional)\n", check.name, err)
		case detail != "":
			fmt.Printf("  ✓ %-20s %s\n", check.name, detail)
		default:
			fmt.Printf("  ✓ %s\n", check.name)
		}
	}

	fmt.Println()
	printSystemInfo()

	if dump, err := diagnostics.LoadLatestCrashDump(".personatwin/crashdumps"); err == nil {
		fmt.Println()
		fmt.Printf("  ⚠ crash dump from %s (run %s, stage %s)\n",
			dump.Timestamp.Format("2006-01-02 15:04:05"), dump.CurrentRun, dump.CurrentStage)
	}

	if !allOk {
		return fmt.Errorf("some required checks failed")
	}

	fmt.Println()
	fmt.Println("All required checks passed")
	return nil
}

func printSystemInfo() {
	stats := diagnostics.NewSystemMetricsCollector().Collect()
	openFDs, maxFDs := diagnostics.CountFDs()

	fmt.Println("System:")
	fmt.Printf("  cpu:    %s (%d cores, %d threads)\n", stats.CPUModel, stats.CPUCores, stats.CPUThreads)
	fmt.Printf("  memory: %.0f MB used of %.0f MB (%.1f%%)\n", stats.MemUsedMB, stats.MemTotalMB, stats.MemPercent)
	fmt.Printf("  disk:   %.1f GB used of %.1f GB (%.1f%%)\n", stats.DiskUsedGB, stats.DiskTotalGB, stats.DiskPercent)
	if maxFDs > 0 {
		fmt.Printf("  fds:    %d open of %d\n", openFDs, maxFDs)
	}
}
