package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/AmirrezaAsadi/PersonaTwinFactory/internal/config"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a personatwin project",
	Long: `Initialize a personatwin project in the current directory.
Creates a configuration file and the working directory layout.`,
	RunE: runInit,
}

var (
	initForce  bool
	initGlobal bool
)

func init() {
	rootCmd.AddCommand(initCmd)
	initCmd.Flags().BoolVar(&initForce, "force", false, "Overwrite existing configuration")
	initCmd.Flags().BoolVar(&initGlobal, "global", false, "Also create the user-level config under ~/.config/personatwin")
}

func runInit(_ *cobra.Command, _ []string) error {
	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("getting current directory: %w", err)
	}

	configPath := filepath.Join(cwd, ".personatwin.yaml")

	if _, err := os.Stat(configPath); err == nil && !initForce {
		return fmt.Errorf("configuration already exists, use --force to overwrite")
	}

	if err := config.AtomicWrite(configPath, []byte(config.DefaultConfigYAML)); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}

	dirs := []string{
		".personatwin",
		".personatwin/out",
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(filepath.Join(cwd, dir), 0o750); err != nil {
			return fmt.Errorf("creating directory %s: %w", dir, err)
		}
	}

	if initGlobal {
		path, err := config.EnsureGlobalConfigFile()
		if err != nil {
			return fmt.Errorf("creating global config: %w", err)
		}
		fmt.Println("Global configuration:", path)
	}

	fmt.Println("Initialized personatwin project in", cwd)
	fmt.Println("Configuration file: .personatwin.yaml")
	fmt.Println("Run 'personatwin doctor' to verify setup")

	return nil
}
