package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"

	"github.com/AmirrezaAsadi/PersonaTwinFactory/internal/census"
	"github.com/AmirrezaAsadi/PersonaTwinFactory/internal/config"
	"github.com/AmirrezaAsadi/PersonaTwinFactory/internal/core"
	"github.com/AmirrezaAsadi/PersonaTwinFactory/internal/logging"
	"github.com/AmirrezaAsadi/PersonaTwinFactory/internal/rules"
	"github.com/AmirrezaAsadi/PersonaTwinFactory/internal/store"
)

// newLogger builds the CLI logger from the persistent flags.
func newLogger() *logging.Logger {
	return logging.New(logging.Config{
		Level:  logLevel,
		Format: logFormat,
		Output: os.Stderr,
	})
}

// loadConfig resolves configuration from file, environment, and bound flags,
// then validates it.
func loadConfig() (*config.Config, error) {
	loader := config.NewLoaderWithViper(viper.GetViper())
	if cfgFile != "" {
		loader.WithConfigFile(cfgFile)
	}
	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if err := config.ValidateConfig(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// openRegistry resolves the domain rule set: a user-supplied rules file wins
// over the builtin domains.
func openRegistry(cfg *config.Config) (*rules.Registry, error) {
	if cfg.Rules.File != "" {
		return rules.LoadFile(cfg.Rules.File)
	}
	return rules.Get(cfg.Pipeline.Domain)
}

// openProvider resolves the census distribution source. Without a census
// file the static provider falls back to national marginals.
func openProvider(cfg *config.Config) (core.DistributionProvider, error) {
	if cfg.Census.File != "" {
		return census.LoadFile(cfg.Census.File)
	}
	return census.NewStatic(), nil
}

// openStore opens the run store at the configured path.
func openStore(cfg *config.Config) (*store.SQLiteRunStore, error) {
	opts := []store.SQLiteOption{}
	if cfg.Store.BusyTimeout != "" {
		if d, err := time.ParseDuration(cfg.Store.BusyTimeout); err == nil {
			opts = append(opts, store.WithBusyTimeout(d))
		}
	}
	return store.NewSQLite(cfg.Store.Path, opts...)
}
