package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"github.com/AmirrezaAsadi/PersonaTwinFactory/internal/core"
)

// Loader handles configuration loading from multiple sources.
type Loader struct {
	v          *viper.Viper
	configFile string
	envPrefix  string
}

// NewLoader creates a new configuration loader.
func NewLoader() *Loader {
	return &Loader{
		v:         viper.New(),
		envPrefix: "PERSONATWIN",
	}
}

// NewLoaderWithViper creates a loader using an existing viper instance.
// This allows integration with CLI flag bindings.
func NewLoaderWithViper(v *viper.Viper) *Loader {
	return &Loader{
		v:         v,
		envPrefix: "PERSONATWIN",
	}
}

// WithConfigFile sets an explicit config file path.
func (l *Loader) WithConfigFile(path string) *Loader {
	l.configFile = path
	return l
}

// WithEnvPrefix sets the environment variable prefix.
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// Viper returns the underlying viper instance for flag binding.
func (l *Loader) Viper() *viper.Viper {
	return l.v
}

// Load loads configuration from all sources.
// Precedence (highest to lowest):
// 1. CLI flags (set via viper.BindPFlag)
// 2. Environment variables (PERSONATWIN_*)
// 3. Project config (.personatwin.yaml in current directory)
// 4. User config (~/.config/personatwin/config.yaml)
// 5. Defaults
func (l *Loader) Load() (*Config, error) {
	// Set defaults first
	l.setDefaults()

	// Configure environment variable reading
	l.v.SetEnvPrefix(l.envPrefix)
	l.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	l.v.AutomaticEnv()

	// Config file setup
	if l.configFile != "" {
		l.v.SetConfigFile(l.configFile)
	} else {
		l.v.SetConfigName(".personatwin")
		l.v.SetConfigType("yaml")

		// Add search paths in precedence order (first found wins)
		// Project config takes precedence over user config
		l.v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			l.v.AddConfigPath(filepath.Join(home, ".config", "personatwin"))
		}
	}

	// Read config file (ignore not found)
	if err := l.v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	// Fold alias keys (privacy.*, k_min shorthand) into canonical keys
	if settings := normalizeAliasConfigMap(l.v.AllSettings()); settings != nil {
		if err := l.v.MergeConfigMap(settings); err != nil {
			return nil, fmt.Errorf("normalizing config keys: %w", err)
		}
	}

	// Unmarshal into struct
	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	return &cfg, nil
}

// setDefaults configures default values.
func (l *Loader) setDefaults() {
	base := core.DefaultParams()

	// Log defaults
	l.v.SetDefault("log.level", "info")
	l.v.SetDefault("log.format", "auto")

	// Server defaults
	l.v.SetDefault("server.addr", "127.0.0.1:8420")
	l.v.SetDefault("server.cors_origins", []string{"http://localhost:3000"})
	l.v.SetDefault("server.read_timeout", "30s")
	l.v.SetDefault("server.write_timeout", "30s")
	l.v.SetDefault("server.shutdown_timeout", "10s")

	// Store defaults
	l.v.SetDefault("store.path", ".personatwin/runs.db")
	l.v.SetDefault("store.busy_timeout", "5s")

	// Pipeline defaults
	l.v.SetDefault("pipeline.domain", "criminal_justice")
	l.v.SetDefault("pipeline.max_iterations", 5)
	l.v.SetDefault("pipeline.workers", 0)
	l.v.SetDefault("pipeline.seed", 0)

	// Protection defaults mirror the baseline parameter set
	l.v.SetDefault("protection.min_group_size", base.MinGroupSize)
	l.v.SetDefault("protection.max_group_size", base.MaxGroupSize)
	l.v.SetDefault("protection.age_tolerance", base.AgeTolerance)
	l.v.SetDefault("protection.geo_bucket_level", base.GeoBucketLevel.String())
	l.v.SetDefault("protection.epsilon", base.Epsilon)
	l.v.SetDefault("protection.temporal_sensitivity_days", base.TemporalSensitivity)
	l.v.SetDefault("protection.flip_probability", base.FlipProbability)
	l.v.SetDefault("protection.generalization_level", base.GeneralizationLevel.String())
	l.v.SetDefault("protection.target_risk", base.TargetRisk)

	// Output defaults
	l.v.SetDefault("output.dir", ".personatwin/out")
	l.v.SetDefault("output.format", "json")
}

// ConfigFile returns the config file path if one was used.
func (l *Loader) ConfigFile() string {
	return l.v.ConfigFileUsed()
}

// Get returns a configuration value by key.
func (l *Loader) Get(key string) interface{} {
	return l.v.Get(key)
}

// Set sets a configuration value.
func (l *Loader) Set(key string, value interface{}) {
	l.v.Set(key, value)
}

// IsSet checks if a key has been set.
func (l *Loader) IsSet(key string) bool {
	return l.v.IsSet(key)
}

// AllSettings returns all settings as a map.
func (l *Loader) AllSettings() map[string]interface{} {
	return l.v.AllSettings()
}
