package config

// Config holds all application configuration.
type Config struct {
	Log        LogConfig        `mapstructure:"log"`
	Server     ServerConfig     `mapstructure:"server"`
	Store      StoreConfig      `mapstructure:"store"`
	Pipeline   PipelineConfig   `mapstructure:"pipeline"`
	Protection ProtectionConfig `mapstructure:"protection"`
	Census     CensusConfig     `mapstructure:"census"`
	Rules      RulesConfig      `mapstructure:"rules"`
	Output     OutputConfig     `mapstructure:"output"`
}

// LogConfig configures logging behavior.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	File   string `mapstructure:"file"`
}

// ServerConfig configures the HTTP API server.
type ServerConfig struct {
	Addr            string   `mapstructure:"addr"`
	CORSOrigins     []string `mapstructure:"cors_origins"`
	ReadTimeout     string   `mapstructure:"read_timeout"`
	WriteTimeout    string   `mapstructure:"write_timeout"`
	ShutdownTimeout string   `mapstructure:"shutdown_timeout"`
}

// StoreConfig configures run persistence.
type StoreConfig struct {
	Path        string `mapstructure:"path"`
	BusyTimeout string `mapstructure:"busy_timeout"`
}

// PipelineConfig configures run execution.
type PipelineConfig struct {
	Domain        string `mapstructure:"domain"`
	MaxIterations int    `mapstructure:"max_iterations"`
	Workers       int    `mapstructure:"workers"`
	Seed          int64  `mapstructure:"seed"`
}

// ProtectionConfig mirrors the privacy parameter set in file-friendly form.
// Geographic levels are names ("county", "state") rather than ordinals.
type ProtectionConfig struct {
	MinGroupSize        int     `mapstructure:"min_group_size"`
	MaxGroupSize        int     `mapstructure:"max_group_size"`
	AgeTolerance        int     `mapstructure:"age_tolerance"`
	GeoBucketLevel      string  `mapstructure:"geo_bucket_level"`
	Epsilon             float64 `mapstructure:"epsilon"`
	TemporalSensitivity int     `mapstructure:"temporal_sensitivity_days"`
	FlipProbability     float64 `mapstructure:"flip_probability"`
	GeneralizationLevel string  `mapstructure:"generalization_level"`
	TargetRisk          float64 `mapstructure:"target_risk"`
}

// CensusConfig configures the demographic distribution source.
type CensusConfig struct {
	File string `mapstructure:"file"`
}

// RulesConfig configures the domain rule source. Empty domain-file means the
// builtin registry for pipeline.domain is used.
type RulesConfig struct {
	File string `mapstructure:"file"`
}

// OutputConfig configures persona export.
type OutputConfig struct {
	Dir    string `mapstructure:"dir"`
	Format string `mapstructure:"format"`
}
