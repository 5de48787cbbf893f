package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/AmirrezaAsadi/PersonaTwinFactory/internal/core"
	"github.com/AmirrezaAsadi/PersonaTwinFactory/internal/rules"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("config validation: %s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors collects multiple validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// HasErrors returns true if there are any validation errors.
func (e ValidationErrors) HasErrors() bool {
	return len(e) > 0
}

// Validator validates configuration.
type Validator struct {
	errors ValidationErrors
}

// NewValidator creates a new validator.
func NewValidator() *Validator {
	return &Validator{
		errors: make(ValidationErrors, 0),
	}
}

// Validate validates the entire configuration.
func (v *Validator) Validate(cfg *Config) error {
	v.validateLog(&cfg.Log)
	v.validateServer(&cfg.Server)
	v.validateStore(&cfg.Store)
	v.validatePipeline(&cfg.Pipeline)
	v.validateProtection(&cfg.Protection)
	v.validateCensus(&cfg.Census)
	v.validateRules(&cfg.Rules)
	v.validateOutput(&cfg.Output)

	if len(v.errors) > 0 {
		return v.errors
	}
	return nil
}

// Errors returns the collected validation errors.
func (v *Validator) Errors() ValidationErrors {
	return v.errors
}

func (v *Validator) addError(field string, value interface{}, msg string) {
	v.errors = append(v.errors, ValidationError{
		Field:   field,
		Value:   value,
		Message: msg,
	})
}

func (v *Validator) validateLog(cfg *LogConfig) {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[cfg.Level] {
		v.addError("log.level", cfg.Level, "must be one of: debug, info, warn, error")
	}

	validFormats := map[string]bool{
		"auto": true, "text": true, "json": true,
	}
	if !validFormats[cfg.Format] {
		v.addError("log.format", cfg.Format, "must be one of: auto, text, json")
	}

	if cfg.File != "" && !isValidPath(cfg.File) {
		v.addError("log.file", cfg.File, "invalid file path")
	}
}

func (v *Validator) validateServer(cfg *ServerConfig) {
	if cfg.Addr == "" {
		v.addError("server.addr", cfg.Addr, "listen address required")
	} else if _, _, err := net.SplitHostPort(cfg.Addr); err != nil {
		v.addError("server.addr", cfg.Addr, "must be host:port")
	}

	for _, field := range []struct {
		name  string
		value string
	}{
		{"server.read_timeout", cfg.ReadTimeout},
		{"server.write_timeout", cfg.WriteTimeout},
		{"server.shutdown_timeout", cfg.ShutdownTimeout},
	} {
		if _, err := time.ParseDuration(field.value); err != nil {
			v.addError(field.name, field.value, "invalid duration format")
		}
	}
}

func (v *Validator) validateStore(cfg *StoreConfig) {
	if cfg.Path == "" {
		v.addError("store.path", cfg.Path, "path required")
	}

	if _, err := time.ParseDuration(cfg.BusyTimeout); err != nil {
		v.addError("store.busy_timeout", cfg.BusyTimeout, "invalid duration format")
	}
}

func (v *Validator) validatePipeline(cfg *PipelineConfig) {
	if cfg.Domain == "" {
		v.addError("pipeline.domain", cfg.Domain, "domain required")
	} else if !rules.Known(cfg.Domain) {
		v.addError("pipeline.domain", cfg.Domain,
			"unknown domain: "+strings.Join(rules.Domains(), ", "))
	}

	if cfg.MaxIterations < 1 || cfg.MaxIterations > 50 {
		v.addError("pipeline.max_iterations", cfg.MaxIterations, "must be between 1 and 50")
	}

	if cfg.Workers < 0 {
		v.addError("pipeline.workers", cfg.Workers, "must be non-negative")
	}
}

func (v *Validator) validateProtection(cfg *ProtectionConfig) {
	params, err := cfg.Params()
	if err != nil {
		v.addError("protection", nil, err.Error())
		return
	}
	if err := params.Validate(); err != nil {
		v.addError("protection", nil, err.Error())
	}
}

func (v *Validator) validateCensus(cfg *CensusConfig) {
	if cfg.File == "" {
		return
	}
	if _, err := os.Stat(cfg.File); err != nil {
		v.addError("census.file", cfg.File, "file not readable")
	}
}

func (v *Validator) validateRules(cfg *RulesConfig) {
	if cfg.File == "" {
		return
	}
	if _, err := os.Stat(cfg.File); err != nil {
		v.addError("rules.file", cfg.File, "file not readable")
	}
}

func (v *Validator) validateOutput(cfg *OutputConfig) {
	if cfg.Dir == "" {
		v.addError("output.dir", cfg.Dir, "directory required")
	} else if !isValidPath(cfg.Dir) {
		v.addError("output.dir", cfg.Dir, "invalid directory path")
	}

	validFormats := map[string]bool{"json": true, "ndjson": true}
	if !validFormats[cfg.Format] {
		v.addError("output.format", cfg.Format, "must be one of: json, ndjson")
	}
}

// Params converts the file-friendly protection block into pipeline
// parameters. Geographic level names are resolved here so a bad name fails
// at load time, not mid-run.
func (p ProtectionConfig) Params() (core.ProtectionParams, error) {
	bucket, ok := core.ParseGeoLevel(p.GeoBucketLevel)
	if !ok {
		return core.ProtectionParams{}, fmt.Errorf("unknown geo_bucket_level %q", p.GeoBucketLevel)
	}
	generalization, ok := core.ParseGeoLevel(p.GeneralizationLevel)
	if !ok {
		return core.ProtectionParams{}, fmt.Errorf("unknown generalization_level %q", p.GeneralizationLevel)
	}
	return core.ProtectionParams{
		MinGroupSize:        p.MinGroupSize,
		MaxGroupSize:        p.MaxGroupSize,
		AgeTolerance:        p.AgeTolerance,
		GeoBucketLevel:      bucket,
		Epsilon:             p.Epsilon,
		TemporalSensitivity: p.TemporalSensitivity,
		FlipProbability:     p.FlipProbability,
		GeneralizationLevel: generalization,
		TargetRisk:          p.TargetRisk,
	}, nil
}

func isValidPath(path string) bool {
	dir := filepath.Dir(path)
	_, err := os.Stat(dir)
	return err == nil || os.IsNotExist(err)
}

// ValidateConfig is a convenience function that creates a validator and validates config.
func ValidateConfig(cfg *Config) error {
	v := NewValidator()
	return v.Validate(cfg)
}
