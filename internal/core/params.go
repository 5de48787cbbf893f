package core

// ProtectionParams are the tunable protection knobs for one controller
// iteration. The controller derives each iteration's params from the
// previous set; it never mutates a set in place.
type ProtectionParams struct {
	MinGroupSize        int      `json:"min_group_size"`
	MaxGroupSize        int      `json:"max_group_size"`
	AgeTolerance        int      `json:"age_tolerance"`
	GeoBucketLevel      GeoLevel `json:"geo_bucket_level"`
	Epsilon             float64  `json:"epsilon"`
	TemporalSensitivity int      `json:"temporal_sensitivity_days"`
	FlipProbability     float64  `json:"flip_probability"`
	GeneralizationLevel GeoLevel `json:"generalization_level"`
	TargetRisk          float64  `json:"target_risk"`
}

// EscalationCaps bound how far the controller may push each knob.
type EscalationCaps struct {
	MaxMinGroupSize    int      `json:"max_min_group_size"`
	MaxAgeTolerance    int      `json:"max_age_tolerance"`
	MinEpsilon         float64  `json:"min_epsilon"`
	MaxFlipProbability float64  `json:"max_flip_probability"`
	MaxGeneralization  GeoLevel `json:"max_generalization"`
}

// DefaultParams returns the baseline protection parameters: k=5 groups with
// a three-year age tolerance at county level, epsilon 1.0 over a 14-day
// temporal sensitivity, 5% outcome flips, county-level output geography,
// and the research-release risk target.
func DefaultParams() ProtectionParams {
	return ProtectionParams{
		MinGroupSize:        5,
		MaxGroupSize:        50,
		AgeTolerance:        3,
		GeoBucketLevel:      GeoCounty,
		Epsilon:             1.0,
		TemporalSensitivity: 14,
		FlipProbability:     0.05,
		GeneralizationLevel: GeoCounty,
		TargetRisk:          ThresholdResearch,
	}
}

// DefaultCaps returns the default escalation bounds.
func DefaultCaps() EscalationCaps {
	return EscalationCaps{
		MaxMinGroupSize:    20,
		MaxAgeTolerance:    10,
		MinEpsilon:         0.125,
		MaxFlipProbability: 0.25,
		MaxGeneralization:  GeoCountry,
	}
}

// Validate checks the parameter set for values the pipeline cannot run with.
func (p ProtectionParams) Validate() error {
	if p.MinGroupSize < 2 {
		return ErrValidation("MIN_GROUP_SIZE", "min_group_size must be at least 2")
	}
	if p.MaxGroupSize < p.MinGroupSize {
		return ErrValidation("MAX_GROUP_SIZE", "max_group_size must be >= min_group_size")
	}
	if p.AgeTolerance < 0 {
		return ErrValidation("AGE_TOLERANCE", "age_tolerance must not be negative")
	}
	if p.Epsilon <= 0 {
		return ErrNoiseCalibration("epsilon must be positive")
	}
	if p.FlipProbability < 0 || p.FlipProbability >= 1 {
		return ErrNoiseCalibration("flip_probability must be within [0, 1)")
	}
	if p.TargetRisk <= 0 || p.TargetRisk >= 1 {
		return ErrValidation("TARGET_RISK", "target_risk must be within (0, 1)")
	}
	return nil
}
