package core

import "time"

// PrivacyMetadata records what protection was applied to a persona.
type PrivacyMetadata struct {
	IndividualRisk   float64   `json:"individual_risk"`
	NoiseLevel       float64   `json:"noise_level"`
	GenerationMethod string    `json:"generation_method"`
	SyntheticEvents  []string  `json:"synthetic_events,omitempty"`
	GeneratedAt      time.Time `json:"generated_at"`
}

// Persona is the generalized, merged, noised output entity standing in for a
// group of real individuals. Personas are superseded wholesale on each
// controller iteration, never mutated in place.
type Persona struct {
	ID           string          `json:"persona_id"`
	MergedFrom   int             `json:"merged_from"`
	Demographics Demographics    `json:"demographics"`
	Events       []Event         `json:"events"`
	Privacy      PrivacyMetadata `json:"privacy_metadata"`
}

// SyntheticEventIDs collects the IDs of events in the timeline that were
// inserted by sequence repair.
func SyntheticEventIDs(events []Event) []string {
	var ids []string
	for _, e := range events {
		if e.Synthetic() {
			ids = append(ids, e.ID)
		}
	}
	return ids
}

// RiskBand is the categorical release recommendation.
type RiskBand string

const (
	BandPublicRelease RiskBand = "safe_for_public_release"
	BandResearch      RiskBand = "safe_for_research"
	BandInternalOnly  RiskBand = "internal_use_only"
	BandUnsafe        RiskBand = "unsafe"
)

// Population risk thresholds carried over from the original release policy:
// at or below the bound qualifies for the band.
const (
	ThresholdPublicRelease = 0.01
	ThresholdResearch      = 0.05
	ThresholdInternalOnly  = 0.15
)

// BandFor maps a population-average risk to its release band.
func BandFor(populationRisk float64) RiskBand {
	switch {
	case populationRisk <= ThresholdPublicRelease:
		return BandPublicRelease
	case populationRisk <= ThresholdResearch:
		return BandResearch
	case populationRisk <= ThresholdInternalOnly:
		return BandInternalOnly
	default:
		return BandUnsafe
	}
}

// RiskMetrics is the population-level risk report. Recomputed fresh every
// controller iteration, never partially updated.
type RiskMetrics struct {
	IndividualRisks       map[string]float64 `json:"individual_risks"`
	PopulationAverageRisk float64            `json:"population_average_risk"`
	KAnonymity            int                `json:"k_anonymity"`
	DemographicRisk       float64            `json:"demographic_concentration_risk"`
	EventPatternRisk      float64            `json:"event_pattern_concentration_risk"`
	ExternalLinkageRisk   float64            `json:"external_linkage_risk"`
	HighRiskPersonas      []string           `json:"high_risk_personas,omitempty"`
	Recommendation        RiskBand           `json:"recommendation"`
}
