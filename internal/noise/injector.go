// Package noise applies calibrated perturbation to persona candidates:
// Laplace-distributed temporal shifts, empirically weighted outcome flips,
// and geographic generalization, followed by sequence re-validation.
package noise

import (
	"fmt"
	"math"
	"math/rand"
	"sort"
	"time"

	"github.com/AmirrezaAsadi/PersonaTwinFactory/internal/core"
	"github.com/AmirrezaAsadi/PersonaTwinFactory/internal/merging"
	"github.com/AmirrezaAsadi/PersonaTwinFactory/internal/rules"
)

// GenerationMethod tags personas produced by the merge-and-perturb pipeline.
const GenerationMethod = "group_merge_laplace"

// Injector perturbs persona candidates. Calibration is validated once at
// construction; a misconfigured injector is never built.
type Injector struct {
	registry    *rules.Registry
	merger      *merging.Merger
	rng         *rand.Rand
	epsilon     float64
	sensitivity time.Duration
	flipProb    float64
	genLevel    core.GeoLevel
}

// New builds an injector or fails fast with a calibration error before any
// perturbation is applied.
func New(registry *rules.Registry, merger *merging.Merger, params core.ProtectionParams, rng *rand.Rand) (*Injector, error) {
	if params.Epsilon <= 0 {
		return nil, core.ErrNoiseCalibration(fmt.Sprintf("epsilon must be positive, got %v", params.Epsilon))
	}
	if params.FlipProbability < 0 || params.FlipProbability >= 1 {
		return nil, core.ErrNoiseCalibration(fmt.Sprintf("flip probability must be in [0, 1), got %v", params.FlipProbability))
	}
	if params.TemporalSensitivity <= 0 {
		return nil, core.ErrNoiseCalibration(fmt.Sprintf("temporal sensitivity must be positive, got %v", params.TemporalSensitivity))
	}
	if rng == nil {
		return nil, core.ErrNoiseCalibration("random source is required")
	}
	return &Injector{
		registry:    registry,
		merger:      merger,
		rng:         rng,
		epsilon:     params.Epsilon,
		sensitivity: time.Duration(params.TemporalSensitivity) * 24 * time.Hour,
		flipProb:    params.FlipProbability,
		genLevel:    params.GeneralizationLevel,
	}, nil
}

// Scale is the Laplace scale parameter the injector draws temporal noise
// with.
func (in *Injector) Scale() time.Duration {
	return time.Duration(float64(in.sensitivity) / in.epsilon)
}

// Inject returns a perturbed copy of the persona. The input persona is not
// modified. highRisk generalizes geography one level beyond the baseline.
func (in *Injector) Inject(persona core.Persona, stats OutcomeStats, highRisk bool) (core.Persona, error) {
	out := persona
	out.Demographics = persona.Demographics
	out.Demographics.Geography = in.generalize(persona.Demographics.Geography, highRisk)

	events := make([]core.Event, len(persona.Events))
	for i, e := range persona.Events {
		p := e.Clone()
		p.Date = p.Date.Add(in.laplace())
		if p.Outcome != "" && in.rng.Float64() < in.flipProb {
			if alt, ok := in.flipOutcome(p.Type, p.Outcome, stats); ok {
				p.Outcome = alt
			}
		}
		if len(p.Location) > 0 {
			p.Location = in.generalize(p.Location, highRisk)
		}
		events[i] = p
	}
	core.SortEventsChronologically(events)

	// Noise is never reverted: a perturbed timeline that breaks ordering is
	// repaired with the same synthetic insertion the merger uses.
	if err := in.merger.Validate(events); err != nil {
		repaired, rerr := in.merger.RepairTimeline(events)
		if rerr != nil {
			return core.Persona{}, rerr
		}
		events = repaired
	}
	out.Events = events

	out.Privacy = persona.Privacy
	out.Privacy.NoiseLevel = 1.0 / in.epsilon
	out.Privacy.GenerationMethod = GenerationMethod
	out.Privacy.SyntheticEvents = core.SyntheticEventIDs(events)
	return out, nil
}

// generalize lifts a path to the configured level, one broader for
// high-risk personas, never broader than country.
func (in *Injector) generalize(path core.GeoPath, highRisk bool) core.GeoPath {
	level := in.genLevel
	if highRisk && level < core.GeoCountry {
		level++
	}
	return path.AtLevel(level)
}

// laplace draws a zero-mean Laplace-distributed duration with scale
// sensitivity/epsilon via inverse transform sampling.
func (in *Injector) laplace() time.Duration {
	u := in.rng.Float64() - 0.5
	sign := 1.0
	if u < 0 {
		sign = -1.0
		u = -u
	}
	shift := -sign * math.Log(1-2*u)
	return time.Duration(shift * float64(in.Scale()))
}

// flipOutcome draws a replacement outcome weighted by the bucket's empirical
// distribution, excluding the original. When the bucket never observed an
// alternative for this event type, the domain vocabulary is used uniformly.
func (in *Injector) flipOutcome(eventType, original string, stats OutcomeStats) (string, bool) {
	values, weights := stats.Alternatives(eventType, original)
	if len(values) == 0 {
		for _, o := range in.registry.Outcomes() {
			if o != original {
				values = append(values, o)
				weights = append(weights, 1)
			}
		}
	}
	if len(values) == 0 {
		return "", false
	}

	total := 0
	for _, w := range weights {
		total += w
	}
	pick := in.rng.Intn(total)
	for i, w := range weights {
		pick -= w
		if pick < 0 {
			return values[i], true
		}
	}
	return values[len(values)-1], true
}

// OutcomeStats is the empirical outcome histogram of a demographic bucket,
// keyed by event type.
type OutcomeStats map[string]map[string]int

// CollectOutcomes tallies observed outcomes across a bucket's source
// individuals.
func CollectOutcomes(individuals []core.Individual) OutcomeStats {
	stats := make(OutcomeStats)
	for _, ind := range individuals {
		for _, e := range ind.Events {
			if e.Outcome == "" {
				continue
			}
			byOutcome, ok := stats[e.Type]
			if !ok {
				byOutcome = make(map[string]int)
				stats[e.Type] = byOutcome
			}
			byOutcome[e.Outcome]++
		}
	}
	return stats
}

// Alternatives returns the observed outcomes for an event type excluding one
// value, in sorted order with their counts.
func (s OutcomeStats) Alternatives(eventType, exclude string) ([]string, []int) {
	byOutcome, ok := s[eventType]
	if !ok {
		return nil, nil
	}
	values := make([]string, 0, len(byOutcome))
	for o := range byOutcome {
		if o != exclude {
			values = append(values, o)
		}
	}
	sort.Strings(values)
	weights := make([]int, len(values))
	for i, o := range values {
		weights[i] = byOutcome[o]
	}
	return values, weights
}
