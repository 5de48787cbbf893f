// Package risk scores re-identification risk for a persona population:
// demographic and event-pattern concentration, k-anonymity, and external
// linkage against census-style marginals.
package risk

import (
	"context"
	"sort"
	"strconv"
	"strings"

	"github.com/AmirrezaAsadi/PersonaTwinFactory/internal/core"
)

// DefaultHighRiskThreshold flags personas whose individual risk the
// controller must treat specially.
const DefaultHighRiskThreshold = 0.25

// Assessor computes population risk metrics. A nil distribution provider is
// allowed; external linkage then assumes the worst case of a fully
// identifiable subpopulation.
type Assessor struct {
	provider  core.DistributionProvider
	threshold float64
}

// Option adjusts assessor construction.
type Option func(*Assessor)

// WithHighRiskThreshold overrides the individual high-risk cutoff.
func WithHighRiskThreshold(t float64) Option {
	return func(a *Assessor) { a.threshold = t }
}

// New builds an assessor. provider may be nil.
func New(provider core.DistributionProvider, opts ...Option) *Assessor {
	a := &Assessor{provider: provider, threshold: DefaultHighRiskThreshold}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// HighRiskThreshold returns the individual cutoff the assessor flags at.
func (a *Assessor) HighRiskThreshold() float64 { return a.threshold }

// Assess scores every persona and aggregates population metrics. Each
// persona's risk averages four equal-weight contributions: demographic
// bucket concentration, event-pattern concentration, k-anonymity, and
// external linkage. The population average weights each persona by the
// number of real individuals it stands for.
func (a *Assessor) Assess(ctx context.Context, personas []core.Persona, params core.ProtectionParams) (core.RiskMetrics, error) {
	if len(personas) == 0 {
		return core.RiskMetrics{}, core.ErrInsufficientData(0, params.MinGroupSize)
	}

	bucketCounts := make(map[string]int)
	patternCounts := make(map[string]int)
	for _, p := range personas {
		bucketCounts[p.Demographics.BucketKey(params.GeneralizationLevel)]++
		patternCounts[core.EventTypeSignature(p.Events)]++
	}

	metrics := core.RiskMetrics{
		IndividualRisks: make(map[string]float64, len(personas)),
		KAnonymity:      personas[0].MergedFrom,
	}

	var weightSum float64
	var riskSum, demoSum, patternSum, linkageSum float64

	for _, p := range personas {
		demographic := 1.0 / float64(bucketCounts[p.Demographics.BucketKey(params.GeneralizationLevel)])
		pattern := 1.0 / float64(patternCounts[core.EventTypeSignature(p.Events)])

		k := p.MergedFrom
		if k < 1 {
			k = 1
		}
		anonymity := 1.0 / float64(k)

		linkage, err := a.linkageRisk(ctx, p, params)
		if err != nil {
			return core.RiskMetrics{}, err
		}

		individual := (demographic + pattern + anonymity + linkage) / 4.0
		metrics.IndividualRisks[p.ID] = individual
		if individual > a.threshold {
			metrics.HighRiskPersonas = append(metrics.HighRiskPersonas, p.ID)
		}
		if p.MergedFrom < metrics.KAnonymity {
			metrics.KAnonymity = p.MergedFrom
		}

		w := float64(k)
		weightSum += w
		riskSum += individual * w
		demoSum += demographic * w
		patternSum += pattern * w
		linkageSum += linkage * w
	}

	metrics.PopulationAverageRisk = riskSum / weightSum
	metrics.DemographicRisk = demoSum / weightSum
	metrics.EventPatternRisk = patternSum / weightSum
	metrics.ExternalLinkageRisk = linkageSum / weightSum
	metrics.Recommendation = core.BandFor(metrics.PopulationAverageRisk)
	sort.Strings(metrics.HighRiskPersonas)
	return metrics, nil
}

// linkageRisk estimates how identifiable the persona's generalized
// demographic combination is within its geography: min(1, k / estimated
// subpopulation). Without a provider the subpopulation is unknown and the
// worst case applies.
func (a *Assessor) linkageRisk(ctx context.Context, p core.Persona, params core.ProtectionParams) (float64, error) {
	if a.provider == nil {
		return 1.0, nil
	}

	dist, err := a.provider.GetDistribution(ctx, p.Demographics.Geography.String())
	if err != nil {
		return 0, err
	}
	if dist.TotalPopulation <= 0 {
		return 1.0, nil
	}

	estimated := float64(dist.TotalPopulation)
	estimated *= genderMarginal(dist.Gender, p.Demographics.Gender)
	estimated *= marginal(dist.Ethnicity, p.Demographics.Ethnicity)
	estimated *= ageMarginal(dist.AgeBuckets, p.Demographics.AgeRange)
	if estimated < 1 {
		return 1.0, nil
	}

	risk := float64(params.MinGroupSize) / estimated
	if risk > 1 {
		risk = 1
	}
	return risk, nil
}

// marginal looks up an attribute frequency, ignoring case; an attribute the
// distribution does not cover must not shrink the estimate.
func marginal(freqs map[string]float64, value string) float64 {
	value = strings.TrimSpace(value)
	for k, f := range freqs {
		if f > 0 && strings.EqualFold(strings.TrimSpace(k), value) {
			return f
		}
	}
	return 1.0
}

// genderAliases bridges the short input tokens onto the long-form
// vocabulary census distributions use.
var genderAliases = map[string]string{"f": "female", "m": "male"}

func genderMarginal(freqs map[string]float64, value string) float64 {
	if f := marginal(freqs, value); f < 1.0 {
		return f
	}
	if full, ok := genderAliases[strings.ToLower(strings.TrimSpace(value))]; ok {
		return marginal(freqs, full)
	}
	return 1.0
}

// openAgeTail closes unbounded buckets like "75+" for overlap arithmetic.
const openAgeTail = 30

// ageMarginal estimates the frequency of the persona's age range under the
// distribution's own bucket boundaries. Persona bins need not coincide with
// census buckets, so each bucket contributes its frequency weighted by the
// share of its years inside the range, assuming a uniform spread within the
// bucket. An unparseable range or a distribution with no overlapping bucket
// must not shrink the estimate.
func ageMarginal(freqs map[string]float64, ageRange string) float64 {
	lo, hi, ok := parseAgeSpan(ageRange)
	if !ok {
		return 1.0
	}

	sum := 0.0
	matched := false
	for bucket, f := range freqs {
		blo, bhi, ok := parseAgeSpan(bucket)
		if !ok || f <= 0 {
			continue
		}
		upper, lower := hi, lo
		if bhi < upper {
			upper = bhi
		}
		if blo > lower {
			lower = blo
		}
		overlap := upper - lower + 1
		if overlap <= 0 {
			continue
		}
		matched = true
		sum += f * float64(overlap) / float64(bhi-blo+1)
	}
	if !matched || sum <= 0 {
		return 1.0
	}
	if sum > 1 {
		return 1.0
	}
	return sum
}

// parseAgeSpan reads "40-49" or "75+" style bucket labels.
func parseAgeSpan(s string) (int, int, bool) {
	s = strings.TrimSpace(s)
	if rest, found := strings.CutSuffix(s, "+"); found {
		lo, err := strconv.Atoi(strings.TrimSpace(rest))
		if err != nil || lo < 0 {
			return 0, 0, false
		}
		return lo, lo + openAgeTail - 1, true
	}

	first, second, found := strings.Cut(s, "-")
	if !found {
		return 0, 0, false
	}
	lo, err := strconv.Atoi(strings.TrimSpace(first))
	if err != nil {
		return 0, 0, false
	}
	hi, err := strconv.Atoi(strings.TrimSpace(second))
	if err != nil || lo < 0 || hi < lo {
		return 0, 0, false
	}
	return lo, hi, true
}
