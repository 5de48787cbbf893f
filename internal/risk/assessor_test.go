package risk

import (
	"context"
	"fmt"
	"math"
	"testing"

	"github.com/AmirrezaAsadi/PersonaTwinFactory/internal/core"
	"github.com/AmirrezaAsadi/PersonaTwinFactory/internal/testutil"
)

type staticProvider struct {
	dist core.Distribution
	err  error
}

func (s staticProvider) GetDistribution(ctx context.Context, geography string) (core.Distribution, error) {
	return s.dist, s.err
}

func persona(id string, k int, gender, ethnicity, geo string, eventTypes ...string) core.Persona {
	events := make([]core.Event, len(eventTypes))
	for i, et := range eventTypes {
		events[i] = testutil.Event(id+"_"+et, et, "", testutil.Date(2020, 1, 1+i))
	}
	return core.Persona{
		ID:         id,
		MergedFrom: k,
		Demographics: core.Demographics{
			AgeRange:  "30-39",
			Gender:    gender,
			Ethnicity: ethnicity,
			Geography: core.ParseGeoPath(geo),
		},
		Events: events,
	}
}

func assertClose(t *testing.T, got, want float64) {
	t.Helper()
	if math.Abs(got-want) > 1e-9 {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestAssess_EqualWeightContributions(t *testing.T) {
	// Two personas in one bucket with identical event signatures, no
	// linkage provider. Linkage is the worst case of 1.0.
	personas := []core.Persona{
		persona("g1", 5, "F", "asian", "clark county,IL,USA", "arrest", "charge"),
		persona("g2", 10, "F", "asian", "clark county,IL,USA", "arrest", "charge"),
	}

	metrics, err := New(nil).Assess(context.Background(), personas, core.DefaultParams())
	testutil.AssertNoError(t, err)

	assertClose(t, metrics.IndividualRisks["g1"], (0.5+0.5+0.2+1.0)/4)
	assertClose(t, metrics.IndividualRisks["g2"], (0.5+0.5+0.1+1.0)/4)
	// Weighted by merged_from: (0.55*5 + 0.525*10) / 15.
	assertClose(t, metrics.PopulationAverageRisk, 8.0/15.0)
	testutil.AssertEqual(t, metrics.KAnonymity, 5)
	assertClose(t, metrics.ExternalLinkageRisk, 1.0)
	testutil.AssertEqual(t, metrics.Recommendation, core.BandUnsafe)
	testutil.AssertEqual(t, len(metrics.HighRiskPersonas), 2)
}

func TestAssess_DistinctBucketsConcentrateRisk(t *testing.T) {
	personas := []core.Persona{
		persona("g1", 5, "F", "asian", "clark county,IL,USA", "arrest"),
		persona("g2", 5, "M", "white", "cook county,IL,USA", "arrest"),
	}

	metrics, err := New(nil).Assess(context.Background(), personas, core.DefaultParams())
	testutil.AssertNoError(t, err)

	// Each persona is alone in its demographic bucket but shares the
	// event signature.
	assertClose(t, metrics.IndividualRisks["g1"], (1.0+0.5+0.2+1.0)/4)
	assertClose(t, metrics.DemographicRisk, 1.0)
	assertClose(t, metrics.EventPatternRisk, 0.5)
}

func TestAssess_ProviderLowersLinkage(t *testing.T) {
	provider := staticProvider{dist: core.Distribution{
		Geography:       "clark county,IL,USA",
		TotalPopulation: 330_000_000,
		Gender:          map[string]float64{"F": 0.5},
		Ethnicity:       map[string]float64{"asian": 0.2},
		AgeBuckets:      map[string]float64{"30-39": 0.12},
	}}

	personas := []core.Persona{persona("g1", 5, "F", "asian", "clark county,IL,USA", "arrest")}
	metrics, err := New(provider).Assess(context.Background(), personas, core.DefaultParams())
	testutil.AssertNoError(t, err)

	if metrics.ExternalLinkageRisk > 0.001 {
		t.Fatalf("linkage risk %v, want near zero for a large subpopulation", metrics.ExternalLinkageRisk)
	}
	// 330M * 0.5 * 0.2 * 0.12 = 3.96M in the demographic slice.
	assertClose(t, metrics.IndividualRisks["g1"], (1.0+1.0+0.2+5.0/3_960_000)/4)
}

func TestAssess_LinkageBridgesBucketVocabularies(t *testing.T) {
	// National-style distribution: long-form gender tokens and age buckets
	// that straddle the persona's decade bin.
	provider := staticProvider{dist: core.Distribution{
		Geography:       "clark county,IL,USA",
		TotalPopulation: 330_000_000,
		Gender:          map[string]float64{"male": 0.49, "female": 0.51},
		Ethnicity:       map[string]float64{"asian": 0.06},
		AgeBuckets:      map[string]float64{"35-44": 0.13, "45-54": 0.13},
	}}

	p := persona("g1", 5, "F", "asian", "clark county,IL,USA", "arrest")
	p.Demographics.AgeRange = core.AgeRangeFor(41, 10) // "40-49"

	metrics, err := New(provider).Assess(context.Background(), []core.Persona{p}, core.DefaultParams())
	testutil.AssertNoError(t, err)

	// "40-49" covers half of each straddling bucket: 0.065 + 0.065 = 0.13.
	// Gender "F" resolves to the "female" marginal. Every attribute must
	// shrink the estimate; none may silently fall back to 1.0.
	estimated := 330_000_000.0 * 0.51 * 0.06 * 0.13
	assertClose(t, metrics.ExternalLinkageRisk, 5.0/estimated)
}

func TestAssess_UncoveredAttributeDoesNotShrinkEstimate(t *testing.T) {
	provider := staticProvider{dist: core.Distribution{
		Geography:       "clark county,IL,USA",
		TotalPopulation: 330_000_000,
		Gender:          map[string]float64{"male": 0.49, "female": 0.51},
		Ethnicity:       map[string]float64{"asian": 0.06},
		AgeBuckets:      map[string]float64{"35-44": 0.13},
	}}

	p := persona("g1", 5, "F", "pacific islander", "clark county,IL,USA", "arrest")
	p.Demographics.AgeRange = "unknown"

	metrics, err := New(provider).Assess(context.Background(), []core.Persona{p}, core.DefaultParams())
	testutil.AssertNoError(t, err)

	// Only the gender marginal applies.
	assertClose(t, metrics.ExternalLinkageRisk, 5.0/(330_000_000.0*0.51))
}

func TestAgeMarginal(t *testing.T) {
	buckets := map[string]float64{
		"0-17":  0.22,
		"18-24": 0.09,
		"25-34": 0.14,
		"35-44": 0.13,
		"75+":   0.06,
	}

	tests := []struct {
		name  string
		input string
		want  float64
	}{
		{"exact bucket", "25-34", 0.14},
		{"straddles two", "30-39", 0.14/2 + 0.13/2},
		{"inside one", "20-21", 0.09 * 2 / 7},
		{"open tail", "80-89", 0.06 * 10 / 30},
		{"no overlap", "50-59", 1.0},
		{"unparseable", "thirty", 1.0},
		{"empty", "", 1.0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assertClose(t, ageMarginal(buckets, tt.input), tt.want)
		})
	}
}

func TestGenderMarginal(t *testing.T) {
	freqs := map[string]float64{"male": 0.49, "female": 0.51}

	assertClose(t, genderMarginal(freqs, "F"), 0.51)
	assertClose(t, genderMarginal(freqs, "M"), 0.49)
	assertClose(t, genderMarginal(freqs, "female"), 0.51)
	assertClose(t, genderMarginal(freqs, "Female"), 0.51)
	assertClose(t, genderMarginal(freqs, "nonbinary"), 1.0)
	assertClose(t, genderMarginal(map[string]float64{"F": 0.5}, "F"), 0.5)
}

func TestAssess_TinySubpopulationClampsToOne(t *testing.T) {
	provider := staticProvider{dist: core.Distribution{
		Geography:       "smallville,KS,USA",
		TotalPopulation: 3,
		Gender:          map[string]float64{"F": 0.5},
		Ethnicity:       map[string]float64{"asian": 0.1},
		AgeBuckets:      map[string]float64{"30-39": 0.1},
	}}

	personas := []core.Persona{persona("g1", 5, "F", "asian", "smallville,KS,USA", "arrest")}
	metrics, err := New(provider).Assess(context.Background(), personas, core.DefaultParams())
	testutil.AssertNoError(t, err)
	assertClose(t, metrics.ExternalLinkageRisk, 1.0)
}

func TestAssess_ProviderErrorPropagates(t *testing.T) {
	provider := staticProvider{err: testutil.ErrTest}
	personas := []core.Persona{persona("g1", 5, "F", "asian", "IL,USA", "arrest")}
	_, err := New(provider).Assess(context.Background(), personas, core.DefaultParams())
	if err == nil {
		t.Fatal("expected provider error to propagate")
	}
}

func TestAssess_EmptyPopulation(t *testing.T) {
	_, err := New(nil).Assess(context.Background(), nil, core.DefaultParams())
	if !core.IsCode(err, core.CodeInsufficientData) {
		t.Fatalf("error = %v, want %s", err, core.CodeInsufficientData)
	}
}

func TestAssess_HighRiskThreshold(t *testing.T) {
	provider := staticProvider{dist: core.Distribution{
		Geography:       "IL,USA",
		TotalPopulation: 12_000_000,
		Gender:          map[string]float64{"F": 0.5},
		Ethnicity:       map[string]float64{"asian": 0.2},
		AgeBuckets:      map[string]float64{"30-39": 0.12},
	}}

	// Twenty well-hidden personas: shared bucket and signature, large k.
	personas := make([]core.Persona, 20)
	for i := range personas {
		personas[i] = persona(fmt.Sprintf("g%02d", i), 50, "F", "asian", "IL,USA", "arrest")
	}

	metrics, err := New(provider).Assess(context.Background(), personas, core.DefaultParams())
	testutil.AssertNoError(t, err)
	if len(metrics.HighRiskPersonas) != 0 {
		t.Fatalf("unexpected high-risk personas: %v", metrics.HighRiskPersonas)
	}
	testutil.AssertEqual(t, metrics.Recommendation, core.BandResearch)

	strict, err := New(provider, WithHighRiskThreshold(0.01)).Assess(context.Background(), personas, core.DefaultParams())
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, len(strict.HighRiskPersonas), 20)
}
