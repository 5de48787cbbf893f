package pipeline

import (
	"context"
	"reflect"
	"testing"
	"time"

	"github.com/AmirrezaAsadi/PersonaTwinFactory/internal/advisory"
	"github.com/AmirrezaAsadi/PersonaTwinFactory/internal/census"
	"github.com/AmirrezaAsadi/PersonaTwinFactory/internal/core"
	"github.com/AmirrezaAsadi/PersonaTwinFactory/internal/events"
	"github.com/AmirrezaAsadi/PersonaTwinFactory/internal/rules"
	"github.com/AmirrezaAsadi/PersonaTwinFactory/internal/testutil"
)

func fixedClock() func() time.Time {
	ts := testutil.Date(2024, 7, 1)
	return func() time.Time { return ts }
}

func controller(t *testing.T, domain string, opts ...Option) *Controller {
	t.Helper()
	reg, err := rules.Get(domain)
	if err != nil {
		t.Fatalf("loading %s registry: %v", domain, err)
	}
	return New(reg, append([]Option{WithClock(fixedClock())}, opts...)...)
}

func withEvents(individuals []core.Individual, eventType string) []core.Individual {
	for i := range individuals {
		individuals[i].Events = []core.Event{
			testutil.Event(individuals[i].ID+"_e", eventType, "", testutil.Date(2020, 1, 1+i)),
		}
	}
	return individuals
}

func TestRun_ConvergesOnSingleGroup(t *testing.T) {
	c := controller(t, rules.DomainCriminalJustice)
	individuals := withEvents(testutil.Population(5, 40, 2, "F", "asian", "clark county,IL,USA"), "arrest")

	params := core.DefaultParams()
	params.TargetRisk = 0.9

	result, err := c.Run(context.Background(), individuals, params, 1)
	testutil.AssertNoError(t, err)

	testutil.AssertEqual(t, result.Status, core.RunStatusConverged)
	testutil.AssertEqual(t, result.Iterations, 1)
	if len(result.Personas) != 1 {
		t.Fatalf("got %d personas, want 1", len(result.Personas))
	}
	p := result.Personas[0]
	testutil.AssertEqual(t, p.MergedFrom, 5)
	testutil.AssertEqual(t, p.Demographics.Gender, "F")
	testutil.AssertEqual(t, p.Demographics.AgeRange, "40-49")
	if p.Privacy.IndividualRisk <= 0 {
		t.Fatal("persona risk not recorded")
	}
	if p.Privacy.GeneratedAt.IsZero() {
		t.Fatal("generation timestamp not recorded")
	}
}

func TestRun_InsufficientPopulation(t *testing.T) {
	c := controller(t, rules.DomainCriminalJustice)
	individuals := withEvents(testutil.Population(3, 40, 1, "F", "asian", "clark county,IL,USA"), "arrest")

	_, err := c.Run(context.Background(), individuals, core.DefaultParams(), 1)
	if !core.IsCode(err, core.CodeInsufficientData) {
		t.Fatalf("error = %v, want %s", err, core.CodeInsufficientData)
	}
}

func TestRun_AllBucketsResidual(t *testing.T) {
	c := controller(t, rules.DomainCriminalJustice)
	var individuals []core.Individual
	for i, eth := range []string{"asian", "white", "black"} {
		individuals = append(individuals,
			testutil.Individual("a"+eth, 40+i, "F", eth, "clark county,IL,USA"),
			testutil.Individual("b"+eth, 41+i, "F", eth, "clark county,IL,USA"))
	}
	individuals = withEvents(individuals, "arrest")

	_, err := c.Run(context.Background(), individuals, core.DefaultParams(), 1)
	if !core.IsCode(err, core.CodeDemographicMerge) {
		t.Fatalf("error = %v, want %s", err, core.CodeDemographicMerge)
	}
}

func TestRun_ResidualBucketWithheld(t *testing.T) {
	bus := events.New(100)
	c := controller(t, rules.DomainCriminalJustice, WithEventBus(bus))

	individuals := withEvents(testutil.Population(5, 40, 2, "F", "asian", "clark county,IL,USA"), "arrest")
	strays := withEvents(testutil.Population(2, 40, 1, "M", "white", "clark county,IL,USA"), "arrest")
	for i := range strays {
		strays[i].ID = "stray" + strays[i].ID
	}
	individuals = append(individuals, strays...)

	params := core.DefaultParams()
	params.TargetRisk = 0.9

	ch := bus.Subscribe(events.EventBucketResidual)
	result, err := c.Run(context.Background(), individuals, params, 1)
	testutil.AssertNoError(t, err)

	// The undersized bucket is withheld, not silently absorbed.
	testutil.AssertEqual(t, len(result.Personas), 1)
	testutil.AssertEqual(t, result.Personas[0].Demographics.Gender, "F")

	select {
	case ev := <-ch:
		residual := ev.(events.BucketResidualEvent)
		testutil.AssertEqual(t, residual.Members, 2)
	default:
		t.Fatal("expected a bucket residual event")
	}
}

func TestRun_ExhaustsWithBestSoFar(t *testing.T) {
	c := controller(t, rules.DomainCriminalJustice, WithMaxIterations(3))
	individuals := withEvents(testutil.Population(30, 40, 2, "F", "asian", "clark county,IL,USA"), "arrest")

	params := core.DefaultParams()
	params.TargetRisk = 0.001 // unreachable

	result, err := c.Run(context.Background(), individuals, params, 7)
	testutil.AssertNoError(t, err)

	testutil.AssertEqual(t, result.Status, core.RunStatusExhausted)
	testutil.AssertEqual(t, result.Iterations, 3)
	if len(result.Personas) == 0 {
		t.Fatal("exhausted run must still carry the best persona set")
	}
	if result.Metrics.PopulationAverageRisk <= params.TargetRisk {
		t.Fatal("exhausted run reports risk above target by definition")
	}
	// Escalation never weakens k-anonymity below the starting floor.
	if result.Metrics.KAnonymity < params.MinGroupSize {
		t.Fatalf("k-anonymity %d fell below initial min group size %d",
			result.Metrics.KAnonymity, params.MinGroupSize)
	}
}

func TestRun_Deterministic(t *testing.T) {
	params := core.DefaultParams()
	params.TargetRisk = 0.9

	run := func() *Result {
		c := controller(t, rules.DomainHealthcare)
		individuals := withEvents(testutil.Population(8, 50, 3, "M", "white", "cook county,IL,USA"), "diagnosis")
		result, err := c.Run(context.Background(), individuals, params, 99)
		testutil.AssertNoError(t, err)
		return result
	}

	first, second := run(), run()
	if !reflect.DeepEqual(first.Personas, second.Personas) {
		t.Fatalf("same seed produced different personas:\n %+v\nvs %+v", first.Personas, second.Personas)
	}
	if !reflect.DeepEqual(first.Metrics, second.Metrics) {
		t.Fatal("same seed produced different metrics")
	}
}

func TestRun_CalibrationFailureAborts(t *testing.T) {
	bus := events.New(100)
	c := controller(t, rules.DomainCriminalJustice, WithEventBus(bus))
	individuals := withEvents(testutil.Population(5, 40, 2, "F", "asian", "clark county,IL,USA"), "arrest")

	params := core.DefaultParams()
	params.FlipProbability = 1.0 // passes static validation, fails calibration

	ch := bus.Subscribe(events.EventRunFailed)
	_, err := c.Run(context.Background(), individuals, params, 1)
	if !core.IsCode(err, core.CodeNoiseCalibration) {
		t.Fatalf("error = %v, want %s", err, core.CodeNoiseCalibration)
	}
	select {
	case <-ch:
	default:
		t.Fatal("expected a run failed event")
	}
}

func TestRun_PublishesLifecycleEvents(t *testing.T) {
	bus := events.New(100)
	c := controller(t, rules.DomainCriminalJustice, WithEventBus(bus))
	individuals := withEvents(testutil.Population(5, 40, 2, "F", "asian", "clark county,IL,USA"), "arrest")

	params := core.DefaultParams()
	params.TargetRisk = 0.9

	ch := bus.Subscribe()
	_, err := c.Run(context.Background(), individuals, params, 1)
	testutil.AssertNoError(t, err)

	seen := make(map[string]bool)
	for {
		select {
		case ev := <-ch:
			seen[ev.EventType()] = true
		default:
			for _, want := range []string{events.EventRunStarted, events.EventIterationCompleted, events.EventRunCompleted} {
				if !seen[want] {
					t.Fatalf("missing %s event, saw %v", want, seen)
				}
			}
			return
		}
	}
}

func TestRun_CancelledContext(t *testing.T) {
	c := controller(t, rules.DomainCriminalJustice)
	individuals := withEvents(testutil.Population(5, 40, 2, "F", "asian", "clark county,IL,USA"), "arrest")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := c.Run(ctx, individuals, core.DefaultParams(), 1); err == nil {
		t.Fatal("expected context error")
	}
}

func TestEscalate_FixedPriorityLadder(t *testing.T) {
	c := controller(t, rules.DomainCriminalJustice)
	caps := core.DefaultCaps()

	t.Run("merging first", func(t *testing.T) {
		params := core.DefaultParams()
		next, knob, _, ok := c.escalate(context.Background(), params, core.RiskMetrics{}, 1)
		if !ok {
			t.Fatal("expected an escalation")
		}
		testutil.AssertEqual(t, knob, "merging")
		testutil.AssertEqual(t, next.MinGroupSize, 7)
		testutil.AssertEqual(t, next.AgeTolerance, 4)
		testutil.AssertEqual(t, next.Epsilon, params.Epsilon)
	})

	t.Run("noise after merging caps", func(t *testing.T) {
		params := core.DefaultParams()
		params.MinGroupSize = caps.MaxMinGroupSize
		params.AgeTolerance = caps.MaxAgeTolerance
		next, knob, _, ok := c.escalate(context.Background(), params, core.RiskMetrics{}, 2)
		if !ok {
			t.Fatal("expected an escalation")
		}
		testutil.AssertEqual(t, knob, "noise")
		testutil.AssertEqual(t, next.Epsilon, 0.5)
		testutil.AssertEqual(t, next.FlipProbability, 0.1)
	})

	t.Run("generalization last", func(t *testing.T) {
		params := core.DefaultParams()
		params.MinGroupSize = caps.MaxMinGroupSize
		params.AgeTolerance = caps.MaxAgeTolerance
		params.Epsilon = caps.MinEpsilon
		params.FlipProbability = caps.MaxFlipProbability
		next, knob, _, ok := c.escalate(context.Background(), params, core.RiskMetrics{}, 3)
		if !ok {
			t.Fatal("expected an escalation")
		}
		testutil.AssertEqual(t, knob, "generalization")
		testutil.AssertEqual(t, next.GeneralizationLevel, core.GeoState)
	})

	t.Run("everything capped", func(t *testing.T) {
		params := core.DefaultParams()
		params.MinGroupSize = caps.MaxMinGroupSize
		params.AgeTolerance = caps.MaxAgeTolerance
		params.Epsilon = caps.MinEpsilon
		params.FlipProbability = caps.MaxFlipProbability
		params.GeneralizationLevel = caps.MaxGeneralization
		_, _, _, ok := c.escalate(context.Background(), params, core.RiskMetrics{}, 4)
		if ok {
			t.Fatal("expected no escalation once every knob is capped")
		}
	})
}

func TestEscalate_CapsEnforced(t *testing.T) {
	c := controller(t, rules.DomainCriminalJustice)
	params := core.DefaultParams()
	params.MinGroupSize = 19
	params.AgeTolerance = 9

	next, _, _, ok := c.escalate(context.Background(), params, core.RiskMetrics{}, 5)
	if !ok {
		t.Fatal("expected an escalation")
	}
	testutil.AssertEqual(t, next.MinGroupSize, core.DefaultCaps().MaxMinGroupSize)
	testutil.AssertEqual(t, next.AgeTolerance, core.DefaultCaps().MaxAgeTolerance)
	if next.MaxGroupSize < next.MinGroupSize {
		t.Fatal("max group size must track min group size")
	}
}

type weakAdvisor struct{ advisory.Noop }

func (weakAdvisor) RecommendEscalation(ctx context.Context, metrics core.RiskMetrics, current core.ProtectionParams) (core.EscalationAdvice, error) {
	// Tries to weaken protection and to blow past the caps.
	return core.EscalationAdvice{
		MinGroupSize:    100,
		Epsilon:         current.Epsilon * 4,
		FlipProbability: 0.9,
	}, nil
}

func TestApplyAdvice_NeverWeakensAndRespectsCaps(t *testing.T) {
	c := controller(t, rules.DomainCriminalJustice, WithAdvisor(weakAdvisor{}))
	params := core.DefaultParams()

	next, _, _, ok := c.escalate(context.Background(), params, core.RiskMetrics{}, 1)
	if !ok {
		t.Fatal("expected an escalation")
	}
	caps := core.DefaultCaps()
	testutil.AssertEqual(t, next.MinGroupSize, caps.MaxMinGroupSize)
	testutil.AssertEqual(t, next.FlipProbability, caps.MaxFlipProbability)
	// A higher epsilon would weaken protection; it must be ignored.
	testutil.AssertEqual(t, next.Epsilon, params.Epsilon)
}

func TestRun_WithCensusProvider(t *testing.T) {
	c := controller(t, rules.DomainCriminalJustice, WithProvider(census.NewStatic()))
	individuals := withEvents(testutil.Population(5, 40, 2, "F", "asian", "clark county,IL,USA"), "arrest")

	params := core.DefaultParams()
	params.TargetRisk = 0.9

	result, err := c.Run(context.Background(), individuals, params, 1)
	testutil.AssertNoError(t, err)
	// National-scale marginals make external linkage negligible.
	if result.Metrics.ExternalLinkageRisk > 0.01 {
		t.Fatalf("linkage risk %v, want near zero with census data", result.Metrics.ExternalLinkageRisk)
	}
}
