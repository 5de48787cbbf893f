// Package pipeline drives the adaptive anonymization loop: group, merge,
// perturb, score, and escalate until the risk target is met or the
// iteration budget runs out.
package pipeline

import (
	"context"
	"fmt"
	"hash/fnv"
	"math/rand"
	"sort"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/AmirrezaAsadi/PersonaTwinFactory/internal/advisory"
	"github.com/AmirrezaAsadi/PersonaTwinFactory/internal/core"
	"github.com/AmirrezaAsadi/PersonaTwinFactory/internal/events"
	"github.com/AmirrezaAsadi/PersonaTwinFactory/internal/grouping"
	"github.com/AmirrezaAsadi/PersonaTwinFactory/internal/logging"
	"github.com/AmirrezaAsadi/PersonaTwinFactory/internal/merging"
	"github.com/AmirrezaAsadi/PersonaTwinFactory/internal/noise"
	"github.com/AmirrezaAsadi/PersonaTwinFactory/internal/risk"
	"github.com/AmirrezaAsadi/PersonaTwinFactory/internal/rules"
)

// DefaultMaxIterations bounds the escalation loop.
const DefaultMaxIterations = 5

// ageBinSize generalizes ages into census-style decade buckets.
const ageBinSize = 10

// Controller runs the anonymization state machine. It is safe for
// concurrent Runs; all per-run state lives on the stack.
type Controller struct {
	registry *rules.Registry
	provider core.DistributionProvider
	advisor  core.Advisor
	caps     core.EscalationCaps
	maxIter  int
	workers  int
	runID    string
	log      *logging.Logger
	bus      *events.EventBus
	now      func() time.Time
}

// Option adjusts controller construction.
type Option func(*Controller)

// WithProvider wires the demographic distribution collaborator. Without it
// external linkage scoring assumes the worst case.
func WithProvider(p core.DistributionProvider) Option {
	return func(c *Controller) { c.provider = p }
}

// WithAdvisor wires the optional escalation advisor.
func WithAdvisor(a core.Advisor) Option {
	return func(c *Controller) { c.advisor = a }
}

// WithCaps overrides the escalation bounds.
func WithCaps(caps core.EscalationCaps) Option {
	return func(c *Controller) { c.caps = caps }
}

// WithMaxIterations overrides the iteration budget.
func WithMaxIterations(n int) Option {
	return func(c *Controller) {
		if n > 0 {
			c.maxIter = n
		}
	}
}

// WithWorkers caps how many demographic buckets are processed in parallel.
// Zero means no limit.
func WithWorkers(n int) Option {
	return func(c *Controller) { c.workers = n }
}

// WithLogger sets the run logger.
func WithLogger(l *logging.Logger) Option {
	return func(c *Controller) { c.log = l }
}

// WithEventBus publishes run lifecycle events to the bus.
func WithEventBus(bus *events.EventBus) Option {
	return func(c *Controller) { c.bus = bus }
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

// WithRunID pins the run identifier instead of generating one, so callers
// that persist the run before starting it can correlate events.
func WithRunID(id string) Option {
	return func(c *Controller) { c.runID = id }
}

// New builds a controller bound to one rule registry.
func New(registry *rules.Registry, opts ...Option) *Controller {
	c := &Controller{
		registry: registry,
		advisor:  advisory.Noop{},
		caps:     core.DefaultCaps(),
		maxIter:  DefaultMaxIterations,
		log:      logging.NewNop(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Result is the terminal outcome of a run. Status is RunStatusConverged or
// RunStatusExhausted; an exhausted run carries the best-observed persona
// set, never a silent success.
type Result struct {
	RunID      string
	Status     core.RunStatus
	Personas   []core.Persona
	Metrics    core.RiskMetrics
	Iterations int
	Params     core.ProtectionParams
}

type iteration struct {
	personas []core.Persona
	metrics  core.RiskMetrics
	params   core.ProtectionParams
}

// Run executes the full loop over the original individuals. Every iteration
// is a fresh pass with the escalated parameters; persona sets are replaced
// wholesale, never mutated. Identical inputs, parameters, and seed yield
// identical persona sets.
func (c *Controller) Run(ctx context.Context, individuals []core.Individual, params core.ProtectionParams, seed int64) (*Result, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}

	runID := c.runID
	if runID == "" {
		runID = uuid.NewString()
	}
	log := c.log.WithRun(runID).WithDomain(c.registry.Domain())
	log.Info("run started", "individuals", len(individuals), "seed", seed, "target_risk", params.TargetRisk)
	c.publish(events.NewRunStartedEvent(runID, c.registry.Domain(), len(individuals), seed))

	assessor := risk.New(c.provider)
	current := params
	highRisk := make(map[string]bool)
	var best *iteration
	completed := 0

	for iter := 1; iter <= c.maxIter; iter++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		res, err := c.iterate(ctx, runID, iter, individuals, current, seed, highRisk, assessor)
		if err != nil {
			log.Error("run failed", "iteration", iter, "error", err)
			c.publishPriority(events.NewRunFailedEvent(runID, err.Error()))
			return nil, err
		}
		completed = iter

		converged := res.metrics.PopulationAverageRisk <= current.TargetRisk
		log.WithIteration(iter).Info("iteration scored",
			"personas", len(res.personas),
			"population_risk", res.metrics.PopulationAverageRisk,
			"k_anonymity", res.metrics.KAnonymity,
			"converged", converged)
		c.publish(events.NewIterationCompletedEvent(runID, iter, len(res.personas),
			res.metrics.PopulationAverageRisk, res.metrics.KAnonymity, converged))

		if converged {
			c.publishPriority(events.NewRunCompletedEvent(runID, string(core.RunStatusConverged),
				iter, len(res.personas), res.metrics.PopulationAverageRisk))
			return &Result{
				RunID:      runID,
				Status:     core.RunStatusConverged,
				Personas:   res.personas,
				Metrics:    res.metrics,
				Iterations: iter,
				Params:     res.params,
			}, nil
		}

		if best == nil || res.metrics.PopulationAverageRisk < best.metrics.PopulationAverageRisk {
			best = res
		}
		highRisk = make(map[string]bool, len(res.metrics.HighRiskPersonas))
		for _, id := range res.metrics.HighRiskPersonas {
			highRisk[id] = true
		}

		next, knob, detail, ok := c.escalate(ctx, current, res.metrics, iter)
		if !ok {
			log.Warn("all escalation knobs capped", "iteration", iter)
			break
		}
		log.WithIteration(iter).Info("escalating", "knob", knob, "detail", detail)
		c.publish(events.NewEscalationAppliedEvent(runID, iter, knob, detail))
		current = next
	}

	c.publishPriority(events.NewRunCompletedEvent(runID, string(core.RunStatusExhausted),
		completed, len(best.personas), best.metrics.PopulationAverageRisk))
	return &Result{
		RunID:      runID,
		Status:     core.RunStatusExhausted,
		Personas:   best.personas,
		Metrics:    best.metrics,
		Iterations: completed,
		Params:     best.params,
	}, nil
}

// iterate runs one full group-merge-perturb-score pass. Buckets are
// disjoint, so groups run on parallel workers with per-group derived RNGs;
// scoring is the single reduction at the end.
func (c *Controller) iterate(ctx context.Context, runID string, n int, individuals []core.Individual, params core.ProtectionParams, seed int64, highRisk map[string]bool, assessor *risk.Assessor) (*iteration, error) {
	grouped, err := grouping.New(params).Group(individuals)
	if err != nil {
		return nil, err
	}
	for _, r := range grouped.Residuals {
		c.log.WithRun(runID).WithIteration(n).Warn("bucket held back",
			"bucket", r.BucketKey, "members", len(r.Members), "error", r.Err)
		c.publish(events.NewBucketResidualEvent(runID, r.BucketKey, len(r.Members)))
	}
	if len(grouped.Groups) == 0 {
		if len(grouped.Residuals) > 0 {
			return nil, grouped.Residuals[0].Err
		}
		return nil, core.ErrInsufficientData(len(individuals), params.MinGroupSize)
	}

	merger := merging.New(c.registry,
		merging.WithGeoLevel(params.GeoBucketLevel),
		merging.WithSynthesizer(func(eventType string, before time.Time, reason string) (core.Event, bool) {
			return c.advisor.SynthesizeEvent(ctx, eventType, before, reason)
		}))

	// Calibration problems abort before any perturbation is computed.
	if _, err := noise.New(c.registry, merger, params, rand.New(rand.NewSource(seed))); err != nil {
		return nil, err
	}

	ids := personaIDs(grouped.Groups)
	personas := make([]core.Persona, len(grouped.Groups))

	g, gctx := errgroup.WithContext(ctx)
	if c.workers > 0 {
		g.SetLimit(c.workers)
	}
	for i := range grouped.Groups {
		i := i
		group := grouped.Groups[i]
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}

			timeline, err := merger.MergeGroup(group)
			if err != nil {
				return err
			}

			rng := rand.New(rand.NewSource(deriveSeed(seed, n, ids[i])))
			injector, err := noise.New(c.registry, merger, params, rng)
			if err != nil {
				return err
			}

			candidate := c.personaFor(ids[i], group, timeline, params)
			noised, err := injector.Inject(candidate, noise.CollectOutcomes(group.Members), highRisk[ids[i]])
			if err != nil {
				return err
			}
			noised.Privacy.GeneratedAt = c.now().UTC()
			personas[i] = noised
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.Slice(personas, func(i, j int) bool { return personas[i].ID < personas[j].ID })

	metrics, err := assessor.Assess(ctx, personas, params)
	if err != nil {
		return nil, err
	}
	for i := range personas {
		personas[i].Privacy.IndividualRisk = metrics.IndividualRisks[personas[i].ID]
	}
	return &iteration{personas: personas, metrics: metrics, params: params}, nil
}

// personaIDs assigns stable identifiers from the bucket key and the group's
// ordinal within its bucket, so high-risk flags carry across iterations.
func personaIDs(groups []core.PersonaGroup) []string {
	ids := make([]string, len(groups))
	ordinals := make(map[string]int)
	for i, g := range groups {
		h := fnv.New32a()
		h.Write([]byte(g.BucketKey))
		ids[i] = fmt.Sprintf("persona_%08x_%02d", h.Sum32(), ordinals[g.BucketKey])
		ordinals[g.BucketKey]++
	}
	return ids
}

// personaFor builds the pre-noise candidate: generalized demographics and
// the merged timeline.
func (c *Controller) personaFor(id string, group core.PersonaGroup, timeline []core.Event, params core.ProtectionParams) core.Persona {
	first := group.Members[0].Demographics

	ages := make([]int, len(group.Members))
	var confidence float64
	for i, m := range group.Members {
		ages[i] = m.Demographics.Age
		confidence += m.Demographics.Confidence
	}
	sort.Ints(ages)

	return core.Persona{
		ID:         id,
		MergedFrom: group.Size(),
		Demographics: core.Demographics{
			AgeRange:   core.AgeRangeFor(ages[len(ages)/2], ageBinSize),
			Gender:     first.Gender,
			Ethnicity:  first.Ethnicity,
			Geography:  first.Geography.AtLevel(params.GeoBucketLevel),
			Confidence: confidence / float64(len(group.Members)),
		},
		Events: timeline,
	}
}

// deriveSeed mixes the base seed, iteration, and persona identity so every
// group draws from an independent, reproducible stream regardless of worker
// scheduling.
func deriveSeed(seed int64, iteration int, personaID string) int64 {
	h := fnv.New64a()
	fmt.Fprintf(h, "%d|%d|%s", seed, iteration, personaID)
	return int64(h.Sum64())
}

// escalate derives the next parameter set, tightening exactly one knob in
// fixed priority order: more merging, then more noise, then broader
// geography. Magnitudes grow with the iteration index and are capped; ok is
// false once every knob is at its bound. Advisory suggestions are folded in
// afterwards and can only tighten further.
func (c *Controller) escalate(ctx context.Context, current core.ProtectionParams, metrics core.RiskMetrics, iter int) (core.ProtectionParams, string, string, bool) {
	next := current
	var knob, detail string

	switch {
	case current.MinGroupSize < c.caps.MaxMinGroupSize || current.AgeTolerance < c.caps.MaxAgeTolerance:
		knob = "merging"
		next.MinGroupSize = minInt(current.MinGroupSize+2*iter, c.caps.MaxMinGroupSize)
		next.AgeTolerance = minInt(current.AgeTolerance+iter, c.caps.MaxAgeTolerance)
		detail = fmt.Sprintf("min_group_size %d->%d age_tolerance %d->%d",
			current.MinGroupSize, next.MinGroupSize, current.AgeTolerance, next.AgeTolerance)
	case current.Epsilon > c.caps.MinEpsilon || current.FlipProbability < c.caps.MaxFlipProbability:
		knob = "noise"
		next.Epsilon = maxFloat(current.Epsilon/2, c.caps.MinEpsilon)
		next.FlipProbability = current.FlipProbability * 2
		if next.FlipProbability == 0 {
			next.FlipProbability = 0.01
		}
		next.FlipProbability = minFloat(next.FlipProbability, c.caps.MaxFlipProbability)
		detail = fmt.Sprintf("epsilon %g->%g flip %g->%g",
			current.Epsilon, next.Epsilon, current.FlipProbability, next.FlipProbability)
	case current.GeneralizationLevel < c.caps.MaxGeneralization:
		knob = "generalization"
		next.GeneralizationLevel = current.GeneralizationLevel + 1
		detail = fmt.Sprintf("generalization %s->%s", current.GeneralizationLevel, next.GeneralizationLevel)
	default:
		return current, "", "", false
	}

	next = c.applyAdvice(ctx, next, metrics)
	if next.MaxGroupSize < next.MinGroupSize {
		next.MaxGroupSize = next.MinGroupSize * 2
	}
	return next, knob, detail, true
}

// applyAdvice folds advisory suggestions into the escalated parameters.
// Advice never weakens protection and never exceeds the caps; advisor
// failures are ignored because convergence must not depend on the port.
func (c *Controller) applyAdvice(ctx context.Context, params core.ProtectionParams, metrics core.RiskMetrics) core.ProtectionParams {
	advice, err := c.advisor.RecommendEscalation(ctx, metrics, params)
	if err != nil {
		c.log.Debug("advisor unavailable", "error", err)
		return params
	}

	if advice.MinGroupSize > params.MinGroupSize {
		params.MinGroupSize = minInt(advice.MinGroupSize, c.caps.MaxMinGroupSize)
	}
	if advice.Epsilon > 0 && advice.Epsilon < params.Epsilon {
		params.Epsilon = maxFloat(advice.Epsilon, c.caps.MinEpsilon)
	}
	if advice.FlipProbability > params.FlipProbability {
		params.FlipProbability = minFloat(advice.FlipProbability, c.caps.MaxFlipProbability)
	}
	if advice.GeneralizationLevel > params.GeneralizationLevel {
		params.GeneralizationLevel = minGeo(advice.GeneralizationLevel, c.caps.MaxGeneralization)
	}
	return params
}

func (c *Controller) publish(e events.Event) {
	if c.bus != nil {
		c.bus.Publish(e)
	}
}

func (c *Controller) publishPriority(e events.Event) {
	if c.bus != nil {
		c.bus.PublishPriority(e)
	}
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

func minGeo(a, b core.GeoLevel) core.GeoLevel {
	if a < b {
		return a
	}
	return b
}
