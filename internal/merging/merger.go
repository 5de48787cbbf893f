// Package merging collapses the events of a persona group into
// representative events and repairs the resulting timeline against the
// domain's sequencing rules by inserting synthetic events.
package merging

import (
	"fmt"
	"sort"
	"time"

	"github.com/AmirrezaAsadi/PersonaTwinFactory/internal/core"
	"github.com/AmirrezaAsadi/PersonaTwinFactory/internal/rules"
)

// Similarity component weights. Two events sharing type, outcome, date and
// location score 1.0.
const (
	weightType     = 0.4
	weightOutcome  = 0.2
	weightTemporal = 0.2
	weightLocation = 0.2
)

// DefaultThreshold is the similarity above which two events join one
// cluster.
const DefaultThreshold = 0.6

// DefaultTemporalWindow is the date distance beyond which temporal
// proximity contributes nothing.
const DefaultTemporalWindow = 180 * 24 * time.Hour

// Merger merges a group's event timelines. It is stateless across groups
// and safe for concurrent use once constructed.
type Merger struct {
	registry   *rules.Registry
	threshold  float64
	window     time.Duration
	geoLevel   core.GeoLevel
	synthesize Synthesizer
}

// Synthesizer shapes a synthetic event that must land before the anchor
// time. A false return falls back to the merger's own construction.
type Synthesizer func(eventType string, before time.Time, reason string) (core.Event, bool)

// Option adjusts merger construction.
type Option func(*Merger)

// WithThreshold overrides the similarity threshold.
func WithThreshold(t float64) Option {
	return func(m *Merger) { m.threshold = t }
}

// WithTemporalWindow overrides the temporal proximity window.
func WithTemporalWindow(w time.Duration) Option {
	return func(m *Merger) { m.window = w }
}

// WithGeoLevel sets the hierarchy level at which locations are compared.
func WithGeoLevel(l core.GeoLevel) Option {
	return func(m *Merger) { m.geoLevel = l }
}

// WithSynthesizer consults the given shaper for required-event synthetics.
// Closure and buffer synthetics stay deterministic; their dates are
// constrained on both sides.
func WithSynthesizer(s Synthesizer) Option {
	return func(m *Merger) { m.synthesize = s }
}

// New creates a merger bound to one rule registry.
func New(registry *rules.Registry, opts ...Option) *Merger {
	m := &Merger{
		registry:  registry,
		threshold: DefaultThreshold,
		window:    DefaultTemporalWindow,
		geoLevel:  core.GeoCounty,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// MergeGroup produces the rule-valid representative timeline for a group.
// Merging a single individual with no mergeable duplicate events and a
// rule-valid timeline returns that individual's events unchanged (in
// chronological order).
func (m *Merger) MergeGroup(group core.PersonaGroup) ([]core.Event, error) {
	var events []core.Event
	for _, member := range group.Members {
		events = append(events, member.Events...)
	}
	if len(events) == 0 {
		return nil, nil
	}
	core.SortEventsChronologically(events)

	reps := m.cluster(events)
	core.SortEventsChronologically(reps)

	return m.RepairTimeline(reps)
}

// Similarity scores a pair of events in [0, 1].
func (m *Merger) Similarity(a, b core.Event) float64 {
	score := 0.0
	if a.Type == b.Type {
		score += weightType
	}
	if a.Outcome != "" && a.Outcome == b.Outcome {
		score += weightOutcome
	}
	score += weightTemporal * m.temporalProximity(a.Date, b.Date)
	if len(a.Location) > 0 && a.Location.AtLevel(m.geoLevel).Equal(b.Location.AtLevel(m.geoLevel)) {
		score += weightLocation
	}
	return score
}

// temporalProximity decays linearly from 1.0 at zero distance to 0.0 at the
// window edge.
func (m *Merger) temporalProximity(a, b time.Time) float64 {
	d := a.Sub(b)
	if d < 0 {
		d = -d
	}
	if d >= m.window {
		return 0
	}
	return 1.0 - float64(d)/float64(m.window)
}

// cluster unions every pair at or above the threshold, collapses the
// transitive clusters, and emits one representative event per cluster.
func (m *Merger) cluster(events []core.Event) []core.Event {
	uf := newUnionFind(len(events))
	for i := 0; i < len(events); i++ {
		for j := i + 1; j < len(events); j++ {
			if m.Similarity(events[i], events[j]) >= m.threshold {
				uf.union(i, j)
			}
		}
	}

	var reps []core.Event
	for _, members := range uf.clusters() {
		if len(members) == 1 {
			reps = append(reps, events[members[0]])
			continue
		}
		cluster := make([]core.Event, len(members))
		for i, idx := range members {
			cluster[i] = events[idx]
		}
		reps = append(reps, representative(cluster))
	}
	return reps
}

// representative folds a cluster into one event: majority event type and
// outcome (ties resolved by the chronologically earliest member), median
// date, the most specific common geographic ancestor, and merged details
// carrying the member count.
func representative(cluster []core.Event) core.Event {
	core.SortEventsChronologically(cluster)

	details := make(map[string]interface{})
	for _, e := range cluster {
		for k, v := range e.Details {
			details[k] = v
		}
	}
	details[core.DetailMergedCount] = len(cluster)

	dates := make([]time.Time, len(cluster))
	for i, e := range cluster {
		dates[i] = e.Date
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })

	location := cluster[0].Location
	for _, e := range cluster[1:] {
		location = location.CommonAncestor(e.Location)
	}

	return core.Event{
		ID:       "merged_" + cluster[0].ID,
		Date:     dates[len(dates)/2],
		Type:     majorityValue(cluster, func(e core.Event) string { return e.Type }),
		Outcome:  majorityValue(cluster, func(e core.Event) string { return e.Outcome }),
		Location: location.Clone(),
		Details:  details,
	}
}

// majorityValue returns the most frequent value in the cluster; ties go to
// the chronologically earliest member holding a tied value. The cluster
// must already be sorted.
func majorityValue(cluster []core.Event, get func(core.Event) string) string {
	counts := make(map[string]int)
	max := 0
	for _, e := range cluster {
		counts[get(e)]++
		if counts[get(e)] > max {
			max = counts[get(e)]
		}
	}
	for _, e := range cluster {
		if counts[get(e)] == max {
			return get(e)
		}
	}
	return get(cluster[0])
}

// RepairTimeline enforces the registry's sequencing rules over a
// chronologically sorted timeline, inserting flagged synthetic events where
// required. The input slice is not modified.
func (m *Merger) RepairTimeline(events []core.Event) ([]core.Event, error) {
	out := m.enforceMaxOccurrences(events)
	out, err := m.repairSequence(out)
	if err != nil {
		return nil, err
	}
	out, err = m.repairCannotFollow(out)
	if err != nil {
		return nil, err
	}
	if err := m.Validate(out); err != nil {
		return nil, err
	}
	return out, nil
}

// enforceMaxOccurrences keeps the earliest N events of each bounded type
// and folds the remainder into the nearest preceding kept event of the same
// type, growing its merged count instead of dropping information.
func (m *Merger) enforceMaxOccurrences(events []core.Event) []core.Event {
	kept := make([]core.Event, 0, len(events))
	counts := make(map[string]int)
	lastKept := make(map[string]int) // type -> index in kept

	for _, e := range events {
		rule, ok := m.registry.Rule(e.Type)
		if ok && rule.MaxOccurrences > 0 && counts[e.Type] >= rule.MaxOccurrences {
			idx, exists := lastKept[e.Type]
			if !exists {
				continue
			}
			target := kept[idx].Clone()
			if target.Details == nil {
				target.Details = make(map[string]interface{})
			}
			target.Details[core.DetailMergedCount] = target.MergedCount() + e.MergedCount()
			kept[idx] = target
			continue
		}
		counts[e.Type]++
		lastKept[e.Type] = len(kept)
		kept = append(kept, e)
	}
	return kept
}

// repairSequence walks the timeline chronologically, inserting synthetic
// predecessors for unmet must_follow constraints (recursively satisfying
// the predecessors' own requirements) and synthetic closures for re-opened
// or never-closed states.
func (m *Merger) repairSequence(events []core.Event) ([]core.Event, error) {
	out := make([]core.Event, 0, len(events))
	seen := make(map[string]int)
	open := make(map[string]core.Event) // opening type -> opening event

	for _, e := range events {
		rule, constrained := m.registry.Rule(e.Type)

		if constrained {
			for _, required := range rule.MustFollow {
				if seen[required] > 0 {
					continue
				}
				chain, err := m.syntheticChain(required, e.Date, "required before "+e.Type, map[string]bool{e.Type: true})
				if err != nil {
					return nil, err
				}
				for _, s := range chain {
					seen[s.Type]++
					out = append(out, s)
				}
			}
		}

		// A closure event clears whichever open state names it.
		for openType := range open {
			openRule, _ := m.registry.Rule(openType)
			if openRule.ClosureEventType == e.Type {
				delete(open, openType)
			}
		}

		if constrained && rule.RequiresClosure {
			if opening, isOpen := open[e.Type]; isOpen {
				closure := m.syntheticClosure(rule, opening, e.Date)
				seen[closure.Type]++
				out = append(out, closure)
			}
			open[e.Type] = e
		}

		seen[e.Type]++
		out = append(out, e)
	}

	// Close anything still open at the end of the timeline, in a
	// deterministic order.
	openTypes := make([]string, 0, len(open))
	for t := range open {
		openTypes = append(openTypes, t)
	}
	sort.Strings(openTypes)
	for _, t := range openTypes {
		rule, _ := m.registry.Rule(t)
		closure := m.syntheticClosure(rule, open[t], time.Time{})
		out = append(out, closure)
	}

	core.SortEventsChronologically(out)
	return out, nil
}

// syntheticChain builds the synthetic event for a missing required type and,
// recursively, synthetics for that type's own unmet requirements, ordered
// earliest first. The registry's acyclic must_follow graph bounds the
// recursion; visited guards against pathological registries all the same.
func (m *Merger) syntheticChain(eventType string, before time.Time, reason string, visited map[string]bool) ([]core.Event, error) {
	if visited[eventType] {
		return nil, core.ErrEventSequenceUnresolvable(eventType, "circular synthetic requirement")
	}
	visited[eventType] = true
	defer delete(visited, eventType)

	ev := m.newSynthetic(eventType, before, reason)

	var chain []core.Event
	if rule, ok := m.registry.Rule(eventType); ok {
		for _, required := range rule.MustFollow {
			sub, err := m.syntheticChain(required, ev.Date, "required before "+eventType, visited)
			if err != nil {
				return nil, err
			}
			chain = append(chain, sub...)
		}
	}
	return append(chain, ev), nil
}

// syntheticClosure places a closing event after the opening, bounded by the
// next conflicting event when one exists. A zero bound means the timeline
// ended with the state open.
func (m *Merger) syntheticClosure(rule rules.Rule, opening core.Event, bound time.Time) core.Event {
	date := opening.Date.Add(m.registry.ClosureLag())
	if !bound.IsZero() && !date.Before(bound) {
		date = bound.Add(-24 * time.Hour)
		if date.Before(opening.Date) {
			date = opening.Date
		}
	}
	return m.syntheticEvent(rule.ClosureEventType, date, "closing open "+rule.EventType)
}

// newSynthetic builds a synthetic event dated before the anchor, consulting
// the synthesizer first. A shaped event is accepted only when it keeps the
// requested type and lands strictly before the anchor; anything else falls
// back to the deterministic construction.
func (m *Merger) newSynthetic(eventType string, before time.Time, reason string) core.Event {
	if m.synthesize != nil {
		if ev, ok := m.synthesize(eventType, before, reason); ok && ev.Type == eventType && ev.Date.Before(before) {
			if ev.Details == nil {
				ev.Details = make(map[string]interface{})
			}
			ev.Details[core.DetailSynthetic] = true
			if _, ok := ev.Details[core.DetailReason]; !ok {
				ev.Details[core.DetailReason] = reason
			}
			if ev.ID == "" {
				ev.ID = fmt.Sprintf("synthetic_%s_%s", eventType, ev.Date.Format("20060102"))
			}
			return ev
		}
	}
	return m.syntheticEvent(eventType, before.Add(-m.registry.SyntheticLead()), reason)
}

func (m *Merger) syntheticEvent(eventType string, date time.Time, reason string) core.Event {
	return core.Event{
		ID:   fmt.Sprintf("synthetic_%s_%s", eventType, date.Format("20060102")),
		Date: date,
		Type: eventType,
		Details: map[string]interface{}{
			core.DetailSynthetic: true,
			core.DetailReason:    reason,
		},
	}
}

// repairCannotFollow breaks forbidden immediate-predecessor pairs by
// inserting a synthetic event between them, drawn from the violator's
// must_follow set. No legal buffer type means the timeline is
// unresolvable.
func (m *Merger) repairCannotFollow(events []core.Event) ([]core.Event, error) {
	for i := 1; i < len(events); i++ {
		rule, ok := m.registry.Rule(events[i].Type)
		if !ok || !contains(rule.CannotFollow, events[i-1].Type) {
			continue
		}

		buffer := ""
		for _, candidate := range rule.MustFollow {
			if contains(rule.CannotFollow, candidate) {
				continue
			}
			if cRule, ok := m.registry.Rule(candidate); ok && contains(cRule.CannotFollow, events[i-1].Type) {
				continue
			}
			buffer = candidate
			break
		}
		if buffer == "" {
			return nil, core.ErrEventSequenceUnresolvable(events[i].Type,
				fmt.Sprintf("%q may not immediately follow %q and no buffer event is legal", events[i].Type, events[i-1].Type))
		}

		mid := events[i-1].Date.Add(events[i].Date.Sub(events[i-1].Date) / 2)
		synth := m.syntheticEvent(buffer, mid, fmt.Sprintf("separating %s from %s", events[i].Type, events[i-1].Type))
		events = append(events[:i], append([]core.Event{synth}, events[i:]...)...)
		i++ // the inserted buffer is legal by construction
	}
	return events, nil
}

// Validate checks a chronologically sorted timeline against every
// constraint the registry carries. Used both after merge-and-repair and
// after noise injection.
func (m *Merger) Validate(events []core.Event) error {
	seen := make(map[string]int)
	open := make(map[string]bool)

	for i, e := range events {
		rule, constrained := m.registry.Rule(e.Type)

		for openType := range open {
			openRule, _ := m.registry.Rule(openType)
			if openRule.ClosureEventType == e.Type {
				delete(open, openType)
			}
		}

		if constrained {
			for _, required := range rule.MustFollow {
				if seen[required] == 0 {
					return core.ErrEventSequenceUnresolvable(e.Type, fmt.Sprintf("no %q precedes it", required))
				}
			}
			if i > 0 && contains(rule.CannotFollow, events[i-1].Type) {
				return core.ErrEventSequenceUnresolvable(e.Type, fmt.Sprintf("immediately follows forbidden %q", events[i-1].Type))
			}
			if rule.MaxOccurrences > 0 && seen[e.Type] >= rule.MaxOccurrences {
				return core.ErrEventSequenceUnresolvable(e.Type, fmt.Sprintf("occurs more than %d times", rule.MaxOccurrences))
			}
			if rule.RequiresClosure {
				if open[e.Type] {
					return core.ErrEventSequenceUnresolvable(e.Type, "re-opened without closure")
				}
				open[e.Type] = true
			}
		}
		seen[e.Type]++
	}

	if len(open) > 0 {
		for t := range open {
			return core.ErrEventSequenceUnresolvable(t, "never closed")
		}
	}
	return nil
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
