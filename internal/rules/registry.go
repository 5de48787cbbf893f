// Package rules holds the per-domain event sequencing constraints the merger
// and noise injector validate timelines against. A registry is validated
// once at construction and read-only afterwards, so it is safe to share
// across concurrent group processing.
package rules

import (
	"fmt"
	"sort"
	"time"

	"github.com/AmirrezaAsadi/PersonaTwinFactory/internal/core"
)

// Rule constrains where events of one type may appear in a timeline.
type Rule struct {
	EventType        string   `yaml:"event_type"`
	MustFollow       []string `yaml:"must_follow,omitempty"`
	CannotFollow     []string `yaml:"cannot_follow,omitempty"`
	MaxOccurrences   int      `yaml:"max_occurrences,omitempty"` // 0 = unbounded
	RequiresClosure  bool     `yaml:"requires_closure,omitempty"`
	ClosureEventType string   `yaml:"closure_event_type,omitempty"`
}

// Registry is an immutable, validated rule table for one domain.
type Registry struct {
	domain        string
	rules         map[string]Rule
	outcomes      []string
	syntheticLead time.Duration // synthetic predecessors land this far before the violator
	closureLag    time.Duration // synthetic closures land this far after the opening
}

// DefaultSyntheticOffset is the spacing used for synthetic repair events
// when a domain does not configure its own.
const DefaultSyntheticOffset = 30 * 24 * time.Hour

// Option adjusts registry construction.
type Option func(*Registry)

// WithSyntheticLead sets how far before a violator synthetic predecessors
// are timestamped.
func WithSyntheticLead(d time.Duration) Option {
	return func(r *Registry) { r.syntheticLead = d }
}

// WithClosureLag sets how far after an opening event synthetic closures are
// timestamped.
func WithClosureLag(d time.Duration) Option {
	return func(r *Registry) { r.closureLag = d }
}

// New builds and validates a registry. It fails with an InvalidDomainRule
// error when the must_follow relation is cyclic or a closure event type is
// not itself registered.
func New(domain string, ruleList []Rule, outcomes []string, opts ...Option) (*Registry, error) {
	r := &Registry{
		domain:        domain,
		rules:         make(map[string]Rule, len(ruleList)),
		outcomes:      append([]string(nil), outcomes...),
		syntheticLead: DefaultSyntheticOffset,
		closureLag:    DefaultSyntheticOffset,
	}
	for _, opt := range opts {
		opt(r)
	}

	for _, rule := range ruleList {
		if rule.EventType == "" {
			return nil, core.ErrInvalidDomainRule("rule with empty event type")
		}
		if _, dup := r.rules[rule.EventType]; dup {
			return nil, core.ErrInvalidDomainRule(fmt.Sprintf("duplicate rule for event type %q", rule.EventType))
		}
		if rule.RequiresClosure && rule.ClosureEventType == "" {
			return nil, core.ErrInvalidDomainRule(fmt.Sprintf("%q requires closure but names no closure event type", rule.EventType))
		}
		r.rules[rule.EventType] = rule
	}

	for _, rule := range r.rules {
		if rule.RequiresClosure {
			if _, ok := r.rules[rule.ClosureEventType]; !ok {
				return nil, core.ErrInvalidDomainRule(fmt.Sprintf(
					"closure event type %q for %q is not a registered event type",
					rule.ClosureEventType, rule.EventType))
			}
		}
	}

	if cycle := r.findMustFollowCycle(); cycle != "" {
		return nil, core.ErrInvalidDomainRule("must_follow graph contains a cycle through " + cycle)
	}

	return r, nil
}

// findMustFollowCycle runs a three-color DFS over the must_follow graph and
// returns an event type on a cycle, or "" when the graph is acyclic. Edges
// to unregistered types are leaves and cannot extend a cycle.
func (r *Registry) findMustFollowCycle() string {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(r.rules))

	var visit func(string) string
	visit = func(node string) string {
		color[node] = gray
		for _, dep := range r.rules[node].MustFollow {
			if _, ok := r.rules[dep]; !ok {
				continue
			}
			switch color[dep] {
			case gray:
				return dep
			case white:
				if hit := visit(dep); hit != "" {
					return hit
				}
			}
		}
		color[node] = black
		return ""
	}

	for _, node := range r.EventTypes() {
		if color[node] == white {
			if hit := visit(node); hit != "" {
				return hit
			}
		}
	}
	return ""
}

// Domain returns the domain name the registry was built for.
func (r *Registry) Domain() string { return r.domain }

// Rule looks up the constraint for an event type.
func (r *Registry) Rule(eventType string) (Rule, bool) {
	rule, ok := r.rules[eventType]
	return rule, ok
}

// EventTypes returns all constrained event types in sorted order.
func (r *Registry) EventTypes() []string {
	types := make([]string, 0, len(r.rules))
	for t := range r.rules {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// Outcomes returns the domain's outcome vocabulary.
func (r *Registry) Outcomes() []string {
	return append([]string(nil), r.outcomes...)
}

// SyntheticLead is the offset applied before a violator when inserting a
// required predecessor.
func (r *Registry) SyntheticLead() time.Duration { return r.syntheticLead }

// ClosureLag is the offset applied after an opening event when inserting a
// synthetic closure.
func (r *Registry) ClosureLag() time.Duration { return r.closureLag }

// Len returns the number of constrained event types.
func (r *Registry) Len() int { return len(r.rules) }
