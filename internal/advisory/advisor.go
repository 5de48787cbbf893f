// Package advisory provides the optional escalation-advice collaborators.
// The controller treats advice as non-authoritative: it only ever tightens
// parameters along its own ladder.
package advisory

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/AmirrezaAsadi/PersonaTwinFactory/internal/core"
)

// Noop is the disabled advisor. Convergence guarantees are proven against
// this implementation.
type Noop struct{}

func (Noop) RecommendEscalation(ctx context.Context, metrics core.RiskMetrics, current core.ProtectionParams) (core.EscalationAdvice, error) {
	return core.EscalationAdvice{}, nil
}

func (Noop) SynthesizeEvent(ctx context.Context, eventType string, before time.Time, reason string) (core.Event, bool) {
	return core.Event{}, false
}

// Heuristic mirrors the rule-based adjustment policy: weak k-anonymity asks
// for more merging, concentrated demographics for broader generalization,
// and concentrated event patterns for more temporal noise.
type Heuristic struct {
	// ConcentrationCutoff triggers generalization and noise advice.
	ConcentrationCutoff float64
	// WeakAnonymity triggers merge-size advice.
	WeakAnonymity int
}

// NewHeuristic returns the advisor with the original cutoffs.
func NewHeuristic() Heuristic {
	return Heuristic{ConcentrationCutoff: 0.5, WeakAnonymity: 5}
}

func (h Heuristic) RecommendEscalation(ctx context.Context, metrics core.RiskMetrics, current core.ProtectionParams) (core.EscalationAdvice, error) {
	if err := ctx.Err(); err != nil {
		return core.EscalationAdvice{}, err
	}

	var advice core.EscalationAdvice
	var reasons []string

	if metrics.KAnonymity < h.WeakAnonymity {
		advice.MinGroupSize = current.MinGroupSize * 2
		if advice.MinGroupSize < 10 {
			advice.MinGroupSize = 10
		}
		reasons = append(reasons, fmt.Sprintf("k-anonymity %d below %d", metrics.KAnonymity, h.WeakAnonymity))
	}
	if metrics.DemographicRisk > h.ConcentrationCutoff {
		advice.GeneralizationLevel = current.GeneralizationLevel + 1
		if advice.GeneralizationLevel > core.GeoCountry {
			advice.GeneralizationLevel = core.GeoCountry
		}
		reasons = append(reasons, fmt.Sprintf("demographic concentration %.2f", metrics.DemographicRisk))
	}
	if metrics.EventPatternRisk > h.ConcentrationCutoff {
		advice.Epsilon = current.Epsilon / 2
		advice.FlipProbability = current.FlipProbability * 2
		reasons = append(reasons, fmt.Sprintf("event pattern concentration %.2f", metrics.EventPatternRisk))
	}

	advice.Rationale = strings.Join(reasons, "; ")
	return advice, nil
}

// SynthesizeEvent shapes a flagged synthetic event without external
// knowledge; it always succeeds.
func (h Heuristic) SynthesizeEvent(ctx context.Context, eventType string, before time.Time, reason string) (core.Event, bool) {
	date := before.AddDate(0, 0, -30)
	return core.Event{
		ID:   fmt.Sprintf("synthetic_%s_%s", eventType, date.Format("20060102")),
		Date: date,
		Type: eventType,
		Details: map[string]interface{}{
			core.DetailSynthetic: true,
			core.DetailReason:    reason,
		},
	}, true
}
