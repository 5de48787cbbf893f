package core

import (
	"context"
	"time"
)

// Distribution is the demographic profile of a geography as supplied by an
// external census-style collaborator.
type Distribution struct {
	Geography       string             `json:"geography"`
	TotalPopulation int                `json:"total_population"`
	AgeBuckets      map[string]float64 `json:"age_buckets"`
	Gender          map[string]float64 `json:"gender"`
	Ethnicity       map[string]float64 `json:"ethnicity"`
}

// DistributionProvider supplies population demographics for external-linkage
// estimation. Implementations must return a deterministic fallback for
// unknown geographies; the pipeline treats a missing provider as degraded
// but functional.
type DistributionProvider interface {
	GetDistribution(ctx context.Context, geography string) (Distribution, error)
}

// EscalationAdvice is a non-authoritative parameter suggestion from an
// advisory collaborator. The controller only ever moves parameters further
// along its own monotone ladder; advice can never weaken protection.
type EscalationAdvice struct {
	MinGroupSize        int      `json:"min_group_size,omitempty"`
	Epsilon             float64  `json:"epsilon,omitempty"`
	FlipProbability     float64  `json:"flip_probability,omitempty"`
	GeneralizationLevel GeoLevel `json:"generalization_level,omitempty"`
	Rationale           string   `json:"rationale,omitempty"`
}

// Advisor is the optional advisory port (e.g. LLM-backed). Convergence
// guarantees must hold with this port disabled.
type Advisor interface {
	RecommendEscalation(ctx context.Context, metrics RiskMetrics, current ProtectionParams) (EscalationAdvice, error)
	SynthesizeEvent(ctx context.Context, eventType string, before time.Time, reason string) (Event, bool)
}

// RunStatus is the terminal (or in-flight) state of a pipeline run.
type RunStatus string

const (
	RunStatusPending   RunStatus = "pending"
	RunStatusRunning   RunStatus = "running"
	RunStatusConverged RunStatus = "converged"
	RunStatusExhausted RunStatus = "exhausted"
	RunStatusFailed    RunStatus = "failed"
)

// Terminal reports whether the status is final.
func (s RunStatus) Terminal() bool {
	switch s {
	case RunStatusConverged, RunStatusExhausted, RunStatusFailed:
		return true
	}
	return false
}

// Run captures one full pipeline execution for persistence and the HTTP
// surface.
type Run struct {
	ID          string           `json:"run_id"`
	Domain      string           `json:"domain"`
	Status      RunStatus        `json:"status"`
	Seed        int64            `json:"seed"`
	Params      ProtectionParams `json:"params"`
	Iterations  int              `json:"iterations"`
	Personas    []Persona        `json:"personas,omitempty"`
	Metrics     RiskMetrics      `json:"metrics"`
	Error       string           `json:"error,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
	CompletedAt *time.Time       `json:"completed_at,omitempty"`
}

// RunStore persists pipeline runs.
type RunStore interface {
	SaveRun(ctx context.Context, run *Run) error
	GetRun(ctx context.Context, id string) (*Run, error)
	ListRuns(ctx context.Context, limit int) ([]*Run, error)
	Close() error
}
