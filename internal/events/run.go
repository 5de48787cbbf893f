package events

// Event type constants for pipeline run events.
const (
	EventRunStarted         = "run_started"
	EventIterationCompleted = "iteration_completed"
	EventEscalationApplied  = "escalation_applied"
	EventBucketResidual     = "bucket_residual"
	EventRunCompleted       = "run_completed"
	EventRunFailed          = "run_failed"
)

// RunStartedEvent signals that a pipeline run began.
type RunStartedEvent struct {
	BaseEvent
	Domain      string `json:"domain"`
	Individuals int    `json:"individuals"`
	Seed        int64  `json:"seed"`
}

// NewRunStartedEvent creates a run started event.
func NewRunStartedEvent(runID, domain string, individuals int, seed int64) RunStartedEvent {
	return RunStartedEvent{
		BaseEvent:   NewBaseEvent(EventRunStarted, runID),
		Domain:      domain,
		Individuals: individuals,
		Seed:        seed,
	}
}

// IterationCompletedEvent reports the scored outcome of one controller
// iteration.
type IterationCompletedEvent struct {
	BaseEvent
	Iteration      int     `json:"iteration"`
	Personas       int     `json:"personas"`
	PopulationRisk float64 `json:"population_risk"`
	KAnonymity     int     `json:"k_anonymity"`
	Converged      bool    `json:"converged"`
}

// NewIterationCompletedEvent creates an iteration completed event.
func NewIterationCompletedEvent(runID string, iteration, personas int, populationRisk float64, kAnonymity int, converged bool) IterationCompletedEvent {
	return IterationCompletedEvent{
		BaseEvent:      NewBaseEvent(EventIterationCompleted, runID),
		Iteration:      iteration,
		Personas:       personas,
		PopulationRisk: populationRisk,
		KAnonymity:     kAnonymity,
		Converged:      converged,
	}
}

// EscalationAppliedEvent reports a parameter escalation between iterations.
type EscalationAppliedEvent struct {
	BaseEvent
	Iteration int    `json:"iteration"`
	Knob      string `json:"knob"`
	Detail    string `json:"detail"`
}

// NewEscalationAppliedEvent creates an escalation applied event.
func NewEscalationAppliedEvent(runID string, iteration int, knob, detail string) EscalationAppliedEvent {
	return EscalationAppliedEvent{
		BaseEvent: NewBaseEvent(EventEscalationApplied, runID),
		Iteration: iteration,
		Knob:      knob,
		Detail:    detail,
	}
}

// BucketResidualEvent reports a demographic bucket that could not reach the
// minimum group size and was withheld from output.
type BucketResidualEvent struct {
	BaseEvent
	Bucket  string `json:"bucket"`
	Members int    `json:"members"`
}

// NewBucketResidualEvent creates a bucket residual event.
func NewBucketResidualEvent(runID, bucket string, members int) BucketResidualEvent {
	return BucketResidualEvent{
		BaseEvent: NewBaseEvent(EventBucketResidual, runID),
		Bucket:    bucket,
		Members:   members,
	}
}

// RunCompletedEvent signals a terminal run outcome, converged or exhausted.
type RunCompletedEvent struct {
	BaseEvent
	Status         string  `json:"status"`
	Iterations     int     `json:"iterations"`
	Personas       int     `json:"personas"`
	PopulationRisk float64 `json:"population_risk"`
}

// NewRunCompletedEvent creates a run completed event.
func NewRunCompletedEvent(runID, status string, iterations, personas int, populationRisk float64) RunCompletedEvent {
	return RunCompletedEvent{
		BaseEvent:      NewBaseEvent(EventRunCompleted, runID),
		Status:         status,
		Iterations:     iterations,
		Personas:       personas,
		PopulationRisk: populationRisk,
	}
}

// RunFailedEvent signals a run aborted by a fatal error.
type RunFailedEvent struct {
	BaseEvent
	Error string `json:"error"`
}

// NewRunFailedEvent creates a run failed event.
func NewRunFailedEvent(runID, errMsg string) RunFailedEvent {
	return RunFailedEvent{
		BaseEvent: NewBaseEvent(EventRunFailed, runID),
		Error:     errMsg,
	}
}
