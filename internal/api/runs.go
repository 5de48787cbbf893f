package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/AmirrezaAsadi/PersonaTwinFactory/internal/core"
	"github.com/AmirrezaAsadi/PersonaTwinFactory/internal/ingest"
	"github.com/AmirrezaAsadi/PersonaTwinFactory/internal/pipeline"
	"github.com/AmirrezaAsadi/PersonaTwinFactory/internal/rules"
)

// createRunRequest starts a pipeline run. Params are optional; absent fields
// keep their defaults. Individuals use the same record format as file
// ingestion.
type createRunRequest struct {
	Domain      string          `json:"domain"`
	Seed        int64           `json:"seed"`
	Params      json.RawMessage `json:"params,omitempty"`
	Individuals json.RawMessage `json:"individuals"`
}

// runSummary is the list-view projection of a run: everything but the
// persona payload.
type runSummary struct {
	ID          string                `json:"run_id"`
	Domain      string                `json:"domain"`
	Status      core.RunStatus        `json:"status"`
	Seed        int64                 `json:"seed"`
	Params      core.ProtectionParams `json:"params"`
	Iterations  int                   `json:"iterations"`
	Personas    int                   `json:"personas"`
	Metrics     core.RiskMetrics      `json:"metrics"`
	Error       string                `json:"error,omitempty"`
	CreatedAt   time.Time             `json:"created_at"`
	CompletedAt *time.Time            `json:"completed_at,omitempty"`
}

func summarize(run *core.Run) runSummary {
	return runSummary{
		ID:          run.ID,
		Domain:      run.Domain,
		Status:      run.Status,
		Seed:        run.Seed,
		Params:      run.Params,
		Iterations:  run.Iterations,
		Personas:    len(run.Personas),
		Metrics:     run.Metrics,
		Error:       run.Error,
		CreatedAt:   run.CreatedAt,
		CompletedAt: run.CompletedAt,
	}
}

// handleCreateRun validates the request, persists a pending run, and starts
// the pipeline in the background. The response carries the run id to poll.
func (s *Server) handleCreateRun(w http.ResponseWriter, r *http.Request) {
	var req createRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}

	registry, err := rules.Get(req.Domain)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	params := core.DefaultParams()
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			respondError(w, http.StatusBadRequest, "invalid params: "+err.Error())
			return
		}
	}
	if err := params.Validate(); err != nil {
		respondDomainError(w, err)
		return
	}

	if len(req.Individuals) == 0 {
		respondError(w, http.StatusBadRequest, "individuals are required")
		return
	}
	individuals, err := ingest.ParseJSON(req.Individuals)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	run := &core.Run{
		ID:        uuid.NewString(),
		Domain:    req.Domain,
		Status:    core.RunStatusRunning,
		Seed:      req.Seed,
		Params:    params,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.SaveRun(r.Context(), run); err != nil {
		respondDomainError(w, err)
		return
	}

	go s.executeRun(registry, run, individuals)

	respondJSON(w, http.StatusAccepted, map[string]string{
		"run_id": run.ID,
		"status": string(run.Status),
	})
}

// executeRun drives one pipeline run to a terminal state and persists it.
// Detached from the request context: closing the HTTP connection does not
// abandon a run already accepted.
func (s *Server) executeRun(registry *rules.Registry, run *core.Run, individuals []core.Individual) {
	ctx := context.Background()

	if s.monitor != nil {
		s.monitor.RunStarted()
		defer s.monitor.RunFinished()
	}

	opts := []pipeline.Option{pipeline.WithRunID(run.ID)}
	if s.provider != nil {
		opts = append(opts, pipeline.WithProvider(s.provider))
	}
	if s.advisor != nil {
		opts = append(opts, pipeline.WithAdvisor(s.advisor))
	}
	if s.workers > 0 {
		opts = append(opts, pipeline.WithWorkers(s.workers))
	}
	if s.bus != nil {
		opts = append(opts, pipeline.WithEventBus(s.bus))
	}

	controller := pipeline.New(registry, opts...)
	result, err := controller.Run(ctx, individuals, run.Params, run.Seed)

	now := time.Now().UTC()
	run.CompletedAt = &now
	if err != nil {
		run.Status = core.RunStatusFailed
		run.Error = err.Error()
	} else {
		run.Status = result.Status
		run.Personas = result.Personas
		run.Metrics = result.Metrics
		run.Iterations = result.Iterations
		run.Params = result.Params
	}

	if saveErr := s.store.SaveRun(ctx, run); saveErr != nil {
		s.logger.Error("persisting run result", "run_id", run.ID, "error", saveErr)
	}
}

// handleListRuns returns run summaries, newest first. ?limit=N bounds the
// page size (default 50).
func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			respondError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = parsed
	}

	runs, err := s.store.ListRuns(r.Context(), limit)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	summaries := make([]runSummary, len(runs))
	for i, run := range runs {
		summaries[i] = summarize(run)
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"runs": summaries})
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.store.GetRun(r.Context(), chi.URLParam(r, "runID"))
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, summarize(run))
}

// handleGetRunPersonas returns the full persona payload of a terminal run.
func (s *Server) handleGetRunPersonas(w http.ResponseWriter, r *http.Request) {
	run, err := s.store.GetRun(r.Context(), chi.URLParam(r, "runID"))
	if err != nil {
		respondDomainError(w, err)
		return
	}
	if !run.Status.Terminal() {
		respondError(w, http.StatusConflict, "run has not finished")
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"run_id":   run.ID,
		"status":   run.Status,
		"personas": run.Personas,
		"metrics":  run.Metrics,
	})
}

// handleListDomains describes the builtin rule sets.
func (s *Server) handleListDomains(w http.ResponseWriter, _ *http.Request) {
	type domainInfo struct {
		Name       string   `json:"name"`
		EventTypes []string `json:"event_types"`
		Outcomes   []string `json:"outcomes"`
	}

	domains := make([]domainInfo, 0)
	for _, name := range rules.Domains() {
		registry, err := rules.Get(name)
		if err != nil {
			continue
		}
		domains = append(domains, domainInfo{
			Name:       name,
			EventTypes: registry.EventTypes(),
			Outcomes:   registry.Outcomes(),
		})
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"domains": domains})
}
