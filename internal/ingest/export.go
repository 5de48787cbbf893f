package ingest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/AmirrezaAsadi/PersonaTwinFactory/internal/audit"
	"github.com/AmirrezaAsadi/PersonaTwinFactory/internal/core"
)

// Export formats.
const (
	FormatJSON   = "json"
	FormatNDJSON = "ndjson"
)

// Exporter writes run results to disk. Files land atomically so a crashed
// export never leaves a truncated persona file behind.
type Exporter struct {
	dir    string
	format string
	trail  *audit.Trail
}

// ExporterOption adjusts exporter construction.
type ExporterOption func(*Exporter)

// WithAuditTrail records every exported persona on the trail and writes the
// trail alongside the run output.
func WithAuditTrail(trail *audit.Trail) ExporterOption {
	return func(e *Exporter) { e.trail = trail }
}

// NewExporter builds an exporter rooted at dir.
func NewExporter(dir, format string, opts ...ExporterOption) (*Exporter, error) {
	switch format {
	case FormatJSON, FormatNDJSON:
	default:
		return nil, core.ErrValidation("OUTPUT_FORMAT", fmt.Sprintf("unsupported output format %q", format))
	}
	e := &Exporter{dir: dir, format: format}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// WriteRun exports personas and metrics for one run. It returns the paths
// written: personas first, metrics second.
func (e *Exporter) WriteRun(run *core.Run) ([]string, error) {
	if err := os.MkdirAll(e.dir, 0o750); err != nil {
		return nil, fmt.Errorf("creating output dir: %w", err)
	}

	personasPath := filepath.Join(e.dir, fmt.Sprintf("personas_%s.%s", run.ID, e.ext()))
	personas, err := e.encodePersonas(run.Personas)
	if err != nil {
		return nil, err
	}
	if err := atomicWriteFile(personasPath, personas, 0o600); err != nil {
		return nil, fmt.Errorf("writing %s: %w", personasPath, err)
	}

	metricsPath := filepath.Join(e.dir, fmt.Sprintf("metrics_%s.json", run.ID))
	metrics, err := json.MarshalIndent(metricsReport{
		RunID:      run.ID,
		Domain:     run.Domain,
		Status:     run.Status,
		Iterations: run.Iterations,
		Params:     run.Params,
		Metrics:    run.Metrics,
	}, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding metrics: %w", err)
	}
	if err := atomicWriteFile(metricsPath, append(metrics, '\n'), 0o600); err != nil {
		return nil, fmt.Errorf("writing %s: %w", metricsPath, err)
	}

	paths := []string{personasPath, metricsPath}
	if e.trail != nil {
		auditPath, err := e.writeAudit(run)
		if err != nil {
			return nil, err
		}
		paths = append(paths, auditPath)
	}
	return paths, nil
}

// writeAudit records each exported persona and writes the full trail next to
// the run output. The trail file is the verification artifact: each entry's
// data_hash is the SHA-256 of the persona as exported.
func (e *Exporter) writeAudit(run *core.Run) (string, error) {
	if err := e.trail.RecordPersonas(audit.OpExport, run.ID, run.Personas); err != nil {
		return "", err
	}
	if _, err := e.trail.Record(audit.OpExport, run.ID, "", nil, map[string]interface{}{
		"personas": len(run.Personas),
		"format":   e.format,
		"status":   string(run.Status),
	}); err != nil {
		return "", err
	}

	data, err := e.trail.Export()
	if err != nil {
		return "", err
	}
	auditPath := filepath.Join(e.dir, fmt.Sprintf("audit_%s.json", run.ID))
	if err := atomicWriteFile(auditPath, data, 0o600); err != nil {
		return "", fmt.Errorf("writing %s: %w", auditPath, err)
	}
	return auditPath, nil
}

type metricsReport struct {
	RunID      string                `json:"run_id"`
	Domain     string                `json:"domain"`
	Status     core.RunStatus        `json:"status"`
	Iterations int                   `json:"iterations"`
	Params     core.ProtectionParams `json:"params"`
	Metrics    core.RiskMetrics      `json:"metrics"`
}

func (e *Exporter) ext() string {
	if e.format == FormatNDJSON {
		return "ndjson"
	}
	return "json"
}

func (e *Exporter) encodePersonas(personas []core.Persona) ([]byte, error) {
	if e.format == FormatNDJSON {
		var buf bytes.Buffer
		enc := json.NewEncoder(&buf)
		for _, p := range personas {
			if err := enc.Encode(p); err != nil {
				return nil, fmt.Errorf("encoding persona %s: %w", p.ID, err)
			}
		}
		return buf.Bytes(), nil
	}

	data, err := json.MarshalIndent(personas, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding personas: %w", err)
	}
	return append(data, '\n'), nil
}
