// Package audit keeps a tamper-evident record of persona operations. Every
// entry carries a SHA-256 digest of the data it covers, so exported persona
// sets can be re-verified against the trail later.
package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/AmirrezaAsadi/PersonaTwinFactory/internal/core"
)

// Operations recorded on the trail.
const (
	OpGenerate = "generate"
	OpExport   = "export"
	OpVerify   = "verify"
)

// Entry is one audited operation on a persona or a run.
type Entry struct {
	ID        string                 `json:"entry_id"`
	Operation string                 `json:"operation"`
	RunID     string                 `json:"run_id"`
	PersonaID string                 `json:"persona_id,omitempty"`
	Actor     string                 `json:"actor"`
	Timestamp time.Time              `json:"timestamp"`
	DataHash  string                 `json:"data_hash,omitempty"`
	Details   map[string]interface{} `json:"details,omitempty"`
}

// Trail is an append-only audit log. Safe for concurrent use.
type Trail struct {
	mu      sync.RWMutex
	entries []Entry
	actor   string
	now     func() time.Time
}

// Option adjusts trail construction.
type Option func(*Trail)

// WithActor names the principal recorded on every entry. Defaults to
// "pipeline".
func WithActor(actor string) Option {
	return func(t *Trail) {
		if actor != "" {
			t.actor = actor
		}
	}
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(t *Trail) { t.now = now }
}

// New creates an empty trail.
func New(opts ...Option) *Trail {
	t := &Trail{
		actor: "pipeline",
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Hash returns the hex SHA-256 digest of v's canonical JSON encoding. Map
// keys are sorted by the encoder, so identical data always hashes the same.
func Hash(v interface{}) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encoding audit payload: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// Record appends an entry covering data. A nil data leaves DataHash empty;
// that is how run-level entries without a payload are recorded.
func (t *Trail) Record(operation, runID, personaID string, data interface{}, details map[string]interface{}) (Entry, error) {
	var hash string
	if data != nil {
		var err error
		if hash, err = Hash(data); err != nil {
			return Entry{}, err
		}
	}

	entry := Entry{
		ID:        uuid.NewString(),
		Operation: operation,
		RunID:     runID,
		PersonaID: personaID,
		Actor:     t.actor,
		Timestamp: t.now().UTC(),
		DataHash:  hash,
		Details:   details,
	}

	t.mu.Lock()
	t.entries = append(t.entries, entry)
	t.mu.Unlock()
	return entry, nil
}

// RecordPersonas appends one entry per persona under the given operation.
func (t *Trail) RecordPersonas(operation, runID string, personas []core.Persona) error {
	for _, p := range personas {
		if _, err := t.Record(operation, runID, p.ID, p, map[string]interface{}{
			"merged_from": p.MergedFrom,
			"events":      len(p.Events),
		}); err != nil {
			return err
		}
	}
	return nil
}

// Verify checks data against the most recent hashed entry for personaID.
// It returns false when the hashes differ and an error when the persona has
// no hashed entry at all.
func (t *Trail) Verify(personaID string, data interface{}) (bool, error) {
	hash, err := Hash(data)
	if err != nil {
		return false, err
	}

	t.mu.RLock()
	defer t.mu.RUnlock()
	for i := len(t.entries) - 1; i >= 0; i-- {
		e := t.entries[i]
		if e.PersonaID == personaID && e.DataHash != "" {
			return e.DataHash == hash, nil
		}
	}
	return false, core.ErrNotFound("audit entry", personaID)
}

// Entries returns entries for one persona, oldest first. An empty personaID
// returns the whole trail. The result is a copy.
func (t *Trail) Entries(personaID string) []Entry {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var out []Entry
	for _, e := range t.entries {
		if personaID == "" || e.PersonaID == personaID {
			out = append(out, e)
		}
	}
	return out
}

// Len reports how many entries the trail holds.
func (t *Trail) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}

// Export renders the trail as indented JSON, oldest entry first. Entries
// recorded at the same instant keep insertion order.
func (t *Trail) Export() ([]byte, error) {
	t.mu.RLock()
	entries := make([]Entry, len(t.entries))
	copy(entries, t.entries)
	t.mu.RUnlock()

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Timestamp.Before(entries[j].Timestamp)
	})

	data, err := json.MarshalIndent(struct {
		Entries []Entry `json:"entries"`
	}{Entries: entries}, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding audit trail: %w", err)
	}
	return append(data, '\n'), nil
}
