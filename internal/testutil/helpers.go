// Package testutil provides shared test helpers and record builders.
package testutil

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/AmirrezaAsadi/PersonaTwinFactory/internal/core"
)

// ErrTest is a generic test error.
var ErrTest = errors.New("test error")

// TempFile creates a temporary file with content.
func TempFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing temp file: %v", err)
	}
	return path
}

// AssertNoError fails if err is not nil.
func AssertNoError(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// AssertEqual fails if got != want.
func AssertEqual[T comparable](t *testing.T, got, want T) {
	t.Helper()
	if got != want {
		t.Fatalf("got %v, want %v", got, want)
	}
}

// Date builds a UTC midnight timestamp.
func Date(y, m, d int) time.Time {
	return time.Date(y, time.Month(m), d, 0, 0, 0, 0, time.UTC)
}

// Individual builds a minimal individual record.
func Individual(id string, age int, gender, ethnicity, geography string, events ...core.Event) core.Individual {
	return core.Individual{
		ID: id,
		Demographics: core.Demographics{
			Age:        age,
			Gender:     gender,
			Ethnicity:  ethnicity,
			Geography:  core.ParseGeoPath(geography),
			Confidence: 1.0,
		},
		Events: events,
	}
}

// Event builds an event record.
func Event(id, eventType, outcome string, date time.Time) core.Event {
	return core.Event{
		ID:      id,
		Type:    eventType,
		Outcome: outcome,
		Date:    date,
	}
}

// EventAt builds an event record carrying a location.
func EventAt(id, eventType, outcome string, date time.Time, location string) core.Event {
	e := Event(id, eventType, outcome, date)
	e.Location = core.ParseGeoPath(location)
	return e
}

// Population builds n individuals sharing one demographic bucket, ages
// spread across [baseAge, baseAge+spread].
func Population(n, baseAge, spread int, gender, ethnicity, geography string) []core.Individual {
	out := make([]core.Individual, n)
	for i := 0; i < n; i++ {
		age := baseAge
		if spread > 0 {
			age += i % (spread + 1)
		}
		out[i] = Individual(fmt.Sprintf("p%03d", i), age, gender, ethnicity, geography)
	}
	return out
}
