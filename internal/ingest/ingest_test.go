package ingest

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/AmirrezaAsadi/PersonaTwinFactory/internal/core"
	"github.com/AmirrezaAsadi/PersonaTwinFactory/internal/testutil"
)

const sampleJSON = `[
  {
    "person_id": "p001",
    "demographics": {
      "age": 34,
      "gender": "F",
      "ethnicity": "asian",
      "geography": "clark county,IL,USA"
    },
    "events": [
      {
        "event_id": "e1",
        "event_type": "arrest",
        "date": "2020-03-15",
        "outcome": "charged",
        "location": ["clark county", "IL", "USA"]
      }
    ]
  },
  {
    "person_id": "p002",
    "demographics": {
      "age": 36,
      "gender": "F",
      "ethnicity": "asian",
      "geography": ["cook county", "IL", "USA"]
    }
  }
]`

func TestParseJSON(t *testing.T) {
	individuals, err := ParseJSON([]byte(sampleJSON))
	testutil.AssertNoError(t, err)

	if len(individuals) != 2 {
		t.Fatalf("got %d individuals, want 2", len(individuals))
	}

	first := individuals[0]
	testutil.AssertEqual(t, first.ID, "p001")
	testutil.AssertEqual(t, first.Demographics.Age, 34)
	testutil.AssertEqual(t, first.Demographics.Confidence, 1.0)
	if !first.Demographics.Geography.Equal(core.GeoPath{"clark county", "IL", "USA"}) {
		t.Errorf("geography = %v", first.Demographics.Geography)
	}
	if len(first.Events) != 1 {
		t.Fatalf("got %d events, want 1", len(first.Events))
	}
	ev := first.Events[0]
	testutil.AssertEqual(t, ev.Type, "arrest")
	testutil.AssertEqual(t, ev.Outcome, "charged")
	if !ev.Date.Equal(testutil.Date(2020, 3, 15)) {
		t.Errorf("date = %v", ev.Date)
	}
	if !ev.Location.Equal(core.GeoPath{"clark county", "IL", "USA"}) {
		t.Errorf("location = %v", ev.Location)
	}

	// Second record has no events and an array geography.
	if individuals[1].Events != nil {
		t.Errorf("expected no events, got %v", individuals[1].Events)
	}
}

func TestParseJSON_Envelope(t *testing.T) {
	data := `{"individuals": [{"person_id": "p1", "demographics": {"age": 20}}]}`
	individuals, err := ParseJSON([]byte(data))
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, len(individuals), 1)
	testutil.AssertEqual(t, individuals[0].ID, "p1")
}

func TestParseJSON_Invalid(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"not json", "nope"},
		{"missing person_id", `[{"demographics": {"age": 20}}]`},
		{"duplicate person_id", `[{"person_id": "p1", "demographics": {"age": 20}}, {"person_id": "p1", "demographics": {"age": 21}}]`},
		{"implausible age", `[{"person_id": "p1", "demographics": {"age": 200}}]`},
		{"bad date", `[{"person_id": "p1", "demographics": {"age": 20}, "events": [{"event_type": "arrest", "date": "soon"}]}]`},
		{"missing event type", `[{"person_id": "p1", "demographics": {"age": 20}, "events": [{"date": "2020-01-01"}]}]`},
		{"bad geography type", `[{"person_id": "p1", "demographics": {"age": 20, "geography": 42}}]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseJSON([]byte(tt.data)); err == nil {
				t.Fatal("expected an error")
			}
		})
	}
}

func TestParseNDJSON(t *testing.T) {
	data := `{"person_id": "p1", "demographics": {"age": 20}}
{"person_id": "p2", "demographics": {"age": 25}}
`
	individuals, err := ParseNDJSON([]byte(data))
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, len(individuals), 2)
	testutil.AssertEqual(t, individuals[1].ID, "p2")
}

func TestParseCSV(t *testing.T) {
	data := strings.Join([]string{
		"person_id,age,gender,ethnicity,geography,event_id,event_type,event_date,outcome,event_location",
		`p001,34,F,asian,"clark county,IL,USA",e1,arrest,2020-03-15,charged,"clark county,IL,USA"`,
		`p001,34,F,asian,"clark county,IL,USA",e2,charge,2020-04-01,pending,`,
		`p002,36,F,asian,"cook county,IL,USA",,,,,`,
	}, "\n")

	individuals, err := ParseCSV([]byte(data))
	testutil.AssertNoError(t, err)

	if len(individuals) != 2 {
		t.Fatalf("got %d individuals, want 2", len(individuals))
	}
	testutil.AssertEqual(t, len(individuals[0].Events), 2)
	testutil.AssertEqual(t, individuals[0].Events[1].Type, "charge")
	if individuals[0].Events[1].Location != nil {
		t.Errorf("empty location should stay nil, got %v", individuals[0].Events[1].Location)
	}
	testutil.AssertEqual(t, len(individuals[1].Events), 0)
	testutil.AssertEqual(t, individuals[1].Demographics.Age, 36)
}

func TestParseCSV_Invalid(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"missing required column", "age,gender\n20,F"},
		{"bad age", "person_id,age\np1,old"},
		{"empty person_id", "person_id,age\n,20"},
		{"bad event date", "person_id,age,event_type,event_date\np1,20,arrest,never"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseCSV([]byte(tt.data)); err == nil {
				t.Fatal("expected an error")
			}
		})
	}
}

func TestReadIndividuals(t *testing.T) {
	dir := t.TempDir()
	path := testutil.TempFile(t, dir, "input.json", sampleJSON)

	individuals, err := ReadIndividuals(path)
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, len(individuals), 2)
}

func TestReadIndividuals_UnsupportedFormat(t *testing.T) {
	dir := t.TempDir()
	path := testutil.TempFile(t, dir, "input.xml", "<individuals/>")

	_, err := ReadIndividuals(path)
	if !core.IsCode(err, "INPUT_FORMAT") {
		t.Fatalf("error = %v, want INPUT_FORMAT", err)
	}
}

func TestReadIndividuals_Missing(t *testing.T) {
	if _, err := ReadIndividuals("/nonexistent/input.json"); err == nil {
		t.Fatal("expected an error")
	}
}

func TestReadIndividuals_UnnormalizedPath(t *testing.T) {
	dir := t.TempDir()
	testutil.TempFile(t, dir, "cohort.json", sampleJSON)

	individuals, err := ReadIndividuals(filepath.Join(dir, ".", "cohort.json"))
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, len(individuals), 2)
}

func TestReadInput_RejectsDegeneratePaths(t *testing.T) {
	for _, p := range []string{"", ".", string(filepath.Separator)} {
		if _, err := readInput(p); err == nil {
			t.Fatalf("expected error for %q", p)
		}
	}
}

func TestReadInput_DirectoryAsPath(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "cohorts")
	if err := os.MkdirAll(sub, 0o750); err != nil {
		t.Fatal(err)
	}
	if _, err := readInput(sub); err == nil {
		t.Fatal("expected error when reading a directory")
	}
}

func TestReadInput_EmptyFile(t *testing.T) {
	dir := t.TempDir()
	p := testutil.TempFile(t, dir, "cohort.json", "")

	data, err := readInput(p)
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, len(data), 0)
}
