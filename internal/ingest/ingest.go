// Package ingest reads source individual records from JSON and CSV files and
// exports pipeline results. Input identifiers never leave this package's
// callers; exported files carry personas only.
package ingest

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/AmirrezaAsadi/PersonaTwinFactory/internal/core"
)

// Input date layouts, tried in order.
var dateLayouts = []string{time.RFC3339, "2006-01-02"}

// ReadIndividuals loads source records from path, dispatching on the file
// extension: .json (array of records), .ndjson (one record per line), or
// .csv (one row per event).
func ReadIndividuals(path string) ([]core.Individual, error) {
	data, err := readInput(path)
	if err != nil {
		return nil, core.ErrValidation("INPUT_UNREADABLE", fmt.Sprintf("reading %s: %v", path, err))
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return ParseJSON(data)
	case ".ndjson", ".jsonl":
		return ParseNDJSON(data)
	case ".csv":
		return ParseCSV(data)
	default:
		return nil, core.ErrValidation("INPUT_FORMAT", fmt.Sprintf("unsupported input format %q", filepath.Ext(path)))
	}
}

// readInput opens a root at the input file's directory before reading, so a
// crafted record path inside an input set cannot traverse out of it.
func readInput(path string) ([]byte, error) {
	cleaned := filepath.Clean(path)
	base := filepath.Base(cleaned)
	if base == "" || base == "." || base == string(filepath.Separator) {
		return nil, fmt.Errorf("invalid input path %q", path)
	}

	root, err := os.OpenRoot(filepath.Dir(cleaned))
	if err != nil {
		return nil, err
	}
	defer root.Close()

	f, err := root.Open(base)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

// ParseJSON decodes an array of individual records.
func ParseJSON(data []byte) ([]core.Individual, error) {
	var records []fileIndividual
	if err := json.Unmarshal(data, &records); err != nil {
		// Accept an {"individuals": [...]} envelope too.
		var envelope struct {
			Individuals []fileIndividual `json:"individuals"`
		}
		if envErr := json.Unmarshal(data, &envelope); envErr != nil || envelope.Individuals == nil {
			return nil, core.ErrValidation("INPUT_INVALID", fmt.Sprintf("decoding individuals: %v", err))
		}
		records = envelope.Individuals
	}
	return convert(records)
}

// ParseNDJSON decodes one individual record per non-empty line.
func ParseNDJSON(data []byte) ([]core.Individual, error) {
	var records []fileIndividual
	dec := json.NewDecoder(strings.NewReader(string(data)))
	for {
		var rec fileIndividual
		if err := dec.Decode(&rec); err == io.EOF {
			break
		} else if err != nil {
			return nil, core.ErrValidation("INPUT_INVALID", fmt.Sprintf("decoding record %d: %v", len(records)+1, err))
		}
		records = append(records, rec)
	}
	return convert(records)
}

// CSV columns. Demographic columns repeat on every row of the same person;
// event columns may be empty for event-less records.
var csvHeader = []string{
	"person_id", "age", "gender", "ethnicity", "geography",
	"event_id", "event_type", "event_date", "outcome", "event_location",
}

// ParseCSV decodes event-per-row records, grouping rows by person_id.
// Consecutive rows for the same person are folded into one record; the
// demographics of the first row win.
func ParseCSV(data []byte) ([]core.Individual, error) {
	r := csv.NewReader(strings.NewReader(string(data)))
	r.TrimLeadingSpace = true

	header, err := r.Read()
	if err != nil {
		return nil, core.ErrValidation("INPUT_INVALID", fmt.Sprintf("reading csv header: %v", err))
	}
	cols := make(map[string]int, len(header))
	for i, name := range header {
		cols[strings.ToLower(strings.TrimSpace(name))] = i
	}
	for _, required := range []string{"person_id", "age"} {
		if _, ok := cols[required]; !ok {
			return nil, core.ErrValidation("INPUT_INVALID", fmt.Sprintf("csv missing column %q", required))
		}
	}

	field := func(row []string, name string) string {
		i, ok := cols[name]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	var (
		out   []core.Individual
		index = map[string]int{}
		line  = 1
	)
	for {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return nil, core.ErrValidation("INPUT_INVALID", fmt.Sprintf("csv line %d: %v", line, err))
		}

		id := field(row, "person_id")
		if id == "" {
			return nil, core.ErrValidation("INPUT_INVALID", fmt.Sprintf("csv line %d: empty person_id", line))
		}

		pos, ok := index[id]
		if !ok {
			age, err := strconv.Atoi(field(row, "age"))
			if err != nil {
				return nil, core.ErrValidation("INPUT_INVALID", fmt.Sprintf("csv line %d: bad age %q", line, field(row, "age")))
			}
			out = append(out, core.Individual{
				ID: id,
				Demographics: core.Demographics{
					Age:        age,
					Gender:     field(row, "gender"),
					Ethnicity:  field(row, "ethnicity"),
					Geography:  core.ParseGeoPath(field(row, "geography")),
					Confidence: 1.0,
				},
			})
			pos = len(out) - 1
			index[id] = pos
		}

		if eventType := field(row, "event_type"); eventType != "" {
			date, err := parseDate(field(row, "event_date"))
			if err != nil {
				return nil, core.ErrValidation("INPUT_INVALID", fmt.Sprintf("csv line %d: %v", line, err))
			}
			out[pos].Events = append(out[pos].Events, core.Event{
				ID:       field(row, "event_id"),
				Type:     eventType,
				Date:     date,
				Outcome:  field(row, "outcome"),
				Location: core.ParseGeoPath(field(row, "event_location")),
			})
		}
	}

	return validate(out)
}

type fileIndividual struct {
	ID           string           `json:"person_id"`
	Demographics fileDemographics `json:"demographics"`
	Events       []fileEvent      `json:"events"`
}

type fileDemographics struct {
	Age       int      `json:"age"`
	Gender    string   `json:"gender"`
	Ethnicity string   `json:"ethnicity"`
	Geography geoField `json:"geography"`
}

type fileEvent struct {
	ID       string                 `json:"event_id"`
	Type     string                 `json:"event_type"`
	Date     string                 `json:"date"`
	Outcome  string                 `json:"outcome"`
	Location geoField               `json:"location"`
	Details  map[string]interface{} `json:"details"`
}

// geoField accepts either a comma-separated string or a JSON array of path
// components.
type geoField core.GeoPath

func (g *geoField) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*g = geoField(core.ParseGeoPath(s))
		return nil
	}
	var parts []string
	if err := json.Unmarshal(data, &parts); err != nil {
		return fmt.Errorf("geography must be a string or array of strings")
	}
	*g = geoField(parts)
	return nil
}

func convert(records []fileIndividual) ([]core.Individual, error) {
	out := make([]core.Individual, 0, len(records))
	for i, rec := range records {
		individual := core.Individual{
			ID: rec.ID,
			Demographics: core.Demographics{
				Age:        rec.Demographics.Age,
				Gender:     rec.Demographics.Gender,
				Ethnicity:  rec.Demographics.Ethnicity,
				Geography:  core.GeoPath(rec.Demographics.Geography),
				Confidence: 1.0,
			},
		}
		for j, ev := range rec.Events {
			date, err := parseDate(ev.Date)
			if err != nil {
				return nil, core.ErrValidation("INPUT_INVALID",
					fmt.Sprintf("record %d event %d: %v", i+1, j+1, err))
			}
			individual.Events = append(individual.Events, core.Event{
				ID:       ev.ID,
				Type:     ev.Type,
				Date:     date,
				Outcome:  ev.Outcome,
				Location: core.GeoPath(ev.Location),
				Details:  ev.Details,
			})
		}
		out = append(out, individual)
	}
	return validate(out)
}

func parseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, fmt.Errorf("missing event date")
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable date %q", s)
}

func validate(individuals []core.Individual) ([]core.Individual, error) {
	seen := make(map[string]bool, len(individuals))
	for i, ind := range individuals {
		if ind.ID == "" {
			return nil, core.ErrValidation("INPUT_INVALID", fmt.Sprintf("record %d: missing person_id", i+1))
		}
		if seen[ind.ID] {
			return nil, core.ErrValidation("INPUT_INVALID", fmt.Sprintf("duplicate person_id %q", ind.ID))
		}
		seen[ind.ID] = true
		if ind.Demographics.Age < 0 || ind.Demographics.Age > 130 {
			return nil, core.ErrValidation("INPUT_INVALID",
				fmt.Sprintf("record %q: implausible age %d", ind.ID, ind.Demographics.Age))
		}
		for _, ev := range ind.Events {
			if ev.Type == "" {
				return nil, core.ErrValidation("INPUT_INVALID",
					fmt.Sprintf("record %q: event with empty type", ind.ID))
			}
		}
	}
	return individuals, nil
}
