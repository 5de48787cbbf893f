package core

import (
	"sort"
	"strings"
	"time"
)

// Detail keys attached to representative and synthetic events.
const (
	DetailMergedCount = "_merged_count"
	DetailSynthetic   = "_synthetic"
	DetailReason      = "_reason"
)

// Event is a single timestamped occurrence in a timeline. Events read from
// source records are immutable; the pipeline only ever writes new
// representative events.
type Event struct {
	ID        string                 `json:"event_id,omitempty"`
	Date      time.Time              `json:"date"`
	Type      string                 `json:"event_type"`
	Outcome   string                 `json:"outcome,omitempty"`
	Location  GeoPath                `json:"location,omitempty"`
	Details   map[string]interface{} `json:"details,omitempty"`
}

// Synthetic reports whether the event was inserted by sequence repair rather
// than observed in any source record.
func (e Event) Synthetic() bool {
	v, ok := e.Details[DetailSynthetic]
	if !ok {
		return false
	}
	b, _ := v.(bool)
	return b
}

// MergedCount returns how many source events a representative event stands
// for. Events that were never merged count as 1.
func (e Event) MergedCount() int {
	if v, ok := e.Details[DetailMergedCount]; ok {
		switch n := v.(type) {
		case int:
			return n
		case float64:
			return int(n)
		}
	}
	return 1
}

// Clone returns a deep copy; mutating the copy's details or location never
// touches the original.
func (e Event) Clone() Event {
	out := e
	out.Location = e.Location.Clone()
	if e.Details != nil {
		out.Details = make(map[string]interface{}, len(e.Details))
		for k, v := range e.Details {
			out.Details[k] = v
		}
	}
	return out
}

// SortEventsChronologically orders events by date, breaking ties by event
// type then ID so repeated runs yield identical orderings.
func SortEventsChronologically(events []Event) {
	sort.SliceStable(events, func(i, j int) bool {
		if !events[i].Date.Equal(events[j].Date) {
			return events[i].Date.Before(events[j].Date)
		}
		if events[i].Type != events[j].Type {
			return events[i].Type < events[j].Type
		}
		return events[i].ID < events[j].ID
	})
}

// EventTypeSignature renders the ordered event-type sequence of a timeline,
// used for pattern-rarity scoring.
func EventTypeSignature(events []Event) string {
	types := make([]string, len(events))
	for i, e := range events {
		types[i] = e.Type
	}
	return strings.Join(types, ">")
}
