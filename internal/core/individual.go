package core

import (
	"fmt"
	"sort"
)

// Demographics describes a person or persona. Raw individuals carry an exact
// age; personas carry the generalized range and a confidence scalar noting
// how much perturbation was applied (1.0 = untouched).
type Demographics struct {
	Age        int     `json:"age,omitempty"`
	AgeRange   string  `json:"age_range,omitempty"`
	Gender     string  `json:"gender,omitempty"`
	Ethnicity  string  `json:"ethnicity,omitempty"`
	Geography  GeoPath `json:"geography,omitempty"`
	Confidence float64 `json:"confidence_level"`
}

// AgeRangeFor buckets an exact age into a bin of the given size, e.g. 41
// with bin size 5 becomes "40-44".
func AgeRangeFor(age, binSize int) string {
	if binSize <= 0 {
		binSize = 5
	}
	lower := (age / binSize) * binSize
	return fmt.Sprintf("%d-%d", lower, lower+binSize-1)
}

// BucketKey is the generalized demographic key used for hard-constraint
// grouping and rarity estimation.
func (d Demographics) BucketKey(geoLevel GeoLevel) string {
	return fmt.Sprintf("%s|%s|%s", d.Gender, d.Ethnicity, d.Geography.AtLevel(geoLevel).String())
}

// Individual is a raw input record. Read-only to the pipeline; identifiers
// are discarded once grouping completes.
type Individual struct {
	ID           string       `json:"person_id"`
	Demographics Demographics `json:"demographics"`
	Events       []Event      `json:"events,omitempty"`
}

// SortIndividuals orders individuals by ascending age then ascending ID, the
// canonical order the grouping engine processes them in. Output determinism
// depends on this sort, not on caller input order.
func SortIndividuals(individuals []Individual) {
	sort.SliceStable(individuals, func(i, j int) bool {
		if individuals[i].Demographics.Age != individuals[j].Demographics.Age {
			return individuals[i].Demographics.Age < individuals[j].Demographics.Age
		}
		return individuals[i].ID < individuals[j].ID
	})
}

// PersonaGroup is a set of individuals assigned together for merging. Every
// member satisfies the hard-constraint predicate pairwise with every other
// member.
type PersonaGroup struct {
	BucketKey string
	Members   []Individual
}

// Size returns the number of members.
func (g PersonaGroup) Size() int { return len(g.Members) }

// AgeSpan returns the difference between the oldest and youngest member.
func (g PersonaGroup) AgeSpan() int {
	if len(g.Members) == 0 {
		return 0
	}
	min, max := g.Members[0].Demographics.Age, g.Members[0].Demographics.Age
	for _, m := range g.Members[1:] {
		if a := m.Demographics.Age; a < min {
			min = a
		} else if a > max {
			max = a
		}
	}
	return max - min
}
