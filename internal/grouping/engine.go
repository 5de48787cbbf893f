// Package grouping partitions individuals into hard-constraint-compatible
// buckets and clusters bucket members into bounded k-anonymity groups.
package grouping

import (
	"sort"

	"github.com/AmirrezaAsadi/PersonaTwinFactory/internal/core"
)

// Engine clusters individuals into persona groups. Given identical input
// and parameters the output is bit-identical regardless of caller ordering:
// the engine sorts everything it touches.
type Engine struct {
	params core.ProtectionParams
}

// New creates a grouping engine for one parameter set.
func New(params core.ProtectionParams) *Engine {
	return &Engine{params: params}
}

// Residual is a bucket remainder that could not reach the minimum group
// size even after the repair pass. The caller decides policy; the engine
// never silently claims the configured k.
type Residual struct {
	BucketKey string
	Members   []core.Individual
	Err       *core.DomainError
}

// Result holds the groups and any unsafe residuals.
type Result struct {
	Groups    []core.PersonaGroup
	Residuals []Residual
}

// Group partitions individuals into persona groups of size
// [MinGroupSize, MaxGroupSize]. It fails with an InsufficientData error when
// the whole population is below the minimum group size.
func (e *Engine) Group(individuals []core.Individual) (*Result, error) {
	if len(individuals) < e.params.MinGroupSize {
		return nil, core.ErrInsufficientData(len(individuals), e.params.MinGroupSize)
	}

	buckets := e.bucket(individuals)

	keys := make([]string, 0, len(buckets))
	for k := range buckets {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	result := &Result{}
	for _, key := range keys {
		groups, residual := e.clusterBucket(key, buckets[key])
		result.Groups = append(result.Groups, groups...)
		if residual != nil {
			result.Residuals = append(result.Residuals, *residual)
		}
	}
	return result, nil
}

// bucket partitions by the hard-constraint key: gender, ethnicity, and
// geography at the configured hierarchy level. Input is read-only; members
// are copied before sorting.
func (e *Engine) bucket(individuals []core.Individual) map[string][]core.Individual {
	buckets := make(map[string][]core.Individual)
	for _, ind := range individuals {
		key := ind.Demographics.BucketKey(e.params.GeoBucketLevel)
		buckets[key] = append(buckets[key], ind)
	}
	return buckets
}

// clusterBucket greedily clusters one bucket's members in ascending
// (age, ID) order: each individual joins the most recently opened group
// while the group stays below MaxGroupSize and its age span within
// tolerance, otherwise a new group opens. A post-pass merges undersized
// groups into the compatible group yielding the smallest resulting age
// span; a remainder that cannot merge anywhere becomes the bucket residual.
func (e *Engine) clusterBucket(key string, members []core.Individual) ([]core.PersonaGroup, *Residual) {
	sorted := append([]core.Individual(nil), members...)
	core.SortIndividuals(sorted)

	var groups []core.PersonaGroup
	for _, ind := range sorted {
		if n := len(groups); n > 0 {
			open := &groups[n-1]
			if open.Size() < e.params.MaxGroupSize && e.spanAfterAdd(*open, ind) <= e.params.AgeTolerance {
				open.Members = append(open.Members, ind)
				continue
			}
		}
		groups = append(groups, core.PersonaGroup{BucketKey: key, Members: []core.Individual{ind}})
	}

	groups, leftover := e.repairUndersized(groups)
	if len(leftover) == 0 {
		return groups, nil
	}
	return groups, &Residual{
		BucketKey: key,
		Members:   leftover,
		Err:       core.ErrDemographicMergeImpossible(key, len(leftover), e.params.MinGroupSize),
	}
}

func (e *Engine) spanAfterAdd(g core.PersonaGroup, ind core.Individual) int {
	min, max := ind.Demographics.Age, ind.Demographics.Age
	for _, m := range g.Members {
		if a := m.Demographics.Age; a < min {
			min = a
		} else if a > max {
			max = a
		}
	}
	return max - min
}

// repairUndersized repeatedly folds groups below MinGroupSize into the
// compatible group with the smallest resulting age span, deterministic
// tie-break by group index. Members that cannot be placed anywhere are
// returned as the leftover.
func (e *Engine) repairUndersized(groups []core.PersonaGroup) ([]core.PersonaGroup, []core.Individual) {
	var leftover []core.Individual
	for {
		idx := -1
		for i, g := range groups {
			if g.Size() < e.params.MinGroupSize {
				idx = i
				break
			}
		}
		if idx == -1 {
			core.SortIndividuals(leftover)
			return groups, leftover
		}

		small := groups[idx]
		rest := make([]core.PersonaGroup, 0, len(groups)-1)
		rest = append(rest, groups[:idx]...)
		rest = append(rest, groups[idx+1:]...)

		if target := e.bestMergeTarget(rest, small); target != -1 {
			rest[target].Members = append(rest[target].Members, small.Members...)
			core.SortIndividuals(rest[target].Members)
		} else {
			leftover = append(leftover, small.Members...)
		}
		groups = rest
	}
}

// bestMergeTarget picks the group whose merge with small yields the
// smallest age span, among those that stay within MaxGroupSize and age
// tolerance. Returns -1 when no group qualifies.
func (e *Engine) bestMergeTarget(groups []core.PersonaGroup, small core.PersonaGroup) int {
	best := -1
	bestSpan := 0
	for i, g := range groups {
		if g.Size()+small.Size() > e.params.MaxGroupSize {
			continue
		}
		span := mergedSpan(g, small)
		if span > e.params.AgeTolerance {
			continue
		}
		if best == -1 || span < bestSpan {
			best = i
			bestSpan = span
		}
	}
	return best
}

func mergedSpan(a, b core.PersonaGroup) int {
	min, max := a.Members[0].Demographics.Age, a.Members[0].Demographics.Age
	for _, g := range []core.PersonaGroup{a, b} {
		for _, m := range g.Members {
			if v := m.Demographics.Age; v < min {
				min = v
			} else if v > max {
				max = v
			}
		}
	}
	return max - min
}
