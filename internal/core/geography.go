package core

import "strings"

// GeoLevel names a step of the geographic hierarchy, from most specific to
// broadest.
type GeoLevel int

const (
	GeoAddress GeoLevel = iota
	GeoCity
	GeoCounty
	GeoState
	GeoCountry
)

// String returns the level name used in configuration and rule files.
func (l GeoLevel) String() string {
	switch l {
	case GeoAddress:
		return "address"
	case GeoCity:
		return "city"
	case GeoCounty:
		return "county"
	case GeoState:
		return "state"
	case GeoCountry:
		return "country"
	default:
		return "unknown"
	}
}

// ParseGeoLevel converts a level name to a GeoLevel.
func ParseGeoLevel(s string) (GeoLevel, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "address":
		return GeoAddress, true
	case "city":
		return GeoCity, true
	case "county":
		return GeoCounty, true
	case "state":
		return GeoState, true
	case "country":
		return GeoCountry, true
	default:
		return GeoAddress, false
	}
}

// GeoPath is a hierarchical location, ordered most specific to broadest,
// e.g. ["123 Main St", "Springfield", "Greene County", "MO"]. Components
// beyond the address anchor at GeoCity, GeoCounty, and so on; a path may be
// shorter than the full hierarchy, in which case its first component sits at
// a broader level.
type GeoPath []string

// ParseGeoPath splits a comma-separated location string into a path.
func ParseGeoPath(s string) GeoPath {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	path := make(GeoPath, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			path = append(path, t)
		}
	}
	return path
}

// String renders the path back to its comma-separated form.
func (g GeoPath) String() string {
	return strings.Join(g, ", ")
}

// AtLevel returns the ancestor path with specificity reduced to the given
// level, assuming the broadest component of a full path is GeoCountry. Paths
// shorter than the full hierarchy are treated as already generalized: their
// last component is the broadest known ancestor.
func (g GeoPath) AtLevel(level GeoLevel) GeoPath {
	if len(g) == 0 {
		return nil
	}
	// The first component of a path of length n sits at level (country - n + 1),
	// clamped to address. Drop components more specific than the target.
	first := int(GeoCountry) - len(g) + 1
	if first < int(GeoAddress) {
		first = int(GeoAddress)
	}
	drop := int(level) - first
	if drop <= 0 {
		return g
	}
	if drop >= len(g) {
		return g[len(g)-1:]
	}
	return g[drop:]
}

// CommonAncestor returns the most specific path shared by both locations:
// their longest common suffix. Returns nil when they share nothing.
func (g GeoPath) CommonAncestor(other GeoPath) GeoPath {
	i, j := len(g), len(other)
	n := 0
	for i-n > 0 && j-n > 0 && strings.EqualFold(g[i-n-1], other[j-n-1]) {
		n++
	}
	if n == 0 {
		return nil
	}
	return g[i-n:]
}

// Equal reports whether two paths are component-wise equal, ignoring case.
func (g GeoPath) Equal(other GeoPath) bool {
	if len(g) != len(other) {
		return false
	}
	for i := range g {
		if !strings.EqualFold(g[i], other[i]) {
			return false
		}
	}
	return true
}

// Clone returns an independent copy of the path.
func (g GeoPath) Clone() GeoPath {
	if g == nil {
		return nil
	}
	out := make(GeoPath, len(g))
	copy(out, g)
	return out
}
