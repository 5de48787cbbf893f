// Package census supplies demographic distributions for external-linkage
// estimation, from bundled national averages or operator-provided files.
package census

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/AmirrezaAsadi/PersonaTwinFactory/internal/core"
)

// USNationalFallback is the bundled approximate US national distribution
// used when no area-specific data is available.
func USNationalFallback() core.Distribution {
	return core.Distribution{
		Geography:       "United States",
		TotalPopulation: 330_000_000,
		AgeBuckets: map[string]float64{
			"0-17":  0.22,
			"18-24": 0.09,
			"25-34": 0.14,
			"35-44": 0.13,
			"45-54": 0.13,
			"55-64": 0.13,
			"65-74": 0.10,
			"75+":   0.06,
		},
		Gender: map[string]float64{
			"male":   0.49,
			"female": 0.51,
		},
		Ethnicity: map[string]float64{
			"white":    0.60,
			"black":    0.13,
			"hispanic": 0.19,
			"asian":    0.06,
			"other":    0.02,
		},
	}
}

// StaticProvider serves distributions from an in-memory table, falling back
// to national averages for unknown geographies. Safe for concurrent use.
type StaticProvider struct {
	mu       sync.RWMutex
	table    map[string]core.Distribution
	fallback core.Distribution
}

// NewStatic builds a provider preloaded with the given distributions.
func NewStatic(distributions ...core.Distribution) *StaticProvider {
	p := &StaticProvider{
		table:    make(map[string]core.Distribution),
		fallback: USNationalFallback(),
	}
	for _, d := range distributions {
		p.Add(d)
	}
	return p
}

// Add registers or replaces the distribution for a geography.
func (p *StaticProvider) Add(dist core.Distribution) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.table[normalize(dist.Geography)] = dist
}

// GetDistribution returns the area distribution, or the national fallback
// relabeled with the requested geography when none is registered.
func (p *StaticProvider) GetDistribution(ctx context.Context, geography string) (core.Distribution, error) {
	if err := ctx.Err(); err != nil {
		return core.Distribution{}, err
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if dist, ok := p.table[normalize(geography)]; ok {
		return dist, nil
	}

	fallback := p.fallback
	fallback.Geography = geography
	return fallback, nil
}

func normalize(geography string) string {
	return strings.ReplaceAll(strings.TrimSpace(strings.ToLower(geography)), " ", "_")
}

type fileDistribution struct {
	Geography       string             `yaml:"geography"`
	TotalPopulation int                `yaml:"total_population"`
	AgeBuckets      map[string]float64 `yaml:"age_buckets"`
	Gender          map[string]float64 `yaml:"gender"`
	Ethnicity       map[string]float64 `yaml:"ethnicity"`
}

type distributionFile struct {
	Distributions []fileDistribution `yaml:"distributions"`
}

// LoadFile builds a provider from a YAML distribution file.
func LoadFile(path string) (*StaticProvider, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, core.ErrValidation("CENSUS_FILE_UNREADABLE", err.Error())
	}
	return Parse(data)
}

// Parse builds a provider from YAML distribution data.
func Parse(data []byte) (*StaticProvider, error) {
	var file distributionFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, core.ErrValidation("CENSUS_FILE_INVALID", err.Error()).WithCause(err)
	}

	p := NewStatic()
	for i, fd := range file.Distributions {
		if fd.Geography == "" {
			return nil, core.ErrValidation("CENSUS_FILE_INVALID", fmt.Sprintf("distribution %d has no geography", i))
		}
		if fd.TotalPopulation <= 0 {
			return nil, core.ErrValidation("CENSUS_FILE_INVALID",
				fmt.Sprintf("distribution %q has non-positive population", fd.Geography))
		}
		for _, marginals := range []map[string]float64{fd.AgeBuckets, fd.Gender, fd.Ethnicity} {
			for k, v := range marginals {
				if v < 0 || v > 1 {
					return nil, core.ErrValidation("CENSUS_FILE_INVALID",
						fmt.Sprintf("distribution %q marginal %q out of [0, 1]", fd.Geography, k))
				}
			}
		}
		p.Add(core.Distribution{
			Geography:       fd.Geography,
			TotalPopulation: fd.TotalPopulation,
			AgeBuckets:      fd.AgeBuckets,
			Gender:          fd.Gender,
			Ethnicity:       fd.Ethnicity,
		})
	}
	return p, nil
}
