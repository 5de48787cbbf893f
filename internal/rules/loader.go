package rules

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/AmirrezaAsadi/PersonaTwinFactory/internal/core"
)

// ruleFile is the on-disk shape of a user-defined rule set.
type ruleFile struct {
	Domain            string   `yaml:"domain"`
	SyntheticLeadDays int      `yaml:"synthetic_lead_days,omitempty"`
	ClosureLagDays    int      `yaml:"closure_lag_days,omitempty"`
	Outcomes          []string `yaml:"outcomes,omitempty"`
	Rules             []Rule   `yaml:"rules"`
}

// LoadFile reads a user-defined rule set from a YAML file and validates it
// the same way builtin domains are validated.
func LoadFile(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, core.ErrInvalidDomainRule(fmt.Sprintf("reading rule file %s", path)).WithCause(err)
	}
	return Parse(data)
}

// Parse builds a registry from raw YAML rule-set content.
func Parse(data []byte) (*Registry, error) {
	var f ruleFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, core.ErrInvalidDomainRule("parsing rule file").WithCause(err)
	}
	if f.Domain == "" {
		return nil, core.ErrInvalidDomainRule("rule file names no domain")
	}

	var opts []Option
	if f.SyntheticLeadDays > 0 {
		opts = append(opts, WithSyntheticLead(time.Duration(f.SyntheticLeadDays)*24*time.Hour))
	}
	if f.ClosureLagDays > 0 {
		opts = append(opts, WithClosureLag(time.Duration(f.ClosureLagDays)*24*time.Hour))
	}
	return New(f.Domain, f.Rules, f.Outcomes, opts...)
}
