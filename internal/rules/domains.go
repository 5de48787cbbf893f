package rules

import (
	"fmt"
	"sort"

	"github.com/AmirrezaAsadi/PersonaTwinFactory/internal/core"
)

// Builtin domain names.
const (
	DomainCriminalJustice = "criminal_justice"
	DomainHealthcare      = "healthcare"
	DomainEducation       = "education"
	DomainSocialServices  = "social_services"
	DomainEmployment      = "employment"
)

// Get returns the validated builtin registry for a domain. Builtin rule sets
// are constructed on every call; registries are cheap and immutability is
// easier to reason about than shared singletons.
func Get(domain string) (*Registry, error) {
	spec, ok := builtinDomains[domain]
	if !ok {
		return nil, core.ErrInvalidDomainRule(fmt.Sprintf("unknown domain %q", domain))
	}
	return New(domain, spec.rules, spec.outcomes)
}

// Known reports whether a builtin rule set exists for the domain.
func Known(domain string) bool {
	_, ok := builtinDomains[domain]
	return ok
}

// Domains lists the builtin domain names in sorted order.
func Domains() []string {
	names := make([]string, 0, len(builtinDomains))
	for name := range builtinDomains {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

type domainSpec struct {
	rules    []Rule
	outcomes []string
}

var builtinDomains = map[string]domainSpec{
	DomainCriminalJustice: {
		rules: []Rule{
			{EventType: "arrest"},
			{EventType: "charge", MustFollow: []string{"arrest"}},
			{EventType: "trial", MustFollow: []string{"charge"}},
			{EventType: "sentencing", MustFollow: []string{"trial"}},
			{EventType: "incarceration", MustFollow: []string{"sentencing"}, RequiresClosure: true, ClosureEventType: "release"},
			{EventType: "release", MustFollow: []string{"incarceration"}},
			{EventType: "probation", MustFollow: []string{"sentencing"}},
			{EventType: "appeal", MustFollow: []string{"sentencing"}},
		},
		outcomes: []string{
			"guilty", "not_guilty", "dismissed", "plea_bargain", "convicted",
			"acquitted", "pending", "completed", "violated", "granted",
			"denied", "reduced", "enhanced",
		},
	},
	DomainHealthcare: {
		rules: []Rule{
			{EventType: "admission", RequiresClosure: true, ClosureEventType: "discharge"},
			{EventType: "discharge", MustFollow: []string{"admission"}},
			{EventType: "diagnosis"},
			{EventType: "treatment", MustFollow: []string{"diagnosis"}},
			{EventType: "surgery", MustFollow: []string{"admission"}},
			{EventType: "medication", MustFollow: []string{"diagnosis"}},
			{EventType: "follow_up", MustFollow: []string{"discharge"}},
		},
		outcomes: []string{
			"recovered", "improved", "stable", "declined", "deceased",
			"transferred", "discharged", "readmitted", "completed",
			"ongoing", "cancelled",
		},
	},
	DomainEducation: {
		rules: []Rule{
			{EventType: "enrollment"},
			{EventType: "assessment", MustFollow: []string{"enrollment"}},
			{EventType: "grade", MustFollow: []string{"enrollment"}},
			{EventType: "promotion", MustFollow: []string{"grade"}},
			{EventType: "graduation", MustFollow: []string{"enrollment"}},
			{EventType: "suspension", MustFollow: []string{"enrollment"}},
		},
		outcomes: []string{
			"passed", "failed", "graduated", "promoted", "retained",
			"withdrawn", "completed", "in_progress", "excused",
			"unexcused", "awarded",
		},
	},
	// Social services and employment carry outcome vocabularies but no
	// sequencing constraints in the source rule sets.
	DomainSocialServices: {
		outcomes: []string{
			"approved", "denied", "pending", "completed", "ongoing",
			"closed", "successful", "unsuccessful", "compliant",
			"non_compliant", "appealed", "overturned",
		},
	},
	DomainEmployment: {
		outcomes: []string{
			"successful", "unsuccessful", "completed", "ongoing",
			"approved", "denied", "voluntary", "involuntary",
			"promoted", "terminated",
		},
	},
}
