package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/AmirrezaAsadi/PersonaTwinFactory/internal/rules"
)

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "Inspect domain rule sets",
}

var rulesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List builtin rule domains",
	RunE: func(_ *cobra.Command, _ []string) error {
		for _, domain := range rules.Domains() {
			registry, err := rules.Get(domain)
			if err != nil {
				return err
			}
			fmt.Printf("%-18s %2d event types, %d outcomes\n",
				domain, registry.Len(), len(registry.Outcomes()))
		}
		return nil
	},
}

var rulesShowCmd = &cobra.Command{
	Use:   "show <domain>",
	Short: "Show the rule set for a domain",
	Long: `Show the sequencing constraints for a domain. User-defined rule files
can be inspected by passing a path instead of a builtin domain name.`,
	Args: cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		registry, err := resolveRegistry(args[0])
		if err != nil {
			return err
		}

		fmt.Printf("domain: %s\n", registry.Domain())
		fmt.Printf("outcomes: %s\n\n", strings.Join(registry.Outcomes(), ", "))

		for _, et := range registry.EventTypes() {
			rule, _ := registry.Rule(et)
			fmt.Println(et)
			if len(rule.MustFollow) > 0 {
				fmt.Printf("  must follow:   %s\n", strings.Join(rule.MustFollow, ", "))
			}
			if len(rule.CannotFollow) > 0 {
				fmt.Printf("  cannot follow: %s\n", strings.Join(rule.CannotFollow, ", "))
			}
			if rule.MaxOccurrences > 0 {
				fmt.Printf("  max occurrences: %d\n", rule.MaxOccurrences)
			}
			if rule.RequiresClosure {
				fmt.Printf("  requires closure: %s\n", rule.ClosureEventType)
			}
		}
		return nil
	},
}

// resolveRegistry treats the argument as a builtin domain first, then as a
// rules file path.
func resolveRegistry(arg string) (*rules.Registry, error) {
	if rules.Known(arg) {
		return rules.Get(arg)
	}
	registry, err := rules.LoadFile(arg)
	if err != nil {
		return nil, fmt.Errorf("%q is neither a builtin domain (%s) nor a readable rules file: %w",
			arg, strings.Join(rules.Domains(), ", "), err)
	}
	return registry, nil
}

func init() {
	rootCmd.AddCommand(rulesCmd)
	rulesCmd.AddCommand(rulesListCmd)
	rulesCmd.AddCommand(rulesShowCmd)
}
