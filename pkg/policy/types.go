// Package policy implements the policy resolver: the pure mapping from
// identity attributes to the desired entitlement set. Rules are declarative
// YAML; precedence is override > contract type > department > default.
package policy

import (
	"fmt"

	"github.com/Raoof128/ILAE/pkg/engine"
)

// EntitlementRule is one entitlement as written in a rule file.
type EntitlementRule struct {
	Platform string `yaml:"platform" validate:"required"`
	Type     string `yaml:"type" validate:"required"`
	Name     string `yaml:"name" validate:"required"`
}

// toEntitlement converts a rule entry to the engine type.
func (r EntitlementRule) toEntitlement() engine.Entitlement {
	return engine.Entitlement{
		Platform: engine.Platform(r.Platform),
		Type:     r.Type,
		Name:     r.Name,
	}
}

// RuleSet is the full access matrix loaded from a rule file. A loaded
// RuleSet is immutable; reloads swap the whole snapshot.
type RuleSet struct {
	// Defaults are granted to every active identity.
	Defaults []EntitlementRule `yaml:"defaults"`

	// Departments maps department name to its additional entitlements.
	Departments map[string][]EntitlementRule `yaml:"departments"`

	// Contractors maps contract type to entitlements that replace
	// department access for identities with that contract type.
	Contractors map[string][]EntitlementRule `yaml:"contractors"`

	// Overrides maps identity key to an explicit entitlement set that
	// replaces everything else.
	Overrides map[string][]EntitlementRule `yaml:"overrides"`
}

// Validate checks the structural integrity of the rule set. A rule set with
// no default entitlements is unusable: every resolution depends on them.
func (rs *RuleSet) Validate() error {
	if len(rs.Defaults) == 0 {
		return fmt.Errorf("rule set has no default entitlements")
	}
	if err := validateRules("defaults", rs.Defaults); err != nil {
		return err
	}
	for dept, rules := range rs.Departments {
		if err := validateRules("departments."+dept, rules); err != nil {
			return err
		}
	}
	for contract, rules := range rs.Contractors {
		if err := validateRules("contractors."+contract, rules); err != nil {
			return err
		}
	}
	for key, rules := range rs.Overrides {
		if err := validateRules("overrides."+key, rules); err != nil {
			return err
		}
	}
	return nil
}

func validateRules(section string, rules []EntitlementRule) error {
	for i, r := range rules {
		if r.Platform == "" || r.Type == "" || r.Name == "" {
			return fmt.Errorf("%s[%d]: platform, type, and name are all required", section, i)
		}
	}
	return nil
}
