package policy

import (
	"sync/atomic"

	"github.com/Raoof128/ILAE/pkg/engine"
)

// Resolver implements engine.Resolver over an atomically swappable rule
// snapshot. Resolution is pure: no I/O, no clock, no mutation of the rules.
type Resolver struct {
	rules atomic.Pointer[RuleSet]
}

// NewResolver creates a resolver with the given rule set.
func NewResolver(rules *RuleSet) (*Resolver, error) {
	r := &Resolver{}
	if err := r.Swap(rules); err != nil {
		return nil, err
	}
	return r, nil
}

// Swap atomically replaces the rule snapshot. In-flight resolutions keep the
// snapshot they started with.
func (r *Resolver) Swap(rules *RuleSet) error {
	if err := rules.Validate(); err != nil {
		return engine.NewPolicyError("rule set rejected", err)
	}
	r.rules.Store(rules)
	return nil
}

// Rules returns the current snapshot.
func (r *Resolver) Rules() *RuleSet {
	return r.rules.Load()
}

// Resolve returns the desired entitlement set for an identity.
//
// Precedence, highest first: a per-identity override replaces everything; a
// contractor contract type replaces department access; otherwise the set is
// the union of defaults and department access. An unknown department gets
// defaults only. A terminated identity resolves to the empty set.
func (r *Resolver) Resolve(identity engine.Identity) (engine.EntitlementSet, error) {
	rules := r.rules.Load()
	if rules == nil {
		return nil, engine.NewPolicyError("no rule set loaded", nil)
	}

	if identity.Status == engine.IdentityStatusTerminated {
		return make(engine.EntitlementSet), nil
	}

	if override, ok := rules.Overrides[identity.Key]; ok {
		return toSet(override), nil
	}

	desired := toSet(rules.Defaults)

	if contract, ok := rules.Contractors[identity.Attributes.ContractType]; ok {
		for _, rule := range contract {
			desired.Add(rule.toEntitlement())
		}
		return desired, nil
	}

	if dept, ok := rules.Departments[identity.Attributes.Department]; ok {
		for _, rule := range dept {
			desired.Add(rule.toEntitlement())
		}
	}
	return desired, nil
}

func toSet(rules []EntitlementRule) engine.EntitlementSet {
	out := make(engine.EntitlementSet, len(rules))
	for _, rule := range rules {
		out.Add(rule.toEntitlement())
	}
	return out
}
