package engine

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
)

// DeprovisionMode controls how LEAVE handles platform accounts after access
// is revoked.
type DeprovisionMode string

const (
	// DeprovisionSuspend disables accounts but keeps them (default).
	DeprovisionSuspend DeprovisionMode = "suspend"

	// DeprovisionRemove suspends and then removes accounts.
	DeprovisionRemove DeprovisionMode = "remove"
)

// Validate checks if the deprovision mode is valid.
func (m DeprovisionMode) Validate() error {
	switch m {
	case DeprovisionSuspend, DeprovisionRemove:
		return nil
	default:
		return fmt.Errorf("invalid deprovision mode: %s", m)
	}
}

// PlannerConfig controls plan generation.
type PlannerConfig struct {
	// PlatformPriority orders the per-platform lanes. Platforms not listed
	// are appended in lexical order.
	PlatformPriority []Platform `validate:"min=1"`

	// DeprovisionMode controls account handling on LEAVE.
	DeprovisionMode DeprovisionMode `validate:"oneof=suspend remove"`
}

// DefaultPlannerConfig returns the default planner configuration.
func DefaultPlannerConfig() PlannerConfig {
	return PlannerConfig{
		PlatformPriority: DefaultPlatformPriority,
		DeprovisionMode:  DeprovisionSuspend,
	}
}

// Planner computes the diff between desired and applied state as an ordered
// set of per-platform lanes. Planning never talks to a platform.
type Planner struct {
	config PlannerConfig
}

// NewPlanner creates a planner with the given configuration.
func NewPlanner(cfg PlannerConfig) *Planner {
	if len(cfg.PlatformPriority) == 0 {
		cfg.PlatformPriority = DefaultPlatformPriority
	}
	if cfg.DeprovisionMode == "" {
		cfg.DeprovisionMode = DeprovisionSuspend
	}
	return &Planner{config: cfg}
}

// PlanTransition computes the plan for one transition. desired is the policy
// resolver's output for the post-transition identity; state is the applied
// state, which may be empty for a first JOIN.
func (p *Planner) PlanTransition(runID string, req TransitionRequest, state *IdentityState, desired EntitlementSet) (*Plan, error) {
	if err := req.Kind.Validate(); err != nil {
		return nil, NewPermanentError("cannot plan transition", err).
			WithIdentity(req.IdentityKey).WithCode(ErrCodeValidation)
	}

	plan := &Plan{
		RunID:       runID,
		IdentityKey: req.IdentityKey,
		Kind:        req.Kind,
		CreatedAt:   time.Now().UTC(),
	}

	for _, platform := range p.lanePlatforms(state, desired) {
		var steps []Step
		switch req.Kind {
		case TransitionJoin, TransitionMove:
			steps = p.provisionLane(runID, req, state, desired, platform)
		case TransitionLeave:
			steps = p.deprovisionLane(runID, req, state, platform)
		}
		if len(steps) > 0 {
			plan.Lanes = append(plan.Lanes, Lane{Platform: platform, Steps: steps})
		}
	}

	return plan, nil
}

// lanePlatforms returns the union of platforms touched by applied state and
// desired entitlements, in priority order.
func (p *Planner) lanePlatforms(state *IdentityState, desired EntitlementSet) []Platform {
	seen := make(map[Platform]bool)
	for _, e := range desired {
		seen[e.Platform] = true
	}
	if state != nil {
		for platform, ps := range state.Platforms {
			if len(ps.Applied) > 0 || ps.Account.Status == AccountStatusActive || ps.Account.Status == AccountStatusSuspended {
				seen[platform] = true
			}
		}
	}

	var out []Platform
	for _, platform := range p.config.PlatformPriority {
		if seen[platform] {
			out = append(out, platform)
			delete(seen, platform)
		}
	}
	// Platforms outside the priority list still get lanes, after it.
	var rest []Platform
	for platform := range seen {
		rest = append(rest, platform)
	}
	sort.Slice(rest, func(i, j int) bool { return rest[i] < rest[j] })
	return append(out, rest...)
}

// provisionLane plans one JOIN/MOVE lane: settle the account first, then
// revoke stale access, then grant missing access. Grants depend on the
// account existing; revokes are always attempted.
func (p *Planner) provisionLane(runID string, req TransitionRequest, state *IdentityState, desired EntitlementSet, platform Platform) []Step {
	var (
		steps          []Step
		applied        = make(EntitlementSet)
		accountStatus  = AccountStatusNone
		wantsAccount   = len(desired.ByPlatform(platform)) > 0
		accountCreated = false
	)
	if state != nil {
		if ps, ok := state.Platforms[platform]; ok {
			applied = ps.Applied
			accountStatus = ps.Account.Status
		}
	}

	platformDesired := NewEntitlementSet(desired.ByPlatform(platform)...)

	switch {
	case wantsAccount && (accountStatus == AccountStatusNone || accountStatus == AccountStatusRemoved):
		steps = append(steps, p.newStep(runID, req, platform, ActionEnsureAccount, nil, false))
		accountCreated = true
	case req.Kind == TransitionMove && (accountStatus == AccountStatusActive || accountStatus == AccountStatusSuspended):
		// Attributes may have changed; the connector noops when they have not.
		steps = append(steps, p.newStep(runID, req, platform, ActionUpdateAccount, nil, false))
	}

	for _, ent := range NewEntitlementSet(applied.ByPlatform(platform)...).Diff(platformDesired) {
		e := ent
		steps = append(steps, p.newStep(runID, req, platform, ActionRevoke, &e, false))
	}
	for _, ent := range platformDesired.Diff(applied) {
		e := ent
		steps = append(steps, p.newStep(runID, req, platform, ActionGrant, &e, accountCreated))
	}

	return steps
}

// deprovisionLane plans one LEAVE lane: revoke everything applied, then
// suspend, then remove when configured. Every step is attempted regardless
// of earlier failures in the lane.
func (p *Planner) deprovisionLane(runID string, req TransitionRequest, state *IdentityState, platform Platform) []Step {
	var steps []Step
	accountStatus := AccountStatusNone
	if state != nil {
		if ps, ok := state.Platforms[platform]; ok {
			accountStatus = ps.Account.Status
			for _, ent := range ps.Applied.ByPlatform(platform) {
				e := ent
				steps = append(steps, p.newStep(runID, req, platform, ActionRevoke, &e, false))
			}
		}
	}

	if accountStatus == AccountStatusActive {
		steps = append(steps, p.newStep(runID, req, platform, ActionSuspendAccount, nil, false))
	}
	if p.config.DeprovisionMode == DeprovisionRemove &&
		(accountStatus == AccountStatusActive || accountStatus == AccountStatusSuspended) {
		steps = append(steps, p.newStep(runID, req, platform, ActionRemoveAccount, nil, false))
	}

	return steps
}

// PlanCompensation plans the unwind of a partially failed JOIN: one revoke
// for every grant that succeeded in the original run. It is a fresh plan for
// a fresh run; the original run is never resumed.
func (p *Planner) PlanCompensation(runID string, original *WorkflowRun) *Plan {
	plan := &Plan{
		RunID:       runID,
		IdentityKey: original.Request.IdentityKey,
		Kind:        TransitionLeave,
		CreatedAt:   time.Now().UTC(),
	}

	byPlatform := make(map[Platform][]Step)
	for _, outcome := range original.Outcomes {
		if outcome.Step.Action != ActionGrant || outcome.Status != StepStatusSucceeded {
			continue
		}
		ent := outcome.Step.Entitlement
		if ent == nil {
			continue
		}
		e := *ent
		step := p.newStep(runID, original.Request, outcome.Step.Platform, ActionRevoke, &e, false)
		byPlatform[outcome.Step.Platform] = append(byPlatform[outcome.Step.Platform], step)
	}

	for _, platform := range p.config.PlatformPriority {
		if steps, ok := byPlatform[platform]; ok {
			plan.Lanes = append(plan.Lanes, Lane{Platform: platform, Steps: steps})
			delete(byPlatform, platform)
		}
	}
	var rest []Platform
	for platform := range byPlatform {
		rest = append(rest, platform)
	}
	sort.Slice(rest, func(i, j int) bool { return rest[i] < rest[j] })
	for _, platform := range rest {
		plan.Lanes = append(plan.Lanes, Lane{Platform: platform, Steps: byPlatform[platform]})
	}

	return plan
}

func (p *Planner) newStep(runID string, req TransitionRequest, platform Platform, action ActionKind, ent *Entitlement, dependsOnAccount bool) Step {
	return Step{
		ID:               uuid.New().String(),
		RunID:            runID,
		IdentityKey:      req.IdentityKey,
		Platform:         platform,
		Action:           action,
		Entitlement:      ent,
		Attributes:       req.Attributes,
		DependsOnAccount: dependsOnAccount,
		Status:           StepStatusPending,
	}
}
