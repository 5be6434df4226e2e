package engine

import (
	"sort"
	"time"
)

// Platform identifies one downstream system the engine provisions.
type Platform string

const (
	PlatformAzure  Platform = "azure"
	PlatformGoogle Platform = "google"
	PlatformAWS    Platform = "aws"
	PlatformGitHub Platform = "github"
	PlatformSlack  Platform = "slack"
)

// DefaultPlatformPriority orders directory platforms before collaboration
// platforms. The planner emits lanes in this order.
var DefaultPlatformPriority = []Platform{
	PlatformAzure,
	PlatformGoogle,
	PlatformAWS,
	PlatformGitHub,
	PlatformSlack,
}

// IdentityAttributes holds the HR attributes that drive policy resolution.
type IdentityAttributes struct {
	// DisplayName is the person's full name.
	DisplayName string `json:"display_name" validate:"required"`

	// Email is the primary work email address.
	Email string `json:"email" validate:"required,email"`

	// Department is the current department (drives department access).
	Department string `json:"department" validate:"required"`

	// Title is the current job title.
	Title string `json:"title,omitempty"`

	// Manager is the identity key of the person's manager.
	Manager string `json:"manager,omitempty"`

	// ContractType distinguishes employees from contractors.
	// Contractor contract types replace department access during resolution.
	ContractType string `json:"contract_type,omitempty"`
}

// Identity is the canonical record of one person.
type Identity struct {
	// Key is the stable identity key (for example, the employee ID).
	Key string `json:"key" validate:"required"`

	// Status is the employment status.
	Status IdentityStatus `json:"status"`

	// Attributes are the HR attributes last applied to this identity.
	Attributes IdentityAttributes `json:"attributes"`

	// CreatedAt is when the identity was first seen.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt is when the identity record last changed.
	UpdatedAt time.Time `json:"updated_at"`
}

// Entitlement is one grantable unit of access on one platform.
type Entitlement struct {
	// Platform is the target platform.
	Platform Platform `json:"platform" validate:"required"`

	// Type is the platform-specific kind of access (group, role, license,
	// channel, repository).
	Type string `json:"type" validate:"required"`

	// Name is the platform-specific name of the access unit.
	Name string `json:"name" validate:"required"`
}

// Key returns a stable comparison key for set operations.
func (e Entitlement) Key() string {
	return string(e.Platform) + "/" + e.Type + "/" + e.Name
}

// EntitlementSet is a set of entitlements keyed by Entitlement.Key.
type EntitlementSet map[string]Entitlement

// NewEntitlementSet builds a set from a slice.
func NewEntitlementSet(entitlements ...Entitlement) EntitlementSet {
	s := make(EntitlementSet, len(entitlements))
	for _, e := range entitlements {
		s[e.Key()] = e
	}
	return s
}

// Add inserts an entitlement into the set.
func (s EntitlementSet) Add(e Entitlement) {
	s[e.Key()] = e
}

// Contains reports whether the entitlement is in the set.
func (s EntitlementSet) Contains(e Entitlement) bool {
	_, ok := s[e.Key()]
	return ok
}

// Diff returns the entitlements present in s but not in other.
func (s EntitlementSet) Diff(other EntitlementSet) []Entitlement {
	var out []Entitlement
	for k, e := range s {
		if _, ok := other[k]; !ok {
			out = append(out, e)
		}
	}
	sortEntitlements(out)
	return out
}

// ByPlatform returns the subset of entitlements targeting the given platform.
func (s EntitlementSet) ByPlatform(p Platform) []Entitlement {
	var out []Entitlement
	for _, e := range s {
		if e.Platform == p {
			out = append(out, e)
		}
	}
	sortEntitlements(out)
	return out
}

// Sorted returns the set as a deterministic slice.
func (s EntitlementSet) Sorted() []Entitlement {
	out := make([]Entitlement, 0, len(s))
	for _, e := range s {
		out = append(out, e)
	}
	sortEntitlements(out)
	return out
}

// Clone returns an independent copy of the set.
func (s EntitlementSet) Clone() EntitlementSet {
	out := make(EntitlementSet, len(s))
	for k, e := range s {
		out[k] = e
	}
	return out
}

func sortEntitlements(es []Entitlement) {
	sort.Slice(es, func(i, j int) bool { return es[i].Key() < es[j].Key() })
}

// TransitionRequest is the normalized lifecycle event submitted to the engine.
// Upstream HR feeds are normalized into this shape before submission.
type TransitionRequest struct {
	// IdentityKey is the stable identity key the transition applies to.
	IdentityKey string `json:"identity_key" validate:"required"`

	// Kind is the lifecycle transition: JOIN, MOVE, or LEAVE.
	Kind TransitionKind `json:"kind" validate:"required"`

	// Attributes are the identity attributes after the transition.
	// Required for JOIN and MOVE; ignored for LEAVE.
	Attributes IdentityAttributes `json:"attributes"`

	// PreviousDepartment is the department before a MOVE, when known.
	PreviousDepartment string `json:"previous_department,omitempty"`

	// PreviousTitle is the title before a MOVE, when known.
	PreviousTitle string `json:"previous_title,omitempty"`

	// EffectiveAt is when the transition takes effect.
	EffectiveAt time.Time `json:"effective_at"`

	// Source identifies the upstream system that produced the event.
	Source string `json:"source,omitempty"`
}

// AccountRef is the opaque platform-side account identifier returned by
// account provisioning and carried through subsequent steps.
type AccountRef struct {
	// Platform is the platform the account lives on.
	Platform Platform `json:"platform"`

	// ExternalID is the platform-assigned account identifier.
	ExternalID string `json:"external_id"`

	// Status is the account state on the platform.
	Status AccountStatus `json:"status"`
}

// PlatformState is the applied sub-state for one identity on one platform.
type PlatformState struct {
	// Account is the platform account, if one has been provisioned.
	Account AccountRef `json:"account"`

	// Applied is the set of entitlements confirmed applied on the platform.
	Applied EntitlementSet `json:"applied"`

	// UpdatedAt is when this sub-state last changed.
	UpdatedAt time.Time `json:"updated_at"`
}

// IdentityState is the engine's record of an identity and everything applied
// to it, per platform. It reflects confirmed outcomes only, never intent.
type IdentityState struct {
	Identity Identity `json:"identity"`

	// Platforms maps platform name to its applied sub-state.
	Platforms map[Platform]*PlatformState `json:"platforms"`
}

// PlatformStateFor returns the sub-state for a platform, creating an empty
// one if none exists yet.
func (s *IdentityState) PlatformStateFor(p Platform) *PlatformState {
	if s.Platforms == nil {
		s.Platforms = make(map[Platform]*PlatformState)
	}
	ps, ok := s.Platforms[p]
	if !ok {
		ps = &PlatformState{
			Account: AccountRef{Platform: p, Status: AccountStatusNone},
			Applied: make(EntitlementSet),
		}
		s.Platforms[p] = ps
	}
	return ps
}

// AppliedSet returns the union of applied entitlements across all platforms.
func (s *IdentityState) AppliedSet() EntitlementSet {
	out := make(EntitlementSet)
	for _, ps := range s.Platforms {
		for k, e := range ps.Applied {
			out[k] = e
		}
	}
	return out
}

// Step is one planned atomic action against one platform.
type Step struct {
	// ID uniquely identifies the step within its run.
	ID string `json:"id"`

	// RunID is the workflow run the step belongs to.
	RunID string `json:"run_id"`

	// IdentityKey is the identity the step acts on.
	IdentityKey string `json:"identity_key"`

	// Platform is the target platform.
	Platform Platform `json:"platform"`

	// Action is the atomic action to perform.
	Action ActionKind `json:"action"`

	// Entitlement is set for grant and revoke actions.
	Entitlement *Entitlement `json:"entitlement,omitempty"`

	// Attributes are the identity attributes for account actions.
	Attributes IdentityAttributes `json:"attributes,omitempty"`

	// DependsOnAccount marks steps that must be skipped when account
	// provisioning in the same lane fails.
	DependsOnAccount bool `json:"depends_on_account,omitempty"`

	// Status is the step's current status.
	Status StepStatus `json:"status"`
}

// Attempt records one executor attempt at a step.
type Attempt struct {
	// Number is the 1-based attempt number.
	Number int `json:"number"`

	// StartedAt is when the attempt began.
	StartedAt time.Time `json:"started_at"`

	// CompletedAt is when the attempt finished.
	CompletedAt time.Time `json:"completed_at"`

	// ErrorClass is the classification of the failure, empty on success.
	ErrorClass ErrorClass `json:"error_class,omitempty"`

	// Error is the failure message, empty on success.
	Error string `json:"error,omitempty"`
}

// StepOutcome is the terminal result of executing one step.
type StepOutcome struct {
	Step Step `json:"step"`

	// Status is the terminal step status.
	Status StepStatus `json:"status"`

	// Account is the account ref returned by account actions, if any.
	Account *AccountRef `json:"account,omitempty"`

	// Attempts are the executor attempts, in order.
	Attempts []Attempt `json:"attempts"`

	// Error is the final classified error for failed steps.
	Error *LifecycleError `json:"error,omitempty"`

	// ApplyError is set when the platform confirmed the step but the state
	// store could not record it. The applied state has diverged from the
	// platform and the run must not settle clean.
	ApplyError string `json:"apply_error,omitempty"`
}

// Lane is the ordered sequence of steps targeting one platform. Lanes run
// concurrently with each other; steps within a lane run in order.
type Lane struct {
	Platform Platform `json:"platform"`
	Steps    []Step   `json:"steps"`
}

// Plan is the diff between desired and applied state, expressed as ordered
// per-platform lanes.
type Plan struct {
	// RunID is the workflow run the plan belongs to.
	RunID string `json:"run_id"`

	// IdentityKey is the identity the plan acts on.
	IdentityKey string `json:"identity_key"`

	// Kind is the transition that produced the plan.
	Kind TransitionKind `json:"kind"`

	// Lanes are the per-platform step sequences, in priority order.
	Lanes []Lane `json:"lanes"`

	// CreatedAt is when the plan was computed.
	CreatedAt time.Time `json:"created_at"`
}

// StepCount returns the total number of planned steps.
func (p *Plan) StepCount() int {
	n := 0
	for _, l := range p.Lanes {
		n += len(l.Steps)
	}
	return n
}

// IsEmpty reports whether the plan contains no steps. An empty plan means
// desired and applied state already converge.
func (p *Plan) IsEmpty() bool {
	return p.StepCount() == 0
}

// RunSummary is the per-status step tally recorded at run finalization.
type RunSummary struct {
	Total     int `json:"total"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
}

// WorkflowRun is one execution of a lifecycle transition.
type WorkflowRun struct {
	// ID uniquely identifies the run.
	ID string `json:"id"`

	// Request is the transition request that started the run.
	Request TransitionRequest `json:"request"`

	// Status is the run's current status.
	Status RunStatus `json:"status"`

	// Plan is the computed diff plan, nil until planning completes.
	Plan *Plan `json:"plan,omitempty"`

	// Outcomes are the terminal step outcomes, populated during execution.
	Outcomes []StepOutcome `json:"outcomes,omitempty"`

	// Summary is the final step tally, populated at finalization.
	Summary *RunSummary `json:"summary,omitempty"`

	// Errors are the run-level error messages, including desired-vs-applied
	// divergence left by failed steps.
	Errors []string `json:"errors,omitempty"`

	// CompensatesRun is set on compensating runs to the ID of the partially
	// failed JOIN run they unwind.
	CompensatesRun string `json:"compensates_run,omitempty"`

	// StartedAt is when the run was accepted.
	StartedAt time.Time `json:"started_at"`

	// CompletedAt is when the run reached a terminal status.
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Summarize tallies step outcomes into a RunSummary.
func Summarize(outcomes []StepOutcome) RunSummary {
	s := RunSummary{Total: len(outcomes)}
	for _, o := range outcomes {
		switch o.Status {
		case StepStatusSucceeded:
			s.Succeeded++
		case StepStatusFailed:
			s.Failed++
		case StepStatusSkipped:
			s.Skipped++
		}
	}
	return s
}
