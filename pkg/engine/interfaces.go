package engine

import (
	"context"
	"time"
)

// Resolver computes the desired entitlement set for an identity from the
// loaded policy rules. Resolution is pure: the same identity attributes and
// the same rule snapshot always produce the same set.
type Resolver interface {
	// Resolve returns the desired entitlements for the identity given its
	// status and attributes. A terminated identity resolves to an empty set.
	// Returns a policy-class error only when the rule configuration itself
	// is unusable.
	Resolve(identity Identity) (EntitlementSet, error)
}

// StateStore persists identity state and serializes concurrent access to the
// same (identity, platform) sub-state.
type StateStore interface {
	// Get returns the state for an identity. Missing identities return a
	// state with an empty platform map and ok=false.
	Get(ctx context.Context, identityKey string) (*IdentityState, bool, error)

	// PutIdentity creates or updates the identity record.
	PutIdentity(ctx context.Context, identity Identity) error

	// Apply folds one successful step outcome into the identity's platform
	// sub-state. Calls for the same (identity, platform) are serialized.
	Apply(ctx context.Context, outcome StepOutcome) error

	// List returns all known identities.
	List(ctx context.Context) ([]Identity, error)
}

// EvidenceInput is the caller-supplied portion of an evidence record. The
// chain assigns sequence, timestamps, and hashes on append.
type EvidenceInput struct {
	// RunID is the workflow run the evidence belongs to.
	RunID string `json:"run_id"`

	// IdentityKey is the identity the evidence relates to.
	IdentityKey string `json:"identity_key"`

	// Kind distinguishes step evidence from run-summary evidence.
	Kind EvidenceKind `json:"kind"`

	// StepID is set for step evidence.
	StepID string `json:"step_id,omitempty"`

	// Platform is set for step evidence.
	Platform Platform `json:"platform,omitempty"`

	// Action is set for step evidence.
	Action ActionKind `json:"action,omitempty"`

	// Attempt is the attempt being recorded, for per-attempt records.
	Attempt *Attempt `json:"attempt,omitempty"`

	// Outcome is the terminal step status, set on final step records.
	Outcome StepStatus `json:"outcome,omitempty"`

	// Summary is set on run-summary records.
	Summary *RunSummary `json:"summary,omitempty"`

	// Detail is free-form context (entitlement acted on, error text).
	Detail map[string]string `json:"detail,omitempty"`
}

// EvidenceKind distinguishes the record types on the evidence chain.
type EvidenceKind string

const (
	// EvidenceKindAttempt records one executor attempt at a step.
	EvidenceKindAttempt EvidenceKind = "attempt"

	// EvidenceKindStep records a step reaching a terminal status.
	EvidenceKindStep EvidenceKind = "step"

	// EvidenceKindRunSummary records a run reaching a terminal status.
	EvidenceKindRunSummary EvidenceKind = "run_summary"
)

// EvidenceRecord is one immutable entry on an identity's evidence chain.
type EvidenceRecord struct {
	EvidenceInput

	// Sequence is the position on the identity's chain, starting at 1.
	Sequence uint64 `json:"sequence"`

	// RecordedAt is when the record was appended.
	RecordedAt time.Time `json:"recorded_at"`

	// PrevHash is the hash of the preceding record, empty for the first.
	PrevHash string `json:"prev_hash"`

	// Hash is the hash of this record's canonical payload chained onto
	// PrevHash.
	Hash string `json:"hash"`
}

// EvidenceChain is the hash-linked, append-only audit log. Appends for one
// identity are totally ordered.
type EvidenceChain interface {
	// Append durably records the input and returns the chained record.
	// The record is on the chain when Append returns nil.
	Append(ctx context.Context, input EvidenceInput) (*EvidenceRecord, error)

	// History returns an identity's chain in sequence order.
	History(ctx context.Context, identityKey string) ([]EvidenceRecord, error)

	// Verify recomputes the identity's chain from its first record and
	// reports the first divergence, if any.
	Verify(ctx context.Context, identityKey string) error
}

// ConnectorResult reports what a connector operation actually did.
type ConnectorResult struct {
	// Account is the platform account acted on, when applicable.
	Account *AccountRef `json:"account,omitempty"`

	// Noop is true when the platform was already in the requested state,
	// for example revoking an entitlement the platform no longer holds.
	Noop bool `json:"noop,omitempty"`
}

// Connector is the capability contract one platform adapter implements.
// Every method returns a classified error on failure; connectors own the
// mapping from platform responses to error classes, including treating
// not-found on revoke and remove as success.
type Connector interface {
	// Platform returns the platform this connector targets.
	Platform() Platform

	// EnsureAccount creates the account if it does not exist and returns
	// its ref. Existing accounts are returned, not recreated.
	EnsureAccount(ctx context.Context, identityKey string, attrs IdentityAttributes) (ConnectorResult, error)

	// UpdateAccount pushes changed identity attributes to the platform.
	UpdateAccount(ctx context.Context, identityKey string, attrs IdentityAttributes) (ConnectorResult, error)

	// Grant grants one entitlement.
	Grant(ctx context.Context, identityKey string, ent Entitlement) (ConnectorResult, error)

	// Revoke revokes one entitlement. Revoking access the platform does
	// not hold is a successful noop.
	Revoke(ctx context.Context, identityKey string, ent Entitlement) (ConnectorResult, error)

	// SuspendAccount disables the account.
	SuspendAccount(ctx context.Context, identityKey string) (ConnectorResult, error)

	// RemoveAccount removes the account. Removing an absent account is a
	// successful noop.
	RemoveAccount(ctx context.Context, identityKey string) (ConnectorResult, error)
}

// RunStore persists workflow runs for status queries and restart recovery.
type RunStore interface {
	// SaveRun creates or replaces a run record.
	SaveRun(ctx context.Context, run *WorkflowRun) error

	// GetRun returns a run by ID.
	GetRun(ctx context.Context, runID string) (*WorkflowRun, error)

	// ListRuns returns runs for an identity in start order, newest first.
	// An empty identity key returns all runs.
	ListRuns(ctx context.Context, identityKey string) ([]*WorkflowRun, error)
}

// ConnectorRegistry resolves connectors by platform. The registry is built
// at startup; an unknown platform at plan time fails the run before any step
// executes.
type ConnectorRegistry interface {
	// Get returns the connector for a platform.
	Get(platform Platform) (Connector, error)

	// Platforms returns the registered platforms in registration order.
	Platforms() []Platform
}
