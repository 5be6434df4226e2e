package engine

import (
	"encoding/json"
	"fmt"
)

// TransitionKind represents the lifecycle transition driving a workflow run.
type TransitionKind string

const (
	// TransitionJoin provisions a new identity (onboarding).
	TransitionJoin TransitionKind = "JOIN"

	// TransitionMove reconciles access after a role or department change.
	TransitionMove TransitionKind = "MOVE"

	// TransitionLeave deprovisions an identity (offboarding).
	TransitionLeave TransitionKind = "LEAVE"
)

// Validate checks if the transition kind is valid.
func (k TransitionKind) Validate() error {
	switch k {
	case TransitionJoin, TransitionMove, TransitionLeave:
		return nil
	default:
		return fmt.Errorf("invalid transition kind: %s", k)
	}
}

// RunStatus represents the overall status of a workflow run.
type RunStatus string

const (
	// RunStatusPending indicates the run is accepted but not yet started.
	RunStatusPending RunStatus = "pending"

	// RunStatusPlanning indicates the run is computing its diff plan.
	RunStatusPlanning RunStatus = "planning"

	// RunStatusExecuting indicates planned steps are being applied.
	RunStatusExecuting RunStatus = "executing"

	// RunStatusCompleted indicates every planned step succeeded.
	RunStatusCompleted RunStatus = "completed"

	// RunStatusCompletedWithErrors indicates the run settled with at least
	// one failed step; the remaining divergence is recorded, not hidden.
	RunStatusCompletedWithErrors RunStatus = "completed_with_errors"

	// RunStatusFailed indicates a pre-execution failure; no step was attempted.
	RunStatusFailed RunStatus = "failed"
)

// IsTerminal returns true if the run status represents a final state.
func (s RunStatus) IsTerminal() bool {
	return s == RunStatusCompleted || s == RunStatusCompletedWithErrors || s == RunStatusFailed
}

// IsActive returns true if the run is currently active.
func (s RunStatus) IsActive() bool {
	return s == RunStatusPending || s == RunStatusPlanning || s == RunStatusExecuting
}

// Validate checks if the run status is valid.
func (s RunStatus) Validate() error {
	switch s {
	case RunStatusPending, RunStatusPlanning, RunStatusExecuting,
		RunStatusCompleted, RunStatusCompletedWithErrors, RunStatusFailed:
		return nil
	default:
		return fmt.Errorf("invalid run status: %s", s)
	}
}

// MarshalJSON implements custom JSON marshaling for type-safe enum serialization.
func (s RunStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(s))
}

// UnmarshalJSON implements custom JSON unmarshaling with validation.
func (s *RunStatus) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	*s = RunStatus(str)
	return s.Validate()
}

// ActionKind represents one atomic action against one platform.
type ActionKind string

const (
	// ActionEnsureAccount creates the platform account if it does not exist.
	ActionEnsureAccount ActionKind = "ensure_account"

	// ActionUpdateAccount pushes changed identity attributes to the platform.
	ActionUpdateAccount ActionKind = "update_account"

	// ActionGrant grants one entitlement.
	ActionGrant ActionKind = "grant"

	// ActionRevoke revokes one entitlement.
	ActionRevoke ActionKind = "revoke"

	// ActionSuspendAccount disables the platform account.
	ActionSuspendAccount ActionKind = "suspend_account"

	// ActionRemoveAccount removes the platform account.
	ActionRemoveAccount ActionKind = "remove_account"
)

// IsDeprovisioning returns true for security-critical offboarding actions.
// These are always attempted, even after earlier failures in the same lane.
func (a ActionKind) IsDeprovisioning() bool {
	return a == ActionRevoke || a == ActionSuspendAccount || a == ActionRemoveAccount
}

// Validate checks if the action kind is valid.
func (a ActionKind) Validate() error {
	switch a {
	case ActionEnsureAccount, ActionUpdateAccount, ActionGrant,
		ActionRevoke, ActionSuspendAccount, ActionRemoveAccount:
		return nil
	default:
		return fmt.Errorf("invalid action kind: %s", a)
	}
}

// StepStatus represents the status of one planned step.
type StepStatus string

const (
	// StepStatusPending indicates the step is waiting to execute.
	StepStatusPending StepStatus = "pending"

	// StepStatusRunning indicates the step is currently executing.
	StepStatusRunning StepStatus = "running"

	// StepStatusSucceeded indicates the step completed and its evidence is durable.
	StepStatusSucceeded StepStatus = "succeeded"

	// StepStatusFailed indicates the step failed after exhausting retries.
	StepStatusFailed StepStatus = "failed"

	// StepStatusSkipped indicates the step was not attempted because a
	// prerequisite step in the same lane failed.
	StepStatusSkipped StepStatus = "skipped"
)

// IsTerminal returns true if the step status represents a final state.
func (s StepStatus) IsTerminal() bool {
	return s == StepStatusSucceeded || s == StepStatusFailed || s == StepStatusSkipped
}

// Validate checks if the step status is valid.
func (s StepStatus) Validate() error {
	switch s {
	case StepStatusPending, StepStatusRunning, StepStatusSucceeded,
		StepStatusFailed, StepStatusSkipped:
		return nil
	default:
		return fmt.Errorf("invalid step status: %s", s)
	}
}

// IdentityStatus represents the employment status of an identity.
type IdentityStatus string

const (
	// IdentityStatusActive indicates a current employee or contractor.
	IdentityStatusActive IdentityStatus = "active"

	// IdentityStatusSuspended indicates access is disabled but the identity
	// may return (for example, a leave of absence).
	IdentityStatusSuspended IdentityStatus = "suspended"

	// IdentityStatusTerminated is terminal; the identity record is retained
	// for audit but never provisioned again.
	IdentityStatusTerminated IdentityStatus = "terminated"
)

// IsTerminal returns true for statuses that end the identity lifecycle.
func (s IdentityStatus) IsTerminal() bool {
	return s == IdentityStatusTerminated
}

// Validate checks if the identity status is valid.
func (s IdentityStatus) Validate() error {
	switch s {
	case IdentityStatusActive, IdentityStatusSuspended, IdentityStatusTerminated:
		return nil
	default:
		return fmt.Errorf("invalid identity status: %s", s)
	}
}

// AccountStatus represents the state of one platform account.
type AccountStatus string

const (
	// AccountStatusNone indicates no account exists on the platform.
	AccountStatusNone AccountStatus = "none"

	// AccountStatusActive indicates the platform account is enabled.
	AccountStatusActive AccountStatus = "active"

	// AccountStatusSuspended indicates the platform account is disabled.
	AccountStatusSuspended AccountStatus = "suspended"

	// AccountStatusRemoved indicates the platform account was removed.
	AccountStatusRemoved AccountStatus = "removed"
)

// Validate checks if the account status is valid.
func (s AccountStatus) Validate() error {
	switch s {
	case AccountStatusNone, AccountStatusActive, AccountStatusSuspended, AccountStatusRemoved:
		return nil
	default:
		return fmt.Errorf("invalid account status: %s", s)
	}
}
