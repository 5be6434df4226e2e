package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func joinRequest(key string) TransitionRequest {
	return TransitionRequest{
		IdentityKey: key,
		Kind:        TransitionJoin,
		Attributes: IdentityAttributes{
			DisplayName: "Test Person",
			Email:       key + "@example.com",
			Department:  "engineering",
		},
	}
}

func emptyState(key string) *IdentityState {
	return &IdentityState{
		Identity:  Identity{Key: key, Status: IdentityStatusActive},
		Platforms: map[Platform]*PlatformState{},
	}
}

func laneFor(t *testing.T, plan *Plan, platform Platform) Lane {
	t.Helper()
	for _, lane := range plan.Lanes {
		if lane.Platform == platform {
			return lane
		}
	}
	t.Fatalf("no lane for platform %s", platform)
	return Lane{}
}

func TestPlanJoinCreatesAccountBeforeGrants(t *testing.T) {
	planner := NewPlanner(DefaultPlannerConfig())
	desired := NewEntitlementSet(
		Entitlement{Platform: PlatformGitHub, Type: "team", Name: "eng"},
		Entitlement{Platform: PlatformGitHub, Type: "repo", Name: "infra"},
	)

	plan, err := planner.PlanTransition("run-1", joinRequest("EMP001"), emptyState("EMP001"), desired)
	require.NoError(t, err)
	require.Len(t, plan.Lanes, 1)

	lane := laneFor(t, plan, PlatformGitHub)
	require.Len(t, lane.Steps, 3)
	assert.Equal(t, ActionEnsureAccount, lane.Steps[0].Action)
	assert.False(t, lane.Steps[0].DependsOnAccount)
	for _, step := range lane.Steps[1:] {
		assert.Equal(t, ActionGrant, step.Action)
		assert.True(t, step.DependsOnAccount)
	}
}

func TestPlanLanesFollowPlatformPriority(t *testing.T) {
	planner := NewPlanner(DefaultPlannerConfig())
	desired := NewEntitlementSet(
		Entitlement{Platform: PlatformSlack, Type: "channel", Name: "general"},
		Entitlement{Platform: PlatformAzure, Type: "group", Name: "all-staff"},
		Entitlement{Platform: PlatformGitHub, Type: "team", Name: "eng"},
	)

	plan, err := planner.PlanTransition("run-1", joinRequest("EMP001"), emptyState("EMP001"), desired)
	require.NoError(t, err)
	require.Len(t, plan.Lanes, 3)

	assert.Equal(t, PlatformAzure, plan.Lanes[0].Platform)
	assert.Equal(t, PlatformGitHub, plan.Lanes[1].Platform)
	assert.Equal(t, PlatformSlack, plan.Lanes[2].Platform)
}

func TestPlanMoveRevokesStaleAndGrantsMissing(t *testing.T) {
	planner := NewPlanner(DefaultPlannerConfig())

	state := emptyState("EMP001")
	state.Platforms[PlatformGitHub] = &PlatformState{
		Account: AccountRef{Platform: PlatformGitHub, ExternalID: "gh-1", Status: AccountStatusActive},
		Applied: NewEntitlementSet(
			Entitlement{Platform: PlatformGitHub, Type: "team", Name: "eng"},
		),
	}

	req := joinRequest("EMP001")
	req.Kind = TransitionMove
	req.Attributes.Department = "finance"
	desired := NewEntitlementSet(
		Entitlement{Platform: PlatformGitHub, Type: "team", Name: "finance"},
	)

	plan, err := planner.PlanTransition("run-1", req, state, desired)
	require.NoError(t, err)

	lane := laneFor(t, plan, PlatformGitHub)
	require.Len(t, lane.Steps, 3)
	assert.Equal(t, ActionUpdateAccount, lane.Steps[0].Action)
	assert.Equal(t, ActionRevoke, lane.Steps[1].Action)
	assert.Equal(t, "eng", lane.Steps[1].Entitlement.Name)
	assert.Equal(t, ActionGrant, lane.Steps[2].Action)
	assert.Equal(t, "finance", lane.Steps[2].Entitlement.Name)
	// The account already exists; a failing grant must not be skipped.
	assert.False(t, lane.Steps[2].DependsOnAccount)
}

func TestPlanConvergedMoveIsEmpty(t *testing.T) {
	planner := NewPlanner(DefaultPlannerConfig())

	applied := NewEntitlementSet(
		Entitlement{Platform: PlatformSlack, Type: "channel", Name: "general"},
	)
	state := emptyState("EMP001")
	state.Platforms[PlatformSlack] = &PlatformState{
		Account: AccountRef{Platform: PlatformSlack, ExternalID: "sl-1", Status: AccountStatusActive},
		Applied: applied,
	}

	req := joinRequest("EMP001")
	req.Kind = TransitionMove

	plan, err := planner.PlanTransition("run-1", req, state, applied.Clone())
	require.NoError(t, err)

	lane := laneFor(t, plan, PlatformSlack)
	// Only the attribute push remains; no grants, no revokes.
	require.Len(t, lane.Steps, 1)
	assert.Equal(t, ActionUpdateAccount, lane.Steps[0].Action)
}

func TestPlanLeaveRevokesBeforeSuspend(t *testing.T) {
	planner := NewPlanner(DefaultPlannerConfig())

	state := emptyState("EMP001")
	state.Platforms[PlatformGitHub] = &PlatformState{
		Account: AccountRef{Platform: PlatformGitHub, ExternalID: "gh-1", Status: AccountStatusActive},
		Applied: NewEntitlementSet(
			Entitlement{Platform: PlatformGitHub, Type: "team", Name: "eng"},
			Entitlement{Platform: PlatformGitHub, Type: "repo", Name: "infra"},
		),
	}

	req := TransitionRequest{IdentityKey: "EMP001", Kind: TransitionLeave}
	plan, err := planner.PlanTransition("run-1", req, state, make(EntitlementSet))
	require.NoError(t, err)

	lane := laneFor(t, plan, PlatformGitHub)
	require.Len(t, lane.Steps, 3)
	assert.Equal(t, ActionRevoke, lane.Steps[0].Action)
	assert.Equal(t, ActionRevoke, lane.Steps[1].Action)
	assert.Equal(t, ActionSuspendAccount, lane.Steps[2].Action)
}

func TestPlanLeaveRemoveModeSuspendsThenRemoves(t *testing.T) {
	cfg := DefaultPlannerConfig()
	cfg.DeprovisionMode = DeprovisionRemove
	planner := NewPlanner(cfg)

	state := emptyState("EMP001")
	state.Platforms[PlatformSlack] = &PlatformState{
		Account: AccountRef{Platform: PlatformSlack, ExternalID: "sl-1", Status: AccountStatusActive},
		Applied: make(EntitlementSet),
	}

	req := TransitionRequest{IdentityKey: "EMP001", Kind: TransitionLeave}
	plan, err := planner.PlanTransition("run-1", req, state, make(EntitlementSet))
	require.NoError(t, err)

	lane := laneFor(t, plan, PlatformSlack)
	require.Len(t, lane.Steps, 2)
	assert.Equal(t, ActionSuspendAccount, lane.Steps[0].Action)
	assert.Equal(t, ActionRemoveAccount, lane.Steps[1].Action)
}

func TestPlanCompensationRevokesSucceededGrantsOnly(t *testing.T) {
	planner := NewPlanner(DefaultPlannerConfig())

	grant := func(platform Platform, name string, status StepStatus) StepOutcome {
		ent := Entitlement{Platform: platform, Type: "group", Name: name}
		return StepOutcome{
			Step:   Step{Action: ActionGrant, Platform: platform, Entitlement: &ent},
			Status: status,
		}
	}

	original := &WorkflowRun{
		ID:      "run-1",
		Request: joinRequest("EMP001"),
		Outcomes: []StepOutcome{
			{Step: Step{Action: ActionEnsureAccount, Platform: PlatformAzure}, Status: StepStatusSucceeded},
			grant(PlatformAzure, "all-staff", StepStatusSucceeded),
			grant(PlatformGitHub, "eng", StepStatusFailed),
			grant(PlatformSlack, "general", StepStatusSucceeded),
		},
	}

	plan := planner.PlanCompensation("run-2", original)
	require.Len(t, plan.Lanes, 2)
	assert.Equal(t, TransitionLeave, plan.Kind)

	azure := laneFor(t, plan, PlatformAzure)
	require.Len(t, azure.Steps, 1)
	assert.Equal(t, ActionRevoke, azure.Steps[0].Action)
	assert.Equal(t, "all-staff", azure.Steps[0].Entitlement.Name)

	slack := laneFor(t, plan, PlatformSlack)
	require.Len(t, slack.Steps, 1)
	assert.Equal(t, "general", slack.Steps[0].Entitlement.Name)
}
