package state

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Raoof128/ILAE/pkg/engine"
	"github.com/Raoof128/ILAE/pkg/stores"
)

func succeeded(action engine.ActionKind, ent *engine.Entitlement) engine.StepOutcome {
	return engine.StepOutcome{
		Step: engine.Step{
			ID:          "step-1",
			RunID:       "run-1",
			IdentityKey: "EMP001",
			Platform:    engine.PlatformGitHub,
			Action:      action,
			Entitlement: ent,
		},
		Status: engine.StepStatusSucceeded,
	}
}

func TestGetUnknownIdentity(t *testing.T) {
	ctx := context.Background()
	manager := NewManager(stores.NewMemoryStore(), zerolog.Nop())

	state, found, err := manager.Get(ctx, "GHOST")
	require.NoError(t, err)
	assert.False(t, found)
	require.NotNil(t, state)
	assert.NotNil(t, state.Platforms)
}

func TestApplyFoldsAccountLifecycle(t *testing.T) {
	ctx := context.Background()
	manager := NewManager(stores.NewMemoryStore(), zerolog.Nop())

	require.NoError(t, manager.PutIdentity(ctx, engine.Identity{
		Key:       "EMP001",
		Status:    engine.IdentityStatusActive,
		CreatedAt: time.Now().UTC(),
	}))

	ensure := succeeded(engine.ActionEnsureAccount, nil)
	ensure.Account = &engine.AccountRef{
		Platform:   engine.PlatformGitHub,
		ExternalID: "gh-123",
		Status:     engine.AccountStatusActive,
	}
	require.NoError(t, manager.Apply(ctx, ensure))

	ent := engine.Entitlement{Platform: engine.PlatformGitHub, Type: "team", Name: "eng"}
	require.NoError(t, manager.Apply(ctx, succeeded(engine.ActionGrant, &ent)))

	state, found, err := manager.Get(ctx, "EMP001")
	require.NoError(t, err)
	require.True(t, found)
	ps := state.PlatformStateFor(engine.PlatformGitHub)
	require.NotNil(t, ps)
	assert.Equal(t, "gh-123", ps.Account.ExternalID)
	assert.Equal(t, engine.AccountStatusActive, ps.Account.Status)
	assert.True(t, ps.Applied.Contains(ent))

	require.NoError(t, manager.Apply(ctx, succeeded(engine.ActionRevoke, &ent)))
	require.NoError(t, manager.Apply(ctx, succeeded(engine.ActionSuspendAccount, nil)))

	state, _, err = manager.Get(ctx, "EMP001")
	require.NoError(t, err)
	ps = state.PlatformStateFor(engine.PlatformGitHub)
	assert.False(t, ps.Applied.Contains(ent))
	assert.Equal(t, engine.AccountStatusSuspended, ps.Account.Status)
}

func TestApplyRemoveClearsAppliedAccess(t *testing.T) {
	ctx := context.Background()
	manager := NewManager(stores.NewMemoryStore(), zerolog.Nop())

	ensure := succeeded(engine.ActionEnsureAccount, nil)
	require.NoError(t, manager.Apply(ctx, ensure))
	ent := engine.Entitlement{Platform: engine.PlatformGitHub, Type: "team", Name: "eng"}
	require.NoError(t, manager.Apply(ctx, succeeded(engine.ActionGrant, &ent)))

	require.NoError(t, manager.Apply(ctx, succeeded(engine.ActionRemoveAccount, nil)))

	state, _, err := manager.Get(ctx, "EMP001")
	require.NoError(t, err)
	ps := state.PlatformStateFor(engine.PlatformGitHub)
	require.NotNil(t, ps)
	assert.Equal(t, engine.AccountStatusRemoved, ps.Account.Status)
	assert.Empty(t, ps.Applied)
}

func TestApplyRejectsUnconfirmedOutcome(t *testing.T) {
	ctx := context.Background()
	manager := NewManager(stores.NewMemoryStore(), zerolog.Nop())

	outcome := succeeded(engine.ActionGrant, nil)
	outcome.Status = engine.StepStatusFailed

	err := manager.Apply(ctx, outcome)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot apply")
}
