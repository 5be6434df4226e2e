package connectors

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Raoof128/ILAE/pkg/engine"
)

func attrs() engine.IdentityAttributes {
	return engine.IdentityAttributes{
		DisplayName: "Test Person",
		Email:       "test@example.com",
		Department:  "engineering",
	}
}

func TestEnsureAccountIsIdempotent(t *testing.T) {
	ctx := context.Background()
	mock := NewMock(engine.PlatformGitHub)

	first, err := mock.EnsureAccount(ctx, "EMP001", attrs())
	require.NoError(t, err)
	require.NotNil(t, first.Account)
	assert.False(t, first.Noop)
	assert.Equal(t, engine.AccountStatusActive, first.Account.Status)

	second, err := mock.EnsureAccount(ctx, "EMP001", attrs())
	require.NoError(t, err)
	assert.True(t, second.Noop)
	assert.Equal(t, first.Account.ExternalID, second.Account.ExternalID)
}

func TestGrantAndRevokeNoopSemantics(t *testing.T) {
	ctx := context.Background()
	mock := NewMock(engine.PlatformGitHub)
	ent := engine.Entitlement{Platform: engine.PlatformGitHub, Type: "team", Name: "eng"}

	// Revoking access the platform does not hold succeeds as a noop.
	result, err := mock.Revoke(ctx, "EMP001", ent)
	require.NoError(t, err)
	assert.True(t, result.Noop)

	_, err = mock.EnsureAccount(ctx, "EMP001", attrs())
	require.NoError(t, err)

	result, err = mock.Grant(ctx, "EMP001", ent)
	require.NoError(t, err)
	assert.False(t, result.Noop)

	result, err = mock.Grant(ctx, "EMP001", ent)
	require.NoError(t, err)
	assert.True(t, result.Noop)
	assert.Len(t, mock.Grants("EMP001"), 1)

	result, err = mock.Revoke(ctx, "EMP001", ent)
	require.NoError(t, err)
	assert.False(t, result.Noop)
	assert.Empty(t, mock.Grants("EMP001"))
}

func TestGrantWithoutAccountIsInvalid(t *testing.T) {
	ctx := context.Background()
	mock := NewMock(engine.PlatformSlack)
	ent := engine.Entitlement{Platform: engine.PlatformSlack, Type: "channel", Name: "general"}

	_, err := mock.Grant(ctx, "EMP001", ent)
	require.Error(t, err)
	assert.True(t, engine.IsPermanent(err))
}

func TestFailNextIsConsumedPerCall(t *testing.T) {
	ctx := context.Background()
	mock := NewMock(engine.PlatformGitHub)

	mock.FailNext(engine.ActionEnsureAccount, "EMP001", TimeoutError(nil))

	_, err := mock.EnsureAccount(ctx, "EMP001", attrs())
	require.Error(t, err)
	assert.True(t, engine.IsTransient(err))

	// The queue is drained; the retry succeeds.
	_, err = mock.EnsureAccount(ctx, "EMP001", attrs())
	require.NoError(t, err)

	// Failures are scoped to one identity.
	mock.FailNext(engine.ActionGrant, "EMP001", RateLimitError(nil))
	_, err = mock.EnsureAccount(ctx, "EMP002", attrs())
	require.NoError(t, err)
	ent := engine.Entitlement{Platform: engine.PlatformGitHub, Type: "team", Name: "eng"}
	_, err = mock.Grant(ctx, "EMP002", ent)
	require.NoError(t, err)
}

func TestSuspendAndRemoveLifecycle(t *testing.T) {
	ctx := context.Background()
	mock := NewMock(engine.PlatformAzure)
	ent := engine.Entitlement{Platform: engine.PlatformAzure, Type: "group", Name: "all-staff"}

	_, err := mock.EnsureAccount(ctx, "EMP001", attrs())
	require.NoError(t, err)
	_, err = mock.Grant(ctx, "EMP001", ent)
	require.NoError(t, err)

	result, err := mock.SuspendAccount(ctx, "EMP001")
	require.NoError(t, err)
	assert.False(t, result.Noop)
	assert.Equal(t, engine.AccountStatusSuspended, mock.AccountStatus("EMP001"))

	result, err = mock.SuspendAccount(ctx, "EMP001")
	require.NoError(t, err)
	assert.True(t, result.Noop)

	_, err = mock.RemoveAccount(ctx, "EMP001")
	require.NoError(t, err)
	assert.Equal(t, engine.AccountStatusRemoved, mock.AccountStatus("EMP001"))
	assert.Empty(t, mock.Grants("EMP001"))

	// A removed account can be provisioned again from scratch.
	result, err = mock.EnsureAccount(ctx, "EMP001", attrs())
	require.NoError(t, err)
	assert.Equal(t, engine.AccountStatusActive, result.Account.Status)
}

func TestCallsAreRecordedInOrder(t *testing.T) {
	ctx := context.Background()
	mock := NewMock(engine.PlatformGitHub)

	_, _ = mock.EnsureAccount(ctx, "EMP001", attrs())
	_, _ = mock.SuspendAccount(ctx, "EMP001")

	calls := mock.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, "ensure_account EMP001", calls[0])
	assert.Equal(t, "suspend_account EMP001", calls[1])
}
