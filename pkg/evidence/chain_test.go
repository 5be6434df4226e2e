package evidence

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Raoof128/ILAE/pkg/engine"
	"github.com/Raoof128/ILAE/pkg/stores"
)

func stepInput(identityKey, runID string, action engine.ActionKind) engine.EvidenceInput {
	return engine.EvidenceInput{
		RunID:       runID,
		IdentityKey: identityKey,
		Kind:        engine.EvidenceKindStep,
		StepID:      "step-1",
		Platform:    engine.PlatformGitHub,
		Action:      action,
		Outcome:     engine.StepStatusSucceeded,
	}
}

func TestAppendChainsRecords(t *testing.T) {
	ctx := context.Background()
	chain := NewChain(stores.NewMemoryStore(), zerolog.Nop())

	first, err := chain.Append(ctx, stepInput("EMP001", "run-1", engine.ActionEnsureAccount))
	require.NoError(t, err)
	second, err := chain.Append(ctx, stepInput("EMP001", "run-1", engine.ActionGrant))
	require.NoError(t, err)

	assert.Equal(t, uint64(1), first.Sequence)
	assert.Equal(t, uint64(2), second.Sequence)
	assert.Empty(t, first.PrevHash)
	assert.Equal(t, first.Hash, second.PrevHash)
	assert.NotEmpty(t, second.Hash)
}

func TestChainsAreIndependentPerIdentity(t *testing.T) {
	ctx := context.Background()
	chain := NewChain(stores.NewMemoryStore(), zerolog.Nop())

	a, err := chain.Append(ctx, stepInput("EMP001", "run-1", engine.ActionGrant))
	require.NoError(t, err)
	b, err := chain.Append(ctx, stepInput("EMP002", "run-2", engine.ActionGrant))
	require.NoError(t, err)

	assert.Equal(t, uint64(1), a.Sequence)
	assert.Equal(t, uint64(1), b.Sequence)
	assert.Empty(t, b.PrevHash)
}

func TestVerifyAcceptsIntactChain(t *testing.T) {
	ctx := context.Background()
	chain := NewChain(stores.NewMemoryStore(), zerolog.Nop())

	for i := 0; i < 5; i++ {
		_, err := chain.Append(ctx, stepInput("EMP001", "run-1", engine.ActionGrant))
		require.NoError(t, err)
	}
	require.NoError(t, chain.Verify(ctx, "EMP001"))
}

func TestVerifyDetectsTamperedPayload(t *testing.T) {
	ctx := context.Background()
	store := stores.NewMemoryStore()
	chain := NewChain(store, zerolog.Nop())

	for i := 0; i < 3; i++ {
		_, err := chain.Append(ctx, stepInput("EMP001", "run-1", engine.ActionGrant))
		require.NoError(t, err)
	}

	require.NoError(t, store.TamperEvidence("EMP001", 2, func(r *engine.EvidenceRecord) {
		r.Outcome = engine.StepStatusFailed
	}))

	err := chain.Verify(ctx, "EMP001")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "record 2")
}

func TestVerifyDetectsBrokenLink(t *testing.T) {
	ctx := context.Background()
	store := stores.NewMemoryStore()
	chain := NewChain(store, zerolog.Nop())

	for i := 0; i < 3; i++ {
		_, err := chain.Append(ctx, stepInput("EMP001", "run-1", engine.ActionGrant))
		require.NoError(t, err)
	}

	require.NoError(t, store.TamperEvidence("EMP001", 3, func(r *engine.EvidenceRecord) {
		r.PrevHash = "0000"
	}))

	err := chain.Verify(ctx, "EMP001")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not link")
}

func TestHeadRecoveredAfterRestart(t *testing.T) {
	ctx := context.Background()
	store := stores.NewMemoryStore()

	chain := NewChain(store, zerolog.Nop())
	head, err := chain.Append(ctx, stepInput("EMP001", "run-1", engine.ActionGrant))
	require.NoError(t, err)

	// A fresh chain over the same store must continue, not restart.
	restarted := NewChain(store, zerolog.Nop())
	next, err := restarted.Append(ctx, stepInput("EMP001", "run-2", engine.ActionRevoke))
	require.NoError(t, err)

	assert.Equal(t, uint64(2), next.Sequence)
	assert.Equal(t, head.Hash, next.PrevHash)
	require.NoError(t, restarted.Verify(ctx, "EMP001"))
}

func TestReportSummarizesCorpus(t *testing.T) {
	ctx := context.Background()
	chain := NewChain(stores.NewMemoryStore(), zerolog.Nop())

	_, err := chain.Append(ctx, stepInput("EMP001", "run-1", engine.ActionGrant))
	require.NoError(t, err)

	failed := stepInput("EMP002", "run-2", engine.ActionGrant)
	failed.Outcome = engine.StepStatusFailed
	_, err = chain.Append(ctx, failed)
	require.NoError(t, err)

	summary := engine.RunSummary{Total: 1, Succeeded: 1}
	_, err = chain.Append(ctx, engine.EvidenceInput{
		RunID:       "run-1",
		IdentityKey: "EMP001",
		Kind:        engine.EvidenceKindRunSummary,
		Summary:     &summary,
		Detail:      map[string]string{"status": "completed"},
	})
	require.NoError(t, err)

	report, err := chain.Report(ctx)
	require.NoError(t, err)

	assert.Equal(t, 2, report.Identities)
	assert.Equal(t, 3, report.TotalRecords)
	assert.Equal(t, 1, report.Steps.Succeeded)
	assert.Equal(t, 1, report.Steps.Failed)
	assert.Equal(t, 1, report.Runs["completed"])
	assert.Empty(t, report.BrokenChains)
}
