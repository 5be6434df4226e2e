package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeConnector scripts per-action error queues; each queued error is
// consumed by one call.
type fakeConnector struct {
	mu       sync.Mutex
	platform Platform
	errs     map[ActionKind][]error
	calls    map[ActionKind]int
}

func newFakeConnector(platform Platform) *fakeConnector {
	return &fakeConnector{
		platform: platform,
		errs:     make(map[ActionKind][]error),
		calls:    make(map[ActionKind]int),
	}
}

func (f *fakeConnector) failNext(action ActionKind, errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs[action] = append(f.errs[action], errs...)
}

func (f *fakeConnector) pop(action ActionKind) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[action]++
	if queue := f.errs[action]; len(queue) > 0 {
		err := queue[0]
		f.errs[action] = queue[1:]
		return err
	}
	return nil
}

func (f *fakeConnector) Platform() Platform { return f.platform }

func (f *fakeConnector) EnsureAccount(_ context.Context, identityKey string, _ IdentityAttributes) (ConnectorResult, error) {
	if err := f.pop(ActionEnsureAccount); err != nil {
		return ConnectorResult{}, err
	}
	return ConnectorResult{Account: &AccountRef{
		Platform: f.platform, ExternalID: "acct-" + identityKey, Status: AccountStatusActive,
	}}, nil
}

func (f *fakeConnector) UpdateAccount(context.Context, string, IdentityAttributes) (ConnectorResult, error) {
	return ConnectorResult{}, f.pop(ActionUpdateAccount)
}

func (f *fakeConnector) Grant(context.Context, string, Entitlement) (ConnectorResult, error) {
	return ConnectorResult{}, f.pop(ActionGrant)
}

func (f *fakeConnector) Revoke(context.Context, string, Entitlement) (ConnectorResult, error) {
	return ConnectorResult{}, f.pop(ActionRevoke)
}

func (f *fakeConnector) SuspendAccount(context.Context, string) (ConnectorResult, error) {
	return ConnectorResult{}, f.pop(ActionSuspendAccount)
}

func (f *fakeConnector) RemoveAccount(context.Context, string) (ConnectorResult, error) {
	return ConnectorResult{}, f.pop(ActionRemoveAccount)
}

type fakeRegistry struct {
	connectors map[Platform]Connector
}

func (r *fakeRegistry) Get(platform Platform) (Connector, error) {
	c, ok := r.connectors[platform]
	if !ok {
		return nil, NewPermanentError("no connector", nil).WithCode(ErrCodeNotFound)
	}
	return c, nil
}

func (r *fakeRegistry) Platforms() []Platform {
	out := make([]Platform, 0, len(r.connectors))
	for p := range r.connectors {
		out = append(out, p)
	}
	return out
}

// memChain is an in-memory EvidenceChain that can fail a number of appends.
type memChain struct {
	mu       sync.Mutex
	records  []EvidenceRecord
	failures int
}

func (c *memChain) Append(_ context.Context, input EvidenceInput) (*EvidenceRecord, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failures > 0 {
		c.failures--
		return nil, NewTransientError("evidence store unavailable", nil)
	}
	record := EvidenceRecord{
		EvidenceInput: input,
		Sequence:      uint64(len(c.records) + 1),
		RecordedAt:    time.Now().UTC(),
	}
	c.records = append(c.records, record)
	return &record, nil
}

func (c *memChain) History(_ context.Context, identityKey string) ([]EvidenceRecord, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []EvidenceRecord
	for _, r := range c.records {
		if r.IdentityKey == identityKey {
			out = append(out, r)
		}
	}
	return out, nil
}

func (c *memChain) Verify(context.Context, string) error { return nil }

func (c *memChain) recordsOfKind(kind EvidenceKind) []EvidenceRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []EvidenceRecord
	for _, r := range c.records {
		if r.Kind == kind {
			out = append(out, r)
		}
	}
	return out
}

func newTestExecutor(t *testing.T, connector *fakeConnector, chain EvidenceChain) *StepExecutor {
	t.Helper()
	cfg := ExecutorConfig{
		MaxAttempts:      3,
		BaseDelay:        time.Millisecond,
		MaxDelay:         5 * time.Millisecond,
		StepTimeout:      time.Second,
		EvidenceAttempts: 2,
	}
	registry := &fakeRegistry{connectors: map[Platform]Connector{connector.platform: connector}}
	return NewStepExecutor(cfg, registry, chain, zerolog.Nop(),
		withSleep(func(context.Context, time.Duration) error { return nil }))
}

func grantStep(platform Platform) Step {
	ent := Entitlement{Platform: platform, Type: "team", Name: "eng"}
	return Step{
		ID:          "step-1",
		RunID:       "run-1",
		IdentityKey: "EMP001",
		Platform:    platform,
		Action:      ActionGrant,
		Entitlement: &ent,
		Status:      StepStatusPending,
	}
}

func TestExecuteRetriesTransientThenSucceeds(t *testing.T) {
	connector := newFakeConnector(PlatformGitHub)
	connector.failNext(ActionGrant, NewTransientError("timeout", nil))
	chain := &memChain{}
	executor := newTestExecutor(t, connector, chain)

	outcome := executor.Execute(context.Background(), grantStep(PlatformGitHub))

	assert.Equal(t, StepStatusSucceeded, outcome.Status)
	require.Len(t, outcome.Attempts, 2)
	assert.Equal(t, ErrorClassTransient, outcome.Attempts[0].ErrorClass)
	assert.Empty(t, outcome.Attempts[1].ErrorClass)

	// One evidence record per attempt, plus the terminal step record.
	assert.Len(t, chain.recordsOfKind(EvidenceKindAttempt), 2)
	assert.Len(t, chain.recordsOfKind(EvidenceKindStep), 1)
}

func TestExecuteDoesNotRetryPermanent(t *testing.T) {
	connector := newFakeConnector(PlatformSlack)
	connector.failNext(ActionGrant, NewPermanentError("invalid target", nil))
	chain := &memChain{}
	executor := newTestExecutor(t, connector, chain)

	outcome := executor.Execute(context.Background(), grantStep(PlatformSlack))

	assert.Equal(t, StepStatusFailed, outcome.Status)
	require.Len(t, outcome.Attempts, 1)
	require.NotNil(t, outcome.Error)
	assert.Equal(t, ErrorClassPermanent, outcome.Error.Class)
}

func TestExecuteExhaustsRetries(t *testing.T) {
	connector := newFakeConnector(PlatformGitHub)
	connector.failNext(ActionGrant,
		NewThrottledError("rate limited", nil),
		NewThrottledError("rate limited", nil),
		NewThrottledError("rate limited", nil),
	)
	chain := &memChain{}
	executor := newTestExecutor(t, connector, chain)

	outcome := executor.Execute(context.Background(), grantStep(PlatformGitHub))

	assert.Equal(t, StepStatusFailed, outcome.Status)
	assert.Len(t, outcome.Attempts, 3)
	assert.Len(t, chain.recordsOfKind(EvidenceKindAttempt), 3)
}

func TestExecuteFailsStepWhenEvidenceCannotBeRecorded(t *testing.T) {
	connector := newFakeConnector(PlatformGitHub)
	// More failures than the executor's evidence retry budget.
	chain := &memChain{failures: 10}
	executor := newTestExecutor(t, connector, chain)

	outcome := executor.Execute(context.Background(), grantStep(PlatformGitHub))

	// The connector call succeeded, but without durable evidence the step
	// must not be confirmed.
	assert.Equal(t, StepStatusFailed, outcome.Status)
	require.NotNil(t, outcome.Error)
	assert.Equal(t, ErrorClassEvidence, outcome.Error.Class)
}

func TestRecordSkipped(t *testing.T) {
	connector := newFakeConnector(PlatformGitHub)
	chain := &memChain{}
	executor := newTestExecutor(t, connector, chain)

	outcome := executor.RecordSkipped(context.Background(), grantStep(PlatformGitHub), "account provisioning failed")

	assert.Equal(t, StepStatusSkipped, outcome.Status)
	require.NotNil(t, outcome.Error)
	assert.Equal(t, ErrCodeDependencyFailed, outcome.Error.Code)
	assert.Zero(t, connector.calls[ActionGrant])

	records := chain.recordsOfKind(EvidenceKindStep)
	require.Len(t, records, 1)
	assert.Equal(t, StepStatusSkipped, records[0].Outcome)
}

func TestBackoffDoublesAndCaps(t *testing.T) {
	cfg := ExecutorConfig{
		MaxAttempts:      5,
		BaseDelay:        100 * time.Millisecond,
		MaxDelay:         400 * time.Millisecond,
		EvidenceAttempts: 1,
	}
	executor := NewStepExecutor(cfg, &fakeRegistry{}, &memChain{}, zerolog.Nop())

	// Jitter adds at most 25% on top of the base delay.
	for attempt, base := range map[int]time.Duration{
		1: 100 * time.Millisecond,
		2: 200 * time.Millisecond,
		3: 400 * time.Millisecond,
		4: 400 * time.Millisecond, // capped
	} {
		d := executor.backoff(attempt)
		assert.GreaterOrEqual(t, d, base, "attempt %d", attempt)
		assert.LessOrEqual(t, d, base+base/4, "attempt %d", attempt)
	}
}
