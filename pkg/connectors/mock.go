package connectors

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/Raoof128/ILAE/pkg/engine"
)

// mockAccount is the in-memory platform-side state for one identity.
type mockAccount struct {
	externalID string
	status     engine.AccountStatus
	attrs      engine.IdentityAttributes
	grants     map[string]engine.Entitlement
}

// Mock is an in-memory connector with inspectable state and scriptable
// failures. Tests and mock mode use one per platform.
type Mock struct {
	platform engine.Platform

	mu       sync.Mutex
	accounts map[string]*mockAccount
	failures map[string][]error
	calls    []string
}

// NewMock creates a mock connector for the given platform.
func NewMock(platform engine.Platform) *Mock {
	return &Mock{
		platform: platform,
		accounts: make(map[string]*mockAccount),
		failures: make(map[string][]error),
	}
}

// Platform returns the platform this connector targets.
func (m *Mock) Platform() engine.Platform {
	return m.platform
}

// FailNext queues errors for upcoming calls of one operation against one
// identity. Each queued error is consumed by one call; once the queue is
// empty the operation behaves normally.
func (m *Mock) FailNext(operation engine.ActionKind, identityKey string, errs ...error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := failureKey(operation, identityKey)
	m.failures[key] = append(m.failures[key], errs...)
}

// Calls returns the operations invoked so far, in order, as
// "operation identity" strings.
func (m *Mock) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.calls))
	copy(out, m.calls)
	return out
}

// AccountStatus returns the platform-side account status for an identity.
func (m *Mock) AccountStatus(identityKey string) engine.AccountStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	if account, ok := m.accounts[identityKey]; ok {
		return account.status
	}
	return engine.AccountStatusNone
}

// Grants returns the platform-side entitlements held by an identity.
func (m *Mock) Grants(identityKey string) []engine.Entitlement {
	m.mu.Lock()
	defer m.mu.Unlock()
	account, ok := m.accounts[identityKey]
	if !ok {
		return nil
	}
	set := make(engine.EntitlementSet, len(account.grants))
	for k, e := range account.grants {
		set[k] = e
	}
	return set.Sorted()
}

// EnsureAccount creates the account if absent; an existing account is a noop.
func (m *Mock) EnsureAccount(ctx context.Context, identityKey string, attrs engine.IdentityAttributes) (engine.ConnectorResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin(ctx, engine.ActionEnsureAccount, identityKey); err != nil {
		return engine.ConnectorResult{}, err
	}

	account, exists := m.accounts[identityKey]
	if !exists || account.status == engine.AccountStatusRemoved {
		account = &mockAccount{
			externalID: fmt.Sprintf("%s-%s", m.platform, uuid.New().String()[:8]),
			status:     engine.AccountStatusActive,
			attrs:      attrs,
			grants:     make(map[string]engine.Entitlement),
		}
		m.accounts[identityKey] = account
	}
	return engine.ConnectorResult{
		Account: &engine.AccountRef{
			Platform:   m.platform,
			ExternalID: account.externalID,
			Status:     account.status,
		},
		Noop: exists,
	}, nil
}

// UpdateAccount pushes changed attributes; an absent account is an invalid
// target.
func (m *Mock) UpdateAccount(ctx context.Context, identityKey string, attrs engine.IdentityAttributes) (engine.ConnectorResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin(ctx, engine.ActionUpdateAccount, identityKey); err != nil {
		return engine.ConnectorResult{}, err
	}

	account, ok := m.accounts[identityKey]
	if !ok {
		return engine.ConnectorResult{}, InvalidTargetError(fmt.Errorf("no account for %s", identityKey))
	}
	noop := account.attrs == attrs
	account.attrs = attrs
	return engine.ConnectorResult{
		Account: &engine.AccountRef{Platform: m.platform, ExternalID: account.externalID, Status: account.status},
		Noop:    noop,
	}, nil
}

// Grant grants one entitlement; a duplicate grant is a noop.
func (m *Mock) Grant(ctx context.Context, identityKey string, ent engine.Entitlement) (engine.ConnectorResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin(ctx, engine.ActionGrant, identityKey); err != nil {
		return engine.ConnectorResult{}, err
	}

	account, ok := m.accounts[identityKey]
	if !ok {
		return engine.ConnectorResult{}, InvalidTargetError(fmt.Errorf("no account for %s", identityKey))
	}
	if _, held := account.grants[ent.Key()]; held {
		return engine.ConnectorResult{Noop: true}, nil
	}
	account.grants[ent.Key()] = ent
	return engine.ConnectorResult{}, nil
}

// Revoke revokes one entitlement; revoking access the platform does not
// hold is a successful noop.
func (m *Mock) Revoke(ctx context.Context, identityKey string, ent engine.Entitlement) (engine.ConnectorResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin(ctx, engine.ActionRevoke, identityKey); err != nil {
		return engine.ConnectorResult{}, err
	}

	account, ok := m.accounts[identityKey]
	if !ok {
		return engine.ConnectorResult{Noop: true}, nil
	}
	if _, held := account.grants[ent.Key()]; !held {
		return engine.ConnectorResult{Noop: true}, nil
	}
	delete(account.grants, ent.Key())
	return engine.ConnectorResult{}, nil
}

// SuspendAccount disables the account; an absent account is a noop.
func (m *Mock) SuspendAccount(ctx context.Context, identityKey string) (engine.ConnectorResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin(ctx, engine.ActionSuspendAccount, identityKey); err != nil {
		return engine.ConnectorResult{}, err
	}

	account, ok := m.accounts[identityKey]
	if !ok {
		return engine.ConnectorResult{Noop: true}, nil
	}
	noop := account.status == engine.AccountStatusSuspended
	account.status = engine.AccountStatusSuspended
	return engine.ConnectorResult{
		Account: &engine.AccountRef{Platform: m.platform, ExternalID: account.externalID, Status: account.status},
		Noop:    noop,
	}, nil
}

// RemoveAccount removes the account; an absent account is a noop.
func (m *Mock) RemoveAccount(ctx context.Context, identityKey string) (engine.ConnectorResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin(ctx, engine.ActionRemoveAccount, identityKey); err != nil {
		return engine.ConnectorResult{}, err
	}

	account, ok := m.accounts[identityKey]
	if !ok {
		return engine.ConnectorResult{Noop: true}, nil
	}
	account.status = engine.AccountStatusRemoved
	account.grants = make(map[string]engine.Entitlement)
	return engine.ConnectorResult{
		Account: &engine.AccountRef{Platform: m.platform, ExternalID: account.externalID, Status: account.status},
	}, nil
}

// begin records the call, honors context cancellation, and pops a scripted
// failure when one is queued. Callers hold the mutex.
func (m *Mock) begin(ctx context.Context, operation engine.ActionKind, identityKey string) error {
	if err := ctx.Err(); err != nil {
		return TimeoutError(err)
	}
	m.calls = append(m.calls, fmt.Sprintf("%s %s", operation, identityKey))

	key := failureKey(operation, identityKey)
	if queue := m.failures[key]; len(queue) > 0 {
		err := queue[0]
		m.failures[key] = queue[1:]
		return err
	}
	return nil
}

func failureKey(operation engine.ActionKind, identityKey string) string {
	return string(operation) + "/" + identityKey
}

// NewMockRegistry builds a registry with a mock connector for every default
// platform. Used by mock mode and engine-level tests.
func NewMockRegistry() (*Registry, map[engine.Platform]*Mock) {
	registry := NewRegistry()
	mocks := make(map[engine.Platform]*Mock, len(engine.DefaultPlatformPriority))
	for _, platform := range engine.DefaultPlatformPriority {
		mock := NewMock(platform)
		registry.MustRegister(mock)
		mocks[platform] = mock
	}
	return registry, mocks
}
