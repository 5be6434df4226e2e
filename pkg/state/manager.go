// Package state implements the identity state store: the engine's record of
// what has actually been applied per identity per platform. It reflects
// confirmed step outcomes only, never intent.
package state

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Raoof128/ILAE/pkg/engine"
	"github.com/Raoof128/ILAE/pkg/stores"
)

// stripeCount sizes the lock table. Concurrent applies to the same
// (identity, platform) serialize on one stripe.
const stripeCount = 64

// Manager implements engine.StateStore over a Store.
type Manager struct {
	store   stores.Store
	logger  zerolog.Logger
	stripes [stripeCount]sync.Mutex
}

// NewManager creates a state manager.
func NewManager(store stores.Store, logger zerolog.Logger) *Manager {
	return &Manager{
		store:  store,
		logger: logger.With().Str("component", "state").Logger(),
	}
}

// Get returns the state for an identity, assembled from its identity record
// and platform sub-states.
func (m *Manager) Get(ctx context.Context, identityKey string) (*engine.IdentityState, bool, error) {
	identity, found, err := m.store.GetIdentity(ctx, identityKey)
	if err != nil {
		return nil, false, err
	}
	if !found {
		return &engine.IdentityState{Platforms: map[engine.Platform]*engine.PlatformState{}}, false, nil
	}

	platforms, err := m.store.ListPlatformStates(ctx, identityKey)
	if err != nil {
		return nil, false, err
	}
	return &engine.IdentityState{Identity: identity, Platforms: platforms}, true, nil
}

// PutIdentity creates or updates the identity record.
func (m *Manager) PutIdentity(ctx context.Context, identity engine.Identity) error {
	return m.store.PutIdentity(ctx, identity)
}

// List returns all known identities.
func (m *Manager) List(ctx context.Context) ([]engine.Identity, error) {
	return m.store.ListIdentities(ctx)
}

// Apply folds one successful step outcome into the identity's platform
// sub-state. Applies to the same (identity, platform) serialize on a lock
// stripe; the fold is read-modify-write against the store.
func (m *Manager) Apply(ctx context.Context, outcome engine.StepOutcome) error {
	if outcome.Status != engine.StepStatusSucceeded {
		return fmt.Errorf("cannot apply %s step %s", outcome.Status, outcome.Step.ID)
	}

	step := outcome.Step
	stripe := m.stripe(step.IdentityKey, step.Platform)
	stripe.Lock()
	defer stripe.Unlock()

	platforms, err := m.store.ListPlatformStates(ctx, step.IdentityKey)
	if err != nil {
		return err
	}
	ps, ok := platforms[step.Platform]
	if !ok {
		ps = &engine.PlatformState{
			Account: engine.AccountRef{Platform: step.Platform, Status: engine.AccountStatusNone},
			Applied: make(engine.EntitlementSet),
		}
	}

	switch step.Action {
	case engine.ActionEnsureAccount:
		if outcome.Account != nil {
			ps.Account = *outcome.Account
		}
		ps.Account.Platform = step.Platform
		ps.Account.Status = engine.AccountStatusActive

	case engine.ActionUpdateAccount:
		// Attributes live on the identity record; nothing to fold here.

	case engine.ActionGrant:
		if step.Entitlement != nil {
			ps.Applied.Add(*step.Entitlement)
		}

	case engine.ActionRevoke:
		if step.Entitlement != nil {
			delete(ps.Applied, step.Entitlement.Key())
		}

	case engine.ActionSuspendAccount:
		ps.Account.Status = engine.AccountStatusSuspended

	case engine.ActionRemoveAccount:
		ps.Account.Status = engine.AccountStatusRemoved
		ps.Applied = make(engine.EntitlementSet)
	}

	ps.UpdatedAt = time.Now().UTC()
	if err := m.store.PutPlatformState(ctx, step.IdentityKey, ps); err != nil {
		return err
	}

	m.logger.Debug().
		Str("identity", step.IdentityKey).
		Str("platform", string(step.Platform)).
		Str("action", string(step.Action)).
		Msg("state applied")
	return nil
}

func (m *Manager) stripe(identityKey string, platform engine.Platform) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(identityKey))
	h.Write([]byte{0})
	h.Write([]byte(platform))
	return &m.stripes[h.Sum32()%stripeCount]
}
