// Package stores provides durable persistence for identity state, workflow
// runs, and the evidence chain. Two implementations are provided: SQLite for
// production use and an in-memory store for tests.
package stores

import (
	"context"
	"errors"

	"github.com/Raoof128/ILAE/pkg/engine"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("record not found")

// ErrDuplicateSequence is returned when an evidence append collides with an
// existing sequence number for the same identity. The chain writer treats
// this as a lost race, never as data loss.
var ErrDuplicateSequence = errors.New("evidence sequence already exists")

// Store is the persistence contract shared by the identity state manager,
// the evidence chain, and the engine's run history.
type Store interface {
	// PutIdentity creates or replaces an identity record.
	PutIdentity(ctx context.Context, identity engine.Identity) error

	// GetIdentity returns an identity by key; found is false when absent.
	GetIdentity(ctx context.Context, key string) (engine.Identity, bool, error)

	// ListIdentities returns all identities ordered by key.
	ListIdentities(ctx context.Context) ([]engine.Identity, error)

	// PutPlatformState creates or replaces one platform sub-state.
	PutPlatformState(ctx context.Context, identityKey string, state *engine.PlatformState) error

	// ListPlatformStates returns an identity's platform sub-states.
	ListPlatformStates(ctx context.Context, identityKey string) (map[engine.Platform]*engine.PlatformState, error)

	// AppendEvidence durably stores one evidence record. Returns
	// ErrDuplicateSequence when the (identity, sequence) pair exists.
	AppendEvidence(ctx context.Context, record engine.EvidenceRecord) error

	// ListEvidence returns an identity's evidence in sequence order.
	ListEvidence(ctx context.Context, identityKey string) ([]engine.EvidenceRecord, error)

	// ListAllEvidence returns every evidence record, ordered by identity
	// then sequence. Used by compliance reporting.
	ListAllEvidence(ctx context.Context) ([]engine.EvidenceRecord, error)

	// EvidenceHead returns the highest-sequence record for an identity, or
	// nil when the chain is empty. Used to recover chain heads on restart.
	EvidenceHead(ctx context.Context, identityKey string) (*engine.EvidenceRecord, error)

	// SaveRun creates or replaces a workflow run record.
	SaveRun(ctx context.Context, run *engine.WorkflowRun) error

	// GetRun returns a run by ID. Returns ErrNotFound when absent.
	GetRun(ctx context.Context, runID string) (*engine.WorkflowRun, error)

	// ListRuns returns runs for an identity, newest first. An empty
	// identity key returns all runs.
	ListRuns(ctx context.Context, identityKey string) ([]*engine.WorkflowRun, error)

	// Close releases store resources.
	Close() error
}
