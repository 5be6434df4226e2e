package stores

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/Raoof128/ILAE/pkg/engine"
)

// MemoryStore is an in-memory Store used by tests and mock mode.
type MemoryStore struct {
	mu         sync.RWMutex
	identities map[string]engine.Identity
	platforms  map[string]map[engine.Platform]*engine.PlatformState
	evidence   map[string][]engine.EvidenceRecord
	runs       map[string]*engine.WorkflowRun
	runOrder   []string
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		identities: make(map[string]engine.Identity),
		platforms:  make(map[string]map[engine.Platform]*engine.PlatformState),
		evidence:   make(map[string][]engine.EvidenceRecord),
		runs:       make(map[string]*engine.WorkflowRun),
	}
}

// PutIdentity creates or replaces an identity record.
func (s *MemoryStore) PutIdentity(_ context.Context, identity engine.Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.identities[identity.Key] = identity
	return nil
}

// GetIdentity returns an identity by key.
func (s *MemoryStore) GetIdentity(_ context.Context, key string) (engine.Identity, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	identity, ok := s.identities[key]
	return identity, ok, nil
}

// ListIdentities returns all identities ordered by key.
func (s *MemoryStore) ListIdentities(_ context.Context) ([]engine.Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]engine.Identity, 0, len(s.identities))
	for _, identity := range s.identities {
		out = append(out, identity)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// PutPlatformState creates or replaces one platform sub-state.
func (s *MemoryStore) PutPlatformState(_ context.Context, identityKey string, state *engine.PlatformState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	byPlatform, ok := s.platforms[identityKey]
	if !ok {
		byPlatform = make(map[engine.Platform]*engine.PlatformState)
		s.platforms[identityKey] = byPlatform
	}
	clone := &engine.PlatformState{
		Account:   state.Account,
		Applied:   state.Applied.Clone(),
		UpdatedAt: state.UpdatedAt,
	}
	byPlatform[state.Account.Platform] = clone
	return nil
}

// ListPlatformStates returns an identity's platform sub-states.
func (s *MemoryStore) ListPlatformStates(_ context.Context, identityKey string) (map[engine.Platform]*engine.PlatformState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[engine.Platform]*engine.PlatformState)
	for platform, state := range s.platforms[identityKey] {
		out[platform] = &engine.PlatformState{
			Account:   state.Account,
			Applied:   state.Applied.Clone(),
			UpdatedAt: state.UpdatedAt,
		}
	}
	return out, nil
}

// AppendEvidence durably stores one evidence record.
func (s *MemoryStore) AppendEvidence(_ context.Context, record engine.EvidenceRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	chain := s.evidence[record.IdentityKey]
	for _, existing := range chain {
		if existing.Sequence == record.Sequence {
			return ErrDuplicateSequence
		}
	}
	s.evidence[record.IdentityKey] = append(chain, record)
	return nil
}

// ListEvidence returns an identity's evidence in sequence order.
func (s *MemoryStore) ListEvidence(_ context.Context, identityKey string) ([]engine.EvidenceRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	chain := s.evidence[identityKey]
	out := make([]engine.EvidenceRecord, len(chain))
	copy(out, chain)
	sort.Slice(out, func(i, j int) bool { return out[i].Sequence < out[j].Sequence })
	return out, nil
}

// ListAllEvidence returns every evidence record ordered by identity, sequence.
func (s *MemoryStore) ListAllEvidence(_ context.Context) ([]engine.EvidenceRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.evidence))
	for key := range s.evidence {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var out []engine.EvidenceRecord
	for _, key := range keys {
		chain := make([]engine.EvidenceRecord, len(s.evidence[key]))
		copy(chain, s.evidence[key])
		sort.Slice(chain, func(i, j int) bool { return chain[i].Sequence < chain[j].Sequence })
		out = append(out, chain...)
	}
	return out, nil
}

// EvidenceHead returns the highest-sequence record for an identity.
func (s *MemoryStore) EvidenceHead(_ context.Context, identityKey string) (*engine.EvidenceRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	chain := s.evidence[identityKey]
	if len(chain) == 0 {
		return nil, nil
	}
	head := chain[0]
	for _, record := range chain[1:] {
		if record.Sequence > head.Sequence {
			head = record
		}
	}
	return &head, nil
}

// TamperEvidence rewrites one stored record in place. Test helper for chain
// verification.
func (s *MemoryStore) TamperEvidence(identityKey string, sequence uint64, mutate func(*engine.EvidenceRecord)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	chain := s.evidence[identityKey]
	for i := range chain {
		if chain[i].Sequence == sequence {
			mutate(&chain[i])
			return nil
		}
	}
	return fmt.Errorf("evidence %s/%d: %w", identityKey, sequence, ErrNotFound)
}

// SaveRun creates or replaces a workflow run record.
func (s *MemoryStore) SaveRun(_ context.Context, run *engine.WorkflowRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.runs[run.ID]; !ok {
		s.runOrder = append(s.runOrder, run.ID)
	}
	clone := *run
	s.runs[run.ID] = &clone
	return nil
}

// GetRun returns a run by ID.
func (s *MemoryStore) GetRun(_ context.Context, runID string) (*engine.WorkflowRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[runID]
	if !ok {
		return nil, fmt.Errorf("run %s: %w", runID, ErrNotFound)
	}
	clone := *run
	return &clone, nil
}

// ListRuns returns runs for an identity, newest first.
func (s *MemoryStore) ListRuns(_ context.Context, identityKey string) ([]*engine.WorkflowRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*engine.WorkflowRun
	for i := len(s.runOrder) - 1; i >= 0; i-- {
		run := s.runs[s.runOrder[i]]
		if identityKey != "" && run.Request.IdentityKey != identityKey {
			continue
		}
		clone := *run
		out = append(out, &clone)
	}
	return out, nil
}

// Close releases store resources.
func (s *MemoryStore) Close() error {
	return nil
}
