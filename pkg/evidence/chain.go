package evidence

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Raoof128/ILAE/pkg/engine"
	"github.com/Raoof128/ILAE/pkg/stores"
)

// head tracks the tip of one identity's chain.
type head struct {
	sequence uint64
	hash     string
}

// Chain implements engine.EvidenceChain on top of a Store. Appends for one
// identity are serialized by a per-identity mutex; heads are cached in
// memory and recovered from the store after a restart.
type Chain struct {
	store  stores.Store
	logger zerolog.Logger

	mu    sync.Mutex
	heads map[string]*head
	locks map[string]*sync.Mutex

	appendHook func(status string)
}

// Option configures a Chain.
type Option func(*Chain)

// WithAppendHook registers a callback invoked after every append with
// "ok" or "error". Used for metrics.
func WithAppendHook(fn func(status string)) Option {
	return func(c *Chain) { c.appendHook = fn }
}

// NewChain creates an evidence chain over the given store.
func NewChain(store stores.Store, logger zerolog.Logger, opts ...Option) *Chain {
	c := &Chain{
		store:  store,
		logger: logger.With().Str("component", "evidence").Logger(),
		heads:  make(map[string]*head),
		locks:  make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Append durably records the input on the identity's chain. The record is on
// the chain when Append returns nil; a non-nil error means it is not, and the
// caller must not confirm the step it describes.
func (c *Chain) Append(ctx context.Context, input engine.EvidenceInput) (*engine.EvidenceRecord, error) {
	if input.IdentityKey == "" {
		return nil, fmt.Errorf("evidence input has no identity key")
	}

	lock := c.identityLock(input.IdentityKey)
	lock.Lock()
	defer lock.Unlock()

	tip, err := c.currentHead(ctx, input.IdentityKey)
	if err != nil {
		c.observe("error")
		return nil, err
	}

	record := engine.EvidenceRecord{
		EvidenceInput: input,
		Sequence:      tip.sequence + 1,
		RecordedAt:    time.Now().UTC(),
		PrevHash:      tip.hash,
	}
	record.Hash, err = computeHash(record)
	if err != nil {
		c.observe("error")
		return nil, err
	}

	if err := c.store.AppendEvidence(ctx, record); err != nil {
		c.observe("error")
		return nil, fmt.Errorf("failed to persist evidence %s/%d: %w", input.IdentityKey, record.Sequence, err)
	}

	tip.sequence = record.Sequence
	tip.hash = record.Hash
	c.observe("ok")

	c.logger.Debug().
		Str("identity", input.IdentityKey).
		Uint64("sequence", record.Sequence).
		Str("kind", string(input.Kind)).
		Msg("evidence appended")
	return &record, nil
}

// History returns an identity's chain in sequence order.
func (c *Chain) History(ctx context.Context, identityKey string) ([]engine.EvidenceRecord, error) {
	return c.store.ListEvidence(ctx, identityKey)
}

// Verify recomputes the identity's chain from its first record and reports
// the first divergence: a recomputed hash mismatch, a broken link, or a gap
// in the sequence.
func (c *Chain) Verify(ctx context.Context, identityKey string) error {
	records, err := c.store.ListEvidence(ctx, identityKey)
	if err != nil {
		return err
	}

	prevHash := ""
	var prevSeq uint64
	for _, record := range records {
		if record.Sequence != prevSeq+1 {
			return fmt.Errorf("evidence chain for %s broken: sequence gap at %d (expected %d)",
				identityKey, record.Sequence, prevSeq+1)
		}
		if record.PrevHash != prevHash {
			return fmt.Errorf("evidence chain for %s broken: record %d does not link to its predecessor",
				identityKey, record.Sequence)
		}
		want, err := computeHash(record)
		if err != nil {
			return err
		}
		if record.Hash != want {
			return fmt.Errorf("evidence chain for %s broken: record %d hash mismatch",
				identityKey, record.Sequence)
		}
		prevHash = record.Hash
		prevSeq = record.Sequence
	}
	return nil
}

// currentHead returns the cached head, recovering it from the store on
// first use after a restart. Callers hold the identity lock.
func (c *Chain) currentHead(ctx context.Context, identityKey string) (*head, error) {
	c.mu.Lock()
	tip, ok := c.heads[identityKey]
	c.mu.Unlock()
	if ok {
		return tip, nil
	}

	record, err := c.store.EvidenceHead(ctx, identityKey)
	if err != nil {
		return nil, fmt.Errorf("failed to recover evidence head for %s: %w", identityKey, err)
	}
	tip = &head{}
	if record != nil {
		tip.sequence = record.Sequence
		tip.hash = record.Hash
	}

	c.mu.Lock()
	// A concurrent recovery may have won; keep the registered head.
	if existing, ok := c.heads[identityKey]; ok {
		tip = existing
	} else {
		c.heads[identityKey] = tip
	}
	c.mu.Unlock()
	return tip, nil
}

func (c *Chain) identityLock(identityKey string) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	lock, ok := c.locks[identityKey]
	if !ok {
		lock = &sync.Mutex{}
		c.locks[identityKey] = lock
	}
	return lock
}

func (c *Chain) observe(status string) {
	if c.appendHook != nil {
		c.appendHook(status)
	}
}
