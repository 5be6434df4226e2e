// Package evidence implements the tamper-evident audit chain: an append-only
// sequence of hash-linked records per identity, durably stored and
// verifiable end to end.
package evidence

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/Raoof128/ILAE/pkg/engine"
)

// hashDomain separates evidence hashes from any other SHA-256 use. Changing
// it invalidates every existing chain.
const hashDomain = "ilae/evidence/v1"

// computeHash returns the chained hash for a record: SHA-256 over the domain
// tag, the record's canonical JSON with the hash field cleared, and the
// previous hash, each separated by a zero byte.
func computeHash(record engine.EvidenceRecord) (string, error) {
	record.Hash = ""
	payload, err := canonicalJSON(record)
	if err != nil {
		return "", fmt.Errorf("failed to canonicalize evidence record: %w", err)
	}

	h := sha256.New()
	h.Write([]byte(hashDomain))
	h.Write([]byte{0})
	h.Write(payload)
	h.Write([]byte{0})
	h.Write([]byte(record.PrevHash))
	return hex.EncodeToString(h.Sum(nil)), nil
}

// canonicalJSON produces a deterministic encoding: encoding/json emits
// struct fields in declaration order and sorts map keys, so the same record
// always serializes to the same bytes.
func canonicalJSON(v any) ([]byte, error) {
	return json.Marshal(v)
}
