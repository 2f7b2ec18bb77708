package audit

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/idis-platform/idis/pkg/canonical"
)

var (
	ErrChainBroken   = errors.New("audit chain is broken")
	ErrUnknownTenant = errors.New("no audit chain for tenant")
)

// ChainEntry wraps an emitted event with hash-chain metadata. Chains
// are kept per tenant so one tenant's export never references another
// tenant's entries.
type ChainEntry struct {
	Sequence     uint64 `json:"sequence"`
	Event        Event  `json:"event"`
	EventHash    string `json:"event_hash"`
	PreviousHash string `json:"previous_hash"`
	EntryHash    string `json:"entry_hash"`
}

// ChainStore is an in-memory, append-only sink that hash-chains events
// per tenant. It backs tamper-evidence verification and auditor
// exports; durable sinks (file, SQL) run alongside it via MultiSink.
type ChainStore struct {
	mu     sync.RWMutex
	chains map[string]*tenantChain
}

type tenantChain struct {
	entries  []ChainEntry
	sequence uint64
	head     string
}

const chainGenesis = "genesis"

// NewChainStore creates an empty chain store.
func NewChainStore() *ChainStore {
	return &ChainStore{chains: make(map[string]*tenantChain)}
}

// Emit appends the event to its tenant's chain.
func (s *ChainStore) Emit(_ context.Context, e Event) error {
	eventHash, err := canonical.Hash(e)
	if err != nil {
		return fmt.Errorf("audit: hash event %s: %w", e.EventID, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	chain, ok := s.chains[e.TenantID]
	if !ok {
		chain = &tenantChain{head: chainGenesis}
		s.chains[e.TenantID] = chain
	}

	entry := ChainEntry{
		Sequence:     chain.sequence + 1,
		Event:        e,
		EventHash:    "sha256:" + eventHash,
		PreviousHash: chain.head,
	}
	entryHash, err := computeEntryHash(entry)
	if err != nil {
		return fmt.Errorf("audit: hash chain entry for %s: %w", e.EventID, err)
	}
	entry.EntryHash = entryHash

	chain.sequence = entry.Sequence
	chain.head = entry.EntryHash
	chain.entries = append(chain.entries, entry)
	return nil
}

// computeEntryHash hashes the chain-relevant fields. The previous hash
// is included so rewriting any earlier entry invalidates every later
// one.
func computeEntryHash(entry ChainEntry) (string, error) {
	hashable := struct {
		Sequence     uint64 `json:"sequence"`
		EventID      string `json:"event_id"`
		EventHash    string `json:"event_hash"`
		PreviousHash string `json:"previous_hash"`
	}{
		Sequence:     entry.Sequence,
		EventID:      entry.Event.EventID,
		EventHash:    entry.EventHash,
		PreviousHash: entry.PreviousHash,
	}
	digest, err := canonical.Hash(hashable)
	if err != nil {
		return "", err
	}
	return "sha256:" + digest, nil
}

// Head returns the current chain head for a tenant.
func (s *ChainStore) Head(tenantID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	chain, ok := s.chains[tenantID]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownTenant, tenantID)
	}
	return chain.head, nil
}

// Entries returns a copy of a tenant's chain in append order.
func (s *ChainStore) Entries(tenantID string) ([]ChainEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	chain, ok := s.chains[tenantID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTenant, tenantID)
	}
	out := make([]ChainEntry, len(chain.entries))
	copy(out, chain.entries)
	return out, nil
}

// VerifyChain recomputes every hash in a tenant's chain and checks the
// links. It returns ErrChainBroken with the first offending position.
func (s *ChainStore) VerifyChain(tenantID string) error {
	entries, err := s.Entries(tenantID)
	if err != nil {
		return err
	}

	expectedPrev := chainGenesis
	for i, entry := range entries {
		if entry.PreviousHash != expectedPrev {
			return fmt.Errorf("%w: entry %d has previous_hash %s, expected %s",
				ErrChainBroken, i, entry.PreviousHash, expectedPrev)
		}
		eventHash, err := canonical.Hash(entry.Event)
		if err != nil {
			return fmt.Errorf("%w: entry %d event hash computation failed: %w", ErrChainBroken, i, err)
		}
		if "sha256:"+eventHash != entry.EventHash {
			return fmt.Errorf("%w: entry %d event tampered", ErrChainBroken, i)
		}
		computed, err := computeEntryHash(entry)
		if err != nil {
			return fmt.Errorf("%w: entry %d hash computation failed: %w", ErrChainBroken, i, err)
		}
		if computed != entry.EntryHash {
			return fmt.Errorf("%w: entry %d hash mismatch", ErrChainBroken, i)
		}
		expectedPrev = entry.EntryHash
	}
	return nil
}
