package claims

import (
	"context"
	"sort"
	"sync"

	"github.com/idis-platform/idis/pkg/idiserr"
)

// Store is the durable interface for claims. Every method is tenant
// scoped; a claim belonging to another tenant is NOT_FOUND, never a
// permission error, so existence does not leak.
type Store interface {
	// Insert persists a new claim. Duplicate ids conflict.
	Insert(ctx context.Context, c Claim) error

	// Update replaces an existing claim.
	Update(ctx context.Context, c Claim) error

	// Delete removes a claim. Used by saga compensation.
	Delete(ctx context.Context, tenantID, claimID string) error

	// Get retrieves one claim.
	Get(ctx context.Context, tenantID, claimID string) (Claim, error)

	// ListByDeal retrieves a deal's claims ordered by created_at then id.
	ListByDeal(ctx context.Context, tenantID, dealID string) ([]Claim, error)
}

// MemoryStore is the in-process Store used by tests and snapshot runs.
type MemoryStore struct {
	mu     sync.RWMutex
	claims map[string]Claim
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{claims: make(map[string]Claim)}
}

func storeKey(tenantID, claimID string) string { return tenantID + "/" + claimID }

func (s *MemoryStore) Insert(_ context.Context, c Claim) error {
	if err := c.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	key := storeKey(c.TenantID, c.ClaimID)
	if _, exists := s.claims[key]; exists {
		return idiserr.Newf(idiserr.KindConflict, "claim %s already exists", c.ClaimID)
	}
	s.claims[key] = c
	return nil
}

func (s *MemoryStore) Update(_ context.Context, c Claim) error {
	if err := c.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	key := storeKey(c.TenantID, c.ClaimID)
	if _, exists := s.claims[key]; !exists {
		return idiserr.Newf(idiserr.KindNotFound, "claim %s not found", c.ClaimID)
	}
	s.claims[key] = c
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, tenantID, claimID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := storeKey(tenantID, claimID)
	if _, exists := s.claims[key]; !exists {
		return idiserr.Newf(idiserr.KindNotFound, "claim %s not found", claimID)
	}
	delete(s.claims, key)
	return nil
}

func (s *MemoryStore) Get(_ context.Context, tenantID, claimID string) (Claim, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.claims[storeKey(tenantID, claimID)]
	if !ok {
		return Claim{}, idiserr.Newf(idiserr.KindNotFound, "claim %s not found", claimID)
	}
	return c, nil
}

func (s *MemoryStore) ListByDeal(_ context.Context, tenantID, dealID string) ([]Claim, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Claim
	for _, c := range s.claims {
		if c.TenantID == tenantID && c.DealID == dealID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ClaimID < out[j].ClaimID
	})
	return out, nil
}
