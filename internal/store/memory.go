package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/savannacommerce/pool-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing and
// development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu          sync.RWMutex
	pools       map[string]*model.Pool
	commitments map[string]map[string]*model.Commitment // poolID → participantID → commitment
	rules       map[string]*model.AutoEnrollmentRule
	settlements map[string]*model.SettlementRecord
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		pools:       make(map[string]*model.Pool),
		commitments: make(map[string]map[string]*model.Commitment),
		rules:       make(map[string]*model.AutoEnrollmentRule),
		settlements: make(map[string]*model.SettlementRecord),
	}
}

// copyPool returns a deep copy so callers cannot mutate stored state.
func copyPool(p *model.Pool) *model.Pool {
	cp := *p
	cp.Tiers = append([]model.PriceTier(nil), p.Tiers...)
	if p.LockedAt != nil {
		t := *p.LockedAt
		cp.LockedAt = &t
	}
	if p.FinalUnitPrice != nil {
		d := *p.FinalUnitPrice
		cp.FinalUnitPrice = &d
	}
	return &cp
}

func (s *MemoryStore) CreatePool(_ context.Context, p *model.Pool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.pools[p.ID]; ok {
		return fmt.Errorf("pool %s: %w", p.ID, ErrAlreadyExists)
	}
	s.pools[p.ID] = copyPool(p)
	return nil
}

func (s *MemoryStore) GetPool(_ context.Context, id string) (*model.Pool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.pools[id]
	if !ok {
		return nil, fmt.Errorf("pool %s: %w", id, ErrNotFound)
	}
	return copyPool(p), nil
}

func (s *MemoryStore) ListPools(_ context.Context) ([]model.Pool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	pools := make([]model.Pool, 0, len(s.pools))
	for _, p := range s.pools {
		pools = append(pools, *copyPool(p))
	}
	sort.Slice(pools, func(i, j int) bool {
		return pools[i].CreatedAt.After(pools[j].CreatedAt)
	})
	return pools, nil
}

func (s *MemoryStore) ListPoolsByState(ctx context.Context, state model.PoolState) ([]model.Pool, error) {
	all, err := s.ListPools(ctx)
	if err != nil {
		return nil, err
	}
	var pools []model.Pool
	for _, p := range all {
		if p.State == state {
			pools = append(pools, p)
		}
	}
	return pools, nil
}

func (s *MemoryStore) UpdatePool(_ context.Context, p *model.Pool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.pools[p.ID]; !ok {
		return fmt.Errorf("pool %s: %w", p.ID, ErrNotFound)
	}
	s.pools[p.ID] = copyPool(p)
	return nil
}

func (s *MemoryStore) UpsertCommitment(_ context.Context, c *model.Commitment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	byParticipant, ok := s.commitments[c.PoolID]
	if !ok {
		byParticipant = make(map[string]*model.Commitment)
		s.commitments[c.PoolID] = byParticipant
	}
	cp := *c
	byParticipant[c.ParticipantID] = &cp
	return nil
}

func (s *MemoryStore) GetCommitment(_ context.Context, poolID, participantID string) (*model.Commitment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.commitments[poolID][participantID]
	if !ok {
		return nil, fmt.Errorf("commitment %s/%s: %w", poolID, participantID, ErrNotFound)
	}
	cp := *c
	return &cp, nil
}

func (s *MemoryStore) ListCommitments(_ context.Context, poolID string) ([]model.Commitment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Commitment
	for _, c := range s.commitments[poolID] {
		result = append(result, *c)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].JoinedAt.Before(result[j].JoinedAt)
	})
	return result, nil
}

func (s *MemoryStore) UpdateCommitmentStatus(_ context.Context, poolID, participantID string, status model.CommitmentStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.commitments[poolID][participantID]
	if !ok {
		return fmt.Errorf("commitment %s/%s: %w", poolID, participantID, ErrNotFound)
	}
	c.Status = status
	return nil
}

func (s *MemoryStore) ReleaseCommitments(_ context.Context, poolID string, from, to model.CommitmentStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, c := range s.commitments[poolID] {
		if c.Status == from {
			c.Status = to
		}
	}
	return nil
}

func (s *MemoryStore) CountActiveAutoCommitments(_ context.Context, participantID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, byParticipant := range s.commitments {
		c, ok := byParticipant[participantID]
		if ok && c.Status == model.CommitmentActive && c.Source == model.SourceAuto {
			count++
		}
	}
	return count, nil
}

func (s *MemoryStore) CreateRule(_ context.Context, rule *model.AutoEnrollmentRule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.rules[rule.ID]; ok {
		return fmt.Errorf("rule %s: %w", rule.ID, ErrAlreadyExists)
	}
	cp := *rule
	s.rules[rule.ID] = &cp
	return nil
}

func (s *MemoryStore) ListEnabledRules(_ context.Context, productCategory string) ([]model.AutoEnrollmentRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.AutoEnrollmentRule
	for _, r := range s.rules {
		if r.Enabled && r.ProductCategory == productCategory {
			result = append(result, *r)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].ID < result[j].ID
	})
	return result, nil
}

func (s *MemoryStore) CreateSettlementRecord(_ context.Context, rec *model.SettlementRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.settlements[rec.PoolID]; ok {
		return fmt.Errorf("settlement %s: %w", rec.PoolID, ErrAlreadyExists)
	}
	cp := *rec
	cp.Outcomes = append([]model.OrderOutcome(nil), rec.Outcomes...)
	s.settlements[rec.PoolID] = &cp
	return nil
}

func (s *MemoryStore) GetSettlementRecord(_ context.Context, poolID string) (*model.SettlementRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.settlements[poolID]
	if !ok {
		return nil, fmt.Errorf("settlement %s: %w", poolID, ErrNotFound)
	}
	cp := *rec
	cp.Outcomes = append([]model.OrderOutcome(nil), rec.Outcomes...)
	return &cp, nil
}
