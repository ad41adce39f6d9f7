package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/savannacommerce/pool-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache for pool reads, the hot path behind GetPoolStatus. Writes go to the
// primary store and invalidate the cache; reads check Redis first then fall
// back to the primary.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) CreatePool(ctx context.Context, p *model.Pool) error {
	if err := s.primary.CreatePool(ctx, p); err != nil {
		return err
	}
	s.cachePool(ctx, p)
	return nil
}

func (s *CachedStore) UpdatePool(ctx context.Context, p *model.Pool) error {
	if err := s.primary.UpdatePool(ctx, p); err != nil {
		return err
	}
	// Invalidate; next read re-populates from the primary.
	s.rdb.Del(ctx, poolKey(p.ID))
	return nil
}

func (s *CachedStore) UpsertCommitment(ctx context.Context, c *model.Commitment) error {
	return s.primary.UpsertCommitment(ctx, c)
}

func (s *CachedStore) UpdateCommitmentStatus(ctx context.Context, poolID, participantID string, status model.CommitmentStatus) error {
	return s.primary.UpdateCommitmentStatus(ctx, poolID, participantID, status)
}

func (s *CachedStore) ReleaseCommitments(ctx context.Context, poolID string, from, to model.CommitmentStatus) error {
	return s.primary.ReleaseCommitments(ctx, poolID, from, to)
}

func (s *CachedStore) CreateRule(ctx context.Context, rule *model.AutoEnrollmentRule) error {
	return s.primary.CreateRule(ctx, rule)
}

func (s *CachedStore) CreateSettlementRecord(ctx context.Context, rec *model.SettlementRecord) error {
	return s.primary.CreateSettlementRecord(ctx, rec)
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetPool(ctx context.Context, id string) (*model.Pool, error) {
	data, err := s.rdb.Get(ctx, poolKey(id)).Bytes()
	if err == nil {
		var p model.Pool
		if json.Unmarshal(data, &p) == nil {
			return &p, nil
		}
	}

	// Cache miss: read from primary.
	p, err := s.primary.GetPool(ctx, id)
	if err != nil {
		return nil, err
	}

	s.cachePool(ctx, p)
	return p, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) ListPools(ctx context.Context) ([]model.Pool, error) {
	return s.primary.ListPools(ctx)
}

func (s *CachedStore) ListPoolsByState(ctx context.Context, state model.PoolState) ([]model.Pool, error) {
	return s.primary.ListPoolsByState(ctx, state)
}

func (s *CachedStore) GetCommitment(ctx context.Context, poolID, participantID string) (*model.Commitment, error) {
	return s.primary.GetCommitment(ctx, poolID, participantID)
}

func (s *CachedStore) ListCommitments(ctx context.Context, poolID string) ([]model.Commitment, error) {
	return s.primary.ListCommitments(ctx, poolID)
}

func (s *CachedStore) CountActiveAutoCommitments(ctx context.Context, participantID string) (int, error) {
	return s.primary.CountActiveAutoCommitments(ctx, participantID)
}

func (s *CachedStore) ListEnabledRules(ctx context.Context, productCategory string) ([]model.AutoEnrollmentRule, error) {
	return s.primary.ListEnabledRules(ctx, productCategory)
}

func (s *CachedStore) GetSettlementRecord(ctx context.Context, poolID string) (*model.SettlementRecord, error) {
	return s.primary.GetSettlementRecord(ctx, poolID)
}

// --- Cache helpers ---

func (s *CachedStore) cachePool(ctx context.Context, p *model.Pool) {
	if data, err := json.Marshal(p); err == nil {
		s.rdb.Set(ctx, poolKey(p.ID), data, s.ttl)
	}
}

func poolKey(id string) string { return fmt.Sprintf("pool:%s", id) }
