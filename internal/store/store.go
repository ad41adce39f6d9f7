// Package store defines the persistence interface for the pool engine.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing).
package store

import (
	"context"
	"errors"

	"github.com/savannacommerce/pool-engine/internal/model"
)

var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("store: not found")

	// ErrAlreadyExists is returned on unique-key collisions, including the
	// settlement idempotency key (one record per pool).
	ErrAlreadyExists = errors.New("store: already exists")
)

// Store is the persistence interface. PostgreSQL is the source of truth;
// Redis provides a read-through cache layer. All mutations for a given pool
// are issued under the engine's per-pool lock, so implementations do not
// need their own cross-call serialization beyond basic thread safety.
type Store interface {
	// --- Pool operations ---

	// CreatePool persists a new pool.
	CreatePool(ctx context.Context, pool *model.Pool) error

	// GetPool retrieves a pool by its ID.
	GetPool(ctx context.Context, id string) (*model.Pool, error)

	// ListPools returns all pools, newest first.
	ListPools(ctx context.Context) ([]model.Pool, error)

	// ListPoolsByState returns pools in the given state, newest first.
	ListPoolsByState(ctx context.Context, state model.PoolState) ([]model.Pool, error)

	// UpdatePool persists the pool's mutable fields (state, aggregates,
	// lock/settlement markers, failure reason).
	UpdatePool(ctx context.Context, pool *model.Pool) error

	// --- Commitments ---

	// UpsertCommitment inserts or replaces the (poolID, participantID) row.
	UpsertCommitment(ctx context.Context, c *model.Commitment) error

	// GetCommitment retrieves one participant's commitment in a pool.
	GetCommitment(ctx context.Context, poolID, participantID string) (*model.Commitment, error)

	// ListCommitments returns all commitments for a pool, oldest first.
	ListCommitments(ctx context.Context, poolID string) ([]model.Commitment, error)

	// UpdateCommitmentStatus changes one commitment's status.
	UpdateCommitmentStatus(ctx context.Context, poolID, participantID string, status model.CommitmentStatus) error

	// ReleaseCommitments moves every commitment in `from` status to `to`
	// for the given pool. Used on expiry/cancellation (→ withdrawn) and on
	// completion (→ settled).
	ReleaseCommitments(ctx context.Context, poolID string, from, to model.CommitmentStatus) error

	// CountActiveAutoCommitments returns the participant's number of
	// active commitments with source=auto, across all pools.
	CountActiveAutoCommitments(ctx context.Context, participantID string) (int, error)

	// --- Auto-enrollment rules ---

	// CreateRule persists a standing auto-enrollment rule.
	CreateRule(ctx context.Context, rule *model.AutoEnrollmentRule) error

	// ListEnabledRules returns enabled rules for a product category.
	ListEnabledRules(ctx context.Context, productCategory string) ([]model.AutoEnrollmentRule, error)

	// --- Settlement records ---

	// CreateSettlementRecord persists the settlement outcome for a pool.
	// Returns ErrAlreadyExists if a record for the pool already exists;
	// this is the settlement idempotency guard.
	CreateSettlementRecord(ctx context.Context, rec *model.SettlementRecord) error

	// GetSettlementRecord retrieves the settlement outcome for a pool.
	GetSettlementRecord(ctx context.Context, poolID string) (*model.SettlementRecord, error)
}
