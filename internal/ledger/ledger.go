// Package ledger maintains per-pool participation records: who has pledged,
// how much, and the cached aggregates the rest of the engine depends on.
//
// The central invariant: a pool's committedQuantity always equals the sum of
// its active commitments' quantities, and participantCount the number of
// distinct active commitments. Every method here must be called with the
// engine's per-pool lock held so mutation and aggregate update are atomic;
// the ledger itself performs no locking.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/savannacommerce/pool-engine/internal/model"
	"github.com/savannacommerce/pool-engine/internal/store"
)

var (
	// ErrInvalidQuantity is returned when a join quantity is not positive.
	ErrInvalidQuantity = errors.New("ledger: quantity must be positive")

	// ErrPoolFull is returned when a new participant would exceed the
	// pool's maxParticipants bound. Existing participants may still
	// re-join to adjust quantity.
	ErrPoolFull = errors.New("ledger: pool participant limit reached")

	// ErrNoCommitment is returned on Leave when the participant has no
	// active commitment in the pool.
	ErrNoCommitment = errors.New("ledger: no active commitment for participant")

	// ErrAggregateMismatch indicates the cached aggregates have diverged
	// from the commitment rows. The engine treats this as an invariant
	// violation and quarantines the pool.
	ErrAggregateMismatch = errors.New("ledger: cached aggregates diverge from commitments")
)

// Ledger applies commitment mutations and keeps the pool's cached aggregates
// in step. It mutates the passed pool in place; the caller persists it.
type Ledger struct {
	store store.Store
}

// New creates a Ledger over the given store.
func New(st store.Store) *Ledger {
	return &Ledger{store: st}
}

// Join upserts the participant's commitment with last-value-wins semantics:
// a repeated join replaces the previous quantity rather than adding to it.
// A withdrawn participant re-joining counts as a new participant again.
// The pool's cached aggregates are adjusted in the same step.
func (l *Ledger) Join(ctx context.Context, pool *model.Pool, participantID string, quantity int64, source model.CommitmentSource, now time.Time) (*model.Commitment, error) {
	if quantity <= 0 {
		return nil, ErrInvalidQuantity
	}

	existing, err := l.store.GetCommitment(ctx, pool.ID, participantID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("ledger: load commitment: %w", err)
	}

	c := &model.Commitment{
		PoolID:        pool.ID,
		ParticipantID: participantID,
		Quantity:      quantity,
		Source:        source,
		Status:        model.CommitmentActive,
		JoinedAt:      now,
	}

	switch {
	case existing != nil && existing.Status == model.CommitmentActive:
		// Quantity update: participant count unchanged, keep the original
		// join time.
		c.JoinedAt = existing.JoinedAt
		pool.CommittedQuantity += quantity - existing.Quantity
	default:
		// New participant, or a withdrawn one returning.
		if pool.MaxParticipants > 0 && pool.ParticipantCount >= pool.MaxParticipants {
			return nil, ErrPoolFull
		}
		pool.CommittedQuantity += quantity
		pool.ParticipantCount++
	}

	if err := l.store.UpsertCommitment(ctx, c); err != nil {
		return nil, fmt.Errorf("ledger: upsert commitment: %w", err)
	}
	return c, nil
}

// Leave marks the participant's active commitment withdrawn and decrements
// the cached aggregates.
func (l *Ledger) Leave(ctx context.Context, pool *model.Pool, participantID string) error {
	existing, err := l.store.GetCommitment(ctx, pool.ID, participantID)
	if errors.Is(err, store.ErrNotFound) {
		return ErrNoCommitment
	}
	if err != nil {
		return fmt.Errorf("ledger: load commitment: %w", err)
	}
	if existing.Status != model.CommitmentActive {
		return ErrNoCommitment
	}

	if err := l.store.UpdateCommitmentStatus(ctx, pool.ID, participantID, model.CommitmentWithdrawn); err != nil {
		return fmt.Errorf("ledger: withdraw commitment: %w", err)
	}

	pool.CommittedQuantity -= existing.Quantity
	pool.ParticipantCount--
	return nil
}

// Snapshot returns the pool's commitments together with aggregates computed
// from the rows themselves, consistent as of call time.
func (l *Ledger) Snapshot(ctx context.Context, poolID string) (committedQuantity int64, participantCount int, commitments []model.Commitment, err error) {
	commitments, err = l.store.ListCommitments(ctx, poolID)
	if err != nil {
		return 0, 0, nil, fmt.Errorf("ledger: list commitments: %w", err)
	}
	for _, c := range commitments {
		if c.Status == model.CommitmentActive {
			committedQuantity += c.Quantity
			participantCount++
		}
	}
	return committedQuantity, participantCount, commitments, nil
}

// Verify recomputes the aggregates from the commitment rows and compares
// them against the pool's cached values.
func (l *Ledger) Verify(ctx context.Context, pool *model.Pool) error {
	quantity, count, _, err := l.Snapshot(ctx, pool.ID)
	if err != nil {
		return err
	}
	if quantity != pool.CommittedQuantity || count != pool.ParticipantCount {
		return fmt.Errorf("%w: cached (%d units, %d participants) vs actual (%d units, %d participants)",
			ErrAggregateMismatch,
			pool.CommittedQuantity, pool.ParticipantCount, quantity, count)
	}
	return nil
}
