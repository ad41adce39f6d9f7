// Package engine implements the pool lifecycle state machine: creation,
// joins and leaves, threshold-triggered locking, deadline expiry, and the
// handoff to settlement.
//
// Concurrency discipline: every ledger mutation and lifecycle transition for
// a given pool happens under that pool's mutex, so check-then-transition
// (did this join push quantity over target?) is atomic with the mutation
// that caused it. Different pools contend on nothing but the lock registry.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/savannacommerce/pool-engine/internal/ledger"
	"github.com/savannacommerce/pool-engine/internal/metrics"
	"github.com/savannacommerce/pool-engine/internal/model"
	"github.com/savannacommerce/pool-engine/internal/poolspec"
	"github.com/savannacommerce/pool-engine/internal/pricing"
	"github.com/savannacommerce/pool-engine/internal/store"
)

// EventPublisher receives lifecycle events for the notification and UI side
// channels. Implementations must not block and must never return delivery
// failures into the engine.
type EventPublisher interface {
	PublishPoolEvent(event model.PoolEvent, pool model.Pool, participantID string)
}

// Settler is the asynchronous settlement handoff. Enqueue must not block on
// the external order collaborator.
type Settler interface {
	Enqueue(poolID string)
}

// Manager orchestrates pool state transitions. It owns the per-pool lock
// registry and the deadline heap; all mutations flow through it.
type Manager struct {
	store   store.Store
	ledger  *ledger.Ledger
	pub     EventPublisher // optional
	settler Settler        // optional until wired
	logger  *slog.Logger

	mu        sync.Mutex
	locks     map[string]*sync.Mutex
	deadlines deadlineHeap
}

// NewManager creates a lifecycle manager over the given store.
// Pass nil for pub if no event side channel is wired.
func NewManager(st store.Store, pub EventPublisher, logger *slog.Logger) *Manager {
	return &Manager{
		store:  st,
		ledger: ledger.New(st),
		pub:    pub,
		logger: logger.With(slog.String("component", "engine")),
		locks:  make(map[string]*sync.Mutex),
	}
}

// SetSettler wires the settlement handoff. Must be called before any pool
// can reach Settling.
func (m *Manager) SetSettler(s Settler) {
	m.settler = s
}

// Ledger exposes the participation ledger for read-side callers (snapshots).
func (m *Manager) Ledger() *ledger.Ledger {
	return m.ledger
}

// lockPool returns the mutex for a pool, creating it on first use. The
// registry itself is guarded by m.mu; the returned mutex is locked by the
// caller.
func (m *Manager) lockPool(poolID string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()

	mu, ok := m.locks[poolID]
	if !ok {
		mu = &sync.Mutex{}
		m.locks[poolID] = mu
	}
	return mu
}

func (m *Manager) publish(event model.PoolEvent, pool *model.Pool, participantID string) {
	if m.pub != nil {
		m.pub.PublishPoolEvent(event, *pool, participantID)
	}
}

// CreatePool validates the spec and opens a new pool. Invalid specs are
// rejected synchronously; nothing is persisted.
func (m *Manager) CreatePool(ctx context.Context, spec *poolspec.Spec) (*model.Pool, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	pool := spec.NewPool(now)

	if err := m.store.CreatePool(ctx, pool); err != nil {
		return nil, fmt.Errorf("engine: create pool: %w", err)
	}

	m.mu.Lock()
	m.schedule(pool.ClosesAt, pool.ID)
	m.mu.Unlock()

	metrics.PoolsCreated.Inc()
	m.logger.Info("pool created",
		"pool_id", pool.ID,
		"product", pool.ProductID,
		"target_qty", pool.TargetQuantity,
		"min_participants", pool.MinParticipants,
		"closes_at", pool.ClosesAt,
	)

	m.publish(model.EventPoolOpened, pool, "")
	return pool, nil
}

// Join commits (or re-commits, last value wins) a participant's quantity.
// During the lock grace window, only joins whose arrival predates the freeze
// instant are honored. A successful join that pushes the pool over both
// thresholds triggers the Open → Locking transition atomically.
func (m *Manager) Join(ctx context.Context, poolID, participantID string, quantity int64, source model.CommitmentSource) (*model.Commitment, error) {
	arrival := time.Now().UTC()

	mu := m.lockPool(poolID)
	mu.Lock()
	defer mu.Unlock()

	pool, err := m.loadPool(ctx, poolID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	switch pool.State {
	case model.PoolOpen:
		if now.Before(pool.OpensAt) {
			return nil, ErrPoolNotOpen
		}
	case model.PoolLocking:
		// Grace window: honor joins that were already in flight at the
		// freeze instant, reject everything that arrived after it.
		if arrival.After(*pool.LockedAt) || now.After(pool.GraceDeadline()) {
			return nil, ErrPoolNotOpen
		}
	default:
		return nil, ErrPoolNotOpen
	}

	c, err := m.ledger.Join(ctx, pool, participantID, quantity, source, now)
	if err != nil {
		return nil, err
	}

	locked := false
	if pool.State == model.PoolOpen && pool.ThresholdsMet() {
		m.beginLock(pool, now)
		locked = true
	}

	if err := m.store.UpdatePool(ctx, pool); err != nil {
		return nil, fmt.Errorf("engine: persist pool: %w", err)
	}

	metrics.JoinsTotal.WithLabelValues(string(source)).Inc()
	m.publish(model.EventJoined, pool, participantID)
	if locked {
		metrics.PoolsLocked.Inc()
		m.publish(model.EventLocked, pool, "")
	}
	return c, nil
}

// Leave withdraws a participant's commitment. Only allowed while Open.
func (m *Manager) Leave(ctx context.Context, poolID, participantID string) error {
	mu := m.lockPool(poolID)
	mu.Lock()
	defer mu.Unlock()

	pool, err := m.loadPool(ctx, poolID)
	if err != nil {
		return err
	}
	if pool.State != model.PoolOpen {
		return ErrPoolLocked
	}

	if err := m.ledger.Leave(ctx, pool, participantID); err != nil {
		return err
	}
	if err := m.store.UpdatePool(ctx, pool); err != nil {
		return fmt.Errorf("engine: persist pool: %w", err)
	}

	metrics.LeavesTotal.Inc()
	m.publish(model.EventLeft, pool, participantID)
	return nil
}

// Cancel terminates a pool on organizer or policy request. Honored in Open
// and Locking; refused once settlement has begun.
func (m *Manager) Cancel(ctx context.Context, poolID, reason string) error {
	mu := m.lockPool(poolID)
	mu.Lock()
	defer mu.Unlock()

	pool, err := m.loadPool(ctx, poolID)
	if err != nil {
		return err
	}

	switch pool.State {
	case model.PoolOpen, model.PoolLocking:
		// cancellable
	case model.PoolSettling:
		return ErrTooLateToCancel
	default:
		return ErrPoolTerminal
	}

	return m.terminate(ctx, pool, model.PoolCancelled, reason, model.EventCancelled)
}

// beginLock freezes eligibility and starts the grace window. Caller holds
// the pool lock. The transition fires at most once: it is only reachable
// from Open, and the state changes here before the lock is released.
func (m *Manager) beginLock(pool *model.Pool, now time.Time) {
	pool.State = model.PoolLocking
	lockedAt := now
	pool.LockedAt = &lockedAt

	m.mu.Lock()
	m.schedule(pool.GraceDeadline(), pool.ID)
	m.mu.Unlock()

	m.logger.Info("pool locked",
		"pool_id", pool.ID,
		"committed_qty", pool.CommittedQuantity,
		"participants", pool.ParticipantCount,
		"grace_deadline", pool.GraceDeadline(),
	)
}

// terminate moves a pool to a terminal non-completed state, releasing all
// active commitments. Caller holds the pool lock.
func (m *Manager) terminate(ctx context.Context, pool *model.Pool, state model.PoolState, reason string, event model.PoolEvent) error {
	pool.State = state
	pool.FailureReason = reason

	// The cached aggregates keep their final values as the historical
	// record of what the pool reached. The live ledger equality applies
	// only until the pool goes terminal.

	if err := m.store.ReleaseCommitments(ctx, pool.ID, model.CommitmentActive, model.CommitmentWithdrawn); err != nil {
		return fmt.Errorf("engine: release commitments: %w", err)
	}
	if err := m.store.UpdatePool(ctx, pool); err != nil {
		return fmt.Errorf("engine: persist pool: %w", err)
	}

	metrics.PoolsTerminal.WithLabelValues(string(state)).Inc()
	m.logger.Info("pool terminated",
		"pool_id", pool.ID,
		"state", string(state),
		"reason", reason,
	)
	m.publish(event, pool, "")
	return nil
}

// quarantine cancels a single pool after an internal invariant violation.
// Other pools are unaffected; the diagnostic is logged loudly and recorded
// on the pool.
func (m *Manager) quarantine(ctx context.Context, pool *model.Pool, cause error) error {
	metrics.InvariantViolations.Inc()
	m.logger.Error("invariant violation, quarantining pool",
		"pool_id", pool.ID,
		"err", cause,
	)
	return m.terminate(ctx, pool, model.PoolCancelled,
		fmt.Sprintf("quarantined: %v", cause), model.EventCancelled)
}

// FinishSettlement applies the settlement outcome to the pool: Completed if
// at least one order succeeded, otherwise Cancelled. Idempotent: a pool no
// longer in Settling is left untouched.
func (m *Manager) FinishSettlement(ctx context.Context, poolID string, rec *model.SettlementRecord) error {
	mu := m.lockPool(poolID)
	mu.Lock()
	defer mu.Unlock()

	pool, err := m.loadPool(ctx, poolID)
	if err != nil {
		return err
	}
	if pool.State != model.PoolSettling {
		return nil
	}

	if rec.SucceededCount > 0 {
		pool.State = model.PoolCompleted
		for _, o := range rec.Outcomes {
			status := model.CommitmentSettled
			if !o.Succeeded() {
				status = model.CommitmentWithdrawn
			}
			if err := m.store.UpdateCommitmentStatus(ctx, pool.ID, o.ParticipantID, status); err != nil {
				return fmt.Errorf("engine: mark commitment %s: %w", o.ParticipantID, err)
			}
		}
		if err := m.store.UpdatePool(ctx, pool); err != nil {
			return fmt.Errorf("engine: persist pool: %w", err)
		}

		metrics.PoolsTerminal.WithLabelValues(string(model.PoolCompleted)).Inc()
		m.logger.Info("pool completed",
			"pool_id", pool.ID,
			"orders_succeeded", rec.SucceededCount,
			"orders_failed", rec.FailedCount,
		)
		m.publish(model.EventCompleted, pool, "")
		return nil
	}

	return m.terminate(ctx, pool, model.PoolCancelled,
		"settlement produced no orders", model.EventCancelled)
}

// GetPoolStatus returns the UI read model for one pool.
func (m *Manager) GetPoolStatus(ctx context.Context, poolID string) (*model.PoolStatus, error) {
	pool, err := m.loadPool(ctx, poolID)
	if err != nil {
		return nil, err
	}

	var price = pricing.Resolve(pool.BasePrice, pool.Tiers, pool.CommittedQuantity)
	if pool.FinalUnitPrice != nil {
		price = *pool.FinalUnitPrice
	}

	var remaining int64
	if pool.State == model.PoolOpen {
		if d := time.Until(pool.ClosesAt); d > 0 {
			remaining = int64(d.Seconds())
		}
	}

	return &model.PoolStatus{
		PoolID:            pool.ID,
		State:             pool.State,
		CommittedQuantity: pool.CommittedQuantity,
		ParticipantCount:  pool.ParticipantCount,
		TargetQuantity:    pool.TargetQuantity,
		MinParticipants:   pool.MinParticipants,
		CurrentTierPrice:  price,
		DiscountPercent:   pricing.DiscountPercent(pool.BasePrice, price),
		TimeRemainingSec:  remaining,
	}, nil
}

// ListOpenPools returns open pools, optionally filtered by product category
// and location.
func (m *Manager) ListOpenPools(ctx context.Context, category, location string) ([]model.Pool, error) {
	pools, err := m.store.ListPoolsByState(ctx, model.PoolOpen)
	if err != nil {
		return nil, fmt.Errorf("engine: list pools: %w", err)
	}

	filtered := make([]model.Pool, 0, len(pools))
	for _, p := range pools {
		if category != "" && p.ProductCategory != category {
			continue
		}
		if location != "" && p.Location != location {
			continue
		}
		filtered = append(filtered, p)
	}
	return filtered, nil
}

// Recover reloads non-terminal pools after a restart: deadlines are re-seeded
// from persisted state and pools caught mid-settlement are re-enqueued. The
// settlement record is the idempotency guard, so re-enqueueing is safe.
func (m *Manager) Recover(ctx context.Context) error {
	for _, state := range []model.PoolState{model.PoolOpen, model.PoolLocking, model.PoolSettling} {
		pools, err := m.store.ListPoolsByState(ctx, state)
		if err != nil {
			return fmt.Errorf("engine: recover %s pools: %w", state, err)
		}
		for _, p := range pools {
			switch p.State {
			case model.PoolOpen:
				m.mu.Lock()
				m.schedule(p.ClosesAt, p.ID)
				m.mu.Unlock()
			case model.PoolLocking:
				m.mu.Lock()
				m.schedule(p.GraceDeadline(), p.ID)
				m.mu.Unlock()
			case model.PoolSettling:
				if m.settler != nil {
					m.settler.Enqueue(p.ID)
				}
			}
			m.logger.Info("recovered pool", "pool_id", p.ID, "state", string(p.State))
		}
	}
	return nil
}

func (m *Manager) loadPool(ctx context.Context, poolID string) (*model.Pool, error) {
	pool, err := m.store.GetPool(ctx, poolID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrPoolNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("engine: load pool: %w", err)
	}
	return pool, nil
}
