package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/savannacommerce/pool-engine/internal/metrics"
	"github.com/savannacommerce/pool-engine/internal/model"
	"github.com/savannacommerce/pool-engine/internal/pricing"
)

// Tick re-evaluates every pool whose deadline has passed. It is idempotent
// and safe to call repeatedly or with out-of-order timestamps: transitions
// only ever move a pool forward, and each evaluation re-derives from the
// persisted pool state rather than trusting the heap entry that woke it.
func (m *Manager) Tick(ctx context.Context, now time.Time) {
	m.mu.Lock()
	ids := m.due(now)
	m.mu.Unlock()

	for _, id := range ids {
		if err := m.tickPool(ctx, id, now); err != nil {
			m.logger.Error("tick failed", "pool_id", id, "err", err)
		}
	}
	metrics.TicksTotal.Inc()
}

func (m *Manager) tickPool(ctx context.Context, poolID string, now time.Time) error {
	mu := m.lockPool(poolID)
	mu.Lock()
	defer mu.Unlock()

	pool, err := m.loadPool(ctx, poolID)
	if err != nil {
		return err
	}

	switch pool.State {
	case model.PoolOpen:
		if now.Before(pool.ClosesAt) {
			// Woken by a stale entry; go back to sleep until the close.
			m.mu.Lock()
			m.schedule(pool.ClosesAt, pool.ID)
			m.mu.Unlock()
			return nil
		}
		if pool.ThresholdsMet() {
			m.beginLock(pool, now)
			if err := m.store.UpdatePool(ctx, pool); err != nil {
				return fmt.Errorf("engine: persist pool: %w", err)
			}
			metrics.PoolsLocked.Inc()
			m.publish(model.EventLocked, pool, "")
			return nil
		}
		return m.terminate(ctx, pool, model.PoolExpired,
			"window closed below thresholds", model.EventExpired)

	case model.PoolLocking:
		if now.Before(pool.GraceDeadline()) {
			m.mu.Lock()
			m.schedule(pool.GraceDeadline(), pool.ID)
			m.mu.Unlock()
			return nil
		}
		return m.finalizeLock(ctx, pool)
	}

	// Settling and terminal pools need no clock-driven work.
	return nil
}

// finalizeLock closes the grace window: verify the ledger invariant, resolve
// the final tier price exactly once, move to Settling, and hand off to the
// settlement worker. Caller holds the pool lock.
func (m *Manager) finalizeLock(ctx context.Context, pool *model.Pool) error {
	if err := m.ledger.Verify(ctx, pool); err != nil {
		return m.quarantine(ctx, pool, err)
	}

	price := pricing.Resolve(pool.BasePrice, pool.Tiers, pool.CommittedQuantity)
	pool.FinalUnitPrice = &price
	pool.State = model.PoolSettling

	if err := m.store.UpdatePool(ctx, pool); err != nil {
		return fmt.Errorf("engine: persist pool: %w", err)
	}

	m.logger.Info("pool settling",
		"pool_id", pool.ID,
		"final_unit_price", price.String(),
		"committed_qty", pool.CommittedQuantity,
	)
	m.publish(model.EventSettling, pool, "")

	if m.settler != nil {
		m.settler.Enqueue(pool.ID)
	}
	return nil
}

// RunTicker drives Tick on a fixed cadence until the context is cancelled.
// Deadline enforcement lives entirely here; no per-pool timers exist, so a
// restart only needs Recover followed by the ticker resuming.
func (m *Manager) RunTicker(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	m.logger.Info("tick loop started", "interval", interval)
	for {
		select {
		case <-ctx.Done():
			m.logger.Info("tick loop stopped")
			return ctx.Err()
		case now := <-ticker.C:
			m.Tick(ctx, now.UTC())
		}
	}
}
