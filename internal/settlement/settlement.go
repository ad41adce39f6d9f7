// Package settlement converts locked pools into individual buyer orders via
// the external order/payment collaborator.
//
// Settlement is at most once per pool: the pool ID is the idempotency key on
// the settlement record, and the worker only acts on pools still in the
// Settling state. Per-participant failures are recorded individually and
// never abort the rest of the pool.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/savannacommerce/pool-engine/internal/metrics"
	"github.com/savannacommerce/pool-engine/internal/model"
	"github.com/savannacommerce/pool-engine/internal/store"
)

// OrderCreator is the external order/payment collaborator. Implementations
// wrap retryable failures (timeouts, 5xx) with MarkTransient; everything
// else is treated as permanent (declined payment, invalid method).
type OrderCreator interface {
	CreateOrder(ctx context.Context, participantID, productID string, quantity int64, unitPrice decimal.Decimal) (orderID string, err error)
}

// PoolFinisher applies the settlement outcome to the pool's lifecycle. The
// engine manager implements it.
type PoolFinisher interface {
	FinishSettlement(ctx context.Context, poolID string, rec *model.SettlementRecord) error
}

// TransientError marks a collaborator failure as retryable.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return "transient: " + e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

// MarkTransient wraps err so the coordinator will retry it.
func MarkTransient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err}
}

// IsTransient reports whether err is marked retryable.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// Coordinator is the settlement worker. Pools are handed off through a
// queue so the synchronous join/tick paths never block on the external
// collaborator.
type Coordinator struct {
	store    store.Store
	orders   OrderCreator
	finisher PoolFinisher
	logger   *slog.Logger

	queue       chan string
	maxRetries  int
	baseBackoff time.Duration
}

// NewCoordinator creates a settlement coordinator. maxRetries bounds the
// extra attempts made on transient failures; baseBackoff is doubled after
// each failed attempt.
func NewCoordinator(st store.Store, orders OrderCreator, finisher PoolFinisher, maxRetries int, baseBackoff time.Duration, logger *slog.Logger) *Coordinator {
	if maxRetries < 0 {
		maxRetries = 0
	}
	if baseBackoff <= 0 {
		baseBackoff = 200 * time.Millisecond
	}
	return &Coordinator{
		store:       st,
		orders:      orders,
		finisher:    finisher,
		logger:      logger.With(slog.String("component", "settlement")),
		queue:       make(chan string, 256),
		maxRetries:  maxRetries,
		baseBackoff: baseBackoff,
	}
}

// Enqueue schedules a pool for settlement. Never blocks the caller: if the
// queue is full the handoff completes from a goroutine.
func (c *Coordinator) Enqueue(poolID string) {
	select {
	case c.queue <- poolID:
	default:
		c.logger.Warn("settlement queue full, deferring handoff", "pool_id", poolID)
		go func() { c.queue <- poolID }()
	}
}

// Run processes the settlement queue until the context is cancelled.
func (c *Coordinator) Run(ctx context.Context) error {
	c.logger.Info("settlement worker started")
	defer c.logger.Info("settlement worker stopped")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case poolID := <-c.queue:
			if err := c.Settle(ctx, poolID); err != nil {
				c.logger.Error("settlement failed", "pool_id", poolID, "err", err)
			}
		}
	}
}

// Settle runs settlement for one pool. Idempotent: a pool that is no longer
// Settling is skipped, and an existing settlement record is re-applied to
// the lifecycle instead of creating new orders.
func (c *Coordinator) Settle(ctx context.Context, poolID string) error {
	start := time.Now()

	pool, err := c.store.GetPool(ctx, poolID)
	if err != nil {
		return fmt.Errorf("settlement: load pool: %w", err)
	}
	if pool.State != model.PoolSettling {
		c.logger.Debug("pool not settling, skipping", "pool_id", poolID, "state", string(pool.State))
		return nil
	}

	// A record already written means orders were already attempted; only
	// the lifecycle transition may still be pending (e.g. crash between
	// the two steps). Any read failure other than not-found must abort,
	// otherwise a pool with an existing record would be settled twice.
	rec, err := c.store.GetSettlementRecord(ctx, poolID)
	if err == nil {
		return c.finisher.FinishSettlement(ctx, poolID, rec)
	}
	if !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("settlement: load record: %w", err)
	}

	if pool.FinalUnitPrice == nil {
		return fmt.Errorf("settlement: pool %s has no resolved price", poolID)
	}
	price := *pool.FinalUnitPrice

	commitments, err := c.store.ListCommitments(ctx, poolID)
	if err != nil {
		return fmt.Errorf("settlement: list commitments: %w", err)
	}

	outcomes := make([]model.OrderOutcome, 0, len(commitments))
	succeeded, failed := 0, 0
	for _, commit := range commitments {
		if commit.Status != model.CommitmentActive {
			continue
		}
		o := c.createOrder(ctx, pool, commit, price)
		if o.Succeeded() {
			succeeded++
		} else {
			failed++
		}
		outcomes = append(outcomes, o)
	}

	rec = &model.SettlementRecord{
		PoolID:         poolID,
		FinalUnitPrice: price,
		Outcomes:       outcomes,
		SucceededCount: succeeded,
		FailedCount:    failed,
		SettledAt:      time.Now().UTC(),
	}

	if err := c.store.CreateSettlementRecord(ctx, rec); err != nil {
		if errors.Is(err, store.ErrAlreadyExists) {
			// Lost a race with a duplicate trigger; defer to the winner's
			// record.
			rec, err = c.store.GetSettlementRecord(ctx, poolID)
			if err != nil {
				return fmt.Errorf("settlement: reload record: %w", err)
			}
		} else {
			return fmt.Errorf("settlement: persist record: %w", err)
		}
	}

	metrics.SettlementDuration.Observe(time.Since(start).Seconds())
	c.logger.Info("pool settled",
		"pool_id", poolID,
		"succeeded", rec.SucceededCount,
		"failed", rec.FailedCount,
		"unit_price", rec.FinalUnitPrice.String(),
	)

	return c.finisher.FinishSettlement(ctx, poolID, rec)
}

// createOrder attempts one buyer order, retrying transient failures with
// doubling backoff up to the configured bound. Permanent failures are
// recorded immediately with no retry.
func (c *Coordinator) createOrder(ctx context.Context, pool *model.Pool, commit model.Commitment, price decimal.Decimal) model.OrderOutcome {
	outcome := model.OrderOutcome{
		ParticipantID: commit.ParticipantID,
		Quantity:      commit.Quantity,
	}

	backoff := c.baseBackoff
	for attempt := 0; ; attempt++ {
		orderID, err := c.orders.CreateOrder(ctx, commit.ParticipantID, pool.ProductID, commit.Quantity, price)
		if err == nil {
			outcome.OrderID = orderID
			metrics.SettlementOrders.WithLabelValues("success").Inc()
			return outcome
		}

		if !IsTransient(err) {
			outcome.FailureKind = "permanent"
			outcome.FailureReason = err.Error()
			metrics.SettlementOrders.WithLabelValues("permanent").Inc()
			c.logger.Warn("order permanently failed",
				"pool_id", pool.ID,
				"participant", commit.ParticipantID,
				"err", err,
			)
			return outcome
		}

		if attempt >= c.maxRetries {
			outcome.FailureKind = "transient"
			outcome.FailureReason = err.Error()
			metrics.SettlementOrders.WithLabelValues("transient").Inc()
			c.logger.Warn("order failed after retries",
				"pool_id", pool.ID,
				"participant", commit.ParticipantID,
				"attempts", attempt+1,
				"err", err,
			)
			return outcome
		}

		select {
		case <-ctx.Done():
			outcome.FailureKind = "transient"
			outcome.FailureReason = ctx.Err().Error()
			metrics.SettlementOrders.WithLabelValues("transient").Inc()
			return outcome
		case <-time.After(backoff):
		}
		backoff *= 2
	}
}
