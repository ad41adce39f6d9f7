package autoenroll

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/savannacommerce/pool-engine/internal/metrics"
	"github.com/savannacommerce/pool-engine/internal/model"
	"github.com/savannacommerce/pool-engine/internal/store"
)

// Joiner is the lifecycle manager's join API. The matcher goes through the
// exact same path as a manual caller.
type Joiner interface {
	Join(ctx context.Context, poolID, participantID string, quantity int64, source model.CommitmentSource) (*model.Commitment, error)
}

// Matcher watches newly opened pools and commits capped auto-joins for
// matching rules. It runs as a single goroutine: pool-opened events arrive
// on a channel, and a periodic sweep re-examines all open pools to cover
// dropped or missed events. Because the matcher is the sole issuer of
// auto-sourced joins and processes sequentially, its cap check and join are
// never interleaved with another auto-join for the same participant.
type Matcher struct {
	store  store.Store
	joiner Joiner
	logger *slog.Logger

	opened        chan model.Pool
	sweepInterval time.Duration
}

// NewMatcher creates a matcher over the given store and join API.
func NewMatcher(st store.Store, joiner Joiner, sweepInterval time.Duration, logger *slog.Logger) *Matcher {
	if sweepInterval <= 0 {
		sweepInterval = time.Minute
	}
	return &Matcher{
		store:         st,
		joiner:        joiner,
		logger:        logger.With(slog.String("component", "autoenroll")),
		opened:        make(chan model.Pool, 64),
		sweepInterval: sweepInterval,
	}
}

// PoolOpened signals a freshly opened pool. Non-blocking; a dropped event
// is picked up by the next sweep.
func (m *Matcher) PoolOpened(pool model.Pool) {
	select {
	case m.opened <- pool:
	default:
		m.logger.Debug("opened-pool queue full, sweep will cover", "pool_id", pool.ID)
	}
}

// Run processes pool-opened events and periodic sweeps until the context is
// cancelled.
func (m *Matcher) Run(ctx context.Context) error {
	m.logger.Info("matcher started", "sweep_interval", m.sweepInterval)
	defer m.logger.Info("matcher stopped")

	ticker := time.NewTicker(m.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case pool := <-m.opened:
			m.MatchPool(ctx, &pool)
		case <-ticker.C:
			m.Sweep(ctx)
		}
	}
}

// Sweep re-evaluates every open pool against the rule set.
func (m *Matcher) Sweep(ctx context.Context) {
	pools, err := m.store.ListPoolsByState(ctx, model.PoolOpen)
	if err != nil {
		m.logger.Error("sweep: list pools", "err", err)
		return
	}
	for i := range pools {
		m.MatchPool(ctx, &pools[i])
	}
}

// MatchPool evaluates all enabled rules for the pool's category and issues
// capped auto-joins for those that qualify.
func (m *Matcher) MatchPool(ctx context.Context, pool *model.Pool) {
	rules, err := m.store.ListEnabledRules(ctx, pool.ProductCategory)
	if err != nil {
		m.logger.Error("list rules", "pool_id", pool.ID, "err", err)
		return
	}

	for i := range rules {
		rule := &rules[i]
		if !Matches(rule, pool) {
			continue
		}
		m.applyRule(ctx, rule, pool)
	}
}

func (m *Matcher) applyRule(ctx context.Context, rule *model.AutoEnrollmentRule, pool *model.Pool) {
	// Never touch an existing commitment: a repeated Join is last value
	// wins, and the matcher must not overwrite a quantity the buyer chose
	// by hand.
	if existing, err := m.store.GetCommitment(ctx, pool.ID, rule.ParticipantID); err == nil &&
		existing.Status == model.CommitmentActive {
		return
	}

	count, err := m.store.CountActiveAutoCommitments(ctx, rule.ParticipantID)
	if err != nil {
		m.logger.Error("count auto commitments", "participant", rule.ParticipantID, "err", err)
		return
	}
	if err := CheckCap(rule, count); err != nil {
		metrics.AutoJoins.WithLabelValues("capped").Inc()
		m.logger.Debug("rule skipped",
			"participant", rule.ParticipantID,
			"pool_id", pool.ID,
			"reason", err.Error(),
		)
		return
	}

	quantity := JoinQuantity(rule, pool)
	if quantity <= 0 {
		return
	}

	if _, err := m.joiner.Join(ctx, pool.ID, rule.ParticipantID, quantity, model.SourceAuto); err != nil {
		metrics.AutoJoins.WithLabelValues("rejected").Inc()
		// State conflicts are routine (the pool may have locked between
		// evaluation and join); anything else is worth a warning.
		if errors.Is(err, context.Canceled) {
			return
		}
		m.logger.Debug("auto-join rejected",
			"participant", rule.ParticipantID,
			"pool_id", pool.ID,
			"err", err,
		)
		return
	}

	metrics.AutoJoins.WithLabelValues("joined").Inc()
	m.logger.Info("auto-joined pool",
		"participant", rule.ParticipantID,
		"pool_id", pool.ID,
		"quantity", quantity,
	)
}
