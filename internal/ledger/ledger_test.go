package ledger_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/savannacommerce/pool-engine/internal/ledger"
	"github.com/savannacommerce/pool-engine/internal/model"
	"github.com/savannacommerce/pool-engine/internal/store"
)

func newTestLedger() (*ledger.Ledger, *store.MemoryStore) {
	ms := store.NewMemoryStore()
	return ledger.New(ms), ms
}

func seedPool(t *testing.T, ms *store.MemoryStore, maxParticipants int) *model.Pool {
	t.Helper()
	now := time.Now().UTC()
	p := &model.Pool{
		ID:              "pool-1",
		ProductID:       "sku-1",
		TargetQuantity:  100,
		MinParticipants: 2,
		MaxParticipants: maxParticipants,
		OpensAt:         now,
		ClosesAt:        now.Add(time.Hour),
		BasePrice:       decimal.NewFromInt(10),
		Tiers:           []model.PriceTier{{MinQuantity: 50, UnitPrice: decimal.NewFromInt(9)}},
		State:           model.PoolOpen,
		CreatedAt:       now,
	}
	if err := ms.CreatePool(context.Background(), p); err != nil {
		t.Fatalf("failed to seed pool: %v", err)
	}
	return p
}

func TestJoin_NewParticipant(t *testing.T) {
	l, ms := newTestLedger()
	p := seedPool(t, ms, 0)
	now := time.Now().UTC()

	c, err := l.Join(context.Background(), p, "alice", 20, model.SourceManual, now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.Quantity != 20 || c.Status != model.CommitmentActive {
		t.Errorf("unexpected commitment: %+v", c)
	}
	if p.CommittedQuantity != 20 || p.ParticipantCount != 1 {
		t.Errorf("aggregates wrong: qty=%d count=%d", p.CommittedQuantity, p.ParticipantCount)
	}
}

func TestJoin_RepeatedReplacesQuantity(t *testing.T) {
	l, ms := newTestLedger()
	p := seedPool(t, ms, 0)
	now := time.Now().UTC()

	first, _ := l.Join(context.Background(), p, "alice", 20, model.SourceManual, now)
	second, err := l.Join(context.Background(), p, "alice", 5, model.SourceManual, now.Add(time.Minute))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if p.CommittedQuantity != 5 {
		t.Errorf("repeated join should replace quantity, got %d", p.CommittedQuantity)
	}
	if p.ParticipantCount != 1 {
		t.Errorf("repeated join must not change participant count, got %d", p.ParticipantCount)
	}
	if !second.JoinedAt.Equal(first.JoinedAt) {
		t.Error("repeated join must keep the original join time")
	}
}

func TestJoin_InvalidQuantity(t *testing.T) {
	l, ms := newTestLedger()
	p := seedPool(t, ms, 0)

	for _, qty := range []int64{0, -5} {
		if _, err := l.Join(context.Background(), p, "alice", qty, model.SourceManual, time.Now()); err != ledger.ErrInvalidQuantity {
			t.Errorf("quantity %d: expected ErrInvalidQuantity, got %v", qty, err)
		}
	}
	if p.CommittedQuantity != 0 || p.ParticipantCount != 0 {
		t.Error("rejected joins must not touch aggregates")
	}
}

func TestJoin_PoolFull(t *testing.T) {
	l, ms := newTestLedger()
	p := seedPool(t, ms, 2)
	now := time.Now().UTC()

	l.Join(context.Background(), p, "alice", 10, model.SourceManual, now)
	l.Join(context.Background(), p, "bob", 10, model.SourceManual, now)

	if _, err := l.Join(context.Background(), p, "carol", 10, model.SourceManual, now); err != ledger.ErrPoolFull {
		t.Errorf("expected ErrPoolFull, got %v", err)
	}

	// An existing participant may still adjust quantity at the cap.
	if _, err := l.Join(context.Background(), p, "alice", 30, model.SourceManual, now); err != nil {
		t.Errorf("existing participant should bypass the cap: %v", err)
	}
	if p.CommittedQuantity != 40 {
		t.Errorf("expected 40 committed, got %d", p.CommittedQuantity)
	}
}

func TestLeave(t *testing.T) {
	l, ms := newTestLedger()
	p := seedPool(t, ms, 0)
	now := time.Now().UTC()

	l.Join(context.Background(), p, "alice", 20, model.SourceManual, now)
	l.Join(context.Background(), p, "bob", 10, model.SourceManual, now)

	if err := l.Leave(context.Background(), p, "alice"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.CommittedQuantity != 10 || p.ParticipantCount != 1 {
		t.Errorf("aggregates wrong after leave: qty=%d count=%d", p.CommittedQuantity, p.ParticipantCount)
	}

	// Double leave fails.
	if err := l.Leave(context.Background(), p, "alice"); err != ledger.ErrNoCommitment {
		t.Errorf("expected ErrNoCommitment, got %v", err)
	}
}

func TestLeave_NeverJoined(t *testing.T) {
	l, ms := newTestLedger()
	p := seedPool(t, ms, 0)
	if err := l.Leave(context.Background(), p, "ghost"); err != ledger.ErrNoCommitment {
		t.Errorf("expected ErrNoCommitment, got %v", err)
	}
}

func TestJoin_WithdrawnParticipantReturns(t *testing.T) {
	l, ms := newTestLedger()
	p := seedPool(t, ms, 0)
	now := time.Now().UTC()

	l.Join(context.Background(), p, "alice", 20, model.SourceManual, now)
	l.Leave(context.Background(), p, "alice")

	if _, err := l.Join(context.Background(), p, "alice", 15, model.SourceManual, now.Add(time.Minute)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.CommittedQuantity != 15 || p.ParticipantCount != 1 {
		t.Errorf("aggregates wrong after re-join: qty=%d count=%d", p.CommittedQuantity, p.ParticipantCount)
	}
}

func TestSnapshot_MatchesCachedAggregates(t *testing.T) {
	l, ms := newTestLedger()
	p := seedPool(t, ms, 0)
	now := time.Now().UTC()

	l.Join(context.Background(), p, "alice", 20, model.SourceManual, now)
	l.Join(context.Background(), p, "bob", 10, model.SourceAuto, now)
	l.Join(context.Background(), p, "alice", 25, model.SourceManual, now)
	l.Leave(context.Background(), p, "bob")

	qty, count, commitments, err := l.Snapshot(context.Background(), p.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if qty != p.CommittedQuantity || count != p.ParticipantCount {
		t.Errorf("snapshot (%d, %d) diverges from cached (%d, %d)",
			qty, count, p.CommittedQuantity, p.ParticipantCount)
	}
	if len(commitments) != 2 {
		t.Errorf("expected 2 commitment rows, got %d", len(commitments))
	}
}

func TestVerify_DetectsDrift(t *testing.T) {
	l, ms := newTestLedger()
	p := seedPool(t, ms, 0)
	now := time.Now().UTC()

	l.Join(context.Background(), p, "alice", 20, model.SourceManual, now)
	if err := l.Verify(context.Background(), p); err != nil {
		t.Fatalf("expected clean verify: %v", err)
	}

	p.CommittedQuantity = 999
	if err := l.Verify(context.Background(), p); !errors.Is(err, ledger.ErrAggregateMismatch) {
		t.Errorf("expected ErrAggregateMismatch, got %v", err)
	}
}
