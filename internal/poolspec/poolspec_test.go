package poolspec

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/savannacommerce/pool-engine/internal/model"
	"github.com/savannacommerce/pool-engine/internal/pricing"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func grace(n int) *int {
	return &n
}

func validSpec() Spec {
	now := time.Now().UTC()
	return Spec{
		ProductID:       "sku-maize-50kg",
		ProductCategory: "grain",
		Location:        "nairobi",
		OrganizerID:     "org-1",
		TargetQuantity:  100,
		MinParticipants: 3,
		OpensAt:         now,
		ClosesAt:        now.Add(24 * time.Hour),
		BasePrice:       d(10),
		Tiers: []model.PriceTier{
			{MinQuantity: 50, UnitPrice: d(9)},
			{MinQuantity: 100, UnitPrice: d(8)},
		},
	}
}

func TestValidate_Valid(t *testing.T) {
	s := validSpec()
	if err := s.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidate_MissingProduct(t *testing.T) {
	s := validSpec()
	s.ProductID = ""
	if err := s.Validate(); err != ErrMissingProduct {
		t.Errorf("expected ErrMissingProduct, got %v", err)
	}
}

func TestValidate_ZeroTarget(t *testing.T) {
	s := validSpec()
	s.TargetQuantity = 0
	if err := s.Validate(); err != ErrInvalidTarget {
		t.Errorf("expected ErrInvalidTarget, got %v", err)
	}
}

func TestValidate_ZeroMinParticipants(t *testing.T) {
	s := validSpec()
	s.MinParticipants = 0
	if err := s.Validate(); err != ErrInvalidMinParts {
		t.Errorf("expected ErrInvalidMinParts, got %v", err)
	}
}

func TestValidate_MaxBelowMin(t *testing.T) {
	s := validSpec()
	s.MaxParticipants = 2
	if err := s.Validate(); err != ErrInvalidMaxParts {
		t.Errorf("expected ErrInvalidMaxParts, got %v", err)
	}
}

func TestValidate_ZeroMaxMeansUnlimited(t *testing.T) {
	s := validSpec()
	s.MaxParticipants = 0
	if err := s.Validate(); err != nil {
		t.Errorf("max_participants=0 should be unlimited, got %v", err)
	}
}

func TestValidate_ClosesBeforeOpens(t *testing.T) {
	s := validSpec()
	s.ClosesAt = s.OpensAt.Add(-time.Hour)
	if err := s.Validate(); err != ErrInvalidWindow {
		t.Errorf("expected ErrInvalidWindow, got %v", err)
	}
}

func TestValidate_NegativeGrace(t *testing.T) {
	s := validSpec()
	s.LockGraceSeconds = grace(-1)
	if err := s.Validate(); err != ErrNegativeGrace {
		t.Errorf("expected ErrNegativeGrace, got %v", err)
	}
}

func TestValidate_BadSchedule(t *testing.T) {
	s := validSpec()
	s.Tiers = nil
	err := s.Validate()
	if !errors.Is(err, pricing.ErrEmptySchedule) {
		t.Errorf("expected wrapped ErrEmptySchedule, got %v", err)
	}
}

func TestNewPool(t *testing.T) {
	s := validSpec()
	now := time.Now().UTC()
	p := s.NewPool(now)

	if p.ID == "" {
		t.Error("expected generated pool ID")
	}
	if p.State != model.PoolOpen {
		t.Errorf("expected open state, got %s", p.State)
	}
	if p.CommittedQuantity != 0 || p.ParticipantCount != 0 {
		t.Error("expected zeroed aggregates")
	}
	if p.LockGraceSeconds != DefaultLockGraceSeconds {
		t.Errorf("expected default grace %d, got %d", DefaultLockGraceSeconds, p.LockGraceSeconds)
	}
	if len(p.Tiers) != 2 {
		t.Fatalf("expected tiers copied, got %d", len(p.Tiers))
	}

	// Mutating the spec's tier slice must not affect the pool.
	s.Tiers[0].MinQuantity = 999
	if p.Tiers[0].MinQuantity == 999 {
		t.Error("pool tiers alias the spec slice")
	}
}

func TestNewPool_ExplicitGrace(t *testing.T) {
	s := validSpec()
	s.LockGraceSeconds = grace(90)
	p := s.NewPool(time.Now().UTC())
	if p.LockGraceSeconds != 90 {
		t.Errorf("expected grace 90, got %d", p.LockGraceSeconds)
	}
}

func TestNewPool_ZeroGrace(t *testing.T) {
	s := validSpec()
	s.LockGraceSeconds = grace(0)
	p := s.NewPool(time.Now().UTC())
	if p.LockGraceSeconds != 0 {
		t.Errorf("explicit zero grace must not become the default, got %d", p.LockGraceSeconds)
	}
}
