package pricing

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/savannacommerce/pool-engine/internal/model"
)

// d is a test helper for creating decimals from float64.
func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func tier(minQty int64, price float64) model.PriceTier {
	return model.PriceTier{MinQuantity: minQty, UnitPrice: d(price)}
}

// --- Schedule validation tests ---

func TestValidateSchedule_Valid(t *testing.T) {
	tiers := []model.PriceTier{tier(10, 9.50), tier(50, 8.75), tier(100, 8.00)}
	if err := ValidateSchedule(d(10), tiers); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateSchedule_Empty(t *testing.T) {
	if err := ValidateSchedule(d(10), nil); err != ErrEmptySchedule {
		t.Errorf("expected ErrEmptySchedule, got %v", err)
	}
}

func TestValidateSchedule_UnorderedMinQuantities(t *testing.T) {
	tiers := []model.PriceTier{tier(50, 9), tier(10, 8)}
	if err := ValidateSchedule(d(10), tiers); err != ErrUnorderedTiers {
		t.Errorf("expected ErrUnorderedTiers, got %v", err)
	}
}

func TestValidateSchedule_DuplicateMinQuantities(t *testing.T) {
	tiers := []model.PriceTier{tier(10, 9), tier(10, 8)}
	if err := ValidateSchedule(d(10), tiers); err != ErrUnorderedTiers {
		t.Errorf("expected ErrUnorderedTiers, got %v", err)
	}
}

func TestValidateSchedule_PriceIncreasesWithQuantity(t *testing.T) {
	tiers := []model.PriceTier{tier(10, 8), tier(50, 9)}
	if err := ValidateSchedule(d(10), tiers); err != ErrNonMonotonicPrice {
		t.Errorf("expected ErrNonMonotonicPrice, got %v", err)
	}
}

func TestValidateSchedule_TierAboveBasePrice(t *testing.T) {
	tiers := []model.PriceTier{tier(10, 12)}
	if err := ValidateSchedule(d(10), tiers); err != ErrNonMonotonicPrice {
		t.Errorf("expected ErrNonMonotonicPrice, got %v", err)
	}
}

func TestValidateSchedule_ZeroPrice(t *testing.T) {
	tiers := []model.PriceTier{tier(10, 0)}
	if err := ValidateSchedule(d(10), tiers); err != ErrNonPositivePrice {
		t.Errorf("expected ErrNonPositivePrice, got %v", err)
	}
}

func TestValidateSchedule_NegativeBasePrice(t *testing.T) {
	tiers := []model.PriceTier{tier(10, 9)}
	if err := ValidateSchedule(d(-1), tiers); err != ErrNonPositivePrice {
		t.Errorf("expected ErrNonPositivePrice, got %v", err)
	}
}

func TestValidateSchedule_NegativeMinQuantity(t *testing.T) {
	tiers := []model.PriceTier{{MinQuantity: -1, UnitPrice: d(9)}}
	if err := ValidateSchedule(d(10), tiers); err != ErrNegativeMinQuantity {
		t.Errorf("expected ErrNegativeMinQuantity, got %v", err)
	}
}

func TestValidateSchedule_EqualPricesAllowed(t *testing.T) {
	tiers := []model.PriceTier{tier(10, 9), tier(50, 9)}
	if err := ValidateSchedule(d(10), tiers); err != nil {
		t.Errorf("equal prices across tiers should be valid, got %v", err)
	}
}

// --- Resolution tests ---

func TestResolve_BelowAllTiers(t *testing.T) {
	tiers := []model.PriceTier{tier(10, 9), tier(50, 8)}
	got := Resolve(d(10), tiers, 5)
	if !got.Equal(d(10)) {
		t.Errorf("expected base price 10, got %s", got)
	}
}

func TestResolve_ExactlyAtThreshold(t *testing.T) {
	tiers := []model.PriceTier{tier(10, 9), tier(50, 8)}
	got := Resolve(d(10), tiers, 50)
	if !got.Equal(d(8)) {
		t.Errorf("reaching a tier boundary should grant that tier: got %s", got)
	}
}

func TestResolve_BetweenTiers(t *testing.T) {
	tiers := []model.PriceTier{tier(10, 9), tier(50, 8), tier(100, 7)}
	got := Resolve(d(10), tiers, 73)
	if !got.Equal(d(8)) {
		t.Errorf("expected middle tier price 8, got %s", got)
	}
}

func TestResolve_AboveAllTiers(t *testing.T) {
	tiers := []model.PriceTier{tier(10, 9), tier(50, 8)}
	got := Resolve(d(10), tiers, 500)
	if !got.Equal(d(8)) {
		t.Errorf("expected richest tier price 8, got %s", got)
	}
}

func TestResolve_Monotonic(t *testing.T) {
	tiers := []model.PriceTier{tier(10, 9), tier(50, 8), tier(100, 7)}
	prev := Resolve(d(10), tiers, 0)
	for qty := int64(1); qty <= 150; qty++ {
		cur := Resolve(d(10), tiers, qty)
		if cur.GreaterThan(prev) {
			t.Fatalf("price rose from %s to %s at quantity %d", prev, cur, qty)
		}
		prev = cur
	}
}

// --- Discount tests ---

func TestDiscountPercent(t *testing.T) {
	got := DiscountPercent(d(10), d(8))
	if !got.Equal(d(20)) {
		t.Errorf("expected 20%% discount, got %s", got)
	}
}

func TestDiscountPercent_NoDiscount(t *testing.T) {
	if got := DiscountPercent(d(10), d(10)); !got.IsZero() {
		t.Errorf("expected zero discount at base price, got %s", got)
	}
}

func TestDiscountPercent_Rounding(t *testing.T) {
	got := DiscountPercent(d(3), d(2))
	if !got.Equal(d(33.33)) {
		t.Errorf("expected 33.33, got %s", got)
	}
}
