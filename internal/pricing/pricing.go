// Package pricing implements tiered bulk-purchase pricing for group-buying
// pools.
//
// A pool's schedule is an ordered list of (minQuantity, unitPrice) tiers with
// non-increasing prices as quantity rises. The resolver picks the highest
// tier whose minQuantity the committed quantity has actually reached; there
// is no provisional discounting while a pool is still filling.
//
// All monetary values use shopspring/decimal, never float64.
package pricing

import (
	"errors"

	"github.com/shopspring/decimal"

	"github.com/savannacommerce/pool-engine/internal/model"
)

var (
	// ErrEmptySchedule is returned when a schedule has no tiers.
	ErrEmptySchedule = errors.New("pricing: schedule must contain at least one tier")

	// ErrUnorderedTiers is returned when tier minQuantities are not strictly
	// increasing.
	ErrUnorderedTiers = errors.New("pricing: tier min quantities must be strictly increasing")

	// ErrNonMonotonicPrice is returned when a later tier prices above an
	// earlier one.
	ErrNonMonotonicPrice = errors.New("pricing: tier prices must be non-increasing as quantity rises")

	// ErrNonPositivePrice is returned when any tier or base price is <= 0.
	ErrNonPositivePrice = errors.New("pricing: prices must be positive")

	// ErrNegativeMinQuantity is returned when a tier has minQuantity < 0.
	ErrNegativeMinQuantity = errors.New("pricing: tier min quantity must be >= 0")
)

// hundred is used for discount percentage computation.
var hundred = decimal.NewFromInt(100)

// ValidateSchedule checks that a tier schedule is well formed: at least one
// tier, strictly increasing minQuantities, non-increasing prices, and all
// prices (including basePrice) positive. basePrice anchors the no-discount
// fallback and must not be below any tier price.
func ValidateSchedule(basePrice decimal.Decimal, tiers []model.PriceTier) error {
	if basePrice.LessThanOrEqual(decimal.Zero) {
		return ErrNonPositivePrice
	}
	if len(tiers) == 0 {
		return ErrEmptySchedule
	}

	prev := tiers[0]
	if prev.MinQuantity < 0 {
		return ErrNegativeMinQuantity
	}
	if prev.UnitPrice.LessThanOrEqual(decimal.Zero) {
		return ErrNonPositivePrice
	}
	if prev.UnitPrice.GreaterThan(basePrice) {
		return ErrNonMonotonicPrice
	}

	for _, t := range tiers[1:] {
		if t.MinQuantity <= prev.MinQuantity {
			return ErrUnorderedTiers
		}
		if t.UnitPrice.LessThanOrEqual(decimal.Zero) {
			return ErrNonPositivePrice
		}
		if t.UnitPrice.GreaterThan(prev.UnitPrice) {
			return ErrNonMonotonicPrice
		}
		prev = t
	}
	return nil
}

// Resolve returns the unit price of the highest tier whose minQuantity does
// not exceed committedQuantity. Ties on minQuantity cannot occur in a
// validated schedule; across distinct tiers the larger minQuantity wins by
// scanning from the richest tier down. If no tier qualifies, basePrice is
// returned.
func Resolve(basePrice decimal.Decimal, tiers []model.PriceTier, committedQuantity int64) decimal.Decimal {
	for i := len(tiers) - 1; i >= 0; i-- {
		if tiers[i].MinQuantity <= committedQuantity {
			return tiers[i].UnitPrice
		}
	}
	return basePrice
}

// DiscountPercent returns the discount of unitPrice relative to basePrice,
// as a percentage rounded to two places. A unitPrice at or above basePrice
// yields zero.
func DiscountPercent(basePrice, unitPrice decimal.Decimal) decimal.Decimal {
	if basePrice.LessThanOrEqual(decimal.Zero) || unitPrice.GreaterThanOrEqual(basePrice) {
		return decimal.Zero
	}
	return basePrice.Sub(unitPrice).Div(basePrice).Mul(hundred).Round(2)
}
