// Package poolspec handles validation of organizer-submitted pool creation
// specs and their conversion into engine pools.
package poolspec

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/savannacommerce/pool-engine/internal/model"
	"github.com/savannacommerce/pool-engine/internal/pricing"
)

var (
	ErrMissingProduct     = errors.New("poolspec: product_id is required")
	ErrInvalidTarget      = errors.New("poolspec: target_quantity must be positive")
	ErrInvalidMinParts    = errors.New("poolspec: min_participants must be positive")
	ErrInvalidMaxParts    = errors.New("poolspec: max_participants must be zero or >= min_participants")
	ErrInvalidWindow      = errors.New("poolspec: closes_at must be after opens_at")
	ErrNegativeGrace      = errors.New("poolspec: lock_grace_seconds must be >= 0")
)

// DefaultLockGraceSeconds applies when a spec omits the grace window.
const DefaultLockGraceSeconds = 30

// Spec is an organizer's request to create a pool.
type Spec struct {
	ProductID        string            `json:"product_id"`
	ProductCategory  string            `json:"product_category"`
	Location         string            `json:"location"`
	OrganizerID      string            `json:"organizer_id"`
	TargetQuantity   int64             `json:"target_quantity"`
	MinParticipants  int               `json:"min_participants"`
	MaxParticipants  int               `json:"max_participants"`
	OpensAt          time.Time         `json:"opens_at"`
	ClosesAt         time.Time         `json:"closes_at"`
	LockGraceSeconds *int              `json:"lock_grace_seconds,omitempty"`
	BasePrice        decimal.Decimal   `json:"base_price"`
	Tiers            []model.PriceTier `json:"tiers"`
}

// Validate checks the spec is internally consistent, including the pricing
// schedule's monotonicity. Invalid specs are rejected synchronously at
// creation; the engine never sees them.
func (s *Spec) Validate() error {
	if s.ProductID == "" {
		return ErrMissingProduct
	}
	if s.TargetQuantity <= 0 {
		return ErrInvalidTarget
	}
	if s.MinParticipants <= 0 {
		return ErrInvalidMinParts
	}
	if s.MaxParticipants != 0 && s.MaxParticipants < s.MinParticipants {
		return ErrInvalidMaxParts
	}
	if !s.ClosesAt.After(s.OpensAt) {
		return ErrInvalidWindow
	}
	if s.LockGraceSeconds != nil && *s.LockGraceSeconds < 0 {
		return ErrNegativeGrace
	}
	if err := pricing.ValidateSchedule(s.BasePrice, s.Tiers); err != nil {
		return fmt.Errorf("poolspec: %w", err)
	}
	return nil
}

// NewPool converts a validated spec into an Open pool with a fresh ID and
// zeroed aggregates. A nil LockGraceSeconds gets the default; an explicit 0
// disables the grace window.
func (s *Spec) NewPool(now time.Time) *model.Pool {
	grace := DefaultLockGraceSeconds
	if s.LockGraceSeconds != nil {
		grace = *s.LockGraceSeconds
	}
	return &model.Pool{
		ID:               uuid.New().String(),
		ProductID:        s.ProductID,
		ProductCategory:  s.ProductCategory,
		Location:         s.Location,
		OrganizerID:      s.OrganizerID,
		TargetQuantity:   s.TargetQuantity,
		MinParticipants:  s.MinParticipants,
		MaxParticipants:  s.MaxParticipants,
		OpensAt:          s.OpensAt,
		ClosesAt:         s.ClosesAt,
		LockGraceSeconds: grace,
		BasePrice:        s.BasePrice,
		Tiers:            append([]model.PriceTier(nil), s.Tiers...),
		State:            model.PoolOpen,
		CreatedAt:        now,
	}
}
