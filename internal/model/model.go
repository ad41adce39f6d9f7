// Package model defines the core domain types shared across the pool engine.
// All monetary values use shopspring/decimal, never float64.
// Quantities are whole units and use int64.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// PoolState is the lifecycle state of a pool.
type PoolState string

const (
	PoolOpen      PoolState = "open"
	PoolLocking   PoolState = "locking"
	PoolSettling  PoolState = "settling"
	PoolCompleted PoolState = "completed"
	PoolExpired   PoolState = "expired"
	PoolCancelled PoolState = "cancelled"
)

// Terminal reports whether the state admits no further transitions.
func (s PoolState) Terminal() bool {
	return s == PoolCompleted || s == PoolExpired || s == PoolCancelled
}

// CommitmentSource distinguishes manual joins from auto-enrollment joins.
type CommitmentSource string

const (
	SourceManual CommitmentSource = "manual"
	SourceAuto   CommitmentSource = "auto"
)

// CommitmentStatus is the lifecycle status of a single commitment.
type CommitmentStatus string

const (
	CommitmentActive    CommitmentStatus = "active"
	CommitmentWithdrawn CommitmentStatus = "withdrawn"
	CommitmentSettled   CommitmentStatus = "settled"
)

// PriceTier is one rung of a pool's pricing schedule: the unit price that
// applies once committed quantity reaches MinQuantity.
type PriceTier struct {
	MinQuantity int64           `json:"min_quantity" db:"min_quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price" db:"unit_price"`
}

// Pool represents one bulk-purchase campaign for a single product.
// CommittedQuantity and ParticipantCount are cached aggregates and must
// always equal the sum/count over active commitments; the engine recomputes
// them under the pool's lock, never out of band.
type Pool struct {
	ID              string `json:"id" db:"id"`
	ProductID       string `json:"product_id" db:"product_id"`
	ProductCategory string `json:"product_category" db:"product_category"`
	Location        string `json:"location" db:"location"`
	OrganizerID     string `json:"organizer_id" db:"organizer_id"`

	TargetQuantity  int64 `json:"target_quantity" db:"target_quantity"`
	MinParticipants int   `json:"min_participants" db:"min_participants"`
	MaxParticipants int   `json:"max_participants,omitempty" db:"max_participants"` // 0 = unbounded

	OpensAt          time.Time `json:"opens_at" db:"opens_at"`
	ClosesAt         time.Time `json:"closes_at" db:"closes_at"`
	LockGraceSeconds int       `json:"lock_grace_seconds" db:"lock_grace_seconds"`

	BasePrice decimal.Decimal `json:"base_price" db:"base_price"`
	Tiers     []PriceTier     `json:"tiers" db:"tiers"`

	State             PoolState `json:"state" db:"state"`
	CommittedQuantity int64     `json:"committed_quantity" db:"committed_quantity"`
	ParticipantCount  int       `json:"participant_count" db:"participant_count"`

	// LockedAt is the freeze instant, set on entering Locking. Joins that
	// arrived before this instant are honored during the grace window.
	LockedAt *time.Time `json:"locked_at,omitempty" db:"locked_at"`

	// FinalUnitPrice is resolved exactly once at the Locking → Settling
	// boundary and never recomputed afterwards.
	FinalUnitPrice *decimal.Decimal `json:"final_unit_price,omitempty" db:"final_unit_price"`

	FailureReason string    `json:"failure_reason,omitempty" db:"failure_reason"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
}

// GraceDeadline returns the instant the lock grace window closes.
// Only meaningful while the pool is Locking.
func (p *Pool) GraceDeadline() time.Time {
	if p.LockedAt == nil {
		return time.Time{}
	}
	return p.LockedAt.Add(time.Duration(p.LockGraceSeconds) * time.Second)
}

// ThresholdsMet reports whether both the quantity and participation targets
// are satisfied.
func (p *Pool) ThresholdsMet() bool {
	return p.CommittedQuantity >= p.TargetQuantity && p.ParticipantCount >= p.MinParticipants
}

// Commitment is one participant's pledge within a pool. A participant has at
// most one commitment per pool; repeated joins update Quantity in place.
type Commitment struct {
	PoolID        string           `json:"pool_id" db:"pool_id"`
	ParticipantID string           `json:"participant_id" db:"participant_id"`
	Quantity      int64            `json:"quantity" db:"quantity"`
	Source        CommitmentSource `json:"source" db:"source"`
	Status        CommitmentStatus `json:"status" db:"status"`
	JoinedAt      time.Time        `json:"joined_at" db:"joined_at"`
}

// AutoEnrollmentRule is a buyer's standing instruction to join matching pools
// automatically.
type AutoEnrollmentRule struct {
	ID                       string `json:"id" db:"id"`
	ParticipantID            string `json:"participant_id" db:"participant_id"`
	ProductCategory          string `json:"product_category" db:"product_category"`
	Location                 string `json:"location,omitempty" db:"location"` // empty = any
	MaxQuantityPerPool       int64  `json:"max_quantity_per_pool" db:"max_quantity_per_pool"`
	MaxActiveAutoCommitments int    `json:"max_active_auto_commitments" db:"max_active_auto_commitments"`
	Enabled                  bool   `json:"enabled" db:"enabled"`
}

// OrderOutcome records the result of creating one buyer order during
// settlement: either an order ID or a failure reason, never both.
type OrderOutcome struct {
	ParticipantID string `json:"participant_id"`
	Quantity      int64  `json:"quantity"`
	OrderID       string `json:"order_id,omitempty"`
	FailureKind   string `json:"failure_kind,omitempty"` // "transient" or "permanent"
	FailureReason string `json:"failure_reason,omitempty"`
}

// Succeeded reports whether an order was created for this participant.
func (o OrderOutcome) Succeeded() bool {
	return o.OrderID != ""
}

// SettlementRecord is the outcome of converting a locked pool into orders.
// At most one record exists per pool; the pool ID is the idempotency key.
type SettlementRecord struct {
	PoolID         string          `json:"pool_id" db:"pool_id"`
	FinalUnitPrice decimal.Decimal `json:"final_unit_price" db:"final_unit_price"`
	Outcomes       []OrderOutcome  `json:"outcomes" db:"outcomes"`
	SucceededCount int             `json:"succeeded_count" db:"succeeded_count"`
	FailedCount    int             `json:"failed_count" db:"failed_count"`
	SettledAt      time.Time       `json:"settled_at" db:"settled_at"`
}

// PoolEvent identifies a lifecycle event published to the notification and
// WebSocket side channels. Delivery failures never affect engine state.
type PoolEvent string

const (
	EventPoolOpened PoolEvent = "pool_opened"
	EventJoined     PoolEvent = "participant_joined"
	EventLeft       PoolEvent = "participant_left"
	EventLocked     PoolEvent = "pool_locked"
	EventSettling   PoolEvent = "pool_settling"
	EventCompleted  PoolEvent = "pool_completed"
	EventExpired    PoolEvent = "pool_expired"
	EventCancelled  PoolEvent = "pool_cancelled"
)

// PoolStatus is the read model returned to UI callers.
type PoolStatus struct {
	PoolID            string          `json:"pool_id"`
	State             PoolState       `json:"state"`
	CommittedQuantity int64           `json:"committed_quantity"`
	ParticipantCount  int             `json:"participant_count"`
	TargetQuantity    int64           `json:"target_quantity"`
	MinParticipants   int             `json:"min_participants"`
	CurrentTierPrice  decimal.Decimal `json:"current_tier_price"`
	DiscountPercent   decimal.Decimal `json:"discount_percent"`
	TimeRemainingSec  int64           `json:"time_remaining_sec"` // 0 once closed or terminal
}
