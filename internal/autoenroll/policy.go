// Package autoenroll implements auto-enrollment: standing buyer rules are
// matched against newly opened pools and converted into capped join
// requests.
//
// The matcher has no special privilege; it issues the same Join calls any
// buyer would, and is subject to the same lifecycle checks. Its only policy
// is deciding when to call Join and for how much.
package autoenroll

import (
	"errors"

	"github.com/savannacommerce/pool-engine/internal/model"
)

var (
	// ErrRuleDisabled is returned when a disabled rule is evaluated.
	ErrRuleDisabled = errors.New("autoenroll: rule is disabled")

	// ErrAutoCapReached is returned when the participant already holds
	// their maximum number of simultaneous auto-sourced commitments.
	// Manual joins are never constrained by this cap.
	ErrAutoCapReached = errors.New("autoenroll: active auto-commitment cap reached")
)

// Matches reports whether a rule applies to a pool: the product category
// must match, and the rule's location (when set) must match the pool's
// scope.
func Matches(rule *model.AutoEnrollmentRule, pool *model.Pool) bool {
	if rule.ProductCategory != pool.ProductCategory {
		return false
	}
	if rule.Location != "" && rule.Location != pool.Location {
		return false
	}
	return true
}

// CheckCap validates that issuing one more auto-join for this rule's
// participant stays within maxActiveAutoCommitments.
func CheckCap(rule *model.AutoEnrollmentRule, activeAutoCount int) error {
	if !rule.Enabled {
		return ErrRuleDisabled
	}
	if activeAutoCount >= rule.MaxActiveAutoCommitments {
		return ErrAutoCapReached
	}
	return nil
}

// JoinQuantity returns the quantity an auto-join should pledge: the rule's
// per-pool maximum, clipped to the pool's remaining need. Returns 0 when
// the pool needs nothing more.
func JoinQuantity(rule *model.AutoEnrollmentRule, pool *model.Pool) int64 {
	remaining := pool.TargetQuantity - pool.CommittedQuantity
	if remaining <= 0 {
		return 0
	}
	if rule.MaxQuantityPerPool < remaining {
		return rule.MaxQuantityPerPool
	}
	return remaining
}
