// Package privacy implements the two differential-privacy releases the
// pipeline publishes: a Laplace-noised bounded sum and a discrete
// Laplace-noised nonzero count.
//
// Two policy choices are configurable rather than fixed: each statistic
// spends the full epsilon (sum and count are not split), and the auto-local
// bounds policy derives the clipping range from the date's own data, so
// sensitivity is data-dependent. Both weaken the guarantee relative to a
// fixed public bound and a split budget.
package privacy

import (
	"fmt"
	"math"
)

// ConfigError reports an unusable privacy budget.
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string {
	return "privacy: " + e.Reason
}

// Budget is the privacy configuration applied to every date.
type Budget struct {
	Epsilon float64
	Bounds  BoundsPolicy
}

// MinEpsilon is the smallest epsilon the noise mechanism accepts.
const MinEpsilon = 1.0 / (1 << 50)

// Validate rejects non-positive or non-finite epsilon and a missing bounds policy.
func (b Budget) Validate() error {
	if math.IsNaN(b.Epsilon) || math.IsInf(b.Epsilon, 0) || b.Epsilon <= 0 {
		return &ConfigError{Reason: fmt.Sprintf("epsilon must be positive and finite, got %v", b.Epsilon)}
	}
	if b.Epsilon < MinEpsilon {
		return &ConfigError{Reason: fmt.Sprintf("epsilon must be at least 2^-50, got %v", b.Epsilon)}
	}
	if b.Bounds == nil {
		return &ConfigError{Reason: "bounds policy is required"}
	}
	return nil
}
