package privacy

import (
	"fmt"
	"math"

	"github.com/montanaflynn/stats"
	"github.com/rotisserie/eris"
)

// Policy names accepted by ParseBounds.
const (
	PolicyAutoLocal = "auto-local"
	PolicyExplicit  = "explicit"
)

// autoLocalLower is the fixed lower clipping bound of the auto-local policy.
const autoLocalLower = 1.0

// BoundsPolicy chooses the clipping range for one date's values.
type BoundsPolicy interface {
	// Infer returns [lower, upper] for values. values is non-empty.
	Infer(values []float64) (lower, upper float64, err error)
	// Name identifies the policy in logs.
	Name() string
}

// AutoLocal clips to [1, max(values)] using only the date's own values.
type AutoLocal struct{}

func (AutoLocal) Name() string { return PolicyAutoLocal }

func (AutoLocal) Infer(values []float64) (float64, float64, error) {
	upper, err := stats.Max(values)
	if err != nil {
		return 0, 0, eris.Wrap(err, "privacy: infer upper bound")
	}
	// A day whose largest value is below the floor collapses to [1, 1].
	return autoLocalLower, math.Max(upper, autoLocalLower), nil
}

// Explicit clips every date to the same configured range.
type Explicit struct {
	Lower float64
	Upper float64
}

func (Explicit) Name() string { return PolicyExplicit }

func (e Explicit) Infer([]float64) (float64, float64, error) {
	return e.Lower, e.Upper, nil
}

// ParseBounds resolves the configured policy. Explicit lower and upper bounds
// are used whenever both are supplied and the policy is not auto-local; an
// unknown policy name without them is a ConfigError.
func ParseBounds(policy string, lower, upper *float64) (BoundsPolicy, error) {
	if policy == PolicyAutoLocal {
		return AutoLocal{}, nil
	}
	if lower == nil || upper == nil {
		if policy == PolicyExplicit {
			return nil, &ConfigError{Reason: "explicit bounds policy requires lower and upper bounds"}
		}
		return nil, &ConfigError{Reason: fmt.Sprintf("unknown bounds policy %q and no explicit bounds supplied", policy)}
	}
	if math.IsNaN(*lower) || math.IsNaN(*upper) || *lower > *upper {
		return nil, &ConfigError{Reason: fmt.Sprintf("invalid explicit bounds [%v, %v]", *lower, *upper)}
	}
	return Explicit{Lower: *lower, Upper: *upper}, nil
}
