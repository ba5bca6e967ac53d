package privacy

import (
	"github.com/google/differential-privacy/go/v3/noise"
)

// Noise adds calibrated noise to a single statistic. The Laplace mechanism
// from github.com/google/differential-privacy/go/v3/noise satisfies it.
type Noise interface {
	AddNoiseFloat64(x float64, l0Sensitivity int64, lInfSensitivity, epsilon, delta float64) (float64, error)
	AddNoiseInt64(x, l0Sensitivity, lInfSensitivity int64, epsilon, delta float64) (int64, error)
}

// Laplace returns the production mechanism. Draws come from a
// cryptographically secure source; integers get discrete noise.
func Laplace() Noise {
	return noise.Laplace()
}
