package privacy

import (
	"math"

	"github.com/rotisserie/eris"
)

// Each date is one partition and a contributor touches it at most once.
const l0Sensitivity = 1

// BoundedSum clips each value into [lower, upper], sums them, and adds
// Laplace noise with scale max(|lower|, |upper|) / epsilon. The result is
// rounded to a whole number of steps.
func BoundedSum(values []float64, lower, upper, epsilon float64, mech Noise) (int64, error) {
	var sum float64
	for _, v := range values {
		sum += clip(v, lower, upper)
	}
	sensitivity := math.Max(math.Abs(lower), math.Abs(upper))
	if sensitivity == 0 {
		// Every value clipped to zero.
		return int64(math.Round(sum)), nil
	}

	noisy, err := mech.AddNoiseFloat64(sum, l0Sensitivity, sensitivity, epsilon, 0)
	if err != nil {
		return 0, eris.Wrap(err, "privacy: noise sum")
	}
	return int64(math.Round(noisy)), nil
}

// CountNonzero counts values that are not zero and adds discrete Laplace
// noise calibrated to epsilon with sensitivity 1. The result never goes below 0.
func CountNonzero(values []float64, epsilon float64, mech Noise) (int64, error) {
	var n int64
	for _, v := range values {
		if v != 0 {
			n++
		}
	}
	noisy, err := mech.AddNoiseInt64(n, l0Sensitivity, 1, epsilon, 0)
	if err != nil {
		return 0, eris.Wrap(err, "privacy: noise count")
	}
	if noisy < 0 {
		return 0, nil
	}
	return noisy, nil
}

func clip(v, lower, upper float64) float64 {
	return math.Min(math.Max(v, lower), upper)
}
