// Package aggregate rolls cleaned observations up into per-date statistics.
package aggregate

import (
	"sort"

	"github.com/montanaflynn/stats"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/health-steps/internal/model"
	"github.com/sells-group/health-steps/internal/privacy"
)

// groupByDate returns the values of each date in input order, and the dates
// sorted ascending.
func groupByDate(obs []model.Observation) (map[string][]float64, []string) {
	groups := make(map[string][]float64)
	for _, o := range obs {
		groups[o.Date] = append(groups[o.Date], o.Value)
	}
	dates := make([]string, 0, len(groups))
	for d := range groups {
		dates = append(dates, d)
	}
	sort.Strings(dates)
	return groups, dates
}

// Raw computes the exact sum and record count for each date present in obs.
// Dates without observations do not appear.
func Raw(obs []model.Observation) []model.DailyRawAggregate {
	groups, dates := groupByDate(obs)

	out := make([]model.DailyRawAggregate, 0, len(dates))
	for _, d := range dates {
		values := groups[d]
		// Sum only fails on empty input, which a group never is.
		sum, _ := stats.Sum(values)
		out = append(out, model.DailyRawAggregate{
			Date:        d,
			StepCount:   sum,
			StepEntries: int64(len(values)),
		})
	}
	return out
}

// Private computes the noised sum and noised nonzero count for each date
// present in obs. Bounds are inferred per date from that date's values only,
// and each statistic spends the full budget.Epsilon.
func Private(obs []model.Observation, budget privacy.Budget, mech privacy.Noise) ([]model.DailyPrivateAggregate, error) {
	if err := budget.Validate(); err != nil {
		return nil, err
	}
	log := zap.L().With(zap.String("component", "aggregate.private"))

	groups, dates := groupByDate(obs)

	out := make([]model.DailyPrivateAggregate, 0, len(dates))
	for _, d := range dates {
		values := groups[d]
		lower, upper, err := budget.Bounds.Infer(values)
		if err != nil {
			return nil, eris.Wrapf(err, "aggregate: bounds for %s", d)
		}

		log.Debug("noising date",
			zap.String("date", d),
			zap.String("policy", budget.Bounds.Name()),
			zap.Float64("lower", lower),
			zap.Float64("upper", upper),
			zap.Int("entries", len(values)),
		)

		sum, err := privacy.BoundedSum(values, lower, upper, budget.Epsilon, mech)
		if err != nil {
			return nil, eris.Wrapf(err, "aggregate: sum for %s", d)
		}
		count, err := privacy.CountNonzero(values, budget.Epsilon, mech)
		if err != nil {
			return nil, eris.Wrapf(err, "aggregate: count for %s", d)
		}

		out = append(out, model.DailyPrivateAggregate{
			Date:          d,
			DPStepCount:   sum,
			DPStepEntries: count,
		})
	}
	return out, nil
}
