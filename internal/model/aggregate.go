package model

// Metric names in the published artifacts. Consumers key on these.
const (
	MetricStepCount     = "step_count"
	MetricStepEntries   = "step_entries"
	MetricDPStepCount   = "dp_step_count"
	MetricDPStepEntries = "dp_step_entries"
)

// DailyRawAggregate holds exact statistics for one calendar date.
type DailyRawAggregate struct {
	Date        string  `json:"date"`
	StepCount   float64 `json:"step_count"`
	StepEntries int64   `json:"step_entries"`
}

// DailyPrivateAggregate holds differentially-private statistics for one
// calendar date.
type DailyPrivateAggregate struct {
	Date          string `json:"date"`
	DPStepCount   int64  `json:"dp_step_count"`
	DPStepEntries int64  `json:"dp_step_entries"`
}

// Metrics returns the artifact row for the aggregate.
func (a DailyRawAggregate) Metrics() map[string]float64 {
	return map[string]float64{
		MetricStepCount:   a.StepCount,
		MetricStepEntries: float64(a.StepEntries),
	}
}

// Metrics returns the artifact row for the aggregate.
func (a DailyPrivateAggregate) Metrics() map[string]float64 {
	return map[string]float64{
		MetricDPStepCount:   float64(a.DPStepCount),
		MetricDPStepEntries: float64(a.DPStepEntries),
	}
}
