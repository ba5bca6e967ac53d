package model

import "time"

// StepCountType is the HealthKit identifier for step count samples.
const StepCountType = "HKQuantityTypeIdentifierStepCount"

// MeasurementRecord is one <Record> element from a health export, as found in
// the source. Value and the dates are kept as raw attribute text; the cleaner
// coerces them. Optional provenance attributes are nil when absent.
type MeasurementRecord struct {
	Type          string  `json:"type"`
	SourceName    *string `json:"source_name,omitempty"`
	SourceVersion *string `json:"source_version,omitempty"`
	Unit          *string `json:"unit,omitempty"`
	Value         string  `json:"value"`
	CreationDate  string  `json:"creation_date"`
	StartDate     string  `json:"start_date"`
	EndDate       string  `json:"end_date"`
}

// Observation is a cleaned MeasurementRecord with typed fields and the
// calendar date it is attributed to.
type Observation struct {
	Record    MeasurementRecord `json:"record"`
	Value     float64           `json:"value"`
	CreatedAt time.Time         `json:"created_at"`
	StartAt   time.Time         `json:"start_at"`
	EndAt     time.Time         `json:"end_at"`
	Date      string            `json:"date"` // YYYY-MM-DD of EndAt
}

// DateLayout formats the calendar-day keys used throughout the pipeline.
const DateLayout = "2006-01-02"
