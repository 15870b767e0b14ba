package pkg

import (
	"encoding/json"
	"fmt"
	"time"
)

// Observation is one day of occupancy data for a single facility.
type Observation struct {
	Date     time.Time `json:"date"`
	Occupied int       `json:"occupied_beds"`
}

// TimeSeries is an ordered sequence of observations for one facility with a
// fixed bed capacity. Dates are strictly increasing and unique. A series is
// built fresh per request and must not be mutated after construction.
type TimeSeries struct {
	Capacity     int           `json:"capacity"`
	Observations []Observation `json:"observations"`
}

// Len returns the number of observations in the series.
func (ts *TimeSeries) Len() int {
	if ts == nil {
		return 0
	}
	return len(ts.Observations)
}

// Start returns the date of the first observation.
func (ts *TimeSeries) Start() time.Time {
	return ts.Observations[0].Date
}

// End returns the date of the last observation.
func (ts *TimeSeries) End() time.Time {
	return ts.Observations[len(ts.Observations)-1].Date
}

// ForecastPoint is a single forecast day with a 95% uncertainty band.
// Invariant: 0 <= Lower <= Predicted <= Upper.
type ForecastPoint struct {
	Date      time.Time `json:"date"`
	Predicted float64   `json:"predicted_occupancy"`
	Lower     float64   `json:"lower_bound"`
	Upper     float64   `json:"upper_bound"`
}

// DateRange is the observed span of a fitted series.
type DateRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// TrendSummary is a linear trend diagnostic reported alongside a fit. It is
// informational only; no downstream logic consumes it.
type TrendSummary struct {
	Slope     float64 `json:"slope"` // beds per day
	RSquared  float64 `json:"r_squared"`
	Direction string  `json:"direction"` // "increasing", "decreasing", "stable"
}

// ModelInfo describes a completed model fit for observability and debugging.
type ModelInfo struct {
	Model           string        `json:"model"`
	TrainingSamples int           `json:"training_samples"`
	DateRange       DateRange     `json:"date_range"`
	TrainedAt       time.Time     `json:"trained_at"`
	Trend           *TrendSummary `json:"trend,omitempty"`
}

// RiskBand is an ordinal utilization severity classification. Bands are
// totally ordered: RiskLow < RiskMedium < RiskHigh.
type RiskBand int

const (
	RiskLow RiskBand = iota
	RiskMedium
	RiskHigh
)

// String returns the wire name of the band.
func (b RiskBand) String() string {
	switch b {
	case RiskLow:
		return "low"
	case RiskMedium:
		return "medium"
	case RiskHigh:
		return "high"
	default:
		return "unknown"
	}
}

// MarshalJSON encodes the band as its string name.
func (b RiskBand) MarshalJSON() ([]byte, error) {
	return json.Marshal(b.String())
}

// UnmarshalJSON decodes a band from its string name.
func (b *RiskBand) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	switch s {
	case "low":
		*b = RiskLow
	case "medium":
		*b = RiskMedium
	case "high":
		*b = RiskHigh
	default:
		return fmt.Errorf("unknown risk band %q", s)
	}
	return nil
}

// Alert warns about a forecast day with elevated utilization. Alerts are only
// emitted for medium and high bands.
type Alert struct {
	Date              time.Time `json:"date"`
	Band              RiskBand  `json:"severity"`
	PredictedOccupied float64   `json:"predicted_occupancy"`
	UtilizationPct    float64   `json:"utilization_percentage"`
	Message           string    `json:"message"`
}

// Facility is the static record for one facility.
type Facility struct {
	ID       int    `json:"id"`
	Name     string `json:"name"`
	Location string `json:"location"`
	Beds     int    `json:"total_beds"`
	ICUBeds  int    `json:"icu_beds"`
}

// DailyRecord is one ingested day of operational counts for a facility.
// Only OccupiedBeds feeds the forecasting engine; the ICU and flow counters
// are carried for dashboards.
type DailyRecord struct {
	Date           time.Time `json:"date"`
	OccupiedBeds   int       `json:"occupied_beds"`
	ICUOccupied    int       `json:"icu_occupied"`
	Admissions     int       `json:"admissions"`
	Discharges     int       `json:"discharges"`
	EmergencyCases int       `json:"emergency_cases"`
}

// FacilitySnapshot is the read-only per-facility input to the ranking engine,
// assembled fresh per request from collaborator data.
type FacilitySnapshot struct {
	FacilityID      int         `json:"facility_id"`
	Name            string      `json:"name"`
	Location        string      `json:"location"`
	Capacity        int         `json:"capacity"`
	CurrentOccupied int         `json:"current_occupied"`
	History         *TimeSeries `json:"-"`
}

// ComparisonEntry is one ranked facility in a comparison result.
// CompositeScore is in [0,100]; higher means more available. Rank starts at 1.
type ComparisonEntry struct {
	FacilityID          int      `json:"facility_id"`
	Name                string   `json:"name"`
	Location            string   `json:"location"`
	CurrentOccupied     int      `json:"current_occupancy"`
	CurrentAvailable    int      `json:"current_available"`
	UtilizationPct      float64  `json:"utilization_percentage"`
	AvgForecastOccupied float64  `json:"avg_predicted_occupancy_7_days"`
	CurrentScore        float64  `json:"current_score"`
	ForecastScore       float64  `json:"forecast_score"`
	CompositeScore      float64  `json:"composite_score"`
	Band                RiskBand `json:"risk_level"`
	Rank                int      `json:"rank"`
}
