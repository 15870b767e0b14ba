// Package prepare turns raw historical occupancy records into clean, ordered
// time series ready for model fitting.
package prepare

import (
	"fmt"
	"sort"
	"time"

	"github.com/medwatch/bedcast/pkg"
)

// DefaultMinObservations is the minimum number of distinct dated observations
// required for a stable weekly-seasonality fit.
const DefaultMinObservations = 14

// Preparator validates and orders raw observations.
type Preparator struct {
	minObservations int
}

// New creates a preparator requiring at least minObservations distinct dates.
func New(minObservations int) *Preparator {
	if minObservations < 1 {
		minObservations = DefaultMinObservations
	}
	return &Preparator{minObservations: minObservations}
}

// Default returns a preparator with the standard 14-observation minimum.
func Default() *Preparator {
	return New(DefaultMinObservations)
}

// Prepare builds a TimeSeries from raw observations and a fixed capacity.
// Observations are normalized to UTC midnight and sorted ascending by date.
// It fails with DuplicateObservationError when two observations share a date
// and with InsufficientDataError when fewer than the minimum distinct dates
// are supplied.
func (p *Preparator) Prepare(records []pkg.Observation, capacity int) (*pkg.TimeSeries, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("capacity must be positive, got %d", capacity)
	}

	obs := make([]pkg.Observation, 0, len(records))
	for _, r := range records {
		if r.Occupied < 0 {
			return nil, fmt.Errorf("negative occupied count %d on %s", r.Occupied, r.Date.Format("2006-01-02"))
		}
		obs = append(obs, pkg.Observation{
			Date:     midnightUTC(r.Date),
			Occupied: r.Occupied,
		})
	}

	sort.Slice(obs, func(i, j int) bool { return obs[i].Date.Before(obs[j].Date) })

	for i := 1; i < len(obs); i++ {
		if obs[i].Date.Equal(obs[i-1].Date) {
			return nil, &pkg.DuplicateObservationError{Date: obs[i].Date}
		}
	}

	if len(obs) < p.minObservations {
		return nil, &pkg.InsufficientDataError{Have: len(obs), Need: p.minObservations}
	}

	return &pkg.TimeSeries{Capacity: capacity, Observations: obs}, nil
}

// FromDailyRecords extracts forecastable observations from ingested daily
// records. ICU and patient-flow counters are dropped; only total occupied
// beds feed the model.
func FromDailyRecords(records []pkg.DailyRecord) []pkg.Observation {
	obs := make([]pkg.Observation, 0, len(records))
	for _, r := range records {
		obs = append(obs, pkg.Observation{Date: r.Date, Occupied: r.OccupiedBeds})
	}
	return obs
}

func midnightUTC(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
