// Package compare ranks facilities by blended current and forecast
// availability and suggests alternate facilities near a crowded one.
package compare

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/stat"

	"github.com/medwatch/bedcast/pkg"
	"github.com/medwatch/bedcast/pkg/logx"
	"github.com/medwatch/bedcast/pkg/risk"
)

// Forecaster is the capability the ranking engine needs from the forecasting
// layer. Implementations must be safe for concurrent use with independent
// inputs.
type Forecaster interface {
	Forecast(series *pkg.TimeSeries, horizonDays int) ([]pkg.ForecastPoint, *pkg.ModelInfo, error)
}

// Ranking constants.
const (
	forecastWindowDays = 7 // averaging window for the forecast half of the score
	maxAlternates      = 3
)

// Options configures a comparison engine.
type Options struct {
	// MinObservations gates forecasting: shorter histories fall back to the
	// current occupancy instead of attempting a fit.
	MinObservations int
	// MaxConcurrentFits bounds the ranking worker pool.
	MaxConcurrentFits int
}

// Engine ranks facility snapshots. Per-facility forecasts are independent
// and side-effect-free, so they run in parallel through a bounded pool.
type Engine struct {
	forecaster Forecaster
	classifier *risk.Classifier
	opts       Options
	logger     *logx.Logger
}

// New creates a comparison engine.
func New(forecaster Forecaster, classifier *risk.Classifier, opts Options, logger *logx.Logger) *Engine {
	if opts.MinObservations < 1 {
		opts.MinObservations = 14
	}
	if opts.MaxConcurrentFits < 1 {
		opts.MaxConcurrentFits = 4
	}
	if classifier == nil {
		classifier = risk.Default()
	}
	if logger == nil {
		logger = logx.NewLogger("info", "compare")
	}
	return &Engine{forecaster: forecaster, classifier: classifier, opts: opts, logger: logger}
}

// Rank scores every snapshot and returns entries sorted descending by
// composite score, ties broken by ascending facility ID. An empty input
// fails with EmptyFacilitySetError; a degenerate fit for any facility fails
// the whole request rather than silently dropping the facility.
func (e *Engine) Rank(ctx context.Context, snapshots []pkg.FacilitySnapshot) ([]pkg.ComparisonEntry, error) {
	if len(snapshots) == 0 {
		return nil, &pkg.EmptyFacilitySetError{}
	}

	entries := make([]pkg.ComparisonEntry, len(snapshots))
	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(e.opts.MaxConcurrentFits)
	for i, snap := range snapshots {
		g.Go(func() error {
			entry, err := e.score(snap)
			if err != nil {
				return fmt.Errorf("facility %d: %w", snap.FacilityID, err)
			}
			entries[i] = entry
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].CompositeScore != entries[j].CompositeScore {
			return entries[i].CompositeScore > entries[j].CompositeScore
		}
		return entries[i].FacilityID < entries[j].FacilityID
	})
	for i := range entries {
		entries[i].Rank = i + 1
	}

	e.logger.Debug("Ranked facilities", "count", len(entries))
	return entries, nil
}

// score computes the composite availability score for one facility. The
// forecast half averages a 7-day forecast when enough history exists and
// falls back to the current occupancy otherwise (forecasting is skipped, not
// attempted).
func (e *Engine) score(snap pkg.FacilitySnapshot) (pkg.ComparisonEntry, error) {
	if snap.Capacity <= 0 {
		return pkg.ComparisonEntry{}, fmt.Errorf("capacity must be positive, got %d", snap.Capacity)
	}

	avgForecast := float64(snap.CurrentOccupied)
	if snap.History.Len() >= e.opts.MinObservations {
		points, _, err := e.forecaster.Forecast(snap.History, forecastWindowDays)
		if err != nil {
			return pkg.ComparisonEntry{}, err
		}
		predicted := make([]float64, len(points))
		for i, p := range points {
			predicted[i] = p.Predicted
		}
		avgForecast = stat.Mean(predicted, nil)
	}

	capacity := float64(snap.Capacity)
	currentScore := clampScore((capacity - float64(snap.CurrentOccupied)) / capacity * 50)
	forecastScore := clampScore((capacity - avgForecast) / capacity * 50)
	util := risk.Utilization(float64(snap.CurrentOccupied), snap.Capacity)

	return pkg.ComparisonEntry{
		FacilityID:          snap.FacilityID,
		Name:                snap.Name,
		Location:            snap.Location,
		CurrentOccupied:     snap.CurrentOccupied,
		CurrentAvailable:    snap.Capacity - snap.CurrentOccupied,
		UtilizationPct:      roundTenth(util),
		AvgForecastOccupied: roundTenth(avgForecast),
		CurrentScore:        roundTenth(currentScore),
		ForecastScore:       roundTenth(forecastScore),
		CompositeScore:      roundTenth(currentScore + forecastScore),
		Band:                e.classifier.Classify(util),
	}, nil
}

// Alternates selects up to three facilities that share a location token with
// the subject, excluding the subject itself, whose current utilization sits
// below the elevated threshold. Results are ordered deterministically by
// ascending utilization, then ascending facility ID.
func (e *Engine) Alternates(subject pkg.FacilitySnapshot, candidates []pkg.FacilitySnapshot) []pkg.FacilitySnapshot {
	token := locationToken(subject.Location)

	type scored struct {
		snap pkg.FacilitySnapshot
		util float64
	}
	var matches []scored
	for _, c := range candidates {
		if c.FacilityID == subject.FacilityID || c.Capacity <= 0 {
			continue
		}
		if token != "" && !strings.Contains(strings.ToLower(c.Location), token) {
			continue
		}
		util := risk.Utilization(float64(c.CurrentOccupied), c.Capacity)
		if e.classifier.Classify(util) != pkg.RiskLow {
			continue
		}
		matches = append(matches, scored{snap: c, util: util})
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].util != matches[j].util {
			return matches[i].util < matches[j].util
		}
		return matches[i].snap.FacilityID < matches[j].snap.FacilityID
	})

	if len(matches) > maxAlternates {
		matches = matches[:maxAlternates]
	}
	result := make([]pkg.FacilitySnapshot, len(matches))
	for i, m := range matches {
		result[i] = m.snap
	}
	return result
}

// locationToken extracts the leading city token of a location string.
func locationToken(location string) string {
	token := strings.SplitN(location, ",", 2)[0]
	return strings.ToLower(strings.TrimSpace(token))
}

func clampScore(v float64) float64 {
	return math.Max(0, math.Min(50, v))
}

func roundTenth(v float64) float64 {
	return math.Round(v*10) / 10
}
