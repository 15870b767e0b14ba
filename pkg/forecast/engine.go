// Package forecast projects facility bed occupancy forward with uncertainty
// bounds, decomposing each history into a piecewise linear trend and a weekly
// seasonal component.
package forecast

import (
	"math"
	"time"

	"github.com/sajari/regression"

	"github.com/medwatch/bedcast/pkg"
	"github.com/medwatch/bedcast/pkg/logx"
)

// Default engine bounds.
const (
	DefaultMinObservations = 14
	DefaultMaxHorizonDays  = 30
)

// Options configures a forecasting engine.
type Options struct {
	MinObservations int
	MaxHorizonDays  int
	Model           ModelOptions
}

// DefaultOptions returns the standard engine configuration.
func DefaultOptions() Options {
	return Options{
		MinObservations: DefaultMinObservations,
		MaxHorizonDays:  DefaultMaxHorizonDays,
		Model:           DefaultModelOptions(),
	}
}

// Engine produces occupancy forecasts. It is stateless across calls: every
// Forecast constructs and discards its own fitted model, so concurrent calls
// with different histories never share mutable state.
type Engine struct {
	model           Model
	minObservations int
	maxHorizonDays  int
	logger          *logx.Logger
}

// New creates a forecasting engine.
func New(opts Options, logger *logx.Logger) *Engine {
	if opts.MinObservations < 2 {
		opts.MinObservations = DefaultMinObservations
	}
	if opts.MaxHorizonDays < 1 {
		opts.MaxHorizonDays = DefaultMaxHorizonDays
	}
	if logger == nil {
		logger = logx.NewLogger("info", "forecast")
	}
	return &Engine{
		model:           NewSeasonalTrendModel(opts.Model),
		minObservations: opts.MinObservations,
		maxHorizonDays:  opts.MaxHorizonDays,
		logger:          logger,
	}
}

// NewWithModel creates an engine with a custom model implementation. The
// decomposition algorithm is swappable without touching classification,
// alerting or ranking.
func NewWithModel(opts Options, model Model, logger *logx.Logger) *Engine {
	e := New(opts, logger)
	if model != nil {
		e.model = model
	}
	return e
}

// Forecast fits a model to the series and projects it horizonDays forward.
// Returned points cover consecutive days starting the day after the last
// observation, each with 0 <= Lower <= Predicted <= Upper.
//
// Errors: InvalidHorizonError for a horizon outside [1, max], and although
// the preparator should already have enforced the minimum history, the
// engine defends independently with InsufficientDataError. A degenerate fit
// surfaces as FitError and is terminal for the request.
func (e *Engine) Forecast(series *pkg.TimeSeries, horizonDays int) ([]pkg.ForecastPoint, *pkg.ModelInfo, error) {
	if horizonDays < 1 || horizonDays > e.maxHorizonDays {
		return nil, nil, &pkg.InvalidHorizonError{Horizon: horizonDays, Min: 1, Max: e.maxHorizonDays}
	}
	if series.Len() < e.minObservations {
		return nil, nil, &pkg.InsufficientDataError{Have: series.Len(), Need: e.minObservations}
	}

	started := time.Now()
	fitted, err := e.model.Fit(series)
	if err != nil {
		e.logger.Warn("Model fit failed",
			"samples", series.Len(),
			"horizon_days", horizonDays,
			"error", err)
		return nil, nil, err
	}

	points := fitted.Project(horizonDays)
	for i := range points {
		points[i] = finalize(points[i])
	}

	info := &pkg.ModelInfo{
		Model:           fitted.Name(),
		TrainingSamples: series.Len(),
		DateRange:       pkg.DateRange{Start: series.Start(), End: series.End()},
		TrainedAt:       time.Now().UTC(),
		Trend:           trendSummary(series),
	}

	e.logger.Debug("Forecast completed",
		"samples", series.Len(),
		"horizon_days", horizonDays,
		"fit_duration_ms", time.Since(started).Milliseconds(),
		"first_predicted", points[0].Predicted)

	return points, info, nil
}

// finalize rounds a raw point to whole beds and clamps it non-negative.
// Rounding and max(0, v) are both monotone so the band ordering survives,
// but the invariant is still re-checked: if clamping ever broke it, the
// bounds are pulled to the clamped point estimate.
func finalize(p pkg.ForecastPoint) pkg.ForecastPoint {
	p.Predicted = math.Max(0, math.Round(p.Predicted))
	p.Lower = math.Max(0, math.Round(p.Lower))
	p.Upper = math.Max(0, math.Round(p.Upper))
	if p.Lower > p.Predicted {
		p.Lower = p.Predicted
	}
	if p.Upper < p.Predicted {
		p.Upper = p.Predicted
	}
	return p
}

// trendSummary fits a plain linear regression over the series as a fit
// diagnostic for ModelInfo. A failed diagnostic fit is not an error; the
// summary is simply omitted.
func trendSummary(series *pkg.TimeSeries) *pkg.TrendSummary {
	r := new(regression.Regression)
	r.SetObserved("occupied_beds")
	r.SetVar(0, "day")
	start := series.Start()
	for _, o := range series.Observations {
		day := o.Date.Sub(start).Hours() / 24
		r.Train(regression.DataPoint(float64(o.Occupied), []float64{day}))
	}
	if err := r.Run(); err != nil {
		return nil
	}

	slope := r.Coeff(1)
	direction := "stable"
	if slope > 0.1 {
		direction = "increasing"
	} else if slope < -0.1 {
		direction = "decreasing"
	}
	return &pkg.TrendSummary{
		Slope:     slope,
		RSquared:  r.R2,
		Direction: direction,
	}
}
