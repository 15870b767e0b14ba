package forecast

import (
	"math"
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/medwatch/bedcast/pkg"
)

// Model fits a forecasting model to a prepared time series. Implementations
// must be stateless: Fit returns an isolated FittedModel per call and keeps
// nothing behind.
type Model interface {
	Fit(series *pkg.TimeSeries) (FittedModel, error)
}

// FittedModel projects a fitted series forward. Projected points are raw
// model output; the engine applies rounding and non-negativity clamping.
type FittedModel interface {
	Project(horizonDays int) []pkg.ForecastPoint
	Name() string
}

// ModelOptions tunes the seasonal trend decomposition.
type ModelOptions struct {
	// ChangepointPriorScale controls trend flexibility. It maps to an L2
	// penalty of 1/scale on the changepoint slope deltas, so lower values
	// produce a smoother, more conservative trend.
	ChangepointPriorScale float64
	// MaxChangepoints caps the number of trend changepoints. The effective
	// count also scales with history length so short series stay stable.
	MaxChangepoints int
	// WeeklyFourierOrder is the number of weekly Fourier harmonics.
	WeeklyFourierOrder int
}

// DefaultModelOptions returns the standard decomposition tuning.
func DefaultModelOptions() ModelOptions {
	return ModelOptions{
		ChangepointPriorScale: 0.05,
		MaxChangepoints:       3,
		WeeklyFourierOrder:    3,
	}
}

// seasonalTrendModel decomposes a daily series additively into a piecewise
// linear trend and a weekly Fourier seasonality, fit jointly by penalized
// least squares on the normal equations.
type seasonalTrendModel struct {
	opts ModelOptions
}

// NewSeasonalTrendModel creates the default trend+weekly-seasonality model.
func NewSeasonalTrendModel(opts ModelOptions) Model {
	if opts.ChangepointPriorScale <= 0 {
		opts.ChangepointPriorScale = 0.05
	}
	if opts.WeeklyFourierOrder < 1 {
		opts.WeeklyFourierOrder = 3
	}
	return &seasonalTrendModel{opts: opts}
}

// fittedSeasonalTrend is the isolated result of one fit. It holds everything
// needed to project forward and nothing shared with other fits.
type fittedSeasonalTrend struct {
	beta         *mat.VecDense
	chol         *mat.Cholesky // factorization of X'X + penalty
	residualVar  float64
	changepoints []float64
	fourierOrder int
	lastDate     time.Time
	lastDay      float64
}

func (m *seasonalTrendModel) Fit(series *pkg.TimeSeries) (FittedModel, error) {
	n := series.Len()
	obs := series.Observations
	start := obs[0].Date

	dayIndex := make([]float64, n)
	for i, o := range obs {
		dayIndex[i] = o.Date.Sub(start).Hours() / 24
	}
	span := dayIndex[n-1]

	changepoints := placeChangepoints(span, effectiveChangepoints(n, m.opts.MaxChangepoints))
	order := effectiveFourierOrder(n, len(changepoints), m.opts.WeeklyFourierOrder)
	p := 2 + len(changepoints) + 2*order

	// Design matrix: intercept, base slope, changepoint hinges, Fourier terms.
	x := mat.NewDense(n, p, nil)
	y := mat.NewVecDense(n, nil)
	for i, o := range obs {
		x.SetRow(i, designRow(dayIndex[i], o.Date, changepoints, order))
		y.SetVec(i, float64(o.Occupied))
	}

	// Penalized normal equations: (X'X + L) beta = X'y. The changepoint
	// hinges carry the changepoint prior; everything else gets a vanishing
	// ridge term for numerical stability.
	var xtx mat.SymDense
	xtx.SymOuterK(1, x.T())
	lambda := 1.0 / m.opts.ChangepointPriorScale
	for j := 0; j < p; j++ {
		penalty := 1e-8
		if j >= 2 && j < 2+len(changepoints) {
			penalty = lambda
		}
		xtx.SetSym(j, j, xtx.At(j, j)+penalty)
	}

	chol := &mat.Cholesky{}
	if ok := chol.Factorize(&xtx); !ok {
		return nil, &pkg.FitError{Reason: "singular normal equations"}
	}

	xty := mat.NewVecDense(p, nil)
	xty.MulVec(x.T(), y)

	beta := mat.NewVecDense(p, nil)
	if err := chol.SolveVecTo(beta, xty); err != nil {
		return nil, &pkg.FitError{Reason: "normal equations solve failed", Err: err}
	}
	for j := 0; j < p; j++ {
		if math.IsNaN(beta.AtVec(j)) || math.IsInf(beta.AtVec(j), 0) {
			return nil, &pkg.FitError{Reason: "non-finite model coefficients"}
		}
	}

	// Residual variance with a degrees-of-freedom correction.
	fittedVals := mat.NewVecDense(n, nil)
	fittedVals.MulVec(x, beta)
	var ssr float64
	for i := 0; i < n; i++ {
		r := y.AtVec(i) - fittedVals.AtVec(i)
		ssr += r * r
	}
	dof := float64(n - p)
	if dof < 1 {
		dof = 1
	}

	return &fittedSeasonalTrend{
		beta:         beta,
		chol:         chol,
		residualVar:  ssr / dof,
		changepoints: changepoints,
		fourierOrder: order,
		lastDate:     obs[n-1].Date,
		lastDay:      span,
	}, nil
}

func (f *fittedSeasonalTrend) Name() string { return "seasonal-trend" }

// Project produces one raw forecast point per future day, starting the day
// after the last observation. The 95% band combines residual variance with
// parameter uncertainty: var = s^2 * (1 + x'(X'X+L)^-1 x).
func (f *fittedSeasonalTrend) Project(horizonDays int) []pkg.ForecastPoint {
	points := make([]pkg.ForecastPoint, 0, horizonDays)
	tmp := mat.NewVecDense(f.beta.Len(), nil)

	for h := 1; h <= horizonDays; h++ {
		date := f.lastDate.AddDate(0, 0, h)
		row := designRow(f.lastDay+float64(h), date, f.changepoints, f.fourierOrder)
		xv := mat.NewVecDense(len(row), row)

		pred := mat.Dot(xv, f.beta)

		variance := f.residualVar
		if err := f.chol.SolveVecTo(tmp, xv); err == nil {
			variance = f.residualVar * (1 + mat.Dot(xv, tmp))
		}
		margin := zScore95 * math.Sqrt(math.Max(0, variance))

		points = append(points, pkg.ForecastPoint{
			Date:      date,
			Predicted: pred,
			Lower:     pred - margin,
			Upper:     pred + margin,
		})
	}
	return points
}

// zScore95 is the normal quantile for a 95% interval.
const zScore95 = 1.96

// designRow builds one design matrix row for a given day index and date.
func designRow(day float64, date time.Time, changepoints []float64, order int) []float64 {
	row := make([]float64, 0, 2+len(changepoints)+2*order)
	row = append(row, 1, day)
	for _, cp := range changepoints {
		row = append(row, math.Max(0, day-cp))
	}
	weekday := float64(date.Weekday())
	for k := 1; k <= order; k++ {
		angle := 2 * math.Pi * float64(k) * weekday / 7
		row = append(row, math.Sin(angle), math.Cos(angle))
	}
	return row
}

// placeChangepoints spreads changepoints evenly over the first 80% of the
// observed span, leaving the tail free so recent data anchors extrapolation.
func placeChangepoints(span float64, count int) []float64 {
	if count < 1 || span <= 0 {
		return nil
	}
	cps := make([]float64, count)
	usable := span * 0.8
	for j := 1; j <= count; j++ {
		cps[j-1] = usable * float64(j) / float64(count+1)
	}
	return cps
}

// effectiveChangepoints grants one changepoint per extra week of history
// beyond the two-week minimum, up to the configured cap.
func effectiveChangepoints(n, maxChangepoints int) int {
	earned := (n - 14) / 7
	if earned < 0 {
		earned = 0
	}
	if earned > maxChangepoints {
		earned = maxChangepoints
	}
	return earned
}

// effectiveFourierOrder lowers the harmonic count until the parameter count
// stays at or below half the sample count.
func effectiveFourierOrder(n, changepoints, order int) int {
	for order > 1 && 2+changepoints+2*order > n/2 {
		order--
	}
	return order
}
