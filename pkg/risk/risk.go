// Package risk classifies bed utilization into ordinal severity bands.
//
// The classifier is the single source of threshold truth: forecasting,
// alerting, dashboards and ranking all classify through it rather than
// re-encoding the boundaries locally.
package risk

import (
	"github.com/medwatch/bedcast/pkg"
)

// Default thresholds, overridable through configuration.
const (
	DefaultElevatedPct = 70.0
	DefaultCriticalPct = 85.0
)

// Classifier maps utilization percentages to risk bands. The lower edge of
// each band is inclusive: exactly 70% is medium, exactly 85% is high.
type Classifier struct {
	elevatedPct float64
	criticalPct float64
}

// NewClassifier creates a classifier with the given band boundaries.
func NewClassifier(elevatedPct, criticalPct float64) *Classifier {
	return &Classifier{elevatedPct: elevatedPct, criticalPct: criticalPct}
}

// Default returns a classifier with the standard 70/85 boundaries.
func Default() *Classifier {
	return NewClassifier(DefaultElevatedPct, DefaultCriticalPct)
}

// Classify maps a utilization percentage to a risk band.
func (c *Classifier) Classify(utilizationPct float64) pkg.RiskBand {
	switch {
	case utilizationPct >= c.criticalPct:
		return pkg.RiskHigh
	case utilizationPct >= c.elevatedPct:
		return pkg.RiskMedium
	default:
		return pkg.RiskLow
	}
}

// ClassifyOccupancy classifies an occupied-bed count against a capacity.
// Zero or negative capacity classifies as low risk.
func (c *Classifier) ClassifyOccupancy(occupied float64, capacity int) pkg.RiskBand {
	if capacity <= 0 {
		return pkg.RiskLow
	}
	return c.Classify(Utilization(occupied, capacity))
}

// Utilization converts an occupied-bed count to a percentage of capacity.
// Zero or negative capacity yields 0.
func Utilization(occupied float64, capacity int) float64 {
	if capacity <= 0 {
		return 0
	}
	return occupied / float64(capacity) * 100
}
