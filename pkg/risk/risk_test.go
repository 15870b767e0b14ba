package risk

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/medwatch/bedcast/pkg"
)

func TestClassifyBoundaries(t *testing.T) {
	c := Default()

	tests := []struct {
		name string
		util float64
		want pkg.RiskBand
	}{
		{"zero", 0, pkg.RiskLow},
		{"well_below_elevated", 50, pkg.RiskLow},
		{"just_below_elevated", 69.9, pkg.RiskLow},
		{"elevated_edge_inclusive", 70.0, pkg.RiskMedium},
		{"mid_band", 80, pkg.RiskMedium},
		{"just_below_critical", 84.9, pkg.RiskMedium},
		{"critical_edge_inclusive", 85.0, pkg.RiskHigh},
		{"over_capacity", 120, pkg.RiskHigh},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, c.Classify(tt.util))
		})
	}
}

func TestClassifyMonotonic(t *testing.T) {
	c := Default()
	prev := c.Classify(0)
	for u := 0.5; u <= 150; u += 0.5 {
		band := c.Classify(u)
		assert.GreaterOrEqual(t, int(band), int(prev), "band regressed at utilization %.1f", u)
		prev = band
	}
}

func TestClassifyOccupancy(t *testing.T) {
	c := Default()

	assert.Equal(t, pkg.RiskLow, c.ClassifyOccupancy(100, 200))
	assert.Equal(t, pkg.RiskMedium, c.ClassifyOccupancy(140, 200))
	assert.Equal(t, pkg.RiskHigh, c.ClassifyOccupancy(170, 200))

	// Zero capacity classifies as low rather than dividing by zero.
	assert.Equal(t, pkg.RiskLow, c.ClassifyOccupancy(50, 0))
}

func TestCustomThresholds(t *testing.T) {
	c := NewClassifier(50, 90)
	assert.Equal(t, pkg.RiskLow, c.Classify(49.9))
	assert.Equal(t, pkg.RiskMedium, c.Classify(50))
	assert.Equal(t, pkg.RiskMedium, c.Classify(89.9))
	assert.Equal(t, pkg.RiskHigh, c.Classify(90))
}

func TestUtilization(t *testing.T) {
	assert.InDelta(t, 50.0, Utilization(100, 200), 1e-9)
	assert.InDelta(t, 0.0, Utilization(0, 200), 1e-9)
	assert.Equal(t, 0.0, Utilization(100, 0))
}
