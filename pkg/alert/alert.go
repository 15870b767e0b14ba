// Package alert converts elevated-risk forecast points into structured,
// human-readable availability alerts.
package alert

import (
	"fmt"
	"math"

	"github.com/medwatch/bedcast/pkg"
	"github.com/medwatch/bedcast/pkg/logx"
	"github.com/medwatch/bedcast/pkg/risk"
)

// Severity-specific message templates: facility name, utilization, date.
const (
	criticalTemplate = "⚠️ CRITICAL: %s predicted to reach %.1f%% occupancy on %s. Immediate action required to prevent overcrowding."
	warningTemplate  = "⚡ WARNING: %s predicted to reach %.1f%% occupancy on %s. Monitor closely and prepare contingency plans."
)

// Generator builds alerts from forecast points. Thresholds come from the
// shared risk classifier, never from local constants.
type Generator struct {
	classifier *risk.Classifier
	logger     *logx.Logger
}

// New creates an alert generator.
func New(classifier *risk.Classifier, logger *logx.Logger) *Generator {
	if classifier == nil {
		classifier = risk.Default()
	}
	if logger == nil {
		logger = logx.NewLogger("info", "alert")
	}
	return &Generator{classifier: classifier, logger: logger}
}

// Generate emits one alert per forecast point whose band is not low, in
// input (ascending date) order. The alert count always equals the count of
// elevated points.
func (g *Generator) Generate(points []pkg.ForecastPoint, capacity int, facilityName string) []pkg.Alert {
	alerts := make([]pkg.Alert, 0)
	for _, p := range points {
		band := g.classifier.ClassifyOccupancy(p.Predicted, capacity)
		if band == pkg.RiskLow {
			continue
		}

		util := risk.Utilization(p.Predicted, capacity)
		date := p.Date.Format("2006-01-02")
		template := warningTemplate
		if band == pkg.RiskHigh {
			template = criticalTemplate
		}

		alerts = append(alerts, pkg.Alert{
			Date:              p.Date,
			Band:              band,
			PredictedOccupied: p.Predicted,
			UtilizationPct:    roundTenth(util),
			Message:           fmt.Sprintf(template, facilityName, util, date),
		})
	}

	g.logger.Debug("Generated alerts",
		"facility", facilityName,
		"forecast_points", len(points),
		"alerts", len(alerts))

	return alerts
}

// OverallStatus derives a facility-level status from its alerts with
// precedence high > medium > low. With no alerts (including when no forecast
// was available) the current utilization is classified directly.
func (g *Generator) OverallStatus(alerts []pkg.Alert, currentUtilizationPct float64) pkg.RiskBand {
	if len(alerts) == 0 {
		return g.classifier.Classify(currentUtilizationPct)
	}
	status := pkg.RiskLow
	for _, a := range alerts {
		if a.Band > status {
			status = a.Band
		}
	}
	return status
}

func roundTenth(v float64) float64 {
	return math.Round(v*10) / 10
}
