package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/medwatch/bedcast/pkg"
	"github.com/medwatch/bedcast/pkg/prepare"
	"github.com/medwatch/bedcast/pkg/risk"
	"github.com/medwatch/bedcast/pkg/store"
)

// statusUnknown is reported when a facility has no observations at all: "no
// data" is not the same thing as genuinely low utilization.
const statusUnknown = "unknown"

type availabilityResponse struct {
	FacilityID       int        `json:"facility_id"`
	Name             string     `json:"name"`
	Location         string     `json:"location"`
	TotalBeds        int        `json:"total_beds"`
	CurrentOccupied  int        `json:"current_occupied"`
	CurrentAvailable int        `json:"current_available"`
	UtilizationPct   float64    `json:"utilization_percentage"`
	Status           string     `json:"status"`
	LastUpdated      *time.Time `json:"last_updated"`
}

type forecastDay struct {
	Date               string       `json:"date"`
	PredictedOccupied  int          `json:"predicted_occupancy"`
	PredictedAvailable int          `json:"predicted_available"`
	UtilizationPct     float64      `json:"utilization_percentage"`
	RiskLevel          pkg.RiskBand `json:"risk_level"`
}

type forecastResponse struct {
	FacilityID       int           `json:"facility_id"`
	Name             string        `json:"name"`
	Location         string        `json:"location"`
	TotalBeds        int           `json:"total_beds"`
	Forecast         []forecastDay `json:"forecast"`
	BestDayToVisit   string        `json:"best_day_to_visit"`
	BestDayOccupancy int           `json:"best_day_occupancy"`
}

type predictResponse struct {
	FacilityID  int                 `json:"facility_id"`
	Name        string              `json:"name"`
	TotalBeds   int                 `json:"total_beds"`
	Predictions []pkg.ForecastPoint `json:"predictions"`
	ModelInfo   *pkg.ModelInfo      `json:"model_info"`
}

type dashboardHistoryRow struct {
	Date           string  `json:"date"`
	OccupiedBeds   int     `json:"occupied_beds"`
	Admissions     int     `json:"admissions"`
	Discharges     int     `json:"discharges"`
	ICUOccupied    int     `json:"icu_occupied"`
	EmergencyCases int     `json:"emergency_cases"`
	Utilization    float64 `json:"utilization"`
}

type dashboardResponse struct {
	FacilityID         int                   `json:"facility_id"`
	Name               string                `json:"name"`
	Location           string                `json:"location"`
	TotalBeds          int                   `json:"total_beds"`
	ICUBeds            int                   `json:"icu_beds"`
	CurrentOccupied    int                   `json:"current_occupied"`
	CurrentICUOccupied int                   `json:"current_icu_occupied"`
	CurrentUtilization float64               `json:"current_utilization"`
	HistoricalData     []dashboardHistoryRow `json:"historical_data"`
	Predictions        []pkg.ForecastPoint   `json:"predictions"`
	Alerts             []pkg.Alert           `json:"alerts"`
	OverallStatus      pkg.RiskBand          `json:"overall_status"`
}

type recommendResponse struct {
	City        string                `json:"city"`
	Recommended []pkg.ComparisonEntry `json:"recommended_facilities"`
	BestID      int                   `json:"best_facility_id"`
	BestName    string                `json:"best_facility_name"`
	Reason      string                `json:"reason"`
}

type alternateFacility struct {
	ID        int    `json:"id"`
	Name      string `json:"name"`
	Location  string `json:"location"`
	TotalBeds int    `json:"total_beds"`
}

type alertsResponse struct {
	FacilityID int                 `json:"facility_id"`
	Name       string              `json:"name"`
	Alerts     []pkg.Alert         `json:"alerts"`
	Alternates []alternateFacility `json:"alternate_facilities"`
}

const dashboardHistoryDays = 30

// visitForecastMaxDays caps the patient-facing forecast. Planning a visit two
// weeks out is plenty; the longer horizons stay on the predict endpoint.
const visitForecastMaxDays = 14

func (s *Server) handleListFacilities(w http.ResponseWriter, r *http.Request) {
	facilities, err := s.store.ListFacilities(r.URL.Query().Get("city"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, facilities)
}

func (s *Server) handleCreateFacility(w http.ResponseWriter, r *http.Request) {
	var f pkg.Facility
	if err := json.NewDecoder(r.Body).Decode(&f); err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "invalid facility payload"})
		return
	}
	if err := s.store.PutFacility(f); err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"detail": err.Error()})
		return
	}
	s.writeJSON(w, http.StatusCreated, f)
}

func (s *Server) handleAddObservation(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"detail": err.Error()})
		return
	}

	var rec pkg.DailyRecord
	if err := json.NewDecoder(r.Body).Decode(&rec); err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "invalid observation payload"})
		return
	}
	if err := s.store.AddObservation(id, rec); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, rec)
}

func (s *Server) handleAvailability(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"detail": err.Error()})
		return
	}
	facility, err := s.store.GetFacility(id)
	if err != nil {
		s.writeError(w, err)
		return
	}

	resp := availabilityResponse{
		FacilityID:       facility.ID,
		Name:             facility.Name,
		Location:         facility.Location,
		TotalBeds:        facility.Beds,
		CurrentAvailable: facility.Beds,
		Status:           statusUnknown,
	}
	latest, err := s.store.Latest(id)
	if err != nil && !errors.Is(err, store.ErrNoObservations) {
		s.writeError(w, err)
		return
	}
	if latest != nil {
		util := risk.Utilization(float64(latest.OccupiedBeds), facility.Beds)
		resp.CurrentOccupied = latest.OccupiedBeds
		resp.CurrentAvailable = facility.Beds - latest.OccupiedBeds
		resp.UtilizationPct = roundTenth(util)
		resp.Status = s.classifier.Classify(util).String()
		resp.LastUpdated = &latest.Date
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// handleForecast is the patient-facing projection: per-day availability and
// risk plus the least crowded day of the window. Ties go to the earliest day.
func (s *Server) handleForecast(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"detail": err.Error()})
		return
	}

	days := s.cfg.Forecast.DefaultHorizonDays
	if raw := r.URL.Query().Get("days"); raw != "" {
		days, err = strconv.Atoi(raw)
		if err != nil {
			s.writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "days must be an integer"})
			return
		}
	}
	if days < 1 || days > visitForecastMaxDays {
		s.writeError(w, &pkg.InvalidHorizonError{Horizon: days, Min: 1, Max: visitForecastMaxDays})
		return
	}

	facility, err := s.store.GetFacility(id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	points, _, err := s.forecastFacility(facility, days)
	if err != nil {
		s.writeError(w, err)
		return
	}

	resp := forecastResponse{
		FacilityID: facility.ID,
		Name:       facility.Name,
		Location:   facility.Location,
		TotalBeds:  facility.Beds,
		Forecast:   make([]forecastDay, 0, len(points)),
	}
	bestOccupied := -1
	for _, p := range points {
		occupied := int(p.Predicted)
		util := risk.Utilization(p.Predicted, facility.Beds)
		day := forecastDay{
			Date:               p.Date.Format("2006-01-02"),
			PredictedOccupied:  occupied,
			PredictedAvailable: facility.Beds - occupied,
			UtilizationPct:     roundTenth(util),
			RiskLevel:          s.classifier.Classify(util),
		}
		if bestOccupied < 0 || occupied < bestOccupied {
			bestOccupied = occupied
			resp.BestDayToVisit = day.Date
			resp.BestDayOccupancy = occupied
		}
		resp.Forecast = append(resp.Forecast, day)
	}

	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handlePredict(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"detail": err.Error()})
		return
	}

	days := s.cfg.Forecast.DefaultHorizonDays
	if raw := r.URL.Query().Get("days"); raw != "" {
		days, err = strconv.Atoi(raw)
		if err != nil {
			s.writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "days must be an integer"})
			return
		}
	}

	facility, err := s.store.GetFacility(id)
	if err != nil {
		s.writeError(w, err)
		return
	}

	points, info, err := s.forecastFacility(facility, days)
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, predictResponse{
		FacilityID:  facility.ID,
		Name:        facility.Name,
		TotalBeds:   facility.Beds,
		Predictions: points,
		ModelInfo:   info,
	})
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"detail": err.Error()})
		return
	}
	facility, err := s.store.GetFacility(id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	latest, err := s.store.Latest(id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	history, err := s.store.History(id, dashboardHistoryDays)
	if err != nil {
		s.writeError(w, err)
		return
	}

	rows := make([]dashboardHistoryRow, 0, len(history))
	for _, rec := range history {
		rows = append(rows, dashboardHistoryRow{
			Date:           rec.Date.Format("2006-01-02"),
			OccupiedBeds:   rec.OccupiedBeds,
			Admissions:     rec.Admissions,
			Discharges:     rec.Discharges,
			ICUOccupied:    rec.ICUOccupied,
			EmergencyCases: rec.EmergencyCases,
			Utilization:    roundTenth(risk.Utilization(float64(rec.OccupiedBeds), facility.Beds)),
		})
	}

	// The dashboard explicitly tolerates a short history (rendered without a
	// forecast); every other failure mode is surfaced, never degraded to an
	// empty result.
	var alerts []pkg.Alert
	points, _, err := s.forecastFacility(facility, s.cfg.Forecast.DefaultHorizonDays)
	if err != nil {
		var insufficient *pkg.InsufficientDataError
		if !errors.As(err, &insufficient) {
			s.writeError(w, err)
			return
		}
		points = nil
	} else {
		alerts = s.generator.Generate(points, facility.Beds, facility.Name)
		s.metrics.AlertsGenerated.Add(float64(len(alerts)))
	}

	currentUtil := risk.Utilization(float64(latest.OccupiedBeds), facility.Beds)
	s.writeJSON(w, http.StatusOK, dashboardResponse{
		FacilityID:         facility.ID,
		Name:               facility.Name,
		Location:           facility.Location,
		TotalBeds:          facility.Beds,
		ICUBeds:            facility.ICUBeds,
		CurrentOccupied:    latest.OccupiedBeds,
		CurrentICUOccupied: latest.ICUOccupied,
		CurrentUtilization: roundTenth(currentUtil),
		HistoricalData:     rows,
		Predictions:        points,
		Alerts:             alerts,
		OverallStatus:      s.generator.OverallStatus(alerts, currentUtil),
	})
}

func (s *Server) handleCompare(w http.ResponseWriter, r *http.Request) {
	entries, err := s.rankCity(r, r.URL.Query().Get("city"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleRecommend(w http.ResponseWriter, r *http.Request) {
	city := r.PathValue("city")
	entries, err := s.rankCity(r, city)
	if err != nil {
		s.writeError(w, err)
		return
	}

	best := entries[0]
	var reason string
	switch best.Band {
	case pkg.RiskLow:
		reason = fmt.Sprintf("%s has good availability with %d beds available (%.1f%% occupied).",
			best.Name, best.CurrentAvailable, best.UtilizationPct)
	case pkg.RiskMedium:
		reason = fmt.Sprintf("%s is moderately busy but still accepting patients (%.1f%% occupied).",
			best.Name, best.UtilizationPct)
	default:
		reason = fmt.Sprintf("%s is the best option despite high occupancy. Consider calling ahead.", best.Name)
	}

	s.writeJSON(w, http.StatusOK, recommendResponse{
		City:        city,
		Recommended: entries,
		BestID:      best.FacilityID,
		BestName:    best.Name,
		Reason:      reason,
	})
}

func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"detail": err.Error()})
		return
	}
	facility, err := s.store.GetFacility(id)
	if err != nil {
		s.writeError(w, err)
		return
	}

	resp := alertsResponse{
		FacilityID: facility.ID,
		Name:       facility.Name,
		Alerts:     []pkg.Alert{},
		Alternates: []alternateFacility{},
	}

	points, _, err := s.forecastFacility(facility, s.cfg.Forecast.DefaultHorizonDays)
	if err != nil {
		var insufficient *pkg.InsufficientDataError
		if !errors.As(err, &insufficient) {
			s.writeError(w, err)
			return
		}
	} else {
		resp.Alerts = s.generator.Generate(points, facility.Beds, facility.Name)
		s.metrics.AlertsGenerated.Add(float64(len(resp.Alerts)))
	}

	hasHigh := false
	for _, a := range resp.Alerts {
		if a.Band == pkg.RiskHigh {
			hasHigh = true
			break
		}
	}
	if hasHigh || len(resp.Alerts) >= 3 {
		alternates, err := s.findAlternates(facility)
		if err != nil {
			s.writeError(w, err)
			return
		}
		resp.Alternates = alternates
	}

	s.writeJSON(w, http.StatusOK, resp)
}

// forecastFacility runs the full pipeline for one facility: load history,
// prepare the series, fit and project through the bounded pool.
func (s *Server) forecastFacility(facility *pkg.Facility, days int) ([]pkg.ForecastPoint, *pkg.ModelInfo, error) {
	history, err := s.store.History(facility.ID, s.cfg.Forecast.MaxHistoryDays)
	if err != nil {
		return nil, nil, err
	}
	series, err := s.prep.Prepare(prepare.FromDailyRecords(history), facility.Beds)
	if err != nil {
		return nil, nil, err
	}
	return s.Forecast(series, days)
}

func (s *Server) rankCity(r *http.Request, city string) ([]pkg.ComparisonEntry, error) {
	snapshots, err := s.store.Snapshots(city, s.cfg.Forecast.MaxHistoryDays)
	if err != nil {
		return nil, err
	}
	entries, err := s.comparer.Rank(r.Context(), snapshots)
	if err != nil {
		return nil, err
	}
	s.metrics.RankingsTotal.Inc()
	return entries, nil
}

func (s *Server) findAlternates(facility *pkg.Facility) ([]alternateFacility, error) {
	subject, err := s.store.Snapshot(facility.ID, s.cfg.Forecast.MaxHistoryDays)
	if err != nil {
		return nil, err
	}
	candidates, err := s.store.Snapshots("", s.cfg.Forecast.MaxHistoryDays)
	if err != nil {
		return nil, err
	}

	alternates := s.comparer.Alternates(*subject, candidates)
	out := make([]alternateFacility, 0, len(alternates))
	for _, alt := range alternates {
		out = append(out, alternateFacility{
			ID:        alt.FacilityID,
			Name:      alt.Name,
			Location:  alt.Location,
			TotalBeds: alt.Capacity,
		})
	}
	return out, nil
}

func pathID(r *http.Request) (int, error) {
	id, err := strconv.Atoi(r.PathValue("id"))
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid facility id %q", r.PathValue("id"))
	}
	return id, nil
}

func roundTenth(v float64) float64 {
	return math.Round(v*10) / 10
}
