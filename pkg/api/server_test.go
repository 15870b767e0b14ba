package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medwatch/bedcast/pkg"
	"github.com/medwatch/bedcast/pkg/config"
	"github.com/medwatch/bedcast/pkg/logx"
	"github.com/medwatch/bedcast/pkg/metrics"
	"github.com/medwatch/bedcast/pkg/store"
)

// newTestServer builds a server over a throwaway store and returns both.
func newTestServer(t *testing.T) (*Server, *store.Store) {
	t.Helper()

	cfg, err := config.Load("")
	require.NoError(t, err)

	logger := logx.NewLogger("error", "test")
	st, err := store.Open(filepath.Join(t.TempDir(), "bedcast.db"), nil, logger)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	return NewServer(cfg, st, metrics.New(), logger), st
}

func seedFacility(t *testing.T, st *store.Store, id, beds int, location string) {
	t.Helper()
	require.NoError(t, st.PutFacility(pkg.Facility{
		ID:       id,
		Name:     fmt.Sprintf("Hospital %d", id),
		Location: location,
		Beds:     beds,
		ICUBeds:  beds / 10,
	}))
}

func seedHistory(t *testing.T, st *store.Store, id, days int, occupied func(i int) int) {
	t.Helper()
	start := time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < days; i++ {
		require.NoError(t, st.AddObservation(id, pkg.DailyRecord{
			Date:         start.AddDate(0, 0, i),
			OccupiedBeds: occupied(i),
			Admissions:   5,
			Discharges:   4,
		}))
	}
}

func doRequest(t *testing.T, s *Server, method, target string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != nil {
		req = httptest.NewRequest(method, target, bytes.NewReader(body))
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rec := httptest.NewRecorder()
	s.withRequestLog(s.routes()).ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v))
}

func TestHealthz(t *testing.T) {
	s, _ := newTestServer(t)
	rec := doRequest(t, s, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestCreateAndListFacilities(t *testing.T) {
	s, _ := newTestServer(t)

	payload, _ := json.Marshal(pkg.Facility{
		ID: 1, Name: "City General", Location: "Springfield, IL", Beds: 200, ICUBeds: 20,
	})
	rec := doRequest(t, s, http.MethodPost, "/api/v1/facilities", payload)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doRequest(t, s, http.MethodGet, "/api/v1/facilities", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var facilities []pkg.Facility
	decodeBody(t, rec, &facilities)
	require.Len(t, facilities, 1)
	assert.Equal(t, "City General", facilities[0].Name)
}

func TestCreateFacilityRejectsBadPayload(t *testing.T) {
	s, _ := newTestServer(t)

	rec := doRequest(t, s, http.MethodPost, "/api/v1/facilities", []byte("{not json"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	payload, _ := json.Marshal(pkg.Facility{ID: 1, Name: "x", Beds: 0})
	rec = doRequest(t, s, http.MethodPost, "/api/v1/facilities", payload)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAddObservation(t *testing.T) {
	s, st := newTestServer(t)
	seedFacility(t, st, 1, 200, "Springfield, IL")

	payload, _ := json.Marshal(pkg.DailyRecord{
		Date:         time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC),
		OccupiedBeds: 120,
	})
	rec := doRequest(t, s, http.MethodPost, "/api/v1/facilities/1/observations", payload)
	require.Equal(t, http.StatusCreated, rec.Code)

	// Same date again conflicts.
	rec = doRequest(t, s, http.MethodPost, "/api/v1/facilities/1/observations", payload)
	assert.Equal(t, http.StatusConflict, rec.Code)

	// Unknown facility.
	rec = doRequest(t, s, http.MethodPost, "/api/v1/facilities/9/observations", payload)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAvailability(t *testing.T) {
	s, st := newTestServer(t)
	seedFacility(t, st, 1, 200, "Springfield, IL")
	seedHistory(t, st, 1, 3, func(i int) int { return 150 })

	rec := doRequest(t, s, http.MethodGet, "/api/v1/availability/1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp availabilityResponse
	decodeBody(t, rec, &resp)
	assert.Equal(t, 1, resp.FacilityID)
	assert.Equal(t, 150, resp.CurrentOccupied)
	assert.Equal(t, 50, resp.CurrentAvailable)
	assert.Equal(t, 75.0, resp.UtilizationPct)
	assert.Equal(t, "medium", resp.Status)
	require.NotNil(t, resp.LastUpdated)
}

func TestAvailabilityWithoutObservations(t *testing.T) {
	s, st := newTestServer(t)
	seedFacility(t, st, 1, 200, "Springfield, IL")

	rec := doRequest(t, s, http.MethodGet, "/api/v1/availability/1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp availabilityResponse
	decodeBody(t, rec, &resp)
	assert.Equal(t, 0, resp.CurrentOccupied)
	assert.Equal(t, 200, resp.CurrentAvailable)
	// No data is reported as unknown, not as genuinely low utilization.
	assert.Equal(t, "unknown", resp.Status)
	assert.Nil(t, resp.LastUpdated)
}

func TestAvailabilityUnknownFacility(t *testing.T) {
	s, _ := newTestServer(t)
	rec := doRequest(t, s, http.MethodGet, "/api/v1/availability/42", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestForecastEndpoint(t *testing.T) {
	s, st := newTestServer(t)
	seedFacility(t, st, 1, 200, "Springfield, IL")
	// Pronounced weekend surge makes midweek the obvious day to visit.
	start := time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 28; i++ {
		date := start.AddDate(0, 0, i)
		occupied := 140
		if wd := date.Weekday(); wd == time.Saturday || wd == time.Sunday {
			occupied = 180
		}
		require.NoError(t, st.AddObservation(1, pkg.DailyRecord{Date: date, OccupiedBeds: occupied}))
	}

	rec := doRequest(t, s, http.MethodGet, "/api/v1/forecast/1?days=14", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp forecastResponse
	decodeBody(t, rec, &resp)
	assert.Equal(t, 1, resp.FacilityID)
	assert.Equal(t, 200, resp.TotalBeds)
	require.Len(t, resp.Forecast, 14)

	minOccupied := resp.Forecast[0].PredictedOccupied
	for _, day := range resp.Forecast {
		assert.Equal(t, 200-day.PredictedOccupied, day.PredictedAvailable)
		assert.InDelta(t, float64(day.PredictedOccupied)/2, day.UtilizationPct, 0.1)
		if day.PredictedOccupied < minOccupied {
			minOccupied = day.PredictedOccupied
		}
	}
	assert.Equal(t, minOccupied, resp.BestDayOccupancy)

	// The recommended day is the first day hitting the minimum, and with a
	// weekend surge it is never a weekend.
	best, err := time.Parse("2006-01-02", resp.BestDayToVisit)
	require.NoError(t, err)
	assert.NotEqual(t, time.Saturday, best.Weekday())
	assert.NotEqual(t, time.Sunday, best.Weekday())
	for _, day := range resp.Forecast {
		if day.PredictedOccupied == minOccupied {
			assert.Equal(t, day.Date, resp.BestDayToVisit)
			break
		}
	}
}

func TestForecastEndpointRiskLevels(t *testing.T) {
	s, st := newTestServer(t)
	seedFacility(t, st, 1, 200, "Springfield, IL")
	seedHistory(t, st, 1, 14, func(i int) int { return 150 })

	rec := doRequest(t, s, http.MethodGet, "/api/v1/forecast/1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp forecastResponse
	decodeBody(t, rec, &resp)
	require.Len(t, resp.Forecast, 7)
	for _, day := range resp.Forecast {
		assert.Equal(t, pkg.RiskMedium, day.RiskLevel)
		assert.Equal(t, 75.0, day.UtilizationPct)
	}
	// A flat projection ties everywhere; the earliest day wins.
	assert.Equal(t, resp.Forecast[0].Date, resp.BestDayToVisit)
	assert.Equal(t, 150, resp.BestDayOccupancy)
}

func TestForecastEndpointHorizonCap(t *testing.T) {
	s, st := newTestServer(t)
	seedFacility(t, st, 1, 200, "Springfield, IL")
	seedHistory(t, st, 1, 14, func(i int) int { return 100 })

	for _, q := range []string{"days=0", "days=15", "days=abc"} {
		rec := doRequest(t, s, http.MethodGet, "/api/v1/forecast/1?"+q, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code, q)
	}

	rec := doRequest(t, s, http.MethodGet, "/api/v1/forecast/1?days=15", nil)
	var body map[string]string
	decodeBody(t, rec, &body)
	assert.Contains(t, body["detail"], "between 1 and 14")
}

func TestForecastEndpointInsufficientHistory(t *testing.T) {
	s, st := newTestServer(t)
	seedFacility(t, st, 1, 200, "Springfield, IL")
	seedHistory(t, st, 1, 5, func(i int) int { return 100 })

	rec := doRequest(t, s, http.MethodGet, "/api/v1/forecast/1", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestForecastEndpointUnknownFacility(t *testing.T) {
	s, _ := newTestServer(t)
	rec := doRequest(t, s, http.MethodGet, "/api/v1/forecast/42", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPredict(t *testing.T) {
	s, st := newTestServer(t)
	seedFacility(t, st, 1, 200, "Springfield, IL")
	seedHistory(t, st, 1, 21, func(i int) int { return 100 + i })

	rec := doRequest(t, s, http.MethodGet, "/api/v1/predict/1?days=10", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp predictResponse
	decodeBody(t, rec, &resp)
	assert.Equal(t, 1, resp.FacilityID)
	require.Len(t, resp.Predictions, 10)
	require.NotNil(t, resp.ModelInfo)
	assert.Equal(t, 21, resp.ModelInfo.TrainingSamples)
	for _, p := range resp.Predictions {
		assert.GreaterOrEqual(t, p.Predicted, 0.0)
		assert.LessOrEqual(t, p.Lower, p.Predicted)
		assert.GreaterOrEqual(t, p.Upper, p.Predicted)
	}
}

func TestPredictDefaultHorizon(t *testing.T) {
	s, st := newTestServer(t)
	seedFacility(t, st, 1, 200, "Springfield, IL")
	seedHistory(t, st, 1, 14, func(i int) int { return 100 })

	rec := doRequest(t, s, http.MethodGet, "/api/v1/predict/1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp predictResponse
	decodeBody(t, rec, &resp)
	assert.Len(t, resp.Predictions, 7)
}

func TestPredictRejectsBadHorizon(t *testing.T) {
	s, st := newTestServer(t)
	seedFacility(t, st, 1, 200, "Springfield, IL")
	seedHistory(t, st, 1, 14, func(i int) int { return 100 })

	for _, q := range []string{"days=0", "days=31", "days=abc"} {
		rec := doRequest(t, s, http.MethodGet, "/api/v1/predict/1?"+q, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code, q)
	}
}

func TestPredictInsufficientHistory(t *testing.T) {
	s, st := newTestServer(t)
	seedFacility(t, st, 1, 200, "Springfield, IL")
	seedHistory(t, st, 1, 5, func(i int) int { return 100 })

	rec := doRequest(t, s, http.MethodGet, "/api/v1/predict/1", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var body map[string]string
	decodeBody(t, rec, &body)
	assert.Contains(t, body["detail"], "insufficient")
}

func TestDashboard(t *testing.T) {
	s, st := newTestServer(t)
	seedFacility(t, st, 1, 200, "Springfield, IL")
	// High and rising: the forecast crosses the critical threshold.
	seedHistory(t, st, 1, 21, func(i int) int { return 150 + 2*i })

	rec := doRequest(t, s, http.MethodGet, "/api/v1/dashboard/1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp dashboardResponse
	decodeBody(t, rec, &resp)
	assert.Equal(t, 1, resp.FacilityID)
	assert.Equal(t, 190, resp.CurrentOccupied)
	assert.Equal(t, 95.0, resp.CurrentUtilization)
	assert.Len(t, resp.HistoricalData, 21)
	assert.Len(t, resp.Predictions, 7)
	assert.NotEmpty(t, resp.Alerts)
	assert.Equal(t, pkg.RiskHigh, resp.OverallStatus)
}

func TestDashboardShortHistoryOmitsForecast(t *testing.T) {
	s, st := newTestServer(t)
	seedFacility(t, st, 1, 200, "Springfield, IL")
	seedHistory(t, st, 1, 5, func(i int) int { return 150 })

	rec := doRequest(t, s, http.MethodGet, "/api/v1/dashboard/1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp dashboardResponse
	decodeBody(t, rec, &resp)
	assert.Len(t, resp.HistoricalData, 5)
	assert.Empty(t, resp.Predictions)
	assert.Empty(t, resp.Alerts)
	// Status falls back to current utilization when no forecast exists.
	assert.Equal(t, pkg.RiskMedium, resp.OverallStatus)
}

func TestDashboardWithoutObservations(t *testing.T) {
	s, st := newTestServer(t)
	seedFacility(t, st, 1, 200, "Springfield, IL")

	rec := doRequest(t, s, http.MethodGet, "/api/v1/dashboard/1", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCompare(t *testing.T) {
	s, st := newTestServer(t)
	seedFacility(t, st, 1, 200, "Springfield, IL")
	seedFacility(t, st, 2, 200, "Springfield, IL")
	seedHistory(t, st, 1, 14, func(i int) int { return 180 })
	seedHistory(t, st, 2, 14, func(i int) int { return 40 })

	rec := doRequest(t, s, http.MethodGet, "/api/v1/compare?city=springfield", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var entries []pkg.ComparisonEntry
	decodeBody(t, rec, &entries)
	require.Len(t, entries, 2)
	assert.Equal(t, 2, entries[0].FacilityID)
	assert.Equal(t, 1, entries[0].Rank)
	assert.Equal(t, 1, entries[1].FacilityID)
	assert.Equal(t, 2, entries[1].Rank)
	assert.Greater(t, entries[0].CompositeScore, entries[1].CompositeScore)
}

func TestCompareUnknownCity(t *testing.T) {
	s, st := newTestServer(t)
	seedFacility(t, st, 1, 200, "Springfield, IL")
	seedHistory(t, st, 1, 14, func(i int) int { return 100 })

	rec := doRequest(t, s, http.MethodGet, "/api/v1/compare?city=gotham", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRecommend(t *testing.T) {
	s, st := newTestServer(t)
	seedFacility(t, st, 1, 200, "Springfield, IL")
	seedFacility(t, st, 2, 200, "Springfield, IL")
	seedHistory(t, st, 1, 14, func(i int) int { return 180 })
	seedHistory(t, st, 2, 14, func(i int) int { return 40 })

	rec := doRequest(t, s, http.MethodGet, "/api/v1/recommend/springfield", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp recommendResponse
	decodeBody(t, rec, &resp)
	assert.Equal(t, "springfield", resp.City)
	assert.Equal(t, 2, resp.BestID)
	assert.Equal(t, "Hospital 2", resp.BestName)
	assert.Contains(t, resp.Reason, "good availability")
	require.Len(t, resp.Recommended, 2)
}

func TestAlertsWithAlternates(t *testing.T) {
	s, st := newTestServer(t)
	seedFacility(t, st, 1, 200, "Springfield, IL")
	seedFacility(t, st, 2, 200, "Springfield, IL")
	seedFacility(t, st, 3, 200, "Shelbyville, IL")
	seedHistory(t, st, 1, 14, func(i int) int { return 190 }) // critical
	seedHistory(t, st, 2, 14, func(i int) int { return 60 })  // calm, same city
	seedHistory(t, st, 3, 14, func(i int) int { return 60 })  // calm, other city

	rec := doRequest(t, s, http.MethodGet, "/api/v1/alerts/1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp alertsResponse
	decodeBody(t, rec, &resp)
	require.NotEmpty(t, resp.Alerts)
	assert.Equal(t, pkg.RiskHigh, resp.Alerts[0].Band)
	assert.Contains(t, resp.Alerts[0].Message, "CRITICAL")

	require.Len(t, resp.Alternates, 1)
	assert.Equal(t, 2, resp.Alternates[0].ID)
}

func TestAlertsQuietFacility(t *testing.T) {
	s, st := newTestServer(t)
	seedFacility(t, st, 1, 200, "Springfield, IL")
	seedHistory(t, st, 1, 14, func(i int) int { return 60 })

	rec := doRequest(t, s, http.MethodGet, "/api/v1/alerts/1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp alertsResponse
	decodeBody(t, rec, &resp)
	assert.Empty(t, resp.Alerts)
	assert.Empty(t, resp.Alternates)
}

func TestInvalidFacilityIDPath(t *testing.T) {
	s, _ := newTestServer(t)
	for _, target := range []string{
		"/api/v1/availability/abc",
		"/api/v1/predict/0",
		"/api/v1/dashboard/-3",
		"/api/v1/alerts/abc",
	} {
		rec := doRequest(t, s, http.MethodGet, target, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code, target)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	s, _ := newTestServer(t)
	rec := doRequest(t, s, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "bedcast_")
}
