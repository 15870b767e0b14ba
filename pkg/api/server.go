// Package api exposes the bedcast forecasting core over a small HTTP read
// surface plus ingestion endpoints for facilities and daily observations.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/medwatch/bedcast/pkg"
	"github.com/medwatch/bedcast/pkg/alert"
	"github.com/medwatch/bedcast/pkg/compare"
	"github.com/medwatch/bedcast/pkg/config"
	"github.com/medwatch/bedcast/pkg/forecast"
	"github.com/medwatch/bedcast/pkg/logx"
	"github.com/medwatch/bedcast/pkg/metrics"
	"github.com/medwatch/bedcast/pkg/prepare"
	"github.com/medwatch/bedcast/pkg/risk"
	"github.com/medwatch/bedcast/pkg/store"
)

// Server wires the store and the forecasting components behind HTTP.
type Server struct {
	cfg        *config.Config
	store      *store.Store
	prep       *prepare.Preparator
	engine     *forecast.Engine
	generator  *alert.Generator
	comparer   *compare.Engine
	classifier *risk.Classifier
	metrics    *metrics.Metrics
	logger     *logx.Logger

	// fitSlots bounds concurrent model fits so one slow facility cannot
	// starve the listener. Fits themselves are stateless and independent.
	fitSlots chan struct{}

	httpServer *http.Server
}

// NewServer assembles the API server and all core components from config.
func NewServer(cfg *config.Config, st *store.Store, m *metrics.Metrics, logger *logx.Logger) *Server {
	classifier := risk.NewClassifier(cfg.Risk.ElevatedPct, cfg.Risk.CriticalPct)
	prep := prepare.New(cfg.Forecast.MinObservations)
	engine := forecast.New(forecast.Options{
		MinObservations: cfg.Forecast.MinObservations,
		MaxHorizonDays:  cfg.Forecast.MaxHorizonDays,
		Model: forecast.ModelOptions{
			ChangepointPriorScale: cfg.Forecast.ChangepointPriorScale,
			MaxChangepoints:       cfg.Forecast.MaxChangepoints,
			WeeklyFourierOrder:    cfg.Forecast.WeeklyFourierOrder,
		},
	}, logger.WithComponent("forecast"))

	s := &Server{
		cfg:        cfg,
		store:      st,
		prep:       prep,
		engine:     engine,
		generator:  alert.New(classifier, logger.WithComponent("alert")),
		classifier: classifier,
		metrics:    m,
		logger:     logger.WithComponent("api"),
		fitSlots:   make(chan struct{}, cfg.Server.MaxConcurrentFits),
	}
	s.comparer = compare.New(s, classifier, compare.Options{
		MinObservations:   cfg.Forecast.MinObservations,
		MaxConcurrentFits: cfg.Server.MaxConcurrentFits,
	}, logger.WithComponent("compare"))
	return s
}

// Forecast implements compare.Forecaster, routing ranking fits through the
// same bounded pool as direct forecast requests.
func (s *Server) Forecast(series *pkg.TimeSeries, horizonDays int) ([]pkg.ForecastPoint, *pkg.ModelInfo, error) {
	s.fitSlots <- struct{}{}
	defer func() { <-s.fitSlots }()

	started := time.Now()
	points, info, err := s.engine.Forecast(series, horizonDays)
	s.metrics.FitDuration.Observe(time.Since(started).Seconds())
	if err != nil {
		var fitErr *pkg.FitError
		if errors.As(err, &fitErr) {
			s.metrics.FitFailuresTotal.Inc()
		}
		return nil, nil, err
	}
	s.metrics.ForecastsTotal.Inc()
	return points, info, nil
}

// Start begins serving and blocks until the context is canceled or the
// listener fails.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.withRequestLog(s.routes()),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("API server listening", "addr", addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.Handle("GET /metrics", s.metrics.Handler())

	mux.HandleFunc("GET /api/v1/facilities", s.handleListFacilities)
	mux.HandleFunc("POST /api/v1/facilities", s.handleCreateFacility)
	mux.HandleFunc("POST /api/v1/facilities/{id}/observations", s.handleAddObservation)

	mux.HandleFunc("GET /api/v1/availability/{id}", s.handleAvailability)
	mux.HandleFunc("GET /api/v1/forecast/{id}", s.handleForecast)
	mux.HandleFunc("GET /api/v1/predict/{id}", s.handlePredict)
	mux.HandleFunc("GET /api/v1/dashboard/{id}", s.handleDashboard)
	mux.HandleFunc("GET /api/v1/compare", s.handleCompare)
	mux.HandleFunc("GET /api/v1/recommend/{city}", s.handleRecommend)
	mux.HandleFunc("GET /api/v1/alerts/{id}", s.handleAlerts)

	return mux
}

// withRequestLog tags each request with an ID and logs its outcome.
func (s *Server) withRequestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := uuid.NewString()
		w.Header().Set("X-Request-ID", requestID)
		started := time.Now()

		rw := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)

		s.logger.Debug("Request completed",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", rw.status,
			"duration_ms", time.Since(started).Milliseconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("Failed to encode response", "error", err)
	}
}

// writeError maps the core error taxonomy onto HTTP statuses. Nothing is
// swallowed: degraded results are never substituted for failures.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError

	var (
		insufficient *pkg.InsufficientDataError
		horizon      *pkg.InvalidHorizonError
		duplicate    *pkg.DuplicateObservationError
		emptySet     *pkg.EmptyFacilitySetError
		fitErr       *pkg.FitError
	)
	switch {
	case errors.As(err, &insufficient), errors.As(err, &horizon):
		status = http.StatusBadRequest
	case errors.As(err, &duplicate):
		status = http.StatusConflict
	case errors.As(err, &emptySet),
		errors.Is(err, store.ErrFacilityNotFound),
		errors.Is(err, store.ErrNoObservations):
		status = http.StatusNotFound
	case errors.As(err, &fitErr):
		status = http.StatusInternalServerError
	}

	if status >= 500 {
		s.logger.Error("Request failed", "error", err)
	}
	s.writeJSON(w, status, map[string]string{"detail": err.Error()})
}
