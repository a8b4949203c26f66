package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/aminefth/kidsclub-sub001/internal/analytics"
	"github.com/aminefth/kidsclub-sub001/internal/config"
	"github.com/aminefth/kidsclub-sub001/internal/geoip"
	"github.com/aminefth/kidsclub-sub001/internal/ledger"
	"github.com/aminefth/kidsclub-sub001/internal/models"
	"github.com/aminefth/kidsclub-sub001/internal/observability"
	"github.com/aminefth/kidsclub-sub001/internal/serving"
)

var tracer = otel.Tracer(observability.TracerName)

// Server groups dependencies for HTTP handlers.
type Server struct {
	Logger     *zap.Logger
	Campaigns  models.CampaignStore
	Serving    *serving.Service
	Recorder   *analytics.Recorder
	Aggregator *analytics.Aggregator
	GeoIP      *geoip.GeoIP
	Metrics    observability.MetricsRegistry
	Config     config.Config
	now        func() time.Time
}

// NewServer constructs a Server.
func NewServer(logger *zap.Logger, campaigns models.CampaignStore, svc *serving.Service, rec *analytics.Recorder, agg *analytics.Aggregator, geo *geoip.GeoIP, metrics observability.MetricsRegistry, cfg config.Config) *Server {
	if metrics == nil {
		metrics = observability.NewNoOpRegistry()
	}
	return &Server{
		Logger:     logger,
		Campaigns:  campaigns,
		Serving:    svc,
		Recorder:   rec,
		Aggregator: agg,
		GeoIP:      geo,
		Metrics:    metrics,
		Config:     cfg,
		now:        time.Now,
	}
}

// Register mounts every handler on r.
func (s *Server) Register(r *mux.Router) {
	ads := r.PathPrefix("/ads").Subrouter()
	ads.HandleFunc("/sponsored", s.SponsoredHandler).Methods(http.MethodGet)
	ads.HandleFunc("/optimal", s.OptimalHandler).Methods(http.MethodGet)
	ads.HandleFunc("/track/impression", s.TrackImpressionHandler).Methods(http.MethodPost)
	ads.HandleFunc("/track/click", s.TrackClickHandler).Methods(http.MethodPost)

	ads.HandleFunc("/campaigns", s.ListCampaigns).Methods(http.MethodGet)
	ads.HandleFunc("/campaigns", s.CreateCampaign).Methods(http.MethodPost)
	ads.HandleFunc("/campaigns/{id}", s.GetCampaign).Methods(http.MethodGet)
	ads.HandleFunc("/campaigns/{id}", s.UpdateCampaign).Methods(http.MethodPut)
	ads.HandleFunc("/campaigns/{id}", s.ArchiveCampaign).Methods(http.MethodDelete)
	ads.HandleFunc("/campaigns/{id}/report", s.CampaignReportHandler).Methods(http.MethodGet)

	ads.HandleFunc("/revenue", s.RevenueHandler).Methods(http.MethodGet)
	ads.HandleFunc("/analytics", s.AnalyticsHandler).Methods(http.MethodGet)

	r.HandleFunc("/health", s.HealthHandler).Methods(http.MethodGet)
}

// envelope is the common response shape.
type envelope map[string]any

// helper function to write JSON response
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, envelope{"success": false, "message": msg})
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	var verr *models.ValidationError
	switch {
	case errors.As(err, &verr):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ledger.ErrLedgerContention), errors.Is(err, models.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, models.ErrTransient), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// fail logs err and writes the mapped error response. Internal details are
// only exposed for client errors.
func (s *Server) fail(w http.ResponseWriter, logger *zap.Logger, endpoint, method string, start time.Time, err error) {
	status := statusFor(err)
	msg := err.Error()
	switch {
	case status >= http.StatusInternalServerError:
		logger.Error("request failed", zap.String("endpoint", endpoint), zap.Error(err))
		if status == http.StatusServiceUnavailable {
			msg = "service temporarily unavailable"
		} else {
			msg = "internal error"
		}
	case errors.Is(err, models.ErrNotFound):
		msg = "not found"
	default:
		logger.Debug("request rejected", zap.String("endpoint", endpoint), zap.Error(err))
	}
	writeError(w, status, msg)
	s.observe(endpoint, method, status, start)
}

func (s *Server) observe(endpoint, method string, status int, start time.Time) {
	s.Metrics.IncrementRequests(endpoint, method, strconv.Itoa(status))
	s.Metrics.RecordRequestLatency(endpoint, method, time.Since(start))
}

func (s *Server) decode(r *http.Request, v any) error {
	defer func() {
		_ = r.Body.Close()
	}()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return &models.ValidationError{Field: "body", Reason: "is not valid JSON"}
	}
	return nil
}
