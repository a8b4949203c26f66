package api

import (
	"errors"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/aminefth/kidsclub-sub001/internal/analytics"
	"github.com/aminefth/kidsclub-sub001/internal/ledger"
	"github.com/aminefth/kidsclub-sub001/internal/middleware"
	"github.com/aminefth/kidsclub-sub001/internal/models"
)

const msgBudgetExhausted = "click recorded; campaign budget exhausted"

// TrackImpressionHandler serves POST /ads/track/impression.
func (s *Server) TrackImpressionHandler(w http.ResponseWriter, r *http.Request) {
	s.track(w, r, models.EventImpression, "impression recorded")
}

// TrackClickHandler serves POST /ads/track/click.
func (s *Server) TrackClickHandler(w http.ResponseWriter, r *http.Request) {
	s.track(w, r, models.EventClick, "click recorded")
}

func (s *Server) track(w http.ResponseWriter, r *http.Request, kind, okMsg string) {
	start := time.Now()
	endpoint := "track_" + kind
	const method = "POST"

	ctx, span := tracer.Start(r.Context(), "Track",
		trace.WithAttributes(
			attribute.String("http.method", r.Method),
			attribute.String("http.route", "/ads/track/"+kind),
			attribute.String("ad.event", kind),
		))
	defer span.End()
	logger := middleware.LoggerFromRequest(r, s.Logger)

	var sub analytics.Submission
	if err := s.decode(r, &sub); err != nil {
		s.fail(w, logger, endpoint, method, start, err)
		return
	}
	if sub.UserAgent == "" {
		sub.UserAgent = r.UserAgent()
	}
	if sub.Country == "" {
		sub.Country = s.GeoIP.CountryFromRequest(r)
	}
	span.SetAttributes(attribute.String("ad.campaign_id", sub.CampaignID))

	rc, err := s.Recorder.Record(ctx, kind, sub)
	if errors.Is(err, ledger.ErrBudgetExhausted) {
		logger.Info("click on exhausted campaign",
			zap.String("campaign_id", sub.CampaignID),
			zap.String("event_id", rc.Event.ID))
		writeJSON(w, http.StatusOK, envelope{"success": true, "message": msgBudgetExhausted})
		s.observe(endpoint, method, http.StatusOK, start)
		return
	}
	if err != nil {
		span.RecordError(err)
		s.fail(w, logger, endpoint, method, start, err)
		return
	}
	span.SetAttributes(attribute.String("ad.billing", string(rc.Billing)))
	writeJSON(w, http.StatusOK, envelope{"success": true, "message": okMsg})
	s.observe(endpoint, method, http.StatusOK, start)
}
