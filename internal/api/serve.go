package api

import (
	"net/http"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/aminefth/kidsclub-sub001/internal/middleware"
	"github.com/aminefth/kidsclub-sub001/internal/models"
	"github.com/aminefth/kidsclub-sub001/internal/serving"
)

// servingRequest reads the shared serving query parameters. The country
// falls back to a GeoIP lookup of the caller.
func (s *Server) servingRequest(r *http.Request) (serving.Request, error) {
	q := r.URL.Query()
	req := serving.Request{
		Placement: q.Get("placement"),
		Category:  q.Get("category"),
		Country:   q.Get("country"),
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return req, &models.ValidationError{Field: "limit", Reason: "must be a non-negative integer"}
		}
		req.Limit = n
	}
	if req.Country == "" {
		req.Country = s.GeoIP.CountryFromRequest(r)
	}
	return req, nil
}

// SponsoredHandler serves GET /ads/sponsored.
func (s *Server) SponsoredHandler(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	const endpoint = "sponsored"
	const method = "GET"

	ctx, span := tracer.Start(r.Context(), "SponsoredHandler",
		trace.WithAttributes(
			attribute.String("http.method", r.Method),
			attribute.String("http.route", "/ads/sponsored"),
		))
	defer span.End()
	logger := middleware.LoggerFromRequest(r, s.Logger)

	req, err := s.servingRequest(r)
	if err != nil {
		s.fail(w, logger, endpoint, method, start, err)
		return
	}
	req.Debug = s.Config.DebugTrace && r.URL.Query().Get("debug") == "1"
	span.SetAttributes(
		attribute.String("ad.placement", req.Placement),
		attribute.String("ad.country", req.Country),
	)

	res, err := s.Serving.Sponsored(ctx, req)
	if err != nil {
		span.RecordError(err)
		s.fail(w, logger, endpoint, method, start, err)
		return
	}
	span.SetAttributes(attribute.Int("ad.posts", len(res.Posts)))

	resp := envelope{"success": true, "posts": res.Posts}
	if res.Trace != nil {
		resp["trace"] = res.Trace
	}
	writeJSON(w, http.StatusOK, resp)
	logger.Debug("sponsored served",
		zap.String("placement", req.Placement),
		zap.String("country", req.Country),
		zap.Int("posts", len(res.Posts)))
	s.observe(endpoint, method, http.StatusOK, start)
}

// OptimalHandler serves GET /ads/optimal. A request that matches nothing
// still succeeds with a null ad.
func (s *Server) OptimalHandler(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	const endpoint = "optimal"
	const method = "GET"

	ctx, span := tracer.Start(r.Context(), "OptimalHandler",
		trace.WithAttributes(
			attribute.String("http.method", r.Method),
			attribute.String("http.route", "/ads/optimal"),
		))
	defer span.End()
	logger := middleware.LoggerFromRequest(r, s.Logger)

	req, err := s.servingRequest(r)
	if err != nil {
		s.fail(w, logger, endpoint, method, start, err)
		return
	}
	if uid := r.URL.Query().Get("userId"); uid != "" {
		logger = logger.With(zap.String("user_id", uid))
	}

	ad, err := s.Serving.Optimal(ctx, req)
	if err != nil {
		span.RecordError(err)
		s.fail(w, logger, endpoint, method, start, err)
		return
	}
	if ad != nil {
		span.SetAttributes(attribute.String("ad.campaign_id", ad.ID))
	}
	writeJSON(w, http.StatusOK, envelope{"success": true, "ad": ad})
	s.observe(endpoint, method, http.StatusOK, start)
}
