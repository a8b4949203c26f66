package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/aminefth/kidsclub-sub001/internal/analytics"
	"github.com/aminefth/kidsclub-sub001/internal/middleware"
	"github.com/aminefth/kidsclub-sub001/internal/models"
)

const dateLayout = "2006-01-02"

// RevenueHandler handles GET /ads/revenue?start&end.
func (s *Server) RevenueHandler(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	const endpoint = "revenue"
	const method = "GET"
	logger := middleware.LoggerFromRequest(r, s.Logger)

	from, to, err := s.window(r)
	if err != nil {
		s.fail(w, logger, endpoint, method, start, err)
		return
	}
	daily, err := s.Aggregator.DailyRevenue(r.Context(), from, to)
	if err != nil {
		s.fail(w, logger, endpoint, method, start, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{
		"success":      true,
		"dailyRevenue": daily,
		"period":       envelope{"start": from, "end": to},
	})
	s.observe(endpoint, method, http.StatusOK, start)
}

// AnalyticsHandler handles
// GET /ads/analytics?start&end&type&placement&groupBy&dimensions.
// dimensions is a comma separated list of type and placement.
func (s *Server) AnalyticsHandler(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	const endpoint = "analytics"
	const method = "GET"
	logger := middleware.LoggerFromRequest(r, s.Logger)

	from, to, err := s.window(r)
	if err != nil {
		s.fail(w, logger, endpoint, method, start, err)
		return
	}
	q := r.URL.Query()
	query := analytics.Query{
		Start:      from,
		End:        to,
		Type:       q.Get("type"),
		Placement:  q.Get("placement"),
		CampaignID: q.Get("campaignId"),
		GroupBy:    q.Get("groupBy"),
	}
	if dims := q.Get("dimensions"); dims != "" {
		query.Dimensions = strings.Split(dims, ",")
	}

	buckets, err := s.Aggregator.Aggregate(r.Context(), query)
	if err != nil {
		s.fail(w, logger, endpoint, method, start, err)
		return
	}
	groupBy := strings.ToLower(query.GroupBy)
	if groupBy == "" {
		groupBy = models.GroupByDay
	}
	writeJSON(w, http.StatusOK, envelope{
		"success":   true,
		"analytics": buckets,
		"groupBy":   groupBy,
		"period":    envelope{"start": from, "end": to},
	})
	s.observe(endpoint, method, http.StatusOK, start)
}

// window resolves the [start, end) report range. The end defaults to the next
// UTC midnight so repeated requests within a day share cache entries.
func (s *Server) window(r *http.Request) (time.Time, time.Time, error) {
	q := r.URL.Query()
	end := s.now().UTC().Truncate(24 * time.Hour).Add(24 * time.Hour)
	if v := q.Get("end"); v != "" {
		t, err := parseDate(v, "end", true)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
		end = t
	}
	window := s.Config.AnalyticsDefaultWindow
	if window <= 0 {
		window = 30 * 24 * time.Hour
	}
	begin := end.Add(-window)
	if v := q.Get("start"); v != "" {
		t, err := parseDate(v, "start", false)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
		begin = t
	}
	if !begin.Before(end) {
		return time.Time{}, time.Time{}, &models.ValidationError{Field: "start", Reason: "must be before end"}
	}
	return begin, end, nil
}

// parseDate accepts YYYY-MM-DD or RFC 3339. A bare end date covers the whole
// day.
func parseDate(v, field string, inclusiveEnd bool) (time.Time, error) {
	if t, err := time.Parse(dateLayout, v); err == nil {
		if inclusiveEnd {
			t = t.Add(24 * time.Hour)
		}
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, &models.ValidationError{Field: field, Reason: "must be YYYY-MM-DD or RFC 3339"}
	}
	return t.UTC(), nil
}
