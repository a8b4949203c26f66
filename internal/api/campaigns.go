package api

import (
	"net/http"
	"math"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/aminefth/kidsclub-sub001/internal/middleware"
	"github.com/aminefth/kidsclub-sub001/internal/models"
	"github.com/aminefth/kidsclub-sub001/internal/reporting"
)

// Campaign list paging.
const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// Pagination describes one page of a campaign listing.
type Pagination struct {
	Page  int `json:"page"`
	Limit int `json:"limit"`
	Total int `json:"total"`
	Pages int `json:"pages"`
}

// CreateCampaign handles POST /ads/campaigns. Server-owned fields in the
// payload are ignored.
func (s *Server) CreateCampaign(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	const endpoint = "campaigns_create"
	const method = "POST"
	logger := middleware.LoggerFromRequest(r, s.Logger)

	var c models.Campaign
	if err := s.decode(r, &c); err != nil {
		s.fail(w, logger, endpoint, method, start, err)
		return
	}
	c.ID = ""
	c.Version = 0
	c.Performance = models.Performance{}
	c.Normalize()
	if err := c.Validate(); err != nil {
		s.fail(w, logger, endpoint, method, start, err)
		return
	}
	if err := s.Campaigns.InsertCampaign(r.Context(), &c); err != nil {
		s.fail(w, logger, endpoint, method, start, err)
		return
	}
	s.Serving.CampaignChanged(r.Context(), "created", c)
	logger.Info("campaign created",
		zap.String("campaign_id", c.ID),
		zap.String("advertiser", c.Advertiser.Name))

	writeJSON(w, http.StatusCreated, envelope{"success": true, "campaign": c})
	s.observe(endpoint, method, http.StatusCreated, start)
}

// ListCampaigns handles GET /ads/campaigns?status&limit&page.
func (s *Server) ListCampaigns(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	const endpoint = "campaigns_list"
	const method = "GET"
	logger := middleware.LoggerFromRequest(r, s.Logger)

	q := r.URL.Query()
	status := q.Get("status")
	if status != "" && !models.ValidStatus(status) {
		s.fail(w, logger, endpoint, method, start, &models.ValidationError{Field: "status", Reason: "is unknown"})
		return
	}
	limit, err := queryInt(q.Get("limit"), "limit", defaultPageSize)
	if err != nil {
		s.fail(w, logger, endpoint, method, start, err)
		return
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	page, err := queryInt(q.Get("page"), "page", 1)
	if err == nil && page > math.MaxInt/limit {
		err = &models.ValidationError{Field: "page", Reason: "out of range"}
	}
	if err != nil {
		s.fail(w, logger, endpoint, method, start, err)
		return
	}

	campaigns, total, err := s.Campaigns.ListCampaigns(r.Context(), models.CampaignListFilter{
		Status: status,
		Limit:  limit,
		Offset: (page - 1) * limit,
	})
	if err != nil {
		s.fail(w, logger, endpoint, method, start, err)
		return
	}
	if campaigns == nil {
		campaigns = []models.Campaign{}
	}
	writeJSON(w, http.StatusOK, envelope{
		"success":   true,
		"campaigns": campaigns,
		"pagination": Pagination{
			Page:  page,
			Limit: limit,
			Total: total,
			Pages: (total + limit - 1) / limit,
		},
	})
	s.observe(endpoint, method, http.StatusOK, start)
}

// GetCampaign handles GET /ads/campaigns/{id}.
func (s *Server) GetCampaign(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	const endpoint = "campaigns_get"
	const method = "GET"
	logger := middleware.LoggerFromRequest(r, s.Logger)

	c, err := s.Campaigns.GetCampaign(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.fail(w, logger, endpoint, method, start, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{"success": true, "campaign": c})
	s.observe(endpoint, method, http.StatusOK, start)
}

// UpdateCampaign handles PUT /ads/campaigns/{id} with a CampaignPatch body.
func (s *Server) UpdateCampaign(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	const endpoint = "campaigns_update"
	const method = "PUT"
	logger := middleware.LoggerFromRequest(r, s.Logger)

	var patch models.CampaignPatch
	if err := s.decode(r, &patch); err != nil {
		s.fail(w, logger, endpoint, method, start, err)
		return
	}
	s.mutate(w, r, logger, endpoint, method, start, "updated", patch.Apply)
}

// ArchiveCampaign handles DELETE /ads/campaigns/{id}. Campaigns are never
// removed; they move to completed and stop serving.
func (s *Server) ArchiveCampaign(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	const endpoint = "campaigns_archive"
	const method = "DELETE"
	logger := middleware.LoggerFromRequest(r, s.Logger)

	s.mutate(w, r, logger, endpoint, method, start, "archived", func(c *models.Campaign) error {
		if c.Status == models.StatusCompleted {
			return nil
		}
		completed := models.StatusCompleted
		return models.CampaignPatch{Status: &completed}.Apply(c)
	})
}

func (s *Server) mutate(w http.ResponseWriter, r *http.Request, logger *zap.Logger, endpoint, method string, start time.Time, action string, fn func(*models.Campaign) error) {
	id := mux.Vars(r)["id"]
	var before models.Campaign
	updated, err := models.UpdateCampaignFunc(r.Context(), s.Campaigns, id, s.Config.LedgerMaxAttempts, func(c *models.Campaign) error {
		before = c.Clone()
		return fn(c)
	})
	if err != nil {
		s.fail(w, logger, endpoint, method, start, err)
		return
	}

	// Feeds cached under positions the campaign just left are stale too.
	affected := updated.Clone()
	for _, pos := range before.Placement.Positions {
		if !models.ContainsFold(affected.Placement.Positions, pos) {
			affected.Placement.Positions = append(affected.Placement.Positions, pos)
		}
	}
	s.Serving.CampaignChanged(r.Context(), action, affected)
	logger.Info("campaign "+action,
		zap.String("campaign_id", updated.ID),
		zap.String("status", updated.Status),
		zap.Int64("version", updated.Version))

	writeJSON(w, http.StatusOK, envelope{"success": true, "campaign": updated})
	s.observe(endpoint, method, http.StatusOK, start)
}

// CampaignReportHandler handles GET /ads/campaigns/{id}/report.
//
// Query Parameters:
//   - days: Number of UTC days to include, ending today (default 7, max 90)
func (s *Server) CampaignReportHandler(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	const endpoint = "campaigns_report"
	const method = "GET"
	logger := middleware.LoggerFromRequest(r, s.Logger)

	days, err := queryInt(r.URL.Query().Get("days"), "days", reporting.DefaultDays)
	if err != nil {
		s.fail(w, logger, endpoint, method, start, err)
		return
	}
	summary, err := reporting.GenerateCampaignReport(r.Context(), s.Campaigns, s.Aggregator, mux.Vars(r)["id"], days, s.now())
	if err != nil {
		s.fail(w, logger, endpoint, method, start, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{"success": true, "report": summary})
	s.observe(endpoint, method, http.StatusOK, start)
}

// queryInt parses a positive integer parameter, returning def when empty.
func queryInt(v, field string, def int) (int, error) {
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, &models.ValidationError{Field: field, Reason: "must be a positive integer"}
	}
	return n, nil
}
