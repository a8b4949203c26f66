package main

import (
	"bytes"
	"context"
	"os"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/aminefth/kidsclub-sub001/internal/analytics"
	"github.com/aminefth/kidsclub-sub001/internal/config"
	"github.com/aminefth/kidsclub-sub001/internal/db"
	"github.com/aminefth/kidsclub-sub001/internal/models"
	"github.com/aminefth/kidsclub-sub001/internal/observability"
	"github.com/aminefth/kidsclub-sub001/internal/reporting"
	"github.com/aminefth/kidsclub-sub001/internal/serving"
)

// toolTimeout bounds each tool call.
const toolTimeout = 10 * time.Second

type ListCampaignsInput struct {
	Status string `json:"status,omitempty"`
	Limit  int    `json:"limit,omitempty"`
	Page   int    `json:"page,omitempty"`
}

type CampaignBrief struct {
	ID         string  `json:"id"`
	Title      string  `json:"title"`
	Advertiser string  `json:"advertiser"`
	Status     string  `json:"status"`
	Budget     float64 `json:"budget"`
	Spend      float64 `json:"spend"`
	Clicks     int64   `json:"clicks"`
	CTR        float64 `json:"ctr"`
}

type ListCampaignsOutput struct {
	Campaigns []CampaignBrief `json:"campaigns"`
	Total     int             `json:"total"`
}

type CampaignReportInput struct {
	CampaignID string `json:"campaign_id"`
	Days       int    `json:"days,omitempty"`
}

// CampaignReportOutput flattens reporting.CampaignSummary with dates as
// strings so the tool output schema stays simple.
type CampaignReportOutput struct {
	CampaignID     string                       `json:"campaign_id"`
	Title          string                       `json:"title"`
	Status         string                       `json:"status"`
	Start          string                       `json:"start"`
	End            string                       `json:"end"` // exclusive
	Total          reporting.CampaignMetrics    `json:"total"`
	Daily          []reporting.CampaignMetrics  `json:"daily"`
	Placements     []reporting.PlacementMetrics `json:"placements"`
	Budget         reporting.BudgetStatus       `json:"budget"`
	RejectedClicks int64                        `json:"rejected_clicks"`
}

type DailyRevenueInput struct {
	Start string `json:"start"` // YYYY-MM-DD
	End   string `json:"end"`   // YYYY-MM-DD, inclusive
}

type DailyRevenueOutput struct {
	DailyRevenue map[string]models.DailyRevenue `json:"daily_revenue"`
}

type SetStatusInput struct {
	CampaignID string `json:"campaign_id"`
	Status     string `json:"status"`
}

type SetStatusOutput struct {
	CampaignID string `json:"campaign_id"`
	Status     string `json:"status"`
	Version    int64  `json:"version"`
}

// AdminServer exposes campaign administration and reporting as MCP tools.
type AdminServer struct {
	campaigns  models.CampaignStore
	aggregator *analytics.Aggregator
	serving    *serving.Service
	logger     *zap.Logger
	now        func() time.Time
}

// ListCampaigns implements the list_campaigns tool.
func (s *AdminServer) ListCampaigns(ctx context.Context, req *mcp.CallToolRequest, input ListCampaignsInput) (*mcp.CallToolResult, ListCampaignsOutput, error) {
	ctx, cancel := context.WithTimeout(ctx, toolTimeout)
	defer cancel()

	limit := input.Limit
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	page := input.Page
	if page <= 0 {
		page = 1
	}
	cs, total, err := s.campaigns.ListCampaigns(ctx, models.CampaignListFilter{
		Status: input.Status,
		Limit:  limit,
		Offset: (page - 1) * limit,
	})
	if err != nil {
		return nil, ListCampaignsOutput{}, err
	}
	out := ListCampaignsOutput{Campaigns: make([]CampaignBrief, 0, len(cs)), Total: total}
	for _, c := range cs {
		out.Campaigns = append(out.Campaigns, CampaignBrief{
			ID:         c.ID,
			Title:      c.Title,
			Advertiser: c.Advertiser.Name,
			Status:     c.Status,
			Budget:     c.Budget.Total,
			Spend:      c.Performance.Spend,
			Clicks:     c.Performance.Clicks,
			CTR:        c.Performance.CTR,
		})
	}
	s.logger.Info("list_campaigns", zap.Int("returned", len(out.Campaigns)), zap.Int("total", total))
	return nil, out, nil
}

// CampaignReport implements the campaign_report tool.
func (s *AdminServer) CampaignReport(ctx context.Context, req *mcp.CallToolRequest, input CampaignReportInput) (*mcp.CallToolResult, CampaignReportOutput, error) {
	ctx, cancel := context.WithTimeout(ctx, toolTimeout)
	defer cancel()

	summary, err := reporting.GenerateCampaignReport(ctx, s.campaigns, s.aggregator, input.CampaignID, input.Days, s.now())
	if err != nil {
		return nil, CampaignReportOutput{}, err
	}
	return nil, CampaignReportOutput{
		CampaignID:     summary.CampaignID,
		Title:          summary.Title,
		Status:         summary.Status,
		Start:          summary.Period.Start.Format(time.RFC3339),
		End:            summary.Period.End.Format(time.RFC3339),
		Total:          summary.TotalMetrics,
		Daily:          summary.DailyMetrics,
		Placements:     summary.PlacementMetrics,
		Budget:         summary.Budget,
		RejectedClicks: summary.Performance.RejectedClicks,
	}, nil
}

// DailyRevenue implements the daily_revenue tool.
func (s *AdminServer) DailyRevenue(ctx context.Context, req *mcp.CallToolRequest, input DailyRevenueInput) (*mcp.CallToolResult, DailyRevenueOutput, error) {
	ctx, cancel := context.WithTimeout(ctx, toolTimeout)
	defer cancel()

	start, err := time.Parse("2006-01-02", input.Start)
	if err != nil {
		return nil, DailyRevenueOutput{}, &models.ValidationError{Field: "start", Reason: "must be YYYY-MM-DD"}
	}
	end, err := time.Parse("2006-01-02", input.End)
	if err != nil {
		return nil, DailyRevenueOutput{}, &models.ValidationError{Field: "end", Reason: "must be YYYY-MM-DD"}
	}
	daily, err := s.aggregator.DailyRevenue(ctx, start, end.Add(24*time.Hour))
	if err != nil {
		return nil, DailyRevenueOutput{}, err
	}
	return nil, DailyRevenueOutput{DailyRevenue: daily}, nil
}

// SetStatus implements the set_campaign_status tool. Transitions follow the
// same rules as the HTTP admin API.
func (s *AdminServer) SetStatus(ctx context.Context, req *mcp.CallToolRequest, input SetStatusInput) (*mcp.CallToolResult, SetStatusOutput, error) {
	ctx, cancel := context.WithTimeout(ctx, toolTimeout)
	defer cancel()

	patch := models.CampaignPatch{Status: &input.Status}
	updated, err := models.UpdateCampaignFunc(ctx, s.campaigns, input.CampaignID, 5, patch.Apply)
	if err != nil {
		return nil, SetStatusOutput{}, err
	}
	s.serving.CampaignChanged(ctx, "status", updated)
	s.logger.Info("set_campaign_status",
		zap.String("campaign_id", updated.ID),
		zap.String("status", updated.Status))
	return nil, SetStatusOutput{CampaignID: updated.ID, Status: updated.Status, Version: updated.Version}, nil
}

func main() {
	cfg := config.Load()
	logger, err := observability.InitLoggerWithService("kidsclub-ads-mcp")
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()

	ctx := context.Background()
	if cfg.PostgresDSN == "" || cfg.ClickHouseDSN == "" {
		logger.Fatal("POSTGRES_DSN and CLICKHOUSE_DSN are required")
	}
	pg, err := db.InitPostgres(ctx, cfg.PostgresDSN, 10, 5, 30*time.Minute, cfg.DBConnMaxIdleTime)
	if err != nil {
		logger.Fatal("Failed to connect to PostgreSQL", zap.Error(err))
	}
	defer pg.Close()
	pg.Timeout = cfg.StoreTimeout

	ch, err := analytics.InitClickHouse(ctx, cfg.ClickHouseDSN, 5, 2, cfg.CHConnMaxLifetime, cfg.CHConnMaxIdleTime)
	if err != nil {
		logger.Fatal("Failed to connect to ClickHouse", zap.Error(err))
	}
	defer ch.Close()
	ch.Timeout = cfg.StoreTimeout

	// Status changes must still reach serving instances through Redis.
	var notifier serving.Notifier
	if cfg.RedisAddr != "" {
		rs, err := db.InitRedis(ctx, cfg.RedisAddr)
		if err != nil {
			logger.Warn("Redis unavailable, status changes will not be broadcast", zap.Error(err))
		} else {
			defer rs.Close()
			notifier = rs
		}
	}

	admin := newAdminServer(pg, ch, notifier, cfg, logger)

	server := mcp.NewServer(&mcp.Implementation{
		Name:    "kidsclub-ads",
		Version: "1.0.0",
	}, nil)
	registerTools(server, admin)

	// Run the MCP server with logging transport for debugging
	var logBuffer bytes.Buffer
	loggingTransport := &mcp.LoggingTransport{
		Transport: &mcp.StdioTransport{},
		Writer:    &logBuffer,
	}

	logger.Info("MCP Server running via stdio")
	if err := server.Run(ctx, loggingTransport); err != nil {
		logger.Error("Server error", zap.Error(err), zap.String("mcp_logs", logBuffer.String()))
		os.Exit(1)
	}
}

func newAdminServer(campaigns models.CampaignStore, events analytics.EventStore, notifier serving.Notifier, cfg config.Config, logger *zap.Logger) *AdminServer {
	return &AdminServer{
		campaigns: campaigns,
		aggregator: analytics.NewAggregator(events, nil, analytics.AggregatorOptions{
			RetryAttempts: cfg.ReadRetryAttempts,
			RetryBackoff:  cfg.ReadRetryBackoff,
		}, logger),
		// No response cache here; serving instances drop theirs on the broadcast.
		serving: serving.NewService(campaigns, nil, notifier, serving.Options{}, logger, nil),
		logger:  logger,
		now:     time.Now,
	}
}

func registerTools(server *mcp.Server, admin *AdminServer) {
	mcp.AddTool(server, &mcp.Tool{
		Name:        "list_campaigns",
		Description: "List sponsored campaigns with their budget and ledger counters, newest first",
		InputSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"status": map[string]interface{}{
					"type":        "string",
					"enum":        []string{"draft", "pending", "active", "paused", "completed"},
					"description": "Only campaigns in this status (optional)",
				},
				"limit": map[string]interface{}{
					"type":        "integer",
					"minimum":     1,
					"maximum":     100,
					"description": "Page size (optional, defaults to 20)",
				},
				"page": map[string]interface{}{
					"type":        "integer",
					"minimum":     1,
					"description": "Page number starting at 1 (optional)",
				},
			},
		},
	}, admin.ListCampaigns)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "campaign_report",
		Description: "Daily and per-placement performance of one campaign plus its remaining budget",
		InputSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"campaign_id": map[string]interface{}{
					"type":        "string",
					"description": "Campaign ID",
				},
				"days": map[string]interface{}{
					"type":        "integer",
					"minimum":     1,
					"maximum":     reporting.MaxDays,
					"description": "Number of UTC days ending today (optional, defaults to 7)",
				},
			},
			"required": []string{"campaign_id"},
		},
	}, admin.CampaignReport)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "daily_revenue",
		Description: "Revenue per day split by ad type",
		InputSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"start": map[string]interface{}{
					"type":        "string",
					"format":      "date",
					"description": "First day, YYYY-MM-DD",
				},
				"end": map[string]interface{}{
					"type":        "string",
					"format":      "date",
					"description": "Last day, YYYY-MM-DD (inclusive)",
				},
			},
			"required": []string{"start", "end"},
		},
	}, admin.DailyRevenue)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "set_campaign_status",
		Description: "Move a campaign to another status, e.g. pause or resume it",
		InputSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"campaign_id": map[string]interface{}{
					"type":        "string",
					"description": "Campaign ID",
				},
				"status": map[string]interface{}{
					"type":        "string",
					"enum":        []string{"draft", "pending", "active", "paused", "completed"},
					"description": "Target status",
				},
			},
			"required": []string{"campaign_id", "status"},
		},
	}, admin.SetStatus)
}
