// Package reporting assembles per-campaign performance reports from the
// event aggregates and the ledger counters.
package reporting

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/aminefth/kidsclub-sub001/internal/analytics"
	"github.com/aminefth/kidsclub-sub001/internal/models"
)

// Report windows in days.
const (
	DefaultDays = 7
	MaxDays     = 90
)

// Aggregator is the analytics query used to build reports.
type Aggregator interface {
	Aggregate(ctx context.Context, q analytics.Query) ([]models.AggregateBucket, error)
}

// CampaignMetrics are event-derived counts for a day or the whole window.
// CTR is a percentage (0-100).
type CampaignMetrics struct {
	Date        string  `json:"date,omitempty"` // YYYY-MM-DD; empty for totals
	Impressions int64   `json:"impressions"`
	Clicks      int64   `json:"clicks"`
	Revenue     float64 `json:"revenue"`
	CTR         float64 `json:"ctr"`
	CPM         float64 `json:"cpm"`
}

// PlacementMetrics breaks the window down by page position.
type PlacementMetrics struct {
	Placement   string  `json:"placement"`
	Impressions int64   `json:"impressions"`
	Clicks      int64   `json:"clicks"`
	Revenue     float64 `json:"revenue"`
	CTR         float64 `json:"ctr"`
}

// BudgetStatus is the ledger view of the budget.
type BudgetStatus struct {
	Total       float64 `json:"total"`
	Spend       float64 `json:"spend"`
	Remaining   float64 `json:"remaining"`
	Utilization float64 `json:"utilization"` // spend/total*100
}

// Period is the report window; End is exclusive.
type Period struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// CampaignSummary is the full report for one campaign.
type CampaignSummary struct {
	CampaignID       string             `json:"campaignId"`
	Title            string             `json:"title"`
	Status           string             `json:"status"`
	Period           Period             `json:"period"`
	TotalMetrics     CampaignMetrics    `json:"totalMetrics"`
	DailyMetrics     []CampaignMetrics  `json:"dailyMetrics"`
	PlacementMetrics []PlacementMetrics `json:"placementMetrics"`
	Budget           BudgetStatus       `json:"budget"`
	Performance      models.Performance `json:"performance"` // Ledger counters.
}

// GenerateCampaignReport builds a report covering the last days UTC days up
// to and including the day of now.
func GenerateCampaignReport(ctx context.Context, store models.CampaignStore, agg Aggregator, campaignID string, days int, now time.Time) (*CampaignSummary, error) {
	if days <= 0 {
		days = DefaultDays
	}
	if days > MaxDays {
		return nil, &models.ValidationError{Field: "days", Reason: fmt.Sprintf("must be at most %d", MaxDays)}
	}
	c, err := store.GetCampaign(ctx, campaignID)
	if err != nil {
		return nil, fmt.Errorf("load campaign: %w", err)
	}

	end := now.UTC().Truncate(24 * time.Hour).Add(24 * time.Hour)
	start := end.AddDate(0, 0, -days)
	buckets, err := agg.Aggregate(ctx, analytics.Query{
		Start:      start,
		End:        end,
		CampaignID: c.ID,
		GroupBy:    models.GroupByDay,
		Dimensions: []string{models.DimensionPlacement},
	})
	if err != nil {
		return nil, fmt.Errorf("aggregate events: %w", err)
	}

	summary := &CampaignSummary{
		CampaignID:  c.ID,
		Title:       c.Title,
		Status:      c.Status,
		Period:      Period{Start: start, End: end},
		Performance: c.Performance,
		Budget:      budgetStatus(c),
	}

	daily := make(map[string]*models.AggregateBucket)
	placements := make(map[string]*models.AggregateBucket)
	total := &models.AggregateBucket{}
	for _, b := range buckets {
		for _, acc := range []*models.AggregateBucket{
			bucketFor(daily, b.Label),
			bucketFor(placements, b.Placement),
			total,
		} {
			acc.Impressions += b.Impressions
			acc.Clicks += b.Clicks
			acc.Revenue += b.Revenue
		}
	}

	summary.DailyMetrics = make([]CampaignMetrics, 0, len(daily))
	for label, b := range daily {
		b.Finalize()
		summary.DailyMetrics = append(summary.DailyMetrics, metricsOf(label, b))
	}
	sort.Slice(summary.DailyMetrics, func(i, j int) bool {
		return summary.DailyMetrics[i].Date < summary.DailyMetrics[j].Date
	})

	summary.PlacementMetrics = make([]PlacementMetrics, 0, len(placements))
	for name, b := range placements {
		b.Finalize()
		summary.PlacementMetrics = append(summary.PlacementMetrics, PlacementMetrics{
			Placement:   name,
			Impressions: b.Impressions,
			Clicks:      b.Clicks,
			Revenue:     b.Revenue,
			CTR:         b.CTR,
		})
	}
	sort.Slice(summary.PlacementMetrics, func(i, j int) bool {
		return summary.PlacementMetrics[i].Placement < summary.PlacementMetrics[j].Placement
	})

	total.Finalize()
	summary.TotalMetrics = metricsOf("", total)
	return summary, nil
}

func bucketFor(m map[string]*models.AggregateBucket, key string) *models.AggregateBucket {
	b, ok := m[key]
	if !ok {
		b = &models.AggregateBucket{}
		m[key] = b
	}
	return b
}

func metricsOf(date string, b *models.AggregateBucket) CampaignMetrics {
	return CampaignMetrics{
		Date:        date,
		Impressions: b.Impressions,
		Clicks:      b.Clicks,
		Revenue:     b.Revenue,
		CTR:         b.CTR,
		CPM:         b.CPM,
	}
}

func budgetStatus(c models.Campaign) BudgetStatus {
	s := BudgetStatus{
		Total:     c.Budget.Total,
		Spend:     c.Performance.Spend,
		Remaining: c.Remaining(),
	}
	if s.Total > 0 {
		s.Utilization = s.Spend / s.Total * 100
	}
	return s
}
