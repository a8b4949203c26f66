package models

// Bucket granularities for analytics.
const (
	GroupByHour  = "hour"
	GroupByDay   = "day"
	GroupByMonth = "month"
)

// Optional grouping dimensions.
const (
	DimensionType      = "type"
	DimensionPlacement = "placement"
)

// AggregateBucket is one row of a time-bucketed report. It is derived from
// events on demand and never stored as the source of truth.
type AggregateBucket struct {
	Label       string  `json:"label"`               // Formatted bucket start, e.g. 2024-05-01.
	Type        string  `json:"type,omitempty"`      // Set when grouped by type.
	Placement   string  `json:"placement,omitempty"` // Set when grouped by placement.
	Impressions int64   `json:"impressions"`
	Clicks      int64   `json:"clicks"`
	Revenue     float64 `json:"revenue"`
	CTR         float64 `json:"ctr"` // Percentage, clicks/impressions*100.
	CPM         float64 `json:"cpm"` // Revenue per thousand impressions.
}

// Finalize derives CTR and CPM from the raw counts. Both are zero without
// impressions.
func (b *AggregateBucket) Finalize() {
	if b.Impressions == 0 {
		b.CTR = 0
		b.CPM = 0
		return
	}
	b.CTR = float64(b.Clicks) / float64(b.Impressions) * 100
	b.CPM = b.Revenue / float64(b.Impressions) * 1000
}

// DailyRevenue is the revenue for one day split by event type.
type DailyRevenue struct {
	Total     float64            `json:"total"`
	Breakdown map[string]float64 `json:"breakdown"`
}
