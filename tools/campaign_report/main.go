// Campaign Report Tool prints a performance report for one sponsored campaign.
//
// It reads the campaign and its ledger counters from Postgres and derives
// daily and per-placement metrics from the ClickHouse event log.
//
// Usage:
//
//	go run ./tools/campaign_report -campaign=<uuid> -days=30
//
// Configuration:
//
//	-campaign: Required. The campaign ID to report on
//	-days: Optional. Number of UTC days ending today (default 7, max 90)
//	-postgres-dsn, -clickhouse-dsn: Override POSTGRES_DSN and CLICKHOUSE_DSN
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/aminefth/kidsclub-sub001/internal/analytics"
	"github.com/aminefth/kidsclub-sub001/internal/config"
	"github.com/aminefth/kidsclub-sub001/internal/db"
	"github.com/aminefth/kidsclub-sub001/internal/reporting"
)

func main() {
	cfg := config.Load()
	var (
		campaignID = flag.String("campaign", "", "Campaign ID to generate report for")
		days       = flag.Int("days", reporting.DefaultDays, "Number of days to include in report")
		pgDSN      = flag.String("postgres-dsn", cfg.PostgresDSN, "Postgres DSN")
		chDSN      = flag.String("clickhouse-dsn", cfg.ClickHouseDSN, "ClickHouse DSN")
	)
	flag.Parse()

	if *campaignID == "" || *pgDSN == "" || *chDSN == "" {
		fmt.Fprintf(os.Stderr, "Error: campaign, postgres-dsn and clickhouse-dsn are required\n")
		flag.Usage()
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	pg, err := db.InitPostgres(ctx, *pgDSN, 2, 1, 5*time.Minute, time.Minute)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error connecting to Postgres: %v\n", err)
		os.Exit(1)
	}
	defer pg.Close()

	ch, err := analytics.InitClickHouse(ctx, *chDSN, 2, 1, 5*time.Minute, time.Minute)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error connecting to ClickHouse: %v\n", err)
		os.Exit(1)
	}
	defer ch.Close()

	agg := analytics.NewAggregator(ch, nil, analytics.AggregatorOptions{
		RetryAttempts: cfg.ReadRetryAttempts,
		RetryBackoff:  cfg.ReadRetryBackoff,
	}, zap.NewNop())

	summary, err := reporting.GenerateCampaignReport(ctx, pg, agg, *campaignID, *days, time.Now())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error generating report: %v\n", err)
		os.Exit(1)
	}
	printCampaignReport(summary)
}

// printCampaignReport writes the report as aligned text tables.
func printCampaignReport(summary *reporting.CampaignSummary) {
	rule := "───────────────────────────────────────────────────────────────────────────"
	fmt.Printf("CAMPAIGN PERFORMANCE REPORT\n%s\n", rule)
	fmt.Printf("Campaign:      %s (%s)\n", summary.Title, summary.CampaignID)
	fmt.Printf("Status:        %s\n", summary.Status)
	fmt.Printf("Report Period: %s to %s\n\n",
		summary.Period.Start.Format("2006-01-02"),
		summary.Period.End.Add(-time.Second).Format("2006-01-02"))

	total := summary.TotalMetrics
	fmt.Printf("OVERALL\n%s\n", rule)
	fmt.Printf("Impressions:   %s\n", formatNumber(total.Impressions))
	fmt.Printf("Clicks:        %s\n", formatNumber(total.Clicks))
	fmt.Printf("Revenue:       %.2f\n", total.Revenue)
	fmt.Printf("CTR:           %.2f%%\n", total.CTR)
	fmt.Printf("CPM:           %.2f\n\n", total.CPM)

	b := summary.Budget
	fmt.Printf("BUDGET\n%s\n", rule)
	fmt.Printf("Spend:         %.2f of %.2f (%.1f%%)\n", b.Spend, b.Total, b.Utilization)
	fmt.Printf("Remaining:     %.2f\n", b.Remaining)
	fmt.Printf("Rejected:      %s clicks after exhaustion\n\n", formatNumber(summary.Performance.RejectedClicks))

	if len(summary.DailyMetrics) > 0 {
		fmt.Printf("DAILY BREAKDOWN\n%s\n", rule)
		fmt.Printf("Date        | Impressions | Clicks |   CTR   |  Revenue  |   CPM\n")
		for _, dm := range summary.DailyMetrics {
			fmt.Printf("%-11s | %11s | %6s | %6.2f%% | %9.2f | %6.2f\n",
				dm.Date, formatNumber(dm.Impressions), formatNumber(dm.Clicks), dm.CTR, dm.Revenue, dm.CPM)
		}
		fmt.Printf("\n")
	}

	if len(summary.PlacementMetrics) > 0 {
		fmt.Printf("PLACEMENTS\n%s\n", rule)
		for _, p := range summary.PlacementMetrics {
			fmt.Printf("%-12s | %11s | %6s | %6.2f%%\n",
				p.Placement, formatNumber(p.Impressions), formatNumber(p.Clicks), p.CTR)
		}
	}
}

// formatNumber formats large integers with comma separators.
// Example: 1234567 becomes "1,234,567"
func formatNumber(n int64) string {
	str := fmt.Sprintf("%d", n)
	if len(str) <= 3 {
		return str
	}
	result := ""
	for i, digit := range str {
		if i > 0 && (len(str)-i)%3 == 0 {
			result += ","
		}
		result += string(digit)
	}
	return result
}
