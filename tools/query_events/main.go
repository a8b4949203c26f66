package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/aminefth/kidsclub-sub001/internal/analytics"
	"github.com/aminefth/kidsclub-sub001/internal/config"
	"github.com/aminefth/kidsclub-sub001/internal/models"
	"github.com/aminefth/kidsclub-sub001/internal/observability"
)

func main() {
	logger, err := observability.InitLoggerWithService("query-events")
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	var (
		id    string
		dsn   string
		event string
		since time.Duration
	)
	flag.StringVar(&id, "campaign", "", "campaign ID")
	flag.StringVar(&dsn, "dsn", "", "ClickHouse DSN (defaults to CLICKHOUSE_DSN)")
	flag.StringVar(&event, "event", "", "only impression or click events")
	flag.DurationVar(&since, "since", 7*24*time.Hour, "how far back to look")
	flag.Parse()

	if id == "" {
		fmt.Fprintln(os.Stderr, "campaign required")
		os.Exit(1)
	}
	cfg := config.Load()
	if dsn == "" {
		dsn = cfg.ClickHouseDSN
	}
	if dsn == "" {
		fmt.Fprintln(os.Stderr, "no ClickHouse DSN configured")
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	store, err := analytics.InitClickHouse(ctx, dsn, 4, 1, 5*time.Minute, time.Minute)
	if err != nil {
		fmt.Fprintf(os.Stderr, "connect clickhouse: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()
	store.Timeout = cfg.StoreTimeout

	now := time.Now().UTC()
	events, err := store.QueryEvents(ctx, models.EventFilter{
		Start:      now.Add(-since),
		End:        now.Add(time.Minute),
		CampaignID: id,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "query events: %v\n", err)
		os.Exit(1)
	}
	if event != "" {
		kept := events[:0]
		for _, e := range events {
			if e.Event == event {
				kept = append(kept, e)
			}
		}
		events = kept
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(events); err != nil {
		fmt.Fprintf(os.Stderr, "encode events: %v\n", err)
		os.Exit(1)
	}
}
