package main

import (
	"context"
	"flag"
	"fmt"
	"math"
	"math/rand"
	"os"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aminefth/kidsclub-sub001/internal/analytics"
	"github.com/aminefth/kidsclub-sub001/internal/config"
	"github.com/aminefth/kidsclub-sub001/internal/db"
	"github.com/aminefth/kidsclub-sub001/internal/models"
	"github.com/aminefth/kidsclub-sub001/internal/observability"
)

var (
	campaignCount = flag.Int("campaigns", 20, "campaigns to create")
	eventDays     = flag.Int("days", 14, "days of historical events to generate (0 to skip)")
	eventsPerDay  = flag.Int("events", 200, "impressions per campaign per day")
	seed          = flag.Int64("seed", time.Now().UnixNano(), "rng seed")
)

var (
	advertisers = []string{"Little Readers", "Bright Minds Toys", "Science Box", "Happy Crayons", "Junior Coders"}
	positions   = []string{"sidebar", "feed", "header"}
	categories  = []string{"education", "science", "stories", "games", "art"}
	countries   = []string{"MA", "FR", "US", "GB", "ES"}
	products    = []string{"Books", "Kits", "Puzzles", "Workshops", "Magazines"}
)

func main() {
	flag.Parse()

	logger, err := observability.InitLoggerWithService("fake-data")
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	cfg := config.Load()
	if cfg.PostgresDSN == "" {
		logger.Fatal("POSTGRES_DSN is required")
	}
	ctx := context.Background()

	pg, err := db.InitPostgres(ctx, cfg.PostgresDSN, cfg.DBMaxOpenConns, cfg.DBMaxIdleConns, cfg.DBConnMaxLifetime, cfg.DBConnMaxIdleTime)
	if err != nil {
		logger.Fatal("connect postgres", zap.Error(err))
	}
	defer pg.Close()

	r := rand.New(rand.NewSource(*seed))
	now := time.Now().UTC()

	created := make([]models.Campaign, 0, *campaignCount)
	for i := 0; i < *campaignCount; i++ {
		c := fakeCampaign(r, now)
		c.Normalize()
		if err := c.Validate(); err != nil {
			logger.Fatal("generated invalid campaign", zap.Error(err))
		}
		if err := pg.InsertCampaign(ctx, &c); err != nil {
			logger.Fatal("insert campaign", zap.Error(err))
		}
		created = append(created, c)
	}
	logger.Info("campaigns inserted", zap.Int("count", len(created)))

	if *eventDays <= 0 || cfg.ClickHouseDSN == "" {
		return
	}
	ch, err := analytics.InitClickHouse(ctx, cfg.ClickHouseDSN, cfg.CHMaxOpenConns, cfg.CHMaxIdleConns, cfg.CHConnMaxLifetime, cfg.CHConnMaxIdleTime)
	if err != nil {
		logger.Fatal("connect clickhouse", zap.Error(err))
	}
	defer ch.Close()

	// Historical events only feed analytics; the ledger counters stay at zero.
	total := 0
	for _, c := range created {
		n, err := insertHistory(ctx, ch, r, c, now)
		if err != nil {
			logger.Fatal("insert events", zap.String("campaign_id", c.ID), zap.Error(err))
		}
		total += n
	}
	logger.Info("events inserted", zap.Int("count", total), zap.Int("days", *eventDays))
}

func fakeCampaign(r *rand.Rand, now time.Time) models.Campaign {
	product := products[r.Intn(len(products))]
	adv := advertisers[r.Intn(len(advertisers))]
	total := float64(100 + r.Intn(900))
	return models.Campaign{
		Title:      fmt.Sprintf("%s %s %d", adv, product, r.Intn(1000)),
		Advertiser: models.Advertiser{Name: adv, Verified: r.Intn(3) > 0},
		Creative: models.Creative{
			Headline:    "Discover " + product,
			Description: fmt.Sprintf("%s from %s for curious kids", product, adv),
			Image:       fmt.Sprintf("https://cdn.example.com/%s.png", uuid.NewString()),
			URL:         "https://example.com/" + product,
			CTA:         "Learn more",
		},
		Targeting: models.Targeting{
			Countries:  sample(r, countries, 2),
			Categories: sample(r, categories, 2),
			AgeRange:   models.AgeRange{Min: 6, Max: 12},
		},
		Budget: models.Budget{
			Total:     total,
			Daily:     math.Floor(total / 30),
			BidAmount: float64(1+r.Intn(20)) / 10,
			BidType:   models.BidTypeCPC,
		},
		Placement: models.Placement{
			Positions:  sample(r, positions, 2),
			Categories: sample(r, categories, 2),
		},
		Schedule: models.Schedule{
			Start: now.AddDate(0, 0, -*eventDays-1),
			End:   now.AddDate(0, 1, 0),
		},
		Status:   models.StatusActive,
		IsActive: true,
	}
}

func insertHistory(ctx context.Context, store analytics.EventStore, r *rand.Rand, c models.Campaign, now time.Time) (int, error) {
	n := 0
	day := now.Truncate(24*time.Hour).AddDate(0, 0, -*eventDays)
	for d := 0; d < *eventDays; d++ {
		for i := 0; i < *eventsPerDay; i++ {
			e := models.Event{
				ID:         uuid.NewString(),
				Event:      models.EventImpression,
				Type:       models.AdTypeSponsored,
				CampaignID: c.ID,
				Placement:  c.Placement.Positions[r.Intn(len(c.Placement.Positions))],
				Device:     models.DeviceDesktop,
				Browser:    models.BrowserOther,
				Country:    c.Targeting.Countries[r.Intn(len(c.Targeting.Countries))],
				Timestamp:  day.Add(time.Duration(r.Int63n(int64(24 * time.Hour)))),
			}
			if err := store.InsertEvent(ctx, e); err != nil {
				return n, err
			}
			n++
			if r.Float64() < 0.03 {
				e.ID = uuid.NewString()
				e.Event = models.EventClick
				e.Revenue = c.Budget.BidAmount
				e.Timestamp = e.Timestamp.Add(time.Duration(r.Intn(60)) * time.Second)
				if err := store.InsertEvent(ctx, e); err != nil {
					return n, err
				}
				n++
			}
		}
		day = day.Add(24 * time.Hour)
	}
	return n, nil
}

func sample(r *rand.Rand, from []string, upTo int) []string {
	k := 1 + r.Intn(upTo)
	idx := r.Perm(len(from))[:k]
	out := make([]string, 0, k)
	for _, i := range idx {
		out = append(out, from[i])
	}
	return out
}
