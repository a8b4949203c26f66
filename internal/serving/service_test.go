package serving

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap/zaptest"

	"github.com/aminefth/kidsclub-sub001/internal/cache"
	"github.com/aminefth/kidsclub-sub001/internal/db"
	"github.com/aminefth/kidsclub-sub001/internal/logic"
	"github.com/aminefth/kidsclub-sub001/internal/models"
	"github.com/aminefth/kidsclub-sub001/internal/observability"
)

func newCampaign(t *testing.T, store models.CampaignStore, title string, bid float64, countries ...string) models.Campaign {
	t.Helper()
	now := time.Now().UTC()
	c := models.Campaign{
		Title:      title,
		Advertiser: models.Advertiser{Name: "Acme"},
		Creative:   models.Creative{Headline: title + " headline", Description: "d", URL: "https://example.com"},
		Targeting:  models.Targeting{Countries: countries},
		Budget:     models.Budget{Total: 100, BidAmount: bid},
		Placement:  models.Placement{Positions: []string{"sidebar"}, Categories: []string{"education"}},
		Schedule:   models.Schedule{Start: now.Add(-time.Hour), End: now.Add(time.Hour)},
		Status:     models.StatusActive,
		IsActive:   true,
	}
	c.Normalize()
	if err := store.InsertCampaign(context.Background(), &c); err != nil {
		t.Fatalf("insert: %v", err)
	}
	return c
}

func setupService(t *testing.T, store models.CampaignStore) (*Service, *miniredis.Miniredis, *observability.MockMetricsRegistry) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	rs := &db.RedisStore{Client: redis.NewClient(&redis.Options{Addr: mr.Addr()})}
	metrics := observability.NewMockMetricsRegistry()
	logger := zaptest.NewLogger(t)
	c := cache.New(rs, time.Second, logger, metrics)
	svc := NewService(store, c, rs, Options{CacheTTL: time.Minute, DefaultLimit: 3, MaxLimit: 10, RetryAttempts: 3, RetryBackoff: time.Millisecond}, logger, metrics)
	return svc, mr, metrics
}

func TestSponsored_RanksAndCaches(t *testing.T) {
	store := models.NewInMemoryCampaignStore()
	low := newCampaign(t, store, "low", 10, "ALL")
	high := newCampaign(t, store, "high", 90, "MA")
	newCampaign(t, store, "france", 500, "FR")
	svc, mr, metrics := setupService(t, store)
	ctx := context.Background()

	res, err := svc.Sponsored(ctx, Request{Placement: "sidebar", Country: "ma"})
	if err != nil {
		t.Fatalf("sponsored: %v", err)
	}
	if len(res.Posts) != 2 || res.Posts[0].ID != high.ID || res.Posts[1].ID != low.ID {
		t.Fatalf("unexpected posts %+v", res.Posts)
	}
	if res.Posts[0].Title != "high headline" || res.Posts[0].Category != "education" {
		t.Fatalf("unexpected projection %+v", res.Posts[0])
	}
	if !mr.Exists("sponsored:sidebar:all:MA:3") {
		t.Fatalf("expected cached response, keys=%v", mr.Keys())
	}

	// A cache hit ignores later store changes.
	newCampaign(t, store, "late", 1000, "ALL")
	res, _ = svc.Sponsored(ctx, Request{Placement: "sidebar", Country: "MA"})
	if len(res.Posts) != 2 {
		t.Fatalf("expected cached posts, got %d", len(res.Posts))
	}
	if metrics.Cache("sponsored", "hit") != 1 {
		t.Fatalf("expected one cache hit")
	}

	svc.CampaignChanged(ctx, "created", high)
	res, _ = svc.Sponsored(ctx, Request{Placement: "sidebar", Country: "MA"})
	if len(res.Posts) != 3 || res.Posts[0].Title != "late headline" {
		t.Fatalf("expected fresh posts after invalidation, got %+v", res.Posts)
	}
}

func TestSponsored_CountryIsPartOfKey(t *testing.T) {
	store := models.NewInMemoryCampaignStore()
	newCampaign(t, store, "france", 50, "FR")
	svc, _, _ := setupService(t, store)
	ctx := context.Background()

	fr, _ := svc.Sponsored(ctx, Request{Placement: "sidebar", Country: "FR"})
	ma, _ := svc.Sponsored(ctx, Request{Placement: "sidebar", Country: "MA"})
	if len(fr.Posts) != 1 || len(ma.Posts) != 0 {
		t.Fatalf("country leaked across cache entries: fr=%d ma=%d", len(fr.Posts), len(ma.Posts))
	}
}

func TestSponsored_DebugTraceAndNoFill(t *testing.T) {
	store := models.NewInMemoryCampaignStore()
	newCampaign(t, store, "france", 50, "FR")
	svc, _, metrics := setupService(t, store)

	res, err := svc.Sponsored(context.Background(), Request{Placement: "sidebar", Country: "MA", Debug: true})
	if err != nil {
		t.Fatalf("sponsored: %v", err)
	}
	if len(res.Posts) != 0 || metrics.NoFill("sponsored") != 1 {
		t.Fatalf("expected no fill, posts=%d", len(res.Posts))
	}
	if res.Trace == nil || len(res.Trace.Steps) != 4 {
		t.Fatalf("expected four trace stages, got %+v", res.Trace)
	}
	if res.Trace.Steps[0].Stage != logic.StageServable || len(res.Trace.Steps[0].CampaignIDs) != 1 {
		t.Fatalf("unexpected servable stage %+v", res.Trace.Steps[0])
	}
	if len(res.Trace.Steps[1].CampaignIDs) != 0 {
		t.Fatalf("targeting should drop the FR campaign")
	}
}

func TestSponsored_LimitClamp(t *testing.T) {
	svc := NewService(models.NewInMemoryCampaignStore(), nil, nil, Options{DefaultLimit: 3, MaxLimit: 10}, nil, nil)
	if svc.Limit(0) != 3 || svc.Limit(50) != 10 || svc.Limit(5) != 5 {
		t.Fatalf("unexpected limits %d %d %d", svc.Limit(0), svc.Limit(50), svc.Limit(5))
	}
	if _, err := svc.Sponsored(context.Background(), Request{}); err == nil {
		t.Fatal("expected validation error without placement")
	}
}

func TestOptimal(t *testing.T) {
	store := models.NewInMemoryCampaignStore()
	newCampaign(t, store, "a", 10, "ALL")
	best := newCampaign(t, store, "b", 40, "ALL")
	svc, _, metrics := setupService(t, store)

	ad, err := svc.Optimal(context.Background(), Request{Placement: "sidebar", Category: "games", Country: "MA"})
	if err != nil {
		t.Fatalf("optimal: %v", err)
	}
	if ad != nil {
		t.Fatalf("category mismatch should yield nil, got %+v", ad)
	}
	if metrics.NoFill("optimal") != 1 {
		t.Fatal("expected no-fill metric")
	}

	ad, _ = svc.Optimal(context.Background(), Request{Placement: "sidebar", Category: "education", Country: "MA"})
	if ad == nil || ad.ID != best.ID {
		t.Fatalf("expected best campaign, got %+v", ad)
	}
}

type flakyCampaigns struct {
	*models.InMemoryCampaignStore
	failures int32
	calls    atomic.Int32
}

func (f *flakyCampaigns) ListServable(ctx context.Context, now time.Time) ([]models.Campaign, error) {
	if f.calls.Add(1) <= f.failures {
		return nil, models.Transient("query servable campaigns", errors.New("timeout"))
	}
	return f.InMemoryCampaignStore.ListServable(ctx, now)
}

func TestSponsored_RetriesTransientReads(t *testing.T) {
	store := &flakyCampaigns{InMemoryCampaignStore: models.NewInMemoryCampaignStore(), failures: 2}
	newCampaign(t, store, "a", 10, "ALL")
	svc := NewService(store, nil, nil, Options{RetryAttempts: 3, RetryBackoff: time.Millisecond}, zaptest.NewLogger(t), nil)

	res, err := svc.Sponsored(context.Background(), Request{Placement: "sidebar"})
	if err != nil || len(res.Posts) != 1 {
		t.Fatalf("expected success after retries, got %v %v", res.Posts, err)
	}

	store.calls.Store(0)
	store.failures = 5
	if _, err := svc.Sponsored(context.Background(), Request{Placement: "sidebar"}); !errors.Is(err, models.ErrTransient) {
		t.Fatalf("expected transient error after exhausting retries, got %v", err)
	}
}
