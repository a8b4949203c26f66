package ledger

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/aminefth/kidsclub-sub001/internal/models"
	"github.com/aminefth/kidsclub-sub001/internal/observability"
)

func seedCampaign(t *testing.T, store models.CampaignStore, total, bid float64) models.Campaign {
	t.Helper()
	now := time.Now().UTC()
	c := models.Campaign{
		Title:      "ledger",
		Advertiser: models.Advertiser{Name: "Acme"},
		Creative:   models.Creative{Headline: "h", Description: "d", URL: "https://example.com"},
		Budget:     models.Budget{Total: total, BidAmount: bid, BidType: models.BidTypeCPC},
		Placement:  models.Placement{Positions: []string{"sidebar"}},
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

func newTestLedger(t *testing.T, store models.CampaignStore, opts Options) (*Ledger, *observability.MockMetricsRegistry) {
	metrics := observability.NewMockMetricsRegistry()
	if opts.MaxAttempts == 0 {
		opts.MaxAttempts = 1000
	}
	if opts.Backoff == 0 {
		opts.Backoff = 50 * time.Microsecond
	}
	return New(store, opts, zaptest.NewLogger(t), metrics), metrics
}

func TestRecordClick_BudgetInvariant(t *testing.T) {
	store := models.NewInMemoryCampaignStore()
	c := seedCampaign(t, store, 25, 10)
	l, metrics := newTestLedger(t, store, Options{})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		out, err := l.RecordClick(ctx, c.ID)
		if err != nil || !out.Billed {
			t.Fatalf("click %d: expected billed, got %v %v", i, out.Billed, err)
		}
	}
	out, err := l.RecordClick(ctx, c.ID)
	if !errors.Is(err, ErrBudgetExhausted) {
		t.Fatalf("expected ErrBudgetExhausted, got %v", err)
	}
	if out.Billed {
		t.Fatal("rejected click reported as billed")
	}

	got, _ := store.GetCampaign(ctx, c.ID)
	p := got.Performance
	if p.Spend != 20 || p.Clicks != 2 || p.RejectedClicks != 1 {
		t.Fatalf("unexpected counters %+v", p)
	}
	if p.Spend > got.Budget.Total {
		t.Fatalf("spend %v exceeds total %v", p.Spend, got.Budget.Total)
	}
	if p.LastRejectedAt == nil || p.LastClickAt == nil {
		t.Fatal("expected click and rejection timestamps")
	}
	if metrics.LedgerOutcome("click", "billed") != 2 || metrics.LedgerOutcome("click", "exhausted") != 1 {
		t.Fatal("unexpected ledger metrics")
	}
}

func TestRecordClick_Concurrent(t *testing.T) {
	const n = 20
	const bid = 1.5
	store := models.NewInMemoryCampaignStore()
	c := seedCampaign(t, store, (n-1)*bid, bid)
	l, _ := newTestLedger(t, store, Options{})

	var billed, exhausted, other atomic.Int32
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			out, err := l.RecordClick(context.Background(), c.ID)
			switch {
			case err == nil && out.Billed:
				billed.Add(1)
			case errors.Is(err, ErrBudgetExhausted):
				exhausted.Add(1)
			default:
				other.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	if billed.Load() != n-1 || exhausted.Load() != 1 || other.Load() != 0 {
		t.Fatalf("billed=%d exhausted=%d other=%d", billed.Load(), exhausted.Load(), other.Load())
	}
	got, _ := store.GetCampaign(context.Background(), c.ID)
	if got.Performance.Spend != (n-1)*bid {
		t.Fatalf("expected spend %v, got %v", (n-1)*bid, got.Performance.Spend)
	}
	if got.Performance.Clicks != n-1 || got.Performance.RejectedClicks != 1 {
		t.Fatalf("unexpected counters %+v", got.Performance)
	}
}

func TestRecordImpression_CTR(t *testing.T) {
	store := models.NewInMemoryCampaignStore()
	c := seedCampaign(t, store, 100, 5)
	l, _ := newTestLedger(t, store, Options{})
	ctx := context.Background()

	got, _ := store.GetCampaign(ctx, c.ID)
	if got.Performance.CTR != 0 {
		t.Fatalf("fresh campaign ctr = %v", got.Performance.CTR)
	}

	for i := 0; i < 10; i++ {
		if _, err := l.RecordImpression(ctx, c.ID); err != nil {
			t.Fatalf("impression: %v", err)
		}
	}
	for i := 0; i < 2; i++ {
		if _, err := l.RecordClick(ctx, c.ID); err != nil {
			t.Fatalf("click: %v", err)
		}
	}
	got, _ = store.GetCampaign(ctx, c.ID)
	if got.Performance.CTR != 0.2 {
		t.Fatalf("expected ctr 0.2, got %v", got.Performance.CTR)
	}
	if got.Performance.CPM != 1000 {
		t.Fatalf("expected cpm 1000, got %v", got.Performance.CPM)
	}
}

func TestRecordClick_NoImpressions(t *testing.T) {
	store := models.NewInMemoryCampaignStore()
	c := seedCampaign(t, store, 100, 5)
	l, _ := newTestLedger(t, store, Options{})

	out, err := l.RecordClick(context.Background(), c.ID)
	if err != nil {
		t.Fatalf("click: %v", err)
	}
	if out.Campaign.Performance.CTR != 1 || out.Campaign.Performance.CPM != 0 {
		t.Fatalf("unexpected derived fields %+v", out.Campaign.Performance)
	}
}

func TestRecord_NotFound(t *testing.T) {
	store := models.NewInMemoryCampaignStore()
	l, _ := newTestLedger(t, store, Options{})
	if _, err := l.RecordClick(context.Background(), "missing"); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := l.RecordImpression(context.Background(), "missing"); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

type losingStore struct {
	*models.InMemoryCampaignStore
	swaps atomic.Int32
}

func (s *losingStore) SwapPerformance(context.Context, string, int64, models.Performance, string) (bool, error) {
	s.swaps.Add(1)
	return false, nil
}

func TestRecordClick_Contention(t *testing.T) {
	store := &losingStore{InMemoryCampaignStore: models.NewInMemoryCampaignStore()}
	c := seedCampaign(t, store, 100, 5)
	l, metrics := newTestLedger(t, store, Options{MaxAttempts: 4, Backoff: time.Microsecond})

	_, err := l.RecordClick(context.Background(), c.ID)
	if !errors.Is(err, ErrLedgerContention) {
		t.Fatalf("expected ErrLedgerContention, got %v", err)
	}
	if store.swaps.Load() != 4 {
		t.Fatalf("expected 4 swap attempts, got %d", store.swaps.Load())
	}
	if metrics.LedgerOutcome("click", "contention") != 1 {
		t.Fatal("contention not counted")
	}
	got, _ := store.GetCampaign(context.Background(), c.ID)
	if got.Performance.Clicks != 0 || got.Performance.Spend != 0 {
		t.Fatal("contention must not mutate counters")
	}
}

func TestRecordClick_PauseAndHook(t *testing.T) {
	store := models.NewInMemoryCampaignStore()
	c := seedCampaign(t, store, 10, 10)

	var fired atomic.Int32
	l, _ := newTestLedger(t, store, Options{
		PauseOnExhaustion: true,
		OnExhausted: func(_ context.Context, c models.Campaign) {
			fired.Add(1)
		},
	})
	ctx := context.Background()

	out, err := l.RecordClick(ctx, c.ID)
	if err != nil || !out.Billed {
		t.Fatalf("expected billed click, got %v", err)
	}
	if out.Campaign.Status != models.StatusPaused {
		t.Fatalf("expected campaign paused once drained, got %s", out.Campaign.Status)
	}
	if fired.Load() != 1 {
		t.Fatalf("expected hook on drain, fired %d", fired.Load())
	}

	if _, err := l.RecordClick(ctx, c.ID); !errors.Is(err, ErrBudgetExhausted) {
		t.Fatalf("expected ErrBudgetExhausted, got %v", err)
	}
	if _, err := l.RecordClick(ctx, c.ID); !errors.Is(err, ErrBudgetExhausted) {
		t.Fatalf("expected ErrBudgetExhausted, got %v", err)
	}
	if fired.Load() != 2 {
		t.Fatalf("expected hook once more for the first rejection, fired %d", fired.Load())
	}
	got, _ := store.GetCampaign(ctx, c.ID)
	if got.Performance.RejectedClicks != 2 || got.Performance.Spend != 10 {
		t.Fatalf("unexpected counters %+v", got.Performance)
	}
}

func TestRecordClick_NoPauseByDefault(t *testing.T) {
	store := models.NewInMemoryCampaignStore()
	c := seedCampaign(t, store, 5, 10)
	l, _ := newTestLedger(t, store, Options{})

	out, err := l.RecordClick(context.Background(), c.ID)
	if !errors.Is(err, ErrBudgetExhausted) {
		t.Fatalf("expected ErrBudgetExhausted, got %v", err)
	}
	if out.Campaign.Status != models.StatusActive {
		t.Fatalf("status changed without pause policy: %s", out.Campaign.Status)
	}
}

func TestRound(t *testing.T) {
	sum := 0.0
	for i := 0; i < 10; i++ {
		sum = round(sum + 0.1)
	}
	if sum != 1 {
		t.Fatalf("expected rounded sum 1, got %v", sum)
	}
}

func TestRecordClick_SubMicroTotal(t *testing.T) {
	store := models.NewInMemoryCampaignStore()
	now := time.Now().UTC()
	// Inserted without Normalize so the total keeps its sub-micro digits.
	c := models.Campaign{
		Title:     "ledger",
		Creative:  models.Creative{Headline: "h", URL: "https://example.com"},
		Budget:    models.Budget{Total: 9.9999996, BidAmount: 9.9999996, BidType: models.BidTypeCPC},
		Placement: models.Placement{Positions: []string{"sidebar"}},
		Schedule:  models.Schedule{Start: now.Add(-time.Hour), End: now.Add(time.Hour)},
		Status:    models.StatusActive,
		IsActive:  true,
	}
	if err := store.InsertCampaign(context.Background(), &c); err != nil {
		t.Fatalf("insert: %v", err)
	}
	l, _ := newTestLedger(t, store, Options{MaxAttempts: 3})

	out, err := l.RecordClick(context.Background(), c.ID)
	if !errors.Is(err, ErrBudgetExhausted) || out.Billed {
		t.Fatalf("expected rejected click, got billed=%v err=%v", out.Billed, err)
	}
	got, _ := store.GetCampaign(context.Background(), c.ID)
	if got.Performance.Spend > got.Budget.Total {
		t.Fatalf("spend %v exceeds total %v", got.Performance.Spend, got.Budget.Total)
	}
}

func TestRecordClick_NormalizedSubMicroTotal(t *testing.T) {
	store := models.NewInMemoryCampaignStore()
	c := seedCampaign(t, store, 9.9999996, 9.9999996)
	if c.Budget.Total != 10 || c.Budget.BidAmount != 10 {
		t.Fatalf("expected money rounded to micro-units, got %+v", c.Budget)
	}
	l, _ := newTestLedger(t, store, Options{MaxAttempts: 3})

	out, err := l.RecordClick(context.Background(), c.ID)
	if err != nil || !out.Billed {
		t.Fatalf("expected billed click, got billed=%v err=%v", out.Billed, err)
	}
	got, _ := store.GetCampaign(context.Background(), c.ID)
	if got.Performance.Spend != got.Budget.Total {
		t.Fatalf("expected exact drain, spend %v total %v", got.Performance.Spend, got.Budget.Total)
	}
}
