package db

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/aminefth/kidsclub-sub001/internal/models"
)

func setupMockPostgres(t *testing.T) (*Postgres, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	return &Postgres{DB: db, Timeout: time.Second}, mock, func() { _ = db.Close() }
}

var campaignRowColumns = []string{
	"id", "title", "advertiser_name", "advertiser_verified", "creative", "countries", "target_categories",
	"languages", "interests", "keywords", "age_min", "age_max", "budget_total", "budget_daily", "bid_amount",
	"bid_type", "positions", "placement_categories", "schedule_start", "schedule_end", "timezone",
	"active_hour_start", "active_hour_end", "status", "is_active", "impressions", "clicks", "conversions",
	"rejected_clicks", "spend", "ctr", "cpm", "cpa", "last_click_at", "last_rejected_at", "version",
	"created_at", "updated_at",
}

func campaignRow(id string, version int64) *sqlmock.Rows {
	start := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	return sqlmock.NewRows(campaignRowColumns).AddRow(
		id, "Spring books", "Acme", true, []byte(`{"headline":"Read more","description":"Kids books","url":"https://example.com"}`),
		"{FR,MA}", "{education}", nil, nil, nil, 6, 12,
		100.0, 3.0, 10.0, "cpc",
		"{sidebar}", "{ALL}",
		start, start.Add(48*time.Hour), "Africa/Casablanca",
		0, 0, "active", true,
		int64(10), int64(2), int64(0), int64(1), 20.0, 0.2, 0.0, 0.0,
		start.Add(time.Hour), nil, version,
		start, start,
	)
}

func TestPostgres_GetCampaign(t *testing.T) {
	pg, mock, cleanup := setupMockPostgres(t)
	defer cleanup()

	mock.ExpectQuery("SELECT (.+) FROM campaigns WHERE id = \\$1").
		WithArgs("c1").
		WillReturnRows(campaignRow("c1", 4))

	c, err := pg.GetCampaign(context.Background(), "c1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if c.Version != 4 || c.Creative.Headline != "Read more" {
		t.Fatalf("unexpected campaign: %+v", c)
	}
	if len(c.Targeting.Countries) != 2 || c.Targeting.Countries[1] != "MA" {
		t.Fatalf("countries not decoded: %v", c.Targeting.Countries)
	}
	if c.Placement.Categories[0] != models.Wildcard {
		t.Fatalf("placement categories not decoded: %v", c.Placement.Categories)
	}
	if c.Performance.LastClickAt == nil || c.Performance.LastRejectedAt != nil {
		t.Fatalf("nullable timestamps mis-scanned: %+v", c.Performance)
	}
	if c.Schedule.Timezone != "Africa/Casablanca" {
		t.Fatalf("timezone = %q", c.Schedule.Timezone)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestPostgres_GetCampaignNotFound(t *testing.T) {
	pg, mock, cleanup := setupMockPostgres(t)
	defer cleanup()

	mock.ExpectQuery("SELECT (.+) FROM campaigns WHERE id = \\$1").
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows(campaignRowColumns))

	if _, err := pg.GetCampaign(context.Background(), "missing"); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPostgres_DriverErrorIsTransient(t *testing.T) {
	pg, mock, cleanup := setupMockPostgres(t)
	defer cleanup()

	mock.ExpectQuery("SELECT (.+) FROM campaigns WHERE status = 'active'").
		WillReturnError(errors.New("connection reset"))

	_, err := pg.ListServable(context.Background(), time.Now())
	if !errors.Is(err, models.ErrTransient) {
		t.Fatalf("expected transient error, got %v", err)
	}
}

func TestPostgres_SwapPerformance(t *testing.T) {
	perf := models.Performance{Impressions: 10, Clicks: 3, Spend: 30, CTR: 0.3}

	t.Run("applied", func(t *testing.T) {
		pg, mock, cleanup := setupMockPostgres(t)
		defer cleanup()
		mock.ExpectExec("UPDATE campaigns SET impressions").
			WillReturnResult(sqlmock.NewResult(0, 1))

		ok, err := pg.SwapPerformance(context.Background(), "c1", 4, perf, "")
		if err != nil || !ok {
			t.Fatalf("expected swap to apply, got %v %v", ok, err)
		}
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Fatalf("expectations: %v", err)
		}
	})

	t.Run("stale version", func(t *testing.T) {
		pg, mock, cleanup := setupMockPostgres(t)
		defer cleanup()
		mock.ExpectExec("UPDATE campaigns SET impressions").
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery("SELECT 1 FROM campaigns WHERE id = \\$1").
			WithArgs("c1").
			WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))

		ok, err := pg.SwapPerformance(context.Background(), "c1", 3, perf, "")
		if err != nil || ok {
			t.Fatalf("expected stale swap to report false, got %v %v", ok, err)
		}
	})

	t.Run("missing", func(t *testing.T) {
		pg, mock, cleanup := setupMockPostgres(t)
		defer cleanup()
		mock.ExpectExec("UPDATE campaigns SET impressions").
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery("SELECT 1 FROM campaigns WHERE id = \\$1").
			WithArgs("gone").
			WillReturnRows(sqlmock.NewRows([]string{"?column?"}))

		if _, err := pg.SwapPerformance(context.Background(), "gone", 1, perf, ""); !errors.Is(err, models.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})
}

func TestPostgres_UpdateCampaignConflict(t *testing.T) {
	pg, mock, cleanup := setupMockPostgres(t)
	defer cleanup()

	mock.ExpectQuery("UPDATE campaigns SET title").
		WillReturnRows(sqlmock.NewRows(campaignRowColumns))
	mock.ExpectQuery("SELECT 1 FROM campaigns WHERE id = \\$1").
		WithArgs("c1").
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))

	c := models.Campaign{ID: "c1", Version: 2, Title: "Renamed"}
	if _, err := pg.UpdateCampaign(context.Background(), c); !errors.Is(err, models.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestPostgres_ListCampaigns(t *testing.T) {
	pg, mock, cleanup := setupMockPostgres(t)
	defer cleanup()

	mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM campaigns").
		WithArgs("active").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(7))
	mock.ExpectQuery("SELECT (.+) FROM campaigns WHERE \\(\\$1 = '' OR status = \\$1\\) ORDER BY").
		WithArgs("active", 2, 4).
		WillReturnRows(campaignRow("c5", 1))

	cs, total, err := pg.ListCampaigns(context.Background(), models.CampaignListFilter{Status: "active", Limit: 2, Offset: 4})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if total != 7 || len(cs) != 1 || cs[0].ID != "c5" {
		t.Fatalf("unexpected page: total=%d campaigns=%v", total, cs)
	}
}

func TestPostgres_ListCampaignsNegativeOffset(t *testing.T) {
	pg, mock, cleanup := setupMockPostgres(t)
	defer cleanup()

	_, _, err := pg.ListCampaigns(context.Background(), models.CampaignListFilter{Limit: 20, Offset: -40})
	var verr *models.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("no query expected: %v", err)
	}
}
