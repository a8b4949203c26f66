package analytics

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/aminefth/kidsclub-sub001/internal/models"
)

func setupMockClickHouse(t *testing.T) (*ClickHouseStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return &ClickHouseStore{DB: db, Timeout: time.Second}, mock
}

func TestClickHouseStore_InsertEvent(t *testing.T) {
	s, mock := setupMockClickHouse(t)
	ts := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

	mock.ExpectExec("INSERT INTO ad_events").
		WithArgs("e1", ts, "click", "sponsored", "c1", "sidebar", "https://kids.example/a", "A", "education",
			"mobile", "Safari", "iOS", false, "MA", true, 0.5).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := s.InsertEvent(context.Background(), models.Event{
		ID: "e1", Event: "click", Type: "sponsored", CampaignID: "c1", Placement: "sidebar",
		Page:   models.PageContext{URL: "https://kids.example/a", Title: "A", Category: "education"},
		Device: "mobile", Browser: "Safari", OS: "iOS", Country: "MA", Anonymous: true, Revenue: 0.5, Timestamp: ts,
	})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestClickHouseStore_InsertFailureIsTransient(t *testing.T) {
	s, mock := setupMockClickHouse(t)
	mock.ExpectExec("INSERT INTO ad_events").WillReturnError(errors.New("broken pipe"))

	err := s.InsertEvent(context.Background(), models.Event{ID: "e1", Event: "impression", Timestamp: time.Now()})
	if !errors.Is(err, models.ErrTransient) {
		t.Fatalf("expected transient error, got %v", err)
	}
}

func TestClickHouseStore_QueryEvents(t *testing.T) {
	s, mock := setupMockClickHouse(t)
	start := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(24 * time.Hour)

	rows := sqlmock.NewRows([]string{"id", "timestamp", "event", "type", "campaign_id", "placement", "page_url", "page_title",
		"page_category", "device", "browser", "os", "bot", "country", "anonymous", "revenue"}).
		AddRow("e1", start.Add(time.Hour), "impression", "sponsored", "c1", "sidebar", "", "", "", "desktop", "Chrome", "Windows", false, "FR", false, 0.0)

	mock.ExpectQuery("SELECT (.+) FROM ad_events WHERE timestamp >= \\? AND timestamp < \\? AND type = \\? ORDER BY timestamp").
		WithArgs(start, end, "sponsored").
		WillReturnRows(rows)

	events, err := s.QueryEvents(context.Background(), models.EventFilter{Start: start, End: end, Type: "sponsored"})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(events) != 1 || events[0].CampaignID != "c1" || events[0].Browser != "Chrome" {
		t.Fatalf("unexpected events %+v", events)
	}
}

func TestFilterClause_Empty(t *testing.T) {
	where, args := filterClause(models.EventFilter{})
	if where != "" || args != nil {
		t.Fatalf("expected no clause, got %q %v", where, args)
	}
}
