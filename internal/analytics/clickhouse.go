package analytics

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	_ "github.com/ClickHouse/clickhouse-go/v2"

	"github.com/aminefth/kidsclub-sub001/internal/models"
)

// ClickHouseStore implements EventStore on a ClickHouse ad_events table.
type ClickHouseStore struct {
	DB *sql.DB
	// Timeout bounds every statement; zero leaves the caller's deadline.
	Timeout time.Duration
}

var _ EventStore = (*ClickHouseStore)(nil)

const createEventsTable = `CREATE TABLE IF NOT EXISTS ad_events (
       id            String,
       timestamp     DateTime64(3, 'UTC'),
       event         LowCardinality(String),
       type          LowCardinality(String),
       campaign_id   String,
       placement     LowCardinality(String),
       page_url      String,
       page_title    String,
       page_category LowCardinality(String),
       device        LowCardinality(String),
       browser       LowCardinality(String),
       os            LowCardinality(String),
       bot           Bool,
       country       LowCardinality(String),
       anonymous     Bool,
       revenue       Float64
   ) ENGINE=MergeTree() PARTITION BY toYYYYMM(timestamp) ORDER BY (type, timestamp)`

const eventColumns = `id, timestamp, event, type, campaign_id, placement, page_url, page_title, page_category, device, browser, os, bot, country, anonymous, revenue`

// InitClickHouse connects to ClickHouse and ensures the events table exists.
func InitClickHouse(ctx context.Context, dsn string, maxOpenConns, maxIdleConns int, connMaxLifetime, connMaxIdleTime time.Duration) (*ClickHouseStore, error) {
	db, err := sql.Open("clickhouse", dsn)
	if err != nil {
		return nil, fmt.Errorf("clickhouse open: %w", err)
	}
	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxIdleConns)
	db.SetConnMaxLifetime(connMaxLifetime)
	db.SetConnMaxIdleTime(connMaxIdleTime)
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("clickhouse ping: %w", err)
	}
	if _, err := db.ExecContext(ctx, createEventsTable); err != nil {
		return nil, fmt.Errorf("clickhouse create table: %w", err)
	}

	zap.L().Info("Connected to ClickHouse", zap.Int("max_open_conns", maxOpenConns))
	return &ClickHouseStore{DB: db}, nil
}

func (s *ClickHouseStore) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.Timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.Timeout)
}

// InsertEvent writes one event row.
func (s *ClickHouseStore) InsertEvent(ctx context.Context, e models.Event) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	stmt := `INSERT INTO ad_events (` + eventColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	if _, err := s.DB.ExecContext(ctx, stmt,
		e.ID, e.Timestamp.UTC(), e.Event, e.Type, e.CampaignID, e.Placement,
		e.Page.URL, e.Page.Title, e.Page.Category,
		e.Device, e.Browser, e.OS, e.Bot, e.Country, e.Anonymous, e.Revenue,
	); err != nil {
		zap.L().Error("clickhouse insert failed", zap.Error(err), zap.String("event", e.Event))
		return models.Transient("insert "+e.Event+" event", err)
	}
	return nil
}

// QueryEvents reads events matching f ordered by timestamp.
func (s *ClickHouseStore) QueryEvents(ctx context.Context, f models.EventFilter) ([]models.Event, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	where, args := filterClause(f)
	query := `SELECT ` + eventColumns + ` FROM ad_events` + where + ` ORDER BY timestamp`
	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, models.Transient("query events", err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			zap.L().Warn("rows close", zap.Error(err))
		}
	}()

	var events []models.Event
	for rows.Next() {
		var e models.Event
		if err := rows.Scan(&e.ID, &e.Timestamp, &e.Event, &e.Type, &e.CampaignID, &e.Placement,
			&e.Page.URL, &e.Page.Title, &e.Page.Category,
			&e.Device, &e.Browser, &e.OS, &e.Bot, &e.Country, &e.Anonymous, &e.Revenue); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e.Timestamp = e.Timestamp.UTC()
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, models.Transient("rows", err)
	}
	return events, nil
}

func filterClause(f models.EventFilter) (string, []any) {
	var conds []string
	var args []any
	if !f.Start.IsZero() {
		conds = append(conds, "timestamp >= ?")
		args = append(args, f.Start.UTC())
	}
	if !f.End.IsZero() {
		conds = append(conds, "timestamp < ?")
		args = append(args, f.End.UTC())
	}
	if f.Type != "" {
		conds = append(conds, "type = ?")
		args = append(args, f.Type)
	}
	if f.Placement != "" {
		conds = append(conds, "placement = ?")
		args = append(args, f.Placement)
	}
	if f.CampaignID != "" {
		conds = append(conds, "campaign_id = ?")
		args = append(args, f.CampaignID)
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// Close terminates the ClickHouse connection.
func (s *ClickHouseStore) Close() {
	if s != nil && s.DB != nil {
		if err := s.DB.Close(); err != nil {
			zap.L().Error("clickhouse close", zap.Error(err))
		}
	}
}
