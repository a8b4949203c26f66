package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/XSAM/otelsql"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/aminefth/kidsclub-sub001/internal/models"
)

// checkViolation is the Postgres SQLSTATE for CHECK constraint failures.
const checkViolation = "23514"

// Postgres wraps a postgres DB connection and implements
// models.CampaignStore.
type Postgres struct {
	DB *sql.DB
	// Timeout bounds every statement; zero leaves the caller's deadline.
	Timeout time.Duration
}

var _ models.CampaignStore = (*Postgres)(nil)

// schemaSQL sets up the necessary tables if they don't exist.
const schemaSQL = `CREATE TABLE IF NOT EXISTS campaigns (
    id TEXT PRIMARY KEY,
    title TEXT NOT NULL,
    advertiser_name TEXT NOT NULL,
    advertiser_verified BOOLEAN NOT NULL DEFAULT FALSE,
    creative JSONB NOT NULL,
    countries TEXT[] NOT NULL,
    target_categories TEXT[],
    languages TEXT[],
    interests TEXT[],
    keywords TEXT[],
    age_min INT NOT NULL DEFAULT 0,
    age_max INT NOT NULL DEFAULT 0,
    budget_total DOUBLE PRECISION NOT NULL,
    budget_daily DOUBLE PRECISION NOT NULL DEFAULT 0,
    bid_amount DOUBLE PRECISION NOT NULL,
    bid_type TEXT NOT NULL,
    positions TEXT[] NOT NULL,
    placement_categories TEXT[] NOT NULL,
    schedule_start TIMESTAMPTZ NOT NULL,
    schedule_end TIMESTAMPTZ NOT NULL,
    timezone TEXT,
    active_hour_start INT NOT NULL DEFAULT 0,
    active_hour_end INT NOT NULL DEFAULT 0,
    status TEXT NOT NULL,
    is_active BOOLEAN NOT NULL DEFAULT TRUE,
    impressions BIGINT NOT NULL DEFAULT 0,
    clicks BIGINT NOT NULL DEFAULT 0,
    conversions BIGINT NOT NULL DEFAULT 0,
    rejected_clicks BIGINT NOT NULL DEFAULT 0,
    spend DOUBLE PRECISION NOT NULL DEFAULT 0,
    ctr DOUBLE PRECISION NOT NULL DEFAULT 0,
    cpm DOUBLE PRECISION NOT NULL DEFAULT 0,
    cpa DOUBLE PRECISION NOT NULL DEFAULT 0,
    last_click_at TIMESTAMPTZ NULL,
    last_rejected_at TIMESTAMPTZ NULL,
    version BIGINT NOT NULL DEFAULT 1,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    CONSTRAINT campaigns_spend_within_budget CHECK (spend <= budget_total),
    CONSTRAINT campaigns_schedule_order CHECK (schedule_start <= schedule_end)
);

CREATE INDEX IF NOT EXISTS idx_campaigns_servable ON campaigns (status, is_active, schedule_start, schedule_end);
CREATE INDEX IF NOT EXISTS idx_campaigns_created_at ON campaigns (created_at DESC);
`

const campaignColumns = `id, title, advertiser_name, advertiser_verified, creative, countries, target_categories, languages, interests, keywords, age_min, age_max, budget_total, budget_daily, bid_amount, bid_type, positions, placement_categories, schedule_start, schedule_end, timezone, active_hour_start, active_hour_end, status, is_active, impressions, clicks, conversions, rejected_clicks, spend, ctr, cpm, cpa, last_click_at, last_rejected_at, version, created_at, updated_at`

// InitPostgres connects to Postgres with connection pooling configuration.
func InitPostgres(ctx context.Context, dsn string, maxOpenConns, maxIdleConns int, connMaxLifetime, connMaxIdleTime time.Duration) (*Postgres, error) {
	driverName, err := otelsql.Register("postgres",
		otelsql.WithAttributes(
			attribute.String("db.system", "postgresql"),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("register otelsql: %w", err)
	}

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres open: %w", err)
	}

	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxIdleConns)
	db.SetConnMaxLifetime(connMaxLifetime)
	db.SetConnMaxIdleTime(connMaxIdleTime)

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	p := &Postgres{DB: db}
	if err := p.ensureSchema(ctx); err != nil {
		return nil, err
	}
	zap.L().Info("Connected to Postgres with connection pooling",
		zap.Int("max_open_conns", maxOpenConns),
		zap.Int("max_idle_conns", maxIdleConns),
		zap.Duration("conn_max_lifetime", connMaxLifetime))
	return p, nil
}

// Close terminates the Postgres connection.
func (p *Postgres) Close() {
	if p != nil && p.DB != nil {
		if err := p.DB.Close(); err != nil {
			zap.L().Error("postgres close", zap.Error(err))
		}
	}
}

func (p *Postgres) ensureSchema(ctx context.Context) error {
	if _, err := p.DB.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

func (p *Postgres) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if p.Timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, p.Timeout)
}

// InsertCampaign stores a new campaign with version 1.
func (p *Postgres) InsertCampaign(ctx context.Context, c *models.Campaign) error {
	ctx, cancel := p.bound(ctx)
	defer cancel()

	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	creative, err := json.Marshal(c.Creative)
	if err != nil {
		return fmt.Errorf("encode creative: %w", err)
	}
	row := p.DB.QueryRowContext(ctx, `INSERT INTO campaigns (id, title, advertiser_name, advertiser_verified, creative, countries, target_categories, languages, interests, keywords, age_min, age_max, budget_total, budget_daily, bid_amount, bid_type, positions, placement_categories, schedule_start, schedule_end, timezone, active_hour_start, active_hour_end, status, is_active, version)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24,$25,1)
RETURNING version, created_at, updated_at`,
		c.ID, c.Title, c.Advertiser.Name, c.Advertiser.Verified, creative,
		pq.Array(c.Targeting.Countries), pq.Array(c.Targeting.Categories), pq.Array(c.Targeting.Languages),
		pq.Array(c.Targeting.Interests), pq.Array(c.Targeting.Keywords),
		c.Targeting.AgeRange.Min, c.Targeting.AgeRange.Max,
		c.Budget.Total, c.Budget.Daily, c.Budget.BidAmount, c.Budget.BidType,
		pq.Array(c.Placement.Positions), pq.Array(c.Placement.Categories),
		c.Schedule.Start, c.Schedule.End, nullString(c.Schedule.Timezone),
		c.Schedule.ActiveHours.Start, c.Schedule.ActiveHours.End,
		c.Status, c.IsActive,
	)
	if err := row.Scan(&c.Version, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return translate("insert campaign", err)
	}
	return nil
}

// GetCampaign loads one campaign.
func (p *Postgres) GetCampaign(ctx context.Context, id string) (models.Campaign, error) {
	ctx, cancel := p.bound(ctx)
	defer cancel()

	row := p.DB.QueryRowContext(ctx, `SELECT `+campaignColumns+` FROM campaigns WHERE id = $1`, id)
	c, err := scanCampaign(row)
	if err != nil {
		return models.Campaign{}, translate("get campaign", err)
	}
	return c, nil
}

// ListCampaigns pages campaigns newest first.
func (p *Postgres) ListCampaigns(ctx context.Context, f models.CampaignListFilter) ([]models.Campaign, int, error) {
	if f.Offset < 0 {
		return nil, 0, &models.ValidationError{Field: "offset", Reason: "must not be negative"}
	}
	ctx, cancel := p.bound(ctx)
	defer cancel()

	var total int
	if err := p.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM campaigns WHERE ($1 = '' OR status = $1)`, f.Status).Scan(&total); err != nil {
		return nil, 0, models.Transient("count campaigns", err)
	}
	rows, err := p.DB.QueryContext(ctx, `SELECT `+campaignColumns+` FROM campaigns WHERE ($1 = '' OR status = $1) ORDER BY created_at DESC, id LIMIT NULLIF($2::int, 0) OFFSET $3`, f.Status, f.Limit, f.Offset)
	if err != nil {
		return nil, 0, models.Transient("query campaigns", err)
	}
	cs, err := collectCampaigns(rows)
	if err != nil {
		return nil, 0, err
	}
	return cs, total, nil
}

// ListServable returns active campaigns whose schedule contains now.
func (p *Postgres) ListServable(ctx context.Context, now time.Time) ([]models.Campaign, error) {
	ctx, cancel := p.bound(ctx)
	defer cancel()

	rows, err := p.DB.QueryContext(ctx, `SELECT `+campaignColumns+` FROM campaigns WHERE status = 'active' AND is_active AND schedule_start <= $1 AND schedule_end >= $1`, now)
	if err != nil {
		return nil, models.Transient("query servable campaigns", err)
	}
	return collectCampaigns(rows)
}

// UpdateCampaign writes the editable fields if c.Version is current.
func (p *Postgres) UpdateCampaign(ctx context.Context, c models.Campaign) (models.Campaign, error) {
	ctx, cancel := p.bound(ctx)
	defer cancel()

	creative, err := json.Marshal(c.Creative)
	if err != nil {
		return models.Campaign{}, fmt.Errorf("encode creative: %w", err)
	}
	row := p.DB.QueryRowContext(ctx, `UPDATE campaigns SET title=$3, advertiser_name=$4, advertiser_verified=$5, creative=$6, countries=$7, target_categories=$8, languages=$9, interests=$10, keywords=$11, age_min=$12, age_max=$13, budget_total=$14, budget_daily=$15, bid_amount=$16, bid_type=$17, positions=$18, placement_categories=$19, schedule_start=$20, schedule_end=$21, timezone=$22, active_hour_start=$23, active_hour_end=$24, status=$25, is_active=$26, version=version+1, updated_at=NOW()
WHERE id=$1 AND version=$2
RETURNING `+campaignColumns,
		c.ID, c.Version, c.Title, c.Advertiser.Name, c.Advertiser.Verified, creative,
		pq.Array(c.Targeting.Countries), pq.Array(c.Targeting.Categories), pq.Array(c.Targeting.Languages),
		pq.Array(c.Targeting.Interests), pq.Array(c.Targeting.Keywords),
		c.Targeting.AgeRange.Min, c.Targeting.AgeRange.Max,
		c.Budget.Total, c.Budget.Daily, c.Budget.BidAmount, c.Budget.BidType,
		pq.Array(c.Placement.Positions), pq.Array(c.Placement.Categories),
		c.Schedule.Start, c.Schedule.End, nullString(c.Schedule.Timezone),
		c.Schedule.ActiveHours.Start, c.Schedule.ActiveHours.End,
		c.Status, c.IsActive,
	)
	updated, err := scanCampaign(row)
	if errors.Is(err, sql.ErrNoRows) {
		if exists, xerr := p.exists(ctx, c.ID); xerr != nil {
			return models.Campaign{}, xerr
		} else if !exists {
			return models.Campaign{}, models.ErrNotFound
		}
		return models.Campaign{}, models.ErrConflict
	}
	if err != nil {
		return models.Campaign{}, translate("update campaign", err)
	}
	return updated, nil
}

// SwapPerformance installs new counters if version is current and the new
// spend fits the budget.
func (p *Postgres) SwapPerformance(ctx context.Context, id string, version int64, perf models.Performance, status string) (bool, error) {
	ctx, cancel := p.bound(ctx)
	defer cancel()

	res, err := p.DB.ExecContext(ctx, `UPDATE campaigns SET impressions=$3, clicks=$4, conversions=$5, rejected_clicks=$6, spend=$7, ctr=$8, cpm=$9, cpa=$10, last_click_at=$11, last_rejected_at=$12, status=COALESCE(NULLIF($13, ''), status), version=version+1, updated_at=NOW()
WHERE id=$1 AND version=$2 AND $7 <= budget_total`,
		id, version, perf.Impressions, perf.Clicks, perf.Conversions, perf.RejectedClicks,
		perf.Spend, perf.CTR, perf.CPM, perf.CPA,
		nullTime(perf.LastClickAt), nullTime(perf.LastRejectedAt), status,
	)
	if err != nil {
		return false, translate("swap performance", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, models.Transient("swap performance", err)
	}
	if n == 1 {
		return true, nil
	}
	exists, err := p.exists(ctx, id)
	if err != nil {
		return false, err
	}
	if !exists {
		return false, models.ErrNotFound
	}
	return false, nil
}

func (p *Postgres) exists(ctx context.Context, id string) (bool, error) {
	var one int
	err := p.DB.QueryRowContext(ctx, `SELECT 1 FROM campaigns WHERE id = $1`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, models.Transient("campaign exists", err)
	}
	return true, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCampaign(row rowScanner) (models.Campaign, error) {
	var c models.Campaign
	var creative []byte
	var tz sql.NullString
	var lastClick, lastRejected sql.NullTime
	err := row.Scan(
		&c.ID, &c.Title, &c.Advertiser.Name, &c.Advertiser.Verified, &creative,
		pq.Array(&c.Targeting.Countries), pq.Array(&c.Targeting.Categories), pq.Array(&c.Targeting.Languages),
		pq.Array(&c.Targeting.Interests), pq.Array(&c.Targeting.Keywords),
		&c.Targeting.AgeRange.Min, &c.Targeting.AgeRange.Max,
		&c.Budget.Total, &c.Budget.Daily, &c.Budget.BidAmount, &c.Budget.BidType,
		pq.Array(&c.Placement.Positions), pq.Array(&c.Placement.Categories),
		&c.Schedule.Start, &c.Schedule.End, &tz,
		&c.Schedule.ActiveHours.Start, &c.Schedule.ActiveHours.End,
		&c.Status, &c.IsActive,
		&c.Performance.Impressions, &c.Performance.Clicks, &c.Performance.Conversions, &c.Performance.RejectedClicks,
		&c.Performance.Spend, &c.Performance.CTR, &c.Performance.CPM, &c.Performance.CPA,
		&lastClick, &lastRejected,
		&c.Version, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return models.Campaign{}, err
	}
	if len(creative) > 0 {
		if err := json.Unmarshal(creative, &c.Creative); err != nil {
			return models.Campaign{}, fmt.Errorf("parse creative: %w", err)
		}
	}
	if tz.Valid {
		c.Schedule.Timezone = tz.String
	}
	if lastClick.Valid {
		t := lastClick.Time
		c.Performance.LastClickAt = &t
	}
	if lastRejected.Valid {
		t := lastRejected.Time
		c.Performance.LastRejectedAt = &t
	}
	return c, nil
}

func collectCampaigns(rows *sql.Rows) ([]models.Campaign, error) {
	defer func() {
		_ = rows.Close()
	}()
	var cs []models.Campaign
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, fmt.Errorf("scan campaign: %w", err)
		}
		cs = append(cs, c)
	}
	if err := rows.Err(); err != nil {
		return nil, models.Transient("rows", err)
	}
	return cs, nil
}

// translate maps driver errors onto the models error taxonomy.
func translate(op string, err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return models.ErrNotFound
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && string(pqErr.Code) == checkViolation {
		return &models.ValidationError{Field: pqErr.Constraint, Reason: "violates " + pqErr.Message}
	}
	return models.Transient(op, err)
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
