package analytics

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	"github.com/aminefth/kidsclub-sub001/internal/cache"
	"github.com/aminefth/kidsclub-sub001/internal/models"
)

// Bucket label layouts, always rendered in UTC.
const (
	hourLayout  = "2006-01-02 15:00"
	dayLayout   = "2006-01-02"
	monthLayout = "2006-01"
)

// Query selects and groups events for Aggregate. End is exclusive.
type Query struct {
	Start      time.Time
	End        time.Time
	Type       string
	Placement  string
	CampaignID string
	GroupBy    string   // hour, day or month; day when empty.
	Dimensions []string // Any of type and placement.
}

// AggregatorOptions tune caching and read retries.
type AggregatorOptions struct {
	CacheTTL      time.Duration
	RetryAttempts int
	RetryBackoff  time.Duration
}

// Aggregator derives time-bucketed reports from the event store.
type Aggregator struct {
	events EventStore
	cache  *cache.Cache
	opts   AggregatorOptions
	logger *zap.Logger
}

// NewAggregator wires an Aggregator. c may be nil.
func NewAggregator(events EventStore, c *cache.Cache, opts AggregatorOptions, logger *zap.Logger) *Aggregator {
	if opts.RetryAttempts <= 0 {
		opts.RetryAttempts = 1
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = 5 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Aggregator{events: events, cache: c, opts: opts, logger: logger}
}

type bucketKey struct {
	label     string
	adType    string
	placement string
}

// Aggregate groups matching events into buckets sorted by label, then by
// dimension values.
func (a *Aggregator) Aggregate(ctx context.Context, q Query) ([]models.AggregateBucket, error) {
	q, err := normalizeQuery(q)
	if err != nil {
		return nil, err
	}
	key := cache.AnalyticsKey("report",
		q.Start.UTC().Format(time.RFC3339), q.End.UTC().Format(time.RFC3339),
		q.Type, q.Placement, q.CampaignID, q.GroupBy, strings.Join(q.Dimensions, ","))

	var cached []models.AggregateBucket
	if a.cache.GetJSON(ctx, key, &cached) {
		return cached, nil
	}

	events, err := a.read(ctx, models.EventFilter{
		Start: q.Start, End: q.End, Type: q.Type, Placement: q.Placement, CampaignID: q.CampaignID,
	})
	if err != nil {
		return nil, err
	}

	byType := contains(q.Dimensions, models.DimensionType)
	byPlacement := contains(q.Dimensions, models.DimensionPlacement)
	acc := make(map[bucketKey]*models.AggregateBucket)
	for _, e := range events {
		k := bucketKey{label: Label(e.Timestamp, q.GroupBy)}
		if byType {
			k.adType = e.Type
		}
		if byPlacement {
			k.placement = e.Placement
		}
		b, ok := acc[k]
		if !ok {
			b = &models.AggregateBucket{Label: k.label, Type: k.adType, Placement: k.placement}
			acc[k] = b
		}
		switch e.Event {
		case models.EventImpression:
			b.Impressions++
		case models.EventClick:
			b.Clicks++
		}
		b.Revenue += e.Revenue
	}

	out := make([]models.AggregateBucket, 0, len(acc))
	for _, b := range acc {
		b.Finalize()
		out = append(out, *b)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Label != out[j].Label {
			return out[i].Label < out[j].Label
		}
		if out[i].Type != out[j].Type {
			return out[i].Type < out[j].Type
		}
		return out[i].Placement < out[j].Placement
	})

	a.cache.SetJSON(ctx, key, out, a.opts.CacheTTL)
	return out, nil
}

// DailyRevenue sums revenue per UTC day in [start, end), split by ad type.
func (a *Aggregator) DailyRevenue(ctx context.Context, start, end time.Time) (map[string]models.DailyRevenue, error) {
	if !start.Before(end) {
		return nil, &models.ValidationError{Field: "start", Reason: "must be before end"}
	}
	key := cache.AnalyticsKey("revenue", start.UTC().Format(time.RFC3339), end.UTC().Format(time.RFC3339))
	var cached map[string]models.DailyRevenue
	if a.cache.GetJSON(ctx, key, &cached) {
		return cached, nil
	}

	events, err := a.read(ctx, models.EventFilter{Start: start, End: end})
	if err != nil {
		return nil, err
	}
	out := make(map[string]models.DailyRevenue)
	for _, e := range events {
		day := e.Timestamp.UTC().Format(dayLayout)
		d, ok := out[day]
		if !ok {
			d = models.DailyRevenue{Breakdown: make(map[string]float64)}
		}
		d.Total += e.Revenue
		d.Breakdown[e.Type] += e.Revenue
		out[day] = d
	}

	a.cache.SetJSON(ctx, key, out, a.opts.CacheTTL)
	return out, nil
}

// Events returns raw events for f using the same retry policy.
func (a *Aggregator) Events(ctx context.Context, f models.EventFilter) ([]models.Event, error) {
	return a.read(ctx, f)
}

func (a *Aggregator) read(ctx context.Context, f models.EventFilter) ([]models.Event, error) {
	b := backoff.NewExponentialBackOff()
	if a.opts.RetryBackoff > 0 {
		b.InitialInterval = a.opts.RetryBackoff
	}
	attempt := 0
	return backoff.Retry(ctx, func() ([]models.Event, error) {
		attempt++
		events, err := a.events.QueryEvents(ctx, f)
		if err == nil {
			return events, nil
		}
		if !errors.Is(err, models.ErrTransient) {
			return nil, backoff.Permanent(err)
		}
		a.logger.Warn("event read failed, retrying",
			zap.Int("attempt", attempt),
			zap.Error(err))
		return nil, err
	}, backoff.WithBackOff(b), backoff.WithMaxTries(uint(a.opts.RetryAttempts)))
}

// Label renders the bucket label of t for groupBy.
func Label(t time.Time, groupBy string) string {
	t = t.UTC()
	switch groupBy {
	case models.GroupByHour:
		return t.Format(hourLayout)
	case models.GroupByMonth:
		return t.Format(monthLayout)
	default:
		return t.Format(dayLayout)
	}
}

func normalizeQuery(q Query) (Query, error) {
	if !q.Start.Before(q.End) {
		return q, &models.ValidationError{Field: "start", Reason: "must be before end"}
	}
	q.GroupBy = strings.ToLower(strings.TrimSpace(q.GroupBy))
	switch q.GroupBy {
	case "":
		q.GroupBy = models.GroupByDay
	case models.GroupByHour, models.GroupByDay, models.GroupByMonth:
	default:
		return q, &models.ValidationError{Field: "groupBy", Reason: "must be hour, day or month"}
	}
	var dims []string
	for _, d := range q.Dimensions {
		d = strings.ToLower(strings.TrimSpace(d))
		if d == "" || contains(dims, d) {
			continue
		}
		if d != models.DimensionType && d != models.DimensionPlacement {
			return q, &models.ValidationError{Field: "dimensions", Reason: "unknown dimension " + d}
		}
		dims = append(dims, d)
	}
	sort.Strings(dims)
	q.Dimensions = dims
	q.Type = strings.ToLower(strings.TrimSpace(q.Type))
	q.Placement = strings.ToLower(strings.TrimSpace(q.Placement))
	return q, nil
}

func contains(set []string, v string) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}
