// Package serving answers sponsored-feed and single-ad requests from the
// campaign store, through the response cache.
package serving

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	"github.com/aminefth/kidsclub-sub001/internal/cache"
	"github.com/aminefth/kidsclub-sub001/internal/logic"
	"github.com/aminefth/kidsclub-sub001/internal/models"
	"github.com/aminefth/kidsclub-sub001/internal/observability"
)

// Notifier publishes campaign change notifications.
type Notifier interface {
	PublishCampaignUpdate(ctx context.Context, action, id string) error
}

// Options configure limits, caching and read retries.
type Options struct {
	CacheTTL      time.Duration
	DefaultLimit  int
	MaxLimit      int
	RetryAttempts int
	RetryBackoff  time.Duration
}

// Request is a serving request. Country must already be resolved.
type Request struct {
	Placement string
	Category  string
	Country   string
	Limit     int
	Debug     bool // Bypass the cache and collect a SelectionTrace.
}

// Result is a sponsored feed answer.
type Result struct {
	Posts []models.SponsoredPost
	Trace *logic.SelectionTrace
}

// Service ranks servable campaigns for a request.
type Service struct {
	store    models.CampaignStore
	cache    *cache.Cache
	notifier Notifier
	opts     Options
	logger   *zap.Logger
	metrics  observability.MetricsRegistry
	now      func() time.Time
}

// NewService wires a Service. c and notifier may be nil.
func NewService(store models.CampaignStore, c *cache.Cache, notifier Notifier, opts Options, logger *zap.Logger, metrics observability.MetricsRegistry) *Service {
	if opts.DefaultLimit <= 0 {
		opts.DefaultLimit = logic.DefaultRankLimit
	}
	if opts.MaxLimit < opts.DefaultLimit {
		opts.MaxLimit = opts.DefaultLimit
	}
	if opts.RetryAttempts <= 0 {
		opts.RetryAttempts = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = observability.NewNoOpRegistry()
	}
	return &Service{store: store, cache: c, notifier: notifier, opts: opts, logger: logger, metrics: metrics, now: time.Now}
}

// Limit applies the default and clamps to the configured maximum.
func (s *Service) Limit(requested int) int {
	if requested <= 0 {
		return s.opts.DefaultLimit
	}
	if requested > s.opts.MaxLimit {
		return s.opts.MaxLimit
	}
	return requested
}

// Sponsored returns up to Limit ranked posts for the placement.
func (s *Service) Sponsored(ctx context.Context, req Request) (Result, error) {
	cr, err := logic.NewCriteria(req.Placement, req.Category, req.Country, s.now())
	if err != nil {
		return Result{}, err
	}
	limit := s.Limit(req.Limit)
	key := cache.SponsoredKey(cr.Placement, cr.Category, cr.Country, limit)

	if !req.Debug {
		var posts []models.SponsoredPost
		if s.cache.GetJSON(ctx, key, &posts) {
			return Result{Posts: posts}, nil
		}
	}

	var trace *logic.SelectionTrace
	if req.Debug {
		trace = &logic.SelectionTrace{}
	}
	ranked, err := s.rank(ctx, cr, limit, trace)
	if err != nil {
		return Result{}, err
	}
	posts := make([]models.SponsoredPost, 0, len(ranked))
	for _, p := range ranked {
		posts = append(posts, p.Post())
	}
	if len(posts) == 0 {
		s.metrics.IncrementNoFill("sponsored")
	}
	s.cache.SetJSON(ctx, key, posts, s.opts.CacheTTL)
	return Result{Posts: posts, Trace: trace}, nil
}

// Optimal returns the single best ad, or nil when nothing matches.
func (s *Service) Optimal(ctx context.Context, req Request) (*models.AdProjection, error) {
	cr, err := logic.NewCriteria(req.Placement, req.Category, req.Country, s.now())
	if err != nil {
		return nil, err
	}
	ranked, err := s.rank(ctx, cr, 1, nil)
	if err != nil {
		return nil, err
	}
	if len(ranked) == 0 {
		s.metrics.IncrementNoFill("optimal")
		return nil, nil
	}
	return &ranked[0], nil
}

func (s *Service) rank(ctx context.Context, cr logic.Criteria, limit int, trace *logic.SelectionTrace) ([]models.AdProjection, error) {
	servable, err := s.servable(ctx, cr.Now)
	if err != nil {
		return nil, err
	}
	trace.AddStep(logic.StageServable, servable)
	targeted := logic.Match(servable, cr)
	trace.AddStepWithDetails(logic.StageTargeted, targeted, map[string]string{
		"placement": cr.Placement,
		"category":  cr.Category,
		"country":   cr.Country,
	})
	funded := logic.Funded(targeted)
	trace.AddStep(logic.StageFunded, funded)
	s.metrics.RecordServeCandidates(len(funded))

	ranked := logic.Rank(funded, limit)
	if cr.Category != "" {
		for i := range ranked {
			ranked[i].Category = cr.Category
		}
	}
	trace.AddRanked(ranked)
	return ranked, nil
}

func (s *Service) servable(ctx context.Context, now time.Time) ([]models.Campaign, error) {
	b := backoff.NewExponentialBackOff()
	if s.opts.RetryBackoff > 0 {
		b.InitialInterval = s.opts.RetryBackoff
	}
	return backoff.Retry(ctx, func() ([]models.Campaign, error) {
		cs, err := s.store.ListServable(ctx, now)
		if err == nil {
			return cs, nil
		}
		if !errors.Is(err, models.ErrTransient) {
			return nil, backoff.Permanent(err)
		}
		s.logger.Warn("campaign read failed, retrying", zap.Error(err))
		return nil, err
	}, backoff.WithBackOff(b), backoff.WithMaxTries(uint(s.opts.RetryAttempts)))
}

// CampaignChanged drops cached feeds for every position of c and notifies
// subscribers. Failures are logged only.
func (s *Service) CampaignChanged(ctx context.Context, action string, c models.Campaign) {
	for _, pos := range c.Placement.Positions {
		s.cache.Invalidate(ctx, cache.SponsoredPrefix(pos))
	}
	if s.notifier == nil {
		return
	}
	if err := s.notifier.PublishCampaignUpdate(ctx, action, c.ID); err != nil {
		s.logger.Warn("campaign update publish failed",
			zap.String("campaign_id", c.ID),
			zap.String("action", action),
			zap.Error(err))
	}
}
