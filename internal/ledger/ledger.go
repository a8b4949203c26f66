// Package ledger is the single writer of campaign performance counters.
// Every change is a compare-and-swap against the campaign version, retried
// with jittered backoff when another writer got there first.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"

	"github.com/aminefth/kidsclub-sub001/internal/models"
	"github.com/aminefth/kidsclub-sub001/internal/observability"
)

var (
	// ErrBudgetExhausted is returned with the post-state when a click could
	// not be billed. The click is still counted as rejected.
	ErrBudgetExhausted = errors.New("campaign budget exhausted")
	// ErrLedgerContention is returned when MaxAttempts swaps all lost.
	ErrLedgerContention = errors.New("ledger contention")
)

const (
	opImpression = "impression"
	opClick      = "click"

	maxBackoffShift = 6
)

// Outcome describes the counters installed by a successful swap.
type Outcome struct {
	Campaign models.Campaign // Post-state snapshot.
	Billed   bool
	Attempts int
}

// Options tune the retry loop and exhaustion policy.
type Options struct {
	MaxAttempts       int
	Backoff           time.Duration
	PauseOnExhaustion bool
	// OnExhausted runs after a swap that left the campaign without budget.
	OnExhausted func(ctx context.Context, c models.Campaign)
}

// Ledger applies impressions and clicks to campaign counters.
type Ledger struct {
	store   models.CampaignStore
	opts    Options
	logger  *zap.Logger
	metrics observability.MetricsRegistry
	now     func() time.Time
}

// New builds a Ledger over store.
func New(store models.CampaignStore, opts Options, logger *zap.Logger, metrics observability.MetricsRegistry) *Ledger {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 16
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = observability.NewNoOpRegistry()
	}
	return &Ledger{store: store, opts: opts, logger: logger, metrics: metrics, now: time.Now}
}

// RecordImpression counts one impression. There is no budget check.
func (l *Ledger) RecordImpression(ctx context.Context, id string) (Outcome, error) {
	out, _, err := l.apply(ctx, opImpression, id, func(c models.Campaign) (models.Performance, string, bool) {
		next := c.Performance
		next.Impressions++
		derive(&next)
		return next, "", false
	})
	if err != nil {
		return out, err
	}
	l.metrics.IncrementLedgerOutcome(opImpression, "counted")
	return out, nil
}

// RecordClick bills one click at the campaign bid. When the bid no longer
// fits the remaining budget the click is recorded as rejected and
// ErrBudgetExhausted is returned alongside the post-state.
func (l *Ledger) RecordClick(ctx context.Context, id string) (Outcome, error) {
	var billed bool
	out, fire, err := l.apply(ctx, opClick, id, func(c models.Campaign) (models.Performance, string, bool) {
		now := l.now().UTC()
		next := c.Performance
		spend := round(next.Spend + c.Budget.BidAmount)
		if spend <= c.Budget.Total {
			billed = true
			next.Clicks++
			next.Spend = spend
			next.LastClickAt = &now
			derive(&next)
			if spend < c.Budget.Total {
				return next, "", false
			}
			// Drained exactly.
			return next, l.pauseStatus(c), true
		}
		billed = false
		first := firstRejection(c.Performance)
		next.RejectedClicks++
		next.LastRejectedAt = &now
		status := l.pauseStatus(c)
		return next, status, first || status != ""
	})
	if err != nil {
		return out, err
	}
	out.Billed = billed
	l.metrics.SetSpendTotal(id, out.Campaign.Performance.Spend)
	if fire && l.opts.OnExhausted != nil {
		l.opts.OnExhausted(ctx, out.Campaign)
	}
	if !billed {
		l.metrics.IncrementLedgerOutcome(opClick, "exhausted")
		l.logger.Info("click rejected, budget exhausted",
			zap.String("campaign_id", id),
			zap.Float64("spend", out.Campaign.Performance.Spend),
			zap.Float64("total", out.Campaign.Budget.Total),
			zap.String("status", out.Campaign.Status))
		return out, ErrBudgetExhausted
	}
	l.metrics.IncrementLedgerOutcome(opClick, "billed")
	return out, nil
}

// apply runs the load, compute and swap loop. next returns the counters to
// install, an optional status change and whether the exhaustion hook should
// fire once the swap lands.
func (l *Ledger) apply(ctx context.Context, op, id string, next func(models.Campaign) (models.Performance, string, bool)) (Outcome, bool, error) {
	for attempt := 1; attempt <= l.opts.MaxAttempts; attempt++ {
		c, err := l.store.GetCampaign(ctx, id)
		if err != nil {
			l.metrics.IncrementLedgerOutcome(op, "error")
			return Outcome{}, false, fmt.Errorf("load campaign %s: %w", id, err)
		}
		perf, status, fire := next(c)
		ok, err := l.store.SwapPerformance(ctx, id, c.Version, perf, status)
		if err != nil {
			l.metrics.IncrementLedgerOutcome(op, "error")
			return Outcome{}, false, fmt.Errorf("swap performance %s: %w", id, err)
		}
		if ok {
			l.metrics.RecordLedgerAttempts(attempt)
			c.Performance = perf
			c.Version++
			if status != "" {
				c.Status = status
			}
			return Outcome{Campaign: c, Attempts: attempt}, fire, nil
		}
		if attempt == l.opts.MaxAttempts {
			break
		}
		if err := l.wait(ctx, attempt); err != nil {
			return Outcome{}, false, err
		}
	}
	l.metrics.IncrementLedgerOutcome(op, "contention")
	l.metrics.RecordLedgerAttempts(l.opts.MaxAttempts)
	l.logger.Warn("ledger contention",
		zap.String("op", op),
		zap.String("campaign_id", id),
		zap.Int("attempts", l.opts.MaxAttempts))
	return Outcome{}, false, ErrLedgerContention
}

func (l *Ledger) pauseStatus(c models.Campaign) string {
	if l.opts.PauseOnExhaustion && c.Status == models.StatusActive {
		return models.StatusPaused
	}
	return ""
}

func (l *Ledger) wait(ctx context.Context, attempt int) error {
	if l.opts.Backoff <= 0 {
		return ctx.Err()
	}
	shift := attempt - 1
	if shift > maxBackoffShift {
		shift = maxBackoffShift
	}
	ceiling := l.opts.Backoff << shift
	d := ceiling/2 + rand.N(ceiling/2+1)
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// firstRejection reports whether no click has been rejected since the last
// billed one.
func firstRejection(p models.Performance) bool {
	if p.LastRejectedAt == nil {
		return true
	}
	return p.LastClickAt != nil && p.LastClickAt.After(*p.LastRejectedAt)
}

// derive recomputes the ratio fields from the raw counters.
func derive(p *models.Performance) {
	impressions := p.Impressions
	if impressions < 1 {
		impressions = 1
	}
	p.CTR = float64(p.Clicks) / float64(impressions)
	if p.Impressions > 0 {
		p.CPM = round(p.Spend / float64(p.Impressions) * 1000)
	} else {
		p.CPM = 0
	}
	if p.Conversions > 0 {
		p.CPA = round(p.Spend / float64(p.Conversions))
	} else {
		p.CPA = 0
	}
}

// round rounds money to micro-units so that sums of bids compare exactly.
func round(v float64) float64 {
	return models.RoundMoney(v)
}
