package analytics

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aminefth/kidsclub-sub001/internal/ledger"
	"github.com/aminefth/kidsclub-sub001/internal/logic"
	"github.com/aminefth/kidsclub-sub001/internal/models"
	"github.com/aminefth/kidsclub-sub001/internal/observability"
)

// Billing reports what the ledger did with a recorded event.
type Billing string

const (
	BillingNone      Billing = "none"      // Not a sponsored campaign event.
	BillingCounted   Billing = "counted"   // Impression added to the counters.
	BillingBilled    Billing = "billed"    // Click charged at the campaign bid.
	BillingExhausted Billing = "exhausted" // Click logged but not charged.
)

// Ledger is the part of the budget ledger the recorder drives.
type Ledger interface {
	RecordImpression(ctx context.Context, id string) (ledger.Outcome, error)
	RecordClick(ctx context.Context, id string) (ledger.Outcome, error)
}

// Submission is a tracking request as sent by the page.
type Submission struct {
	Type       string             `json:"type"`
	CampaignID string             `json:"campaignId,omitempty"`
	Placement  string             `json:"placement"`
	Page       models.PageContext `json:"page"`
	UserAgent  string             `json:"userAgent"`
	Country    string             `json:"country"`
	Anonymous  bool               `json:"anonymous"`
	Revenue    float64            `json:"revenue,omitempty"`
}

// Receipt is the outcome of Record.
type Receipt struct {
	Event   models.Event
	Billing Billing
}

// Recorder persists events and forwards sponsored ones to the ledger.
type Recorder struct {
	events  EventStore
	ledger  Ledger
	logger  *zap.Logger
	metrics observability.MetricsRegistry
	now     func() time.Time
}

// NewRecorder wires a Recorder.
func NewRecorder(events EventStore, l Ledger, logger *zap.Logger, metrics observability.MetricsRegistry) *Recorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = observability.NewNoOpRegistry()
	}
	return &Recorder{events: events, ledger: l, logger: logger, metrics: metrics, now: time.Now}
}

// Record stores an impression or click. The event is persisted before the
// ledger runs; ledger errors are returned wrapped and do not remove it.
// ledger.ErrBudgetExhausted comes back with BillingExhausted.
func (r *Recorder) Record(ctx context.Context, kind string, s Submission) (Receipt, error) {
	e, err := r.build(kind, s)
	if err != nil {
		return Receipt{}, err
	}
	if err := r.events.InsertEvent(ctx, e); err != nil {
		return Receipt{}, fmt.Errorf("persist %s: %w", kind, err)
	}
	r.metrics.IncrementEvent(e.Event, e.Type)
	if observability.ShouldSample(observability.GetSamplingRate()) {
		r.logger.Debug("event recorded",
			zap.String("event_id", e.ID),
			zap.String("event", e.Event),
			zap.String("type", e.Type),
			zap.String("campaign_id", e.CampaignID),
			zap.String("device", e.Device))
	}

	rc := Receipt{Event: e, Billing: BillingNone}
	if e.Type != models.AdTypeSponsored || e.CampaignID == "" || r.ledger == nil {
		return rc, nil
	}

	switch e.Event {
	case models.EventImpression:
		if _, err := r.ledger.RecordImpression(ctx, e.CampaignID); err != nil {
			return rc, fmt.Errorf("count impression: %w", err)
		}
		rc.Billing = BillingCounted
	case models.EventClick:
		_, err := r.ledger.RecordClick(ctx, e.CampaignID)
		switch {
		case errors.Is(err, ledger.ErrBudgetExhausted):
			rc.Billing = BillingExhausted
			return rc, err
		case err != nil:
			return rc, fmt.Errorf("bill click: %w", err)
		}
		rc.Billing = BillingBilled
	}
	return rc, nil
}

func (r *Recorder) build(kind string, s Submission) (models.Event, error) {
	if kind != models.EventImpression && kind != models.EventClick {
		return models.Event{}, &models.ValidationError{Field: "event", Reason: "must be impression or click"}
	}
	adType := strings.ToLower(strings.TrimSpace(s.Type))
	if adType == "" {
		return models.Event{}, &models.ValidationError{Field: "type", Reason: "is required"}
	}
	if math.IsNaN(s.Revenue) || math.IsInf(s.Revenue, 0) || s.Revenue < 0 {
		return models.Event{}, &models.ValidationError{Field: "revenue", Reason: "must be a non-negative number"}
	}
	client := logic.Classify(s.UserAgent)
	return models.Event{
		ID:         uuid.NewString(),
		Event:      kind,
		Type:       adType,
		CampaignID: strings.TrimSpace(s.CampaignID),
		Placement:  strings.ToLower(strings.TrimSpace(s.Placement)),
		Page:       s.Page,
		Device:     client.Device,
		Browser:    client.Browser,
		OS:         client.OS,
		Bot:        client.Bot,
		Country:    strings.ToUpper(strings.TrimSpace(s.Country)),
		Anonymous:  s.Anonymous,
		Revenue:    s.Revenue,
		Timestamp:  r.now().UTC(),
	}, nil
}
