package models

import (
	"math"
	"strings"
	"time"
)

// dailyCapPeriod is the number of days the daily cap must fit into the
// lifetime budget.
const dailyCapPeriod = 30

var transitions = map[string][]string{
	StatusDraft:     {StatusPending, StatusCompleted},
	StatusPending:   {StatusActive, StatusDraft, StatusCompleted},
	StatusActive:    {StatusPaused, StatusCompleted},
	StatusPaused:    {StatusActive, StatusCompleted},
	StatusCompleted: nil,
}

// ValidStatus reports whether s is a known campaign status.
func ValidStatus(s string) bool {
	_, ok := transitions[s]
	return ok
}

// CanTransition reports whether a campaign may move from one status to
// another. Staying in the same status is always allowed.
func CanTransition(from, to string) bool {
	if from == to {
		return ValidStatus(to)
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Validate checks a campaign payload before it is written.
func (c *Campaign) Validate() error {
	if c.Title == "" {
		return invalid("title", "is required")
	}
	if strings.TrimSpace(c.Advertiser.Name) == "" {
		return invalid("advertiser.name", "is required")
	}
	if strings.TrimSpace(c.Creative.Headline) == "" {
		return invalid("creative.headline", "is required")
	}
	if strings.TrimSpace(c.Creative.Description) == "" {
		return invalid("creative.description", "is required")
	}
	if strings.TrimSpace(c.Creative.URL) == "" {
		return invalid("creative.url", "is required")
	}
	if err := c.Budget.validate(); err != nil {
		return err
	}
	if c.Performance.Spend > c.Budget.Total {
		return invalid("budget.total", "is below current spend")
	}
	if len(c.Placement.Positions) == 0 {
		return invalid("placement.positions", "must list at least one position")
	}
	if c.Schedule.Start.IsZero() || c.Schedule.End.IsZero() {
		return invalid("schedule", "start and end are required")
	}
	if c.Schedule.Start.After(c.Schedule.End) {
		return invalid("schedule", "start must not be after end")
	}
	if c.Schedule.Timezone != "" {
		if _, err := time.LoadLocation(c.Schedule.Timezone); err != nil {
			return invalid("schedule.timezone", "is not a known timezone")
		}
	}
	h := c.Schedule.ActiveHours
	if h.Start < 0 || h.Start > 23 || h.End < 0 || h.End > 24 {
		return invalid("schedule.activeHours", "must be within 0-24")
	}
	if a := c.Targeting.AgeRange; a.Min < 0 || (a.Max != 0 && a.Max < a.Min) {
		return invalid("targeting.ageRange", "is inverted")
	}
	if !ValidStatus(c.Status) {
		return invalid("status", "is unknown")
	}
	return nil
}

func (b Budget) validate() error {
	for field, v := range map[string]float64{"budget.total": b.Total, "budget.daily": b.Daily, "budget.bidAmount": b.BidAmount} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return invalid(field, "must be a finite number")
		}
	}
	if b.Total <= 0 {
		return invalid("budget.total", "must be positive")
	}
	if b.Daily < 0 {
		return invalid("budget.daily", "must not be negative")
	}
	if b.Daily*dailyCapPeriod > b.Total {
		return invalid("budget.daily", "multiplied by 30 exceeds budget.total")
	}
	if b.BidAmount <= 0 {
		return invalid("budget.bidAmount", "must be positive")
	}
	switch b.BidType {
	case BidTypeCPC, BidTypeCPM, BidTypeCPA:
	default:
		return invalid("budget.bidType", "must be cpc, cpm or cpa")
	}
	return nil
}

// CampaignPatch is a typed partial update. Nil fields are left untouched.
// Performance counters are never patchable.
type CampaignPatch struct {
	Title      *string     `json:"title,omitempty"`
	Advertiser *Advertiser `json:"advertiser,omitempty"`
	Creative   *Creative   `json:"creative,omitempty"`
	Targeting  *Targeting  `json:"targeting,omitempty"`
	Budget     *Budget     `json:"budget,omitempty"`
	Placement  *Placement  `json:"placement,omitempty"`
	Schedule   *Schedule   `json:"schedule,omitempty"`
	Status     *string     `json:"status,omitempty"`
	IsActive   *bool       `json:"isActive,omitempty"`
}

// Apply copies the set fields onto c, normalizes and validates the result.
// Status changes must follow CanTransition.
func (p CampaignPatch) Apply(c *Campaign) error {
	if p.Status != nil {
		to := strings.ToLower(strings.TrimSpace(*p.Status))
		if !CanTransition(c.Status, to) {
			return invalid("status", "cannot move from "+c.Status+" to "+to)
		}
		c.Status = to
	}
	if p.Title != nil {
		c.Title = *p.Title
	}
	if p.Advertiser != nil {
		c.Advertiser = *p.Advertiser
	}
	if p.Creative != nil {
		c.Creative = *p.Creative
	}
	if p.Targeting != nil {
		c.Targeting = *p.Targeting
	}
	if p.Budget != nil {
		c.Budget = *p.Budget
	}
	if p.Placement != nil {
		c.Placement = *p.Placement
	}
	if p.Schedule != nil {
		c.Schedule = *p.Schedule
	}
	if p.IsActive != nil {
		c.IsActive = *p.IsActive
	}
	c.Normalize()
	return c.Validate()
}
