package models

import (
	"math"
	"strings"
	"time"
)

// Campaign statuses. Status is advisory: serving re-derives eligibility from
// schedule and budget as well.
const (
	StatusDraft     = "draft"
	StatusPending   = "pending"
	StatusActive    = "active"
	StatusPaused    = "paused"
	StatusCompleted = "completed"
)

// Bid types describe how a campaign is charged.
const (
	BidTypeCPC = "cpc"
	BidTypeCPM = "cpm"
	BidTypeCPA = "cpa"
)

// Wildcard is the targeting sentinel that matches any country or category.
const Wildcard = "ALL"

// Campaign is a sponsored placement purchased by an advertiser. Performance
// counters are owned by the budget ledger; every other field is managed
// through the admin API.
type Campaign struct {
	ID          string      `json:"id"`          // UUID assigned on create.
	Title       string      `json:"title"`       // Internal campaign name.
	Advertiser  Advertiser  `json:"advertiser"`  // Who pays for the campaign.
	Creative    Creative    `json:"creative"`    // What gets rendered.
	Targeting   Targeting   `json:"targeting"`   // Audience restrictions.
	Budget      Budget      `json:"budget"`      // Spend caps and bid.
	Placement   Placement   `json:"placement"`   // Slots the campaign may occupy.
	Schedule    Schedule    `json:"schedule"`    // Flight dates.
	Status      string      `json:"status"`      // draft, pending, active, paused or completed.
	IsActive    bool        `json:"isActive"`    // Manual kill switch independent of status.
	Performance Performance `json:"performance"` // Ledger-owned counters.
	Version     int64       `json:"version"`     // Optimistic concurrency token, bumped on every write.
	CreatedAt   time.Time   `json:"createdAt"`
	UpdatedAt   time.Time   `json:"updatedAt"`
}

// Advertiser identifies the buyer of a campaign.
type Advertiser struct {
	Name     string `json:"name"`
	Verified bool   `json:"verified"`
}

// Creative holds the renderable parts of an ad.
type Creative struct {
	Headline    string `json:"headline"`
	Description string `json:"description"`
	Image       string `json:"image"`
	URL         string `json:"url"`
	CTA         string `json:"cta"`
}

// AgeRange bounds the targeted audience age. Zero values mean unbounded.
type AgeRange struct {
	Min int `json:"min"`
	Max int `json:"max"`
}

// Targeting restricts who may see a campaign. Countries and Categories accept
// the Wildcard sentinel.
type Targeting struct {
	Countries  []string `json:"countries"`
	Categories []string `json:"categories"`
	Languages  []string `json:"languages,omitempty"`
	Interests  []string `json:"interests,omitempty"`
	AgeRange   AgeRange `json:"ageRange"`
	Keywords   []string `json:"keywords,omitempty"`
}

// Budget describes how much a campaign may spend and what each billable
// action costs.
type Budget struct {
	Total     float64 `json:"total"`     // Lifetime cap.
	Daily     float64 `json:"daily"`     // Daily cap, validated against Total on create.
	BidAmount float64 `json:"bidAmount"` // Charged per billable click.
	BidType   string  `json:"bidType"`   // cpc, cpm or cpa.
}

// Placement lists the page positions and content categories a campaign may
// appear in.
type Placement struct {
	Positions  []string `json:"positions"`
	Categories []string `json:"categories"`
}

// HourWindow is an hour-of-day range in the campaign timezone.
type HourWindow struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Schedule is the campaign flight.
type Schedule struct {
	Start       time.Time  `json:"start"`
	End         time.Time  `json:"end"`
	Timezone    string     `json:"timezone,omitempty"`
	ActiveHours HourWindow `json:"activeHours"`
}

// Performance are the counters maintained by the budget ledger. All counters
// are non-decreasing.
type Performance struct {
	Impressions    int64      `json:"impressions"`
	Clicks         int64      `json:"clicks"`         // Billed clicks only.
	Conversions    int64      `json:"conversions"`
	RejectedClicks int64      `json:"rejectedClicks"` // Clicks logged after the budget ran out.
	Spend          float64    `json:"spend"`
	CTR            float64    `json:"ctr"` // clicks / max(impressions, 1)
	CPM            float64    `json:"cpm"`
	CPA            float64    `json:"cpa"`
	LastClickAt    *time.Time `json:"lastClickAt,omitempty"`
	LastRejectedAt *time.Time `json:"lastRejectedAt,omitempty"`
}

// Remaining returns the unspent lifetime budget.
func (c Campaign) Remaining() float64 {
	return c.Budget.Total - c.Performance.Spend
}

// Clone returns a deep copy so callers can mutate without affecting shared
// snapshots.
func (c Campaign) Clone() Campaign {
	out := c
	out.Targeting.Countries = cloneStrings(c.Targeting.Countries)
	out.Targeting.Categories = cloneStrings(c.Targeting.Categories)
	out.Targeting.Languages = cloneStrings(c.Targeting.Languages)
	out.Targeting.Interests = cloneStrings(c.Targeting.Interests)
	out.Targeting.Keywords = cloneStrings(c.Targeting.Keywords)
	out.Placement.Positions = cloneStrings(c.Placement.Positions)
	out.Placement.Categories = cloneStrings(c.Placement.Categories)
	if c.Performance.LastClickAt != nil {
		t := *c.Performance.LastClickAt
		out.Performance.LastClickAt = &t
	}
	if c.Performance.LastRejectedAt != nil {
		t := *c.Performance.LastRejectedAt
		out.Performance.LastRejectedAt = &t
	}
	return out
}

// Normalize fills defaults and canonicalizes set fields. Countries are upper
// case; positions and categories are lower case except the wildcard.
func (c *Campaign) Normalize() {
	c.Title = strings.TrimSpace(c.Title)
	c.Targeting.Countries = normalizeSet(c.Targeting.Countries, strings.ToUpper)
	c.Targeting.Categories = normalizeSet(c.Targeting.Categories, strings.ToLower)
	c.Placement.Positions = normalizeSet(c.Placement.Positions, strings.ToLower)
	c.Placement.Categories = normalizeSet(c.Placement.Categories, strings.ToLower)
	if len(c.Targeting.Countries) == 0 {
		c.Targeting.Countries = []string{Wildcard}
	}
	if len(c.Placement.Categories) == 0 {
		c.Placement.Categories = []string{Wildcard}
	}
	if c.Status == "" {
		c.Status = StatusDraft
	}
	c.Budget.BidType = strings.ToLower(c.Budget.BidType)
	if c.Budget.BidType == "" {
		c.Budget.BidType = BidTypeCPC
	}
	c.Budget.Total = RoundMoney(c.Budget.Total)
	c.Budget.Daily = RoundMoney(c.Budget.Daily)
	c.Budget.BidAmount = RoundMoney(c.Budget.BidAmount)
}

// RoundMoney rounds an amount to micro-units, the precision the ledger bills in.
func RoundMoney(v float64) float64 {
	return math.Round(v*1e6) / 1e6
}

// ContainsFold reports whether set holds v, ignoring case.
func ContainsFold(set []string, v string) bool {
	for _, s := range set {
		if strings.EqualFold(s, v) {
			return true
		}
	}
	return false
}

// HasWildcard reports whether set holds the Wildcard sentinel.
func HasWildcard(set []string) bool {
	return ContainsFold(set, Wildcard)
}

func normalizeSet(in []string, canon func(string) string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, v := range in {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if strings.EqualFold(v, Wildcard) {
			v = Wildcard
		} else {
			v = canon(v)
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}
