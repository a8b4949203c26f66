package models

import "time"

// Event kinds.
const (
	EventImpression = "impression"
	EventClick      = "click"
)

// AdTypeSponsored marks events that belong to a first-party campaign and are
// billed through the ledger. Other types (ad networks, house ads) are only
// recorded for analytics.
const AdTypeSponsored = "sponsored"

// Device classes assigned by the event recorder.
const (
	DeviceMobile  = "mobile"
	DeviceTablet  = "tablet"
	DeviceDesktop = "desktop"
)

// BrowserOther is used when no known browser marker matches.
const BrowserOther = "Other"

// PageContext is where an ad was rendered.
type PageContext struct {
	URL      string `json:"url"`
	Title    string `json:"title"`
	Category string `json:"category"`
}

// Event is an immutable impression or click record.
type Event struct {
	ID         string      `json:"id"`
	Event      string      `json:"event"`                // impression or click.
	Type       string      `json:"type"`                 // Ad source, e.g. sponsored.
	CampaignID string      `json:"campaignId,omitempty"` // Empty for non-sponsored ads.
	Placement  string      `json:"placement"`
	Page       PageContext `json:"page"`
	Device     string      `json:"device"`
	Browser    string      `json:"browser"`
	OS         string      `json:"os,omitempty"`
	Bot        bool        `json:"bot"`
	Country    string      `json:"country,omitempty"`
	Anonymous  bool        `json:"anonymous"`
	Revenue    float64     `json:"revenue"`
	Timestamp  time.Time   `json:"timestamp"`
}

// EventFilter selects events in [Start, End). Empty string fields match
// anything.
type EventFilter struct {
	Start      time.Time
	End        time.Time
	Type       string
	Placement  string
	CampaignID string
}

// Matches reports whether e passes the filter.
func (f EventFilter) Matches(e Event) bool {
	if !f.Start.IsZero() && e.Timestamp.Before(f.Start) {
		return false
	}
	if !f.End.IsZero() && !e.Timestamp.Before(f.End) {
		return false
	}
	if f.Type != "" && e.Type != f.Type {
		return false
	}
	if f.Placement != "" && e.Placement != f.Placement {
		return false
	}
	if f.CampaignID != "" && e.CampaignID != f.CampaignID {
		return false
	}
	return true
}
