package logic

import (
	"strings"
	"time"

	"github.com/aminefth/kidsclub-sub001/internal/models"
)

// Criteria is a validated serving request. Build it with NewCriteria.
type Criteria struct {
	Placement string
	Category  string // Empty means any category.
	Country   string // Upper-case ISO code; empty only matches ALL-targeted campaigns.
	Now       time.Time
}

// NewCriteria normalises the request inputs. Placement is required.
func NewCriteria(placement, category, country string, now time.Time) (Criteria, error) {
	placement = strings.ToLower(strings.TrimSpace(placement))
	if placement == "" {
		return Criteria{}, &models.ValidationError{Field: "placement", Reason: "is required"}
	}
	if now.IsZero() {
		now = time.Now()
	}
	return Criteria{
		Placement: placement,
		Category:  strings.ToLower(strings.TrimSpace(category)),
		Country:   strings.ToUpper(strings.TrimSpace(country)),
		Now:       now,
	}, nil
}

// Matches reports whether c may be served for the criteria.
func (cr Criteria) Matches(c models.Campaign) bool {
	if c.Status != models.StatusActive || !c.IsActive {
		return false
	}
	if cr.Now.Before(c.Schedule.Start) || cr.Now.After(c.Schedule.End) {
		return false
	}
	if !models.HasWildcard(c.Targeting.Countries) && !models.ContainsFold(c.Targeting.Countries, cr.Country) {
		return false
	}
	if !models.ContainsFold(c.Placement.Positions, cr.Placement) {
		return false
	}
	if cr.Category != "" && !models.HasWildcard(c.Placement.Categories) && !models.ContainsFold(c.Placement.Categories, cr.Category) {
		return false
	}
	return true
}

// Match returns the campaigns accepted by cr, preserving input order.
func Match(campaigns []models.Campaign, cr Criteria) []models.Campaign {
	out := make([]models.Campaign, 0, len(campaigns))
	for _, c := range campaigns {
		if cr.Matches(c) {
			out = append(out, c)
		}
	}
	return out
}
