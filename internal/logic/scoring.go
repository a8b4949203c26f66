package logic

import (
	"sort"

	"github.com/aminefth/kidsclub-sub001/internal/models"
)

// DefaultRankLimit applies when Rank is called with a non-positive limit.
const DefaultRankLimit = 3

const verifiedBonus = 20

// Score rates a campaign snapshot: ctr*100 + bid/10, plus a bonus for
// verified advertisers.
func Score(c models.Campaign) float64 {
	s := c.Performance.CTR*100 + c.Budget.BidAmount/10
	if c.Advertiser.Verified {
		s += verifiedBonus
	}
	return s
}

// Remaining is the unspent lifetime budget of c.
func Remaining(c models.Campaign) float64 {
	return c.Remaining()
}

type scored struct {
	c     models.Campaign
	score float64
}

// Rank drops exhausted campaigns and returns up to limit projections ordered
// by score, then bid, then id.
func Rank(candidates []models.Campaign, limit int) []models.AdProjection {
	if limit <= 0 {
		limit = DefaultRankLimit
	}
	pool := make([]scored, 0, len(candidates))
	for _, c := range candidates {
		if Remaining(c) <= 0 {
			continue
		}
		pool = append(pool, scored{c: c, score: Score(c)})
	}
	sort.SliceStable(pool, func(i, j int) bool {
		a, b := pool[i], pool[j]
		if a.score != b.score {
			return a.score > b.score
		}
		if a.c.Budget.BidAmount != b.c.Budget.BidAmount {
			return a.c.Budget.BidAmount > b.c.Budget.BidAmount
		}
		return a.c.ID < b.c.ID
	})
	if len(pool) > limit {
		pool = pool[:limit]
	}
	out := make([]models.AdProjection, 0, len(pool))
	for _, s := range pool {
		p := Project(s.c)
		p.Score = s.score
		out = append(out, p)
	}
	return out
}

// Best returns the top ranked projection, or nil when nothing is fundable.
func Best(candidates []models.Campaign) *models.AdProjection {
	ranked := Rank(candidates, 1)
	if len(ranked) == 0 {
		return nil
	}
	return &ranked[0]
}

// Project copies the display fields of c. The category is the first concrete
// placement category; callers replace it with the requested one when set.
func Project(c models.Campaign) models.AdProjection {
	p := models.AdProjection{
		ID:          c.ID,
		Title:       c.Title,
		Headline:    c.Creative.Headline,
		Description: c.Creative.Description,
		Image:       c.Creative.Image,
		URL:         c.Creative.URL,
		CTA:         c.Creative.CTA,
		Advertiser:  c.Advertiser,
		CTR:         c.Performance.CTR,
		Score:       Score(c),
		Engagement: models.Engagement{
			Impressions: c.Performance.Impressions,
			Clicks:      c.Performance.Clicks,
		},
	}
	for _, cat := range c.Placement.Categories {
		if cat != models.Wildcard {
			p.Category = cat
			break
		}
	}
	return p
}
