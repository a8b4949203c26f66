package logic

import (
	"math"
	"testing"

	"github.com/aminefth/kidsclub-sub001/internal/models"
)

func near(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestScore_Scenario(t *testing.T) {
	a := servable("a", "ALL")
	a.Performance.CTR = 0.4
	a.Budget.BidAmount = 110
	a.Budget.Total = 1000
	a.Advertiser.Verified = true

	b := servable("b", "ALL")
	b.Performance.CTR = 0.1
	b.Budget.BidAmount = 50
	b.Budget.Total = 1000

	if s := Score(a); !near(s, 71) {
		t.Fatalf("expected A to score 71, got %v", s)
	}
	if s := Score(b); !near(s, 15) {
		t.Fatalf("expected B to score 15, got %v", s)
	}

	ranked := Rank([]models.Campaign{b, a}, 0)
	if len(ranked) != 2 || ranked[0].ID != "a" {
		t.Fatalf("expected A first, got %+v", ranked)
	}
	if best := Best([]models.Campaign{b, a}); best == nil || best.ID != "a" {
		t.Fatalf("expected best A, got %+v", best)
	}
}

func TestRank_TieBreaksAreDeterministic(t *testing.T) {
	x := servable("x", "ALL")
	x.Performance.CTR = 0.1
	x.Budget.BidAmount = 100
	y := servable("y", "ALL")
	y.Budget.BidAmount = 200
	z := servable("z", "ALL")
	z.Performance.CTR = 0.1
	z.Budget.BidAmount = 100
	w := servable("w", "ALL")
	w.Performance.CTR = 0.1
	w.Budget.BidAmount = 100

	in := []models.Campaign{y, z, x, w}
	for i := 0; i < 5; i++ {
		ranked := Rank(in, 10)
		ids := []string{ranked[0].ID, ranked[1].ID, ranked[2].ID, ranked[3].ID}
		want := []string{"y", "w", "x", "z"}
		for j := range want {
			if ids[j] != want[j] {
				t.Fatalf("run %d: expected %v, got %v", i, want, ids)
			}
		}
	}
}

func TestRank_DropsExhaustedAndLimits(t *testing.T) {
	spent := servable("spent", "ALL")
	spent.Performance.Spend = spent.Budget.Total
	spent.Budget.BidAmount = 1000

	var in []models.Campaign
	in = append(in, spent)
	for _, id := range []string{"a", "b", "c", "d"} {
		in = append(in, servable(id, "ALL"))
	}

	ranked := Rank(in, 0)
	if len(ranked) != DefaultRankLimit {
		t.Fatalf("expected default limit %d, got %d", DefaultRankLimit, len(ranked))
	}
	for _, p := range ranked {
		if p.ID == "spent" {
			t.Fatal("exhausted campaign must not rank")
		}
	}
	if Best([]models.Campaign{spent}) != nil {
		t.Fatal("expected nil best with no funded campaigns")
	}
}

func TestProject(t *testing.T) {
	c := servable("p", "ALL")
	c.Placement.Categories = []string{models.Wildcard, "education"}
	c.Performance.Impressions = 40
	c.Performance.Clicks = 4
	c.Performance.CTR = 0.1

	p := Project(c)
	if p.Category != "education" || p.Engagement.Impressions != 40 || p.Engagement.Clicks != 4 {
		t.Fatalf("unexpected projection %+v", p)
	}
	post := p.Post()
	if post.Title != c.Creative.Headline {
		t.Fatalf("post title should be the headline, got %q", post.Title)
	}

	c.Creative.Headline = "changed"
	if p.Headline == "changed" {
		t.Fatal("projection must not alias the campaign")
	}
}
