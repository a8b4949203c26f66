package models

// Engagement is display-only counter data shown next to a sponsored post.
type Engagement struct {
	Impressions int64 `json:"impressions"`
	Clicks      int64 `json:"clicks"`
}

// AdProjection is the read-only view of a ranked campaign handed to callers.
// It carries no reference back to the stored campaign.
type AdProjection struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Headline    string     `json:"headline"`
	Description string     `json:"description"`
	Image       string     `json:"image"`
	URL         string     `json:"url"`
	CTA         string     `json:"cta,omitempty"`
	Advertiser  Advertiser `json:"advertiser"`
	Category    string     `json:"category,omitempty"`
	CTR         float64    `json:"ctr"`
	Score       float64    `json:"score"`
	Engagement  Engagement `json:"engagement"`
}

// SponsoredPost is the feed representation used by /ads/sponsored.
type SponsoredPost struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Image       string     `json:"image"`
	URL         string     `json:"url"`
	Advertiser  Advertiser `json:"advertiser"`
	Category    string     `json:"category,omitempty"`
	CTR         float64    `json:"ctr"`
	Engagement  Engagement `json:"engagement"`
}

// Post converts a projection into the sponsored feed shape.
func (p AdProjection) Post() SponsoredPost {
	return SponsoredPost{
		ID:          p.ID,
		Title:       p.Headline,
		Description: p.Description,
		Image:       p.Image,
		URL:         p.URL,
		Advertiser:  p.Advertiser,
		Category:    p.Category,
		CTR:         p.CTR,
		Engagement:  p.Engagement,
	}
}
