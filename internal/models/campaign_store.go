package models

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// CampaignStore is the durable record of campaigns. Writes are versioned:
// UpdateCampaign and SwapPerformance only succeed when the caller's version
// matches the stored one.
type CampaignStore interface {
	// InsertCampaign assigns ID (when empty), Version and timestamps.
	InsertCampaign(ctx context.Context, c *Campaign) error
	GetCampaign(ctx context.Context, id string) (Campaign, error)
	// ListCampaigns returns one page, newest first, and the total match count.
	ListCampaigns(ctx context.Context, f CampaignListFilter) ([]Campaign, int, error)
	// ListServable returns active campaigns whose schedule contains now.
	ListServable(ctx context.Context, now time.Time) ([]Campaign, error)
	// UpdateCampaign writes every non-performance field. It returns
	// ErrConflict when c.Version is stale.
	UpdateCampaign(ctx context.Context, c Campaign) (Campaign, error)
	// SwapPerformance replaces the counters and status if the stored version
	// equals version. It reports whether the swap happened.
	SwapPerformance(ctx context.Context, id string, version int64, perf Performance, status string) (bool, error)
}

// CampaignListFilter pages through campaigns, optionally by status.
type CampaignListFilter struct {
	Status string
	Limit  int
	Offset int
}

// UpdateCampaignFunc loads a campaign, applies fn and writes it back,
// retrying on version conflicts up to attempts times.
func UpdateCampaignFunc(ctx context.Context, store CampaignStore, id string, attempts int, fn func(*Campaign) error) (Campaign, error) {
	if attempts <= 0 {
		attempts = 1
	}
	var lastErr error
	for i := 0; i < attempts; i++ {
		cur, err := store.GetCampaign(ctx, id)
		if err != nil {
			return Campaign{}, err
		}
		next := cur.Clone()
		if err := fn(&next); err != nil {
			return Campaign{}, err
		}
		updated, err := store.UpdateCampaign(ctx, next)
		if err == nil {
			return updated, nil
		}
		if !errors.Is(err, ErrConflict) {
			return Campaign{}, err
		}
		lastErr = err
		if ctx.Err() != nil {
			return Campaign{}, ctx.Err()
		}
	}
	return Campaign{}, lastErr
}

// campaignIndex is an immutable view of which campaigns exist.
type campaignIndex struct {
	order []string
	slots map[string]*campaignSlot
}

// campaignSlot holds the current committed version of one campaign. Readers
// never observe a partially applied write.
type campaignSlot struct {
	current atomic.Pointer[Campaign]
}

// InMemoryCampaignStore implements CampaignStore with per-campaign atomic
// snapshots. It backs tests and deployments without Postgres.
type InMemoryCampaignStore struct {
	// Atomic pointer to current index snapshot
	index atomic.Pointer[campaignIndex]
	// serializes index rebuilds; reads stay lock-free
	mu sync.Mutex
	// now is overridable in tests.
	now func() time.Time
}

// NewInMemoryCampaignStore creates an empty store.
func NewInMemoryCampaignStore() *InMemoryCampaignStore {
	s := &InMemoryCampaignStore{now: time.Now}
	s.index.Store(&campaignIndex{slots: make(map[string]*campaignSlot)})
	return s
}

// InsertCampaign adds a new campaign.
func (s *InMemoryCampaignStore) InsertCampaign(_ context.Context, c *Campaign) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	old := s.index.Load()
	if _, exists := old.slots[c.ID]; exists {
		return &ValidationError{Field: "id", Reason: "already exists"}
	}
	now := s.now().UTC()
	c.Version = 1
	c.CreatedAt = now
	c.UpdatedAt = now
	next := &campaignIndex{
		order: make([]string, len(old.order), len(old.order)+1),
		slots: make(map[string]*campaignSlot, len(old.slots)+1),
	}
	copy(next.order, old.order)
	for id, slot := range old.slots {
		next.slots[id] = slot
	}
	slot := &campaignSlot{}
	stored := c.Clone()
	slot.current.Store(&stored)
	next.order = append(next.order, c.ID)
	next.slots[c.ID] = slot
	s.index.Store(next)
	return nil
}

// GetCampaign returns a copy of the campaign.
func (s *InMemoryCampaignStore) GetCampaign(_ context.Context, id string) (Campaign, error) {
	slot, ok := s.index.Load().slots[id]
	if !ok {
		return Campaign{}, ErrNotFound
	}
	return slot.current.Load().Clone(), nil
}

// ListCampaigns returns campaigns newest first.
func (s *InMemoryCampaignStore) ListCampaigns(_ context.Context, f CampaignListFilter) ([]Campaign, int, error) {
	idx := s.index.Load()
	var all []Campaign
	for _, id := range idx.order {
		c := idx.slots[id].current.Load()
		if f.Status != "" && c.Status != f.Status {
			continue
		}
		all = append(all, c.Clone())
	}
	sort.SliceStable(all, func(i, j int) bool {
		if !all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].CreatedAt.After(all[j].CreatedAt)
		}
		return all[i].ID < all[j].ID
	})
	total := len(all)
	if f.Offset < 0 {
		return nil, total, &ValidationError{Field: "offset", Reason: "must not be negative"}
	}
	if f.Offset >= total {
		return []Campaign{}, total, nil
	}
	end := total
	if f.Limit > 0 && f.Offset+f.Limit < total {
		end = f.Offset + f.Limit
	}
	return all[f.Offset:end], total, nil
}

// ListServable returns active campaigns whose flight contains now.
func (s *InMemoryCampaignStore) ListServable(_ context.Context, now time.Time) ([]Campaign, error) {
	idx := s.index.Load()
	var out []Campaign
	for _, id := range idx.order {
		c := idx.slots[id].current.Load()
		if c.Status != StatusActive || !c.IsActive {
			continue
		}
		if now.Before(c.Schedule.Start) || now.After(c.Schedule.End) {
			continue
		}
		out = append(out, c.Clone())
	}
	return out, nil
}

// UpdateCampaign replaces the editable fields when c.Version is current.
func (s *InMemoryCampaignStore) UpdateCampaign(_ context.Context, c Campaign) (Campaign, error) {
	slot, ok := s.index.Load().slots[c.ID]
	if !ok {
		return Campaign{}, ErrNotFound
	}
	cur := slot.current.Load()
	if cur.Version != c.Version {
		return Campaign{}, ErrConflict
	}
	next := c.Clone()
	next.Performance = cur.Performance
	next.CreatedAt = cur.CreatedAt
	next.UpdatedAt = s.now().UTC()
	next.Version = cur.Version + 1
	if !slot.current.CompareAndSwap(cur, &next) {
		return Campaign{}, ErrConflict
	}
	return next.Clone(), nil
}

// SwapPerformance installs new counters if version is current.
func (s *InMemoryCampaignStore) SwapPerformance(_ context.Context, id string, version int64, perf Performance, status string) (bool, error) {
	slot, ok := s.index.Load().slots[id]
	if !ok {
		return false, ErrNotFound
	}
	cur := slot.current.Load()
	if cur.Version != version {
		return false, nil
	}
	next := cur.Clone()
	next.Performance = perf
	if status != "" {
		next.Status = status
	}
	next.Version = cur.Version + 1
	next.UpdatedAt = s.now().UTC()
	return slot.current.CompareAndSwap(cur, &next), nil
}
