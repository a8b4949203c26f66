package analytics

import (
	"context"
	"sort"
	"sync"

	"github.com/aminefth/kidsclub-sub001/internal/models"
)

// EventStore persists immutable events and reads them back for aggregation.
type EventStore interface {
	InsertEvent(ctx context.Context, e models.Event) error
	// QueryEvents returns matching events ordered by timestamp.
	QueryEvents(ctx context.Context, f models.EventFilter) ([]models.Event, error)
}

// MemoryEventStore keeps events in process. It backs tests and deployments
// without ClickHouse.
type MemoryEventStore struct {
	mu     sync.RWMutex
	events []models.Event
}

// NewMemoryEventStore returns an empty store.
func NewMemoryEventStore() *MemoryEventStore {
	return &MemoryEventStore{}
}

// InsertEvent appends e.
func (s *MemoryEventStore) InsertEvent(_ context.Context, e models.Event) error {
	s.mu.Lock()
	s.events = append(s.events, e)
	s.mu.Unlock()
	return nil
}

// QueryEvents scans the stored events.
func (s *MemoryEventStore) QueryEvents(_ context.Context, f models.EventFilter) ([]models.Event, error) {
	s.mu.RLock()
	out := make([]models.Event, 0, len(s.events))
	for _, e := range s.events {
		if f.Matches(e) {
			out = append(out, e)
		}
	}
	s.mu.RUnlock()
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out, nil
}
