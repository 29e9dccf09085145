package activity

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/matthewbaird/docagg/internal/eventbus"
)

// DefaultCapacity is the number of runs a MemoryStore keeps.
const DefaultCapacity = 1000

// Run is one recorded pipeline execution.
type Run struct {
	ID         string    `json:"id"`
	At         time.Time `json:"at"`
	Collection string    `json:"collection"`
	Path       string    `json:"path"`
	Reason     string    `json:"reason,omitempty"`
	Documents  int       `json:"documents"`
	DurationMS float64   `json:"durationMs"`
}

// MemoryStore is a ring buffer of the most recent runs.
type MemoryStore struct {
	mu       sync.RWMutex
	entries  []Run
	next     int
	capacity int
}

// NewMemoryStore creates a store holding up to capacity runs.
func NewMemoryStore(capacity int) *MemoryStore {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &MemoryStore{capacity: capacity}
}

// HandleEvent records an execution event.
func (s *MemoryStore) HandleEvent(_ context.Context, evt eventbus.Event) error {
	s.Append(Run{
		ID:         evt.ID,
		At:         evt.At,
		Collection: evt.Collection,
		Path:       string(evt.Path),
		Reason:     evt.Reason,
		Documents:  evt.Documents,
		DurationMS: float64(evt.Duration.Microseconds()) / 1000,
	})
	return nil
}

// Append records a run, evicting the oldest when full.
func (s *MemoryStore) Append(r Run) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.entries) < s.capacity {
		s.entries = append(s.entries, r)
		return
	}
	s.entries[s.next] = r
	s.next = (s.next + 1) % s.capacity
}

// Len returns the number of runs held.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Query returns matching runs newest first, the cursor for the next page
// (empty on the last page) and the total number of matches.
func (s *MemoryStore) Query(opts QueryOptions) ([]Run, string, int) {
	s.mu.RLock()
	matched := make([]Run, 0, len(s.entries))
	for _, r := range s.entries {
		if opts.Collection != "" && r.Collection != opts.Collection {
			continue
		}
		if opts.Path != "" && r.Path != opts.Path {
			continue
		}
		if opts.Since != nil && r.At.Before(*opts.Since) {
			continue
		}
		matched = append(matched, r)
	}
	s.mu.RUnlock()

	slices.SortStableFunc(matched, func(a, b Run) int { return b.At.Compare(a.At) })
	total := len(matched)

	if opts.Cursor != "" {
		if cursor, err := time.Parse(time.RFC3339Nano, opts.Cursor); err == nil {
			i := 0
			for i < len(matched) && !matched[i].At.Before(cursor) {
				i++
			}
			matched = matched[i:]
		}
	}

	limit := opts.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var nextCursor string
	if len(matched) > limit {
		matched = matched[:limit]
		nextCursor = matched[len(matched)-1].At.Format(time.RFC3339Nano)
	}
	return matched, nextCursor, total
}
