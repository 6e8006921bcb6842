package discovery

import (
	"sort"
	"sync"
	"time"

	"github.com/alanyoungcy/poolwatch/internal/domain"
)

// SeenSet records every pool the tracker has surfaced, keyed by
// chain:address. It is safe for concurrent use.
type SeenSet struct {
	mu      sync.RWMutex
	entries map[string]domain.Discovery
}

// NewSeenSet creates an empty SeenSet.
func NewSeenSet() *SeenSet {
	return &SeenSet{entries: make(map[string]domain.Discovery)}
}

// Admit inserts d unless its pool is already present. The check and the
// insert happen under one lock, so a pool is admitted at most once.
func (s *SeenSet) Admit(d domain.Discovery) bool {
	key := d.Pool.Key()
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[key]; ok {
		return false
	}
	s.entries[key] = d
	return true
}

// Contains reports whether key has been admitted.
func (s *SeenSet) Contains(key string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.entries[key]
	return ok
}

// Sweep removes entries discovered before cutoff and returns how many were
// removed.
func (s *SeenSet) Sweep(cutoff time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for k, d := range s.entries {
		if d.DiscoveredAt.Before(cutoff) {
			delete(s.entries, k)
			removed++
		}
	}
	return removed
}

// Len returns the number of entries.
func (s *SeenSet) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Snapshot returns a copy of the entries for one chain (or all chains when
// chain is empty), newest first.
func (s *SeenSet) Snapshot(chain string) []domain.Discovery {
	s.mu.RLock()
	out := make([]domain.Discovery, 0, len(s.entries))
	for _, d := range s.entries {
		if chain != "" && d.Chain != chain {
			continue
		}
		out = append(out, d)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].DiscoveredAt.Equal(out[j].DiscoveredAt) {
			return out[i].Key() < out[j].Key()
		}
		return out[i].DiscoveredAt.After(out[j].DiscoveredAt)
	})
	return out
}
