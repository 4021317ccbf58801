// Package memory provides an in-memory listing store for tests and
// database-less runs.
package memory

import (
	"context"
	"sort"
	"sync"

	"casawatch/internal/monitor"
)

// ListingStore keeps listings in a map keyed by canonical identifier.
type ListingStore struct {
	mu       sync.RWMutex
	listings map[string]monitor.Listing
}

// NewListingStore creates an empty store.
func NewListingStore() *ListingStore {
	return &ListingStore{
		listings: make(map[string]monitor.Listing),
	}
}

// Exists implements monitor.ListingStore.
func (s *ListingStore) Exists(_ context.Context, _ string, id string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.listings[id]
	return ok, nil
}

// Insert implements monitor.ListingStore.
func (s *ListingStore) Insert(_ context.Context, listing monitor.Listing) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.listings[listing.ID]; ok {
		return monitor.ErrConflict
	}
	s.listings[listing.ID] = listing
	return nil
}

// Recent implements monitor.ListingBrowser, newest first.
func (s *ListingStore) Recent(_ context.Context, limit int) ([]monitor.Listing, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	all := make([]monitor.Listing, 0, len(s.listings))
	for _, listing := range s.listings {
		all = append(all, listing)
	}
	sort.Slice(all, func(i, j int) bool {
		return all[i].FirstSeen.After(all[j].FirstSeen)
	})
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

// CountBySite implements monitor.ListingBrowser.
func (s *ListingStore) CountBySite(_ context.Context) (map[string]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	counts := make(map[string]int)
	for _, listing := range s.listings {
		counts[listing.Site]++
	}
	return counts, nil
}

// Len reports how many listings are recorded.
func (s *ListingStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.listings)
}
