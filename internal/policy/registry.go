package policy

import (
	"sort"
	"strings"
	"sync"

	"github.com/eliteGoblin/focusd/app_guard/internal/domain"
)

// State holds the blocked package set.
// It is owned by a monitoring session and shared by reference; every read
// sees a consistent snapshot of the set.
type State struct {
	mu      sync.RWMutex
	blocked map[string]struct{}
}

// NewState creates a state seeded with the given package IDs.
func NewState(packageIDs ...string) *State {
	s := &State{blocked: make(map[string]struct{}, len(packageIDs))}
	for _, id := range packageIDs {
		if id = normalize(id); id != "" {
			s.blocked[id] = struct{}{}
		}
	}
	return s
}

func normalize(id string) string {
	return strings.TrimSpace(id)
}

// Contains reports whether the package is blocked. It never fails.
func (s *State) Contains(packageID string) (bool, error) {
	s.mu.RLock()
	_, ok := s.blocked[normalize(packageID)]
	s.mu.RUnlock()
	return ok, nil
}

// Add blocks a package.
func (s *State) Add(packageID string) error {
	id := normalize(packageID)
	if id == "" {
		return domain.ErrEmptyPackageID
	}
	s.mu.Lock()
	s.blocked[id] = struct{}{}
	s.mu.Unlock()
	return nil
}

// Remove unblocks a package. Removing an unknown package is a no-op.
func (s *State) Remove(packageID string) error {
	id := normalize(packageID)
	if id == "" {
		return domain.ErrEmptyPackageID
	}
	s.mu.Lock()
	delete(s.blocked, id)
	s.mu.Unlock()
	return nil
}

// List returns all blocked package IDs, sorted.
func (s *State) List() ([]string, error) {
	s.mu.RLock()
	ids := make([]string, 0, len(s.blocked))
	for id := range s.blocked {
		ids = append(ids, id)
	}
	s.mu.RUnlock()
	sort.Strings(ids)
	return ids, nil
}

// Replace swaps the whole set atomically.
func (s *State) Replace(packageIDs []string) {
	next := make(map[string]struct{}, len(packageIDs))
	for _, id := range packageIDs {
		if id = normalize(id); id != "" {
			next[id] = struct{}{}
		}
	}
	s.mu.Lock()
	s.blocked = next
	s.mu.Unlock()
}

// Len returns the number of blocked packages.
func (s *State) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.blocked)
}

// Diff returns the packages present only in next (added) and only in prev (removed).
func Diff(prev, next []string) (added, removed []string) {
	before := NewState(prev...)
	after := NewState(next...)

	nextIDs, _ := after.List()
	for _, id := range nextIDs {
		if ok, _ := before.Contains(id); !ok {
			added = append(added, id)
		}
	}
	prevIDs, _ := before.List()
	for _, id := range prevIDs {
		if ok, _ := after.Contains(id); !ok {
			removed = append(removed, id)
		}
	}
	return added, removed
}

// Apply adds and removes packages on a store, stopping at the first error.
func Apply(store domain.PolicyStore, added, removed []string) error {
	for _, id := range added {
		if err := store.Add(id); err != nil {
			return err
		}
	}
	for _, id := range removed {
		if err := store.Remove(id); err != nil {
			return err
		}
	}
	return nil
}

// Ensure State implements domain.PolicyStore.
var _ domain.PolicyStore = (*State)(nil)
