package presence

import (
	"slices"
	"sync"
)

// PeerSet is the set of peer IDs currently visible on the network.
type PeerSet struct {
	ids  map[string]struct{}
	lock sync.Mutex
}

func NewPeerSet() *PeerSet {
	return &PeerSet{ids: map[string]struct{}{}}
}

// Add inserts id and reports whether the set changed.
func (s *PeerSet) Add(id string) bool {
	s.lock.Lock()
	defer s.lock.Unlock()

	if _, ok := s.ids[id]; ok {
		return false
	}

	s.ids[id] = struct{}{}
	return true
}

// Remove deletes id and reports whether the set changed.
func (s *PeerSet) Remove(id string) bool {
	s.lock.Lock()
	defer s.lock.Unlock()

	if _, ok := s.ids[id]; !ok {
		return false
	}

	delete(s.ids, id)
	return true
}

// Clear empties the set and reports whether it changed.
func (s *PeerSet) Clear() bool {
	s.lock.Lock()
	defer s.lock.Unlock()

	if len(s.ids) == 0 {
		return false
	}

	clear(s.ids)
	return true
}

// Snapshot returns a sorted copy of the set.
func (s *PeerSet) Snapshot() []string {
	s.lock.Lock()
	defer s.lock.Unlock()

	ids := make([]string, 0, len(s.ids))
	for id := range s.ids {
		ids = append(ids, id)
	}

	slices.Sort(ids)
	return ids
}

func (s *PeerSet) Len() int {
	s.lock.Lock()
	defer s.lock.Unlock()

	return len(s.ids)
}
