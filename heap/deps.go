package heap

import (
	"slices"
	"sync"

	"github.com/hashicorp/golang-lru/v2/simplelru"
)

// depSet tracks which references are live.
// Dropped references are remembered in a bounded history.
type depSet[K comparable] struct {
	mu   sync.Mutex
	live map[K]struct{}
	dead *simplelru.LRU[K, struct{}]
}

func (s *depSet[K]) init(history int) {
	s.live = make(map[K]struct{})
	s.dead = newHistory[K, struct{}](history)
}

// add returns false if k was already live.
func (s *depSet[K]) add(k K) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.live[k]; exists {
		return false
	}
	s.live[k] = struct{}{}
	if s.dead != nil {
		s.dead.Remove(k)
	}
	return true
}

// drop returns false if k was not live.
func (s *depSet[K]) drop(k K) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.live[k]; !exists {
		return false
	}
	delete(s.live, k)
	if s.dead != nil {
		s.dead.Add(k, struct{}{})
	}
	return true
}

func (s *depSet[K]) isDead(k K) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dead != nil && s.dead.Contains(k)
}

func (s *depSet[K]) snapshot(cmp func(a, b K) int) []K {
	s.mu.Lock()
	defer s.mu.Unlock()
	ret := make([]K, 0, len(s.live))
	for k := range s.live {
		ret = append(ret, k)
	}
	slices.SortFunc(ret, cmp)
	return ret
}

func (s *depSet[K]) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.live)
}

// newHistory returns nil if size is not positive.
func newHistory[K comparable, V any](size int) *simplelru.LRU[K, V] {
	if size <= 0 {
		return nil
	}
	lru, err := simplelru.NewLRU[K, V](size, nil)
	if err != nil {
		panic(err)
	}
	return lru
}
