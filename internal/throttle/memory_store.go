package throttle

import (
	"context"
	"sync"
	"time"
)

type counter struct {
	count   int
	expires time.Time
}

// MemoryStore is a single-process Store for local development and tests.
// Expired counters and blocks are swept from Hit at most once per window.
type MemoryStore struct {
	mu        sync.Mutex
	counters  map[string]*counter
	blocks    map[string]time.Time
	nextSweep time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		counters: make(map[string]*counter),
		blocks:   make(map[string]time.Time),
	}
}

func (s *MemoryStore) Hit(_ context.Context, h Hit) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !h.Now.Before(s.nextSweep) {
		s.sweep(h.Now)
		s.nextSweep = h.Now.Add(h.Window)
	}

	if until, ok := s.blocks[h.BlockKey]; ok {
		if h.Now.Before(until) {
			return false, nil
		}
		delete(s.blocks, h.BlockKey)
	}

	t := s.bump(h.TokenKey, h)
	f := s.bump(h.FingerprintKey, h)
	if t > h.TokenMax || f > h.FingerprintMax {
		s.blocks[h.BlockKey] = h.Now.Add(h.Window)
		return false, nil
	}
	return true, nil
}

func (s *MemoryStore) bump(key string, h Hit) int {
	c, ok := s.counters[key]
	if !ok || !h.Now.Before(c.expires) {
		c = &counter{expires: h.Now.Add(h.Window)}
		s.counters[key] = c
	}
	c.count++
	return c.count
}

func (s *MemoryStore) sweep(now time.Time) {
	for k, c := range s.counters {
		if !now.Before(c.expires) {
			delete(s.counters, k)
		}
	}
	for k, until := range s.blocks {
		if !now.Before(until) {
			delete(s.blocks, k)
		}
	}
}
