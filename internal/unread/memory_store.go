package unread

import (
	"context"
	"sync"
)

type memoryEntry struct {
	ids       map[uint64]struct{}
	watermark uint64
	known     bool
}

// MemoryStore is a process-local Store for single-instance deployments and tests.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[Key]*memoryEntry
	touched map[Key]struct{}
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[Key]*memoryEntry),
		touched: make(map[Key]struct{}),
	}
}

var _ Store = (*MemoryStore)(nil)

func (s *MemoryStore) entry(k Key) *memoryEntry {
	e, ok := s.entries[k]
	if !ok {
		e = &memoryEntry{ids: make(map[uint64]struct{})}
		s.entries[k] = e
	}
	return e
}

func (s *MemoryStore) Add(_ context.Context, k Key, msgID uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.entry(k)
	if e.known && msgID <= e.watermark {
		return nil
	}
	e.ids[msgID] = struct{}{}
	s.touched[k] = struct{}{}
	return nil
}

func (s *MemoryStore) MarkRead(_ context.Context, k Key, upTo uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.entry(k)
	for id := range e.ids {
		if id <= upTo {
			delete(e.ids, id)
		}
	}
	if e.known && upTo > e.watermark {
		e.watermark = upTo
	}
	s.touched[k] = struct{}{}
	return nil
}

func (s *MemoryStore) Remove(_ context.Context, k Key, msgID uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[k]; ok {
		delete(e.ids, msgID)
	}
	s.touched[k] = struct{}{}
	return nil
}

func (s *MemoryStore) Count(_ context.Context, k Key) (int64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[k]
	if !ok {
		return 0, false, nil
	}
	return int64(len(e.ids)), e.known, nil
}

func (s *MemoryStore) Reconcile(_ context.Context, k Key, ids []uint64, lastRead, cutoff uint64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.entry(k)
	for id := range e.ids {
		if id <= cutoff {
			delete(e.ids, id)
		}
	}
	for _, id := range ids {
		e.ids[id] = struct{}{}
	}
	if !e.known || lastRead > e.watermark {
		e.watermark = lastRead
	}
	e.known = true
	for id := range e.ids {
		if id <= e.watermark {
			delete(e.ids, id)
		}
	}
	return int64(len(e.ids)), nil
}

func (s *MemoryStore) Drop(_ context.Context, k Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, k)
	delete(s.touched, k)
	return nil
}

func (s *MemoryStore) Touched(_ context.Context, n int) ([]Key, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]Key, 0, n)
	for k := range s.touched {
		if len(keys) == n {
			break
		}
		keys = append(keys, k)
		delete(s.touched, k)
	}
	return keys, nil
}
