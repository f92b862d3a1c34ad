package idempotency

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

// MemoryStore keeps keys in process memory. Expired keys are dropped lazily.
type MemoryStore struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	records map[string]memoryEntry
}

type memoryEntry struct {
	record    Record
	expiresAt time.Time
}

func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		ttl:     ttl,
		now:     time.Now,
		records: make(map[string]memoryEntry),
	}
}

func (s *MemoryStore) Begin(_ context.Context, key, fingerprint string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if e, ok := s.records[key]; ok && now.Before(e.expiresAt) {
		rec := e.record
		return check(&rec, fingerprint)
	}

	s.evictExpired(now)
	s.records[key] = memoryEntry{
		record:    Record{Fingerprint: fingerprint},
		expiresAt: now.Add(s.ttl),
	}
	return nil, nil
}

func (s *MemoryStore) Complete(_ context.Context, key, fingerprint string, result json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records[key] = memoryEntry{
		record:    Record{Fingerprint: fingerprint, Completed: true, Result: result},
		expiresAt: s.now().Add(s.ttl),
	}
	return nil
}

func (s *MemoryStore) Release(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.records[key]; ok && !e.record.Completed {
		delete(s.records, key)
	}
	return nil
}

func (s *MemoryStore) evictExpired(now time.Time) {
	for k, e := range s.records {
		if !now.Before(e.expiresAt) {
			delete(s.records, k)
		}
	}
}
