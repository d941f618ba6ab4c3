package idempotency

import (
	"context"
	"sync"
	"time"

	sbpgate "github.com/sbpgate/sbpgate-go"
)

// InMemoryStore provides an in-memory implementation of ProcessingStore.
//
// Suitable for single-process clients where the deduplication window does
// not need to be shared. For load-balanced clients use RedisStore; for
// restart survival on a single host use BoltStore.
type InMemoryStore struct {
	mu       sync.Mutex
	results  map[sbpgate.IdempotencyKey]*sbpgate.ProcessingResult
	expiry   map[sbpgate.IdempotencyKey]time.Time
	inFlight map[sbpgate.IdempotencyKey]chan struct{}
	ttl      time.Duration
}

// NewInMemoryStore creates an in-memory store. The TTL bounds how long a
// completed outcome is served from cache; a sensible value is the TTL of
// the commands being deduplicated.
func NewInMemoryStore(ttl time.Duration) *InMemoryStore {
	return &InMemoryStore{
		results:  make(map[sbpgate.IdempotencyKey]*sbpgate.ProcessingResult),
		expiry:   make(map[sbpgate.IdempotencyKey]time.Time),
		inFlight: make(map[sbpgate.IdempotencyKey]chan struct{}),
		ttl:      ttl,
	}
}

// CheckAndMark atomically checks the store and marks the key as in-flight
// if needed.
func (s *InMemoryStore) CheckAndMark(key sbpgate.IdempotencyKey) (Status, *sbpgate.ProcessingResult, chan struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Check for a cached outcome first
	if expiry, exists := s.expiry[key]; exists {
		if time.Now().Before(expiry) {
			if result, ok := s.results[key]; ok {
				return StatusCached, result, nil
			}
		}
		// Expired - clean it up
		delete(s.results, key)
		delete(s.expiry, key)
	}

	// Check if in-flight
	if done, exists := s.inFlight[key]; exists {
		return StatusInFlight, nil, done
	}

	// Mark as in-flight
	done := make(chan struct{})
	s.inFlight[key] = done
	return StatusNotFound, nil, done
}

// WaitForResult waits for an in-flight submission to finish.
func (s *InMemoryStore) WaitForResult(ctx context.Context, key sbpgate.IdempotencyKey, done chan struct{}) (*sbpgate.ProcessingResult, error) {
	select {
	case <-done:
		return s.get(key), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Complete caches a completed outcome and signals waiters.
func (s *InMemoryStore) Complete(key sbpgate.IdempotencyKey, result *sbpgate.ProcessingResult, done chan struct{}) {
	s.mu.Lock()
	s.results[key] = result
	s.expiry[key] = time.Now().Add(s.ttl)
	delete(s.inFlight, key)
	s.mu.Unlock()
	close(done)
}

// Fail removes the in-flight marker without caching, signaling waiters.
func (s *InMemoryStore) Fail(key sbpgate.IdempotencyKey, done chan struct{}) {
	s.mu.Lock()
	delete(s.inFlight, key)
	s.mu.Unlock()
	close(done)
}

func (s *InMemoryStore) get(key sbpgate.IdempotencyKey) *sbpgate.ProcessingResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	expiry, exists := s.expiry[key]
	if !exists || time.Now().After(expiry) {
		return nil
	}
	return s.results[key]
}
