package idempotency

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	bolt "github.com/boltdb/bolt"

	sbpgate "github.com/sbpgate/sbpgate-go"
)

// BoltStore implements ProcessingStore on an embedded BoltDB file,
// persisting completed outcomes across process restarts on a single host.
// A restarted process that resubmits a command with a stable key is served
// the cached completion without touching the gateway.
//
// In-flight tracking stays in memory: a restart clears it naturally, which
// is exactly the semantics a crashed submission needs.
type BoltStore struct {
	db  *bolt.DB
	ttl time.Duration

	mu       sync.Mutex
	inFlight map[sbpgate.IdempotencyKey]chan struct{}
}

const resultsBucket = "processing_results"

// boltRecord is the persisted form of a completed outcome.
type boltRecord struct {
	Result    *sbpgate.ProcessingResult `json:"result"`
	ExpiresAt time.Time                 `json:"expiresAt"`
}

// NewBoltStore creates a Bolt-backed store on an open database, ensuring
// the results bucket exists.
func NewBoltStore(db *bolt.DB, ttl time.Duration) (*BoltStore, error) {
	err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(resultsBucket))
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create results bucket: %w", err)
	}

	return &BoltStore{
		db:       db,
		ttl:      ttl,
		inFlight: make(map[sbpgate.IdempotencyKey]chan struct{}),
	}, nil
}

// OpenBoltStore opens (or creates) a BoltDB file at path and builds a
// store on it.
func OpenBoltStore(path string, ttl time.Duration) (*BoltStore, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt database: %w", err)
	}
	store, err := NewBoltStore(db, ttl)
	if err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// Close releases the database file lock.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// CheckAndMark atomically checks the store and marks the key as in-flight
// if needed.
func (s *BoltStore) CheckAndMark(key sbpgate.IdempotencyKey) (Status, *sbpgate.ProcessingResult, chan struct{}) {
	if result := s.get(key); result != nil {
		return StatusCached, result, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if done, exists := s.inFlight[key]; exists {
		return StatusInFlight, nil, done
	}
	done := make(chan struct{})
	s.inFlight[key] = done
	return StatusNotFound, nil, done
}

// WaitForResult waits for an in-flight submission to finish.
func (s *BoltStore) WaitForResult(ctx context.Context, key sbpgate.IdempotencyKey, done chan struct{}) (*sbpgate.ProcessingResult, error) {
	select {
	case <-done:
		return s.get(key), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Complete persists a completed outcome and signals waiters. The write is
// idempotent: persisting the identical outcome twice leaves the record
// unchanged.
func (s *BoltStore) Complete(key sbpgate.IdempotencyKey, result *sbpgate.ProcessingResult, done chan struct{}) {
	record := boltRecord{Result: result, ExpiresAt: time.Now().Add(s.ttl)}
	if data, err := json.Marshal(record); err == nil {
		s.db.Update(func(tx *bolt.Tx) error {
			return tx.Bucket([]byte(resultsBucket)).Put([]byte(key), data)
		})
	}

	s.mu.Lock()
	delete(s.inFlight, key)
	s.mu.Unlock()
	close(done)
}

// Fail removes the in-flight marker without persisting, signaling waiters.
func (s *BoltStore) Fail(key sbpgate.IdempotencyKey, done chan struct{}) {
	s.mu.Lock()
	delete(s.inFlight, key)
	s.mu.Unlock()
	close(done)
}

func (s *BoltStore) get(key sbpgate.IdempotencyKey) *sbpgate.ProcessingResult {
	var record boltRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket([]byte(resultsBucket)).Get([]byte(key))
		if data == nil {
			return fmt.Errorf("not found")
		}
		return json.Unmarshal(data, &record)
	})
	if err != nil || time.Now().After(record.ExpiresAt) {
		return nil
	}
	return record.Result
}
