package idempotency

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	sbpgate "github.com/sbpgate/sbpgate-go"
)

// RedisStore implements ProcessingStore on Redis, sharing one
// deduplication window across a fleet of client processes.
//
// Completed outcomes are stored as JSON under resultKeyPrefix with the
// configured TTL. In-flight markers are SETNX sentinels under
// inFlightKeyPrefix with a short TTL so a crashed holder cannot block a
// key forever. Cross-process waiters poll the result key; the done channel
// only coordinates goroutines inside one process.
type RedisStore struct {
	client       *redis.Client
	ttl          time.Duration
	inFlightTTL  time.Duration
	pollInterval time.Duration
}

const (
	resultKeyPrefix   = "sbpgate:result:"
	inFlightKeyPrefix = "sbpgate:inflight:"
)

// NewRedisStore creates a Redis-backed store. The TTL bounds how long a
// completed outcome is served from cache.
func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{
		client:       client,
		ttl:          ttl,
		inFlightTTL:  time.Minute,
		pollInterval: 200 * time.Millisecond,
	}
}

// CheckAndMark atomically checks Redis and marks the key as in-flight if
// needed.
func (s *RedisStore) CheckAndMark(key sbpgate.IdempotencyKey) (Status, *sbpgate.ProcessingResult, chan struct{}) {
	ctx := context.Background()

	if result := s.getResult(ctx, key); result != nil {
		return StatusCached, result, nil
	}

	ok, err := s.client.SetNX(ctx, inFlightKeyPrefix+string(key), 1, s.inFlightTTL).Result()
	if err != nil {
		// Redis unavailable: fall through as not-found so the caller
		// submits directly. The gateway's own idempotency still holds.
		return StatusNotFound, nil, make(chan struct{})
	}
	if !ok {
		return StatusInFlight, nil, make(chan struct{})
	}
	return StatusNotFound, nil, make(chan struct{})
}

// WaitForResult polls Redis until the in-flight submission publishes its
// outcome, its marker expires, or ctx is canceled.
func (s *RedisStore) WaitForResult(ctx context.Context, key sbpgate.IdempotencyKey, done chan struct{}) (*sbpgate.ProcessingResult, error) {
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		if result := s.getResult(ctx, key); result != nil {
			return result, nil
		}

		exists, err := s.client.Exists(ctx, inFlightKeyPrefix+string(key)).Result()
		if err == nil && exists == 0 {
			// Holder finished without a result (failed) or its marker
			// expired: the caller should submit for itself.
			return nil, nil
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Complete publishes a completed outcome and releases the in-flight marker.
func (s *RedisStore) Complete(key sbpgate.IdempotencyKey, result *sbpgate.ProcessingResult, done chan struct{}) {
	ctx := context.Background()
	if data, err := json.Marshal(result); err == nil {
		s.client.Set(ctx, resultKeyPrefix+string(key), data, s.ttl)
	}
	s.client.Del(ctx, inFlightKeyPrefix+string(key))
	close(done)
}

// Fail releases the in-flight marker without publishing an outcome.
func (s *RedisStore) Fail(key sbpgate.IdempotencyKey, done chan struct{}) {
	s.client.Del(context.Background(), inFlightKeyPrefix+string(key))
	close(done)
}

func (s *RedisStore) getResult(ctx context.Context, key sbpgate.IdempotencyKey) *sbpgate.ProcessingResult {
	data, err := s.client.Get(ctx, resultKeyPrefix+string(key)).Bytes()
	if err != nil {
		return nil
	}
	var result sbpgate.ProcessingResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil
	}
	return &result
}

// Purge removes every cached outcome and in-flight marker. Test helper.
func (s *RedisStore) Purge(ctx context.Context) error {
	for _, pattern := range []string{resultKeyPrefix + "*", inFlightKeyPrefix + "*"} {
		iter := s.client.Scan(ctx, 0, pattern, 0).Iterator()
		for iter.Next(ctx) {
			if err := s.client.Del(ctx, iter.Val()).Err(); err != nil {
				return err
			}
		}
		if err := iter.Err(); err != nil {
			return fmt.Errorf("failed to scan %s: %w", pattern, err)
		}
	}
	return nil
}
