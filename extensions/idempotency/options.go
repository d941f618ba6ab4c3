package idempotency

import "time"

// config holds the configuration for an idempotent sender.
type config struct {
	ttl   time.Duration
	store ProcessingStore
}

// Option configures Wrap.
type Option func(*config)

// WithTTL sets the cache TTL for completed outcomes.
//
// Only applies when using the default InMemoryStore. If WithStore is also
// specified, this option is ignored (configure TTL on your store instead).
//
// Default: 10 minutes
func WithTTL(ttl time.Duration) Option {
	return func(c *config) {
		c.ttl = ttl
	}
}

// WithStore sets a custom ProcessingStore implementation.
//
// Use this for shared or persistent backends:
//
//	sender := idempotency.Wrap(gatewayClient,
//	    idempotency.WithStore(idempotency.NewRedisStore(rdb, time.Hour)),
//	)
func WithStore(store ProcessingStore) Option {
	return func(c *config) {
		c.store = store
	}
}
