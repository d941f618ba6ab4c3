// Package idempotency provides process-local command deduplication as an
// opt-in decorator over a sbpgate.CommandSender.
//
// # Overview
//
// The gateway already guarantees that resubmitting a command with a
// previously seen key never re-executes side effects. What it cannot do is
// save the client the round trips: when several goroutines (workers, HTTP
// handlers, a retrying supervisor) hold the same logical command, each one
// polls the gateway independently. This package collapses those into one
// in-flight submission per key and serves the completed outcome from a
// store afterwards.
//
// Caching completed outcomes is safe because outcomes are immutable per
// key: once the gateway reports IsCompleted, every later submission with
// that key returns the identical outcome. Incomplete results are never
// cached — every caller that needs progress gets a fresh round trip.
//
// # Usage
//
// Basic usage with the default in-memory store:
//
//	sender := idempotency.Wrap(gatewayClient)
//	client := sbpgate.NewClient(sender)
//
// Custom store backend:
//
//	store, err := idempotency.OpenBoltStore("dedupe.db", time.Hour)
//	if err != nil { ... }
//	sender := idempotency.Wrap(gatewayClient, idempotency.WithStore(store))
//
// # Store backends
//
//   - InMemoryStore: single-process deployments (default).
//   - RedisStore: load-balanced clients sharing one deduplication window.
//   - BoltStore: single-host clients that must survive process restarts;
//     together with stable keys this lets a restarted process pick up the
//     completion of a command it submitted in a previous life.
package idempotency
