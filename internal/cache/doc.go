// Package cache implements the strategy-selected key/value cache used across
// the maintenance runner.
//
// Four backends share one contract:
//   - memory: process-local map with TTL (injectable clock, hit/miss counters)
//   - object: wraps a host-provided distributed object cache
//   - transient: durable fallback on the shared key/value store
//   - null: stores nothing, every read is a miss
//
// A stored false or nil is always distinguishable from an absent key: use
// Lookup/Has, never a sentinel default.
package cache
