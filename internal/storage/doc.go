// Package storage provides the durable key/value store shared by the
// transient cache, the rate-limiter lock, and task checkpoints.
//
// Values are opaque strings (callers serialize JSON). Keys are namespaced
// by prefix; bulk operations work on key prefixes.
package storage
