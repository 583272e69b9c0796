// Package kv provides the shared key-value store used by the edge gateway.
//
// The store is the only shared mutable state in the system: response cache
// entries, usage counters, API key records, and webhook replay locks all live
// here. It is injected into every component so tests can substitute the
// in-memory implementation.
package kv

import (
	"context"
	"errors"
	"time"
)

// Errors
var (
	ErrNotFound = errors.New("kv: key not found")
)

// Store is an eventually-consistent, TTL-capable string mapping.
//
// There are no cross-key transactions. PutIfAbsent is the only conditional
// primitive; the webhook replay lock depends on it to stay safe under
// concurrent duplicate deliveries.
type Store interface {
	// Get returns the value for key, or ErrNotFound if the key is absent
	// or its TTL has elapsed.
	Get(ctx context.Context, key string) (string, error)

	// Put stores value under key. A ttl of 0 means no expiry.
	Put(ctx context.Context, key, value string, ttl time.Duration) error

	// PutIfAbsent stores value under key only if the key is absent (or
	// expired). It reports whether the write happened.
	PutIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error)

	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error
}
