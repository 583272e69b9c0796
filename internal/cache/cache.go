package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sartu01/dhkalign-sub001/internal/kv"
)

const keyPrefix = "resp:"

// BypassParam is the reserved query parameter that forces an origin fetch and
// skips cache read and write for that request.
const BypassParam = "nocache"

// StatusHeader marks replayed responses (HIT) and freshly forwarded ones (MISS).
const StatusHeader = "X-Edge-Cache"

// Entry is a stored response snapshot. Entries are immutable once written;
// they are only replaced by a fresh write for the same fingerprint or expired
// by TTL.
type Entry struct {
	Status  int               `json:"status"`
	Headers map[string]string `json:"headers"`
	Body    []byte            `json:"body"` // base64 on the wire
}

// Cache stores response snapshots in the shared KV store.
type Cache struct {
	store kv.Store
	ttl   time.Duration
}

// New creates a response cache with the given TTL.
func New(store kv.Store, ttl time.Duration) *Cache {
	return &Cache{store: store, ttl: ttl}
}

// Get returns the cached entry for a fingerprint, or kv.ErrNotFound.
func (c *Cache) Get(ctx context.Context, fingerprint string) (*Entry, error) {
	raw, err := c.store.Get(ctx, keyPrefix+fingerprint)
	if err != nil {
		return nil, err
	}
	var e Entry
	if err := json.Unmarshal([]byte(raw), &e); err != nil {
		return nil, fmt.Errorf("decode cache entry: %w", err)
	}
	return &e, nil
}

// Put stores a response snapshot under the fingerprint with the configured TTL.
func (c *Cache) Put(ctx context.Context, fingerprint string, e *Entry) error {
	raw, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode cache entry: %w", err)
	}
	return c.store.Put(ctx, keyPrefix+fingerprint, string(raw), c.ttl)
}

// TTL returns the configured entry lifetime.
func (c *Cache) TTL() time.Duration {
	return c.ttl
}

// Policy decides which requests are eligible for caching.
type Policy struct {
	// Prefixes are the cacheable path prefixes.
	Prefixes []string
}

// DefaultPolicy caches the translation lookup surface.
func DefaultPolicy() Policy {
	return Policy{Prefixes: []string{"/translate"}}
}

// Cacheable reports whether a request may be served from or written to the
// cache: the path matches a configured prefix, the method is GET or POST,
// and the caller has not requested bypass.
func (p Policy) Cacheable(method, path string, query url.Values) bool {
	if method != http.MethodGet && method != http.MethodPost {
		return false
	}
	if query.Has(BypassParam) {
		return false
	}
	for _, prefix := range p.Prefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}
