// Package usage accounts per-key request volume.
//
// Records are advisory, not billing-grade: the read-modify-write increment is
// not atomic, so concurrent writers can lose updates, and failed writes are
// never retried. The record expires ~40 hours after the first request of the
// day regardless of later writes.
package usage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sartu01/dhkalign-sub001/internal/kv"
)

const (
	keyPrefix = "usage:"
	recordTTL = 40 * time.Hour
	dayFormat = "2006-01-02"
)

// Record is one key's usage for one calendar day.
type Record struct {
	Count int64            `json:"count"`
	Last  time.Time        `json:"last"`
	Paths map[string]int64 `json:"paths"`
}

// Ledger increments usage counters in the shared KV store.
type Ledger struct {
	store kv.Store

	// now is stubbed in tests
	now func() time.Time
}

// NewLedger creates a usage ledger.
func NewLedger(store kv.Store) *Ledger {
	return &Ledger{store: store, now: time.Now}
}

// Log increments the day-bucketed counters for apiKey and path.
func (l *Ledger) Log(ctx context.Context, apiKey, path string) error {
	now := l.now().UTC()
	key := keyPrefix + apiKey + ":" + now.Format(dayFormat)

	rec := Record{Paths: make(map[string]int64)}
	raw, err := l.store.Get(ctx, key)
	switch err {
	case nil:
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			// Corrupt record, start over
			rec = Record{Paths: make(map[string]int64)}
		}
		if rec.Paths == nil {
			rec.Paths = make(map[string]int64)
		}
	case kv.ErrNotFound:
		// First request of the day
	default:
		return fmt.Errorf("read usage record: %w", err)
	}

	rec.Count++
	rec.Last = now
	rec.Paths[path]++

	out, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode usage record: %w", err)
	}
	if err := l.store.Put(ctx, key, string(out), recordTTL); err != nil {
		return fmt.Errorf("write usage record: %w", err)
	}
	return nil
}

// Get returns the record for a key and day, or kv.ErrNotFound.
func (l *Ledger) Get(ctx context.Context, apiKey string, day time.Time) (*Record, error) {
	raw, err := l.store.Get(ctx, keyPrefix+apiKey+":"+day.UTC().Format(dayFormat))
	if err != nil {
		return nil, err
	}
	var rec Record
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return nil, fmt.Errorf("decode usage record: %w", err)
	}
	return &rec, nil
}
