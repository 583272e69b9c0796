// Package apikeys manages minted API keys in the shared KV store.
//
// Keys are minted by the webhook processor when a checkout completes, gated
// on the /translate surface, and retrieved once by the client through a
// short-lived checkout-session mapping. Records are write-once: a key is
// never mutated after issuance.
package apikeys

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/sartu01/dhkalign-sub001/internal/idgen"
	"github.com/sartu01/dhkalign-sub001/internal/kv"
)

const (
	gatePrefix    = "apikey:"
	metaPrefix    = "apikey.meta:"
	sessionPrefix = "session_to_key:"

	gateEnabled = "1"

	// SessionTTL bounds how long a client can retrieve its minted key by
	// checkout-session ID.
	SessionTTL = 7 * 24 * time.Hour
)

// Errors
var (
	ErrSessionNotFound = errors.New("apikeys: no key for session")
)

// Metadata is the immutable record written alongside a minted key.
type Metadata struct {
	Key       string    `json:"key"`
	Status    string    `json:"status"`
	Plan      string    `json:"plan"`
	CreatedAt time.Time `json:"createdAt"`
	EventID   string    `json:"eventId"`
	SessionID string    `json:"sessionId"`
	Email     string    `json:"email,omitempty"`
}

// Service reads and writes API key records.
type Service struct {
	store kv.Store
}

// NewService creates an API key service over the given store.
func NewService(store kv.Store) *Service {
	return &Service{store: store}
}

// Mint generates a fresh random API key. Nothing is persisted until Enable
// and PutMetadata are called.
func (s *Service) Mint() string {
	return idgen.WithPrefix("dhk_", 16)
}

// Enable writes the gate record that admits the key on the proxy surface.
func (s *Service) Enable(ctx context.Context, key string) error {
	return s.store.Put(ctx, gatePrefix+key, gateEnabled, 0)
}

// IsEnabled reports whether the gate record admits the key.
func (s *Service) IsEnabled(ctx context.Context, key string) (bool, error) {
	v, err := s.store.Get(ctx, gatePrefix+key)
	if err == kv.ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return v == gateEnabled, nil
}

// PutMetadata writes the issuance record for a key.
func (s *Service) PutMetadata(ctx context.Context, meta *Metadata) error {
	raw, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("encode key metadata: %w", err)
	}
	return s.store.Put(ctx, metaPrefix+meta.Key, string(raw), 0)
}

// GetMetadata returns the issuance record, or kv.ErrNotFound.
func (s *Service) GetMetadata(ctx context.Context, key string) (*Metadata, error) {
	raw, err := s.store.Get(ctx, metaPrefix+key)
	if err != nil {
		return nil, err
	}
	var meta Metadata
	if err := json.Unmarshal([]byte(raw), &meta); err != nil {
		return nil, fmt.Errorf("decode key metadata: %w", err)
	}
	return &meta, nil
}

// MapSession lets the client retrieve its freshly minted key by checkout
// session ID, without the key ever appearing in the webhook response.
func (s *Service) MapSession(ctx context.Context, sessionID, key string) error {
	return s.store.Put(ctx, sessionPrefix+sessionID, key, SessionTTL)
}

// KeyForSession returns the key minted for a checkout session, or
// ErrSessionNotFound once the mapping has expired or never existed.
func (s *Service) KeyForSession(ctx context.Context, sessionID string) (string, error) {
	key, err := s.store.Get(ctx, sessionPrefix+sessionID)
	if err == kv.ErrNotFound {
		return "", ErrSessionNotFound
	}
	return key, err
}
