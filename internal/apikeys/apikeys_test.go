package apikeys

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/sartu01/dhkalign-sub001/internal/kv"
)

func TestMint_Format(t *testing.T) {
	svc := NewService(kv.NewMemoryStore())

	key := svc.Mint()
	if !strings.HasPrefix(key, "dhk_") {
		t.Errorf("expected dhk_ prefix, got %s", key)
	}
	if len(key) != 36 { // "dhk_" + 32 hex chars
		t.Errorf("expected key length 36, got %d", len(key))
	}
	if key == svc.Mint() {
		t.Error("two mints must not collide")
	}
}

func TestEnable_IsEnabled(t *testing.T) {
	svc := NewService(kv.NewMemoryStore())
	ctx := context.Background()

	key := svc.Mint()
	enabled, err := svc.IsEnabled(ctx, key)
	if err != nil {
		t.Fatalf("IsEnabled failed: %v", err)
	}
	if enabled {
		t.Error("unminted key must not be enabled")
	}

	if err := svc.Enable(ctx, key); err != nil {
		t.Fatalf("Enable failed: %v", err)
	}
	enabled, err = svc.IsEnabled(ctx, key)
	if err != nil {
		t.Fatalf("IsEnabled failed: %v", err)
	}
	if !enabled {
		t.Error("enabled key must pass the gate")
	}
}

func TestMetadata_RoundTrip(t *testing.T) {
	svc := NewService(kv.NewMemoryStore())
	ctx := context.Background()

	meta := &Metadata{
		Key:       "dhk_abc",
		Status:    "active",
		Plan:      "pro",
		CreatedAt: time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC),
		EventID:   "evt_1",
		SessionID: "cs_1",
		Email:     "user@example.com",
	}
	if err := svc.PutMetadata(ctx, meta); err != nil {
		t.Fatalf("PutMetadata failed: %v", err)
	}

	got, err := svc.GetMetadata(ctx, "dhk_abc")
	if err != nil {
		t.Fatalf("GetMetadata failed: %v", err)
	}
	if got.Plan != "pro" || got.EventID != "evt_1" || got.Email != "user@example.com" {
		t.Errorf("metadata not preserved: %+v", got)
	}
}

func TestSessionMapping(t *testing.T) {
	svc := NewService(kv.NewMemoryStore())
	ctx := context.Background()

	if _, err := svc.KeyForSession(ctx, "cs_none"); err != ErrSessionNotFound {
		t.Errorf("expected ErrSessionNotFound, got %v", err)
	}

	if err := svc.MapSession(ctx, "cs_1", "dhk_abc"); err != nil {
		t.Fatalf("MapSession failed: %v", err)
	}
	key, err := svc.KeyForSession(ctx, "cs_1")
	if err != nil {
		t.Fatalf("KeyForSession failed: %v", err)
	}
	if key != "dhk_abc" {
		t.Errorf("expected dhk_abc, got %s", key)
	}
}
