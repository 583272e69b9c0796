package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/sartu01/dhkalign-sub001/internal/apikeys"
	"github.com/sartu01/dhkalign-sub001/internal/kv"
	"github.com/sartu01/dhkalign-sub001/internal/logging"
)

func newTestProcessor() (*Processor, *kv.MemoryStore, *apikeys.Service) {
	store := kv.NewMemoryStore()
	keys := apikeys.NewService(store)
	p := NewProcessor(store, keys, testSecret, 0, logging.New("error", "text"))
	return p, store, keys
}

func checkoutEvent(eventID, sessionID, mode, paymentStatus, status string) []byte {
	session := map[string]interface{}{
		"id":             sessionID,
		"mode":           mode,
		"payment_status": paymentStatus,
		"status":         status,
		"customer_details": map[string]interface{}{
			"email": "buyer@example.com",
		},
		"metadata": map[string]string{"plan": "pro"},
	}
	raw, _ := json.Marshal(session)
	event := map[string]interface{}{
		"id":   eventID,
		"type": "checkout.session.completed",
		"data": map[string]interface{}{"object": json.RawMessage(raw)},
	}
	payload, _ := json.Marshal(event)
	return payload
}

func paidEvent(eventID, sessionID string) []byte {
	return checkoutEvent(eventID, sessionID, "payment", "paid", "complete")
}

func process(t *testing.T, p *Processor, payload []byte) *Result {
	t.Helper()
	header := Sign(payload, testSecret, time.Now())
	res, err := p.Process(context.Background(), payload, header)
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	return res
}

func TestProcess_MintsKeyForPaidCheckout(t *testing.T) {
	p, store, keys := newTestProcessor()
	ctx := context.Background()

	res := process(t, p, paidEvent("evt_1", "cs_1"))
	if !res.Received || res.Replay || res.Ignored != "" {
		t.Fatalf("expected clean processed result, got %+v", res)
	}

	// Session mapping resolves to a minted, gated key
	key, err := keys.KeyForSession(ctx, "cs_1")
	if err != nil {
		t.Fatalf("KeyForSession failed: %v", err)
	}
	enabled, err := keys.IsEnabled(ctx, key)
	if err != nil || !enabled {
		t.Errorf("minted key not enabled: %v", err)
	}

	meta, err := keys.GetMetadata(ctx, key)
	if err != nil {
		t.Fatalf("GetMetadata failed: %v", err)
	}
	if meta.EventID != "evt_1" || meta.SessionID != "cs_1" || meta.Email != "buyer@example.com" {
		t.Errorf("metadata incomplete: %+v", meta)
	}
	if meta.Plan != "pro" {
		t.Errorf("expected plan pro, got %s", meta.Plan)
	}

	// Replay lock settled as processed
	outcome, err := store.Get(ctx, "stripe_evt:evt_1")
	if err != nil {
		t.Fatalf("replay lock missing: %v", err)
	}
	if outcome != OutcomeProcessed {
		t.Errorf("expected processed outcome, got %q", outcome)
	}
}

func TestProcess_DuplicateDeliveryIsIdempotent(t *testing.T) {
	p, _, keys := newTestProcessor()
	ctx := context.Background()

	res1 := process(t, p, paidEvent("evt_dup", "cs_dup"))
	if res1.Replay {
		t.Fatal("first delivery must not be a replay")
	}
	key1, err := keys.KeyForSession(ctx, "cs_dup")
	if err != nil {
		t.Fatalf("KeyForSession failed: %v", err)
	}

	res2 := process(t, p, paidEvent("evt_dup", "cs_dup"))
	if !res2.Replay {
		t.Fatal("second delivery must be acknowledged as replay")
	}

	// No second key was minted: the mapping is unchanged
	key2, err := keys.KeyForSession(ctx, "cs_dup")
	if err != nil {
		t.Fatalf("KeyForSession failed: %v", err)
	}
	if key1 != key2 {
		t.Error("replayed event must not mint a second key")
	}
}

func TestProcess_BadSignature(t *testing.T) {
	p, store, _ := newTestProcessor()

	payload := paidEvent("evt_sig", "cs_sig")
	header := Sign(payload, "whsec_wrong", time.Now())

	_, err := p.Process(context.Background(), payload, header)
	if !errors.Is(err, ErrSignatureMismatch) {
		t.Fatalf("expected signature error, got %v", err)
	}

	// Nothing written
	if _, err := store.Get(context.Background(), "stripe_evt:evt_sig"); err != kv.ErrNotFound {
		t.Error("rejected event must not write a replay lock")
	}
}

func TestProcess_StaleSignature(t *testing.T) {
	p, _, _ := newTestProcessor()

	payload := paidEvent("evt_old", "cs_old")
	header := Sign(payload, testSecret, time.Now().Add(-10*time.Minute))

	if _, err := p.Process(context.Background(), payload, header); !errors.Is(err, ErrOutsideTolerance) {
		t.Errorf("expected tolerance error, got %v", err)
	}
}

func TestProcess_MissingEventID(t *testing.T) {
	p, _, _ := newTestProcessor()

	payload := []byte(`{"type":"checkout.session.completed","data":{"object":{}}}`)
	header := Sign(payload, testSecret, time.Now())

	if _, err := p.Process(context.Background(), payload, header); !errors.Is(err, ErrMissingEventID) {
		t.Errorf("expected ErrMissingEventID, got %v", err)
	}
}

func TestProcess_UnparsablePayload(t *testing.T) {
	p, _, _ := newTestProcessor()

	payload := []byte(`{not json`)
	header := Sign(payload, testSecret, time.Now())

	if _, err := p.Process(context.Background(), payload, header); !errors.Is(err, ErrBadPayload) {
		t.Errorf("expected ErrBadPayload, got %v", err)
	}
}

func TestProcess_IgnoredOutcomes(t *testing.T) {
	tests := []struct {
		name        string
		payload     func(eventID string) []byte
		wantIgnored string
	}{
		{
			"wrong event type",
			func(id string) []byte {
				p, _ := json.Marshal(map[string]interface{}{
					"id":   id,
					"type": "invoice.paid",
					"data": map[string]interface{}{"object": map[string]string{"id": "in_1"}},
				})
				return p
			},
			IgnoredEventType,
		},
		{
			"subscription mode",
			func(id string) []byte {
				return checkoutEvent(id, "cs_x", "subscription", "paid", "complete")
			},
			IgnoredMode,
		},
		{
			"unpaid session",
			func(id string) []byte {
				return checkoutEvent(id, "cs_x", "payment", "unpaid", "complete")
			},
			IgnoredUnpaid,
		},
		{
			"incomplete session",
			func(id string) []byte {
				return checkoutEvent(id, "cs_x", "payment", "paid", "open")
			},
			IgnoredUnpaid,
		},
		{
			"malformed session object",
			func(id string) []byte {
				p, _ := json.Marshal(map[string]interface{}{
					"id":   id,
					"type": "checkout.session.completed",
					"data": map[string]interface{}{"object": map[string]string{}},
				})
				return p
			},
			IgnoredBadSession,
		},
	}

	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, store, keys := newTestProcessor()
			eventID := fmt.Sprintf("evt_ign_%d", i)

			res := process(t, p, tt.payload(eventID))
			if !res.Received || res.Ignored != tt.wantIgnored {
				t.Fatalf("expected ignored %q, got %+v", tt.wantIgnored, res)
			}

			// Outcome tag recorded
			outcome, err := store.Get(context.Background(), "stripe_evt:"+eventID)
			if err != nil {
				t.Fatalf("replay lock missing: %v", err)
			}
			if outcome != tt.wantIgnored {
				t.Errorf("expected outcome %q, got %q", tt.wantIgnored, outcome)
			}

			// No key minted
			if _, err := keys.KeyForSession(context.Background(), "cs_x"); err == nil {
				t.Error("ignored event must not mint a key")
			}

			// Resubmission is a replay, not reprocessing
			res2 := process(t, p, tt.payload(eventID))
			if !res2.Replay {
				t.Error("resubmitted ignored event must be acknowledged as replay")
			}
		})
	}
}

func TestProcess_DefaultPlanWhenMetadataAbsent(t *testing.T) {
	p, _, keys := newTestProcessor()

	session := map[string]interface{}{
		"id":             "cs_noplan",
		"mode":           "payment",
		"payment_status": "paid",
		"status":         "complete",
	}
	raw, _ := json.Marshal(session)
	payload, _ := json.Marshal(map[string]interface{}{
		"id":   "evt_noplan",
		"type": "checkout.session.completed",
		"data": map[string]interface{}{"object": json.RawMessage(raw)},
	})

	res := process(t, p, payload)
	if res.Ignored != "" || res.Replay {
		t.Fatalf("expected processed, got %+v", res)
	}

	key, _ := keys.KeyForSession(context.Background(), "cs_noplan")
	meta, err := keys.GetMetadata(context.Background(), key)
	if err != nil {
		t.Fatalf("GetMetadata failed: %v", err)
	}
	if meta.Plan != defaultPlan {
		t.Errorf("expected default plan, got %s", meta.Plan)
	}
	if meta.Email != "" {
		t.Errorf("expected empty email, got %s", meta.Email)
	}
}
