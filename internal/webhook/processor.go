package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/stripe/stripe-go/v81"
	"go.opentelemetry.io/otel/trace"

	"github.com/sartu01/dhkalign-sub001/internal/apikeys"
	"github.com/sartu01/dhkalign-sub001/internal/kv"
	"github.com/sartu01/dhkalign-sub001/internal/metrics"
	"github.com/sartu01/dhkalign-sub001/internal/traces"
)

const (
	replayPrefix = "stripe_evt:"

	// ReplayTTL is how long a settled event ID stays locked. Stripe stops
	// retrying long before this.
	ReplayTTL = 90 * 24 * time.Hour

	// OutcomeProcessed marks an event whose key was minted.
	OutcomeProcessed = "processed"

	defaultPlan = "pro"
)

// Terminal-ignored outcome tags. These conditions never resolve, so the event
// is locked and acknowledged to stop the sender's retries.
const (
	IgnoredEventType  = "ignored:event_type"
	IgnoredBadSession = "ignored:bad_session"
	IgnoredMode       = "ignored:mode"
	IgnoredUnpaid     = "ignored:unpaid"
)

// Errors that map to a 400 at the HTTP surface. Nothing is written to the
// store for these: a bad signature proves nothing, and an event without an ID
// gives the replay lock nothing to key on.
var (
	ErrBadPayload     = errors.New("webhook: unparsable event payload")
	ErrMissingEventID = errors.New("webhook: event missing id")
)

// Result is the acknowledgment returned to the sender. The minted key is
// deliberately never part of it.
type Result struct {
	Received bool   `json:"received"`
	Replay   bool   `json:"replay,omitempty"`
	Ignored  string `json:"ignored,omitempty"`
}

// Processor verifies, deduplicates, and acts on checkout-completion events.
type Processor struct {
	store     kv.Store
	keys      *apikeys.Service
	secret    string
	tolerance time.Duration
	logger    *slog.Logger

	// now is stubbed in tests
	now func() time.Time
}

// NewProcessor creates a webhook processor. Pass tolerance=0 to use
// DefaultTolerance.
func NewProcessor(store kv.Store, keys *apikeys.Service, secret string, tolerance time.Duration, logger *slog.Logger) *Processor {
	if tolerance == 0 {
		tolerance = DefaultTolerance
	}
	return &Processor{
		store:     store,
		keys:      keys,
		secret:    secret,
		tolerance: tolerance,
		logger:    logger,
		now:       time.Now,
	}
}

// Process runs one event through the state machine: verify signature, parse,
// check the replay lock, interpret, act. The replay lock write is always the
// last mutation so a failure between minting and locking leaves the event
// re-processable rather than silently dropping a paid key.
func (p *Processor) Process(ctx context.Context, payload []byte, sigHeader string) (*Result, error) {
	if err := VerifySignature(payload, sigHeader, p.secret, p.tolerance, p.now()); err != nil {
		metrics.WebhookEventsTotal.WithLabelValues("rejected").Inc()
		return nil, err
	}

	var event stripe.Event
	if err := json.Unmarshal(payload, &event); err != nil {
		metrics.WebhookEventsTotal.WithLabelValues("rejected").Inc()
		return nil, fmt.Errorf("%w: %v", ErrBadPayload, err)
	}
	if event.ID == "" {
		metrics.WebhookEventsTotal.WithLabelValues("rejected").Inc()
		return nil, ErrMissingEventID
	}

	ctx, span := traces.StartSpan(ctx, "webhook.process", traces.WebhookEventID(event.ID))
	defer span.End()

	lockKey := replayPrefix + event.ID
	if outcome, err := p.store.Get(ctx, lockKey); err == nil {
		p.logger.Info("webhook replay", "event_id", event.ID, "outcome", outcome)
		span.SetAttributes(traces.WebhookOutcome("replay"))
		metrics.WebhookEventsTotal.WithLabelValues("replay").Inc()
		return &Result{Received: true, Replay: true}, nil
	} else if err != kv.ErrNotFound {
		return nil, fmt.Errorf("check replay lock: %w", err)
	}

	if event.Type != stripe.EventTypeCheckoutSessionCompleted {
		return p.settleIgnored(ctx, span, event.ID, IgnoredEventType)
	}

	if event.Data == nil {
		return p.settleIgnored(ctx, span, event.ID, IgnoredBadSession)
	}
	var session stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil || session.ID == "" {
		return p.settleIgnored(ctx, span, event.ID, IgnoredBadSession)
	}
	if session.Mode != stripe.CheckoutSessionModePayment {
		return p.settleIgnored(ctx, span, event.ID, IgnoredMode)
	}
	if session.PaymentStatus != stripe.CheckoutSessionPaymentStatusPaid ||
		session.Status != stripe.CheckoutSessionStatusComplete {
		return p.settleIgnored(ctx, span, event.ID, IgnoredUnpaid)
	}

	if err := p.mint(ctx, &event, &session); err != nil {
		return nil, err
	}

	won, err := p.store.PutIfAbsent(ctx, lockKey, OutcomeProcessed, ReplayTTL)
	if err != nil {
		// Key records are written; the event stays re-processable.
		return nil, fmt.Errorf("write replay lock: %w", err)
	}
	if !won {
		// A concurrent duplicate delivery settled first. Its key records
		// stand; ours were overwritten or sit unreferenced.
		p.logger.Warn("webhook lost replay-lock race", "event_id", event.ID)
		span.SetAttributes(traces.WebhookOutcome("replay"))
		metrics.WebhookEventsTotal.WithLabelValues("replay").Inc()
		return &Result{Received: true, Replay: true}, nil
	}

	span.SetAttributes(traces.WebhookOutcome(OutcomeProcessed))
	metrics.WebhookEventsTotal.WithLabelValues(OutcomeProcessed).Inc()
	return &Result{Received: true}, nil
}

// mint creates the key and all its records. Ordering matters: gate and
// metadata before the session mapping, all of it before the replay lock.
func (p *Processor) mint(ctx context.Context, event *stripe.Event, session *stripe.CheckoutSession) error {
	key := p.keys.Mint()

	if err := p.keys.Enable(ctx, key); err != nil {
		return fmt.Errorf("write key gate: %w", err)
	}

	meta := &apikeys.Metadata{
		Key:       key,
		Status:    "active",
		Plan:      planFor(session),
		CreatedAt: p.now().UTC(),
		EventID:   event.ID,
		SessionID: session.ID,
	}
	if session.CustomerDetails != nil {
		meta.Email = session.CustomerDetails.Email
	}
	if err := p.keys.PutMetadata(ctx, meta); err != nil {
		return fmt.Errorf("write key metadata: %w", err)
	}

	if err := p.keys.MapSession(ctx, session.ID, key); err != nil {
		return fmt.Errorf("write session mapping: %w", err)
	}

	metrics.KeysMintedTotal.Inc()
	p.logger.Info("api key minted",
		"event_id", event.ID,
		"session_id", session.ID,
		"plan", meta.Plan,
	)
	return nil
}

func (p *Processor) settleIgnored(ctx context.Context, span trace.Span, eventID, reason string) (*Result, error) {
	if _, err := p.store.PutIfAbsent(ctx, replayPrefix+eventID, reason, ReplayTTL); err != nil {
		return nil, fmt.Errorf("write replay lock: %w", err)
	}
	p.logger.Info("webhook ignored", "event_id", eventID, "reason", reason)
	span.SetAttributes(traces.WebhookOutcome(reason))
	metrics.WebhookEventsTotal.WithLabelValues("ignored").Inc()
	return &Result{Received: true, Ignored: reason}, nil
}

func planFor(session *stripe.CheckoutSession) string {
	if plan, ok := session.Metadata["plan"]; ok && plan != "" {
		return plan
	}
	return defaultPlan
}
