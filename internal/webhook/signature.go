// Package webhook authenticates and processes Stripe payment events.
package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// SignatureHeader is the header carrying the Stripe signature.
const SignatureHeader = "Stripe-Signature"

// DefaultTolerance is the accepted clock skew between the signature timestamp
// and the gateway. Both stale and future-dated signatures outside the window
// are rejected, to block replay of captured payloads.
const DefaultTolerance = 300 * time.Second

// Errors
var (
	ErrNoSignature       = errors.New("webhook: missing signature header")
	ErrInvalidHeader     = errors.New("webhook: unparsable signature header")
	ErrOutsideTolerance  = errors.New("webhook: signature timestamp outside tolerance")
	ErrSignatureMismatch = errors.New("webhook: no valid signature found")
)

// VerifySignature checks a Stripe-style signature header against the raw
// payload. The header has the form "t=<unix>,v1=<hex>[,v1=<hex>...]"; the
// expected MAC is HMAC-SHA256(secret, "<t>.<payload>") and is compared
// against each v1 candidate in constant time.
func VerifySignature(payload []byte, header, secret string, tolerance time.Duration, now time.Time) error {
	if header == "" {
		return ErrNoSignature
	}
	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}

	var timestamp int64 = -1
	var candidates [][]byte
	for _, part := range strings.Split(header, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch k {
		case "t":
			ts, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return ErrInvalidHeader
			}
			timestamp = ts
		case "v1":
			sig, err := hex.DecodeString(v)
			if err != nil {
				continue // malformed candidate, skip
			}
			candidates = append(candidates, sig)
		}
	}

	if timestamp < 0 || len(candidates) == 0 {
		return ErrInvalidHeader
	}

	skew := now.Unix() - timestamp
	if skew > int64(tolerance.Seconds()) || -skew > int64(tolerance.Seconds()) {
		return ErrOutsideTolerance
	}

	expected := computeSignature(payload, secret, timestamp)
	for _, candidate := range candidates {
		if hmac.Equal(expected, candidate) {
			return nil
		}
	}
	return ErrSignatureMismatch
}

// Sign produces a signature header for a payload. Used by tests and local
// tooling to exercise the webhook endpoint without Stripe.
func Sign(payload []byte, secret string, at time.Time) string {
	ts := at.Unix()
	sig := computeSignature(payload, secret, ts)
	return fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(sig))
}

func computeSignature(payload []byte, secret string, timestamp int64) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(strconv.FormatInt(timestamp, 10)))
	mac.Write([]byte("."))
	mac.Write(payload)
	return mac.Sum(nil)
}
