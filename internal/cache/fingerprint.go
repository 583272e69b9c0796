// Package cache implements the edge response cache: deterministic request
// fingerprints and TTL-bounded storage of full response snapshots.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"net/http"
)

// Fingerprint derives the canonical cache key for a request.
//
// The canonical form is METHOD:PATH?QUERY[:body=BODYHASH], where BODYHASH is
// the SHA-256 of the raw body for methods that carry one. The query string is
// taken as presented; callers that reorder parameters get separate entries.
func Fingerprint(method, path, rawQuery string, body []byte) string {
	canonical := method + ":" + path + "?" + rawQuery
	if methodHasBody(method) {
		sum := sha256.Sum256(body)
		canonical += ":body=" + hex.EncodeToString(sum[:])
	}
	sum := sha256.Sum256([]byte(canonical))
	return hex.EncodeToString(sum[:])
}

func methodHasBody(method string) bool {
	return method != http.MethodGet && method != http.MethodHead
}
