package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content-addressed identity.
// Version suffix enables future algorithm migration.
const (
	DomainWatch    = "watchpatch/watch/v1"
	DomainPage     = "watchpatch/page/v1"
	DomainMutation = "watchpatch/mutation/v1"
)

// hashWithDomain computes SHA-256 hash with domain separation.
// Format: SHA256(domain + 0x00 + data)
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// WatchKey computes the cache key of a (query, variables) pair.
// Two watches with the same query text and structurally equal variables
// share one key regardless of variable key order.
func WatchKey(query string, variables IRObject) (string, error) {
	if variables == nil {
		variables = IRObject{}
	}
	canonical, err := MarshalCanonical(IRObject{
		"query":     IRString(query),
		"variables": variables,
	})
	if err != nil {
		return "", fmt.Errorf("WatchKey: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainWatch, canonical), nil
}

// PageDigest hashes a cached page value. Used by replay to check that two
// runs converge on byte-identical cache contents.
func PageDigest(page IRObject) (string, error) {
	canonical, err := MarshalCanonical(page)
	if err != nil {
		return "", fmt.Errorf("PageDigest: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainPage, canonical), nil
}

// MutationDigest hashes a mutation record for idempotent logging.
func MutationDigest(kind, typeName string, document IRValue) (string, error) {
	if document == nil {
		document = IRNull{}
	}
	canonical, err := MarshalCanonical(IRObject{
		"kind":     IRString(kind),
		"type":     IRString(typeName),
		"document": document,
	})
	if err != nil {
		return "", fmt.Errorf("MutationDigest: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainMutation, canonical), nil
}

// MustWatchKey is like WatchKey but panics on error.
// Use only in tests or when inputs are known to be valid.
func MustWatchKey(query string, variables IRObject) string {
	key, err := WatchKey(query, variables)
	if err != nil {
		panic(err)
	}
	return key
}
