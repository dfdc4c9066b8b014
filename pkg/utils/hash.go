package utils

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// StableHash returns the hex sha256 of the canonical JSON encoding of v.
// encoding/json writes map keys in sorted order at every depth, so two maps holding the
// same entries hash identically regardless of how they were built.
func StableHash(v any) (string, error) {
	bz, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("stable hash: %w", err)
	}
	sum := sha256.Sum256(bz)
	return hex.EncodeToString(sum[:]), nil
}

// ShortHash returns the first n characters of h (or h itself when shorter).
func ShortHash(h string, n int) string {
	if len(h) <= n {
		return h
	}
	return h[:n]
}
