// Package util holds small helpers shared across the service layer.
package util

import (
	"crypto/rand"
	"encoding/hex"
)

// NewID returns a random url-safe identifier. A non-empty prefix namespaces
// the id by entity kind ("proj", "sess", "card", ...), which keeps ids
// self-describing in logs and API payloads.
func NewID(prefix string) string {
	var buf [16]byte
	_, _ = rand.Read(buf[:])
	suffix := hex.EncodeToString(buf[:])
	if prefix == "" {
		return suffix
	}
	return prefix + "_" + suffix
}
