package core

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// linkTokenBytes gives a 128-bit token space; collisions are negligible,
// and the share store's unique constraint is the authoritative backstop.
const linkTokenBytes = 16

// IssueLinkToken returns a fresh opaque bearer token, hex-encoded.
func IssueLinkToken() (string, error) {
	buf := make([]byte, linkTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("crypto/rand failure: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
