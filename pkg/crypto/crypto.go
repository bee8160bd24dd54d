// Package crypto provides bearer token generation and hashing.
//
// Raw tokens are shown once at creation time; only their SHA-256 hash is
// stored, so a leaked database does not leak usable credentials.
package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"
)

// GenerateToken generates a random token string (32 bytes, hex-encoded).
func GenerateToken() (string, error) {
	b := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, b); err != nil {
		return "", fmt.Errorf("crypto: generate token: %w", err)
	}
	return fmt.Sprintf("%x", b), nil
}

// HashToken hashes a raw token string with SHA-256.
func HashToken(token string) string {
	h := sha256.Sum256([]byte(token))
	return fmt.Sprintf("%x", h[:])
}
