// Package token turns the opaque strings embedded in guest and manager links
// into the hashes we store, and back into a yes/no match.
//
// Raw tokens only ever live in the outbound link and the incoming URL path.
package token

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
)

const (
	rawBytes  = 32
	minRawLen = 20
	maxRawLen = 128
)

// Generate returns a new raw token: 32 random bytes, base64url without padding.
func Generate() (string, error) {
	b := make([]byte, rawBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// Hash is the stored form of a raw token: lowercase hex SHA-256.
func Hash(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// Matches reports whether raw hashes to storedHash. Malformed input never matches.
func Matches(raw, storedHash string) bool {
	if !WellFormed(raw) || len(storedHash) != sha256.Size*2 {
		return false
	}
	got := Hash(raw)
	return subtle.ConstantTimeCompare([]byte(got), []byte(storedHash)) == 1
}

// WellFormed is a cheap shape check so obviously bogus path segments never reach the database.
func WellFormed(raw string) bool {
	if len(raw) < minRawLen || len(raw) > maxRawLen {
		return false
	}
	for i := 0; i < len(raw); i++ {
		c := raw[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-', c == '_':
		default:
			return false
		}
	}
	return true
}

// Prefix is a short, non-reversible handle for logs.
func Prefix(raw string) string {
	return Hash(raw)[:12]
}
