// Package security implements the authentication and encryption primitives
// the hub relies on: gateway bearer-token verification, browser session
// cookies, and at-rest encryption of provider credentials.
package security

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
)

// ErrInvalidGatewayToken is returned when a presented gateway bearer token
// does not match the stored salted hash.
var ErrInvalidGatewayToken = errors.New("security: invalid gateway token")

// GenerateGatewayToken mints a fresh 256-bit bearer token for a newly
// attached gateway. The plaintext is returned exactly once to the caller
// (for display to the operator); only its hash is ever persisted.
func GenerateGatewayToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("security: generate gateway token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// HashGatewayToken derives the value stored in the gateways table for a
// freshly minted bearer token, as an HMAC-SHA256 keyed by salt. Callers pass
// the process-wide gateway_token_salt, so the key is the same for every
// gateway.
func HashGatewayToken(plaintext, salt string) string {
	mac := hmac.New(sha256.New, []byte(salt))
	mac.Write([]byte(plaintext))
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyGatewayToken recomputes the keyed MAC of the presented plaintext and
// compares it to storedHash in constant time, so that a timing side channel
// cannot be used to recover the token byte by byte.
func VerifyGatewayToken(plaintext, salt, storedHash string) error {
	got := HashGatewayToken(plaintext, salt)
	if subtle.ConstantTimeCompare([]byte(got), []byte(storedHash)) != 1 {
		return ErrInvalidGatewayToken
	}
	return nil
}
