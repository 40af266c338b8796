// Package signature provides HMAC-SHA256 signing and verification of webhook bodies.
//
// The digest covers the exact bytes placed on the wire. Callers must sign
// after serialization and transmit the signed bytes unchanged.
package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
)

// Scheme is the algorithm label used in the signature header.
const Scheme = "sha256"

// HeaderName is the HTTP header that carries the signature.
const HeaderName = "X-Signature"

// ErrMalformedHeader is returned by ParseHeader for values that are not "sha256=<hex>".
var ErrMalformedHeader = errors.New("hookline: malformed signature header")

// Sign returns the lowercase hex HMAC-SHA256 of payload keyed by secret.
func Sign(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// Header returns the signature in header form: "sha256=<hex>".
func Header(secret string, payload []byte) string {
	return Scheme + "=" + Sign(secret, payload)
}

// ParseHeader extracts the hex digest from a "sha256=<hex>" header value.
func ParseHeader(v string) (string, error) {
	scheme, digest, ok := strings.Cut(strings.TrimSpace(v), "=")
	if !ok || scheme != Scheme || digest == "" {
		return "", ErrMalformedHeader
	}
	if _, err := hex.DecodeString(digest); err != nil {
		return "", ErrMalformedHeader
	}
	return digest, nil
}

// Signer binds a secret so callers can sign and verify without passing it around.
type Signer struct {
	secret string
}

// NewSigner returns a Signer for secret.
func NewSigner(secret string) Signer {
	return Signer{secret: secret}
}

// Sign returns the hex digest of payload.
func (s Signer) Sign(payload []byte) string { return Sign(s.secret, payload) }

// Header returns the "sha256=<hex>" header value for payload.
func (s Signer) Header(payload []byte) string { return Header(s.secret, payload) }

// Verify reports whether candidate is the signature of payload.
func (s Signer) Verify(payload []byte, candidate string) bool {
	return Verify(s.secret, payload, candidate)
}
