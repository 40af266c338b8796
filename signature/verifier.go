package signature

import (
	"crypto/hmac"
	"encoding/hex"
	"strings"
)

// Verify recomputes the digest of payload and compares it with candidate in
// constant time. candidate may be a bare hex digest or a "sha256=<hex>" header
// value. Hex case is ignored.
func Verify(secret string, payload []byte, candidate string) bool {
	if strings.Contains(candidate, "=") {
		digest, err := ParseHeader(candidate)
		if err != nil {
			return false
		}
		candidate = digest
	}

	got, err := hex.DecodeString(candidate)
	if err != nil {
		return false
	}
	want, _ := hex.DecodeString(Sign(secret, payload))
	return hmac.Equal(want, got)
}
