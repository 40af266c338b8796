package signature

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// SecretPrefix marks Hookline signing secrets.
const SecretPrefix = "whsec_"

// SecretBytes is the entropy of a generated secret (256 bits).
const SecretBytes = 32

// GenerateSecret returns a new random signing secret: "whsec_" followed by
// 64 hex characters.
func GenerateSecret() (string, error) {
	b := make([]byte, SecretBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("hookline: generate secret: %w", err)
	}
	return SecretPrefix + hex.EncodeToString(b), nil
}
