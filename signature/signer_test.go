package signature_test

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"testing"

	"github.com/xraph/hookline/signature"
)

func TestSignKnownVector(t *testing.T) {
	payload := []byte(`{"event":"quest.completed","timestamp":"2024-01-01T00:00:00Z","data":{"quest_id":"q1"},"tenant_id":"t1"}`)
	secret := "whsec_testsecret123"

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	want := hex.EncodeToString(mac.Sum(nil))

	if got := signature.Sign(secret, payload); got != want {
		t.Errorf("Sign() = %q, want %q", got, want)
	}
	if got := signature.Header(secret, payload); got != "sha256="+want {
		t.Errorf("Header() = %q, want sha256=%s", got, want)
	}
}

func TestSignVerifyRoundTrip(t *testing.T) {
	payloads := [][]byte{
		nil,
		[]byte(""),
		[]byte(`{}`),
		[]byte(`{"quest_id":"q1","user_id":"u1"}`),
		[]byte(strings.Repeat("x", 1<<16)),
	}
	secret := "whsec_roundtrip"

	for _, p := range payloads {
		if !signature.Verify(secret, p, signature.Sign(secret, p)) {
			t.Errorf("Verify(bare) = false for payload of len %d", len(p))
		}
		if !signature.Verify(secret, p, signature.Header(secret, p)) {
			t.Errorf("Verify(header) = false for payload of len %d", len(p))
		}
	}
}

func TestVerifyTamperedPayload(t *testing.T) {
	secret := "whsec_tamper"
	orig := []byte(`{"original":true}`)
	sig := signature.Sign(secret, orig)

	for _, p := range [][]byte{
		[]byte(`{"original":false}`),
		[]byte(`{"original":true} `),
		[]byte(`{"original": true}`),
	} {
		if signature.Verify(secret, p, sig) {
			t.Errorf("Verify() = true for tampered payload %q", p)
		}
	}
}

func TestVerifyWrongSecret(t *testing.T) {
	payload := []byte(`{"data":"value"}`)
	sig := signature.Sign("whsec_correct", payload)

	if signature.Verify("whsec_wrong", payload, sig) {
		t.Error("Verify() = true for wrong secret")
	}
}

func TestVerifyRejectsGarbage(t *testing.T) {
	payload := []byte(`{}`)
	for _, c := range []string{"", "zz", "sha1=abcd", "sha256=", "sha256=nothex", "v1=" + signature.Sign("s", payload)} {
		if signature.Verify("s", payload, c) {
			t.Errorf("Verify() = true for candidate %q", c)
		}
	}
}

func TestVerifyIgnoresHexCase(t *testing.T) {
	payload := []byte(`{"a":1}`)
	sig := strings.ToUpper(signature.Sign("s", payload))
	if !signature.Verify("s", payload, sig) {
		t.Error("Verify() = false for upper-case digest")
	}
}

func TestParseHeader(t *testing.T) {
	digest := signature.Sign("s", []byte("x"))

	got, err := signature.ParseHeader("sha256=" + digest)
	if err != nil || got != digest {
		t.Fatalf("ParseHeader() = %q, %v", got, err)
	}

	if _, err := signature.ParseHeader("v1=" + digest); !errors.Is(err, signature.ErrMalformedHeader) {
		t.Errorf("expected ErrMalformedHeader, got %v", err)
	}
}

func TestSignerBindsSecret(t *testing.T) {
	s := signature.NewSigner("whsec_bound")
	payload := []byte(`{"k":"v"}`)

	if s.Sign(payload) != signature.Sign("whsec_bound", payload) {
		t.Error("Signer.Sign differs from Sign")
	}
	if !s.Verify(payload, s.Header(payload)) {
		t.Error("Signer.Verify rejected its own header")
	}
	if signature.NewSigner("other").Verify(payload, s.Sign(payload)) {
		t.Error("different secret verified")
	}
}
