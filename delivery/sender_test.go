package delivery_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/xraph/hookline/delivery"
	"github.com/xraph/hookline/signature"
)

const testSecret = "whsec_test_secret_1234567890abcdef1234567890abcdef"

func newTestAttempt() *delivery.Attempt {
	return &delivery.Attempt{
		ID:          uuid.Must(uuid.NewV7()),
		TenantID:    "tenant-1",
		EventType:   "quest.completed",
		Payload:     []byte(`{"event":"quest.completed","timestamp":"2026-03-01T12:00:00Z","data":{"quest_id":"q1"},"tenant_id":"tenant-1"}`),
		Status:      delivery.StatusPending,
		MaxAttempts: 5,
	}
}

func TestSenderHappyPath(t *testing.T) {
	var receivedHeaders http.Header
	var receivedBody string

	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		receivedHeaders = r.Header
		bodyBytes, err := io.ReadAll(r.Body)
		if err != nil {
			t.Error(err)
		}
		receivedBody = string(bodyBytes)
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	sender := delivery.NewSender(5*time.Second, delivery.WithHTTPClient(srv.Client()))
	a := newTestAttempt()

	result := sender.Send(context.Background(), srv.URL, testSecret, a)

	if result.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", result.StatusCode)
	}
	if result.Error != "" {
		t.Fatalf("unexpected error: %s", result.Error)
	}
	if result.Response != `{"ok":true}` {
		t.Fatalf("unexpected response: %s", result.Response)
	}
	if !result.OK() {
		t.Fatal("expected OK result")
	}

	if receivedBody != string(a.Payload) {
		t.Fatalf("body must be the stored payload verbatim, got %s", receivedBody)
	}
	if got := receivedHeaders.Get("Content-Type"); got != "application/json" {
		t.Fatalf("Content-Type = %q", got)
	}
	if got := receivedHeaders.Get("User-Agent"); got != "Hookline/1.0" {
		t.Fatalf("User-Agent = %q", got)
	}
	if got := receivedHeaders.Get("X-Event-Type"); got != "quest.completed" {
		t.Fatalf("X-Event-Type = %q", got)
	}
	if got := receivedHeaders.Get("X-Delivery-Id"); got != a.ID.String() {
		t.Fatalf("X-Delivery-Id = %q, want %s", got, a.ID)
	}
	if got := receivedHeaders.Get("X-Signature"); !strings.HasPrefix(got, "sha256=") {
		t.Fatalf("X-Signature = %q", got)
	}
}

func TestSenderVerifiesSignature(t *testing.T) {
	var verified bool

	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		verified = signature.Verify(testSecret, body, r.Header.Get("X-Signature"))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	sender := delivery.NewSender(5*time.Second, delivery.WithHTTPClient(srv.Client()))
	sender.Send(context.Background(), srv.URL, testSecret, newTestAttempt())

	if !verified {
		t.Fatal("receiver could not verify the signature")
	}
}

func TestSenderTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	sender := delivery.NewSender(100*time.Millisecond, delivery.WithHTTPClient(srv.Client()))
	result := sender.Send(context.Background(), srv.URL, testSecret, newTestAttempt())

	if result.Error == "" {
		t.Fatal("expected timeout error")
	}
	if result.StatusCode != 0 {
		t.Fatalf("expected no status code, got %d", result.StatusCode)
	}
	if result.OK() {
		t.Fatal("timeout must not be OK")
	}
}

func TestSenderConnectionRefused(t *testing.T) {
	sender := delivery.NewSender(time.Second)
	result := sender.Send(context.Background(), "https://127.0.0.1:1/hook", testSecret, newTestAttempt())

	if result.Error == "" {
		t.Fatal("expected connection error")
	}
	if result.StatusCode != 0 {
		t.Fatalf("expected status 0, got %d", result.StatusCode)
	}
}

func TestSenderServerError(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(strings.Repeat("x", 4096)))
	}))
	defer srv.Close()

	sender := delivery.NewSender(5*time.Second, delivery.WithHTTPClient(srv.Client()))
	result := sender.Send(context.Background(), srv.URL, testSecret, newTestAttempt())

	if result.StatusCode != 500 {
		t.Fatalf("expected 500, got %d", result.StatusCode)
	}
	if result.Error != "unexpected status 500" {
		t.Fatalf("unexpected error text: %q", result.Error)
	}
	if len(result.Response) != 1024 {
		t.Fatalf("response should be capped at 1KB, got %d bytes", len(result.Response))
	}
}
