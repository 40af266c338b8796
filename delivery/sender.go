package delivery

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/xraph/hookline/signature"
)

const maxResponseBody = 1024 // 1KB cap on response body storage

// Outbound request headers.
const (
	HeaderEventType  = "X-Event-Type"
	HeaderDeliveryID = "X-Delivery-Id"
	userAgent        = "Hookline/1.0"
)

// Sender performs the HTTP POST of a try.
type Sender struct {
	client  *http.Client
	timeout time.Duration
}

// SenderOption configures a Sender.
type SenderOption func(*Sender)

// WithHTTPClient replaces the default client. The per-try timeout still
// applies through the request context.
func WithHTTPClient(c *http.Client) SenderOption {
	return func(s *Sender) { s.client = c }
}

// NewSender creates a sender bounding every request by timeout.
func NewSender(timeout time.Duration, opts ...SenderOption) *Sender {
	s := &Sender{
		client:  &http.Client{Timeout: timeout},
		timeout: timeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Send signs the attempt's payload with secret and POSTs it to url.
func (s *Sender) Send(ctx context.Context, url, secret string, a *Attempt) Result {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(a.Payload))
	if err != nil {
		return Result{Error: fmt.Sprintf("create request: %v", err)}
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set(signature.HeaderName, signature.Header(secret, a.Payload))
	req.Header.Set(HeaderEventType, a.EventType)
	req.Header.Set(HeaderDeliveryID, a.ID.String())

	start := time.Now()
	resp, err := s.client.Do(req) //nolint:gosec // G704: destinations are tenant-configured webhook URLs.
	latency := time.Since(start).Milliseconds()

	if err != nil {
		return Result{
			Error:     err.Error(),
			LatencyMs: int(latency),
		}
	}
	defer resp.Body.Close()

	respBody, readErr := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if readErr != nil {
		return Result{
			StatusCode: resp.StatusCode,
			Error:      fmt.Sprintf("read response: %v", readErr),
			LatencyMs:  int(latency),
		}
	}

	res := Result{
		StatusCode: resp.StatusCode,
		Response:   string(respBody),
		LatencyMs:  int(latency),
	}
	if !res.OK() {
		res.Error = fmt.Sprintf("unexpected status %d", resp.StatusCode)
	}
	return res
}
