package delivery_test

import (
	"testing"
	"time"

	"github.com/xraph/hookline/delivery"
)

func TestRetrierDecide(t *testing.T) {
	retrier := delivery.NewRetrier(time.Minute, 16*time.Minute)

	tests := []struct {
		name    string
		result  delivery.Result
		attempt *delivery.Attempt
		want    delivery.Decision
	}{
		{
			name:    "200 OK → Delivered",
			result:  delivery.Result{StatusCode: 200},
			attempt: &delivery.Attempt{AttemptCount: 1, MaxAttempts: 5},
			want:    delivery.Delivered,
		},
		{
			name:    "204 No Content → Delivered",
			result:  delivery.Result{StatusCode: 204},
			attempt: &delivery.Attempt{AttemptCount: 1, MaxAttempts: 5},
			want:    delivery.Delivered,
		},
		{
			name:    "200 on the last try → Delivered",
			result:  delivery.Result{StatusCode: 200},
			attempt: &delivery.Attempt{AttemptCount: 5, MaxAttempts: 5},
			want:    delivery.Delivered,
		},
		{
			name:    "301 redirect → Retry",
			result:  delivery.Result{StatusCode: 301},
			attempt: &delivery.Attempt{AttemptCount: 1, MaxAttempts: 5},
			want:    delivery.Retry,
		},
		{
			name:    "400 Bad Request → Retry",
			result:  delivery.Result{StatusCode: 400},
			attempt: &delivery.Attempt{AttemptCount: 1, MaxAttempts: 5},
			want:    delivery.Retry,
		},
		{
			name:    "410 Gone → Retry",
			result:  delivery.Result{StatusCode: 410},
			attempt: &delivery.Attempt{AttemptCount: 2, MaxAttempts: 5},
			want:    delivery.Retry,
		},
		{
			name:    "500 → Retry",
			result:  delivery.Result{StatusCode: 500},
			attempt: &delivery.Attempt{AttemptCount: 4, MaxAttempts: 5},
			want:    delivery.Retry,
		},
		{
			name:    "500 on the last try → Exhaust",
			result:  delivery.Result{StatusCode: 500},
			attempt: &delivery.Attempt{AttemptCount: 5, MaxAttempts: 5},
			want:    delivery.Exhaust,
		},
		{
			name:    "connection error → Retry",
			result:  delivery.Result{Error: "connection refused"},
			attempt: &delivery.Attempt{AttemptCount: 1, MaxAttempts: 5},
			want:    delivery.Retry,
		},
		{
			name:    "rate limited → Retry",
			result:  delivery.Result{RateLimited: true, Error: "hookline: rate limited"},
			attempt: &delivery.Attempt{AttemptCount: 3, MaxAttempts: 5},
			want:    delivery.Retry,
		},
		{
			name:    "rate limited on the last try → Exhaust",
			result:  delivery.Result{RateLimited: true, Error: "hookline: rate limited"},
			attempt: &delivery.Attempt{AttemptCount: 5, MaxAttempts: 5},
			want:    delivery.Exhaust,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := retrier.Decide(tt.result, tt.attempt)
			if got != tt.want {
				t.Errorf("Decide() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestRetrierBackoffDoubles(t *testing.T) {
	retrier := delivery.NewRetrier(time.Minute, 16*time.Minute)

	want := []time.Duration{
		1 * time.Minute,
		2 * time.Minute,
		4 * time.Minute,
		8 * time.Minute,
		16 * time.Minute,
		16 * time.Minute,
		16 * time.Minute,
	}
	for i, w := range want {
		if got := retrier.Backoff(i + 1); got != w {
			t.Errorf("Backoff(%d) = %v, want %v", i+1, got, w)
		}
	}
	if got := retrier.Backoff(0); got != time.Minute {
		t.Errorf("Backoff(0) = %v, want base", got)
	}
}

func TestRetrierBackoffUncapped(t *testing.T) {
	retrier := delivery.NewRetrier(time.Second, 0)
	if got := retrier.Backoff(11); got != 1024*time.Second {
		t.Fatalf("Backoff(11) = %v, want 1024s", got)
	}
}

func TestRetrierNextRetry(t *testing.T) {
	retrier := delivery.NewRetrier(time.Minute, 16*time.Minute)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	if got := retrier.NextRetry(now, 3); !got.Equal(now.Add(4 * time.Minute)) {
		t.Fatalf("NextRetry = %v", got)
	}
}

func TestResultErr(t *testing.T) {
	if err := (delivery.Result{StatusCode: 200}).Err(); err != nil {
		t.Fatalf("2xx should not be an error, got %v", err)
	}
	if err := (delivery.Result{StatusCode: 503}).Err(); err != delivery.ErrTransient {
		t.Fatalf("expected ErrTransient, got %v", err)
	}
	if err := (delivery.Result{RateLimited: true}).Err(); err == nil || err == delivery.ErrTransient {
		t.Fatalf("expected rate limit error, got %v", err)
	}
}
