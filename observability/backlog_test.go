package observability

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestBacklogCollectorReadsOnScrape(t *testing.T) {
	var n float64
	c := NewBacklogCollector(func(context.Context) (float64, error) {
		return n, nil
	}, time.Second)

	n = 7
	if got := testutil.ToFloat64(c); got != 7 {
		t.Fatalf("expected 7, got %f", got)
	}

	// A process that only finishes attempts never reports a negative backlog.
	n = 0
	if got := testutil.ToFloat64(c); got != 0 {
		t.Fatalf("expected 0, got %f", got)
	}
}

func TestBacklogCollectorReportsErrors(t *testing.T) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(NewBacklogCollector(func(context.Context) (float64, error) {
		return 0, errors.New("store unavailable")
	}, time.Second))

	if _, err := reg.Gather(); err == nil {
		t.Fatal("expected gather to report the count error")
	}
}
