package delivery_test

import (
	"context"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/xraph/hookline/delivery"
)

func TestSchedulerSweepsDueAttempts(t *testing.T) {
	var hits atomic.Int32
	f := newFixture(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	e := f.engine("w1", nil, nil)
	a := f.enqueue(t)

	s := delivery.NewScheduler(e, 20*time.Millisecond, nil)
	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	deadline := time.After(3 * time.Second)
	for {
		if f.get(t, a).Status == delivery.StatusDelivered {
			break
		}
		select {
		case <-deadline:
			t.Fatal("timeout waiting for scheduled delivery")
		case <-time.After(10 * time.Millisecond):
		}
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Stop(stopCtx); err != nil {
		t.Fatal(err)
	}
	if hits.Load() != 1 {
		t.Fatalf("expected 1 request, got %d", hits.Load())
	}
}

func TestSchedulerStartErrors(t *testing.T) {
	f := newFixture(t, http.NotFoundHandler())
	e := f.engine("w1", nil, nil)

	if err := delivery.NewScheduler(e, 0, nil).Start(context.Background()); err == nil {
		t.Fatal("expected error for zero interval")
	}

	s := delivery.NewScheduler(e, time.Second, nil)
	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer s.Stop(context.Background())
	if err := s.Start(context.Background()); err == nil {
		t.Fatal("expected error on second Start")
	}
}

func TestSchedulerStopWithoutStart(t *testing.T) {
	f := newFixture(t, http.NotFoundHandler())
	s := delivery.NewScheduler(f.engine("w1", nil, nil), time.Second, nil)
	if err := s.Stop(context.Background()); err != nil {
		t.Fatal(err)
	}
}
