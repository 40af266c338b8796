package observability

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestNewMetrics_Registers(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	if m.EventsEmittedTotal == nil {
		t.Fatal("EventsEmittedTotal should not be nil")
	}
	if m.DeliveriesTotal == nil {
		t.Fatal("DeliveriesTotal should not be nil")
	}
	if m.DeliveryLatency == nil {
		t.Fatal("DeliveryLatency should not be nil")
	}
	if m.AttemptsCreated == nil {
		t.Fatal("AttemptsCreated should not be nil")
	}
	if m.RateLimitedTotal == nil {
		t.Fatal("RateLimitedTotal should not be nil")
	}
}

func TestRecordDelivery(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.RecordDelivery("delivered", 0.5)
	m.RecordDelivery("delivered", 1.2)
	m.RecordDelivery("failed", 0.3)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}

	found := false
	for _, f := range families {
		if f.GetName() == "hookline_deliveries_total" {
			found = true
			metrics := f.GetMetric()
			if len(metrics) != 2 { // delivered + failed
				t.Fatalf("expected 2 label combinations, got %d", len(metrics))
			}
		}
	}
	if !found {
		t.Fatal("hookline_deliveries_total metric not found")
	}
}

func TestRecordEmitCountsAttempts(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.RecordEmit(3)
	m.RecordEmit(2)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}

	want := map[string]float64{
		"hookline_events_emitted_total":   2,
		"hookline_attempts_created_total": 5,
	}
	for _, f := range families {
		expected, ok := want[f.GetName()]
		if !ok {
			continue
		}
		if val := f.GetMetric()[0].GetCounter().GetValue(); val != expected {
			t.Fatalf("%s: expected %f, got %f", f.GetName(), expected, val)
		}
		delete(want, f.GetName())
	}
	if len(want) > 0 {
		t.Fatalf("metrics not found: %v", want)
	}
}

func TestRecordRateLimited(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.RecordRateLimited("inbound")
	m.RecordRateLimited("inbound")
	m.RecordRateLimited("outbound")

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}

	for _, f := range families {
		if f.GetName() != "hookline_rate_limited_total" {
			continue
		}
		counts := map[string]float64{}
		for _, metric := range f.GetMetric() {
			counts[metric.GetLabel()[0].GetValue()] = metric.GetCounter().GetValue()
		}
		if counts["inbound"] != 2 || counts["outbound"] != 1 {
			t.Fatalf("unexpected counts: %v", counts)
		}
		return
	}
	t.Fatal("hookline_rate_limited_total metric not found")
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.RecordEmit(1)
	m.RecordDelivery("delivered", 0.1)
	m.RecordRateLimited("inbound")
}
