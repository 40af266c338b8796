package observability

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// BacklogFunc counts the attempts that are pending or failed.
type BacklogFunc func(ctx context.Context) (float64, error)

// BacklogCollector exports hookline_pending_attempts, read from the store on
// every scrape. All processes sharing a store report the same value.
type BacklogCollector struct {
	desc    *prometheus.Desc
	count   BacklogFunc
	timeout time.Duration
}

// NewBacklogCollector returns a collector calling count with at most timeout
// per scrape.
func NewBacklogCollector(count BacklogFunc, timeout time.Duration) *BacklogCollector {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &BacklogCollector{
		desc: prometheus.NewDesc(
			"hookline_pending_attempts",
			"Attempts in the store that are pending or failed.",
			nil, nil,
		),
		count:   count,
		timeout: timeout,
	}
}

// Describe implements prometheus.Collector.
func (c *BacklogCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.desc
}

// Collect implements prometheus.Collector. A failed count is reported as an
// invalid metric.
func (c *BacklogCollector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	n, err := c.count(ctx)
	if err != nil {
		ch <- prometheus.NewInvalidMetric(c.desc, err)
		return
	}
	ch <- prometheus.MustNewConstMetric(c.desc, prometheus.GaugeValue, n)
}
