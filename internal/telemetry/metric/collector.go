package metric

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// CountSource returns the current number of records per label value.
type CountSource func(ctx context.Context) (map[string]int, error)

// Collector reports save record counts at scrape time.
type Collector struct {
	desc   *prometheus.Desc
	errors prometheus.Counter
	source CountSource
}

// NewCollector creates a collector backed by source.
func NewCollector(source CountSource) *Collector {
	return &Collector{
		desc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "saves", "records"),
			"Stored save records per category",
			[]string{"category"}, nil,
		),
		errors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "saves",
			Name:      "records_scrape_errors_total",
			Help:      "Failed reads while collecting save record counts",
		}),
		source: source,
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.desc
	c.errors.Describe(ch)
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	counts, err := c.source(ctx)
	if err != nil {
		c.errors.Inc()
	}
	for label, n := range counts {
		ch <- prometheus.MustNewConstMetric(c.desc, prometheus.GaugeValue, float64(n), label)
	}
	c.errors.Collect(ch)
}

// RegisterRecordCounts registers a Collector for source.
func (r *Registry) RegisterRecordCounts(source CountSource) error {
	if r == nil {
		return nil
	}
	return r.reg.Register(NewCollector(source))
}
