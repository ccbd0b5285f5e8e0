package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

type collector struct{}

// NewCollector exposes every in-memory counter and gauge to Prometheus.
// Metric names are only known at scrape time, so the collector is unchecked.
func NewCollector() prometheus.Collector {
	return collector{}
}

func (collector) Describe(chan<- *prometheus.Desc) {}

func (collector) Collect(ch chan<- prometheus.Metric) {
	for _, name := range Names() {
		m, err := prometheus.NewConstMetric(
			prometheus.NewDesc(name, "wagate metric "+name, nil, nil),
			prometheus.UntypedValue,
			float64(Get(name)),
		)
		if err != nil {
			continue
		}
		ch <- m
	}
}
