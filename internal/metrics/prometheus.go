package metrics

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Namespace prefixes every exported Prometheus metric.
const Namespace = "idlecache"

// gauges are reported as gauges; every other key is a counter.
var gauges = map[MetricKey]bool{
	CacheKeysTotal: true,
}

var _ prometheus.Collector = (*Registry)(nil)

// Describe is intentionally empty: the key set grows at runtime, which makes
// this an unchecked collector.
func (r *Registry) Describe(chan<- *prometheus.Desc) {}

// Collect exports every registered counter as idlecache_<key>.
func (r *Registry) Collect(ch chan<- prometheus.Metric) {
	for _, s := range r.Samples() {
		valueType := prometheus.CounterValue
		if gauges[s.Key] {
			valueType = prometheus.GaugeValue
		}

		desc := prometheus.NewDesc(
			prometheus.BuildFQName(Namespace, "", sanitize(string(s.Key))),
			"idle-cache "+strings.ReplaceAll(string(s.Key), "_", " "),
			nil, nil,
		)
		ch <- prometheus.MustNewConstMetric(desc, valueType, float64(s.Value))
	}
}

// NewPrometheusRegistry returns a Prometheus registry exposing r alongside
// the standard Go and process collectors.
func NewPrometheusRegistry(r *Registry) *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		r,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

func sanitize(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			return r
		}
		return '_'
	}, name)
}
