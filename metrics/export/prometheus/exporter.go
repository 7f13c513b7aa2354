package prometheus

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/azora-os/azauth"
	"github.com/azora-os/azauth/metrics/export/internaldefs"
)

// Source is what the collector reads on every scrape. *azauth.Engine
// satisfies it.
type Source interface {
	MetricsSnapshot() azauth.MetricsSnapshot
	AuditDropped() uint64
}

type counterDesc struct {
	id   azauth.MetricID
	desc *prometheus.Desc
}

// Collector exposes engine counters as const metrics. It keeps no state of
// its own, so a scrape always reflects the current snapshot.
type Collector struct {
	source   Source
	counters []counterDesc
	latency  *prometheus.Desc
	dropped  *prometheus.Desc
	bounds   []float64
}

func NewCollector(source Source) *Collector {
	c := &Collector{
		source:   source,
		counters: make([]counterDesc, 0, len(internaldefs.Counters)),
		latency:  prometheus.NewDesc(internaldefs.ValidateLatencyName, internaldefs.ValidateLatencyHelp, nil, nil),
		dropped:  prometheus.NewDesc(internaldefs.AuditDroppedName, internaldefs.AuditDroppedHelp, nil, nil),
		bounds:   internaldefs.UpperBounds(),
	}
	for _, def := range internaldefs.Counters {
		c.counters = append(c.counters, counterDesc{
			id:   def.ID,
			desc: prometheus.NewDesc(def.Name, def.Help, nil, nil),
		})
	}
	return c
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, cd := range c.counters {
		ch <- cd.desc
	}
	ch <- c.latency
	ch <- c.dropped
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	snap := c.source.MetricsSnapshot()
	for _, cd := range c.counters {
		ch <- prometheus.MustNewConstMetric(cd.desc, prometheus.CounterValue, float64(snap.Counters[cd.id]))
	}

	if raw, ok := snap.Histograms[azauth.MetricValidateLatency]; ok {
		cumulative := internaldefs.Cumulative(raw)
		buckets := make(map[float64]uint64, len(c.bounds))
		for i, le := range c.bounds {
			buckets[le] = cumulative[i]
		}
		// Only bucket counts are tracked, so the sum is reported as zero.
		ch <- prometheus.MustNewConstHistogram(c.latency, cumulative[len(cumulative)-1], 0, buckets)
	}

	ch <- prometheus.MustNewConstMetric(c.dropped, prometheus.CounterValue, float64(c.source.AuditDropped()))
}

// Handler registers a new Collector on a private registry, together with the
// Go runtime and process collectors, and serves it.
func Handler(source Source) (http.Handler, error) {
	reg := prometheus.NewRegistry()
	if err := reg.Register(NewCollector(source)); err != nil {
		return nil, err
	}
	if err := reg.Register(prometheus.NewGoCollector()); err != nil {
		return nil, err
	}
	if err := reg.Register(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{})); err != nil {
		return nil, err
	}
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{}), nil
}
