package otel

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel/metric"

	"github.com/azora-os/azauth"
	"github.com/azora-os/azauth/metrics/export/internaldefs"
)

var (
	ErrNilMeter  = errors.New("otel exporter: nil meter")
	ErrNilSource = errors.New("otel exporter: nil metrics source")
)

// Source is what the exporter observes. *azauth.Engine satisfies it.
type Source interface {
	MetricsSnapshot() azauth.MetricsSnapshot
	AuditDropped() uint64
}

type observedCounter struct {
	id         azauth.MetricID
	instrument metric.Int64ObservableCounter
}

// Exporter mirrors engine counters into OpenTelemetry observable
// instruments. The latency histogram becomes one gauge per cumulative
// bucket plus a count gauge.
type Exporter struct {
	source       Source
	registration metric.Registration
	counters     []observedCounter
	buckets      []metric.Int64ObservableGauge
	count        metric.Int64ObservableGauge
	auditDropped metric.Int64ObservableCounter
}

func New(meter metric.Meter, source Source) (*Exporter, error) {
	if meter == nil {
		return nil, ErrNilMeter
	}
	if source == nil {
		return nil, ErrNilSource
	}

	e := &Exporter{
		source:   source,
		counters: make([]observedCounter, 0, len(internaldefs.Counters)),
	}
	observables := make([]metric.Observable, 0, len(internaldefs.Counters)+len(azauth.HistogramBounds)+3)

	for _, def := range internaldefs.Counters {
		ins, err := meter.Int64ObservableCounter(def.Name, metric.WithDescription(def.Help))
		if err != nil {
			return nil, fmt.Errorf("create counter %s: %w", def.Name, err)
		}
		e.counters = append(e.counters, observedCounter{id: def.ID, instrument: ins})
		observables = append(observables, ins)
	}

	for _, suffix := range bucketSuffixes() {
		name := internaldefs.ValidateLatencyName + "_bucket_le_" + suffix
		ins, err := meter.Int64ObservableGauge(name, metric.WithDescription("Cumulative validation latency bucket."))
		if err != nil {
			return nil, fmt.Errorf("create gauge %s: %w", name, err)
		}
		e.buckets = append(e.buckets, ins)
		observables = append(observables, ins)
	}

	count, err := meter.Int64ObservableGauge(internaldefs.ValidateLatencyName+"_count",
		metric.WithDescription("Validation latency sample count."))
	if err != nil {
		return nil, fmt.Errorf("create latency count gauge: %w", err)
	}
	e.count = count
	observables = append(observables, count)

	dropped, err := meter.Int64ObservableCounter(internaldefs.AuditDroppedName,
		metric.WithDescription(internaldefs.AuditDroppedHelp))
	if err != nil {
		return nil, fmt.Errorf("create audit dropped counter: %w", err)
	}
	e.auditDropped = dropped
	observables = append(observables, dropped)

	reg, err := meter.RegisterCallback(e.observe, observables...)
	if err != nil {
		return nil, fmt.Errorf("register callback: %w", err)
	}
	e.registration = reg
	return e, nil
}

func (e *Exporter) observe(_ context.Context, o metric.Observer) error {
	snap := e.source.MetricsSnapshot()
	for _, c := range e.counters {
		o.ObserveInt64(c.instrument, int64(snap.Counters[c.id]))
	}
	if raw, ok := snap.Histograms[azauth.MetricValidateLatency]; ok {
		cumulative := internaldefs.Cumulative(raw)
		for i, g := range e.buckets {
			o.ObserveInt64(g, int64(cumulative[i]))
		}
		o.ObserveInt64(e.count, int64(cumulative[len(cumulative)-1]))
	}
	o.ObserveInt64(e.auditDropped, int64(e.source.AuditDropped()))
	return nil
}

// Close unregisters the callback. The instruments stay with the meter.
func (e *Exporter) Close() error {
	if e == nil || e.registration == nil {
		return nil
	}
	return e.registration.Unregister()
}

// bucketSuffixes renders bounds as metric-name safe strings, e.g. 0_005.
func bucketSuffixes() []string {
	bounds := internaldefs.UpperBounds()
	out := make([]string, 0, len(bounds)+1)
	for _, b := range bounds {
		out = append(out, strings.ReplaceAll(strconv.FormatFloat(b, 'f', -1, 64), ".", "_"))
	}
	return append(out, "inf")
}
