package otel

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/azora-os/azauth"
)

type fakeSource struct {
	mu       sync.RWMutex
	counters map[azauth.MetricID]uint64
	latency  []uint64
	dropped  uint64
}

func (f *fakeSource) MetricsSnapshot() azauth.MetricsSnapshot {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := azauth.MetricsSnapshot{
		Counters:   make(map[azauth.MetricID]uint64, len(f.counters)),
		Histograms: map[azauth.MetricID][]uint64{},
	}
	for k, v := range f.counters {
		out.Counters[k] = v
	}
	if f.latency != nil {
		out.Histograms[azauth.MetricValidateLatency] = append([]uint64(nil), f.latency...)
	}
	return out
}

func (f *fakeSource) AuditDropped() uint64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.dropped
}

func newReader() (*sdkmetric.ManualReader, *sdkmetric.MeterProvider) {
	reader := sdkmetric.NewManualReader()
	return reader, sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	out := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			switch data := m.Data.(type) {
			case metricdata.Sum[int64]:
				for _, dp := range data.DataPoints {
					out[m.Name] = dp.Value
				}
			case metricdata.Gauge[int64]:
				for _, dp := range data.DataPoints {
					out[m.Name] = dp.Value
				}
			}
		}
	}
	return out
}

func TestExporterCollects(t *testing.T) {
	reader, provider := newReader()
	src := &fakeSource{
		counters: map[azauth.MetricID]uint64{azauth.MetricLoginSuccess: 3},
		latency:  []uint64{1, 1, 1, 1, 1, 1, 1, 1},
		dropped:  1,
	}

	exp, err := New(provider.Meter("azauth-test"), src)
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, exp.Close()) })

	got := collect(t, reader)
	assert.Equal(t, int64(3), got["azauth_login_success_total"])
	assert.Equal(t, int64(1), got["azauth_audit_dropped_total"])
	assert.Equal(t, int64(1), got["azauth_validate_latency_seconds_bucket_le_0_005"])
	assert.Equal(t, int64(8), got["azauth_validate_latency_seconds_bucket_le_inf"])
	assert.Equal(t, int64(8), got["azauth_validate_latency_seconds_count"])
}

func TestExporterRejectsNilArguments(t *testing.T) {
	_, provider := newReader()

	_, err := New(nil, &fakeSource{})
	assert.ErrorIs(t, err, ErrNilMeter)

	_, err = New(provider.Meter("azauth-test"), nil)
	assert.ErrorIs(t, err, ErrNilSource)
}

func TestExporterConcurrentCollect(t *testing.T) {
	reader, provider := newReader()
	src := &fakeSource{counters: map[azauth.MetricID]uint64{}}

	exp, err := New(provider.Meter("azauth-test"), src)
	require.NoError(t, err)
	t.Cleanup(func() { _ = exp.Close() })

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(v uint64) {
			defer wg.Done()
			src.mu.Lock()
			src.counters[azauth.MetricRefreshSuccess] = v
			src.mu.Unlock()

			var rm metricdata.ResourceMetrics
			_ = reader.Collect(context.Background(), &rm)
		}(uint64(i + 1))
	}
	wg.Wait()
}

func TestBucketSuffixes(t *testing.T) {
	assert.Equal(t, []string{"0_005", "0_01", "0_025", "0_05", "0_1", "0_25", "0_5", "inf"}, bucketSuffixes())
}
