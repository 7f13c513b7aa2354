package prometheus

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/azora-os/azauth"
	"github.com/azora-os/azauth/metrics/export/internaldefs"
)

type fakeSource struct {
	snapshot azauth.MetricsSnapshot
	dropped  uint64
}

func (f fakeSource) MetricsSnapshot() azauth.MetricsSnapshot { return f.snapshot }
func (f fakeSource) AuditDropped() uint64                    { return f.dropped }

func TestCollectorCounters(t *testing.T) {
	c := NewCollector(fakeSource{
		snapshot: azauth.MetricsSnapshot{
			Counters: map[azauth.MetricID]uint64{azauth.MetricLoginSuccess: 7},
		},
		dropped: 2,
	})

	expected := `
# HELP azauth_login_success_total Successful logins.
# TYPE azauth_login_success_total counter
azauth_login_success_total 7
# HELP azauth_audit_dropped_total Audit events dropped because the dispatcher buffer was full.
# TYPE azauth_audit_dropped_total counter
azauth_audit_dropped_total 2
`
	require.NoError(t, testutil.CollectAndCompare(c, strings.NewReader(expected),
		"azauth_login_success_total", "azauth_audit_dropped_total"))

	// counters plus audit dropped, no histogram without a snapshot entry
	assert.Equal(t, len(internaldefs.Counters)+1, testutil.CollectAndCount(c))
}

func TestCollectorHistogramIsCumulative(t *testing.T) {
	c := NewCollector(fakeSource{
		snapshot: azauth.MetricsSnapshot{
			Counters: map[azauth.MetricID]uint64{},
			Histograms: map[azauth.MetricID][]uint64{
				azauth.MetricValidateLatency: {1, 2, 3, 4, 5, 6, 7, 8},
			},
		},
	})

	expected := `
# HELP azauth_validate_latency_seconds Access token validation latency.
# TYPE azauth_validate_latency_seconds histogram
azauth_validate_latency_seconds_bucket{le="0.005"} 1
azauth_validate_latency_seconds_bucket{le="0.01"} 3
azauth_validate_latency_seconds_bucket{le="0.025"} 6
azauth_validate_latency_seconds_bucket{le="0.05"} 10
azauth_validate_latency_seconds_bucket{le="0.1"} 15
azauth_validate_latency_seconds_bucket{le="0.25"} 21
azauth_validate_latency_seconds_bucket{le="0.5"} 28
azauth_validate_latency_seconds_bucket{le="+Inf"} 36
azauth_validate_latency_seconds_sum 0
azauth_validate_latency_seconds_count 36
`
	require.NoError(t, testutil.CollectAndCompare(c, strings.NewReader(expected), "azauth_validate_latency_seconds"))
}

func TestHandlerServesEngineMetrics(t *testing.T) {
	m := azauth.NewMetrics(azauth.MetricsConfig{Enabled: true})
	m.Inc(azauth.MetricRefreshSuccess)
	m.Inc(azauth.MetricRefreshSuccess)

	h, err := Handler(fakeSource{snapshot: m.Snapshot()})
	require.NoError(t, err)

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)

	body, err := io.ReadAll(w.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "azauth_refresh_success_total 2")
	assert.Contains(t, string(body), "go_goroutines")
}
