package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := NewRegistryMetrics("test", reg)
	require.NoError(t, err)

	m.RegistrationOutcome(OutcomeCommitted)
	m.RegistrationOutcome(OutcomeCommitted)
	m.RegistrationOutcome(OutcomeDuplicate)
	m.ProjectionSyncFailed()
	m.ProjectionRepaired()
	m.SetSyncBacklog(3)
	m.ObserveFinality(20 * time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.registrations.WithLabelValues(OutcomeCommitted)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.registrations.WithLabelValues(OutcomeDuplicate)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.projectionSyncFailures))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.projectionSyncRepairs))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.syncBacklog))
	assert.Equal(t, 1, testutil.CollectAndCount(m.finalityDuration))

	_, err = NewRegistryMetrics("test", reg)
	require.Error(t, err, "duplicate registration must fail")
}

func TestNilRegistryMetrics(t *testing.T) {
	var m *RegistryMetrics
	assert.NotPanics(t, func() {
		m.RegistrationOutcome(OutcomeFailed)
		m.ProjectionSyncFailed()
		m.ProjectionRepaired()
		m.SetSyncBacklog(1)
		m.ObserveFinality(time.Second)
	})
}

func TestMetricsServerHandler(t *testing.T) {
	srv, err := New("landsure", "127.0.0.1:0")
	require.NoError(t, err)
	srv.Metrics().RegistrationOutcome(OutcomeCommitted)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `landsure_registrations_total{outcome="committed"} 1`)
	assert.Contains(t, string(body), "go_goroutines")
}
