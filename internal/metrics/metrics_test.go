package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Counters(t *testing.T) {
	m := New()
	m.ObserveHTTP("GET", "GET /api/health", 200, 5*time.Millisecond)
	m.ObserveHTTP("GET", "GET /api/health", 200, 5*time.Millisecond)
	m.EventCommitted("listing_sold")
	m.KeeperFinalized(true)
	m.KeeperFinalized(false)
	m.Archived("listings", 3)
	m.Archived("listings", 0)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.httpRequests.WithLabelValues("GET", "GET /api/health", "200")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.events.WithLabelValues("listing_sold")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.keeperRuns.WithLabelValues("error")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.archived.WithLabelValues("listings")))
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.RegisterGauge("engine", "active_listings", "Active listings.", func() float64 { return 7 })

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "marketengine_engine_active_listings 7")
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveHTTP("GET", "/", 200, time.Second)
		m.EventCommitted("x")
		m.PersistFailed()
		m.KeeperFinalized(true)
		m.Archived("audit", 1)
		m.RegisterGauge("a", "b", "c", func() float64 { return 0 })
	})
}
