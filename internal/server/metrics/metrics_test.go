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

	m.RecordWrites.WithLabelValues("status_change").Inc()
	m.RecordWrites.WithLabelValues("status_change").Inc()
	m.Restores.WithLabelValues("success").Inc()
	m.FeedSubscribers.Set(3)
	m.ObserveRequest("/api/v1/records/{id}", "200", 15*time.Millisecond)

	assert.InDelta(t, 2, testutil.ToFloat64(m.RecordWrites.WithLabelValues("status_change")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.Restores.WithLabelValues("success")), 0)
	assert.InDelta(t, 3, testutil.ToFloat64(m.FeedSubscribers), 0)
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.FeedEvents.Inc()

	rr := httptest.NewRecorder()
	m.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "rollcall_feed_events_total 1")
}

func TestMetrics_SeparateRegistries(t *testing.T) {
	// Два экземпляра не конфликтуют при регистрации
	a := New()
	b := New()
	a.FeedEvents.Inc()

	assert.InDelta(t, 1, testutil.ToFloat64(a.FeedEvents), 0)
	assert.InDelta(t, 0, testutil.ToFloat64(b.FeedEvents), 0)
}
