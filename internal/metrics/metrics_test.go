package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	return rec.Body.String()
}

func TestMetrics_Counters(t *testing.T) {
	m := New()

	m.ObserveLimitOperation("decrement", "exceeded")
	m.ObserveLimitOperation("decrement", "exceeded")
	m.ObserveSweep("ok", time.Second)
	m.ObserveSweep("skipped", 0)
	m.ObserveCharge(1500)
	m.ObserveForcedLogout()
	m.WebSocketConnected()
	m.WebSocketConnected()
	m.WebSocketDisconnected()

	body := scrape(t, m)
	assert.Contains(t, body, `quotad_limit_operations_total{op="decrement",outcome="exceeded"} 2`)
	assert.Contains(t, body, `quotad_sweeps_total{outcome="skipped"} 1`)
	assert.Contains(t, body, `quotad_sweep_duration_seconds_count 1`)
	assert.Contains(t, body, `quotad_session_charged_milliseconds_total 1500`)
	assert.Contains(t, body, `quotad_forced_logouts_total 1`)
	assert.Contains(t, body, `quotad_websocket_clients 1`)
}

func TestMetrics_HTTP(t *testing.T) {
	m := New()
	m.ObserveHTTP("/api/login", http.MethodPost, http.StatusOK, 5*time.Millisecond)

	body := scrape(t, m)
	assert.Contains(t, body, `quotad_http_requests_total{method="POST",route="/api/login",status="200"} 1`)
	assert.Contains(t, body, "go_goroutines")
}
