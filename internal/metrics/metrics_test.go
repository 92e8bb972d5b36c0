package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_New(t *testing.T) {
	m := New()
	assert.NotNil(t, m.EnvelopesPublished)
	assert.NotNil(t, m.ObserversConnected)
	assert.NotNil(t, m.ObserverDisconnects)
	assert.NotNil(t, m.ProcessesActive)
	assert.NotNil(t, m.Transitions)
	assert.NotNil(t, m.Assemblies)
	assert.NotNil(t, m.AssemblyDuration)
	assert.NotNil(t, m.Submissions)
}

func TestMetrics_RecordPublished(t *testing.T) {
	m := New()
	m.RecordPublished("price_update")
	m.RecordPublished("price_update")
	m.RecordPublished("script_alert")

	body := getMetricsBody(t, m)
	assert.Contains(t, body, `relay_envelopes_published_total{type="price_update"} 2`)
	assert.Contains(t, body, `relay_envelopes_published_total{type="script_alert"} 1`)
}

func TestMetrics_Observers(t *testing.T) {
	m := New()
	m.ObserverConnected()
	m.ObserverConnected()
	m.ObserverDisconnected("disconnect_frame")

	body := getMetricsBody(t, m)
	assert.Contains(t, body, "relay_observers_connected 1")
	assert.Contains(t, body, `relay_observer_disconnects_total{reason="disconnect_frame"} 1`)
}

func TestMetrics_Supervisor(t *testing.T) {
	m := New()
	m.SetProcessesActive(3)
	m.RecordTransition("activate", "ok")
	m.RecordTransition("activate", "already_active")

	body := getMetricsBody(t, m)
	assert.Contains(t, body, "supervisor_processes_active 3")
	assert.Contains(t, body, `supervisor_transitions_total{op="activate",result="ok"} 1`)
	assert.Contains(t, body, `supervisor_transitions_total{op="activate",result="already_active"} 1`)
}

func TestMetrics_BuildAndGateway(t *testing.T) {
	m := New()
	m.RecordAssembly("ok", 0.25)
	m.RecordSubmission("error")

	body := getMetricsBody(t, m)
	assert.Contains(t, body, `build_assemblies_total{result="ok"} 1`)
	assert.Contains(t, body, "build_assembly_duration_seconds_count 1")
	assert.Contains(t, body, `gateway_submissions_total{result="error"} 1`)
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordPublished("price_update")
		m.ObserverConnected()
		m.ObserverDisconnected("read_error")
		m.SetProcessesActive(1)
		m.RecordTransition("deactivate", "ok")
		m.RecordAssembly("error", 1)
		m.RecordSubmission("ok")
	})
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	handler := m.Handler()
	assert.NotNil(t, handler)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)
}

func getMetricsBody(t *testing.T, m *Metrics) string {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	m.Handler().ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)
	body, _ := io.ReadAll(rr.Body)
	return strings.TrimSpace(string(body))
}
