package metrics

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorderExposition(t *testing.T) {
	r := NewRecorder()

	r.Message()
	r.Message()
	r.Forward()
	r.Reply()
	r.ObserveForward(100, 40)
	r.ObserveForward(300, 60)

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, req)

	require.Equal(t, 200, rec.Code)
	body := rec.Body.String()

	assert.Contains(t, body, "cricket_bridge_messages_total 2")
	assert.Contains(t, body, "cricket_bridge_forwards_total 1")
	assert.Contains(t, body, "cricket_bridge_replies_total 1")
	assert.Contains(t, body, "cricket_bridge_errors_total 0")
	assert.Contains(t, body, "cricket_bridge_avg_forward_duration_ms 200")
	assert.Contains(t, body, "cricket_bridge_avg_agent_latency_ms 50")
}

func TestRecorderZeroAverages(t *testing.T) {
	r := NewRecorder()

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	assert.Contains(t, rec.Body.String(), "cricket_bridge_avg_forward_duration_ms 0")
}

func TestAgentLatencyIgnoredWhenAbsent(t *testing.T) {
	r := NewRecorder()
	r.ObserveForward(100, 0)

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body := rec.Body.String()
	assert.Contains(t, body, "cricket_bridge_avg_forward_duration_ms 100")
	assert.Contains(t, body, "cricket_bridge_avg_agent_latency_ms 0")
}
