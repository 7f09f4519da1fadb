package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCountersAreExposed(t *testing.T) {
	m := New()
	m.Event("pairQueue", "paired")
	m.Pairing("paired")
	m.Push("chat", "ok", 2)
	m.Sweep("expire", "ok", 3)
	m.Observe("pairQueue", 0.01)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	assert.True(t, strings.Contains(body, `kkiri_trigger_events_total{handler="pairQueue",outcome="paired"} 1`))
	assert.True(t, strings.Contains(body, `kkiri_push_tokens_total{kind="chat",result="ok"} 2`))
	assert.True(t, strings.Contains(body, `kkiri_sweep_documents_total{job="expire"} 3`))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.Event("x", "y")
		m.Pairing("x")
		m.Push("x", "y", 1)
		m.Sweep("x", "y", 1)
		m.Observe("x", 1)
	})
}
