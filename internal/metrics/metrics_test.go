package metrics

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Counters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := New(reg)
	require.NoError(t, err)

	m.CommandSent("get")
	m.CommandSent("GET")
	m.CommandSent("set")
	m.RequestsQueued(2)
	m.ReplyReceived('$', true)
	m.ReplyReceived('-', true)
	m.ReplyReceived('*', false)
	m.ProtocolError()
	m.Reconnected()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.commands.WithLabelValues("GET")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.commands.WithLabelValues("SET")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.replies.WithLabelValues("bulk_string")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.replies.WithLabelValues("error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.replies.WithLabelValues("array")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.protocolErrors))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.reconnects))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.pending), "two queued, two paired replies")

	m.RequestsQueued(3)
	m.CommandSent("get")
	assert.Equal(t, 3.0, testutil.ToFloat64(m.pending), "sending does not move the gauge")

	m.RequestsFailed(3)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.pending))
}

func TestMetrics_DuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := New(reg)
	require.NoError(t, err)

	_, err = New(reg)
	assert.Error(t, err)
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.CommandSent("PING")
		m.RequestsQueued(1)
		m.ReplyReceived('+', true)
		m.RequestsFailed(3)
		m.ProtocolError()
		m.Reconnected()
	})
}

func TestPush(t *testing.T) {
	var (
		method, path string
		body         []byte
	)
	gateway := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method, path = r.Method, r.URL.Path
		body, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer gateway.Close()

	reg := NewRegistry()
	m, err := New(reg)
	require.NoError(t, err)
	m.Reconnected()

	require.NoError(t, Push(context.Background(), gateway.URL, reg))
	assert.Equal(t, http.MethodPost, method)
	assert.Equal(t, "/metrics/job/moonwire", path)
	assert.True(t, strings.Contains(string(body), "moonwire_reconnects_total"), "pushed body lacks client metrics")
}

func TestPush_GatewayError(t *testing.T) {
	gateway := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer gateway.Close()

	assert.Error(t, Push(context.Background(), gateway.URL, prometheus.NewRegistry()))
}
