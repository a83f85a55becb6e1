package metrics

import (
	"context"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/push"
)

const (
	namespace = "moonwire"
	job       = "moonwire"
)

// Metrics groups the client-side collectors. A nil *Metrics is valid and records nothing
type Metrics struct {
	commands       *prometheus.CounterVec
	replies        *prometheus.CounterVec
	protocolErrors prometheus.Counter
	reconnects     prometheus.Counter
	pending        prometheus.Gauge
}

// New creates the collectors and registers them on reg.
// Pass prometheus.DefaultRegisterer to expose them on the default handler
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_total",
			Help:      "Commands written to the server, by command name.",
		}, []string{"command"}),
		replies: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "replies_total",
			Help:      "Replies decoded from the server, by reply type.",
		}, []string{"type"}),
		protocolErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "protocol_errors_total",
			Help:      "Framing errors that forced a connection reset.",
		}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconnects_total",
			Help:      "Successful reconnects after a lost connection.",
		}),
		pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pending_requests",
			Help:      "Requests written and waiting for a reply.",
		}),
	}

	for _, c := range []prometheus.Collector{m.commands, m.replies, m.protocolErrors, m.reconnects, m.pending} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}

	return m, nil
}

// NewRegistry returns a registry with the Go runtime and process collectors already registered
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// Push sends everything gathered from g to a Prometheus push gateway.
// Short-lived processes such as the CLI call it once before exiting
func Push(ctx context.Context, url string, g prometheus.Gatherer) error {
	return push.New(url, job).Gatherer(g).AddContext(ctx)
}

// CommandSent counts a command written to the socket
func (m *Metrics) CommandSent(name string) {
	if m == nil {
		return
	}
	m.commands.WithLabelValues(strings.ToUpper(name)).Inc()
}

// RequestsQueued adds n requests that now wait for a paired reply
func (m *Metrics) RequestsQueued(n int) {
	if m == nil || n == 0 {
		return
	}
	m.pending.Add(float64(n))
}

// ReplyReceived counts a reply by its marker byte. A paired reply leaves the pending gauge
func (m *Metrics) ReplyReceived(marker byte, paired bool) {
	if m == nil {
		return
	}
	m.replies.WithLabelValues(typeName(marker)).Inc()
	if paired {
		m.pending.Dec()
	}
}

// RequestsFailed removes n abandoned requests from the pending gauge
func (m *Metrics) RequestsFailed(n int) {
	if m == nil || n == 0 {
		return
	}
	m.pending.Sub(float64(n))
}

// ProtocolError counts a connection dropped for malformed framing
func (m *Metrics) ProtocolError() {
	if m == nil {
		return
	}
	m.protocolErrors.Inc()
}

// Reconnected counts a successful redial
func (m *Metrics) Reconnected() {
	if m == nil {
		return
	}
	m.reconnects.Inc()
}

func typeName(marker byte) string {
	switch marker {
	case '+':
		return "simple_string"
	case '-':
		return "error"
	case ':':
		return "integer"
	case '$':
		return "bulk_string"
	case '*':
		return "array"
	}
	return "unknown"
}
