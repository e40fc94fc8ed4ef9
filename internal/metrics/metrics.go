// Package metrics exposes prometheus collectors for the debug engine and
// its agent transport.
//
// Every method is safe on a nil *Metrics so components can run without
// instrumentation in tests.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "probectl"

// Metrics holds the collectors for one engine instance.
type Metrics struct {
	registry *prometheus.Registry

	commandsSent     *prometheus.CounterVec
	commandsRejected *prometheus.CounterVec
	inbound          *prometheus.CounterVec
	protocolErrors   prometheus.Counter
	snapshots        *prometheus.CounterVec
	reconnects       prometheus.Counter
	giveUps          prometheus.Counter
	queued           prometheus.Gauge
	sessionState     *prometheus.GaugeVec
}

// New creates collectors registered on a fresh registry.
// A private registry keeps parallel engines (and tests) independent.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		commandsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_sent_total",
			Help:      "Commands written to the agent, by operation.",
		}, []string{"op"}),
		commandsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_rejected_total",
			Help:      "Commands rejected locally, by operation and reason.",
		}, []string{"op", "reason"}),
		inbound: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "inbound_messages_total",
			Help:      "Messages received from the agent, by resolved type.",
		}, []string{"type"}),
		protocolErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "protocol_errors_total",
			Help:      "Inbound messages dropped as unparseable or unclassifiable.",
		}),
		snapshots: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "snapshots_total",
			Help:      "Snapshots seen by the processor, by outcome.",
		}, []string{"outcome"}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconnect_attempts_total",
			Help:      "Reconnect attempts made by the transport.",
		}),
		giveUps: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconnect_give_ups_total",
			Help:      "Times the transport exhausted its reconnect attempts.",
		}),
		queued: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "outbound_queue_length",
			Help:      "Messages waiting for the transport to reconnect.",
		}),
		sessionState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "session_state",
			Help:      "1 for the current session state, 0 otherwise.",
		}, []string{"state"}),
	}
	reg.MustRegister(
		m.commandsSent, m.commandsRejected, m.inbound, m.protocolErrors,
		m.snapshots, m.reconnects, m.giveUps, m.queued, m.sessionState,
	)
	return m
}

// Registry returns the registry backing these collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler returns an HTTP handler serving this instance's metrics.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// CommandSent counts a command written to the wire.
func (m *Metrics) CommandSent(op string) {
	if m == nil {
		return
	}
	m.commandsSent.WithLabelValues(op).Inc()
}

// CommandRejected counts a command refused before reaching the wire.
func (m *Metrics) CommandRejected(op, reason string) {
	if m == nil {
		return
	}
	m.commandsRejected.WithLabelValues(op, reason).Inc()
}

// Inbound counts a dispatched message.
func (m *Metrics) Inbound(msgType string) {
	if m == nil {
		return
	}
	m.inbound.WithLabelValues(msgType).Inc()
}

// ProtocolError counts a dropped inbound message.
func (m *Metrics) ProtocolError() {
	if m == nil {
		return
	}
	m.protocolErrors.Inc()
}

// Snapshot counts a processed ("accepted") or debounced ("dropped") snapshot.
func (m *Metrics) Snapshot(outcome string) {
	if m == nil {
		return
	}
	m.snapshots.WithLabelValues(outcome).Inc()
}

// ReconnectAttempt counts one dial attempt after a connection loss.
func (m *Metrics) ReconnectAttempt() {
	if m == nil {
		return
	}
	m.reconnects.Inc()
}

// GaveUp counts reconnect exhaustion.
func (m *Metrics) GaveUp() {
	if m == nil {
		return
	}
	m.giveUps.Inc()
}

// QueueLength records the outbound queue size.
func (m *Metrics) QueueLength(n int) {
	if m == nil {
		return
	}
	m.queued.Set(float64(n))
}

// SessionState marks state as current among all known states.
func (m *Metrics) SessionState(state string, all []string) {
	if m == nil {
		return
	}
	for _, s := range all {
		v := 0.0
		if s == state {
			v = 1
		}
		m.sessionState.WithLabelValues(s).Set(v)
	}
}
