// Package metrics counts what the chat engine does. A nil *Metrics is
// valid and records nothing.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "aochat"

// Lookup outcomes.
const (
	LookupCached    = "cached"
	LookupResolved  = "resolved"
	LookupNotFound  = "not_found"
	LookupDebounced = "debounced"
)

type Metrics struct {
	registry *prometheus.Registry

	packetsReceived *prometheus.CounterVec
	packetsSent     *prometheus.CounterVec
	queueDepth      prometheus.Gauge
	lookups         *prometheus.CounterVec
	decodeFailures  prometheus.Counter
	disconnects     prometheus.Counter
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		packetsReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "packets_received_total",
			Help:      "Packets read from the chat server, by type.",
		}, []string{"type"}),
		packetsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "packets_sent_total",
			Help:      "Packets written to the chat server, by type.",
		}, []string{"type"}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "send_queue_depth",
			Help:      "Packets waiting for the flood limiter.",
		}),
		lookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lookups_total",
			Help:      "Character id resolutions, by outcome.",
		}, []string{"outcome"}),
		decodeFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "extended_message_failures_total",
			Help:      "Extended messages or chat notices that did not decode.",
		}),
		disconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "disconnects_total",
			Help:      "Sessions ended by a transport failure.",
		}),
	}

	m.registry.MustRegister(
		m.packetsReceived,
		m.packetsSent,
		m.queueDepth,
		m.lookups,
		m.decodeFailures,
		m.disconnects,
	)

	return m
}

// Registry exposes the collectors, e.g. for testutil.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) PacketReceived(typ uint16) {
	if m == nil {
		return
	}
	m.packetsReceived.WithLabelValues(strconv.Itoa(int(typ))).Inc()
}

func (m *Metrics) PacketSent(typ uint16) {
	if m == nil {
		return
	}
	m.packetsSent.WithLabelValues(strconv.Itoa(int(typ))).Inc()
}

func (m *Metrics) QueueDepth(n int) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(n))
}

func (m *Metrics) Lookup(outcome string) {
	if m == nil {
		return
	}
	m.lookups.WithLabelValues(outcome).Inc()
}

func (m *Metrics) DecodeFailure() {
	if m == nil {
		return
	}
	m.decodeFailures.Inc()
}

func (m *Metrics) Disconnect() {
	if m == nil {
		return
	}
	m.disconnects.Inc()
}
