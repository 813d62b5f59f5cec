package metrics_test

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/blukai/aochat/internal/metrics"
	"github.com/matryer/is"
)

func TestNilIsNoop(t *testing.T) {
	is := is.New(t)

	var m *metrics.Metrics
	m.PacketReceived(5)
	m.PacketSent(2)
	m.QueueDepth(3)
	m.Lookup(metrics.LookupCached)
	m.DecodeFailure()
	m.Disconnect()
	is.True(m.Registry() == nil)
}

func TestHandler(t *testing.T) {
	is := is.New(t)

	m := metrics.New()
	m.PacketReceived(5)
	m.PacketReceived(5)
	m.PacketSent(100)
	m.QueueDepth(4)
	m.Lookup(metrics.LookupNotFound)
	m.DecodeFailure()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	is.NoErr(err)

	for _, want := range []string{
		`aochat_packets_received_total{type="5"} 2`,
		`aochat_packets_sent_total{type="100"} 1`,
		`aochat_send_queue_depth 4`,
		`aochat_lookups_total{outcome="not_found"} 1`,
		`aochat_extended_message_failures_total 1`,
		`aochat_disconnects_total 0`,
	} {
		is.True(strings.Contains(string(body), want)) // want
	}
}
