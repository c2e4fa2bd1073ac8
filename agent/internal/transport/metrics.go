package transport

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// Request outcomes recorded on reporter_transport_requests_total.
const (
	outcomeSuccess      = "success"
	outcomeTLSHandshake = "tls_handshake"
	outcomeTransport    = "transport"
	outcomeClosed       = "closed"
)

type metrics struct {
	connectionsOpened    prometheus.Counter
	connectionsReused    prometheus.Counter
	requests             *prometheus.CounterVec
	verificationDisabled prometheus.Gauge
}

// newMetrics registers the transport collectors on reg. Clients built against the
// same registry (e.g. across config reloads) share the already registered
// collectors.
func newMetrics(reg prometheus.Registerer) *metrics {
	return &metrics{
		connectionsOpened: register(reg, prometheus.NewCounter(prometheus.CounterOpts{
			Name: "reporter_transport_connections_opened_total",
			Help: "TCP connections opened to collector origins.",
		})),
		connectionsReused: register(reg, prometheus.NewCounter(prometheus.CounterOpts{
			Name: "reporter_transport_connections_reused_total",
			Help: "Requests served over an already pooled connection.",
		})),
		requests: register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "reporter_transport_requests_total",
			Help: "Requests executed by the transport client, by outcome.",
		}, []string{"outcome"})),
		verificationDisabled: register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "reporter_transport_tls_verification_disabled",
			Help: "1 when the collector certificate is not verified (verify_server_cert: false).",
		})),
	}
}

func register[T prometheus.Collector](reg prometheus.Registerer, c T) T {
	if err := reg.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(T); ok {
				return existing
			}
		}
		panic(err)
	}
	return c
}

func (m *metrics) observe(err error) {
	switch {
	case err == nil:
		m.requests.WithLabelValues(outcomeSuccess).Inc()
	case errors.Is(err, ErrClosed):
		m.requests.WithLabelValues(outcomeClosed).Inc()
	case errors.Is(err, ErrTLSHandshake):
		m.requests.WithLabelValues(outcomeTLSHandshake).Inc()
	default:
		m.requests.WithLabelValues(outcomeTransport).Inc()
	}
}
