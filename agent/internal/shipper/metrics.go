package shipper

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type metrics struct {
	sent     prometheus.Counter
	dropped  *prometheus.CounterVec
	requests *prometheus.CounterVec
}

func newMetrics(reg prometheus.Registerer) *metrics {
	f := promauto.With(reg)
	return &metrics{
		sent: f.NewCounter(prometheus.CounterOpts{
			Name: "reporter_shipper_events_sent_total",
			Help: "Events accepted by the collector.",
		}),
		dropped: f.NewCounterVec(prometheus.CounterOpts{
			Name: "reporter_shipper_events_dropped_total",
			Help: "Events discarded before delivery, by reason.",
		}, []string{"reason"}),
		requests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "reporter_shipper_requests_total",
			Help: "Intake requests, by result.",
		}, []string{"result"}),
	}
}
