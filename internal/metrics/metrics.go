package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	DeliveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "whgw_deliveries_total",
			Help: "Terminal delivery outcomes by status and event",
		},
		[]string{"status", "event"}, // success|failed
	)

	DeliveryAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "whgw_delivery_attempts_total",
			Help: "Individual HTTP delivery attempts by result",
		},
		[]string{"result"}, // ok|timeout|network|http_status
	)

	EventsTriggeredTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "whgw_events_triggered_total",
			Help: "Fan-outs triggered by event name",
		},
		[]string{"event"},
	)
)

func MustRegister(r prometheus.Registerer) {
	r.MustRegister(
		DeliveriesTotal,
		DeliveryAttemptsTotal,
		EventsTriggeredTotal,
	)
}
