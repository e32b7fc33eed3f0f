package relay

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricSessionsStarted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "relay",
			Subsystem: "session",
			Name:      "started_total",
			Help:      "Total number of generation sessions started",
		},
		[]string{"transport"},
	)

	metricSessionsFinished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "relay",
			Subsystem: "session",
			Name:      "finished_total",
			Help:      "Total number of generation sessions finished, by outcome",
		},
		[]string{"transport", "outcome"},
	)

	metricEventsRelayed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "relay",
			Subsystem: "stream",
			Name:      "events_relayed_total",
			Help:      "Total number of log lines forwarded to clients",
		},
		[]string{"transport"},
	)

	metricInputRequests = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "relay",
			Subsystem: "session",
			Name:      "input_requests_total",
			Help:      "Total number of human input requests forwarded",
		},
	)
)
