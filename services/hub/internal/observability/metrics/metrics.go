package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	DeviceRegistrationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hub_device_registrations_total",
			Help: "Device registration attempts by result (created, existing, failure).",
		},
		[]string{"result"},
	)

	EventsIngestedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hub_events_ingested_total",
			Help: "Events received on /events by kind and result.",
		},
		[]string{"kind", "result"},
	)

	EventQueriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hub_event_queries_total",
			Help: "Operator event queries by result.",
		},
		[]string{"result"},
	)
)

// MustRegister registers every hub collector with the default registry,
// labelled with the service name.
func MustRegister(serviceName string) {
	reg := prometheus.WrapRegistererWith(prometheus.Labels{"service": serviceName}, prometheus.DefaultRegisterer)
	reg.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDurationSeconds,
		DeviceRegistrationsTotal,
		EventsIngestedTotal,
		EventQueriesTotal,
	)
}
