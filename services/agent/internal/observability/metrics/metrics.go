package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	CapturedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agent_events_captured_total",
			Help: "Normalized events by kind and result (queued, invalid, queue_full, log_error).",
		},
		[]string{"kind", "result"},
	)

	QueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "agent_queue_depth",
			Help: "Events waiting for delivery.",
		},
	)

	DeliveryAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agent_delivery_attempts_total",
			Help: "Delivery attempts by result (delivered, transient, permanent).",
		},
		[]string{"result"},
	)

	DeadLettersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agent_dead_letters_total",
			Help: "Events given up on, by reason.",
		},
		[]string{"reason"},
	)

	ProbeRestartsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "agent_probe_restarts_total",
			Help: "Network probe restarts after the process exited.",
		},
	)
)

// MustRegister registers every agent collector with the default registry,
// labelled with the device id.
func MustRegister(deviceID string) {
	reg := prometheus.WrapRegistererWith(prometheus.Labels{"device_id": deviceID}, prometheus.DefaultRegisterer)
	reg.MustRegister(
		CapturedTotal,
		QueueDepth,
		DeliveryAttemptsTotal,
		DeadLettersTotal,
		ProbeRestartsTotal,
	)
}
