package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Registry holds the agent's collectors. It is served on /metrics.
var Registry = prometheus.NewRegistry()

var (
	// UpdateAttemptsTotal counts update attempts by their final result.
	// result: succeeded/failed/up_to_date
	UpdateAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ota_update_attempts_total",
			Help: "Total number of firmware update attempts by result.",
		},
		[]string{"result"},
	)

	// BytesWrittenTotal counts firmware bytes written to the flash sink.
	BytesWrittenTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ota_bytes_written_total",
			Help: "Total number of firmware bytes written to flash.",
		},
	)

	// RedirectsTotal counts redirect hops followed while resolving firmware URLs.
	RedirectsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ota_redirects_followed_total",
			Help: "Total number of HTTP redirects followed for firmware downloads.",
		},
	)

	// RollbackActionsTotal counts rollback guard decisions.
	// action: mark_valid/mark_invalid/noop
	RollbackActionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ota_rollback_actions_total",
			Help: "Total number of rollback guard actions.",
		},
		[]string{"action"},
	)

	// PendingValidation is 1 while the running image awaits confirmation.
	PendingValidation = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "ota_pending_validation",
			Help: "Whether the running firmware awaits validation (1=pending, 0=confirmed).",
		},
	)

	// DownloadDuration observes how long a firmware download takes end to end.
	DownloadDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ota_download_duration_seconds",
			Help:    "Duration of firmware downloads including flash finalization.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
		},
	)

	// MqttConnected reports the hub connection state (1=connected).
	MqttConnected = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "ota_mqtt_connected",
			Help: "The connectivity status to the MQTT broker (1=Connected, 0=Disconnected).",
		},
	)
)

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		UpdateAttemptsTotal,
		BytesWrittenTotal,
		RedirectsTotal,
		RollbackActionsTotal,
		PendingValidation,
		DownloadDuration,
		MqttConnected,
	)
}
