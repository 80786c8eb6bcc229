package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SendsTotal counts send attempts by outcome (sent, failed).
	SendsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailkite_sends_total",
			Help: "Send attempts handed to a delivery provider, by outcome",
		},
		[]string{"provider", "outcome"},
	)

	// SendDuration tracks provider handoff latency.
	SendDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mailkite_send_duration_seconds",
			Help:    "Duration of provider send calls in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0},
		},
		[]string{"provider"},
	)

	// TrackingEventsTotal counts tracking events applied to the ledger.
	TrackingEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailkite_tracking_events_total",
			Help: "Tracking events applied to the delivery ledger, by type",
		},
		[]string{"event"},
	)

	// DispatchActivationsTotal counts dispatch loop activations by result.
	DispatchActivationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailkite_dispatch_activations_total",
			Help: "Dispatch worker activations, by result (drained, paused, requeued, skipped, error)",
		},
		[]string{"result"},
	)

	// RateLimitWaits counts token waits that ended in timeout or pause.
	RateLimitWaits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailkite_rate_limit_waits_total",
			Help: "Rate limiter token waits that were abandoned, by cause",
		},
		[]string{"cause"},
	)
)

// ObserveSend records one provider send attempt.
func ObserveSend(provider, outcome string, d time.Duration) {
	SendsTotal.WithLabelValues(provider, outcome).Inc()
	SendDuration.WithLabelValues(provider).Observe(d.Seconds())
}
