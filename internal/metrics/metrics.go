package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	// OutcomeSuccess labels pipeline runs that produced a result.
	OutcomeSuccess = "success"
	// OutcomeError labels runs that exited through a failed stage.
	OutcomeError = "error"

	// ReservationGranted labels a consumed quota slot.
	ReservationGranted = "granted"
	// ReservationRejected labels a reservation refused because a window is exhausted.
	ReservationRejected = "rejected"
	// ReservationError labels a reservation the store could not evaluate.
	ReservationError = "error"

	// CaptureAccepted labels a capture that passed validation.
	CaptureAccepted = "accepted"
	// CaptureRejected labels a capture that looked unrendered.
	CaptureRejected = "rejected"
)

var (
	runsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "chartpilot",
			Name:      "pipeline_runs_total",
			Help:      "Total number of analysis pipeline runs, partitioned by outcome and failed stage.",
		},
		[]string{"outcome", "stage"},
	)

	runDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "chartpilot",
			Name:      "pipeline_run_seconds",
			Help:      "Analysis pipeline latency in seconds.",
			Buckets:   []float64{0.25, 0.5, 1, 2, 4, 8, 15, 30, 60},
		},
	)

	reservationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "chartpilot",
			Name:      "quota_reservations_total",
			Help:      "Quota reservations by feature and result.",
		},
		[]string{"feature", "result"},
	)

	capturesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "chartpilot",
			Name:      "capture_validations_total",
			Help:      "Chart capture validations by result.",
		},
		[]string{"result"},
	)

	providerRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "chartpilot",
			Name:      "provider_requests_total",
			Help:      "Analysis provider calls by provider and outcome.",
		},
		[]string{"provider", "outcome"},
	)

	providerDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "chartpilot",
			Name:      "provider_request_seconds",
			Help:      "Analysis provider latency in seconds.",
			Buckets:   []float64{0.5, 1, 2, 4, 8, 15, 30, 60},
		},
		[]string{"provider"},
	)
)

// Register attaches collectors to the supplied Prometheus registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		runsTotal,
		runDurationSeconds,
		reservationsTotal,
		capturesTotal,
		providerRequestsTotal,
		providerDurationSeconds,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

// ObserveRun records a pipeline run. stage is the failed stage, or empty on success.
func ObserveRun(duration time.Duration, outcome, stage string) {
	label := outcome
	if label != OutcomeError {
		label = OutcomeSuccess
		stage = ""
	}
	runsTotal.WithLabelValues(label, stage).Inc()
	if duration < 0 {
		duration = 0
	}
	runDurationSeconds.Observe(duration.Seconds())
}

// ObserveReservation counts a quota reservation attempt.
func ObserveReservation(feature, result string) {
	reservationsTotal.WithLabelValues(feature, result).Inc()
}

// ObserveCapture counts a capture validation.
func ObserveCapture(result string) {
	capturesTotal.WithLabelValues(result).Inc()
}

// ObserveProvider records one provider call.
func ObserveProvider(provider, outcome string, duration time.Duration) {
	providerRequestsTotal.WithLabelValues(provider, outcome).Inc()
	if duration < 0 {
		duration = 0
	}
	providerDurationSeconds.WithLabelValues(provider).Observe(duration.Seconds())
}
