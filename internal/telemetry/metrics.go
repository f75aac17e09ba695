package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	WebhooksAccepted     = prometheus.NewCounter(prometheus.CounterOpts{Name: "incidents_webhooks_accepted_total", Help: "Webhook payloads accepted and enqueued"})
	WebhooksRejected     = prometheus.NewCounter(prometheus.CounterOpts{Name: "incidents_webhooks_rejected_total", Help: "Webhook payloads rejected as invalid JSON"})
	RateLimitRejects     = prometheus.NewCounter(prometheus.CounterOpts{Name: "incidents_rate_limit_rejects_total", Help: "Webhook requests rejected by the per-source rate limiter"})
	InvestigationSuccess = prometheus.NewCounter(prometheus.CounterOpts{Name: "investigations_succeeded_total", Help: "Investigations that produced a conclusion"})
	InvestigationFailure = prometheus.NewCounter(prometheus.CounterOpts{Name: "investigations_failed_total", Help: "Investigations that ended in an agent error"})
	InvestigationTimeout = prometheus.NewCounter(prometheus.CounterOpts{Name: "investigations_timed_out_total", Help: "Investigations cut off by the deadline"})
	FeedbackSubmissions  = prometheus.NewCounter(prometheus.CounterOpts{Name: "feedback_submissions_total", Help: "Feedback writes accepted by the console"})
	ExportedSamples      = prometheus.NewCounter(prometheus.CounterOpts{Name: "export_samples_total", Help: "Training samples written by the exporter"})
	ExportSkips          = prometheus.NewCounter(prometheus.CounterOpts{Name: "export_skipped_runs_total", Help: "Runs skipped by the exporter due to missing or malformed artifacts"})
	QueueDepthGauge      = prometheus.NewGauge(prometheus.GaugeOpts{Name: "incidents_queue_depth", Help: "Pending incident jobs in the queue"})
	InvestigationGauge   = prometheus.NewGauge(prometheus.GaugeOpts{Name: "investigations_inflight", Help: "Investigations currently being processed (0 or 1)"})
)

// Handler exposes the /metrics HTTP handler with a singleton registry.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			WebhooksAccepted,
			WebhooksRejected,
			RateLimitRejects,
			InvestigationSuccess,
			InvestigationFailure,
			InvestigationTimeout,
			FeedbackSubmissions,
			ExportedSamples,
			ExportSkips,
			QueueDepthGauge,
			InvestigationGauge,
		)
	})
	return promhttp.Handler()
}
