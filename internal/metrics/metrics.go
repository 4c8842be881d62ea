package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "relay",
		Name:      "http_requests_total",
		Help:      "Total HTTP requests by method, path and status code.",
	}, []string{"method", "path", "status"})

	HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "relay",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration in seconds.",
		Buckets:   []float64{0.05, 0.1, 0.3, 0.5, 1, 2, 5, 10, 30},
	}, []string{"method", "path"})

	ActiveSessions = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "relay",
		Name:      "active_sessions",
		Help:      "Number of sessions currently tracked by the registry.",
	})

	SessionsEvictedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "relay",
		Name:      "sessions_evicted_total",
		Help:      "Total sessions evicted by the idle sweep.",
	})

	SweepDestroyFailuresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "relay",
		Name:      "sweep_destroy_failures_total",
		Help:      "Total origin destroy failures during idle sweeps.",
	})

	ProxyBytesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "relay",
		Name:      "proxy_bytes_total",
		Help:      "Total bytes relayed through the passthrough proxy.",
	})

	ProxyUpstreamErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "relay",
		Name:      "proxy_upstream_errors_total",
		Help:      "Total upstream transport failures in the passthrough proxy.",
	})

	TranscodeActiveJobs = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "relay",
		Name:      "transcode_active_jobs",
		Help:      "Number of currently running transcode processes.",
	})

	TranscodeStartsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "relay",
		Name:      "transcode_starts_total",
		Help:      "Total transcode processes started.",
	})

	TranscodeFailuresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "relay",
		Name:      "transcode_failures_total",
		Help:      "Total transcode process failures.",
	})

	TranscodeSeeksTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "relay",
		Name:      "transcode_seek_requests_total",
		Help:      "Total seek-triggered transcode restarts.",
	})

	TranscodeJobDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "relay",
		Name:      "transcode_job_duration_seconds",
		Help:      "Lifetime of transcode processes in seconds.",
		Buckets:   []float64{1, 5, 10, 30, 60, 300, 1200, 3600},
	})

	ProbeFailuresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "relay",
		Name:      "probe_failures_total",
		Help:      "Total failed media probes.",
	})

	PositionsDeletedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "relay",
		Name:      "positions_deleted_total",
		Help:      "Total playback position records deleted by reason.",
	}, []string{"reason"})
)

func Register(reg prometheus.Registerer) {
	reg.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		ActiveSessions,
		SessionsEvictedTotal,
		SweepDestroyFailuresTotal,
		ProxyBytesTotal,
		ProxyUpstreamErrorsTotal,
		TranscodeActiveJobs,
		TranscodeStartsTotal,
		TranscodeFailuresTotal,
		TranscodeSeeksTotal,
		TranscodeJobDuration,
		ProbeFailuresTotal,
		PositionsDeletedTotal,
	)
}
