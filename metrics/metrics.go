package metrics

import (
	"github.com/loomrender/renderworker/config"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ClientMetrics mirrors the shape the teacher uses for every outbound HTTP
// client (retry count / failure count / request duration broken down by
// host), reused here for StorageAdapter and the remote-browser client.
type ClientMetrics struct {
	RetryCount      *prometheus.GaugeVec
	FailureCount    *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
}

var stageBuckets = []float64{.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600}

type RenderWorkerMetrics struct {
	Version *prometheus.CounterVec

	JobsInFlight     prometheus.Gauge
	ConcurrencyLimit prometheus.Gauge
	HeartbeatAgeSec  prometheus.Gauge

	ClaimCount      prometheus.Counter
	ClaimEmptyCount prometheus.Counter
	JobsCompleted   prometheus.Counter
	JobsFailed      *prometheus.CounterVec
	JobsCancelled   prometheus.Counter

	StageDurationSec *prometheus.HistogramVec
	RetryCount       *prometheus.CounterVec

	CacheHit  prometheus.Counter
	CacheMiss prometheus.Counter

	RemoteBrowserClient ClientMetrics
	StorageClient       ClientMetrics
	QueueClient         ClientMetrics
}

func New() *RenderWorkerMetrics {
	m := &RenderWorkerMetrics{
		Version: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "renderworker_version",
			Help: "Version of renderworker running, incremented once on startup.",
		}, []string{"version"}),

		JobsInFlight: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "renderworker_jobs_in_flight",
			Help: "1 if this process is currently processing a job, else 0.",
		}),
		ConcurrencyLimit: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "renderworker_concurrency_limit",
			Help: "The last fleet-wide concurrency cap observed by this process.",
		}),
		HeartbeatAgeSec: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "renderworker_heartbeat_age_seconds",
			Help: "Seconds since the worker loop last heartbeat; mirrors the health endpoint's lastHeartbeat field.",
		}),

		ClaimCount: promauto.NewCounter(prometheus.CounterOpts{
			Name: "renderworker_claim_count",
			Help: "Number of successful job claims.",
		}),
		ClaimEmptyCount: promauto.NewCounter(prometheus.CounterOpts{
			Name: "renderworker_claim_empty_count",
			Help: "Number of claim attempts that returned no work.",
		}),
		JobsCompleted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "renderworker_jobs_completed",
			Help: "Number of jobs that reached done.",
		}),
		JobsFailed: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "renderworker_jobs_failed",
			Help: "Number of jobs that reached failed, by error taxonomy.",
		}, []string{"error_kind"}),
		JobsCancelled: promauto.NewCounter(prometheus.CounterOpts{
			Name: "renderworker_jobs_cancelled",
			Help: "Number of jobs that reached cancelled.",
		}),

		StageDurationSec: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "renderworker_stage_duration_seconds",
			Help:    "Time spent in each ScenePipeline stage.",
			Buckets: stageBuckets,
		}, []string{"stage"}),
		RetryCount: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "renderworker_retry_count",
			Help: "Number of retries performed by the Retry combinator, by operation.",
		}, []string{"operation"}),

		CacheHit: promauto.NewCounter(prometheus.CounterOpts{
			Name: "renderworker_cache_hit",
			Help: "Number of CacheStore.Get calls that returned a valid hit.",
		}),
		CacheMiss: promauto.NewCounter(prometheus.CounterOpts{
			Name: "renderworker_cache_miss",
			Help: "Number of CacheStore.Get calls that returned Miss.",
		}),

		RemoteBrowserClient: newClientMetrics("remote_browser"),
		StorageClient:       newClientMetrics("storage"),
		QueueClient:         newClientMetrics("queue"),
	}

	m.Version.WithLabelValues(config.Version).Inc()

	return m
}

func newClientMetrics(name string) ClientMetrics {
	return ClientMetrics{
		RetryCount: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: name + "_client_retry_count",
			Help: "The number of retried " + name + " requests.",
		}, []string{"host"}),
		FailureCount: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: name + "_client_failure_count",
			Help: "The total number of failed " + name + " requests.",
		}, []string{"host", "status_code"}),
		RequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    name + "_client_request_duration",
			Help:    "Time taken to complete " + name + " requests.",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"host"}),
	}
}

var Metrics = New()
