package broker

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "broker_active_sessions",
		Help: "Number of producer sessions currently registered",
	})

	metricCacheEvictions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "broker_cache_evictions_total",
		Help: "Transcript cache entries evicted to stay within the byte budget",
	})

	metricBroadcastFanoutSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "broker_broadcast_fanout_seconds",
		Help:    "Time to fan a single record out to all attached viewers",
		Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
	})

	metricCorrectionOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "broker_correction_outcomes_total",
		Help: "Contextual correction results, by outcome",
	}, []string{"outcome"})

	metricSTTReconnects = promauto.NewCounter(prometheus.CounterOpts{
		Name: "broker_stt_reconnects_total",
		Help: "Upstream speech-to-text reconnect attempts",
	})

	metricProducerRejections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "broker_producer_rejections_total",
		Help: "Producer registrations rejected because a session was already active",
	})
)

// Correction outcome label values accepted by ObserveCorrectionOutcome.
const (
	CorrectionOutcomeApplied = "applied"
	CorrectionOutcomeSkipped = "skipped"
	CorrectionOutcomeError   = "error"
)

// ObserveCorrectionOutcome records one contextual correction result.
func ObserveCorrectionOutcome(outcome string) {
	metricCorrectionOutcomes.WithLabelValues(outcome).Inc()
}
