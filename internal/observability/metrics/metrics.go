package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

const (
	metricPrefix = "diagnosis_"

	resultSuccess = "success"
	resultError   = "error"
)

var (
	registerOnce sync.Once

	ingestRequests *prometheus.CounterVec
	ingestErrors   *prometheus.CounterVec
	ingestLatency  *prometheus.HistogramVec
	ingestRows     prometheus.Counter

	analyzeTotal   *prometheus.CounterVec
	analyzeLatency *prometheus.HistogramVec

	upstreamTotal   *prometheus.CounterVec
	upstreamLatency *prometheus.HistogramVec

	predictionsTotal *prometheus.CounterVec
	classifierErrors prometheus.Counter

	alertsTotal *prometheus.CounterVec
)

// Init registers service metrics and, when a counter is given, the store size gauge.
func Init(records RecordCounter, logger *zap.Logger) {
	registerOnce.Do(func() {
		ingestRequests = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "ingest_requests_total",
				Help: "Total CSV upload requests by result",
			},
			[]string{"result"},
		)
		ingestErrors = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "ingest_errors_total",
				Help: "Total CSV upload errors by reason",
			},
			[]string{"reason"},
		)
		ingestLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "ingest_latency_seconds",
				Help:    "CSV upload latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"result"},
		)
		ingestRows = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "ingest_rows_total",
				Help: "Total sensor readings stored from uploads",
			},
		)

		analyzeTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "analyze_total",
				Help: "Total analysis requests by result kind",
			},
			[]string{"kind"},
		)
		analyzeLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "analyze_latency_seconds",
				Help:    "Analysis request latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"kind"},
		)

		upstreamTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "upstream_requests_total",
				Help: "Total chat-completion calls by outcome",
			},
			[]string{"outcome"},
		)
		upstreamLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "upstream_latency_seconds",
				Help:    "Chat-completion round trip in seconds",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"outcome"},
		)

		predictionsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "classifier_predictions_total",
				Help: "Total classifier predictions by label",
			},
			[]string{"label"},
		)
		classifierErrors = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "classifier_errors_total",
				Help: "Total classifier load or fit failures",
			},
		)

		alertsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "alerts_total",
				Help: "Total threat alerts by delivery result",
			},
			[]string{"result"},
		)

		prometheus.MustRegister(
			ingestRequests,
			ingestErrors,
			ingestLatency,
			ingestRows,
			analyzeTotal,
			analyzeLatency,
			upstreamTotal,
			upstreamLatency,
			predictionsTotal,
			classifierErrors,
			alertsTotal,
		)

		if records != nil {
			registerStoreMetrics(records, logger)
		}
	})
}

// ObserveIngest records upload duration and result.
func ObserveIngest(result string, duration time.Duration) {
	if result == "" {
		result = resultSuccess
	}
	if ingestRequests != nil {
		ingestRequests.WithLabelValues(result).Inc()
	}
	if ingestLatency != nil {
		ingestLatency.WithLabelValues(result).Observe(duration.Seconds())
	}
}

// IncIngestError increments the upload error counter.
func IncIngestError(reason string) {
	if reason == "" {
		reason = "unknown"
	}
	if ingestErrors != nil {
		ingestErrors.WithLabelValues(reason).Inc()
	}
}

// AddIngestRows adds stored rows.
func AddIngestRows(count int) {
	if count <= 0 {
		return
	}
	if ingestRows != nil {
		ingestRows.Add(float64(count))
	}
}

// ObserveAnalyze records analysis duration by result kind.
func ObserveAnalyze(kind string, duration time.Duration) {
	if kind == "" {
		kind = "unknown"
	}
	if analyzeTotal != nil {
		analyzeTotal.WithLabelValues(kind).Inc()
	}
	if analyzeLatency != nil {
		analyzeLatency.WithLabelValues(kind).Observe(duration.Seconds())
	}
}

// ObserveUpstream records a chat-completion call.
func ObserveUpstream(outcome string, duration time.Duration) {
	if outcome == "" {
		outcome = "unknown"
	}
	if upstreamTotal != nil {
		upstreamTotal.WithLabelValues(outcome).Inc()
	}
	if upstreamLatency != nil && duration > 0 {
		upstreamLatency.WithLabelValues(outcome).Observe(duration.Seconds())
	}
}

// IncPrediction counts a classifier output label.
func IncPrediction(label string) {
	if predictionsTotal != nil {
		predictionsTotal.WithLabelValues(label).Inc()
	}
}

// IncClassifierError counts a classifier failure.
func IncClassifierError() {
	if classifierErrors != nil {
		classifierErrors.Inc()
	}
}

// IncAlert counts a threat alert delivery.
func IncAlert(result string) {
	if result == "" {
		result = resultSuccess
	}
	if alertsTotal != nil {
		alertsTotal.WithLabelValues(result).Inc()
	}
}

// Exported constants for callers.
const (
	ResultSuccess = resultSuccess
	ResultError   = resultError

	UpstreamOK         = "ok"
	UpstreamFailed     = "failed"
	UpstreamMissingKey = "missing_key"
)
