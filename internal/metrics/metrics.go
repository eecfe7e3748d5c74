// Package metrics declares the Prometheus series every long-lived
// component registers, named after the equivalent prometheus_client
// instruments in the original ingestion/backfill/retrain services.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	KlineMessagesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "kline_messages_total",
		Help: "Total kline websocket messages received.",
	}, []string{"symbol", "interval"})

	KlineClosedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "kline_closed_total",
		Help: "Total closed-bar kline messages processed.",
	}, []string{"symbol", "interval"})

	KlineFlushTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "kline_flush_total",
		Help: "Total buffer flushes to the candle store.",
	}, []string{"symbol", "interval"})

	KlineFlushLatencySeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name: "kline_flush_latency_seconds",
		Help: "Latency of buffer flush operations.",
	}, []string{"symbol", "interval"})

	KlineProcessLatencySeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name: "kline_process_latency_seconds",
		Help: "Latency of processing one closed bar end to end.",
	}, []string{"symbol", "interval"})

	KlineBufferSize = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "kline_buffer_size",
		Help: "Current in-memory buffer size awaiting flush.",
	}, []string{"symbol", "interval"})

	IngestionLagSeconds = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "ingestion_lag_seconds",
		Help: "Seconds between bar close time and local processing time.",
	}, []string{"symbol", "interval"})

	KlineGapDetectedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "kline_gap_detected_total",
		Help: "Total gaps detected in the live stream.",
	}, []string{"symbol", "interval"})

	KlineGapOpenSegments = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "kline_gap_open_segments",
		Help: "Current count of open or partial gap segments.",
	}, []string{"symbol", "interval"})

	KlineGapRemainingBars = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "kline_gap_remaining_bars",
		Help: "Sum of remaining_bars across open gap segments.",
	}, []string{"symbol", "interval"})

	KlineGapOldestAgeSeconds = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "kline_gap_oldest_age_seconds",
		Help: "Age of the oldest open gap segment.",
	}, []string{"symbol", "interval"})

	KlineLateFillTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "kline_late_fill_total",
		Help: "Total late-arriving bars applied against open gap segments.",
	}, []string{"symbol", "interval"})

	KlineGapSplitTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "kline_gap_split_total",
		Help: "Total gap segments split by an interior late fill.",
	}, []string{"symbol", "interval"})

	BackfillAttemptsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "kline_gap_backfill_attempts_total",
		Help: "Total backfill recovery attempts against a gap segment.",
	}, []string{"symbol", "interval"})

	BackfillRecoveredTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "kline_gap_recovered_total",
		Help: "Total bars recovered by the backfill worker.",
	}, []string{"symbol", "interval"})

	BackfillSegmentsRecoveredTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "kline_gap_recovered_segments_total",
		Help: "Total gap segments fully recovered.",
	}, []string{"symbol", "interval"})

	BackfillErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "kline_gap_backfill_errors_total",
		Help: "Total backfill request errors.",
	}, []string{"symbol", "interval"})

	BackfillLatencySeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name: "kline_gap_backfill_latency_seconds",
		Help: "Latency of one backfill recovery pass.",
	}, []string{"symbol", "interval"})

	GapMTTRSeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "kline_gap_mttr_seconds",
		Help:    "Mean time to recovery for fully recovered gap segments.",
		Buckets: prometheus.ExponentialBuckets(1, 2, 16),
	}, []string{"symbol", "interval"})

	OHLCVCompletenessPercent = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "ohlcv_candles_completeness_percent",
		Help: "Completeness of stored candles over the configured lookback window.",
	}, []string{"symbol", "interval"})

	FeatureComputeTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "feature_compute_total",
		Help: "Total successful feature computation runs.",
	}, []string{"symbol", "interval"})

	FeatureComputeErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "feature_compute_errors_total",
		Help: "Total failed feature computation runs.",
	}, []string{"symbol", "interval"})

	LabelBatchSize = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "label_batch_size",
		Help: "Size of the most recent auto-labeling batch.",
	}, []string{"symbol", "interval", "target"})

	TrainingRunsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "training_runs_total",
		Help: "Total training runs by outcome.",
	}, []string{"model_name", "outcome"})

	DriftZScore = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "feature_drift_zscore",
		Help: "Most recent aggregated drift z-score per model.",
	}, []string{"model_name"})

	CVDegradationRatio = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "training_cv_degradation_ratio",
		Help: "Ratio of latest CV mean AUC to production AUC.",
	}, []string{"model_name"})

	AutoRetrainTriggeredTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "auto_retrain_triggered_total",
		Help: "Total retrain cycles triggered, labeled by trigger reason.",
	}, []string{"model_name", "reason"})

	AutoPromotionAttemptsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "auto_promotion_attempts_total",
		Help: "Auto promotion attempts.",
	})

	AutoPromotionSuccessTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "auto_promotion_success_total",
		Help: "Auto promotion successes.",
	})
)

// Registry collects every series above into one prometheus.Registry so
// a caller can expose a single /metrics-style dump without binding any
// HTTP handler (out of scope per spec.md's Non-goals). No cmd/* entry
// point in this module calls it.
func Registry() *prometheus.Registry {
	r := prometheus.NewRegistry()
	r.MustRegister(
		KlineMessagesTotal, KlineClosedTotal, KlineFlushTotal,
		KlineFlushLatencySeconds, KlineProcessLatencySeconds, KlineBufferSize,
		IngestionLagSeconds, KlineGapDetectedTotal, KlineGapOpenSegments,
		KlineGapRemainingBars, KlineGapOldestAgeSeconds, KlineLateFillTotal,
		KlineGapSplitTotal, BackfillAttemptsTotal, BackfillRecoveredTotal,
		BackfillSegmentsRecoveredTotal, BackfillErrorsTotal, BackfillLatencySeconds,
		GapMTTRSeconds, OHLCVCompletenessPercent, FeatureComputeTotal,
		FeatureComputeErrorsTotal, LabelBatchSize, TrainingRunsTotal,
		DriftZScore, CVDegradationRatio, AutoRetrainTriggeredTotal,
		AutoPromotionAttemptsTotal, AutoPromotionSuccessTotal,
	)
	return r
}
