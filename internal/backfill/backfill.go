// Package backfill implements the Gap Backfill Worker (C6): recovers
// bars for one gap segment with a bounded historical-range request and
// reports recovery progress back to the gap store.
package backfill

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/adshao/go-binance/v2/futures"
	"github.com/shopspring/decimal"

	"marketlifecycle/internal/apperr"
	"marketlifecycle/internal/candle"
	"marketlifecycle/internal/gap"
	"marketlifecycle/internal/metrics"
)

// Worker recovers gap segments for one (symbol, interval) series.
type Worker struct {
	Symbol     string
	Interval   string
	intervalMs int64
	maxBatch   int

	client  *futures.Client
	candles *candle.Store
	gaps    *gap.Store
	logger  *slog.Logger

	onRepair func(recovered []candle.Candle)
}

func New(symbol, interval string, intervalMs int64, maxBatch int, client *futures.Client, candles *candle.Store, gaps *gap.Store, logger *slog.Logger) *Worker {
	return &Worker{
		Symbol: symbol, Interval: interval, intervalMs: intervalMs, maxBatch: maxBatch,
		client: client, candles: candles, gaps: gaps, logger: logger,
	}
}

// OnRepair registers a callback fired with the newly upserted candles
// on every successful recovery pass (full or partial).
func (w *Worker) OnRepair(fn func(recovered []candle.Candle)) {
	w.onRepair = fn
}

// RecoverSegment implements spec.md §4.3's algorithm for one segment.
func (w *Worker) RecoverSegment(ctx context.Context, seg gap.Segment) (gap.Segment, error) {
	start := time.Now()
	metrics.BackfillAttemptsTotal.WithLabelValues(w.Symbol, w.Interval).Inc()

	limit := seg.RemainingBars + 2
	if limit > int64(w.maxBatch) {
		limit = int64(w.maxBatch)
	}

	klines, err := w.client.NewKlinesService().
		Symbol(w.Symbol).
		Interval(w.Interval).
		StartTime(seg.FromOpenTime).
		EndTime(seg.ToOpenTime + w.intervalMs).
		Limit(int(limit)).
		Do(ctx)
	if err != nil {
		metrics.BackfillErrorsTotal.WithLabelValues(w.Symbol, w.Interval).Inc()
		return seg, apperr.Transient("backfill.klines_request", err)
	}

	var recovered []candle.Candle
	for _, k := range klines {
		if k.OpenTime < seg.FromOpenTime || k.OpenTime > seg.ToOpenTime {
			continue
		}
		recovered = append(recovered, toCandle(w.Symbol, w.Interval, k))
	}

	if len(recovered) == 0 {
		metrics.BackfillLatencySeconds.WithLabelValues(w.Symbol, w.Interval).Observe(time.Since(start).Seconds())
		return seg, nil
	}

	if err := w.candles.BulkUpsert(ctx, recovered); err != nil {
		metrics.BackfillErrorsTotal.WithLabelValues(w.Symbol, w.Interval).Inc()
		return seg, apperr.Data("backfill.bulk_upsert", err)
	}
	metrics.BackfillRecoveredTotal.WithLabelValues(w.Symbol, w.Interval).Add(float64(len(recovered)))

	recoveredCount := int64(len(recovered))
	seg.RecoveredBars += recoveredCount

	switch {
	case recoveredCount >= seg.RemainingBars:
		seg.RemainingBars = 0
		seg.Status = gap.StatusRecovered
		now := time.Now()
		seg.RecoveredAt = &now
		metrics.BackfillSegmentsRecoveredTotal.WithLabelValues(w.Symbol, w.Interval).Inc()
		metrics.GapMTTRSeconds.WithLabelValues(w.Symbol, w.Interval).Observe(now.Sub(seg.DetectedAt).Seconds())
	default:
		seg.RemainingBars -= recoveredCount
		seg.Status = gap.StatusPartial
	}

	if err := w.gaps.UpdateProgress(ctx, seg); err != nil {
		return seg, fmt.Errorf("backfill update progress: %w", err)
	}
	metrics.BackfillLatencySeconds.WithLabelValues(w.Symbol, w.Interval).Observe(time.Since(start).Seconds())

	if w.onRepair != nil {
		w.onRepair(recovered)
	}
	return seg, nil
}

// ReportCompleteness sets the ohlcv_candles_completeness_percent gauge
// for one (symbol, interval) series over a trailing window, comparing
// stored bars against the count expected at intervalMs spacing.
func ReportCompleteness(ctx context.Context, candles *candle.Store, symbol, interval string, intervalMs int64, window time.Duration) error {
	to := time.Now().UnixMilli()
	from := to - window.Milliseconds()
	expected := gap.ExpectedBars(from, to, intervalMs)
	if expected <= 0 {
		return nil
	}
	present, err := candles.CountInRange(ctx, symbol, interval, from, to)
	if err != nil {
		return fmt.Errorf("backfill completeness count: %w", err)
	}
	pct := float64(present) / float64(expected) * 100
	if pct > 100 {
		pct = 100
	}
	metrics.OHLCVCompletenessPercent.WithLabelValues(symbol, interval).Set(pct)
	return nil
}

func toCandle(symbol, interval string, k *futures.Kline) candle.Candle {
	parse := func(s string) decimal.Decimal {
		d, err := decimal.NewFromString(s)
		if err != nil {
			return decimal.Zero
		}
		return d
	}
	return candle.Candle{
		Symbol:      symbol,
		Interval:    interval,
		OpenTime:    k.OpenTime,
		CloseTime:   k.CloseTime,
		Open:        parse(k.Open),
		High:        parse(k.High),
		Low:         parse(k.Low),
		Close:       parse(k.Close),
		Volume:      parse(k.Volume),
		QuoteVolume: parse(k.QuoteAssetVolume),
		TradeCount:  k.TradeNum,
		Source:      candle.SourceGapBackfill,
	}
}
