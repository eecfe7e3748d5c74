package label

import (
	"context"
	"log/slog"
	"time"

	"marketlifecycle/internal/candle"
	"marketlifecycle/internal/inference"
	"marketlifecycle/internal/metrics"
)

// groupKey identifies one (symbol, interval, target) labeling group.
type groupKey struct {
	Symbol, Interval, Target string
}

// Runner batches candidate inferences, fetches one ascending OHLCV
// window per group, computes labels, and writes them, per spec.md
// §4.6's batching contract.
type Runner struct {
	inferences *inference.Store
	candles    *candle.Store
	minAge     time.Duration
	slack      int
	paramsFor  func(target string) Params
	logger     *slog.Logger
}

func NewRunner(inferences *inference.Store, candles *candle.Store, minAge time.Duration, slack int, paramsFor func(string) Params, logger *slog.Logger) *Runner {
	return &Runner{inferences: inferences, candles: candles, minAge: minAge, slack: slack, paramsFor: paramsFor, logger: logger}
}

func (r *Runner) Run(ctx context.Context, every time.Duration) error {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := r.RunOnce(ctx); err != nil {
				r.logger.Error("label run failed", "error", err)
			}
		}
	}
}

func (r *Runner) RunOnce(ctx context.Context) error {
	cutoff := time.Now().Add(-r.minAge)
	candidates, err := r.inferences.FetchUnlabeledOlderThan(ctx, cutoff, 1000)
	if err != nil {
		return err
	}
	if len(candidates) == 0 {
		return nil
	}

	groups := make(map[groupKey][]inference.Record)
	for _, c := range candidates {
		key := groupKey{c.Symbol, c.Interval, c.Target}
		groups[key] = append(groups[key], c)
	}

	for key, recs := range groups {
		params := r.paramsFor(key.Target)
		metrics.LabelBatchSize.WithLabelValues(key.Symbol, key.Interval, key.Target).Set(float64(len(recs)))

		windowSize := params.Lookahead + r.slack
		requiredAge := time.Duration(windowSize) * intervalDuration(key.Interval)

		oldest := recs[0].CreatedAt
		for _, rec := range recs {
			if rec.CreatedAt.Before(oldest) {
				oldest = rec.CreatedAt
			}
		}
		from := oldest.Add(-time.Hour).UnixMilli()
		to := time.Now().UnixMilli()

		candles, err := r.candles.FetchRange(ctx, key.Symbol, key.Interval, from, to)
		if err != nil {
			r.logger.Error("label fetch candles failed", "group", key, "error", err)
			continue
		}
		if len(candles) == 0 {
			continue
		}

		for _, rec := range recs {
			if time.Since(rec.CreatedAt) < requiredAge {
				continue // forward window hasn't fully elapsed yet
			}
			outcome := LabelForCreatedTs(candles, rec.CreatedAt.Unix(), params)
			if !outcome.Defined {
				continue
			}
			if err := r.inferences.SetRealizedLabel(ctx, rec.ID, outcome.Label); err != nil {
				r.logger.Error("label write failed", "id", rec.ID, "error", err)
			}
		}
	}
	return nil
}

// intervalDuration duplicates the tiny interval-string lookup table
// already present in internal/ingest and cmd/backfill; kept local
// rather than shared to avoid a cross-package import for one function.
func intervalDuration(interval string) time.Duration {
	switch interval {
	case "1m":
		return time.Minute
	case "3m":
		return 3 * time.Minute
	case "5m":
		return 5 * time.Minute
	case "15m":
		return 15 * time.Minute
	case "30m":
		return 30 * time.Minute
	case "1h":
		return time.Hour
	case "2h":
		return 2 * time.Hour
	case "4h":
		return 4 * time.Hour
	case "1d":
		return 24 * time.Hour
	default:
		return time.Minute
	}
}
