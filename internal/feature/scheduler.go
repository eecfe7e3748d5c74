package feature

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"marketlifecycle/internal/candle"
	"marketlifecycle/internal/metrics"
	"marketlifecycle/internal/sentiment"
)

// Config bundles the tunables ComputeAndStore needs beyond the raw
// candle/sentiment inputs.
type Config struct {
	PriceWindow        int
	SentimentLookback  int
	SentimentStepMs    int64
	SentimentEMAWindow []int
}

// Scheduler runs ComputeAndStore on an interval for one (symbol,
// interval) series, skipping overlapping runs via a try-lock and
// advancing its dedup pointer only on success (SPEC_FULL.md Open
// Question decision #3).
type Scheduler struct {
	Symbol, Interval string
	candles          *candle.Store
	sentiments       *sentiment.Store
	store            *Store
	cfg              Config
	logger           *slog.Logger

	mu          sync.Mutex
	running     bool
	lastSuccess int64
}

func NewScheduler(symbol, interval string, candles *candle.Store, sentiments *sentiment.Store, store *Store, cfg Config, logger *slog.Logger) *Scheduler {
	return &Scheduler{Symbol: symbol, Interval: interval, candles: candles, sentiments: sentiments, store: store, cfg: cfg, logger: logger}
}

func (s *Scheduler) Run(ctx context.Context, every time.Duration) error {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	status, err := s.ComputeAndStore(ctx)
	if err != nil {
		metrics.FeatureComputeErrorsTotal.WithLabelValues(s.Symbol, s.Interval).Inc()
		s.logger.Error("feature compute failed", "symbol", s.Symbol, "interval", s.Interval, "error", err)
		return
	}
	if status == StatusComputed {
		metrics.FeatureComputeTotal.WithLabelValues(s.Symbol, s.Interval).Inc()
	}
}

type ComputeStatus string

const (
	StatusComputed  ComputeStatus = "computed"
	StatusUnchanged ComputeStatus = "unchanged"
)

// ComputeAndStore implements spec.md §4.5. A failed run never advances
// the dedup pointer, so the next tick retries the same bar.
func (s *Scheduler) ComputeAndStore(ctx context.Context) (ComputeStatus, error) {
	window := s.cfg.PriceWindow
	if window <= 0 {
		window = 60
	}

	recent, err := s.candles.FetchRecent(ctx, s.Symbol, s.Interval, window+1)
	if err != nil || len(recent) == 0 {
		return "", err
	}
	latestOpen := recent[0].OpenTime
	if latestOpen == s.lastSuccess {
		return StatusUnchanged, nil
	}

	// FetchRecent returns descending; PriceFeatures/SentimentFeatures
	// need ascending order.
	candles := make([]candle.Candle, len(recent))
	for i, c := range recent {
		candles[len(recent)-1-i] = c
	}

	latest := candles[len(candles)-1]
	values := PriceFeatures(candles)

	if s.sentiments != nil {
		fromMs := latest.CloseTime - int64(s.cfg.SentimentLookback)*60_000
		ticks, err := s.sentiments.FetchRange(ctx, s.Symbol, fromMs, latest.CloseTime)
		if err == nil {
			sentVals := SentimentFeatures(ticks, latest.CloseTime, s.cfg.SentimentLookback, s.cfg.SentimentStepMs, s.cfg.SentimentEMAWindow)
			for k, v := range sentVals {
				values[k] = v
			}
		}
	}

	snap := Snapshot{
		Symbol: s.Symbol, Interval: s.Interval,
		OpenTime: latest.OpenTime, CloseTime: latest.CloseTime,
		Values: values,
	}
	if err := s.store.Upsert(ctx, snap); err != nil {
		return "", err
	}

	s.lastSuccess = latestOpen
	return StatusComputed, nil
}
