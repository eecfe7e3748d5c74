package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/adshao/go-binance/v2/futures"
	"github.com/jackc/pgx/v5/pgxpool"

	"marketlifecycle/config"
	"marketlifecycle/internal/backfill"
	"marketlifecycle/internal/candle"
	"marketlifecycle/internal/gap"
	"marketlifecycle/internal/orchestrator"
	"marketlifecycle/pkg"
)

// intervalMs duplicates ingest.IntervalToMs's tiny lookup table rather
// than importing the ingest package into cmd/backfill for one function.
func intervalMs(interval string) int64 {
	switch interval {
	case "1m":
		return 60_000
	case "5m":
		return 5 * 60_000
	case "15m":
		return 15 * 60_000
	case "1h":
		return 3_600_000
	case "4h":
		return 4 * 3_600_000
	case "1d":
		return 86_400_000
	default:
		return 60_000
	}
}

func main() {
	logger := pkg.SetupLogger()
	cfg := config.LoadConfig()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.Database.DSN())
	if err != nil {
		logger.Error("backfill: connect database failed", "error", err)
		return
	}
	defer pool.Close()

	candles := candle.NewStore(pool)
	gaps := gap.NewStore(pool)
	client := futures.NewClient(cfg.Market.ApiKey, cfg.Market.ApiSecret)

	workers := make(map[string]*backfill.Worker)
	for _, symbol := range cfg.Ingestion.Symbols {
		for _, interval := range cfg.Ingestion.Intervals {
			key := symbol + "|" + interval
			workers[key] = backfill.New(symbol, interval, intervalMs(interval), cfg.Backfill.MaxBatch, client, candles, gaps, logger)
		}
	}

	orch := orchestrator.New(gaps, cfg.Backfill.PollInterval, cfg.Backfill.MaxConcurrent, func(seg gap.Segment) orchestrator.Recoverer {
		w, ok := workers[seg.Symbol+"|"+seg.Interval]
		if !ok {
			return nil
		}
		return w
	}, logger)

	go func() {
		ticker := time.NewTicker(cfg.Backfill.CompletenessTick)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				for _, symbol := range cfg.Ingestion.Symbols {
					for _, interval := range cfg.Ingestion.Intervals {
						if err := backfill.ReportCompleteness(ctx, candles, symbol, interval, intervalMs(interval), cfg.Backfill.CompletenessWindow); err != nil {
							logger.Warn("backfill: completeness report failed", "symbol", symbol, "interval", interval, "error", err)
						}
					}
				}
			}
		}
	}()

	logger.Info("backfill: orchestrator starting", "symbols", cfg.Ingestion.Symbols, "intervals", cfg.Ingestion.Intervals)
	if err := orch.Run(ctx); err != nil && ctx.Err() == nil {
		logger.Error("backfill: orchestrator exited", "error", err)
	}
}
