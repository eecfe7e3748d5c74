package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"

	"marketlifecycle/config"
	"marketlifecycle/internal/candle"
	"marketlifecycle/internal/feature"
	"marketlifecycle/internal/sentiment"
	"marketlifecycle/pkg"
)

func main() {
	logger := pkg.SetupLogger()
	cfg := config.LoadConfig()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.Database.DSN())
	if err != nil {
		logger.Error("features: connect database failed", "error", err)
		return
	}
	defer pool.Close()

	candles := candle.NewStore(pool)
	sentiments := sentiment.NewStore(pool)
	featureStore := feature.NewStore(pool)

	if cfg.Feature.SentimentProviderURL != "" {
		provider := sentiment.NewHTTPProvider(cfg.Feature.SentimentProviderURL, "default")
		poller := sentiment.NewPoller(provider, sentiments, cfg.Ingestion.Symbols, cfg.Feature.SentimentPollInterval, logger)
		go func() {
			if err := poller.Run(ctx); err != nil && ctx.Err() == nil {
				logger.Error("features: sentiment poller exited", "error", err)
			}
		}()
	}

	schedCfg := feature.Config{
		PriceWindow:        60,
		SentimentLookback:  cfg.Feature.SentimentWindowMin,
		SentimentStepMs:    5 * 60_000,
		SentimentEMAWindow: []int{int(cfg.Feature.EMAHalfLifeMin)},
	}

	for _, symbol := range cfg.Ingestion.Symbols {
		for _, interval := range cfg.Ingestion.Intervals {
			sched := feature.NewScheduler(symbol, interval, candles, sentiments, featureStore, schedCfg, logger)
			go func(s *feature.Scheduler) {
				if err := s.Run(ctx, cfg.Feature.ScheduleInterval); err != nil && ctx.Err() == nil {
					logger.Error("features: scheduler exited", "error", err)
				}
			}(sched)
		}
	}

	<-ctx.Done()
	logger.Info("features: shutting down")
}
