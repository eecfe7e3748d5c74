package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"

	"marketlifecycle/config"
	"marketlifecycle/internal/candle"
	"marketlifecycle/internal/gap"
	"marketlifecycle/internal/ingest"
	"marketlifecycle/pkg"
)

func main() {
	logger := pkg.SetupLogger()
	cfg := config.LoadConfig()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.Database.DSN())
	if err != nil {
		logger.Error("ingestor: connect database failed", "error", err)
		return
	}
	defer pool.Close()

	candles := candle.NewStore(pool)
	gaps := gap.NewStore(pool)

	for _, symbol := range cfg.Ingestion.Symbols {
		for _, interval := range cfg.Ingestion.Intervals {
			ing := ingest.New(symbol, interval, candles, gaps, cfg.Ingestion.BufferMaxSize, cfg.Ingestion.BufferFlushEvery, logger)
			go func(i *ingest.Ingestor) {
				if err := i.Start(ctx); err != nil && ctx.Err() == nil {
					logger.Error("ingestor: stream exited", "error", err)
				}
			}(ing)
		}
	}

	<-ctx.Done()
	logger.Info("ingestor: shutting down")
}
