package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"marketlifecycle/config"
	"marketlifecycle/internal/candle"
	"marketlifecycle/internal/inference"
	"marketlifecycle/internal/label"
	"marketlifecycle/pkg"
)

func main() {
	logger := pkg.SetupLogger()
	cfg := config.LoadConfig()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.Database.DSN())
	if err != nil {
		logger.Error("labeler: connect database failed", "error", err)
		return
	}
	defer pool.Close()

	candles := candle.NewStore(pool)
	inferences := inference.NewStore(pool)

	params := label.Params{
		Lookahead: cfg.Training.Lookahead,
		Drawdown:  cfg.Training.DrawdownPct,
		Rebound:   cfg.Training.ReboundPct,
	}

	runner := label.NewRunner(inferences, candles, 2*time.Hour, 5, func(target string) label.Params {
		return params
	}, logger)

	logger.Info("labeler: starting")
	if err := runner.Run(ctx, time.Minute); err != nil && ctx.Err() == nil {
		logger.Error("labeler: runner exited", "error", err)
	}
}
