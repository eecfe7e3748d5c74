// Command train runs one full training pipeline invocation (C10) for
// every configured (symbol, interval) pair over a trailing window,
// registering each resulting model as staging. It is the manual or
// cron-triggered counterpart to the drift-triggered runs the Retrain
// Controller performs on its own schedule.
package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"marketlifecycle/config"
	"marketlifecycle/internal/artifactstore"
	"marketlifecycle/internal/candle"
	"marketlifecycle/internal/feature"
	"marketlifecycle/internal/label"
	"marketlifecycle/internal/model"
	"marketlifecycle/internal/training"
	"marketlifecycle/pkg"
)

func main() {
	logger := pkg.SetupLogger()
	cfg := config.LoadConfig()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.Database.DSN())
	if err != nil {
		logger.Error("train: connect database failed", "error", err)
		return
	}
	defer pool.Close()

	gormDB, err := gorm.Open(postgres.Open(cfg.Database.DSN()), &gorm.Config{})
	if err != nil {
		logger.Error("train: connect gorm registry failed", "error", err)
		return
	}

	candles := candle.NewStore(pool)
	featureStore := feature.NewStore(pool)
	registry := model.NewRepository(gormDB)

	var artifacts *artifactstore.Store
	if cfg.Artifact.S3Bucket != "" {
		artifacts, err = artifactstore.NewStore(ctx, cfg.Artifact.S3Bucket, cfg.Artifact.S3Prefix, cfg.Artifact.S3Region)
		if err != nil {
			logger.Error("train: artifact store init failed", "error", err)
			return
		}
	}

	trainingCfg := training.Config{
		ModelName:  cfg.Promotion.ModelName,
		ModelType:  "bottom_event",
		MinSamples: cfg.Training.MinSamples,
		CVFolds:    cfg.Training.CVFolds,
		L2:         1.0,
		ValFrac:    cfg.Training.ValFrac,
		LabelParams: label.Params{
			Lookahead: cfg.Training.Lookahead,
			Drawdown:  cfg.Training.DrawdownPct,
			Rebound:   cfg.Training.ReboundPct,
		},
	}
	svc := training.NewService(featureStore, candles, registry, artifacts, logger, trainingCfg)

	now := time.Now()
	toMs := now.UnixMilli()
	fromMs := toMs - 90*24*60*60*1000

	for _, symbol := range cfg.Ingestion.Symbols {
		for _, interval := range cfg.Ingestion.Intervals {
			result, err := svc.Run(ctx, symbol, interval, fromMs, toMs)
			if err != nil {
				logger.Error("train: run failed", "symbol", symbol, "interval", interval, "error", err)
				continue
			}
			logger.Info("train: run finished", "symbol", symbol, "interval", interval, "status", result.Status, "version", result.Version, "reason", result.SkipReason)
		}
	}
}
