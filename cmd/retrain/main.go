// Command retrain runs the Retrain Controller (C11) and the
// Calibration Monitor as two long-lived loops in one process, guarded
// by a Postgres advisory lock so only one replica drives promotions at
// a time.
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
	"marketlifecycle/internal/inference"
	"marketlifecycle/internal/label"
	"marketlifecycle/internal/model"
	"marketlifecycle/internal/notify"
	"marketlifecycle/internal/retrain"
	"marketlifecycle/internal/training"
	"marketlifecycle/pkg"
)

// watchedFeatureNames are the price features the drift detector samples
// per target; sentiment features drift far more slowly and are left to
// the calibration monitor instead.
var watchedFeatureNames = []string{"ret_1", "rolling_vol_20", "rsi_14", "atr_14"}

const (
	controllerTick  = 5 * time.Minute
	calibrationTick = 30 * time.Minute
	driftWindow     = 60
)

func main() {
	logger := pkg.SetupLogger()
	cfg := config.LoadConfig()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.Database.DSN())
	if err != nil {
		logger.Error("retrain: connect database failed", "error", err)
		return
	}
	defer pool.Close()

	gormDB, err := gorm.Open(postgres.Open(cfg.Database.DSN()), &gorm.Config{})
	if err != nil {
		logger.Error("retrain: connect gorm registry failed", "error", err)
		return
	}

	candles := candle.NewStore(pool)
	featureStore := feature.NewStore(pool)
	inferences := inference.NewStore(pool)
	registry := model.NewRepository(gormDB)
	audit := model.NewAuditRepository(gormDB)
	notifier := notify.NewClient(cfg.Notify.WebhookURL, logger)

	var artifacts *artifactstore.Store
	if cfg.Artifact.S3Bucket != "" {
		artifacts, err = artifactstore.NewStore(ctx, cfg.Artifact.S3Bucket, cfg.Artifact.S3Prefix, cfg.Artifact.S3Region)
		if err != nil {
			logger.Error("retrain: artifact store init failed", "error", err)
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
	trainingSvc := training.NewService(featureStore, candles, registry, artifacts, logger, trainingCfg)

	lock := retrain.NewAdvisoryLock(pool, cfg.Retrain.LockKey)
	controller := retrain.NewController(lock, trainingSvc, registry, audit, featureStore, notifier, logger, cfg.Retrain, cfg.Promotion)

	targets := make([]retrain.Target, 0, len(cfg.Ingestion.Symbols)*len(cfg.Ingestion.Intervals))
	for _, symbol := range cfg.Ingestion.Symbols {
		for _, interval := range cfg.Ingestion.Intervals {
			targets = append(targets, retrain.Target{
				Symbol:       symbol,
				Interval:     interval,
				ModelType:    trainingCfg.ModelType,
				WatchedNames: watchedFeatureNames,
				DriftWindow:  driftWindow,
			})
		}
	}

	monitor := retrain.NewCalibrationMonitor(inferences, registry, notifier, logger, cfg.Retrain)

	go func() {
		monitor.Run(ctx, []string{cfg.Promotion.ModelName}, calibrationTick)
	}()

	logger.Info("retrain: controller starting", "targets", len(targets))
	controller.Run(ctx, targets, controllerTick)
	logger.Info("retrain: shutting down")
}
