// Package training's Service ties dataset assembly, cross-validation,
// final-fit, artifact packaging, and registry publication into the
// single run_training_pipeline-equivalent entry point the Retrain
// Controller (C11) invokes.
package training

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"marketlifecycle/internal/artifactstore"
	"marketlifecycle/internal/candle"
	"marketlifecycle/internal/feature"
	"marketlifecycle/internal/label"
	"marketlifecycle/internal/metrics"
	"marketlifecycle/internal/model"
)

// Config bounds the pipeline's data-sufficiency floors and
// regularization strength, sourced from config.TrainingConfig.
type Config struct {
	ModelName   string
	ModelType   string
	MinSamples  int
	CVFolds     int
	L2          float64
	ValFrac     float64
	LabelParams label.Params
	// Mode selects the label variant (default ModeBottomEvent when
	// empty). HorizonBars is only consulted when Mode is ModeHorizon.
	Mode        Mode
	HorizonBars int
}

// Result is what a training run hands back to its caller (the Retrain
// Controller or an operator-triggered run): the registry id, the
// version string, and the metrics that gate promotion.
type Result struct {
	Status      string
	ModelID     int64
	Version     string
	Metrics     map[string]any
	SkipReason  string
	FeatureOrd  []string
}

const (
	StatusTrained          = "trained"
	StatusInsufficientData = "insufficient_data"
	StatusInsufficientLbl  = "insufficient_labels"
)

// NewVersion builds a deterministic-shape, collision-resistant version
// string: {ms_since_epoch}-{6 hex chars}, matching
// training_service.py's model_version generator.
func NewVersion(now time.Time) (string, error) {
	buf := make([]byte, 3)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("training: version random suffix: %w", err)
	}
	return fmt.Sprintf("%d-%s", now.UnixMilli(), hex.EncodeToString(buf)), nil
}

type Service struct {
	Features  *feature.Store
	Candles   *candle.Store
	Registry  *model.Repository
	Artifacts *artifactstore.Store
	Logger    *slog.Logger
	Cfg       Config
}

func NewService(features *feature.Store, candles *candle.Store, registry *model.Repository, artifacts *artifactstore.Store, logger *slog.Logger, cfg Config) *Service {
	return &Service{Features: features, Candles: candles, Registry: registry, Artifacts: artifacts, Logger: logger, Cfg: cfg}
}

// Run executes one full training pipeline for (symbol, interval) over
// the feature rows in [fromMs, toMs). It is the Go-native counterpart
// of training_service.py's run_training_pipeline.
func (s *Service) Run(ctx context.Context, symbol, interval string, fromMs, toMs int64) (Result, error) {
	ds, err := s.buildDataset(ctx, symbol, interval, fromMs, toMs)
	if err != nil {
		s.Logger.Warn("training: dataset build failed", "symbol", symbol, "interval", interval, "error", err)
		metrics.TrainingRunsTotal.WithLabelValues(s.Cfg.ModelName, StatusInsufficientData).Inc()
		return Result{Status: StatusInsufficientData, SkipReason: err.Error()}, nil
	}

	if len(ds.X) < s.Cfg.MinSamples {
		metrics.TrainingRunsTotal.WithLabelValues(s.Cfg.ModelName, StatusInsufficientData).Inc()
		return Result{Status: StatusInsufficientData, SkipReason: fmt.Sprintf("have %d samples, need %d", len(ds.X), s.Cfg.MinSamples)}, nil
	}

	var posCount int
	for _, y := range ds.Y {
		if y == 1 {
			posCount++
		}
	}
	if posCount == 0 || posCount == len(ds.Y) {
		metrics.TrainingRunsTotal.WithLabelValues(s.Cfg.ModelName, StatusInsufficientLbl).Inc()
		return Result{Status: StatusInsufficientLbl, SkipReason: "single-class label distribution"}, nil
	}

	folds, err := TimeOrderedFolds(len(ds.X), s.Cfg.CVFolds)
	if err != nil {
		metrics.TrainingRunsTotal.WithLabelValues(s.Cfg.ModelName, StatusInsufficientData).Inc()
		return Result{Status: StatusInsufficientData, SkipReason: err.Error()}, nil
	}

	foldResults := make([]FoldResult, 0, len(folds))
	skippedFolds := 0
	for _, f := range folds {
		fr := EvaluateFold(ds.X, ds.Y, f, s.Cfg.L2)
		if fr.Skipped {
			skippedFolds++
			s.Logger.Info("training: fold skipped", "reason", fr.SkipReason)
		}
		foldResults = append(foldResults, fr)
	}

	cvAUC, cvValid := MeanNonSkipped(foldResults)

	// Final hold-out: fit on the leading (1-val_frac) slice, evaluate
	// every reported metric on the trailing slice only, so what
	// retrain/gate.go gates promotion on is out-of-sample rather than
	// re-evaluated on its own training rows.
	holdOut := SplitHoldOut(len(ds.X), s.Cfg.ValFrac)
	trainX := subsetRows(ds.X, holdOut.TrainIdx)
	trainY := subsetInt(ds.Y, holdOut.TrainIdx)

	std := FitStandardizer(trainX)
	trainXs := std.Transform(trainX)
	finalModel, err := FitLogisticRegression(trainXs, trainY, s.Cfg.L2)
	if err != nil {
		metrics.TrainingRunsTotal.WithLabelValues(s.Cfg.ModelName, "error").Inc()
		return Result{}, fmt.Errorf("training: final fit: %w", err)
	}
	finalModel.FeatureOrder = ds.FeatureOrder
	finalModel.Standardizer.Mean = std.Mean
	finalModel.Standardizer.Scale = std.Scale

	valX := subsetRows(ds.X, holdOut.ValIdx)
	valY := subsetInt(ds.Y, holdOut.ValIdx)
	valXs := std.Transform(valX)
	valProbs := finalModel.PredictProba(valXs)
	trainAUC := SafeAUC(valY, valProbs)
	reliability := ReliabilityDecomposition(valY, valProbs)
	prAUC, prAUCValid := PRAUC(valY, valProbs)

	rawMetrics := map[string]any{
		"n_samples":        float64(len(ds.X)),
		"n_positive":       float64(posCount),
		"train_samples":    float64(len(holdOut.TrainIdx)),
		"val_samples":      float64(len(holdOut.ValIdx)),
		"cv_folds_run":     float64(len(folds) - skippedFolds),
		"cv_folds_skipped": float64(skippedFolds),
		"train_auc":        trainAUC.AUC,
		"train_accuracy":   Accuracy(valY, valProbs),
		"train_brier":      Brier(valY, valProbs),
		"ece":              reliability.ECE,
		"mce":              reliability.MCE,
	}
	if trainAUC.Note != "" {
		rawMetrics["train_auc_note"] = trainAUC.Note
	}
	if cvValid {
		rawMetrics["cv_auc"] = cvAUC
	} else {
		rawMetrics["cv_auc"] = nil
		rawMetrics["cv_auc_note"] = "all_folds_skipped"
	}
	if prAUCValid {
		rawMetrics["pr_auc"] = prAUC
	}

	modelBytes, err := json.Marshal(finalModel)
	if err != nil {
		metrics.TrainingRunsTotal.WithLabelValues(s.Cfg.ModelName, "error").Inc()
		return Result{}, fmt.Errorf("training: marshal model: %w", err)
	}

	sanitized := SanitizeMetrics(rawMetrics)
	artifact, err := artifactstore.Build(modelBytes, ds.FeatureOrder, sanitized)
	if err != nil {
		metrics.TrainingRunsTotal.WithLabelValues(s.Cfg.ModelName, "error").Inc()
		return Result{}, fmt.Errorf("training: build artifact: %w", err)
	}

	now := time.Now()
	version, err := NewVersion(now)
	if err != nil {
		metrics.TrainingRunsTotal.WithLabelValues(s.Cfg.ModelName, "error").Inc()
		return Result{}, err
	}

	artifactPath := ""
	if s.Artifacts != nil {
		key := s.Artifacts.Key(s.Cfg.ModelName, version, now)
		if err := s.Artifacts.Put(ctx, key, artifact); err != nil {
			metrics.TrainingRunsTotal.WithLabelValues(s.Cfg.ModelName, "error").Inc()
			return Result{}, fmt.Errorf("training: upload artifact: %w", err)
		}
		artifactPath = key

		if diagramKey, err := s.uploadReliabilityDiagram(ctx, version, now, reliability); err != nil {
			s.Logger.Warn("training: reliability diagram upload failed", "error", err)
		} else {
			sanitized["reliability_diagram_key"] = diagramKey
		}
	}

	modelID, err := s.Registry.Register(s.Cfg.ModelName, version, s.Cfg.ModelType, model.StatusStaging, artifactPath, sanitized)
	if err != nil {
		metrics.TrainingRunsTotal.WithLabelValues(s.Cfg.ModelName, "error").Inc()
		return Result{}, fmt.Errorf("training: register model: %w", err)
	}

	s.Logger.Info("training: run complete",
		"symbol", symbol, "interval", interval, "model_id", modelID, "version", version,
		"n_samples", len(ds.X), "cv_auc", cvAUC)

	metrics.TrainingRunsTotal.WithLabelValues(s.Cfg.ModelName, StatusTrained).Inc()
	return Result{
		Status:     StatusTrained,
		ModelID:    modelID,
		Version:    version,
		Metrics:    sanitized,
		FeatureOrd: ds.FeatureOrder,
	}, nil
}

// uploadReliabilityDiagram renders the calibration curve to a scratch
// file and uploads it next to the JSON artifact, per
// diagnose_bottom_model.py's reliability-table output.
func (s *Service) uploadReliabilityDiagram(ctx context.Context, version string, now time.Time, r ReliabilityResult) (string, error) {
	tmp, err := os.CreateTemp("", "reliability-*.png")
	if err != nil {
		return "", fmt.Errorf("training: reliability scratch file: %w", err)
	}
	path := tmp.Name()
	tmp.Close()
	defer os.Remove(path)

	if err := RenderReliabilityDiagram(r, fmt.Sprintf("%s %s", s.Cfg.ModelName, version), path); err != nil {
		return "", err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("training: read reliability diagram: %w", err)
	}

	key := fmt.Sprintf("%s/%s/%s/%s_reliability.png", s.Artifacts.Prefix, s.Cfg.ModelName, now.Format("2006/01/02"), version)
	if err := s.Artifacts.PutBytes(ctx, key, data, "image/png"); err != nil {
		return "", err
	}
	return key, nil
}

// buildDataset dispatches to the label-variant-specific dataset builder
// named by s.Cfg.Mode, defaulting to the mandatory bottom-event rule.
func (s *Service) buildDataset(ctx context.Context, symbol, interval string, fromMs, toMs int64) (Dataset, error) {
	switch s.Cfg.Mode {
	case ModeDirection1m:
		return BuildDirectionDataset(ctx, s.Features, s.Candles, symbol, interval, fromMs, toMs)
	case ModeHorizon:
		return BuildHorizonDataset(ctx, s.Features, s.Candles, symbol, interval, fromMs, toMs, s.Cfg.HorizonBars)
	default:
		return BuildBottomEventDataset(ctx, s.Features, s.Candles, symbol, interval, fromMs, toMs, s.Cfg.LabelParams)
	}
}

// CVDegradationRatio compares a candidate's CV AUC against the
// incumbent production model's stored CV AUC, matching
// auto_retrain_scheduler.py's degradation gate: a ratio below 1 means
// the candidate underperforms.
func CVDegradationRatio(candidateCVAUC, incumbentCVAUC float64) (float64, bool) {
	if incumbentCVAUC <= 0 {
		return 0, false
	}
	return candidateCVAUC / incumbentCVAUC, true
}
