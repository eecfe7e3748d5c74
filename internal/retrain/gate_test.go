package retrain

import (
	"encoding/json"
	"testing"

	"marketlifecycle/config"
	"marketlifecycle/internal/model"
)

func baseCfg() config.PromotionConfig {
	return config.PromotionConfig{
		Enabled:         true,
		MinSampleGrowth: 1.05,
		MinAUCImprove:   0.01,
		MaxBrierDegradation: 0.01,
		MaxECEDegradation:   0.01,
	}
}

func TestEvaluatePromotion_DisabledBlocks(t *testing.T) {
	cfg := baseCfg()
	cfg.Enabled = false
	d := EvaluatePromotion(cfg, nil, map[string]any{}, true)
	if d.Promote || d.Reason != ReasonDisabledOrInvalid {
		t.Fatalf("expected disabled block, got %+v", d)
	}
}

func TestEvaluatePromotion_NoIncumbentPromotes(t *testing.T) {
	d := EvaluatePromotion(baseCfg(), nil, map[string]any{"n_samples": 500.0}, true)
	if !d.Promote || d.Reason != ReasonNoExistingModels {
		t.Fatalf("expected promote on no incumbent, got %+v", d)
	}
}

func TestEvaluatePromotion_IntervalNotElapsed(t *testing.T) {
	d := EvaluatePromotion(baseCfg(), nil, map[string]any{}, false)
	if d.Promote || d.Reason != ReasonIntervalNotElapsed {
		t.Fatalf("expected interval_not_elapsed, got %+v", d)
	}
}

func incumbentRow(metrics map[string]any) *model.Row {
	r := &model.Row{ID: 1, Status: model.StatusProduction}
	b, _ := json.Marshal(metrics)
	r.MetricsJSON = string(b)
	return r
}

func TestEvaluatePromotion_InsufficientSampleGrowthBlocks(t *testing.T) {
	inc := incumbentRow(map[string]any{"n_samples": 1000.0, "cv_auc": 0.7})
	cand := map[string]any{"n_samples": 1000.0, "cv_auc": 0.8}
	d := EvaluatePromotion(baseCfg(), inc, cand, true)
	if d.Promote || d.Reason != ReasonInsufficientSampleGrowth {
		t.Fatalf("expected insufficient_sample_growth, got %+v", d)
	}
}

func TestEvaluatePromotion_InsufficientAUCImprovementBlocks(t *testing.T) {
	inc := incumbentRow(map[string]any{"n_samples": 1000.0, "cv_auc": 0.80})
	cand := map[string]any{"n_samples": 1100.0, "cv_auc": 0.805}
	d := EvaluatePromotion(baseCfg(), inc, cand, true)
	if d.Promote || d.Reason != ReasonInsufficientAUCImprovement {
		t.Fatalf("expected insufficient_auc_improvement, got %+v", d)
	}
}

func TestEvaluatePromotion_BrierDegradationTooLargeBlocks(t *testing.T) {
	inc := incumbentRow(map[string]any{"n_samples": 1000.0, "cv_auc": 0.7, "train_brier": 0.10})
	cand := map[string]any{"n_samples": 1100.0, "cv_auc": 0.72, "train_brier": 0.13}
	d := EvaluatePromotion(baseCfg(), inc, cand, true)
	if d.Promote || d.Reason != ReasonBrierDegradationTooLarge {
		t.Fatalf("expected brier_degradation_too_large, got %+v", d)
	}
}

func TestEvaluatePromotion_AllGatesPassPromotes(t *testing.T) {
	inc := incumbentRow(map[string]any{"n_samples": 1000.0, "cv_auc": 0.70, "train_brier": 0.15, "ece": 0.05})
	cand := map[string]any{"n_samples": 1100.0, "cv_auc": 0.72, "train_brier": 0.14, "ece": 0.045}
	d := EvaluatePromotion(baseCfg(), inc, cand, true)
	if !d.Promote || d.Reason != ReasonPromoted {
		t.Fatalf("expected promotion, got %+v", d)
	}
}
