// Package retrain implements the Retrain Controller (C11): a
// Postgres-advisory-lock-guarded state machine that watches feature
// drift, retrains on trigger, and gates promotion against the
// incumbent production model.
package retrain

import (
	"marketlifecycle/config"
	"marketlifecycle/internal/model"
)

// Gate reasons, matching auto_promotion.py's promote_if_better return
// codes exactly so alerting/dashboards can key off them.
const (
	ReasonDisabledOrInvalid          = "disabled_or_invalid"
	ReasonIntervalNotElapsed         = "interval_not_elapsed"
	ReasonNoExistingModels           = "no_existing_models"
	ReasonInsufficientSampleGrowth   = "insufficient_sample_growth"
	ReasonInsufficientAUCImprovement = "insufficient_auc_improvement"
	ReasonBrierWorseBlocked          = "brier_worse_blocked"
	ReasonBrierDegradationTooLarge   = "brier_degradation_too_large"
	ReasonECEWorseBlocked            = "ece_worse_blocked"
	ReasonECEDegradationTooLarge     = "ece_degradation_too_large"
	ReasonPromotionCallFailed        = "promotion_call_failed"
	ReasonPromoted                   = "promoted"
)

// Decision is the promotion gate's verdict: whether to promote the
// candidate and why.
type Decision struct {
	Promote bool
	Reason  string
}

// metricFloat reads one numeric field from a metrics map, returning
// (0, false) when the field is missing or not a float64. The sample
// growth check uses the zero value as is; the AUC, Brier and ECE gates
// apply only when both sides report the field.
func metricFloat(m map[string]any, key string) (float64, bool) {
	v, ok := m[key]
	if !ok || v == nil {
		return 0, false
	}
	f, ok := v.(float64)
	return f, ok
}

// EvaluatePromotion decides whether a freshly trained candidate should
// replace the incumbent production model, applying every gate in
// auto_promotion.py's order: enabled flag, min-interval, existence of
// an incumbent, sample growth, AUC improvement, and non-worse
// calibration (Brier/ECE) within tolerance.
func EvaluatePromotion(cfg config.PromotionConfig, incumbent *model.Row, candidateMetrics map[string]any, intervalElapsed bool) Decision {
	if !cfg.Enabled {
		return Decision{Reason: ReasonDisabledOrInvalid}
	}
	if !intervalElapsed {
		return Decision{Reason: ReasonIntervalNotElapsed}
	}
	if incumbent == nil {
		return Decision{Promote: true, Reason: ReasonNoExistingModels}
	}

	incumbentMetrics := incumbent.Metrics()

	candSamples, _ := metricFloat(candidateMetrics, "n_samples")
	incSamples, _ := metricFloat(incumbentMetrics, "n_samples")
	if incSamples > 0 && candSamples < incSamples*cfg.MinSampleGrowth {
		return Decision{Reason: ReasonInsufficientSampleGrowth}
	}

	candAUC, candAUCOk := metricFloat(candidateMetrics, "cv_auc")
	incAUC, incAUCOk := metricFloat(incumbentMetrics, "cv_auc")
	if candAUCOk && incAUCOk && candAUC < incAUC+cfg.MinAUCImprove {
		return Decision{Reason: ReasonInsufficientAUCImprovement}
	}

	candBrier, candBrierOk := metricFloat(candidateMetrics, "train_brier")
	incBrier, incBrierOk := metricFloat(incumbentMetrics, "train_brier")
	if candBrierOk && incBrierOk {
		if cfg.RequireNonWorseCalibration && candBrier > incBrier {
			return Decision{Reason: ReasonBrierWorseBlocked}
		}
		if candBrier > incBrier+cfg.MaxBrierDegradation {
			return Decision{Reason: ReasonBrierDegradationTooLarge}
		}
	}

	candECE, candECEOk := metricFloat(candidateMetrics, "ece")
	incECE, incECEOk := metricFloat(incumbentMetrics, "ece")
	if candECEOk && incECEOk {
		if cfg.RequireNonWorseCalibration && candECE > incECE {
			return Decision{Reason: ReasonECEWorseBlocked}
		}
		if candECE > incECE+cfg.MaxECEDegradation {
			return Decision{Reason: ReasonECEDegradationTooLarge}
		}
	}

	return Decision{Promote: true, Reason: ReasonPromoted}
}
