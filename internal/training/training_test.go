package training

import (
	"math"
	"testing"
	"time"
)

func TestSafeAUC_PerfectSeparation(t *testing.T) {
	y := []int{0, 0, 0, 1, 1, 1}
	scores := []float64{0.1, 0.2, 0.3, 0.7, 0.8, 0.9}
	r := SafeAUC(y, scores)
	if !r.Valid || math.Abs(r.AUC-1.0) > 1e-9 {
		t.Fatalf("expected AUC 1.0, got %+v", r)
	}
}

func TestSafeAUC_SingleClassFallsBack(t *testing.T) {
	y := []int{1, 1, 1}
	scores := []float64{0.1, 0.5, 0.9}
	r := SafeAUC(y, scores)
	if r.AUC != 0.5 || r.Note != "single_class" {
		t.Fatalf("expected single_class fallback, got %+v", r)
	}
}

func TestSafeAUC_EmptyIsInvalid(t *testing.T) {
	r := SafeAUC(nil, nil)
	if r.Valid {
		t.Fatal("expected invalid result for empty input")
	}
}

func TestBrier_PerfectPredictionsIsZero(t *testing.T) {
	y := []int{0, 1}
	p := []float64{0, 1}
	if got := Brier(y, p); got != 0 {
		t.Fatalf("expected 0, got %v", got)
	}
}

func TestReliabilityDecomposition_PerfectCalibration(t *testing.T) {
	y := []int{0, 0, 1, 1}
	p := []float64{0.1, 0.1, 0.9, 0.9}
	r := ReliabilityDecomposition(y, p)
	if r.ECE > 0.2 {
		t.Fatalf("expected low ECE for near-perfect calibration, got %v", r.ECE)
	}
}

func TestFitStandardizer_ZeroVarianceColumnGetsScaleOne(t *testing.T) {
	x := [][]float64{{5, 1}, {5, 2}, {5, 3}}
	s := FitStandardizer(x)
	if s.Scale[0] != 1 {
		t.Fatalf("expected scale 1 for constant column, got %v", s.Scale[0])
	}
}

func TestFitLogisticRegression_SeparatesLinearData(t *testing.T) {
	x := [][]float64{{-2}, {-1}, {-0.5}, {0.5}, {1}, {2}}
	y := []int{0, 0, 0, 1, 1, 1}
	std := FitStandardizer(x)
	xs := std.Transform(x)
	m, err := FitLogisticRegression(xs, y, 0.01)
	if err != nil {
		t.Fatalf("fit failed: %v", err)
	}
	probs := m.PredictProba(xs)
	if probs[0] > 0.5 || probs[len(probs)-1] < 0.5 {
		t.Fatalf("expected monotone separation, got %v", probs)
	}
}

func TestTimeOrderedFolds_RejectsTooFewSamples(t *testing.T) {
	_, err := TimeOrderedFolds(3, 5)
	if err == nil {
		t.Fatal("expected error for insufficient samples")
	}
}

func TestTimeOrderedFolds_ProducesExpandingWindows(t *testing.T) {
	folds, err := TimeOrderedFolds(100, 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(folds) != 3 {
		t.Fatalf("expected 3 folds, got %d", len(folds))
	}
	for i, f := range folds {
		if len(f.TrainIdx) == 0 || len(f.ValIdx) == 0 {
			t.Fatalf("fold %d has empty train or val set", i)
		}
		if f.TrainIdx[len(f.TrainIdx)-1] >= f.ValIdx[0] {
			t.Fatalf("fold %d validation overlaps/precedes training", i)
		}
	}
}

func TestEvaluateFold_SkipsTooSmallValidation(t *testing.T) {
	x := [][]float64{{1}, {2}, {3}, {4}}
	y := []int{0, 1, 0, 1}
	fr := EvaluateFold(x, y, Fold{TrainIdx: []int{0, 1}, ValIdx: []int{2, 3}}, 0.01)
	if !fr.Skipped || fr.SkipReason != "validation_too_small" {
		t.Fatalf("expected validation_too_small skip, got %+v", fr)
	}
}

func TestNewVersion_HasExpectedShape(t *testing.T) {
	v, err := NewVersion(time.Now())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(v) < 10 {
		t.Fatalf("version string looks too short: %q", v)
	}
}

func TestCVDegradationRatio_ZeroIncumbentIsInvalid(t *testing.T) {
	if _, ok := CVDegradationRatio(0.8, 0); ok {
		t.Fatal("expected invalid ratio for zero incumbent AUC")
	}
}

func TestCVDegradationRatio_ComputesRatio(t *testing.T) {
	ratio, ok := CVDegradationRatio(0.6, 0.8)
	if !ok {
		t.Fatal("expected valid ratio")
	}
	if math.Abs(ratio-0.75) > 1e-9 {
		t.Fatalf("expected 0.75, got %v", ratio)
	}
}
