// Package training implements the Training Service (C10):
// standardization + logistic regression, time-ordered cross-validation,
// and the robust metric suite of spec.md §4.7.
package training

import (
	"math"
	"sort"
)

// SafeAUCResult carries the AUC value together with a note explaining
// any degenerate-input fallback, matching training_service.py's
// _safe_auc contract.
type SafeAUCResult struct {
	AUC   float64
	Note  string
	Valid bool
}

// SafeAUC computes ROC AUC robustly: empty input returns an invalid
// result with a note (callers store null); a single-class or
// constant-score input returns 0.5 with a note instead of erroring.
func SafeAUC(yTrue []int, yScore []float64) SafeAUCResult {
	if len(yTrue) == 0 {
		return SafeAUCResult{Note: "empty_val", Valid: false}
	}

	allSame := true
	for _, y := range yTrue {
		if y != yTrue[0] {
			allSame = false
			break
		}
	}
	if allSame {
		return SafeAUCResult{AUC: 0.5, Note: "single_class", Valid: true}
	}

	constantScores := true
	for _, s := range yScore {
		if s != yScore[0] {
			constantScores = false
			break
		}
	}
	if constantScores {
		return SafeAUCResult{AUC: 0.5, Note: "constant_scores", Valid: true}
	}

	return SafeAUCResult{AUC: rocAUC(yTrue, yScore), Valid: true}
}

// rocAUC computes AUC via the Mann-Whitney U statistic over tied ranks.
func rocAUC(yTrue []int, yScore []float64) float64 {
	type pair struct {
		score float64
		label int
	}
	pairs := make([]pair, len(yTrue))
	for i := range yTrue {
		pairs[i] = pair{yScore[i], yTrue[i]}
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].score < pairs[j].score })

	ranks := make([]float64, len(pairs))
	i := 0
	for i < len(pairs) {
		j := i
		for j < len(pairs) && pairs[j].score == pairs[i].score {
			j++
		}
		avgRank := float64(i+j+1) / 2.0 // 1-indexed average rank for ties
		for k := i; k < j; k++ {
			ranks[k] = avgRank
		}
		i = j
	}

	var sumRanksPos float64
	var nPos, nNeg int
	for i, p := range pairs {
		if p.label == 1 {
			sumRanksPos += ranks[i]
			nPos++
		} else {
			nNeg++
		}
	}
	if nPos == 0 || nNeg == 0 {
		return 0.5
	}
	u := sumRanksPos - float64(nPos)*(float64(nPos)+1)/2
	return u / (float64(nPos) * float64(nNeg))
}

// Brier is the mean squared error between predicted probability and
// the binary outcome.
func Brier(yTrue []int, yProb []float64) float64 {
	if len(yTrue) == 0 {
		return math.NaN()
	}
	var sum float64
	for i := range yTrue {
		d := yProb[i] - float64(yTrue[i])
		sum += d * d
	}
	return sum / float64(len(yTrue))
}

// Accuracy at a fixed decision threshold of 0.5.
func Accuracy(yTrue []int, yProb []float64) float64 {
	if len(yTrue) == 0 {
		return math.NaN()
	}
	correct := 0
	for i := range yTrue {
		pred := 0
		if yProb[i] >= 0.5 {
			pred = 1
		}
		if pred == yTrue[i] {
			correct++
		}
	}
	return float64(correct) / float64(len(yTrue))
}

// ReliabilityBin is one bucket of the 10-bin reliability decomposition.
type ReliabilityBin struct {
	LowerBound    float64
	MeanPredicted float64
	EmpiricalRate float64
	Count         int
}

// ReliabilityResult holds the per-bin breakdown plus the aggregate ECE
// (weighted mean |mean_prob - empirical|) and MCE (max).
type ReliabilityResult struct {
	Bins []ReliabilityBin
	ECE  float64
	MCE  float64
}

// ReliabilityDecomposition buckets predictions into 10 equal-width
// probability bins and computes ECE/MCE, per training_service.py.
func ReliabilityDecomposition(yTrue []int, yProb []float64) ReliabilityResult {
	const nBins = 10
	type acc struct {
		sumProb float64
		sumLbl  float64
		count   int
	}
	bins := make([]acc, nBins)

	for i, p := range yProb {
		idx := int(p * nBins)
		if idx >= nBins {
			idx = nBins - 1
		}
		if idx < 0 {
			idx = 0
		}
		bins[idx].sumProb += p
		bins[idx].sumLbl += float64(yTrue[i])
		bins[idx].count++
	}

	var result ReliabilityResult
	total := len(yProb)
	var weightedAbsDiff float64
	var maxAbsDiff float64

	for i, b := range bins {
		rb := ReliabilityBin{LowerBound: float64(i) / nBins, Count: b.count}
		if b.count > 0 {
			rb.MeanPredicted = b.sumProb / float64(b.count)
			rb.EmpiricalRate = b.sumLbl / float64(b.count)
			diff := math.Abs(rb.MeanPredicted - rb.EmpiricalRate)
			if total > 0 {
				weightedAbsDiff += diff * float64(b.count) / float64(total)
			}
			if diff > maxAbsDiff {
				maxAbsDiff = diff
			}
		}
		result.Bins = append(result.Bins, rb)
	}
	result.ECE = weightedAbsDiff
	result.MCE = maxAbsDiff
	return result
}

// PRAUC approximates area under the precision-recall curve as a
// step-wise sum of precision times the recall increment, taking one
// step per sample in descending score order; tied scores are not
// grouped.
func PRAUC(yTrue []int, yScore []float64) (float64, bool) {
	if len(yTrue) == 0 {
		return 0, false
	}
	type pair struct {
		score float64
		label int
	}
	pairs := make([]pair, len(yTrue))
	for i := range yTrue {
		pairs[i] = pair{yScore[i], yTrue[i]}
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].score > pairs[j].score })

	var totalPos int
	for _, y := range yTrue {
		if y == 1 {
			totalPos++
		}
	}
	if totalPos == 0 {
		return 0, false
	}

	var tp, fp int
	var prevRecall float64
	var area float64
	for _, p := range pairs {
		if p.label == 1 {
			tp++
		} else {
			fp++
		}
		precision := float64(tp) / float64(tp+fp)
		recall := float64(tp) / float64(totalPos)
		area += precision * (recall - prevRecall)
		prevRecall = recall
	}
	return area, true
}

// SanitizeMetrics replaces NaN/Inf floats with nil so the JSON artifact
// never carries non-finite values, per spec.md's artifact contract.
func SanitizeMetrics(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		if f, ok := v.(float64); ok && (math.IsNaN(f) || math.IsInf(f, 0)) {
			out[k] = nil
			continue
		}
		out[k] = v
	}
	return out
}
