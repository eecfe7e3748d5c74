package feature

import "math"

// ComputeDrift returns a Cohen's-d-like z-score between the most recent
// `window` values of a series and the `window` values preceding them,
// per original_source's auto_retrain_scheduler.py drift computation.
// Returns (0, false) when there isn't enough history for both windows.
func ComputeDrift(series []float64, window int) (float64, bool) {
	if len(series) < 2*window {
		return 0, false
	}
	recent := series[len(series)-window:]
	prior := series[len(series)-2*window : len(series)-window]

	mRecent := mean(recent)
	mPrior := mean(prior)
	sRecent := popStd(recent)
	sPrior := popStd(prior)

	pooled := math.Sqrt((sRecent*sRecent + sPrior*sPrior) / 2)
	if pooled == 0 {
		if mRecent == mPrior {
			return 0, true
		}
		return math.Inf(1) * sign(mRecent-mPrior), true
	}
	return (mRecent - mPrior) / pooled, true
}

func sign(x float64) float64 {
	if x < 0 {
		return -1
	}
	return 1
}

// AggregateDrift implements the two aggregation modes from
// auto_retrain_scheduler.py: max_abs takes the single largest |z|
// across features; mean_top3 averages the three largest |z| values.
func AggregateDrift(zScores map[string]float64, mode string) float64 {
	if len(zScores) == 0 {
		return 0
	}
	abs := make([]float64, 0, len(zScores))
	for _, z := range zScores {
		abs = append(abs, math.Abs(z))
	}
	// descending sort, small n so insertion sort is fine
	for i := 1; i < len(abs); i++ {
		for j := i; j > 0 && abs[j-1] < abs[j]; j-- {
			abs[j-1], abs[j] = abs[j], abs[j-1]
		}
	}
	if mode == "max_abs" {
		return abs[0]
	}
	// mean_top3
	n := 3
	if n > len(abs) {
		n = len(abs)
	}
	var sum float64
	for i := 0; i < n; i++ {
		sum += abs[i]
	}
	return sum / float64(n)
}
