// Package label implements the Auto-Labeler (C9): the bottom-event
// forward-looking rule of spec.md §4.6, applied once a candidate
// inference's forward window becomes observable.
package label

import (
	"math"

	"marketlifecycle/internal/candle"
)

// Params configures one (symbol, interval, target) labeling run:
// lookahead window L (bars), drawdown threshold D, rebound threshold R.
type Params struct {
	Lookahead int
	Drawdown  float64 // positive fraction, e.g. 0.01
	Rebound   float64 // positive fraction, e.g. 0.015
}

// Outcome carries the computed label, or Defined=false when the
// forward window isn't observable yet.
type Outcome struct {
	Defined bool
	Label   int // 0 or 1
}

// FindStartIndex locates the smallest candle index whose close_time
// (in seconds) is >= createdTsSec — the bar whose close is the
// earliest reference after the inference was made.
func FindStartIndex(candles []candle.Candle, createdTsSec int64) (int, bool) {
	for i, c := range candles {
		if c.CloseTime/1000 >= createdTsSec {
			return i, true
		}
	}
	return 0, false
}

// ComputeBottomEventLabel implements spec.md §4.6 steps 1-5 given the
// start index already located by FindStartIndex.
func ComputeBottomEventLabel(candles []candle.Candle, startIdx int, p Params) Outcome {
	if startIdx < 0 || startIdx >= len(candles) {
		return Outcome{Defined: false}
	}
	p0, _ := candles[startIdx].Close.Float64()
	if p0 == 0 {
		return Outcome{Defined: false}
	}

	windowStart := startIdx + 1
	windowEnd := startIdx + p.Lookahead // inclusive
	if windowEnd >= len(candles) {
		windowEnd = len(candles) - 1
	}
	if windowStart > windowEnd {
		return Outcome{Defined: false}
	}

	minLow := math.Inf(1)
	minIdx := -1
	for i := windowStart; i <= windowEnd; i++ {
		low, _ := candles[i].Low.Float64()
		if low < minLow {
			minLow = low
			minIdx = i
		}
	}
	if minIdx < 0 {
		return Outcome{Defined: false}
	}

	drawdown := (minLow - p0) / p0
	if drawdown > -math.Abs(p.Drawdown) {
		return Outcome{Defined: true, Label: 0}
	}

	maxHigh := math.Inf(-1)
	for i := minIdx; i <= windowEnd; i++ {
		high, _ := candles[i].High.Float64()
		if high > maxHigh {
			maxHigh = high
		}
	}

	rebound := (maxHigh - minLow) / minLow
	if rebound >= math.Abs(p.Rebound) {
		return Outcome{Defined: true, Label: 1}
	}
	return Outcome{Defined: true, Label: 0}
}

// LabelForCreatedTs is the convenience wrapper combining FindStartIndex
// and ComputeBottomEventLabel, mirroring bottom_labeler.py's
// label_for_created_ts.
func LabelForCreatedTs(candles []candle.Candle, createdTsSec int64, p Params) Outcome {
	idx, ok := FindStartIndex(candles, createdTsSec)
	if !ok {
		return Outcome{Defined: false}
	}
	return ComputeBottomEventLabel(candles, idx, p)
}

// DirectionLabel implements the direction-1m variant: y = 1 iff
// close[t+1] > close[t].
func DirectionLabel(candles []candle.Candle, idx int) Outcome {
	if idx < 0 || idx+1 >= len(candles) {
		return Outcome{Defined: false}
	}
	cur, _ := candles[idx].Close.Float64()
	next, _ := candles[idx+1].Close.Float64()
	if next > cur {
		return Outcome{Defined: true, Label: 1}
	}
	return Outcome{Defined: true, Label: 0}
}

// HorizonLabel implements the horizon-H variant: y = 1 iff
// close[t+H] > close[t].
func HorizonLabel(candles []candle.Candle, idx, horizonBars int) Outcome {
	if idx < 0 || idx+horizonBars >= len(candles) {
		return Outcome{Defined: false}
	}
	cur, _ := candles[idx].Close.Float64()
	fut, _ := candles[idx+horizonBars].Close.Float64()
	if fut > cur {
		return Outcome{Defined: true, Label: 1}
	}
	return Outcome{Defined: true, Label: 0}
}
