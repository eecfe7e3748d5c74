// Package feature implements the Feature Engine (C8): price-based
// technical features, a leak-safe sentiment join, and the feature-drift
// z-score the Retrain Controller reads.
package feature

import (
	"math"

	"marketlifecycle/internal/candle"
	"marketlifecycle/internal/sentiment"
)

// Snapshot is one (symbol, interval, open_time) feature row stored in
// long form: at most one Value per feature name.
type Snapshot struct {
	Symbol    string
	Interval  string
	OpenTime  int64
	CloseTime int64
	Values    map[string]*float64 // nil entry = null (NaN/Inf sanitized)
}

func set(m map[string]*float64, name string, v float64) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		m[name] = nil
		return
	}
	vv := v
	m[name] = &vv
}

func simpleReturn(cur, prior float64) float64 {
	if prior == 0 {
		return math.NaN()
	}
	return (cur - prior) / prior
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return math.NaN()
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

// popStd is the population standard deviation (divide by N, not N-1),
// matching spec.md's rolling_vol_20 definition.
func popStd(xs []float64) float64 {
	if len(xs) == 0 {
		return math.NaN()
	}
	m := mean(xs)
	var sumSq float64
	for _, x := range xs {
		d := x - m
		sumSq += d * d
	}
	return math.Sqrt(sumSq / float64(len(xs)))
}

func rsi14(closes []float64) float64 {
	const period = 14
	if len(closes) < period+1 {
		return math.NaN()
	}
	window := closes[len(closes)-period-1:]
	var gain, loss float64
	for i := 1; i < len(window); i++ {
		d := window[i] - window[i-1]
		if d > 0 {
			gain += d
		} else {
			loss += -d
		}
	}
	if loss == 0 {
		return 100
	}
	rs := (gain / period) / (loss / period)
	return 100 - (100 / (1 + rs))
}

func ema(values []float64, n int) []float64 {
	if len(values) == 0 {
		return nil
	}
	alpha := 2.0 / (float64(n) + 1.0)
	out := make([]float64, len(values))
	out[0] = values[0]
	for i := 1; i < len(values); i++ {
		out[i] = alpha*values[i] + (1-alpha)*out[i-1]
	}
	return out
}

func atr14(candles []candle.Candle) float64 {
	const period = 14
	if len(candles) < period+1 {
		return math.NaN()
	}
	window := candles[len(candles)-period-1:]
	var trs []float64
	for i := 1; i < len(window); i++ {
		high := toF(window[i].High)
		low := toF(window[i].Low)
		prevClose := toF(window[i-1].Close)
		tr := math.Max(high-low, math.Max(math.Abs(high-prevClose), math.Abs(low-prevClose)))
		trs = append(trs, tr)
	}
	return mean(trs)
}

func toF(d interface{ Float64() (float64, bool) }) float64 {
	f, _ := d.Float64()
	return f
}

// PriceFeatures computes the mandatory price-based feature set of
// spec.md §4.5 plus the supplemental EMA/ATR/return features of
// SPEC_FULL.md, over ascending-ordered candles.
func PriceFeatures(candles []candle.Candle) map[string]*float64 {
	out := make(map[string]*float64)
	n := len(candles)
	closes := make([]float64, n)
	volumes := make([]float64, n)
	for i, c := range candles {
		closes[i] = toF(c.Close)
		volumes[i] = toF(c.Volume)
	}

	ret := func(lag int) float64 {
		if n <= lag {
			return math.NaN()
		}
		return simpleReturn(closes[n-1], closes[n-1-lag])
	}
	set(out, "ret_1", ret(1))
	set(out, "ret_5", ret(5))
	set(out, "ret_10", ret(10))
	set(out, "ret_15", ret(15))

	maN := func(window int) float64 {
		if n < window {
			return math.NaN()
		}
		return mean(closes[n-window:])
	}
	set(out, "ma_20", maN(20))
	set(out, "ma_50", maN(50))

	if n >= 20 {
		set(out, "rolling_vol_20", popStd(closes[n-20:]))
	} else {
		set(out, "rolling_vol_20", math.NaN())
	}
	set(out, "rsi_14", rsi14(closes))

	if n >= 1 {
		set(out, "log_ret_1", logReturn(closes, n-1))
	}

	ema12 := ema(closes, 12)
	ema26 := ema(closes, 26)
	if len(ema12) > 0 {
		set(out, "ema_12", ema12[len(ema12)-1])
	}
	if len(ema26) > 0 {
		set(out, "ema_26", ema26[len(ema26)-1])
		if len(ema12) > 0 && ema26[len(ema26)-1] != 0 {
			set(out, "ema_ratio", ema12[len(ema12)-1]/ema26[len(ema26)-1])
		}
	}

	set(out, "atr_14", atr14(candles))

	if n >= 20 {
		volMean := mean(volumes[n-20:])
		set(out, "volume_mean_20", volMean)
		volStd := popStd(volumes[n-20:])
		if volStd > 0 {
			set(out, "volume_zscore", (volumes[n-1]-volMean)/volStd)
		} else {
			set(out, "volume_zscore", 0)
		}
	}

	return out
}

func logReturn(closes []float64, idx int) float64 {
	if idx < 1 || idx >= len(closes) || closes[idx-1] <= 0 || closes[idx] <= 0 {
		return math.NaN()
	}
	return math.Log(closes[idx]) - math.Log(closes[idx-1])
}

// SentimentFeatures implements the leak-safe join of spec.md §4.5.3.
// endMs is the reference bar's close_time; ticks with TsMs > endMs are
// rejected by the caller before this function ever sees them, but the
// filter is repeated here defensively since "strictly greater than
// end_ms MUST NOT influence the snapshot" is an invariant, not a
// suggestion.
func SentimentFeatures(ticks []sentiment.Tick, endMs int64, lookbackMin int, stepMs int64, emaWindows []int) map[string]*float64 {
	out := make(map[string]*float64)
	fromMs := endMs - int64(lookbackMin)*60_000

	type bucket struct {
		sum   float64
		count int
		pos   int
		neg   int
	}
	buckets := make(map[int64]*bucket)
	var order []int64
	for _, tk := range ticks {
		if tk.TsMs > endMs || tk.TsMs < fromMs {
			continue
		}
		key := (tk.TsMs / stepMs) * stepMs
		b, ok := buckets[key]
		if !ok {
			b = &bucket{}
			buckets[key] = b
			order = append(order, key)
		}
		b.sum += tk.Normalized
		b.count++
		if tk.Normalized > 0 {
			b.pos++
		} else if tk.Normalized < 0 {
			b.neg++
		}
	}
	if len(order) == 0 {
		return out
	}
	sortInt64(order)

	series := make([]float64, len(order))
	for i, key := range order {
		series[i] = buckets[key].sum / float64(buckets[key].count)
	}

	for _, w := range emaWindows {
		vals := ema(series, w)
		if len(vals) > 0 {
			set(out, emaFeatureName(w), vals[len(vals)-1])
		}
	}

	last := series[len(series)-1]
	set(out, "sent_score", last)

	if len(series) > 1 {
		set(out, "d1", series[len(series)-1]-series[len(series)-2])
	}
	if len(series) > 5 {
		set(out, "d5", series[len(series)-1]-series[len(series)-6])
	}
	if len(series) >= 30 {
		set(out, "vol_30", popStd(series[len(series)-30:]))
	}

	totalCount := 0
	for _, k := range order {
		totalCount += buckets[k].count
	}
	set(out, "sent_cnt", float64(totalCount))
	if totalCount > 0 {
		var posTotal, negTotal int
		for _, k := range order {
			posTotal += buckets[k].pos
			negTotal += buckets[k].neg
		}
		set(out, "sentiment_pos_ratio", float64(posTotal)/float64(totalCount))
		set(out, "sentiment_neg_ratio", float64(negTotal)/float64(totalCount))
		set(out, "sentiment_net", float64(posTotal-negTotal)/float64(totalCount))
	}

	return out
}

func emaFeatureName(window int) string {
	switch window {
	case 1:
		return "sentiment_ema_1"
	default:
		return "sentiment_ema_" + itoa(window)
	}
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

func sortInt64(xs []int64) {
	for i := 1; i < len(xs); i++ {
		for j := i; j > 0 && xs[j-1] > xs[j]; j-- {
			xs[j-1], xs[j] = xs[j], xs[j-1]
		}
	}
}
