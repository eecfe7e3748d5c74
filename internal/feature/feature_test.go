package feature

import (
	"math"
	"testing"

	"github.com/shopspring/decimal"

	"marketlifecycle/internal/candle"
	"marketlifecycle/internal/sentiment"
)

func assertFloatEquals(t *testing.T, name string, expected, actual float64) {
	const epsilon = 1e-6
	if math.Abs(expected-actual) > epsilon {
		t.Errorf("%s: expected %v, got %v", name, expected, actual)
	}
}

func mkCandle(openTime int64, close float64) candle.Candle {
	d := decimal.NewFromFloat(close)
	return candle.Candle{
		Symbol: "BTCUSDT", Interval: "1m", OpenTime: openTime, CloseTime: openTime + 59999,
		Open: d, High: d, Low: d, Close: d, Volume: decimal.NewFromFloat(10),
	}
}

func TestPriceFeatures_Ret1(t *testing.T) {
	candles := []candle.Candle{mkCandle(0, 100), mkCandle(60000, 110)}
	out := PriceFeatures(candles)
	if out["ret_1"] == nil {
		t.Fatal("expected ret_1 to be set")
	}
	assertFloatEquals(t, "ret_1", 0.1, *out["ret_1"])
}

func TestPriceFeatures_InsufficientHistoryIsNull(t *testing.T) {
	candles := []candle.Candle{mkCandle(0, 100)}
	out := PriceFeatures(candles)
	if out["ret_5"] != nil {
		t.Errorf("expected ret_5 to be null with insufficient history, got %v", *out["ret_5"])
	}
	if out["ma_20"] != nil {
		t.Errorf("expected ma_20 to be null with insufficient history")
	}
}

func TestPriceFeatures_RSIEmptyLossIs100(t *testing.T) {
	candles := make([]candle.Candle, 0, 16)
	price := 100.0
	for i := 0; i < 16; i++ {
		candles = append(candles, mkCandle(int64(i)*60000, price))
		price += 1 // strictly increasing -> no losses
	}
	out := PriceFeatures(candles)
	if out["rsi_14"] == nil {
		t.Fatal("expected rsi_14 to be set")
	}
	assertFloatEquals(t, "rsi_14", 100.0, *out["rsi_14"])
}

func TestComputeDrift_InsufficientHistory(t *testing.T) {
	if _, ok := ComputeDrift([]float64{1, 2, 3}, 5); ok {
		t.Error("expected insufficient history to report ok=false")
	}
}

func TestComputeDrift_DetectsShift(t *testing.T) {
	prior := []float64{1, 1, 1, 1, 1}
	recent := []float64{5, 5, 5, 5, 5}
	series := append(append([]float64{}, prior...), recent...)
	z, ok := ComputeDrift(series, 5)
	if !ok {
		t.Fatal("expected enough history")
	}
	if z <= 0 {
		t.Errorf("expected positive drift for an upward shift, got %v", z)
	}
}

func TestSentimentFeatures_LeakSafeJoin(t *testing.T) {
	const endMs = 600_000
	ticks := []sentiment.Tick{
		{Symbol: "BTCUSDT", TsMs: endMs - 30_000, Normalized: 0.6},
		{Symbol: "BTCUSDT", TsMs: endMs + 30_000, Normalized: -0.9},
	}
	out := SentimentFeatures(ticks, endMs, 60, 60_000, nil)

	if out["sent_score"] == nil {
		t.Fatal("expected sent_score to be set")
	}
	assertFloatEquals(t, "sent_score", 0.6, *out["sent_score"])

	if out["sent_cnt"] == nil || *out["sent_cnt"] < 1 {
		t.Fatalf("expected sent_cnt >= 1, got %v", out["sent_cnt"])
	}
}

func TestAggregateDrift_MaxAbsVsMeanTop3(t *testing.T) {
	z := map[string]float64{"a": 1, "b": -5, "c": 2, "d": 3}
	if got := AggregateDrift(z, "max_abs"); got != 5 {
		t.Errorf("max_abs: expected 5, got %v", got)
	}
	got := AggregateDrift(z, "mean_top3")
	want := (5.0 + 3.0 + 2.0) / 3.0
	assertFloatEquals(t, "mean_top3", want, got)
}
