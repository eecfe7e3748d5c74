package ingest

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"

	"marketlifecycle/internal/candle"
)

func TestIntervalToMs(t *testing.T) {
	cases := map[string]int64{
		"1m":  60_000,
		"5m":  300_000,
		"1h":  3_600_000,
		"4h":  14_400_000,
		"1d":  86_400_000,
		"bad": 60_000,
	}
	for in, want := range cases {
		if got := IntervalToMs(in); got != want {
			t.Errorf("IntervalToMs(%q) = %d, want %d", in, got, want)
		}
	}
}

func TestToCandle(t *testing.T) {
	ig := &Ingestor{Symbol: "BTCUSDT", Interval: "1m"}
	k := KlineData{
		OpenTime: 1000, CloseTime: 1999,
		Open: json.Number("100.5"), High: json.Number("101.2"),
		Low: json.Number("99.8"), Close: json.Number("100.9"),
		Volume: json.Number("12.34"), QuoteVolume: json.Number("1234.5"),
		TradeCount: 42, IsClosed: true,
	}
	c := ig.toCandle(k, candle.SourceLiveStream)
	if c.Symbol != "BTCUSDT" || c.Interval != "1m" {
		t.Fatalf("unexpected identity: %+v", c)
	}
	want, _ := decimal.NewFromString("100.9")
	if !c.Close.Equal(want) {
		t.Errorf("unexpected close: %s", c.Close)
	}
	if c.TradeCount != 42 {
		t.Errorf("unexpected trade count: %d", c.TradeCount)
	}
}
