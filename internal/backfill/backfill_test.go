package backfill

import (
	"testing"

	"github.com/adshao/go-binance/v2/futures"

	"marketlifecycle/internal/candle"
)

func TestToCandle(t *testing.T) {
	k := &futures.Kline{
		OpenTime: 60_000, CloseTime: 119_999,
		Open: "100", High: "105", Low: "99", Close: "103",
		Volume: "10", QuoteAssetVolume: "1030", TradeNum: 7,
	}
	c := toCandle("BTCUSDT", "1m", k)
	if c.Source != candle.SourceGapBackfill {
		t.Errorf("expected gap_backfill source, got %s", c.Source)
	}
	if c.OpenTime != 60_000 || c.CloseTime != 119_999 {
		t.Errorf("unexpected times: %+v", c)
	}
	if c.TradeCount != 7 {
		t.Errorf("unexpected trade count: %d", c.TradeCount)
	}
}
