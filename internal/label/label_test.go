package label

import (
	"testing"

	"github.com/shopspring/decimal"

	"marketlifecycle/internal/candle"
)

func bar(openTime int64, high, low, close float64) candle.Candle {
	return candle.Candle{
		OpenTime: openTime, CloseTime: openTime + 59999,
		High: decimal.NewFromFloat(high), Low: decimal.NewFromFloat(low), Close: decimal.NewFromFloat(close),
	}
}

func TestComputeBottomEventLabel_DrawdownNotMet(t *testing.T) {
	candles := []candle.Candle{
		bar(0, 100, 99, 100),
		bar(60000, 100, 99.8, 100),
		bar(120000, 100.5, 99.9, 100.2),
	}
	p := Params{Lookahead: 2, Drawdown: 0.01, Rebound: 0.01}
	out := ComputeBottomEventLabel(candles, 0, p)
	if !out.Defined {
		t.Fatal("expected defined outcome")
	}
	if out.Label != 0 {
		t.Errorf("expected label 0 when drawdown threshold not met, got %d", out.Label)
	}
}

func TestComputeBottomEventLabel_DrawdownThenRebound(t *testing.T) {
	candles := []candle.Candle{
		bar(0, 100, 100, 100),
		bar(60000, 99, 97, 98), // drawdown to 97: (97-100)/100 = -0.03
		bar(120000, 101, 97.5, 100.5), // rebound from 97 to 101: (101-97)/97 = 0.041
	}
	p := Params{Lookahead: 2, Drawdown: 0.02, Rebound: 0.03}
	out := ComputeBottomEventLabel(candles, 0, p)
	if !out.Defined || out.Label != 1 {
		t.Errorf("expected label 1 for drawdown+rebound, got %+v", out)
	}
}

func TestComputeBottomEventLabel_DrawdownNoRebound(t *testing.T) {
	candles := []candle.Candle{
		bar(0, 100, 100, 100),
		bar(60000, 99, 97, 98),
		bar(120000, 97.2, 97.1, 97.1),
	}
	p := Params{Lookahead: 2, Drawdown: 0.02, Rebound: 0.03}
	out := ComputeBottomEventLabel(candles, 0, p)
	if !out.Defined || out.Label != 0 {
		t.Errorf("expected label 0 when rebound threshold not met, got %+v", out)
	}
}

func TestComputeBottomEventLabel_UndefinedWithNoWindow(t *testing.T) {
	candles := []candle.Candle{bar(0, 100, 100, 100)}
	p := Params{Lookahead: 2, Drawdown: 0.02, Rebound: 0.03}
	out := ComputeBottomEventLabel(candles, 0, p)
	if out.Defined {
		t.Errorf("expected undefined outcome with no forward window, got %+v", out)
	}
}

func TestFindStartIndex(t *testing.T) {
	candles := []candle.Candle{bar(0, 1, 1, 1), bar(60000, 1, 1, 1), bar(120000, 1, 1, 1)}
	idx, ok := FindStartIndex(candles, 61)
	if !ok || idx != 1 {
		t.Errorf("expected idx=1, got idx=%d ok=%v", idx, ok)
	}
}

func TestDirectionLabel(t *testing.T) {
	candles := []candle.Candle{bar(0, 1, 1, 100), bar(60000, 1, 1, 105)}
	out := DirectionLabel(candles, 0)
	if !out.Defined || out.Label != 1 {
		t.Errorf("expected label 1 for an up move, got %+v", out)
	}
}

func TestDirectionLabel_UndefinedAtLastBar(t *testing.T) {
	candles := []candle.Candle{bar(0, 1, 1, 100)}
	out := DirectionLabel(candles, 0)
	if out.Defined {
		t.Errorf("expected undefined outcome with no next bar, got %+v", out)
	}
}

func TestHorizonLabel(t *testing.T) {
	candles := []candle.Candle{
		bar(0, 1, 1, 100),
		bar(60000, 1, 1, 101),
		bar(120000, 1, 1, 99),
		bar(180000, 1, 1, 95),
	}
	out := HorizonLabel(candles, 0, 3)
	if !out.Defined || out.Label != 0 {
		t.Errorf("expected label 0 for a down move over the horizon, got %+v", out)
	}
}

func TestHorizonLabel_UndefinedWhenHorizonExceedsWindow(t *testing.T) {
	candles := []candle.Candle{bar(0, 1, 1, 100), bar(60000, 1, 1, 105)}
	out := HorizonLabel(candles, 0, 5)
	if out.Defined {
		t.Errorf("expected undefined outcome when the horizon runs past the window, got %+v", out)
	}
}
