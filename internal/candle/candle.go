// Package candle implements the canonical OHLCV store (C1): idempotent
// bulk upserts keyed by (symbol, interval, open_time) with merge
// semantics for overlapping writes from multiple ingestion sources.
package candle

import (
	"time"

	"github.com/shopspring/decimal"
)

// Source identifies which producer wrote a candle row. It carries no
// precedence: every upsert replaces the stored source with its own.
type Source string

const (
	SourceLiveStream  Source = "live_stream"
	SourceWSLate      Source = "ws-late"
	SourceGapBackfill Source = "gap_backfill"
)

// Candle is one OHLCV bar. OpenTime/CloseTime are millisecond Unix
// timestamps, matching the Binance kline wire format the ingestor reads.
type Candle struct {
	Symbol      string
	Interval    string
	OpenTime    int64
	CloseTime   int64
	Open        decimal.Decimal
	High        decimal.Decimal
	Low         decimal.Decimal
	Close       decimal.Decimal
	Volume      decimal.Decimal
	QuoteVolume decimal.Decimal
	TradeCount  int64
	Source      Source
	IngestedAt  time.Time
}
