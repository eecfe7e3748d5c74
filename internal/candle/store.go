package candle

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store persists candles with idempotent upsert semantics.
type Store struct {
	Pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{Pool: pool}
}

const upsertSQL = `
INSERT INTO candles (
    symbol, interval, open_time, close_time,
    open, high, low, close, volume, quote_volume, trade_count,
    source, ingested_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12, now())
ON CONFLICT (symbol, interval, open_time) DO UPDATE SET
    close_time   = EXCLUDED.close_time,
    high         = GREATEST(candles.high, EXCLUDED.high),
    low          = LEAST(candles.low, EXCLUDED.low),
    close        = EXCLUDED.close,
    volume       = EXCLUDED.volume,
    quote_volume = EXCLUDED.quote_volume,
    trade_count  = EXCLUDED.trade_count,
    source       = EXCLUDED.source,
    ingested_at  = now();
`

// Upsert writes a single candle, merging with any existing row for the
// same (symbol, interval, open_time) through upsertSQL's ON CONFLICT
// clause (widened high/low, incoming close/volume/counters).
func (s *Store) Upsert(ctx context.Context, c Candle) error {
	_, err := s.Pool.Exec(ctx, upsertSQL,
		c.Symbol, c.Interval, c.OpenTime, c.CloseTime,
		c.Open, c.High, c.Low, c.Close, c.Volume, c.QuoteVolume, c.TradeCount,
		c.Source,
	)
	if err != nil {
		return fmt.Errorf("candle upsert: %w", err)
	}
	return nil
}

// BulkUpsert writes a batch of candles in one round trip, used by the
// backfill worker and historical loaders where throughput matters.
func (s *Store) BulkUpsert(ctx context.Context, candles []Candle) error {
	if len(candles) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, c := range candles {
		batch.Queue(upsertSQL,
			c.Symbol, c.Interval, c.OpenTime, c.CloseTime,
			c.Open, c.High, c.Low, c.Close, c.Volume, c.QuoteVolume, c.TradeCount,
			c.Source,
		)
	}
	br := s.Pool.SendBatch(ctx, batch)
	defer br.Close()
	for range candles {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("candle bulk upsert: %w", err)
		}
	}
	return nil
}

// FetchRange returns candles for [fromOpenTime, toOpenTime] inclusive,
// ascending by open_time.
func (s *Store) FetchRange(ctx context.Context, symbol, interval string, fromOpenTime, toOpenTime int64) ([]Candle, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT symbol, interval, open_time, close_time, open, high, low, close,
		       volume, quote_volume, trade_count, source, ingested_at
		FROM candles
		WHERE symbol=$1 AND interval=$2 AND open_time BETWEEN $3 AND $4
		ORDER BY open_time ASC`,
		symbol, interval, fromOpenTime, toOpenTime)
	if err != nil {
		return nil, fmt.Errorf("candle fetch range: %w", err)
	}
	defer rows.Close()

	var out []Candle
	for rows.Next() {
		var c Candle
		if err := rows.Scan(&c.Symbol, &c.Interval, &c.OpenTime, &c.CloseTime,
			&c.Open, &c.High, &c.Low, &c.Close, &c.Volume, &c.QuoteVolume,
			&c.TradeCount, &c.Source, &c.IngestedAt); err != nil {
			return nil, fmt.Errorf("candle scan: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// FetchRecent returns the most recent limit candles for a series in
// descending open_time order, the C1 contract the feature scheduler
// uses instead of paging through FetchRange by timestamp.
func (s *Store) FetchRecent(ctx context.Context, symbol, interval string, limit int) ([]Candle, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT symbol, interval, open_time, close_time, open, high, low, close,
		       volume, quote_volume, trade_count, source, ingested_at
		FROM candles
		WHERE symbol=$1 AND interval=$2
		ORDER BY open_time DESC LIMIT $3`,
		symbol, interval, limit)
	if err != nil {
		return nil, fmt.Errorf("candle fetch recent: %w", err)
	}
	defer rows.Close()

	var out []Candle
	for rows.Next() {
		var c Candle
		if err := rows.Scan(&c.Symbol, &c.Interval, &c.OpenTime, &c.CloseTime,
			&c.Open, &c.High, &c.Low, &c.Close, &c.Volume, &c.QuoteVolume,
			&c.TradeCount, &c.Source, &c.IngestedAt); err != nil {
			return nil, fmt.Errorf("candle scan: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// LatestOpenTime returns the most recent open_time stored for a series,
// or (0, false) if none exists yet.
func (s *Store) LatestOpenTime(ctx context.Context, symbol, interval string) (int64, bool, error) {
	var openTime int64
	err := s.Pool.QueryRow(ctx, `
		SELECT open_time FROM candles
		WHERE symbol=$1 AND interval=$2
		ORDER BY open_time DESC LIMIT 1`, symbol, interval).Scan(&openTime)
	if err != nil {
		if err == pgx.ErrNoRows {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("candle latest open time: %w", err)
	}
	return openTime, true, nil
}

// CountInRange counts stored bars in [fromOpenTime, toOpenTime], used
// by the completeness gauges the backfill worker reports.
func (s *Store) CountInRange(ctx context.Context, symbol, interval string, fromOpenTime, toOpenTime int64) (int64, error) {
	var n int64
	err := s.Pool.QueryRow(ctx, `
		SELECT count(*) FROM candles
		WHERE symbol=$1 AND interval=$2 AND open_time BETWEEN $3 AND $4`,
		symbol, interval, fromOpenTime, toOpenTime).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("candle count in range: %w", err)
	}
	return n, nil
}
