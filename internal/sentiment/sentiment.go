// Package sentiment implements the Sentiment Tick store and a simple
// interval poller that feeds normalized sentiment into the Feature
// Engine's leak-safe join.
package sentiment

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Tick is one (symbol, ts_ms, provider) sentiment observation.
type Tick struct {
	Symbol     string
	TsMs       int64
	Provider   string
	Count      *int64
	RawScore   *float64
	Normalized float64 // in [-1, 1]
	Meta       map[string]any
}

type Store struct {
	Pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{Pool: pool}
}

// Upsert writes a tick, replacing any existing row for the same
// (symbol, ts, provider).
func (s *Store) Upsert(ctx context.Context, t Tick) error {
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO sentiment_ticks (symbol, ts_ms, provider, count, raw_score, normalized_score)
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (symbol, ts_ms, provider) DO UPDATE SET
			count = EXCLUDED.count,
			raw_score = EXCLUDED.raw_score,
			normalized_score = EXCLUDED.normalized_score`,
		t.Symbol, t.TsMs, t.Provider, t.Count, t.RawScore, t.Normalized)
	if err != nil {
		return fmt.Errorf("sentiment upsert: %w", err)
	}
	return nil
}

// FetchRange returns ticks for a symbol in [fromMs, toMs] inclusive,
// ascending by ts_ms. Callers computing leak-safe features must never
// pass a toMs greater than the reference bar's close_time.
func (s *Store) FetchRange(ctx context.Context, symbol string, fromMs, toMs int64) ([]Tick, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT symbol, ts_ms, provider, count, raw_score, normalized_score
		FROM sentiment_ticks
		WHERE symbol=$1 AND ts_ms BETWEEN $2 AND $3
		ORDER BY ts_ms ASC`, symbol, fromMs, toMs)
	if err != nil {
		return nil, fmt.Errorf("sentiment fetch range: %w", err)
	}
	defer rows.Close()

	var out []Tick
	for rows.Next() {
		var t Tick
		if err := rows.Scan(&t.Symbol, &t.TsMs, &t.Provider, &t.Count, &t.RawScore, &t.Normalized); err != nil {
			return nil, fmt.Errorf("sentiment scan: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// Provider is an external collaborator that produces pre-scored
// sentiment ticks; HTTPProvider is its concrete implementation, and
// the Poller below consumes one.
type Provider interface {
	FetchLatest(ctx context.Context, symbol string, since time.Time) ([]Tick, error)
}

// Poller polls a Provider on an interval and upserts whatever it
// returns, decoupling the Feature Engine's consumer side from however
// sentiment ticks are actually produced.
type Poller struct {
	provider Provider
	store    *Store
	symbols  []string
	every    time.Duration
	logger   *slog.Logger
}

func NewPoller(provider Provider, store *Store, symbols []string, every time.Duration, logger *slog.Logger) *Poller {
	return &Poller{provider: provider, store: store, symbols: symbols, every: every, logger: logger}
}

func (p *Poller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			p.pollOnce(ctx)
		}
	}
}

func (p *Poller) pollOnce(ctx context.Context) {
	since := time.Now().Add(-p.every * 2)
	for _, symbol := range p.symbols {
		ticks, err := p.provider.FetchLatest(ctx, symbol, since)
		if err != nil {
			p.logger.Warn("sentiment poll failed", "symbol", symbol, "error", err)
			continue
		}
		for _, t := range ticks {
			if err := p.store.Upsert(ctx, t); err != nil {
				p.logger.Warn("sentiment upsert failed", "symbol", symbol, "error", err)
			}
		}
	}
}
