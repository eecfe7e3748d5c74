package feature

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Store struct {
	Pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{Pool: pool}
}

// Upsert writes the snapshot meta row and each (feature_name, value)
// pair, replacing any prior value for that feature name, per spec.md
// §4.5's "at most one value per feature_name" invariant.
func (s *Store) Upsert(ctx context.Context, snap Snapshot) error {
	tx, err := s.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("feature upsert begin: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO feature_snapshots (symbol, interval, open_time, close_time)
		VALUES ($1,$2,$3,$4)
		ON CONFLICT (symbol, interval, open_time) DO UPDATE SET close_time = EXCLUDED.close_time`,
		snap.Symbol, snap.Interval, snap.OpenTime, snap.CloseTime)
	if err != nil {
		return fmt.Errorf("feature snapshot meta upsert: %w", err)
	}

	batch := &pgx.Batch{}
	for name, val := range snap.Values {
		batch.Queue(`
			INSERT INTO feature_values (symbol, interval, open_time, feature_name, value)
			VALUES ($1,$2,$3,$4,$5)
			ON CONFLICT (symbol, interval, open_time, feature_name) DO UPDATE SET value = EXCLUDED.value`,
			snap.Symbol, snap.Interval, snap.OpenTime, name, val)
	}
	if batch.Len() > 0 {
		br := tx.SendBatch(ctx, batch)
		for i := 0; i < batch.Len(); i++ {
			if _, err := br.Exec(); err != nil {
				br.Close()
				return fmt.Errorf("feature value upsert: %w", err)
			}
		}
		if err := br.Close(); err != nil {
			return fmt.Errorf("feature value batch close: %w", err)
		}
	}

	return tx.Commit(ctx)
}

// FetchValues returns the time-ordered series of one feature's values
// for a (symbol, interval) over the last `window` snapshots, used by
// ComputeDrift. Null values are skipped.
func (s *Store) FetchValues(ctx context.Context, symbol, interval, featureName string, window int) ([]float64, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT v.value FROM feature_values v
		JOIN feature_snapshots m ON m.symbol=v.symbol AND m.interval=v.interval AND m.open_time=v.open_time
		WHERE v.symbol=$1 AND v.interval=$2 AND v.feature_name=$3 AND v.value IS NOT NULL
		ORDER BY m.open_time DESC
		LIMIT $4`, symbol, interval, featureName, window)
	if err != nil {
		return nil, fmt.Errorf("feature fetch values: %w", err)
	}
	defer rows.Close()

	var out []float64
	for rows.Next() {
		var v float64
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("feature value scan: %w", err)
		}
		out = append(out, v)
	}
	// reverse to ascending
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, rows.Err()
}

// DesignRow is one training example's raw feature map before alignment
// against a fixed column order.
type DesignRow struct {
	OpenTime int64
	Values   map[string]float64
}

// FetchDesignMatrix returns every snapshot for (symbol, interval) whose
// open_time falls in [fromMs, toMs), ascending, with their full
// feature-name/value maps for the Training Service to pivot into a
// dense matrix.
func (s *Store) FetchDesignMatrix(ctx context.Context, symbol, interval string, fromMs, toMs int64) ([]DesignRow, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT v.open_time, v.feature_name, v.value
		FROM feature_values v
		WHERE v.symbol=$1 AND v.interval=$2 AND v.open_time >= $3 AND v.open_time < $4
		ORDER BY v.open_time ASC`, symbol, interval, fromMs, toMs)
	if err != nil {
		return nil, fmt.Errorf("feature fetch design matrix: %w", err)
	}
	defer rows.Close()

	byOpenTime := make(map[int64]map[string]float64)
	var order []int64
	for rows.Next() {
		var openTime int64
		var name string
		var value *float64
		if err := rows.Scan(&openTime, &name, &value); err != nil {
			return nil, fmt.Errorf("feature design matrix scan: %w", err)
		}
		if value == nil {
			continue
		}
		m, ok := byOpenTime[openTime]
		if !ok {
			m = make(map[string]float64)
			byOpenTime[openTime] = m
			order = append(order, openTime)
		}
		m[name] = *value
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]DesignRow, len(order))
	for i, ot := range order {
		out[i] = DesignRow{OpenTime: ot, Values: byOpenTime[ot]}
	}
	return out, nil
}

// LatestOpenTime returns the most recent snapshot open_time for a
// series, used by training.PredictLatest to check that a snapshot
// exists before scoring.
func (s *Store) LatestOpenTime(ctx context.Context, symbol, interval string) (int64, bool, error) {
	var openTime int64
	err := s.Pool.QueryRow(ctx, `
		SELECT open_time FROM feature_snapshots
		WHERE symbol=$1 AND interval=$2
		ORDER BY open_time DESC LIMIT 1`, symbol, interval).Scan(&openTime)
	if err != nil {
		if err == pgx.ErrNoRows {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("feature latest open time: %w", err)
	}
	return openTime, true, nil
}
