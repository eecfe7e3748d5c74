package gap

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

type Store struct {
	Pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{Pool: pool}
}

// LoadOpen hydrates the in-memory open-gap list at startup, per C5's
// HydratePersisted operation.
func (s *Store) LoadOpen(ctx context.Context, limit int) ([]Segment, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT id, symbol, interval, from_open_time, to_open_time,
		       missing_bars, remaining_bars, recovered_bars, status, merged, detected_at, recovered_at
		FROM gap_segments
		WHERE status IN ('open','partial')
		ORDER BY remaining_bars DESC, detected_at ASC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("gap load open: %w", err)
	}
	defer rows.Close()

	var out []Segment
	for rows.Next() {
		var seg Segment
		if err := rows.Scan(&seg.ID, &seg.Symbol, &seg.Interval, &seg.FromOpenTime, &seg.ToOpenTime,
			&seg.MissingBars, &seg.RemainingBars, &seg.RecoveredBars, &seg.Status, &seg.Merged,
			&seg.DetectedAt, &seg.RecoveredAt); err != nil {
			return nil, fmt.Errorf("gap scan: %w", err)
		}
		out = append(out, seg)
	}
	return out, rows.Err()
}

// UpdateProgress writes back RemainingBars/RecoveredBars/Status after a
// backfill recovery pass (full or partial).
func (s *Store) UpdateProgress(ctx context.Context, seg Segment) error {
	_, err := s.Pool.Exec(ctx, `
		UPDATE gap_segments SET
			remaining_bars = $1, recovered_bars = $2, status = $3, recovered_at = $4
		WHERE id = $5`,
		seg.RemainingBars, seg.RecoveredBars, seg.Status, seg.RecoveredAt, seg.ID)
	if err != nil {
		return fmt.Errorf("gap update progress: %w", err)
	}
	return nil
}

// InsertWithMerge implements §4.3.1 end to end: lock the series,
// find overlapping open/partial segments, compute the merged span,
// recompute precise missing bars from actual candle presence, mark the
// old segments merged, and insert the new precise segment.
//
// presentBars must be supplied by the caller (a candle.Store count over
// the merged span) since this package has no dependency on candle.
func (s *Store) InsertWithMerge(ctx context.Context, incoming Segment, intervalMs int64, presentBars int64, now time.Time) (Segment, error) {
	tx, err := s.Pool.Begin(ctx)
	if err != nil {
		return Segment{}, fmt.Errorf("gap merge begin: %w", err)
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, `
		SELECT id, symbol, interval, from_open_time, to_open_time,
		       missing_bars, remaining_bars, recovered_bars, status, merged, detected_at
		FROM gap_segments
		WHERE symbol=$1 AND interval=$2 AND status IN ('open','partial')
		FOR UPDATE`, incoming.Symbol, incoming.Interval)
	if err != nil {
		return Segment{}, fmt.Errorf("gap merge query: %w", err)
	}

	var overlapping []Segment
	for rows.Next() {
		var seg Segment
		if err := rows.Scan(&seg.ID, &seg.Symbol, &seg.Interval, &seg.FromOpenTime, &seg.ToOpenTime,
			&seg.MissingBars, &seg.RemainingBars, &seg.RecoveredBars, &seg.Status, &seg.Merged,
			&seg.DetectedAt); err != nil {
			rows.Close()
			return Segment{}, fmt.Errorf("gap merge scan: %w", err)
		}
		if Overlaps(seg, incoming) {
			overlapping = append(overlapping, seg)
		}
	}
	rows.Close()

	merged := incoming
	for _, seg := range overlapping {
		from, to := MergeSpan(merged, seg)
		merged.FromOpenTime, merged.ToOpenTime = from, to
	}

	expected := ExpectedBars(merged.FromOpenTime, merged.ToOpenTime, intervalMs)
	missing := expected - presentBars
	if missing < 0 {
		missing = 0
	}
	merged.MissingBars = missing
	merged.RemainingBars = missing
	merged.Status = StatusOpen
	merged.DetectedAt = now

	for _, seg := range overlapping {
		if _, err := tx.Exec(ctx, `
			UPDATE gap_segments SET status='merged', merged=true, recovered_at=$1 WHERE id=$2`,
			now, seg.ID); err != nil {
			return Segment{}, fmt.Errorf("gap mark merged: %w", err)
		}
	}

	var newID int64
	err = tx.QueryRow(ctx, `
		INSERT INTO gap_segments (
			symbol, interval, from_open_time, to_open_time,
			missing_bars, remaining_bars, recovered_bars, status, merged, detected_at
		) VALUES ($1,$2,$3,$4,$5,$6,0,$7,false,$8)
		RETURNING id`,
		merged.Symbol, merged.Interval, merged.FromOpenTime, merged.ToOpenTime,
		merged.MissingBars, merged.RemainingBars, merged.Status, merged.DetectedAt,
	).Scan(&newID)
	if err != nil {
		return Segment{}, fmt.Errorf("gap merge insert: %w", err)
	}
	merged.ID = newID

	if err := tx.Commit(ctx); err != nil {
		return Segment{}, fmt.Errorf("gap merge commit: %w", err)
	}
	return merged, nil
}
