// Package inference implements the Inference Record store (C4):
// records written at prediction time, with realized_label filled
// asynchronously, at most once, by the Auto-Labeler.
package inference

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Decision int

const (
	DecisionShort Decision = -1
	DecisionLong  Decision = 1
)

// Record is one prediction-time snapshot; RealizedLabel is nil until
// the Auto-Labeler fills it.
type Record struct {
	ID             uuid.UUID
	CreatedAt      time.Time
	Probability    float64
	Decision       Decision
	Threshold      float64
	ModelName      string
	ModelVersion   string
	Symbol         string
	Interval       string
	Target         string
	RealizedLabel  *int
}

type Store struct {
	Pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{Pool: pool}
}

func (s *Store) Create(ctx context.Context, r Record) (uuid.UUID, error) {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO inference_records (
			id, created_at, probability, decision, threshold,
			model_name, model_version, symbol, interval, target
		) VALUES ($1, now(), $2,$3,$4,$5,$6,$7,$8,$9)`,
		r.ID, r.Probability, r.Decision, r.Threshold,
		r.ModelName, r.ModelVersion, r.Symbol, r.Interval, r.Target)
	if err != nil {
		return uuid.Nil, fmt.Errorf("inference create: %w", err)
	}
	return r.ID, nil
}

// FetchUnlabeledOlderThan returns candidate records for labeling: those
// with no realized_label yet and created before the cutoff so their
// forward window has a chance to be observable, grouped implicitly by
// the caller on (symbol, interval, target).
func (s *Store) FetchUnlabeledOlderThan(ctx context.Context, cutoff time.Time, limit int) ([]Record, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT id, created_at, probability, decision, threshold,
		       model_name, model_version, symbol, interval, target, realized_label
		FROM inference_records
		WHERE realized_label IS NULL AND created_at < $1
		ORDER BY created_at ASC
		LIMIT $2`, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("inference fetch unlabeled: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var r Record
		if err := rows.Scan(&r.ID, &r.CreatedAt, &r.Probability, &r.Decision, &r.Threshold,
			&r.ModelName, &r.ModelVersion, &r.Symbol, &r.Interval, &r.Target, &r.RealizedLabel); err != nil {
			return nil, fmt.Errorf("inference scan: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// FetchLabeled returns the most recent realized-labeled records for a
// (model_name, model_version), used by the calibration monitor to
// recompute Brier/ECE drift against ground truth.
func (s *Store) FetchLabeled(ctx context.Context, modelName, modelVersion string, limit int) ([]Record, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT id, created_at, probability, decision, threshold,
		       model_name, model_version, symbol, interval, target, realized_label
		FROM inference_records
		WHERE model_name=$1 AND model_version=$2 AND realized_label IS NOT NULL
		ORDER BY created_at DESC
		LIMIT $3`, modelName, modelVersion, limit)
	if err != nil {
		return nil, fmt.Errorf("inference fetch labeled: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var r Record
		if err := rows.Scan(&r.ID, &r.CreatedAt, &r.Probability, &r.Decision, &r.Threshold,
			&r.ModelName, &r.ModelVersion, &r.Symbol, &r.Interval, &r.Target, &r.RealizedLabel); err != nil {
			return nil, fmt.Errorf("inference scan: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// SetRealizedLabel writes the realized label exactly once: the WHERE
// clause guards against overwriting an already-labeled record, per
// spec.md's "Labels MUST never be overwritten" invariant.
func (s *Store) SetRealizedLabel(ctx context.Context, id uuid.UUID, label int) error {
	_, err := s.Pool.Exec(ctx, `
		UPDATE inference_records SET realized_label=$1
		WHERE id=$2 AND realized_label IS NULL`, label, id)
	if err != nil {
		return fmt.Errorf("inference set realized label: %w", err)
	}
	return nil
}
