package training

import (
	"context"
	"fmt"
	"sort"

	"marketlifecycle/internal/candle"
	"marketlifecycle/internal/feature"
	"marketlifecycle/internal/label"
)

// Dataset is a dense, alphabetically-ordered feature matrix aligned
// with the labels of one variant (bottom-event, direction-1m or
// horizon-H), ready for FitStandardizer/FitLogisticRegression.
type Dataset struct {
	FeatureOrder []string
	X            [][]float64
	Y            []int
	OpenTimes    []int64
}

// Mode selects which of training_service.py's three label variants a
// run targets; they share the dataset-assembly and fit/evaluate/
// register pipeline and differ only in how a row's label is computed.
type Mode string

const (
	ModeBottomEvent Mode = "bottom_event"
	ModeDirection1m Mode = "direction_1m"
	ModeHorizon     Mode = "horizon"
)

// BuildDataset assembles training examples for one (symbol, interval):
// it pivots the feature store's sparse (open_time, name, value) rows
// into a dense matrix, drops any row missing a feature present in the
// column union (matching training_service.py's dropna-on-build
// behavior), and computes each row's label via labelFor against the
// same candle window used by the Auto-Labeler.
func BuildDataset(ctx context.Context, features *feature.Store, candles *candle.Store, symbol, interval string, fromMs, toMs int64, forwardMs int64, labelFor func(candleWindow []candle.Candle, startIdx int) label.Outcome) (Dataset, error) {
	rows, err := features.FetchDesignMatrix(ctx, symbol, interval, fromMs, toMs)
	if err != nil {
		return Dataset{}, fmt.Errorf("training: fetch design matrix: %w", err)
	}
	if len(rows) == 0 {
		return Dataset{}, fmt.Errorf("training: no feature rows in range")
	}

	columnSet := make(map[string]struct{})
	for _, r := range rows {
		for name := range r.Values {
			columnSet[name] = struct{}{}
		}
	}
	columns := make([]string, 0, len(columnSet))
	for name := range columnSet {
		columns = append(columns, name)
	}
	sort.Strings(columns)

	candleWindow, err := candles.FetchRange(ctx, symbol, interval, fromMs, toMs+forwardMs)
	if err != nil {
		return Dataset{}, fmt.Errorf("training: fetch candle window: %w", err)
	}
	if len(candleWindow) == 0 {
		return Dataset{}, fmt.Errorf("training: no candles in range for labeling")
	}

	var ds Dataset
	ds.FeatureOrder = columns

	for _, r := range rows {
		complete := true
		x := make([]float64, len(columns))
		for i, col := range columns {
			v, ok := r.Values[col]
			if !ok {
				complete = false
				break
			}
			x[i] = v
		}
		if !complete {
			continue
		}

		startIdx, ok := label.FindStartIndex(candleWindow, r.OpenTime/1000)
		if !ok {
			continue
		}
		outcome := labelFor(candleWindow, startIdx)
		if !outcome.Defined {
			continue
		}

		ds.X = append(ds.X, x)
		ds.Y = append(ds.Y, outcome.Label)
		ds.OpenTimes = append(ds.OpenTimes, r.OpenTime)
	}

	if len(ds.X) == 0 {
		return Dataset{}, fmt.Errorf("training: no fully-labeled rows survived alignment")
	}
	return ds, nil
}

// BuildBottomEventDataset is BuildDataset specialized to the
// bottom-event rule (spec.md §4.6), the mandatory label variant.
func BuildBottomEventDataset(ctx context.Context, features *feature.Store, candles *candle.Store, symbol, interval string, fromMs, toMs int64, params label.Params) (Dataset, error) {
	forwardMs := int64(params.Lookahead) * intervalMsGuess(interval)
	return BuildDataset(ctx, features, candles, symbol, interval, fromMs, toMs, forwardMs, func(cw []candle.Candle, startIdx int) label.Outcome {
		return label.ComputeBottomEventLabel(cw, startIdx, params)
	})
}

// BuildDirectionDataset is BuildDataset specialized to the direction-1m
// variant: y = 1 iff next bar's close is higher.
func BuildDirectionDataset(ctx context.Context, features *feature.Store, candles *candle.Store, symbol, interval string, fromMs, toMs int64) (Dataset, error) {
	return BuildDataset(ctx, features, candles, symbol, interval, fromMs, toMs, intervalMsGuess(interval), func(cw []candle.Candle, startIdx int) label.Outcome {
		return label.DirectionLabel(cw, startIdx)
	})
}

// BuildHorizonDataset is BuildDataset specialized to the horizon-H
// variant: y = 1 iff close[t+H] is higher than close[t].
func BuildHorizonDataset(ctx context.Context, features *feature.Store, candles *candle.Store, symbol, interval string, fromMs, toMs int64, horizonBars int) (Dataset, error) {
	forwardMs := int64(horizonBars) * intervalMsGuess(interval)
	return BuildDataset(ctx, features, candles, symbol, interval, fromMs, toMs, forwardMs, func(cw []candle.Candle, startIdx int) label.Outcome {
		return label.HorizonLabel(cw, startIdx, horizonBars)
	})
}

// intervalMsGuess duplicates the tiny interval-string parser already
// present in internal/ingest and cmd/backfill; kept local rather
// than shared to avoid a cross-package import for one lookup table.
func intervalMsGuess(interval string) int64 {
	switch interval {
	case "1m":
		return 60_000
	case "3m":
		return 3 * 60_000
	case "5m":
		return 5 * 60_000
	case "15m":
		return 15 * 60_000
	case "30m":
		return 30 * 60_000
	case "1h":
		return 60 * 60_000
	case "2h":
		return 2 * 60 * 60_000
	case "4h":
		return 4 * 60 * 60_000
	case "1d":
		return 24 * 60 * 60_000
	default:
		return 60_000
	}
}
