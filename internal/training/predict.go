package training

import (
	"context"
	"encoding/json"
	"fmt"

	"marketlifecycle/internal/artifactstore"
	"marketlifecycle/internal/feature"
	"marketlifecycle/internal/inference"
	"marketlifecycle/internal/model"
)

// LoadModel unmarshals a registered model's artifact bytes back into a
// LogisticModel, verifying the artifact checksum first.
func LoadModel(artifactBytes []byte) (*LogisticModel, error) {
	var a artifactstore.Artifact
	if err := json.Unmarshal(artifactBytes, &a); err != nil {
		return nil, fmt.Errorf("training: unmarshal artifact: %w", err)
	}
	ok, err := a.Verify()
	if err != nil {
		return nil, fmt.Errorf("training: verify artifact: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("training: artifact checksum mismatch")
	}
	modelBytes, err := a.ModelBytes()
	if err != nil {
		return nil, fmt.Errorf("training: decode model bytes: %w", err)
	}
	var m LogisticModel
	if err := json.Unmarshal(modelBytes, &m); err != nil {
		return nil, fmt.Errorf("training: unmarshal model: %w", err)
	}
	return &m, nil
}

// PredictLatest scores the latest non-null value of each model feature
// for (symbol, interval) against a production model and writes an
// Inference Record, the Go-native counterpart of the inference side of
// predict.py. The values normally all come from the most recent
// snapshot; a feature whose newest value is null or absent contributes
// its last non-null value from an earlier snapshot instead.
func PredictLatest(ctx context.Context, features *feature.Store, inferences *inference.Store, row model.Row, m *LogisticModel, symbol, interval, target string, threshold float64) (inference.Record, error) {
	openTime, ok, err := features.LatestOpenTime(ctx, symbol, interval)
	if err != nil {
		return inference.Record{}, fmt.Errorf("training: latest open time: %w", err)
	}
	if !ok {
		return inference.Record{}, fmt.Errorf("training: no feature snapshot available for %s/%s", symbol, interval)
	}

	x := make([]float64, len(m.FeatureOrder))
	for i, name := range m.FeatureOrder {
		vals, err := features.FetchValues(ctx, symbol, interval, name, 1)
		if err != nil {
			return inference.Record{}, fmt.Errorf("training: fetch feature %s: %w", name, err)
		}
		if len(vals) == 0 {
			return inference.Record{}, fmt.Errorf("training: missing feature %s at open_time %d", name, openTime)
		}
		v := vals[len(vals)-1]
		if len(m.Standardizer.Scale) > i && m.Standardizer.Scale[i] != 0 {
			x[i] = (v - m.Standardizer.Mean[i]) / m.Standardizer.Scale[i]
		} else {
			x[i] = v
		}
	}

	prob := m.PredictProba([][]float64{x})[0]
	decision := inference.DecisionShort
	if prob >= threshold {
		decision = inference.DecisionLong
	}

	rec := inference.Record{
		Probability:  prob,
		Decision:     decision,
		Threshold:    threshold,
		ModelName:    row.Name,
		ModelVersion: row.Version,
		Symbol:       symbol,
		Interval:     interval,
		Target:       target,
	}
	id, err := inferences.Create(ctx, rec)
	if err != nil {
		return inference.Record{}, fmt.Errorf("training: create inference record: %w", err)
	}
	rec.ID = id
	return rec, nil
}
