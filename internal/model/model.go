// Package model implements the Model Registry (C3) over gorm: the
// lower-frequency structured CRUD counterpart to the pgx hot-path
// stores, matching the lifecycle in
// original_source/backend/apps/model_registry/repository/
// registry_repository.py.
package model

import (
	"encoding/json"
	"errors"
	"math"
	"time"

	"gorm.io/gorm"
)

type Status string

const (
	StatusStaging    Status = "staging"
	StatusProduction Status = "production"
	StatusDeleted    Status = "deleted"
)

// Row is one model registry entry. Uniqueness: (name, version,
// model_type). Immutable except status/promoted_at/metrics append.
type Row struct {
	ID           int64  `gorm:"primaryKey"`
	Name         string `gorm:"uniqueIndex:model_identity"`
	Version      string `gorm:"uniqueIndex:model_identity"`
	ModelType    string `gorm:"uniqueIndex:model_identity"`
	Status       Status
	ArtifactPath string
	MetricsJSON  string `gorm:"column:metrics_json"`
	CreatedAt    time.Time
	PromotedAt   *time.Time
	DeletedAt    *time.Time
}

// MetricsHistory is the append-only history table for a model row.
type MetricsHistory struct {
	ID          int64 `gorm:"primaryKey"`
	ModelID     int64 `gorm:"index"`
	MetricsJSON string
	RecordedAt  time.Time
}

// Lineage records a parent/child relationship between model rows, e.g.
// a retrain's new model pointing back at the model it was compared
// against.
type Lineage struct {
	ID           int64 `gorm:"primaryKey"`
	ModelID      int64 `gorm:"index"`
	ParentID     int64
	Relationship string
	CreatedAt    time.Time
}

type Repository struct {
	DB *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{DB: db}
}

// sanitizeMetrics replaces non-finite floats with null before JSON
// serialization, per spec.md's "metrics are JSON with no NaN/Inf"
// invariant.
func sanitizeMetrics(metrics map[string]any) map[string]any {
	out := make(map[string]any, len(metrics))
	for k, v := range metrics {
		if f, ok := v.(float64); ok && (math.IsNaN(f) || math.IsInf(f, 0)) {
			out[k] = nil
			continue
		}
		out[k] = v
	}
	return out
}

// Register inserts a new row, returning the existing id on a duplicate
// (name, version, model_type) key rather than erroring.
func (r *Repository) Register(name, version, modelType string, status Status, artifactPath string, metrics map[string]any) (int64, error) {
	sanitized := sanitizeMetrics(metrics)
	metricsJSON, err := json.Marshal(sanitized)
	if err != nil {
		return 0, err
	}

	row := Row{
		Name: name, Version: version, ModelType: modelType,
		Status: status, ArtifactPath: artifactPath, MetricsJSON: string(metricsJSON),
		CreatedAt: time.Now(),
	}
	err = r.DB.Create(&row).Error
	if err == nil {
		return row.ID, nil
	}

	var existing Row
	lookupErr := r.DB.Where("name = ? AND version = ? AND model_type = ?", name, version, modelType).First(&existing).Error
	if lookupErr != nil {
		return 0, err
	}
	return existing.ID, nil
}

// FetchLatest returns rows for (name, model_type) ordered desc by
// created_at.
func (r *Repository) FetchLatest(name, modelType string, limit int) ([]Row, error) {
	var rows []Row
	err := r.DB.Where("name = ? AND model_type = ? AND status != ?", name, modelType, StatusDeleted).
		Order("created_at DESC").Limit(limit).Find(&rows).Error
	return rows, err
}

// FetchLatestByName returns rows for a model name across all model
// types, ordered desc by created_at, used by callers (the calibration
// monitor) that watch a model name without pinning a specific type.
func (r *Repository) FetchLatestByName(name string, limit int) ([]Row, error) {
	var rows []Row
	err := r.DB.Where("name = ? AND status != ?", name, StatusDeleted).
		Order("created_at DESC").Limit(limit).Find(&rows).Error
	return rows, err
}

func (r *Repository) FetchByID(id int64) (Row, error) {
	var row Row
	err := r.DB.First(&row, id).Error
	return row, err
}

// Promote transitions a staging row to production, only if it is not
// already production.
func (r *Repository) Promote(id int64) (Row, error) {
	var row Row
	tx := r.DB.Model(&Row{}).Where("id = ? AND status != ?", id, StatusProduction).
		Updates(map[string]any{"status": StatusProduction, "promoted_at": time.Now()})
	if tx.Error != nil {
		return row, tx.Error
	}
	if tx.RowsAffected == 0 {
		return row, errors.New("model row already production or not found")
	}
	return r.FetchByID(id)
}

// DemoteOthers returns every other production row for (name,
// model_type) back to staging, keeping keepID as the sole production
// row.
func (r *Repository) DemoteOthers(name, modelType string, keepID int64) error {
	return r.DB.Model(&Row{}).
		Where("name = ? AND model_type = ? AND status = ? AND id != ?", name, modelType, StatusProduction, keepID).
		Update("status", StatusStaging).Error
}

// Activate forces a row to production regardless of current status.
func (r *Repository) Activate(id int64) (Row, error) {
	err := r.DB.Model(&Row{}).Where("id = ?", id).
		Updates(map[string]any{"status": StatusProduction, "promoted_at": time.Now()}).Error
	if err != nil {
		return Row{}, err
	}
	return r.FetchByID(id)
}

// SoftDelete marks a row deleted without removing its history.
func (r *Repository) SoftDelete(id int64) error {
	now := time.Now()
	return r.DB.Model(&Row{}).Where("id = ?", id).
		Updates(map[string]any{"status": StatusDeleted, "deleted_at": now}).Error
}

// AppendMetrics writes to the append-only history table and refreshes
// the current row's metrics snapshot.
func (r *Repository) AppendMetrics(id int64, metrics map[string]any) error {
	sanitized := sanitizeMetrics(metrics)
	metricsJSON, err := json.Marshal(sanitized)
	if err != nil {
		return err
	}
	return r.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&MetricsHistory{ModelID: id, MetricsJSON: string(metricsJSON), RecordedAt: time.Now()}).Error; err != nil {
			return err
		}
		return tx.Model(&Row{}).Where("id = ?", id).Update("metrics_json", string(metricsJSON)).Error
	})
}

func (r *Repository) FetchProductionHistory(name, modelType string, limit int) ([]MetricsHistory, error) {
	var row Row
	if err := r.DB.Where("name = ? AND model_type = ? AND status = ?", name, modelType, StatusProduction).First(&row).Error; err != nil {
		return nil, err
	}
	var history []MetricsHistory
	err := r.DB.Where("model_id = ?", row.ID).Order("recorded_at DESC").Limit(limit).Find(&history).Error
	return history, err
}

func (r *Repository) AddLineage(modelID, parentID int64, relationship string) error {
	return r.DB.Create(&Lineage{ModelID: modelID, ParentID: parentID, Relationship: relationship, CreatedAt: time.Now()}).Error
}

// Metrics unmarshals a row's metrics JSON into a generic map.
func (row Row) Metrics() map[string]any {
	var m map[string]any
	_ = json.Unmarshal([]byte(row.MetricsJSON), &m)
	return m
}
