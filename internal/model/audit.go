package model

import (
	"time"

	"gorm.io/gorm"
)

// AuditRow is one lifecycle decision: a promotion success/failure, a
// demotion, or a soft delete. Grounded on
// lifecycle_audit_repository.py's log_promotion shape.
type AuditRow struct {
	ID                         int64 `gorm:"primaryKey"`
	ModelID                    int64
	PreviousProductionModelID  *int64
	Decision                   string
	Reason                     string
	SamplesOld                 *float64
	SamplesNew                 *float64
	RecordedAt                 time.Time
}

type AuditRepository struct {
	DB *gorm.DB
}

func NewAuditRepository(db *gorm.DB) *AuditRepository {
	return &AuditRepository{DB: db}
}

func (r *AuditRepository) LogPromotion(modelID int64, previousProductionModelID *int64, decision, reason string, samplesOld, samplesNew *float64) error {
	row := AuditRow{
		ModelID: modelID, PreviousProductionModelID: previousProductionModelID,
		Decision: decision, Reason: reason,
		SamplesOld: samplesOld, SamplesNew: samplesNew,
		RecordedAt: time.Now(),
	}
	return r.DB.Create(&row).Error
}
