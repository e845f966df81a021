package repository

import (
	"context"
	"errors"
	"time"

	"github.com/GoPolymarket/perpgate/internal/model"
	"github.com/GoPolymarket/perpgate/internal/pkg/apperrors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// PostgresJournal stores submission records in the submission_records table.
type PostgresJournal struct {
	db *gorm.DB
}

func NewPostgresJournal(db *gorm.DB) *PostgresJournal {
	return &PostgresJournal{db: db}
}

func (r *PostgresJournal) Save(ctx context.Context, rec *model.SubmissionRecord) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(rec).Error
}

func (r *PostgresJournal) GetByHash(ctx context.Context, txHash string) (*model.SubmissionRecord, error) {
	var rec model.SubmissionRecord
	err := r.db.WithContext(ctx).
		Where("LOWER(tx_hash) = LOWER(?)", txHash).
		Order("created_at DESC").
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.NewNotFound("submission " + txHash + " not found")
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (r *PostgresJournal) ListByTenant(ctx context.Context, tenantID string, limit int) ([]model.SubmissionRecord, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var out []model.SubmissionRecord
	err := r.db.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		Order("created_at DESC").
		Limit(limit).
		Find(&out).Error
	return out, err
}

// Cleanup 删除超过保留期的记录
func (r *PostgresJournal) Cleanup(ctx context.Context, olderThan time.Duration) error {
	if olderThan <= 0 {
		return nil
	}
	cutoff := time.Now().UTC().Add(-olderThan)
	return r.db.WithContext(ctx).
		Where("created_at < ?", cutoff).
		Delete(&model.SubmissionRecord{}).Error
}
