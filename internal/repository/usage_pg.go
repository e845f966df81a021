package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// DailyUsage is one tenant's submission count and notional for a UTC day.
type DailyUsage struct {
	TenantID string  `gorm:"primaryKey;type:text"`
	Date     string  `gorm:"primaryKey;type:date"`
	Orders   int     `gorm:"not null;default:0"`
	Volume   float64 `gorm:"not null;default:0"`
}

func (DailyUsage) TableName() string { return "risk_daily_usage" }

type PostgresUsageRepo struct {
	db  *gorm.DB
	now func() time.Time
}

func NewPostgresUsageRepo(db *gorm.DB) *PostgresUsageRepo {
	return &PostgresUsageRepo{db: db, now: time.Now}
}

// GetDailyUsage 获取当日已用额度与提交数
func (r *PostgresUsageRepo) GetDailyUsage(ctx context.Context, tenantID string) (int, float64, error) {
	var usage DailyUsage
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND date = ?", tenantID, today(r.now())).
		First(&usage).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, 0, nil
	}
	if err != nil {
		return 0, 0, err
	}
	return usage.Orders, usage.Volume, nil
}

// AddDailyUsage 原子增加额度与提交数
func (r *PostgresUsageRepo) AddDailyUsage(ctx context.Context, tenantID string, orders int, amount float64) error {
	row := DailyUsage{TenantID: tenantID, Date: today(r.now()), Orders: orders, Volume: amount}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "tenant_id"}, {Name: "date"}},
		DoUpdates: clause.Assignments(map[string]any{
			"orders": gorm.Expr("risk_daily_usage.orders + ?", orders),
			"volume": gorm.Expr("risk_daily_usage.volume + ?", amount),
		}),
	}).Create(&row).Error
}

func (r *PostgresUsageRepo) Cleanup(ctx context.Context, olderThan time.Duration) error {
	if olderThan <= 0 {
		return nil
	}
	cutoff := r.now().UTC().Add(-olderThan)
	return r.db.WithContext(ctx).Where("date < ?", today(cutoff)).Delete(&DailyUsage{}).Error
}

func today(now time.Time) string {
	return now.UTC().Format("2006-01-02")
}
