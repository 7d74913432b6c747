package repo

import (
	"context"

	"github.com/dushixiang/vigil/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type AlertRecordRepo struct {
	db *gorm.DB
}

func NewAlertRecordRepo(db *gorm.DB) *AlertRecordRepo {
	return &AlertRecordRepo{
		db: db,
	}
}

// Save 保存告警记录（按 ID 覆盖，去重更新时复用）
func (r *AlertRecordRepo) Save(ctx context.Context, record *models.AlertRecord) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			UpdateAll: true,
		}).
		Create(record).Error
}

// FindByTimeRange 查询时间范围内的告警记录，按最近触发时间倒序
func (r *AlertRecordRepo) FindByTimeRange(ctx context.Context, start, end int64) ([]models.AlertRecord, error) {
	var records []models.AlertRecord
	err := r.db.WithContext(ctx).
		Where("timestamp >= ? AND timestamp <= ?", start, end).
		Order("timestamp DESC").
		Find(&records).Error
	return records, err
}

// DeleteOlderThan 删除早于指定时间的告警记录
func (r *AlertRecordRepo) DeleteOlderThan(ctx context.Context, cutoff int64) error {
	return r.db.WithContext(ctx).
		Where("timestamp < ?", cutoff).
		Delete(&models.AlertRecord{}).Error
}

// Clear 清空告警记录
func (r *AlertRecordRepo) Clear(ctx context.Context) error {
	return r.db.WithContext(ctx).
		Where("1 = 1").
		Delete(&models.AlertRecord{}).Error
}
