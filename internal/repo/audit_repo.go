package repo

import (
	"context"

	"github.com/dushixiang/vigil/internal/models"
	"gorm.io/gorm"
)

type AuditRepo struct {
	db *gorm.DB
}

func NewAuditRepo(db *gorm.DB) *AuditRepo {
	return &AuditRepo{
		db: db,
	}
}

// Create 保存审计报告
func (r *AuditRepo) Create(ctx context.Context, record *models.AuditRecord) error {
	return r.db.WithContext(ctx).Create(record).Error
}

// FindById 按 ID 查询审计报告
func (r *AuditRepo) FindById(ctx context.Context, id string) (models.AuditRecord, error) {
	var record models.AuditRecord
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&record).Error
	return record, err
}

// FindLatest 查询最近一次审计报告
func (r *AuditRepo) FindLatest(ctx context.Context) (models.AuditRecord, error) {
	var record models.AuditRecord
	err := r.db.WithContext(ctx).Order("timestamp DESC").First(&record).Error
	return record, err
}

// FindAll 查询全部审计报告，按时间倒序
func (r *AuditRepo) FindAll(ctx context.Context) ([]models.AuditRecord, error) {
	var records []models.AuditRecord
	err := r.db.WithContext(ctx).Order("timestamp DESC").Find(&records).Error
	return records, err
}

// DeleteOlderThan 删除早于指定时间的审计报告
func (r *AuditRepo) DeleteOlderThan(ctx context.Context, cutoff int64) error {
	return r.db.WithContext(ctx).
		Where("timestamp < ?", cutoff).
		Delete(&models.AuditRecord{}).Error
}
