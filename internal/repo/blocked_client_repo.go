package repo

import (
	"context"

	"github.com/dushixiang/vigil/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type BlockedClientRepo struct {
	db *gorm.DB
}

func NewBlockedClientRepo(db *gorm.DB) *BlockedClientRepo {
	return &BlockedClientRepo{
		db: db,
	}
}

// Save 保存封禁记录（按 clientID 覆盖，重复封禁时延长时间）
func (r *BlockedClientRepo) Save(ctx context.Context, record *models.BlockedClient) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "client_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"reason", "country", "blocked_at", "blocked_until"}),
		}).
		Create(record).Error
}

// Delete 删除封禁记录（手动解封）
func (r *BlockedClientRepo) Delete(ctx context.Context, clientID string) error {
	return r.db.WithContext(ctx).
		Where("client_id = ?", clientID).
		Delete(&models.BlockedClient{}).Error
}

// FindActive 查询仍在生效的封禁记录
func (r *BlockedClientRepo) FindActive(ctx context.Context, now int64) ([]models.BlockedClient, error) {
	var records []models.BlockedClient
	err := r.db.WithContext(ctx).
		Where("blocked_until > ?", now).
		Find(&records).Error
	return records, err
}

// DeleteExpired 清理已过期的封禁记录
func (r *BlockedClientRepo) DeleteExpired(ctx context.Context, now int64) error {
	return r.db.WithContext(ctx).
		Where("blocked_until <= ?", now).
		Delete(&models.BlockedClient{}).Error
}
