package service

import (
	"testing"

	"github.com/dushixiang/vigil/internal/config"
	"github.com/dushixiang/vigil/internal/models"
	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// newTestDB 内存数据库，每个测试独立
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("打开内存数据库失败: %v", err)
	}
	if err := db.AutoMigrate(
		&models.AlertRecord{},
		&models.AuditRecord{},
		&models.BlockedClient{},
	); err != nil {
		t.Fatalf("数据库迁移失败: %v", err)
	}
	return db
}

func newTestProvider(cfg *config.AppConfig) *config.Provider {
	return config.NewProvider("", cfg, zap.NewNop())
}

func newTestAlertService(t *testing.T, cfg *config.AppConfig) *AlertService {
	t.Helper()

	logger := zap.NewNop()
	return NewAlertService(logger, newTestDB(t), newTestProvider(cfg),
		NewEventService(logger), NewNotifier(logger))
}
