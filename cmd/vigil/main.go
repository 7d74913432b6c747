package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dushixiang/vigil/internal/config"
	"github.com/dushixiang/vigil/internal/handler"
	"github.com/dushixiang/vigil/internal/logging"
	"github.com/dushixiang/vigil/internal/metric"
	"github.com/dushixiang/vigil/internal/models"
	"github.com/dushixiang/vigil/internal/scheduler"
	"github.com/dushixiang/vigil/internal/service"
	"github.com/dushixiang/vigil/pkg/probe"
	"github.com/glebarez/sqlite"
	"github.com/labstack/echo/v4"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

var configPath string

func main() {
	rootCmd := &cobra.Command{
		Use:          "vigil",
		Short:        "运行状态、性能与滥用防护监控引擎",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run()
		},
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yml", "配置文件路径")

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("加载配置失败: %w", err)
	}

	logger := logging.NewLogger(cfg.Log)
	defer func() {
		_ = logger.Sync()
	}()

	provider := config.NewProvider(configPath, cfg, logger)
	defer func() {
		_ = provider.Close()
	}()

	db, err := gorm.Open(sqlite.Open(cfg.Database.Path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return fmt.Errorf("打开数据库失败: %w", err)
	}
	if err := db.AutoMigrate(
		&models.AlertRecord{},
		&models.AuditRecord{},
		&models.BlockedClient{},
	); err != nil {
		return fmt.Errorf("数据库迁移失败: %w", err)
	}

	store := metric.NewStore(logger, cfg.Metric.MaxSamples, cfg.Metric.MaxAge())

	eventService := service.NewEventService(logger)
	geoipService := service.NewGeoIPService(logger, cfg.GeoIP)
	defer geoipService.Close()

	notifier := service.NewNotifier(logger)
	alertService := service.NewAlertService(logger, db, provider, eventService, notifier)
	samplerService := service.NewSamplerService(logger, store, provider, probe.Defaults())
	healthService := service.NewHealthService(logger, store, provider, alertService, eventService)
	rateLimitService := service.NewRateLimitService(logger, db, cfg.RateLimit, alertService, eventService, geoipService)
	auditService := service.NewAuditService(logger, db, provider, alertService, eventService, nil, nil)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 重启后恢复未过期的封禁
	if err := rateLimitService.LoadPersisted(ctx); err != nil {
		logger.Error("加载封禁记录失败", zap.Error(err))
	}

	// 限流配置随配置文件热更新
	provider.OnSwap(func(next *config.AppConfig) {
		if err := rateLimitService.SetConfig(next.RateLimit); err != nil {
			logger.Error("限流配置热更新失败", zap.Error(err))
		}
	})

	sched := scheduler.NewScheduler(logger, provider, samplerService, healthService,
		auditService, rateLimitService, alertService, store)
	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("启动调度器失败: %w", err)
	}
	defer sched.Stop()

	// 回调注册完毕后再开始监听配置文件
	if err := provider.Watch(); err != nil {
		logger.Warn("配置热更新不可用", zap.Error(err))
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	handlers := &handler.Handlers{
		Metric:    handler.NewMetricHandler(logger, store),
		Health:    handler.NewHealthHandler(logger, healthService),
		Alert:     handler.NewAlertHandler(logger, alertService),
		RateLimit: handler.NewRateLimitHandler(logger, rateLimitService),
		Audit:     handler.NewAuditHandler(logger, auditService),
		Event:     handler.NewEventHandler(logger, eventService),
		Export:    handler.NewExportHandler(logger, store, healthService, auditService, rateLimitService),
	}
	handler.Register(e, handlers, handler.RateLimitMiddleware(rateLimitService))

	go func() {
		logger.Info("HTTP 服务已启动", zap.String("addr", cfg.Server.Addr))
		if err := e.Start(cfg.Server.Addr); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP 服务异常退出", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("收到退出信号，开始关闭")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error("关闭 HTTP 服务失败", zap.Error(err))
	}
	return nil
}
