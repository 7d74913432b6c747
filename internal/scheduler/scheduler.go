package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dushixiang/vigil/internal/config"
	"github.com/dushixiang/vigil/internal/metric"
	"github.com/dushixiang/vigil/internal/protocol"
	"github.com/dushixiang/vigil/internal/service"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// 审计报告保留 30 天
const auditRetention = 30 * 24 * time.Hour

// Scheduler 驱动采样、健康评估、定时审计和周期清理
type Scheduler struct {
	mu     sync.Mutex
	cron   *cron.Cron
	logger *zap.Logger

	configProvider   *config.Provider
	samplerService   *service.SamplerService
	healthService    *service.HealthService
	auditService     *service.AuditService
	rateLimitService *service.RateLimitService
	alertService     *service.AlertService
	store            *metric.Store

	sampleEntry cron.EntryID
	auditEntry  cron.EntryID

	ctx    context.Context
	cancel context.CancelFunc
}

// NewScheduler 创建调度器
func NewScheduler(
	logger *zap.Logger,
	configProvider *config.Provider,
	samplerService *service.SamplerService,
	healthService *service.HealthService,
	auditService *service.AuditService,
	rateLimitService *service.RateLimitService,
	alertService *service.AlertService,
	store *metric.Store,
) *Scheduler {
	return &Scheduler{
		cron:             cron.New(cron.WithSeconds()), // 支持秒级调度
		logger:           logger,
		configProvider:   configProvider,
		samplerService:   samplerService,
		healthService:    healthService,
		auditService:     auditService,
		rateLimitService: rateLimitService,
		alertService:     alertService,
		store:            store,
	}
}

// Start 启动调度器
func (s *Scheduler) Start(ctx context.Context) error {
	s.ctx, s.cancel = context.WithCancel(ctx)

	cfg := s.configProvider.Get()
	if err := s.scheduleSampling(cfg.Sampler.IntervalSeconds); err != nil {
		return err
	}
	if err := s.scheduleAudit(cfg.Audit.Schedule); err != nil {
		return err
	}

	// 周期清理不依赖配置，固定每分钟一次
	if _, err := s.cron.AddFunc("@every 1m", s.maintenance); err != nil {
		return fmt.Errorf("添加清理任务失败: %w", err)
	}

	// 配置热更新后重建采样与审计任务
	s.configProvider.OnSwap(func(next *config.AppConfig) {
		s.Reload(next)
	})

	s.cron.Start()
	s.logger.Info("调度器已启动",
		zap.Int("sampleIntervalSeconds", cfg.Sampler.IntervalSeconds),
		zap.String("auditSchedule", cfg.Audit.Schedule),
	)
	return nil
}

// Stop 停止调度器，等待进行中的任务结束
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info("调度器已停止")
}

// Reload 按新配置重建采样与审计任务
func (s *Scheduler) Reload(cfg *config.AppConfig) {
	if err := s.scheduleSampling(cfg.Sampler.IntervalSeconds); err != nil {
		s.logger.Error("重建采样任务失败", zap.Error(err))
	}
	if err := s.scheduleAudit(cfg.Audit.Schedule); err != nil {
		s.logger.Error("重建审计任务失败", zap.Error(err))
	}
	s.store.SetLimits(cfg.Metric.MaxSamples, cfg.Metric.MaxAge())
}

// scheduleSampling 注册采样任务，已存在时先移除
func (s *Scheduler) scheduleSampling(intervalSeconds int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.sampleEntry != 0 {
		s.cron.Remove(s.sampleEntry)
		s.sampleEntry = 0
	}
	if intervalSeconds <= 0 {
		intervalSeconds = 5
	}

	spec := fmt.Sprintf("@every %ds", intervalSeconds)
	entryID, err := s.cron.AddFunc(spec, s.tick)
	if err != nil {
		return fmt.Errorf("添加采样任务失败: %w", err)
	}
	s.sampleEntry = entryID
	return nil
}

// scheduleAudit 注册定时审计任务，表达式为空则不定时执行
func (s *Scheduler) scheduleAudit(schedule string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.auditEntry != 0 {
		s.cron.Remove(s.auditEntry)
		s.auditEntry = 0
	}
	if schedule == "" {
		return nil
	}

	entryID, err := s.cron.AddFunc(schedule, s.runAudit)
	if err != nil {
		return fmt.Errorf("添加审计任务失败: %w", err)
	}
	s.auditEntry = entryID
	return nil
}

// tick 一次采样加一次健康评估，评估只消费刚写入的样本
func (s *Scheduler) tick() {
	s.samplerService.Tick(s.ctx)
	s.healthService.Evaluate(s.ctx)
}

// runAudit 定时审计，已有审计在执行时跳过本轮
func (s *Scheduler) runAudit() {
	s.logger.Info("开始定时安全审计")
	if _, err := s.auditService.PerformAudit(s.ctx, protocol.AuditOptions{}); err != nil {
		if errors.Is(err, service.ErrAuditRunning) {
			s.logger.Warn("审计正在进行中，跳过本轮定时审计")
			return
		}
		s.logger.Error("定时审计失败", zap.Error(err))
	}
}

// maintenance 清理过期封禁、空闲客户端状态、陈旧指标与历史记录
func (s *Scheduler) maintenance() {
	now := time.Now()
	s.rateLimitService.Cleanup(now)
	s.store.Prune(now)

	cfg := s.configProvider.Get()
	ctx, cancel := context.WithTimeout(s.ctx, 30*time.Second)
	defer cancel()

	if err := s.alertService.PruneRecords(ctx, now.Add(-cfg.Alert.MaxAge())); err != nil {
		s.logger.Error("清理告警记录失败", zap.Error(err))
	}
	if err := s.auditService.Prune(ctx, now.Add(-auditRetention)); err != nil {
		s.logger.Error("清理审计记录失败", zap.Error(err))
	}
}

// Status 调度器状态
func (s *Scheduler) Status() map[string]interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := s.cron.Entries()
	status := map[string]interface{}{
		"totalEntries": len(entries),
	}
	for _, entry := range entries {
		switch entry.ID {
		case s.sampleEntry:
			status["nextSampleTime"] = entry.Next.Format(time.RFC3339)
		case s.auditEntry:
			status["nextAuditTime"] = entry.Next.Format(time.RFC3339)
		}
	}
	return status
}
