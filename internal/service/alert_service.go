package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/dushixiang/vigil/internal/config"
	"github.com/dushixiang/vigil/internal/models"
	"github.com/dushixiang/vigil/internal/protocol"
	"github.com/dushixiang/vigil/internal/repo"
	"github.com/go-orz/orz"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// AlertService 告警管理器。三个检测器（健康评估、限流、审计）的唯一告警入口，
// 所有 Raise/Resolve 由一把互斥锁串行化，去重逻辑不会竞争。
type AlertService struct {
	logger *zap.Logger
	*orz.Service
	alertRecordRepo *repo.AlertRecordRepo
	configProvider  *config.Provider
	events          *EventService
	notifier        *Notifier

	mu     sync.Mutex
	alerts []*protocol.Alert          // 按首次触发顺序
	active map[string]*protocol.Alert // 未恢复告警，按去重键索引
}

// NewAlertService 创建告警服务
func NewAlertService(logger *zap.Logger, db *gorm.DB, configProvider *config.Provider, events *EventService, notifier *Notifier) *AlertService {
	return &AlertService{
		logger:          logger,
		Service:         orz.NewService(db),
		alertRecordRepo: repo.NewAlertRecordRepo(db),
		configProvider:  configProvider,
		events:          events,
		notifier:        notifier,
		active:          make(map[string]*protocol.Alert),
	}
}

func dedupeKey(category, sourceKey string) string {
	return category + ":" + sourceKey
}

// Raise 触发一条告警。相同去重键存在未恢复告警时更新该条目
// 而不是追加，返回值第二项表示是否为新告警。
func (s *AlertService) Raise(ctx context.Context, severity protocol.AlertSeverity, category, sourceKey, message string, value float64) (*protocol.Alert, bool) {
	now := time.Now().UnixMilli()
	key := dedupeKey(category, sourceKey)

	s.mu.Lock()

	if existing, ok := s.active[key]; ok {
		existing.Timestamp = now
		existing.Message = message
		existing.Value = value
		existing.Count++
		if severity.Rank() > existing.Severity.Rank() {
			existing.Severity = severity
		}
		snapshot := *existing
		s.mu.Unlock()

		s.persist(ctx, &snapshot)
		s.events.Publish(protocol.EventAlertRaised, snapshot)
		return &snapshot, false
	}

	alert := &protocol.Alert{
		ID:        uuid.NewString(),
		Severity:  severity,
		Category:  category,
		SourceKey: sourceKey,
		Message:   message,
		Value:     value,
		Count:     1,
		Timestamp: now,
		FiredAt:   now,
		DedupeKey: key,
	}
	s.alerts = append(s.alerts, alert)
	s.active[key] = alert
	s.enforceLimitsLocked(now)
	snapshot := *alert
	s.mu.Unlock()

	s.logger.Info("触发告警",
		zap.String("category", category),
		zap.String("sourceKey", sourceKey),
		zap.String("severity", string(severity)),
		zap.Float64("value", value),
	)

	s.persist(ctx, &snapshot)
	s.events.Publish(protocol.EventAlertRaised, snapshot)
	go s.sendNotification(snapshot)
	return &snapshot, true
}

// Resolve 按 ID 恢复告警
func (s *AlertService) Resolve(ctx context.Context, id string) (*protocol.Alert, bool) {
	s.mu.Lock()
	var target *protocol.Alert
	for _, alert := range s.alerts {
		if alert.ID == id {
			target = alert
			break
		}
	}
	if target == nil || target.Resolved {
		s.mu.Unlock()
		return nil, false
	}
	s.resolveLocked(target)
	snapshot := *target
	s.mu.Unlock()

	s.afterResolve(ctx, snapshot)
	return &snapshot, true
}

// ResolveByKey 按去重键恢复告警（条件解除时的自动恢复）
func (s *AlertService) ResolveByKey(ctx context.Context, category, sourceKey string) (*protocol.Alert, bool) {
	key := dedupeKey(category, sourceKey)

	s.mu.Lock()
	target, ok := s.active[key]
	if !ok {
		s.mu.Unlock()
		return nil, false
	}
	s.resolveLocked(target)
	snapshot := *target
	s.mu.Unlock()

	s.afterResolve(ctx, snapshot)
	return &snapshot, true
}

// resolveLocked 恢复告警（需要持有锁）
func (s *AlertService) resolveLocked(alert *protocol.Alert) {
	alert.Resolved = true
	alert.ResolvedAt = time.Now().UnixMilli()
	delete(s.active, alert.DedupeKey)
}

func (s *AlertService) afterResolve(ctx context.Context, snapshot protocol.Alert) {
	s.logger.Info("告警恢复",
		zap.String("category", snapshot.Category),
		zap.String("sourceKey", snapshot.SourceKey),
	)
	s.persist(ctx, &snapshot)
	s.events.Publish(protocol.EventAlertResolved, snapshot)
	go s.sendNotification(snapshot)
}

// Query 查询窗口内的告警，按最近触发时间倒序
func (s *AlertService) Query(window time.Duration, filter protocol.AlertFilter) []protocol.Alert {
	cutoff := int64(0)
	if window > 0 {
		cutoff = time.Now().Add(-window).UnixMilli()
	}

	s.mu.Lock()
	out := make([]protocol.Alert, 0, len(s.alerts))
	for _, alert := range s.alerts {
		if alert.Timestamp < cutoff {
			continue
		}
		if filter.Severity != "" && string(alert.Severity) != filter.Severity {
			continue
		}
		if filter.Category != "" && alert.Category != filter.Category {
			continue
		}
		if filter.Resolved != nil && alert.Resolved != *filter.Resolved {
			continue
		}
		out = append(out, *alert)
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].Timestamp > out[j].Timestamp
	})
	return out
}

// ActiveCount 当前未恢复告警数量
func (s *AlertService) ActiveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}

// enforceLimitsLocked 按保留策略淘汰告警（需要持有锁）。
// 先淘汰超龄条目，数量仍超限时优先淘汰最旧的已恢复告警。
func (s *AlertService) enforceLimitsLocked(now int64) {
	cfg := s.configProvider.Get().Alert
	cutoff := now - cfg.MaxAge().Milliseconds()

	kept := s.alerts[:0]
	for _, alert := range s.alerts {
		if alert.Timestamp < cutoff {
			delete(s.active, alert.DedupeKey)
			continue
		}
		kept = append(kept, alert)
	}
	s.alerts = kept

	for len(s.alerts) > cfg.HistorySize {
		idx := -1
		for i, alert := range s.alerts {
			if alert.Resolved {
				idx = i
				break
			}
		}
		if idx == -1 {
			idx = 0
			delete(s.active, s.alerts[0].DedupeKey)
		}
		s.alerts = append(s.alerts[:idx], s.alerts[idx+1:]...)
	}
}

// persist 告警写库失败只记录日志，内存态仍是权威数据
func (s *AlertService) persist(ctx context.Context, alert *protocol.Alert) {
	record := &models.AlertRecord{
		ID:         alert.ID,
		Severity:   string(alert.Severity),
		Category:   alert.Category,
		SourceKey:  alert.SourceKey,
		DedupeKey:  alert.DedupeKey,
		Message:    alert.Message,
		Value:      alert.Value,
		Count:      alert.Count,
		Resolved:   alert.Resolved,
		FiredAt:    alert.FiredAt,
		Timestamp:  alert.Timestamp,
		ResolvedAt: alert.ResolvedAt,
	}
	if err := s.alertRecordRepo.Save(ctx, record); err != nil {
		s.logger.Error("保存告警记录失败", zap.Error(err))
	}
}

// Clear 清空告警
func (s *AlertService) Clear(ctx context.Context) error {
	s.mu.Lock()
	s.alerts = nil
	s.active = make(map[string]*protocol.Alert)
	s.mu.Unlock()

	return s.Transaction(ctx, func(ctx context.Context) error {
		if err := s.alertRecordRepo.Clear(ctx); err != nil {
			s.logger.Error("清空告警记录失败", zap.Error(err))
			return err
		}
		return nil
	})
}

// PruneRecords 删除早于指定时间的告警记录
func (s *AlertService) PruneRecords(ctx context.Context, before time.Time) error {
	return s.alertRecordRepo.DeleteOlderThan(ctx, before.UnixMilli())
}

// sendNotification 发送告警通知（带panic恢复）
func (s *AlertService) sendNotification(alert protocol.Alert) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("发送告警通知时发生panic",
				zap.Any("panic", r),
				zap.String("alertId", alert.ID),
			)
		}
	}()

	channels := s.configProvider.Get().Alert.Channels
	if len(channels) == 0 {
		return
	}

	if err := s.notifier.SendByConfigs(channels, &alert); err != nil {
		s.logger.Error("发送告警通知失败", zap.Error(err))
	}
}
