package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dushixiang/vigil/internal/config"
	"github.com/dushixiang/vigil/internal/metric"
	"github.com/dushixiang/vigil/internal/protocol"
	"go.uber.org/zap"
)

// staleFactor 样本超过 staleFactor 倍采样间隔未更新时，对应检查降级为 unknown
const staleFactor = 3

// HealthService 健康评估器。每个采样 tick 之后运行一次，也可按需触发。
// 告警为边沿触发：状态不变时不重复告警，降级恢复时自动 resolve。
type HealthService struct {
	logger         *zap.Logger
	store          *metric.Store
	configProvider *config.Provider
	alertService   *AlertService
	events         *EventService

	mu         sync.RWMutex
	history    []*protocol.HealthSnapshot // 按时间升序
	lastStatus map[string]protocol.CheckStatus
	overall    protocol.CheckStatus
	lastGood   *protocol.HealthSnapshot
}

// NewHealthService 创建健康评估服务
func NewHealthService(logger *zap.Logger, store *metric.Store, configProvider *config.Provider, alertService *AlertService, events *EventService) *HealthService {
	return &HealthService{
		logger:         logger,
		store:          store,
		configProvider: configProvider,
		alertService:   alertService,
		events:         events,
		lastStatus:     make(map[string]protocol.CheckStatus),
		overall:        protocol.StatusHealthy,
	}
}

// EvaluateCheck 纯函数：对单个样本做阈值比较。
// ok 为 false 或样本状态为 unknown 或样本过期时结果为 unknown。
func EvaluateCheck(check config.CheckConfig, sample protocol.MetricSample, ok bool, staleCutoff int64) protocol.CheckResult {
	result := protocol.CheckResult{
		Name:      check.Name,
		Warning:   check.Warning,
		Critical:  check.Critical,
		Status:    protocol.StatusUnknown,
		Timestamp: sample.Timestamp,
	}

	if !ok || sample.Status == protocol.SampleStatusUnknown || sample.Timestamp < staleCutoff {
		return result
	}

	result.Value = sample.Value
	switch check.Direction {
	case config.DirectionLowerIsWorse:
		switch {
		case sample.Value <= check.Critical:
			result.Status = protocol.StatusCritical
		case sample.Value <= check.Warning:
			result.Status = protocol.StatusWarning
		default:
			result.Status = protocol.StatusHealthy
		}
	default: // higher_is_worse
		switch {
		case sample.Value >= check.Critical:
			result.Status = protocol.StatusCritical
		case sample.Value >= check.Warning:
			result.Status = protocol.StatusWarning
		default:
			result.Status = protocol.StatusHealthy
		}
	}
	return result
}

// ComputeScore 纯函数：按权重计算总分与整体状态。
// 相同输入永远得到相同结果，便于独立测试。
func ComputeScore(checks []protocol.CheckResult, weights map[string]float64) (int, protocol.CheckStatus) {
	if len(checks) == 0 {
		return 0, protocol.StatusUnknown
	}

	var weightedSum, totalWeight float64
	overall := protocol.StatusUnknown
	for _, check := range checks {
		weight := weights[check.Name]
		if weight <= 0 {
			weight = 1
		}
		weightedSum += check.Status.Score() * weight
		totalWeight += weight

		if check.Status.Rank() > overall.Rank() {
			overall = check.Status
		}
	}

	return int(weightedSum/totalWeight + 0.5), overall
}

// Evaluate 执行一次健康评估并生成快照。
// 评估器自身出错时触发 critical 告警并回退到最后一次正常快照。
func (s *HealthService) Evaluate(ctx context.Context) (snapshot *protocol.HealthSnapshot) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("健康评估发生panic", zap.Any("panic", r))
			s.alertService.Raise(ctx, protocol.SeverityCritical, protocol.AlertCategoryInternal,
				"health.evaluator", fmt.Sprintf("健康评估失败: %v", r), 0)
			snapshot = s.LastGood()
		}
	}()

	start := time.Now()
	cfg := s.configProvider.Get()
	staleCutoff := start.Add(-staleFactor * cfg.Sampler.Interval()).UnixMilli()

	checks := make([]protocol.CheckResult, 0, len(cfg.Health.Checks))
	weights := make(map[string]float64, len(cfg.Health.Checks))
	for _, check := range cfg.Health.Checks {
		sample, ok := s.store.Latest(check.Source, check.Key)
		checks = append(checks, EvaluateCheck(check, sample, ok, staleCutoff))
		weights[check.Name] = check.Weight
	}

	score, overall := ComputeScore(checks, weights)
	snapshot = &protocol.HealthSnapshot{
		Overall:    overall,
		Score:      score,
		Checks:     checks,
		Timestamp:  start.UnixMilli(),
		DurationMs: time.Since(start).Milliseconds(),
	}

	prevOverall, transitions := s.commit(snapshot, cfg.Health, checks)

	// 边沿触发：只在状态变化时告警/恢复
	for _, tr := range transitions {
		s.handleTransition(ctx, tr)
	}
	if prevOverall != overall {
		s.events.Publish(protocol.EventHealthTransition, protocol.HealthTransitionEvent{
			From: prevOverall,
			To:   overall,
		})
	}

	return snapshot
}

// commit 记录快照并推进状态机。
// defer 解锁保证评估 panic 后 LastGood 仍可读。
func (s *HealthService) commit(snapshot *protocol.HealthSnapshot, cfg config.HealthConfig, checks []protocol.CheckResult) (protocol.CheckStatus, []checkTransition) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// 先推进状态机再落快照，中途 panic 时 lastGood 仍指向上一次正常结果
	transitions := s.collectTransitionsLocked(checks)
	s.history = append(s.history, snapshot)
	s.enforceHistoryLocked(cfg, snapshot.Timestamp)
	s.lastGood = snapshot
	prevOverall := s.overall
	s.overall = snapshot.Overall
	return prevOverall, transitions
}

type checkTransition struct {
	check protocol.CheckResult
	from  protocol.CheckStatus
}

// collectTransitionsLocked 找出状态发生变化的检查项（需要持有锁）
func (s *HealthService) collectTransitionsLocked(checks []protocol.CheckResult) []checkTransition {
	var out []checkTransition
	for _, check := range checks {
		prev, seen := s.lastStatus[check.Name]
		if !seen {
			prev = protocol.StatusHealthy
		}
		if check.Status != prev {
			out = append(out, checkTransition{check: check, from: prev})
		}
		s.lastStatus[check.Name] = check.Status
	}
	return out
}

func (s *HealthService) handleTransition(ctx context.Context, tr checkTransition) {
	check := tr.check

	s.events.Publish(protocol.EventHealthTransition, protocol.HealthTransitionEvent{
		Check: check.Name,
		From:  tr.from,
		To:    check.Status,
		Value: check.Value,
	})

	switch {
	case check.Status == protocol.StatusUnknown:
		// 数据缺失不算好转，已有告警保持到出现明确结果

	case check.Status.Rank() > tr.from.Rank() && check.Status != protocol.StatusHealthy:
		// 恶化（含 unknown 之后出现的明确异常）：触发或升级告警
		severity := protocol.SeverityWarning
		if check.Status == protocol.StatusCritical {
			severity = protocol.SeverityCritical
		}
		message := fmt.Sprintf("检查项 %s 状态 %s，当前值 %.2f（warning=%.2f critical=%.2f）",
			check.Name, check.Status, check.Value, check.Warning, check.Critical)
		s.alertService.Raise(ctx, severity, protocol.AlertCategoryHealth, check.Name, message, check.Value)

	case check.Status == protocol.StatusHealthy || check.Status.Rank() < tr.from.Rank():
		// 好转：恢复已有告警，不产生新告警
		s.alertService.ResolveByKey(ctx, protocol.AlertCategoryHealth, check.Name)
	}
}

// Current 返回最近一次快照，没有历史时立即评估一次
func (s *HealthService) Current(ctx context.Context) *protocol.HealthSnapshot {
	s.mu.RLock()
	if n := len(s.history); n > 0 {
		snapshot := s.history[n-1]
		s.mu.RUnlock()
		return snapshot
	}
	s.mu.RUnlock()

	return s.Evaluate(ctx)
}

// LastGood 最后一次成功评估的快照
func (s *HealthService) LastGood() *protocol.HealthSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastGood
}

// History 查询快照历史，按时间倒序，limit <= 0 表示不限数量
func (s *HealthService) History(limit int, window time.Duration) []*protocol.HealthSnapshot {
	cutoff := int64(0)
	if window > 0 {
		cutoff = time.Now().Add(-window).UnixMilli()
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*protocol.HealthSnapshot, 0, len(s.history))
	for i := len(s.history) - 1; i >= 0; i-- {
		if s.history[i].Timestamp < cutoff {
			break
		}
		out = append(out, s.history[i])
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}

// enforceHistoryLocked 快照历史按数量和时长双重截断（需要持有锁）
func (s *HealthService) enforceHistoryLocked(cfg config.HealthConfig, now int64) {
	cutoff := now - cfg.HistoryMaxAge().Milliseconds()
	i := 0
	for i < len(s.history) && s.history[i].Timestamp < cutoff {
		i++
	}
	if over := len(s.history) - i - cfg.HistorySize; over > 0 {
		i += over
	}
	if i > 0 {
		s.history = append(s.history[:0:0], s.history[i:]...)
	}
}
