package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dushixiang/vigil/internal/config"
	"github.com/dushixiang/vigil/internal/models"
	"github.com/dushixiang/vigil/internal/protocol"
	"github.com/dushixiang/vigil/internal/repo"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// RateLimitService 限流与滥用检测。
// Admit 是请求热路径：纯内存计数、一次加锁、O(1)，不做任何 I/O。
// 内部出错时 fail-open：放行请求并触发 critical 告警，
// 防御机制自身引发的可用性故障比短暂欠保护更糟。
type RateLimitService struct {
	logger            *zap.Logger
	alertService      *AlertService
	events            *EventService
	geoipService      *GeoIPService
	blockedClientRepo *repo.BlockedClientRepo

	config atomic.Pointer[config.RateLimitConfig]

	mu      sync.Mutex
	state   map[string]*clientState
	blocked map[string]*protocol.BlockedClient

	totalRequests   atomic.Int64
	blockedRequests atomic.Int64
	ddosEvents      atomic.Int64
}

// clientState 单个客户端的全部限流状态，解封时整体丢弃
type clientState struct {
	windows map[string]*rateWindow // 按 endpoint

	// 可疑行为画像（滚动观察窗口）
	firstSeen    int64
	windowStart  int64
	requestCount int64
	endpoints    map[string]struct{}
	userAgents   map[string]struct{}
	violations   int
	score        float64
	lastSeen     int64
}

// rateWindow 固定窗口计数器，外加一个更短的突发窗口
type rateWindow struct {
	count       int
	windowStart int64
	burstCount  int
	burstStart  int64
}

// NewRateLimitService 创建限流服务
func NewRateLimitService(logger *zap.Logger, db *gorm.DB, cfg config.RateLimitConfig, alertService *AlertService, events *EventService, geoipService *GeoIPService) *RateLimitService {
	s := &RateLimitService{
		logger:            logger,
		alertService:      alertService,
		events:            events,
		geoipService:      geoipService,
		blockedClientRepo: repo.NewBlockedClientRepo(db),
		state:             make(map[string]*clientState),
		blocked:           make(map[string]*protocol.BlockedClient),
	}
	s.config.Store(&cfg)
	return s
}

// LoadPersisted 启动时恢复仍在生效的封禁记录
func (s *RateLimitService) LoadPersisted(ctx context.Context) error {
	now := time.Now().UnixMilli()
	if err := s.blockedClientRepo.DeleteExpired(ctx, now); err != nil {
		s.logger.Error("清理过期封禁记录失败", zap.Error(err))
	}

	records, err := s.blockedClientRepo.FindActive(ctx, now)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, record := range records {
		s.blocked[record.ClientID] = &protocol.BlockedClient{
			ClientID:     record.ClientID,
			Reason:       record.Reason,
			Country:      record.Country,
			BlockedAt:    record.BlockedAt,
			BlockedUntil: record.BlockedUntil,
		}
	}
	if len(records) > 0 {
		s.logger.Info("已恢复封禁记录", zap.Int("count", len(records)))
	}
	return nil
}

// GetConfig 当前限流配置快照
func (s *RateLimitService) GetConfig() config.RateLimitConfig {
	return *s.config.Load()
}

// SetConfig 更新限流配置，非法配置被拒绝且保留旧配置
func (s *RateLimitService) SetConfig(cfg config.RateLimitConfig) error {
	if err := config.ValidateRateLimit(&cfg); err != nil {
		return err
	}
	s.config.Store(&cfg)
	s.logger.Info("限流配置已更新",
		zap.Int("globalMaxRequests", cfg.Global.MaxRequests),
		zap.Int64("globalWindowMs", cfg.Global.WindowMs))
	return nil
}

// effectiveWindow 计算端点的生效限流参数。
// 端点覆盖配置与全局配置并存时，逐项取更严格的一方。
func effectiveWindow(cfg *config.RateLimitConfig, endpoint string) config.WindowConfig {
	effective := cfg.Global
	override, ok := cfg.Endpoints[endpoint]
	if !ok {
		return effective
	}

	if override.WindowMs > 0 {
		effective.WindowMs = override.WindowMs
	}
	if override.MaxRequests > 0 && override.MaxRequests < effective.MaxRequests {
		effective.MaxRequests = override.MaxRequests
	} else if override.MaxRequests > 0 && override.WindowMs != cfg.Global.WindowMs {
		// 窗口长度不同则无法直接比较，以端点配置为准
		effective.MaxRequests = override.MaxRequests
	}
	if override.BurstWindowMs > 0 {
		effective.BurstWindowMs = override.BurstWindowMs
	}
	if override.BurstMax > 0 && (effective.BurstMax == 0 || override.BurstMax < effective.BurstMax) {
		effective.BurstMax = override.BurstMax
	}
	return effective
}

// Admit 请求准入判定
func (s *RateLimitService) Admit(clientID, endpoint, userAgent string) (decision protocol.Decision) {
	defer func() {
		if r := recover(); r != nil {
			// fail-open：放行并告警，绝不因限流器自身故障拒绝流量
			s.logger.Error("限流器内部错误，放行请求", zap.Any("panic", r))
			decision = protocol.Decision{Allowed: true}
			go s.alertService.Raise(context.Background(), protocol.SeverityCritical,
				protocol.AlertCategoryInternal, "ratelimiter",
				fmt.Sprintf("限流器内部错误: %v", r), 0)
		}
	}()

	cfg := s.config.Load()
	if !cfg.Enabled {
		return protocol.Decision{Allowed: true}
	}

	now := time.Now().UnixMilli()
	s.totalRequests.Add(1)

	decision, blockEvent := s.admit(cfg, clientID, endpoint, userAgent, now)

	if blockEvent != nil {
		s.afterAutoBlock(blockEvent)
	}
	if !decision.Allowed {
		s.blockedRequests.Add(1)
	}
	return decision
}

// admit 在锁内完成封禁检查、窗口计数、可疑评分与自动封禁判定。
// defer 解锁保证 panic 时锁不会悬挂，外层 recover 才能继续放行后续请求。
func (s *RateLimitService) admit(cfg *config.RateLimitConfig, clientID, endpoint, userAgent string, now int64) (protocol.Decision, *protocol.BlockedClient) {
	var blockEvent *protocol.BlockedClient

	s.mu.Lock()
	defer s.mu.Unlock()

	// 封禁检查优先于窗口计数
	if blockedClient, ok := s.blocked[clientID]; ok {
		if now < blockedClient.BlockedUntil {
			return protocol.Decision{
				Allowed:      false,
				Reason:       protocol.DenyReasonBlocked,
				RetryAfterMs: blockedClient.BlockedUntil - now,
			}, nil
		}
		// 封禁到期：视为全新客户端，计数一次性清零
		delete(s.blocked, clientID)
		delete(s.state, clientID)
		go s.deleteBlockRecord(clientID)
	}

	st, ok := s.state[clientID]
	if !ok {
		st = &clientState{
			windows:     make(map[string]*rateWindow),
			firstSeen:   now,
			windowStart: now,
			endpoints:   make(map[string]struct{}),
			userAgents:  make(map[string]struct{}),
		}
		s.state[clientID] = st
	}
	st.lastSeen = now

	effective := effectiveWindow(cfg, endpoint)

	w, ok := st.windows[endpoint]
	if !ok {
		w = &rateWindow{windowStart: now, burstStart: now}
		st.windows[endpoint] = w
	}
	if now-w.windowStart >= effective.WindowMs {
		w.count = 0
		w.windowStart = now
	}
	w.count++

	denyReason := ""
	if w.count > effective.MaxRequests {
		denyReason = protocol.DenyReasonRateLimit
	}

	if effective.BurstWindowMs > 0 && effective.BurstMax > 0 {
		if now-w.burstStart >= effective.BurstWindowMs {
			w.burstCount = 0
			w.burstStart = now
		}
		w.burstCount++
		if denyReason == "" && w.burstCount > effective.BurstMax {
			denyReason = protocol.DenyReasonBurstLimit
		}
	}

	// 可疑行为评分与准入判定解耦：只累积，不拦截当前请求
	s.updateSuspicionLocked(st, cfg, endpoint, userAgent, now)

	if denyReason != "" {
		st.violations++
	}

	if _, alreadyBlocked := s.blocked[clientID]; !alreadyBlocked {
		suspicion := cfg.Suspicion
		switch {
		case st.score >= suspicion.ScoreThreshold:
			blockEvent = s.blockLocked(clientID, protocol.BlockReasonSuspicious, suspicion.BlockDuration(), now)
		case st.violations >= suspicion.ViolationLimit:
			blockEvent = s.blockLocked(clientID, protocol.BlockReasonRateExceeded, suspicion.BlockDuration(), now)
		}
	}

	if denyReason != "" {
		return protocol.Decision{
			Allowed:      false,
			Reason:       denyReason,
			RetryAfterMs: w.windowStart + effective.WindowMs - now,
		}, blockEvent
	}
	return protocol.Decision{Allowed: true}, blockEvent
}

// updateSuspicionLocked 增量更新可疑行为评分（需要持有锁）
func (s *RateLimitService) updateSuspicionLocked(st *clientState, cfg *config.RateLimitConfig, endpoint, userAgent string, now int64) {
	suspicion := cfg.Suspicion

	if now-st.windowStart >= suspicion.ObservationWindowMs {
		st.windowStart = now
		st.requestCount = 0
		st.endpoints = make(map[string]struct{})
		st.userAgents = make(map[string]struct{})
		st.score = 0
	}

	st.requestCount++
	st.endpoints[endpoint] = struct{}{}
	if userAgent != "" {
		st.userAgents[userAgent] = struct{}{}
	}

	// 速率按观察窗口内的每秒请求数计
	elapsedSeconds := float64(now-st.windowStart) / 1000
	if elapsedSeconds < 1 {
		elapsedSeconds = 1
	}
	velocity := float64(st.requestCount) / elapsedSeconds

	st.score = velocity*suspicion.VelocityWeight +
		float64(len(st.endpoints))*suspicion.EndpointWeight +
		float64(len(st.userAgents))*suspicion.UserAgentWeight
}

// blockLocked 创建封禁条目（需要持有锁）
func (s *RateLimitService) blockLocked(clientID, reason string, duration time.Duration, now int64) *protocol.BlockedClient {
	blockedClient := &protocol.BlockedClient{
		ClientID:     clientID,
		Reason:       reason,
		BlockedAt:    now,
		BlockedUntil: now + duration.Milliseconds(),
	}
	s.blocked[clientID] = blockedClient
	return blockedClient
}

// afterAutoBlock 自动封禁的后续动作（告警、事件、持久化），在锁外执行
func (s *RateLimitService) afterAutoBlock(blockedClient *protocol.BlockedClient) {
	s.ddosEvents.Add(1)

	country := s.geoipService.Lookup(blockedClient.ClientID)
	s.mu.Lock()
	if current, ok := s.blocked[blockedClient.ClientID]; ok {
		current.Country = country
	}
	s.mu.Unlock()
	blockedClient = &protocol.BlockedClient{
		ClientID:     blockedClient.ClientID,
		Reason:       blockedClient.Reason,
		Country:      country,
		BlockedAt:    blockedClient.BlockedAt,
		BlockedUntil: blockedClient.BlockedUntil,
	}

	s.logger.Warn("自动封禁客户端",
		zap.String("clientId", blockedClient.ClientID),
		zap.String("reason", blockedClient.Reason),
		zap.String("country", blockedClient.Country),
	)

	severity := protocol.SeverityWarning
	if blockedClient.Reason == protocol.BlockReasonSuspicious {
		severity = protocol.SeverityCritical
	}
	s.alertService.Raise(context.Background(), severity, protocol.AlertCategoryRateLimit,
		blockedClient.ClientID,
		fmt.Sprintf("客户端 %s 已被自动封禁，原因 %s", blockedClient.ClientID, blockedClient.Reason),
		0)

	s.events.Publish(protocol.EventClientBlocked, *blockedClient)
	s.persistBlock(blockedClient)
}

// Block 手动封禁，优先级高于自动封禁状态
func (s *RateLimitService) Block(ctx context.Context, clientID string, duration time.Duration, reason string) *protocol.BlockedClient {
	if reason == "" {
		reason = protocol.BlockReasonManual
	}
	if duration <= 0 {
		duration = s.config.Load().Suspicion.BlockDuration()
	}

	now := time.Now().UnixMilli()

	country := s.geoipService.Lookup(clientID)

	s.mu.Lock()
	blockedClient := s.blockLocked(clientID, reason, duration, now)
	blockedClient.Country = country
	snapshot := *blockedClient
	s.mu.Unlock()
	blockedClient = &snapshot

	s.logger.Info("手动封禁客户端",
		zap.String("clientId", clientID),
		zap.Duration("duration", duration))

	s.events.Publish(protocol.EventClientBlocked, *blockedClient)
	s.persistBlock(blockedClient)
	return blockedClient
}

// Unblock 手动解封。同时清空可疑行为累积，避免残余评分立即再次触发封禁。
func (s *RateLimitService) Unblock(ctx context.Context, clientID string) bool {
	s.mu.Lock()
	_, ok := s.blocked[clientID]
	if ok {
		delete(s.blocked, clientID)
		delete(s.state, clientID)
	}
	s.mu.Unlock()

	if !ok {
		return false
	}

	s.logger.Info("手动解封客户端", zap.String("clientId", clientID))

	if err := s.blockedClientRepo.Delete(ctx, clientID); err != nil {
		s.logger.Error("删除封禁记录失败", zap.Error(err))
	}
	s.alertService.ResolveByKey(ctx, protocol.AlertCategoryRateLimit, clientID)
	s.events.Publish(protocol.EventClientUnblocked, map[string]string{"clientId": clientID})
	return true
}

// BlockedClients 当前生效的封禁列表
func (s *RateLimitService) BlockedClients() []protocol.BlockedClient {
	now := time.Now().UnixMilli()

	s.mu.Lock()
	out := make([]protocol.BlockedClient, 0, len(s.blocked))
	for _, blockedClient := range s.blocked {
		if blockedClient.BlockedUntil > now {
			out = append(out, *blockedClient)
		}
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].BlockedAt > out[j].BlockedAt
	})
	return out
}

// Suspicious 当前观察窗口内的客户端行为画像，按评分倒序
func (s *RateLimitService) Suspicious() []protocol.SuspiciousActivity {
	s.mu.Lock()
	out := make([]protocol.SuspiciousActivity, 0, len(s.state))
	for clientID, st := range s.state {
		out = append(out, protocol.SuspiciousActivity{
			ClientID:           clientID,
			FirstSeen:          st.firstSeen,
			RequestCount:       st.requestCount,
			DistinctEndpoints:  len(st.endpoints),
			DistinctUserAgents: len(st.userAgents),
			Violations:         st.violations,
			Score:              st.score,
		})
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].Score > out[j].Score
	})
	return out
}

// Stats 限流统计
func (s *RateLimitService) Stats() protocol.RateLimitStats {
	s.mu.Lock()
	blockedCount := len(s.blocked)
	s.mu.Unlock()

	return protocol.RateLimitStats{
		TotalRequests:      s.totalRequests.Load(),
		BlockedRequests:    s.blockedRequests.Load(),
		DDoSEvents:         s.ddosEvents.Load(),
		BlockedClientCount: blockedCount,
	}
}

// Cleanup 清理过期封禁和空闲客户端状态（由调度器周期调用）
func (s *RateLimitService) Cleanup(now time.Time) {
	nowMs := now.UnixMilli()
	idleCutoff := nowMs - 2*s.config.Load().Suspicion.ObservationWindowMs

	s.mu.Lock()
	for clientID, blockedClient := range s.blocked {
		if blockedClient.BlockedUntil <= nowMs {
			delete(s.blocked, clientID)
			delete(s.state, clientID)
			go s.deleteBlockRecord(clientID)
		}
	}
	for clientID, st := range s.state {
		if st.lastSeen < idleCutoff {
			delete(s.state, clientID)
		}
	}
	s.mu.Unlock()
}

func (s *RateLimitService) persistBlock(blockedClient *protocol.BlockedClient) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	record := &models.BlockedClient{
		ClientID:     blockedClient.ClientID,
		Reason:       blockedClient.Reason,
		Country:      blockedClient.Country,
		BlockedAt:    blockedClient.BlockedAt,
		BlockedUntil: blockedClient.BlockedUntil,
	}
	if err := s.blockedClientRepo.Save(ctx, record); err != nil {
		s.logger.Error("保存封禁记录失败", zap.Error(err))
	}
}

func (s *RateLimitService) deleteBlockRecord(clientID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.blockedClientRepo.Delete(ctx, clientID); err != nil {
		s.logger.Error("删除封禁记录失败", zap.Error(err))
	}
}
