package service

import (
	"context"
	"testing"
	"time"

	"github.com/dushixiang/vigil/internal/config"
	"github.com/dushixiang/vigil/internal/protocol"
	"go.uber.org/zap"
)

// quietSuspicion 阈值拉高到测试流量绝不会触发自动封禁
func quietSuspicion() config.SuspicionConfig {
	return config.SuspicionConfig{
		ObservationWindowMs:  300000,
		ScoreThreshold:       1e9,
		ViolationLimit:       1000000,
		BlockDurationMinutes: 30,
		VelocityWeight:       1,
		EndpointWeight:       2,
		UserAgentWeight:      5,
	}
}

func newTestRateLimitService(t *testing.T, cfg config.RateLimitConfig) (*RateLimitService, *AlertService) {
	t.Helper()

	logger := zap.NewNop()
	appCfg := config.Default()
	provider := newTestProvider(appCfg)
	events := NewEventService(logger)
	alertService := NewAlertService(logger, newTestDB(t), provider, events, NewNotifier(logger))
	geoip := NewGeoIPService(logger, nil)
	s := NewRateLimitService(logger, newTestDB(t), cfg, alertService, events, geoip)
	return s, alertService
}

func TestFixedWindow(t *testing.T) {
	cfg := config.RateLimitConfig{
		Enabled:   true,
		Global:    config.WindowConfig{WindowMs: 60000, MaxRequests: 5},
		Suspicion: quietSuspicion(),
	}
	s, _ := newTestRateLimitService(t, cfg)

	for i := 0; i < 5; i++ {
		if d := s.Admit("1.2.3.4", "/api/health", "curl"); !d.Allowed {
			t.Fatalf("第%d个请求应被放行", i+1)
		}
	}

	d := s.Admit("1.2.3.4", "/api/health", "curl")
	if d.Allowed {
		t.Fatal("超过窗口上限的请求应被拒绝")
	}
	if d.Reason != protocol.DenyReasonRateLimit {
		t.Errorf("拒绝原因应为 rate_limit, 实际 %s", d.Reason)
	}
	if d.RetryAfterMs <= 0 || d.RetryAfterMs > 60000 {
		t.Errorf("RetryAfterMs 应在窗口剩余时间内, 实际 %d", d.RetryAfterMs)
	}

	// 其他客户端不受影响
	if d := s.Admit("5.6.7.8", "/api/health", "curl"); !d.Allowed {
		t.Error("不同客户端的计数应相互独立")
	}

	stats := s.Stats()
	if stats.TotalRequests != 7 {
		t.Errorf("总请求数应为7, 实际 %d", stats.TotalRequests)
	}
	if stats.BlockedRequests != 1 {
		t.Errorf("被拒请求数应为1, 实际 %d", stats.BlockedRequests)
	}
}

func TestWindowReset(t *testing.T) {
	cfg := config.RateLimitConfig{
		Enabled:   true,
		Global:    config.WindowConfig{WindowMs: 50, MaxRequests: 2},
		Suspicion: quietSuspicion(),
	}
	s, _ := newTestRateLimitService(t, cfg)

	s.Admit("1.2.3.4", "/", "")
	s.Admit("1.2.3.4", "/", "")
	if d := s.Admit("1.2.3.4", "/", ""); d.Allowed {
		t.Fatal("窗口内第3个请求应被拒绝")
	}

	time.Sleep(60 * time.Millisecond)

	if d := s.Admit("1.2.3.4", "/", ""); !d.Allowed {
		t.Error("窗口滚动后计数应清零")
	}
}

func TestBurstLimit(t *testing.T) {
	cfg := config.RateLimitConfig{
		Enabled: true,
		Global: config.WindowConfig{
			WindowMs: 60000, MaxRequests: 1000,
			BurstWindowMs: 60000, BurstMax: 2,
		},
		Suspicion: quietSuspicion(),
	}
	s, _ := newTestRateLimitService(t, cfg)

	s.Admit("1.2.3.4", "/", "")
	s.Admit("1.2.3.4", "/", "")
	d := s.Admit("1.2.3.4", "/", "")
	if d.Allowed {
		t.Fatal("超过突发上限的请求应被拒绝")
	}
	if d.Reason != protocol.DenyReasonBurstLimit {
		t.Errorf("拒绝原因应为 burst_limit, 实际 %s", d.Reason)
	}
}

func TestEndpointOverrideStricter(t *testing.T) {
	cfg := config.RateLimitConfig{
		Enabled: true,
		Global:  config.WindowConfig{WindowMs: 60000, MaxRequests: 100},
		Endpoints: map[string]config.WindowConfig{
			"/api/audit": {WindowMs: 60000, MaxRequests: 2},
		},
		Suspicion: quietSuspicion(),
	}
	s, _ := newTestRateLimitService(t, cfg)

	s.Admit("1.2.3.4", "/api/audit", "")
	s.Admit("1.2.3.4", "/api/audit", "")
	if d := s.Admit("1.2.3.4", "/api/audit", ""); d.Allowed {
		t.Error("端点覆盖配置更严格时应以端点为准")
	}

	// 全局配置对其他端点仍然生效
	if d := s.Admit("1.2.3.4", "/api/health", ""); !d.Allowed {
		t.Error("其他端点应使用全局配置")
	}
}

func TestAutoBlockOnViolations(t *testing.T) {
	suspicion := quietSuspicion()
	suspicion.ViolationLimit = 3
	cfg := config.RateLimitConfig{
		Enabled:   true,
		Global:    config.WindowConfig{WindowMs: 60000, MaxRequests: 1},
		Suspicion: suspicion,
	}
	s, alertService := newTestRateLimitService(t, cfg)

	s.Admit("9.9.9.9", "/", "bot") // 放行
	for i := 0; i < 3; i++ {
		s.Admit("9.9.9.9", "/", "bot") // 三次违规
	}

	d := s.Admit("9.9.9.9", "/", "bot")
	if d.Allowed {
		t.Fatal("达到违规上限后应被封禁")
	}
	if d.Reason != protocol.DenyReasonBlocked {
		t.Errorf("拒绝原因应为 blocked, 实际 %s", d.Reason)
	}
	if d.RetryAfterMs <= 0 {
		t.Error("封禁拒绝应携带剩余封禁时间")
	}

	blocked := s.BlockedClients()
	if len(blocked) != 1 {
		t.Fatalf("封禁列表应有1条, 实际 %d", len(blocked))
	}
	if blocked[0].Reason != protocol.BlockReasonRateExceeded {
		t.Errorf("封禁原因应为 %s, 实际 %s", protocol.BlockReasonRateExceeded, blocked[0].Reason)
	}

	if s.Stats().DDoSEvents != 1 {
		t.Errorf("DDoS 事件数应为1, 实际 %d", s.Stats().DDoSEvents)
	}

	// 自动封禁伴随限流分类的告警
	alerts := alertService.Query(time.Hour, protocol.AlertFilter{Category: protocol.AlertCategoryRateLimit})
	if len(alerts) != 1 || alerts[0].SourceKey != "9.9.9.9" {
		t.Errorf("应产生针对该客户端的告警: %+v", alerts)
	}
}

func TestAutoBlockSuspicious(t *testing.T) {
	suspicion := quietSuspicion()
	suspicion.ScoreThreshold = 5 // 单个 UA 权重即可触发
	cfg := config.RateLimitConfig{
		Enabled:   true,
		Global:    config.WindowConfig{WindowMs: 60000, MaxRequests: 1000},
		Suspicion: suspicion,
	}
	s, alertService := newTestRateLimitService(t, cfg)

	// 当前请求本身放行, 封禁对后续请求生效
	if d := s.Admit("8.8.8.8", "/", "scanner"); !d.Allowed {
		t.Fatal("评分是事后累积, 当前请求不应被拦截")
	}
	if d := s.Admit("8.8.8.8", "/", "scanner"); d.Allowed {
		t.Fatal("评分超阈值后的请求应被封禁")
	}

	blocked := s.BlockedClients()
	if len(blocked) != 1 || blocked[0].Reason != protocol.BlockReasonSuspicious {
		t.Fatalf("封禁原因应为 %s: %+v", protocol.BlockReasonSuspicious, blocked)
	}

	// 可疑行为封禁触发 critical 告警
	alerts := alertService.Query(time.Hour, protocol.AlertFilter{Category: protocol.AlertCategoryRateLimit})
	if len(alerts) != 1 || alerts[0].Severity != protocol.SeverityCritical {
		t.Errorf("可疑封禁应产生 critical 告警: %+v", alerts)
	}
}

func TestBlockExpiry(t *testing.T) {
	cfg := config.RateLimitConfig{
		Enabled:   true,
		Global:    config.WindowConfig{WindowMs: 60000, MaxRequests: 100},
		Suspicion: quietSuspicion(),
	}
	s, _ := newTestRateLimitService(t, cfg)

	s.Block(context.Background(), "7.7.7.7", 30*time.Millisecond, "")
	if d := s.Admit("7.7.7.7", "/", ""); d.Allowed {
		t.Fatal("封禁期间的请求应被拒绝")
	}

	time.Sleep(40 * time.Millisecond)

	// 封禁到期后按全新客户端对待
	if d := s.Admit("7.7.7.7", "/", ""); !d.Allowed {
		t.Error("封禁到期后的请求应被放行")
	}
	if len(s.BlockedClients()) != 0 {
		t.Error("到期的封禁不应出现在封禁列表")
	}
}

func TestUnblockClearsState(t *testing.T) {
	suspicion := quietSuspicion()
	suspicion.ViolationLimit = 2
	cfg := config.RateLimitConfig{
		Enabled:   true,
		Global:    config.WindowConfig{WindowMs: 60000, MaxRequests: 1},
		Suspicion: suspicion,
	}
	s, alertService := newTestRateLimitService(t, cfg)
	ctx := context.Background()

	s.Admit("6.6.6.6", "/", "")
	s.Admit("6.6.6.6", "/", "")
	s.Admit("6.6.6.6", "/", "") // 第二次违规, 触发自动封禁

	if !s.Unblock(ctx, "6.6.6.6") {
		t.Fatal("解封应成功")
	}
	if s.Unblock(ctx, "6.6.6.6") {
		t.Error("重复解封应返回 false")
	}
	if alertService.ActiveCount() != 0 {
		t.Error("解封应同时恢复封禁告警")
	}

	// 解封清空违规累积, 一次请求不应再次触发封禁
	if d := s.Admit("6.6.6.6", "/", ""); !d.Allowed {
		t.Error("解封后的首个请求应被放行")
	}
}

func TestDisabled(t *testing.T) {
	cfg := config.RateLimitConfig{
		Enabled:   false,
		Global:    config.WindowConfig{WindowMs: 1, MaxRequests: 1},
		Suspicion: quietSuspicion(),
	}
	s, _ := newTestRateLimitService(t, cfg)

	for i := 0; i < 10; i++ {
		if d := s.Admit("1.1.1.1", "/", ""); !d.Allowed {
			t.Fatal("限流关闭时所有请求都应放行")
		}
	}
	if s.Stats().TotalRequests != 0 {
		t.Error("限流关闭时不应计数")
	}
}

func TestSetConfigRejectsInvalid(t *testing.T) {
	cfg := config.RateLimitConfig{
		Enabled:   true,
		Global:    config.WindowConfig{WindowMs: 60000, MaxRequests: 5},
		Suspicion: quietSuspicion(),
	}
	s, _ := newTestRateLimitService(t, cfg)

	bad := cfg
	bad.Global.MaxRequests = 0
	if err := s.SetConfig(bad); err == nil {
		t.Fatal("非法配置应被拒绝")
	}
	if got := s.GetConfig().Global.MaxRequests; got != 5 {
		t.Errorf("拒绝非法配置后应保留旧配置, 实际 MaxRequests=%d", got)
	}

	good := cfg
	good.Global.MaxRequests = 10
	if err := s.SetConfig(good); err != nil {
		t.Fatalf("合法配置应被接受: %v", err)
	}
	if got := s.GetConfig().Global.MaxRequests; got != 10 {
		t.Errorf("配置未生效, 实际 MaxRequests=%d", got)
	}
}

func TestCleanup(t *testing.T) {
	cfg := config.RateLimitConfig{
		Enabled:   true,
		Global:    config.WindowConfig{WindowMs: 60000, MaxRequests: 100},
		Suspicion: quietSuspicion(),
	}
	s, _ := newTestRateLimitService(t, cfg)

	s.Block(context.Background(), "3.3.3.3", time.Millisecond, "")
	time.Sleep(5 * time.Millisecond)
	s.Cleanup(time.Now())

	if len(s.BlockedClients()) != 0 {
		t.Error("清理后不应残留过期封禁")
	}
}

func TestAdmitFailOpen(t *testing.T) {
	cfg := config.RateLimitConfig{
		Enabled:   true,
		Global:    config.WindowConfig{WindowMs: 60000, MaxRequests: 5},
		Suspicion: quietSuspicion(),
	}
	s, alertService := newTestRateLimitService(t, cfg)

	// 注入内部故障: 状态表置空, 窗口计数写入会触发 panic
	s.state = nil

	if d := s.Admit("1.2.3.4", "/api/health", "curl"); !d.Allowed {
		t.Fatal("限流器内部故障时应放行请求")
	}

	// 锁必须已释放, 后续请求照常判定而不是永久阻塞
	s.state = make(map[string]*clientState)
	for i := 0; i < 5; i++ {
		if d := s.Admit("1.2.3.4", "/api/health", "curl"); !d.Allowed {
			t.Fatalf("故障恢复后第%d个请求应被放行", i+1)
		}
	}
	if d := s.Admit("1.2.3.4", "/api/health", "curl"); d.Allowed {
		t.Fatal("故障恢复后窗口计数应照常生效")
	}

	// 告警在独立协程中触发, 轮询等待
	deadline := time.Now().Add(time.Second)
	for {
		alerts := alertService.Query(time.Hour, protocol.AlertFilter{Category: protocol.AlertCategoryInternal})
		if len(alerts) == 1 && alerts[0].Severity == protocol.SeverityCritical {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("限流器故障应触发 critical 告警, 实际 %d 条", len(alerts))
		}
		time.Sleep(10 * time.Millisecond)
	}
}
