package service

import (
	"context"
	"testing"
	"time"

	"github.com/dushixiang/vigil/internal/config"
	"github.com/dushixiang/vigil/internal/protocol"
)

func TestRaiseAndDedupe(t *testing.T) {
	s := newTestAlertService(t, config.Default())
	ctx := context.Background()

	first, isNew := s.Raise(ctx, protocol.SeverityWarning, protocol.AlertCategoryHealth, "cpu.usage", "CPU 偏高", 75)
	if !isNew {
		t.Fatal("首次触发应为新告警")
	}
	if first.Count != 1 {
		t.Errorf("新告警计数应为1, 实际 %d", first.Count)
	}

	second, isNew := s.Raise(ctx, protocol.SeverityCritical, protocol.AlertCategoryHealth, "cpu.usage", "CPU 过高", 95)
	if isNew {
		t.Fatal("相同去重键的未恢复告警不应产生新条目")
	}
	if second.ID != first.ID {
		t.Errorf("去重命中应复用原告警 ID")
	}
	if second.Count != 2 {
		t.Errorf("去重命中后计数应为2, 实际 %d", second.Count)
	}
	if second.Severity != protocol.SeverityCritical {
		t.Errorf("告警级别应升级为 critical, 实际 %s", second.Severity)
	}
	if second.FiredAt != first.FiredAt {
		t.Errorf("首次触发时间不应变化")
	}

	if got := s.ActiveCount(); got != 1 {
		t.Errorf("活跃告警数应为1, 实际 %d", got)
	}

	// 降级不会降低已升级的级别
	third, _ := s.Raise(ctx, protocol.SeverityWarning, protocol.AlertCategoryHealth, "cpu.usage", "CPU 偏高", 80)
	if third.Severity != protocol.SeverityCritical {
		t.Errorf("告警级别只升不降, 实际 %s", third.Severity)
	}
}

func TestResolveByKey(t *testing.T) {
	s := newTestAlertService(t, config.Default())
	ctx := context.Background()

	s.Raise(ctx, protocol.SeverityWarning, protocol.AlertCategoryHealth, "memory.usage", "内存偏高", 85)

	resolved, ok := s.ResolveByKey(ctx, protocol.AlertCategoryHealth, "memory.usage")
	if !ok {
		t.Fatal("应成功恢复告警")
	}
	if !resolved.Resolved || resolved.ResolvedAt == 0 {
		t.Error("恢复后的告警应带恢复标记和恢复时间")
	}
	if got := s.ActiveCount(); got != 0 {
		t.Errorf("恢复后活跃告警数应为0, 实际 %d", got)
	}

	if _, ok := s.ResolveByKey(ctx, protocol.AlertCategoryHealth, "memory.usage"); ok {
		t.Error("重复恢复应返回 false")
	}

	// 恢复之后再次触发是新告警
	_, isNew := s.Raise(ctx, protocol.SeverityWarning, protocol.AlertCategoryHealth, "memory.usage", "内存偏高", 85)
	if !isNew {
		t.Error("已恢复告警不参与去重, 再次触发应为新告警")
	}
}

func TestResolveById(t *testing.T) {
	s := newTestAlertService(t, config.Default())
	ctx := context.Background()

	alert, _ := s.Raise(ctx, protocol.SeverityInfo, protocol.AlertCategoryAudit, "security_audit", "审计发现问题", 3)

	if _, ok := s.Resolve(ctx, "不存在的ID"); ok {
		t.Error("不存在的告警 ID 应返回 false")
	}
	if _, ok := s.Resolve(ctx, alert.ID); !ok {
		t.Fatal("按 ID 恢复失败")
	}
	if _, ok := s.Resolve(ctx, alert.ID); ok {
		t.Error("已恢复告警再次恢复应返回 false")
	}
}

func TestQueryFilter(t *testing.T) {
	s := newTestAlertService(t, config.Default())
	ctx := context.Background()

	s.Raise(ctx, protocol.SeverityWarning, protocol.AlertCategoryHealth, "cpu.usage", "a", 1)
	s.Raise(ctx, protocol.SeverityCritical, protocol.AlertCategoryRateLimit, "10.0.0.1", "b", 2)
	s.ResolveByKey(ctx, protocol.AlertCategoryHealth, "cpu.usage")

	all := s.Query(time.Hour, protocol.AlertFilter{})
	if len(all) != 2 {
		t.Fatalf("应查询到2条告警, 实际 %d", len(all))
	}

	critical := s.Query(time.Hour, protocol.AlertFilter{Severity: "critical"})
	if len(critical) != 1 || critical[0].Category != protocol.AlertCategoryRateLimit {
		t.Errorf("按级别过滤结果不正确: %+v", critical)
	}

	resolved := true
	got := s.Query(time.Hour, protocol.AlertFilter{Resolved: &resolved})
	if len(got) != 1 || got[0].SourceKey != "cpu.usage" {
		t.Errorf("按恢复状态过滤结果不正确: %+v", got)
	}

	unresolved := false
	got = s.Query(time.Hour, protocol.AlertFilter{Resolved: &unresolved, Category: protocol.AlertCategoryRateLimit})
	if len(got) != 1 || got[0].SourceKey != "10.0.0.1" {
		t.Errorf("组合过滤结果不正确: %+v", got)
	}
}

func TestEvictionPrefersResolved(t *testing.T) {
	cfg := config.Default()
	cfg.Alert.HistorySize = 2
	s := newTestAlertService(t, cfg)
	ctx := context.Background()

	s.Raise(ctx, protocol.SeverityWarning, protocol.AlertCategoryHealth, "a", "a", 1)
	s.Raise(ctx, protocol.SeverityWarning, protocol.AlertCategoryHealth, "b", "b", 2)
	s.ResolveByKey(ctx, protocol.AlertCategoryHealth, "a")

	// 超出保留数量时优先淘汰最旧的已恢复告警
	s.Raise(ctx, protocol.SeverityWarning, protocol.AlertCategoryHealth, "c", "c", 3)

	alerts := s.Query(time.Hour, protocol.AlertFilter{})
	if len(alerts) != 2 {
		t.Fatalf("保留数量应为2, 实际 %d", len(alerts))
	}
	for _, alert := range alerts {
		if alert.SourceKey == "a" {
			t.Error("已恢复的最旧告警应被淘汰")
		}
	}
	if got := s.ActiveCount(); got != 2 {
		t.Errorf("活跃告警数应为2, 实际 %d", got)
	}
}
