package service

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/dushixiang/vigil/internal/config"
	"github.com/dushixiang/vigil/internal/protocol"
	"github.com/dushixiang/vigil/pkg/audit"
	"github.com/spf13/afero"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newAuditFixtureFs(t *testing.T) afero.Fs {
	t.Helper()

	fs := afero.NewMemMapFs()
	files := map[string]string{
		"/proj/go.mod":     "module example.com/demo\n\ngo 1.22\n\nrequire example.com/lib v1.0.0\n\nreplace example.com/lib => ../lib\n",
		"/proj/config.yml": "server:\n  addr: :8080\npassword: hunter2\n",
		"/proj/main.go":    "package main\n\nfunc main() {}\n",
	}
	for path, content := range files {
		if err := afero.WriteFile(fs, path, []byte(content), 0o644); err != nil {
			t.Fatalf("写入测试文件失败: %v", err)
		}
	}
	return fs
}

func newTestAuditService(t *testing.T, fs afero.Fs, checkers []audit.Checker) (*AuditService, *AlertService, *gorm.DB) {
	t.Helper()

	logger := zap.NewNop()
	cfg := config.Default()
	cfg.Audit.Root = "/proj"
	cfg.Audit.TimeoutSeconds = 30
	provider := newTestProvider(cfg)
	events := NewEventService(logger)
	db := newTestDB(t)
	alertService := NewAlertService(logger, db, provider, events, NewNotifier(logger))
	s := NewAuditService(logger, db, provider, alertService, events, fs, checkers)
	return s, alertService, db
}

func TestPerformAudit(t *testing.T) {
	s, alertService, _ := newTestAuditService(t, newAuditFixtureFs(t), nil)

	report, err := s.PerformAudit(context.Background(), protocol.AuditOptions{})
	if err != nil {
		t.Fatalf("审计失败: %v", err)
	}

	if report.Partial {
		t.Error("全部分类完成时不应标记为部分报告")
	}
	if len(report.Categories) != 5 {
		t.Fatalf("应包含5个分类, 实际 %d", len(report.Categories))
	}
	for i := 1; i < len(report.Categories); i++ {
		if report.Categories[i-1].Name > report.Categories[i].Name {
			t.Fatal("分类应按名称排序")
		}
	}
	for _, category := range report.Categories {
		if category.Status != protocol.CategoryStatusComplete {
			t.Errorf("分类 %s 应为 complete, 实际 %s", category.Name, category.Status)
		}
	}

	// go.sum 缺失(high) + replace 指令(medium) + 明文凭据(high)
	if report.Summary.High != 2 {
		t.Errorf("high 发现数应为2, 实际 %d", report.Summary.High)
	}
	if report.Summary.Medium != 1 {
		t.Errorf("medium 发现数应为1, 实际 %d", report.Summary.Medium)
	}
	if report.Summary.Total != 3 {
		t.Errorf("发现总数应为3, 实际 %d", report.Summary.Total)
	}
	if report.OverallRisk != protocol.AuditSeverityHigh {
		t.Errorf("整体风险应为 high, 实际 %s", report.OverallRisk)
	}
	if len(report.Recommendations) == 0 {
		t.Error("有发现时应生成处置建议")
	}

	// 高风险审计触发告警
	alerts := alertService.Query(time.Hour, protocol.AlertFilter{Category: protocol.AlertCategoryAudit})
	if len(alerts) != 1 {
		t.Errorf("高风险审计应产生1条告警, 实际 %d", len(alerts))
	}
}

func TestAuditDeterminism(t *testing.T) {
	s, _, _ := newTestAuditService(t, newAuditFixtureFs(t), nil)
	ctx := context.Background()

	first, err := s.PerformAudit(ctx, protocol.AuditOptions{})
	if err != nil {
		t.Fatalf("第一次审计失败: %v", err)
	}
	second, err := s.PerformAudit(ctx, protocol.AuditOptions{})
	if err != nil {
		t.Fatalf("第二次审计失败: %v", err)
	}

	for i := range first.Categories {
		if !reflect.DeepEqual(first.Categories[i].Findings, second.Categories[i].Findings) {
			t.Errorf("分类 %s 两次审计的发现应一致", first.Categories[i].Name)
		}
	}
}

func TestAuditCategorySelection(t *testing.T) {
	s, _, _ := newTestAuditService(t, newAuditFixtureFs(t), nil)

	report, err := s.PerformAudit(context.Background(), protocol.AuditOptions{
		Categories: []string{audit.CategoryDependency},
	})
	if err != nil {
		t.Fatalf("审计失败: %v", err)
	}
	if len(report.Categories) != 1 || report.Categories[0].Name != audit.CategoryDependency {
		t.Fatalf("应只审计指定分类: %+v", report.Categories)
	}
}

func TestAuditPersistAndQuery(t *testing.T) {
	s, _, _ := newTestAuditService(t, newAuditFixtureFs(t), nil)
	ctx := context.Background()

	report, err := s.PerformAudit(ctx, protocol.AuditOptions{})
	if err != nil {
		t.Fatalf("审计失败: %v", err)
	}

	got, err := s.GetById(ctx, report.ID)
	if err != nil {
		t.Fatalf("按 ID 查询失败: %v", err)
	}
	if got.ID != report.ID || got.Summary != report.Summary {
		t.Error("持久化后的报告与原报告不一致")
	}

	history, err := s.History(ctx)
	if err != nil {
		t.Fatalf("查询历史失败: %v", err)
	}
	if len(history) != 1 {
		t.Errorf("历史应有1条报告, 实际 %d", len(history))
	}

	latest, err := s.Latest(ctx)
	if err != nil {
		t.Fatalf("查询最近报告失败: %v", err)
	}
	if latest.ID != report.ID {
		t.Error("最近报告 ID 不匹配")
	}
}

// panicChecker 验证单分类崩溃不影响整体报告
type panicChecker struct{}

func (c *panicChecker) Name() string { return "panic_category" }

func (c *panicChecker) Check(ctx context.Context, fs afero.Fs, root string) ([]protocol.Finding, error) {
	panic("checker exploded")
}

func TestAuditCategoryPanicIsolated(t *testing.T) {
	checkers := append(audit.Defaults(), &panicChecker{})
	s, _, _ := newTestAuditService(t, newAuditFixtureFs(t), checkers)

	report, err := s.PerformAudit(context.Background(), protocol.AuditOptions{})
	if err != nil {
		t.Fatalf("审计失败: %v", err)
	}

	if !report.Partial {
		t.Error("存在 incomplete 分类时应标记为部分报告")
	}

	var crashed, completed int
	for _, category := range report.Categories {
		if category.Name == "panic_category" {
			if category.Status != protocol.CategoryStatusIncomplete {
				t.Errorf("崩溃分类应为 incomplete, 实际 %s", category.Status)
			}
			if category.Error == "" {
				t.Error("崩溃分类应记录错误信息")
			}
			crashed++
			continue
		}
		if category.Status == protocol.CategoryStatusComplete {
			completed++
		}
	}
	if crashed != 1 || completed != 5 {
		t.Errorf("其余分类应正常完成: crashed=%d completed=%d", crashed, completed)
	}
}

// blockingChecker 阻塞到上下文取消为止
type blockingChecker struct {
	started chan struct{}
}

func (c *blockingChecker) Name() string { return "blocking_category" }

func (c *blockingChecker) Check(ctx context.Context, fs afero.Fs, root string) ([]protocol.Finding, error) {
	close(c.started)
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestAuditCancelAndConcurrency(t *testing.T) {
	blocker := &blockingChecker{started: make(chan struct{})}
	s, _, _ := newTestAuditService(t, newAuditFixtureFs(t), []audit.Checker{blocker})

	done := make(chan *protocol.AuditReport, 1)
	go func() {
		report, err := s.PerformAudit(context.Background(), protocol.AuditOptions{})
		if err != nil {
			t.Errorf("审计失败: %v", err)
		}
		done <- report
	}()

	<-blocker.started

	// 同一时刻只允许一个审计
	if _, err := s.PerformAudit(context.Background(), protocol.AuditOptions{}); !errors.Is(err, ErrAuditRunning) {
		t.Errorf("并发审计应返回 ErrAuditRunning, 实际 %v", err)
	}
	if !s.Running() {
		t.Error("审计运行中标记应为 true")
	}

	if !s.Cancel() {
		t.Fatal("取消运行中的审计应成功")
	}

	report := <-done
	if report == nil {
		t.Fatal("取消后仍应产出部分报告")
	}
	if !report.Partial {
		t.Error("被取消的审计应标记为部分报告")
	}
	if report.Categories[0].Status != protocol.CategoryStatusIncomplete {
		t.Errorf("被取消的分类应为 incomplete, 实际 %s", report.Categories[0].Status)
	}
	if report.Categories[0].Error != "已取消" {
		t.Errorf("取消原因应为 已取消, 实际 %q", report.Categories[0].Error)
	}

	if s.Cancel() {
		t.Error("没有运行中的审计时取消应返回 false")
	}
}
