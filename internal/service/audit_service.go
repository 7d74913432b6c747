package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dushixiang/vigil/internal/config"
	"github.com/dushixiang/vigil/internal/models"
	"github.com/dushixiang/vigil/internal/protocol"
	"github.com/dushixiang/vigil/internal/repo"
	"github.com/dushixiang/vigil/pkg/audit"
	"github.com/google/uuid"
	"github.com/sourcegraph/conc"
	"github.com/spf13/afero"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ErrAuditRunning 已有审计在执行
var ErrAuditRunning = errors.New("审计正在进行中")

// AuditService 安全审计引擎。审计是重 I/O 的长任务，
// 在独立的 goroutine 中执行且整体受超时约束，绝不阻塞采样循环。
// 单个分类失败或超时只把该分类标记为 incomplete，其余分类照常产出。
type AuditService struct {
	logger         *zap.Logger
	configProvider *config.Provider
	alertService   *AlertService
	events         *EventService
	auditRepo      *repo.AuditRepo
	fs             afero.Fs
	checkers       []audit.Checker

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	latest  *protocol.AuditReport
}

// NewAuditService 创建审计服务
func NewAuditService(logger *zap.Logger, db *gorm.DB, configProvider *config.Provider, alertService *AlertService, events *EventService, fs afero.Fs, checkers []audit.Checker) *AuditService {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	if len(checkers) == 0 {
		checkers = audit.Defaults()
	}
	return &AuditService{
		logger:         logger,
		configProvider: configProvider,
		alertService:   alertService,
		events:         events,
		auditRepo:      repo.NewAuditRepo(db),
		fs:             fs,
		checkers:       checkers,
	}
}

// PerformAudit 执行一次审计。同一时刻只允许一个审计在运行。
func (s *AuditService) PerformAudit(ctx context.Context, opts protocol.AuditOptions) (*protocol.AuditReport, error) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil, ErrAuditRunning
	}
	s.running = true

	cfg := s.configProvider.Get().Audit
	timeout := cfg.Timeout()
	if opts.TimeoutSeconds > 0 {
		timeout = time.Duration(opts.TimeoutSeconds) * time.Second
	}
	auditCtx, cancel := context.WithTimeout(ctx, timeout)
	s.cancel = cancel
	s.mu.Unlock()

	defer func() {
		cancel()
		s.mu.Lock()
		s.running = false
		s.cancel = nil
		s.mu.Unlock()
	}()

	report := s.run(auditCtx, cfg, opts)

	s.mu.Lock()
	s.latest = report
	s.mu.Unlock()

	s.persist(report)
	s.notify(report)
	return report, nil
}

// Cancel 取消正在运行的审计，已完成的分类仍会进入部分报告
func (s *AuditService) Cancel() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel == nil {
		return false
	}
	s.cancel()
	return true
}

// Running 是否有审计在执行
func (s *AuditService) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// run 并发执行各分类检查器并汇总报告
func (s *AuditService) run(ctx context.Context, cfg config.AuditConfig, opts protocol.AuditOptions) *protocol.AuditReport {
	start := time.Now()

	selected := s.selectCheckers(cfg, opts)
	results := make([]protocol.CategoryResult, len(selected))

	var wg conc.WaitGroup
	for i, checker := range selected {
		i, checker := i, checker
		wg.Go(func() {
			results[i] = s.runCategory(ctx, checker, cfg.Root)
		})
	}
	wg.Wait()

	sort.Slice(results, func(i, j int) bool {
		return results[i].Name < results[j].Name
	})

	report := &protocol.AuditReport{
		ID:         uuid.NewString(),
		Timestamp:  start.UnixMilli(),
		DurationMs: time.Since(start).Milliseconds(),
		Categories: results,
	}

	// 汇总只从 findings 派生，没有第二份事实来源
	for _, category := range results {
		if category.Status == protocol.CategoryStatusIncomplete {
			report.Partial = true
		}
		for _, finding := range category.Findings {
			report.Summary.Total++
			switch finding.Severity {
			case protocol.AuditSeverityCritical:
				report.Summary.Critical++
			case protocol.AuditSeverityHigh:
				report.Summary.High++
			case protocol.AuditSeverityMedium:
				report.Summary.Medium++
			case protocol.AuditSeverityLow:
				report.Summary.Low++
			}
			if finding.Severity.Rank() > report.OverallRisk.Rank() {
				report.OverallRisk = finding.Severity
			}
		}
	}

	report.Recommendations = buildRecommendations(results)

	s.logger.Info("审计完成",
		zap.String("auditId", report.ID),
		zap.Int("total", report.Summary.Total),
		zap.String("overallRisk", string(report.OverallRisk)),
		zap.Bool("partial", report.Partial),
		zap.Int64("durationMs", report.DurationMs),
	)
	return report
}

// runCategory 执行单个分类检查（带panic恢复）
func (s *AuditService) runCategory(ctx context.Context, checker audit.Checker, root string) (result protocol.CategoryResult) {
	result = protocol.CategoryResult{
		Name:        checker.Name(),
		Status:      protocol.CategoryStatusComplete,
		Findings:    []protocol.Finding{},
		IssueCounts: make(map[protocol.AuditSeverity]int),
	}

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("分类检查发生panic",
				zap.String("category", checker.Name()),
				zap.Any("panic", r))
			result.Status = protocol.CategoryStatusIncomplete
			result.Error = fmt.Sprintf("检查器异常: %v", r)
		}
	}()

	findings, err := checker.Check(ctx, s.fs, root)
	if err != nil {
		result.Status = protocol.CategoryStatusIncomplete
		// 区分取消/超时与扫描器自身错误
		switch {
		case errors.Is(err, context.Canceled):
			result.Error = "已取消"
		case errors.Is(err, context.DeadlineExceeded):
			result.Error = "超时"
		default:
			result.Error = err.Error()
		}
		s.logger.Warn("分类检查未完成",
			zap.String("category", checker.Name()),
			zap.String("reason", result.Error))
		return result
	}

	result.Findings = findings
	for _, finding := range findings {
		result.IssueCounts[finding.Severity]++
	}
	return result
}

func (s *AuditService) selectCheckers(cfg config.AuditConfig, opts protocol.AuditOptions) []audit.Checker {
	names := opts.Categories
	if len(names) == 0 {
		names = cfg.Categories
	}
	if len(names) == 0 {
		return s.checkers
	}

	wanted := make(map[string]bool, len(names))
	for _, name := range names {
		wanted[name] = true
	}
	var out []audit.Checker
	for _, checker := range s.checkers {
		if wanted[checker.Name()] {
			out = append(out, checker)
		}
	}
	return out
}

// buildRecommendations 生成处置建议。
// 多个分类并列最高风险时，发现数多的排在前面。
func buildRecommendations(results []protocol.CategoryResult) []string {
	type ranked struct {
		name    string
		topRank int
		count   int
	}

	var entries []ranked
	for _, category := range results {
		if len(category.Findings) == 0 {
			continue
		}
		top := 0
		for _, finding := range category.Findings {
			if finding.Severity.Rank() > top {
				top = finding.Severity.Rank()
			}
		}
		entries = append(entries, ranked{name: category.Name, topRank: top, count: len(category.Findings)})
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].topRank != entries[j].topRank {
			return entries[i].topRank > entries[j].topRank
		}
		if entries[i].count != entries[j].count {
			return entries[i].count > entries[j].count
		}
		return entries[i].name < entries[j].name
	})

	recommendations := make([]string, 0, len(entries)+1)
	for _, entry := range entries {
		recommendations = append(recommendations,
			fmt.Sprintf("优先处理 %s 分类的 %d 项发现", entry.name, entry.count))
	}
	if len(recommendations) == 0 {
		recommendations = append(recommendations, "未发现安全问题，保持当前配置")
	}
	return recommendations
}

// persist 保存审计报告，写库失败只记录日志
func (s *AuditService) persist(report *protocol.AuditReport) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	payload, err := json.Marshal(report)
	if err != nil {
		s.logger.Error("序列化审计报告失败", zap.Error(err))
		return
	}

	record := &models.AuditRecord{
		ID:          report.ID,
		Timestamp:   report.Timestamp,
		DurationMs:  report.DurationMs,
		OverallRisk: string(report.OverallRisk),
		Partial:     report.Partial,
		Critical:    report.Summary.Critical,
		High:        report.Summary.High,
		Medium:      report.Summary.Medium,
		Low:         report.Summary.Low,
		Total:       report.Summary.Total,
		Report:      payload,
	}
	if err := s.auditRepo.Create(ctx, record); err != nil {
		s.logger.Error("保存审计报告失败", zap.Error(err))
	}
}

// notify 推送事件，高风险时触发告警
func (s *AuditService) notify(report *protocol.AuditReport) {
	s.events.Publish(protocol.EventAuditCompleted, map[string]any{
		"auditId":     report.ID,
		"overallRisk": report.OverallRisk,
		"summary":     report.Summary,
		"partial":     report.Partial,
	})

	if report.OverallRisk == protocol.AuditSeverityCritical || report.OverallRisk == protocol.AuditSeverityHigh {
		severity := protocol.SeverityWarning
		if report.OverallRisk == protocol.AuditSeverityCritical {
			severity = protocol.SeverityCritical
		}
		s.alertService.Raise(context.Background(), severity, protocol.AlertCategoryAudit,
			"security_audit",
			fmt.Sprintf("安全审计发现 %d 项问题，整体风险 %s", report.Summary.Total, report.OverallRisk),
			float64(report.Summary.Total))
	}
}

// Latest 最近一次审计报告，内存没有时回退到数据库
func (s *AuditService) Latest(ctx context.Context) (*protocol.AuditReport, error) {
	s.mu.Lock()
	if s.latest != nil {
		report := s.latest
		s.mu.Unlock()
		return report, nil
	}
	s.mu.Unlock()

	record, err := s.auditRepo.FindLatest(ctx)
	if err != nil {
		return nil, err
	}
	return decodeReport(&record)
}

// GetById 按 ID 查询审计报告
func (s *AuditService) GetById(ctx context.Context, id string) (*protocol.AuditReport, error) {
	record, err := s.auditRepo.FindById(ctx, id)
	if err != nil {
		return nil, err
	}
	return decodeReport(&record)
}

// History 全部审计报告，按时间倒序
func (s *AuditService) History(ctx context.Context) ([]*protocol.AuditReport, error) {
	records, err := s.auditRepo.FindAll(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]*protocol.AuditReport, 0, len(records))
	for i := range records {
		report, err := decodeReport(&records[i])
		if err != nil {
			s.logger.Error("解析审计报告失败", zap.String("auditId", records[i].ID), zap.Error(err))
			continue
		}
		out = append(out, report)
	}
	return out, nil
}

// Prune 删除早于指定时间的审计报告
func (s *AuditService) Prune(ctx context.Context, before time.Time) error {
	return s.auditRepo.DeleteOlderThan(ctx, before.UnixMilli())
}

func decodeReport(record *models.AuditRecord) (*protocol.AuditReport, error) {
	var report protocol.AuditReport
	if err := json.Unmarshal(record.Report, &report); err != nil {
		return nil, fmt.Errorf("解析审计报告失败: %w", err)
	}
	return &report, nil
}
