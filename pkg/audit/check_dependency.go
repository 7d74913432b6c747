package audit

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/dushixiang/vigil/internal/protocol"
	"github.com/spf13/afero"
)

// DependencyChecker 依赖安全检查器
type DependencyChecker struct{}

// NewDependencyChecker 创建依赖检查器
func NewDependencyChecker() *DependencyChecker {
	return &DependencyChecker{}
}

func (c *DependencyChecker) Name() string {
	return CategoryDependency
}

// Check 检查 go.mod/go.sum 的依赖风险
func (c *DependencyChecker) Check(ctx context.Context, fs afero.Fs, root string) ([]protocol.Finding, error) {
	var findings []protocol.Finding

	err := walkFiles(ctx, fs, root, func(path string, info os.FileInfo) error {
		if info.Name() != "go.mod" {
			return nil
		}

		// 有 go.mod 但缺少 go.sum，依赖完整性无法校验
		sumPath := filepath.Join(filepath.Dir(path), "go.sum")
		if _, err := fs.Stat(sumPath); os.IsNotExist(err) {
			findings = append(findings, protocol.Finding{
				Category: CategoryDependency,
				Severity: protocol.AuditSeverityHigh,
				Title:    "缺少 go.sum",
				Message:  "go.mod 没有对应的 go.sum，依赖校验和无法验证",
				Evidence: path,
			})
		}

		return scanLines(fs, path, func(lineNo int, line string) {
			trimmed := strings.TrimSpace(line)
			switch {
			case strings.HasPrefix(trimmed, "replace "), strings.HasPrefix(trimmed, "replace\t"):
				findings = append(findings, protocol.Finding{
					Category: CategoryDependency,
					Severity: protocol.AuditSeverityMedium,
					Title:    "replace 指令",
					Message:  "go.mod 使用 replace 重定向依赖，构建产物可能与声明的依赖不一致",
					Evidence: evidence(path, lineNo),
				})
			case strings.Contains(trimmed, "v0.0.0-0.") || strings.Contains(trimmed, "+incompatible"):
				findings = append(findings, protocol.Finding{
					Category: CategoryDependency,
					Severity: protocol.AuditSeverityLow,
					Title:    "不规范的依赖版本",
					Message:  "依赖使用伪版本或 +incompatible 版本，升级策略不可控",
					Evidence: evidence(path, lineNo),
				})
			}
		})
	})
	if err != nil {
		return nil, err
	}

	sortFindings(findings)
	return findings, nil
}

func evidence(path string, lineNo int) string {
	return path + ":" + strconv.Itoa(lineNo)
}
